package patentreview

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeEmbedder struct {
	calls  int
	errSeq []error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if len(f.errSeq) > 0 {
		err := f.errSeq[0]
		f.errSeq = f.errSeq[1:]
		if err != nil {
			return nil, err
		}
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeIndex struct {
	calls   int
	queries []RetrievalQuery
	// matches per namespace
	matches map[string][]Match
	errSeq  []error
}

func (f *fakeIndex) Query(ctx context.Context, q RetrievalQuery, vector []float32) ([]Match, error) {
	f.calls++
	f.queries = append(f.queries, q)
	if len(f.errSeq) > 0 {
		err := f.errSeq[0]
		f.errSeq = f.errSeq[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.matches[q.Namespace], nil
}

type fakeCaller struct {
	replies   []string
	err       error
	dialogues []Dialogue
}

func (f *fakeCaller) ModelName() string { return "fake-model" }

func (f *fakeCaller) Complete(ctx context.Context, d Dialogue) (string, error) {
	cp := make(Dialogue, len(d))
	copy(cp, d)
	f.dialogues = append(f.dialogues, cp)
	if f.err != nil {
		return "", f.err
	}
	idx := len(f.dialogues) - 1
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	return f.replies[idx], nil
}

func baseRequest() ReviewRequest {
	return ReviewRequest{Fields: map[string]string{
		FieldName:        "Self-sealing valve",
		FieldDescription: "A valve that seals itself under back pressure.",
	}}
}

const techReply = "```json\n{\"verdict\": \"registrable\", \"similar_patents\": [], \"opinion\": \"No overlap found.\"}\n```"
const lawReply = `{"conclusion": "Likely registrable.", "guidance": "File a provisional first."}`

func newTestOrchestrator(e *fakeEmbedder, ix *fakeIndex, c *fakeCaller) *Orchestrator {
	return NewOrchestrator(e, ix, c, Config{})
}

// Scenario: no similar art in the index. The pipeline completes, the
// prompt carries no match metadata, and the merged result holds both
// stages' keys.
func TestRunNoSimilarArt(t *testing.T) {
	e := &fakeEmbedder{}
	ix := &fakeIndex{matches: map[string][]Match{}}
	c := &fakeCaller{replies: []string{techReply, lawReply}}

	sess, err := newTestOrchestrator(e, ix, c).Run(context.Background(), baseRequest(), TechReviewStages())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.State != StateAllStagesComplete {
		t.Fatalf("state=%s, want %s", sess.State, StateAllStagesComplete)
	}
	if len(sess.Stages) != 2 {
		t.Fatalf("expected 2 stage results, got %d", len(sess.Stages))
	}

	merged := sess.MergedResult()
	for _, key := range []string{"verdict", "similar_patents", "conclusion", "guidance"} {
		if _, ok := merged[key]; !ok {
			t.Fatalf("merged result missing %q", key)
		}
	}
}

// Scenario: one near-identical indexed patent. Its metadata must appear
// in the stage-1 system turn.
func TestRunNearIdenticalMatch(t *testing.T) {
	e := &fakeEmbedder{}
	ix := &fakeIndex{matches: map[string][]Match{
		NamespacePriorPatent: {{ID: "p9", Score: 0.99, Metadata: map[string]string{"registration": "US999", "name": "Self-sealing valve"}}},
	}}
	c := &fakeCaller{replies: []string{
		`{"verdict": "not registrable", "similar_patents": [{"id": "p9", "registration": "US999", "name": "Self-sealing valve", "analysis": "near identical"}]}`,
		lawReply,
	}}

	sess, err := newTestOrchestrator(e, ix, c).Run(context.Background(), baseRequest(), TechReviewStages())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	stage1System := c.dialogues[0][0]
	if stage1System.Role != RoleSystem || !strings.Contains(stage1System.Content, "US999") {
		t.Fatalf("stage 1 system turn missing match metadata: %q", stage1System.Content)
	}
	if len(sess.Stages[0].Matches) != 1 {
		t.Fatalf("stage result lost its matches: %d", len(sess.Stages[0].Matches))
	}
}

// Stage 2 is seeded by stage 1's raw reply, fence and all, and queries
// only its own namespace.
func TestRunCrossStagePropagation(t *testing.T) {
	e := &fakeEmbedder{}
	ix := &fakeIndex{matches: map[string][]Match{}}
	c := &fakeCaller{replies: []string{techReply, lawReply}}

	_, err := newTestOrchestrator(e, ix, c).Run(context.Background(), baseRequest(), TechReviewStages())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ix.queries) != 2 {
		t.Fatalf("expected 2 index queries, got %d", len(ix.queries))
	}
	if ix.queries[0].Namespace != NamespacePriorPatent || ix.queries[1].Namespace != NamespacePatentLaw {
		t.Fatalf("unexpected namespaces: %+v", ix.queries)
	}
	if ix.queries[0].TopK != DefaultPriorArtTopK || ix.queries[1].TopK != DefaultLawTopK {
		t.Fatalf("unexpected topK values: %+v", ix.queries)
	}
	if ix.queries[1].Text != techReply {
		t.Fatalf("stage 2 seeded by %q, want stage 1 raw reply", ix.queries[1].Text)
	}

	// the stage 2 dialogue must contain the stage 1 assistant turn
	stage2 := c.dialogues[1]
	var sawAssistant bool
	for _, turn := range stage2 {
		if turn.Role == RoleAssistant && turn.Content == techReply {
			sawAssistant = true
		}
	}
	if !sawAssistant {
		t.Fatal("stage 1 assistant turn missing from stage 2 dialogue")
	}
}

// Scenario: comparative review touches neither the embedder nor the index.
func TestRunComparativeZeroRetrieval(t *testing.T) {
	e := &fakeEmbedder{}
	ix := &fakeIndex{matches: map[string][]Match{}}
	c := &fakeCaller{replies: []string{`{"claims": "Claim 1 overlaps.", "conclusion": "Revise claim 1."}`}}

	sess, err := newTestOrchestrator(e, ix, c).RunComparative(context.Background(), SpecComparisonStage(), "app text", "target text")
	if err != nil {
		t.Fatalf("RunComparative: %v", err)
	}
	if e.calls != 0 || ix.calls != 0 {
		t.Fatalf("comparative review performed retrieval: embed=%d query=%d", e.calls, ix.calls)
	}
	if sess.State != StateAllStagesComplete {
		t.Fatalf("state=%s", sess.State)
	}
	if sess.FinalResult()["claims"] != "Claim 1 overlaps." {
		t.Fatalf("unexpected result: %v", sess.FinalResult())
	}

	user := c.dialogues[0][1].Content
	if !strings.Contains(user, "APPLICATION SPECIFICATION:") || !strings.Contains(user, "TARGET SPECIFICATION:") {
		t.Fatalf("comparison input not laid out: %q", user)
	}
}

func TestRunEmptyInputBeforeAnyCall(t *testing.T) {
	e := &fakeEmbedder{}
	ix := &fakeIndex{matches: map[string][]Match{}}
	c := &fakeCaller{replies: []string{techReply}}

	req := ReviewRequest{Fields: map[string]string{FieldName: "  "}}
	sess, err := newTestOrchestrator(e, ix, c).Run(context.Background(), req, TechReviewStages())
	if KindOf(err) != KindEmptyInput {
		t.Fatalf("kind=%s, want %s", KindOf(err), KindEmptyInput)
	}
	if sess.State != StateFailed {
		t.Fatalf("state=%s, want %s", sess.State, StateFailed)
	}
	if e.calls != 0 || ix.calls != 0 || len(c.dialogues) != 0 {
		t.Fatal("collaborators called despite empty input")
	}
}

func TestRunRetriesUpstreamOnce(t *testing.T) {
	e := &fakeEmbedder{errSeq: []error{NewError(KindUpstreamUnavailable, "embedding down")}}
	ix := &fakeIndex{matches: map[string][]Match{}}
	c := &fakeCaller{replies: []string{techReply}}

	orch := NewOrchestrator(e, ix, c, Config{RetryUpstreamOnce: true})
	_, err := orch.Run(context.Background(), baseRequest(), SingleReviewStages())
	if err != nil {
		t.Fatalf("Run should succeed after one retry: %v", err)
	}
	if e.calls != 2 {
		t.Fatalf("embed calls=%d, want 2", e.calls)
	}
}

func TestRunRetryDisabledFailsFast(t *testing.T) {
	e := &fakeEmbedder{errSeq: []error{NewError(KindUpstreamUnavailable, "embedding down")}}
	ix := &fakeIndex{matches: map[string][]Match{}}
	c := &fakeCaller{replies: []string{techReply}}

	_, err := NewOrchestrator(e, ix, c, Config{}).Run(context.Background(), baseRequest(), SingleReviewStages())
	if KindOf(err) != KindUpstreamUnavailable {
		t.Fatalf("kind=%s, want %s", KindOf(err), KindUpstreamUnavailable)
	}
	if e.calls != 1 {
		t.Fatalf("embed calls=%d, want 1", e.calls)
	}
}

func TestRunSecondFailureIsTerminal(t *testing.T) {
	e := &fakeEmbedder{errSeq: []error{
		NewError(KindUpstreamUnavailable, "down"),
		NewError(KindUpstreamUnavailable, "still down"),
	}}
	ix := &fakeIndex{matches: map[string][]Match{}}
	c := &fakeCaller{replies: []string{techReply}}

	orch := NewOrchestrator(e, ix, c, Config{RetryUpstreamOnce: true})
	sess, err := orch.Run(context.Background(), baseRequest(), SingleReviewStages())
	if KindOf(err) != KindUpstreamUnavailable {
		t.Fatalf("kind=%s, want %s", KindOf(err), KindUpstreamUnavailable)
	}
	if e.calls != 2 {
		t.Fatalf("embed calls=%d, want exactly 2", e.calls)
	}
	if sess.FailedStage != "tech_review" {
		t.Fatalf("failed stage=%q", sess.FailedStage)
	}
}

// Malformed model replies are never retried.
func TestRunMalformedReplyNotRetried(t *testing.T) {
	e := &fakeEmbedder{}
	ix := &fakeIndex{matches: map[string][]Match{}}
	c := &fakeCaller{replies: []string{"this is not json"}}

	orch := NewOrchestrator(e, ix, c, Config{RetryUpstreamOnce: true})
	sess, err := orch.Run(context.Background(), baseRequest(), SingleReviewStages())
	if KindOf(err) != KindMalformedResponse {
		t.Fatalf("kind=%s, want %s", KindOf(err), KindMalformedResponse)
	}
	if len(c.dialogues) != 1 {
		t.Fatalf("model called %d times, want 1", len(c.dialogues))
	}

	// the raw reply was still appended as an assistant turn
	last := sess.Dialogue[len(sess.Dialogue)-1]
	if last.Role != RoleAssistant || last.Content != "this is not json" {
		t.Fatalf("assistant turn not appended on extraction failure: %+v", last)
	}
}

func TestRunReplyMissingRequiredKeys(t *testing.T) {
	e := &fakeEmbedder{}
	ix := &fakeIndex{matches: map[string][]Match{}}
	c := &fakeCaller{replies: []string{`{"verdict": "registrable"}`}}

	_, err := newTestOrchestrator(e, ix, c).Run(context.Background(), baseRequest(), SingleReviewStages())
	if KindOf(err) != KindMalformedResponse {
		t.Fatalf("kind=%s, want %s", KindOf(err), KindMalformedResponse)
	}
	if StageNameFromError(err) != "tech_review" {
		t.Fatalf("stage=%s", StageNameFromError(err))
	}
}

func TestRunModelFailureClassified(t *testing.T) {
	e := &fakeEmbedder{}
	ix := &fakeIndex{matches: map[string][]Match{}}
	c := &fakeCaller{replies: []string{techReply}, err: errors.New("connection refused")}

	_, err := newTestOrchestrator(e, ix, c).Run(context.Background(), baseRequest(), SingleReviewStages())
	if KindOf(err) != KindModelUnavailable {
		t.Fatalf("kind=%s, want %s", KindOf(err), KindModelUnavailable)
	}
}

func TestRunDirectEmptyText(t *testing.T) {
	c := &fakeCaller{replies: []string{"{}"}}
	orch := NewOrchestrator(nil, nil, c, Config{})
	_, err := orch.RunDirect(context.Background(), ReviewRequest{}, SpecGuideStage(), "  \n ")
	if KindOf(err) != KindEmptyInput {
		t.Fatalf("kind=%s, want %s", KindOf(err), KindEmptyInput)
	}
	if len(c.dialogues) != 0 {
		t.Fatal("model called despite empty input")
	}
}

func TestRunNoStages(t *testing.T) {
	c := &fakeCaller{replies: []string{"{}"}}
	sess, err := NewOrchestrator(&fakeEmbedder{}, &fakeIndex{}, c, Config{}).Run(context.Background(), baseRequest(), nil)
	if err == nil {
		t.Fatal("expected error for empty stage list")
	}
	if sess.State != StateFailed {
		t.Fatalf("state=%s", sess.State)
	}
}
