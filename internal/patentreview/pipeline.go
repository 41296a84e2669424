package patentreview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Embedder turns a text blob into a fixed-length vector. Implementations
// must reject empty input before touching the backend.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexQuerier runs one namespace-scoped nearest-neighbour query. The
// vector is the embedding of q.Text. An empty namespace yields an empty
// match list, not an error.
type IndexQuerier interface {
	Query(ctx context.Context, q RetrievalQuery, vector []float32) ([]Match, error)
}

// DialogueCaller sends the full accumulated dialogue to the generative
// model and returns its reply text.
type DialogueCaller interface {
	Complete(ctx context.Context, d Dialogue) (string, error)
	ModelName() string
}

type Config struct {
	EmbedTimeout time.Duration
	QueryTimeout time.Duration
	ModelTimeout time.Duration
	// RetryUpstreamOnce re-runs a failed retrieve step a single time when
	// the failure was an upstream or index outage. Model calls are never
	// retried here.
	RetryUpstreamOnce bool
}

// Orchestrator drives one or more retrieve-then-generate stages over a
// review session. Collaborators are injected; the orchestrator owns no
// process-global state and independent sessions may run concurrently.
type Orchestrator struct {
	embedder Embedder
	index    IndexQuerier
	caller   DialogueCaller
	cfg      Config
	tracer   trace.Tracer
}

func NewOrchestrator(embedder Embedder, index IndexQuerier, caller DialogueCaller, cfg Config) *Orchestrator {
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 120 * time.Second
	}
	return &Orchestrator{
		embedder: embedder,
		index:    index,
		caller:   caller,
		cfg:      cfg,
		tracer:   otel.Tracer("patentreview"),
	}
}

func (o *Orchestrator) ValidateConfig() error {
	if o.caller == nil {
		return fmt.Errorf("dialogue caller is required")
	}
	if o.embedder == nil {
		return fmt.Errorf("embedder is required")
	}
	if o.index == nil {
		return fmt.Errorf("index querier is required")
	}
	return nil
}

// Run executes the configured stages in order. Stage 1 is seeded by the
// serialized request; every later stage is seeded by the previous stage's
// raw model reply. The returned session is terminal: AllStagesComplete on
// success, Failed otherwise together with a non-nil error.
func (o *Orchestrator) Run(ctx context.Context, req ReviewRequest, stages []StageSpec) (*ReviewSession, error) {
	sess := o.newSession(req)
	if len(stages) == 0 {
		return o.fail(sess, "pipeline", errors.New("no stages configured"))
	}
	if req.Title() == "" || req.Description() == "" {
		return o.fail(sess, stages[0].Name, NewError(KindEmptyInput, "name and description are required"))
	}

	queryText := req.QueryText()
	for i, spec := range stages {
		if spec.Kind == StageDirect {
			return o.fail(sess, spec.Name, fmt.Errorf("direct stage %s in retrieval pipeline", spec.Name))
		}
		if err := o.runRetrievalStage(ctx, sess, spec, queryText, i == 0); err != nil {
			return o.fail(sess, spec.Name, err)
		}
		queryText = sess.Stages[len(sess.Stages)-1].RawReply
	}
	return o.complete(sess), nil
}

// RunDirect executes a single retrieval-free stage over the supplied user
// text. The index and embedder are bypassed entirely.
func (o *Orchestrator) RunDirect(ctx context.Context, req ReviewRequest, spec StageSpec, userText string) (*ReviewSession, error) {
	sess := o.newSession(req)
	if strings.TrimSpace(userText) == "" {
		return o.fail(sess, spec.Name, NewError(KindEmptyInput, "input text is empty"))
	}
	sess.Dialogue = append(sess.Dialogue, BuildDirectTurns(spec, userText)...)
	if err := o.generateAndExtract(ctx, sess, spec, nil); err != nil {
		return o.fail(sess, spec.Name, err)
	}
	return o.complete(sess), nil
}

// RunComparative reviews an application specification against a target
// specification in one direct stage.
func (o *Orchestrator) RunComparative(ctx context.Context, spec StageSpec, applicationText, targetText string) (*ReviewSession, error) {
	sess := o.newSession(ReviewRequest{})
	if strings.TrimSpace(applicationText) == "" || strings.TrimSpace(targetText) == "" {
		return o.fail(sess, spec.Name, NewError(KindEmptyInput, "both specifications are required"))
	}
	sess.Dialogue = append(sess.Dialogue, BuildDirectTurns(spec, FormatComparisonInput(applicationText, targetText))...)
	if err := o.generateAndExtract(ctx, sess, spec, nil); err != nil {
		return o.fail(sess, spec.Name, err)
	}
	return o.complete(sess), nil
}

func (o *Orchestrator) newSession(req ReviewRequest) *ReviewSession {
	return &ReviewSession{
		Request:   req,
		State:     StatePending,
		Model:     o.caller.ModelName(),
		StartedAt: time.Now(),
	}
}

func (o *Orchestrator) runRetrievalStage(ctx context.Context, sess *ReviewSession, spec StageSpec, queryText string, first bool) error {
	ctx, span := o.tracer.Start(ctx, "review.stage",
		trace.WithAttributes(
			attribute.String("stage", spec.Name),
			attribute.String("namespace", spec.Namespace),
			attribute.Int("top_k", spec.TopK),
		))
	defer span.End()

	sess.State = StateRetrievingContext
	matches, err := o.retrieve(ctx, spec, queryText)
	if err != nil {
		span.RecordError(err)
		return err
	}
	log.Printf("patent-review stage_retrieved stage=%s namespace=%s matches=%d", spec.Name, spec.Namespace, len(matches))

	sess.Dialogue = append(sess.Dialogue, BuildStageTurns(spec, queryText, matches, first)...)
	if err := o.generateAndExtract(ctx, sess, spec, matches); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// generateAndExtract drives AwaitingModel -> ExtractingResult -> StageComplete
// for one stage. The raw reply is appended as an assistant turn before
// extraction so later stages keep full context even when extraction fails.
func (o *Orchestrator) generateAndExtract(ctx context.Context, sess *ReviewSession, spec StageSpec, matches []Match) error {
	sess.State = StateAwaitingModel
	mctx, cancel := context.WithTimeout(ctx, o.cfg.ModelTimeout)
	raw, err := o.caller.Complete(mctx, sess.Dialogue)
	cancel()
	if err != nil {
		return classifyModelError(err)
	}
	sess.Dialogue = append(sess.Dialogue, ConversationTurn{Role: RoleAssistant, Content: raw})

	sess.State = StateExtractingResult
	result, err := Extract(raw)
	if err != nil {
		return err
	}
	if err := requireKeys(result, spec.RequiredKeys); err != nil {
		return err
	}
	sess.Stages = append(sess.Stages, StageResult{Stage: spec.Name, Matches: matches, RawReply: raw, Result: result})
	sess.State = StateStageComplete
	log.Printf("patent-review stage_complete stage=%s reply_chars=%d", spec.Name, len(raw))
	return nil
}

// retrieve embeds the query text and runs the namespace-scoped index
// query, with at most one retry when the backend was the problem.
func (o *Orchestrator) retrieve(ctx context.Context, spec StageSpec, queryText string) ([]Match, error) {
	matches, err := o.retrieveOnce(ctx, spec, queryText)
	if err == nil || !o.cfg.RetryUpstreamOnce || ctx.Err() != nil {
		return matches, err
	}
	switch KindOf(err) {
	case KindUpstreamUnavailable, KindIndexUnavailable:
		log.Printf("patent-review retrieve_retry stage=%s err=%q", spec.Name, err.Error())
		return o.retrieveOnce(ctx, spec, queryText)
	default:
		return nil, err
	}
}

func (o *Orchestrator) retrieveOnce(ctx context.Context, spec StageSpec, queryText string) ([]Match, error) {
	ectx, cancel := context.WithTimeout(ctx, o.cfg.EmbedTimeout)
	vector, err := o.embedder.Embed(ectx, queryText)
	cancel()
	if err != nil {
		if KindOf(err) == "" {
			err = WrapError(KindUpstreamUnavailable, "embedding failed", err)
		}
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, o.cfg.QueryTimeout)
	matches, err := o.index.Query(qctx, RetrievalQuery{Namespace: spec.Namespace, Text: queryText, TopK: spec.TopK}, vector)
	cancel()
	if err != nil {
		if KindOf(err) == "" {
			err = WrapError(KindIndexUnavailable, "index query failed", err)
		}
		return nil, err
	}
	return matches, nil
}

func (o *Orchestrator) fail(sess *ReviewSession, stage string, err error) (*ReviewSession, error) {
	sess.State = StateFailed
	sess.FailedStage = stage
	sess.CompletedAt = time.Now()
	log.Printf("patent-review session_failed stage=%s kind=%s err=%q", stage, KindOf(err), err.Error())
	return sess, &StageError{Stage: stage, Err: err}
}

func (o *Orchestrator) complete(sess *ReviewSession) *ReviewSession {
	sess.State = StateAllStagesComplete
	sess.CompletedAt = time.Now()
	return sess
}
