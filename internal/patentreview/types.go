// Package patentreview runs retrieval-augmented patent reviews: each stage
// embeds its query text, pulls the nearest vectors from a namespace of the
// patent index, folds their metadata into the prompt, and extracts a
// structured JSON result from the model reply. Stages chain through the
// raw model reply, and the whole dialogue accumulates across stages.
package patentreview

import (
	"encoding/json"
	"strings"
	"time"
)

const Disclaimer = "This is a preliminary automated review, not a legal opinion. " +
	"It is not intended for patent filing or prosecution. " +
	"Consult qualified patent counsel before acting on it."

const (
	NamespacePriorPatent = "prior_patent"
	NamespacePatentLaw   = "patent_law"

	DefaultPriorArtTopK = 5
	DefaultLawTopK      = 3

	DefaultLLMModel  = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// Request field names accepted from callers. FieldName and FieldDescription
// are required; the rest are optional detail the intake form collects.
const (
	FieldName         = "name"
	FieldDescription  = "description"
	FieldOrganization = "organization"
	FieldDate         = "date"
	FieldFeature      = "feature"
	FieldProblem      = "problem"
	FieldSolve        = "solve"
	FieldFunction     = "function"
	FieldBenefit      = "benefit"
	FieldComposition  = "composition"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Dialogue is the ordered, append-only turn sequence shared across the
// stages of one review session.
type Dialogue []ConversationTurn

// ReviewRequest is the invention description as submitted. Treated as
// immutable once accepted by the orchestrator.
type ReviewRequest struct {
	Fields map[string]string `json:"fields"`
}

func (r ReviewRequest) Title() string        { return strings.TrimSpace(r.Fields[FieldName]) }
func (r ReviewRequest) Description() string  { return strings.TrimSpace(r.Fields[FieldDescription]) }
func (r ReviewRequest) Organization() string { return strings.TrimSpace(r.Fields[FieldOrganization]) }
func (r ReviewRequest) SubmittedDate() string { return strings.TrimSpace(r.Fields[FieldDate]) }

// QueryText serializes the request fields into the stage-1 query text.
// encoding/json sorts map keys, so the serialization is deterministic.
func (r ReviewRequest) QueryText() string {
	blob, err := json.Marshal(r.Fields)
	if err != nil {
		return ""
	}
	return string(blob)
}

type RetrievalQuery struct {
	Namespace string
	Text      string
	TopK      int
}

// Match is one retrieved vector. Metadata carries the indexed document
// fields (registration, name, summary, ...). Matches arrive ordered by
// descending similarity score and there may be fewer than TopK of them.
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// StructuredResult is the parsed JSON payload of one stage's model reply.
type StructuredResult map[string]any

type StageKind string

const (
	// StageRetrieval runs embed -> index query -> model with retrieved context.
	StageRetrieval StageKind = "retrieval"
	// StageDirect runs the model on supplied text only; the index is bypassed.
	StageDirect StageKind = "direct"
)

// StageSpec configures one retrieve-then-generate round. The duplicated
// route variants of earlier revisions collapse into stage lists built
// from these.
type StageSpec struct {
	Name           string
	Kind           StageKind
	Namespace      string
	TopK           int
	SystemTemplate string
	RequiredKeys   []string
}

type SessionState string

const (
	StatePending           SessionState = "PENDING"
	StateRetrievingContext SessionState = "RETRIEVING_CONTEXT"
	StateAwaitingModel     SessionState = "AWAITING_MODEL"
	StateExtractingResult  SessionState = "EXTRACTING_RESULT"
	StateStageComplete     SessionState = "STAGE_COMPLETE"
	StateAllStagesComplete SessionState = "ALL_STAGES_COMPLETE"
	StateFailed            SessionState = "FAILED"
)

type StageResult struct {
	Stage    string           `json:"stage"`
	Matches  []Match          `json:"matches,omitempty"`
	RawReply string           `json:"raw_reply"`
	Result   StructuredResult `json:"result"`
}

// ReviewSession aggregates one request, the accumulating dialogue, and the
// structured result of each completed stage. It lives for the duration of
// one orchestrator run and has a single owner; it is never shared between
// goroutines.
type ReviewSession struct {
	Request     ReviewRequest `json:"request"`
	Dialogue    Dialogue      `json:"dialogue"`
	Stages      []StageResult `json:"stages"`
	State       SessionState  `json:"state"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Model       string        `json:"model"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// FinalResult returns the last completed stage's structured result, or nil
// when no stage has completed.
func (s *ReviewSession) FinalResult() StructuredResult {
	if len(s.Stages) == 0 {
		return nil
	}
	return s.Stages[len(s.Stages)-1].Result
}

// MergedResult folds every completed stage's result into one mapping,
// later stages overriding earlier keys. The report projector consumes this
// so the rendered report sees the prior-art stage's similar_patents next
// to the law stage's conclusion and guidance.
func (s *ReviewSession) MergedResult() StructuredResult {
	merged := StructuredResult{}
	for _, st := range s.Stages {
		for k, v := range st.Result {
			merged[k] = v
		}
	}
	return merged
}
