package patentreview

import (
	"context"
	"errors"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// mockMessager implements AnthropicMessager for testing.
type mockMessager struct {
	response *anthropic.Message
	err      error
	params   []anthropic.MessageNewParams
}

func (m *mockMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	m.params = append(m.params, params)
	return m.response, m.err
}

func newMockMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: text},
		},
	}
}

func withMockClient(mock *mockMessager) func() {
	old := newAnthropicClient
	newAnthropicClient = func(_ string) AnthropicMessager { return mock }
	return func() { newAnthropicClient = old }
}

func TestAnthropicCallerDialogueMapping(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	mock := &mockMessager{response: newMockMessage(`{"ok": true}`)}
	cleanup := withMockClient(mock)
	defer cleanup()

	caller, err := NewAnthropicCallerFromEnv()
	if err != nil {
		t.Fatalf("NewAnthropicCallerFromEnv: %v", err)
	}

	d := Dialogue{
		{Role: RoleSystem, Content: "system one"},
		{Role: RoleSystem, Content: "system two"},
		{Role: RoleUser, Content: "the question"},
		{Role: RoleAssistant, Content: "earlier reply"},
	}
	raw, err := caller.Complete(context.Background(), d)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if raw != `{"ok": true}` {
		t.Fatalf("unexpected reply: %q", raw)
	}

	params := mock.params[0]
	if len(params.System) != 2 {
		t.Fatalf("system blocks=%d, want 2", len(params.System))
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages=%d, want 2", len(params.Messages))
	}
	// temperature is pinned for stable repeat runs
	if !params.Temperature.Valid() || params.Temperature.Value != 0 {
		t.Fatalf("temperature=%+v, want 0", params.Temperature)
	}
	if params.MaxTokens != DefaultMaxTokens {
		t.Fatalf("max tokens=%d", params.MaxTokens)
	}
}

func TestAnthropicCallerModelFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("REVIEW_LLM_MODEL", "claude-test-override")

	cleanup := withMockClient(&mockMessager{response: newMockMessage("{}")})
	defer cleanup()

	caller, err := NewAnthropicCallerFromEnv()
	if err != nil {
		t.Fatalf("NewAnthropicCallerFromEnv: %v", err)
	}
	if caller.ModelName() != "claude-test-override" {
		t.Fatalf("model=%q", caller.ModelName())
	}
}

func TestAnthropicCallerRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewAnthropicCallerFromEnv(); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestClassifyModelError(t *testing.T) {
	if kind := KindOf(classifyModelError(context.DeadlineExceeded)); kind != KindModelTimeout {
		t.Fatalf("deadline kind=%s", kind)
	}
	if kind := KindOf(classifyModelError(errors.New("connection refused"))); kind != KindModelUnavailable {
		t.Fatalf("generic kind=%s", kind)
	}
	// caller cancellation passes through unclassified
	if err := classifyModelError(context.Canceled); !errors.Is(err, context.Canceled) || KindOf(err) != "" {
		t.Fatalf("canceled misclassified: %v", err)
	}
	// already-kinded errors are untouched
	kinded := NewError(KindUpstreamUnavailable, "x")
	if classifyModelError(kinded) != kinded {
		t.Fatal("kinded error rewrapped")
	}
}
