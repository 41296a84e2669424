package patentreview

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicCaller maps a Dialogue onto the Anthropic messages API: system
// turns become system blocks, user and assistant turns become messages, in
// order. Temperature is pinned to 0 so repeated reviews of the same input
// stay as stable as the model allows.
type AnthropicCaller struct {
	messages AnthropicMessager
	model    string
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCallerFromEnv() (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	model := strings.TrimSpace(os.Getenv("REVIEW_LLM_MODEL"))
	if model == "" {
		model = DefaultLLMModel
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey), model: model}, nil
}

func (a *AnthropicCaller) ModelName() string { return a.model }

func (a *AnthropicCaller) Complete(ctx context.Context, d Dialogue) (string, error) {
	var system []anthropic.TextBlockParam
	var msgs []anthropic.MessageParam
	for _, t := range d {
		switch t.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: t.Content})
		case RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		}
	}
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   DefaultMaxTokens,
		System:      system,
		Messages:    msgs,
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// classifyModelError folds a generative-backend failure into the pipeline
// error kinds: deadline and network timeouts become model_timeout,
// everything else model_unavailable. Caller cancellation passes through
// untouched so an abandoned session is not misreported as an outage.
func classifyModelError(err error) error {
	if KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindModelTimeout, "model call timed out", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return WrapError(KindModelTimeout, "model call timed out", err)
	}
	return WrapError(KindModelUnavailable, "model call failed", err)
}
