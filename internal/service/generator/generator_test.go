package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"uiforge/internal/config"
	"uiforge/internal/models"
)

type fakeChatModel struct {
	received []*schema.Message
	reply    *schema.Message
	err      error
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.received = in
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"openai": {Model: "gpt-test"},
		},
	}
	if _, err := New(cfg, "unconfigured", "m", "sk"); err == nil {
		t.Fatalf("expected error for unconfigured provider")
	}

	cfg.Providers["weird"] = config.ProviderConfig{Model: "m"}
	if _, err := New(cfg, "weird", "m", "sk"); err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
}

func TestGenerateMessageAssembly(t *testing.T) {
	fake := &fakeChatModel{reply: &schema.Message{Role: schema.Assistant, Content: "```jsx\n<X />\n```"}}
	g := &generatorService{chatModel: fake}

	history := []*models.Message{
		{Role: models.RoleUser, Content: "make a card"},
		{Role: models.RoleAssistant, Content: "here is a card"},
		nil,
	}
	got, err := g.Generate(context.Background(), "make it blue", history)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "```jsx\n<X />\n```" {
		t.Fatalf("unexpected response: %q", got)
	}

	// system instruction, two history turns (nil skipped), then the prompt.
	if len(fake.received) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(fake.received))
	}
	if fake.received[0].Role != schema.System {
		t.Fatalf("first message must be the system instruction, got %s", fake.received[0].Role)
	}
	if fake.received[1].Role != schema.User || fake.received[1].Content != "make a card" {
		t.Fatalf("history user turn mangled: %+v", fake.received[1])
	}
	if fake.received[2].Role != schema.Assistant || fake.received[2].Content != "here is a card" {
		t.Fatalf("history assistant turn mangled: %+v", fake.received[2])
	}
	last := fake.received[len(fake.received)-1]
	if last.Role != schema.User || last.Content != "make it blue" {
		t.Fatalf("prompt must be the final message: %+v", last)
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	g := &generatorService{chatModel: &fakeChatModel{}}
	if _, err := g.Generate(context.Background(), "", nil); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	g := &generatorService{chatModel: &fakeChatModel{reply: &schema.Message{}}}
	if _, err := g.Generate(context.Background(), "prompt", nil); err == nil {
		t.Fatalf("expected error for empty model response")
	}
}

func TestGenerateModelError(t *testing.T) {
	g := &generatorService{chatModel: &fakeChatModel{err: errors.New("rate limited")}}
	if _, err := g.Generate(context.Background(), "prompt", nil); err == nil {
		t.Fatalf("expected upstream error to propagate")
	}
}
