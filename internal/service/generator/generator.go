// Package generator calls the external LLM service that turns a natural
// language prompt into component markup and styles.
package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"uiforge/internal/config"
	"uiforge/internal/models"
)

// systemPrompt mandates one jsx and one css fenced block. The extractor must
// not rely on the model honoring this.
const systemPrompt = `You are an expert React component generator. Generate production-ready React components based on user prompts.

Rules:
1. Always provide BOTH JSX and CSS code
2. Use modern React with functional components and hooks
3. Use semantic HTML elements
4. Make components responsive and accessible
5. Include proper TypeScript types
6. Use CSS modules or styled-components patterns
7. Include interactive features when appropriate
8. Make the design modern and visually appealing
9. Use proper color schemes and typography

Return your response in this EXACT format:
` + "```jsx\n[Your JSX code here]\n```\n\n```css\n[Your CSS code here]\n```" + `

Focus on creating beautiful, functional components that work out of the box.`

// Generator produces raw assistant text for a prompt plus trailing chat
// context. The call is awaited fully and never retried here.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []*models.Message) (string, error)
}

// Factory builds a Generator for a provider/model/key triple. The pipeline
// holds one so tests can swap in a stub.
type Factory func(provider, modelName, apiKey string) (Generator, error)

type generatorService struct {
	chatModel model.BaseChatModel
}

// NewFactory returns the eino-backed factory for the configured providers.
func NewFactory(cfg *config.Config) Factory {
	return func(provider, modelName, apiKey string) (Generator, error) {
		return New(cfg, provider, modelName, apiKey)
	}
}

// New constructs a Generator on the configured provider's chat model.
func New(cfg *config.Config, provider, modelName, apiKey string) (Generator, error) {
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	if modelName == "" {
		modelName = provCfg.Model
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  apiKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: apiKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    apiKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 2000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &generatorService{chatModel: chatModel}, nil
}

// Generate sends the system instruction, the trailing history window, and the
// prompt to the model and returns the raw response text.
func (g *generatorService) Generate(ctx context.Context, prompt string, history []*models.Message) (string, error) {
	if prompt == "" {
		return "", errors.New("prompt cannot be empty")
	}

	schemaMessages := make([]*schema.Message, 0, len(history)+2)
	schemaMessages = append(schemaMessages, &schema.Message{
		Role:    schema.System,
		Content: systemPrompt,
	})
	for _, msg := range history {
		if msg == nil {
			continue
		}
		role := schema.User
		if msg.Role == models.RoleAssistant {
			role = schema.Assistant
		}
		schemaMessages = append(schemaMessages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	schemaMessages = append(schemaMessages, &schema.Message{
		Role:    schema.User,
		Content: prompt,
	})

	resp, err := g.chatModel.Generate(ctx, schemaMessages)
	if err != nil {
		return "", fmt.Errorf("generate component: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return "", errors.New("empty generation response")
	}
	return resp.Content, nil
}
