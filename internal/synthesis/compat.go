package synthesis

import (
	"context"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"ontogen/internal/types"
)

// OpenAICompat talks to any server exposing the OpenAI chat completions
// wire format (vLLM, LM Studio, OpenRouter and similar). The key is optional.
type OpenAICompat struct {
	client    *goopenai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewOpenAICompat builds a generator for an OpenAI-compatible endpoint.
// BaseURL is required and gains a /v1 suffix when missing.
func NewOpenAICompat(cfg Config) (*OpenAICompat, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, types.Errorf(types.KindUnknownProvider, "provider %s requires a base URL", ProviderOpenAICompat)
	}
	if !strings.HasSuffix(base, "/v1") && !strings.HasSuffix(base, "/v1/") {
		base = strings.TrimSuffix(base, "/") + "/v1"
	}

	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		key = "not-needed" // local servers ignore auth
	}
	config := goopenai.DefaultConfig(key)
	config.BaseURL = base
	config.HTTPClient = &http.Client{}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAICompat{
		client:    goopenai.NewClientWithConfig(config),
		model:     model,
		maxTokens: cfg.maxTokens(),
		timeout:   cfg.Timeout,
	}, nil
}

func (g *OpenAICompat) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	ctx, cancel := withDeadline(ctx, g.timeout)
	defer cancel()

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		return "", types.Wrap(types.KindGeneration, err, "chat completion")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", emptyResponse(ProviderOpenAICompat)
	}
	return resp.Choices[0].Message.Content, nil
}
