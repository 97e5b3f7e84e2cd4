package synthesis

import (
	"context"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"ontogen/internal/types"
)

// Anthropic generates through the Anthropic messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewAnthropic builds an Anthropic generator. An API key is required.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	cfg.Provider = ProviderAnthropic
	if err := cfg.requireKey(); err != nil {
		return nil, err
	}
	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, aoption.WithBaseURL(base))
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: cfg.maxTokens(),
		timeout:   cfg.Timeout,
	}, nil
}

func (g *Anthropic) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	ctx, cancel := withDeadline(ctx, g.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(g.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system := strings.TrimSpace(systemPrompt); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", types.Wrap(types.KindGeneration, err, "anthropic messages")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", emptyResponse(ProviderAnthropic)
	}
	return sb.String(), nil
}
