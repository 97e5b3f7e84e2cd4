package synthesis

import (
	"context"
	"strings"
	"time"

	"google.golang.org/genai"

	"ontogen/internal/types"
)

// Gemini generates through the Google Gemini API.
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewGemini builds a Gemini generator. An API key is required.
func NewGemini(cfg Config) (*Gemini, error) {
	cfg.Provider = ProviderGemini
	if err := cfg.requireKey(); err != nil {
		return nil, err
	}
	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, types.Wrap(types.KindGeneration, err, "create gemini client")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{
		client:    client,
		model:     model,
		maxTokens: cfg.maxTokens(),
		timeout:   cfg.Timeout,
	}, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	ctx, cancel := withDeadline(ctx, g.timeout)
	defer cancel()

	gc := &genai.GenerateContentConfig{MaxOutputTokens: int32(g.maxTokens)}
	if system := strings.TrimSpace(systemPrompt); system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), gc)
	if err != nil {
		return "", types.Wrap(types.KindGeneration, err, "gemini generate content")
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", emptyResponse(ProviderGemini)
	}
	return text, nil
}
