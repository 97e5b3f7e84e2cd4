package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ontogen/internal/logging"
	"ontogen/internal/types"
)

// DefaultOllamaURL is the local Ollama endpoint.
const DefaultOllamaURL = "http://localhost:11434"

// Ollama generates through a local Ollama server's /api/generate endpoint.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// NewOllama builds an Ollama generator. No key is needed.
func NewOllama(cfg Config) *Ollama {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = "llama3"
	}
	return &Ollama{
		baseURL:    base,
		model:      model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (g *Ollama) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  g.model,
		Prompt: prompt,
		System: systemPrompt,
		Stream: false,
	})
	if err != nil {
		return "", types.Wrap(types.KindGeneration, err, "encode ollama request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", types.Wrap(types.KindGeneration, err, "build ollama request")
	}
	req.Header.Set("Content-Type", "application/json")

	logging.APIDebug("POST %s/api/generate model=%s", g.baseURL, g.model)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", types.Wrap(types.KindGeneration, err, "ollama request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.Wrap(types.KindGeneration, err, "read ollama response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", types.Errorf(types.KindGeneration, "ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out ollamaResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", types.Wrap(types.KindGeneration, err, fmt.Sprintf("decode ollama response (%d bytes)", len(data)))
	}
	if out.Error != "" {
		return "", types.Errorf(types.KindGeneration, "ollama: %s", out.Error)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", emptyResponse(ProviderOllama)
	}
	return out.Response, nil
}
