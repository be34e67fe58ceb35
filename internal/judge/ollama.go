package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"link_grader/internal/config"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  map[string]any `json:"format,omitempty"`
	Options ollamaOptions  `json:"options"`
}

type ollamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

type ollama struct {
	client  *http.Client
	baseURL string
	model   config.ModelConfig
}

func newOllama(model config.ModelConfig, timeout time.Duration) *ollama {
	baseURL := model.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultOllamaURL
	}
	return &ollama{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
	}
}

func (o *ollama) name() string {
	return "ollama:" + o.model.ModelName
}

func (o *ollama) generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  o.model.ModelName,
		System: system,
		Prompt: prompt,
		Stream: false,
		Format: Schema(),
		Options: ollamaOptions{
			Temperature: o.model.Temperature,
			NumPredict:  o.model.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var or ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if strings.TrimSpace(or.Response) == "" {
		return "", fmt.Errorf("empty response from %s", or.Model)
	}
	return or.Response, nil
}
