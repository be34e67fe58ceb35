package judge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"link_grader/internal/config"
	"link_grader/internal/models"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/genai"
)

type gemini struct {
	client *genai.Client
	model  config.ModelConfig
}

func newGemini(ctx context.Context, apiKey string, model config.ModelConfig) (*gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if model.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: model.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &gemini{client: client, model: model}, nil
}

func (g *gemini) name() string {
	return "gemini:" + g.model.ModelName
}

func (g *gemini) generate(ctx context.Context, system, prompt string) (string, error) {
	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   int32(g.model.MaxTokens),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    geminiSchema(),
	}
	if g.model.Temperature != nil {
		gc.Temperature = genai.Ptr(float32(*g.model.Temperature))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model.ModelName, genai.Text(prompt), gc)
	if err != nil {
		return "", err
	}

	text := resp.Text()
	if text == "" {
		return "", errors.New("empty response")
	}
	return text, nil
}

func geminiSchema() *genai.Schema {
	score := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeObject,
			Description: desc,
			Properties: map[string]*genai.Schema{
				"score":         {Type: genai.TypeInteger, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(10.0)},
				"justification": {Type: genai.TypeString},
			},
			Required: []string{"score", "justification"},
		}
	}

	metrics := make(map[string]*genai.Schema, len(models.RubricMetrics))
	for _, name := range models.RubricMetrics {
		metrics[name] = score(models.MetricDescriptions[name])
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"link_url": {Type: genai.TypeString, Description: "The URL of the evaluated hyperlink"},
			"metrics": {
				Type:             genai.TypeObject,
				Properties:       metrics,
				Required:         models.RubricMetrics,
				PropertyOrdering: models.RubricMetrics,
			},
			"overall_score": {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(10.0)},
		},
		Required:         []string{"link_url", "metrics", "overall_score"},
		PropertyOrdering: []string{"link_url", "metrics", "overall_score"},
	}
}
