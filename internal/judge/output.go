package judge

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"link_grader/internal/models"
)

type rawMetric struct {
	Score         *float64 `json:"score"`
	Justification string   `json:"justification"`
}

type rawOutput struct {
	LinkURL      string               `json:"link_url"`
	Metrics      map[string]rawMetric `json:"metrics"`
	OverallScore *float64             `json:"overall_score"`
}

// ParseOutput decodes and validates the judge's JSON answer. Every rubric
// metric must be present with a whole score in 0-10.
func ParseOutput(raw, linkURL string) (models.JudgeOutput, error) {
	var ro rawOutput
	if err := json.Unmarshal([]byte(stripFences(raw)), &ro); err != nil {
		return models.JudgeOutput{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	if ro.OverallScore == nil {
		return models.JudgeOutput{}, fmt.Errorf("%w: missing overall_score", ErrMalformedOutput)
	}
	if *ro.OverallScore < 0 || *ro.OverallScore > 10 {
		return models.JudgeOutput{}, fmt.Errorf("%w: overall_score %v", ErrInvalidScore, *ro.OverallScore)
	}

	out := models.JudgeOutput{
		LinkURL:      strings.TrimSpace(ro.LinkURL),
		Metrics:      make(map[string]models.MetricScore, len(models.RubricMetrics)),
		OverallScore: *ro.OverallScore,
	}
	if out.LinkURL == "" {
		out.LinkURL = linkURL
	}

	for _, name := range models.RubricMetrics {
		m, ok := ro.Metrics[name]
		if !ok || m.Score == nil {
			return models.JudgeOutput{}, fmt.Errorf("%w: missing metric %s", ErrMalformedOutput, name)
		}
		score := *m.Score
		if score < 0 || score > 10 || score != math.Trunc(score) {
			return models.JudgeOutput{}, fmt.Errorf("%w: %s=%v", ErrInvalidScore, name, score)
		}
		out.Metrics[name] = models.MetricScore{Score: int(score), Justification: m.Justification}
	}

	return out, nil
}

// Failed builds the placeholder row recorded when judging a link failed.
func Failed(linkURL string, err error) models.JudgeOutput {
	return models.JudgeOutput{
		LinkURL: linkURL,
		Metrics: map[string]models.MetricScore{},
		Failure: err.Error(),
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Schema is the JSON schema of the answer, used by backends that accept one.
func Schema() map[string]any {
	metric := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score":         map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
			"justification": map[string]any{"type": "string"},
		},
		"required": []string{"score", "justification"},
	}

	props := make(map[string]any, len(models.RubricMetrics))
	for _, name := range models.RubricMetrics {
		m := map[string]any{"description": models.MetricDescriptions[name]}
		for k, v := range metric {
			m[k] = v
		}
		props[name] = m
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"link_url": map[string]any{"type": "string"},
			"metrics": map[string]any{
				"type":       "object",
				"properties": props,
				"required":   models.RubricMetrics,
			},
			"overall_score": map[string]any{"type": "number", "minimum": 0, "maximum": 10},
		},
		"required": []string{"link_url", "metrics", "overall_score"},
	}
}
