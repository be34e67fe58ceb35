package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"link_grader/internal/config"
	"link_grader/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrJudgeCall       = errors.New("judge call failed")
	ErrMalformedOutput = errors.New("judge returned malformed output")
	ErrInvalidScore    = errors.New("judge returned a score outside 0-10")
)

type Judge interface {
	Evaluate(ctx context.Context, req Request) (models.JudgeOutput, error)
}

// Request carries everything the judge sees for one outbound link.
type Request struct {
	PostContent string
	Links       []string
	LinkURL     string
	AnchorText  string
	Article     string
}

func BuildQuery(postContent string, links []string) string {
	return fmt.Sprintf("This is the content of the main blog post: %s\n\n And these are all the outbound links in the article: [%s]",
		postContent, strings.Join(links, ", "))
}

func BuildContext(article string) string {
	return fmt.Sprintf("This is the content of the outbound link: %s", article)
}

func BuildAnchor(linkURL, text string) string {
	return fmt.Sprintf("The outbound link being evaluated is %s with the anchor text: %q", linkURL, text)
}

// Prompt joins query, anchor and context the way they are sent as one user turn.
// The anchor line is left out when the link had no text.
func (r Request) Prompt() string {
	parts := []string{BuildQuery(r.PostContent, r.Links)}
	if r.AnchorText != "" {
		parts = append(parts, BuildAnchor(r.LinkURL, r.AnchorText))
	}
	parts = append(parts, BuildContext(r.Article))
	return strings.Join(parts, "\n\n")
}

type backend interface {
	generate(ctx context.Context, system, prompt string) (string, error)
	name() string
}

type LLMJudge struct {
	backend backend
	cfg     config.JudgeConfig
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New builds the judge for the model selected in the config.
func New(ctx context.Context, cfg config.JudgeConfig, model config.ModelConfig, logger *slog.Logger) (*LLMJudge, error) {
	var b backend
	var err error
	switch config.NormalizeProvider(model.Provider) {
	case "gemini":
		b, err = newGemini(ctx, cfg.APIKey, model)
	case "ollama":
		b = newOllama(model, cfg.Timeout())
	default:
		err = fmt.Errorf("%w: %s", config.ErrUnknownProvider, model.Provider)
	}
	if err != nil {
		return nil, err
	}

	return newLLMJudge(b, cfg, logger), nil
}

func newLLMJudge(b backend, cfg config.JudgeConfig, logger *slog.Logger) *LLMJudge {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMJudge{
		backend: b,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("link_grader/judge"),
	}
}

func (j *LLMJudge) Evaluate(ctx context.Context, req Request) (models.JudgeOutput, error) {
	ctx, span := j.tracer.Start(ctx, "judge.Evaluate", trace.WithAttributes(
		attribute.String("link_url", req.LinkURL),
		attribute.String("backend", j.backend.name()),
	))
	defer span.End()

	if d := j.cfg.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	raw, err := j.backend.generate(ctx, SystemPrompt+"\n\n"+Instructions, req.Prompt())
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrJudgeCall, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "call")
		return models.JudgeOutput{}, err
	}

	out, err := ParseOutput(raw, req.LinkURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse")
		j.logger.Debug("Unusable judge output", "link_url", req.LinkURL, "raw", truncate(raw, 500))
		return models.JudgeOutput{}, err
	}

	j.logger.Debug("Link judged", "link_url", out.LinkURL, "overall_score", out.OverallScore)
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
