package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"link_grader/internal/article"
	"link_grader/internal/blogger"
	"link_grader/internal/config"
	"link_grader/internal/dates"
	"link_grader/internal/db"
	"link_grader/internal/fetch"
	"link_grader/internal/judge"
	"link_grader/internal/logger"
	"link_grader/internal/metrics"
	"link_grader/internal/sink"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Build wires every component named in cfg. The returned close function
// releases database connections.
func Build(ctx context.Context, cfg *config.GraderConfig, log *slog.Logger, m *metrics.Metrics, summaryOut io.Writer) (*GraderApp, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	feeds := buildFeedSource(cfg, logger.Component(log, "feed"))
	source, err := buildSource(ctx, cfg, feeds, logger.Component(log, "blogger"))
	if err != nil {
		return nil, closeAll, err
	}

	model, err := cfg.JudgeModel()
	if err != nil {
		return nil, closeAll, err
	}
	j, err := judge.New(ctx, cfg.Judge, model, logger.Component(log, "judge"))
	if err != nil {
		return nil, closeAll, err
	}

	scraper := article.NewScraper(
		buildFetcher(cfg.Scraper, logger.Component(log, "fetch")),
		dates.NewResolver(logger.Component(log, "dates")),
		logger.Component(log, "article"),
	)

	sinks, sqlStore, err := buildSinks(ctx, cfg.Output, log, summaryOut)
	if err != nil {
		return nil, closeAll, err
	}
	if sqlStore != nil {
		closers = append(closers, sqlStore.Close)
	}

	deps := Deps{
		Source:  source,
		Feeds:   feeds,
		Scraper: scraper,
		Judge:   j,
		Sinks:   sinks,
		Metrics: m,
	}

	if cfg.DB.Connection != "" {
		mongo, err := db.NewMongoDB(ctx, cfg.DB, logger.Component(log, "db"))
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, mongo.Close)
		deps.Store = mongo
	}

	a, err := New(cfg, deps, logger.Component(log, "app"))
	if err != nil {
		return nil, closeAll, err
	}
	return a, closeAll, nil
}

func buildFeedSource(cfg *config.GraderConfig, log *slog.Logger) *blogger.FeedSource {
	client := &http.Client{
		Timeout:   cfg.Scraper.Timeout(),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return blogger.NewFeedSource(client, cfg.Scraper.UserAgent, log)
}

func buildSource(ctx context.Context, cfg *config.GraderConfig, feeds *blogger.FeedSource, log *slog.Logger) (blogger.Source, error) {
	switch cfg.Source.Kind {
	case "feed":
		return feeds, nil
	case "blogger":
		return blogger.NewClient(ctx, cfg.Blogger, log)
	default:
		return nil, config.ErrInvalidSourceKind
	}
}

func buildFetcher(cfg config.ScraperConfig, log *slog.Logger) fetch.Fetcher {
	if cfg.Engine == "colly" {
		return fetch.NewCollyFetcher(cfg, log)
	}
	return fetch.NewHTTPFetcher(cfg, log)
}

func buildSinks(ctx context.Context, cfg config.OutputConfig, log *slog.Logger, summaryOut io.Writer) ([]sink.Sink, *sink.SQLStore, error) {
	var uploader sink.Uploader
	if strings.HasPrefix(cfg.CSVPath, "s3://") {
		u, err := sink.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		uploader = u
	}

	sinks := []sink.Sink{sink.NewCSVWriter(cfg.CSVPath, uploader, logger.Component(log, "csv"))}

	var store *sink.SQLStore
	if cfg.SQL.DSN != "" {
		s, err := sink.OpenSQLStore(ctx, cfg.SQL, logger.Component(log, "sql"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sql store: %w", err)
		}
		store = s
		sinks = append(sinks, s)
	}

	if cfg.DocxPath != "" {
		sinks = append(sinks, sink.NewDocxReport(cfg.DocxPath, logger.Component(log, "docx")))
	}

	if cfg.SummaryPath != "" || summaryOut != nil {
		sinks = append(sinks, sink.NewMarkdownSummary(cfg.SummaryPath, summaryOut, logger.Component(log, "summary")))
	}

	return sinks, store, nil
}
