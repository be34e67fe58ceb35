package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"link_grader/internal/app"
	"link_grader/internal/config"
	"link_grader/internal/logger"
	"link_grader/internal/metrics"

	"github.com/jessevdk/go-flags"
)

type options struct {
	Config      string `long:"config" short:"c" default:"config.yaml" description:"Path to the YAML config"`
	Output      string `long:"output" short:"o" description:"CSV output path, local or s3://bucket/key"`
	LogLevel    string `long:"log-level" env:"LOG_LEVEL" description:"debug, info, warn or error"`
	LogFormat   string `long:"log-format" env:"LOG_FORMAT" description:"text or json"`
	MetricsAddr string `long:"metrics-addr" env:"METRICS_ADDR" description:"Serve Prometheus metrics on this address"`
	BloggerKey  string `long:"blogger-api-key" env:"BLOGGER_API_KEY" description:"Blogger API key"`
	JudgeKey    string `long:"gemini-api-key" env:"GEMINI_API_KEY" description:"Gemini API key"`
	Positional  struct {
		Targets []string `positional-arg-name:"person=blog_id"`
	} `positional-args:"yes"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log, _ := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		m.Serve(ctx, cfg.Metrics.Addr, logger.Component(log, "metrics"))
	}

	grader, closeAll, err := app.Build(ctx, cfg, log, m, os.Stdout)
	defer func() {
		if err := closeAll(); err != nil {
			log.Warn("Failed to close resources", "error", err)
		}
	}()
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}

	results, runErr := grader.ProcessAll(ctx, cfg.Blogs)

	// Partial results are still written when the run stops early.
	rows, saveErr := grader.Save(context.WithoutCancel(ctx), results)
	log.Info("Results saved", "run_id", grader.RunID(), "rows", len(rows), "csv", cfg.Output.CSVPath)

	if stats, err := grader.Stats(context.WithoutCancel(ctx)); err == nil {
		log.Info("Run stats", "links", stats.Total, "failed", stats.Failed,
			"avg_overall", stats.AvgOverall, "max_overall", stats.MaxOverall, "distinct_urls", stats.DistinctURLs)
	} else if !errors.Is(err, app.ErrNoRunStats) {
		log.Warn("Failed to read run stats", "error", err)
	}

	return errors.Join(runErr, saveErr)
}

func loadConfig(opts options) (*config.GraderConfig, error) {
	cfg, err := config.LoadConfig(opts.Config)
	if err != nil {
		return nil, err
	}

	if len(opts.Positional.Targets) > 0 {
		targets, err := config.ParseTargets(opts.Positional.Targets)
		if err != nil {
			return nil, err
		}
		cfg.Blogs = targets
	}
	if opts.Output != "" {
		cfg.Output.CSVPath = opts.Output
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Logging.Format = opts.LogFormat
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.BloggerKey != "" {
		cfg.Blogger.APIKey = opts.BloggerKey
	}
	if opts.JudgeKey != "" {
		cfg.Judge.APIKey = opts.JudgeKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
