package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"link_grader/internal/config"

	"github.com/gocolly/colly"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// CollyFetcher fetches pages through a colly collector. colly has no context
// support, so cancellation is only honoured before the request starts.
type CollyFetcher struct {
	base    *colly.Collector
	referer string
	retry   config.RetryPolicy
	logger  *slog.Logger
}

func NewCollyFetcher(cfg config.ScraperConfig, logger *slog.Logger) *CollyFetcher {
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.IgnoreRobotsTxt = cfg.IgnoreRobots
	c.SetRequestTimeout(cfg.Timeout())
	c.WithTransport(otelhttp.NewTransport(http.DefaultTransport))

	if logger == nil {
		logger = slog.Default()
	}

	referer := cfg.Referer
	if referer == "" {
		referer = defaultReferer
	}

	return &CollyFetcher{base: c, referer: referer, retry: cfg.Retry, logger: logger}
}

// Fetch retries transient failures with the same policy as HTTPFetcher.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	return withRetry(ctx, f.retry, f.logger, rawURL, f.fetchOnce)
}

func (f *CollyFetcher) fetchOnce(ctx context.Context, rawURL string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	col := f.base.Clone()

	var page *Page
	var fetchErr error

	col.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Referer", f.referer)
	})

	col.OnResponse(func(r *colly.Response) {
		page = &Page{
			URL:         rawURL,
			FinalURL:    r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        r.Body,
		}
	})

	col.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 400 {
			fetchErr = &StatusError{Code: r.StatusCode}
			return
		}
		fetchErr = err
	})

	visitErr := col.Visit(rawURL)

	switch {
	case fetchErr != nil:
		return nil, fetchErr
	case errors.Is(visitErr, colly.ErrRobotsTxtBlocked):
		return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	case visitErr != nil:
		return nil, fmt.Errorf("colly visit %s: %w", rawURL, visitErr)
	case page == nil:
		return nil, fmt.Errorf("no response for %s", rawURL)
	}

	if page.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: page.StatusCode}
	}
	if looksLikeChallenge(page.Body) {
		return nil, ErrCaptcha
	}

	f.logger.Debug("Page fetched", "url", rawURL, "final_url", page.FinalURL, "bytes", len(page.Body))
	return page, nil
}
