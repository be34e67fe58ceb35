package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"link_grader/internal/config"

	"github.com/temoto/robotstxt"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html/charset"
)

const (
	maxBodyBytes     = 10 << 20
	challengeMaxSize = 20 << 10
	defaultReferer   = "https://www.google.com/"
)

type HTTPFetcher struct {
	cfg    config.ScraperConfig
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	robots map[string]*robotstxt.Group
}

func NewHTTPFetcher(cfg config.ScraperConfig, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}

	jar, _ := cookiejar.New(nil)
	maxHops := cfg.MaxHops

	return &HTTPFetcher{
		cfg:    cfg,
		logger: logger,
		robots: make(map[string]*robotstxt.Group),
		client: &http.Client{
			Transport: otelhttp.NewTransport(&http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: true,
			}),
			Jar:     jar,
			Timeout: cfg.Timeout(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxHops {
					return fmt.Errorf("stopped after %d redirects", maxHops)
				}
				return nil
			},
		},
	}
}

// Fetch downloads rawURL as UTF-8, retrying transient failures with
// exponential backoff.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	if !f.cfg.IgnoreRobots && !f.allowed(ctx, u) {
		return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}

	return withRetry(ctx, f.cfg.Retry, f.logger, rawURL, f.fetchOnce)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	referer := f.cfg.Referer
	if referer == "" {
		referer = defaultReferer
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Referer", referer)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	utf8Reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), contentType)
	if err != nil {
		utf8Reader = io.LimitReader(resp.Body, maxBodyBytes)
	}

	body, err := io.ReadAll(utf8Reader)
	if err != nil {
		return nil, err
	}

	if looksLikeChallenge(body) {
		return nil, ErrCaptcha
	}

	return &Page{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// looksLikeChallenge only inspects small pages; real articles often embed
// captcha widgets in comment forms.
func looksLikeChallenge(body []byte) bool {
	if len(body) > challengeMaxSize {
		return false
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "captcha") ||
		strings.Contains(lower, "security check") ||
		strings.Contains(lower, "verify you are human")
}

func (f *HTTPFetcher) allowed(ctx context.Context, u *url.URL) bool {
	group := f.robotsGroup(ctx, u)
	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

func (f *HTTPFetcher) robotsGroup(ctx context.Context, u *url.URL) *robotstxt.Group {
	key := u.Scheme + "://" + u.Host

	f.mu.Lock()
	group, ok := f.robots[key]
	f.mu.Unlock()
	if ok {
		return group
	}

	group = f.loadRobots(ctx, key)

	f.mu.Lock()
	f.robots[key] = group
	f.mu.Unlock()
	return group
}

func (f *HTTPFetcher) loadRobots(ctx context.Context, origin string) *robotstxt.Group {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("robots.txt unavailable, allowing", "origin", origin, "error", err)
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		f.logger.Debug("robots.txt unparsable, allowing", "origin", origin, "error", err)
		return nil
	}
	return data.FindGroup(f.cfg.UserAgent)
}
