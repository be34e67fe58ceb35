package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"link_grader/internal/article"
	"link_grader/internal/blogger"
	"link_grader/internal/config"
	"link_grader/internal/db"
	"link_grader/internal/flatten"
	"link_grader/internal/judge"
	"link_grader/internal/links"
	"link_grader/internal/metrics"
	"link_grader/internal/models"
	"link_grader/internal/sink"
	urlqueue "link_grader/internal/url_queue"

	"github.com/google/uuid"
)

type Scraper interface {
	Scrape(ctx context.Context, url string) models.ArticleRecord
}

// Store persists raw scrape and judge results across runs.
type Store interface {
	SaveArticle(ctx context.Context, rec models.ArticleRecord) error
	SaveEvaluation(ctx context.Context, ev models.Evaluation) error
}

// RunReporter is implemented by stores that can summarize a stored run.
type RunReporter interface {
	GetRunStats(ctx context.Context, runID string) (*db.RunStats, error)
}

var ErrNoRunStats = errors.New("store does not report run stats")

type Deps struct {
	Source  blogger.Source
	Feeds   blogger.Source
	Scraper Scraper
	Judge   judge.Judge
	Sinks   []sink.Sink
	Store   Store
	Metrics *metrics.Metrics
}

type GraderApp struct {
	cfg       *config.GraderConfig
	source    blogger.Source
	feeds     blogger.Source
	extractor *links.Extractor
	scraper   Scraper
	judge     judge.Judge
	sinks     []sink.Sink
	store     Store
	metrics   *metrics.Metrics
	logger    *slog.Logger
	runID     string
	now       func() time.Time
}

func New(cfg *config.GraderConfig, deps Deps, logger *slog.Logger) (*GraderApp, error) {
	if deps.Source == nil || deps.Scraper == nil || deps.Judge == nil {
		return nil, errors.New("source, scraper and judge are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &GraderApp{
		cfg:       cfg,
		source:    deps.Source,
		feeds:     deps.Feeds,
		extractor: links.NewExtractor(cfg.Links.ImageExtensions, cfg.Links.ImageHostMarkers),
		scraper:   deps.Scraper,
		judge:     deps.Judge,
		sinks:     deps.Sinks,
		store:     deps.Store,
		metrics:   m,
		logger:    logger,
		runID:     uuid.NewString(),
		now:       time.Now,
	}, nil
}

func (a *GraderApp) RunID() string {
	return a.runID
}

// ProcessAll grades every target in order. Targets of the same person are
// grouped under one PersonResult. On an upstream failure the results gathered
// so far are returned together with the error.
func (a *GraderApp) ProcessAll(ctx context.Context, targets []config.BlogTarget) (models.Results, error) {
	a.logger.Info("Starting run", "run_id", a.runID, "blogs", len(targets))

	var results models.Results
	index := map[string]int{}

	for _, t := range targets {
		src, ref := a.route(t)
		blogs, err := a.processBlog(ctx, src, t.Person, ref)

		i, ok := index[t.Person]
		if !ok {
			results = append(results, models.PersonResult{Person: t.Person})
			i = len(results) - 1
			index[t.Person] = i
		}
		results[i].Blogs = append(results[i].Blogs, blogs...)

		if err != nil {
			a.logger.Error("Run stopped", "person", t.Person, "blog", ref, "error", err)
			return results, fmt.Errorf("blog %s of %s: %w", ref, t.Person, err)
		}
	}

	a.logger.Info("Run finished", "run_id", a.runID, "links", results.LinkCount())
	return results, nil
}

// route picks the source for a target. A target with a feed URL is read from
// the feed unless it also has a blog id and the configured source is the API.
func (a *GraderApp) route(t config.BlogTarget) (blogger.Source, string) {
	if t.FeedURL == "" || (t.BlogID != "" && a.cfg.Source.Kind != "feed") {
		return a.source, t.BlogID
	}
	if a.feeds != nil {
		return a.feeds, t.FeedURL
	}
	return a.source, t.FeedURL
}

// ProcessBlog grades the outbound links of every post of one blog. Each post
// becomes one BlogResult titled after the post.
func (a *GraderApp) ProcessBlog(ctx context.Context, blogID string) ([]models.BlogResult, error) {
	return a.processBlog(ctx, a.source, "", blogID)
}

func (a *GraderApp) processBlog(ctx context.Context, src blogger.Source, person, blogID string) ([]models.BlogResult, error) {
	posts, err := src.Posts(ctx, blogID)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Processing blog", "person", person, "blog_id", blogID, "posts", len(posts))

	var blogs []models.BlogResult
	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return blogs, err
		}

		anchors := a.extractor.Anchors(post.Content)
		post.OutboundLinks = make([]string, 0, len(anchors))
		anchorText := make(map[string]string, len(anchors))
		for _, an := range anchors {
			post.OutboundLinks = append(post.OutboundLinks, an.URL)
			if anchorText[an.URL] == "" {
				anchorText[an.URL] = an.Text
			}
		}

		judged, err := a.processPost(ctx, person, post, anchorText)
		blogs = append(blogs, models.BlogResult{Title: post.Title, Links: judged})
		a.metrics.Posts.Inc()
		if err != nil {
			return blogs, err
		}
	}
	return blogs, nil
}

func (a *GraderApp) processPost(ctx context.Context, person string, post models.Post, anchorText map[string]string) ([]models.JudgeOutput, error) {
	queue := urlqueue.NewURLQueue(post.URL, a.cfg.Links.Dedupe, a.cfg.Links.ExcludePatterns)
	queue.AddAll(post.OutboundLinks)

	a.logger.Info("Processing post", "title", post.Title, "url", post.URL,
		"links", len(post.OutboundLinks), "queued", queue.Size())

	judged := make([]models.JudgeOutput, 0, queue.Size())
	for {
		linkURL, ok := queue.Get()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return judged, err
		}

		out := a.gradeLink(ctx, post, linkURL, anchorText[linkURL])
		judged = append(judged, out)
		a.persistEvaluation(ctx, person, post, out)
	}
	return judged, nil
}

func (a *GraderApp) gradeLink(ctx context.Context, post models.Post, linkURL, anchorText string) models.JudgeOutput {
	rec := a.scraper.Scrape(ctx, linkURL)
	if rec.Failed() {
		stage, _, _ := strings.Cut(rec.Error, ":")
		a.metrics.ScrapeFailures.WithLabelValues(stage).Inc()
	}
	a.persistArticle(ctx, rec)

	req := judge.Request{
		PostContent: post.Content,
		Links:       post.OutboundLinks,
		LinkURL:     linkURL,
		AnchorText:  anchorText,
		Article:     article.Format(rec, a.cfg.Scraper.MaxContentChars),
	}

	start := a.now()
	out, err := a.judge.Evaluate(ctx, req)
	a.metrics.JudgeLatency.Observe(a.now().Sub(start).Seconds())
	a.metrics.Links.Inc()

	if err != nil {
		a.metrics.JudgeFailures.WithLabelValues(failureReason(err)).Inc()
		a.logger.Error("Failed to judge link", "link_url", linkURL, "post", post.URL, "error", err)
		return judge.Failed(linkURL, err)
	}

	a.metrics.OverallScore.Observe(out.OverallScore)
	a.logger.Info("Link judged", "link_url", linkURL, "overall_score", out.OverallScore)
	return out
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, judge.ErrMalformedOutput):
		return "malformed"
	case errors.Is(err, judge.ErrInvalidScore):
		return "invalid_score"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "call"
	}
}

func (a *GraderApp) persistArticle(ctx context.Context, rec models.ArticleRecord) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveArticle(ctx, rec); err != nil {
		a.logger.Warn("Failed to persist article", "url", rec.URL, "error", err)
	}
}

func (a *GraderApp) persistEvaluation(ctx context.Context, person string, post models.Post, out models.JudgeOutput) {
	if a.store == nil {
		return
	}
	ev := models.Evaluation{
		ID:        uuid.NewString(),
		RunID:     a.runID,
		Person:    person,
		BlogID:    post.BlogID,
		BlogTitle: post.Title,
		PostURL:   post.URL,
		Output:    out,
		CreatedAt: a.now().Unix(),
	}
	if err := a.store.SaveEvaluation(ctx, ev); err != nil {
		a.logger.Warn("Failed to persist evaluation", "link_url", out.LinkURL, "error", err)
	}
}

// Stats asks the store for the aggregate of the evaluations recorded in this run.
func (a *GraderApp) Stats(ctx context.Context) (*db.RunStats, error) {
	r, ok := a.store.(RunReporter)
	if !ok {
		return nil, ErrNoRunStats
	}
	return r.GetRunStats(ctx, a.runID)
}

// Save flattens the results and hands the rows to every sink. A failing sink
// does not stop the others.
func (a *GraderApp) Save(ctx context.Context, results models.Results) ([]models.ResultRow, error) {
	rows := flatten.Flatten(results)

	var errs []error
	for _, s := range a.sinks {
		if err := s.Write(ctx, a.runID, rows); err != nil {
			a.logger.Error("Failed to write results", "sink", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return rows, errors.Join(errs...)
}
