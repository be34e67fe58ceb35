package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"link_grader/internal/config"
	"link_grader/internal/db"
	"link_grader/internal/judge"
	"link_grader/internal/metrics"
	"link_grader/internal/models"
	"link_grader/internal/sink"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	posts map[string][]models.Post
	err   map[string]error
	calls []string
}

func (s *fakeSource) Posts(ctx context.Context, blogID string) ([]models.Post, error) {
	s.calls = append(s.calls, blogID)
	if err := s.err[blogID]; err != nil {
		return nil, err
	}
	return s.posts[blogID], nil
}

type fakeScraper struct {
	calls []string
	fail  map[string]bool
}

func (s *fakeScraper) Scrape(ctx context.Context, url string) models.ArticleRecord {
	s.calls = append(s.calls, url)

	if s.fail[url] {
		return models.ArticleRecord{URL: url, Authors: []string{}, Error: "fetch: HTTP 404"}
	}
	return models.ArticleRecord{URL: url, Title: "Title of " + url, Content: "content", Authors: []string{}}
}

type fakeJudge struct {
	requests []judge.Request
	fail     map[string]error
}

func (j *fakeJudge) Evaluate(ctx context.Context, req judge.Request) (models.JudgeOutput, error) {
	j.requests = append(j.requests, req)
	if err := j.fail[req.LinkURL]; err != nil {
		return models.JudgeOutput{}, err
	}
	return models.JudgeOutput{
		LinkURL: req.LinkURL,
		Metrics: map[string]models.MetricScore{
			models.MetricSourceCredibility: {Score: 7, Justification: "fine"},
		},
		OverallScore: 7,
	}, nil
}

type fakeStore struct {
	articles    []models.ArticleRecord
	evaluations []models.Evaluation
}

func (s *fakeStore) SaveArticle(ctx context.Context, rec models.ArticleRecord) error {
	s.articles = append(s.articles, rec)
	return nil
}

func (s *fakeStore) SaveEvaluation(ctx context.Context, ev models.Evaluation) error {
	s.evaluations = append(s.evaluations, ev)
	return nil
}

func (s *fakeStore) GetRunStats(ctx context.Context, runID string) (*db.RunStats, error) {
	stats := &db.RunStats{}
	for _, ev := range s.evaluations {
		if ev.RunID != runID {
			continue
		}
		stats.Total++
		if ev.Output.Failure != "" {
			stats.Failed++
		}
	}
	return stats, nil
}

type fakeSink struct {
	name  string
	rows  []models.ResultRow
	runID string
	err   error
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Write(ctx context.Context, runID string, rows []models.ResultRow) error {
	s.rows, s.runID = rows, runID
	return s.err
}

func testConfig() *config.GraderConfig {
	cfg := &config.GraderConfig{}
	cfg.SetDefaults()
	return cfg
}

func post(title, url string, hrefs ...string) models.Post {
	var sb strings.Builder
	for _, h := range hrefs {
		fmt.Fprintf(&sb, `<p>See <a href="%s">this</a>.</p>`, h)
	}
	return models.Post{Title: title, URL: url, BlogID: "b1", Content: sb.String()}
}

func TestProcessAll(t *testing.T) {
	src := &fakeSource{posts: map[string][]models.Post{
		"b1": {
			post("Post One", "https://blog/1", "https://example.com/a", "https://example.com/pic.png", "https://example.com/b"),
			post("Post Two", "https://blog/2"),
		},
		"b2": {post("Other", "https://blog2/1", "https://example.org/c")},
	}}
	scraper := &fakeScraper{}
	j := &fakeJudge{}
	store := &fakeStore{}

	a, err := New(testConfig(), Deps{Source: src, Scraper: scraper, Judge: j, Store: store}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	results, err := a.ProcessAll(context.Background(), []config.BlogTarget{
		{Person: "alice", BlogID: "b1"},
		{Person: "bob", BlogID: "b2"},
	})
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}

	if len(results) != 2 || results[0].Person != "alice" || results[1].Person != "bob" {
		t.Fatalf("Unexpected persons %+v", results)
	}
	if len(results[0].Blogs) != 2 || results[0].Blogs[0].Title != "Post One" {
		t.Fatalf("Unexpected blogs %+v", results[0].Blogs)
	}
	if got := len(results[0].Blogs[1].Links); got != 0 {
		t.Errorf("Expected post without links to have no results, got %d", got)
	}
	if results.LinkCount() != 3 {
		t.Errorf("Expected 3 judged links, got %d", results.LinkCount())
	}

	want := []string{"https://example.com/a", "https://example.com/b", "https://example.org/c"}
	if strings.Join(scraper.calls, " ") != strings.Join(want, " ") {
		t.Errorf("Expected links scraped in order %v, got %v", want, scraper.calls)
	}

	first := j.requests[0]
	if len(first.Links) != 2 || !strings.Contains(first.Article, "Title: Title of https://example.com/a") {
		t.Errorf("Unexpected judge request %+v", first)
	}

	if len(store.articles) != 3 || len(store.evaluations) != 3 {
		t.Errorf("Expected 3 persisted articles and evaluations, got %d and %d", len(store.articles), len(store.evaluations))
	}
	if ev := store.evaluations[2]; ev.Person != "bob" || ev.RunID != a.RunID() || ev.ID == "" {
		t.Errorf("Unexpected evaluation %+v", ev)
	}
}

func TestStats(t *testing.T) {
	src := &fakeSource{posts: map[string][]models.Post{
		"b1": {post("One", "https://blog/1", "https://example.com/a", "https://example.com/b")},
	}}
	store := &fakeStore{}
	a, _ := New(testConfig(), Deps{Source: src, Scraper: &fakeScraper{}, Judge: &fakeJudge{}, Store: store}, nil)

	if _, err := a.ProcessBlog(context.Background(), "b1"); err != nil {
		t.Fatalf("ProcessBlog failed: %v", err)
	}
	stats, err := a.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 || stats.Failed != 0 {
		t.Errorf("Expected 2 evaluations without failures, got %+v", stats)
	}

	a, _ = New(testConfig(), Deps{Source: src, Scraper: &fakeScraper{}, Judge: &fakeJudge{}}, nil)
	if _, err := a.Stats(context.Background()); !errors.Is(err, ErrNoRunStats) {
		t.Errorf("Expected ErrNoRunStats, got %v", err)
	}
}

func TestJudgeSeesAnchorText(t *testing.T) {
	src := &fakeSource{posts: map[string][]models.Post{
		"b1": {{Title: "One", URL: "https://blog/1", Content: `<p><a href="https://go.dev">The Go   site</a> and <a href="https://x.example.com"><img src="i.gif"></a></p>`}},
	}}
	j := &fakeJudge{}
	a, _ := New(testConfig(), Deps{Source: src, Scraper: &fakeScraper{}, Judge: j}, nil)

	if _, err := a.ProcessBlog(context.Background(), "b1"); err != nil {
		t.Fatalf("ProcessBlog failed: %v", err)
	}
	if len(j.requests) != 2 {
		t.Fatalf("Expected 2 judge requests, got %d", len(j.requests))
	}
	if j.requests[0].AnchorText != "The Go site" {
		t.Errorf("Expected anchor text, got %q", j.requests[0].AnchorText)
	}
	if j.requests[1].AnchorText != "" {
		t.Errorf("Expected empty anchor text for image link, got %q", j.requests[1].AnchorText)
	}
	if !strings.Contains(j.requests[0].Prompt(), `"The Go site"`) {
		t.Errorf("Expected anchor text in prompt, got %q", j.requests[0].Prompt())
	}
}

func TestFeedTargetsUseFeedSource(t *testing.T) {
	feedURL := "https://alice.blogspot.com/feeds/posts/default"
	api := &fakeSource{posts: map[string][]models.Post{
		"b1": {post("Api", "https://blog/1", "https://example.com/a")},
	}}
	feeds := &fakeSource{posts: map[string][]models.Post{
		feedURL:                 {post("Feed", "https://alice.blogspot.com/1", "https://example.com/f")},
		"https://bob.example/x": {post("Both", "https://bob.example/1")},
	}}

	targets, err := config.ParseTargets([]string{"alice=" + feedURL, "carol=b1"})
	if err != nil {
		t.Fatalf("ParseTargets failed: %v", err)
	}
	targets = append(targets, config.BlogTarget{Person: "bob", BlogID: "b1", FeedURL: "https://bob.example/x"})

	cfg := testConfig()
	if cfg.Source.Kind != "blogger" {
		t.Fatalf("Expected blogger as default source, got %q", cfg.Source.Kind)
	}
	a, _ := New(cfg, Deps{Source: api, Feeds: feeds, Scraper: &fakeScraper{}, Judge: &fakeJudge{}}, nil)

	results, err := a.ProcessAll(context.Background(), targets)
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	if strings.Join(feeds.calls, " ") != feedURL {
		t.Errorf("Expected only the feed-only target on the feed source, got %v", feeds.calls)
	}
	if strings.Join(api.calls, " ") != "b1 b1" {
		t.Errorf("Expected blog id targets on the API source, got %v", api.calls)
	}
	if results[0].Blogs[0].Title != "Feed" || results[0].Blogs[0].Links[0].LinkURL != "https://example.com/f" {
		t.Errorf("Unexpected feed results %+v", results[0])
	}

	cfg = testConfig()
	cfg.Source.Kind = "feed"
	api.calls, feeds.calls = nil, nil
	a, _ = New(cfg, Deps{Source: feeds, Feeds: feeds, Scraper: &fakeScraper{}, Judge: &fakeJudge{}}, nil)
	if _, err := a.ProcessAll(context.Background(), targets[2:]); err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	if strings.Join(feeds.calls, " ") != "https://bob.example/x" {
		t.Errorf("Expected feed url preferred under the feed source, got %v", feeds.calls)
	}
}

func TestProcessAllGroupsSamePerson(t *testing.T) {
	src := &fakeSource{posts: map[string][]models.Post{
		"b1": {post("One", "https://blog/1", "https://example.com/a")},
		"b2": {post("Two", "https://blog/2", "https://example.com/b")},
	}}
	a, _ := New(testConfig(), Deps{Source: src, Scraper: &fakeScraper{}, Judge: &fakeJudge{}}, nil)

	results, err := a.ProcessAll(context.Background(), []config.BlogTarget{
		{Person: "alice", BlogID: "b1"},
		{Person: "alice", BlogID: "b2"},
	})
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	if len(results) != 1 || len(results[0].Blogs) != 2 {
		t.Errorf("Expected one person with two blogs, got %+v", results)
	}
}

func TestScrapeFailureDoesNotStopBatch(t *testing.T) {
	src := &fakeSource{posts: map[string][]models.Post{
		"b1": {post("One", "https://blog/1", "https://down.example.com", "https://up.example.com")},
	}}
	scraper := &fakeScraper{fail: map[string]bool{"https://down.example.com": true}}
	j := &fakeJudge{}
	m := metrics.New()

	a, _ := New(testConfig(), Deps{Source: src, Scraper: scraper, Judge: j, Metrics: m}, nil)
	blogs, err := a.ProcessBlog(context.Background(), "b1")
	if err != nil {
		t.Fatalf("ProcessBlog failed: %v", err)
	}

	if len(blogs[0].Links) != 2 {
		t.Fatalf("Expected both links judged, got %d", len(blogs[0].Links))
	}
	if !strings.Contains(j.requests[0].Article, "Content: unavailable (fetch: HTTP 404)") {
		t.Errorf("Expected failed scrape to reach the judge as unavailable, got %q", j.requests[0].Article)
	}
	if got := testutil.ToFloat64(m.ScrapeFailures.WithLabelValues("fetch")); got != 1 {
		t.Errorf("Expected 1 scrape failure, got %v", got)
	}
}

func TestJudgeFailureIsRecorded(t *testing.T) {
	src := &fakeSource{posts: map[string][]models.Post{
		"b1": {post("One", "https://blog/1", "https://a.example.com", "https://b.example.com")},
	}}
	j := &fakeJudge{fail: map[string]error{
		"https://a.example.com": fmt.Errorf("%w: not json", judge.ErrMalformedOutput),
	}}
	m := metrics.New()

	a, _ := New(testConfig(), Deps{Source: src, Scraper: &fakeScraper{}, Judge: j, Metrics: m}, nil)
	blogs, err := a.ProcessBlog(context.Background(), "b1")
	if err != nil {
		t.Fatalf("ProcessBlog failed: %v", err)
	}

	failed := blogs[0].Links[0]
	if failed.LinkURL != "https://a.example.com" || !strings.Contains(failed.Failure, "malformed") {
		t.Errorf("Expected failure marker, got %+v", failed)
	}
	if blogs[0].Links[1].Failure != "" {
		t.Errorf("Expected second link to succeed, got %+v", blogs[0].Links[1])
	}
	if got := testutil.ToFloat64(m.JudgeFailures.WithLabelValues("malformed")); got != 1 {
		t.Errorf("Expected 1 malformed failure, got %v", got)
	}
}

func TestUpstreamFailureKeepsPartialResults(t *testing.T) {
	src := &fakeSource{
		posts: map[string][]models.Post{"b1": {post("One", "https://blog/1", "https://a.example.com")}},
		err:   map[string]error{"b2": errors.New("failed to fetch all posts: 403")},
	}
	a, _ := New(testConfig(), Deps{Source: src, Scraper: &fakeScraper{}, Judge: &fakeJudge{}}, nil)

	results, err := a.ProcessAll(context.Background(), []config.BlogTarget{
		{Person: "alice", BlogID: "b1"},
		{Person: "bob", BlogID: "b2"},
		{Person: "carol", BlogID: "b3"},
	})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("Expected upstream error, got %v", err)
	}
	if results.LinkCount() != 1 {
		t.Errorf("Expected alice's link to be kept, got %d links", results.LinkCount())
	}
	for _, p := range results {
		if p.Person == "carol" {
			t.Error("Expected run to stop before carol")
		}
	}
}

func TestDedupeLinks(t *testing.T) {
	src := &fakeSource{posts: map[string][]models.Post{
		"b1": {post("One", "https://blog/1", "https://example.com/a", "https://www.example.com/a#ref", "https://example.com/b")},
	}}

	cfg := testConfig()
	a, _ := New(cfg, Deps{Source: src, Scraper: &fakeScraper{}, Judge: &fakeJudge{}}, nil)
	blogs, _ := a.ProcessBlog(context.Background(), "b1")
	if len(blogs[0].Links) != 3 {
		t.Errorf("Expected duplicates kept by default, got %d", len(blogs[0].Links))
	}

	cfg = testConfig()
	cfg.Links.Dedupe = true
	cfg.Links.ExcludePatterns = []string{`/b$`}
	a, _ = New(cfg, Deps{Source: src, Scraper: &fakeScraper{}, Judge: &fakeJudge{}}, nil)
	blogs, _ = a.ProcessBlog(context.Background(), "b1")
	if len(blogs[0].Links) != 1 {
		t.Errorf("Expected one link after dedupe and exclude, got %d", len(blogs[0].Links))
	}
}

func TestCancelledContext(t *testing.T) {
	src := &fakeSource{posts: map[string][]models.Post{
		"b1": {post("One", "https://blog/1", "https://a.example.com")},
	}}
	a, _ := New(testConfig(), Deps{Source: src, Scraper: &fakeScraper{}, Judge: &fakeJudge{}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.ProcessBlog(ctx, "b1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestSave(t *testing.T) {
	ok := &fakeSink{name: "ok"}
	bad := &fakeSink{name: "bad", err: errors.New("disk full")}
	a, _ := New(testConfig(), Deps{
		Source:  &fakeSource{},
		Scraper: &fakeScraper{},
		Judge:   &fakeJudge{},
		Sinks:   []sink.Sink{bad, ok},
	}, nil)

	results := models.Results{{Person: "alice", Blogs: []models.BlogResult{{
		Title: "Blog A",
		Links: []models.JudgeOutput{{LinkURL: "u1", OverallScore: 8}},
	}}}}

	rows, err := a.Save(context.Background(), results)
	if err == nil || !strings.Contains(err.Error(), "bad: disk full") {
		t.Errorf("Expected sink error, got %v", err)
	}
	if len(rows) != 1 || len(ok.rows) != 1 || ok.runID != a.RunID() {
		t.Errorf("Expected remaining sink to receive rows, got %d rows", len(ok.rows))
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(testConfig(), Deps{}, nil); err == nil {
		t.Error("Expected error for missing dependencies")
	}
}
