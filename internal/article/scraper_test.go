package article

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"link_grader/internal/fetch"
	"link_grader/internal/models"
)

type fakeFetcher struct {
	pages map[string]*fetch.Page
	err   error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Page, error) {
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	page, ok := f.pages[url]
	if !ok {
		return nil, &fetch.StatusError{Code: 404}
	}
	return page, nil
}

const articleHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Understanding Link Quality</title>
  <meta name="author" content="Jane Doe">
  <meta property="article:modified_time" content="2022-02-02T10:00:00Z">
  <meta name="date" content="2021-06-01T00:00:00Z">
</head>
<body>
  <article>
    <h1>Understanding Link Quality</h1>
    <p>Outbound links are one of the strongest signals a reader has about the care that went into a post.
       A well chosen citation lets the reader verify a claim, dig deeper into a topic, and judge the author.</p>
    <p>Poorly chosen links do the opposite. They distract, they promote, and they quietly erode trust in
       everything else the author has written, even when the surrounding prose is excellent.</p>
    <p>This article walks through a rubric for grading links, from source credibility to recency,
       and explains how each metric can be checked against the linked page itself.</p>
  </article>
</body>
</html>`

func TestScrapeExtractsArticle(t *testing.T) {
	url := "https://example.com/post"
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		url: {URL: url, FinalURL: url, StatusCode: 200, Body: []byte(articleHTML)},
	}}

	rec := NewScraper(f, nil, nil).Scrape(context.Background(), url)

	if rec.Failed() {
		t.Fatalf("Expected successful scrape, got error %q", rec.Error)
	}
	if !strings.Contains(rec.Title, "Understanding Link Quality") {
		t.Errorf("Unexpected title %q", rec.Title)
	}
	if !strings.Contains(rec.Content, "Outbound links are one of the strongest signals") {
		t.Errorf("Expected article text, got %q", rec.Content)
	}
	if strings.Contains(rec.Content, "  ") {
		t.Error("Expected normalized whitespace in content")
	}
	if rec.PublishDate != "2021-06-01T00:00:00+00:00" {
		t.Errorf("Expected publish date 2021-06-01T00:00:00+00:00, got %q", rec.PublishDate)
	}
	if rec.UpdateDate != "2022-02-02T10:00:00+00:00" {
		t.Errorf("Expected update date 2022-02-02T10:00:00+00:00, got %q", rec.UpdateDate)
	}
	if rec.ContentHash == "" || rec.NormalizedURL != "https://example.com/post" {
		t.Errorf("Expected hash and normalized url, got %q / %q", rec.ContentHash, rec.NormalizedURL)
	}
	if rec.Authors == nil {
		t.Error("Expected non-nil authors")
	}
}

func TestScrapeFailureDegrades(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}

	rec := NewScraper(f, nil, nil).Scrape(context.Background(), "https://down.example.com")

	if !rec.Failed() || !strings.Contains(rec.Error, "connection refused") {
		t.Fatalf("Expected fetch failure recorded, got %q", rec.Error)
	}
	if rec.Content != "" || rec.Title != "" || rec.PublishDate != "" || rec.UpdateDate != "" {
		t.Errorf("Expected empty optional fields, got %+v", rec)
	}
	if rec.Authors == nil || len(rec.Authors) != 0 {
		t.Errorf("Expected empty authors, got %v", rec.Authors)
	}
	if rec.URL != "https://down.example.com" {
		t.Errorf("Expected url kept, got %q", rec.URL)
	}
}

func TestScrapeEmptyBody(t *testing.T) {
	url := "https://example.com/empty"
	f := &fakeFetcher{pages: map[string]*fetch.Page{
		url: {URL: url, FinalURL: url, StatusCode: 200, Body: []byte("   ")},
	}}

	rec := NewScraper(f, nil, nil).Scrape(context.Background(), url)
	if !rec.Failed() || !strings.HasPrefix(rec.Error, "extract") {
		t.Errorf("Expected extract failure, got %q", rec.Error)
	}
}

func TestSplitAuthors(t *testing.T) {
	tests := map[string][]string{
		"":                              {},
		"By Jane Doe":                   {"Jane Doe"},
		"Jane Doe and John Roe":         {"Jane Doe", "John Roe"},
		"written by A. Smith, B. Jones": {"A. Smith", "B. Jones"},
		"Ann & Bob | Ann":               {"Ann", "Bob"},
		"Alexandra Stone":               {"Alexandra Stone"},
	}
	for in, want := range tests {
		if got := SplitAuthors(in); !reflect.DeepEqual(got, want) {
			t.Errorf("SplitAuthors(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestFormat(t *testing.T) {
	rec := models.ArticleRecord{
		URL:         "https://example.com/a",
		Title:       "A",
		Authors:     []string{"Jane"},
		PublishDate: "2021-06-01T00:00:00+00:00",
		Content:     "héllo wörld",
	}

	out := Format(rec, 5)
	for _, want := range []string{"URL: https://example.com/a", "Title: A", "Authors: Jane", "Publish date: 2021-06-01T00:00:00+00:00", "Update date: unknown", "héllo [truncated]"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}

	failed := Format(models.ArticleRecord{URL: "https://x", Error: "fetch: HTTP 404"}, 0)
	if !strings.Contains(failed, "unavailable (fetch: HTTP 404)") {
		t.Errorf("Unexpected failed format %q", failed)
	}
}
