package article

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"link_grader/internal/dates"
	"link_grader/internal/fetch"
	"link_grader/internal/models"
	urlqueue "link_grader/internal/url_queue"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
)

var (
	reWhitespace   = regexp.MustCompile(`\s+`)
	reBlockOpen    = regexp.MustCompile(`<(div|p|br|li|td|tr|h[1-6])([\s/][^>]*)?>`)
	reBlockClose   = regexp.MustCompile(`</(div|p|li|td|tr|h[1-6])>`)
	reBylinePrefix = regexp.MustCompile(`(?i)^\s*(written\s+)?by\s+`)
	reAuthorSplit  = regexp.MustCompile(`\s*(?:,|&|\||\band\b)\s*`)
)

type Scraper struct {
	fetcher fetch.Fetcher
	dates   *dates.Resolver
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func NewScraper(fetcher fetch.Fetcher, resolver *dates.Resolver, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = dates.NewResolver(logger)
	}
	return &Scraper{
		fetcher: fetcher,
		dates:   resolver,
		logger:  logger,
		tracer:  otel.Tracer("link_grader/article"),
		now:     time.Now,
	}
}

// Scrape never fails: fetch or extraction problems produce a record with
// empty fields and Error set.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) models.ArticleRecord {
	ctx, span := s.tracer.Start(ctx, "article.Scrape", trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()

	rec := models.ArticleRecord{
		URL:           rawURL,
		NormalizedURL: urlqueue.NormalizeURL(rawURL),
		Authors:       []string{},
		ScrapedAt:     s.now().Unix(),
	}

	s.logger.Info("Scraping article", "url", rawURL)

	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return s.fail(span, rec, "fetch", err)
	}
	rec.StatusCode = page.StatusCode

	article, err := s.extractContent(page.Body, page.FinalURL)
	if err != nil {
		return s.fail(span, rec, "extract", err)
	}

	rec.Title = article.Title
	rec.Content = article.Text
	rec.Authors = SplitAuthors(article.Byline)
	rec.ContentHash = urlqueue.ComputeContentHash(article.Text)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		s.logger.Warn("Markup unparsable, dates unresolved", "url", rawURL, "error", err)
		doc = nil
	}

	publish := s.dates.Publish(doc, article.Published)
	update := s.dates.Update(doc)
	rec.PublishDate = publish.ISO()
	rec.UpdateDate = update.ISO()

	s.logger.Info("Article extracted",
		"url", rawURL,
		"title", rec.Title,
		"publish", rec.PublishDate,
		"publish_source", publish.Source,
		"update", rec.UpdateDate,
		"content_length", len(rec.Content),
	)
	return rec
}

func (s *Scraper) fail(span trace.Span, rec models.ArticleRecord, stage string, err error) models.ArticleRecord {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	s.logger.Warn("Failed to scrape article", "url", rec.URL, "stage", stage, "error", err)

	return models.ArticleRecord{
		URL:           rec.URL,
		NormalizedURL: rec.NormalizedURL,
		Authors:       []string{},
		StatusCode:    rec.StatusCode,
		ScrapedAt:     rec.ScrapedAt,
		Error:         fmt.Sprintf("%s: %v", stage, err),
	}
}

func (s *Scraper) extractContent(body []byte, pageURL string) (*models.ExtractedArticle, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return nil, err
	}

	text := article.TextContent
	if article.Content != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(addSpacesBeforeParsing(article.Content)))
		if err == nil {
			text = doc.Text()
		}
	}

	return &models.ExtractedArticle{
		Title:     normalizeText(article.Title),
		Text:      normalizeText(text),
		HTML:      article.Content,
		Excerpt:   article.Excerpt,
		Byline:    article.Byline,
		Published: article.PublishedTime,
	}, nil
}

func normalizeText(text string) string {
	text = norm.NFC.String(text)
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func addSpacesBeforeParsing(html string) string {
	html = reBlockOpen.ReplaceAllString(html, " $0")
	return reBlockClose.ReplaceAllString(html, "$0 ")
}

// SplitAuthors turns a byline such as "By Jane Doe and John Roe" into names.
func SplitAuthors(byline string) []string {
	authors := []string{}
	byline = strings.TrimSpace(reBylinePrefix.ReplaceAllString(byline, ""))
	if byline == "" {
		return authors
	}

	seen := map[string]bool{}
	for _, name := range reAuthorSplit.Split(byline, -1) {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		authors = append(authors, name)
	}
	return authors
}
