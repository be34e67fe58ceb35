package dates

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// ISOLayout renders UTC as +00:00 rather than Z.
const ISOLayout = "2006-01-02T15:04:05.999999-07:00"

var (
	ErrUnparsableDate = errors.New("unparsable date")
	ErrInvalidJSONLD  = errors.New("invalid json-ld block")
)

const (
	SourceExtractor = "extractor"
	SourceMeta      = "meta"
	SourceTime      = "time"
	SourceJSONLD    = "jsonld"
)

type metaTag struct {
	attr  string
	value string
}

var publishMetaTags = []metaTag{
	{"property", "article:published_time"},
	{"property", "og:published_time"},
	{"name", "publishdate"},
	{"name", "publish_date"},
	{"name", "date"},
	{"property", "og:article:published_time"},
	{"name", "article.published"},
	{"itemprop", "datePublished"},
	{"name", "publication_date"},
}

var updateMetaTags = []metaTag{
	{"property", "article:modified_time"},
	{"name", "last-modified"},
	{"property", "og:updated_time"},
	{"name", "updated_time"},
	{"property", "og:article:modified_time"},
	{"name", "article.updated"},
	{"itemprop", "dateModified"},
	{"name", "lastmod"},
}

// Skip records a candidate that was found but could not be used.
type Skip struct {
	Source string
	Raw    string
	Err    error
}

type Resolution struct {
	Found   bool
	Value   time.Time
	Source  string
	Detail  string
	Skipped []Skip
}

func (r Resolution) ISO() string {
	if !r.Found {
		return ""
	}
	return r.Value.Format(ISOLayout)
}

type candidate struct {
	source string
	detail string
	raw    string
}

// strategy yields the candidates of one date source in priority order.
type strategy func(doc *goquery.Document) ([]candidate, []Skip)

type Resolver struct {
	logger  *slog.Logger
	publish []strategy
	update  []strategy
}

func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger: logger,
		publish: []strategy{
			metaStrategy(publishMetaTags),
			timeTagStrategy,
			jsonLDStrategy("datePublished"),
		},
		update: []strategy{
			metaStrategy(updateMetaTags),
			jsonLDStrategy("dateModified"),
		},
	}
}

// Publish resolves the publish date. A non-nil known date (from the article
// extractor) wins over anything found in the markup.
func (r *Resolver) Publish(doc *goquery.Document, known *time.Time) Resolution {
	if known != nil && !known.IsZero() {
		return Resolution{Found: true, Value: *known, Source: SourceExtractor}
	}
	return r.run(doc, r.publish, "publish")
}

func (r *Resolver) Update(doc *goquery.Document) Resolution {
	return r.run(doc, r.update, "update")
}

func (r *Resolver) run(doc *goquery.Document, strategies []strategy, kind string) Resolution {
	var res Resolution
	if doc == nil {
		return res
	}

	for _, next := range strategies {
		candidates, skipped := next(doc)
		res.Skipped = append(res.Skipped, skipped...)

		for _, c := range candidates {
			t, err := ParseDate(c.raw)
			if err != nil {
				res.Skipped = append(res.Skipped, Skip{Source: c.source, Raw: c.raw, Err: err})
				continue
			}
			res.Found = true
			res.Value = t
			res.Source = c.source
			res.Detail = c.detail
			break
		}
		if res.Found {
			break
		}
	}

	for _, s := range res.Skipped {
		r.logger.Debug("Date candidate skipped", "kind", kind, "source", s.Source, "raw", s.Raw, "error", s.Err)
	}
	return res
}

func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrUnparsableDate)
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrUnparsableDate, raw, err)
	}
	// dateparse accepts values without a year and leaves it at zero.
	if t.Year() == 0 {
		return time.Time{}, fmt.Errorf("%w: %q: no year", ErrUnparsableDate, raw)
	}
	return t, nil
}

func metaStrategy(tags []metaTag) strategy {
	return func(doc *goquery.Document) ([]candidate, []Skip) {
		var out []candidate
		for _, tag := range tags {
			sel := doc.Find(fmt.Sprintf("meta[%s=%q]", tag.attr, tag.value)).First()
			content, ok := sel.Attr("content")
			if !ok || strings.TrimSpace(content) == "" {
				continue
			}
			out = append(out, candidate{
				source: SourceMeta,
				detail: tag.attr + "=" + tag.value,
				raw:    content,
			})
		}
		return out, nil
	}
}

func timeTagStrategy(doc *goquery.Document) ([]candidate, []Skip) {
	var out []candidate
	doc.Find("time[datetime]").Each(func(i int, s *goquery.Selection) {
		value, _ := s.Attr("datetime")
		if strings.TrimSpace(value) == "" {
			return
		}
		out = append(out, candidate{source: SourceTime, detail: "datetime", raw: value})
	})
	return out, nil
}

func jsonLDStrategy(field string) strategy {
	return func(doc *goquery.Document) ([]candidate, []Skip) {
		var out []candidate
		var skipped []Skip

		doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
			body := strings.TrimSpace(s.Text())
			var data any
			if err := json.Unmarshal([]byte(body), &data); err != nil {
				skipped = append(skipped, Skip{
					Source: SourceJSONLD,
					Raw:    truncate(body, 120),
					Err:    fmt.Errorf("%w: %v", ErrInvalidJSONLD, err),
				})
				return
			}
			found, bad := collectField(data, field)
			out = append(out, found...)
			skipped = append(skipped, bad...)
		})

		return out, skipped
	}
}

func collectField(data any, field string) ([]candidate, []Skip) {
	var out []candidate
	var skipped []Skip

	add := func(obj map[string]any) {
		v, ok := obj[field]
		if !ok {
			return
		}
		str, ok := v.(string)
		if !ok {
			skipped = append(skipped, Skip{
				Source: SourceJSONLD,
				Raw:    fmt.Sprint(v),
				Err:    fmt.Errorf("%w: %s is not a string", ErrUnparsableDate, field),
			})
			return
		}
		out = append(out, candidate{source: SourceJSONLD, detail: field, raw: str})
	}

	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				add(obj)
			}
		}
	case map[string]any:
		add(v)
		if graph, ok := v["@graph"].([]any); ok {
			for _, item := range graph {
				if obj, ok := item.(map[string]any); ok {
					add(obj)
				}
			}
		}
	}

	return out, skipped
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
