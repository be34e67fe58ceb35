package links

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var DefaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".webp", ".ico"}

// DefaultImageHostMarkers match the paths Blogger serves inline post images from.
var DefaultImageHostMarkers = []string{"/img/", ".bp.blogspot.com/"}

type Anchor struct {
	URL  string
	Text string
}

type Extractor struct {
	imageExtensions  []string
	imageHostMarkers []string
}

func NewExtractor(imageExtensions, imageHostMarkers []string) *Extractor {
	if len(imageExtensions) == 0 {
		imageExtensions = DefaultImageExtensions
	}
	if imageHostMarkers == nil {
		imageHostMarkers = DefaultImageHostMarkers
	}

	e := &Extractor{}
	for _, ext := range imageExtensions {
		e.imageExtensions = append(e.imageExtensions, strings.ToLower(ext))
	}
	for _, m := range imageHostMarkers {
		e.imageHostMarkers = append(e.imageHostMarkers, strings.ToLower(m))
	}
	return e
}

// Extract returns outbound links of a post body in document order.
// Repeated links are kept.
func (e *Extractor) Extract(rawHTML string) []string {
	anchors := e.Anchors(rawHTML)
	links := make([]string, 0, len(anchors))
	for _, a := range anchors {
		links = append(links, a.URL)
	}
	return links
}

func (e *Extractor) Anchors(rawHTML string) []Anchor {
	anchors := make([]Anchor, 0)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return anchors
	}

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if !isAbsoluteHTTP(href) || e.isImage(href) {
			return
		}
		anchors = append(anchors, Anchor{
			URL:  href,
			Text: strings.Join(strings.Fields(s.Text()), " "),
		})
	})

	return anchors
}

func isAbsoluteHTTP(href string) bool {
	lower := strings.ToLower(href)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	u, err := url.Parse(href)
	return err == nil && u.Host != ""
}

func (e *Extractor) isImage(href string) bool {
	lower := strings.ToLower(href)
	for _, marker := range e.imageHostMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	path := lower
	if u, err := url.Parse(href); err == nil {
		path = strings.ToLower(u.Path)
	}
	for _, ext := range e.imageExtensions {
		if strings.HasSuffix(path, ext) || strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
