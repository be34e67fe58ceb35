package blogger

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"link_grader/internal/models"

	"github.com/mmcdole/gofeed"
)

const (
	bloggerFeedURL = "https://www.blogger.com/feeds/%s/posts/default"
	feedPageSize   = 500
)

// FeedSource reads posts from a blog's Atom or RSS feed instead of the API.
// blogID may also be a full feed URL.
type FeedSource struct {
	client    *http.Client
	parser    *gofeed.Parser
	userAgent string
	pageSize  int
	logger    *slog.Logger
}

func NewFeedSource(client *http.Client, userAgent string, logger *slog.Logger) *FeedSource {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedSource{
		client:    client,
		parser:    gofeed.NewParser(),
		userAgent: userAgent,
		pageSize:  feedPageSize,
		logger:    logger,
	}
}

func FeedURL(blogID string) string {
	if strings.HasPrefix(blogID, "http://") || strings.HasPrefix(blogID, "https://") {
		return blogID
	}
	return fmt.Sprintf(bloggerFeedURL, blogID)
}

// Posts reads every post of the feed. Blogger feeds (a /feeds/ path) are
// paged with start-index and max-results; other feeds are read in one request.
func (s *FeedSource) Posts(ctx context.Context, blogID string) ([]models.Post, error) {
	feedURL := FeedURL(blogID)

	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed url %q: %w", feedURL, err)
	}
	if !strings.Contains(u.Path, "/feeds/") {
		feed, err := s.fetchFeed(ctx, feedURL)
		if err != nil {
			return nil, err
		}
		posts := make([]models.Post, 0, len(feed.Items))
		for _, item := range feed.Items {
			posts = append(posts, s.toPost(blogID, item))
		}
		s.logger.Info("Parsed feed", "feed", feedURL, "title", feed.Title, "count", len(posts))
		return posts, nil
	}

	var posts []models.Post
	seen := map[string]bool{}
	for start := 1; ; {
		feed, err := s.fetchFeed(ctx, pageURL(u, start, s.pageSize))
		if err != nil {
			return nil, err
		}

		added := 0
		for _, item := range feed.Items {
			p := s.toPost(blogID, item)
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			posts = append(posts, p)
			added++
		}
		s.logger.Debug("Parsed feed page", "feed", feedURL, "start_index", start, "count", len(feed.Items))

		// a server ignoring start-index keeps returning the same items
		if added == 0 || len(feed.Items) < s.pageSize {
			break
		}
		start += len(feed.Items)
	}

	s.logger.Info("Parsed feed", "feed", feedURL, "count", len(posts))
	return posts, nil
}

func pageURL(u *url.URL, start, size int) string {
	page := *u
	q := page.Query()
	q.Set("start-index", strconv.Itoa(start))
	q.Set("max-results", strconv.Itoa(size))
	page.RawQuery = q.Encode()
	return page.String()
}

func (s *FeedSource) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch feed: HTTP %d", resp.StatusCode)
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return feed, nil
}

func (s *FeedSource) toPost(blogID string, item *gofeed.Item) models.Post {
	content := item.Content
	if content == "" {
		content = item.Description
	}
	return models.Post{
		ID:        coalesce(item.GUID, item.Link),
		BlogID:    blogID,
		Title:     strings.TrimSpace(item.Title),
		URL:       strings.TrimSpace(item.Link),
		Published: formatTime(item.PublishedParsed),
		Updated:   formatTime(item.UpdatedParsed),
		Content:   content,
		Labels:    item.Categories,
	}
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
