package blogger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"link_grader/internal/config"
	"link_grader/internal/models"

	"google.golang.org/api/blogger/v3"
	"google.golang.org/api/option"
)

// Source lists the posts of a blog in publication order.
type Source interface {
	Posts(ctx context.Context, blogID string) ([]models.Post, error)
}

type Client struct {
	service  *blogger.Service
	pageSize int
	logger   *slog.Logger
}

func NewClient(ctx context.Context, cfg config.BloggerConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := blogger.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create blogger service: %w", err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}

	return &Client{service: service, pageSize: pageSize, logger: logger}, nil
}

func (c *Client) GetBlog(ctx context.Context, blogID string) (*models.Blog, error) {
	blog, err := c.service.Blogs.Get(blogID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blog info: %w", err)
	}
	return toBlog(blog), nil
}

func (c *Client) GetBlogByURL(ctx context.Context, url string) (*models.Blog, error) {
	blog, err := c.service.Blogs.GetByUrl(url).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blog by url: %w", err)
	}
	return toBlog(blog), nil
}

// ListPosts returns a single page of posts. orderBy is "published" or "updated".
func (c *Client) ListPosts(ctx context.Context, blogID string, maxResults int, orderBy string) ([]models.Post, error) {
	call := c.service.Posts.List(blogID).Context(ctx).MaxResults(int64(maxResults))
	if orderBy != "" {
		call = call.OrderBy(orderBy)
	}

	list, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posts: %w", err)
	}
	return toPosts(blogID, list.Items), nil
}

func (c *Client) GetPost(ctx context.Context, blogID, postID string) (*models.Post, error) {
	post, err := c.service.Posts.Get(blogID, postID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch post: %w", err)
	}
	p := toPost(blogID, post)
	return &p, nil
}

// SearchPosts runs a full text search. The API has no page size for search,
// so results past maxResults are dropped here.
func (c *Client) SearchPosts(ctx context.Context, blogID, query string, maxResults int) ([]models.Post, error) {
	list, err := c.service.Posts.Search(blogID, query).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to search posts: %w", err)
	}

	items := list.Items
	if maxResults > 0 && len(items) > maxResults {
		items = items[:maxResults]
	}
	return toPosts(blogID, items), nil
}

// GetAllPosts follows nextPageToken until the last page.
func (c *Client) GetAllPosts(ctx context.Context, blogID string) ([]models.Post, error) {
	var all []models.Post
	pageToken := ""

	for {
		call := c.service.Posts.List(blogID).Context(ctx).MaxResults(int64(c.pageSize))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch all posts: %w", err)
		}

		all = append(all, toPosts(blogID, list.Items)...)
		c.logger.Debug("Fetched posts page", "blog_id", blogID, "items", len(list.Items), "total", len(all))

		pageToken = list.NextPageToken
		if pageToken == "" {
			break
		}
	}

	c.logger.Info("Fetched all posts", "blog_id", blogID, "count", len(all))
	return all, nil
}

func (c *Client) Posts(ctx context.Context, blogID string) ([]models.Post, error) {
	return c.GetAllPosts(ctx, blogID)
}

func toBlog(b *blogger.Blog) *models.Blog {
	blog := &models.Blog{
		ID:          b.Id,
		Name:        b.Name,
		Description: b.Description,
		URL:         b.Url,
		Published:   b.Published,
		Updated:     b.Updated,
	}
	if b.Posts != nil {
		blog.TotalPosts = b.Posts.TotalItems
	}
	return blog
}

func toPosts(blogID string, items []*blogger.Post) []models.Post {
	posts := make([]models.Post, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		posts = append(posts, toPost(blogID, item))
	}
	return posts
}

func toPost(blogID string, p *blogger.Post) models.Post {
	if p.Blog != nil && p.Blog.Id != "" {
		blogID = p.Blog.Id
	}
	return models.Post{
		ID:        p.Id,
		BlogID:    blogID,
		Title:     p.Title,
		URL:       p.Url,
		Published: p.Published,
		Updated:   p.Updated,
		Content:   p.Content,
		Labels:    p.Labels,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
