package models

import "time"

const (
	MetricSourceCredibility           = "source_credibility"
	MetricRecencyAndCurrency          = "recency_and_currency"
	MetricAnchorTextQuality           = "anchor_text_quality"
	MetricTopicalRelevance            = "topical_relevance"
	MetricIntegrationPlacementQuality = "integration_placement_quality"
	MetricUserTrustEEATAlignment      = "user_trust_eeat_alignment"
	MetricContextualValueContribution = "contextual_value_contribution"
	MetricLinkNecessity               = "link_necessity"
)

// RubricMetrics lists the judged metrics in their canonical column order.
var RubricMetrics = []string{
	MetricSourceCredibility,
	MetricRecencyAndCurrency,
	MetricAnchorTextQuality,
	MetricTopicalRelevance,
	MetricIntegrationPlacementQuality,
	MetricUserTrustEEATAlignment,
	MetricContextualValueContribution,
	MetricLinkNecessity,
}

var MetricDescriptions = map[string]string{
	MetricSourceCredibility:           "Credibility of the source domain and content quality",
	MetricRecencyAndCurrency:          "Publication date recency from content metadata",
	MetricAnchorTextQuality:           "Quality and accuracy of anchor text relative to actual content",
	MetricTopicalRelevance:            "Relevance of linked content to article topic",
	MetricIntegrationPlacementQuality: "Natural integration and content support for placement",
	MetricUserTrustEEATAlignment:      "Source authority and expertise verified from content",
	MetricContextualValueContribution: "Actual informational value from the linked content",
	MetricLinkNecessity:               "Whether the link is necessary for the article",
}

type Blog struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Published   string `json:"published"`
	Updated     string `json:"updated"`
	TotalPosts  int64  `json:"total_posts"`
}

type Post struct {
	ID            string   `json:"id"`
	BlogID        string   `json:"blog_id"`
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Published     string   `json:"published"`
	Updated       string   `json:"updated"`
	Content       string   `json:"content"`
	Labels        []string `json:"labels,omitempty"`
	OutboundLinks []string `json:"outbound_links"`
}

type ExtractedArticle struct {
	Title     string
	Text      string
	HTML      string
	Excerpt   string
	Byline    string
	Published *time.Time
}

// ArticleRecord is the outcome of scraping one outbound link. Empty strings
// stand for absent values; Error is set when the scrape failed.
type ArticleRecord struct {
	URL           string   `bson:"url" json:"url"`
	NormalizedURL string   `bson:"normalized_url" json:"-"`
	PublishDate   string   `bson:"publish_date,omitempty" json:"publish_date,omitempty"`
	UpdateDate    string   `bson:"update_date,omitempty" json:"update_date,omitempty"`
	Content       string   `bson:"content,omitempty" json:"content,omitempty"`
	Title         string   `bson:"title,omitempty" json:"title,omitempty"`
	Authors       []string `bson:"authors" json:"authors"`
	ContentHash   string   `bson:"content_hash,omitempty" json:"-"`
	StatusCode    int      `bson:"status_code" json:"-"`
	ScrapedAt     int64    `bson:"scraped_at" json:"-"`
	Error         string   `bson:"error,omitempty" json:"error,omitempty"`
}

func (r ArticleRecord) Failed() bool {
	return r.Error != ""
}

type MetricScore struct {
	Score         int    `json:"score" bson:"score"`
	Justification string `json:"justification" bson:"justification"`
}

type JudgeOutput struct {
	LinkURL      string                 `json:"link_url" bson:"link_url"`
	Metrics      map[string]MetricScore `json:"metrics" bson:"metrics"`
	OverallScore float64                `json:"overall_score" bson:"overall_score"`
	Failure      string                 `json:"failure,omitempty" bson:"failure,omitempty"`
}

type BlogResult struct {
	Title string
	Links []JudgeOutput
}

type PersonResult struct {
	Person string
	Blogs  []BlogResult
}

// Results keeps persons and blogs in the order they were processed.
type Results []PersonResult

func (r Results) LinkCount() int {
	n := 0
	for _, p := range r {
		for _, b := range p.Blogs {
			n += len(b.Links)
		}
	}
	return n
}

type MetricCell struct {
	Name          string
	Score         int
	Justification string
}

type ResultRow struct {
	Person       string
	BlogTitle    string
	LinkURL      string
	OverallScore float64
	Metrics      []MetricCell
	JudgeError   string
}

type Evaluation struct {
	ID        string      `bson:"_id"`
	RunID     string      `bson:"run_id"`
	Person    string      `bson:"person"`
	BlogID    string      `bson:"blog_id"`
	BlogTitle string      `bson:"blog_title"`
	PostURL   string      `bson:"post_url"`
	Output    JudgeOutput `bson:"output"`
	CreatedAt int64       `bson:"created_at"`
}
