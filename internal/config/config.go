package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultCSVPath      = "results/llm_grade_results.csv"
	DefaultJudgeModel   = "gemini-2.5-flash-lite"
	DefaultTemperature  = 0.5
	DefaultMaxTokens    = 8192
	DefaultPageSize     = 3
	DefaultUserAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	DefaultOllamaURL    = "http://localhost:11434"
	DefaultMaxHops      = 15
	DefaultTimeoutSec   = 10
	DefaultContentChars = 20000
)

var (
	ErrNoBlogs                  = errors.New("at least one blog is required")
	ErrBlogMissingPerson        = errors.New("person is required")
	ErrBlogMissingID            = errors.New("blog_id or feed_url is required")
	ErrInvalidSourceKind        = errors.New("source.kind must be 'blogger' or 'feed'")
	ErrMissingAPIKey            = errors.New("blogger api key is required for the blogger source")
	ErrInvalidEngine            = errors.New("scraper.engine must be 'http' or 'colly'")
	ErrInvalidMaxAttempts       = errors.New("scraper.retry.max_attempts must be at least 1")
	ErrInvalidBackoffMultiplier = errors.New("scraper.retry.backoff_multiplier must be >= 1.0")
	ErrUnknownModel             = errors.New("judge.model is not defined in models")
	ErrUnknownProvider          = errors.New("model provider must be 'gemini' or 'ollama'")
	ErrInvalidTemperature       = errors.New("model temperature must be between 0 and 2")
	ErrInvalidSQLDriver         = errors.New("output.sql.driver must be 'sqlite' or 'postgres'")
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidExcludePattern    = errors.New("links.exclude_patterns entry is not a valid regex")
	ErrInvalidTarget            = errors.New("blog target must look like person=blog_id")
)

type BlogTarget struct {
	Person  string `yaml:"person"`
	BlogID  string `yaml:"blog_id"`
	FeedURL string `yaml:"feed_url"`
}

type SourceConfig struct {
	Kind string `yaml:"kind"`
}

type BloggerConfig struct {
	APIKey   string `yaml:"api_key"`
	PageSize int    `yaml:"page_size"`
	Endpoint string `yaml:"endpoint"`
}

type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

type ScraperConfig struct {
	Engine          string      `yaml:"engine"`
	UserAgent       string      `yaml:"user_agent"`
	Referer         string      `yaml:"referer"`
	TimeoutSec      int         `yaml:"timeout_sec"`
	MaxHops         int         `yaml:"max_hops"`
	IgnoreRobots    bool        `yaml:"ignore_robots"`
	MaxContentChars int         `yaml:"max_content_chars"`
	Retry           RetryPolicy `yaml:"retry"`
}

type LinksConfig struct {
	ImageExtensions  []string `yaml:"image_extensions"`
	ImageHostMarkers []string `yaml:"image_host_markers"`
	ExcludePatterns  []string `yaml:"exclude_patterns"`
	Dedupe           bool     `yaml:"dedupe"`
}

type ModelConfig struct {
	Provider    string   `yaml:"provider"`
	ModelName   string   `yaml:"model_name"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	BaseURL     string   `yaml:"base_url"`
}

type JudgeConfig struct {
	Model             string `yaml:"model"`
	ModelConfig       string `yaml:"model_config"`
	APIKey            string `yaml:"api_key"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type SQLConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type OutputConfig struct {
	CSVPath     string    `yaml:"csv_path"`
	DocxPath    string    `yaml:"docx_path"`
	SummaryPath string    `yaml:"summary_path"`
	SQL         SQLConfig `yaml:"sql"`
	S3          S3Config  `yaml:"s3"`
}

type DBConfig struct {
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	Collections struct {
		Articles    string `yaml:"articles"`
		Evaluations string `yaml:"evaluations"`
	} `yaml:"collections"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type GraderConfig struct {
	Blogs   []BlogTarget           `yaml:"blogs"`
	Source  SourceConfig           `yaml:"source"`
	Blogger BloggerConfig          `yaml:"blogger"`
	Scraper ScraperConfig          `yaml:"scraper"`
	Links   LinksConfig            `yaml:"links"`
	Judge   JudgeConfig            `yaml:"judge"`
	Models  map[string]ModelConfig `yaml:"models"`
	Output  OutputConfig           `yaml:"output"`
	DB      DBConfig               `yaml:"db"`
	Logging LoggingConfig          `yaml:"logging"`
	Metrics MetricsConfig          `yaml:"metrics"`
}

type modelFile struct {
	Models map[string]ModelConfig `yaml:"models"`
}

// LoadConfig reads the YAML file, expanding ${VAR} references from the
// environment, and fills in defaults. Validation is left to the caller so
// command line overrides can be applied first.
func LoadConfig(path string) (*GraderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg GraderConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Judge.ModelConfig != "" {
		models, err := LoadModelConfig(cfg.Judge.ModelConfig)
		if err != nil {
			return nil, err
		}
		if cfg.Models == nil {
			cfg.Models = map[string]ModelConfig{}
		}
		for name, m := range models {
			if _, ok := cfg.Models[name]; !ok {
				cfg.Models[name] = m
			}
		}
	}

	cfg.SetDefaults()
	return &cfg, nil
}

func LoadModelConfig(path string) (map[string]ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model config: %w", err)
	}

	var mf modelFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse model config: %w", err)
	}
	return mf.Models, nil
}

func (c *GraderConfig) SetDefaults() {
	if c.Source.Kind == "" {
		c.Source.Kind = "blogger"
	}
	if c.Blogger.PageSize <= 0 {
		c.Blogger.PageSize = DefaultPageSize
	}

	s := &c.Scraper
	if s.Engine == "" {
		s.Engine = "http"
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
	if s.TimeoutSec <= 0 {
		s.TimeoutSec = DefaultTimeoutSec
	}
	if s.MaxHops <= 0 {
		s.MaxHops = DefaultMaxHops
	}
	if s.MaxContentChars <= 0 {
		s.MaxContentChars = DefaultContentChars
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = 3
	}
	if s.Retry.InitialDelayMs == 0 {
		s.Retry.InitialDelayMs = 500
	}
	if s.Retry.MaxDelayMs == 0 {
		s.Retry.MaxDelayMs = 5000
	}
	if s.Retry.BackoffMultiplier == 0 {
		s.Retry.BackoffMultiplier = 2
	}

	if c.Judge.Model == "" {
		c.Judge.Model = DefaultJudgeModel
	}
	if c.Judge.RequestTimeoutSec <= 0 {
		c.Judge.RequestTimeoutSec = 120
	}
	if len(c.Models) == 0 {
		c.Models = map[string]ModelConfig{
			DefaultJudgeModel: {Provider: "gemini", ModelName: DefaultJudgeModel},
		}
	}
	for name, m := range c.Models {
		c.Models[name] = m.withDefaults()
	}

	if c.Output.CSVPath == "" {
		c.Output.CSVPath = DefaultCSVPath
	}
	if c.Output.SQL.DSN != "" && c.Output.SQL.Driver == "" {
		c.Output.SQL.Driver = "sqlite"
	}
	if c.Output.S3.Region == "" {
		c.Output.S3.Region = "us-east-1"
	}

	if c.DB.Database == "" {
		c.DB.Database = "link_grader"
	}
	if c.DB.Collections.Articles == "" {
		c.DB.Collections.Articles = "articles"
	}
	if c.DB.Collections.Evaluations == "" {
		c.DB.Collections.Evaluations = "evaluations"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (m ModelConfig) withDefaults() ModelConfig {
	m.Provider = NormalizeProvider(m.Provider)
	if m.Temperature == nil {
		t := DefaultTemperature
		m.Temperature = &t
	}
	if m.MaxTokens <= 0 {
		m.MaxTokens = DefaultMaxTokens
	}
	if m.Provider == "ollama" && m.BaseURL == "" {
		m.BaseURL = DefaultOllamaURL
	}
	return m
}

// NormalizeProvider maps provider aliases onto the supported judge backends.
func NormalizeProvider(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "", "gemini", "google", "google-gla", "google-genai":
		return "gemini"
	default:
		return strings.ToLower(strings.TrimSpace(p))
	}
}

func (c *GraderConfig) Validate() error {
	if len(c.Blogs) == 0 {
		return ErrNoBlogs
	}
	for i, b := range c.Blogs {
		if b.Person == "" {
			return fmt.Errorf("%w: blogs[%d]", ErrBlogMissingPerson, i)
		}
		if b.BlogID == "" && b.FeedURL == "" {
			return fmt.Errorf("%w: blogs[%d]", ErrBlogMissingID, i)
		}
	}

	switch c.Source.Kind {
	case "blogger":
		if c.Blogger.APIKey == "" {
			return ErrMissingAPIKey
		}
	case "feed":
	default:
		return ErrInvalidSourceKind
	}

	if c.Scraper.Engine != "http" && c.Scraper.Engine != "colly" {
		return ErrInvalidEngine
	}
	if c.Scraper.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if c.Scraper.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	model, ok := c.Models[c.Judge.Model]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, c.Judge.Model)
	}
	if model.Provider != "gemini" && model.Provider != "ollama" {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, model.Provider)
	}
	if t := *model.Temperature; t < 0 || t > 2 {
		return ErrInvalidTemperature
	}

	if c.Output.SQL.DSN != "" && c.Output.SQL.Driver != "sqlite" && c.Output.SQL.Driver != "postgres" {
		return ErrInvalidSQLDriver
	}

	for _, p := range c.Links.ExcludePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidExcludePattern, p, err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return ErrInvalidLogLevel
	}

	return nil
}

// ParseTargets reads person=blog_id pairs from the command line. A value
// starting with http(s):// is taken as a feed URL.
func ParseTargets(args []string) ([]BlogTarget, error) {
	targets := make([]BlogTarget, 0, len(args))
	for _, arg := range args {
		person, ref, ok := strings.Cut(arg, "=")
		person, ref = strings.TrimSpace(person), strings.TrimSpace(ref)
		if !ok || person == "" || ref == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, arg)
		}

		t := BlogTarget{Person: person}
		if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
			t.FeedURL = ref
		} else {
			t.BlogID = ref
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// JudgeModel returns the model entry selected by judge.model.
func (c *GraderConfig) JudgeModel() (ModelConfig, error) {
	m, ok := c.Models[c.Judge.Model]
	if !ok {
		return ModelConfig{}, fmt.Errorf("%w: %s", ErrUnknownModel, c.Judge.Model)
	}
	return m, nil
}

// GetRetryDelay calculates exponential backoff delay for attempt number.
func (rp RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 2; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	if rp.MaxDelayMs > 0 && int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

func (s ScraperConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

func (j JudgeConfig) Timeout() time.Duration {
	return time.Duration(j.RequestTimeoutSec) * time.Second
}
