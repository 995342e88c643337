package crawler

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Strategy selects the concurrency model driving the crawl loop.
type Strategy string

// Supported crawl strategies. All three share the same externally
// observable contract; only wall-clock throughput differs.
const (
	StrategySequential Strategy = "sequential"
	StrategyPool       Strategy = "pool"
	StrategyAsync      Strategy = "async"
)

// Selectors is the declarative extraction configuration applied to every
// fetched page.
type Selectors struct {
	Content string `mapstructure:"content"`
	Title   string `mapstructure:"title"`
	Code    string `mapstructure:"code"`
}

// CategoryRule maps a category label to its scoring keywords. Declaration
// order breaks ties, so rules are a slice, not a map.
type CategoryRule struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
}

// ChunkingConfig controls the size-aware document splitter.
type ChunkingConfig struct {
	MaxTokens            int     `mapstructure:"max_tokens"`
	OverlapRatio         float64 `mapstructure:"overlap_ratio"`
	PreserveCode         bool    `mapstructure:"preserve_code"`
	SparseBoundaryFactor float64 `mapstructure:"sparse_boundary_factor"`
}

// RenderConfig controls the optional headless rendering fallback.
type RenderConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	DomainQPS      float64       `mapstructure:"domain_qps"`
}

// CheckpointConfig selects the durable store and snapshot cadence.
type CheckpointConfig struct {
	Interval int    `mapstructure:"interval"`
	Backend  string `mapstructure:"backend"` // file, postgres, gcs
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Bucket   string `mapstructure:"bucket"`
	Object   string `mapstructure:"object"`
}

// Config captures every configuration knob that influences a crawl run.
// All values originate from Viper so the crawler can be configured via
// files, env vars, or CLI flags.
type Config struct {
	Seeds           []string
	UserAgent       string
	RespectRobots   bool
	Strategy        Strategy
	Concurrency     int
	RateInterval    time.Duration
	RequestTimeout  time.Duration
	MaxRetries      int
	MaxPages        int
	MaxPageBytes    int64
	IncludePatterns []*regexp.Regexp
	ExcludePatterns []*regexp.Regexp
	BlockedDomains  []string
	Selectors       Selectors
	Categories      []CategoryRule
	Chunking        ChunkingConfig
	Render          RenderConfig
	Checkpoint      CheckpointConfig
	OutputDir       string
}

// LoadConfig constructs a Config by reading from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Seeds:          v.GetStringSlice("crawler.seeds"),
		UserAgent:      v.GetString("crawler.user_agent"),
		RespectRobots:  v.GetBool("crawler.respect_robots"),
		Strategy:       Strategy(strings.ToLower(v.GetString("crawler.strategy"))),
		Concurrency:    v.GetInt("crawler.concurrency"),
		RateInterval:   v.GetDuration("crawler.rate_interval"),
		RequestTimeout: v.GetDuration("crawler.request_timeout"),
		MaxRetries:     v.GetInt("crawler.max_retries"),
		MaxPages:       v.GetInt("crawler.max_pages"),
		MaxPageBytes:   v.GetInt64("crawler.max_page_bytes"),
		BlockedDomains: v.GetStringSlice("crawler.blocked_domains"),
		OutputDir:      v.GetString("crawler.output_dir"),
	}

	var err error
	if cfg.IncludePatterns, err = compilePatterns(v.GetStringSlice("crawler.include_patterns")); err != nil {
		return Config{}, fmt.Errorf("crawler.include_patterns: %w", err)
	}
	if cfg.ExcludePatterns, err = compilePatterns(v.GetStringSlice("crawler.exclude_patterns")); err != nil {
		return Config{}, fmt.Errorf("crawler.exclude_patterns: %w", err)
	}

	if err := v.UnmarshalKey("selectors", &cfg.Selectors); err != nil {
		return Config{}, fmt.Errorf("decode selectors: %w", err)
	}
	if err := v.UnmarshalKey("categories", &cfg.Categories); err != nil {
		return Config{}, fmt.Errorf("decode categories: %w", err)
	}
	if err := v.UnmarshalKey("chunking", &cfg.Chunking); err != nil {
		return Config{}, fmt.Errorf("decode chunking: %w", err)
	}
	if err := v.UnmarshalKey("render", &cfg.Render); err != nil {
		return Config{}, fmt.Errorf("decode render: %w", err)
	}
	if err := v.UnmarshalKey("checkpoint", &cfg.Checkpoint); err != nil {
		return Config{}, fmt.Errorf("decode checkpoint: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations. A
// contradiction here aborts the crawl before it starts.
func (c Config) Validate() error {
	if len(c.Seeds) == 0 {
		return fmt.Errorf("crawler.seeds must include at least one URL")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	switch c.Strategy {
	case StrategySequential, StrategyPool, StrategyAsync:
	default:
		return fmt.Errorf("crawler.strategy must be one of sequential, pool, async; got %q", c.Strategy)
	}
	if c.Strategy != StrategySequential && c.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0 for the %s strategy", c.Strategy)
	}
	if c.RateInterval < 0 {
		return fmt.Errorf("crawler.rate_interval must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.Selectors.Content == "" {
		return fmt.Errorf("selectors.content must be set")
	}
	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be > 0")
	}
	if c.Chunking.OverlapRatio < 0 || c.Chunking.OverlapRatio >= 1 {
		return fmt.Errorf("chunking.overlap_ratio must be in [0, 1)")
	}
	if c.Checkpoint.Interval < 0 {
		return fmt.Errorf("checkpoint.interval must be >= 0")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("crawler.output_dir must be set")
	}
	return nil
}

func compilePatterns(raw []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, expr := range raw {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", expr, err)
		}
		out = append(out, re)
	}
	return out, nil
}
