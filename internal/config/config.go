// Package config loads and validates the pipeline configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

//go:embed sample.yaml
var sampleConfig string

// LoggingConfig controls the process-wide slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ColumnConfig names the table columns the pipeline reads and the reserved
// columns it writes. Nothing in the pipeline hard-codes a header.
type ColumnConfig struct {
	Barcode     string `mapstructure:"barcode"`
	Identifier  string `mapstructure:"identifier"`
	Rating      string `mapstructure:"rating"`
	ReviewCount string `mapstructure:"review_count"`
	CallNumber  string `mapstructure:"call_number"`
	Status      string `mapstructure:"status"`
	SourceTags  string `mapstructure:"source_tags"`
	Candidate   string `mapstructure:"candidate"`
}

// Reserved returns the columns the pipeline owns and overwrites on save.
func (c ColumnConfig) Reserved() []string {
	return []string{c.Status, c.SourceTags, c.Candidate}
}

// SourceConfig points at the external metadata service.
type SourceConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CacheConfig locates the durable record cache.
type CacheConfig struct {
	Path string `mapstructure:"path"`
}

// ClassifierConfig drives cache-hit categorization.
type ClassifierConfig struct {
	// RequiredFields are the payload fields a cache entry must carry to
	// count as complete.
	RequiredFields []string `mapstructure:"required_fields"`
	// MaxAge is the refresh policy: entries fetched longer ago are stale.
	MaxAge time.Duration `mapstructure:"max_age"`
	// ForceRefresh treats every cache hit as stale.
	ForceRefresh bool `mapstructure:"force_refresh"`
}

// ResolverConfig gates the identifier-supplementation sub-flow.
type ResolverConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MinRows is the minimum number of resolvable rows before the resolver
	// is started at all; below it the fixed startup cost is not worth paying.
	MinRows int `mapstructure:"min_rows"`
}

// FetchConfig is the concurrency and politeness contract for the fetcher.
type FetchConfig struct {
	MaxConcurrent      int             `mapstructure:"max_concurrent"`
	QPS                float64         `mapstructure:"qps"`
	Timeout            time.Duration   `mapstructure:"timeout"`
	RetryMaxTimes      int             `mapstructure:"retry_max_times"`
	BackoffSchedule    []time.Duration `mapstructure:"backoff_schedule"`
	RandomDelayMin     time.Duration   `mapstructure:"random_delay_min"`
	RandomDelayMax     time.Duration   `mapstructure:"random_delay_max"`
	BatchCooldownEvery int             `mapstructure:"batch_cooldown_interval"`
	BatchCooldownMin   time.Duration   `mapstructure:"batch_cooldown_min"`
	BatchCooldownMax   time.Duration   `mapstructure:"batch_cooldown_max"`
	SaveInterval       int             `mapstructure:"save_interval"`
	ProgressBar        bool            `mapstructure:"progress_bar"`
}

// CheckpointConfig controls the resumable side-channel snapshot.
type CheckpointConfig struct {
	// Dir holds the checkpoint and run-lock files; empty means alongside
	// the input table.
	Dir string `mapstructure:"dir"`
	// MinInterval throttles unforced checkpoint writes.
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// RuleConfig is one auxiliary column-value check in file form.
type RuleConfig struct {
	Column  string `mapstructure:"column"`
	Kind    string `mapstructure:"kind"`
	Pattern string `mapstructure:"pattern"`
}

// FilterConfig parameterizes the threshold filter.
type FilterConfig struct {
	ReviewPercentileLow  float64            `mapstructure:"review_percentile_low"`
	ReviewPercentileHigh float64            `mapstructure:"review_percentile_high"`
	RatingPercentile     float64            `mapstructure:"rating_percentile"`
	MinSampleSize        int                `mapstructure:"min_sample_size"`
	DefaultFloor         float64            `mapstructure:"default_floor"`
	Floors               map[string]float64 `mapstructure:"floors"`
	Rules                []RuleConfig       `mapstructure:"rules"`
}

// FloorFor returns the rating floor for a group key, falling back to the
// default floor. Lookup is case-insensitive; viper lowercases config keys.
func (f FilterConfig) FloorFor(key string) float64 {
	if floor, ok := f.Floors[key]; ok {
		return floor
	}
	if floor, ok := f.Floors[strings.ToLower(key)]; ok {
		return floor
	}
	if floor, ok := f.Floors[strings.ToUpper(key)]; ok {
		return floor
	}
	return f.DefaultFloor
}

// Config is the full configuration surface.
type Config struct {
	Logging    LoggingConfig     `mapstructure:"logging"`
	Columns    ColumnConfig      `mapstructure:"columns"`
	Fields     map[string]string `mapstructure:"fields"`
	Source     SourceConfig      `mapstructure:"source"`
	Cache      CacheConfig       `mapstructure:"cache"`
	Classifier ClassifierConfig  `mapstructure:"classifier"`
	Resolver   ResolverConfig    `mapstructure:"resolver"`
	Fetch      FetchConfig       `mapstructure:"fetch"`
	Checkpoint CheckpointConfig  `mapstructure:"checkpoint"`
	Filter     FilterConfig      `mapstructure:"filter"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Columns: ColumnConfig{
			Barcode:     "barcode",
			Identifier:  "isbn",
			Rating:      "rating",
			ReviewCount: "rating_count",
			CallNumber:  "call_number",
			Status:      "status",
			SourceTags:  "sources",
			Candidate:   "candidate",
		},
		Fields: map[string]string{
			"title":        "title",
			"author":       "author",
			"publisher":    "publisher",
			"pubdate":      "pubdate",
			"rating":       "rating",
			"rating_count": "rating_count",
			"summary":      "summary",
		},
		Source: SourceConfig{
			UserAgent: "curator/1.0",
			Timeout:   15 * time.Second,
		},
		Cache: CacheConfig{Path: "curator-cache.db"},
		Classifier: ClassifierConfig{
			RequiredFields: []string{"title", "rating", "rating_count"},
			MaxAge:         180 * 24 * time.Hour,
		},
		Resolver: ResolverConfig{MinRows: 5},
		Fetch: FetchConfig{
			MaxConcurrent:      4,
			QPS:                1.0,
			Timeout:            15 * time.Second,
			RetryMaxTimes:      3,
			BackoffSchedule:    []time.Duration{time.Second, 3 * time.Second, 10 * time.Second},
			RandomDelayMin:     200 * time.Millisecond,
			RandomDelayMax:     800 * time.Millisecond,
			BatchCooldownEvery: 50,
			BatchCooldownMin:   5 * time.Second,
			BatchCooldownMax:   15 * time.Second,
			SaveInterval:       20,
			ProgressBar:        true,
		},
		Checkpoint: CheckpointConfig{MinInterval: 10 * time.Second},
		Filter: FilterConfig{
			ReviewPercentileLow:  40,
			ReviewPercentileHigh: 80,
			RatingPercentile:     75,
			MinSampleSize:        30,
			DefaultFloor:         7.0,
			Floors:               map[string]float64{},
		},
	}
}

// SetDefaults registers every default on a viper instance so partial config
// files only override what they name.
func SetDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	v.SetDefault("columns.barcode", def.Columns.Barcode)
	v.SetDefault("columns.identifier", def.Columns.Identifier)
	v.SetDefault("columns.rating", def.Columns.Rating)
	v.SetDefault("columns.review_count", def.Columns.ReviewCount)
	v.SetDefault("columns.call_number", def.Columns.CallNumber)
	v.SetDefault("columns.status", def.Columns.Status)
	v.SetDefault("columns.source_tags", def.Columns.SourceTags)
	v.SetDefault("columns.candidate", def.Columns.Candidate)

	v.SetDefault("fields", def.Fields)

	v.SetDefault("source.base_url", def.Source.BaseURL)
	v.SetDefault("source.api_key", def.Source.APIKey)
	v.SetDefault("source.user_agent", def.Source.UserAgent)
	v.SetDefault("source.timeout", def.Source.Timeout)

	v.SetDefault("cache.path", def.Cache.Path)

	v.SetDefault("classifier.required_fields", def.Classifier.RequiredFields)
	v.SetDefault("classifier.max_age", def.Classifier.MaxAge)
	v.SetDefault("classifier.force_refresh", def.Classifier.ForceRefresh)

	v.SetDefault("resolver.enabled", def.Resolver.Enabled)
	v.SetDefault("resolver.min_rows", def.Resolver.MinRows)

	v.SetDefault("fetch.max_concurrent", def.Fetch.MaxConcurrent)
	v.SetDefault("fetch.qps", def.Fetch.QPS)
	v.SetDefault("fetch.timeout", def.Fetch.Timeout)
	v.SetDefault("fetch.retry_max_times", def.Fetch.RetryMaxTimes)
	v.SetDefault("fetch.backoff_schedule", def.Fetch.BackoffSchedule)
	v.SetDefault("fetch.random_delay_min", def.Fetch.RandomDelayMin)
	v.SetDefault("fetch.random_delay_max", def.Fetch.RandomDelayMax)
	v.SetDefault("fetch.batch_cooldown_interval", def.Fetch.BatchCooldownEvery)
	v.SetDefault("fetch.batch_cooldown_min", def.Fetch.BatchCooldownMin)
	v.SetDefault("fetch.batch_cooldown_max", def.Fetch.BatchCooldownMax)
	v.SetDefault("fetch.save_interval", def.Fetch.SaveInterval)
	v.SetDefault("fetch.progress_bar", def.Fetch.ProgressBar)

	v.SetDefault("checkpoint.dir", def.Checkpoint.Dir)
	v.SetDefault("checkpoint.min_interval", def.Checkpoint.MinInterval)

	v.SetDefault("filter.review_percentile_low", def.Filter.ReviewPercentileLow)
	v.SetDefault("filter.review_percentile_high", def.Filter.ReviewPercentileHigh)
	v.SetDefault("filter.rating_percentile", def.Filter.RatingPercentile)
	v.SetDefault("filter.min_sample_size", def.Filter.MinSampleSize)
	v.SetDefault("filter.default_floor", def.Filter.DefaultFloor)
	v.SetDefault("filter.floors", def.Filter.Floors)
}

// Load unmarshals and validates the configuration held by a viper instance.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CreateSample writes the commented sample configuration to path, creating
// parent directories as needed.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}
	return nil
}

// Validate fails fast on configuration the pipeline cannot run with. It is
// the only place an unrecoverable error is allowed to originate before any
// row is processed.
func (c *Config) Validate() error {
	named := map[string]string{
		"columns.barcode":      c.Columns.Barcode,
		"columns.identifier":   c.Columns.Identifier,
		"columns.rating":       c.Columns.Rating,
		"columns.review_count": c.Columns.ReviewCount,
		"columns.call_number":  c.Columns.CallNumber,
		"columns.status":       c.Columns.Status,
		"columns.source_tags":  c.Columns.SourceTags,
		"columns.candidate":    c.Columns.Candidate,
	}
	for key, value := range named {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s", common.ErrMissingConfig, key)
		}
	}

	if len(c.Fields) == 0 {
		return fmt.Errorf("%w: fields mapping is empty", common.ErrMissingConfig)
	}
	for field, column := range c.Fields {
		if strings.TrimSpace(column) == "" {
			return fmt.Errorf("%w: fields.%s maps to an empty column", common.ErrInvalidConfig, field)
		}
	}

	if strings.TrimSpace(c.Cache.Path) == "" {
		return fmt.Errorf("%w: cache.path", common.ErrMissingConfig)
	}

	if len(c.Classifier.RequiredFields) == 0 {
		return fmt.Errorf("%w: classifier.required_fields", common.ErrMissingConfig)
	}
	if c.Classifier.MaxAge <= 0 {
		return fmt.Errorf("%w: classifier.max_age must be positive", common.ErrInvalidConfig)
	}

	if c.Fetch.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: fetch.max_concurrent must be positive", common.ErrInvalidConfig)
	}
	if c.Fetch.QPS <= 0 {
		return fmt.Errorf("%w: fetch.qps must be positive", common.ErrInvalidConfig)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("%w: fetch.timeout must be positive", common.ErrInvalidConfig)
	}
	if c.Fetch.RetryMaxTimes < 0 {
		return fmt.Errorf("%w: fetch.retry_max_times must not be negative", common.ErrInvalidConfig)
	}
	if c.Fetch.RandomDelayMin < 0 || c.Fetch.RandomDelayMax < c.Fetch.RandomDelayMin {
		return fmt.Errorf("%w: fetch random delay bounds", common.ErrInvalidConfig)
	}
	if c.Fetch.BatchCooldownEvery < 0 {
		return fmt.Errorf("%w: fetch.batch_cooldown_interval must not be negative", common.ErrInvalidConfig)
	}
	if c.Fetch.BatchCooldownMin < 0 || c.Fetch.BatchCooldownMax < c.Fetch.BatchCooldownMin {
		return fmt.Errorf("%w: fetch cooldown bounds", common.ErrInvalidConfig)
	}
	if c.Fetch.SaveInterval <= 0 {
		return fmt.Errorf("%w: fetch.save_interval must be positive", common.ErrInvalidConfig)
	}

	if c.Checkpoint.MinInterval < 0 {
		return fmt.Errorf("%w: checkpoint.min_interval must not be negative", common.ErrInvalidConfig)
	}

	f := c.Filter
	if f.ReviewPercentileLow < 0 || f.ReviewPercentileHigh > 100 ||
		f.ReviewPercentileLow >= f.ReviewPercentileHigh {
		return fmt.Errorf("%w: filter review percentile band [%v, %v]",
			common.ErrInvalidConfig, f.ReviewPercentileLow, f.ReviewPercentileHigh)
	}
	if f.RatingPercentile <= 0 || f.RatingPercentile > 100 {
		return fmt.Errorf("%w: filter.rating_percentile %v", common.ErrInvalidConfig, f.RatingPercentile)
	}
	if f.MinSampleSize < 1 {
		return fmt.Errorf("%w: filter.min_sample_size must be at least 1", common.ErrInvalidConfig)
	}
	if f.DefaultFloor < 0 {
		return fmt.Errorf("%w: filter.default_floor must not be negative", common.ErrInvalidConfig)
	}
	for key, floor := range f.Floors {
		if floor < 0 {
			return fmt.Errorf("%w: filter.floors[%s] must not be negative", common.ErrInvalidConfig, key)
		}
	}
	if _, err := c.CompileRules(); err != nil {
		return err
	}

	return nil
}

// CompileRules builds the auxiliary column rules, rejecting unknown kinds
// and malformed patterns.
func (c *Config) CompileRules() ([]model.ColumnRule, error) {
	rules := make([]model.ColumnRule, 0, len(c.Filter.Rules))
	for i, rc := range c.Filter.Rules {
		kind, err := model.ParseRuleKind(rc.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: filter.rules[%d]: %v", common.ErrInvalidConfig, i, err)
		}

		var rule model.ColumnRule
		switch kind {
		case model.RuleNonEmpty:
			rule, err = model.NewNonEmptyRule(rc.Column)
		case model.RuleRegex:
			rule, err = model.NewRegexRule(rc.Column, rc.Pattern)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: filter.rules[%d]: %v", common.ErrInvalidConfig, i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// RetryPolicy converts the fetch knobs into the retry helper's policy. One
// initial attempt plus retry_max_times retries.
func (c *Config) RetryPolicy() service.RetryPolicy {
	return service.RetryPolicy{
		MaxAttempts: c.Fetch.RetryMaxTimes + 1,
		Backoff:     c.Fetch.BackoffSchedule,
		JitterMin:   c.Fetch.RandomDelayMin,
		JitterMax:   c.Fetch.RandomDelayMax,
	}
}

// CheckpointDir resolves the checkpoint directory for a given input path.
func (c *Config) CheckpointDir(inputPath string) string {
	if strings.TrimSpace(c.Checkpoint.Dir) != "" {
		return ExpandPath(c.Checkpoint.Dir)
	}
	return filepath.Dir(inputPath)
}

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}
