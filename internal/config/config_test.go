package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Fetch.MaxConcurrent)
	assert.Equal(t, 3, cfg.Fetch.RetryMaxTimes)
	assert.Equal(t, 30, cfg.Filter.MinSampleSize)
	assert.NotEmpty(t, cfg.Classifier.RequiredFields)
}

func TestLoadOverridesDefaults(t *testing.T) {
	yaml := `
logging:
  level: debug
source:
  base_url: https://books.example.com/api
  timeout: 5s
fetch:
  max_concurrent: 2
  qps: 0.5
  backoff_schedule: [500ms, 2s]
  batch_cooldown_interval: 10
classifier:
  max_age: 720h
  required_fields: [title]
filter:
  floors:
    H: 7.5
  rules:
    - column: holdings
      kind: regex
      pattern: '^[0-9]+$'
`
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "https://books.example.com/api", cfg.Source.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 2, cfg.Fetch.MaxConcurrent)
	assert.InDelta(t, 0.5, cfg.Fetch.QPS, 1e-9)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 2 * time.Second}, cfg.Fetch.BackoffSchedule)
	assert.Equal(t, 10, cfg.Fetch.BatchCooldownEvery)
	assert.Equal(t, 720*time.Hour, cfg.Classifier.MaxAge)
	assert.Equal(t, []string{"title"}, cfg.Classifier.RequiredFields)
	assert.InDelta(t, 7.5, cfg.Filter.FloorFor("H"), 1e-9)
	assert.InDelta(t, cfg.Filter.DefaultFloor, cfg.Filter.FloorFor("Z"), 1e-9)
	require.Len(t, cfg.Filter.Rules, 1)
	assert.Equal(t, "holdings", cfg.Filter.Rules[0].Column)

	// Defaults survive where the file is silent.
	assert.Equal(t, "barcode", cfg.Columns.Barcode)
	assert.Equal(t, 20, cfg.Fetch.SaveInterval)
}

func TestCreateSampleWritesParseableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "curator.yaml")
	require.NoError(t, CreateSample(path))

	v := viper.New()
	v.SetConfigFile(path)
	SetDefaults(v)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	// The sample documents the defaults; the two must not drift apart.
	assert.Equal(t, Default(), cfg)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "empty barcode column",
			mutate:  func(c *Config) { c.Columns.Barcode = " " },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "empty fields mapping",
			mutate:  func(c *Config) { c.Fields = nil },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "field mapped to blank column",
			mutate:  func(c *Config) { c.Fields["title"] = "" },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "empty cache path",
			mutate:  func(c *Config) { c.Cache.Path = "" },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "no required fields",
			mutate:  func(c *Config) { c.Classifier.RequiredFields = nil },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "non-positive max age",
			mutate:  func(c *Config) { c.Classifier.MaxAge = 0 },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Fetch.MaxConcurrent = 0 },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "negative qps",
			mutate:  func(c *Config) { c.Fetch.QPS = -1 },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Fetch.RetryMaxTimes = -1 },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "inverted jitter bounds",
			mutate:  func(c *Config) { c.Fetch.RandomDelayMin = time.Second; c.Fetch.RandomDelayMax = 0 },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "inverted cooldown bounds",
			mutate:  func(c *Config) { c.Fetch.BatchCooldownMin = time.Minute; c.Fetch.BatchCooldownMax = time.Second },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "zero save interval",
			mutate:  func(c *Config) { c.Fetch.SaveInterval = 0 },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name: "inverted review band",
			mutate: func(c *Config) {
				c.Filter.ReviewPercentileLow = 90
				c.Filter.ReviewPercentileHigh = 40
			},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "rating percentile above 100",
			mutate:  func(c *Config) { c.Filter.RatingPercentile = 101 },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "zero sample size",
			mutate:  func(c *Config) { c.Filter.MinSampleSize = 0 },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "negative floor",
			mutate:  func(c *Config) { c.Filter.Floors = map[string]float64{"H": -1} },
			wantErr: common.ErrInvalidConfig,
		},
		{
			name: "rule with unknown kind",
			mutate: func(c *Config) {
				c.Filter.Rules = []RuleConfig{{Column: "x", Kind: "fuzzy"}}
			},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name: "rule with broken pattern",
			mutate: func(c *Config) {
				c.Filter.Rules = []RuleConfig{{Column: "x", Kind: "regex", Pattern: "("}}
			},
			wantErr: common.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCompileRules(t *testing.T) {
	cfg := Default()
	cfg.Filter.Rules = []RuleConfig{
		{Column: "location", Kind: "nonempty"},
		{Column: "holdings", Kind: "regex", Pattern: `^\d+$`},
	}

	rules, err := cfg.CompileRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.True(t, rules[1].Matches("42"))
	assert.False(t, rules[1].Matches("n/a"))
}

func TestRetryPolicyAttempts(t *testing.T) {
	cfg := Default()
	cfg.Fetch.RetryMaxTimes = 2

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, cfg.Fetch.BackoffSchedule, policy.Backoff)
}

func TestCheckpointDir(t *testing.T) {
	cfg := Default()

	input := filepath.Join("data", "catalog.csv")
	assert.Equal(t, "data", cfg.CheckpointDir(input))

	cfg.Checkpoint.Dir = filepath.Join("var", "checkpoints")
	assert.Equal(t, filepath.Join("var", "checkpoints"), cfg.CheckpointDir(input))
}

func TestExpandPath(t *testing.T) {
	t.Setenv("CURATOR_TEST_DIR", "/srv/data")

	assert.Equal(t, "/srv/data/cache.db", ExpandPath("$CURATOR_TEST_DIR/cache.db"))
	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/plain/path", ExpandPath("/plain/path"))
}
