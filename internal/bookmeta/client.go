// Package bookmeta provides a client for the book metadata HTTP API.
package bookmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
)

// maxBodyBytes caps how much of a response body the client will read.
const maxBodyBytes = 1 << 20

// Config holds metadata API configuration.
type Config struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
}

// Validate ensures the client can be constructed from this configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("metadata source base URL is required")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid metadata source base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("metadata source base URL must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("metadata source base URL has no host")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("metadata source timeout must be positive")
	}
	return nil
}

// Client implements the MetadataSource interface over HTTP.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	userAgent  string
}

// NewClient creates a metadata API client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		httpClient: httpClient,
		logger:     slog.Default().With("component", "bookmeta"),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
	}, nil
}

// bookResponse is the wire format of one book document.
type bookResponse struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Publisher string   `json:"publisher"`
	Pubdate   string   `json:"pubdate"`
	Rating    struct {
		Average   float64 `json:"average"`
		NumRaters int     `json:"num_raters"`
	} `json:"rating"`
	Summary string `json:"summary"`
}

// FetchByIdentifier looks up one book by its normalized identifier. A 404
// from the source means the book does not exist and returns (nil, nil);
// rate limiting and server errors come back as retryable errors.
func (c *Client) FetchByIdentifier(ctx context.Context, identifier string) (*model.MetadataPayload, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, &common.RetryableError{Err: fmt.Errorf("empty identifier"), Retryable: false}
	}

	endpoint := c.baseURL + "/isbn/" + url.PathEscape(identifier)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &common.RetryableError{Err: fmt.Errorf("failed to build request: %w", err), Retryable: false}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", identifier, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("Metadata source throttled the client", "identifier", identifier)
		return nil, fmt.Errorf("%w: status %d", common.ErrRateLimit, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", common.ErrSourceUnavailable, resp.StatusCode)
	default:
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("unexpected status %d for %s", resp.StatusCode, identifier),
			Retryable: false,
		}
	}

	var book bookResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&book); err != nil {
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("failed to decode response for %s: %w", identifier, err),
			Retryable: false,
		}
	}

	return &model.MetadataPayload{
		Identifier: identifier,
		Fields:     book.fields(),
		FetchedAt:  time.Now(),
	}, nil
}

// fields flattens the wire document into the pipeline's field map. Only
// populated values are included so cache merges never see blanks.
func (b *bookResponse) fields() map[string]string {
	fields := make(map[string]string)
	put := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			fields[key] = value
		}
	}

	put("title", b.Title)
	put("author", strings.Join(b.Authors, " / "))
	put("publisher", b.Publisher)
	put("pubdate", b.Pubdate)
	if b.Rating.Average > 0 {
		fields["rating"] = strconv.FormatFloat(b.Rating.Average, 'f', -1, 64)
	}
	if b.Rating.NumRaters > 0 {
		fields["rating_count"] = strconv.Itoa(b.Rating.NumRaters)
	}
	put("summary", b.Summary)

	return fields
}
