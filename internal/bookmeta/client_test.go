package bookmeta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:   server.URL,
		APIKey:    "test-key",
		UserAgent: "curator-test",
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)
	return client, server
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{BaseURL: "https://books.example.com/api", Timeout: time.Second},
		},
		{
			name:    "missing base url",
			cfg:     Config{Timeout: time.Second},
			wantErr: true,
		},
		{
			name:    "bad scheme",
			cfg:     Config{BaseURL: "ftp://books.example.com", Timeout: time.Second},
			wantErr: true,
		},
		{
			name:    "no host",
			cfg:     Config{BaseURL: "https://", Timeout: time.Second},
			wantErr: true,
		},
		{
			name:    "zero timeout",
			cfg:     Config{BaseURL: "https://books.example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFetchByIdentifierSuccess(t *testing.T) {
	var gotPath, gotAuth, gotAgent string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "9787111111111",
			"title": "Go in Practice",
			"authors": ["Alice", "Bob"],
			"publisher": "Example Press",
			"pubdate": "2019-05",
			"rating": {"average": 8.9, "num_raters": 1234},
			"summary": "A practical guide."
		}`))
	})

	payload, err := client.FetchByIdentifier(context.Background(), "9787111111111")
	require.NoError(t, err)
	require.NotNil(t, payload)

	assert.Equal(t, "/isbn/9787111111111", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "curator-test", gotAgent)

	assert.Equal(t, "9787111111111", payload.Identifier)
	assert.Equal(t, "Go in Practice", payload.Field("title"))
	assert.Equal(t, "Alice / Bob", payload.Field("author"))
	assert.Equal(t, "8.9", payload.Field("rating"))
	assert.Equal(t, "1234", payload.Field("rating_count"))
	assert.Equal(t, "A practical guide.", payload.Field("summary"))
	assert.False(t, payload.FetchedAt.IsZero())
}

func TestFetchByIdentifierOmitsBlankFields(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": "9787111111111", "title": "Bare Minimum"}`))
	})

	payload, err := client.FetchByIdentifier(context.Background(), "9787111111111")
	require.NoError(t, err)
	require.NotNil(t, payload)

	assert.Equal(t, "Bare Minimum", payload.Field("title"))
	_, hasRating := payload.Fields["rating"]
	assert.False(t, hasRating)
	_, hasAuthor := payload.Fields["author"]
	assert.False(t, hasAuthor)
}

func TestFetchByIdentifierNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	payload, err := client.FetchByIdentifier(context.Background(), "9780000000000")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestFetchByIdentifierRateLimited(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.FetchByIdentifier(context.Background(), "9787111111111")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRateLimit)
	assert.True(t, common.IsRetryable(err))
}

func TestFetchByIdentifierServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchByIdentifier(context.Background(), "9787111111111")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrSourceUnavailable)
	assert.True(t, common.IsRetryable(err))
}

func TestFetchByIdentifierClientErrorIsPermanent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.FetchByIdentifier(context.Background(), "9787111111111")
	require.Error(t, err)
	assert.False(t, common.IsRetryable(err))

	var retryable *common.RetryableError
	require.True(t, errors.As(err, &retryable))
	assert.False(t, retryable.Retryable)
}

func TestFetchByIdentifierMalformedBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"title": `))
	})

	_, err := client.FetchByIdentifier(context.Background(), "9787111111111")
	require.Error(t, err)
	assert.False(t, common.IsRetryable(err))
}

func TestFetchByIdentifierHonorsContext(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchByIdentifier(ctx, "9787111111111")
	require.Error(t, err)
}

func TestFetchByIdentifierEmptyIdentifier(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("Server should not be called for empty identifier")
	})

	_, err := client.FetchByIdentifier(context.Background(), "  ")
	require.Error(t, err)
	assert.False(t, common.IsRetryable(err))
}

func TestMockScriptedFailures(t *testing.T) {
	mock := NewMock().
		Add("9787111111111", map[string]string{"title": "Eventually"}).
		FailTimes("9787111111111", 2, errors.New("transient"))

	ctx := context.Background()

	_, err := mock.FetchByIdentifier(ctx, "9787111111111")
	require.Error(t, err)
	_, err = mock.FetchByIdentifier(ctx, "9787111111111")
	require.Error(t, err)

	payload, err := mock.FetchByIdentifier(ctx, "9787111111111")
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "Eventually", payload.Field("title"))
	assert.Equal(t, 3, mock.CallCount("9787111111111"))
}

func TestMockUnknownIdentifierIsMiss(t *testing.T) {
	mock := NewMock()

	payload, err := mock.FetchByIdentifier(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, payload)
}
