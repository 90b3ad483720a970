package fetcher_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nuuslees/fetcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSuccess(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte("<rss></rss>"))
	}))
	defer server.Close()

	f := fetcher.New(fetcher.Config{UserAgent: "test-agent"})
	resp, err := f.Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/rss+xml", resp.ContentType)
	assert.Equal(t, "<rss></rss>", string(resp.Body))
	assert.Equal(t, "test-agent", userAgent)
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		config    fetcher.Config
		kind      fetcher.ErrorKind
		status    int
		temporary bool
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			kind:      fetcher.KindHTTPStatus,
			status:    http.StatusNotFound,
			temporary: false,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			kind:      fetcher.KindHTTPStatus,
			status:    http.StatusServiceUnavailable,
			temporary: true,
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			kind:      fetcher.KindHTTPStatus,
			status:    http.StatusTooManyRequests,
			temporary: true,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			config:    fetcher.Config{Timeout: 50 * time.Millisecond},
			kind:      fetcher.KindTimeout,
			temporary: true,
		},
		{
			name: "body too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(strings.Repeat("x", 2048)))
			},
			config:    fetcher.Config{MaxBodyBytes: 1024},
			kind:      fetcher.KindTooLarge,
			temporary: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := fetcher.New(tt.config).Fetch(context.Background(), server.URL)
			require.Error(t, err)

			var fetchErr *fetcher.Error
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, tt.kind, fetchErr.Kind)
			assert.Equal(t, tt.status, fetchErr.StatusCode)
			assert.Equal(t, tt.temporary, fetchErr.Temporary())
		})
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := fetcher.New(fetcher.Config{}).Fetch(context.Background(), url)

	var fetchErr *fetcher.Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, fetcher.KindConnection, fetchErr.Kind)
	assert.True(t, fetchErr.Temporary())
}

func TestFetchCanceled(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	begin := time.Now()
	_, err := fetcher.New(fetcher.Config{Timeout: 10 * time.Second}).Fetch(ctx, server.URL)

	var fetchErr *fetcher.Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, fetcher.KindCanceled, fetchErr.Kind)
	assert.False(t, fetchErr.Temporary())
	assert.Less(t, time.Since(begin), 5*time.Second)
}
