package scout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitlai/missionrunner/logger"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches and renders text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "missionrunner-scout/1.0", r.Header.Get("User-Agent"))
			w.Write([]byte(`<html><head><script>var x = 1;</script></head>
				<body><h1>Shoe   Shop</h1><p>Best shoes in town</p></body></html>`))
		}))
		defer server.Close()

		fetcher := NewHTTPFetcher(Config{}, server.Client(), logger.NewTestLogger())
		snapshot, err := fetcher.Fetch(ctx, server.URL)
		require.NoError(t, err)

		assert.Equal(t, server.URL, snapshot.URL)
		assert.Contains(t, snapshot.HTML, "<h1>")
		assert.Equal(t, "Shoe Shop Best shoes in town", snapshot.Text)
		assert.NotContains(t, snapshot.Text, "var x")
		assert.False(t, snapshot.FetchedAt.IsZero())
	})

	t.Run("truncates oversized pages", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html><body>" + strings.Repeat("a", 4096) + "</body></html>"))
		}))
		defer server.Close()

		fetcher := NewHTTPFetcher(Config{MaxBodyBytes: 100}, server.Client(), logger.NewTestLogger())
		snapshot, err := fetcher.Fetch(ctx, server.URL)
		require.NoError(t, err)
		assert.Len(t, snapshot.HTML, 100)
	})

	t.Run("non-2xx status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer server.Close()

		fetcher := NewHTTPFetcher(Config{}, server.Client(), logger.NewTestLogger())
		_, err := fetcher.Fetch(ctx, server.URL)
		assert.ErrorContains(t, err, "status 404")
	})

	t.Run("excerpt bounds text", func(t *testing.T) {
		s := &Snapshot{Text: "hello world"}
		assert.Equal(t, "hello", s.Excerpt(5))
		assert.Equal(t, "hello world", s.Excerpt(100))
	})
}
