package coretools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func TestFromDate(t *testing.T) {
	tests := map[string]string{
		"day":    "2025-03-09",
		"week":   "2025-03-03",
		"month":  "2025-02-08",
		"latest": "2025-03-08",
		"":       "2025-03-08",
	}
	for timeframe, want := range tests {
		assert.Equal(t, want, FromDate(timeframe, fixedNow), timeframe)
	}
}

func newsServer(t *testing.T, status int, body string, seen *url.Values) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/everything", r.URL.Path)
		if seen != nil {
			*seen = r.URL.Query()
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewsSearch(t *testing.T) {
	t.Run("should send the documented query and normalize articles", func(t *testing.T) {
		var q url.Values
		srv := newsServer(t, http.StatusOK, `{
			"status": "ok",
			"articles": [
				{"source":{"name":"BBC"},"title":"A","description":"d","url":"https://a","urlToImage":"https://a.png","publishedAt":"2025-03-09T10:00:00Z"},
				{"source":{"name":"CNN"},"title":"B","description":null,"url":"https://b","urlToImage":null,"publishedAt":"2025-03-09T09:00:00Z"},
				{"source":{"name":"C"},"title":"C","url":"https://c"},
				{"source":{"name":"D"},"title":"D","url":"https://d"},
				{"source":{"name":"E"},"title":"E","url":"https://e"},
				{"source":{"name":"F"},"title":"F","url":"https://f"}
			]
		}`, &q)

		client := NewNewsClient(srv.URL, "secret-key", WithNewsClock(func() time.Time { return fixedNow }))
		out, err := client.Search(context.Background(), NewsInput{Query: "Premier League", Timeframe: "week"})
		require.NoError(t, err)

		assert.Equal(t, "Premier League", q.Get("q"))
		assert.Equal(t, "en", q.Get("language"))
		assert.Equal(t, "5", q.Get("pageSize"))
		assert.Equal(t, "2025-03-03", q.Get("from"))
		assert.Equal(t, "publishedAt", q.Get("sortBy"))
		assert.Equal(t, "secret-key", q.Get("apiKey"))

		articles, ok := out.([]Article)
		require.True(t, ok)
		require.Len(t, articles, 5)

		data, err := json.Marshal(articles[:2])
		require.NoError(t, err)
		assert.JSONEq(t, `[
			{"title":"A","link":"https://a","description":"d","source":"BBC","image":"https://a.png","date":"2025-03-09T10:00:00Z"},
			{"title":"B","link":"https://b","description":null,"source":"CNN","image":null,"date":"2025-03-09T09:00:00Z"}
		]`, string(data))
	})

	t.Run("should swallow an upstream error status into an empty list", func(t *testing.T) {
		srv := newsServer(t, http.StatusUnauthorized, `{"status":"error","code":"apiKeyInvalid","message":"bad key"}`, nil)

		out, err := NewNewsClient(srv.URL, "k").Search(context.Background(), NewsInput{Query: "x"})
		require.NoError(t, err)

		data, _ := json.Marshal(out)
		assert.JSONEq(t, `[]`, string(data))
	})

	t.Run("should treat a 200 with status error as empty", func(t *testing.T) {
		srv := newsServer(t, http.StatusOK, `{"status":"error","message":"rate limited"}`, nil)

		out, err := NewNewsClient(srv.URL, "k").Search(context.Background(), NewsInput{Query: "x"})
		require.NoError(t, err)
		assert.Equal(t, []Article{}, out)
	})

	t.Run("should report undecodable bodies as a failure payload", func(t *testing.T) {
		srv := newsServer(t, http.StatusOK, `<html>`, nil)

		out, err := NewNewsClient(srv.URL, "k").Search(context.Background(), NewsInput{Query: "x"})
		require.NoError(t, err)
		assert.Equal(t, NewsFailure{Error: "Failed to fetch news. Check server logs."}, out)
	})

	t.Run("should report transport failures as a failure payload", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		base := srv.URL
		srv.Close()

		out, err := NewNewsClient(base, "k").Search(context.Background(), NewsInput{Query: "x"})
		require.NoError(t, err)
		assert.Equal(t, NewsFailure{Error: "Failed to fetch news. Check server logs."}, out)
	})

	t.Run("should return the context error when cancelled", func(t *testing.T) {
		srv := newsServer(t, http.StatusOK, `{"status":"ok","articles":[]}`, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewNewsClient(srv.URL, "k").Search(ctx, NewsInput{Query: "x"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStripURL(t *testing.T) {
	err := stripURL(&url.Error{Op: "Get", URL: "https://newsapi.org/v2/everything?apiKey=secret", Err: context.DeadlineExceeded})
	assert.NotContains(t, err.Error(), "secret")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
