package coretools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	newsPageSize        = 5
	newsFailureMessage  = "Failed to fetch news. Check server logs."
	maxNewsResponseSize = 2 << 20
)

// Timeframe offsets in days before now.
var timeframeDays = map[string]int{
	"day":    1,
	"week":   7,
	"month":  30,
	"latest": 2,
}

// Timeframes lists the accepted timeframe values.
func Timeframes() []string {
	return []string{"day", "week", "month", "latest"}
}

// NewsInput is the news tool's input.
type NewsInput struct {
	Query     string `json:"query"`
	Timeframe string `json:"timeframe"`
}

// Article is one normalized search hit.
type Article struct {
	Title       string  `json:"title"`
	Link        string  `json:"link"`
	Description *string `json:"description"`
	Source      string  `json:"source"`
	Image       *string `json:"image"`
	Date        string  `json:"date"`
}

// NewsFailure is returned when the search endpoint cannot be reached or
// its response cannot be read.
type NewsFailure struct {
	Error string `json:"error"`
}

type newsResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string  `json:"title"`
		Description *string `json:"description"`
		URL         string  `json:"url"`
		URLToImage  *string `json:"urlToImage"`
		PublishedAt string  `json:"publishedAt"`
	} `json:"articles"`
}

// NewsClient queries a NewsAPI-compatible /everything endpoint.
type NewsClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	now     func() time.Time
	logger  zerolog.Logger
}

// NewsOption configures a NewsClient.
type NewsOption func(*NewsClient)

// WithNewsHTTPClient overrides the HTTP client.
func WithNewsHTTPClient(c *http.Client) NewsOption {
	return func(n *NewsClient) { n.http = c }
}

// WithNewsClock overrides the clock used for the from date.
func WithNewsClock(now func() time.Time) NewsOption {
	return func(n *NewsClient) { n.now = now }
}

// WithNewsLogger sets the client's logger.
func WithNewsLogger(l zerolog.Logger) NewsOption {
	return func(n *NewsClient) { n.logger = l }
}

// NewNewsClient creates a client for baseURL (e.g. https://newsapi.org/v2).
func NewNewsClient(baseURL, apiKey string, opts ...NewsOption) *NewsClient {
	n := &NewsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 20 * time.Second},
		now:     time.Now,
		logger:  log.Logger.With().Str("component", "news").Logger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// FromDate returns the YYYY-MM-DD lower bound for a timeframe. Unknown
// timeframes use the latest offset.
func FromDate(timeframe string, now time.Time) string {
	days, ok := timeframeDays[timeframe]
	if !ok {
		days = timeframeDays["latest"]
	}
	return now.UTC().AddDate(0, 0, -days).Format("2006-01-02")
}

// Search returns []Article (possibly empty) or NewsFailure. An upstream
// error status yields an empty list; transport and decode failures yield
// NewsFailure.
func (n *NewsClient) Search(ctx context.Context, in NewsInput) (interface{}, error) {
	timeframe := in.Timeframe
	if timeframe == "" {
		timeframe = "latest"
	}
	from := FromDate(timeframe, n.now())

	logger := n.logger.With().
		Str("query", in.Query).
		Str("timeframe", timeframe).
		Str("from", from).
		Logger()
	logger.Info().Msg("Fetching news")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.searchURL(in.Query, from), nil)
	if err != nil {
		logger.Error().Err(err).Msg("News request could not be built")
		return NewsFailure{Error: newsFailureMessage}, nil
	}

	resp, err := n.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Error().Err(stripURL(err)).Msg("News tool failed")
		return NewsFailure{Error: newsFailureMessage}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxNewsResponseSize))
	if err != nil {
		logger.Error().Err(stripURL(err)).Msg("News response could not be read")
		return NewsFailure{Error: newsFailureMessage}, nil
	}

	var data newsResponse
	if err := json.Unmarshal(body, &data); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			logger.Warn().Int("status", resp.StatusCode).Msg("News API returned an error status")
			return []Article{}, nil
		}
		logger.Error().Err(err).Msg("News response could not be decoded")
		return NewsFailure{Error: newsFailureMessage}, nil
	}

	if data.Status == "error" || resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn().
			Int("status", resp.StatusCode).
			Str("code", data.Code).
			Str("message", data.Message).
			Msg("News API error")
		return []Article{}, nil
	}

	articles := make([]Article, 0, newsPageSize)
	for _, a := range data.Articles {
		if len(articles) == newsPageSize {
			break
		}
		articles = append(articles, Article{
			Title:       a.Title,
			Link:        a.URL,
			Description: a.Description,
			Source:      a.Source.Name,
			Image:       a.URLToImage,
			Date:        a.PublishedAt,
		})
	}

	logger.Debug().Int("articles", len(articles)).Msg("News fetched")
	return articles, nil
}

func (n *NewsClient) searchURL(query, from string) string {
	q := url.Values{}
	q.Set("q", query)
	q.Set("language", "en")
	q.Set("pageSize", fmt.Sprint(newsPageSize))
	q.Set("from", from)
	q.Set("sortBy", "publishedAt")
	q.Set("apiKey", n.apiKey)
	return n.baseURL + "/everything?" + q.Encode()
}

// stripURL drops the request URL, which carries the API key, from
// transport errors before they are logged.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
