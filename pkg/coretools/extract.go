package coretools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrExtractionFailed is returned when article text could not be fetched.
var ErrExtractionFailed = errors.New("article extraction failed")

const maxArticleResponseSize = 4 << 20

// Extractor fetches readable article text for a URL.
type Extractor interface {
	Extract(ctx context.Context, articleURL string) (string, error)
}

// ProxyExtractor fetches text through a reader proxy that serves
// GET <base>/<article-url> as plain text (r.jina.ai style).
type ProxyExtractor struct {
	baseURL string
	http    *http.Client
}

// NewProxyExtractor creates a ProxyExtractor. A nil client uses a 30s timeout.
func NewProxyExtractor(baseURL string, client *http.Client) *ProxyExtractor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProxyExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// Extract returns the proxy's response body. Non-2xx responses fail.
func (p *ProxyExtractor) Extract(ctx context.Context, articleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+articleURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: proxy returned status %d", ErrExtractionFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArticleResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return string(body), nil
}
