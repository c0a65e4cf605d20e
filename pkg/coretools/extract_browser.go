package coretools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// BrowserExtractor renders the article in headless Chrome and reads the
// page's visible text. It either attaches to ControlURL or launches a local
// browser on first use.
type BrowserExtractor struct {
	controlURL string
	timeout    time.Duration

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewBrowserExtractor creates a BrowserExtractor. An empty controlURL
// launches a local headless browser.
func NewBrowserExtractor(controlURL string, timeout time.Duration) *BrowserExtractor {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &BrowserExtractor{controlURL: controlURL, timeout: timeout}
}

func (b *BrowserExtractor) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.controlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to launch browser: %v", ErrExtractionFailed, err)
		}
		b.launcher = l
		controlURL = u
		log.Info().Msg("Launched headless browser for article extraction")
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to browser: %v", ErrExtractionFailed, err)
	}
	b.browser = browser
	return browser, nil
}

// Extract navigates a fresh tab to articleURL and returns document.body.innerText.
func (b *BrowserExtractor) Extract(ctx context.Context, articleURL string) (string, error) {
	browser, err := b.connect()
	if err != nil {
		return "", err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("%w: failed to open tab: %v", ErrExtractionFailed, err)
	}
	defer func() { _ = page.Close() }()

	page = page.Timeout(b.timeout)
	if err := page.Navigate(articleURL); err != nil {
		return "", fmt.Errorf("%w: navigation failed: %v", ErrExtractionFailed, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("%w: page did not load: %v", ErrExtractionFailed, err)
	}

	res, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("%w: text extraction failed: %v", ErrExtractionFailed, err)
	}

	text := strings.TrimSpace(res.Value.String())
	if text == "" {
		return "", fmt.Errorf("%w: page has no text", ErrExtractionFailed)
	}
	return text, nil
}

// Close disconnects and stops a locally launched browser.
func (b *BrowserExtractor) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher = nil
	}
	return err
}
