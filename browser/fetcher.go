// Package browser renders pages in a headless Chrome so scripts can be
// generated against the DOM the user actually sees.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

const DefaultNavigationTimeout = 30 * time.Second

type Options struct {
	// DebuggerURL attaches to an already running Chrome instead of launching one.
	DebuggerURL       string
	NavigationTimeout time.Duration
	Logger            *zap.Logger
}

// Fetcher connects to Chrome on first use and reuses the connection for
// later fetches. Each fetch runs in its own incognito context.
type Fetcher struct {
	mu       sync.Mutex
	opts     Options
	logger   *zap.Logger
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func NewFetcher(opts Options) *Fetcher {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{opts: opts, logger: logger}
}

// FetchHTML loads url and returns the serialized DOM after the load event.
func (f *Fetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", errors.New("url is required")
	}

	browser, err := f.connect(ctx)
	if err != nil {
		return "", err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return "", fmt.Errorf("incognito context: %w", err)
	}
	defer func() {
		if err := incognito.Close(); err != nil {
			f.logger.Debug("close incognito context", zap.Error(err))
		}
	}()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	page = page.Context(ctx).Timeout(f.opts.NavigationTimeout)

	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait for %s to load: %w", url, err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read html of %s: %w", url, err)
	}
	f.logger.Debug("fetched page", zap.String("url", url), zap.Int("bytes", len(html)))
	return html, nil
}

func (f *Fetcher) connect(ctx context.Context) (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	controlURL := f.opts.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(true).Leakless(false)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
		f.launcher = l
	}

	// The browser outlives the request that first needed it.
	browser := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	if err := browser.Connect(); err != nil {
		f.killLauncher()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	f.logger.Info("connected to chrome", zap.Bool("launched", f.launcher != nil))
	f.browser = browser
	return browser, nil
}

// Close stops Chrome if this Fetcher launched it. An attached browser is left
// running.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.browser != nil && f.launcher != nil {
		err = f.browser.Close()
	}
	f.browser = nil
	f.killLauncher()
	return err
}

func (f *Fetcher) killLauncher() {
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher = nil
	}
}
