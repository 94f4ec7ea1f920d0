// Package browser drives a shared headless Chrome through go-rod for
// capabilities that need rendered pages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

const snapshotScript = `() => {
	const text = document.body ? document.body.innerText : '';
	const blocks = text.split('\n').map(s => s.trim()).filter(s => s.length > 0);
	const links = Array.from(document.querySelectorAll('a[href]'))
		.map(a => ({ href: a.href, text: (a.textContent || '').trim() }));
	const images = Array.from(document.querySelectorAll('img[src]'))
		.map(i => ({ src: i.src, alt: i.alt || '' }));
	return { url: location.href, title: document.title, blocks, links, images };
}`

// Browser lazily launches (or attaches to) Chrome on first use and opens
// one tab per request. Safe for concurrent use.
type Browser struct {
	cfg       Config
	validator *SecurityValidator
	logger    zerolog.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// New creates a Browser. Chrome is not started until the first page is opened.
func New(cfg Config, logger zerolog.Logger) *Browser {
	return &Browser{
		cfg:       cfg,
		validator: NewSecurityValidator(cfg.Security, logger),
		logger:    logger,
	}
}

// Snapshot renders url and returns its title, text blocks, links and images.
func (b *Browser) Snapshot(ctx context.Context, url string) (*Snapshot, error) {
	page, release, err := b.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := page.Eval(snapshotScript)
	if err != nil {
		return nil, b.pageError(ctx, ErrCodeScriptExecution, "Failed to extract page content", err)
	}

	snap := &Snapshot{}
	if err := result.Value.Unmarshal(snap); err != nil {
		return nil, &BrowserError{
			Code:    ErrCodeScriptExecution,
			Message: fmt.Sprintf("Failed to decode page content: %v", err),
		}
	}
	if snap.URL == "" {
		snap.URL = url
	}

	return snap, nil
}

// HTML renders url and returns the resulting document HTML.
func (b *Browser) HTML(ctx context.Context, url string) (string, error) {
	page, release, err := b.open(ctx, url)
	if err != nil {
		return "", err
	}
	defer release()

	html, err := page.HTML()
	if err != nil {
		return "", b.pageError(ctx, ErrCodeScriptExecution, "Failed to extract HTML", err)
	}
	return html, nil
}

// Close shuts down the browser and any Chrome process this instance launched.
func (b *Browser) Close() error {
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

func (b *Browser) open(ctx context.Context, url string) (*rod.Page, func(), error) {
	if err := b.validator.ValidateURL(url); err != nil {
		return nil, nil, err
	}

	br, err := b.connect()
	if err != nil {
		return nil, nil, err
	}

	tab, err := br.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to create page: %v", err),
		}
	}

	pageCtx, cancel := ctx, context.CancelFunc(func() {})
	if b.cfg.PageTimeout > 0 {
		pageCtx, cancel = context.WithTimeout(ctx, b.cfg.PageTimeout)
	}
	release := func() {
		cancel()
		if err := tab.Close(); err != nil {
			b.logger.Debug().Err(err).Msg("Failed to close browser tab")
		}
	}

	page := tab.Context(pageCtx)

	if err := page.Navigate(url); err != nil {
		release()
		return nil, nil, b.pageError(pageCtx, ErrCodeNavigation, fmt.Sprintf("Failed to navigate to %s", url), err)
	}
	if err := page.WaitLoad(); err != nil {
		release()
		return nil, nil, b.pageError(pageCtx, ErrCodeTimeout, "Page load failed", err)
	}

	return page, release, nil
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().
			Headless(b.cfg.Headless).
			NoSandbox(b.cfg.NoSandbox)
		if b.cfg.ChromePath != "" {
			l = l.Bin(b.cfg.ChromePath)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, &BrowserError{
				Code:    ErrCodeBrowserCrash,
				Message: fmt.Sprintf("Failed to launch Chrome: %v", err),
			}
		}
		b.launcher = l
		controlURL = u
		b.logger.Info().Str("control_url", controlURL).Msg("Chrome launched")
	}

	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		if b.launcher != nil {
			b.launcher.Kill()
			b.launcher = nil
		}
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to connect to CDP: %v", err),
		}
	}

	b.browser = br
	return br, nil
}

func (b *Browser) pageError(ctx context.Context, code, msg string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		code = ErrCodeTimeout
		msg = "Page timeout"
	}
	return &BrowserError{
		Code:    code,
		Message: fmt.Sprintf("%s: %v", msg, err),
	}
}
