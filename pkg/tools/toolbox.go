// Package tools implements the capabilities a tenant can enable: calculator,
// get_datetime, database_query, send_email, web_crawler and web_search.
package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/agentcore/pkg/browser"
	"github.com/harun/agentcore/pkg/capability"
	"github.com/rs/zerolog"
)

// Settings carries the process configuration the capabilities need.
type Settings struct {
	Databases    map[string]DatabaseSettings
	QueryTimeout time.Duration

	SMTP SMTPSettings

	Browser browser.Config

	SearchTechnique string
	SearchEndpoint  string
	SearchTimeout   time.Duration
}

// Option overrides a collaborator, mostly for tests.
type Option func(*Toolbox)

// WithMailSender replaces the SMTP sender.
func WithMailSender(s MailSender) Option {
	return func(t *Toolbox) { t.mailer = s }
}

// WithPageFetcher replaces the browser used by web_crawler.
func WithPageFetcher(f PageFetcher) Option {
	return func(t *Toolbox) { t.pages = f }
}

// WithHTMLFetcher replaces the fetcher used by web_search.
func WithHTMLFetcher(f HTMLFetcher) Option {
	return func(t *Toolbox) { t.search = f }
}

// WithClock sets the time source for get_datetime.
func WithClock(now func() time.Time) Option {
	return func(t *Toolbox) { t.now = now }
}

// Toolbox builds the capability catalog. Resources (database pools, the
// browser) are opened only when the corresponding factory runs and are
// released by Close.
type Toolbox struct {
	settings Settings
	logger   zerolog.Logger

	mailer MailSender
	pages  PageFetcher
	search HTMLFetcher
	now    func() time.Time

	mu      sync.Mutex
	browser *browser.Browser
	dbs     *Databases
}

// NewToolbox creates a toolbox.
func NewToolbox(settings Settings, logger zerolog.Logger, opts ...Option) *Toolbox {
	t := &Toolbox{settings: settings, logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Catalog returns every capability the runtime knows how to build.
func (t *Toolbox) Catalog() capability.Catalog {
	return capability.Catalog{
		CalculatorName: NewCalculator,
		DatetimeName: func() (capability.Descriptor, error) {
			return NewDatetime(t.now)
		},
		DatabaseQueryName: t.databaseQuery,
		SendEmailName:     t.sendEmail,
		WebCrawlerName:    t.webCrawler,
		WebSearchName:     t.webSearch,
	}
}

// CatalogNames returns the known capability names in sorted order.
func (t *Toolbox) CatalogNames() []string {
	catalog := t.Catalog()
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases opened resources.
func (t *Toolbox) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.dbs != nil {
		errs = append(errs, t.dbs.Close())
		t.dbs = nil
	}
	if t.browser != nil {
		errs = append(errs, t.browser.Close())
		t.browser = nil
	}
	return errors.Join(errs...)
}

func (t *Toolbox) databaseQuery() (capability.Descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dbs == nil {
		dbs, err := OpenDatabases(t.settings.Databases, t.settings.QueryTimeout)
		if err != nil {
			return capability.Descriptor{}, err
		}
		t.dbs = dbs
		t.logger.Info().Strs("databases", dbs.Names()).Msg("Database pools opened")
	}
	return NewDatabaseQuery(t.dbs)
}

func (t *Toolbox) sendEmail() (capability.Descriptor, error) {
	sender := t.mailer
	if sender == nil {
		smtpSender, err := NewSMTPSender(t.settings.SMTP)
		if err != nil {
			return capability.Descriptor{}, err
		}
		sender = smtpSender
	}
	return NewSendEmail(sender, t.settings.SMTP.From)
}

func (t *Toolbox) webCrawler() (capability.Descriptor, error) {
	fetcher := t.pages
	if fetcher == nil {
		fetcher = t.sharedBrowser()
	}
	return NewWebCrawler(fetcher)
}

func (t *Toolbox) webSearch() (capability.Descriptor, error) {
	fetcher := t.search
	if fetcher == nil {
		switch t.settings.SearchTechnique {
		case "", TechniqueHTTP:
			timeout := t.settings.SearchTimeout
			if timeout == 0 {
				timeout = 15 * time.Second
			}
			fetcher = NewHTTPFetcher(timeout)
		case TechniqueBrowser:
			fetcher = BrowserHTML{Render: t.sharedBrowser().HTML}
		default:
			return capability.Descriptor{}, fmt.Errorf("unknown search technique %q", t.settings.SearchTechnique)
		}
	}
	return NewWebSearch(fetcher, t.settings.SearchEndpoint)
}

func (t *Toolbox) sharedBrowser() *browser.Browser {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.browser == nil {
		t.browser = browser.New(t.settings.Browser, t.logger.With().Str("component", "browser").Logger())
	}
	return t.browser
}
