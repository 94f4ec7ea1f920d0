package browser

import (
	"time"
)

// Config configures the headless browser used by page-reading capabilities.
type Config struct {
	// ControlURL attaches to an already running Chrome instead of launching one.
	ControlURL  string        `mapstructure:"control_url"`
	ChromePath  string        `mapstructure:"chrome_path"`
	Headless    bool          `mapstructure:"headless"`
	NoSandbox   bool          `mapstructure:"no_sandbox"`
	PageTimeout time.Duration `mapstructure:"page_timeout"`
	Security    SecurityConfig
}

// SecurityConfig restricts which URLs may be opened.
type SecurityConfig struct {
	AllowFileUrls      bool     `mapstructure:"allow_file_urls"`
	AllowLocalhostUrls bool     `mapstructure:"allow_localhost_urls"`
	AllowedDomains     []string `mapstructure:"allowed_domains"`
	BlockedDomains     []string `mapstructure:"blocked_domains"`
}

// DefaultConfig returns a headless configuration with a 30s page timeout.
func DefaultConfig() Config {
	return Config{
		Headless:    true,
		NoSandbox:   true,
		PageTimeout: 30 * time.Second,
	}
}

// Snapshot is the rendered state of one page.
type Snapshot struct {
	URL    string   `json:"url"`
	Title  string   `json:"title"`
	Blocks []string `json:"blocks"`
	Links  []Link   `json:"links"`
	Images []Image  `json:"images"`
}

// Link is an anchor element on a page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Image is an img element on a page.
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// Error types
type BrowserError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *BrowserError) Error() string {
	return e.Message
}

// Error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNavigation      = "NAVIGATION_ERROR"
	ErrCodeTimeout         = "TIMEOUT_ERROR"
	ErrCodeScriptExecution = "SCRIPT_EXECUTION_ERROR"
	ErrCodeSecurity        = "SECURITY_ERROR"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
)
