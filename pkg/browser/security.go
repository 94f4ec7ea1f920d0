package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// SecurityValidator validates URLs against the configured policy.
type SecurityValidator struct {
	config SecurityConfig
	logger zerolog.Logger
}

// NewSecurityValidator creates a new security validator
func NewSecurityValidator(config SecurityConfig, logger zerolog.Logger) *SecurityValidator {
	return &SecurityValidator{
		config: config,
		logger: logger,
	}
}

// ValidateURL validates a URL and checks security policies
func (sv *SecurityValidator) ValidateURL(urlStr string) error {
	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Scheme == "" {
		return &BrowserError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("Invalid URL format: %s", urlStr),
		}
	}

	switch parsedURL.Scheme {
	case "http", "https":
	case "file":
		if !sv.config.AllowFileUrls {
			sv.logSecurityViolation("file_url_blocked", urlStr)
			return &BrowserError{
				Code:    ErrCodeSecurity,
				Message: "file:// URLs are not allowed",
				Details: map[string]interface{}{"url": urlStr},
			}
		}
		return nil
	default:
		return &BrowserError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("Unsupported URL scheme: %s", parsedURL.Scheme),
		}
	}

	if parsedURL.Hostname() == "" {
		return &BrowserError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("Invalid URL format: %s", urlStr),
		}
	}

	if isLocalhostURL(parsedURL) && !sv.config.AllowLocalhostUrls {
		sv.logSecurityViolation("localhost_url_blocked", urlStr)
		return &BrowserError{
			Code:    ErrCodeSecurity,
			Message: "localhost URLs are not allowed",
			Details: map[string]interface{}{"url": urlStr},
		}
	}

	host := strings.ToLower(parsedURL.Hostname())

	if len(sv.config.AllowedDomains) > 0 && !matchAny(host, sv.config.AllowedDomains) {
		sv.logSecurityViolation("domain_not_allowed", urlStr)
		return &BrowserError{
			Code:    ErrCodeSecurity,
			Message: fmt.Sprintf("Domain not in allowed list: %s", host),
			Details: map[string]interface{}{"url": urlStr, "domain": host},
		}
	}

	if matchAny(host, sv.config.BlockedDomains) {
		sv.logSecurityViolation("domain_blocked", urlStr)
		return &BrowserError{
			Code:    ErrCodeSecurity,
			Message: fmt.Sprintf("Domain is blocked: %s", host),
			Details: map[string]interface{}{"url": urlStr, "domain": host},
		}
	}

	return nil
}

func isLocalhostURL(parsedURL *url.URL) bool {
	host := strings.ToLower(parsedURL.Hostname())

	return host == "localhost" ||
		host == "::1" ||
		host == "0.0.0.0" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasSuffix(host, ".localhost")
}

func matchAny(host string, patterns []string) bool {
	for _, p := range patterns {
		if matchDomain(host, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// matchDomain supports exact hosts, "*.example.com" and ".example.com".
func matchDomain(host, pattern string) bool {
	if host == pattern {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[2:]
		return strings.HasSuffix(host, "."+suffix) || host == suffix
	}

	if strings.HasPrefix(pattern, ".") {
		return strings.HasSuffix(host, pattern) || host == pattern[1:]
	}

	return false
}

func (sv *SecurityValidator) logSecurityViolation(violationType, details string) {
	sv.logger.Warn().
		Str("violation", violationType).
		Str("url", details).
		Msg("Browser security violation")
}
