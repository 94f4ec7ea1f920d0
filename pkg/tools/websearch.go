package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harun/agentcore/pkg/capability"
	"golang.org/x/net/html"
)

// WebSearchName is the registry name of the web search capability.
const WebSearchName = "web_search"

// DuckDuckGoEndpoint is the HTML results endpoint queried by web_search.
const DuckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// Search techniques selectable by configuration.
const (
	TechniqueHTTP    = "http"
	TechniqueBrowser = "browser"
)

// ErrRateLimited is returned by fetchers when the search backend throttles us.
var ErrRateLimited = errors.New("ratelimit")

// HTMLFetcher retrieves the HTML of a results page.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

// HTTPFetcher fetches pages with a plain HTTP GET.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher returns an HTTPFetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	}
}

func (f *HTTPFetcher) FetchHTML(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// DuckDuckGo answers throttled clients with 202 and an empty result page.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusAccepted {
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// BrowserHTML adapts a rendering browser to HTMLFetcher.
type BrowserHTML struct {
	Render func(ctx context.Context, url string) (string, error)
}

func (f BrowserHTML) FetchHTML(ctx context.Context, target string) (string, error) {
	return f.Render(ctx, target)
}

// SearchResult is one organic result.
type SearchResult struct {
	Title   string
	Snippet string
	URL     string
}

// NewWebSearch returns the web search capability. endpoint defaults to
// DuckDuckGoEndpoint.
func NewWebSearch(fetcher HTMLFetcher, endpoint string) (capability.Descriptor, error) {
	if fetcher == nil {
		return capability.Descriptor{}, fmt.Errorf("html fetcher is required")
	}
	if endpoint == "" {
		endpoint = DuckDuckGoEndpoint
	}

	return capability.Descriptor{
		Name:        WebSearchName,
		Description: "Search the web for information using DuckDuckGo. Returns titles, snippets and URLs.",
		Parameters: []capability.Parameter{
			{Name: "query", Type: "string", Description: "The search query string", Required: true},
			{Name: "max_results", Type: "integer", Description: "Maximum number of results to return (1-10)", Default: 5},
		},
		Handler: func(ctx context.Context, in capability.Input) (string, error) {
			query := in.String("query")
			limit := clamp(in.Int("max_results", 5), 1, 10)

			results, err := search(ctx, fetcher, endpoint, query, limit)
			if err != nil {
				return "", searchFailure(query, err)
			}
			return renderSearch(query, results), nil
		},
	}, nil
}

func search(ctx context.Context, fetcher HTMLFetcher, endpoint, query string, limit int) ([]SearchResult, error) {
	target := endpoint + "?" + url.Values{"q": {query}}.Encode()

	page, err := fetcher.FetchHTML(ctx, target)
	if err != nil {
		return nil, err
	}

	results, err := ParseDuckDuckGo(page)
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func searchFailure(query string, err error) error {
	msg := strings.ToLower(err.Error())

	var netErr net.Error
	switch {
	case errors.Is(err, ErrRateLimited) || strings.Contains(msg, "ratelimit"):
		return capability.Failuref("Search rate limit reached. Please try again in a moment.")
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout(),
		strings.Contains(msg, "timeout"):
		return capability.Failuref("Search timed out for query: '%s'. Please try again.", query)
	default:
		return capability.Failuref("Error performing web search: %v", err)
	}
}

func renderSearch(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for query: '%s'", query)
	}

	formatted := make([]string, 0, len(results))
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "No title"
		}
		body := r.Snippet
		if body == "" {
			body = "No description available"
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%d. **%s**\n", i+1, title)
		fmt.Fprintf(&sb, "   %s\n", body)
		if r.URL != "" {
			fmt.Fprintf(&sb, "   URL: %s\n", r.URL)
		}
		formatted = append(formatted, sb.String())
	}

	return fmt.Sprintf("Found %d results for '%s':\n\n", len(results), query) + strings.Join(formatted, "\n")
}

// ParseDuckDuckGo extracts organic results from a DuckDuckGo HTML page.
// Sponsored results are skipped.
func ParseDuckDuckGo(page string) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	var results []SearchResult
	current := -1

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result--ad"):
				return
			case n.Data == "a" && hasClass(n, "result__a"):
				results = append(results, SearchResult{
					Title: collapseSpace(textContent(n)),
					URL:   resolveResultURL(attr(n, "href")),
				})
				current = len(results) - 1
				return
			case hasClass(n, "result__snippet"):
				if current >= 0 && results[current].Snippet == "" {
					results[current].Snippet = collapseSpace(textContent(n))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results, nil
}

// resolveResultURL unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveResultURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}

	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
