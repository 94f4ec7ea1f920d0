package tools

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/harun/agentcore/pkg/browser"
	"github.com/harun/agentcore/pkg/capability"
)

// WebCrawlerName is the registry name of the web crawler capability.
const WebCrawlerName = "web_crawler"

const (
	crawlContentLimit = 10000
	crawlLinkLimit    = 20
	crawlImageLimit   = 10
	crawlLinkText     = 50
)

// PageFetcher renders a page. *browser.Browser satisfies it.
type PageFetcher interface {
	Snapshot(ctx context.Context, url string) (*browser.Snapshot, error)
}

// NewWebCrawler returns the web crawler capability backed by fetcher.
func NewWebCrawler(fetcher PageFetcher) (capability.Descriptor, error) {
	if fetcher == nil {
		return capability.Descriptor{}, fmt.Errorf("page fetcher is required")
	}

	return capability.Descriptor{
		Name:        WebCrawlerName,
		Description: "Crawl a website in a headless browser and extract its content, optionally with links and images.",
		Parameters: []capability.Parameter{
			{Name: "url", Type: "string", Description: "The URL of the website to crawl", Required: true},
			{Name: "extract_links", Type: "boolean", Description: "Include extracted links in the output", Default: true},
			{Name: "extract_images", Type: "boolean", Description: "Include image URLs in the output", Default: false},
			{Name: "word_count_threshold", Type: "integer", Description: "Minimum words per content block to include", Default: 10},
		},
		Handler: func(ctx context.Context, in capability.Input) (string, error) {
			target := in.String("url")
			snap, err := fetcher.Snapshot(ctx, target)
			if err != nil {
				return "", capability.Failuref("Error crawling website: %v", err)
			}
			return renderCrawl(target, snap, crawlOptions{
				links:     in.Bool("extract_links", true),
				images:    in.Bool("extract_images", false),
				threshold: in.Int("word_count_threshold", 10),
			}), nil
		},
	}, nil
}

type crawlOptions struct {
	links     bool
	images    bool
	threshold int
}

func renderCrawl(target string, snap *browser.Snapshot, opts crawlOptions) string {
	var parts []string

	if snap.Title != "" {
		parts = append(parts, fmt.Sprintf("# %s\n", snap.Title))
	}
	parts = append(parts, fmt.Sprintf("**URL:** %s\n", target))

	var blocks []string
	for _, block := range snap.Blocks {
		if len(strings.Fields(block)) >= opts.threshold {
			blocks = append(blocks, block)
		}
	}
	if len(blocks) > 0 {
		parts = append(parts, "## Content\n")
		content := strings.Join(blocks, "\n\n")
		if utf8.RuneCountInString(content) > crawlContentLimit {
			content = string([]rune(content)[:crawlContentLimit]) + "\n\n... [Content truncated]"
		}
		parts = append(parts, content)
	}

	if opts.links {
		internal, external := splitLinks(snap.URL, snap.Links)
		if len(internal) > 0 || len(external) > 0 {
			parts = append(parts, "\n## Extracted Links\n")
			if len(internal) > 0 {
				parts = append(parts, "### Internal Links")
				parts = append(parts, formatLinks(internal)...)
			}
			if len(external) > 0 {
				parts = append(parts, "\n### External Links")
				parts = append(parts, formatLinks(external)...)
			}
		}
	}

	if opts.images && len(snap.Images) > 0 {
		parts = append(parts, "\n## Images\n")
		for i, img := range snap.Images {
			if i == crawlImageLimit {
				break
			}
			alt := img.Alt
			if alt == "" {
				alt = "No description"
			}
			parts = append(parts, fmt.Sprintf("- %s: %s", alt, img.Src))
		}
	}

	return strings.Join(parts, "\n")
}

// splitLinks partitions links by whether they share the page host.
func splitLinks(pageURL string, links []browser.Link) (internal, external []browser.Link) {
	base, _ := url.Parse(pageURL)
	seen := make(map[string]bool, len(links))

	for _, l := range links {
		u, err := url.Parse(l.Href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || seen[l.Href] {
			continue
		}
		seen[l.Href] = true

		if base != nil && strings.EqualFold(u.Hostname(), base.Hostname()) {
			internal = append(internal, l)
		} else {
			external = append(external, l)
		}
	}
	return internal, external
}

func formatLinks(links []browser.Link) []string {
	out := make([]string, 0, crawlLinkLimit)
	for i, l := range links {
		if i == crawlLinkLimit {
			break
		}
		text := l.Text
		if text == "" {
			text = "No text"
		}
		if utf8.RuneCountInString(text) > crawlLinkText {
			text = string([]rune(text)[:crawlLinkText])
		}
		out = append(out, fmt.Sprintf("- [%s](%s)", text, l.Href))
	}
	return out
}
