package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Fetcher does domain-allow-listed HTTP fetching with readable-text
// extraction, shared by the search and browser tools.
type Fetcher struct {
	client         *http.Client
	allowedDomains map[string]bool
	maxResultChars int
}

// NewFetcher builds a fetcher restricted to the given hosts.
func NewFetcher(allowedDomains []string, timeout time.Duration, maxResultChars int) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if maxResultChars <= 0 {
		maxResultChars = 8000
	}
	allowed := make(map[string]bool, len(allowedDomains))
	for _, d := range allowedDomains {
		allowed[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return &Fetcher{
		client:         &http.Client{Timeout: timeout},
		allowedDomains: allowed,
		maxResultChars: maxResultChars,
	}
}

func (f *Fetcher) checkURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid URL %q", ErrBadArgs, raw)
	}
	host := strings.ToLower(u.Hostname())
	if !f.allowedDomains[host] {
		return nil, DomainDeniedError(host)
	}
	return u, nil
}

// Fetch retrieves the URL and returns the extracted readable text,
// truncated to the configured limit.
func (f *Fetcher) Fetch(ctx context.Context, raw string) (string, error) {
	u, err := f.checkURL(raw)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "bumble-agent/1.0")
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, u.Hostname())
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text := body2text(string(body), resp.Header.Get("Content-Type"))
	runes := []rune(text)
	if len(runes) > f.maxResultChars {
		return string(runes[:f.maxResultChars]) + "\n...[truncated]", nil
	}
	return text, nil
}

// body2text extracts readable text from an HTML body; non-HTML bodies pass
// through unchanged.
func body2text(body, contentType string) string {
	if !strings.Contains(contentType, "html") && !strings.HasPrefix(strings.TrimSpace(body), "<") {
		return body
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String())
}

// SearchTool returns the domain-allow-listed fetch tool.
func SearchTool(f *Fetcher) *Tool {
	return &Tool{
		Name:        "search",
		Description: "Fetch a URL from an allow-listed domain and return its readable text",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			raw, _ := args["url"].(string)
			if raw == "" {
				return "", MissingArgError("url")
			}
			return f.Fetch(ctx, raw)
		},
		Schema: Schema{
			Required: []string{"url"},
			Properties: map[string]Property{
				"url": {Type: "string", Description: "The http(s) URL to fetch (host must be allow-listed)"},
			},
		},
	}
}

// BrowserTool returns the page-reading tool: same fetch pipeline, prefixed
// with the page URL. The page title is not extracted.
func BrowserTool(f *Fetcher) *Tool {
	return &Tool{
		Name:        "browser",
		Description: "Open a page from an allow-listed domain and return its URL and readable text",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			raw, _ := args["url"].(string)
			if raw == "" {
				return "", MissingArgError("url")
			}
			text, err := f.Fetch(ctx, raw)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Page: %s\n\n%s", raw, text), nil
		},
		Schema: Schema{
			Required: []string{"url"},
			Properties: map[string]Property{
				"url": {Type: "string", Description: "The http(s) URL to open (host must be allow-listed)"},
			},
		},
	}
}
