// Package web fetches pages and reduces them to readable text. It backs
// the world-watch sensor and the interactive `web` command.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	maxBodyBytes   = 2 << 20 // pages past 2MB are truncated, not failed
	defaultTimeout = 20 * time.Second
	userAgent      = "tako/1.0 (+world-watch)"
)

// Page is the readable reduction of an HTML document.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Fetcher retrieves pages with a bounded client. The zero value is not
// usable; construct with NewFetcher.
type Fetcher struct {
	client *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: defaultTimeout}}
}

// Fetch GETs the URL and extracts title and visible text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	title, text, err := Extract(body)
	if err != nil {
		return Page{}, fmt.Errorf("parse %s: %w", url, err)
	}
	return Page{URL: url, Title: title, Text: text}, nil
}

// Extract parses HTML and returns the document title and its visible
// text, with script/style content dropped and whitespace collapsed.
func Extract(r io.Reader) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "head":
				if n.Data == "head" {
					title = findTitle(n)
				}
				return
			}
		case html.TextNode:
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(title), strings.Join(strings.Fields(b.String()), " "), nil
}

func findTitle(head *html.Node) string {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "title" {
			if c.FirstChild != nil && c.FirstChild.Type == html.TextNode {
				return strings.TrimSpace(c.FirstChild.Data)
			}
		}
	}
	return ""
}

// Summary returns the first n runes of the page text on one line.
func (p Page) Summary(n int) string {
	runes := []rune(p.Text)
	if len(runes) <= n {
		return p.Text
	}
	return string(runes[:n]) + "…"
}
