// Package content turns page markup into the ordered text/link pairs fed to extraction.
//
// The output order and de-duplication rules are part of the change-detection
// contract: content fingerprints are computed over Serialize(Extract(...)), so
// altering either function invalidates every stored change record.
package content

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/amishk599/careerscan/internal/model"
)

const noiseSelector = "script, style, noscript, template"

// Extract parses markup, drops script/style/noscript/template subtrees and returns every
// non-empty text node in document order paired with the resolved href of its
// nearest enclosing anchor. Repeated text|link pairs keep their first position.
func Extract(markup, baseURL string) (model.ScrapedContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	doc.Find(noiseSelector).Remove()

	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		base = nil
	}

	items := model.ScrapedContent{}
	seen := make(map[string]struct{})

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				link := nearestLink(n, base)
				key := text + "|"
				if link != nil {
					key += *link
				}
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					items = append(items, model.ContentItem{Text: text, Link: link})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}

	return items, nil
}

// Serialize renders content in the canonical JSON form used in prompts,
// fingerprints and the usage audit log.
func Serialize(c model.ScrapedContent) (string, error) {
	if c == nil {
		c = model.ScrapedContent{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("serialize content: %w", err)
	}
	return string(b), nil
}

// nearestLink resolves the href of the closest <a> ancestor of n. An unusable
// href on that anchor yields nil; outer anchors are not consulted.
func nearestLink(n *html.Node, base *url.URL) *string {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode || p.Data != "a" {
			continue
		}
		for _, attr := range p.Attr {
			if attr.Key == "href" {
				return resolveHref(attr.Val, base)
			}
		}
		return nil
	}
	return nil
}

func resolveHref(href string, base *url.URL) *string {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	switch {
	case href == "", href == "#":
		return nil
	case strings.HasPrefix(lower, "javascript:"):
		return nil
	case lower == "http:", lower == "https:":
		return nil
	}

	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if bareScheme(ref) {
		return nil
	}
	s := ref.String()
	return &s
}

// bareScheme reports an http(s) URL with no host, such as "https://".
func bareScheme(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host == ""
}
