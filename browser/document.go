package browser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"

	"github.com/aluiziolira/go-scrape-reactions/config"
)

// IsXPath reports whether selector is an XPath expression rather than CSS.
func IsXPath(selector string) bool {
	s := strings.TrimSpace(selector)
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(")
}

// Document is a parsed server-rendered page that answers CSS and XPath
// selectors. Static sessions and HTTP fetchers share it.
type Document struct {
	url string
	doc *goquery.Document
}

// ParseDocument parses body as the page served at pageURL.
func ParseDocument(pageURL string, body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return &Document{url: pageURL, doc: doc}, nil
}

// URL returns the address the document was served from.
func (d *Document) URL() string {
	return d.url
}

func (d *Document) selection(selector string) (*goquery.Selection, error) {
	if !IsXPath(selector) {
		return d.doc.Find(selector), nil
	}
	nodes, err := htmlquery.QueryAll(d.doc.Nodes[0], selector)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", selector, err)
	}
	return d.doc.FindNodes(nodes...), nil
}

// Find returns every element matching selector in document order. Hrefs
// are resolved against the document URL.
func (d *Document) Find(selector string) ([]Element, error) {
	sel, err := d.selection(selector)
	if err != nil {
		return nil, err
	}
	var out []Element
	sel.Each(func(i int, s *goquery.Selection) {
		attrs := make(map[string]string)
		for _, a := range s.Nodes[0].Attr {
			attrs[a.Key] = a.Val
		}
		href := strings.TrimSpace(attrs["href"])
		if href != "" && !strings.HasPrefix(href, "#") {
			href = Resolve(d.url, href)
		}
		out = append(out, Element{
			Selector: selector,
			Index:    i,
			Href:     href,
			Text:     strings.TrimSpace(s.Text()),
			Attrs:    attrs,
			Visible:  isVisible(s),
			Enabled:  isEnabled(s),
		})
	})
	return out, nil
}

// Has reports whether selector matches at least one element.
func (d *Document) Has(selector string) bool {
	sel, err := d.selection(selector)
	return err == nil && sel.Length() > 0
}

// HasVisible reports whether selector matches a visible element.
func (d *Document) HasVisible(selector string) bool {
	sel, err := d.selection(selector)
	if err != nil {
		return false
	}
	visible := false
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		visible = isVisible(s)
		return !visible
	})
	return visible
}

// Text returns the text content of el.
func (d *Document) Text(el Element) (string, error) {
	sel, err := d.selection(el.Selector)
	if err != nil {
		return "", err
	}
	sel = sel.Eq(el.Index)
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s[%d]", ErrNotFound, el.Selector, el.Index)
	}
	return sel.Text(), nil
}

// First returns the first element, trying strategies in order, that accept
// allows. A static page never changes, so strategy timeouts are ignored.
func (d *Document) First(strategies []config.Strategy, accept func(Element) bool) (Element, bool) {
	for _, st := range strategies {
		elements, err := d.Find(st.Selector)
		if err != nil {
			continue
		}
		for _, el := range elements {
			if accept == nil || accept(el) {
				return el, true
			}
		}
	}
	return Element{}, false
}

func isVisible(sel *goquery.Selection) bool {
	if sel.Closest("[hidden]").Length() > 0 {
		return false
	}
	style := strings.ReplaceAll(strings.ToLower(sel.AttrOr("style", "")), " ", "")
	return !strings.Contains(style, "display:none") && !strings.Contains(style, "visibility:hidden")
}

func isEnabled(sel *goquery.Selection) bool {
	if _, disabled := sel.Attr("disabled"); disabled {
		return false
	}
	if sel.AttrOr("aria-disabled", "") == "true" {
		return false
	}
	if strings.Contains(strings.ToLower(sel.AttrOr("class", "")), "disabled") {
		return false
	}
	return sel.Closest(".disabled").Length() == 0
}
