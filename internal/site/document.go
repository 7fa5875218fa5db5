// Package site defines the contracts the crawl core uses to talk to
// site-specific extraction, plus a generic selector-driven adapter.
package site

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	"github.com/crawlkit/market-crawler/internal/errs"
)

// Document is a queryable page. Two implementations exist: HTMLDocument
// over a static snapshot and PageDocument over a live browser page. The
// caller picks one explicitly depending on whether it needs the page to
// keep executing scripts.
type Document interface {
	// Text returns the text of the first node matching selector, or an
	// ErrQueryNotFound error when nothing matches.
	Text(selector string) (string, error)

	// NthText returns the text of the idx-th matching node.
	NthText(selector string, idx int) (string, error)

	// NthAttr returns attribute attr of the idx-th matching node.
	NthAttr(selector string, idx int, attr string) (string, error)

	// Count returns the number of nodes matching selector.
	Count(selector string) (int, error)

	// HTML returns the document markup, for snapshotting.
	HTML() (string, error)
}

// HTMLDocument queries a parsed static snapshot.
type HTMLDocument struct {
	doc *goquery.Document
}

// ParseHTML builds an HTMLDocument from raw markup.
func ParseHTML(html string) (*HTMLDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.New(errs.ErrIncorrectData, err)
	}
	return &HTMLDocument{doc: doc}, nil
}

func (d *HTMLDocument) Text(selector string) (string, error) {
	sel := d.doc.Find(selector)
	if sel.Length() == 0 {
		return "", errs.QueryNotFound(selector, nil)
	}
	return strings.TrimSpace(sel.First().Text()), nil
}

func (d *HTMLDocument) NthText(selector string, idx int) (string, error) {
	sel := d.doc.Find(selector)
	if idx < 0 || idx >= sel.Length() {
		return "", errs.QueryNotFound(selector, nil)
	}
	return strings.TrimSpace(sel.Eq(idx).Text()), nil
}

func (d *HTMLDocument) NthAttr(selector string, idx int, attr string) (string, error) {
	sel := d.doc.Find(selector)
	if idx < 0 || idx >= sel.Length() {
		return "", errs.QueryNotFound(selector, nil)
	}
	value, ok := sel.Eq(idx).Attr(attr)
	if !ok {
		return "", errs.QueryNotFound(selector+"@"+attr, nil)
	}
	return strings.TrimSpace(value), nil
}

func (d *HTMLDocument) Count(selector string) (int, error) {
	return d.doc.Find(selector).Length(), nil
}

func (d *HTMLDocument) HTML() (string, error) {
	return d.doc.Html()
}

// PageDocument queries a live playwright page.
type PageDocument struct {
	page playwright.Page
}

func NewPageDocument(page playwright.Page) *PageDocument {
	return &PageDocument{page: page}
}

// Page exposes the underlying live page for interactions a Document cannot
// express (scrolling, clicking option selectors).
func (d *PageDocument) Page() playwright.Page {
	return d.page
}

func (d *PageDocument) Text(selector string) (string, error) {
	return d.NthText(selector, 0)
}

func (d *PageDocument) NthText(selector string, idx int) (string, error) {
	locator := d.page.Locator(selector)
	count, err := locator.Count()
	if err != nil {
		return "", errs.New(errs.ErrIncorrectData, err)
	}
	if idx < 0 || idx >= count {
		return "", errs.QueryNotFound(selector, nil)
	}
	text, err := locator.Nth(idx).TextContent()
	if err != nil {
		return "", errs.QueryNotFound(selector, err)
	}
	return strings.TrimSpace(text), nil
}

func (d *PageDocument) NthAttr(selector string, idx int, attr string) (string, error) {
	locator := d.page.Locator(selector)
	count, err := locator.Count()
	if err != nil {
		return "", errs.New(errs.ErrIncorrectData, err)
	}
	if idx < 0 || idx >= count {
		return "", errs.QueryNotFound(selector, nil)
	}
	value, err := locator.Nth(idx).GetAttribute(attr)
	if err != nil {
		return "", errs.QueryNotFound(selector+"@"+attr, err)
	}
	return strings.TrimSpace(value), nil
}

func (d *PageDocument) Count(selector string) (int, error) {
	count, err := d.page.Locator(selector).Count()
	if err != nil {
		return 0, errs.New(errs.ErrIncorrectData, err)
	}
	return count, nil
}

func (d *PageDocument) HTML() (string, error) {
	return d.page.Content()
}
