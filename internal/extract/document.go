// internal/extract/document.go
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/velcourt/pageharvest/pkg/types"
)

// Document is the pluggable query capability: given a selector it returns
// zero or more matched values. Implementations wrap whatever parsed the
// raw page; the engine never touches a parser directly.
type Document interface {
	// Text returns the first match's text. ok is false when the selector
	// matches zero elements.
	Text(selector string) (value string, ok bool)
	// Attr returns the named attribute of the first match. ok is false
	// when nothing matches or the attribute is absent.
	Attr(selector, attribute string) (value string, ok bool)
	// TextAll returns the text of every match, possibly empty.
	TextAll(selector string) []string
	// AttrAll returns the named attribute of every match that carries it.
	AttrAll(selector, attribute string) []string
}

// htmlDocument implements Document over a goquery parse tree
type htmlDocument struct {
	doc *goquery.Document
}

// ParseDocument parses a raw fetched document into a queryable Document
func ParseDocument(raw *types.RawDocument) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document from %s: %w", raw.URL, err)
	}
	return &htmlDocument{doc: doc}, nil
}

// ParseHTML parses a raw HTML string. Intended for tests and callers that
// already hold the markup.
func ParseHTML(html string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &htmlDocument{doc: doc}, nil
}

func (d *htmlDocument) Text(selector string) (string, bool) {
	sel := d.doc.Find(selector)
	if sel.Length() == 0 {
		return "", false
	}
	return sel.First().Text(), true
}

func (d *htmlDocument) Attr(selector, attribute string) (string, bool) {
	sel := d.doc.Find(selector)
	if sel.Length() == 0 {
		return "", false
	}
	return sel.First().Attr(attribute)
}

func (d *htmlDocument) TextAll(selector string) []string {
	var values []string
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		values = append(values, s.Text())
	})
	return values
}

func (d *htmlDocument) AttrAll(selector, attribute string) []string {
	var values []string
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attribute); ok {
			values = append(values, v)
		}
	})
	return values
}
