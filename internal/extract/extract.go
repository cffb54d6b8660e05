// Package extract pulls the product name out of a product page.
package extract

import (
	"bytes"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNotFound is returned when no rule yields a non-empty name.
var ErrNotFound = errors.New("no selectors matched")

// Rule is a single CSS selector tried against the document.
type Rule struct {
	Name     string
	Selector string
}

// DefaultRules lists the product-name selectors in priority order.
var DefaultRules = []Rule{
	{Name: "h1.product-name", Selector: "h1.product-name"},
	{Name: ".product-title", Selector: ".product-title"},
	{Name: ".product_title", Selector: ".product_title"},
	{Name: "h1", Selector: "h1"},
}

// Extractor applies rules in order; the first non-empty match wins.
type Extractor struct {
	rules []Rule
}

// New builds an Extractor. With no rules it uses DefaultRules.
func New(rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Extractor{rules: rules}
}

// Extract returns the matched text and the name of the rule that matched.
func (e *Extractor) Extract(body []byte) (value, rule string, err error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", "", ErrNotFound
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", ErrNotFound
	}
	for _, r := range e.rules {
		sel := doc.Find(r.Selector).First()
		if sel.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			return text, r.Name, nil
		}
	}
	if ClientRendered(body) {
		return "", "", ErrClientRendered
	}
	return "", "", ErrNotFound
}
