package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/maltedev/supplier-scraper/internal/models"
	"github.com/maltedev/supplier-scraper/internal/rules"
)

// XPathPrefix marks a selector that is evaluated as XPath instead of CSS.
const XPathPrefix = "xpath:"

// SelectorParser extracts fields with CSS selectors (goquery) or, for
// selectors prefixed with "xpath:", XPath expressions (htmlquery).
//
// Only the first match of each selector is used and its text content is
// trimmed. A structural fault (unparseable document, invalid selector, panic
// in the selector engine) empties the whole record and is only logged.
type SelectorParser struct {
	logger *slog.Logger
}

func NewSelectorParser(logger *slog.Logger) *SelectorParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &SelectorParser{logger: logger.With("component", "parser")}
}

type compiled struct {
	field models.Field
	css   cascadia.Selector
	xpath *xpath.Expr
}

func (p *SelectorParser) Extract(content []byte, selectors rules.Selectors) (out models.Record) {
	if len(content) == 0 || len(selectors) == 0 {
		return models.Record{}
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("extraction fault", "error", fmt.Sprint(r))
			out = models.Record{}
		}
	}()

	plan, err := compile(selectors)
	if err != nil {
		p.logger.Warn("extraction fault", "error", err)
		return models.Record{}
	}
	if len(plan) == 0 {
		return models.Record{}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		p.logger.Warn("extraction fault", "error", fmt.Errorf("parse html: %w", err))
		return models.Record{}
	}

	var rec models.Record
	for _, c := range plan {
		rec.Set(c.field, c.extract(doc))
	}
	return rec
}

// compile validates every non-empty selector up front so a bad expression
// faults the record before anything is extracted.
func compile(selectors rules.Selectors) ([]compiled, error) {
	plan := make([]compiled, 0, len(models.Fields))
	for _, f := range models.Fields {
		expr := strings.TrimSpace(selectors[f])
		if expr == "" {
			continue
		}

		if strings.HasPrefix(expr, XPathPrefix) {
			xp := strings.TrimSpace(strings.TrimPrefix(expr, XPathPrefix))
			if xp == "" {
				return nil, fmt.Errorf("field %s: empty xpath expression", f)
			}
			xe, err := xpath.Compile(xp)
			if err != nil {
				return nil, fmt.Errorf("field %s: invalid xpath %q: %w", f, xp, err)
			}
			plan = append(plan, compiled{field: f, xpath: xe})
			continue
		}

		sel, err := cascadia.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid selector %q: %w", f, expr, err)
		}
		plan = append(plan, compiled{field: f, css: sel})
	}
	return plan, nil
}

func (c compiled) extract(doc *goquery.Document) string {
	if c.xpath != nil {
		if len(doc.Nodes) == 0 {
			return ""
		}
		node := htmlquery.QuerySelector(doc.Nodes[0], c.xpath)
		if node == nil {
			return ""
		}
		return strings.TrimSpace(htmlquery.InnerText(node))
	}

	sel := doc.FindMatcher(c.css).First()
	if sel.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(sel.Text())
}
