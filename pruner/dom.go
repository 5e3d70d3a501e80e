package pruner

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// interactiveSelectors are the element kinds an agent can act on, in the
// order they are harvested from the page.
var interactiveSelectors = []string{
	"button",
	"a",
	"input",
	"select",
	"textarea",
	"form",
	"[role=button]",
	"[role=link]",
	"[onclick]",
}

// keptAttributes are the attributes that identify an element to an agent.
var keptAttributes = []string{"id", "name", "type", "placeholder", "aria-label", "role", "href", "value"}

const maxElementText = 80

// extractInteractiveElements reduces raw HTML to a line-per-element skeleton
// of the interactive surface, capped per selector and in total.
func (p *Pruner) extractInteractiveElements(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	total := 0
	for _, selector := range interactiveSelectors {
		if total >= p.cfg.MaxTotalElements {
			break
		}

		count := 0
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if count >= p.cfg.MaxElementsPerSelector || total >= p.cfg.MaxTotalElements {
				return false
			}
			b.WriteString(renderElement(sel))
			b.WriteString("\n")
			count++
			total++
			return true
		})
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

// renderElement formats one element as a compact pseudo-tag keeping only the
// attributes and text an agent needs to target it.
func renderElement(sel *goquery.Selection) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(goquery.NodeName(sel))

	for _, attr := range keptAttributes {
		if v, ok := sel.Attr(attr); ok && v != "" {
			fmt.Fprintf(&b, " %s=%q", attr, v)
		}
	}

	text := strings.Join(strings.Fields(sel.Text()), " ")
	if len(text) > maxElementText {
		text = text[:maxElementText]
	}
	if text != "" {
		b.WriteString(">")
		b.WriteString(text)
	} else {
		b.WriteString(">")
	}

	return b.String()
}
