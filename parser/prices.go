package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/go-scrape-listings/models"
)

var (
	pricePattern = regexp.MustCompile(`\$(\d{1,3}(?:,\d{3})*|\d+)\.(\d\d)\b`)
	unitPattern  = regexp.MustCompile(`/(.*)\)`)
)

// Prices is the classified price content of one product container.
type Prices struct {
	Main    models.PriceSet
	PerUnit models.PriceSet
	Units   models.UnitSet
}

// ClassifyPrices scans every currency text fragment in container. Struck
// through and zero amounts are dropped, parenthesized fragments with a "/"
// are per-unit prices, everything else is a main price.
func ClassifyPrices(container *goquery.Selection) Prices {
	var p Prices
	for _, root := range container.Nodes {
		walkText(root, func(n *html.Node) {
			p.classify(n)
		})
	}
	return p
}

func (p *Prices) classify(n *html.Node) {
	value, ok := parsePrice(n.Data)
	if !ok || value == 0 || isStruck(n) {
		return
	}

	text := strings.TrimSpace(n.Data)
	if strings.HasPrefix(text, "(") && strings.Contains(text, "/") {
		p.PerUnit = p.PerUnit.Add(value)
		if u := unitPattern.FindStringSubmatch(text); u != nil {
			if unit := strings.TrimSpace(u[1]); unit != "" {
				p.Units = p.Units.Add(unit)
			}
		}
		return
	}
	p.Main = p.Main.Add(value)
}

// parsePrice reads the first dollar amount in text. Commas only group
// thousands, so a figure without a cents part is not a price.
func parsePrice(text string) (float64, bool) {
	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "")+"."+m[2], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// isStruck reports whether the element holding n, or its parent, marks a
// was-price.
func isStruck(n *html.Node) bool {
	el := n.Parent
	for depth := 0; depth < 2 && el != nil; depth++ {
		if el.Type == html.ElementNode && strikeElement(el) {
			return true
		}
		el = el.Parent
	}
	return false
}

func strikeElement(el *html.Node) bool {
	switch el.Data {
	case "s", "del", "strike":
		return true
	}
	for _, a := range el.Attr {
		switch a.Key {
		case "data-a-strike":
			if a.Val == "true" {
				return true
			}
		case "class":
			for _, c := range strings.Fields(a.Val) {
				if c == "a-text-strike" {
					return true
				}
			}
		}
	}
	return false
}

func walkText(n *html.Node, fn func(*html.Node)) {
	switch n.Type {
	case html.TextNode:
		fn(n)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, fn)
	}
}
