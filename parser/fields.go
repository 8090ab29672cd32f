package parser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-listings/layout"
	"github.com/aluiziolira/go-scrape-listings/models"
)

var (
	ratingPattern   = regexp.MustCompile(`(\d.\d) out of 5`)
	thumbnailSuffix = regexp.MustCompile(`\._AC_.*?\.jpg`)
)

// Extractor pulls product fields out of a single container. Every field has
// its own ordered candidate list; the first candidate that yields a usable
// value wins.
type Extractor struct {
	fields layout.FieldSelectors
}

// NewExtractor builds an extractor over the given field fallbacks.
func NewExtractor(fields layout.FieldSelectors) *Extractor {
	return &Extractor{fields: fields}
}

// Extract builds a full record for container. base resolves relative links.
func (x *Extractor) Extract(container *goquery.Selection, base *url.URL) models.ProductRecord {
	listingURL := x.ListingURL(container, base)
	prices := ClassifyPrices(container)
	return models.ProductRecord{
		Title:         x.Title(container),
		Rating:        Rating(container),
		ReviewCount:   x.ReviewCount(container),
		ImageURL:      x.ImageURL(container),
		ListingURL:    listingURL,
		Identifier:    Identifier(listingURL),
		MainPrices:    prices.Main,
		PerUnitPrices: prices.PerUnit,
		PriceUnits:    prices.Units,
	}
}

// Title returns the first non-empty title candidate, or models.TitleNotFound.
func (x *Extractor) Title(container *goquery.Selection) string {
	for _, sel := range x.fields.Title {
		if text, _ := selectText(container, sel); text != "" {
			return NormalizeSpace(text)
		}
	}
	return models.TitleNotFound
}

// Rating searches the container markup for an "X.Y out of 5" phrase.
func Rating(container *goquery.Selection) models.Rating {
	markup, err := goquery.OuterHtml(container)
	if err != nil {
		return models.Rating{}
	}
	m := ratingPattern.FindStringSubmatch(markup)
	if m == nil {
		return models.Rating{}
	}
	value, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil || value < 0 || value > 5 {
		return models.Rating{}
	}
	return models.NewRating(value)
}

// ReviewCount tries each candidate in order and keeps the first one that
// parses as a non-negative integer once thousands separators are removed.
func (x *Extractor) ReviewCount(container *goquery.Selection) models.ReviewCount {
	for _, sel := range x.fields.ReviewCount {
		text, ok := selectText(container, sel)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(text, ",", ""))
		if err != nil || n < 0 {
			continue
		}
		return models.NewReviewCount(n)
	}
	return models.ReviewCount{}
}

// ImageURL returns the first image source, upgraded to the full-size variant.
func (x *Extractor) ImageURL(container *goquery.Selection) string {
	for _, sel := range x.fields.Image {
		if src := selectAttr(container, sel, "src"); src != "" {
			return HighResImageURL(src)
		}
	}
	return ""
}

// ListingURL returns the first product link resolved against base.
func (x *Extractor) ListingURL(container *goquery.Selection, base *url.URL) string {
	for _, sel := range x.fields.URL {
		href := selectAttr(container, sel, "href")
		if href == "" {
			continue
		}
		if base == nil {
			return href
		}
		resolved, err := base.Parse(href)
		if err != nil {
			continue
		}
		return resolved.String()
	}
	return ""
}

// HighResImageURL strips the thumbnail size modifier from an image URL.
func HighResImageURL(src string) string {
	return thumbnailSuffix.ReplaceAllString(src, ".jpg")
}

// Identifier derives the product token from the last path segment of a
// listing URL. Query and fragment are ignored.
func Identifier(listingURL string) string {
	if listingURL == "" {
		return ""
	}
	path := listingURL
	if u, err := url.Parse(listingURL); err == nil {
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// selectText returns the trimmed text of the first match. ok is false when
// nothing matched.
func selectText(container *goquery.Selection, sel string) (string, bool) {
	found := container.Find(sel)
	if found.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(found.First().Text()), true
}

func selectAttr(container *goquery.Selection, sel, attr string) string {
	value, _ := container.Find(sel).First().Attr(attr)
	return strings.TrimSpace(value)
}
