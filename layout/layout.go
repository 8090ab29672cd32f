// Package layout holds the known page layouts of the listing site and picks
// the one that matches a fetched page.
package layout

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Schema is one named selector set describing a page layout variant.
type Schema struct {
	Name        string `yaml:"name"`
	Product     string `yaml:"product"`
	Title       string `yaml:"title"`
	Rating      string `yaml:"rating"`
	ReviewCount string `yaml:"review_count"`
	URL         string `yaml:"url"`
	Image       string `yaml:"image"`
	NextPage    string `yaml:"next_page"`
}

// FieldSelectors lists, per field, the candidate selectors tried in order
// inside a product container.
type FieldSelectors struct {
	Title       []string `yaml:"title"`
	ReviewCount []string `yaml:"review_count"`
	URL         []string `yaml:"url"`
	Image       []string `yaml:"image"`
}

// Catalog is the ordered list of schemas plus the field fallbacks.
type Catalog struct {
	PaginationSchema string         `yaml:"pagination_schema"`
	Schemas          []Schema       `yaml:"schemas"`
	Fields           FieldSelectors `yaml:"fields"`

	nextPage string
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	return MustLoad(embeddedCatalog)
})

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	return defaultCatalog()
}

// Load decodes and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode layout catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// MustLoad is like Load but panics on error.
func MustLoad(data []byte) *Catalog {
	c, err := Load(data)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) validate() error {
	if len(c.Schemas) == 0 {
		return errors.New("layout catalog has no schemas")
	}

	seen := make(map[string]struct{}, len(c.Schemas))
	for i, s := range c.Schemas {
		if s.Name == "" {
			return fmt.Errorf("schema %d has no name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate schema %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Product == "" {
			return fmt.Errorf("schema %q has no product selector", s.Name)
		}
		for _, sel := range []string{s.Product, s.Title, s.Rating, s.ReviewCount, s.URL, s.Image, s.NextPage} {
			if err := compile(sel); err != nil {
				return fmt.Errorf("schema %q: %w", s.Name, err)
			}
		}
	}
	pagination, ok := c.Schema(c.PaginationSchema)
	if !ok || pagination.NextPage == "" {
		return fmt.Errorf("pagination schema %q missing or has no next_page selector", c.PaginationSchema)
	}
	c.nextPage = pagination.NextPage

	groups := map[string][]string{
		"title":        c.Fields.Title,
		"review_count": c.Fields.ReviewCount,
		"url":          c.Fields.URL,
		"image":        c.Fields.Image,
	}
	for field, sels := range groups {
		if len(sels) == 0 {
			return fmt.Errorf("field %q has no selectors", field)
		}
		for _, sel := range sels {
			if err := compile(sel); err != nil {
				return fmt.Errorf("field %q: %w", field, err)
			}
		}
	}
	return nil
}

func compile(sel string) error {
	if sel == "" {
		return nil
	}
	if _, err := cascadia.Compile(sel); err != nil {
		return fmt.Errorf("selector %q: %w", sel, err)
	}
	return nil
}

// Resolve returns the first schema, in catalog order, whose product selector
// matches at least one node in doc, together with the matched containers.
// ok is false when no schema matches; containers is then empty.
func (c *Catalog) Resolve(doc *goquery.Document) (schema Schema, containers *goquery.Selection, ok bool) {
	for _, s := range c.Schemas {
		found := doc.Find(s.Product)
		if found.Length() > 0 {
			return s, found, true
		}
	}
	return Schema{}, doc.FindNodes(), false
}

// NextPageSelector is the pagination selector used for every page,
// regardless of which schema matched its containers.
func (c *Catalog) NextPageSelector() string {
	return c.nextPage
}

// Schema looks up a schema by name.
func (c *Catalog) Schema(name string) (Schema, bool) {
	for _, s := range c.Schemas {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}
