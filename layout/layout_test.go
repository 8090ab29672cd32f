package layout

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const twoSchemaCatalog = `
pagination_schema: a
schemas:
  - name: a
    product: "div.card-a"
    next_page: "li.next > a[href]"
  - name: b
    product: "div.card-b"
    next_page: "a.other-next"
fields:
  title: ["h5 span"]
  review_count: ["span.count"]
  url: ["a[href]"]
  image: ["img[src]"]
`

func mustDoc(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func TestResolvePicksFirstMatchingSchema(t *testing.T) {
	catalog, err := Load([]byte(twoSchemaCatalog))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	doc := mustDoc(t, `<html><body>
		<div class="card-b">one</div>
		<div class="card-b">two</div>
	</body></html>`)

	schema, containers, ok := catalog.Resolve(doc)
	if !ok {
		t.Fatalf("expected a schema match")
	}
	if schema.Name != "b" {
		t.Fatalf("schema = %q, want b", schema.Name)
	}
	if containers.Length() != 2 {
		t.Fatalf("containers = %d, want 2", containers.Length())
	}
}

func TestResolveNeverMergesSchemas(t *testing.T) {
	catalog, err := Load([]byte(twoSchemaCatalog))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	doc := mustDoc(t, `<html><body>
		<div class="card-a">a1</div>
		<div class="card-b">b1</div>
		<div class="card-b">b2</div>
	</body></html>`)

	schema, containers, ok := catalog.Resolve(doc)
	if !ok || schema.Name != "a" {
		t.Fatalf("schema = %q (ok=%v), want a", schema.Name, ok)
	}
	if containers.Length() != 1 || strings.TrimSpace(containers.Text()) != "a1" {
		t.Fatalf("containers = %d %q, want only the a container", containers.Length(), containers.Text())
	}
}

func TestResolveNoMatch(t *testing.T) {
	doc := mustDoc(t, `<html><body><p>nothing here</p></body></html>`)
	schema, containers, ok := Default().Resolve(doc)
	if ok {
		t.Fatalf("expected no match, got %q", schema.Name)
	}
	if containers == nil || containers.Length() != 0 {
		t.Fatalf("expected an empty selection")
	}
}

func TestDefaultCatalogOrder(t *testing.T) {
	c := Default()
	want := []string{"mobile", "mobile_grid", "desktop", "desktop_2"}
	if len(c.Schemas) != len(want) {
		t.Fatalf("schemas = %d, want %d", len(c.Schemas), len(want))
	}
	for i, name := range want {
		if c.Schemas[i].Name != name {
			t.Fatalf("schema[%d] = %q, want %q", i, c.Schemas[i].Name, name)
		}
	}
	mobile, _ := c.Schema("mobile")
	if c.NextPageSelector() != mobile.NextPage {
		t.Fatalf("next page selector = %q, want mobile's %q", c.NextPageSelector(), mobile.NextPage)
	}
	if got := c.Fields.Title[0]; got != "h5 span" {
		t.Fatalf("first title fallback = %q", got)
	}
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "empty", yaml: "schemas: []", wantErr: "no schemas"},
		{
			name: "duplicate",
			yaml: `pagination_schema: a
schemas:
  - {name: a, product: "div", next_page: "a"}
  - {name: a, product: "li", next_page: "a"}`,
			wantErr: "duplicate",
		},
		{
			name: "bad selector",
			yaml: `pagination_schema: a
schemas:
  - {name: a, product: "div[", next_page: "a"}`,
			wantErr: "selector",
		},
		{
			name: "missing pagination schema",
			yaml: `pagination_schema: z
schemas:
  - {name: a, product: "div", next_page: "a"}`,
			wantErr: "pagination schema",
		},
		{
			name: "pagination schema without next page",
			yaml: `pagination_schema: b
schemas:
  - {name: a, product: "div", next_page: "a"}
  - {name: b, product: "li"}`,
			wantErr: "pagination schema",
		},
		{
			name: "no field fallbacks",
			yaml: `pagination_schema: a
schemas:
  - {name: a, product: "div", next_page: "a"}`,
			wantErr: "field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
