package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
)

func newTestCollector(t *testing.T, cfg *config.Config, transport http.RoundTripper) *Collector {
	t.Helper()
	c, err := NewCollector(cfg)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	c.fetcher.collector.WithTransport(transport)
	return c
}

// buildListingPage renders a mobile-layout listing page with count products
// numbered from first, and a next-page link when next is non-empty.
func buildListingPage(first, count int, next string) string {
	var builder strings.Builder
	builder.WriteString(`<html><body><ul id="resultItems">`)

	for id := first; id < first+count; id++ {
		builder.WriteString("<li>")
		fmt.Fprintf(&builder, `<a href="/Widget-%d/dp/B%07d?ref=sr_1_%d">`, id, id, id)
		fmt.Fprintf(&builder, `<img src="https://images.example.test/I/%d._AC_UY218_.jpg">`, id)
		builder.WriteString(`<div><div class="sx-table-detail">`)
		fmt.Fprintf(&builder, `<h5><span>Widget %d</span></h5>`, id)
		builder.WriteString(`<div class="a-icon-row a-size-small"><i><span>4.5 out of 5 stars</span></i></div>`)
		builder.WriteString(`</div></div></a>`)
		fmt.Fprintf(&builder, `<div class="a-row a-size-small"><span class="a-size-base">%d,000</span></div>`, id)
		fmt.Fprintf(&builder, `<span class="a-price"><span class="a-offscreen">$%d.99</span></span>`, id)
		builder.WriteString("</li>")
	}
	builder.WriteString("</ul>")

	if next != "" {
		fmt.Fprintf(&builder, `<ul class="a-pagination"><li class="a-last"><a href="%s">Next</a></li></ul>`, next)
	}

	builder.WriteString("</body></html>")
	return builder.String()
}

func TestCollectStopsAtTarget(t *testing.T) {
	cfg := testConfig()

	page3 := &recorder{responders: []httpmock.Responder{htmlResponder(http.StatusOK, buildListingPage(8, 5, ""))}}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/listing/1", htmlResponder(http.StatusOK, buildListingPage(1, 3, "/listing/2")))
	transport.RegisterResponder("GET", "http://example.test/listing/2", htmlResponder(http.StatusOK, buildListingPage(4, 4, "/listing/3")))
	transport.RegisterResponder("GET", "http://example.test/listing/3", page3.responder())

	c := newTestCollector(t, cfg, transport)
	result, err := c.Collect(context.Background(), "http://example.test/listing/1", 5)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if got := len(result.Records); got != 5 {
		t.Fatalf("records = %d, want 5", got)
	}
	if calls := len(page3.calls()); calls != 0 {
		t.Fatalf("third page fetched %d times after the target was reached", calls)
	}
	for i, record := range result.Records {
		if want := fmt.Sprintf("Widget %d", i+1); record.Title != want {
			t.Fatalf("record %d title = %q, want %q", i, record.Title, want)
		}
	}
	if result.Records[2].Page != 1 || result.Records[3].Page != 2 {
		t.Fatalf("page numbers = %d/%d, want 1/2", result.Records[2].Page, result.Records[3].Page)
	}
	if result.PageCount != 2 {
		t.Fatalf("pages = %d, want 2", result.PageCount)
	}
}

func TestCollectShortResultIsNotAnError(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/listing/1", htmlResponder(http.StatusOK, buildListingPage(1, 10, "")))

	c := newTestCollector(t, cfg, transport)
	result, err := c.Collect(context.Background(), "http://example.test/listing/1", 1000)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := len(result.Records); got != 10 {
		t.Fatalf("records = %d, want 10", got)
	}
	if transport.GetTotalCallCount() != 1 {
		t.Fatalf("requests = %d, want 1", transport.GetTotalCallCount())
	}
}

func TestCollectRecordFields(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/listing/1", htmlResponder(http.StatusOK, buildListingPage(7, 1, "")))

	c := newTestCollector(t, cfg, transport)
	result, err := c.Collect(context.Background(), "http://example.test/listing/1", 1)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	record := result.Records[0]
	if record.Schema != "mobile" {
		t.Fatalf("schema = %q, want mobile", record.Schema)
	}
	if record.ListingURL != "http://example.test/Widget-7/dp/B0000007?ref=sr_1_7" {
		t.Fatalf("listing url = %q", record.ListingURL)
	}
	if record.Identifier != "B0000007" {
		t.Fatalf("identifier = %q", record.Identifier)
	}
	if record.ImageURL != "https://images.example.test/I/7.jpg" {
		t.Fatalf("image url = %q", record.ImageURL)
	}
	if record.Rating != models.NewRating(4.5) {
		t.Fatalf("rating = %+v", record.Rating)
	}
	if record.ReviewCount != models.NewReviewCount(7000) {
		t.Fatalf("review count = %+v", record.ReviewCount)
	}
	if record.MainPrices.String() != "7.99" {
		t.Fatalf("main prices = %s", record.MainPrices)
	}
}

func TestCollectSchemaMissStillPaginates(t *testing.T) {
	cfg := testConfig()
	empty := `<html><body><p>Sponsored banners only</p>
		<ul class="a-pagination"><li class="a-last"><a href="/listing/2">Next</a></li></ul></body></html>`

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/listing/1", htmlResponder(http.StatusOK, empty))
	transport.RegisterResponder("GET", "http://example.test/listing/2", htmlResponder(http.StatusOK, buildListingPage(1, 2, "")))

	c := newTestCollector(t, cfg, transport)
	result, err := c.Collect(context.Background(), "http://example.test/listing/1", 10)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := len(result.Records); got != 2 {
		t.Fatalf("records = %d, want 2", got)
	}
	if result.SchemaHits[noSchema] != 1 || result.SchemaHits["mobile"] != 1 {
		t.Fatalf("schema hits = %v", result.SchemaHits)
	}
}

func TestCollectDesktopLayout(t *testing.T) {
	cfg := testConfig()
	page := `<html><body><div class="s-result-list sg-row">
		<div class="s-result-item"><div><div class="sg-row"><h5><span>Desk Lamp</span></h5>
			<div class="a-spacing-top-mini"><i><span>3.9 out of 5 stars</span></i><span class="a-size-small">88</span></div></div>
			<a class="a-link-normal" href="/Desk-Lamp/dp/B0LAMP0001">Desk Lamp</a></div>
			<span class="a-price"><span class="a-offscreen">$15.00</span></span>
			<span class="a-price a-text-price" data-a-strike="true"><span class="a-offscreen">$22.00</span></span>
		</div>
	</div></body></html>`

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/listing/1", htmlResponder(http.StatusOK, page))

	c := newTestCollector(t, cfg, transport)
	result, err := c.Collect(context.Background(), "http://example.test/listing/1", 5)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(result.Records))
	}
	record := result.Records[0]
	if record.Schema != "desktop_2" {
		t.Fatalf("schema = %q, want desktop_2", record.Schema)
	}
	if record.Title != "Desk Lamp" || record.Identifier != "B0LAMP0001" {
		t.Fatalf("title/identifier = %q/%q", record.Title, record.Identifier)
	}
	if record.ReviewCount != models.NewReviewCount(88) {
		t.Fatalf("review count = %+v", record.ReviewCount)
	}
	if record.MainPrices.String() != "15.00" {
		t.Fatalf("main prices = %s, want the struck price dropped", record.MainPrices)
	}
}

func TestCollectFetchExhaustedKeepsEarlierRecords(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/listing/1", htmlResponder(http.StatusOK, buildListingPage(1, 3, "/listing/2")))
	transport.RegisterResponder("GET", "http://example.test/listing/2", htmlResponder(http.StatusOK, "<title>Robot Check</title>"))

	c := newTestCollector(t, cfg, transport)
	result, err := c.Collect(context.Background(), "http://example.test/listing/1", 50)
	if !errors.Is(err, ErrFetchExhausted) {
		t.Fatalf("expected ErrFetchExhausted, got %v", err)
	}
	if result == nil || len(result.Records) != 3 {
		t.Fatalf("expected the 3 records of the first page to survive")
	}
	if result.ErrorsByType["blocked"] != cfg.MaxAttempts {
		t.Fatalf("blocked failures = %d, want %d", result.ErrorsByType["blocked"], cfg.MaxAttempts)
	}
	if result.RequestCount != 1+cfg.MaxAttempts {
		t.Fatalf("requests = %d, want %d", result.RequestCount, 1+cfg.MaxAttempts)
	}
	if c.Fetcher().Rotations() != cfg.MaxAttempts {
		t.Fatalf("rotations = %d, want %d", c.Fetcher().Rotations(), cfg.MaxAttempts)
	}
}

func TestCollectKeywordsBuildsSearchURL(t *testing.T) {
	cfg := testConfig()
	var query string
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", `=~^http://example\.test/s`, func(req *http.Request) (*http.Response, error) {
		query = req.URL.Query().Get("k")
		return htmlResponder(http.StatusOK, buildListingPage(1, 2, ""))(req)
	})

	c := newTestCollector(t, cfg, transport)
	result, err := c.CollectKeywords(context.Background(), "usb c hub", 100)
	if err != nil {
		t.Fatalf("collect keywords: %v", err)
	}
	if query != "usb c hub" {
		t.Fatalf("search query = %q, want %q", query, "usb c hub")
	}
	if len(result.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(result.Records))
	}
}

func TestStepThreadsCallerState(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/listing/1", htmlResponder(http.StatusOK, buildListingPage(1, 2, "/listing/2")))

	c := newTestCollector(t, cfg, transport)
	initial := NewAggregationState("http://example.test/listing/1", 10)

	next, err := c.Step(context.Background(), initial)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(initial.Records) != 0 || initial.URL != "http://example.test/listing/1" {
		t.Fatalf("step mutated the caller's state: %+v", initial)
	}
	if len(next.Records) != 2 || next.URL != "http://example.test/listing/2" || next.Pages != 1 {
		t.Fatalf("next state = %d records, url %q, pages %d", len(next.Records), next.URL, next.Pages)
	}

	done := next
	done.URL = ""
	if _, err := c.Step(context.Background(), done); err != nil {
		t.Fatalf("step on a finished state: %v", err)
	}
	if transport.GetTotalCallCount() != 1 {
		t.Fatalf("finished state must not fetch, requests = %d", transport.GetTotalCallCount())
	}
}

func TestStepBranchesFromSharedState(t *testing.T) {
	cfg := testConfig()
	pages := &recorder{responders: []httpmock.Responder{
		htmlResponder(http.StatusOK, buildListingPage(100, 1, "")),
		htmlResponder(http.StatusOK, buildListingPage(200, 1, "")),
	}}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/listing/1", pages.responder())

	c := newTestCollector(t, cfg, transport)

	// Spare capacity lets a plain append write into the shared array.
	base := NewAggregationState("http://example.test/listing/1", 10)
	base.Records = make([]models.ProductRecord, 3, 4)
	for i := range base.Records {
		base.Records[i].Title = fmt.Sprintf("Seed %d", i)
	}

	first, err := c.Step(context.Background(), base)
	if err != nil {
		t.Fatalf("first step: %v", err)
	}
	second, err := c.Step(context.Background(), base)
	if err != nil {
		t.Fatalf("second step: %v", err)
	}

	if got := first.Records[3].Title; got != "Widget 100" {
		t.Fatalf("first branch record = %q, want %q", got, "Widget 100")
	}
	if got := second.Records[3].Title; got != "Widget 200" {
		t.Fatalf("second branch record = %q, want %q", got, "Widget 200")
	}
	if len(base.Records) != 3 || base.Records[2].Title != "Seed 2" {
		t.Fatalf("base state changed: %d records", len(base.Records))
	}
	if base.SchemaHits["mobile"] != 0 || first.SchemaHits["mobile"] != 1 {
		t.Fatalf("schema hits shared between states: base %v first %v", base.SchemaHits, first.SchemaHits)
	}
}

func TestCollectRejectsInvalidArguments(t *testing.T) {
	tests := []struct {
		name     string
		startURL string
		target   int
	}{
		{name: "zero target", startURL: "http://example.test/listing/1", target: 0},
		{name: "negative target", startURL: "http://example.test/listing/1", target: -3},
		{name: "empty url", startURL: "", target: 10},
		{name: "blank url", startURL: "   ", target: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			c := newTestCollector(t, testConfig(), transport)
			result, err := c.Collect(context.Background(), tt.startURL, tt.target)
			if err == nil {
				t.Fatalf("expected an error, got %d records", len(result.Records))
			}
			if transport.GetTotalCallCount() != 0 {
				t.Fatalf("no request should be issued")
			}
		})
	}
}
