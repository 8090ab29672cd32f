package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/layout"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/parser"
)

const noSchema = "none"

// AggregationState is the progress of one collection session. The caller
// owns it; every Step takes the current state and returns its successor.
type AggregationState struct {
	Records      []models.ProductRecord
	URL          string // next page to fetch, empty once pagination ends
	Target       int
	Pages        int
	Requests     int
	Retries      int
	ErrorsByType map[string]int
	SchemaHits   map[string]int
}

// NewAggregationState starts a session at startURL aiming for target records.
func NewAggregationState(startURL string, target int) AggregationState {
	return AggregationState{
		URL:          startURL,
		Target:       target,
		ErrorsByType: make(map[string]int),
		SchemaHits:   make(map[string]int),
	}
}

// Done reports whether the session reached its target or ran out of pages.
func (s AggregationState) Done() bool {
	return s.URL == "" || len(s.Records) >= s.Target
}

// Collector walks listing pages and turns them into product records.
type Collector struct {
	cfg       *config.Config
	fetcher   *Fetcher
	catalog   *layout.Catalog
	extractor *parser.Extractor
	Metrics   *Metrics
}

// NewCollector builds a collector with the embedded layout catalog.
func NewCollector(cfg *config.Config) (*Collector, error) {
	return NewCollectorWithCatalog(cfg, layout.Default())
}

// NewCollectorWithCatalog builds a collector over a custom layout catalog.
func NewCollectorWithCatalog(cfg *config.Config, catalog *layout.Catalog) (*Collector, error) {
	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	return &Collector{
		cfg:       cfg,
		fetcher:   fetcher,
		catalog:   catalog,
		extractor: parser.NewExtractor(catalog.Fields),
		Metrics:   metrics,
	}, nil
}

// CollectKeywords searches for keywords and collects up to target records.
func (c *Collector) CollectKeywords(ctx context.Context, keywords string, target int) (*models.CollectResult, error) {
	startURL, err := config.SearchURL(c.cfg.BaseURL, keywords)
	if err != nil {
		return nil, err
	}
	return c.Collect(ctx, startURL, target)
}

// Collect follows next-page links from startURL until target records exist
// or no next page is found. A short result is not an error. If a page cannot
// be fetched the session ends; the result still holds the records gathered
// from earlier pages.
func (c *Collector) Collect(ctx context.Context, startURL string, target int) (*models.CollectResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if target <= 0 {
		return nil, fmt.Errorf("target count must be positive, got %d", target)
	}
	if strings.TrimSpace(startURL) == "" {
		return nil, fmt.Errorf("start url cannot be empty")
	}

	start := time.Now()
	state := NewAggregationState(startURL, target)

	var err error
	for !state.Done() {
		state, err = c.Step(ctx, state)
		if err != nil {
			break
		}
	}

	result := &models.CollectResult{
		Records:      state.Records,
		StartURL:     startURL,
		StartTime:    start,
		EndTime:      time.Now(),
		PageCount:    state.Pages,
		RequestCount: state.Requests,
		RetryCount:   state.Retries,
		ErrorsByType: state.ErrorsByType,
		SchemaHits:   state.SchemaHits,
	}
	if err != nil {
		return result, fmt.Errorf("collect %s: %w", startURL, err)
	}
	return result, nil
}

// Step fetches the page at state.URL, appends its records and advances to
// the next page.
func (c *Collector) Step(ctx context.Context, state AggregationState) (AggregationState, error) {
	if state.Done() {
		return state, nil
	}
	// Appends must never land in the caller's backing array.
	state.Records = slices.Clip(state.Records)
	state.ErrorsByType = cloneCounts(state.ErrorsByType)
	state.SchemaHits = cloneCounts(state.SchemaHits)

	page, err := c.fetcher.Fetch(ctx, state.URL)
	if err != nil {
		var exhausted *FetchExhaustedError
		if errors.As(err, &exhausted) {
			state.Requests += exhausted.Attempts
			state.Retries += exhausted.Attempts - 1
			countFailures(state.ErrorsByType, exhausted.Failures)
		}
		return state, err
	}
	state.Requests += page.Attempts
	state.Retries += page.Attempts - 1
	countFailures(state.ErrorsByType, page.Failures)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return state, fmt.Errorf("parse page %s: %w", page.URL, err)
	}
	state.Pages++

	schema, containers, ok := c.catalog.Resolve(doc)
	schemaName := schema.Name
	if !ok {
		schemaName = noSchema
	}
	state.SchemaHits[schemaName]++
	c.Metrics.IncPage(schemaName)

	before := len(state.Records)
	containers.EachWithBreak(func(_ int, container *goquery.Selection) bool {
		if len(state.Records) >= state.Target {
			return false
		}
		record := c.extractor.Extract(container, page.URL)
		record.Schema = schemaName
		record.Page = state.Pages
		state.Records = append(state.Records, record)
		return true
	})
	added := len(state.Records) - before
	c.Metrics.AddRecords(added)

	state.URL = ""
	if href, exists := doc.Find(c.catalog.NextPageSelector()).First().Attr("href"); exists && strings.TrimSpace(href) != "" {
		if next, err := page.URL.Parse(strings.TrimSpace(href)); err == nil {
			state.URL = next.String()
		}
	}

	slog.Debug("listing page processed",
		slog.String("url", page.URL.String()),
		slog.Int("page", state.Pages),
		slog.String("schema", schemaName),
		slog.Int("records", added),
		slog.Int("total", len(state.Records)),
		slog.Bool("has_next", state.URL != ""),
	)
	return state, nil
}

// Fetcher exposes the session's page fetcher.
func (c *Collector) Fetcher() *Fetcher {
	return c.fetcher
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return make(map[string]int)
	}
	return maps.Clone(m)
}

func countFailures(into map[string]int, failures []error) {
	for _, err := range failures {
		into[errorTypeLabel(err)]++
	}
}
