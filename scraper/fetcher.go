package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-listings/config"
)

// blockPhrases mark pages that deny normal access.
var blockPhrases = []string{
	"Sign in for the best experience",
	"The request could not be satisfied.",
	"Robot Check",
}

const (
	acceptHeader   = "text/html,application/xhtml+xml, application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8"
	languageHeader = "en-US,en;q=0.9"

	ctxStatus = "status"
	ctxBody   = "body"
)

// Page is a listing page that passed the block-page check.
type Page struct {
	URL        *url.URL
	Body       []byte
	StatusCode int
	Attempts   int
	Failures   []error
}

// fetchAttempt is the bookkeeping for one Fetch call.
type fetchAttempt struct {
	count    int
	identity int
	failures []error
}

// Fetcher issues one GET at a time, rotating through a fixed pool of client
// identities whenever an attempt fails. A Fetcher belongs to one session.
type Fetcher struct {
	collector   *colly.Collector
	identities  []string
	maxAttempts int
	retry       retrypolicy.RetryPolicy[*Page]
	metrics     *Metrics

	mu        sync.Mutex
	identity  int
	rotations int
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	if len(cfg.UserAgents) == 0 {
		return nil, fmt.Errorf("user agent pool cannot be empty")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}

	collector := colly.NewCollector(colly.AllowURLRevisit())
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(newTransport(cfg, nil))

	if cfg.Delay > 0 || cfg.RandomDelay > 0 {
		if err := collector.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: 1,
			Delay:       cfg.Delay,
			RandomDelay: cfg.RandomDelay,
		}); err != nil {
			return nil, fmt.Errorf("configure rate limits: %w", err)
		}
	}

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxBody, r.Body)
	})

	identities := make([]string, len(cfg.UserAgents))
	copy(identities, cfg.UserAgents)

	return &Fetcher{
		collector:   collector,
		identities:  identities,
		maxAttempts: cfg.MaxAttempts,
		retry:       newRetryPolicy(cfg),
		metrics:     metrics,
	}, nil
}

func newRetryPolicy(cfg *config.Config) retrypolicy.RetryPolicy[*Page] {
	builder := retrypolicy.NewBuilder[*Page]().
		WithMaxRetries(cfg.MaxAttempts - 1)
	if cfg.RetryDelayMax > cfg.RetryDelay && cfg.RetryDelay > 0 {
		builder = builder.WithBackoff(cfg.RetryDelay, cfg.RetryDelayMax)
	} else {
		builder = builder.WithDelay(cfg.RetryDelay)
	}
	return builder.Build()
}

// Fetch returns the first valid page for rawURL. Bad statuses, transport
// errors and block pages each rotate the identity and are retried after the
// configured delay. When the attempt budget runs out the error is a
// *FetchExhaustedError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if !target.IsAbs() {
		return nil, fmt.Errorf("page url %q is not absolute", rawURL)
	}

	attempt := &fetchAttempt{}
	page, err := failsafe.With(f.retry).WithContext(ctx).Get(func() (*Page, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempt.count++
		if attempt.count > 1 {
			f.metrics.IncRetries()
		}
		attempt.identity = f.currentIdentity()

		page, err := f.do(target, f.identities[attempt.identity])
		if err != nil {
			attempt.failures = append(attempt.failures, err)
			category := errorTypeLabel(err)
			f.metrics.IncError(category)
			slog.Warn("fetch attempt failed",
				slog.String("url", rawURL),
				slog.Int("attempt", attempt.count),
				slog.Int("identity", attempt.identity),
				slog.String("category", category),
				slog.Any("error", err),
			)
			f.rotate()
			return nil, err
		}
		page.Attempts = attempt.count
		page.Failures = attempt.failures
		return page, nil
	})
	if err == nil {
		return page, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, &FetchExhaustedError{
		URL:      rawURL,
		Attempts: attempt.count,
		Failures: attempt.failures,
	}
}

func (f *Fetcher) do(target *url.URL, userAgent string) (*Page, error) {
	hdr := http.Header{}
	hdr.Set("User-Agent", userAgent)
	hdr.Set("Accept", acceptHeader)
	hdr.Set("Accept-Language", languageHeader)

	reqCtx := colly.NewContext()
	start := time.Now()
	err := f.collector.Request(http.MethodGet, target.String(), nil, reqCtx, hdr)
	f.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		f.metrics.IncRequest("error")
		return nil, classifyError(err, 0)
	}

	status, _ := reqCtx.GetAny(ctxStatus).(int)
	body, _ := reqCtx.GetAny(ctxBody).([]byte)
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		f.metrics.IncRequest("bad_status")
		return nil, classifyError(nil, status)
	}
	if phrase, blocked := blockedBy(body); blocked {
		f.metrics.IncRequest("blocked")
		return nil, ErrBlocked{Phrase: phrase}
	}

	f.metrics.IncRequest("ok")
	return &Page{URL: target, Body: body, StatusCode: status}, nil
}

// blockedBy reports the first block phrase found in body.
func blockedBy(body []byte) (string, bool) {
	for _, phrase := range blockPhrases {
		if bytes.Contains(body, []byte(phrase)) {
			return phrase, true
		}
	}
	return "", false
}

func (f *Fetcher) currentIdentity() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity
}

func (f *Fetcher) rotate() {
	f.mu.Lock()
	f.identity = (f.identity + 1) % len(f.identities)
	f.rotations++
	f.mu.Unlock()
	f.metrics.IncRotation()
}

// Identity returns the user agent the next request will carry.
func (f *Fetcher) Identity() string {
	return f.identities[f.currentIdentity()]
}

// Rotations returns how many times the identity has been rotated.
func (f *Fetcher) Rotations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotations
}
