package config

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultUserAgents is the identity pool the fetcher cycles through.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Linux; Android 7.0; SM-A520F Build/NRD90M; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/65.0.3325.109 Mobile Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_13_5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/67.0.3396.79 Safari/537.36",
}

// Config holds scraper configuration.
type Config struct {
	BaseURL       string
	Keywords      string
	StartURL      string
	TargetCount   int
	MaxAttempts   int
	RetryDelay    time.Duration
	RetryDelayMax time.Duration
	Delay         time.Duration
	RandomDelay   time.Duration
	Timeout       time.Duration
	UserAgents    []string
	ChromeTLS     bool
	OutputFile    string
	OutputFormat  string // csv, json, or dual
	DedupeMaxSize int
	BatchSize     int
	Verbose       bool
	MetricsAddr   string
}

// DefaultConfig returns the defaults used against the live site.
func DefaultConfig() *Config {
	agents := make([]string, len(DefaultUserAgents))
	copy(agents, DefaultUserAgents)
	return &Config{
		BaseURL:       "https://www.amazon.com/",
		TargetCount:   100,
		MaxAttempts:   5,
		RetryDelay:    time.Second,
		RetryDelayMax: time.Second,
		Delay:         0,
		RandomDelay:   0,
		Timeout:       30 * time.Second,
		UserAgents:    agents,
		ChromeTLS:     false,
		OutputFile:    "-",
		OutputFormat:  "json",
		DedupeMaxSize: 10000,
		BatchSize:     32,
		Verbose:       false,
		MetricsAddr:   "",
	}
}

// StartingURL returns the explicit start URL, or the search URL built from
// the keywords when no URL was given.
func (c *Config) StartingURL() (string, error) {
	if c.StartURL != "" {
		return c.StartURL, nil
	}
	return SearchURL(c.BaseURL, c.Keywords)
}

// SearchURL builds the listing search URL for keywords against base.
func SearchURL(base, keywords string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	ref := &url.URL{Path: "s", RawQuery: url.Values{"k": []string{keywords}}.Encode()}
	return parsed.ResolveReference(ref).String(), nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.Keywords == "" && c.StartURL == "" {
		return fmt.Errorf("either keywords or start URL is required")
	}
	if c.Keywords != "" && c.StartURL != "" {
		return fmt.Errorf("keywords and start URL are mutually exclusive")
	}
	if c.StartURL != "" {
		start, err := url.Parse(c.StartURL)
		if err != nil {
			return fmt.Errorf("invalid start URL: %w", err)
		}
		if start.Host == "" {
			return fmt.Errorf("start URL must include a host")
		}
	}

	if c.TargetCount <= 0 {
		return fmt.Errorf("target count must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.RetryDelayMax < 0 {
		return fmt.Errorf("retry delay max cannot be negative")
	}
	if c.RetryDelayMax > 0 && c.RetryDelay > c.RetryDelayMax {
		return fmt.Errorf("retry delay (%s) cannot exceed retry delay max (%s)", c.RetryDelay, c.RetryDelayMax)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("user agent pool cannot be empty")
	}
	for i, ua := range c.UserAgents {
		if ua == "" {
			return fmt.Errorf("user agent %d cannot be empty", i)
		}
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.OutputFormat == "dual" && c.OutputFile == "-" {
		return fmt.Errorf("dual output requires a file path")
	}
	if c.DedupeMaxSize < 0 {
		return fmt.Errorf("dedupe max size cannot be negative")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}

	return nil
}
