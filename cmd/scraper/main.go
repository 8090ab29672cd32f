package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/pipeline"
	"github.com/aluiziolira/go-scrape-listings/scraper"
)

func main() {
	defaultCfg := config.DefaultConfig()
	defaults, err := envDefaults(defaultCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	keywords := flag.String("keywords", "", "Search keywords (mutually exclusive with -url)")
	startURL := flag.String("url", "", "Listing URL to start from (mutually exclusive with -keywords)")
	count := flag.Int("count", defaults.TargetCount, "Number of products to collect")
	maxAttempts := flag.Int("max-attempts", defaults.MaxAttempts, "Maximum attempts per page")
	retryDelayMs := flag.Int("retry-delay", int(defaults.RetryDelay/time.Millisecond), "Delay between attempts (milliseconds)")
	retryDelayMaxMs := flag.Int("retry-delay-max", int(defaults.RetryDelayMax/time.Millisecond), "Maximum delay between attempts when backing off (milliseconds)")
	delayMs := flag.Int("delay", 0, "Delay between requests (milliseconds)")
	randomDelayMs := flag.Int("random-delay", 0, "Random jitter added to delay (milliseconds)")
	timeoutMs := flag.Int("timeout", int(defaultCfg.Timeout/time.Millisecond), "Per-request timeout (milliseconds)")
	chromeTLS := flag.Bool("chrome-tls", false, "Present a Chrome TLS fingerprint")
	outputFile := flag.String("output", defaults.OutputFile, "Output file path, - for stdout")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, or dual")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Site root used to build search URLs")
	metricsAddr := flag.String("metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()
	cfg.BaseURL = *baseURL
	cfg.Keywords = strings.TrimSpace(*keywords)
	cfg.StartURL = strings.TrimSpace(*startURL)
	cfg.TargetCount = *count
	cfg.MaxAttempts = *maxAttempts
	cfg.RetryDelay = time.Duration(*retryDelayMs) * time.Millisecond
	cfg.RetryDelayMax = time.Duration(*retryDelayMaxMs) * time.Millisecond
	cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
	cfg.Timeout = time.Duration(*timeoutMs) * time.Millisecond
	cfg.ChromeTLS = *chromeTLS
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	start, err := cfg.StartingURL()
	if err != nil {
		slog.Error("building start url", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting collection",
		slog.String("start_url", start),
		slog.Int("target", cfg.TargetCount),
		slog.Int("max_attempts", cfg.MaxAttempts),
	)

	c, err := scraper.NewCollector(cfg)
	if err != nil {
		slog.Error("initialising collector", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	// os.Exit skips deferred calls, so every exit below closes the writer first.
	exit := func(code int) {
		os.Exit(closeWriter(writer, code))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(c.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	startTime := time.Now()
	result, collectErr := c.Collect(ctx, start, cfg.TargetCount)
	if collectErr != nil {
		slog.Error("collection stopped early", slog.Any("error", collectErr))
	}

	// Records gathered before an interrupt are still written.
	p := pipeline.NewPipeline(context.WithoutCancel(ctx), writer, cfg)
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}
	if result != nil {
		for i := range result.Records {
			if err := p.Process(&result.Records[i]); err != nil {
				slog.Error("queue record", slog.Any("error", err))
				break
			}
		}
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if result != nil {
		printSummary(os.Stderr, result, time.Since(startTime), cfg.OutputFile, p.GetMetrics())
	}

	if collectErr != nil {
		exit(1)
	}
	if len(result.Records) > 0 {
		if err := writer.Validate(); err != nil {
			slog.Error("output validation failed", slog.Any("error", err))
			exit(1)
		}
	}
	exit(0)
}

// envDefaults overlays the SCRAPER_* environment variables on the flag
// defaults taken from cfg.
func envDefaults(cfg *config.Config) (*config.Config, error) {
	out := *cfg
	if value, ok, err := config.EnvInt("SCRAPER_COUNT"); err != nil {
		return nil, err
	} else if ok {
		out.TargetCount = value
	}
	if value, ok, err := config.EnvInt("SCRAPER_MAX_ATTEMPTS"); err != nil {
		return nil, err
	} else if ok {
		out.MaxAttempts = value
	}
	if value, ok, err := config.EnvDuration("SCRAPER_RETRY_DELAY"); err != nil {
		return nil, err
	} else if ok {
		out.RetryDelay = value
		out.RetryDelayMax = max(out.RetryDelayMax, value)
	}
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		out.OutputFile = value
	}
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		out.MetricsAddr = value
	}
	return &out, nil
}

// closeWriter closes writer and returns the exit code to use, turning a
// successful run into a failure when the close fails.
func closeWriter(writer pipeline.OutputWriter, code int) int {
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
		return 1
	}
	return code
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(w io.Writer, result *models.CollectResult, duration time.Duration, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Collection complete")

	written := int64(0)
	if processed, ok := metrics["processed_records"].(int64); ok {
		written = processed
	}

	fmt.Fprintf(w, "  Collected:     %d\n", len(result.Records))
	fmt.Fprintf(w, "  Written:       %d\n", written)
	fmt.Fprintf(w, "  Pages:         %d\n", result.PageCount)
	fmt.Fprintf(w, "  Requests:      %d\n", result.RequestCount)
	fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
	if len(result.SchemaHits) > 0 {
		fmt.Fprintf(w, "  Layouts:       %v\n", result.SchemaHits)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration)
	fmt.Fprintf(w, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(w, separator)
}

// newLogger logs to stderr so stdout stays free for records.
func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
