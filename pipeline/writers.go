package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// Stdout is the output name that writes to standard output instead of a file.
const Stdout = "-"

var csvHeader = []string{
	"title", "rating", "review_count", "main_prices", "per_unit_prices", "price_units",
	"image_url", "listing_url", "identifier", "schema", "page",
}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	f, err := openOutput(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		closeOutput(f)
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		closeOutput(f)
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends records to the CSV output. Multi-valued fields use their
// collapsed text form.
func (cw *CSVWriter) Write(records []*models.ProductRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, r := range records {
		row := []string{
			r.Title,
			r.Rating.String(),
			r.ReviewCount.String(),
			r.MainPrices.String(),
			r.PerUnitPrices.String(),
			r.PriceUnits.String(),
			r.ImageURL,
			r.ListingURL,
			r.Identifier,
			r.Schema,
			strconv.Itoa(r.Page),
		}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return closeOutput(cw.file)
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	return validateOutput(cw.file, "csv")
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, err := openOutput(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []*models.ProductRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, r := range records {
		if err := jw.encoder.Encode(r); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return closeOutput(jw.file)
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return validateOutput(jw.file, "json")
}

func openOutput(filename string) (*os.File, error) {
	if filename == Stdout {
		return os.Stdout, nil
	}
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return os.Create(filename)
}

func closeOutput(f *os.File) error {
	if f == os.Stdout {
		return nil
	}
	return f.Close()
}

// validateOutput checks that a regular output file received data. Streams
// such as stdout are not checked.
func validateOutput(f *os.File, kind string) error {
	if f == os.Stdout {
		return nil
	}
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
