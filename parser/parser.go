// Package parser extracts product fields and prices from listing containers.
package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// ValidateRecord rejects records that carry nothing identifying the product.
func ValidateRecord(r *models.ProductRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if r.ListingURL == "" && (r.Title == "" || r.Title == models.TitleNotFound) {
		return fmt.Errorf("record has neither title nor listing url")
	}
	return nil
}

// NormalizeSpace collapses runs of whitespace into single spaces.
func NormalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
