// Package models defines data structures for the scraper.
package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// TitleNotFound is stored when no title candidate yields text.
	TitleNotFound = "not found"
	// Unknown is the text form of any numeric field that could not be parsed.
	Unknown = "unknown"
)

// ProductRecord is one product entry extracted from a listing page.
type ProductRecord struct {
	Title         string      `json:"title"`
	Rating        Rating      `json:"rating"`
	ReviewCount   ReviewCount `json:"review_count"`
	ImageURL      string      `json:"image_url"`
	ListingURL    string      `json:"listing_url"`
	Identifier    string      `json:"identifier"`
	MainPrices    PriceSet    `json:"main_prices"`
	PerUnitPrices PriceSet    `json:"per_unit_prices"`
	PriceUnits    UnitSet     `json:"price_units"`
	Schema        string      `json:"schema"`
	Page          int         `json:"page"`
}

// Rating is a star rating in [0,5]; Known is false when none was parsed.
type Rating struct {
	Value float64
	Known bool
}

// NewRating returns a known rating.
func NewRating(v float64) Rating {
	return Rating{Value: v, Known: true}
}

func (r Rating) String() string {
	if !r.Known {
		return Unknown
	}
	return strconv.FormatFloat(r.Value, 'f', 1, 64)
}

func (r Rating) MarshalJSON() ([]byte, error) {
	if !r.Known {
		return json.Marshal(Unknown)
	}
	return json.Marshal(r.Value)
}

// ReviewCount is a non-negative review total; Known is false when none was parsed.
type ReviewCount struct {
	Value int
	Known bool
}

// NewReviewCount returns a known review count.
func NewReviewCount(n int) ReviewCount {
	return ReviewCount{Value: n, Known: true}
}

func (c ReviewCount) String() string {
	if !c.Known {
		return Unknown
	}
	return strconv.Itoa(c.Value)
}

func (c ReviewCount) MarshalJSON() ([]byte, error) {
	if !c.Known {
		return json.Marshal(Unknown)
	}
	return json.Marshal(c.Value)
}

// PriceSet is an ordered set of amounts. Its text and JSON forms collapse to a
// single amount, to "unknown" when empty, or to a comma-joined list.
type PriceSet []float64

// Add inserts v keeping the set sorted and free of duplicates.
func (s PriceSet) Add(v float64) PriceSet {
	i := sort.SearchFloat64s(s, v)
	if i < len(s) && s[i] == v {
		return s
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// Contains reports whether v is in the set.
func (s PriceSet) Contains(v float64) bool {
	i := sort.SearchFloat64s(s, v)
	return i < len(s) && s[i] == v
}

func (s PriceSet) String() string {
	if len(s) == 0 {
		return Unknown
	}
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	return strings.Join(parts, ", ")
}

func (s PriceSet) MarshalJSON() ([]byte, error) {
	switch len(s) {
	case 0:
		return json.Marshal(Unknown)
	case 1:
		return json.Marshal(s[0])
	default:
		return json.Marshal(s.String())
	}
}

// UnitSet is an ordered set of per-unit labels such as "oz" or "count".
type UnitSet []string

// Add inserts unit keeping the set sorted and free of duplicates.
func (s UnitSet) Add(unit string) UnitSet {
	i := sort.SearchStrings(s, unit)
	if i < len(s) && s[i] == unit {
		return s
	}
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = unit
	return s
}

func (s UnitSet) String() string {
	if len(s) == 0 {
		return Unknown
	}
	return strings.Join(s, ", ")
}

func (s UnitSet) MarshalJSON() ([]byte, error) {
	switch len(s) {
	case 0:
		return json.Marshal(Unknown)
	case 1:
		return json.Marshal(s[0])
	default:
		return json.Marshal(s.String())
	}
}

// CollectResult holds the outcome of one collection session.
type CollectResult struct {
	Records      []ProductRecord
	StartURL     string
	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	RequestCount int
	RetryCount   int
	ErrorsByType map[string]int
	SchemaHits   map[string]int
}
