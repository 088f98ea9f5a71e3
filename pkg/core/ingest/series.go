// Package ingest sources the revenue history a valuation run starts from:
// CSV files with a revenue column, or a seeded synthetic series.
package ingest

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoRevenueColumn is returned when a CSV header has no "revenue" column.
var ErrNoRevenueColumn = errors.New("CSV must contain a 'revenue' column")

// ErrBadData is matched by every malformed or out-of-range revenue input.
var ErrBadData = errors.New("invalid revenue data")

// Series is an ordered revenue history, oldest first. Years is parallel to
// Revenues; when the source has no year column the years count up to 0.
type Series struct {
	Years    []int     `json:"years"`
	Revenues []float64 `json:"revenues"`
}

// Len is the number of observations.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Revenues)
}

// Latest is the most recent revenue, or 0 for an empty series.
func (s *Series) Latest() float64 {
	if s.Len() == 0 {
		return 0
	}
	return s.Revenues[len(s.Revenues)-1]
}

// Validate checks the series is non-empty, aligned, and strictly positive.
func (s *Series) Validate() error {
	if s.Len() == 0 {
		return fmt.Errorf("%w: revenue series is empty", ErrBadData)
	}
	if len(s.Years) != len(s.Revenues) {
		return fmt.Errorf("%w: revenue series has %d years but %d values", ErrBadData, len(s.Years), len(s.Revenues))
	}
	for i, v := range s.Revenues {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: revenue for year %d must be positive, got %g", ErrBadData, s.Years[i], v)
		}
	}
	return nil
}

// Tail returns the last n observations (all of them when n exceeds the length).
func (s *Series) Tail(n int) *Series {
	if n >= s.Len() {
		return s
	}
	start := s.Len() - n
	return &Series{Years: s.Years[start:], Revenues: s.Revenues[start:]}
}

func defaultYears(n int) []int {
	years := make([]int, n)
	for i := range years {
		years[i] = i - n + 1
	}
	return years
}
