package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseCSV reads a revenue history. The header must contain a "revenue"
// column; a "year" column is optional. Matching is case-insensitive and
// thousands separators in values are tolerated. Every content error matches
// ErrBadData.
func ParseCSV(r io.Reader) (*Series, error) {
	s, err := parseCSV(r)
	if err != nil && !errors.Is(err, ErrBadData) {
		return nil, fmt.Errorf("%w: %w", ErrBadData, err)
	}
	return s, err
}

func parseCSV(r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty CSV: %w", ErrNoRevenueColumn)
		}
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	revCol, yearCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "revenue":
			revCol = i
		case "year":
			yearCol = i
		}
	}
	if revCol < 0 {
		return nil, ErrNoRevenueColumn
	}

	s := &Series{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read CSV line %d: %w", line, err)
		}
		if revCol >= len(rec) || strings.TrimSpace(rec[revCol]) == "" {
			continue
		}
		v, err := parseNumber(rec[revCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: revenue %q: %w", line, rec[revCol], err)
		}
		s.Revenues = append(s.Revenues, v)

		if yearCol >= 0 && yearCol < len(rec) {
			y, err := strconv.Atoi(strings.TrimSpace(rec[yearCol]))
			if err != nil {
				return nil, fmt.Errorf("line %d: year %q: %w", line, rec[yearCol], err)
			}
			s.Years = append(s.Years, y)
		}
	}

	if yearCol < 0 {
		s.Years = defaultYears(len(s.Revenues))
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadCSV opens path and parses it with ParseCSV.
func LoadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("CSV file not found: %s: %w", path, os.ErrNotExist)
		}
		return nil, err
	}
	defer f.Close()

	s, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// WriteCSV writes the series with year,revenue columns.
func WriteCSV(w io.Writer, s *Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"year", "revenue"}); err != nil {
		return err
	}
	for i, v := range s.Revenues {
		if err := cw.Write([]string{strconv.Itoa(s.Years[i]), strconv.FormatFloat(v, 'f', -1, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseNumber(raw string) (float64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	clean = strings.TrimPrefix(clean, "$")
	return strconv.ParseFloat(clean, 64)
}
