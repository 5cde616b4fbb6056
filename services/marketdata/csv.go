// Package marketdata loads per-security price series from CSV and aligns
// multiple series into the table the simulation engine consumes.
package marketdata

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Point is one (timestamp, price) observation.
type Point struct {
	Time  time.Time
	Price float64
}

// Series is an ordered price history for one security.
type Series struct {
	Name   string
	Points []Point
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006, 03:04:05 PM",
}

// LoadCSV reads a (time, price) CSV. Exported spreadsheets are sometimes
// UTF-16 with a BOM, so the reader transcodes when one is present. Rows are
// sorted by timestamp, duplicate timestamps keep the last value, and prices
// are stored as absolute values.
func LoadCSV(path, name string) (Series, error) {
	file, err := os.Open(path)
	if err != nil {
		return Series{}, fmt.Errorf("open series csv: %w", err)
	}
	defer file.Close()

	br := bufio.NewReader(file)
	var reader io.Reader = br
	if bom, _ := br.Peek(2); len(bom) == 2 &&
		((bom[0] == 0xFF && bom[1] == 0xFE) || (bom[0] == 0xFE && bom[1] == 0xFF)) {
		reader = transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	}

	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	s := Series{Name: name}
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Series{}, fmt.Errorf("read series csv line %d: %w", line+1, err)
		}
		line++
		if len(rec) < 2 {
			continue
		}
		tsField := strings.TrimPrefix(strings.TrimSpace(rec[0]), "\uFEFF")
		t, ok := parseTime(tsField)
		if !ok {
			// header or junk row
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			continue
		}
		s.Points = append(s.Points, Point{Time: t, Price: math.Abs(price)})
	}
	if len(s.Points) == 0 {
		return Series{}, fmt.Errorf("series csv %s: no parsable rows", path)
	}
	return s.Normalize(), nil
}

// Normalize sorts the points by timestamp and collapses duplicate timestamps,
// keeping the last value. Align and Resample require normalized input; series
// built from untrusted sources (request payloads) must pass through here.
func (s Series) Normalize() Series {
	sort.SliceStable(s.Points, func(i, j int) bool { return s.Points[i].Time.Before(s.Points[j].Time) })
	uniq := s.Points[:0]
	for _, pt := range s.Points {
		if len(uniq) > 0 && uniq[len(uniq)-1].Time.Equal(pt.Time) {
			uniq[len(uniq)-1] = pt
			continue
		}
		uniq = append(uniq, pt)
	}
	s.Points = uniq
	return s
}

func parseTime(field string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, field); err == nil {
			return t, true
		}
	}
	// epoch milliseconds, the exchange-download convention
	if ms, err := strconv.ParseInt(field, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
