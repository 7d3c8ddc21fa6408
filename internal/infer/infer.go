// Package infer detects semantic column types and suggests conversions.
//
// Detection is advisory: suggestions never mutate the dataset. The probe
// order is datetime, numeric, boolean, then categorical/text by cardinality.
package infer

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"datalens/internal/dataset"
)

// sampleSize caps how many non-null values a probe inspects.
const sampleSize = 100

// dateLayouts are the explicit formats tried after the generic parse.
var dateLayouts = []string{
	"2006-01-02", "01/02/2006", "02/01/2006", "2006/01/02",
	"2006-01-02 15:04:05", "01/02/2006 15:04:05",
	"02/01/2006 15:04:05", "2006/01/02 15:04:05",
}

var trueTokens = map[string]bool{"true": true, "t": true, "yes": true, "y": true, "1": true}
var falseTokens = map[string]bool{"false": true, "f": true, "no": true, "n": true, "0": true}

// Suggestion describes an advisory type conversion for one column.
type Suggestion struct {
	Column       string `json:"column"`
	CurrentType  string `json:"current_type"`
	DetectedType string `json:"detected_type"`
	Method       string `json:"method"`
	Example      string `json:"example"`
}

// DetectType returns the most appropriate semantic type for a column:
// datetime, numeric, boolean, categorical, text, or the native kind as a
// fallback label.
func DetectType(c *dataset.Column) string {
	switch c.Kind() {
	case dataset.KindNumeric:
		return "numeric"
	case dataset.KindBoolean:
		return "boolean"
	case dataset.KindDatetime:
		return "datetime"
	}

	sample := sampleStrings(c)
	if len(sample) > 0 {
		if allDatetime(sample) {
			return "datetime"
		}
		if allNumeric(sample) {
			return "numeric"
		}
		if allBoolean(sample) {
			return "boolean"
		}
	}

	if c.Kind() == dataset.KindString || c.Kind() == dataset.KindEmpty {
		distinct, _ := c.DistinctNonNull()
		limit := float64(len(c.Cells)) * 0.5
		if limit > 50 {
			limit = 50
		}
		if float64(len(distinct)) < limit {
			return "categorical"
		}
		return "text"
	}
	return string(c.Kind())
}

// ConversionSuggestion returns an advisory conversion for the column, or nil
// when the detected type already matches the current one (or no canonical
// conversion exists).
func ConversionSuggestion(c *dataset.Column) *Suggestion {
	current := string(c.Kind())
	detected := DetectType(c)
	if detected == current {
		return nil
	}

	switch detected {
	case "datetime":
		return &Suggestion{
			Column: c.Name, CurrentType: current, DetectedType: detected,
			Method:  "parse_datetime",
			Example: "parse each value with the detected date layout; unparseable values become missing",
		}
	case "numeric":
		return &Suggestion{
			Column: c.Name, CurrentType: current, DetectedType: detected,
			Method:  "parse_numeric",
			Example: "parse each value as a float; unparseable values become missing",
		}
	case "boolean":
		return &Suggestion{
			Column: c.Name, CurrentType: current, DetectedType: detected,
			Method:  "map_boolean",
			Example: "map true/t/yes/y/1 and false/f/no/n/0 tokens onto booleans",
		}
	case "categorical":
		return &Suggestion{
			Column: c.Name, CurrentType: current, DetectedType: detected,
			Method:  "cast_categorical",
			Example: "treat the column as a low-cardinality categorical",
		}
	}
	return nil
}

// SuggestAll returns conversion suggestions for every column that has one.
func SuggestAll(d *dataset.Dataset) []Suggestion {
	var out []Suggestion
	for i := range d.Columns {
		if s := ConversionSuggestion(&d.Columns[i]); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// sampleStrings returns up to sampleSize non-null values rendered as strings.
func sampleStrings(c *dataset.Column) []string {
	out := make([]string, 0, sampleSize)
	for _, v := range c.Cells {
		if v == nil {
			continue
		}
		out = append(out, strings.TrimSpace(dataset.FormatCell(v)))
		if len(out) == sampleSize {
			break
		}
	}
	return out
}

func allDatetime(sample []string) bool {
	for _, s := range sample {
		// Plain numbers are never dates even though lenient parsers may
		// accept bare years.
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return false
		}
		if !parsesAsTime(s) {
			return false
		}
	}
	return true
}

func parsesAsTime(s string) bool {
	if _, err := cast.StringToDateInDefaultLocation(s, time.UTC); err == nil {
		return true
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func allNumeric(sample []string) bool {
	for _, s := range sample {
		if _, err := cast.ToFloat64E(s); err != nil {
			return false
		}
	}
	return true
}

func allBoolean(sample []string) bool {
	for _, s := range sample {
		tok := strings.ToLower(strings.TrimSpace(s))
		if !trueTokens[tok] && !falseTokens[tok] {
			return false
		}
	}
	return true
}
