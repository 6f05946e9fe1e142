// Package normalize converts the raw strings found in uploaded business
// files into canonical date and decimal forms. Both functions degrade
// gracefully instead of failing: a value that cannot be interpreted
// becomes the configured default (dates) or zero (numbers), so a single
// bad cell never aborts an import.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateDefault selects what Date returns when no layout matches.
type DateDefault int

const (
	// DefaultToday substitutes the current calendar date.
	DefaultToday DateDefault = iota
	// DefaultEmpty substitutes an empty string.
	DefaultEmpty
)

// dateLayouts is tried in order; the first layout that parses the full
// string wins. Day-first layouts precede month-first, so an ambiguous
// value like "5/3/2024" resolves as March 5th.
var dateLayouts = []string{
	"2006-01-02", "2006/01/02", "2006.01.02",
	"02/01/2006", "2/1/2006", "02-01-2006", "2-1-2006",
	"01-02-2006", "01/02/2006", "02.01.2006",
	"2006-01-02T15:04:05", "02/01/2006 15:04:05", "01/02/2006 15:04:05",
}

var isoLooseRegex = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)

// Today returns the current calendar date in canonical form.
func Today() string {
	return time.Now().Format("2006-01-02")
}

// Date normalizes a raw date string to canonical YYYY-MM-DD form.
// Unparseable input yields the configured default; Date never fails.
func Date(raw string, def DateDefault) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return defaultDate(def)
	}

	// Fast path: already ISO-shaped, possibly without zero padding
	if m := isoLooseRegex.FindStringSubmatch(s); m != nil {
		t, err := time.Parse("2006-1-2", s)
		if err != nil {
			return defaultDate(def)
		}
		return t.Format("2006-01-02")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}

	return defaultDate(def)
}

func defaultDate(def DateDefault) string {
	if def == DefaultEmpty {
		return ""
	}
	return Today()
}

// Number parses a decimal that may use either "," or "." as the decimal
// separator, with the other acting as a thousands separator. When both
// occur, the later one is the decimal separator. A lone separator
// followed by exactly three digits is treated as a thousands separator
// ("8.514" → 8514), otherwise as a decimal point ("8.75" → 8.75).
// Empty or non-numeric input yields 0; Number never fails.
func Number(raw string) float64 {
	s := strings.TrimSpace(raw)
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return 0
	}

	if !strings.ContainsAny(s, ",.") {
		return parseFloat(s)
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	var clean string
	switch {
	case lastComma == -1:
		clean = stripOrKeepSeparator(s, ".", lastDot)
	case lastDot == -1:
		clean = stripOrKeepSeparator(s, ",", lastComma)
		clean = strings.Replace(clean, ",", ".", 1)
	case lastComma > lastDot:
		// European: 8.224.514,75
		clean = strings.ReplaceAll(s, ".", "")
		clean = strings.Replace(clean, ",", ".", 1)
	default:
		// American: 8,224,514.75
		clean = strings.ReplaceAll(s, ",", "")
	}

	return parseFloat(clean)
}

// stripOrKeepSeparator resolves a string containing only one kind of
// separator: repeated occurrences are thousands separators; a single
// occurrence followed by exactly three digits is too.
func stripOrKeepSeparator(s, sep string, lastIdx int) string {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	tail := s[lastIdx+1:]
	if len(tail) == 3 && allDigits(tail) {
		return strings.ReplaceAll(s, sep, "")
	}
	return s
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseFloat(s string) float64 {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n
}
