package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"", 0},
		{"abc", 0},
		{"0", 0},
		{"42", 42},
		{"-3.5", -3.5},
		{"8.75", 8.75},
		{"8,75", 8.75},
		{"8.514", 8514},      // lone dot before 3 digits = thousands
		{"8,514", 8514},      // lone comma before 3 digits = thousands
		{"8.224.514", 8224514},
		{"8,224,514", 8224514},
		{"1.234,56", 1234.56}, // European
		{"1,234.56", 1234.56}, // American
		{"8.224.514,75", 8224514.75},
		{"8,224,514.75", 8224514.75},
		{" 1 234,56 ", 1234.56}, // embedded whitespace stripped
		{"77274", 77274},
		{"57183.63", 57183.63},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, Number(tc.input), "input %q", tc.input)
	}
}

func TestDate(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"2024-03-05", "2024-03-05"},
		{"2024-3-5", "2024-03-05"},
		{"2024/03/05", "2024-03-05"},
		{"2024.03.05", "2024-03-05"},
		{"05/03/2024", "2024-03-05"}, // day-first wins for ambiguous input
		{"5/3/2024", "2024-03-05"},
		{"15/1/2025", "2025-01-15"},
		{"05-03-2024", "2024-03-05"},
		{"12/25/2024", "2024-12-25"}, // unambiguous month-first fallback
		{"05.03.2024", "2024-03-05"},
		{"2024-03-05T10:30:00", "2024-03-05"},
		{"05/03/2024 10:30:00", "2024-03-05"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, Date(tc.input, DefaultEmpty), "input %q", tc.input)
	}
}

func TestDateDefaults(t *testing.T) {
	assert.Equal(t, "", Date("not a date", DefaultEmpty))
	assert.Equal(t, "", Date("", DefaultEmpty))
	assert.Equal(t, Today(), Date("not a date", DefaultToday))
	assert.Equal(t, Today(), Date("", DefaultToday))
}
