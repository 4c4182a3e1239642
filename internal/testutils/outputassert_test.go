//go:build test

package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestOutputAsserterDefaults(t *testing.T) {
	opts := NewOutputAsserter(t).Options()

	assert.True(t, opts.TrimSpace)
	assert.True(t, opts.IgnoreTrailingWhitespace)
	assert.True(t, opts.IgnoreExtraKeys)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.Colors)
}

func TestOutputAsserterText(t *testing.T) {
	tests := []struct {
		name     string
		opts     []OutputOption
		actual   string
		expected string
		match    bool
	}{
		{name: "identical", actual: "a\nb\n", expected: "a\nb", match: true},
		{name: "trailing blanks ignored", actual: "NAME   \nsys-1\t\n", expected: "NAME\nsys-1", match: true},
		{name: "empty lines kept by default", actual: "a\n\nb", expected: "a\nb", match: false},
		{name: "empty lines ignored", opts: []OutputOption{WithIgnoreEmptyLines(true)}, actual: "a\n\nb", expected: "a\nb", match: true},
		{name: "changed line", actual: "-> \"a\" written", expected: "-> \"b\" written", match: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}

			ok := NewOutputAsserter(rec, tt.opts...).Text(tt.actual, tt.expected)

			assert.Equal(t, tt.match, ok)
			assert.Equal(t, tt.match, len(rec.errors) == 0)
		})
	}
}

func TestOutputAsserterTextDiffIsUnified(t *testing.T) {
	d := NewOutputAsserter(t).TextDiff("a\nc", "a\nb")

	assert.Contains(t, d, "--- expected")
	assert.Contains(t, d, "+++ actual")
	assert.Contains(t, d, "-b")
	assert.Contains(t, d, "+c")
}

func TestOutputAsserterJSON(t *testing.T) {
	tests := []struct {
		name     string
		opts     []OutputOption
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "extra keys pruned",
			actual:   `[{"name":"Printer","system_id":"sys-1","rssi":-50}]`,
			expected: `[{"name":"Printer","system_id":"sys-1"}]`,
			match:    true,
		},
		{
			name:     "extra keys compared when asked",
			opts:     []OutputOption{WithIgnoreExtraKeys(false)},
			actual:   `{"name":"Printer","rssi":-50}`,
			expected: `{"name":"Printer"}`,
			match:    false,
		},
		{
			name:     "presence placeholder",
			actual:   `{"system_id":"sys-9","mac":"AA"}`,
			expected: `{"system_id":"<<PRESENCE>>","mac":"AA"}`,
			match:    true,
		},
		{
			name:     "missing placeholder key",
			actual:   `{"mac":"AA"}`,
			expected: `{"system_id":"<<PRESENCE>>","mac":"AA"}`,
			match:    false,
		},
		{
			name:     "value differs",
			actual:   `{"rssi":-60}`,
			expected: `{"rssi":-50}`,
			match:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}

			ok := NewOutputAsserter(rec, tt.opts...).JSON(tt.actual, tt.expected)

			assert.Equal(t, tt.match, ok, "diff: %v", rec.errors)
		})
	}
}

func TestOutputAsserterRejectsInvalidJSON(t *testing.T) {
	d := NewOutputAsserter(t).JSONDiff("{", `{}`)

	require.NotEmpty(t, d)
	assert.Contains(t, d, "invalid actual JSON")
}
