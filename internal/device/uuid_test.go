package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		// 16-bit UUID formats
		{name: "16-bit UUID", input: "2902", expected: "2902"},
		{name: "16-bit UUID uppercase", input: "2A37", expected: "2a37"},
		{name: "16-bit UUID with 0x prefix", input: "0x2902", expected: "2902"},
		{name: "16-bit UUID with 0X prefix", input: "0X2902", expected: "2902"},
		{name: "surrounding whitespace", input: "  180d ", expected: "180d"},

		// Bluetooth SIG base UUID format (should extract 16-bit form)
		{name: "SIG UUID with dashes", input: "00002902-0000-1000-8000-00805f9b34fb", expected: "2902"},
		{name: "SIG UUID without dashes", input: "0000290200001000800000805f9b34fb", expected: "2902"},
		{name: "SIG UUID uppercase", input: "0000180D-0000-1000-8000-00805F9B34FB", expected: "180d"},
		{name: "SIG UUID with odd dash grouping", input: "0000-2902-0000-1000-8000-00805f9b34fb", expected: "2902"},
		{name: "SIG UUID in braces", input: "{0000ffe1-0000-1000-8000-00805f9b34fb}", expected: "ffe1"},
		{name: "SIG UUID as urn", input: "urn:uuid:0000ffe0-0000-1000-8000-00805f9b34fb", expected: "ffe0"},

		// Custom 128-bit UUIDs (should NOT be shortened)
		{name: "custom UUID wrong prefix", input: "AA002902-0000-1000-8000-00805f9b34fb", expected: "aa00290200001000800000805f9b34fb"},
		{name: "custom UUID wrong suffix", input: "00002902-1234-5678-9abc-def012345678", expected: "00002902123456789abcdef012345678"},
		{name: "nordic UART service", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001b5a3f393e0a9e50e24dcca9e"},

		// Edge cases
		{name: "empty string", input: "", expected: ""},
		{name: "32-bit UUID", input: "12345678", expected: "12345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	input := []string{
		"2902",
		"0x180d",
		"00002a37-0000-1000-8000-00805f9b34fb",
		"6e400001-b5a3-f393-e0a9-e50e24dcca9e",
	}

	expected := []string{
		"2902",
		"180d",
		"2a37",
		"6e400001b5a3f393e0a9e50e24dcca9e",
	}

	assert.Equal(t, expected, NormalizeUUIDs(input))
	assert.Nil(t, NormalizeUUIDs(nil))
}

// Test edge cases that should NOT be shortened
func TestNormalizeUUID_NoShortening(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{name: "wrong prefix", input: "AA002902-0000-1000-8000-00805f9b34fb", reason: "prefix is not 0000"},
		{name: "wrong suffix", input: "00002902-1234-5678-9abc-def012345678", reason: "suffix doesn't match Bluetooth SIG base"},
		{name: "too short", input: "00002902", reason: "only 8 chars, not 32"},
		{name: "too long", input: "0000290200001000800000805f9b34fb00", reason: "34 chars, not 32"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeUUID(tt.input)
			assert.NotEqual(t, "2902", result, "MUST NOT shorten: %s", tt.reason)
			assert.Equal(t, strings.ToLower(strings.ReplaceAll(tt.input, "-", "")), result)
		})
	}
}

func TestEqualUUID(t *testing.T) {
	assert.True(t, EqualUUID("FFE1", "0000ffe1-0000-1000-8000-00805f9b34fb"))
	assert.True(t, EqualUUID("6E400002-B5A3-F393-E0A9-E50E24DCCA9E", "6e400002b5a3f393e0a9e50e24dcca9e"))
	assert.False(t, EqualUUID("ffe1", "ffe2"))
}

func TestValidateUUID(t *testing.T) {
	t.Run("normalizes valid UUIDs", func(t *testing.T) {
		got, err := ValidateUUID("0x180D", "6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
		require.NoError(t, err)
		assert.Equal(t, []string{"180d", "6e400001b5a3f393e0a9e50e24dcca9e"}, got)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := ValidateUUID()
		assert.Error(t, err)

		_, err = ValidateUUID("180d", " ")
		assert.ErrorContains(t, err, "index 1")
	})

	t.Run("rejects malformed UUIDs", func(t *testing.T) {
		for _, in := range []string{"xyz", "18", "ffe1.*", "12345"} {
			_, err := ValidateUUID(in)
			assert.Error(t, err, "MUST reject %q", in)
		}
	})
}
