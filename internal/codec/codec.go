// Package codec converts write payloads between their textual and binary forms.
package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Encoding describes how a payload handed to the write path is interpreted.
type Encoding int

const (
	// Bytes passes the payload through untouched.
	Bytes Encoding = iota
	// String treats the payload as UTF-8 text.
	String
	// Hex treats the payload as hex digits, separators allowed.
	Hex
)

func (e Encoding) String() string {
	switch e {
	case Bytes:
		return "bytes"
	case String:
		return "string"
	case Hex:
		return "hex"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// ParseEncoding maps a flag or config value to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bytes", "raw":
		return Bytes, nil
	case "string", "str", "utf8":
		return String, nil
	case "hex":
		return Hex, nil
	default:
		return Bytes, fmt.Errorf("unknown encoding %q (must be bytes, string or hex)", s)
	}
}

// Decode converts payload to the bytes sent over the air.
func Decode(payload []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case Bytes, String:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case Hex:
		return HexToBytes(string(payload))
	default:
		return nil, fmt.Errorf("unsupported encoding %s", enc)
	}
}

// HexToBytes decodes hex text. Spaces, colons, dashes and 0x prefixes are
// ignored so "0x01 0x02", "01:02" and "0102" decode alike.
func HexToBytes(s string) ([]byte, error) {
	cleaned := strings.ToLower(s)
	cleaned = strings.ReplaceAll(cleaned, "0x", "")
	cleaned = strings.NewReplacer(" ", "", ":", "", "-", "", "\n", "", "\t", "").Replace(cleaned)

	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

// BufToHex renders bytes as lowercase hex.
func BufToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// Chunk splits data into consecutive slices of at most size bytes.
// The slices alias data.
func Chunk(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if size <= 0 || size >= len(data) {
		return [][]byte{data}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}
