package device

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMAC(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{name: "nil payload", input: nil, expected: ""},
		{name: "empty payload", input: []byte{}, expected: ""},
		{name: "payload shorter than window", input: []byte{0x01, 0x02, 0x11, 0x22, 0x33, 0x44, 0x55}, expected: ""},
		{name: "exact window", input: []byte{0x01, 0x02, 0x11, 0x22, 0x33, 0x44, 0x55, 0xaa}, expected: "11:22:33:44:55:AA"},
		{name: "trailing bytes ignored", input: []byte{0xff, 0xff, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x99}, expected: "0A:0B:0C:0D:0E:0F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.expected, ParseMAC(tt.input))
			})
		})
	}
}

func TestMatchDevice(t *testing.T) {
	adv := AdvertisedDevice{
		SystemID:           "5D2F7A10-1111-2222-3333-444455556666",
		Name:               "Printer-01",
		LocalName:          "PRN01",
		AdvertisementBytes: []byte{0x01, 0x02, 0x11, 0x22, 0x33, 0x44, 0x55, 0xaa},
	}

	tests := []struct {
		name       string
		identifier string
		expected   bool
	}{
		{name: "MAC lower case", identifier: "11:22:33:44:55:aa", expected: true},
		{name: "MAC upper case", identifier: "11:22:33:44:55:AA", expected: true},
		{name: "local name", identifier: "prn01", expected: true},
		{name: "name", identifier: "PRINTER-01", expected: true},
		{name: "system id", identifier: "5d2f7a10-1111-2222-3333-444455556666", expected: true},
		{name: "substring does not match", identifier: "Printer", expected: false},
		{name: "unknown", identifier: "other", expected: false},
		{name: "empty identifier", identifier: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MatchDevice(adv, tt.identifier))
		})
	}

	t.Run("empty candidates never match", func(t *testing.T) {
		assert.False(t, MatchDevice(AdvertisedDevice{}, " "))
		assert.False(t, MatchDevice(AdvertisedDevice{AdvertisementBytes: []byte{1}}, ""))
	})
}

func TestMatchPolicy(t *testing.T) {
	const nus = "6E400002-B5A3-F393-E0A9-E50E24DCCA9E"

	t.Run("zero policy matches everything", func(t *testing.T) {
		var p MatchPolicy
		assert.True(t, p.IsZero())
		assert.True(t, p.Match("ffe1"))
		assert.Equal(t, "any", p.String())
	})

	t.Run("exact compares normalized UUIDs", func(t *testing.T) {
		p := Exact("0000FFE1-0000-1000-8000-00805F9B34FB")
		assert.Equal(t, PolicyExact, p.Kind())
		assert.True(t, p.Match("ffe1"))
		assert.True(t, p.Match("0xFFE1"))
		assert.False(t, p.Match("ffe2"))
	})

	t.Run("pattern tests raw and normalized forms", func(t *testing.T) {
		p := Pattern(regexp.MustCompile(`(?i)^6e400002`))
		assert.True(t, p.Match(nus))
		assert.True(t, p.Match(NormalizeUUID(nus)))
		assert.False(t, p.Match("6e400003b5a3f393e0a9e50e24dcca9e"))
	})

	t.Run("predicate delegates", func(t *testing.T) {
		p := Predicate(func(uuid string) bool { return strings.HasSuffix(uuid, "e1") })
		assert.True(t, p.Match("ffe1"))
		assert.False(t, p.Match("ffe2"))
	})

	t.Run("nil variants collapse to zero policy", func(t *testing.T) {
		assert.True(t, Pattern(nil).IsZero())
		assert.True(t, Predicate(nil).IsZero())
	})

	t.Run("parse picks variant from input", func(t *testing.T) {
		p, err := ParsePolicy("")
		require.NoError(t, err)
		assert.True(t, p.IsZero())

		p, err = ParsePolicy("FFE1")
		require.NoError(t, err)
		assert.Equal(t, PolicyExact, p.Kind())

		p, err = ParsePolicy("^6E4000")
		require.NoError(t, err)
		assert.Equal(t, PolicyPattern, p.Kind())
		assert.True(t, p.Match(strings.ToLower(nus)), "patterns MUST be case-insensitive")

		_, err = ParsePolicy("([")
		assert.Error(t, err)
	})
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("errors.Is compares kinds", func(t *testing.T) {
		err := NewError(KindDeviceNotFound, "printer", nil)
		assert.ErrorIs(t, err, ErrDeviceNotFound)
		assert.NotErrorIs(t, err, ErrScanTimeout)
		assert.Equal(t, CodeDeviceNotFound, err.Code)

		wrapped := fmt.Errorf("connect: %w", err)
		assert.ErrorIs(t, wrapped, ErrDeviceNotFound)
		kind, ok := KindOf(wrapped)
		assert.True(t, ok)
		assert.Equal(t, KindDeviceNotFound, kind)
	})

	t.Run("message carries kind code and cause", func(t *testing.T) {
		err := ConnectFailed(StatusNeedPIN, "pairing", errors.New("boom"))
		assert.Equal(t, "connect_failed (10011): pairing: boom", err.Error())
		assert.Equal(t, StatusNeedPIN, CodeOf(err))
	})

	t.Run("status errors compare by code", func(t *testing.T) {
		err := fmt.Errorf("%w: native", Status(StatusNoService))
		assert.ErrorIs(t, err, Status(StatusNoService))
		code, ok := StatusCode(err)
		assert.True(t, ok)
		assert.Equal(t, StatusNoService, code)
	})

	t.Run("already connected statuses", func(t *testing.T) {
		assert.True(t, IsAlreadyConnected(Status(StatusAlreadyConnected)))
		assert.True(t, IsAlreadyConnected(Status(StatusAlreadyConnectedV1)))
		assert.False(t, IsAlreadyConnected(Status(StatusConnectionFailed)))
		assert.False(t, IsAlreadyConnected(errors.New("already connected")))
	})
}

func TestClassify(t *testing.T) {
	t.Run("write faults", func(t *testing.T) {
		assert.NoError(t, ClassifyWrite(nil))
		assert.ErrorIs(t, ClassifyWrite(Status(StatusNoService)), ErrLinkVanished)
		assert.ErrorIs(t, ClassifyWrite(Status(StatusNoCharacteristic)), ErrLinkVanished)
		assert.ErrorIs(t, ClassifyWrite(Status(StatusConnectTimeout)), ErrTimeout)
		assert.ErrorIs(t, ClassifyWrite(context.DeadlineExceeded), ErrTimeout)

		err := ClassifyWrite(Status(StatusUnsupported))
		assert.ErrorIs(t, err, ErrWriteFailed)
		assert.Equal(t, StatusUnsupported, CodeOf(err))

		err = ClassifyWrite(errors.New("opaque"))
		assert.ErrorIs(t, err, ErrWriteFailed)
		assert.Equal(t, StatusSystemError, CodeOf(err))
	})

	t.Run("connect faults", func(t *testing.T) {
		assert.ErrorIs(t, ClassifyConnect(Status(StatusConnectTimeout)), ErrTimeout)
		err := ClassifyConnect(Status(StatusNoDevice))
		assert.ErrorIs(t, err, ErrConnectFailed)
		assert.Equal(t, StatusNoDevice, CodeOf(err))
		assert.Equal(t, StatusConnectionFailed, CodeOf(ClassifyConnect(errors.New("opaque"))))
	})

	t.Run("typed errors pass through unmodified", func(t *testing.T) {
		typed := NewError(KindServiceMatchFailed, "", nil)
		assert.Same(t, typed, ClassifyWrite(typed))
		assert.Same(t, typed, ClassifyConnect(typed))
	})

	t.Run("adapter faults", func(t *testing.T) {
		err := ClassifyAdapter(Status(StatusAdapterUnavailable))
		assert.ErrorIs(t, err, ErrAdapterUnavailable)
		assert.Equal(t, CodeAdapterUnavailable, CodeOf(err))
		assert.NoError(t, ClassifyAdapter(nil))
	})
}
