package device

import (
	"errors"
	"fmt"
)

// Gateway status codes.
const (
	StatusOK                 = 0
	StatusAlreadyConnectedV1 = -1 // legacy already-connected status
	StatusNotInitialized     = 10000
	StatusAdapterUnavailable = 10001
	StatusNoDevice           = 10002
	StatusConnectionFailed   = 10003
	StatusNoService          = 10004
	StatusNoCharacteristic   = 10005
	StatusConnectionLost     = 10006
	StatusUnsupported        = 10007
	StatusSystemError        = 10008
	StatusSystemUnsupported  = 10009
	StatusAlreadyConnected   = 10010
	StatusNeedPIN            = 10011
	StatusConnectTimeout     = 10012
	StatusInvalidDevice      = 10013
)

var statusText = map[int]string{
	StatusOK:                 "ok",
	StatusAlreadyConnectedV1: "already connected",
	StatusNotInitialized:     "bluetooth adapter not initialized",
	StatusAdapterUnavailable: "bluetooth adapter unavailable",
	StatusNoDevice:           "device not found",
	StatusConnectionFailed:   "connection failed",
	StatusNoService:          "service not found",
	StatusNoCharacteristic:   "characteristic not found",
	StatusConnectionLost:     "connection lost",
	StatusUnsupported:        "operation not supported by characteristic",
	StatusSystemError:        "system error",
	StatusSystemUnsupported:  "bluetooth LE not supported by system",
	StatusAlreadyConnected:   "already connected",
	StatusNeedPIN:            "pairing requires a PIN",
	StatusConnectTimeout:     "connection timed out",
	StatusInvalidDevice:      "invalid device id",
}

// StatusText returns a short message for a gateway status code.
func StatusText(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return fmt.Sprintf("status %d", code)
}

// StatusError is a gateway fault identified by a status code.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return fmt.Sprintf("status %d: %s", e.Code, StatusText(e.Code))
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Msg)
}

// Is allows errors.Is to compare StatusError values by Code
func (e *StatusError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Status creates a StatusError with the default message for code.
func Status(code int) *StatusError {
	return &StatusError{Code: code, Msg: StatusText(code)}
}

// StatusCode extracts the gateway status code from err's chain.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsAlreadyConnected reports whether err is an already-connected status,
// which connect treats as success.
func IsAlreadyConnected(err error) bool {
	code, ok := StatusCode(err)
	return ok && (code == StatusAlreadyConnected || code == StatusAlreadyConnectedV1)
}
