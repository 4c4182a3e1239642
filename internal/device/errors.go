package device

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the category of a connection-core failure.
type Kind string

const (
	KindAdapterUnavailable        Kind = "adapter_unavailable"
	KindInvalidIdentifier         Kind = "invalid_identifier"
	KindScanTimeout               Kind = "scan_timeout"
	KindDeviceNotFound            Kind = "device_not_found"
	KindServiceMatchFailed        Kind = "service_match_failed"
	KindCharacteristicMatchFailed Kind = "characteristic_match_failed"
	KindConnectFailed             Kind = "connect_failed"
	KindWriteFailed               Kind = "write_failed"
	KindLinkVanished              Kind = "link_vanished"
	KindTimeout                   Kind = "timeout"
)

// Stable error codes of the connection core. Gateway-derived kinds
// (ConnectFailed, WriteFailed) carry the gateway status code instead.
const (
	CodeAdapterUnavailable        = -99
	CodeInvalidIdentifier         = -98
	CodeScanTimeout               = -97
	CodeDeviceNotFound            = -96
	CodeServiceMatchFailed        = -95
	CodeCharacteristicMatchFailed = -94
)

// Error is the typed failure returned by every fallible step.
type Error struct {
	Kind Kind
	Code int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := fmt.Sprintf("%s (%d)", e.Kind, e.Code)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, one per Kind
var (
	ErrAdapterUnavailable        = &Error{Kind: KindAdapterUnavailable, Code: CodeAdapterUnavailable}
	ErrInvalidIdentifier         = &Error{Kind: KindInvalidIdentifier, Code: CodeInvalidIdentifier}
	ErrScanTimeout               = &Error{Kind: KindScanTimeout, Code: CodeScanTimeout}
	ErrDeviceNotFound            = &Error{Kind: KindDeviceNotFound, Code: CodeDeviceNotFound}
	ErrServiceMatchFailed        = &Error{Kind: KindServiceMatchFailed, Code: CodeServiceMatchFailed}
	ErrCharacteristicMatchFailed = &Error{Kind: KindCharacteristicMatchFailed, Code: CodeCharacteristicMatchFailed}
	ErrConnectFailed             = &Error{Kind: KindConnectFailed, Code: StatusConnectionFailed}
	ErrWriteFailed               = &Error{Kind: KindWriteFailed, Code: StatusSystemError}
	ErrLinkVanished              = &Error{Kind: KindLinkVanished, Code: StatusNoService}
	ErrTimeout                   = &Error{Kind: KindTimeout, Code: StatusConnectTimeout}
)

// NewError creates an Error of the given kind using the kind's default code.
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Code: defaultCode(kind), Msg: msg, Err: err}
}

// ConnectFailed creates a ConnectFailed error carrying the gateway code.
func ConnectFailed(code int, msg string, err error) *Error {
	return &Error{Kind: KindConnectFailed, Code: code, Msg: msg, Err: err}
}

// WriteFailed creates a WriteFailed error carrying the gateway code.
func WriteFailed(code int, msg string, err error) *Error {
	return &Error{Kind: KindWriteFailed, Code: code, Msg: msg, Err: err}
}

func defaultCode(kind Kind) int {
	switch kind {
	case KindAdapterUnavailable:
		return CodeAdapterUnavailable
	case KindInvalidIdentifier:
		return CodeInvalidIdentifier
	case KindScanTimeout:
		return CodeScanTimeout
	case KindDeviceNotFound:
		return CodeDeviceNotFound
	case KindServiceMatchFailed:
		return CodeServiceMatchFailed
	case KindCharacteristicMatchFailed:
		return CodeCharacteristicMatchFailed
	case KindConnectFailed:
		return StatusConnectionFailed
	case KindLinkVanished:
		return StatusNoService
	case KindTimeout:
		return StatusConnectTimeout
	default:
		return StatusSystemError
	}
}

// KindOf returns the Kind of the first Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// CodeOf returns the stable code carried by err: the Error code if present,
// otherwise the gateway status code, otherwise StatusSystemError.
func CodeOf(err error) int {
	if err == nil {
		return StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if code, ok := StatusCode(err); ok {
		return code
	}
	return StatusSystemError
}

// ClassifyAdapter converts an adapter open fault into AdapterUnavailable.
func ClassifyAdapter(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAdapterUnavailable) {
		return err
	}
	return NewError(KindAdapterUnavailable, "bluetooth adapter is not available", err)
}

// ClassifyConnect converts a gateway fault raised while establishing or
// negotiating a link. Errors that are already typed pass through.
func ClassifyConnect(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	code, ok := StatusCode(err)
	switch {
	case code == StatusConnectTimeout || errors.Is(err, context.DeadlineExceeded):
		return NewError(KindTimeout, "connect timed out", err)
	case ok:
		return ConnectFailed(code, StatusText(code), err)
	default:
		return ConnectFailed(StatusConnectionFailed, StatusText(StatusConnectionFailed), err)
	}
}

// ClassifyWrite converts a gateway write fault. Service or characteristic
// not found means the cached handles vanished.
func ClassifyWrite(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	code, ok := StatusCode(err)
	switch {
	case code == StatusNoService || code == StatusNoCharacteristic:
		return &Error{Kind: KindLinkVanished, Code: code, Msg: StatusText(code), Err: err}
	case code == StatusConnectTimeout || errors.Is(err, context.DeadlineExceeded):
		return NewError(KindTimeout, "write timed out", err)
	case ok:
		return WriteFailed(code, StatusText(code), err)
	default:
		return WriteFailed(StatusSystemError, StatusText(StatusSystemError), err)
	}
}
