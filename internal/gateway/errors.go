package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrBelowMinimum       = errors.New("amount not accepted by gateway")
	ErrUnsupported        = errors.New("operation not supported by gateway")
	ErrUnknownGateway     = errors.New("unknown gateway")
)

// Error carries provider context for one of the sentinel kinds above.
type Error struct {
	Gateway    string
	Op         string
	StatusCode int
	Kind       error
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Gateway, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Unavailable(gateway, op string, status int, err error) error {
	return &Error{Gateway: gateway, Op: op, StatusCode: status, Kind: ErrGatewayUnavailable, Err: err}
}

func InvalidSignature(gateway string, err error) error {
	return &Error{Gateway: gateway, Op: "verify-signature", Kind: ErrInvalidSignature, Err: err}
}
