// Package payment defines the gateway capability used by checkout and the
// callback reconciler, and its three realizations: cash on delivery, a
// redirect-based gateway, and a push-QR provider.
//
// The core never computes or verifies gateway-specific signatures; it trusts
// each adapter's parsed result.
package payment

import (
	"context"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Method selects how an order is settled.
type Method string

const (
	MethodCOD      Method = "COD"
	MethodRedirect Method = "REDIRECT"
	MethodPushQR   Method = "PUSH_QR"
)

// ErrUnknownMethod is returned by ParseMethod for unrecognized input.
var ErrUnknownMethod = errors.New("unknown payment method")

// ParseMethod validates a wire-level payment method string.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodCOD, MethodRedirect, MethodPushQR:
		return Method(s), nil
	}
	return "", ErrUnknownMethod
}

var (
	// ErrGatewayUnavailable means the payment session could not be created.
	// Checkout must abort with no order persisted.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrMalformedCallback means the raw callback could not be parsed into a
	// result. The caller logs it and changes no state.
	ErrMalformedCallback = errors.New("malformed payment callback")
)

// Outcome is the adapter's interpretation of a callback result code.
type Outcome int

const (
	// OutcomeSuccess is the gateway's success sentinel.
	OutcomeSuccess Outcome = iota
	// OutcomeCancelled covers explicit cancel and failure sentinels.
	OutcomeCancelled
	// OutcomeUnknown covers every unmapped code; the raw code is preserved
	// for diagnostics.
	OutcomeUnknown
)

// CreateSessionRequest carries the order facts a gateway needs to open a
// payment session.
type CreateSessionRequest struct {
	Amount      decimal.Decimal
	OrderID     string
	Description string
}

// Session is an opened payment session. For redirect gateways RedirectURL is
// the page the buyer is sent to; for push-QR it carries the QR payload.
type Session struct {
	RedirectURL string
	ExternalRef string
}

// CallbackResult is the parsed asynchronous gateway result.
type CallbackResult struct {
	ExternalRef string
	Code        string
	Outcome     Outcome
}

// Gateway creates payment sessions and parses asynchronous callbacks.
type Gateway interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error)
	ExecuteCallback(query url.Values) (*CallbackResult, error)
}
