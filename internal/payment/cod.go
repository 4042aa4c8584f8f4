package payment

import (
	"context"
	"net/url"
)

var _ Gateway = COD{}

// COD is the cash-on-delivery gateway. Settlement is trusted and manual, so
// no payment session exists: CreateSession returns an empty session and there
// is no callback to parse.
type COD struct{}

func (COD) CreateSession(_ context.Context, _ CreateSessionRequest) (*Session, error) {
	return &Session{}, nil
}

func (COD) ExecuteCallback(url.Values) (*CallbackResult, error) {
	return nil, ErrMalformedCallback
}
