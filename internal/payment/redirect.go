package payment

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Result codes of the redirect provider. Anything else is unmapped and
// reported as OutcomeUnknown.
const (
	redirectCodeSuccess   = "00"
	redirectCodeUserAbort = "24"
	redirectCodeDeclined  = "11"
)

// RedirectConfig configures the redirect-based gateway adapter.
type RedirectConfig struct {
	// PayURL is the provider's payment page endpoint.
	PayURL string
	// ReturnURL is where the provider sends the buyer (and the result query)
	// after the payment attempt.
	ReturnURL string
	// MerchantCode identifies this shop at the provider.
	MerchantCode string
}

var _ Gateway = (*Redirect)(nil)

// Redirect implements Gateway for a hosted-page provider: CreateSession
// builds the redirect URL carrying a fresh transaction reference, and
// ExecuteCallback parses the result query the provider appends to the
// return URL. Signing of the redirect query is the provider SDK's concern
// and is outside this adapter.
type Redirect struct {
	cfg RedirectConfig

	// now is swappable in tests; transaction refs are derived from it.
	now func() time.Time
}

// NewRedirect creates a redirect gateway adapter.
func NewRedirect(cfg RedirectConfig) *Redirect {
	return &Redirect{cfg: cfg, now: time.Now}
}

// CreateSession builds the provider redirect URL for the given order. The
// returned ExternalRef is the transaction reference embedded in the URL; the
// provider echoes it back in the callback.
func (g *Redirect) CreateSession(_ context.Context, req CreateSessionRequest) (*Session, error) {
	base, err := url.Parse(g.cfg.PayURL)
	if err != nil {
		return nil, errors.Wrap(ErrGatewayUnavailable, "parse pay URL")
	}

	// Provider convention: amounts are integer minor units.
	amount := req.Amount.Mul(decimal.NewFromInt(100)).IntPart()
	ref := strconv.FormatInt(g.now().UnixNano(), 10)

	q := url.Values{}
	q.Set("txn_ref", ref)
	q.Set("amount", strconv.FormatInt(amount, 10))
	q.Set("order_info", req.Description)
	q.Set("merchant", g.cfg.MerchantCode)
	q.Set("return_url", g.cfg.ReturnURL)
	base.RawQuery = q.Encode()

	return &Session{
		RedirectURL: base.String(),
		ExternalRef: ref,
	}, nil
}

// ExecuteCallback parses the result query appended to the return URL. A
// missing transaction reference or result code makes the callback malformed.
func (g *Redirect) ExecuteCallback(query url.Values) (*CallbackResult, error) {
	ref := query.Get("txn_ref")
	code := query.Get("response_code")
	if ref == "" || code == "" {
		return nil, ErrMalformedCallback
	}

	outcome := OutcomeUnknown
	switch code {
	case redirectCodeSuccess:
		outcome = OutcomeSuccess
	case redirectCodeUserAbort, redirectCodeDeclined:
		outcome = OutcomeCancelled
	}

	return &CallbackResult{
		ExternalRef: ref,
		Code:        code,
		Outcome:     outcome,
	}, nil
}
