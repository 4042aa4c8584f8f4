package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PushQRConfig configures the push-QR gateway adapter.
type PushQRConfig struct {
	// GenerateURL is the provider's QR generation endpoint.
	GenerateURL string
	// AccountNo and AccountName identify the receiving bank account.
	AccountNo   string
	AccountName string
	// BankID is the provider's acquirer identifier.
	BankID int
	// ClientID and APIKey authenticate requests to the provider.
	ClientID string
	APIKey   string
}

var _ Gateway = (*PushQR)(nil)

// PushQR implements Gateway for a push-QR provider. CreateSession calls the
// provider's generate API and returns the QR payload for display. There is
// no provider webhook: push-QR orders settle through manual reconciliation,
// so ExecuteCallback always rejects.
type PushQR struct {
	cfg    PushQRConfig
	client *http.Client
}

// NewPushQR creates a push-QR gateway adapter. client may be nil, in which
// case a client with a sane timeout is used.
func NewPushQR(cfg PushQRConfig, client *http.Client) *PushQR {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PushQR{cfg: cfg, client: client}
}

type pushQRRequest struct {
	AccountNo   string `json:"accountNo"`
	AccountName string `json:"accountName"`
	AcqID       int    `json:"acqId"`
	Amount      int64  `json:"amount"`
	AddInfo     string `json:"addInfo"`
	Format      string `json:"format"`
}

type pushQRResponse struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
	Data struct {
		QRCode    string `json:"qrCode"`
		QRDataURL string `json:"qrDataURL"`
	} `json:"data"`
}

// CreateSession asks the provider for a QR payload covering the order
// amount. The order ID doubles as the external reference so a manual
// confirmation path can correlate the transfer.
func (g *PushQR) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	if req.Amount.Cmp(decimal.Zero) <= 0 {
		return nil, errors.Wrap(ErrGatewayUnavailable, "non-positive amount")
	}

	body, err := json.Marshal(pushQRRequest{
		AccountNo:   g.cfg.AccountNo,
		AccountName: g.cfg.AccountName,
		AcqID:       g.cfg.BankID,
		Amount:      req.Amount.IntPart(),
		AddInfo:     req.Description,
		Format:      "text",
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.GenerateURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-client-id", g.cfg.ClientID)
	httpReq.Header.Set("x-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(ErrGatewayUnavailable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrGatewayUnavailable, "provider status %d", resp.StatusCode)
	}

	var out pushQRResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(ErrGatewayUnavailable, "decode response")
	}
	if out.Code != "00" || out.Data.QRDataURL == "" {
		return nil, errors.Wrapf(ErrGatewayUnavailable, "provider code %s: %s", out.Code, out.Desc)
	}

	return &Session{
		RedirectURL: out.Data.QRDataURL,
		ExternalRef: req.OrderID,
	}, nil
}

// ExecuteCallback always rejects: the push-QR provider has no webhook.
func (g *PushQR) ExecuteCallback(url.Values) (*CallbackResult, error) {
	return nil, ErrMalformedCallback
}
