package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQRServer(t *testing.T, status int, resp pushQRResponse) (*httptest.Server, *pushQRRequest) {
	t.Helper()

	var seen pushQRRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "client-1", r.Header.Get("x-client-id"))
		assert.Equal(t, "key-1", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func qrConfig(generateURL string) PushQRConfig {
	return PushQRConfig{
		GenerateURL: generateURL,
		AccountNo:   "00112233",
		AccountName: "BOOKSHOP LTD",
		BankID:      970422,
		ClientID:    "client-1",
		APIKey:      "key-1",
	}
}

func TestPushQRCreateSession(t *testing.T) {
	resp := pushQRResponse{Code: "00", Desc: "success"}
	resp.Data.QRDataURL = "data:image/png;base64,QR"
	srv, seen := newQRServer(t, http.StatusOK, resp)

	g := NewPushQR(qrConfig(srv.URL), srv.Client())

	sess, err := g.CreateSession(context.Background(), CreateSessionRequest{
		Amount:      decimal.RequireFromString("250000"),
		OrderID:     "ord-1",
		Description: "Order ord-1 payment",
	})
	require.NoError(t, err)

	assert.Equal(t, "data:image/png;base64,QR", sess.RedirectURL)
	assert.Equal(t, "ord-1", sess.ExternalRef)

	assert.Equal(t, "00112233", seen.AccountNo)
	assert.Equal(t, "BOOKSHOP LTD", seen.AccountName)
	assert.Equal(t, 970422, seen.AcqID)
	assert.Equal(t, int64(250000), seen.Amount)
	assert.Equal(t, "Order ord-1 payment", seen.AddInfo)
	assert.Equal(t, "text", seen.Format)
}

func TestPushQRCreateSession_ProviderError(t *testing.T) {
	srv, _ := newQRServer(t, http.StatusOK, pushQRResponse{Code: "42", Desc: "account not found"})

	g := NewPushQR(qrConfig(srv.URL), srv.Client())

	_, err := g.CreateSession(context.Background(), CreateSessionRequest{
		Amount:  decimal.NewFromInt(1000),
		OrderID: "ord-1",
	})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "account not found")
}

func TestPushQRCreateSession_HTTPError(t *testing.T) {
	srv, _ := newQRServer(t, http.StatusBadGateway, pushQRResponse{})

	g := NewPushQR(qrConfig(srv.URL), srv.Client())

	_, err := g.CreateSession(context.Background(), CreateSessionRequest{
		Amount:  decimal.NewFromInt(1000),
		OrderID: "ord-1",
	})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestPushQRCreateSession_ProviderDown(t *testing.T) {
	srv, _ := newQRServer(t, http.StatusOK, pushQRResponse{})
	srv.Close()

	g := NewPushQR(qrConfig(srv.URL), nil)

	_, err := g.CreateSession(context.Background(), CreateSessionRequest{
		Amount:  decimal.NewFromInt(1000),
		OrderID: "ord-1",
	})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestPushQRCreateSession_NonPositiveAmount(t *testing.T) {
	g := NewPushQR(qrConfig("https://qr.example/generate"), nil)

	_, err := g.CreateSession(context.Background(), CreateSessionRequest{
		Amount:  decimal.Zero,
		OrderID: "ord-1",
	})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestPushQRExecuteCallback_AlwaysRejects(t *testing.T) {
	g := NewPushQR(qrConfig("https://qr.example/generate"), nil)

	_, err := g.ExecuteCallback(url.Values{"txn_ref": {"ref"}, "response_code": {"00"}})
	require.ErrorIs(t, err, ErrMalformedCallback)
}
