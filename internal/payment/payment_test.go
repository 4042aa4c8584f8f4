package payment

import (
	"context"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	for _, s := range []string{"COD", "REDIRECT", "PUSH_QR"} {
		m, err := ParseMethod(s)
		require.NoError(t, err)
		assert.Equal(t, Method(s), m)
	}

	for _, s := range []string{"", "cod", "WIRE", "PUSHQR"} {
		_, err := ParseMethod(s)
		require.ErrorIs(t, err, ErrUnknownMethod, "input %q", s)
	}
}

func TestCOD(t *testing.T) {
	g := COD{}

	sess, err := g.CreateSession(context.Background(), CreateSessionRequest{
		Amount:  decimal.NewFromInt(10),
		OrderID: "ord-1",
	})
	require.NoError(t, err)
	assert.Empty(t, sess.RedirectURL)
	assert.Empty(t, sess.ExternalRef)

	_, err = g.ExecuteCallback(url.Values{})
	require.ErrorIs(t, err, ErrMalformedCallback)
}
