// Package checkout turns a cart snapshot into a durable order and settles it
// through one of the payment gateways. It also owns the callback reconciler
// and the stale-order sweep.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/cart"
	"github.com/xenking/bookshop-checkout/internal/domain/order"
	"github.com/xenking/bookshop-checkout/internal/payment"
)

var (
	// ErrEmptyCart rejects checkout before any order is created.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrUnsupportedMethod means no gateway is wired for the method.
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

// Carts is the slice of the cart manager checkout needs. Consume runs the
// callback under the session lock and drops the cart only when it succeeds.
type Carts interface {
	Consume(ctx context.Context, sessionID string, fn func(cart.Snapshot) error) error
}

// SubmitRequest holds the input for a checkout attempt.
type SubmitRequest struct {
	Buyer  order.Buyer
	Method payment.Method
}

// SubmitResult holds the outcome of a successful checkout. RedirectURL is set
// for REDIRECT, QRPayload for PUSH_QR; COD orders are settled immediately.
type SubmitResult struct {
	Order       *order.Order
	RedirectURL string
	QRPayload   string
}

// Service orchestrates checkout. Stock is never touched here: the
// reservations taken at add-to-cart time already represent the committed
// decrement, and settlement converts them into a permanent sale with no
// further ledger action.
type Service struct {
	carts    Carts
	orders   order.Repository
	gateways map[payment.Method]payment.Gateway
	lg       *zap.Logger

	now func() time.Time
}

// NewService creates a checkout Service with the wired gateways.
func NewService(carts Carts, orders order.Repository, gateways map[payment.Method]payment.Gateway, lg *zap.Logger) *Service {
	return &Service{
		carts:    carts,
		orders:   orders,
		gateways: gateways,
		lg:       lg,
		now:      time.Now,
	}
}

// Submit freezes the session's cart into an order and dispatches it by
// payment method. The whole attempt runs inside the cart's consume callback,
// so a concurrent add or update on the same session waits instead of slipping
// between the snapshot and the clear.
//
// Persist-then-clear ordering is load-bearing: if the gateway or order
// persistence fails the cart keeps its reserved items so the buyer can retry,
// and for redirect methods the external reference is durable before the cart
// goes away.
func (s *Service) Submit(ctx context.Context, sessionID string, req SubmitRequest) (*SubmitResult, error) {
	var res *SubmitResult
	err := s.carts.Consume(ctx, sessionID, func(snap cart.Snapshot) error {
		if snap.Empty() {
			return ErrEmptyCart
		}

		o := &order.Order{
			ID:        uuid.New().String(),
			Amount:    snap.Total().Round(2),
			Method:    req.Method,
			Status:    order.StatusPending,
			Buyer:     req.Buyer,
			CreatedAt: s.now(),
		}
		o.Lines = make([]order.Line, len(snap.Items))
		for i, e := range snap.Items {
			o.Lines[i] = order.Line{
				OrderID:   o.ID,
				ProductID: e.ProductID,
				Quantity:  e.Quantity,
				UnitPrice: e.UnitPrice,
			}
		}

		var err error
		switch req.Method {
		case payment.MethodCOD:
			res, err = s.submitCOD(ctx, o)
		case payment.MethodRedirect, payment.MethodPushQR:
			res, err = s.submitGateway(ctx, o)
		default:
			err = ErrUnsupportedMethod
		}
		return err
	})
	if err != nil {
		if res != nil {
			// The order is durable; only the cart delete failed.
			return nil, errors.Wrapf(err, "clear cart after order %s", res.Order.ID)
		}
		return nil, err
	}
	return res, nil
}

// submitCOD settles immediately: cash on delivery is trusted manual
// settlement, so the order is persisted as paid.
func (s *Service) submitCOD(ctx context.Context, o *order.Order) (*SubmitResult, error) {
	o.Status = order.StatusPaid

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.lg.Info("order settled",
		zap.String("order_id", o.ID),
		zap.String("method", string(o.Method)),
		zap.String("amount", o.Amount.String()),
	)
	return &SubmitResult{Order: o}, nil
}

// submitGateway opens a payment session before anything is persisted: a
// gateway failure aborts checkout with no order created. The order then
// stays pending, holding its reserved stock, until a callback or the stale
// sweep resolves it.
func (s *Service) submitGateway(ctx context.Context, o *order.Order) (*SubmitResult, error) {
	gw, ok := s.gateways[o.Method]
	if !ok {
		return nil, ErrUnsupportedMethod
	}

	sess, err := gw.CreateSession(ctx, payment.CreateSessionRequest{
		Amount:      o.Amount,
		OrderID:     o.ID,
		Description: fmt.Sprintf("Order %s payment", o.ID),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create payment session")
	}
	o.ExternalRef = sess.ExternalRef

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.lg.Info("order awaiting payment",
		zap.String("order_id", o.ID),
		zap.String("method", string(o.Method)),
		zap.String("external_ref", o.ExternalRef),
	)

	res := &SubmitResult{Order: o}
	if o.Method == payment.MethodPushQR {
		res.QRPayload = sess.RedirectURL
	} else {
		res.RedirectURL = sess.RedirectURL
	}
	return res, nil
}
