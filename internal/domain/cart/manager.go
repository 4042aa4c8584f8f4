package cart

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-checkout/internal/domain/product"
	"github.com/xenking/bookshop-checkout/internal/domain/stock"
)

// Manager owns all cart mutations. Requests for the same session are
// serialized (one in-flight mutation at a time); distinct sessions never
// block each other. Every mutation keeps the ledger and the stored session
// consistent: the ledger is updated first, and the session is only written
// after the ledger accepted the change.
type Manager struct {
	store   Store
	ledger  stock.Ledger
	catalog product.Repository
	hold    time.Duration
	lg      *zap.Logger

	// now is swappable in tests.
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager. hold is the reservation hold duration after
// which unread entries are released by the inline reaper.
func NewManager(store Store, ledger stock.Ledger, catalog product.Repository, hold time.Duration, lg *zap.Logger) *Manager {
	return &Manager{
		store:   store,
		ledger:  ledger,
		catalog: catalog,
		hold:    hold,
		lg:      lg,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing operations for one session.
func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// Add reserves qty for the product and merges it into the session's entry,
// refreshing the reservation timestamp. On reservation failure nothing is
// mutated.
func (m *Manager) Add(ctx context.Context, sessionID, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	p, err := m.catalog.GetByID(ctx, productID)
	if err != nil {
		return errors.Wrapf(err, "get product %s", productID)
	}
	if !p.Active {
		return ErrUnavailable
	}

	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	items, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "load cart")
	}

	if err := m.ledger.Reserve(ctx, productID, qty); err != nil {
		return err
	}

	entry, ok := items[productID]
	if !ok {
		entry = Entry{
			ProductID: productID,
			Title:     p.Title,
			UnitPrice: p.Price,
		}
	}
	entry.Quantity += qty
	entry.ReservedAt = m.now()
	items[productID] = entry

	if err := m.store.Save(ctx, sessionID, items); err != nil {
		// The reservation is already committed; hand it back so the ledger
		// does not leak stock on a store failure.
		m.compensate(ctx, productID, qty)
		return errors.Wrap(err, "save cart")
	}
	return nil
}

// Update sets the entry's quantity to newQty, reserving or releasing the
// difference. newQty <= 0 behaves exactly as Remove. On reservation failure
// the entry is unchanged.
func (m *Manager) Update(ctx context.Context, sessionID, productID string, newQty int) error {
	if newQty <= 0 {
		return m.Remove(ctx, sessionID, productID)
	}

	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	items, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "load cart")
	}
	entry, ok := items[productID]
	if !ok {
		return ErrNotInCart
	}

	delta := newQty - entry.Quantity
	switch {
	case delta > 0:
		if err := m.ledger.Reserve(ctx, productID, delta); err != nil {
			return err
		}
	case delta < 0:
		if err := m.ledger.Release(ctx, productID, -delta); err != nil {
			return errors.Wrapf(err, "release %d of product %s", -delta, productID)
		}
	default:
		return nil
	}

	entry.Quantity = newQty
	items[productID] = entry
	if err := m.store.Save(ctx, sessionID, items); err != nil {
		m.compensate(ctx, productID, delta)
		return errors.Wrap(err, "save cart")
	}
	return nil
}

// Remove releases the entry's full quantity and deletes it. Removing an
// absent product is a no-op.
func (m *Manager) Remove(ctx context.Context, sessionID, productID string) error {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	items, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "load cart")
	}
	entry, ok := items[productID]
	if !ok {
		return nil
	}

	if err := m.ledger.Release(ctx, productID, entry.Quantity); err != nil {
		return errors.Wrapf(err, "release product %s", productID)
	}
	delete(items, productID)

	if err := m.store.Save(ctx, sessionID, items); err != nil {
		m.compensate(ctx, productID, -entry.Quantity)
		return errors.Wrap(err, "save cart")
	}
	return nil
}

// Get reaps expired entries and returns an immutable snapshot. The expired
// flag tells the caller that items were dropped, for user-visible messaging.
//
// The reaper runs only on reads: a cart never revisited after going stale
// keeps its hold until the next access. That is a deliberate simplicity
// trade-off; the stale-order sweep covers orders, not idle carts.
func (m *Manager) Get(ctx context.Context, sessionID string) (Snapshot, bool, error) {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	items, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "load cart")
	}

	expired, err := m.reap(ctx, sessionID, items)
	if err != nil {
		return Snapshot{}, false, err
	}

	return snapshot(items), expired, nil
}

// Consume freezes the session's cart into a snapshot, hands it to fn, and
// deletes the session when fn succeeds. The session lock is held throughout,
// so no same-session mutation can slip in between the snapshot and the
// delete. Expired entries are reaped before the snapshot is taken. An error
// from fn aborts the consume with the cart intact. The ledger is never
// touched: a successful fn has already converted the reservations into a
// settlement.
func (m *Manager) Consume(ctx context.Context, sessionID string, fn func(Snapshot) error) error {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	items, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "load cart")
	}
	if _, err := m.reap(ctx, sessionID, items); err != nil {
		return err
	}

	if err := fn(snapshot(items)); err != nil {
		return err
	}

	if err := m.store.Delete(ctx, sessionID); err != nil {
		return errors.Wrap(err, "delete cart")
	}
	return nil
}

// reap releases and removes every entry older than the hold duration. It
// iterates a snapshot of the keys so the map is never mutated mid-iteration.
func (m *Manager) reap(ctx context.Context, sessionID string, items map[string]Entry) (bool, error) {
	now := m.now()

	stale := make([]Entry, 0)
	for _, e := range items {
		if now.Sub(e.ReservedAt) > m.hold {
			stale = append(stale, e)
		}
	}
	if len(stale) == 0 {
		return false, nil
	}

	for _, e := range stale {
		if err := m.ledger.Release(ctx, e.ProductID, e.Quantity); err != nil {
			return false, errors.Wrapf(err, "release expired product %s", e.ProductID)
		}
		delete(items, e.ProductID)
		m.lg.Info("cart entry expired",
			zap.String("session_id", sessionID),
			zap.String("product_id", e.ProductID),
			zap.Int("quantity", e.Quantity),
		)
	}

	if err := m.store.Save(ctx, sessionID, items); err != nil {
		// The stored cart still lists the reaped entries; take the stock back
		// so the next read does not release it a second time.
		for _, e := range stale {
			m.compensate(ctx, e.ProductID, -e.Quantity)
		}
		return false, errors.Wrap(err, "save cart")
	}
	return true, nil
}

// compensate undoes a committed ledger change after the session write failed,
// keeping the ledger consistent with what the store still holds. delta is the
// change that was applied: positive for a reserve, negative for a release.
// A compensation that fails itself is only logged; there is nothing left to
// roll back to.
func (m *Manager) compensate(ctx context.Context, productID string, delta int) {
	var err error
	switch {
	case delta > 0:
		err = m.ledger.Release(ctx, productID, delta)
	case delta < 0:
		err = m.ledger.Reserve(ctx, productID, -delta)
	}
	if err != nil {
		m.lg.Error("undo ledger change after cart save failure",
			zap.String("product_id", productID),
			zap.Int("delta", delta),
			zap.Error(err),
		)
	}
}

func snapshot(items map[string]Entry) Snapshot {
	out := make([]Entry, 0, len(items))
	for _, e := range items {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return Snapshot{Items: out}
}
