// Package ledgertest provides an in-memory hold and stock store for tests.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"storefront/internal/models"
)

type holdKey struct {
	session string
	line    models.LineKey
}

// Store keeps holds and real stock in memory
type Store struct {
	mu    sync.Mutex
	holds map[holdKey]models.StockHold
	stock map[models.LineKey]int
	seq   int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		holds: make(map[holdKey]models.StockHold),
		stock: make(map[models.LineKey]int),
	}
}

// SetStock sets the real inventory of a line.
func (s *Store) SetStock(key models.LineKey, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[key] = qty
}

// Holds returns a copy of every stored hold, live or not.
func (s *Store) Holds() []models.StockHold {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StockHold, 0, len(s.holds))
	for _, h := range s.holds {
		out = append(out, h)
	}
	return out
}

// Put stores a hold verbatim, bypassing the ledger (e.g. an already expired one).
func (s *Store) Put(h models.StockHold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	h.ID = s.seq
	s.holds[holdKey{h.SessionID, models.NewLineKey(h.ProductID, h.VariantID)}] = h
}

func (s *Store) RealStock(ctx context.Context, productID int64, variantID *int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[models.NewLineKey(productID, variantID)], nil
}

func (s *Store) ReservedQuantity(ctx context.Context, productID int64, variantID *int64, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := models.NewLineKey(productID, variantID)
	total := 0
	for k, h := range s.holds {
		if k.line == line && h.Live(now) {
			total += h.Quantity
		}
	}
	return total, nil
}

func (s *Store) SessionHold(ctx context.Context, sessionID string, productID int64, variantID *int64, now time.Time) (*models.StockHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdKey{sessionID, models.NewLineKey(productID, variantID)}]
	if !ok || !h.Live(now) {
		return nil, nil
	}
	return &h, nil
}

func (s *Store) UpsertHold(ctx context.Context, hold *models.StockHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := holdKey{hold.SessionID, models.NewLineKey(hold.ProductID, hold.VariantID)}
	if prev, ok := s.holds[k]; ok {
		hold.ID = prev.ID
	} else {
		s.seq++
		hold.ID = s.seq
	}
	s.holds[k] = *hold
	return nil
}

func (s *Store) DeleteHold(ctx context.Context, sessionID string, productID int64, variantID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holds, holdKey{sessionID, models.NewLineKey(productID, variantID)})
	return nil
}

func (s *Store) DeleteSessionHolds(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.holds {
		if k.session == sessionID {
			delete(s.holds, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, h := range s.holds {
		if !h.Live(now) {
			delete(s.holds, k)
			n++
		}
	}
	return n, nil
}
