package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memProcessed struct {
	mu   sync.Mutex
	seen map[string]string
}

func (m *memProcessed) IsEventProcessed(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[id]
	return ok, nil
}

func (m *memProcessed) MarkEventProcessed(ctx context.Context, id, typ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = typ
	return nil
}

func TestHandleOversoldMarksEventOnce(t *testing.T) {
	processed := &memProcessed{seen: map[string]string{}}
	w := NewAlertWorker(nil, processed)
	vid := int64(20)
	event := &models.OrderOversoldEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderOversold),
		OrderID:   9,
		PaymentID: "P2",
		Short:     []models.ShortLine{{ProductID: 2, VariantID: &vid, SKU: "TEE", Quantity: 1}},
	}

	require.NoError(t, w.HandleOversold(context.Background(), event))
	require.NoError(t, w.HandleOversold(context.Background(), event))

	assert.Equal(t, models.EventTypeOrderOversold, processed.seen[event.EventID])
	assert.Len(t, processed.seen, 1)
}

type countingSweeper struct {
	holds  int
	orders int
	err    error
}

func (c *countingSweeper) SweepExpired(ctx context.Context) (int64, error) {
	c.holds++
	return 2, c.err
}

func (c *countingSweeper) ExpireStale(ctx context.Context) (int, error) {
	c.orders++
	return 1, nil
}

func TestRunOnceContinuesAfterHoldFailure(t *testing.T) {
	c := &countingSweeper{err: errors.New("db down")}
	s := NewSweeper(c, c, time.Second)

	s.RunOnce(context.Background())

	assert.Equal(t, 1, c.holds)
	assert.Equal(t, 1, c.orders)
}

func TestSweeperStopsWithContext(t *testing.T) {
	c := &countingSweeper{}
	s := NewSweeper(c, c, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 1, c.holds, "sweeps once before waiting")
}
