package ledger

import (
	"context"
	"testing"
	"time"

	"storefront/internal/ledger/ledgertest"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(stock int) (*Ledger, *ledgertest.Store, *clock, models.LineKey) {
	st := ledgertest.NewStore()
	key := models.LineKey{ProductID: 1}
	st.SetStock(key, stock)
	c := &clock{t: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)}
	return New(st, st, c.now), st, c, key
}

func TestEffectiveAvailableWithoutHolds(t *testing.T) {
	for _, stock := range []int{0, 1, 10, 250} {
		l, _, _, key := setup(stock)
		avail, err := l.EffectiveAvailable(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, stock, avail)
	}
}

func TestHoldReducesAvailabilityForOthers(t *testing.T) {
	l, _, _, key := setup(10)
	ctx := context.Background()

	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "x", Key: key, Quantity: 3, TTL: 30 * time.Minute}))

	avail, err := l.EffectiveAvailable(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 7, avail)

	other, err := l.CapacityForSession(ctx, "y", key)
	require.NoError(t, err)
	assert.Equal(t, 7, other)

	mine, err := l.CapacityForSession(ctx, "x", key)
	require.NoError(t, err)
	assert.Equal(t, 10, mine)
}

func TestHoldUpsertKeepsSingleRow(t *testing.T) {
	l, st, c, key := setup(10)
	ctx := context.Background()

	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "x", Key: key, Quantity: 2, TTL: time.Minute}))
	c.t = c.t.Add(30 * time.Second)
	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "x", Key: key, Quantity: 5, TTL: time.Minute}))

	holds := st.Holds()
	require.Len(t, holds, 1)
	assert.Equal(t, 5, holds[0].Quantity)
	assert.Equal(t, c.t.Add(time.Minute), holds[0].ExpiresAt)
}

func TestHoldZeroReleases(t *testing.T) {
	l, st, _, key := setup(10)
	ctx := context.Background()

	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "x", Key: key, Quantity: 2, TTL: time.Minute}))
	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "x", Key: key, Quantity: 0, TTL: time.Minute}))
	assert.Empty(t, st.Holds())
}

func TestExpiredHoldNeverCounts(t *testing.T) {
	l, st, c, key := setup(10)
	ctx := context.Background()

	st.Put(models.StockHold{SessionID: "ghost", ProductID: 1, Quantity: 9, ExpiresAt: c.t.Add(-time.Second)})
	st.Put(models.StockHold{SessionID: "edge", ProductID: 1, Quantity: 4, ExpiresAt: c.t})

	avail, err := l.EffectiveAvailable(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 10, avail, "holds expiring at or before now are dead even before a sweep")

	mine, err := l.MyReserved(ctx, "ghost", key)
	require.NoError(t, err)
	assert.Zero(t, mine)

	n, err := l.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, st.Holds())
}

func TestVariantsAreSeparateLines(t *testing.T) {
	l, st, _, bare := setup(10)
	ctx := context.Background()
	red := models.LineKey{ProductID: 1, VariantID: 7, HasVariant: true}
	st.SetStock(red, 2)

	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "x", Key: red, Quantity: 2, TTL: time.Minute}))

	availRed, err := l.EffectiveAvailable(ctx, red)
	require.NoError(t, err)
	assert.Zero(t, availRed)

	availBare, err := l.EffectiveAvailable(ctx, bare)
	require.NoError(t, err)
	assert.Equal(t, 10, availBare)
}

func TestOverCommitFloorsAtZero(t *testing.T) {
	l, _, _, key := setup(10)
	ctx := context.Background()

	// two sessions read capacity 10 before either writes
	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "a", Key: key, Quantity: 6, TTL: time.Minute}))
	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "b", Key: key, Quantity: 6, TTL: time.Minute}))

	avail, err := l.EffectiveAvailable(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, avail)

	capA, err := l.CapacityForSession(ctx, "a", key)
	require.NoError(t, err)
	assert.Equal(t, 6, capA)
}

func TestReleaseAll(t *testing.T) {
	l, st, _, key := setup(10)
	ctx := context.Background()
	other := models.LineKey{ProductID: 2}
	st.SetStock(other, 4)

	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "x", Key: key, Quantity: 1, TTL: time.Minute}))
	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "x", Key: other, Quantity: 1, TTL: time.Minute}))
	require.NoError(t, l.Hold(ctx, HoldRequest{SessionID: "y", Key: other, Quantity: 1, TTL: time.Minute}))

	require.NoError(t, l.ReleaseAll(ctx, "x"))
	holds := st.Holds()
	require.Len(t, holds, 1)
	assert.Equal(t, "y", holds[0].SessionID)
}
