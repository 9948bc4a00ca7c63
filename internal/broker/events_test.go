package broker

import (
	"context"
	"encoding/json"
	"testing"

	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestHandleMessageRoutesOversold(t *testing.T) {
	h := NewEventHandler()
	var got *models.OrderOversoldEvent
	h.OnOrderOversold(func(ctx context.Context, e *models.OrderOversoldEvent) error {
		got = e
		return nil
	})

	sent := &models.OrderOversoldEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderOversold),
		OrderID:   42,
		PaymentID: "pay-1",
		Short:     []models.ShortLine{{ProductID: 1, SKU: "MUG", Quantity: 2}},
	}
	require.NoError(t, h.HandleMessage(context.Background(), message(t, sent)))

	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.OrderID)
	assert.Equal(t, sent.EventID, got.EventID)
	assert.Equal(t, "MUG", got.Short[0].SKU)
}

func TestHandleMessageRoutesStatusChanged(t *testing.T) {
	h := NewEventHandler()
	var got *models.OrderStatusChangedEvent
	h.OnOrderStatusChanged(func(ctx context.Context, e *models.OrderStatusChangedEvent) error {
		got = e
		return nil
	})

	sent := &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   7, From: models.OrderCreated, To: models.OrderExpired, Source: "sweeper",
	}
	require.NoError(t, h.HandleMessage(context.Background(), message(t, sent)))
	require.NotNil(t, got)
	assert.Equal(t, models.OrderExpired, got.To)
}

func TestHandleMessageIgnoresUnknownAndUnregistered(t *testing.T) {
	h := NewEventHandler()

	assert.NoError(t, h.HandleMessage(context.Background(), message(t, models.NewBaseEvent("SOMETHING_ELSE"))))
	assert.NoError(t, h.HandleMessage(context.Background(), message(t, models.NewBaseEvent(models.EventTypeOrderOversold))))
	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte("{")}))
}
