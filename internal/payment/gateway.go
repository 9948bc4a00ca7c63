// Package payment is the boundary to the hosted-checkout payment gateway:
// preference creation, payment lookup, webhook signatures and status mapping.
package payment

import (
	"context"
	"encoding/json"
	"errors"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// ErrGateway wraps every failure talking to the gateway; callers may retry.
var ErrGateway = errors.New("payment gateway unavailable")

// Item is one line sent to the hosted checkout
type Item struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	CurrencyID string          `json:"currency_id"`
}

// MarshalJSON sends the unit price as a JSON number with two decimals.
func (i Item) MarshalJSON() ([]byte, error) {
	type plain Item
	return json.Marshal(struct {
		plain
		UnitPrice json.Number `json:"unit_price"`
	}{plain(i), json.Number(i.UnitPrice.StringFixed(2))})
}

// BackURLs are where the gateway redirects the shopper after checkout
type BackURLs struct {
	Success string `json:"success"`
	Pending string `json:"pending"`
	Failure string `json:"failure"`
}

// PreferenceRequest describes a hosted checkout to create
type PreferenceRequest struct {
	Items             []Item   `json:"items"`
	ExternalReference string   `json:"external_reference"`
	BackURLs          BackURLs `json:"back_urls"`
	NotificationURL   string   `json:"notification_url"`
	AutoReturn        string   `json:"auto_return,omitempty"`
}

// Preference is a created hosted checkout
type Preference struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"init_point"`
}

// Payment is the gateway's authoritative view of a payment
type Payment struct {
	ID                string          `json:"-"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	Raw               json.RawMessage `json:"-"`
}

// Gateway is the narrow interface the checkout flow depends on
type Gateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// MapStatus translates a gateway payment status into an order state.
// Anything other than approved, pending or in_process is a rejection.
func MapStatus(status string) models.OrderState {
	switch status {
	case "approved":
		return models.OrderApproved
	case "pending", "in_process":
		return models.OrderPending
	default:
		return models.OrderRejected
	}
}

// MapReturn translates the return redirect outcome (success, pending,
// failure) into the optimistic order state shown to the shopper.
func MapReturn(outcome, status string) (models.OrderState, bool) {
	switch outcome {
	case "success":
		if status != "" {
			return MapStatus(status), true
		}
		return models.OrderApproved, true
	case "pending":
		return models.OrderPending, true
	case "failure":
		return models.OrderRejected, true
	}
	return "", false
}
