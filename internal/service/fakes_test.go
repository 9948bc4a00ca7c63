package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"storefront/internal/cart"
	"storefront/internal/coupon"
	"storefront/internal/ledger"
	"storefront/internal/ledger/ledgertest"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/pricing"
	"storefront/internal/redisclient"
	"storefront/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memOrders mirrors the order store semantics over maps and a ledgertest stock table.
type memOrders struct {
	mu       sync.Mutex
	seq      int64
	orders   map[int64]*models.Order
	items    map[int64][]models.OrderItem
	payments map[int64]*models.PaymentRecord
	stock    *ledgertest.Store
	settles  int
}

func newMemOrders(stock *ledgertest.Store) *memOrders {
	return &memOrders{
		orders:   make(map[int64]*models.Order),
		items:    make(map[int64][]models.OrderItem),
		payments: make(map[int64]*models.PaymentRecord),
		stock:    stock,
	}
}

func (m *memOrders) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	order.ID = m.seq
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	cp := *order
	m.orders[order.ID] = &cp
	for i := range items {
		items[i].OrderID = order.ID
	}
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	m.payments[order.ID] = &models.PaymentRecord{OrderID: order.ID}
	return nil
}

func (m *memOrders) put(order models.Order, items ...models.OrderItem) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	order.ID = m.seq
	m.orders[order.ID] = &order
	m.items[order.ID] = items
	m.payments[order.ID] = &models.PaymentRecord{OrderID: order.ID}
	return order.ID
}

func (m *memOrders) state(id int64) models.OrderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].State
}

func (m *memOrders) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[orderID], nil
}

func (m *memOrders) GetPaymentRecord(ctx context.Context, orderID int64) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memOrders) list(match func(*models.Order) bool) []models.Order {
	var out []models.Order
	for _, o := range m.orders {
		if match(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *memOrders) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(o *models.Order) bool { return o.UserID != nil && *o.UserID == userID }), nil
}

func (m *memOrders) ListOrdersBySession(ctx context.Context, sessionID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(o *models.Order) bool { return o.SessionID == sessionID }), nil
}

func (m *memOrders) SetPreference(ctx context.Context, orderID int64, preferenceID, checkoutURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[orderID]
	if !ok {
		return store.ErrNotFound
	}
	p.PreferenceID, p.CheckoutURL = preferenceID, checkoutURL
	return nil
}

func (m *memOrders) UpdateOrderState(ctx context.Context, orderID int64, to models.OrderState, from ...models.OrderState) (models.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return "", store.ErrNotFound
	}
	prev := o.State
	if !containsState(from, prev) {
		return prev, fmt.Errorf("%w: order %d is %s", store.ErrStateConflict, orderID, prev)
	}
	o.State = to
	return prev, nil
}

func (m *memOrders) DeleteOrder(ctx context.Context, orderID int64, from ...models.OrderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	if !containsState(from, o.State) {
		return fmt.Errorf("%w: order %d is %s", store.ErrStateConflict, orderID, o.State)
	}
	delete(m.orders, orderID)
	delete(m.items, orderID)
	delete(m.payments, orderID)
	return nil
}

func (m *memOrders) ExpireStale(ctx context.Context, cutoff time.Time) ([]store.ExpiredOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ExpiredOrder
	for _, o := range m.orders {
		if (o.State == models.OrderCreated || o.State == models.OrderPending) && o.CreatedAt.Before(cutoff) {
			out = append(out, store.ExpiredOrder{ID: o.ID, From: o.State})
			o.State = models.OrderExpired
		}
	}
	return out, nil
}

func (m *memOrders) RecordPayment(ctx context.Context, orderID int64, upd store.PaymentUpdate, target models.OrderState) (*store.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := &store.Outcome{OrderID: orderID, SessionID: o.SessionID, From: o.State, To: o.State}
	p := m.payments[orderID]
	p.PaymentID, p.Status, p.StatusDetail = upd.PaymentID, upd.Status, upd.StatusDetail

	if target == models.OrderApproved {
		if o.StockDecremented {
			return out, nil
		}
		for _, it := range m.items[orderID] {
			key := models.NewLineKey(it.ProductID, it.VariantID)
			have, _ := m.stock.RealStock(ctx, it.ProductID, it.VariantID)
			if have < it.Quantity {
				out.Short = append(out.Short, models.ShortLine{ProductID: it.ProductID, VariantID: it.VariantID, SKU: it.SKU, Quantity: it.Quantity})
				continue
			}
			m.stock.SetStock(key, have-it.Quantity)
		}
		m.settles++
		out.Settled = true
		out.To = models.OrderApproved
		if len(out.Short) > 0 {
			out.To = models.OrderOversold
		}
		o.State, o.StockDecremented = out.To, true
		return out, nil
	}

	unconfirmed := o.State == models.OrderApproved && !o.StockDecremented
	if o.State == target || !(models.CanTransition(o.State, target) || unconfirmed) {
		return out, nil
	}
	out.To, o.State = target, target
	return out, nil
}

func containsState(states []models.OrderState, s models.OrderState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

type recordedEvents struct {
	mu       sync.Mutex
	created  []*models.OrderCreatedEvent
	changed  []*models.OrderStatusChangedEvent
	oversold []*models.OrderOversoldEvent
}

func (r *recordedEvents) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, e)
	return nil
}

func (r *recordedEvents) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, e)
	return nil
}

func (r *recordedEvents) PublishOrderOversold(ctx context.Context, e *models.OrderOversoldEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oversold = append(r.oversold, e)
	return nil
}

// fakeGateway serves preferences and payments from maps
type fakeGateway struct {
	mu          sync.Mutex
	prefErr     error
	payErr      error
	payments    map[string]*payment.Payment
	requests    []payment.PreferenceRequest
	paymentGets int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: make(map[string]*payment.Payment)}
}

func (g *fakeGateway) CreatePreference(ctx context.Context, req payment.PreferenceRequest) (*payment.Preference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prefErr != nil {
		return nil, g.prefErr
	}
	g.requests = append(g.requests, req)
	id := fmt.Sprintf("pref-%s", req.ExternalReference)
	return &payment.Preference{ID: id, CheckoutURL: "https://gateway.test/checkout/" + id}, nil
}

func (g *fakeGateway) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paymentGets++
	if g.payErr != nil {
		return nil, g.payErr
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s not found", payment.ErrGateway, paymentID)
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) setPayment(id, status string, orderID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[id] = &payment.Payment{ID: id, Status: status, ExternalReference: fmt.Sprint(orderID)}
}

type harness struct {
	stock    *ledgertest.Store
	holds    *ledger.Ledger
	orders   *memOrders
	events   *recordedEvents
	gateway  *fakeGateway
	redis    *redisclient.Client
	mr       *miniredis.Miniredis
	carts    *cart.Engine
	checkout *CheckoutService
	settle   *Settlement
	now      time.Time
}

type staticCatalog map[int64]*models.Product

func (c staticCatalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := c[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (c staticCatalog) GetVariant(ctx context.Context, productID, variantID int64) (*models.Variant, error) {
	return nil, store.ErrNotFound
}

type noPromotions struct{}

func (noPromotions) ActiveOffers(ctx context.Context, now time.Time) ([]models.Offer, error) {
	return nil, nil
}

func (noPromotions) CouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return nil, nil
}

func (noPromotions) CouponByID(ctx context.Context, id int64) (*models.Coupon, error) {
	return nil, nil
}

var (
	mugKey = models.LineKey{ProductID: 1}
	capKey = models.LineKey{ProductID: 2}
)

const secret = "whsec"

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	h := &harness{
		stock:   ledgertest.NewStore(),
		events:  &recordedEvents{},
		gateway: newFakeGateway(),
		redis:   rc,
		mr:      mr,
		now:     time.Now(),
	}
	h.stock.SetStock(mugKey, 1)
	h.stock.SetStock(capKey, 10)
	h.orders = newMemOrders(h.stock)

	clock := func() time.Time { return h.now }
	catalog := staticCatalog{
		1: {ID: 1, SKU: "MUG", Name: "Mug", Price: decimal.NewFromInt(50), Technique: models.TechniqueSublimation, Active: true},
		2: {ID: 2, SKU: "CAP", Name: "Cap", Price: decimal.NewFromInt(15), Technique: models.TechniqueOther, Active: true},
	}
	h.holds = ledger.New(h.stock, h.stock, clock)
	h.carts = cart.NewEngine(catalog, h.holds,
		pricing.NewResolver(noPromotions{}, clock),
		coupon.NewEngine(noPromotions{}, clock))
	h.checkout = NewCheckoutService(h.orders, h.carts, h.gateway, h.events, CheckoutConfig{
		PublicURL:   "https://shop.test",
		Currency:    "ARS",
		OrderExpiry: time.Hour,
	}, clock)
	h.settle = NewSettlement(h.orders, h.holds, rc, h.gateway, rc, h.events, secret)
	return h
}

// cartWith builds a session cart through the engine so holds exist.
func (h *harness) cartWith(t *testing.T, sid string, key models.LineKey, qty int) *models.Cart {
	t.Helper()
	c := models.NewCart(sid, nil)
	_, err := h.carts.Add(context.Background(), c, key, qty)
	require.NoError(t, err)
	require.NoError(t, h.redis.SaveCart(context.Background(), c))
	return c
}

func (h *harness) notify(paymentID string) Notification {
	rid := "req-" + paymentID
	ts := "1700000000"
	return Notification{
		Type:      "payment",
		DataID:    paymentID,
		RequestID: rid,
		Signature: "ts=" + ts + ",v1=" + hex.EncodeToString(payment.Sign(secret, payment.Manifest(paymentID, rid, ts))),
	}
}

func (h *harness) changedTo(to models.OrderState) int {
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	n := 0
	for _, e := range h.events.changed {
		if e.To == to {
			n++
		}
	}
	return n
}
