package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinehq/mesa/internal/auth"
	"github.com/dinehq/mesa/internal/catalog"
	"github.com/dinehq/mesa/internal/money"
	"github.com/dinehq/mesa/internal/notify"
	"github.com/dinehq/mesa/internal/order"
	"github.com/dinehq/mesa/internal/payment"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakeAuthn verifies tokens against a fixed table.
type fakeAuthn struct {
	tokens map[string]auth.Identity
}

func (f *fakeAuthn) Verify(_ context.Context, token string) (auth.Identity, error) {
	id, ok := f.tokens[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidCredential
	}
	return id, nil
}

type memOrderRepo struct {
	mu     sync.Mutex
	seq    int
	orders map[string]*order.Order
	items  map[string][]order.Item
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[string]*order.Order{}, items: map[string][]order.Item{}}
}

func (m *memOrderRepo) Create(_ context.Context, o *order.Order, items []order.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	m.items[o.ID] = append([]order.Item(nil), items...)
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id string) (*order.Order, []order.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil, order.ErrNotFound
	}
	cp := *o
	return &cp, append([]order.Item(nil), m.items[id]...), nil
}

func (m *memOrderRepo) ListByOwner(_ context.Context, ownerKey string, _, _ int) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if o.OwnerKey() == ownerKey {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memOrderRepo) ListByStatus(_ context.Context, status order.Status, _, _ int) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) UpdateStatusCAS(_ context.Context, id string, from, to order.Status, rejectionReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrStatusChanged
	}
	o.Status = to
	if rejectionReason != "" {
		o.RejectionReason = rejectionReason
	}
	return nil
}

// memPaymentRepo shares the order map so settlement flips order status.
type memPaymentRepo struct {
	orders    *memOrderRepo
	mu        sync.Mutex
	payments  map[string]*payment.Payment
	links     map[string][]payment.OrderLink
	customers map[string]string
}

func newMemPaymentRepo(orders *memOrderRepo) *memPaymentRepo {
	return &memPaymentRepo{
		orders:    orders,
		payments:  map[string]*payment.Payment{},
		links:     map[string][]payment.OrderLink{},
		customers: map[string]string{},
	}
}

func (m *memPaymentRepo) liveLink(orderID string) bool {
	for pid, ls := range m.links {
		for _, l := range ls {
			if l.OrderID == orderID {
				st := m.payments[pid].Status
				if st == payment.StatusPending || st == payment.StatusCompleted {
					return true
				}
			}
		}
	}
	return false
}

func (m *memPaymentRepo) CreateWithLinks(_ context.Context, p *payment.Payment, orderIDs []string) ([]payment.OrderLink, error) {
	m.orders.mu.Lock()
	defer m.orders.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := make([]string, 0, len(orderIDs))
	links := make([]payment.OrderLink, 0, len(orderIDs))
	for _, oid := range orderIDs {
		o, ok := m.orders.orders[oid]
		if !ok || o.OwnerKey() != p.OwnerKey() || o.Status != order.StatusServed {
			return nil, fmt.Errorf("order %s: %w", oid, payment.ErrOrderNotBillable)
		}
		if m.liveLink(oid) {
			return nil, fmt.Errorf("order %s: %w", oid, payment.ErrOrderAlreadyBilled)
		}
		totals = append(totals, o.Total)
		links = append(links, payment.OrderLink{PaymentID: p.ID, OrderID: oid, Amount: o.Total})
	}
	total, err := money.Sum(totals...)
	if err != nil {
		return nil, err
	}
	p.Total = money.String(total)
	cp := *p
	m.payments[p.ID] = &cp
	m.links[p.ID] = links
	return links, nil
}

func (m *memPaymentRepo) GetByID(_ context.Context, id string) (*payment.Payment, []payment.OrderLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, nil, payment.ErrNotFound
	}
	cp := *p
	return &cp, append([]payment.OrderLink(nil), m.links[id]...), nil
}

func (m *memPaymentRepo) GetByIntentID(_ context.Context, intentID string) (*payment.Payment, []payment.OrderLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.payments {
		if p.IntentID == intentID && intentID != "" {
			cp := *p
			return &cp, append([]payment.OrderLink(nil), m.links[id]...), nil
		}
	}
	return nil, nil, payment.ErrNotFound
}

func (m *memPaymentRepo) ListBillable(_ context.Context, ownerKey string) ([]order.Order, error) {
	m.orders.mu.Lock()
	defer m.orders.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders.orders {
		if o.OwnerKey() == ownerKey && o.Status == order.StatusServed && !m.liveLink(o.ID) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memPaymentRepo) SetIntentID(_ context.Context, paymentID, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return payment.ErrNotFound
	}
	p.IntentID = intentID
	return nil
}

func (m *memPaymentRepo) Complete(_ context.Context, paymentID, processedBy, notes string) ([]order.Order, error) {
	m.orders.mu.Lock()
	defer m.orders.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, payment.ErrNotFound
	}
	if p.Status == payment.StatusCompleted {
		return nil, payment.ErrAlreadyCompleted
	}
	if p.Status != payment.StatusPending && p.Status != payment.StatusFailed {
		return nil, payment.ErrNotSettleable
	}
	p.Status = payment.StatusCompleted
	p.ProcessedBy = processedBy
	if notes != "" {
		p.Notes = notes
	}
	var completed []order.Order
	ls := m.links[paymentID]
	for i := range ls {
		ls[i].Settled = true
		if o := m.orders.orders[ls[i].OrderID]; o != nil && o.Status == order.StatusServed {
			o.Status = order.StatusCompleted
			completed = append(completed, *o)
		}
	}
	return completed, nil
}

func (m *memPaymentRepo) MarkFailed(_ context.Context, paymentID string, reason payment.DeclineReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return payment.ErrNotFound
	}
	p.Status = payment.StatusFailed
	p.FailureReason = reason
	return nil
}

func (m *memPaymentRepo) ListPending(_ context.Context, _, _ int) ([]payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.Payment
	for _, p := range m.payments {
		if p.Status == payment.StatusPending {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memPaymentRepo) ListPendingWithIntents(_ context.Context) ([]payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.Payment
	for _, p := range m.payments {
		if p.Status == payment.StatusPending && p.IntentID != "" {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memPaymentRepo) GetProcessorCustomer(_ context.Context, ownerKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.customers[ownerKey], nil
}

func (m *memPaymentRepo) SaveProcessorCustomer(_ context.Context, ownerKey, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[ownerKey] = customerID
	return nil
}

// stubProcessor answers the minimum the handler tests exercise.
type stubProcessor struct{}

func (stubProcessor) CreateIntent(context.Context, int64, string, map[string]string) (*payment.Intent, error) {
	return &payment.Intent{ID: "pi_1", ClientSecret: "cs_1", Status: "requires_confirmation"}, nil
}
func (stubProcessor) RetrieveIntent(context.Context, string) (*payment.Intent, error) {
	return &payment.Intent{ID: "pi_1", Status: payment.IntentSucceeded}, nil
}
func (stubProcessor) CreateCustomer(context.Context, string) (string, error) { return "cus_1", nil }
func (stubProcessor) AttachInstrument(context.Context, string, string) error { return nil }
func (stubProcessor) ChargeInstrument(context.Context, string, string, int64, string, map[string]string) (*payment.ChargeResult, error) {
	return &payment.ChargeResult{IntentID: "pi_1", Succeeded: true}, nil
}

type testEnv struct {
	router    *gin.Engine
	orderRepo *memOrderRepo
	payRepo   *memPaymentRepo
}

var (
	tokCustomer = "tok-customer"
	tokWaiter   = "tok-waiter"
	tokKitchen  = "tok-kitchen"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	menu := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/menu-items/m-salmon":
			_ = json.NewEncoder(w).Encode(catalog.MenuItem{ID: "m-salmon", Name: "Grilled Salmon", Price: "24.99", Available: true})
		case "/modifier-options/opt-lemon":
			_ = json.NewEncoder(w).Encode(catalog.ModifierOption{ID: "opt-lemon", GroupID: "g-extras", Name: "Extra Lemon", PriceAdjustment: "0.50", Available: true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(menu.Close)

	authn := &fakeAuthn{tokens: map[string]auth.Identity{
		tokCustomer: {ID: "u-1", Email: "u1@example.com", Role: auth.RoleCustomer, TableID: "T-1"},
		tokWaiter:   {ID: "w-1", Role: auth.RoleWaiter},
		tokKitchen:  {ID: "k-1", Role: auth.RoleKitchen},
	}}

	orderRepo := newMemOrderRepo()
	payRepo := newMemPaymentRepo(orderRepo)
	orders := order.NewService(orderRepo, catalog.NewClient(menu.URL), notify.Noop{})
	payments := payment.NewService(payRepo, stubProcessor{}, notify.Noop{}, "usd")

	return &testEnv{
		router:    setupRouter(orders, payments, notify.NewHub(), authn),
		orderRepo: orderRepo,
		payRepo:   payRepo,
	}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedOrder(owner auth.Identity, status order.Status, total string) *order.Order {
	e.orderRepo.mu.Lock()
	defer e.orderRepo.mu.Unlock()
	e.orderRepo.seq++
	o := &order.Order{
		ID:      fmt.Sprintf("o-%d", e.orderRepo.seq),
		TableID: "T-1",
		Status:  status,
		Total:   total,
	}
	if owner.IsGuest {
		o.SessionID = owner.SessionID
	} else {
		o.UserID = owner.ID
	}
	e.orderRepo.orders[o.ID] = o
	return o
}

var customerID = auth.Identity{ID: "u-1", Role: auth.RoleCustomer}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresCredential(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/api/orders", "tok-bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateOrderEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/orders", tokCustomer, order.CreateOrderRequest{
		TableID: "T-1",
		Items: []order.CreateOrderItem{
			{MenuItemID: "m-salmon", Quantity: 2, ModifierOptionIDs: []string{"opt-lemon"}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res order.OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, order.StatusPending, res.Status)
	assert.Equal(t, "50.98", res.Total) // (24.99 + 0.50) * 2
	require.Len(t, res.Items, 1)
	assert.Equal(t, "25.49", res.Items[0].UnitPrice)

	// listing shows it back to its owner
	w = env.do(http.MethodGet, "/api/orders", tokCustomer, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), res.ID)
}

func TestCreateOrderUnknownMenuItem(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/orders", tokCustomer, order.CreateOrderRequest{
		TableID: "T-1",
		Items:   []order.CreateOrderItem{{MenuItemID: "m-unicorn", Quantity: 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcceptGatedToFrontOfHouse(t *testing.T) {
	env := newTestEnv(t)
	o := env.seedOrder(customerID, order.StatusPending, "10.00")
	path := "/api/orders/" + o.ID + "/accept"

	w := env.do(http.MethodPost, path, tokCustomer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, path, tokKitchen, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, path, tokWaiter, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), string(order.StatusAccepted))
}

func TestCancelConflictSurfacesAs409(t *testing.T) {
	env := newTestEnv(t)
	o := env.seedOrder(customerID, order.StatusServed, "10.00")

	w := env.do(http.MethodPost, "/api/orders/"+o.ID+"/cancel", tokCustomer, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatusUpdateStaffOnly(t *testing.T) {
	env := newTestEnv(t)
	o := env.seedOrder(customerID, order.StatusAccepted, "10.00")
	path := "/api/orders/" + o.ID + "/status"

	w := env.do(http.MethodPatch, path, tokCustomer, order.UpdateStatusRequest{Status: "preparing"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPatch, path, tokKitchen, order.UpdateStatusRequest{Status: "preparing"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBillingThenCashSettlement(t *testing.T) {
	env := newTestEnv(t)
	o1 := env.seedOrder(customerID, order.StatusServed, "10.00")
	o2 := env.seedOrder(customerID, order.StatusServed, "15.50")

	w := env.do(http.MethodGet, "/api/billing", tokCustomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info payment.BillingInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "25.50", info.GrandTotal)

	w = env.do(http.MethodPost, "/api/payments", tokCustomer, payment.CreatePaymentRequest{
		OrderIDs: []string{o1.ID, o2.ID}, Method: "cash",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res payment.PaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "25.50", res.Total)

	// customers cannot take cash
	w = env.do(http.MethodPost, "/api/payments/"+res.Payment.ID+"/cash", tokCustomer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/payments/"+res.Payment.ID+"/cash", tokWaiter, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env.orderRepo.mu.Lock()
	assert.Equal(t, order.StatusCompleted, env.orderRepo.orders[o1.ID].Status)
	assert.Equal(t, order.StatusCompleted, env.orderRepo.orders[o2.ID].Status)
	env.orderRepo.mu.Unlock()
}

func TestDoubleBillingRejected(t *testing.T) {
	env := newTestEnv(t)
	o := env.seedOrder(customerID, order.StatusServed, "10.00")

	w := env.do(http.MethodPost, "/api/payments", tokCustomer, payment.CreatePaymentRequest{
		OrderIDs: []string{o.ID}, Method: "cash",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(http.MethodPost, "/api/payments", tokCustomer, payment.CreatePaymentRequest{
		OrderIDs: []string{o.ID}, Method: "card",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRequiresIntentID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/webhooks/processor", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReconcileEndpointStaffOnly(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/admin/payments/reconcile", tokCustomer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/admin/payments/reconcile", tokWaiter, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"settled":0`)
}
