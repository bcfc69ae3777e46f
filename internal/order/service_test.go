package order

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/checkout/internal/apperr"
	"github.com/storefront-labs/checkout/internal/cart"
	"github.com/storefront-labs/checkout/internal/config"
	"github.com/storefront-labs/checkout/internal/gateway"
	"github.com/storefront-labs/checkout/internal/notify"
	"github.com/storefront-labs/checkout/internal/search"
)

type stubRepo struct {
	orders   map[int64]*Order
	units    []*CheckoutUnit
	settled  []int64
	credited map[int64]bool // orderID -> already credited
	nextID   int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{orders: map[int64]*Order{}, credited: map[int64]bool{}, nextID: 1}
}

func (r *stubRepo) CreateCheckout(_ context.Context, unit *CheckoutUnit) error {
	unit.Order.ID = r.nextID
	r.nextID++
	r.orders[unit.Order.ID] = unit.Order
	r.units = append(r.units, unit)
	return nil
}

func (r *stubRepo) GetByID(_ context.Context, id int64) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.NotFoundf("order not found")
	}
	return o, nil
}

func (r *stubRepo) GetByBillCode(_ context.Context, billCode int64) (*Order, error) {
	for _, o := range r.orders {
		if o.BillCode == billCode {
			return o, nil
		}
	}
	return nil, apperr.NotFoundf("order not found")
}

func (r *stubRepo) Settle(_ context.Context, orderID int64, _ int, _ string) (bool, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return false, apperr.NotFoundf("order not found")
	}
	o.Payment.Status = PaymentSuccess
	r.settled = append(r.settled, orderID)
	if r.credited[orderID] {
		return false, nil
	}
	r.credited[orderID] = true
	return true, nil
}

func (r *stubRepo) CancelByOwner(_ context.Context, orderID, userID int64) (*Order, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return nil, apperr.NotFoundf("order not found")
	}
	if err := CanCancel(o, userID); err != nil {
		return nil, err
	}
	o.Status = StatusCancelled
	if o.Payment.Status == PaymentPending {
		o.Payment.Status = PaymentFailed
	}
	return o, nil
}

func (r *stubRepo) Transition(_ context.Context, orderID int64, next Status, _ int, _ string) (*TransitionOutcome, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return nil, apperr.NotFoundf("order not found")
	}
	fx, err := PlanTransition(o, next)
	if err != nil {
		return nil, err
	}
	if fx.StatusChanged {
		o.Status = next
	}
	if fx.SucceedPayment {
		o.Payment.Status = PaymentSuccess
	}
	if fx.FailPayment && o.Payment.Status == PaymentPending {
		o.Payment.Status = PaymentFailed
	}
	credited := false
	if fx.CreditPoints && !r.credited[orderID] {
		r.credited[orderID] = true
		credited = true
	}
	return &TransitionOutcome{Order: o, Effects: fx, Credited: credited}, nil
}

func (r *stubRepo) List(_ context.Context, q ListQuery) ([]Order, int64, error) {
	var out []Order
	for _, o := range r.orders {
		if q.CustomerID != nil && o.CustomerID != *q.CustomerID {
			continue
		}
		out = append(out, *o)
	}
	return out, int64(len(out)), nil
}

func (r *stubRepo) FindByIDs(_ context.Context, ids []int64) ([]Order, error) {
	var out []Order
	for _, id := range ids {
		if o, ok := r.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *stubRepo) AllForSearch(_ context.Context) ([]Order, error) { return nil, nil }
func (r *stubRepo) CountByStatus(_ context.Context, _ Status) (int64, error) {
	return 0, nil
}
func (r *stubRepo) RevenueByStatus(_ context.Context, _ Status) (int64, error) {
	return 0, nil
}
func (r *stubRepo) ProfitByStatus(_ context.Context, _ Status) (int64, error) {
	return 0, nil
}

type stubCarts struct {
	cartID int64
	items  []cart.SnapshotItem
}

func (c *stubCarts) Snapshot(_ context.Context, _ int64) (int64, []cart.SnapshotItem, error) {
	return c.cartID, c.items, nil
}

type stubGateway struct {
	configured bool
	verifies   bool
	built      []gateway.PaymentRequest
}

func (g *stubGateway) Configured() bool { return g.configured }

func (g *stubGateway) BuildPaymentURL(req gateway.PaymentRequest) (*gateway.PaymentResponse, error) {
	if !g.configured {
		return nil, fmt.Errorf("gateway: payment gateway is not configured")
	}
	g.built = append(g.built, req)
	return &gateway.PaymentResponse{
		PaymentURL: fmt.Sprintf("https://pay.example/%d", req.BillCode),
		TxnRef:     fmt.Sprintf("%d_abcd1234", req.BillCode),
	}, nil
}

func (g *stubGateway) VerifyCallback(_ url.Values) bool { return g.verifies }

func (g *stubGateway) ResponseMessage(code string) string { return "gateway says " + code }

type stubNotifier struct {
	sent []string // "target|title"
}

func (n *stubNotifier) Notify(_ context.Context, target notify.Target, title, _ string, _ notify.Type, _ string) error {
	n.sent = append(n.sent, target.String()+"|"+title)
	return nil
}

type stubIndex struct {
	enabled bool
	docs    []search.OrderDoc
	result  *search.Result
}

func (s *stubIndex) Enabled() bool { return s.enabled }

func (s *stubIndex) IndexOrders(_ context.Context, docs ...search.OrderDoc) error {
	s.docs = append(s.docs, docs...)
	return nil
}

func (s *stubIndex) SearchOrders(_ context.Context, _ string, _, _ int, _ search.Filters) (*search.Result, error) {
	return s.result, nil
}

type fixture struct {
	svc      *Service
	repo     *stubRepo
	carts    *stubCarts
	gateway  *stubGateway
	notifier *stubNotifier
	index    *stubIndex
}

func testPricing() config.Pricing {
	return config.Pricing{VATRate: decimal.RequireFromString("0.10")}
}

func testLoyalty() config.Loyalty {
	return config.Loyalty{PointValue: 1000, EarnDivisor: 10000, MinEarnAmount: 1000}
}

func newFixture() *fixture {
	f := &fixture{
		repo: newStubRepo(),
		carts: &stubCarts{cartID: 11, items: []cart.SnapshotItem{
			{ItemID: 1, ProductID: 100, ProductName: "Keyboard", Quantity: 2, BasePrice: 500_000, Stock: 5},
		}},
		gateway:  &stubGateway{configured: true, verifies: true},
		notifier: &stubNotifier{},
		index:    &stubIndex{enabled: true},
	}
	f.svc = NewService(f.repo, f.carts, f.gateway, f.notifier, f.index,
		testPricing(), testLoyalty(), "https://shop.example")
	f.svc.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	f.svc.newOrderCode = func() string { return "DH123456" }
	return f
}

func TestCheckoutOnlineHappyPath(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Checkout(context.Background(), 7, CheckoutRequest{
		PaymentMethod:   MethodCard,
		ReceiverName:    "Nguyen Van A",
		ReceiverPhone:   "0901234567",
		ShippingAddress: "12 Le Loi, Q1",
		IPAddr:          "10.0.0.1",
	})
	require.NoError(t, err)

	// 2 x 500,000 + 10% VAT.
	assert.Equal(t, int64(1_100_000), res.Total)
	assert.Equal(t, int64(1_700_000_000_000), res.BillCode)
	assert.Contains(t, res.PaymentURL, "https://pay.example/")

	require.Len(t, f.repo.units, 1)
	unit := f.repo.units[0]
	assert.Equal(t, int64(11), unit.CartID)
	assert.Equal(t, 0, unit.RedeemPoints)
	require.Len(t, unit.Items, 1)
	assert.Equal(t, int64(500_000), unit.Items[0].UnitPrice)
	assert.Equal(t, StatusPending, unit.Order.Status)
	assert.Equal(t, PaymentPending, unit.Order.Payment.Status)

	// Buyer and admins both hear about it; the index gets the new order with
	// its product names, so it is searchable by item right away.
	assert.Contains(t, f.notifier.sent, "user:7|Order placed")
	assert.Contains(t, f.notifier.sent, "all-admins|New order")
	require.Len(t, f.index.docs, 1)
	assert.Equal(t, []string{"Keyboard"}, f.index.docs[0].ItemNames)
}

func TestCheckoutCashSkipsGateway(t *testing.T) {
	f := newFixture()
	f.gateway.configured = false // COD must not care

	res, err := f.svc.Checkout(context.Background(), 7, CheckoutRequest{
		PaymentMethod:   MethodCash,
		ReceiverName:    "A",
		ReceiverPhone:   "1",
		ShippingAddress: "X",
	})
	require.NoError(t, err)
	assert.Empty(t, res.PaymentURL)
	assert.Empty(t, f.gateway.built)
}

func TestCheckoutRedeemsPoints(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Checkout(context.Background(), 7, CheckoutRequest{
		PaymentMethod:   MethodCash,
		ReceiverName:    "A",
		ReceiverPhone:   "1",
		ShippingAddress: "X",
		LoyaltyPoints:   50,
	})
	require.NoError(t, err)

	// 1,100,000 - 50 x 1,000.
	assert.Equal(t, int64(1_050_000), res.Total)
	assert.Equal(t, int64(50_000), f.repo.units[0].Order.Discount)
	assert.Equal(t, 50, f.repo.units[0].RedeemPoints)
}

func TestCheckoutGatewayUnavailableAbortsBeforePersisting(t *testing.T) {
	f := newFixture()
	f.gateway.configured = false

	_, err := f.svc.Checkout(context.Background(), 7, CheckoutRequest{
		PaymentMethod:   MethodCard,
		ReceiverName:    "A",
		ReceiverPhone:   "1",
		ShippingAddress: "X",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.External))
	assert.Empty(t, f.repo.units, "nothing may be persisted when the gateway is down")
	assert.Empty(t, f.notifier.sent)
}

func TestCheckoutRejectsBadInput(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Checkout(context.Background(), 7, CheckoutRequest{
		PaymentMethod: PaymentMethod("CRYPTO"),
		ReceiverName:  "A", ReceiverPhone: "1", ShippingAddress: "X",
	})
	assert.True(t, apperr.IsKind(err, apperr.Validation))

	_, err = f.svc.Checkout(context.Background(), 7, CheckoutRequest{
		PaymentMethod: MethodCash,
	})
	assert.True(t, apperr.IsKind(err, apperr.Validation))

	_, err = f.svc.Checkout(context.Background(), 7, CheckoutRequest{
		PaymentMethod: MethodCash,
		ReceiverName:  "A", ReceiverPhone: "1", ShippingAddress: "X",
		LoyaltyPoints: -5,
	})
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}

func checkoutOnline(t *testing.T, f *fixture) *CheckoutResult {
	t.Helper()
	res, err := f.svc.Checkout(context.Background(), 7, CheckoutRequest{
		PaymentMethod:   MethodCard,
		ReceiverName:    "A",
		ReceiverPhone:   "1",
		ShippingAddress: "X",
	})
	require.NoError(t, err)
	return res
}

func callbackQuery(billCode int64, code string) url.Values {
	q := url.Values{}
	q.Set("vnp_TxnRef", fmt.Sprintf("%d_abcd1234", billCode))
	q.Set("vnp_ResponseCode", code)
	q.Set("vnp_SecureHash", "deadbeef")
	return q
}

func TestPaymentReturnSuccessSettlesOnce(t *testing.T) {
	f := newFixture()
	placed := checkoutOnline(t, f)
	f.notifier.sent = nil

	res, err := f.svc.HandlePaymentReturn(context.Background(), callbackQuery(placed.BillCode, "00"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, placed.OrderID, res.OrderID)
	assert.Equal(t, PaymentSuccess, f.repo.orders[placed.OrderID].Payment.Status)
	assert.Contains(t, f.notifier.sent, "user:7|Payment received")

	// Replay: settle again, no second credit, no second points notification.
	f.notifier.sent = nil
	res, err = f.svc.HandlePaymentReturn(context.Background(), callbackQuery(placed.BillCode, "00"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotContains(t, f.notifier.sent, "user:7|Payment received")
}

func TestPaymentReturnFailureCodeMutatesNothing(t *testing.T) {
	f := newFixture()
	placed := checkoutOnline(t, f)

	res, err := f.svc.HandlePaymentReturn(context.Background(), callbackQuery(placed.BillCode, "24"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "gateway says 24", res.Message)
	assert.Equal(t, PaymentPending, f.repo.orders[placed.OrderID].Payment.Status)
	assert.Empty(t, f.repo.settled)
}

func TestPaymentReturnBadSignatureRejected(t *testing.T) {
	f := newFixture()
	placed := checkoutOnline(t, f)
	f.gateway.verifies = false

	_, err := f.svc.HandlePaymentReturn(context.Background(), callbackQuery(placed.BillCode, "00"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.External))
	assert.Empty(t, f.repo.settled)
}

func TestPaymentReturnUnknownBillCode(t *testing.T) {
	f := newFixture()

	_, err := f.svc.HandlePaymentReturn(context.Background(), callbackQuery(999, "00"))
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestCancelByOwner(t *testing.T) {
	f := newFixture()
	placed := checkoutOnline(t, f)

	o, err := f.svc.Cancel(context.Background(), placed.OrderID, 7)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, PaymentFailed, o.Payment.Status)
	assert.Contains(t, f.notifier.sent, "all-admins|Order cancelled")
}

func TestCancelByStrangerForbidden(t *testing.T) {
	f := newFixture()
	placed := checkoutOnline(t, f)

	_, err := f.svc.Cancel(context.Background(), placed.OrderID, 99)
	assert.True(t, apperr.IsKind(err, apperr.Authorization))
	assert.Equal(t, StatusPending, f.repo.orders[placed.OrderID].Status)
}

func TestUpdateStatusCashCompletionCreditsOnce(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Checkout(context.Background(), 7, CheckoutRequest{
		PaymentMethod: MethodCash,
		ReceiverName:  "A", ReceiverPhone: "1", ShippingAddress: "X",
	})
	require.NoError(t, err)
	f.notifier.sent = nil

	o, err := f.svc.UpdateStatus(context.Background(), res.OrderID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, o.Status)
	assert.Equal(t, PaymentSuccess, o.Payment.Status)
	assert.Contains(t, f.notifier.sent, "user:7|Order completed")
	assert.Contains(t, f.notifier.sent, "user:7|Points earned")

	// Repeated COMPLETED write: backfill path, but already credited.
	f.notifier.sent = nil
	_, err = f.svc.UpdateStatus(context.Background(), res.OrderID, StatusCompleted)
	require.NoError(t, err)
	assert.NotContains(t, f.notifier.sent, "user:7|Points earned")
}

func TestRecreatePaymentURL(t *testing.T) {
	f := newFixture()
	placed := checkoutOnline(t, f)

	u, err := f.svc.RecreatePaymentURL(context.Background(), placed.BillCode, 7, "10.0.0.2")
	require.NoError(t, err)
	assert.Contains(t, u, "https://pay.example/")

	_, err = f.svc.RecreatePaymentURL(context.Background(), placed.BillCode, 99, "10.0.0.2")
	assert.True(t, apperr.IsKind(err, apperr.Authorization))

	// Settled orders get no second URL.
	_, err = f.svc.HandlePaymentReturn(context.Background(), callbackQuery(placed.BillCode, "00"))
	require.NoError(t, err)
	_, err = f.svc.RecreatePaymentURL(context.Background(), placed.BillCode, 7, "10.0.0.2")
	assert.True(t, apperr.IsKind(err, apperr.Conflict))
}

func TestRecreatePaymentURLRejectsCash(t *testing.T) {
	f := newFixture()
	res, err := f.svc.Checkout(context.Background(), 7, CheckoutRequest{
		PaymentMethod: MethodCash,
		ReceiverName:  "A", ReceiverPhone: "1", ShippingAddress: "X",
	})
	require.NoError(t, err)

	_, err = f.svc.RecreatePaymentURL(context.Background(), res.BillCode, 7, "10.0.0.2")
	assert.True(t, apperr.IsKind(err, apperr.Conflict))
}

func TestListFallsBackToSQLWhenIndexMisses(t *testing.T) {
	f := newFixture()
	checkoutOnline(t, f)
	f.index.result = nil // index returns nothing usable

	page, err := f.svc.ListByUser(context.Background(), 7, ListQuery{Search: "Le Loi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Data, 1)

	// The opportunistic re-index of fallback results must not overwrite docs
	// with item-less copies.
	last := f.index.docs[len(f.index.docs)-1]
	assert.Equal(t, []string{"Keyboard"}, last.ItemNames)
}

func TestListUsesIndexHits(t *testing.T) {
	f := newFixture()
	placed := checkoutOnline(t, f)
	f.index.result = &search.Result{IDs: []int64{placed.OrderID}, Total: 1}

	page, err := f.svc.ListAll(context.Background(), ListQuery{Search: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, placed.OrderID, page.Data[0].ID)
}

func TestGetDetailEnforcesOwnership(t *testing.T) {
	f := newFixture()
	placed := checkoutOnline(t, f)

	_, err := f.svc.GetDetail(context.Background(), placed.OrderID, 99)
	assert.True(t, apperr.IsKind(err, apperr.Authorization))

	o, err := f.svc.GetDetail(context.Background(), placed.OrderID, 7)
	require.NoError(t, err)
	assert.Equal(t, placed.OrderID, o.ID)
}
