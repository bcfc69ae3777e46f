package order

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storefront-labs/checkout/internal/apperr"
	"github.com/storefront-labs/checkout/internal/cart"
	"github.com/storefront-labs/checkout/internal/config"
	"github.com/storefront-labs/checkout/internal/gateway"
	"github.com/storefront-labs/checkout/internal/loyalty"
	"github.com/storefront-labs/checkout/internal/notify"
	"github.com/storefront-labs/checkout/internal/search"
)

// CartReader is the slice of the cart package checkout needs.
type CartReader interface {
	Snapshot(ctx context.Context, userID int64) (int64, []cart.SnapshotItem, error)
}

type PaymentGateway interface {
	Configured() bool
	BuildPaymentURL(req gateway.PaymentRequest) (*gateway.PaymentResponse, error)
	VerifyCallback(query url.Values) bool
	ResponseMessage(code string) string
}

type Notifier interface {
	Notify(ctx context.Context, target notify.Target, title, description string, typ notify.Type, url string) error
}

type SearchIndex interface {
	Enabled() bool
	IndexOrders(ctx context.Context, docs ...search.OrderDoc) error
	SearchOrders(ctx context.Context, query string, page, limit int, f search.Filters) (*search.Result, error)
}

type Service struct {
	repo      Repository
	carts     CartReader
	gateway   PaymentGateway
	notifier  Notifier
	index     SearchIndex
	pricing   config.Pricing
	loyalty   config.Loyalty
	clientURL string

	now          func() time.Time
	newOrderCode func() string
}

func NewService(repo Repository, carts CartReader, gw PaymentGateway, notifier Notifier,
	index SearchIndex, pricing config.Pricing, lp config.Loyalty, clientURL string) *Service {
	return &Service{
		repo:         repo,
		carts:        carts,
		gateway:      gw,
		notifier:     notifier,
		index:        index,
		pricing:      pricing,
		loyalty:      lp,
		clientURL:    clientURL,
		now:          time.Now,
		newOrderCode: defaultOrderCode,
	}
}

func defaultOrderCode() string {
	return fmt.Sprintf("DH%d", time.Now().UnixNano()%1_000_000_000)
}

// CheckoutInfo prices the current cart without committing anything.
func (s *Service) CheckoutInfo(ctx context.Context, userID int64) (*cart.PricedCart, error) {
	_, items, err := s.carts.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return cart.Price(items, s.pricing)
}

// Checkout turns the cart into an order. For online methods the payment URL is
// built before anything is persisted, so gateway unavailability aborts cleanly
// with the stock untouched.
func (s *Service) Checkout(ctx context.Context, userID int64, req CheckoutRequest) (*CheckoutResult, error) {
	if !req.PaymentMethod.Valid() {
		return nil, apperr.Validationf("unknown payment method %q", req.PaymentMethod)
	}
	if req.ReceiverName == "" || req.ReceiverPhone == "" || req.ShippingAddress == "" {
		return nil, apperr.Validationf("receiver name, phone and shipping address are required")
	}
	if req.LoyaltyPoints < 0 {
		return nil, apperr.Validationf("loyalty points must not be negative")
	}

	cartID, items, err := s.carts.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	priced, err := cart.Price(items, s.pricing)
	if err != nil {
		return nil, err
	}

	discount := loyalty.RedeemDiscount(req.LoyaltyPoints, priced.BaseTotal, s.loyalty)
	total := priced.BaseTotal - discount
	billCode := s.now().UnixMilli()
	orderCode := s.newOrderCode()

	o := &Order{
		CustomerID:      userID,
		Total:           total,
		Discount:        discount,
		Method:          req.PaymentMethod,
		Status:          StatusPending,
		BillCode:        billCode,
		OrderCode:       orderCode,
		ReceiverName:    req.ReceiverName,
		ReceiverPhone:   req.ReceiverPhone,
		ShippingAddress: req.ShippingAddress,
		Note:            req.Note,
		Payment: &Payment{
			Status:   PaymentPending,
			Currency: "VND",
			Method:   req.PaymentMethod,
		},
	}

	var paymentURL string
	if req.PaymentMethod.Online() {
		if !s.gateway.Configured() {
			return nil, apperr.Externalf("online payment is currently unavailable, please choose another method")
		}
		resp, err := s.gateway.BuildPaymentURL(gateway.PaymentRequest{
			Amount:    total,
			OrderInfo: fmt.Sprintf("Thanh toan don hang %s", orderCode),
			IPAddr:    req.IPAddr,
			BillCode:  billCode,
		})
		if err != nil {
			return nil, err
		}
		paymentURL = resp.PaymentURL
	}

	lineItems := make([]LineItem, 0, len(priced.Items))
	for _, it := range priced.Items {
		lineItems = append(lineItems, LineItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	// The index document carries product names, so the order must be hydrated
	// before it is pushed.
	o.Items = lineItems

	unit := &CheckoutUnit{
		Order:        o,
		Items:        lineItems,
		CartID:       cartID,
		RedeemPoints: req.LoyaltyPoints,
		RedeemDesc:   fmt.Sprintf("Redeemed for order %s", orderCode),
	}
	if err := s.repo.CreateCheckout(ctx, unit); err != nil {
		return nil, err
	}

	s.notifyBestEffort(ctx, notify.User(userID),
		"Order placed",
		fmt.Sprintf("Your order %s has been placed, total %d VND.", orderCode, total),
		notify.TypeOrder, s.orderURL(o.ID))
	s.notifyBestEffort(ctx, notify.AllAdmins(),
		"New order",
		fmt.Sprintf("Order %s (bill %d) was placed by customer %d.", orderCode, billCode, userID),
		notify.TypeOrder, s.orderURL(o.ID))
	s.indexBestEffort(ctx, o)

	msg := "order placed, cash on delivery"
	if paymentURL != "" {
		msg = "order placed, redirect to payment"
	}
	return &CheckoutResult{
		OrderID:    o.ID,
		BillCode:   billCode,
		OrderCode:  orderCode,
		Total:      total,
		PaymentURL: paymentURL,
		Message:    msg,
	}, nil
}

// HandlePaymentReturn settles the gateway callback. The signature check fails
// closed; a failure code mutates nothing and surfaces the translated reason.
// Settlement is idempotent, so replays are harmless.
func (s *Service) HandlePaymentReturn(ctx context.Context, query url.Values) (*PaymentReturnResult, error) {
	if !s.gateway.Configured() || !s.gateway.VerifyCallback(query) {
		return nil, apperr.Externalf("invalid payment callback signature")
	}

	billCode, err := gateway.ParseTxnRef(query.Get("vnp_TxnRef"))
	if err != nil {
		return nil, apperr.Validationf("malformed transaction reference")
	}

	o, err := s.repo.GetByBillCode(ctx, billCode)
	if err != nil {
		return nil, err
	}

	code := query.Get("vnp_ResponseCode")
	if code != gateway.CodeSuccess {
		return &PaymentReturnResult{
			Success:  false,
			Message:  s.gateway.ResponseMessage(code),
			OrderID:  o.ID,
			BillCode: billCode,
			Status:   o.Status,
		}, nil
	}

	points := loyalty.PointsForAmount(o.Total, s.loyalty)
	credited, err := s.repo.Settle(ctx, o.ID, points,
		fmt.Sprintf("Earned from order %s", o.OrderCode))
	if err != nil {
		return nil, err
	}

	if credited {
		s.notifyBestEffort(ctx, notify.User(o.CustomerID),
			"Payment received",
			fmt.Sprintf("Payment for order %s succeeded. You earned %d points.", o.OrderCode, points),
			notify.TypeOrder, s.orderURL(o.ID))
	}
	s.resyncBestEffort(ctx, o.ID)

	return &PaymentReturnResult{
		Success:  true,
		Message:  "payment successful",
		OrderID:  o.ID,
		BillCode: billCode,
		Total:    o.Total,
		Status:   o.Status,
	}, nil
}

// Cancel is self-service cancellation by the order's owner.
func (s *Service) Cancel(ctx context.Context, orderID, userID int64) (*Order, error) {
	o, err := s.repo.CancelByOwner(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	s.notifyBestEffort(ctx, notify.AllAdmins(),
		"Order cancelled",
		fmt.Sprintf("Order %s was cancelled by the customer.", o.OrderCode),
		notify.TypeOrder, s.orderURL(o.ID))
	s.indexBestEffort(ctx, o)
	return o, nil
}

// UpdateStatus is the administrative fulfillment transition.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, next Status) (*Order, error) {
	// Points for a possible CASH completion (or a backfill) are computed from
	// the stored total; the repo's ledger dedup makes over-asking safe.
	existing, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	points := loyalty.PointsForAmount(existing.Total, s.loyalty)

	out, err := s.repo.Transition(ctx, orderID, next, points,
		fmt.Sprintf("Earned from order %s", existing.OrderCode))
	if err != nil {
		return nil, err
	}
	o := out.Order

	if out.Effects.StatusChanged {
		title, body := "Order updated", fmt.Sprintf("Order %s is now %s.", o.OrderCode, o.Status)
		if next == StatusCompleted {
			title, body = "Order completed", fmt.Sprintf("Order %s has been delivered.", o.OrderCode)
		}
		s.notifyBestEffort(ctx, notify.User(o.CustomerID), title, body, notify.TypeOrder, s.orderURL(o.ID))
	}
	if out.Credited {
		s.notifyBestEffort(ctx, notify.User(o.CustomerID),
			"Points earned",
			fmt.Sprintf("You earned %d points from order %s.", points, o.OrderCode),
			notify.TypeOrder, s.orderURL(o.ID))
	}
	s.indexBestEffort(ctx, o)
	return o, nil
}

// RecreatePaymentURL issues a fresh gateway URL for an unpaid online order,
// e.g. after the customer abandoned the first redirect.
func (s *Service) RecreatePaymentURL(ctx context.Context, billCode, userID int64, ip string) (string, error) {
	o, err := s.repo.GetByBillCode(ctx, billCode)
	if err != nil {
		return "", err
	}
	if o.CustomerID != userID {
		return "", apperr.Forbiddenf("order %d does not belong to user %d", o.ID, userID)
	}
	if !o.Method.Online() {
		return "", apperr.Conflictf("cash orders are paid on delivery")
	}
	if o.Status == StatusCancelled {
		return "", apperr.Conflictf("order has been cancelled")
	}
	if o.Payment != nil && o.Payment.Status == PaymentSuccess {
		return "", apperr.Conflictf("order has already been paid")
	}
	if !s.gateway.Configured() {
		return "", apperr.Externalf("online payment is currently unavailable")
	}
	resp, err := s.gateway.BuildPaymentURL(gateway.PaymentRequest{
		Amount:    o.Total,
		OrderInfo: fmt.Sprintf("Thanh toan don hang %s", o.OrderCode),
		IPAddr:    ip,
		BillCode:  o.BillCode,
	})
	if err != nil {
		return "", err
	}
	return resp.PaymentURL, nil
}

func (s *Service) GetDetail(ctx context.Context, orderID, userID int64) (*Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != userID {
		return nil, apperr.Forbiddenf("order %d does not belong to user %d", o.ID, userID)
	}
	return o, nil
}

func (s *Service) ListByUser(ctx context.Context, userID int64, q ListQuery) (*Page, error) {
	q.CustomerID = &userID
	return s.list(ctx, q)
}

func (s *Service) ListAll(ctx context.Context, q ListQuery) (*Page, error) {
	return s.list(ctx, q)
}

// list tries the search index first and silently falls back to SQL. Fallback
// results get re-indexed opportunistically so the index catches up.
func (s *Service) list(ctx context.Context, q ListQuery) (*Page, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	q.Limit, q.Page = limit, page

	if q.Search != "" && s.index != nil && s.index.Enabled() {
		res, err := s.index.SearchOrders(ctx, q.Search, page, limit, search.Filters{
			Status:     string(q.Status),
			CustomerID: q.CustomerID,
		})
		if err != nil {
			log.Warn().Err(err).Msg("order search failed, falling back to sql")
		} else if res != nil {
			orders, err := s.repo.FindByIDs(ctx, res.IDs)
			if err != nil {
				return nil, err
			}
			return newPage(orders, res.Total, page, limit), nil
		}
	}

	orders, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if q.Search != "" && s.index != nil && s.index.Enabled() {
		for i := range orders {
			s.indexBestEffort(ctx, &orders[i])
		}
	}
	return newPage(orders, total, page, limit), nil
}

func newPage(orders []Order, total int64, page, limit int) *Page {
	if orders == nil {
		orders = []Order{}
	}
	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}
	return &Page{Data: orders, Total: total, Page: page, Limit: limit, TotalPages: pages}
}

// ReindexAll pushes every order into the search index. Run from a startup
// goroutine; failures are logged and abandoned.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.index == nil || !s.index.Enabled() {
		return
	}
	orders, err := s.repo.AllForSearch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("reindex: loading orders failed")
		return
	}
	docs := make([]search.OrderDoc, 0, len(orders))
	for i := range orders {
		docs = append(docs, toDoc(&orders[i]))
	}
	if len(docs) == 0 {
		return
	}
	if err := s.index.IndexOrders(ctx, docs...); err != nil {
		log.Warn().Err(err).Int("count", len(docs)).Msg("reindex: indexing failed")
		return
	}
	log.Info().Int("count", len(docs)).Msg("order index rebuilt")
}

type Dashboard struct {
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Cancelled int64 `json:"cancelled"`
	Revenue   int64 `json:"revenue"` // completed orders only
	Profit    int64 `json:"profit"`
}

func (s *Service) DashboardStats(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	var err error
	if d.Pending, err = s.repo.CountByStatus(ctx, StatusPending); err != nil {
		return nil, err
	}
	if d.Completed, err = s.repo.CountByStatus(ctx, StatusCompleted); err != nil {
		return nil, err
	}
	if d.Cancelled, err = s.repo.CountByStatus(ctx, StatusCancelled); err != nil {
		return nil, err
	}
	if d.Revenue, err = s.repo.RevenueByStatus(ctx, StatusCompleted); err != nil {
		return nil, err
	}
	if d.Profit, err = s.repo.ProfitByStatus(ctx, StatusCompleted); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) orderURL(orderID int64) string {
	if s.clientURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/orders/%d", s.clientURL, orderID)
}

func (s *Service) notifyBestEffort(ctx context.Context, target notify.Target, title, body string, typ notify.Type, url string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, target, title, body, typ, url); err != nil {
		log.Warn().Err(err).Str("target", target.String()).Str("title", title).
			Msg("notification failed")
	}
}

func (s *Service) indexBestEffort(ctx context.Context, o *Order) {
	if s.index == nil || !s.index.Enabled() {
		return
	}
	if err := s.index.IndexOrders(ctx, toDoc(o)); err != nil {
		log.Warn().Err(err).Int64("order_id", o.ID).Msg("order indexing failed")
	}
}

// resyncBestEffort re-reads and re-indexes after a write that changed fields
// the caller's copy does not reflect.
func (s *Service) resyncBestEffort(ctx context.Context, orderID int64) {
	if s.index == nil || !s.index.Enabled() {
		return
	}
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Int64("order_id", orderID).Msg("order resync read failed")
		return
	}
	s.indexBestEffort(ctx, o)
}

func toDoc(o *Order) search.OrderDoc {
	names := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if it.ProductName != "" {
			names = append(names, it.ProductName)
		}
	}
	return search.OrderDoc{
		ID:              o.ID,
		BillCode:        fmt.Sprintf("%d", o.BillCode),
		OrderCode:       o.OrderCode,
		ReceiverName:    o.ReceiverName,
		ReceiverPhone:   o.ReceiverPhone,
		ShippingAddress: o.ShippingAddress,
		Status:          string(o.Status),
		CustomerID:      o.CustomerID,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		ItemNames:       names,
	}
}
