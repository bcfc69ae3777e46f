package main

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefront-labs/checkout/internal/apperr"
	"github.com/storefront-labs/checkout/internal/cart"
	"github.com/storefront-labs/checkout/internal/catalog"
	"github.com/storefront-labs/checkout/internal/httpx"
	"github.com/storefront-labs/checkout/internal/loyalty"
	"github.com/storefront-labs/checkout/internal/notify"
	"github.com/storefront-labs/checkout/internal/order"
	"github.com/storefront-labs/checkout/internal/voucher"
)

// Narrow views of the services, so handler tests can run against in-memory
// fakes.

type orderAPI interface {
	CheckoutInfo(ctx context.Context, userID int64) (*cart.PricedCart, error)
	Checkout(ctx context.Context, userID int64, req order.CheckoutRequest) (*order.CheckoutResult, error)
	HandlePaymentReturn(ctx context.Context, query url.Values) (*order.PaymentReturnResult, error)
	Cancel(ctx context.Context, orderID, userID int64) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, next order.Status) (*order.Order, error)
	RecreatePaymentURL(ctx context.Context, billCode, userID int64, ip string) (string, error)
	GetDetail(ctx context.Context, orderID, userID int64) (*order.Order, error)
	ListByUser(ctx context.Context, userID int64, q order.ListQuery) (*order.Page, error)
	ListAll(ctx context.Context, q order.ListQuery) (*order.Page, error)
	DashboardStats(ctx context.Context) (*order.Dashboard, error)
}

type voucherAPI interface {
	Apply(ctx context.Context, code string, orderValue int64) (int64, *voucher.Voucher, error)
	ValidForClient(ctx context.Context) ([]voucher.Voucher, error)
	Create(ctx context.Context, v *voucher.Voucher) error
	List(ctx context.Context, f voucher.Filter) ([]voucher.Voucher, int, error)
	ExpireOutdated(ctx context.Context) (int64, error)
}

type loyaltyAPI interface {
	Balance(ctx context.Context, userID int64) (int, error)
	History(ctx context.Context, userID int64, page, limit int) ([]loyalty.Transaction, int, error)
}

type notifyAPI interface {
	ListByRecipient(ctx context.Context, userID int64, page, limit int) ([]notify.Notification, error)
}

type catalogAPI interface {
	GetByID(ctx context.Context, id int64) (*catalog.Product, error)
}

// userID reads the identity the upstream gateway injected. Requests that
// reach a client route without it are rejected.
func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(c, apperr.Forbiddenf("missing or malformed X-User-ID header"))
		return 0, false
	}
	return id, true
}

func pageQuery(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return page, limit
}

func listQuery(c *gin.Context) order.ListQuery {
	page, limit := pageQuery(c)
	return order.ListQuery{
		Page:   page,
		Limit:  limit,
		Status: order.Status(c.Query("status")),
		Search: c.Query("search"),
	}
}

func checkoutInfoHandler(orders orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		priced, err := orders.CheckoutInfo(c.Request.Context(), uid)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, priced)
	}
}

func checkoutHandler(orders orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		var req order.CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.Error(c, apperr.Validationf("invalid request body: %v", err))
			return
		}
		req.IPAddr = c.ClientIP()
		res, err := orders.Checkout(c.Request.Context(), uid, req)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

func paymentReturnHandler(orders orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := orders.HandlePaymentReturn(c.Request.Context(), c.Request.URL.Query())
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func orderDetailHandler(orders orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			httpx.Error(c, apperr.Validationf("invalid order id"))
			return
		}
		o, err := orders.GetDetail(c.Request.Context(), id, uid)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func cancelOrderHandler(orders orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			httpx.Error(c, apperr.Validationf("invalid order id"))
			return
		}
		o, err := orders.Cancel(c.Request.Context(), id, uid)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func listMyOrdersHandler(orders orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		page, err := orders.ListByUser(c.Request.Context(), uid, listQuery(c))
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// recreatePaymentURLHandler treats :id as the order's bill code: that is the
// identifier the customer got back from checkout.
func recreatePaymentURLHandler(orders orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		billCode, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			httpx.Error(c, apperr.Validationf("invalid bill code"))
			return
		}
		u, err := orders.RecreatePaymentURL(c.Request.Context(), billCode, uid, c.ClientIP())
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payment_url": u})
	}
}

func listAllOrdersHandler(orders orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := listQuery(c)
		if cid, err := strconv.ParseInt(c.Query("customer_id"), 10, 64); err == nil {
			q.CustomerID = &cid
		}
		page, err := orders.ListAll(c.Request.Context(), q)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func updateOrderStatusHandler(orders orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			httpx.Error(c, apperr.Validationf("invalid order id"))
			return
		}
		var body struct {
			Status order.Status `json:"status"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			httpx.Error(c, apperr.Validationf("invalid request body: %v", err))
			return
		}
		o, err := orders.UpdateStatus(c.Request.Context(), id, body.Status)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func dashboardHandler(orders orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := orders.DashboardStats(c.Request.Context())
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func applyVoucherHandler(vouchers voucherAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := userID(c); !ok {
			return
		}
		var body struct {
			Code       string `json:"code"`
			OrderValue int64  `json:"order_value"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Code == "" {
			httpx.Error(c, apperr.Validationf("voucher code is required"))
			return
		}
		discount, v, err := vouchers.Apply(c.Request.Context(), body.Code, body.OrderValue)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"discount": discount, "voucher": v})
	}
}

func listClientVouchersHandler(vouchers voucherAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := userID(c); !ok {
			return
		}
		vs, err := vouchers.ValidForClient(c.Request.Context())
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": vs})
	}
}

func createVoucherHandler(vouchers voucherAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var v voucher.Voucher
		if err := c.ShouldBindJSON(&v); err != nil {
			httpx.Error(c, apperr.Validationf("invalid request body: %v", err))
			return
		}
		if err := vouchers.Create(c.Request.Context(), &v); err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusCreated, v)
	}
}

func listAdminVouchersHandler(vouchers voucherAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit := pageQuery(c)
		f := voucher.Filter{
			Status: voucher.Status(c.Query("status")),
			Type:   voucher.Type(c.Query("type")),
			Page:   page,
			Limit:  limit,
		}
		vs, total, err := vouchers.List(c.Request.Context(), f)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": vs, "total": total, "page": page, "limit": limit})
	}
}

func expireVouchersHandler(vouchers voucherAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := vouchers.ExpireOutdated(c.Request.Context())
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"expired": n})
	}
}

func loyaltyPointsHandler(points loyaltyAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		balance, err := points.Balance(c.Request.Context(), uid)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		page, limit := pageQuery(c)
		history, total, err := points.History(c.Request.Context(), uid, page, limit)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"balance": balance,
			"history": history,
			"total":   total,
			"page":    page,
			"limit":   limit,
		})
	}
}

func notificationsHandler(notes notifyAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		page, limit := pageQuery(c)
		ns, err := notes.ListByRecipient(c.Request.Context(), uid, page, limit)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": ns})
	}
}

func getCartHandler(carts cart.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		cartID, items, err := carts.Snapshot(c.Request.Context(), uid)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		if items == nil {
			items = []cart.SnapshotItem{}
		}
		c.JSON(http.StatusOK, gin.H{"cart_id": cartID, "items": items})
	}
}

func addCartItemHandler(carts cart.Repository, products catalogAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		var body struct {
			ProductID int64 `json:"product_id"`
			Quantity  int   `json:"quantity"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.ProductID <= 0 || body.Quantity <= 0 {
			httpx.Error(c, apperr.Validationf("product_id and a positive quantity are required"))
			return
		}
		p, err := products.GetByID(c.Request.Context(), body.ProductID)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		if body.Quantity > p.Stock {
			httpx.Error(c, apperr.Conflictf("product %q is out of stock: only %d left", p.Name, p.Stock))
			return
		}
		crt, err := carts.FindOrCreate(c.Request.Context(), uid)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		if err := carts.AddItem(c.Request.Context(), crt.ID, body.ProductID, body.Quantity); err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"cart_id": crt.ID})
	}
}

func updateCartItemHandler(carts cart.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			httpx.Error(c, apperr.Validationf("invalid cart item id"))
			return
		}
		var body struct {
			Quantity int `json:"quantity"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Quantity <= 0 {
			httpx.Error(c, apperr.Validationf("a positive quantity is required"))
			return
		}
		if err := carts.UpdateItemQty(c.Request.Context(), uid, itemID, body.Quantity); err != nil {
			httpx.Error(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func removeCartItemHandler(carts cart.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		itemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			httpx.Error(c, apperr.Validationf("invalid cart item id"))
			return
		}
		if err := carts.RemoveItem(c.Request.Context(), uid, itemID); err != nil {
			httpx.Error(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func clearCartHandler(carts cart.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := userID(c)
		if !ok {
			return
		}
		crt, err := carts.FindOrCreate(c.Request.Context(), uid)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		if err := carts.Clear(c.Request.Context(), crt.ID); err != nil {
			httpx.Error(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type routerDeps struct {
	orders   orderAPI
	vouchers voucherAPI
	points   loyaltyAPI
	notes    notifyAPI
	carts    cart.Repository
	products catalogAPI
	health   func(ctx context.Context) error
}

func newRouter(d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger())

	r.GET("/healthz", func(c *gin.Context) {
		if d.health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	client := r.Group("/client")
	{
		client.GET("/checkout/info", checkoutInfoHandler(d.orders))
		client.POST("/checkout", checkoutHandler(d.orders))
		client.GET("/payment/return", paymentReturnHandler(d.orders))

		client.GET("/orders", listMyOrdersHandler(d.orders))
		client.GET("/orders/:id", orderDetailHandler(d.orders))
		client.POST("/orders/:id/cancel", cancelOrderHandler(d.orders))
		client.POST("/orders/:id/payment-url", recreatePaymentURLHandler(d.orders))

		client.POST("/vouchers/apply", applyVoucherHandler(d.vouchers))
		client.GET("/vouchers", listClientVouchersHandler(d.vouchers))

		client.GET("/loyalty/points", loyaltyPointsHandler(d.points))
		client.GET("/notifications", notificationsHandler(d.notes))

		client.GET("/cart", getCartHandler(d.carts))
		client.POST("/cart/items", addCartItemHandler(d.carts, d.products))
		client.PATCH("/cart/items/:id", updateCartItemHandler(d.carts))
		client.DELETE("/cart/items/:id", removeCartItemHandler(d.carts))
		client.DELETE("/cart", clearCartHandler(d.carts))
	}

	admin := r.Group("/admin")
	{
		admin.GET("/orders", listAllOrdersHandler(d.orders))
		admin.PATCH("/orders/:id/status", updateOrderStatusHandler(d.orders))
		admin.GET("/orders/stats", dashboardHandler(d.orders))

		admin.POST("/vouchers", createVoucherHandler(d.vouchers))
		admin.GET("/vouchers", listAdminVouchersHandler(d.vouchers))
		admin.POST("/vouchers/expire-sweep", expireVouchersHandler(d.vouchers))
	}

	return r
}
