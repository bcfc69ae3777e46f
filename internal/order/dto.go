package order

// CheckoutRequest is the checkout payload.
type CheckoutRequest struct {
	PaymentMethod   PaymentMethod `json:"payment_method" example:"CARD"`
	ReceiverName    string        `json:"receiver_name" example:"Nguyen Van A"`
	ReceiverPhone   string        `json:"receiver_phone" example:"0901234567"`
	ShippingAddress string        `json:"shipping_address" example:"12 Le Loi, Q1, HCMC"`
	Note            string        `json:"note,omitempty"`
	LoyaltyPoints   int           `json:"loyalty_points_used,omitempty"`
	IPAddr          string        `json:"-"` // taken from the connection, not the body
}

// CheckoutResult is returned on a successful checkout. PaymentURL is set only
// for online methods.
type CheckoutResult struct {
	OrderID    int64  `json:"order_id"`
	BillCode   int64  `json:"bill_code"`
	OrderCode  string `json:"order_code"`
	Total      int64  `json:"total"`
	PaymentURL string `json:"payment_url,omitempty"`
	Message    string `json:"message"`
}

// PaymentReturnResult is the outcome of a gateway callback. On failure,
// Message carries the translated gateway reason and nothing was mutated.
type PaymentReturnResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	OrderID  int64  `json:"order_id"`
	BillCode int64  `json:"bill_code"`
	Total    int64  `json:"total,omitempty"`
	Status   Status `json:"status"`
}

type ListQuery struct {
	Page       int
	Limit      int
	Status     Status
	Search     string
	CustomerID *int64
}

type Page struct {
	Data       []Order `json:"data"`
	Total      int64   `json:"total"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	TotalPages int64   `json:"total_pages"`
}
