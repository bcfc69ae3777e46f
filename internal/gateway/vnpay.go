// Package gateway builds outbound payment redirects and verifies inbound
// signed callbacks for a VNPay-style gateway. Only the wire contract lives
// here: parameter layout, transaction reference format and the HMAC check.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storefront-labs/checkout/internal/config"
)

// CodeSuccess is the response code the gateway sends for a settled payment.
const CodeSuccess = "00"

type PaymentRequest struct {
	Amount    int64  // VND
	OrderInfo string // free text shown on the gateway page
	ReturnURL string
	IPAddr    string
	BillCode  int64
}

type PaymentResponse struct {
	PaymentURL string
	TxnRef     string // "{billCode}_{rand}", parseable back on callback
}

type Client struct {
	payURL    string
	tmnCode   string
	secret    string
	returnURL string
	now       func() time.Time
}

func NewClient(cfg config.Gateway) *Client {
	return &Client{
		payURL:    cfg.PayURL,
		tmnCode:   cfg.TmnCode,
		secret:    cfg.Secret,
		returnURL: cfg.ReturnURL,
		now:       time.Now,
	}
}

// Configured reports whether the adapter has credentials. An unconfigured
// adapter blocks online checkout; it never degrades silently.
func (c *Client) Configured() bool {
	return c != nil && c.tmnCode != "" && c.secret != ""
}

// BuildPaymentURL constructs the signed redirect for req. Pure local
// computation: no round trip, so callers may run it inside their unit of work.
func (c *Client) BuildPaymentURL(req PaymentRequest) (*PaymentResponse, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("gateway: payment gateway is not configured")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("gateway: amount must be positive, got %d", req.Amount)
	}

	txnRef := fmt.Sprintf("%d_%s", req.BillCode, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = c.returnURL
	}
	ip := req.IPAddr
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", c.tmnCode)
	params.Set("vnp_Amount", fmt.Sprintf("%d", req.Amount*100)) // gateway wants x100
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_OrderInfo", req.OrderInfo)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", c.now().Format("20060102150405"))

	signed := encodeSorted(params)
	sig := c.sign(signed)

	return &PaymentResponse{
		PaymentURL: c.payURL + "?" + signed + "&vnp_SecureHash=" + sig,
		TxnRef:     txnRef,
	}, nil
}

// VerifyCallback checks the HMAC signature of an inbound callback. Fails
// closed: missing or malformed signatures are invalid.
func (c *Client) VerifyCallback(query url.Values) bool {
	if !c.Configured() {
		return false
	}
	got := query.Get("vnp_SecureHash")
	if got == "" {
		return false
	}

	params := url.Values{}
	for k, vs := range query {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	want := c.sign(encodeSorted(params))
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(want))
}

// ParseTxnRef extracts the billCode prefix from a "{billCode}_{rand}"
// transaction reference.
func ParseTxnRef(txnRef string) (int64, error) {
	prefix, _, _ := strings.Cut(txnRef, "_")
	billCode, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || billCode <= 0 {
		return 0, fmt.Errorf("gateway: malformed transaction reference %q", txnRef)
	}
	return billCode, nil
}

func (c *Client) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(c.secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// encodeSorted renders params as a query string with keys in ascending order,
// the exact byte layout the signature covers on both directions.
func encodeSorted(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// responseMessages maps gateway response codes to human-readable reasons.
var responseMessages = map[string]string{
	"00": "Transaction successful",
	"07": "Amount deducted but the transaction is suspected of fraud",
	"09": "Card or account is not registered for internet banking",
	"10": "Card or account information was entered incorrectly more than 3 times",
	"11": "Payment window expired, please retry the transaction",
	"12": "Card or account is locked",
	"13": "Wrong transaction password (OTP)",
	"24": "Transaction cancelled by the customer",
	"51": "Insufficient account balance",
	"65": "Account has exceeded its daily transaction limit",
	"75": "The paying bank is under maintenance",
	"79": "Wrong payment password entered too many times",
	"99": "Other errors",
}

// ResponseMessage translates a gateway response code; unknown codes fall
// through to a catch-all.
func (c *Client) ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "Unknown error"
}
