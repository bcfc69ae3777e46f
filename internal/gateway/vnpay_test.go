package gateway

import (
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/checkout/internal/config"
)

func testClient() *Client {
	return NewClient(config.Gateway{
		PayURL:    "https://gateway.example/pay",
		TmnCode:   "TESTCODE",
		Secret:    "supersecret",
		ReturnURL: "https://shop.example/payment/return",
	})
}

func TestBuildPaymentURL_RoundTripsSignature(t *testing.T) {
	c := testClient()

	resp, err := c.BuildPaymentURL(PaymentRequest{
		Amount:    1050000,
		OrderInfo: "Thanh toan don hang 1717240000000",
		IPAddr:    "203.0.113.9",
		BillCode:  1717240000000,
	})
	require.NoError(t, err)

	u, err := url.Parse(resp.PaymentURL)
	require.NoError(t, err)
	q := u.Query()

	// Amount is sent in the gateway's x100 convention.
	assert.Equal(t, "105000000", q.Get("vnp_Amount"))
	assert.Equal(t, "TESTCODE", q.Get("vnp_TmnCode"))
	assert.True(t, strings.HasPrefix(resp.TxnRef, "1717240000000_"))
	assert.Equal(t, resp.TxnRef, q.Get("vnp_TxnRef"))

	// The URL we emit must verify with our own callback check.
	assert.True(t, c.VerifyCallback(q))
}

func TestVerifyCallback_FailsClosed(t *testing.T) {
	c := testClient()

	resp, err := c.BuildPaymentURL(PaymentRequest{Amount: 50000, BillCode: 99})
	require.NoError(t, err)
	u, _ := url.Parse(resp.PaymentURL)
	q := u.Query()

	// Tampered amount invalidates the signature.
	q.Set("vnp_Amount", "1")
	assert.False(t, c.VerifyCallback(q))

	// Missing signature is invalid.
	q2, _ := url.ParseQuery("vnp_TxnRef=99_abc&vnp_ResponseCode=00")
	assert.False(t, c.VerifyCallback(q2))

	// Unconfigured client never verifies.
	var nilClient *Client
	assert.False(t, nilClient.Configured())
	empty := NewClient(config.Gateway{})
	assert.False(t, empty.VerifyCallback(q))
}

func TestBuildPaymentURL_RejectsBadInput(t *testing.T) {
	c := testClient()
	_, err := c.BuildPaymentURL(PaymentRequest{Amount: 0, BillCode: 1})
	assert.Error(t, err)

	_, err = NewClient(config.Gateway{}).BuildPaymentURL(PaymentRequest{Amount: 100, BillCode: 1})
	assert.Error(t, err)
}

func TestParseTxnRef(t *testing.T) {
	code, err := ParseTxnRef("1717240000000_9f2c1ab0")
	require.NoError(t, err)
	assert.Equal(t, int64(1717240000000), code)

	// A digits-then-garbage prefix must be rejected, not parsed as its
	// leading digits.
	for _, bad := range []string{"", "abc_123", "_123", "-5_x", "12abc_x", "0x10_x"} {
		_, err := ParseTxnRef(bad)
		assert.Error(t, err, strconv.Quote(bad))
	}
}

func TestResponseMessage(t *testing.T) {
	c := testClient()
	assert.Equal(t, "Transaction successful", c.ResponseMessage("00"))
	assert.Equal(t, "Transaction cancelled by the customer", c.ResponseMessage("24"))
	// Catch-all for anything outside the fixed table.
	assert.Equal(t, "Unknown error", c.ResponseMessage("42"))
}
