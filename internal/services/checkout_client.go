package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slotworks/booking-engine/internal/config"
)

// CheckoutClient talks to a hosted checkout gateway over HTTP
type CheckoutClient struct {
	config     config.PaymentConfig
	minorUnits map[string]int
	logger     *logrus.Logger
	client     *http.Client
}

// checkoutLinkRequest is the body sent to create a payment link
type checkoutLinkRequest struct {
	MerchantKey string `json:"merchantKey"`
	OrderID     string `json:"orderId"`
	Amount      string `json:"amount"`
	Currency    string `json:"currencyCode"`
	Description string `json:"description,omitempty"`

	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
	CustomerPhone string `json:"customerPhone"`

	ReturnURL  string `json:"returnUrl,omitempty"`
	WebhookURL string `json:"webhookUrl,omitempty"`

	Signature string `json:"signature"`
}

// checkoutLinkResponse is the gateway's answer to a link request
type checkoutLinkResponse struct {
	Status         string `json:"status"` // "success" or "error"
	LinkID         string `json:"linkId"`
	URL            string `json:"url"`
	GatewayOrderID string `json:"gatewayOrderId"`
	Message        string `json:"message,omitempty"`
}

// checkoutStatusResponse is the gateway's view of an order
type checkoutStatusResponse struct {
	OrderID       string `json:"orderId"`
	PaymentStatus string `json:"paymentStatus"` // "PENDING", "SUCCESS", "FAILED", "CANCELLED"
	Amount        string `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	Message       string `json:"message,omitempty"`
}

// NewCheckoutClient creates a new checkout gateway client
func NewCheckoutClient(cfg config.PaymentConfig, minorUnits map[string]int, logger *logrus.Logger) *CheckoutClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CheckoutClient{
		config:     cfg,
		minorUnits: minorUnits,
		logger:     logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *CheckoutClient) Name() string { return "checkout" }

// Sign computes the request signature: HMAC-SHA512 over
// "merchantKey|orderId|amount|currency" keyed with the merchant secret, uppercase hex
func (c *CheckoutClient) Sign(orderID, amount, currency string) string {
	mac := hmac.New(sha512.New, []byte(c.config.MerchantSecret))
	mac.Write([]byte(strings.Join([]string{c.config.MerchantKey, orderID, amount, currency}, "|")))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// CreateLink requests a hosted payment link for an order
func (c *CheckoutClient) CreateLink(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	if c.config.MerchantKey == "" {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant key")
	}

	amount, err := FormatMinorUnits(req.Amount, req.Currency, c.minorUnits)
	if err != nil {
		return nil, err
	}

	body := &checkoutLinkRequest{
		MerchantKey:   c.config.MerchantKey,
		OrderID:       req.OrderID,
		Amount:        amount,
		Currency:      req.Currency,
		Description:   req.Description,
		CustomerName:  req.Customer.Name,
		CustomerEmail: req.Customer.Email,
		CustomerPhone: req.Customer.Phone,
		ReturnURL:     c.config.ReturnURL,
		WebhookURL:    c.config.WebhookURL,
		Signature:     c.Sign(req.OrderID, amount, req.Currency),
	}

	c.logger.WithFields(logrus.Fields{
		"order_id": req.OrderID,
		"amount":   amount,
		"currency": req.Currency,
	}).Info("Requesting payment link")

	respBody, status, err := c.do(ctx, http.MethodPost, "/v1/payment-links", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", status, string(respBody))
	}

	var linkResp checkoutLinkResponse
	if err := json.Unmarshal(respBody, &linkResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !strings.EqualFold(linkResp.Status, "success") {
		msg := linkResp.Message
		if msg == "" {
			msg = "status=" + linkResp.Status
		}
		return nil, fmt.Errorf("payment link creation failed: %s", msg)
	}
	if linkResp.URL == "" {
		return nil, fmt.Errorf("payment link creation failed: no link URL returned")
	}

	gatewayOrderID := linkResp.GatewayOrderID
	if gatewayOrderID == "" {
		gatewayOrderID = req.OrderID
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":         req.OrderID,
		"gateway_order_id": gatewayOrderID,
		"link_id":          linkResp.LinkID,
	}).Info("Payment link created")

	return &LinkResult{
		LinkID:         linkResp.LinkID,
		LinkURL:        linkResp.URL,
		GatewayOrderID: gatewayOrderID,
	}, nil
}

// CheckStatus queries the gateway for the current status of an order
func (c *CheckoutClient) CheckStatus(ctx context.Context, orderRef string) (*OrderStatus, error) {
	respBody, status, err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderRef), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &OrderStatus{Status: GatewayStatusPending}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", status, string(respBody))
	}

	var statusResp checkoutStatusResponse
	if err := json.Unmarshal(respBody, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &OrderStatus{
		Status:   ParseGatewayStatus(statusResp.PaymentStatus),
		Amount:   statusResp.Amount,
		Currency: statusResp.Currency,
	}, nil
}

func (c *CheckoutClient) do(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Merchant-Key", c.config.MerchantKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Error("Failed to call payment gateway")
		return nil, 0, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// ParseGatewayStatus maps a gateway payment status string onto GatewayPaymentStatus
func ParseGatewayStatus(s string) GatewayPaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "PAID", "COMPLETED":
		return GatewayStatusPaid
	case "FAILED", "CANCELLED", "CANCELED", "EXPIRED", "DECLINED":
		return GatewayStatusFailed
	default:
		return GatewayStatusPending
	}
}

// ============================================================================
// AMOUNTS
// ============================================================================

// FormatMinorUnits renders an amount in minor units as the gateway's decimal
// string, e.g. 1050 USD -> "10.50", 500 JPY -> "500"
func FormatMinorUnits(amount int64, currency string, minorUnits map[string]int) (string, error) {
	digits, ok := minorUnits[strings.ToUpper(currency)]
	if !ok {
		return "", fmt.Errorf("no minor unit configuration for currency %q", currency)
	}
	if digits == 0 {
		return strconv.FormatInt(amount, 10), nil
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	scale := pow10(digits)
	return fmt.Sprintf("%s%d.%0*d", sign, amount/scale, digits, amount%scale), nil
}

// ParseMinorUnits parses a gateway decimal string back into minor units.
// More fractional digits than the currency allows is an error.
func ParseMinorUnits(s, currency string, minorUnits map[string]int) (int64, error) {
	digits, ok := minorUnits[strings.ToUpper(currency)]
	if !ok {
		return 0, fmt.Errorf("no minor unit configuration for currency %q", currency)
	}
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && len(frac) > digits {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, digits)
	}
	frac += strings.Repeat("0", digits-len(frac))

	value, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return value, nil
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
