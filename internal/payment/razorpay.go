package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-live-orders/internal/orders"
)

const GatewayRazorpay = "razorpay"

type LinkRequest struct {
	OrderID       string
	AmountPaise   int64
	CustomerName  string
	CustomerPhone string
	Description   string
	TTL           time.Duration
}

type Link struct {
	URL         string
	ExternalRef string
	Gateway     string
}

type Gateway interface {
	CreatePaymentLink(ctx context.Context, req LinkRequest) (Link, error)
}

type RazorpayClient struct {
	KeyID       string
	KeySecret   string
	BaseURL     string
	CallbackURL string
	HTTP        *http.Client
	Now         func() time.Time
}

func NewRazorpayClient(keyID, keySecret, baseURL, callbackURL string, timeout time.Duration) *RazorpayClient {
	return &RazorpayClient{
		KeyID:       keyID,
		KeySecret:   keySecret,
		BaseURL:     baseURL,
		CallbackURL: callbackURL,
		HTTP:        &http.Client{Timeout: timeout},
		Now:         time.Now,
	}
}

type razorpayLinkReq struct {
	Amount         int64            `json:"amount"`
	Currency       string           `json:"currency"`
	Description    string           `json:"description"`
	Customer       razorpayCustomer `json:"customer"`
	Notify         razorpayNotify   `json:"notify"`
	ReminderEnable bool             `json:"reminder_enable"`
	CallbackURL    string           `json:"callback_url,omitempty"`
	CallbackMethod string           `json:"callback_method,omitempty"`
	ReferenceID    string           `json:"reference_id"`
	ExpireBy       int64            `json:"expire_by"`
}

type razorpayCustomer struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

type razorpayNotify struct {
	SMS      bool `json:"sms"`
	WhatsApp bool `json:"whatsapp"`
}

type razorpayLinkResp struct {
	ID       string `json:"id"`
	ShortURL string `json:"short_url"`
}

// CreatePaymentLink calls POST /v1/payment_links. Every failure, including a
// timeout, is reported as orders.ErrGatewayUnavailable; callers do not retry
// synchronously.
func (c *RazorpayClient) CreatePaymentLink(ctx context.Context, req LinkRequest) (Link, error) {
	if c.KeyID == "" || c.KeySecret == "" {
		return Link{}, fmt.Errorf("%w: razorpay credentials not configured", orders.ErrGatewayUnavailable)
	}
	body := razorpayLinkReq{
		Amount:         req.AmountPaise,
		Currency:       "INR",
		Description:    req.Description,
		Customer:       razorpayCustomer{Name: req.CustomerName, Contact: req.CustomerPhone},
		Notify:         razorpayNotify{SMS: true, WhatsApp: false}, // WhatsApp goes through our own sender
		ReminderEnable: true,
		CallbackURL:    c.CallbackURL,
		ReferenceID:    req.OrderID,
		ExpireBy:       c.Now().Add(req.TTL).Unix(),
	}
	if c.CallbackURL != "" {
		body.CallbackMethod = "get"
	}
	b, err := json.Marshal(body)
	if err != nil {
		return Link{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/payment_links", bytes.NewReader(b))
	if err != nil {
		return Link{}, fmt.Errorf("%w: %v", orders.ErrGatewayUnavailable, err)
	}
	httpReq.SetBasicAuth(c.KeyID, c.KeySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return Link{}, fmt.Errorf("%w: %v", orders.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Link{}, fmt.Errorf("%w: razorpay status %d: %s", orders.ErrGatewayUnavailable, resp.StatusCode, msg)
	}
	var out razorpayLinkResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Link{}, fmt.Errorf("%w: decode response: %v", orders.ErrGatewayUnavailable, err)
	}
	if out.ID == "" || out.ShortURL == "" {
		return Link{}, fmt.Errorf("%w: razorpay returned an empty link", orders.ErrGatewayUnavailable)
	}
	return Link{URL: out.ShortURL, ExternalRef: out.ID, Gateway: GatewayRazorpay}, nil
}
