package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-live-orders/internal/orders"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payment_link.paid"}`)
	sig := Sign("whsec", body)

	if !VerifySignature("whsec", body, sig) {
		t.Error("expected valid signature to verify")
	}
	if VerifySignature("other", body, sig) {
		t.Error("expected wrong secret to fail")
	}
	if VerifySignature("whsec", []byte(`{"event":"payment_link.paid"} `), sig) {
		t.Error("expected a single changed byte to fail")
	}
	if VerifySignature("whsec", body, "zz-not-hex") {
		t.Error("expected non-hex signature to fail")
	}
	if VerifySignature("", body, Sign("", body)) {
		t.Error("expected empty secret to fail")
	}
}

func TestCreatePaymentLink_Success(t *testing.T) {
	var got razorpayLinkReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_links" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "key" || p != "secret" {
			t.Errorf("missing basic auth")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"plink_123","short_url":"https://rzp.io/i/abc"}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	c := NewRazorpayClient("key", "secret", srv.URL, "", time.Second)
	c.Now = func() time.Time { return now }

	link, err := c.CreatePaymentLink(context.Background(), LinkRequest{
		OrderID: "ORD-20250101-ABCD1234", AmountPaise: 250000, CustomerName: "Asha",
		CustomerPhone: "919876543210", Description: "Saree SAR-001", TTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link.ExternalRef != "plink_123" || link.URL != "https://rzp.io/i/abc" {
		t.Errorf("unexpected link: %+v", link)
	}
	if got.Amount != 250000 || got.ReferenceID != "ORD-20250101-ABCD1234" {
		t.Errorf("unexpected request: %+v", got)
	}
	if got.ExpireBy != now.Add(15*time.Minute).Unix() {
		t.Errorf("expected expire_by at window end, got %d", got.ExpireBy)
	}
}

func TestCreatePaymentLink_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewRazorpayClient("key", "secret", srv.URL, "", time.Second)
	if _, err := c.CreatePaymentLink(context.Background(), LinkRequest{OrderID: "o"}); !errors.Is(err, orders.ErrGatewayUnavailable) {
		t.Errorf("expected ErrGatewayUnavailable on 502, got %v", err)
	}

	unconfigured := NewRazorpayClient("", "", srv.URL, "", time.Second)
	if _, err := unconfigured.CreatePaymentLink(context.Background(), LinkRequest{OrderID: "o"}); !errors.Is(err, orders.ErrGatewayUnavailable) {
		t.Errorf("expected ErrGatewayUnavailable without credentials, got %v", err)
	}
}
