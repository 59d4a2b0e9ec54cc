package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-live-orders/internal/orders"
)

// CODChargePaise is added to cash-on-delivery totals.
const CODChargePaise = 5000

// Params fill a template. Amounts are in paise.
type Params struct {
	CustomerName string
	OrderID      string
	SareeCode    string
	AmountPaise  int64
	PaymentLink  string
	MinutesLeft  int
	TrackingID   string
}

// Rupees formats paise as a whole-rupee amount with Indian digit grouping.
func Rupees(paise int64) string {
	s := decimal.New(paise, -2).Round(0).StringFixed(0)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) > 3 {
		head, tail := s[:len(s)-3], s[len(s)-3:]
		var groups []string
		for len(head) > 2 {
			groups = append([]string{head[len(head)-2:]}, groups...)
			head = head[:len(head)-2]
		}
		if head != "" {
			groups = append([]string{head}, groups...)
		}
		s = strings.Join(groups, ",") + "," + tail
	}
	if neg {
		s = "-" + s
	}
	return "₹" + s
}

// Render builds the text for one message type.
func Render(messageType string, p Params) (string, error) {
	switch messageType {
	case orders.MsgOrderInterest:
		return fmt.Sprintf(`Hi %s!

Thank you for your interest in our live!

Saree Code: %s
Price: %s
Status: Available

TO BOOK THIS SAREE:
Pay within 15 minutes to confirm your order.

Payment Link: %s

This saree is reserved for you for 15 minutes only.`, p.CustomerName, p.SareeCode, Rupees(p.AmountPaise), p.PaymentLink), nil

	case orders.MsgPaymentDelayed:
		return fmt.Sprintf(`Hi %s!

Your booking for %s (Order %s) is reserved.
We could not generate your payment link right now; our team will send it to you shortly.`,
			p.CustomerName, p.SareeCode, p.OrderID), nil

	case orders.MsgPaymentConfirmation:
		return fmt.Sprintf(`Payment Confirmed!

Order ID: %s
Saree: %s
Amount Paid: %s

Please share your delivery address:

1. Full Name
2. Complete Address
3. Pin Code
4. Mobile Number

We'll dispatch your saree within 24 hours!`, p.OrderID, p.SareeCode, Rupees(p.AmountPaise)), nil

	case orders.MsgPaymentReminder:
		return fmt.Sprintf(`REMINDER!

Your booking for %s expires in %d minutes!

Complete payment now to confirm your order:
%s

Need more time? Reply 'EXTEND' for 10 extra minutes.`, p.SareeCode, p.MinutesLeft, p.PaymentLink), nil

	case orders.MsgBookingExpired:
		return fmt.Sprintf(`Booking Expired

Your booking for %s has expired.
The saree is now available for others.

Want to book again?
Reply 'BOOK %s' or watch our next live!`, p.SareeCode, p.SareeCode), nil

	case orders.MsgCODConfirmation:
		return fmt.Sprintf(`COD Order Confirmed!

Order ID: %s
Saree: %s
Amount: %s + %s COD charges

Please share your delivery address:

1. Full Name
2. Complete Address
3. Pin Code
4. Mobile Number

Total Amount to Pay on Delivery: %s`, p.OrderID, p.SareeCode, Rupees(p.AmountPaise),
			Rupees(CODChargePaise), Rupees(p.AmountPaise+CODChargePaise)), nil

	case orders.MsgDispatchUpdate:
		return fmt.Sprintf(`Order Dispatched!

Your order has been shipped.

Order ID: %s
Tracking ID: %s

Expected Delivery: 3-5 business days`, p.OrderID, p.TrackingID), nil
	}
	return "", fmt.Errorf("unknown message type %q", messageType)
}
