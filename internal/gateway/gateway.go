// Package gateway talks to the external payment provider.
package gateway

import (
	"context"
	"encoding/json"
	"strings"
)

// Client is the payment provider surface the reconciler depends on.
type Client interface {
	// Provider returns the lower-case provider name, e.g. "razorpay".
	Provider() string
	// CreateOrder registers an order for amountMinor units of currency.
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	// VerifyWebhookSignature checks signature against the raw request body.
	VerifyWebhookSignature(rawBody []byte, signature, secret string) bool
}

// OrderRequest describes an order to create.
type OrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Order is a provider order.
type Order struct {
	ID       string `json:"id"`
	Entity   string `json:"entity,omitempty"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Webhook event types acted on by the reconciler.
const (
	EventPaymentCaptured    = "payment.captured"
	EventOrderPaid          = "order.paid"
	EventPaymentFailed      = "payment.failed"
	EventOrderPaymentFailed = "order.payment_failed"
)

// Event is the webhook body shape shared by the supported providers.
type Event struct {
	Event   string       `json:"event"`
	Type    string       `json:"type"`
	Payload EventPayload `json:"payload"`
}

// EventPayload carries the order and payment entities of an event.
type EventPayload struct {
	Order struct {
		Entity struct {
			ID string `json:"id"`
		} `json:"entity"`
	} `json:"order"`
	Payment struct {
		Entity struct {
			ID      string `json:"id"`
			OrderID string `json:"order_id"`
		} `json:"entity"`
	} `json:"payment"`
}

// ParseEvent decodes a webhook body.
func ParseEvent(rawBody []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// Name returns the event type, accepting either "event" or "type".
func (e Event) Name() string {
	if name := strings.TrimSpace(e.Event); name != "" {
		return name
	}
	return strings.TrimSpace(e.Type)
}

// OrderID returns the order entity id, falling back to the payment's order id.
func (e Event) OrderID() string {
	if id := strings.TrimSpace(e.Payload.Order.Entity.ID); id != "" {
		return id
	}
	return strings.TrimSpace(e.Payload.Payment.Entity.OrderID)
}

// PaymentID returns the payment entity id.
func (e Event) PaymentID() string {
	return strings.TrimSpace(e.Payload.Payment.Entity.ID)
}

// IsSuccess reports whether the event settles a payment.
func (e Event) IsSuccess() bool {
	switch e.Name() {
	case EventPaymentCaptured, EventOrderPaid:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the event fails a payment.
func (e Event) IsFailure() bool {
	switch e.Name() {
	case EventPaymentFailed, EventOrderPaymentFailed:
		return true
	default:
		return false
	}
}

// SignatureHeader returns the header carrying the webhook signature for provider.
func SignatureHeader(provider string) string {
	return "X-" + canonicalProvider(provider) + "-Signature"
}

// EventIDHeader returns the header carrying the provider's delivery id.
func EventIDHeader(provider string) string {
	return "X-" + canonicalProvider(provider) + "-Event-Id"
}

func canonicalProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return ""
	}
	return strings.ToUpper(provider[:1]) + provider[1:]
}
