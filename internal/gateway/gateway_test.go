package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/config"
	"github.com/stretchr/testify/require"
)

func TestVerifyHMACSHA256(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := SignHMACSHA256(body, "whsec")

	cases := []struct {
		name   string
		body   []byte
		sig    string
		secret string
		want   bool
	}{
		{name: "valid", body: body, sig: sig, secret: "whsec", want: true},
		{name: "upper case hex", body: body, sig: strings.ToUpper(sig), secret: "whsec", want: true},
		{name: "wrong secret", body: body, sig: sig, secret: "other", want: false},
		{name: "reformatted body", body: []byte(`{"event": "payment.captured"}`), sig: sig, secret: "whsec", want: false},
		{name: "missing signature", body: body, sig: "", secret: "whsec", want: false},
		{name: "missing secret", body: body, sig: sig, secret: "", want: false},
		{name: "not hex", body: body, sig: "zz", secret: "whsec", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifyHMACSHA256(tc.body, tc.sig, tc.secret); got != tc.want {
				t.Fatalf("VerifyHMACSHA256() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEventAccessors(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1"}}}}`))
	require.NoError(t, err)
	require.Equal(t, "order_1", evt.OrderID())
	require.Equal(t, "pay_1", evt.PaymentID())
	require.True(t, evt.IsSuccess())
	require.False(t, evt.IsFailure())

	evt, err = ParseEvent([]byte(`{"type":"order.payment_failed","payload":{"order":{"entity":{"id":"order_2"}},"payment":{"entity":{"order_id":"order_x"}}}}`))
	require.NoError(t, err)
	require.Equal(t, "order_2", evt.OrderID())
	require.True(t, evt.IsFailure())

	evt, err = ParseEvent([]byte(`{"event":"refund.created"}`))
	require.NoError(t, err)
	require.False(t, evt.IsSuccess())
	require.False(t, evt.IsFailure())

	_, err = ParseEvent([]byte(`not json`))
	require.Error(t, err)
}

func TestSignatureHeader(t *testing.T) {
	require.Equal(t, "X-Razorpay-Signature", SignatureHeader("razorpay"))
	require.Equal(t, "X-Razorpay-Event-Id", EventIDHeader(" Razorpay "))
}

func TestRazorpayCreateOrder(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)
		require.Equal(t, "secret", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_9","entity":"order","amount":1900,"currency":"INR","status":"created"}`))
	}))
	defer srv.Close()

	client := NewRazorpay(config.GatewayConfig{BaseURL: srv.URL + "/", KeyID: "key", KeySecret: "secret"})
	order, err := client.CreateOrder(context.Background(), OrderRequest{AmountMinor: 1900, Currency: "inr", Notes: map[string]string{"plan_id": "2"}})
	require.NoError(t, err)
	require.Equal(t, "order_9", order.ID)
	require.EqualValues(t, 1900, order.Amount)

	require.EqualValues(t, 1900, got["amount"])
	require.Equal(t, "INR", got["currency"])
	require.True(t, strings.HasPrefix(got["receipt"].(string), "rcpt_"))
	require.Equal(t, map[string]any{"plan_id": "2"}, got["notes"])
}

func TestRazorpayCreateOrder_Errors(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
	}))
	defer srv.Close()
	client := NewRazorpay(config.GatewayConfig{BaseURL: srv.URL})

	_, err := client.CreateOrder(context.Background(), OrderRequest{AmountMinor: 1, Currency: "INR"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	require.False(t, billing.IsRetryable(err))

	status = http.StatusBadGateway
	_, err = client.CreateOrder(context.Background(), OrderRequest{AmountMinor: 1, Currency: "INR"})
	require.True(t, billing.IsRetryable(err))
}

func TestRazorpayCreateOrder_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	client := NewRazorpay(config.GatewayConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})

	_, err := client.CreateOrder(context.Background(), OrderRequest{AmountMinor: 100, Currency: "INR"})
	require.True(t, billing.IsRetryable(err))
	require.True(t, IsTimeout(err))
}
