package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/config"
	"github.com/oelp-platform/billing/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// ProviderRazorpay is the Razorpay provider name.
const ProviderRazorpay = "razorpay"

const maxResponseBytes = 1 << 20

// APIError is a non-retryable rejection returned by the provider.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("razorpay: %d %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("razorpay: unexpected status %d", e.StatusCode)
}

// Razorpay is a Client for the Razorpay orders API.
type Razorpay struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

// NewRazorpay builds a Razorpay client from gateway settings.
func NewRazorpay(cfg config.GatewayConfig) *Razorpay {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultGatewayTimeout
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultGatewayBaseURL
	}
	return &Razorpay{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Provider returns "razorpay".
func (g *Razorpay) Provider() string { return ProviderRazorpay }

// VerifyWebhookSignature checks the X-Razorpay-Signature value.
func (g *Razorpay) VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	return VerifyHMACSHA256(rawBody, signature, secret)
}

// CreateOrder posts a new order. Transport failures, timeouts and 5xx
// responses are reported as billing.GatewayError.
func (g *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	start := time.Now()
	order, err := g.createOrder(ctx, req)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.GatewayOrders.WithLabelValues(ProviderRazorpay, outcome).Inc()
	metrics.GatewayOrderDuration.WithLabelValues(ProviderRazorpay, outcome).Observe(time.Since(start).Seconds())
	return order, err
}

func (g *Razorpay) createOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.AmountMinor < 0 {
		return Order{}, fmt.Errorf("%w: negative order amount", billing.ErrInvalidInput)
	}
	receipt := strings.TrimSpace(req.Receipt)
	if receipt == "" {
		receipt = "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	}
	body := map[string]any{
		"amount":   req.AmountMinor,
		"currency": strings.ToUpper(strings.TrimSpace(req.Currency)),
		"receipt":  receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Order{}, fmt.Errorf("razorpay: encode order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return Order{}, fmt.Errorf("razorpay: build request: %w", err)
	}
	httpReq.SetBasicAuth(g.keyID, g.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Order{}, &billing.GatewayError{Op: "create order", Err: err}
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("razorpay: close response body failed")
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Order{}, &billing.GatewayError{Op: "read order response", Err: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return Order{}, &billing.GatewayError{Op: "create order", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errorResp struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &errorResp) == nil {
			apiErr.Code = errorResp.Error.Code
			apiErr.Description = errorResp.Error.Description
		}
		return Order{}, apiErr
	}

	var order Order
	if err := json.Unmarshal(respBody, &order); err != nil {
		return Order{}, fmt.Errorf("razorpay: decode order: %w", err)
	}
	if strings.TrimSpace(order.ID) == "" {
		return Order{}, errors.New("razorpay: order response without id")
	}
	return order, nil
}

// IsTimeout reports whether err came from a network timeout.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
