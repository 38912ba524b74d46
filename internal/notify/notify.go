// Package notify delivers subscriber notifications through filtered sinks.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/config"
	"github.com/oelp-platform/billing/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Notification kinds emitted by the billing core.
const (
	KindSubscriptionActivated  = "subscription_activated"
	KindSubscriptionDowngraded = "subscription_downgraded"
	KindPaymentFailed          = "payment_failed"
	KindSupportTicket          = "support_ticket"
)

// Notification is a message for a single subscriber.
type Notification struct {
	SubscriberID uint64         `json:"subscriber_id"`
	Kind         string         `json:"kind"`
	Message      string         `json:"message"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Sink persists or forwards accepted notifications.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Filter rejects notifications by message substring or kind.
type Filter struct {
	patterns []string
	kinds    map[string]struct{}
}

// NewFilter builds a filter. Patterns match case-insensitively.
func NewFilter(patterns []string, kinds ...string) Filter {
	f := Filter{kinds: make(map[string]struct{}, len(kinds))}
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			f.patterns = append(f.patterns, p)
		}
	}
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			f.kinds[k] = struct{}{}
		}
	}
	return f
}

// Check returns ErrNotificationRejected when n is blocked.
func (f Filter) Check(n Notification) error {
	if _, blocked := f.kinds[n.Kind]; blocked {
		return fmt.Errorf("%w: kind %q", billing.ErrNotificationRejected, n.Kind)
	}
	msg := strings.ToLower(n.Message)
	for _, p := range f.patterns {
		if strings.Contains(msg, p) {
			return fmt.Errorf("%w: message matches %q", billing.ErrNotificationRejected, p)
		}
	}
	return nil
}

// Dispatcher filters notifications and fans them out to sinks.
type Dispatcher struct {
	filter  Filter
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher. Support-ticket notifications are always
// blocked in addition to cfg.BlockedPatterns.
func NewDispatcher(cfg config.NotifyConfig, sinks ...Sink) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultNotifyTimeout
	}
	active := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &Dispatcher{
		filter:  NewFilter(cfg.BlockedPatterns, KindSupportTicket),
		sinks:   active,
		timeout: timeout,
		now:     time.Now,
	}
}

// Send delivers n to every sink after the filter accepts it. Sink failures are
// joined into the returned error; a rejected notification reaches no sink.
func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	if d == nil {
		return nil
	}
	if n.SubscriberID == 0 || strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: notification needs a subscriber and a message", billing.ErrInvalidInput)
	}
	if errFilter := d.filter.Check(n); errFilter != nil {
		metrics.Notifications.WithLabelValues("filter", metrics.OutcomeRejected).Inc()
		return errFilter
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now().UTC()
	}
	var errs []error
	for _, sink := range d.sinks {
		if errDeliver := sink.Deliver(ctx, n); errDeliver != nil {
			metrics.Notifications.WithLabelValues(sink.Name(), metrics.OutcomeFailure).Inc()
			errs = append(errs, fmt.Errorf("notify: %s: %w", sink.Name(), errDeliver))
			continue
		}
		metrics.Notifications.WithLabelValues(sink.Name(), metrics.OutcomeSuccess).Inc()
	}
	return errors.Join(errs...)
}

// Notify sends in the background with a bounded timeout. Failures are logged
// and dropped; they never reach the caller.
func (d *Dispatcher) Notify(subscriberID uint64, kind, message string, metadata map[string]any) {
	if d == nil {
		return
	}
	n := Notification{SubscriberID: subscriberID, Kind: kind, Message: message, Metadata: metadata}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if errSend := d.Send(ctx, n); errSend != nil {
			log.WithError(errSend).
				WithField("subscriber_id", subscriberID).
				WithField("kind", kind).
				Warn("notify: dropped notification")
		}
	}()
}

// Wait blocks until background sends started by Notify have finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func encode(n Notification) ([]byte, error) {
	return json.Marshal(n)
}
