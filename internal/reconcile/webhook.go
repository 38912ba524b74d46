package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/gateway"
	"github.com/oelp-platform/billing/internal/ledger"
	"github.com/oelp-platform/billing/internal/metrics"
	"github.com/oelp-platform/billing/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookDelivery is a raw provider webhook request.
type WebhookDelivery struct {
	Body      []byte
	Signature string
	// EventID is the provider delivery id; the body digest is used when empty.
	EventID string
}

// WebhookResult describes how a verified delivery was handled.
type WebhookResult struct {
	Event    string
	OrderID  string
	Outcome  string
	Replayed bool
}

// HandleWebhook verifies and processes a provider webhook. Only a missing or
// invalid signature is returned as an error; once the signature passes, every
// processing failure is logged and journaled and the delivery is acknowledged.
func (r *Reconciler) HandleWebhook(ctx context.Context, d WebhookDelivery) (WebhookResult, error) {
	provider := r.gateway.Provider()
	if strings.TrimSpace(d.Signature) == "" || r.webhookSecret == "" ||
		!r.gateway.VerifyWebhookSignature(d.Body, d.Signature, r.webhookSecret) {
		metrics.WebhookDeliveries.WithLabelValues(provider, "", metrics.OutcomeRejected).Inc()
		return WebhookResult{}, billing.ErrInvalidSignature
	}

	evt, errParse := gateway.ParseEvent(d.Body)
	if errParse != nil {
		log.WithError(errParse).WithField("provider", provider).Warn("reconcile: undecodable webhook body")
		metrics.WebhookDeliveries.WithLabelValues(provider, "", metrics.OutcomeIgnored).Inc()
		return WebhookResult{Outcome: metrics.OutcomeIgnored}, nil
	}
	result := WebhookResult{Event: evt.Name(), OrderID: evt.OrderID()}

	eventID := strings.TrimSpace(d.EventID)
	if eventID == "" {
		sum := sha256.Sum256(d.Body)
		eventID = hex.EncodeToString(sum[:])
	}
	journal, replayed := r.journal(ctx, provider, eventID, evt.Name(), d.Body)
	if replayed {
		result.Outcome = metrics.OutcomeReplayed
		result.Replayed = true
		metrics.WebhookDeliveries.WithLabelValues(provider, result.Event, result.Outcome).Inc()
		return result, nil
	}

	errProcess := r.process(ctx, evt)
	switch {
	case errProcess == nil && (evt.IsSuccess() || evt.IsFailure()):
		result.Outcome = metrics.OutcomeSuccess
	case errProcess == nil:
		result.Outcome = metrics.OutcomeIgnored
	case billing.IsNotFound(errProcess):
		result.Outcome = metrics.OutcomeIgnored
		log.WithError(errProcess).WithFields(logFields(provider, result.Event, result.OrderID)).
			Info("reconcile: webhook for unknown order ignored")
	default:
		result.Outcome = metrics.OutcomeFailure
		log.WithError(errProcess).WithFields(logFields(provider, result.Event, result.OrderID)).
			Warn("reconcile: webhook processing failed")
	}
	r.finishJournal(ctx, journal, errProcess)
	metrics.WebhookDeliveries.WithLabelValues(provider, result.Event, result.Outcome).Inc()
	return result, nil
}

func (r *Reconciler) process(ctx context.Context, evt gateway.Event) error {
	if !evt.IsSuccess() && !evt.IsFailure() {
		return nil
	}
	orderID := evt.OrderID()
	if orderID == "" {
		return fmt.Errorf("%w: event %q carries no order id", billing.ErrInvalidInput, evt.Name())
	}
	ref := ledger.Ref{OrderID: orderID}
	if evt.IsSuccess() {
		_, errSettle := r.settle(ctx, ref, evt.PaymentID(), nil, 0)
		return errSettle
	}
	_, errFail := r.fail(ctx, ref, evt.PaymentID())
	return errFail
}

// journal records the delivery and reports whether it was already processed.
// Journal failures are logged and never block processing.
func (r *Reconciler) journal(ctx context.Context, provider, eventID, eventType string, body []byte) (*models.WebhookEvent, bool) {
	row := models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		CreatedAt:       r.clock(),
		UpdatedAt:       r.clock(),
	}
	if json.Valid(body) {
		row.Payload = datatypes.JSON(append([]byte(nil), body...))
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		log.WithError(res.Error).WithField("event_id", eventID).Warn("reconcile: journal webhook failed")
		return nil, false
	}
	if res.RowsAffected > 0 {
		return &row, false
	}

	var existing models.WebhookEvent
	if errFind := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Take(&existing).Error; errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).WithField("event_id", eventID).Warn("reconcile: load webhook journal failed")
		}
		return nil, false
	}
	return &existing, existing.ProcessedAt != nil
}

// finishJournal marks the delivery processed. Deliveries that failed for a
// reason other than a missing order stay unprocessed so a redelivery retries.
func (r *Reconciler) finishJournal(ctx context.Context, row *models.WebhookEvent, errProcess error) {
	if row == nil {
		return
	}
	now := r.clock()
	updates := map[string]any{"updated_at": now}
	if errProcess == nil || billing.IsNotFound(errProcess) || errors.Is(errProcess, billing.ErrInvalidInput) {
		updates["processed_at"] = now
	}
	if errProcess != nil {
		updates["error"] = errProcess.Error()
	} else {
		updates["error"] = nil
	}
	if errUpdate := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", row.ID).Updates(updates).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("event_id", row.ProviderEventID).Warn("reconcile: update webhook journal failed")
	}
}
