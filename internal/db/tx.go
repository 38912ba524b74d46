package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oelp-platform/billing/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgreSQL error codes that warrant a retry or signal a duplicate.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// LockSubscriber takes the per-subscriber write lock inside tx.
// Every ledger mutation for a subscriber runs after this call so that
// concurrent webhook and callback deliveries cannot interleave.
func LockSubscriber(tx *gorm.DB, subscriberID uint64) error {
	if tx == nil {
		return errors.New("db: lock subscriber: nil tx")
	}
	if subscriberID == 0 {
		return errors.New("db: lock subscriber: empty subscriber id")
	}
	if errCreate := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.SubscriberLock{SubscriberID: subscriberID}).Error; errCreate != nil {
		return fmt.Errorf("db: lock subscriber: ensure row: %w", errCreate)
	}
	var lock models.SubscriberLock
	if errLock := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("subscriber_id = ?", subscriberID).
		Take(&lock).Error; errLock != nil {
		return fmt.Errorf("db: lock subscriber: %w", errLock)
	}
	return nil
}

// IsRetryable reports whether err is a transient concurrency failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// defaultRetryBackoff is the base delay between transaction attempts.
const defaultRetryBackoff = 20 * time.Millisecond

// TransactionWithRetry runs fn in a transaction and re-runs it wholesale on retryable failures.
func TransactionWithRetry(ctx context.Context, conn *gorm.DB, attempts int, fn func(tx *gorm.DB) error) error {
	if conn == nil {
		return errors.New("db: nil connection")
	}
	if attempts <= 0 {
		attempts = 1
	}
	var errTx error
	for attempt := 1; attempt <= attempts; attempt++ {
		errTx = conn.WithContext(ctx).Transaction(fn)
		if errTx == nil || !IsRetryable(errTx) {
			return errTx
		}
		log.WithError(errTx).WithField("attempt", attempt).Warn("db: retrying transaction")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * defaultRetryBackoff):
		}
	}
	return errTx
}
