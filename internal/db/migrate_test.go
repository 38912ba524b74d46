package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oelp-platform/billing/internal/models"
	internalsettings "github.com/oelp-platform/billing/internal/settings"
	"gorm.io/gorm"
)

func openMigrated(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "billing-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestMigrate_SeedsFreePlanAndSettings(t *testing.T) {
	conn := openMigrated(t)

	// A second run must be a no-op.
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("second migrate: %v", errMigrate)
	}

	var plans []models.Plan
	if errFind := conn.Preload("Features").Where("type = ?", models.PlanTypeFree).Find(&plans).Error; errFind != nil {
		t.Fatalf("find free plan: %v", errFind)
	}
	if len(plans) != 1 {
		t.Fatalf("expected exactly one free plan, got %d", len(plans))
	}
	if plans[0].Name != internalsettings.DefaultFreePlanName || !plans[0].Price.IsZero() {
		t.Fatalf("unexpected free plan: %+v", plans[0])
	}

	for _, key := range []string{
		internalsettings.RateLimitKey,
		internalsettings.FreePlanNameKey,
		internalsettings.FallbackPlanDaysKey,
	} {
		var setting models.Setting
		if errFind := conn.Where("key = ?", key).First(&setting).Error; errFind != nil {
			t.Fatalf("setting %s: %v", key, errFind)
		}
	}
}

func TestMigrate_OneActiveSubscriptionPerSubscriber(t *testing.T) {
	conn := openMigrated(t)

	var free models.Plan
	if errFind := conn.Where("type = ?", models.PlanTypeFree).First(&free).Error; errFind != nil {
		t.Fatalf("find free plan: %v", errFind)
	}
	other := models.Plan{Name: "Other", Type: models.PlanTypeMain, DurationDays: 30, IsEnabled: true}
	if errCreate := conn.Create(&other).Error; errCreate != nil {
		t.Fatalf("create plan: %v", errCreate)
	}

	now := time.Now().UTC()
	first := models.Subscription{SubscriberID: 7, PlanID: free.ID, StartDate: now, EndDate: now, ExpireAt: now.Add(time.Hour), IsActive: true}
	if errCreate := conn.Create(&first).Error; errCreate != nil {
		t.Fatalf("create first: %v", errCreate)
	}
	second := models.Subscription{SubscriberID: 7, PlanID: other.ID, StartDate: now, EndDate: now, ExpireAt: now.Add(time.Hour), IsActive: true}
	errDup := conn.Create(&second).Error
	if errDup == nil {
		t.Fatalf("expected unique violation for a second active subscription")
	}
	if !IsUniqueViolation(errDup) {
		t.Fatalf("expected unique violation, got %v", errDup)
	}
}

func TestLockSubscriber(t *testing.T) {
	conn := openMigrated(t)

	for i := 0; i < 2; i++ {
		errTx := conn.Transaction(func(tx *gorm.DB) error {
			return LockSubscriber(tx, 42)
		})
		if errTx != nil {
			t.Fatalf("lock subscriber (run %d): %v", i, errTx)
		}
	}
	var count int64
	if errCount := conn.Model(&models.SubscriberLock{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count locks: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected one lock row, got %d", count)
	}
	if errLock := LockSubscriber(conn, 0); errLock == nil {
		t.Fatalf("expected error for empty subscriber id")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: true},
		{name: "other", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestTransactionWithRetry(t *testing.T) {
	conn := openMigrated(t)

	attempts := 0
	errTx := TransactionWithRetry(context.Background(), conn, 3, func(tx *gorm.DB) error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if errTx != nil {
		t.Fatalf("expected success on third attempt, got %v", errTx)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}

	attempts = 0
	errPermanent := errors.New("permanent")
	errTx = TransactionWithRetry(context.Background(), conn, 3, func(tx *gorm.DB) error {
		attempts++
		return errPermanent
	})
	if !errors.Is(errTx, errPermanent) || attempts != 1 {
		t.Fatalf("expected single attempt with permanent error, got %v after %d", errTx, attempts)
	}
}

func TestIsSQLiteDSN(t *testing.T) {
	cases := map[string]bool{
		"file:/tmp/x.db":                true,
		"/var/lib/billing.sqlite":       true,
		"postgres://u:p@localhost/db":   false,
		"postgresql://u:p@localhost/db": false,
		"host=localhost user=billing":   false,
	}
	for dsn, want := range cases {
		if got := isSQLiteDSN(dsn); got != want {
			t.Fatalf("isSQLiteDSN(%q) = %v, want %v", dsn, got, want)
		}
	}
}
