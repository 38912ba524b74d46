// Package watcher keeps the in-memory settings snapshot in step with the
// settings table when several instances share one database.
package watcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oelp-platform/billing/internal/models"
	internalsettings "github.com/oelp-platform/billing/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultQueryTimeout = 3 * time.Second
)

// SettingsWatcher polls the settings table and reloads the snapshot when the
// newest row changes.
type SettingsWatcher struct {
	db           *gorm.DB
	pollInterval time.Duration

	latestAt  time.Time
	latestKey string
	hasLatest bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSettingsWatcher builds a watcher. A non-positive interval uses the default.
func NewSettingsWatcher(db *gorm.DB, interval time.Duration) *SettingsWatcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &SettingsWatcher{db: db, pollInterval: interval}
}

// Start loads the snapshot once and keeps polling until Stop or ctx ends.
func (w *SettingsWatcher) Start(ctx context.Context) {
	if w == nil || w.db == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.Poll(runCtx, true)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(runCtx)
	}()
	log.Infof("settings watcher started (poll_interval=%s)", w.pollInterval)
}

// Stop cancels polling and waits for the loop to exit.
func (w *SettingsWatcher) Stop() {
	if w == nil || w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
}

func (w *SettingsWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx, false)
		}
	}
}

// Poll reloads the snapshot when forced or when the newest settings row moved.
// It reports whether a reload happened.
func (w *SettingsWatcher) Poll(ctx context.Context, force bool) bool {
	qctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	// latestRow captures the newest setting timestamp for change detection.
	type latestRow struct {
		Key       string    `gorm:"column:key"`        // Latest settings key.
		UpdatedAt time.Time `gorm:"column:updated_at"` // Latest settings update time.
	}
	var latest latestRow
	hasLatest := true
	errLatest := w.db.WithContext(qctx).
		Model(&models.Setting{}).
		Select("key", "updated_at").
		Order("updated_at DESC").Order("key DESC").
		Limit(1).
		Take(&latest).Error
	if errLatest != nil {
		if errors.Is(errLatest, context.Canceled) {
			return false
		}
		if !errors.Is(errLatest, gorm.ErrRecordNotFound) {
			log.WithError(errLatest).Warn("settings watcher: query latest row failed")
			return false
		}
		hasLatest = false
	}

	latestKey := strings.TrimSpace(latest.Key)
	latestAt := latest.UpdatedAt.UTC()
	if !force {
		if !hasLatest && !w.hasLatest {
			return false
		}
		if hasLatest && w.hasLatest && latestAt.Equal(w.latestAt) && latestKey == w.latestKey {
			return false
		}
	}

	if errRefresh := internalsettings.Refresh(qctx, w.db); errRefresh != nil {
		if !errors.Is(errRefresh, context.Canceled) {
			log.WithError(errRefresh).Warn("settings watcher: reload settings failed")
		}
		return false
	}
	log.Debugf("settings watcher: reloaded (latest_updated_at=%s latest_key=%s)", latestAt.Format(time.RFC3339Nano), latestKey)

	w.latestAt = latestAt
	w.latestKey = latestKey
	w.hasLatest = hasLatest
	return true
}
