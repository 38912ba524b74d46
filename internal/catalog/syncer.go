package catalog

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultSyncInterval = 10 * time.Minute

// Syncer keeps the plan catalog in line with an operator-maintained YAML file.
type Syncer struct {
	db       *gorm.DB
	path     string
	interval time.Duration
	now      func() time.Time

	lastDigest [sha256.Size]byte
	synced     bool
}

// NewSyncer constructs a catalog syncer. It returns nil when path is empty.
func NewSyncer(db *gorm.DB, path string, interval time.Duration) *Syncer {
	if db == nil || strings.TrimSpace(path) == "" {
		return nil
	}
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &Syncer{
		db:       db,
		path:     strings.TrimSpace(path),
		interval: interval,
		now:      time.Now,
	}
}

// Start runs the sync loop in the background.
func (s *Syncer) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("catalog syncer started (path=%s interval=%s)", s.path, s.interval)
}

func (s *Syncer) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SyncOnce(ctx); err != nil {
				log.WithError(err).Warn("catalog syncer: sync failed")
			}
		}
	}
}

// SyncOnce reads the catalog file and stores it when its content changed.
// It reports whether anything was written.
func (s *Syncer) SyncOnce(ctx context.Context) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("catalog syncer: nil db")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("catalog syncer: read %s: %w", s.path, err)
	}
	digest := sha256.Sum256(data)
	if s.synced && digest == s.lastDigest {
		return false, nil
	}

	def, err := Parse(data)
	if err != nil {
		return false, err
	}
	clock := s.now
	if clock == nil {
		clock = time.Now
	}
	if err := Store(ctx, s.db, def, clock().UTC()); err != nil {
		return false, err
	}
	s.lastDigest = digest
	s.synced = true
	log.WithField("plans", len(def.Plans)).WithField("refund_policies", len(def.RefundPolicies)).Info("catalog syncer: catalog applied")
	return true, nil
}
