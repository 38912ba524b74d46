package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/analytics"
	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/config"
	"github.com/oelp-platform/billing/internal/db"
	"github.com/oelp-platform/billing/internal/entitlement"
	"github.com/oelp-platform/billing/internal/gateway"
	"github.com/oelp-platform/billing/internal/http/api"
	"github.com/oelp-platform/billing/internal/http/api/admin"
	"github.com/oelp-platform/billing/internal/http/api/front"
	"github.com/oelp-platform/billing/internal/http/api/middleware"
	"github.com/oelp-platform/billing/internal/http/api/webhooks"
	"github.com/oelp-platform/billing/internal/logging"
	"github.com/oelp-platform/billing/internal/metering"
	"github.com/oelp-platform/billing/internal/notify"
	"github.com/oelp-platform/billing/internal/ratelimit"
	"github.com/oelp-platform/billing/internal/reconcile"
	"github.com/oelp-platform/billing/internal/refund"
	"github.com/oelp-platform/billing/internal/watcher"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultPort is the listener port used when neither flag nor config sets one.
const DefaultPort = 8318

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database, runs migrations and seeds the built-in catalog.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := openDatabase(ctx, dsn)
	if err != nil {
		return err
	}
	if sqlDB, errDB := conn.DB(); errDB == nil {
		defer func() { _ = sqlDB.Close() }()
	}
	return nil
}

// openDatabase connects, migrates and seeds the catalog.
func openDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	if summary, errDescribe := describeDSN(dsn); errDescribe == nil {
		log.WithFields(summary.Fields()).Info("opening database")
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	if errSeed := catalog.Seed(ctx, conn); errSeed != nil {
		return nil, errSeed
	}
	return conn, nil
}

// RunServer boots the billing API and blocks until ctx is canceled.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)

	logCfg, err := config.LoadLoggingConfig(configPath)
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	serverCfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	loc, err := serverCfg.Location()
	if err != nil {
		return err
	}
	if port <= 0 {
		port = serverCfg.Port
	}
	if port <= 0 {
		port = DefaultPort
	}

	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := openDatabase(ctx, dsn)
	if err != nil {
		return err
	}

	settingsWatcher := watcher.NewSettingsWatcher(conn, 0)
	settingsWatcher.Start(ctx)
	defer settingsWatcher.Stop()

	catalogCfg, err := config.LoadCatalogConfig(configPath)
	if err != nil {
		return err
	}
	if syncer := catalog.NewSyncer(conn, catalogCfg.Path, catalogCfg.SyncInterval); syncer != nil {
		if _, errSync := syncer.SyncOnce(ctx); errSync != nil {
			log.WithError(errSync).Warn("initial catalog sync failed")
		}
		syncer.Start(ctx)
	}

	jwtCfg, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return err
	}
	if jwtCfg.Secret == "" {
		return errors.New("jwt secret is required (set jwt.secret or JWT_SECRET)")
	}

	gatewayCfg, err := config.LoadGatewayConfig(configPath)
	if err != nil {
		return err
	}
	if gatewayCfg.WebhookSecret == "" {
		log.Warn("gateway webhook secret is empty; webhooks will be rejected")
	}

	dispatcher, closeNotify, err := buildDispatcher(configPath, conn)
	if err != nil {
		return err
	}
	defer closeNotify()

	limiter := ratelimit.NewManager()
	defer func() {
		if errClose := limiter.Close(); errClose != nil {
			log.WithError(errClose).Warn("rate limit: close redis client")
		}
	}()

	svc := &api.Services{
		DB:            conn,
		JWT:           jwtCfg,
		Subscriptions: entitlement.NewLedger(conn),
		Reconciler:    reconcile.New(conn, gateway.NewRazorpay(gatewayCfg), dispatcher, gatewayCfg),
		Refunds:       refund.NewEngine(conn, dispatcher),
		Meter:         metering.NewMeter(conn).WithLocation(loc),
		Analytics:     analytics.NewService(conn),
		Limiter:       limiter,
	}

	if logCfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := NewEngine(svc)

	addr := fmt.Sprintf("%s:%d", serverCfg.Host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting billing api on %s (config=%s)", addr, configPath)
		if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errCh <- errListen
		}
		close(errCh)
	}()

	select {
	case errListen := <-errCh:
		return errListen
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		log.Errorf("server shutdown error: %v", errShutdown)
		return errShutdown
	}
	log.Info("billing api stopped")
	return nil
}

// NewEngine builds the gin engine with every route group registered.
func NewEngine(svc *api.Services) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	admin.RegisterAdminRoutes(engine, svc)
	front.RegisterFrontRoutes(engine, svc)
	webhooks.RegisterWebhookRoutes(engine, svc)
	return engine
}

// buildDispatcher wires the database sink and, when configured, the NATS sink.
// A NATS connection failure is logged and notifications fall back to the
// database sink alone.
func buildDispatcher(configPath string, conn *gorm.DB) (*notify.Dispatcher, func(), error) {
	notifyCfg, err := config.LoadNotifyConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	sinks := []notify.Sink{notify.NewDBSink(conn)}
	var natsSink *notify.NATSSink
	if notifyCfg.NATSURL != "" {
		natsSink, err = notify.DialNATS(notifyCfg.NATSURL, notifyCfg.Subject, notifyCfg.Timeout)
		if err != nil {
			log.WithError(err).Warn("notifications will not be published to nats")
		} else {
			sinks = append(sinks, natsSink)
		}
	}
	dispatcher := notify.NewDispatcher(notifyCfg, sinks...)
	closeFn := func() {
		dispatcher.Wait()
		if natsSink != nil {
			if errClose := natsSink.Close(); errClose != nil {
				log.WithError(errClose).Warn("close nats sink")
			}
		}
	}
	return dispatcher, closeFn, nil
}
