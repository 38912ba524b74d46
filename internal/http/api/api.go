// Package api bundles the services the HTTP route groups depend on.
package api

import (
	"github.com/oelp-platform/billing/internal/analytics"
	"github.com/oelp-platform/billing/internal/config"
	"github.com/oelp-platform/billing/internal/entitlement"
	"github.com/oelp-platform/billing/internal/metering"
	"github.com/oelp-platform/billing/internal/ratelimit"
	"github.com/oelp-platform/billing/internal/reconcile"
	"github.com/oelp-platform/billing/internal/refund"
	"gorm.io/gorm"
)

// Services holds the long-lived components built once at start-up.
type Services struct {
	DB            *gorm.DB
	JWT           config.JWTConfig
	Subscriptions *entitlement.Ledger
	Reconciler    *reconcile.Reconciler
	Refunds       *refund.Engine
	Meter         *metering.Meter
	Analytics     *analytics.Service
	Limiter       *ratelimit.Manager
}
