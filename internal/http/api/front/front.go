package front

import (
	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/http/api"
	handlers "github.com/oelp-platform/billing/internal/http/api/front/handlers"
	"github.com/oelp-platform/billing/internal/http/api/middleware"
)

// RegisterFrontRoutes registers subscriber-facing routes. Every route needs a
// bearer token and is rate limited per subscriber.
func RegisterFrontRoutes(r *gin.Engine, svc *api.Services) {
	if r == nil || svc == nil || svc.DB == nil {
		return
	}

	frontGroup := r.Group("/v0/front")
	frontGroup.Use(middleware.Authenticate(svc.JWT.Secret))
	frontGroup.Use(middleware.RateLimit(svc.Limiter, svc.DB))

	planHandler := handlers.NewPlanFrontHandler(svc.DB)
	frontGroup.GET("/plans", planHandler.List)

	subscriptionHandler := handlers.NewSubscriptionHandler(svc.Subscriptions, svc.Reconciler, svc.Refunds)
	frontGroup.GET("/subscriptions/current", subscriptionHandler.Current)
	frontGroup.POST("/subscriptions", subscriptionHandler.Create)
	frontGroup.GET("/subscriptions/:id/refund-info", subscriptionHandler.RefundInfo)
	frontGroup.POST("/subscriptions/:id/downgrade", subscriptionHandler.Downgrade)

	transactionHandler := handlers.NewTransactionFrontHandler(svc.DB)
	frontGroup.GET("/transactions", transactionHandler.List)

	paymentHandler := handlers.NewPaymentHandler(svc.Reconciler)
	frontGroup.POST("/payments/orders", paymentHandler.CreateOrder)
	frontGroup.POST("/payments/success", paymentHandler.Success)

	featureHandler := handlers.NewFeatureHandler(svc.Subscriptions, svc.Meter)
	frontGroup.GET("/features/:feature", featureHandler.Status)
	frontGroup.POST("/features/:feature/consume", featureHandler.Consume)
}
