package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/http/api"
	handlers "github.com/oelp-platform/billing/internal/http/api/admin/handlers"
	"github.com/oelp-platform/billing/internal/http/api/admin/permissions"
	"github.com/oelp-platform/billing/internal/http/api/middleware"
	"github.com/oelp-platform/billing/internal/metrics"
)

// RegisterAdminRoutes registers health, metrics and admin routes.
func RegisterAdminRoutes(r *gin.Engine, svc *api.Services) {
	if r == nil || svc == nil || svc.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(svc.DB)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", metrics.Handler())

	authed := r.Group("/v0/admin")
	authed.Use(middleware.Authenticate(svc.JWT.Secret))
	authed.Use(adminAuthorizeMiddleware())

	analyticsHandler := handlers.NewAnalyticsHandler(svc.Analytics)
	authed.GET("/analytics", analyticsHandler.Report)
	authed.GET("/refunds/summary", analyticsHandler.RefundSummary)

	transactionHandler := handlers.NewTransactionHandler(svc.DB)
	authed.GET("/transactions", transactionHandler.List)
	authed.GET("/transactions/:id", transactionHandler.Get)

	planHandler := handlers.NewPlanHandler(svc.DB)
	authed.POST("/plans", planHandler.Create)
	authed.GET("/plans", planHandler.List)
	authed.GET("/plans/:id", planHandler.Get)
	authed.PUT("/plans/:id", planHandler.Update)
	authed.DELETE("/plans/:id", planHandler.Delete)
	authed.POST("/plans/:id/enable", planHandler.Enable)
	authed.POST("/plans/:id/disable", planHandler.Disable)

	refundPolicyHandler := handlers.NewRefundPolicyHandler(svc.DB)
	authed.POST("/refund-policies", refundPolicyHandler.Create)
	authed.GET("/refund-policies", refundPolicyHandler.List)
	authed.PUT("/refund-policies/:id", refundPolicyHandler.Update)
	authed.DELETE("/refund-policies/:id", refundPolicyHandler.Delete)

	settingHandler := handlers.NewSettingHandler(svc.DB)
	authed.POST("/settings", settingHandler.Create)
	authed.GET("/settings", settingHandler.List)
	authed.GET("/settings/:key", settingHandler.Get)
	authed.PUT("/settings/:key", settingHandler.Update)
	authed.DELETE("/settings/:key", settingHandler.Delete)

	permissionHandler := handlers.NewPermissionHandler()
	authed.GET("/permissions", permissionHandler.List)
}

// adminAuthorizeMiddleware checks the caller's role tags against the route's
// permission definition.
func adminAuthorizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !permissions.Allowed(middleware.Claims(c), c.Request.Method, c.FullPath()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}
