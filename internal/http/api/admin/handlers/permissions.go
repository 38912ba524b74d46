package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/http/api/admin/permissions"
	"github.com/oelp-platform/billing/internal/http/api/middleware"
)

// PermissionHandler lists admin route permissions.
type PermissionHandler struct{}

// NewPermissionHandler constructs a PermissionHandler.
func NewPermissionHandler() *PermissionHandler {
	return &PermissionHandler{}
}

// List returns every admin route with its roles and whether the caller may use it.
func (h *PermissionHandler) List(c *gin.Context) {
	claims := middleware.Claims(c)
	defs := permissions.Definitions()
	out := make([]gin.H, 0, len(defs))
	for _, def := range defs {
		out = append(out, gin.H{
			"key":     def.Key,
			"method":  def.Method,
			"path":    def.Path,
			"label":   def.Label,
			"module":  def.Module,
			"roles":   def.Roles,
			"allowed": claims.HasAnyRole(def.Roles...),
		})
	}
	c.JSON(http.StatusOK, gin.H{"permissions": out})
}
