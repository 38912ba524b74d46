package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/db"
	"github.com/oelp-platform/billing/internal/models"
	internalsettings "github.com/oelp-platform/billing/internal/settings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SettingHandler manages runtime settings. Every write reloads the shared
// snapshot so limiter and fallback-plan readers see it at once.
type SettingHandler struct {
	db *gorm.DB // Database handle for settings.
}

// NewSettingHandler constructs a settings handler.
func NewSettingHandler(db *gorm.DB) *SettingHandler {
	return &SettingHandler{db: db}
}

// settingRequest captures a setting write.
type settingRequest struct {
	Key   string          `json:"key"`   // Setting key, create only.
	Value json.RawMessage `json:"value"` // JSON value payload.
}

// invalidSetting is a value rejection reported back to the caller.
type invalidSetting string

func (e invalidSetting) Error() string { return string(e) }

// settingCheck validates a value for a known key.
type settingCheck func(ctx context.Context, conn *gorm.DB, value json.RawMessage) error

func nonNegativeInt(_ context.Context, _ *gorm.DB, value json.RawMessage) error {
	if _, ok := internalsettings.ParseNonNegativeInt(value); !ok {
		return invalidSetting("value must be a non-negative integer")
	}
	return nil
}

func boolean(_ context.Context, _ *gorm.DB, value json.RawMessage) error {
	if _, ok := internalsettings.ParseBool(value); !ok {
		return invalidSetting("value must be a boolean")
	}
	return nil
}

func text(_ context.Context, _ *gorm.DB, value json.RawMessage) error {
	if _, ok := internalsettings.ParseString(value); !ok {
		return invalidSetting("value must be a string")
	}
	return nil
}

// existingPlanName rejects fallback plan names the catalog cannot resolve.
func existingPlanName(ctx context.Context, conn *gorm.DB, value json.RawMessage) error {
	name, ok := internalsettings.ParseString(value)
	if !ok || name == "" {
		return invalidSetting("value must be a plan name")
	}
	if _, errPlan := catalog.PlanByName(ctx, conn, name); errPlan != nil {
		if billing.IsNotFound(errPlan) {
			return invalidSetting(fmt.Sprintf("plan %q does not exist", name))
		}
		return errPlan
	}
	return nil
}

// settingChecks lists the keys the service reads. Unknown keys are stored unchecked.
var settingChecks = map[string]settingCheck{
	internalsettings.RateLimitKey:              nonNegativeInt,
	internalsettings.RateLimitRedisDBKey:       nonNegativeInt,
	internalsettings.FallbackPlanDaysKey:       nonNegativeInt,
	internalsettings.RateLimitRedisEnabledKey:  boolean,
	internalsettings.RateLimitRedisAddrKey:     text,
	internalsettings.RateLimitRedisPasswordKey: text,
	internalsettings.RateLimitRedisPrefixKey:   text,
	internalsettings.FreePlanNameKey:           existingPlanName,
}

// checkValue runs the check registered for key. Failures the caller can fix
// are invalidSetting errors.
func (h *SettingHandler) checkValue(ctx context.Context, key string, value json.RawMessage) error {
	if len(value) == 0 {
		return invalidSetting("value is required")
	}
	check, ok := settingChecks[key]
	if !ok {
		return nil
	}
	return check(ctx, h.db, value)
}

// Create inserts a new setting.
func (h *SettingHandler) Create(c *gin.Context) {
	var body settingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	key := strings.TrimSpace(body.Key)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	if !h.validate(c, key, body.Value) {
		return
	}

	setting := models.Setting{Key: key, Value: datatypes.JSON(body.Value), UpdatedAt: time.Now().UTC()}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&setting).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusConflict, gin.H{"error": "key already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create setting failed"})
		return
	}
	if !h.refresh(c) {
		return
	}
	c.JSON(http.StatusCreated, formatSetting(&setting))
}

// List returns all settings sorted by key.
func (h *SettingHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Order("key ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatSetting(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

// Get returns a setting by key.
func (h *SettingHandler) Get(c *gin.Context) {
	setting, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, formatSetting(setting))
}

// Update replaces the value of an existing setting.
func (h *SettingHandler) Update(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	var body settingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !h.validate(c, key, body.Value) {
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Setting{}).Where("key = ?", key).
		Updates(map[string]any{"value": datatypes.JSON(body.Value), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if !h.refresh(c) {
		return
	}
	if setting, ok := h.load(c); ok {
		c.JSON(http.StatusOK, formatSetting(setting))
	}
}

// Delete removes a setting so readers fall back to the built-in default.
func (h *SettingHandler) Delete(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	res := h.db.WithContext(c.Request.Context()).Where("key = ?", key).Delete(&models.Setting{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if !h.refresh(c) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SettingHandler) validate(c *gin.Context, key string, value json.RawMessage) bool {
	errCheck := h.checkValue(c.Request.Context(), key, value)
	if errCheck == nil {
		return true
	}
	var invalid invalidSetting
	if errors.As(errCheck, &invalid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errCheck.Error()})
	} else {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "validate setting failed"})
	}
	return false
}

func (h *SettingHandler) load(c *gin.Context) (*models.Setting, bool) {
	key := strings.TrimSpace(c.Param("key"))
	var setting models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Where("key = ?", key).Take(&setting).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &setting, true
}

func (h *SettingHandler) refresh(c *gin.Context) bool {
	if errRefresh := internalsettings.Refresh(c.Request.Context(), h.db); errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh settings snapshot failed"})
		return false
	}
	return true
}

// formatSetting formats a setting row into response JSON.
func formatSetting(s *models.Setting) gin.H {
	return gin.H{
		"key":        s.Key,
		"value":      json.RawMessage(s.Value),
		"updated_at": s.UpdatedAt,
	}
}
