package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/http/api/respond"
	"github.com/oelp-platform/billing/internal/ledger"
	"github.com/oelp-platform/billing/internal/models"
	"gorm.io/gorm"
)

// Page size bounds for admin ledger listings.
const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// TransactionHandler exposes the ledger to operators.
type TransactionHandler struct {
	db *gorm.DB // Database handle for the ledger.
}

// NewTransactionHandler constructs a TransactionHandler.
func NewTransactionHandler(db *gorm.DB) *TransactionHandler {
	return &TransactionHandler{db: db}
}

// List returns ledger rows newest first.
func (h *TransactionHandler) List(c *gin.Context) {
	filter, ok := parseLedgerFilter(c)
	if !ok {
		return
	}
	filter.Status = models.TransactionStatus(strings.TrimSpace(c.Query("status")))
	filter.Kind = models.TransactionKind(strings.TrimSpace(c.Query("transaction_type")))

	page, errPage := strconv.Atoi(c.DefaultQuery("page", "1"))
	if errPage != nil || page < 1 {
		page = 1
	}
	pageSize, errSize := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if errSize != nil || pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	rows, total, errList := ledger.List(c.Request.Context(), h.db, filter, pageSize, (page-1)*pageSize)
	if errList != nil {
		respond.Error(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatTransaction(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": out,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
	})
}

// Get returns one ledger row.
func (h *TransactionHandler) Get(c *gin.Context) {
	id, ok := respond.ParseID(c, "id")
	if !ok {
		return
	}
	row, errGet := ledger.Get(c.Request.Context(), h.db, id)
	if errGet != nil {
		respond.Error(c, errGet)
		return
	}
	c.JSON(http.StatusOK, formatTransaction(row))
}

func queryUint(c *gin.Context, name string) (uint64, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	v, errParse := strconv.ParseUint(raw, 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func formatTransaction(t *models.Transaction) gin.H {
	out := gin.H{
		"id":                  t.ID,
		"subscriber_id":       t.SubscriberID,
		"plan_id":             t.PlanID,
		"plan_type":           t.PlanType,
		"amount":              t.Amount.StringFixed(2),
		"currency":            t.Currency,
		"status":              t.Status,
		"transaction_type":    t.Kind,
		"provider_order_id":   t.ProviderOrderID,
		"provider_payment_id": t.ProviderPaymentID,
		"refund_reason":       t.RefundReason,
		"refund_of_id":        t.RefundOfID,
		"policy_snapshot":     t.PolicySnapshot,
		"created_at":          t.CreatedAt,
		"updated_at":          t.UpdatedAt,
	}
	if t.Plan != nil {
		out["plan_name"] = t.Plan.Name
	}
	return out
}
