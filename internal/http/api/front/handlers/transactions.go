package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/http/api/middleware"
	"github.com/oelp-platform/billing/internal/http/api/respond"
	"github.com/oelp-platform/billing/internal/ledger"
	"github.com/oelp-platform/billing/internal/models"
	"gorm.io/gorm"
)

// Page size bounds for ledger listings.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TransactionFrontHandler lists the subscriber's own ledger rows.
type TransactionFrontHandler struct {
	db *gorm.DB
}

// NewTransactionFrontHandler constructs a TransactionFrontHandler.
func NewTransactionFrontHandler(db *gorm.DB) *TransactionFrontHandler {
	return &TransactionFrontHandler{db: db}
}

// List returns the subscriber's transactions, newest first.
func (h *TransactionFrontHandler) List(c *gin.Context) {
	page, pageSize := pagination(c)
	filter := ledger.Filter{
		SubscriberID: middleware.SubscriberID(c),
		Status:       models.TransactionStatus(strings.TrimSpace(c.Query("status"))),
		Kind:         models.TransactionKind(strings.TrimSpace(c.Query("transaction_type"))),
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

func pagination(c *gin.Context) (int, int) {
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
	return page, pageSize
}
