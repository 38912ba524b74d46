package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PlanType classifies a plan for upgrade rules and refund policy lookup.
type PlanType string

// PlanType constants define the catalog plan families.
const (
	// PlanTypeMain is a primary subscription plan.
	PlanTypeMain PlanType = "main"
	// PlanTypeTopup augments an active main plan.
	PlanTypeTopup PlanType = "topup"
	// PlanTypeEnterprise is a primary plan with extended entitlements.
	PlanTypeEnterprise PlanType = "enterprise"
	// PlanTypeFree is the zero-cost fallback family.
	PlanTypeFree PlanType = "free"
)

// Valid reports whether the plan type is one of the known families.
func (t PlanType) Valid() bool {
	switch t {
	case PlanTypeMain, PlanTypeTopup, PlanTypeEnterprise, PlanTypeFree:
		return true
	default:
		return false
	}
}

// Plan represents a catalog plan definition.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name         string          `gorm:"type:varchar(255);not null;uniqueIndex"`   // Unique plan name.
	Type         PlanType        `gorm:"type:varchar(32);not null;default:'main'"` // Plan family.
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`    // Price per term.
	DurationDays int             `gorm:"not null;default:30"`                      // Term length in days.
	Description  string          `gorm:"type:text"`                                // Plan description.

	SortOrder int `gorm:"not null;default:0"` // Display ordering weight.
	RateLimit int `gorm:"not null;default:0"` // Requests per second, 0 for unlimited.

	IsEnabled bool `gorm:"not null;default:true"` // Whether the plan can be acquired.

	Features []PlanFeature `gorm:"foreignKey:PlanID"` // Granted feature entitlements.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsFree reports whether the plan costs nothing.
func (p *Plan) IsFree() bool {
	if p == nil {
		return false
	}
	return p.Type == PlanTypeFree || !p.Price.IsPositive()
}

// IsTopup reports whether the plan is a top-up. Legacy rows are matched by name.
func (p *Plan) IsTopup() bool {
	if p == nil {
		return false
	}
	return p.Type == PlanTypeTopup || strings.Contains(strings.ToLower(p.Name), "topup")
}

// IsPrimary reports whether the plan satisfies the main-plan requirement of top-ups.
func (p *Plan) IsPrimary() bool {
	if p == nil || p.IsFree() {
		return false
	}
	return p.Type == PlanTypeMain || p.Type == PlanTypeEnterprise ||
		strings.Contains(strings.ToLower(p.Name), "mainplan")
}

// PlanFeature grants a metered feature to a plan.
type PlanFeature struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID      uint64 `gorm:"not null;uniqueIndex:idx_plan_features_plan_feature"`                   // Owning plan ID.
	FeatureName string `gorm:"type:varchar(255);not null;uniqueIndex:idx_plan_features_plan_feature"` // Feature name.

	MaxCount     int `gorm:"not null;default:0"` // Calls per window, 0 for unlimited.
	DurationDays int `gorm:"not null;default:1"` // Rollover window in days.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// RefundPolicy configures refunds for a plan type.
type RefundPolicy struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanType          PlanType        `gorm:"type:varchar(32);not null;uniqueIndex"` // Plan family the policy covers.
	RefundPercentage  decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`  // Refunded share, 0-100.
	DaysAfterPurchase int             `gorm:"not null;default:0"`                    // Eligibility window in days.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
