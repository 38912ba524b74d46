package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type filePayload struct {
	Plans          []planPayload   `yaml:"plans" validate:"dive"`
	RefundPolicies []policyPayload `yaml:"refund-policies" validate:"dive"`
}

type planPayload struct {
	Name         string           `yaml:"name" validate:"required,max=255"`
	Type         string           `yaml:"type" validate:"required,oneof=main topup enterprise free"`
	Price        string           `yaml:"price" validate:"required"`
	DurationDays int              `yaml:"duration-days" validate:"gt=0"`
	Description  string           `yaml:"description"`
	SortOrder    int              `yaml:"sort-order"`
	RateLimit    int              `yaml:"rate-limit" validate:"gte=0"`
	Disabled     bool             `yaml:"disabled"`
	Features     []featurePayload `yaml:"features" validate:"dive"`
}

type featurePayload struct {
	Name         string `yaml:"name" validate:"required,max=255"`
	MaxCount     int    `yaml:"max-count" validate:"gte=0"`
	DurationDays int    `yaml:"duration-days" validate:"gte=0"`
}

type policyPayload struct {
	PlanType          string `yaml:"plan-type" validate:"required,oneof=main topup enterprise free"`
	Percentage        string `yaml:"percentage" validate:"required"`
	DaysAfterPurchase int    `yaml:"days-after-purchase" validate:"gte=0"`
}

// Definition is a parsed catalog file.
type Definition struct {
	Plans          []models.Plan
	RefundPolicies []models.RefundPolicy
}

// Parse converts a YAML catalog document into plan and policy rows.
func Parse(data []byte) (Definition, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Definition{}, fmt.Errorf("parse catalog: empty payload")
	}

	var payload filePayload
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return Definition{}, fmt.Errorf("parse catalog: decode: %w", err)
	}
	if err := validate.Struct(payload); err != nil {
		return Definition{}, fmt.Errorf("parse catalog: %w", err)
	}

	var def Definition
	seenPlans := make(map[string]struct{}, len(payload.Plans))
	for _, p := range payload.Plans {
		name := strings.TrimSpace(p.Name)
		key := strings.ToLower(name)
		if _, dup := seenPlans[key]; dup {
			return Definition{}, fmt.Errorf("parse catalog: duplicate plan %q", name)
		}
		seenPlans[key] = struct{}{}

		price, err := decimal.NewFromString(strings.TrimSpace(p.Price))
		if err != nil {
			return Definition{}, fmt.Errorf("parse catalog: plan %q price: %w", name, err)
		}
		if price.IsNegative() {
			return Definition{}, fmt.Errorf("parse catalog: plan %q price must not be negative", name)
		}

		plan := models.Plan{
			Name:         name,
			Type:         models.PlanType(p.Type),
			Price:        price.Round(2),
			DurationDays: p.DurationDays,
			Description:  strings.TrimSpace(p.Description),
			SortOrder:    p.SortOrder,
			RateLimit:    p.RateLimit,
			IsEnabled:    !p.Disabled,
		}

		seenFeatures := make(map[string]struct{}, len(p.Features))
		for _, f := range p.Features {
			featureName := strings.TrimSpace(f.Name)
			if _, dup := seenFeatures[featureName]; dup {
				return Definition{}, fmt.Errorf("parse catalog: plan %q duplicate feature %q", name, featureName)
			}
			seenFeatures[featureName] = struct{}{}
			duration := f.DurationDays
			if duration <= 0 {
				duration = 1
			}
			plan.Features = append(plan.Features, models.PlanFeature{
				FeatureName:  featureName,
				MaxCount:     f.MaxCount,
				DurationDays: duration,
			})
		}
		def.Plans = append(def.Plans, plan)
	}

	seenPolicies := make(map[string]struct{}, len(payload.RefundPolicies))
	for _, rp := range payload.RefundPolicies {
		if _, dup := seenPolicies[rp.PlanType]; dup {
			return Definition{}, fmt.Errorf("parse catalog: duplicate refund policy for %q", rp.PlanType)
		}
		seenPolicies[rp.PlanType] = struct{}{}

		pct, err := decimal.NewFromString(strings.TrimSpace(rp.Percentage))
		if err != nil {
			return Definition{}, fmt.Errorf("parse catalog: refund policy %q percentage: %w", rp.PlanType, err)
		}
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return Definition{}, fmt.Errorf("parse catalog: refund policy %q percentage out of range", rp.PlanType)
		}
		def.RefundPolicies = append(def.RefundPolicies, models.RefundPolicy{
			PlanType:          models.PlanType(rp.PlanType),
			RefundPercentage:  pct.Round(2),
			DaysAfterPurchase: rp.DaysAfterPurchase,
		})
	}

	sort.SliceStable(def.Plans, func(i, j int) bool {
		if def.Plans[i].SortOrder != def.Plans[j].SortOrder {
			return def.Plans[i].SortOrder < def.Plans[j].SortOrder
		}
		return def.Plans[i].Name < def.Plans[j].Name
	})
	return def, nil
}
