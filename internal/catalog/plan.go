package catalog

import (
	"fmt"
	"slices"
)

// PlanID identifies a subscription tier.
type PlanID string

const (
	PlanStarter      PlanID = "starter"
	PlanProfessional PlanID = "professional"
	PlanEnterprise   PlanID = "enterprise"
)

// Valid reports whether p is one of the known plan tiers.
func (p PlanID) Valid() bool {
	switch p {
	case PlanStarter, PlanProfessional, PlanEnterprise:
		return true
	}
	return false
}

func (p PlanID) String() string {
	return string(p)
}

// BillingCycle selects which price of a plan applies.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// Plan maps a tier to its prices (in cents) and default feature set.
type Plan struct {
	ID           PlanID   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	MonthlyPrice int64    `yaml:"monthly_price" json:"monthly_price"`
	AnnualPrice  int64    `yaml:"annual_price" json:"annual_price"`
	Features     []string `yaml:"features" json:"features"`
}

// PlanCatalog is the immutable registry of plans.
type PlanCatalog struct {
	plans    []Plan
	defaults map[PlanID]map[string]struct{}
}

// LoadPlans validates plan definitions against the feature catalog.
// A plan may include a feature without its dependencies; that surfaces as a warning at
// resolution time, not here.
func LoadPlans(features *FeatureCatalog, defs []Plan) (*PlanCatalog, error) {
	if features == nil {
		return nil, fmt.Errorf("%w: feature catalog is required", ErrConfig)
	}

	c := &PlanCatalog{
		plans:    make([]Plan, 0, len(defs)),
		defaults: make(map[PlanID]map[string]struct{}, len(defs)),
	}

	for _, def := range defs {
		if !def.ID.Valid() {
			return nil, fmt.Errorf("%w: unknown plan id %q", ErrConfig, def.ID)
		}
		if _, exists := c.defaults[def.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate plan id %q", ErrConfig, def.ID)
		}
		if def.MonthlyPrice < 0 || def.AnnualPrice < 0 {
			return nil, fmt.Errorf("%w: plan %q has a negative price", ErrConfig, def.ID)
		}

		set := make(map[string]struct{}, len(def.Features))
		for _, id := range def.Features {
			if !features.Has(id) {
				return nil, fmt.Errorf("%w: plan %q references unknown feature %q", ErrConfig, def.ID, id)
			}
			set[id] = struct{}{}
		}

		def.Features = slices.Clone(def.Features)
		c.plans = append(c.plans, def)
		c.defaults[def.ID] = set
	}

	return c, nil
}

// DefaultsFor returns the set of feature ids enabled by default on the plan.
func (c *PlanCatalog) DefaultsFor(id PlanID) (map[string]bool, error) {
	set, ok := c.defaults[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}

	out := make(map[string]bool, len(set))
	for f := range set {
		out[f] = true
	}
	return out, nil
}

// Includes reports whether the plan enables feature by default.
func (c *PlanCatalog) Includes(id PlanID, feature string) (bool, error) {
	set, ok := c.defaults[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	_, in := set[feature]
	return in, nil
}

// Price returns the plan price in cents for the billing cycle.
func (c *PlanCatalog) Price(id PlanID, cycle BillingCycle) (int64, error) {
	p, err := c.Get(id)
	if err != nil {
		return 0, err
	}

	switch cycle {
	case CycleMonthly:
		return p.MonthlyPrice, nil
	case CycleAnnual:
		return p.AnnualPrice, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidBillingCycle, cycle)
	}
}

// Get returns a copy of the plan definition.
func (c *PlanCatalog) Get(id PlanID) (Plan, error) {
	for _, p := range c.plans {
		if p.ID == id {
			p.Features = slices.Clone(p.Features)
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
}

// All returns the plans in declaration order.
func (c *PlanCatalog) All() []Plan {
	out := make([]Plan, len(c.plans))
	for i, p := range c.plans {
		p.Features = slices.Clone(p.Features)
		out[i] = p
	}
	return out
}
