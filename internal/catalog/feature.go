package catalog

import (
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors for catalog operations
var (
	// ErrConfig marks a catalog definition that violates an integrity rule.
	// It is fatal at startup and is never produced after a catalog has loaded.
	ErrConfig              = errors.New("catalog configuration error")
	ErrFeatureNotFound     = errors.New("feature not found")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrInvalidBillingCycle = errors.New("invalid billing cycle")
)

// Category groups features for display.
type Category string

const (
	CategoryInterviews    Category = "interviews"
	CategoryAssessments   Category = "assessments"
	CategoryAI            Category = "ai"
	CategoryAnalytics     Category = "analytics"
	CategoryIntegrations  Category = "integrations"
	CategoryCollaboration Category = "collaboration"
	CategoryBranding      Category = "branding"
	CategoryCompliance    Category = "compliance"
)

var validCategories = []Category{
	CategoryInterviews,
	CategoryAssessments,
	CategoryAI,
	CategoryAnalytics,
	CategoryIntegrations,
	CategoryCollaboration,
	CategoryBranding,
	CategoryCompliance,
}

// Maturity describes how far along a feature is.
type Maturity string

const (
	MaturityInternal Maturity = "internal"
	MaturityBeta     Maturity = "beta"
	MaturityGeneral  Maturity = "general"
)

// Availability is the lowest tier a feature is sold to.
type Availability string

const (
	AvailabilityGlobal     Availability = "global"
	AvailabilityBusiness   Availability = "business"
	AvailabilityEnterprise Availability = "enterprise"
)

// Feature is a single entry in the feature catalog.
type Feature struct {
	ID           string       `yaml:"id" json:"id"`
	Name         string       `yaml:"name" json:"name"`
	Description  string       `yaml:"description" json:"description"`
	Category     Category     `yaml:"category" json:"category"`
	Maturity     Maturity     `yaml:"maturity" json:"maturity"`
	Availability Availability `yaml:"availability" json:"availability"`

	// DependsOn lists alternative prerequisites; any one enabled satisfies the feature.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

func (f Feature) clone() Feature {
	f.DependsOn = slices.Clone(f.DependsOn)
	return f
}

// FeatureCatalog is the immutable registry of known features.
// It is safe for concurrent use since it is never mutated after LoadFeatures returns.
type FeatureCatalog struct {
	features []Feature
	index    map[string]int
}

// LoadFeatures validates the definitions and builds a catalog preserving declaration order.
// Any integrity violation returns an error wrapping ErrConfig and a nil catalog.
func LoadFeatures(defs []Feature) (*FeatureCatalog, error) {
	c := &FeatureCatalog{
		features: make([]Feature, 0, len(defs)),
		index:    make(map[string]int, len(defs)),
	}

	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("%w: feature with empty id", ErrConfig)
		}
		if _, exists := c.index[def.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate feature id %q", ErrConfig, def.ID)
		}
		if !slices.Contains(validCategories, def.Category) {
			return nil, fmt.Errorf("%w: feature %q has unknown category %q", ErrConfig, def.ID, def.Category)
		}
		switch def.Maturity {
		case MaturityInternal, MaturityBeta, MaturityGeneral:
		default:
			return nil, fmt.Errorf("%w: feature %q has unknown maturity %q", ErrConfig, def.ID, def.Maturity)
		}
		switch def.Availability {
		case AvailabilityGlobal, AvailabilityBusiness, AvailabilityEnterprise:
		default:
			return nil, fmt.Errorf("%w: feature %q has unknown availability %q", ErrConfig, def.ID, def.Availability)
		}

		c.index[def.ID] = len(c.features)
		c.features = append(c.features, def.clone())
	}

	// Dependencies are checked once every id is known so forward references are allowed.
	for _, f := range c.features {
		seen := make(map[string]struct{}, len(f.DependsOn))
		for _, dep := range f.DependsOn {
			if dep == f.ID {
				return nil, fmt.Errorf("%w: feature %q depends on itself", ErrConfig, f.ID)
			}
			if _, ok := c.index[dep]; !ok {
				return nil, fmt.Errorf("%w: feature %q depends on unknown feature %q", ErrConfig, f.ID, dep)
			}
			if _, dup := seen[dep]; dup {
				return nil, fmt.Errorf("%w: feature %q lists dependency %q twice", ErrConfig, f.ID, dep)
			}
			seen[dep] = struct{}{}
		}
	}

	return c, nil
}

// Get returns the feature with the given id.
func (c *FeatureCatalog) Get(id string) (Feature, error) {
	i, ok := c.index[id]
	if !ok {
		return Feature{}, fmt.Errorf("%w: %q", ErrFeatureNotFound, id)
	}
	return c.features[i].clone(), nil
}

// Has reports whether id is a known feature.
func (c *FeatureCatalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// All returns every feature in declaration order. Each call returns a fresh copy.
func (c *FeatureCatalog) All() []Feature {
	out := make([]Feature, len(c.features))
	for i, f := range c.features {
		out[i] = f.clone()
	}
	return out
}

// IDs returns the feature ids in declaration order.
func (c *FeatureCatalog) IDs() []string {
	ids := make([]string, len(c.features))
	for i, f := range c.features {
		ids[i] = f.ID
	}
	return ids
}

// Len returns the number of features.
func (c *FeatureCatalog) Len() int {
	return len(c.features)
}
