package entitlement

import (
	"slices"

	"github.com/wolfeidau/entitlements/internal/catalog"
)

// EffectiveFeatureMap holds the resolved on/off value of every catalog feature for one organization.
// It is derived on each call and never cached.
type EffectiveFeatureMap map[string]bool

// UnmetDependency flags an enabled feature none of whose prerequisites are enabled.
type UnmetDependency struct {
	FeatureID string   `json:"feature_id"`
	Missing   []string `json:"missing"`
}

// Validator reports unmet feature dependencies. Dependencies are alternatives: a feature is
// satisfied when any one of its DependsOn entries is enabled.
type Validator struct {
	features *catalog.FeatureCatalog
}

// NewValidator creates a validator over the given catalog.
func NewValidator(features *catalog.FeatureCatalog) *Validator {
	return &Validator{features: features}
}

// UnmetDependencies returns warnings in catalog declaration order. It never fails and has no
// side effects; unmet dependencies are advisory only.
func (v *Validator) UnmetDependencies(m EffectiveFeatureMap) []UnmetDependency {
	var unmet []UnmetDependency

	for _, f := range v.features.All() {
		if !m[f.ID] || len(f.DependsOn) == 0 {
			continue
		}

		satisfied := slices.ContainsFunc(f.DependsOn, func(dep string) bool {
			return m[dep]
		})
		if satisfied {
			continue
		}

		unmet = append(unmet, UnmetDependency{
			FeatureID: f.ID,
			Missing:   f.DependsOn,
		})
	}

	return unmet
}
