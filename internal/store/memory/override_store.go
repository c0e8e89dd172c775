package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/entitlements/internal/models"
)

// OverrideStore implements store.OverrideStore using in-memory storage.
// Upsert holds the write lock across the read of the previous value and the write,
// which gives the per-key atomicity the interface requires.
type OverrideStore struct {
	mu sync.RWMutex

	overrides map[uuid.UUID]map[string]*models.FeatureOverride // org_id -> feature_id -> override
}

// NewOverrideStore creates a new in-memory override store.
func NewOverrideStore() *OverrideStore {
	return &OverrideStore{
		overrides: make(map[uuid.UUID]map[string]*models.FeatureOverride),
	}
}

// Get returns the explicit overrides for an organization.
func (s *OverrideStore) Get(ctx context.Context, orgID uuid.UUID) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.overrides[orgID]
	out := make(map[string]bool, len(rows))
	for featureID, o := range rows {
		out[featureID] = o.Value
	}

	return out, nil
}

// Upsert sets the override and returns the value it replaced, if any.
func (s *OverrideStore) Upsert(ctx context.Context, orgID uuid.UUID, featureID string, value bool, actorID uuid.NullUUID) (*bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.overrides[orgID]
	if !ok {
		rows = make(map[string]*models.FeatureOverride)
		s.overrides[orgID] = rows
	}

	now := time.Now()

	existing, ok := rows[featureID]
	if !ok {
		rows[featureID] = &models.FeatureOverride{
			OrgID:     orgID,
			FeatureID: featureID,
			Value:     value,
			UpdatedBy: actorID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return nil, nil
	}

	previous := existing.Value
	existing.Value = value
	existing.UpdatedBy = actorID
	existing.UpdatedAt = now

	return &previous, nil
}

// List returns the override rows for an organization ordered by feature id.
func (s *OverrideStore) List(ctx context.Context, orgID uuid.UUID) ([]*models.FeatureOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.FeatureOverride, 0, len(s.overrides[orgID]))
	for _, o := range s.overrides[orgID] {
		// Clone to avoid external modifications
		clone := *o
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FeatureID < result[j].FeatureID
	})

	return result, nil
}
