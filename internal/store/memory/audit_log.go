package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/entitlements/internal/models"
)

// AuditLog implements store.AuditLog using an in-memory slice.
// Entries are kept in append order, which is also creation order.
type AuditLog struct {
	mu sync.RWMutex

	entries []*models.AuditEntry
	ids     map[uuid.UUID]struct{}
}

// NewAuditLog creates a new in-memory audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{ids: make(map[uuid.UUID]struct{})}
}

// Append records an entry, assigning its ID and timestamp when unset.
// An entry whose ID was already appended is ignored.
func (l *AuditLog) Append(ctx context.Context, entry *models.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if entry.AuditID == uuid.Nil {
		entry.AuditID = uuid.Must(uuid.NewV7())
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	clone := *entry

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[clone.AuditID]; ok {
		return nil
	}
	l.ids[clone.AuditID] = struct{}{}
	l.entries = append(l.entries, &clone)

	return nil
}

// ListByOrg returns entries for an organization, newest first.
func (l *AuditLog) ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*models.AuditEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].OrgID != orgID {
			continue
		}
		clone := *l.entries[i]
		result = append(result, &clone)
		if limit > 0 && len(result) == limit {
			break
		}
	}

	return result, nil
}
