package entitlement

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/entitlements/internal/models"
)

// Sentinel errors for override writes
var (
	// ErrStoreWriteFailed means the override was not written; nothing changed.
	ErrStoreWriteFailed = errors.New("override store write failed")

	// ErrAuditWriteFailed means the override was committed but its audit entry was not.
	ErrAuditWriteFailed = errors.New("audit write failed")
)

// AuditWriteError reports a partial success: the override is committed and Entry is the
// audit record that could not be appended. Callers may retry it with Resolver.RetryAudit
// without re-applying the override.
type AuditWriteError struct {
	Entry *models.AuditEntry
	Err   error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("override for feature %q committed but audit entry was not written: %v", e.Entry.FeatureID, e.Err)
}

func (e *AuditWriteError) Unwrap() []error {
	return []error{ErrAuditWriteFailed, e.Err}
}
