package engine

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"shipgate.sh/core/warden/models"
)

// Record appends an audit entry for a state transition. The write is
// best-effort relative to the primary transition: sqlite busy errors are
// retried a few times, and a write that still fails is surfaced in logs
// but never blocks or fails the transition it describes.
func (e *Engine) Record(ctx context.Context, action, resourceType, resourceID, userID string, details map[string]string) {
	entry := models.AuditLogEntry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		UserID:       userID,
		Details:      details,
	}

	err := retry.Do(
		func() error {
			return e.db.AddAuditEntry(entry)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		e.l.Error("audit write failed",
			"action", action,
			"resourceType", resourceType,
			"resourceId", resourceID,
			"error", err,
		)
	}
}
