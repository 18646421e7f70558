package models

import "errors"

// Error kinds surfaced by the SLA engine. Callers discriminate with errors.Is;
// details travel via fmt.Errorf wrapping.
var (
	// ErrNotFound signals a missing entity. Fatal only where the entity is
	// required (e.g. the schedule of a non-24x7 policy); optional lookups
	// such as escalation managers degrade gracefully.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration signals a malformed configuration, e.g. a schedule
	// with zero enabled minutes per week. Fatal to StartTracking.
	ErrConfiguration = errors.New("configuration error")

	// ErrConflict signals a transactional conflict on a tracking record.
	// All mutating operations are idempotent and safe to retry.
	ErrConflict = errors.New("concurrent modification")
)
