package models

import "time"

// Status is the displayed lifecycle state of an equipment record. It is
// always derived from persisted fields plus wall-clock time; callers never
// set it directly.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusDue        Status = "due"
	StatusOverdue    Status = "overdue"
	StatusRestricted Status = "restricted"
	StatusRetired    Status = "retired"
)

// DefaultDueWindowDays is how far ahead of the due date equipment shows
// as "due" when no override is configured.
const DefaultDueWindowDays = 7

// ResolveStatus derives the display status. Precedence, first match wins:
//
//	retired > restricted > draft > overdue > due > active
//
// Pure and deterministic for a given (equipment, now, window); it must be
// re-run on every read because it depends on wall-clock time. Equipment
// with no due date yet (freshly qualified records before their first
// schedule) resolves as active.
func ResolveStatus(e *Equipment, now time.Time, dueWindowDays int) Status {
	if e.RetiredAt != nil {
		return StatusRetired
	}
	if e.Restricted {
		return StatusRestricted
	}
	if !e.Qualified() {
		return StatusDraft
	}
	if e.CalibrationDueAt == nil {
		return StatusActive
	}
	if e.CalibrationDueAt.Before(now) {
		return StatusOverdue
	}
	if dueWindowDays <= 0 {
		dueWindowDays = DefaultDueWindowDays
	}
	window := time.Duration(dueWindowDays) * 24 * time.Hour
	if e.CalibrationDueAt.Sub(now) <= window {
		return StatusDue
	}
	return StatusActive
}
