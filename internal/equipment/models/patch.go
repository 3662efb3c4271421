package models

import (
	"encoding/json"
	"strings"
	"time"

	dErrors "caltrack/pkg/domain-errors"
)

// Derived fields may never be written through an update patch; the engine
// owns them. Attempting to set one fails the whole patch.
var derivedFields = map[string]struct{}{
	"status":               {},
	"restricted":           {},
	"manual_hold":          {},
	"qualification_status": {},
	"calibration_due_at":   {},
	"last_calibration_at":  {},
	"pm_due_at":            {},
	"retired_at":           {},
	"created_at":           {},
	"updated_at":           {},
	"id":                   {},
	"asset_tag":            {}, // immutable identity
}

// UpdatePatch carries the caller-writable equipment fields. Nil pointers
// mean "leave unchanged".
type UpdatePatch struct {
	Name                    *string      `json:"name,omitempty"`
	Criticality             *Criticality `json:"criticality,omitempty"`
	CalibrationIntervalDays *int         `json:"calibration_interval_days,omitempty"`
	PMIntervalDays          *int         `json:"pm_interval_days,omitempty"`
	UsageHoursPerWeek       *int         `json:"usage_hours_per_week,omitempty"`
}

// ParsePatch decodes raw patch JSON, rejecting derived or unknown fields
// before any value is interpreted.
func ParsePatch(raw []byte) (UpdatePatch, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return UpdatePatch{}, dErrors.New(dErrors.CodeBadRequest, "patch body is not a JSON object")
	}
	for k := range keys {
		if _, derived := derivedFields[k]; derived {
			return UpdatePatch{}, dErrors.Newf(dErrors.CodeInvalidField, "field %q is derived and cannot be set directly", k)
		}
	}

	var patch UpdatePatch
	if err := json.Unmarshal(raw, &patch); err != nil {
		return UpdatePatch{}, dErrors.New(dErrors.CodeBadRequest, "patch body has malformed values")
	}
	return patch, nil
}

// Validate checks patch values without applying them.
func (p UpdatePatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name must not be empty")
	}
	if p.Criticality != nil && !p.Criticality.Valid() {
		return dErrors.New(dErrors.CodeValidation, "unknown criticality")
	}
	if p.CalibrationIntervalDays != nil && *p.CalibrationIntervalDays <= 0 {
		return dErrors.New(dErrors.CodeValidation, "calibration interval must be positive")
	}
	if p.PMIntervalDays != nil && *p.PMIntervalDays < 0 {
		return dErrors.New(dErrors.CodeValidation, "pm interval must not be negative")
	}
	if p.UsageHoursPerWeek != nil && (*p.UsageHoursPerWeek < 0 || *p.UsageHoursPerWeek > 168) {
		return dErrors.New(dErrors.CodeValidation, "usage hours per week out of range")
	}
	return nil
}

// Apply writes the patch onto the equipment. Validate first.
func (p UpdatePatch) Apply(e *Equipment, now time.Time) {
	if p.Name != nil {
		e.Name = strings.TrimSpace(*p.Name)
	}
	if p.Criticality != nil {
		e.Criticality = *p.Criticality
	}
	if p.CalibrationIntervalDays != nil {
		e.CalibrationIntervalDays = *p.CalibrationIntervalDays
	}
	if p.PMIntervalDays != nil {
		e.PMIntervalDays = *p.PMIntervalDays
	}
	if p.UsageHoursPerWeek != nil {
		e.UsageHoursPerWeek = *p.UsageHoursPerWeek
	}
	e.UpdatedAt = now
}
