// Package domain defines the typed identifiers shared across modules.
//
// Each entity gets its own UUID-backed type so the compiler rejects
// cross-entity ID mixups (passing a task ID where an equipment ID is
// expected, for example).
package domain

import (
	"github.com/google/uuid"

	dErrors "caltrack/pkg/domain-errors"
)

type EquipmentID uuid.UUID

type CalibrationTaskID uuid.UUID

type PMTaskID uuid.UUID

type InvestigationID uuid.UUID

func (id EquipmentID) String() string       { return uuid.UUID(id).String() }
func (id CalibrationTaskID) String() string { return uuid.UUID(id).String() }
func (id PMTaskID) String() string          { return uuid.UUID(id).String() }
func (id InvestigationID) String() string   { return uuid.UUID(id).String() }

func (id EquipmentID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id CalibrationTaskID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PMTaskID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id InvestigationID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// The typed IDs render as canonical UUID strings in JSON and logs.

func (id EquipmentID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id CalibrationTaskID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id PMTaskID) MarshalText() ([]byte, error)          { return []byte(id.String()), nil }
func (id InvestigationID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }

func (id *EquipmentID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = EquipmentID(u)
	return nil
}

func (id *CalibrationTaskID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = CalibrationTaskID(u)
	return nil
}

func (id *PMTaskID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = PMTaskID(u)
	return nil
}

func (id *InvestigationID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = InvestigationID(u)
	return nil
}

// NewEquipmentID generates a fresh equipment identifier.
func NewEquipmentID() EquipmentID { return EquipmentID(uuid.New()) }

func NewCalibrationTaskID() CalibrationTaskID { return CalibrationTaskID(uuid.New()) }

func NewPMTaskID() PMTaskID { return PMTaskID(uuid.New()) }

func NewInvestigationID() InvestigationID { return InvestigationID(uuid.New()) }

// ParseEquipmentID parses and validates an equipment ID from its string form.
// IDs must be valid, non-empty, non-nil UUIDs.
func ParseEquipmentID(s string) (EquipmentID, error) {
	u, err := parseUUID(s, "equipment id")
	return EquipmentID(u), err
}

func ParseCalibrationTaskID(s string) (CalibrationTaskID, error) {
	u, err := parseUUID(s, "calibration task id")
	return CalibrationTaskID(u), err
}

func ParsePMTaskID(s string) (PMTaskID, error) {
	u, err := parseUUID(s, "pm task id")
	return PMTaskID(u), err
}

func ParseInvestigationID(s string) (InvestigationID, error) {
	u, err := parseUUID(s, "investigation id")
	return InvestigationID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" must not be the nil UUID")
	}
	return u, nil
}
