// Package notification fans lifecycle events out to operator-facing
// channels. Sinks are fire-and-forget from the caller's point of view:
// delivery failures are reported but never roll back the state change
// that triggered them.
package notification

//go:generate mockgen -source=sink.go -destination=mocks/mocks.go -package=mocks Sink

import (
	"context"
	"time"

	"caltrack/pkg/domain"
)

// StatusChange reports one equipment moving between lifecycle statuses.
type StatusChange struct {
	EquipmentID domain.EquipmentID `json:"equipment_id"`
	AssetTag    string             `json:"asset_tag"`
	Previous    string             `json:"previous"`
	Current     string             `json:"current"`
	Reason      string             `json:"reason"`
	At          time.Time          `json:"at"`
}

// InvestigationEvent reports an out-of-tolerance investigation milestone.
type InvestigationEvent struct {
	InvestigationID domain.InvestigationID `json:"investigation_id"`
	EquipmentID     domain.EquipmentID     `json:"equipment_id"`
	AssetTag        string                 `json:"asset_tag"`
	Status          string                 `json:"status"`
	At              time.Time              `json:"at"`
}

// Sink delivers notifications to one channel.
type Sink interface {
	PublishStatusChanges(ctx context.Context, changes []StatusChange) error
	PublishInvestigationEvent(ctx context.Context, event InvestigationEvent) error
}

// Noop discards everything. Used when no channel is configured.
type Noop struct{}

func (Noop) PublishStatusChanges(context.Context, []StatusChange) error       { return nil }
func (Noop) PublishInvestigationEvent(context.Context, InvestigationEvent) error { return nil }
