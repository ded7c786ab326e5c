// Package publisher builds canonical dispatch lifecycle events and emits them
// through the bus client. Publish failures propagate to the caller, which
// decides the fate of the enclosing transaction.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/assignment"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/bus"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/database"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/events"
)

// BusPublisher defines the bus operations the publisher needs.
// This interface allows for dependency injection and easier testing.
type BusPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte) (uint64, error)
}

// Publisher emits dispatch.created and dispatch.assigned events.
type Publisher struct {
	bus BusPublisher
}

// NewPublisher creates a publisher over the given bus client.
func NewPublisher(b BusPublisher) *Publisher {
	return &Publisher{bus: b}
}

// PublishCreated publishes a dispatch.created event snapshotting the dispatch
// at creation time.
func (p *Publisher) PublishCreated(ctx context.Context, d *database.Dispatch) error {
	event := events.DispatchCreated{
		DispatchID: d.DispatchID,
		PatientID:  d.PatientID,
		AlertID:    d.AlertID,
		Severity:   d.Severity,
		Timestamp:  d.CreatedAt.UTC().Format(time.RFC3339),
		Status:     database.StatusCreated.String(),
		Payload:    d.Payload,
	}
	return p.publish(ctx, bus.SubjectDispatchCreated, d.DispatchID, event)
}

// PublishAssigned publishes a dispatch.assigned event carrying the chosen
// ambulance and hospital ids.
func (p *Publisher) PublishAssigned(ctx context.Context, d *database.Dispatch, a assignment.Assignment) error {
	event := events.DispatchAssigned{
		DispatchID:  d.DispatchID,
		AmbulanceID: a.AmbulanceID,
		HospitalID:  a.HospitalID,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Status:      database.StatusAssigned.String(),
	}
	return p.publish(ctx, bus.SubjectDispatchAssigned, d.DispatchID, event)
}

func (p *Publisher) publish(ctx context.Context, subject, dispatchID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}

	seq, err := p.bus.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	slog.Debug("Published dispatch event",
		"subject", subject,
		"dispatch_id", dispatchID,
		"seq", seq,
	)
	return nil
}
