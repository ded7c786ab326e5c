// Package pipeline orchestrates alert ingestion: validate, filter, persist,
// publish, and ack or nak each message.
package pipeline

import (
	"context"

	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/assignment"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/bus"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/contracts"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/database"
)

// Source yields messages from the durable consumer. Next blocks until a
// message arrives; it returns bus.ErrClosed once the subscription stops.
type Source interface {
	Next() (bus.Message, error)
}

// Validator validates a decoded document against a named schema.
// This interface allows for dependency injection and easier testing.
type Validator interface {
	Validate(schemaID string, document any) contracts.Result
}

// Store defines the dispatch store operations the pipeline needs.
type Store interface {
	// FindByAlertID is the best-effort duplicate pre-check; nil means no
	// dispatch exists for the alert.
	FindByAlertID(ctx context.Context, alertID string) (*database.Dispatch, error)

	// Begin starts the unit of work covering insert, assignment update, and
	// the coupled event publishes.
	Begin(ctx context.Context) (database.UnitOfWork, error)
}

// EventPublisher emits dispatch lifecycle events.
type EventPublisher interface {
	PublishCreated(ctx context.Context, d *database.Dispatch) error
	PublishAssigned(ctx context.Context, d *database.Dispatch, a assignment.Assignment) error
}
