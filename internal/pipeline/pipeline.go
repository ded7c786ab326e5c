package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/assignment"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/bus"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/contracts"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/database"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/events"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/metrics"
)

const (
	// nakDelay is the redelivery delay for messages that failed on a
	// transient error.
	nakDelay = 2 * time.Second

	// messageTimeout bounds downstream calls for one message so a stalled
	// store or bus converts into a nak instead of blocking the loop forever.
	messageTimeout = 30 * time.Second

	// receiveRetryDelay throttles the loop when the subscription keeps
	// returning errors without closing.
	receiveRetryDelay = time.Second
)

// Pipeline processes alert messages strictly sequentially. Every message ends
// in exactly one of ack (done, skipped, duplicate, or poison pill) or nak
// (transient failure, redelivered after nakDelay); processing errors never
// escape the loop.
type Pipeline struct {
	source    Source
	validator Validator
	store     Store
	policy    assignment.Policy
	publisher EventPublisher
	metrics   metrics.Recorder
}

// New creates a pipeline over the given dependencies. A nil recorder defaults
// to the no-op implementation.
func New(source Source, validator Validator, store Store, policy assignment.Policy, publisher EventPublisher, recorder metrics.Recorder) *Pipeline {
	if recorder == nil {
		recorder = metrics.NewNoOp()
	}
	return &Pipeline{
		source:    source,
		validator: validator,
		store:     store,
		policy:    policy,
		publisher: publisher,
		metrics:   recorder,
	}
}

// Run consumes messages until the context is cancelled or the subscription is
// stopped. The in-flight message always finishes (or naks) before the loop
// exits.
func (p *Pipeline) Run(ctx context.Context) error {
	slog.Info("Starting dispatch pipeline loop")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatch pipeline loop stopped")
			return nil
		default:
		}

		msg, err := p.source.Next()
		if err != nil {
			if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				slog.Info("Dispatch pipeline loop stopped")
				return nil
			}
			slog.Error("Failed to receive message", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(receiveRetryDelay):
			}
			continue
		}

		p.metrics.RecordReceived()
		p.processMessage(ctx, msg)
	}
}

// processMessage runs one message through the full progression: validate,
// filter, dedupe, persist created, publish created, assign, persist assigned,
// publish assigned, ack.
func (p *Pipeline) processMessage(ctx context.Context, msg bus.Message) {
	start := time.Now()
	// The message keeps its own budget even when the loop context is
	// cancelled: shutdown never aborts an open unit of work mid-flight.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), messageTimeout)
	defer cancel()

	// Malformed JSON and schema mismatches are poison pills: redelivering
	// them can never succeed, so they are acked and dropped.
	var doc any
	if err := json.Unmarshal(msg.Data(), &doc); err != nil {
		slog.Warn("Discarding malformed alert message", "error", err)
		p.ackDiscarded(msg)
		return
	}
	if res := p.validator.Validate(contracts.AlertRaisedSchemaID, doc); !res.Valid {
		slog.Warn("Discarding alert failing schema validation", "errors", res.Errors)
		p.ackDiscarded(msg)
		return
	}

	var alert events.PatientAlert
	if err := json.Unmarshal(msg.Data(), &alert); err != nil {
		slog.Warn("Discarding undecodable alert message", "error", err)
		p.ackDiscarded(msg)
		return
	}

	slog.Info("Received alert",
		"alert_id", alert.AlertID,
		"patient_id", alert.PatientID,
		"severity", alert.Severity,
	)

	// Business rule: low-severity alerts are not dispatched.
	severity := events.NormalizeSeverity(alert.Severity)
	if severity == events.SeverityLow {
		slog.Info("Severity low, ignoring alert", "alert_id", alert.AlertID)
		p.metrics.RecordSkipped()
		p.ack(msg)
		return
	}

	// Duplicate pre-check. Fast path only; the unique constraint on
	// alert_id remains the authoritative guard.
	existing, err := p.store.FindByAlertID(ctx, alert.AlertID)
	if err != nil {
		slog.Error("Failed duplicate pre-check", "alert_id", alert.AlertID, "error", err)
		p.metrics.RecordError()
		p.nak(msg)
		return
	}
	if existing != nil {
		slog.Info("Alert already processed, acking duplicate",
			"alert_id", alert.AlertID,
			"dispatch_id", existing.DispatchID,
		)
		p.metrics.RecordDuplicate()
		p.ack(msg)
		return
	}

	now := time.Now().UTC()
	d := &database.Dispatch{
		DispatchID: uuid.NewString(),
		PatientID:  alert.PatientID,
		AlertID:    alert.AlertID,
		Severity:   severity,
		Status:     database.StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
		Payload:    json.RawMessage(msg.Data()),
	}

	if err := p.runDispatchTx(ctx, d); err != nil {
		if database.IsUniqueViolation(err) {
			// Lost the insert race to a concurrent redelivery. The row
			// exists, so this delivery is already handled.
			slog.Info("Concurrent insert detected, acking duplicate", "alert_id", alert.AlertID)
			p.metrics.RecordDuplicate()
			p.ack(msg)
			return
		}
		slog.Error("Failed to process alert dispatch", "alert_id", alert.AlertID, "error", err)
		p.metrics.RecordError()
		p.nak(msg)
		return
	}

	p.metrics.RecordProcessed(time.Since(start))
	p.ack(msg)

	slog.Info("Dispatch processed successfully",
		"dispatch_id", d.DispatchID,
		"alert_id", alert.AlertID,
		"ambulance_id", d.ChosenAmbulanceID,
		"hospital_id", d.ChosenHospitalID,
	)
}

// runDispatchTx performs the create+assign unit of work: insert created,
// publish dispatch.created, resolve the assignment, update to assigned,
// publish dispatch.assigned, commit. Any failure rolls the transaction back
// via the deferred Rollback. On success d reflects the assigned state.
func (p *Pipeline) runDispatchTx(ctx context.Context, d *database.Dispatch) error {
	uow, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.InsertCreated(ctx, d); err != nil {
		return err
	}
	if err := p.publisher.PublishCreated(ctx, d); err != nil {
		return err
	}
	p.metrics.RecordPublished()

	a, err := p.policy.Resolve(d)
	if err != nil {
		return err
	}

	if err := uow.UpdateAssigned(ctx, d.DispatchID, a.AmbulanceID, a.HospitalID); err != nil {
		return err
	}
	if err := p.publisher.PublishAssigned(ctx, d, a); err != nil {
		return err
	}
	p.metrics.RecordPublished()

	if err := uow.Commit(); err != nil {
		return err
	}

	d.Status = database.StatusAssigned
	d.ChosenAmbulanceID = a.AmbulanceID
	d.ChosenHospitalID = a.HospitalID
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Pipeline) ack(msg bus.Message) {
	if err := msg.Ack(); err != nil {
		slog.Error("Failed to ack message", "subject", msg.Subject(), "error", err)
		return
	}
	p.metrics.RecordAcked()
}

func (p *Pipeline) ackDiscarded(msg bus.Message) {
	p.metrics.RecordDiscarded()
	p.ack(msg)
}

func (p *Pipeline) nak(msg bus.Message) {
	if err := msg.NakWithDelay(nakDelay); err != nil {
		slog.Error("Failed to nak message", "subject", msg.Subject(), "error", err)
		return
	}
	p.metrics.RecordNaked()
}
