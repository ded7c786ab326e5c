package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// UnitOfWork is a scoped transaction over the dispatches table. All writes in
// a unit commit together or not at all. Rollback after Commit is a no-op, so
// callers can defer it unconditionally.
type UnitOfWork interface {
	// InsertCreated inserts a new dispatch with status created. A unique
	// constraint violation (see IsUniqueViolation) means the alert was
	// already processed.
	InsertCreated(ctx context.Context, d *Dispatch) error

	// UpdateAssigned moves a dispatch to status assigned with its chosen
	// ambulance and hospital ids. Fails when no row matches.
	UpdateAssigned(ctx context.Context, dispatchID, ambulanceID, hospitalID string) error

	Commit() error
	Rollback() error
}

// Begin starts a unit of work.
func (db *DB) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &unitOfWork{tx: tx}, nil
}

type unitOfWork struct {
	tx        *sql.Tx
	committed bool
}

func (u *unitOfWork) InsertCreated(ctx context.Context, d *Dispatch) error {
	query := `
		INSERT INTO dispatches
			(dispatch_id, patient_id, alert_id, severity, status, created_at, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := u.tx.ExecContext(ctx, query,
		d.DispatchID,
		d.PatientID,
		d.AlertID,
		d.Severity,
		d.Status.String(),
		d.CreatedAt,
		d.UpdatedAt,
		[]byte(d.Payload),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to insert dispatch: %w", err)
	}
	return nil
}

func (u *unitOfWork) UpdateAssigned(ctx context.Context, dispatchID, ambulanceID, hospitalID string) error {
	query := `
		UPDATE dispatches
		SET status = $2, chosen_ambulance_id = $3, chosen_hospital_id = $4, updated_at = NOW()
		WHERE dispatch_id = $1
	`
	result, err := u.tx.ExecContext(ctx, query, dispatchID, StatusAssigned.String(), ambulanceID, hospitalID)
	if err != nil {
		return fmt.Errorf("failed to update dispatch to assigned: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("dispatch not found: %s", dispatchID)
	}
	return nil
}

func (u *unitOfWork) Commit() error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	u.committed = true
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.committed {
		return nil
	}
	if err := u.tx.Rollback(); err != nil {
		slog.Warn("Failed to roll back transaction", "error", err)
		return err
	}
	return nil
}
