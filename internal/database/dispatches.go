package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Dispatch represents a dispatch record in the dispatches table.
type Dispatch struct {
	DispatchID        string          `json:"dispatch_id"`
	PatientID         string          `json:"patient_id"`
	AlertID           string          `json:"alert_id"`
	Severity          string          `json:"severity"`
	Status            DispatchStatus  `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ChosenHospitalID  string          `json:"chosen_hospital_id,omitempty"`
	ChosenAmbulanceID string          `json:"chosen_ambulance_id,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

const dispatchColumns = `dispatch_id, patient_id, alert_id, severity, status, created_at, updated_at, chosen_hospital_id, chosen_ambulance_id, payload`

// scanDispatch scans a dispatch row from either *sql.Row or *sql.Rows.
func scanDispatch(scan func(dest ...any) error) (*Dispatch, error) {
	var d Dispatch
	var hospitalID, ambulanceID sql.NullString
	var payload []byte
	if err := scan(
		&d.DispatchID,
		&d.PatientID,
		&d.AlertID,
		&d.Severity,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
		&hospitalID,
		&ambulanceID,
		&payload,
	); err != nil {
		return nil, err
	}
	d.ChosenHospitalID = hospitalID.String
	d.ChosenAmbulanceID = ambulanceID.String
	d.Payload = payload
	return &d, nil
}

// FindByAlertID retrieves the dispatch created for an alert, or nil when none
// exists. This is a best-effort duplicate pre-check; the unique constraint on
// alert_id remains the correctness guard.
func (db *DB) FindByAlertID(ctx context.Context, alertID string) (*Dispatch, error) {
	query := `
		SELECT ` + dispatchColumns + `
		FROM dispatches
		WHERE alert_id = $1
	`
	d, err := scanDispatch(db.conn.QueryRowContext(ctx, query, alertID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find dispatch by alert_id: %w", err)
	}
	return d, nil
}

// GetDispatch retrieves a dispatch by ID, or nil when none exists.
func (db *DB) GetDispatch(ctx context.Context, dispatchID string) (*Dispatch, error) {
	query := `
		SELECT ` + dispatchColumns + `
		FROM dispatches
		WHERE dispatch_id = $1
	`
	d, err := scanDispatch(db.conn.QueryRowContext(ctx, query, dispatchID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch: %w", err)
	}
	return d, nil
}

// ListDispatches retrieves dispatches ordered by creation time (newest first),
// optionally filtered by patient ID and status.
func (db *DB) ListDispatches(ctx context.Context, patientID, status string, limit, offset int) ([]*Dispatch, error) {
	query := `
		SELECT ` + dispatchColumns + `
		FROM dispatches
	`
	var args []any
	var where []string
	if patientID != "" {
		args = append(args, patientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatches: %w", err)
	}
	defer rows.Close()

	dispatches := []*Dispatch{}
	for rows.Next() {
		d, err := scanDispatch(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		dispatches = append(dispatches, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dispatches: %w", err)
	}
	return dispatches, nil
}

// UpdateStatus updates a dispatch status from the status API and returns the
// updated row. Status values are validated against the enumerated set by the
// caller; the transition graph itself is not enforced here.
func (db *DB) UpdateStatus(ctx context.Context, dispatchID string, status DispatchStatus) (*Dispatch, error) {
	query := `
		UPDATE dispatches
		SET status = $2, updated_at = NOW()
		WHERE dispatch_id = $1
		RETURNING ` + dispatchColumns + `
	`
	d, err := scanDispatch(db.conn.QueryRowContext(ctx, query, dispatchID, status.String()).Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("dispatch not found: %s", dispatchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update dispatch status: %w", err)
	}

	slog.Debug("Updated dispatch status",
		"dispatch_id", dispatchID,
		"status", status.String(),
	)

	return d, nil
}
