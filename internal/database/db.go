// Package database provides transactional access to the dispatches table.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// DB wraps a pooled database connection and provides dispatch operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// Ping verifies the database connection is alive. Used by the readiness probe.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// RunMigrations ensures the dispatches table exists. The UNIQUE constraint on
// alert_id is the authoritative guard against duplicate ingestion; application
// pre-checks are only an optimization.
func (db *DB) RunMigrations(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS dispatches (
			dispatch_id UUID PRIMARY KEY,
			patient_id VARCHAR(255) NOT NULL,
			alert_id VARCHAR(255) UNIQUE,
			severity VARCHAR(50),
			status VARCHAR(50) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			chosen_hospital_id VARCHAR(255),
			chosen_ambulance_id VARCHAR(255),
			payload JSONB
		)
	`
	if _, err := db.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("Migrations completed successfully")
	return nil
}

// IsUniqueViolation reports whether err is a unique constraint violation.
// Callers treat this as "already processed", not as a fatal error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
