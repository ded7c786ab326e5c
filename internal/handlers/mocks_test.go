// Package handlers provides test mocks for handler dependencies.
package handlers

import (
	"context"

	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/database"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	// Callbacks for each method (set these to control behavior)
	ListDispatchesFn func(ctx context.Context, patientID, status string, limit, offset int) ([]*database.Dispatch, error)
	GetDispatchFn    func(ctx context.Context, dispatchID string) (*database.Dispatch, error)
	UpdateStatusFn   func(ctx context.Context, dispatchID string, status database.DispatchStatus) (*database.Dispatch, error)
	PingFn           func(ctx context.Context) error

	updateCalls int
}

func (m *mockRepository) ListDispatches(ctx context.Context, patientID, status string, limit, offset int) ([]*database.Dispatch, error) {
	if m.ListDispatchesFn != nil {
		return m.ListDispatchesFn(ctx, patientID, status, limit, offset)
	}
	return []*database.Dispatch{}, nil
}

func (m *mockRepository) GetDispatch(ctx context.Context, dispatchID string) (*database.Dispatch, error) {
	if m.GetDispatchFn != nil {
		return m.GetDispatchFn(ctx, dispatchID)
	}
	return nil, nil
}

func (m *mockRepository) UpdateStatus(ctx context.Context, dispatchID string, status database.DispatchStatus) (*database.Dispatch, error) {
	m.updateCalls++
	if m.UpdateStatusFn != nil {
		return m.UpdateStatusFn(ctx, dispatchID, status)
	}
	return &database.Dispatch{DispatchID: dispatchID, Status: status}, nil
}

func (m *mockRepository) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}
	return nil
}

// mockBus implements BusStatus for testing.
type mockBus struct {
	closed bool
}

func (m *mockBus) Closed() bool { return m.closed }
