package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/assignment"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/bus"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/contracts"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/database"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/events"
	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/publisher"
)

// fakeMessage records the ack/nak decision taken for it.
type fakeMessage struct {
	data     []byte
	acked    int
	naked    int
	nakDelay time.Duration
}

func (m *fakeMessage) Subject() string { return bus.SubjectAlertRaised }
func (m *fakeMessage) Data() []byte    { return m.data }
func (m *fakeMessage) Ack() error      { m.acked++; return nil }
func (m *fakeMessage) NakWithDelay(delay time.Duration) error {
	m.naked++
	m.nakDelay = delay
	return nil
}

// fakeSource yields queued messages, then reports the subscription closed.
type fakeSource struct {
	msgs []bus.Message
}

func (s *fakeSource) Next() (bus.Message, error) {
	if len(s.msgs) == 0 {
		return nil, bus.ErrClosed
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, nil
}

// fakeStore is an in-memory dispatch store keyed by alert_id. Writes stage in
// a unit of work and only land on Commit.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*database.Dispatch

	findErr      error
	beginErr     error
	insertErr    error
	updateErr    error
	commitErr    error
	hidePreCheck bool // simulate the insert race: pre-check misses the row

	commits   int
	rollbacks int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*database.Dispatch)}
}

func (s *fakeStore) FindByAlertID(_ context.Context, alertID string) (*database.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.hidePreCheck {
		return nil, nil
	}
	if d, ok := s.rows[alertID]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) Begin(ctx context.Context) (database.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeUOW{store: s}, nil
}

type fakeUOW struct {
	store     *fakeStore
	staged    *database.Dispatch
	committed bool
}

func (u *fakeUOW) InsertCreated(_ context.Context, d *database.Dispatch) error {
	if u.store.insertErr != nil {
		return u.store.insertErr
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if _, exists := u.store.rows[d.AlertID]; exists {
		return &pq.Error{Code: "23505", Constraint: "dispatches_alert_id_key"}
	}
	copied := *d
	u.staged = &copied
	return nil
}

func (u *fakeUOW) UpdateAssigned(_ context.Context, dispatchID, ambulanceID, hospitalID string) error {
	if u.store.updateErr != nil {
		return u.store.updateErr
	}
	if u.staged == nil || u.staged.DispatchID != dispatchID {
		return fmt.Errorf("dispatch not found: %s", dispatchID)
	}
	u.staged.Status = database.StatusAssigned
	u.staged.ChosenAmbulanceID = ambulanceID
	u.staged.ChosenHospitalID = hospitalID
	return nil
}

func (u *fakeUOW) Commit() error {
	if u.store.commitErr != nil {
		return u.store.commitErr
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if u.staged != nil {
		u.store.rows[u.staged.AlertID] = u.staged
	}
	u.committed = true
	u.store.commits++
	return nil
}

func (u *fakeUOW) Rollback() error {
	if !u.committed {
		u.store.rollbacks++
	}
	return nil
}

// fakeBus records published events and can fail selectively per subject.
type fakeBus struct {
	subjects []string
	payloads [][]byte
	failOn   string
}

func (f *fakeBus) Publish(ctx context.Context, subject string, payload []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.failOn != "" && subject == f.failOn {
		return 0, fmt.Errorf("nats: connection closed")
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	return uint64(len(f.subjects)), nil
}

type fixture struct {
	pipeline *Pipeline
	store    *fakeStore
	bus      *fakeBus
}

func newFixture(t *testing.T, source Source) *fixture {
	t.Helper()
	validator, err := contracts.NewValidator(t.TempDir())
	require.NoError(t, err)

	store := newFakeStore()
	fb := &fakeBus{}
	policy := assignment.NewFirstAvailable([]string{"amb-1", "amb-2"}, []string{"ank-001", "ank-002"})

	return &fixture{
		pipeline: New(source, validator, store, policy, publisher.NewPublisher(fb), nil),
		store:    store,
		bus:      fb,
	}
}

func alertMessage(t *testing.T, alertID, patientID, severity string) *fakeMessage {
	t.Helper()
	doc := map[string]any{
		"alert_id":   alertID,
		"patient_id": patientID,
		"timestamp":  "2026-08-29T10:00:00Z",
	}
	if severity != "" {
		doc["severity"] = severity
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return &fakeMessage{data: data}
}

func TestPipeline_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	msg := alertMessage(t, "a1", "p1", "high")

	f.pipeline.processMessage(context.Background(), msg)

	assert.Equal(t, 1, msg.acked)
	assert.Zero(t, msg.naked)

	require.Len(t, f.store.rows, 1)
	d := f.store.rows["a1"]
	assert.Equal(t, "p1", d.PatientID)
	assert.Equal(t, database.StatusAssigned, d.Status)
	assert.Equal(t, "amb-1", d.ChosenAmbulanceID)
	assert.Equal(t, "ank-001", d.ChosenHospitalID)
	assert.Equal(t, "high", d.Severity)
	assert.Equal(t, 1, f.store.commits)

	require.Equal(t, []string{"dispatch.created", "dispatch.assigned"}, f.bus.subjects)

	var created events.DispatchCreated
	require.NoError(t, json.Unmarshal(f.bus.payloads[0], &created))
	var assigned events.DispatchAssigned
	require.NoError(t, json.Unmarshal(f.bus.payloads[1], &assigned))
	assert.Equal(t, created.DispatchID, assigned.DispatchID)
	assert.Equal(t, d.DispatchID, created.DispatchID)
	assert.JSONEq(t, string(msg.data), string(created.Payload))
}

func TestPipeline_UnknownSeverityStillDispatches(t *testing.T) {
	f := newFixture(t, nil)
	msg := alertMessage(t, "a1", "p1", "")

	f.pipeline.processMessage(context.Background(), msg)

	assert.Equal(t, 1, msg.acked)
	require.Len(t, f.store.rows, 1)
	assert.Equal(t, events.SeverityUnknown, f.store.rows["a1"].Severity)
}

func TestPipeline_LowSeveritySkipped(t *testing.T) {
	f := newFixture(t, nil)
	msg := alertMessage(t, "a1", "p1", "low")

	f.pipeline.processMessage(context.Background(), msg)

	assert.Equal(t, 1, msg.acked)
	assert.Zero(t, msg.naked)
	assert.Empty(t, f.store.rows)
	assert.Empty(t, f.bus.subjects)
}

func TestPipeline_MalformedMessageDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	msg := &fakeMessage{data: []byte("{not json")}

	f.pipeline.processMessage(context.Background(), msg)

	assert.Equal(t, 1, msg.acked, "poison pill must be acked, never redelivered")
	assert.Zero(t, msg.naked)
	assert.Empty(t, f.store.rows)
}

func TestPipeline_MissingAlertIDDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	data, err := json.Marshal(map[string]any{
		"patient_id": "p1",
		"severity":   "high",
		"timestamp":  "2026-08-29T10:00:00Z",
	})
	require.NoError(t, err)
	msg := &fakeMessage{data: data}

	f.pipeline.processMessage(context.Background(), msg)

	assert.Equal(t, 1, msg.acked)
	assert.Zero(t, msg.naked)
	assert.Empty(t, f.store.rows)
	assert.Empty(t, f.bus.subjects)
}

func TestPipeline_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 3; i++ {
		msg := alertMessage(t, "a1", "p1", "high")
		f.pipeline.processMessage(context.Background(), msg)
		assert.Equal(t, 1, msg.acked)
		assert.Zero(t, msg.naked)
	}

	assert.Len(t, f.store.rows, 1)
	assert.Equal(t, 1, f.store.commits)
	// Exactly one created/assigned pair across all redeliveries.
	assert.Equal(t, []string{"dispatch.created", "dispatch.assigned"}, f.bus.subjects)
}

func TestPipeline_InsertRaceAckedAsDuplicate(t *testing.T) {
	f := newFixture(t, nil)

	// First delivery commits the row.
	first := alertMessage(t, "a1", "p1", "high")
	f.pipeline.processMessage(context.Background(), first)
	require.Len(t, f.store.rows, 1)

	// Second delivery misses the pre-check (concurrent redelivery) and hits
	// the unique constraint on insert. It must ack, not nak.
	f.store.hidePreCheck = true
	second := alertMessage(t, "a1", "p1", "high")
	f.pipeline.processMessage(context.Background(), second)

	assert.Equal(t, 1, second.acked)
	assert.Zero(t, second.naked)
	assert.Len(t, f.store.rows, 1)
}

func TestPipeline_PublishAssignedFailureRollsBackAndNaks(t *testing.T) {
	f := newFixture(t, nil)
	f.bus.failOn = "dispatch.assigned"
	msg := alertMessage(t, "a1", "p1", "high")

	f.pipeline.processMessage(context.Background(), msg)

	assert.Zero(t, msg.acked)
	assert.Equal(t, 1, msg.naked)
	assert.Equal(t, 2*time.Second, msg.nakDelay)
	// The staged assigned state never commits: no row without its events.
	assert.Empty(t, f.store.rows)
	assert.Zero(t, f.store.commits)
	assert.Equal(t, 1, f.store.rollbacks)
}

func TestPipeline_TransientStoreErrorNaks(t *testing.T) {
	f := newFixture(t, nil)
	f.store.findErr = fmt.Errorf("database unreachable: connection refused")
	msg := alertMessage(t, "a1", "p1", "high")

	f.pipeline.processMessage(context.Background(), msg)

	assert.Zero(t, msg.acked)
	assert.Equal(t, 1, msg.naked)
	assert.Equal(t, 2*time.Second, msg.nakDelay)
}

func TestPipeline_ShutdownLetsInFlightMessageFinish(t *testing.T) {
	f := newFixture(t, nil)
	msg := alertMessage(t, "a1", "p1", "high")

	// The loop context is already cancelled, as it is during shutdown. The
	// message still runs its full unit of work and acks.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.pipeline.processMessage(ctx, msg)

	assert.Equal(t, 1, msg.acked)
	assert.Zero(t, msg.naked)
	require.Len(t, f.store.rows, 1)
	assert.Equal(t, 1, f.store.commits)
	assert.Zero(t, f.store.rollbacks)
	assert.Equal(t, []string{"dispatch.created", "dispatch.assigned"}, f.bus.subjects)
}

// flakySource fails a fixed number of receives before delegating.
type flakySource struct {
	fails int
	inner *fakeSource
}

func (s *flakySource) Next() (bus.Message, error) {
	if s.fails > 0 {
		s.fails--
		return nil, fmt.Errorf("nats: missing heartbeat")
	}
	return s.inner.Next()
}

func TestPipeline_Run_BacksOffAfterReceiveError(t *testing.T) {
	msg := alertMessage(t, "a1", "p1", "high")
	source := &flakySource{fails: 1, inner: &fakeSource{msgs: []bus.Message{msg}}}
	f := newFixture(t, source)

	start := time.Now()
	err := f.pipeline.Run(context.Background())

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), receiveRetryDelay, "receive errors must be throttled")
	assert.Equal(t, 1, msg.acked)
	assert.Len(t, f.store.rows, 1)
}

func TestPipeline_Run_ProcessesUntilSourceCloses(t *testing.T) {
	high := alertMessage(t, "a1", "p1", "high")
	low := alertMessage(t, "a2", "p2", "low")
	source := &fakeSource{msgs: []bus.Message{high, low}}

	f := newFixture(t, source)
	err := f.pipeline.Run(context.Background())

	require.NoError(t, err, "Run must exit cleanly when the subscription closes")
	assert.Equal(t, 1, high.acked)
	assert.Equal(t, 1, low.acked)
	assert.Len(t, f.store.rows, 1)
}
