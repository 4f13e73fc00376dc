package assistant

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/pitstop/internal/guardrail"
	"github.com/hitoshi/pitstop/internal/model"
)

const testVIN = "1FA6P8CF0F5391308"

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// --- モック定義 ---

type mockVehicleStore struct {
	findFn   func(ctx context.Context, vin string) (*model.Vehicle, error)
	createFn func(ctx context.Context, v *model.Vehicle) error
	updateFn func(ctx context.Context, vin string, mileage int, at time.Time) error

	created  []model.Vehicle
	mileages []int
}

func (m *mockVehicleStore) FindByVIN(ctx context.Context, vin string) (*model.Vehicle, error) {
	if m.findFn != nil {
		return m.findFn(ctx, vin)
	}
	return nil, nil
}

func (m *mockVehicleStore) Create(ctx context.Context, v *model.Vehicle) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, v); err != nil {
			return err
		}
	}
	m.created = append(m.created, *v)
	return nil
}

func (m *mockVehicleStore) UpdateMileage(ctx context.Context, vin string, mileage int, at time.Time) error {
	if m.updateFn != nil {
		if err := m.updateFn(ctx, vin, mileage, at); err != nil {
			return err
		}
	}
	m.mileages = append(m.mileages, mileage)
	return nil
}

type mockDecoder struct {
	decodeFn  func(ctx context.Context, vin string) (*model.VehicleInfo, error)
	recallsFn func(ctx context.Context, vin string) (*model.VehicleInfo, []model.RecallInfo)
}

func (m *mockDecoder) DecodeVIN(ctx context.Context, vin string) (*model.VehicleInfo, error) {
	if m.decodeFn != nil {
		return m.decodeFn(ctx, vin)
	}
	return nil, nil
}

func (m *mockDecoder) RecallsByVIN(ctx context.Context, vin string) (*model.VehicleInfo, []model.RecallInfo) {
	if m.recallsFn != nil {
		return m.recallsFn(ctx, vin)
	}
	return nil, []model.RecallInfo{}
}

type loggedMessage struct {
	sessionID string
	role      model.Role
	content   string
	metadata  map[string]any
}

type fakeSessionStore struct {
	mu sync.Mutex

	createFn func(ctx context.Context, userIdentifier, identifierType string) (string, error)
	sessions map[string]*model.Session
	messages []loggedMessage
	links    []string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*model.Session)}
}

func (f *fakeSessionStore) CreateOrResume(ctx context.Context, userIdentifier, identifierType string) (string, error) {
	if f.createFn != nil {
		return f.createFn(ctx, userIdentifier, identifierType)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessions {
		if s.UserIdentifier == userIdentifier && s.IdentifierType == identifierType {
			return id, nil
		}
	}
	id := "session-" + userIdentifier
	f.sessions[id] = &model.Session{SessionID: id, UserIdentifier: userIdentifier, IdentifierType: identifierType}
	return id, nil
}

func (f *fakeSessionStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) LinkVehicle(ctx context.Context, sessionID, vin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, sessionID+"="+vin)
	if s, ok := f.sessions[sessionID]; ok {
		s.VehicleVIN = vin
	}
	return nil
}

func (f *fakeSessionStore) AppendMessage(ctx context.Context, sessionID string, role model.Role, content string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, loggedMessage{sessionID, role, content, metadata})
	return nil
}

func (f *fakeSessionStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.ConversationMessage{}
	for i, m := range f.messages {
		if m.sessionID != sessionID {
			continue
		}
		out = append(out, model.ConversationMessage{ID: int64(i + 1), SessionID: sessionID, Role: m.role, Content: m.content})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type mockServiceRecords struct {
	listFn func(ctx context.Context, vin string, limit int) ([]model.ServiceRecord, error)
}

func (m *mockServiceRecords) ListByVIN(ctx context.Context, vin string, limit int) ([]model.ServiceRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, vin, limit)
	}
	return nil, nil
}

type mockBooker struct {
	createFn func(ctx context.Context, a *model.Appointment) error
	booked   []model.Appointment
}

func (m *mockBooker) Create(ctx context.Context, a *model.Appointment) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, a); err != nil {
			return err
		}
	}
	a.ID = int64(len(m.booked) + 1)
	m.booked = append(m.booked, *a)
	return nil
}

type mockRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockRecorder) RecordToolCall(tool, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, tool+":"+outcome)
}

// fixture はテスト用の依存一式。
type fixture struct {
	vehicles *mockVehicleStore
	decoder  *mockDecoder
	sessions *fakeSessionStore
	records  *mockServiceRecords
	booker   *mockBooker
	metrics  *mockRecorder
	logs     *bytes.Buffer
}

func newFixture() *fixture {
	return &fixture{
		vehicles: &mockVehicleStore{},
		decoder:  &mockDecoder{},
		sessions: newFakeSessionStore(),
		records:  &mockServiceRecords{},
		booker:   &mockBooker{},
		metrics:  &mockRecorder{},
		logs:     &bytes.Buffer{},
	}
}

func (f *fixture) deps() Dependencies {
	logger := newTestLogger(f.logs)
	return Dependencies{
		Guard:          guardrail.NewPipeline(logger, nil),
		Vehicles:       f.vehicles,
		Decoder:        f.decoder,
		Sessions:       f.sessions,
		ServiceRecords: f.records,
		Appointments:   f.booker,
		Metrics:        f.metrics,
		Logger:         logger,
		Now:            func() time.Time { return testNow },
	}
}

func (f *fixture) conversation() *Conversation {
	return NewConversation("conv-1", f.deps())
}

func storedMustang() *model.Vehicle {
	return &model.Vehicle{
		VIN:        testVIN,
		Make:       "Ford",
		Model:      "Mustang",
		Year:       2015,
		Mileage:    42000,
		OwnerName:  "Jane Doe",
		OwnerPhone: "555-0100",
	}
}

func (f *fixture) withStoredMustang() {
	f.vehicles.findFn = func(ctx context.Context, vin string) (*model.Vehicle, error) {
		if vin == testVIN {
			return storedMustang(), nil
		}
		return nil, nil
	}
}
