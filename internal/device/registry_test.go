package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device
	// For testing error paths
	createErr error
	updateErr error
	touchErr  error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices: make(map[string]*Device),
	}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		return d.DeepCopy(), nil
	}
	return nil, ErrNotFound
}

func (m *MockRepository) List(_ context.Context) ([]*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d.DeepCopy())
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.devices[d.ID]; ok {
		return ErrExists
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *MockRepository) Update(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	existing, ok := m.devices[d.ID]
	if !ok {
		return ErrNotFound
	}
	updated := d.DeepCopy()
	updated.LastSeen = existing.LastSeen // repository-managed field
	m.devices[d.ID] = updated
	return nil
}

func (m *MockRepository) TouchLastSeen(_ context.Context, id string, observedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.touchErr != nil {
		return m.touchErr
	}
	d, ok := m.devices[id]
	if !ok {
		return nil
	}
	if d.LastSeen == nil || d.LastSeen.Before(observedAt) {
		ts := observedAt.UTC()
		d.LastSeen = &ts
	}
	return nil
}

func (m *MockRepository) SetRetired(_ context.Context, id string, retired bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return ErrNotFound
	}
	d.Retired = retired
	return nil
}

func seedDevice(t *testing.T, repo *MockRepository, id string, protocol Protocol) *Device {
	t.Helper()
	now := time.Now().UTC()
	d := &Device{
		ID:        id,
		Name:      id,
		Protocol:  protocol,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("seed device %s: %v", id, err)
	}
	return d
}

func TestRegistryGet(t *testing.T) {
	repo := NewMockRepository()
	seedDevice(t, repo, "meter-1", ProtocolMQTT)

	reg := NewRegistry(repo)

	d, err := reg.Get(context.Background(), "meter-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.ID != "meter-1" {
		t.Errorf("Get() ID = %q, want %q", d.ID, "meter-1")
	}

	// Second call should hit cache; mutating the returned copy must not
	// leak into subsequent reads.
	d.Name = "mutated"
	again, err := reg.Get(context.Background(), "meter-1")
	if err != nil {
		t.Fatalf("Get() second call error = %v", err)
	}
	if again.Name != "meter-1" {
		t.Errorf("cache was mutated through returned copy: Name = %q", again.Name)
	}
}

func TestRegistryGetNotFound(t *testing.T) {
	reg := NewRegistry(NewMockRepository())

	_, err := reg.Get(context.Background(), "unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRegistryResolveAutoRegisters(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo)

	d, err := reg.Resolve(context.Background(), "meter-new", ProtocolMQTT)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.ID != "meter-new" {
		t.Errorf("Resolve() ID = %q, want %q", d.ID, "meter-new")
	}
	if d.Protocol != ProtocolMQTT {
		t.Errorf("Resolve() Protocol = %q, want %q", d.Protocol, ProtocolMQTT)
	}
	if d.Name != "meter-new" {
		t.Errorf("auto-registered Name = %q, want ID as default", d.Name)
	}

	// Device must now be persisted
	stored, err := repo.GetByID(context.Background(), "meter-new")
	if err != nil {
		t.Fatalf("auto-registered device not persisted: %v", err)
	}
	if stored.Protocol != ProtocolMQTT {
		t.Errorf("persisted Protocol = %q, want %q", stored.Protocol, ProtocolMQTT)
	}
}

func TestRegistryResolveExisting(t *testing.T) {
	repo := NewMockRepository()
	seedDevice(t, repo, "meter-1", ProtocolREST)

	reg := NewRegistry(repo)

	// Protocol argument is only used for auto-registration; an existing
	// device keeps its stored protocol.
	d, err := reg.Resolve(context.Background(), "meter-1", ProtocolMQTT)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.Protocol != ProtocolREST {
		t.Errorf("Resolve() Protocol = %q, want stored %q", d.Protocol, ProtocolREST)
	}
}

func TestRegistryResolveRetired(t *testing.T) {
	repo := NewMockRepository()
	seedDevice(t, repo, "meter-old", ProtocolMQTT)

	reg := NewRegistry(repo)
	if err := reg.Retire(context.Background(), "meter-old"); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}

	_, err := reg.Resolve(context.Background(), "meter-old", ProtocolMQTT)
	if !errors.Is(err, ErrRetired) {
		t.Errorf("Resolve() error = %v, want ErrRetired", err)
	}

	// Reinstating resumes resolution
	if err := reg.Reinstate(context.Background(), "meter-old"); err != nil {
		t.Fatalf("Reinstate() error = %v", err)
	}
	if _, err := reg.Resolve(context.Background(), "meter-old", ProtocolMQTT); err != nil {
		t.Errorf("Resolve() after reinstate error = %v", err)
	}
}

func TestRegistryResolveConcurrentRegistration(t *testing.T) {
	repo := NewMockRepository()
	reg := NewRegistry(repo)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Resolve(context.Background(), "meter-race", ProtocolMQTT); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Resolve() error = %v", err)
	}

	if _, err := repo.GetByID(context.Background(), "meter-race"); err != nil {
		t.Errorf("device not persisted after concurrent resolve: %v", err)
	}
}

func TestRegistryTouchMonotonic(t *testing.T) {
	repo := NewMockRepository()
	seedDevice(t, repo, "meter-1", ProtocolMQTT)

	reg := NewRegistry(repo)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	t1 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Minute)
	t2 := t1.Add(time.Minute)

	if err := reg.Touch(context.Background(), "meter-1", t1); err != nil {
		t.Fatalf("Touch(t1) error = %v", err)
	}

	d, _ := reg.Get(context.Background(), "meter-1")
	if d.LastSeen == nil || !d.LastSeen.Equal(t1) {
		t.Fatalf("LastSeen = %v, want %v", d.LastSeen, t1)
	}

	// Older observation must not move last_seen backwards
	if err := reg.Touch(context.Background(), "meter-1", t0); err != nil {
		t.Fatalf("Touch(t0) error = %v", err)
	}
	d, _ = reg.Get(context.Background(), "meter-1")
	if !d.LastSeen.Equal(t1) {
		t.Errorf("LastSeen moved backwards: %v, want %v", d.LastSeen, t1)
	}

	// Newer observation advances it
	if err := reg.Touch(context.Background(), "meter-1", t2); err != nil {
		t.Fatalf("Touch(t2) error = %v", err)
	}
	d, _ = reg.Get(context.Background(), "meter-1")
	if !d.LastSeen.Equal(t2) {
		t.Errorf("LastSeen = %v, want %v", d.LastSeen, t2)
	}
}

func TestRegistryRegisterValidation(t *testing.T) {
	reg := NewRegistry(NewMockRepository())

	tests := []struct {
		name    string
		device  *Device
		wantErr error
	}{
		{
			name:    "empty ID",
			device:  &Device{Protocol: ProtocolMQTT},
			wantErr: ErrInvalidID,
		},
		{
			name:    "ID with topic separator",
			device:  &Device{ID: "a/b", Protocol: ProtocolMQTT},
			wantErr: ErrInvalidID,
		},
		{
			name:    "unknown protocol",
			device:  &Device{ID: "meter-1", Protocol: Protocol("zigbee")},
			wantErr: ErrInvalidProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(context.Background(), tt.device)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryUpdate(t *testing.T) {
	repo := NewMockRepository()
	seedDevice(t, repo, "meter-1", ProtocolMQTT)

	reg := NewRegistry(repo)

	manufacturer := "Acme"
	d, _ := reg.Get(context.Background(), "meter-1")
	d.Name = "Main feed meter"
	d.Manufacturer = &manufacturer

	if err := reg.Update(context.Background(), d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := reg.Get(context.Background(), "meter-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Main feed meter" {
		t.Errorf("Name = %q, want %q", got.Name, "Main feed meter")
	}
	if got.Manufacturer == nil || *got.Manufacturer != "Acme" {
		t.Errorf("Manufacturer = %v, want Acme", got.Manufacturer)
	}
}

func TestRegistryUpdateNotFound(t *testing.T) {
	reg := NewRegistry(NewMockRepository())

	err := reg.Update(context.Background(), &Device{
		ID:       "ghost",
		Name:     "ghost",
		Protocol: ProtocolMQTT,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestRegistryStats(t *testing.T) {
	repo := NewMockRepository()
	seedDevice(t, repo, "meter-1", ProtocolMQTT)
	seedDevice(t, repo, "meter-2", ProtocolMQTT)
	seedDevice(t, repo, "inverter-1", ProtocolREST)

	reg := NewRegistry(repo)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if err := reg.Retire(context.Background(), "meter-2"); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}

	stats := reg.GetStats()
	if stats.TotalDevices != 3 {
		t.Errorf("TotalDevices = %d, want 3", stats.TotalDevices)
	}
	if stats.Retired != 1 {
		t.Errorf("Retired = %d, want 1", stats.Retired)
	}
	if stats.ByProtocol[ProtocolMQTT] != 2 {
		t.Errorf("ByProtocol[mqtt] = %d, want 2", stats.ByProtocol[ProtocolMQTT])
	}
	if stats.ByProtocol[ProtocolREST] != 1 {
		t.Errorf("ByProtocol[rest] = %d, want 1", stats.ByProtocol[ProtocolREST])
	}
}

func TestRegistryListByProtocol(t *testing.T) {
	repo := NewMockRepository()
	seedDevice(t, repo, "meter-1", ProtocolMQTT)
	seedDevice(t, repo, "inverter-1", ProtocolREST)

	reg := NewRegistry(repo)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	rest, err := reg.ListByProtocol(context.Background(), ProtocolREST)
	if err != nil {
		t.Fatalf("ListByProtocol() error = %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "inverter-1" {
		t.Errorf("ListByProtocol(rest) = %v, want [inverter-1]", rest)
	}
}
