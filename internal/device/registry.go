package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups,
// which matters on the ingestion hot path where every reading resolves
// its device.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Get retrieves a device by ID.
// Returns ErrNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = d.DeepCopy()
	r.cacheMu.Unlock()

	return d, nil
}

// List retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			// Deep copy to prevent external mutation of cache
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	// Fall back to repository
	stored, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(stored))
	for _, d := range stored {
		devices = append(devices, *d)
	}
	return devices, nil
}

// ListByProtocol retrieves all devices using a specific protocol.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListByProtocol(ctx context.Context, protocol Protocol) ([]Device, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, d := range all {
		if d.Protocol == protocol {
			devices = append(devices, d)
		}
	}
	return devices, nil
}

// Register creates a new device.
// It validates the device and persists it.
func (r *Registry) Register(ctx context.Context, d *Device) error {
	// Default name to the ID for auto-registered devices
	if d.Name == "" {
		d.Name = d.ID
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	// Validate
	if err := ValidateDevice(d); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device registered", "id", d.ID, "protocol", d.Protocol)
	return nil
}

// Resolve returns the device for an incoming reading, auto-registering
// unknown identifiers under the adapter's protocol. A resolved device
// that is retired yields ErrRetired; its readings must be dropped.
func (r *Registry) Resolve(ctx context.Context, id string, protocol Protocol) (*Device, error) {
	d, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		d = &Device{ID: id, Protocol: protocol}
		if regErr := r.Register(ctx, d); regErr != nil {
			// Concurrent auto-registration of the same device: one
			// worker wins the insert, the rest re-read.
			if errors.Is(regErr, ErrExists) {
				return r.Get(ctx, id)
			}
			return nil, regErr
		}
		return d, nil
	}
	if err != nil {
		return nil, err
	}

	if d.Retired {
		return nil, ErrRetired
	}
	return d, nil
}

// Update updates an existing device's metadata.
func (r *Registry) Update(ctx context.Context, d *Device) error {
	d.UpdatedAt = time.Now().UTC()

	// Validate
	if err := ValidateDevice(d); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	// Re-read so cache reflects repository-managed fields (last_seen)
	stored, err := r.repo.GetByID(ctx, d.ID)
	if err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = stored.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", d.ID, "name", d.Name)
	return nil
}

// Touch advances the device's last-seen timestamp. Monotonic: calls
// with an observedAt older than the stored value leave it unchanged.
// This is optimised for frequent updates from the ingestion pipeline.
func (r *Registry) Touch(ctx context.Context, id string, observedAt time.Time) error {
	observedAt = observedAt.UTC()

	if err := r.repo.TouchLastSeen(ctx, id, observedAt); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		if cached.LastSeen == nil || cached.LastSeen.Before(observedAt) {
			// Create a deep copy with the new timestamp (atomic replacement)
			updated := cached.DeepCopy()
			updated.LastSeen = &observedAt
			r.cache[id] = updated
		}
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device touched", "id", id, "observed_at", observedAt)
	return nil
}

// Retire soft-retires a device. Stored readings remain queryable; the
// ingestion pipeline rejects new readings for it.
func (r *Registry) Retire(ctx context.Context, id string) error {
	return r.setRetired(ctx, id, true)
}

// Reinstate clears a device's retired flag, resuming ingestion for it.
func (r *Registry) Reinstate(ctx context.Context, id string) error {
	return r.setRetired(ctx, id, false)
}

func (r *Registry) setRetired(ctx context.Context, id string, retired bool) error {
	if err := r.repo.SetRetired(ctx, id, retired); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.Retired = retired
		updated.UpdatedAt = time.Now().UTC()
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Info("device retired flag set", "id", id, "retired", retired)
	return nil
}

// Count returns the number of cached devices.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	Retired      int
	ByProtocol   map[Protocol]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByProtocol:   make(map[Protocol]int),
	}

	for _, d := range r.cache {
		stats.ByProtocol[d.Protocol]++
		if d.Retired {
			stats.Retired++
		}
	}

	return stats
}
