package state

import (
	"context"
	"slices"
	"sync"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

type flagKey struct {
	deviceID int
	name     string
}

// MemoryRepository keeps the cache in process memory.
type MemoryRepository struct {
	// mu guards every map below.
	mu          sync.RWMutex
	states      map[int]*alarm.DeviceState
	configs     map[int]*alarm.DeviceConfig
	statuses    map[int]alarm.DeviceStatus
	flags       map[flagKey]bool
	ignore      bool
	lastEventID int64
}

// NewMemoryRepository creates an empty in-memory cache.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		states:   make(map[int]*alarm.DeviceState),
		configs:  make(map[int]*alarm.DeviceConfig),
		statuses: make(map[int]alarm.DeviceStatus),
		flags:    make(map[flagKey]bool),
	}
}

// DeviceState returns a copy of the cached state.
func (r *MemoryRepository) DeviceState(_ context.Context, deviceID int) (*alarm.DeviceState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[deviceID]
	if !ok {
		return nil, ErrNotFound
	}

	return s.Clone(), nil
}

// SaveDeviceState stores a copy of state.
func (r *MemoryRepository) SaveDeviceState(_ context.Context, state *alarm.DeviceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state.DeviceID] = state.Clone()

	return nil
}

// DeviceConfig returns a copy of the cached configuration.
func (r *MemoryRepository) DeviceConfig(_ context.Context, deviceID int) (*alarm.DeviceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.configs[deviceID]
	if !ok {
		return nil, ErrNotFound
	}

	return c.Clone(), nil
}

// SaveDeviceConfig stores a copy of cfg.
func (r *MemoryRepository) SaveDeviceConfig(_ context.Context, cfg *alarm.DeviceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[cfg.DeviceID] = cfg.Clone()

	return nil
}

// DeviceIDs lists configured devices.
func (r *MemoryRepository) DeviceIDs(_ context.Context) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids, nil
}

// DeleteDevice forgets everything about a device.
func (r *MemoryRepository) DeleteDevice(_ context.Context, deviceID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.configs, deviceID)
	delete(r.states, deviceID)
	delete(r.statuses, deviceID)

	for k := range r.flags {
		if k.deviceID == deviceID {
			delete(r.flags, k)
		}
	}

	return nil
}

// DeviceStatus returns the last connectivity status.
func (r *MemoryRepository) DeviceStatus(_ context.Context, deviceID int) (*alarm.DeviceStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.statuses[deviceID]
	if !ok {
		return nil, ErrNotFound
	}

	return &s, nil
}

// SaveDeviceStatus stores the connectivity status.
func (r *MemoryRepository) SaveDeviceStatus(_ context.Context, status alarm.DeviceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses[status.DeviceID] = status

	return nil
}

// Flag returns a device flag.
func (r *MemoryRepository) Flag(_ context.Context, deviceID int, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.flags[flagKey{deviceID, name}]
	if !ok {
		return false, ErrNotFound
	}

	return v, nil
}

// SetFlag stores a device flag.
func (r *MemoryRepository) SetFlag(_ context.Context, deviceID int, name string, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flags[flagKey{deviceID, name}] = value

	return nil
}

// IgnoreNoAnswer reports whether no-answer alarms are muted.
func (r *MemoryRepository) IgnoreNoAnswer(_ context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.ignore, nil
}

// SetIgnoreNoAnswer mutes or unmutes no-answer alarms.
func (r *MemoryRepository) SetIgnoreNoAnswer(_ context.Context, ignore bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ignore = ignore

	return nil
}

// LastEventID returns the last processed event id.
func (r *MemoryRepository) LastEventID(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastEventID, nil
}

// SetLastEventID stores the last processed event id.
func (r *MemoryRepository) SetLastEventID(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastEventID = id

	return nil
}
