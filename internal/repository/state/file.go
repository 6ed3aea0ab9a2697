package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// FileRepository is a MemoryRepository that writes a JSON snapshot after every change
// and restores it on start. JSON is produced through protojson so the file matches the
// structures the gRPC API renders.
type FileRepository struct {
	*MemoryRepository

	// path is the filesystem location of the snapshot.
	path string
	// mu serialises snapshot writes.
	mu sync.Mutex
}

type flagEntry struct {
	DeviceID int    `json:"deviceId"`
	Name     string `json:"name"`
	Value    bool   `json:"value"`
}

type snapshot struct {
	States         []*alarm.DeviceState  `json:"states"`
	Configs        []*alarm.DeviceConfig `json:"configs"`
	Statuses       []alarm.DeviceStatus  `json:"statuses"`
	Flags          []flagEntry           `json:"flags"`
	IgnoreNoAnswer bool                  `json:"ignoreNoAnswer"`
	LastEventID    int64                 `json:"lastEventId"`
}

// NewFileRepository loads the snapshot at path, starting empty when the file does not exist yet.
func NewFileRepository(path string) (*FileRepository, error) {
	r := &FileRepository{
		MemoryRepository: NewMemoryRepository(),
		path:             filepath.Clean(path),
	}

	if err := r.load(); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return r, nil
}

// SaveDeviceState stores state and persists the snapshot.
func (r *FileRepository) SaveDeviceState(ctx context.Context, state *alarm.DeviceState) error {
	if err := r.MemoryRepository.SaveDeviceState(ctx, state); err != nil {
		return err
	}

	return r.persist()
}

// SaveDeviceConfig stores cfg and persists the snapshot.
func (r *FileRepository) SaveDeviceConfig(ctx context.Context, cfg *alarm.DeviceConfig) error {
	if err := r.MemoryRepository.SaveDeviceConfig(ctx, cfg); err != nil {
		return err
	}

	return r.persist()
}

// DeleteDevice forgets the device and persists the snapshot.
func (r *FileRepository) DeleteDevice(ctx context.Context, deviceID int) error {
	if err := r.MemoryRepository.DeleteDevice(ctx, deviceID); err != nil {
		return err
	}

	return r.persist()
}

// SaveDeviceStatus stores status and persists the snapshot.
func (r *FileRepository) SaveDeviceStatus(ctx context.Context, status alarm.DeviceStatus) error {
	if err := r.MemoryRepository.SaveDeviceStatus(ctx, status); err != nil {
		return err
	}

	return r.persist()
}

// SetFlag stores a device flag and persists the snapshot.
func (r *FileRepository) SetFlag(ctx context.Context, deviceID int, name string, value bool) error {
	if err := r.MemoryRepository.SetFlag(ctx, deviceID, name, value); err != nil {
		return err
	}

	return r.persist()
}

// SetIgnoreNoAnswer stores the mute flag and persists the snapshot.
func (r *FileRepository) SetIgnoreNoAnswer(ctx context.Context, ignore bool) error {
	if err := r.MemoryRepository.SetIgnoreNoAnswer(ctx, ignore); err != nil {
		return err
	}

	return r.persist()
}

// SetLastEventID stores the event id and persists the snapshot.
func (r *FileRepository) SetLastEventID(ctx context.Context, id int64) error {
	if err := r.MemoryRepository.SetLastEventID(ctx, id); err != nil {
		return err
	}

	return r.persist()
}

func (r *FileRepository) load() error {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}

		return fmt.Errorf("read state file: %w", err)
	}

	var protoSnapshot structpb.Struct
	if err = protojson.Unmarshal(contents, &protoSnapshot); err != nil {
		return fmt.Errorf("decode state file: %w", err)
	}

	snap, err := fromProto(&protoSnapshot)
	if err != nil {
		return fmt.Errorf("decode state file: %w", err)
	}

	m := r.MemoryRepository

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range snap.States {
		m.states[s.DeviceID] = s
	}

	for _, c := range snap.Configs {
		m.configs[c.DeviceID] = c
	}

	for _, s := range snap.Statuses {
		m.statuses[s.DeviceID] = s
	}

	for _, f := range snap.Flags {
		m.flags[flagKey{f.DeviceID, f.Name}] = f.Value
	}

	m.ignore = snap.IgnoreNoAnswer
	m.lastEventID = snap.LastEventID

	return nil
}

func (r *FileRepository) persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	protoSnapshot, err := toProto(r.snapshot())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
		Indent:    "  ",
	}

	data, err := marshalOptions.Marshal(protoSnapshot)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}

func (r *FileRepository) snapshot() *snapshot {
	m := r.MemoryRepository

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &snapshot{
		States:         make([]*alarm.DeviceState, 0, len(m.states)),
		Configs:        make([]*alarm.DeviceConfig, 0, len(m.configs)),
		Statuses:       make([]alarm.DeviceStatus, 0, len(m.statuses)),
		Flags:          make([]flagEntry, 0, len(m.flags)),
		IgnoreNoAnswer: m.ignore,
		LastEventID:    m.lastEventID,
	}

	for _, s := range m.states {
		snap.States = append(snap.States, s)
	}

	for _, c := range m.configs {
		snap.Configs = append(snap.Configs, c)
	}

	for _, s := range m.statuses {
		snap.Statuses = append(snap.Statuses, s)
	}

	for k, v := range m.flags {
		snap.Flags = append(snap.Flags, flagEntry{DeviceID: k.deviceID, Name: k.name, Value: v})
	}

	slices.SortFunc(snap.States, func(a, b *alarm.DeviceState) int { return a.DeviceID - b.DeviceID })
	slices.SortFunc(snap.Configs, func(a, b *alarm.DeviceConfig) int { return a.DeviceID - b.DeviceID })
	slices.SortFunc(snap.Statuses, func(a, b alarm.DeviceStatus) int { return a.DeviceID - b.DeviceID })

	return snap
}

// toProto converts the snapshot into a protobuf Struct.
func toProto(snap *snapshot) (*structpb.Struct, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err = json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	return structpb.NewStruct(fields)
}

// fromProto converts a protobuf Struct back into a snapshot.
func fromProto(s *structpb.Struct) (*snapshot, error) {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, err
	}

	snap := new(snapshot)
	if err = json.Unmarshal(data, snap); err != nil {
		return nil, err
	}

	return snap, nil
}
