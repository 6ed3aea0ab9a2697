package state

import (
	"context"
	"errors"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// ErrNotFound is returned when the requested entry is not cached.
var ErrNotFound = errors.New("not found in cache")

// Device flags.
const (
	// FlagBattery is true while the device battery is healthy.
	FlagBattery = "battery"
	// FlagPower is true while the device has mains power.
	FlagPower = "power"
)

// Repository defines the cache operations of the gateway.
type Repository interface {
	DeviceState(ctx context.Context, deviceID int) (*alarm.DeviceState, error)
	SaveDeviceState(ctx context.Context, state *alarm.DeviceState) error

	DeviceConfig(ctx context.Context, deviceID int) (*alarm.DeviceConfig, error)
	SaveDeviceConfig(ctx context.Context, cfg *alarm.DeviceConfig) error
	// DeviceIDs lists the configured devices in ascending order.
	DeviceIDs(ctx context.Context) ([]int, error)
	// DeleteDevice drops configuration, state and status of a device.
	DeleteDevice(ctx context.Context, deviceID int) error

	DeviceStatus(ctx context.Context, deviceID int) (*alarm.DeviceStatus, error)
	SaveDeviceStatus(ctx context.Context, status alarm.DeviceStatus) error

	// Flag returns ErrNotFound until the flag is first set.
	Flag(ctx context.Context, deviceID int, name string) (bool, error)
	SetFlag(ctx context.Context, deviceID int, name string, value bool) error

	IgnoreNoAnswer(ctx context.Context) (bool, error)
	SetIgnoreNoAnswer(ctx context.Context, ignore bool) error

	// LastEventID is the last processed event table id, zero when unknown.
	LastEventID(ctx context.Context) (int64, error)
	SetLastEventID(ctx context.Context, id int64) error
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*FileRepository)(nil)
	_ Repository = (*RedisRepository)(nil)
)
