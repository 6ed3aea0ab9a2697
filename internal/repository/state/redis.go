package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// Key layout shared with the other gateway tooling reading the same Redis.
const (
	statePrefix    = "state_"
	statusPrefix   = "status_"
	configPrefix   = "config_"
	lastEventIDKey = "last_event_id"
	// IgnoreNoAnswerKey is global for every gateway using the Redis database.
	IgnoreNoAnswerKey = "NO_ANSWER_IGNORE"

	scanBatch = 200
)

// RedisRepository keeps the cache in Redis under a per-gateway key prefix.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRepository creates a repository using client; prefix separates gateways sharing a database.
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	return &RedisRepository{client: client, prefix: prefix}
}

// Ping checks the connection.
func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	return nil
}

// Close releases the client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// DeviceState reads the cached state.
func (r *RedisRepository) DeviceState(ctx context.Context, deviceID int) (*alarm.DeviceState, error) {
	state := new(alarm.DeviceState)
	if err := r.getJSON(ctx, r.deviceKey(statePrefix, deviceID), state); err != nil {
		return nil, err
	}

	state.DeviceID = deviceID

	return state, nil
}

// SaveDeviceState writes the state.
func (r *RedisRepository) SaveDeviceState(ctx context.Context, state *alarm.DeviceState) error {
	return r.setJSON(ctx, r.deviceKey(statePrefix, state.DeviceID), state)
}

// DeviceConfig reads the cached configuration.
func (r *RedisRepository) DeviceConfig(ctx context.Context, deviceID int) (*alarm.DeviceConfig, error) {
	cfg := new(alarm.DeviceConfig)
	if err := r.getJSON(ctx, r.deviceKey(configPrefix, deviceID), cfg); err != nil {
		return nil, err
	}

	cfg.DeviceID = deviceID

	return cfg, nil
}

// SaveDeviceConfig writes the configuration.
func (r *RedisRepository) SaveDeviceConfig(ctx context.Context, cfg *alarm.DeviceConfig) error {
	return r.setJSON(ctx, r.deviceKey(configPrefix, cfg.DeviceID), cfg)
}

// DeviceIDs scans the configuration keys.
func (r *RedisRepository) DeviceIDs(ctx context.Context) ([]int, error) {
	var (
		ids     []int
		pattern = r.prefix + configPrefix + "*"
		iter    = r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	)

	for iter.Next(ctx) {
		if id, ok := r.parseDeviceKey(configPrefix, iter.Val()); ok {
			ids = append(ids, id)
		}
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan device keys: %w", err)
	}

	slices.Sort(ids)

	return slices.Compact(ids), nil
}

// DeleteDevice removes configuration, state, status and flags.
func (r *RedisRepository) DeleteDevice(ctx context.Context, deviceID int) error {
	keys := []string{
		r.deviceKey(configPrefix, deviceID),
		r.deviceKey(statePrefix, deviceID),
		r.deviceKey(statusPrefix, deviceID),
		r.flagKey(deviceID, FlagBattery),
		r.flagKey(deviceID, FlagPower),
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete device %d: %w", deviceID, err)
	}

	return nil
}

// DeviceStatus reads the connectivity status.
func (r *RedisRepository) DeviceStatus(ctx context.Context, deviceID int) (*alarm.DeviceStatus, error) {
	status := new(alarm.DeviceStatus)
	if err := r.getJSON(ctx, r.deviceKey(statusPrefix, deviceID), status); err != nil {
		return nil, err
	}

	status.DeviceID = deviceID

	return status, nil
}

// SaveDeviceStatus writes the connectivity status.
func (r *RedisRepository) SaveDeviceStatus(ctx context.Context, status alarm.DeviceStatus) error {
	return r.setJSON(ctx, r.deviceKey(statusPrefix, status.DeviceID), status)
}

// Flag reads a device flag.
func (r *RedisRepository) Flag(ctx context.Context, deviceID int, name string) (bool, error) {
	var v bool
	if err := r.getJSON(ctx, r.flagKey(deviceID, name), &v); err != nil {
		return false, err
	}

	return v, nil
}

// SetFlag writes a device flag.
func (r *RedisRepository) SetFlag(ctx context.Context, deviceID int, name string, value bool) error {
	return r.setJSON(ctx, r.flagKey(deviceID, name), value)
}

// IgnoreNoAnswer reads the global mute flag, stored as "1" or "0".
func (r *RedisRepository) IgnoreNoAnswer(ctx context.Context) (bool, error) {
	v, err := r.client.Get(ctx, IgnoreNoAnswerKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}

		return false, fmt.Errorf("get %s: %w", IgnoreNoAnswerKey, err)
	}

	return v == "1", nil
}

// SetIgnoreNoAnswer writes the global mute flag.
func (r *RedisRepository) SetIgnoreNoAnswer(ctx context.Context, ignore bool) error {
	v := "0"
	if ignore {
		v = "1"
	}

	if err := r.client.Set(ctx, IgnoreNoAnswerKey, v, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", IgnoreNoAnswerKey, err)
	}

	return nil
}

// LastEventID reads the last processed event id.
func (r *RedisRepository) LastEventID(ctx context.Context) (int64, error) {
	var id int64

	err := r.getJSON(ctx, r.prefix+lastEventIDKey, &id)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}

	return id, err
}

// SetLastEventID writes the last processed event id.
func (r *RedisRepository) SetLastEventID(ctx context.Context, id int64) error {
	return r.setJSON(ctx, r.prefix+lastEventIDKey, id)
}

func (r *RedisRepository) getJSON(ctx context.Context, key string, dst any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}

		return fmt.Errorf("get %s: %w", key, err)
	}

	if err = json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}

	return nil
}

func (r *RedisRepository) setJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	if err = r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	return nil
}

func (r *RedisRepository) deviceKey(kind string, deviceID int) string {
	return r.prefix + kind + strconv.Itoa(deviceID)
}

// flagKey renders "<prefix>battery:<id>".
func (r *RedisRepository) flagKey(deviceID int, name string) string {
	return r.prefix + name + ":" + strconv.Itoa(deviceID)
}

func (r *RedisRepository) parseDeviceKey(kind, key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, r.prefix+kind)
	if !ok {
		return 0, false
	}

	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}

	return id, true
}
