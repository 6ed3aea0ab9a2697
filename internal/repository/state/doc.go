// Package state implements the device cache the gateway reconciles against.
//
// Repository is the key-value view the rest of the gateway depends on: per-device state,
// configuration, connectivity status and power flags, plus a few gateway-wide values.
// MemoryRepository keeps everything in process; FileRepository adds a JSON snapshot on disk;
// RedisRepository shares the cache through Redis under the gateway's key prefix.
package state
