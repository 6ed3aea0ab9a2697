// Package scheduler runs the gateway's timed commands: a repeating test per device and the
// arm-control jobs that disarm zones when their permitted window opens and arm them when it
// closes. Jobs are cron entries; a job that is still running when its next tick comes is skipped.
package scheduler
