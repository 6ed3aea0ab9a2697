// Package mirazh adapts the Mirazh monitoring server.
//
// Events arrive as Postgres NOTIFY rows; commands leave over a TCP channel. Zone-state rows
// are batched per object and folded into one full observation, zones the batch did not
// mention are reported as unknown.
package mirazh
