// Package transport holds the panel-side connections: a reconnecting TCP client, a UDP peer
// and a Postgres LISTEN/NOTIFY listener. Each owns its reconnect loop; protocol adapters only
// see bytes or payloads and connection callbacks.
package transport
