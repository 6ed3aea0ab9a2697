// Package gateway runs one protocol adapter as an alarm bridge.
//
// Service is the adapter's event sink: it applies device events to the state cache through the
// reconciliation engine and completes pending commands in the correlation engine. It is also the
// command surface used by MQTT, gRPC and the scheduler. Run wires the process together.
package gateway
