// Package gateway implements the gRPC control surface of the gateway.
//
// The service is declared by hand as alarmbridge.v1.Gateway and exchanges
// google.protobuf.Struct messages, so clients need no generated stubs.
package gateway
