// Package adapter defines the capability every protocol family provides to the gateway.
//
// An adapter owns its transport and session housekeeping, encodes commands and turns raw
// inbound units into classified events and acknowledgements. The correlation and
// reconciliation engines only see the types declared here.
package adapter
