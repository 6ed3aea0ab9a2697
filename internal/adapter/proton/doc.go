// Package proton adapts the Proton TCP event server.
//
// The session logs in, acknowledges every inbound packet, answers keep-alives and drops
// duplicate packet ids. Events are interpreted by code: state reports carry the armed and
// active zone bytes, actions carry the user and zone mask, alarms carry the zone number.
package proton
