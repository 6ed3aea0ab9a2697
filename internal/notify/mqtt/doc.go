// Package mqtt publishes gateway notifications to an MQTT broker and accepts JSON-RPC
// commands from it.
//
// Topics follow NAMESPACE/SYSTEM/REGION/<KIND>/GATEWAY[/DEVICE]. Device state, status and
// configuration are retained; alarms and actions are plain events. Commands arrive on DCMD
// (per device) and NCMD (gateway) and are answered on DDATA and NDATA.
package mqtt
