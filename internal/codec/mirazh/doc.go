// Package mirazh decodes the Mirazh (STEMAX) event feed and encodes commands for its TCP channel.
//
// Events arrive as JSON rows published through Postgres NOTIFY on "event_channel". A row is
// identified by its "type/subtype" key; zone state rows carry a zone-state dictionary id in the
// first data byte. Commands travel over a separate TCP connection as CRC16/MODBUS sealed frames.
package mirazh
