// Package proton implements the Proton binary wire protocol.
//
// A frame is laid out as
//
//	47 50 02 00 40 01 LL LL | C0 01 <n> <ascii id> | body | 40 02 <crc hi> <crc lo>
//
// where LL LL is the total frame length. The body starts with a 16-bit command;
// event bodies carry a tag-length-value stream (object number, system number,
// event code and data, channel, timestamp, SIM, signal level).
//
// Decode never fails on a bad checksum: Packet.ChecksumValid records the verdict
// and the caller decides whether to drop the packet. Splitter cuts a TCP byte
// stream into frames, buffering a partial trailing frame until the rest arrives.
package proton
