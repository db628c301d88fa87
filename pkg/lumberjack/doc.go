// Package lumberjack encodes and decodes the frames of the Logmet
// multi-tenant Lumberjack protocol and flattens nested records into the
// dotted key/value pairs carried by data frames.
//
// Frames (all integers big-endian):
//
//	Identification  "1I" | u8 len | client id
//	Authentication  "2S" or "2T" | u8 len | tenant id | u8 len | token
//	Window          "1W" | u32 credit
//	Data            "1D" | u32 seq | u32 pairs | (u32 len | key | u32 len | value)...
//	Ack (inbound)   "1A" | u32 seq, or "0A" when the credentials were rejected
//
// Everything here is stateless. The producer package owns sequencing and
// flow control; the development sink in server/ uses ReadFrame to decode
// what producers send.
package lumberjack
