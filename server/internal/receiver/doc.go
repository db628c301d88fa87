// Package receiver is the Lumberjack side of the ingest sink.
//
// Each connection must open with an identification frame followed by a
// tenant or supertenant authentication frame. Valid credentials are answered
// with an ack of sequence 0; invalid ones with the unauthorized reply, after
// which the connection is closed. Data frames are then stored and
// acknowledged with their sequence number each time the credit announced
// by the last window frame has been used up.
package receiver
