package producer

import (
	"math"

	"github.com/logmet/logmet-go/pkg/lumberjack"
)

// MaxSequence is the highest sequence number sent before a reconnect is
// forced. The service does not handle rollover, so the counter never wraps.
const MaxSequence = math.MaxUint32 - 1

// window tracks the records sent on the current connection that the service
// has not yet acknowledged, plus the sequence and ack counters of that
// connection.
type window struct {
	capacity int
	maxSeq   uint32

	seq      uint32
	prevAck  int64
	curAck   int64
	inflight []lumberjack.FlatRecord
}

func newWindow(capacity int) *window {
	w := &window{capacity: capacity, maxSeq: MaxSequence}
	w.reset()
	return w
}

// reset prepares the counters for a new connection. In-flight records are
// kept; they are resent once the new handshake completes.
func (w *window) reset() {
	w.seq = 0
	w.prevAck, w.curAck = -1, -1
}

func (w *window) len() int { return len(w.inflight) }

func (w *window) hasCredit() bool { return len(w.inflight) < w.capacity }

func (w *window) push(rec lumberjack.FlatRecord) {
	w.inflight = append(w.inflight, rec)
}

// records returns the in-flight records in send order.
func (w *window) records() []lumberjack.FlatRecord {
	return w.inflight
}

// nextSequence returns the sequence number for the next data frame.
func (w *window) nextSequence() (uint32, error) {
	if w.seq >= w.maxSeq {
		return 0, ErrSequenceExhausted
	}
	w.seq++
	return w.seq, nil
}

// ack records an acknowledgment and returns how many records it released
// from the front of the window. Acks are cumulative: n releases
// n-previousAck records. Zero marks a completed handshake and releases
// nothing; neither does an ack received while not connected.
func (w *window) ack(n uint32, connected bool) int {
	w.prevAck, w.curAck = w.curAck, int64(n)
	if n == 0 || !connected {
		return 0
	}
	k := w.curAck - w.prevAck
	if k <= 0 {
		return 0
	}
	if k > int64(len(w.inflight)) {
		k = int64(len(w.inflight))
	}
	remaining := copy(w.inflight, w.inflight[k:])
	clear(w.inflight[remaining:])
	w.inflight = w.inflight[:remaining]
	return int(k)
}
