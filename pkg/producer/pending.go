package producer

import "github.com/logmet/logmet-go/pkg/lumberjack"

// pendingQueue is the bounded FIFO of records not yet sent.
type pendingQueue struct {
	capacity int
	items    []lumberjack.FlatRecord
}

func newPendingQueue(capacity int) *pendingQueue {
	return &pendingQueue{capacity: capacity, items: make([]lumberjack.FlatRecord, 0, capacity)}
}

func (q *pendingQueue) len() int { return len(q.items) }

func (q *pendingQueue) full() bool { return len(q.items) >= q.capacity }

func (q *pendingQueue) push(rec lumberjack.FlatRecord) {
	q.items = append(q.items, rec)
}

func (q *pendingQueue) peek() lumberjack.FlatRecord {
	return q.items[0]
}

func (q *pendingQueue) pop() lumberjack.FlatRecord {
	rec := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
	}
	return rec
}
