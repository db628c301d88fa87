package producer

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/logmet/logmet-go/pkg/lumberjack"
)

// dialFunc opens the transport session. Abstracted so tests can hand the
// producer an in-memory connection.
type dialFunc func(ctx context.Context, addr string) (net.Conn, error)

func tlsDialer(cfg *tls.Config, timeout time.Duration) dialFunc {
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    cfg,
	}
	return func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
}

// session owns one transport connection. Its reader and writer goroutines
// report back to the producer loop, tagged with the connection generation.
type session struct {
	gen     uint64
	conn    net.Conn
	idle    time.Duration
	out     chan []byte
	closed  chan struct{}
	closing sync.Once
	post    func(event)
}

func newSession(gen uint64, conn net.Conn, idle time.Duration, backlog int, post func(event)) *session {
	s := &session{
		gen:    gen,
		conn:   conn,
		idle:   idle,
		out:    make(chan []byte, backlog),
		closed: make(chan struct{}),
		post:   post,
	}
	go s.readLoop()
	go s.writeLoop()
	return s
}

// write queues frames for the writer goroutine. It never blocks; a full
// backlog means the peer stopped reading and is reported as an error.
func (s *session) write(frames ...[]byte) error {
	var buf []byte
	if len(frames) == 1 {
		buf = frames[0]
	} else {
		for _, f := range frames {
			buf = append(buf, f...)
		}
	}
	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	select {
	case s.out <- buf:
		return nil
	default:
		return errWriteBacklog
	}
}

func (s *session) close() {
	s.closing.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *session) readLoop() {
	r := bufio.NewReader(s.conn)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.idle)); err != nil {
			s.post(transportFailed{gen: s.gen, err: err})
			return
		}
		ack, err := lumberjack.ReadAck(r)
		if err != nil {
			s.post(transportFailed{gen: s.gen, err: err, idle: isTimeout(err)})
			return
		}
		s.post(ackReceived{gen: s.gen, ack: ack})
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case buf := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.idle))
			if _, err := s.conn.Write(buf); err != nil {
				s.post(transportFailed{gen: s.gen, err: err})
				return
			}
		}
	}
}
