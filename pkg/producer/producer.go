package producer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/logmet/logmet-go/pkg/lumberjack"
)

// Fields injected into every record by Send.
const (
	TenantField = "ALCH_TENANT_ID"
	TypeField   = "type"
)

// Record is one structured log record. Values may be strings, numbers,
// lists or nested records; anything else is dropped when the record is
// flattened.
type Record map[string]any

// State is the connection state of a Producer.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// SendStatus reports the connection state observed when a record was
// accepted.
type SendStatus struct {
	ConnectionActive bool
}

// Stats is a point-in-time view of a Producer.
type Stats struct {
	State      State
	Pending    int
	InFlight   int
	Sequence   uint32
	NextRetry  time.Duration
	Terminated bool
}

// Producer delivers records to a Lumberjack service over one TLS connection,
// reconnecting with exponential backoff and resending unacknowledged records
// after every reconnect.
//
// All connection state is owned by a single goroutine; the exported methods
// talk to it over a channel and are safe for concurrent use.
type Producer struct {
	cfg     Config
	log     *slog.Logger
	metrics *producerMetrics
	dial    dialFunc

	events    chan event
	ready     chan error
	done      chan struct{}
	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	// owned by run
	state         State
	pending       *pendingQueue
	window        *window
	backoff       *backoff
	sess          *session
	gen           uint64
	retryTimer    *time.Timer
	connectCalled bool
	handshaken    bool
	notified      bool
	fatal         error
	terminating   bool
	closed        bool
}

// New validates cfg and returns an idle producer. Nothing is dialed until
// Connect is called; records sent before then are buffered.
func New(cfg Config) (*Producer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m, err := newProducerMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("producer: register metrics: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Producer{
		cfg:     cfg,
		log:     cfg.Logger.With("endpoint", cfg.Addr(), "tenant", cfg.TenantID),
		metrics: m,
		dial:    tlsDialer(cfg.TLS, cfg.IdleTimeout),
		events:  make(chan event, 64),
		ready:   make(chan error, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		pending: newPendingQueue(cfg.BufferSize),
		window:  newWindow(cfg.MaxUnacked),
		backoff: newBackoff(cfg.RetryInitial, cfg.RetryMax),
	}, nil
}

// Connect starts the connection and blocks until the first handshake
// completes, the first attempt is refused as unauthorized (a *FatalAuthError),
// or ctx is done. Returning on ctx does not stop the producer: it keeps
// retrying in the background. Connect may be called once; any later call,
// including one after ctx ended the first, returns ErrAlreadyConnecting
// without waiting. Use Stats to follow the connection after that.
func (p *Producer) Connect(ctx context.Context) error {
	p.start()
	reply := make(chan error, 1)
	if !p.post(connectRequest{reply: reply}) {
		return ErrTerminated
	}
	err, ok := await(p, reply)
	if !ok {
		return ErrTerminated
	}
	if err != nil {
		return err
	}
	select {
	case err := <-p.ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send copies rec, tags it with typ and tenantID, flattens it and appends it
// to the pending buffer. It returns ErrBufferFull when the buffer is at
// capacity and the fatal error once the producer has given up.
func (p *Producer) Send(rec Record, typ, tenantID string) (SendStatus, error) {
	p.start()
	flat := lumberjack.Flatten(tagged(rec, typ, tenantID))
	reply := make(chan sendReply, 1)
	if !p.post(sendRequest{rec: flat, reply: reply}) {
		return SendStatus{}, ErrTerminated
	}
	r, ok := await(p, reply)
	if !ok {
		return SendStatus{}, ErrTerminated
	}
	return r.status, r.err
}

// Terminate stops accepting records and closes the connection once every
// buffered record has been acknowledged. It returns immediately; Done is
// closed when the producer has shut down.
func (p *Producer) Terminate() {
	p.start()
	p.post(terminateRequest{})
}

// Done is closed once Terminate has finished.
func (p *Producer) Done() <-chan struct{} {
	return p.done
}

// Stats returns a snapshot of the producer state.
func (p *Producer) Stats() Stats {
	p.start()
	reply := make(chan Stats, 1)
	if !p.post(statsRequest{reply: reply}) {
		return Stats{Terminated: true}
	}
	st, ok := await(p, reply)
	if !ok {
		return Stats{Terminated: true}
	}
	return st
}

// --- event loop ---

type event any

type (
	connectRequest struct{ reply chan error }
	sendRequest    struct {
		rec   lumberjack.FlatRecord
		reply chan sendReply
	}
	sendReply struct {
		status SendStatus
		err    error
	}
	statsRequest     struct{ reply chan Stats }
	terminateRequest struct{}
	terminatePoll    struct{}
	retryDue         struct{}

	dialResult struct {
		gen  uint64
		conn net.Conn
		err  error
	}
	ackReceived struct {
		gen uint64
		ack lumberjack.Ack
	}
	transportFailed struct {
		gen  uint64
		err  error
		idle bool
	}
)

func (p *Producer) start() {
	p.startOnce.Do(func() { go p.run() })
}

// post delivers ev to the loop. It reports false once the loop has exited.
// events is buffered, so done is checked first: a send into the buffer
// after the loop exited would never be read.
func (p *Producer) post(ev event) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.events <- ev:
		return true
	case <-p.done:
		return false
	}
}

// await waits for the loop to answer on reply. It reports false when the
// loop exited without answering, which happens when the event was queued
// behind the one that shut it down.
func await[T any](p *Producer, reply <-chan T) (T, bool) {
	select {
	case r := <-reply:
		return r, true
	case <-p.done:
	}
	// The final event is answered before done closes.
	select {
	case r := <-reply:
		return r, true
	default:
		var zero T
		return zero, false
	}
}

func (p *Producer) run() {
	defer close(p.done)
	for !p.closed {
		p.handle(<-p.events)
		p.observe()
	}
}

func (p *Producer) handle(ev event) {
	switch ev := ev.(type) {
	case connectRequest:
		p.onConnect(ev)
	case sendRequest:
		ev.reply <- p.onSend(ev.rec)
	case statsRequest:
		ev.reply <- Stats{
			State:      p.state,
			Pending:    p.pending.len(),
			InFlight:   p.window.len(),
			Sequence:   p.window.seq,
			NextRetry:  p.backoff.peek(),
			Terminated: p.closed,
		}
	case terminateRequest:
		if !p.terminating {
			p.terminating = true
			p.log.Info("producer: terminating",
				"pending", p.pending.len(), "inflight", p.window.len())
			p.pollTerminate()
		}
	case terminatePoll:
		p.pollTerminate()
	case retryDue:
		p.retryTimer = nil
		p.metrics.reconnects.Inc()
		p.dialNow()
	case dialResult:
		p.onDial(ev)
	case ackReceived:
		if p.current(ev.gen) {
			p.onAck(ev.ack)
		}
	case transportFailed:
		if p.current(ev.gen) {
			p.connectionLost(ev.err, ev.idle)
		}
	}
}

// current reports whether gen belongs to the live session.
func (p *Producer) current(gen uint64) bool {
	return p.sess != nil && p.sess.gen == gen && gen == p.gen
}

func (p *Producer) onConnect(ev connectRequest) {
	switch {
	case p.connectCalled:
		ev.reply <- ErrAlreadyConnecting
		return
	case p.terminating:
		ev.reply <- ErrTerminated
		return
	}
	p.connectCalled = true
	ev.reply <- nil
	p.log.Info("producer: connecting", "client_id", p.cfg.ClientID)
	p.dialNow()
}

func (p *Producer) onSend(rec lumberjack.FlatRecord) sendReply {
	status := SendStatus{ConnectionActive: p.state == StateConnected}
	switch {
	case p.terminating:
		return sendReply{status, ErrTerminated}
	case p.fatal != nil:
		return sendReply{status, p.fatal}
	case p.pending.full():
		p.metrics.rejected.Inc()
		p.log.Warn("producer: buffer full, record rejected", "buffer_cap", p.cfg.BufferSize)
		return sendReply{status, ErrBufferFull}
	}
	p.pending.push(rec)
	p.metrics.enqueued.Inc()
	if status.ConnectionActive {
		p.drain()
	}
	return sendReply{status, nil}
}

// dialNow opens a new connection in the background. The sequence counter
// starts over for every connection.
func (p *Producer) dialNow() {
	p.gen++
	gen := p.gen
	p.state = StateConnecting
	p.window.reset()
	addr := p.cfg.Addr()
	go func() {
		conn, err := p.dial(p.ctx, addr)
		if !p.post(dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (p *Producer) onDial(ev dialResult) {
	if ev.gen != p.gen || p.closed {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}
	if ev.err != nil {
		p.state = StateDisconnected
		switch {
		case !p.handshaken && isAuthorizationError(ev.err):
			p.failFatal(ev.err)
		case isUnreachable(ev.err):
			p.log.Error("producer: connection refused or network down", "err", ev.err)
			p.scheduleRetry(ev.err)
		default:
			p.scheduleRetry(ev.err)
		}
		return
	}

	p.sess = newSession(ev.gen, ev.conn, p.cfg.IdleTimeout, p.cfg.MaxUnacked+4,
		func(ev event) { p.post(ev) })

	ident, err := lumberjack.EncodeIdentification(p.cfg.ClientID)
	if err != nil {
		p.connectionLost(err, false)
		return
	}
	auth, err := lumberjack.EncodeAuthentication(p.cfg.TenantID, p.cfg.Token, p.cfg.SuperTenant)
	if err != nil {
		p.connectionLost(err, false)
		return
	}
	if err := p.sess.write(ident, auth); err != nil {
		p.connectionLost(err, false)
		return
	}
	p.log.Debug("producer: sent identification and authentication")
}

func (p *Producer) onAck(ack lumberjack.Ack) {
	switch ack.Kind {
	case lumberjack.AckUnauthorized:
		if !p.handshaken {
			p.failFatal(ErrUnauthorized)
			return
		}
		p.connectionLost(ErrUnauthorized, false)
		return
	case lumberjack.AckOK:
	default:
		p.log.Error("producer: unknown acknowledgment",
			"version", string(ack.Version), "type", string(ack.Type))
		return
	}

	if n := p.window.ack(ack.Seq, p.state == StateConnected); n > 0 {
		p.metrics.acked.Add(float64(n))
		p.log.Debug("producer: records acknowledged", "seq", ack.Seq, "released", n)
	}

	if ack.Seq == 0 {
		p.log.Info("producer: handshake complete", "resending", p.window.len())
		p.backoff.reset()
		for _, rec := range p.window.records() {
			if err := p.transmit(rec); err != nil {
				p.connectionLost(err, false)
				return
			}
		}
		if !p.handshaken {
			p.handshaken = true
			p.notify(nil)
		}
	}

	p.state = StateConnected
	p.drain()
}

// drain moves records from the pending buffer into the window while
// connected and the window has room.
func (p *Producer) drain() {
	for p.state == StateConnected && p.pending.len() > 0 && p.window.hasCredit() {
		rec := p.pending.peek()
		if size := lumberjack.DataFrameSize(rec); size >= lumberjack.MaxFrameSize {
			p.pending.pop()
			p.metrics.dropped.WithLabelValues(dropOversized).Inc()
			p.log.Error("producer: record too large, dropped",
				"frame_bytes", size, "limit", lumberjack.MaxFrameSize)
			continue
		}
		if err := p.transmit(rec); err != nil {
			p.connectionLost(err, false)
			return
		}
		p.window.push(p.pending.pop())
	}
}

// transmit writes rec as a window frame plus data frame under the next
// sequence number.
func (p *Producer) transmit(rec lumberjack.FlatRecord) error {
	seq, err := p.window.nextSequence()
	if err != nil {
		return err
	}
	frame, err := lumberjack.EncodeData(seq, rec)
	if err != nil {
		return err
	}
	if err := p.sess.write(lumberjack.EncodeWindow(1), frame); err != nil {
		return err
	}
	p.metrics.sent.Inc()
	return nil
}

// connectionLost tears the session down and arranges the next attempt. An
// idle timeout reconnects at once without touching the backoff.
func (p *Producer) connectionLost(err error, idle bool) {
	if p.state == StateDisconnected {
		return
	}
	p.teardown()
	if idle {
		p.log.Warn("producer: connection idle, reconnecting", "idle_timeout", p.cfg.IdleTimeout)
		p.metrics.reconnects.Inc()
		p.dialNow()
		return
	}
	p.scheduleRetry(err)
}

func (p *Producer) scheduleRetry(err error) {
	if p.retryTimer != nil || p.closed || p.fatal != nil {
		return
	}
	wait := p.backoff.next()
	p.log.Warn("producer: connection lost, will reconnect", "err", err, "retry_in", wait)
	p.retryTimer = time.AfterFunc(wait, func() { p.post(retryDue{}) })
}

func (p *Producer) teardown() {
	if p.sess != nil {
		p.sess.close()
		p.sess = nil
	}
	p.state = StateDisconnected
}

func (p *Producer) failFatal(err error) {
	p.teardown()
	p.fatal = &FatalAuthError{Err: err}
	p.log.Error("producer: connection not authorized, giving up", "err", err)
	p.notify(p.fatal)
	if p.terminating {
		p.shutdown()
	}
}

func (p *Producer) pollTerminate() {
	if p.closed {
		return
	}
	if p.fatal != nil || (p.pending.len() == 0 && p.window.len() == 0) {
		p.shutdown()
		return
	}
	p.log.Debug("producer: waiting for records to drain",
		"pending", p.pending.len(), "inflight", p.window.len())
	time.AfterFunc(p.cfg.TerminatePoll, func() { p.post(terminatePoll{}) })
}

func (p *Producer) shutdown() {
	p.closed = true
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	p.teardown()
	p.cancel()
	p.notify(ErrTerminated)
	p.log.Info("producer: terminated")
}

// notify resolves a pending Connect exactly once.
func (p *Producer) notify(err error) {
	if !p.notified {
		p.notified = true
		p.ready <- err
	}
}

func (p *Producer) observe() {
	p.metrics.pending.Set(float64(p.pending.len()))
	p.metrics.inflight.Set(float64(p.window.len()))
	if p.state == StateConnected {
		p.metrics.connected.Set(1)
	} else {
		p.metrics.connected.Set(0)
	}
}

func tagged(rec Record, typ, tenantID string) map[string]any {
	out := make(map[string]any, len(rec)+2)
	for k, v := range rec {
		out[k] = v
	}
	out[TenantField] = tenantID
	out[TypeField] = typ
	return out
}
