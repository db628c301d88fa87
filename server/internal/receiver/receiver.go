package receiver

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/logmet/logmet-go/pkg/lumberjack"
	"github.com/logmet/logmet-go/pkg/producer"
	"github.com/logmet/logmet-go/server/internal/auth"
	"github.com/logmet/logmet-go/server/internal/store"
)

// errProtocol is returned when a client sends frames out of order.
var errProtocol = errors.New("receiver: protocol violation")

// Receiver accepts Lumberjack producer connections and writes every data
// frame it receives to the store.
type Receiver struct {
	store    *store.Store
	verifier *auth.Verifier
	idle     time.Duration
	metrics  *receiverMetrics

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a Receiver. Connections silent for longer than idle are
// closed. Metrics are registered with reg when it is non-nil.
func New(st *store.Store, v *auth.Verifier, idle time.Duration, reg prometheus.Registerer) (*Receiver, error) {
	m, err := newReceiverMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("receiver: register metrics: %w", err)
	}
	return &Receiver{
		store:    st,
		verifier: v,
		idle:     idle,
		metrics:  m,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// ListenAndServe listens on addr with TLS and serves until ctx is cancelled.
func (r *Receiver) ListenAndServe(ctx context.Context, addr string, tlsCfg *tls.Config) error {
	ln, err := tls.Listen("tcp", addr, tlsCfg)
	if err != nil {
		return fmt.Errorf("receiver: listen %s: %w", addr, err)
	}
	return r.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln
// and every open connection and waits for their handlers. ln is expected
// to be a TLS listener.
func (r *Receiver) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("receiver: listening", "addr", ln.Addr().String())
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		r.closeAll()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			r.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiver: accept: %w", err)
		}
		r.track(conn, true)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.track(conn, false)
			r.handle(conn)
		}()
	}
}

func (r *Receiver) track(conn net.Conn, add bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if add {
		r.conns[conn] = struct{}{}
		return
	}
	delete(r.conns, conn)
}

func (r *Receiver) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		_ = c.Close()
	}
}

// handle runs one producer session: identification, authentication, then
// window and data frames until the client disconnects or goes idle.
func (r *Receiver) handle(conn net.Conn) {
	defer conn.Close()
	r.metrics.connections.Inc()
	log := slog.With("remote", conn.RemoteAddr().String())
	br := bufio.NewReader(conn)

	id, err := r.handshake(conn, br, log)
	if err != nil {
		if !isClosed(err) {
			log.Warn("receiver: handshake failed", "err", err)
		}
		return
	}
	log = log.With("tenant_id", id.TenantID)

	var (
		credit   uint32
		received uint32
	)
	for {
		f, err := r.next(conn, br)
		if err != nil {
			switch {
			case isClosed(err):
				log.Debug("receiver: client disconnected")
			case isTimeout(err):
				log.Info("receiver: closing idle connection", "idle_timeout", r.idle)
			default:
				log.Warn("receiver: read failed", "err", err)
			}
			return
		}

		switch f.Type {
		case lumberjack.TypeWindow:
			credit, received = f.Credit, 0
		case lumberjack.TypeData:
			r.accept(id, f.Pairs)
			received++
			if credit == 0 || received >= credit {
				if _, err := conn.Write(lumberjack.EncodeAck(f.Seq)); err != nil {
					log.Warn("receiver: write ack failed", "err", err)
					return
				}
				received = 0
			}
		default:
			log.Warn("receiver: unexpected frame after handshake", "type", string(f.Type))
			return
		}
	}
}

func (r *Receiver) handshake(conn net.Conn, br *bufio.Reader, log *slog.Logger) (auth.Identity, error) {
	f, err := r.next(conn, br)
	if err != nil {
		return auth.Identity{}, err
	}
	if f.Type != lumberjack.TypeIdentify {
		return auth.Identity{}, fmt.Errorf("%w: expected identification, got %q", errProtocol, f.Type)
	}
	log.Debug("receiver: client identified", "client_id", f.ClientID)

	f, err = r.next(conn, br)
	if err != nil {
		return auth.Identity{}, err
	}
	if f.Type != lumberjack.TypeTenant && f.Type != lumberjack.TypeSuperTenant {
		return auth.Identity{}, fmt.Errorf("%w: expected authentication, got %q", errProtocol, f.Type)
	}

	id, err := r.verifier.Verify(f.TenantID, f.Token, f.SuperTenant)
	if err != nil {
		r.metrics.authFailures.Inc()
		_, _ = conn.Write(lumberjack.EncodeUnauthorized())
		return auth.Identity{}, fmt.Errorf("tenant %q: %w", f.TenantID, err)
	}
	if _, err := conn.Write(lumberjack.EncodeAck(0)); err != nil {
		return auth.Identity{}, err
	}
	log.Info("receiver: client authenticated", "tenant_id", id.TenantID, "supertenant", id.SuperTenant)
	return id, nil
}

// next reads one frame under the idle deadline.
func (r *Receiver) next(conn net.Conn, br *bufio.Reader) (lumberjack.Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(r.idle)); err != nil {
		return lumberjack.Frame{}, err
	}
	return lumberjack.ReadFrame(br)
}

// accept stores one record. A supertenant may write on behalf of the tenant
// named in the record; everyone else writes to their own tenant.
func (r *Receiver) accept(id auth.Identity, pairs lumberjack.FlatRecord) {
	fields := pairs.Map()
	tenant := id.TenantID
	if t := fields[producer.TenantField]; id.SuperTenant && t != "" {
		tenant = t
	}
	doc := r.store.Put(tenant, fields[producer.TypeField], fields)
	r.metrics.records.Inc()
	slog.Debug("receiver: record stored", "id", doc.ID, "tenant_id", tenant, "type", doc.Type, "fields", len(fields))
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
