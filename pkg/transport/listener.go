package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fluffypony/universe/pkg/config"
	mcperrors "github.com/fluffypony/universe/pkg/errors"
	"github.com/fluffypony/universe/pkg/logging"
)

// Connection rejection reasons, as recorded in metrics
const (
	RejectAddress  = "address"
	RejectCapacity = "capacity"
)

var errFrameTooLarge = errors.New("frame exceeds maximum message size")

// Listener accepts agent connections on every allowed host address. Peers
// whose address is not allowed are dropped before anything is read from
// them. Each connection is served sequentially; connections are served
// concurrently up to the configured maximum.
type Listener struct {
	opts      options
	cfg       config.SecurityConfig
	handler   Handler
	listeners []net.Listener
	port      int
	sem       *semaphore.Weighted
	wg        sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	done   chan struct{}
}

// Listen binds cfg.Port on each of cfg.AllowedHostAddresses. With port 0
// the first bind picks an ephemeral port and the remaining addresses bind
// the same port. Addresses that cannot be bound are skipped with a warning;
// Listen fails only if none can be bound.
func Listen(cfg config.SecurityConfig, handler Handler, opts ...Option) (*Listener, error) {
	if handler == nil {
		return nil, errors.New("transport: nil handler")
	}
	o := newOptions(opts)
	cfg = cfg.Clone()

	hosts := cfg.AllowedHostAddresses
	if len(hosts) == 0 {
		hosts = []string{"127.0.0.1"}
	}

	l := &Listener{
		opts:    o,
		cfg:     cfg,
		handler: handler,
		sem:     semaphore.NewWeighted(int64(o.maxConnections)),
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}

	port := cfg.Port
	var errs []error
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			o.logger.Warn("failed to bind allowed address",
				logging.String("address", host),
				logging.ErrorField(err))
			errs = append(errs, err)
			continue
		}
		if port == 0 {
			port = ln.Addr().(*net.TCPAddr).Port
		}
		l.listeners = append(l.listeners, ln)
	}
	if len(l.listeners) == 0 {
		return nil, fmt.Errorf("no allowed address could be bound: %w", errors.Join(errs...))
	}
	l.port = port

	for _, ln := range l.listeners {
		o.logger.Info("MCP listener bound", logging.String("address", ln.Addr().String()))
	}
	return l, nil
}

// Port returns the bound port
func (l *Listener) Port() int { return l.port }

// Addr returns the first bound address
func (l *Listener) Addr() net.Addr { return l.listeners[0].Addr() }

// Addrs returns every bound address
func (l *Listener) Addrs() []net.Addr {
	out := make([]net.Addr, 0, len(l.listeners))
	for _, ln := range l.listeners {
		out = append(out, ln.Addr())
	}
	return out
}

// Serve accepts connections until ctx is cancelled or Close is called. It
// waits for in-flight requests to be answered before returning.
func (l *Listener) Serve(ctx context.Context) error {
	if l.isClosed() {
		return ErrClosed
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ln := range l.listeners {
		ln := ln
		g.Go(func() error {
			return l.acceptLoop(gctx, ln)
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-l.done:
		}
		return l.Close()
	})

	err := g.Wait()
	l.wg.Wait()
	return err
}

// Close stops accepting and unblocks idle connections. Requests already
// being handled are still answered.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	for conn := range l.conns {
		_ = conn.SetReadDeadline(time.Now())
	}
	l.mu.Unlock()

	var errs []error
	for _, ln := range l.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}
		l.admit(ctx, conn)
	}
}

// admit applies the address allow-list and the connection limit
func (l *Listener) admit(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}

	if !l.cfg.IsHostAllowed(host) {
		l.opts.metrics.RecordRejectedConnection(RejectAddress)
		l.opts.logger.Warn("connection rejected",
			logging.String("remote_addr", remote),
			logging.String("reason", "address not allowed"))
		_ = conn.Close()
		return
	}

	if !l.sem.TryAcquire(1) {
		l.opts.metrics.RecordRejectedConnection(RejectCapacity)
		l.opts.logger.Warn("connection rejected",
			logging.String("remote_addr", remote),
			logging.String("reason", "too many connections"),
			logging.Int("max_connections", l.opts.maxConnections))
		resp := mcperrors.ToJSONRPCResponse(mcperrors.ConnectionLimited(l.opts.maxConnections), nil)
		if data, err := json.Marshal(resp); err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			_, _ = conn.Write(append(data, '\n'))
		}
		_ = conn.Close()
		return
	}

	if !l.track(conn) {
		l.sem.Release(1)
		_ = conn.Close()
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.sem.Release(1)
		defer l.untrack(conn)
		l.serveConn(ctx, conn)
	}()
}

func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
	_ = conn.Close()
}

// armDeadline sets the idle deadline for the next read. It reports false
// once the listener is closed.
func (l *Listener) armDeadline(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	var deadline time.Time
	if l.opts.idleTimeout > 0 {
		deadline = time.Now().Add(l.opts.idleTimeout)
	}
	_ = conn.SetReadDeadline(deadline)
	return true
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	caller := Caller{
		ClientID:   uuid.NewString(),
		RemoteAddr: conn.RemoteAddr().String(),
	}
	logger := l.opts.logger.WithFields(
		logging.String("client_id", caller.ClientID),
		logging.String("remote_addr", caller.RemoteAddr),
	)
	logger.Info("client connected")

	l.opts.metrics.RecordActiveConnections(1)
	defer l.opts.metrics.RecordActiveConnections(-1)

	s := session{
		caller:  caller,
		handler: l.handler,
		opts:    &l.opts,
		logger:  logger,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		bucket:  newTokenBucket(l.opts.rateLimit, nil),
		arm:     func() bool { return l.armDeadline(conn) },
	}
	err := s.run(ctx)

	var ne net.Error
	switch {
	case err == nil:
		logger.Info("client disconnected")
	case errors.As(err, &ne) && ne.Timeout():
		if l.isClosed() {
			logger.Info("client disconnected on shutdown")
		} else {
			logger.Info("client idle timeout", logging.Duration("idle_timeout", l.opts.idleTimeout))
		}
	default:
		logger.Warn("client connection failed", logging.ErrorField(err))
	}
}

// session serves one framed stream
type session struct {
	caller  Caller
	handler Handler
	opts    *options
	logger  logging.Logger
	reader  *bufio.Reader
	writer  *bufio.Writer
	bucket  *tokenBucket
	arm     func() bool
}

// run reads frames until EOF. A nil error means the peer went away.
func (s *session) run(ctx context.Context) error {
	for {
		if s.arm != nil && !s.arm() {
			return nil
		}

		frame, err := readFrame(s.reader, s.opts.maxMessageSize)
		if errors.Is(err, errFrameTooLarge) {
			// framing is lost; answer once and hang up
			reply := s.handler.Reject(ctx, s.caller, nil, mcperrors.MessageTooLarge(s.opts.maxMessageSize))
			_ = s.write(reply)
			return err
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		frame = bytes.TrimSpace(frame)
		if len(frame) == 0 {
			continue
		}

		var reply []byte
		if s.bucket.allow() {
			reply = s.handler.Handle(ctx, s.caller, frame)
		} else {
			s.opts.metrics.RecordRateLimited()
			s.logger.Warn("request rate limited")
			reply = s.handler.Reject(ctx, s.caller, frame, mcperrors.RateLimited(s.opts.rateLimit.RequestsPerMinute))
		}
		if err := s.write(reply); err != nil {
			return err
		}
	}
}

func (s *session) write(reply []byte) error {
	if reply == nil {
		return nil
	}
	if _, err := s.writer.Write(reply); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	return s.writer.Flush()
}

// readFrame reads one newline-terminated frame of at most max bytes,
// excluding the newline. A final frame without a newline is returned at EOF.
func readFrame(r *bufio.Reader, max int) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(frame)+len(bytes.TrimSuffix(chunk, []byte("\n"))) > max {
			return nil, errFrameTooLarge
		}
		frame = append(frame, chunk...)

		switch {
		case err == nil:
			return frame, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(frame) > 0:
			return frame, nil
		default:
			return nil, err
		}
	}
}
