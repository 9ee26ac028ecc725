package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fluffypony/universe/pkg/logging"
)

// Message types sent by clients
const (
	MsgSubscribe    = "subscribe"
	MsgUnsubscribe  = "unsubscribe"
	MsgUpdateFilter = "update_filter"
	MsgGetStatus    = "get_status"
	MsgPing         = "ping"
)

// Message types sent by the server
const (
	MsgSubscribed    = "subscribed"
	MsgUnsubscribed  = "unsubscribed"
	MsgFilterUpdated = "filter_updated"
	MsgStatus        = "status"
	MsgPong          = "pong"
	MsgError         = "error"
	MsgEvent         = "event"
)

// Error codes carried by error messages
const (
	ErrCodeBadMessage     = 400
	ErrCodeBadFilter      = 422
	ErrCodeNotSubscribed  = 409
	ErrCodeUnknownMessage = 404
	ErrCodeUnavailable    = 503
)

// Metadata describes a subscribing client
type Metadata struct {
	ClientName    string   `json:"client_name,omitempty"`
	ClientVersion string   `json:"client_version,omitempty"`
	UserAgent     string   `json:"user_agent,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// ClientMessage is a request from a stream client
type ClientMessage struct {
	Type     string    `json:"type"`
	Filter   *Filter   `json:"filter,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// SubscriptionInfo describes an active subscription
type SubscriptionInfo struct {
	ClientID  string    `json:"client_id"`
	Filter    Filter    `json:"filter"`
	CreatedAt int64     `json:"created_at"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// ServerMessage is a response or event sent to a stream client
type ServerMessage struct {
	Type           string            `json:"type"`
	ClientID       string            `json:"client_id,omitempty"`
	Filter         *Filter           `json:"filter,omitempty"`
	Subscription   *SubscriptionInfo `json:"subscription,omitempty"`
	ConnectionTime *int64            `json:"connection_time,omitempty"`
	EventsReceived *uint64           `json:"events_received,omitempty"`
	Message        string            `json:"message,omitempty"`
	Code           int               `json:"code,omitempty"`
	Event          *Event            `json:"event,omitempty"`
}

// StreamServer serves the event bus over WebSocket
type StreamServer struct {
	bus         *Bus
	logger      logging.Logger
	hostAllowed func(host string) bool
	available   func() bool
	onClients   func(delta int)
	readLimit   int64

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*streamClient

	clients  atomic.Int64
	rejected atomic.Uint64
}

// StreamOption configures a StreamServer
type StreamOption func(*StreamServer)

// WithStreamLogger sets the logger
func WithStreamLogger(logger logging.Logger) StreamOption {
	return func(s *StreamServer) {
		s.logger = logger
	}
}

// WithHostCheck rejects clients whose remote IP fails fn
func WithHostCheck(fn func(host string) bool) StreamOption {
	return func(s *StreamServer) {
		s.hostAllowed = fn
	}
}

// WithAvailability makes the stream refuse clients, subscriptions and
// events while fn reports false
func WithAvailability(fn func() bool) StreamOption {
	return func(s *StreamServer) {
		s.available = fn
	}
}

// WithClientHook calls fn with +1 and -1 as clients come and go
func WithClientHook(fn func(delta int)) StreamOption {
	return func(s *StreamServer) {
		s.onClients = fn
	}
}

// NewStreamServer creates a stream server for bus
func NewStreamServer(bus *Bus, opts ...StreamOption) *StreamServer {
	s := &StreamServer{
		bus:       bus,
		logger:    logging.Global(),
		readLimit: 64 << 10,
		conns:     make(map[string]*streamClient),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.String("component", "EventStream"))
	return s
}

// Listen binds the server to addr
func (s *StreamServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("event stream listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *StreamServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Clients returns the number of connected clients
func (s *StreamServer) Clients() int { return int(s.clients.Load()) }

// Rejected returns the number of clients refused by the host or
// availability check
func (s *StreamServer) Rejected() uint64 { return s.rejected.Load() }

func (s *StreamServer) isAvailable() bool {
	return s.available == nil || s.available()
}

// Disconnect starts closing every connected client with reason and returns
// how many there were. It does not wait for the close handshakes.
func (s *StreamServer) Disconnect(reason string) int {
	s.mu.Lock()
	conns := make([]*streamClient, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.unsubscribe()
		go c.conn.Close(ws.StatusPolicyViolation, reason)
	}
	return len(conns)
}

// Serve accepts clients until ctx is cancelled
func (s *StreamServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("event stream: Serve called before Listen")
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	s.logger.Info("event stream listening", logging.String("addr", ln.Addr().String()))
	return g.Wait()
}

// ServeHTTP upgrades one client connection
func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if s.hostAllowed != nil && !s.hostAllowed(host) {
		s.rejected.Add(1)
		s.logger.Warn("event stream client rejected", logging.String("remote_addr", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !s.isAvailable() {
		s.rejected.Add(1)
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		CompressionMode: ws.CompressionDisabled,
	})
	if err != nil {
		s.logger.Warn("event stream upgrade failed", logging.ErrorField(err))
		return
	}
	conn.SetReadLimit(s.readLimit)

	c := &streamClient{
		id:          uuid.NewString(),
		conn:        conn,
		server:      s,
		connectedAt: time.Now(),
	}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.trackClient(1)
	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		s.trackClient(-1)
	}()

	logger := s.logger.WithFields(logging.String("client_id", c.id), logging.String("remote_addr", r.RemoteAddr))
	logger.Debug("event stream client connected")
	err = c.run(r.Context())
	if err != nil && ws.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		logger.Debug("event stream client closed", logging.ErrorField(err))
	}
	conn.Close(ws.StatusNormalClosure, "")
}

func (s *StreamServer) trackClient(delta int) {
	s.clients.Add(int64(delta))
	if s.onClients != nil {
		s.onClients(delta)
	}
}

type streamClient struct {
	id          string
	conn        *ws.Conn
	server      *StreamServer
	connectedAt time.Time
	events      atomic.Uint64

	mu        sync.Mutex
	sub       *Subscription
	subInfo   *SubscriptionInfo
	forwarder sync.WaitGroup
}

func (c *streamClient) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.unsubscribe()
		c.forwarder.Wait()
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := c.send(ctx, ServerMessage{Type: MsgError, Message: "invalid message: " + err.Error(), Code: ErrCodeBadMessage}); err != nil {
				return err
			}
			continue
		}
		reply, after := c.handle(ctx, cancel, msg)
		if err := c.send(ctx, reply); err != nil {
			return err
		}
		if after != nil {
			after()
		}
	}
}

// handle answers one client message. The returned func, if any, runs after
// the reply has been written.
func (c *streamClient) handle(ctx context.Context, cancel context.CancelFunc, msg ClientMessage) (ServerMessage, func()) {
	switch msg.Type {
	case MsgSubscribe:
		if !c.server.isAvailable() {
			return ServerMessage{Type: MsgError, Message: "event stream unavailable", Code: ErrCodeUnavailable}, nil
		}
		filter := DefaultFilter()
		if msg.Filter != nil {
			filter = *msg.Filter
		}
		m, err := filter.Compile()
		if err != nil {
			return ServerMessage{Type: MsgError, Message: err.Error(), Code: ErrCodeBadFilter}, nil
		}
		sub := c.subscribe(m, msg.Metadata)
		return ServerMessage{Type: MsgSubscribed, ClientID: c.id, Filter: &filter}, func() {
			c.forward(ctx, cancel, sub)
		}

	case MsgUnsubscribe:
		c.unsubscribe()
		return ServerMessage{Type: MsgUnsubscribed, ClientID: c.id}, nil

	case MsgUpdateFilter:
		if msg.Filter == nil {
			return ServerMessage{Type: MsgError, Message: "filter required", Code: ErrCodeBadMessage}, nil
		}
		m, err := msg.Filter.Compile()
		if err != nil {
			return ServerMessage{Type: MsgError, Message: err.Error(), Code: ErrCodeBadFilter}, nil
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.sub == nil {
			return ServerMessage{Type: MsgError, Message: "not subscribed", Code: ErrCodeNotSubscribed}, nil
		}
		c.sub.SetMatcher(m)
		c.subInfo.Filter = *msg.Filter
		return ServerMessage{Type: MsgFilterUpdated, Filter: msg.Filter}, nil

	case MsgGetStatus:
		connected := int64(time.Since(c.connectedAt).Seconds())
		received := c.events.Load()
		c.mu.Lock()
		var info *SubscriptionInfo
		if c.subInfo != nil {
			cp := *c.subInfo
			info = &cp
		}
		c.mu.Unlock()
		return ServerMessage{Type: MsgStatus, Subscription: info, ConnectionTime: &connected, EventsReceived: &received}, nil

	case MsgPing:
		return ServerMessage{Type: MsgPong}, nil

	default:
		return ServerMessage{Type: MsgError, Message: fmt.Sprintf("unknown message type %q", msg.Type), Code: ErrCodeUnknownMessage}, nil
	}
}

func (c *streamClient) subscribe(m *Matcher, meta *Metadata) *Subscription {
	c.unsubscribe()

	sub := c.server.bus.Subscribe(m)
	c.mu.Lock()
	c.sub = sub
	c.subInfo = &SubscriptionInfo{
		ClientID:  c.id,
		Filter:    m.Filter(),
		CreatedAt: time.Now().Unix(),
		Metadata:  meta,
	}
	c.mu.Unlock()
	return sub
}

func (c *streamClient) forward(ctx context.Context, cancel context.CancelFunc, sub *Subscription) {
	c.forwarder.Add(1)
	go func() {
		defer c.forwarder.Done()
		for e := range sub.C {
			if !c.server.isAvailable() {
				continue
			}
			if err := c.send(ctx, ServerMessage{Type: MsgEvent, Event: &e}); err != nil {
				cancel()
				return
			}
			c.events.Add(1)
		}
	}()
}

func (c *streamClient) unsubscribe() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.subInfo = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (c *streamClient) send(ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, ws.MessageText, data)
}
