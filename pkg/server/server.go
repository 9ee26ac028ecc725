// Package server implements the MCP protocol engine and composes it with
// the catalog, the permission gate, the audit log and the transports into a
// runnable server.
//
// A request moves through the stages Received, Parsed, Resolved, Validated,
// Authorized, Invoked, Serialized and Completed. Each request reads one
// snapshot of the security configuration, and each dispatched request
// yields one audit record while audit logging is enabled.
//
// Creating a server:
//
//	srv, err := server.New(settings, collaborators, server.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	return srv.Run(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fluffypony/universe/pkg/audit"
	"github.com/fluffypony/universe/pkg/config"
	"github.com/fluffypony/universe/pkg/events"
	"github.com/fluffypony/universe/pkg/host"
	"github.com/fluffypony/universe/pkg/logging"
	"github.com/fluffypony/universe/pkg/observability"
	"github.com/fluffypony/universe/pkg/protocol"
	"github.com/fluffypony/universe/pkg/registry"
	"github.com/fluffypony/universe/pkg/transport"
)

// Instructions is returned to agents from initialize
const Instructions = "Tari Universe exposes wallet, mining and node state as tari:// resources. " +
	"Tools change mining settings and, when the user has allowed it, send Tari. " +
	"Every request is audited."

// Server owns every long-lived component
type Server struct {
	settings *config.Settings
	logger   logging.Logger

	store    *config.Store
	registry *registry.Registry
	engine   *Engine
	audit    *audit.Log
	bus      *events.Bus
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	mu       sync.Mutex
	listener *transport.Listener
	stream   *events.StreamServer
	scrape   net.Listener
}

type options struct {
	logger         logging.Logger
	settingsFile   string
	auditSinks     []audit.Sink
	spanProcessors []observability.SpanProcessor
}

// Option configures a Server
type Option func(*options)

// WithLogger sets the logger for every component
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSettingsFile persists security configuration changes to path
func WithSettingsFile(path string) Option {
	return func(o *options) {
		o.settingsFile = path
	}
}

// WithAuditSink adds a sink that receives every audit record
func WithAuditSink(sink audit.Sink) Option {
	return func(o *options) {
		o.auditSinks = append(o.auditSinks, sink)
	}
}

// WithSpanProcessor adds a span processor to the tracer
func WithSpanProcessor(sp observability.SpanProcessor) Option {
	return func(o *options) {
		o.spanProcessors = append(o.spanProcessors, sp)
	}
}

// New creates a server over the host application's collaborators. Nothing
// is bound until Listen or Run.
func New(settings *config.Settings, collab host.Collaborators, opts ...Option) (*Server, error) {
	o := options{logger: logging.Global()}
	for _, opt := range opts {
		opt(&o)
	}
	if settings == nil {
		settings = config.Defaults()
	}

	warnings, err := settings.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	for _, w := range warnings {
		o.logger.Warn("security configuration warning", logging.String("warning", w))
	}

	s := &Server{
		settings: settings,
		logger:   o.logger.WithFields(logging.String("component", "server")),
	}

	s.metrics, err = observability.NewMetrics(observability.MetricsConfig{
		ServiceVersion: protocol.ServerVersion,
		Namespace:      settings.Metrics.Namespace,
	})
	if err != nil {
		return nil, err
	}

	s.tracer, err = observability.NewTracer(observability.TracingConfig{
		ServiceName:    protocol.ServerName,
		ServiceVersion: protocol.ServerVersion,
		ExporterType:   observability.ExporterType(settings.Tracing.Exporter),
		Endpoint:       settings.Tracing.Endpoint,
		Insecure:       settings.Tracing.Insecure,
		SampleRate:     settings.Tracing.SampleRate,
		SpanProcessors: o.spanProcessors,
	})
	if err != nil {
		return nil, err
	}

	s.bus = events.NewBus(settings.Events.BufferSize, events.WithDropHook(func(events.Event) {
		s.metrics.RecordEventDropped()
	}))
	publisher := countingPublisher{bus: s.bus, metrics: s.metrics}

	s.registry, err = registry.New(collab, registry.WithPublisher(publisher))
	if err != nil {
		return nil, err
	}

	s.audit, err = openAudit(settings.Audit, o, s.metrics)
	if err != nil {
		return nil, err
	}

	storeOpts := []config.StoreOption{
		config.WithChangeListener(func(prev, cur config.SecurityConfig) {
			changes := configChanges(prev, cur)
			if len(changes) == 0 {
				return
			}
			s.logger.Info("security configuration changed", logging.Any("changes", changes))
			if prev.Enabled && !cur.Enabled {
				s.disconnectStream()
			}
			publisher.Publish(events.New(events.AppConfigChanged, map[string]interface{}{
				"component": "mcp",
				"changes":   changes,
			}))
		}),
	}
	if o.settingsFile != "" {
		storeOpts = append(storeOpts, config.WithPersistence(config.FilePersister(o.settingsFile, settings)))
	}
	s.store = config.NewStore(settings.MCP, storeOpts...)

	s.engine = NewEngine(s.registry, s.store, s.audit,
		WithEngineLogger(o.logger),
		WithInstrumentation(&observability.Instrumentation{Metrics: s.metrics, Tracer: s.tracer}),
		WithInstructions(Instructions),
	)
	return s, nil
}

// openAudit creates the audit log, continuing the chain of an existing
// audit file.
func openAudit(cfg config.AuditConfig, o options, metrics *observability.Metrics) (*audit.Log, error) {
	logOpts := []audit.Option{
		audit.WithLogger(o.logger),
		audit.WithObserver(metrics),
		audit.WithRingSize(cfg.RingSize),
	}
	sinks := append(audit.MultiSink(nil), o.auditSinks...)

	if cfg.File != "" {
		prior, err := audit.ReadFile(cfg.File)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read audit file: %w", err)
		case len(prior) > 0:
			if verr := audit.Verify(prior); verr != nil {
				o.logger.Warn("existing audit file failed verification", logging.ErrorField(verr))
			}
			logOpts = append(logOpts, audit.ResumeAfter(prior[len(prior)-1]))
		}

		file, err := audit.OpenFile(cfg.File)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, file)
	}

	var sink audit.Sink
	if len(sinks) > 0 {
		sink = sinks
	}
	return audit.New(sink, logOpts...), nil
}

// Engine returns the protocol engine
func (s *Server) Engine() *Engine { return s.engine }

// Store returns the security configuration store. The host application
// updates configuration through it.
func (s *Server) Store() *config.Store { return s.store }

// Audit returns the audit log
func (s *Server) Audit() *audit.Log { return s.audit }

// Bus returns the event bus. The host application publishes its own
// wallet, mining and node events here.
func (s *Server) Bus() *events.Bus { return s.bus }

// Metrics returns the metrics collector
func (s *Server) Metrics() *observability.Metrics { return s.metrics }

// Registry returns the capability registry
func (s *Server) Registry() *registry.Registry { return s.registry }

// Addr returns the MCP listener address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// EventAddr returns the event stream address, or nil when the stream is
// disabled or not bound.
func (s *Server) EventAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	return s.stream.Addr()
}

// disconnectStream drops every event stream client
func (s *Server) disconnectStream() {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}
	if n := stream.Disconnect("MCP server disabled"); n > 0 {
		s.logger.Info("event stream clients disconnected", logging.Int("clients", n))
	}
}

// Listen binds the MCP listener and, when enabled, the event stream and
// the metrics endpoint. The listener binds the allowed addresses of the
// configuration current at the time of the call; the host application
// restarts the server to apply a new binding.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server already listening")
	}

	cfg := s.store.Snapshot()
	if !cfg.Enabled {
		s.logger.Warn("MCP server is disabled; requests will be refused until it is enabled")
	}

	l, err := transport.Listen(cfg, s.engine,
		transport.WithLogger(s.logger),
		transport.WithMetrics(s.metrics),
		transport.WithTransportConfig(s.settings.Transport),
	)
	if err != nil {
		return err
	}

	var scrape net.Listener
	if s.settings.Metrics.Enabled {
		scrape, err = net.Listen("tcp", s.settings.Metrics.Address)
		if err != nil {
			_ = l.Close()
			return fmt.Errorf("metrics listen: %w", err)
		}
	}

	if s.settings.Events.Enabled {
		stream := events.NewStreamServer(s.bus,
			events.WithStreamLogger(s.logger),
			events.WithHostCheck(func(host string) bool {
				return s.store.Snapshot().IsHostAllowed(host)
			}),
			events.WithAvailability(func() bool {
				return s.store.Snapshot().Enabled
			}),
			events.WithClientHook(s.metrics.RecordStreamClients),
		)
		addr := net.JoinHostPort(firstHost(cfg), strconv.Itoa(s.settings.EventPort()))
		if err := stream.Listen(addr); err != nil {
			_ = l.Close()
			if scrape != nil {
				_ = scrape.Close()
			}
			return err
		}
		s.stream = stream
	}

	s.listener = l
	s.scrape = scrape
	s.logger.Info("MCP server listening",
		logging.Int("port", l.Port()),
		logging.Bool("enabled", cfg.Enabled),
		logging.Bool("allow_wallet_send", cfg.AllowWalletSend),
		logging.Bool("audit_logging", cfg.AuditLogging))
	return nil
}

// Serve runs the bound components until ctx is cancelled, then releases
// everything the server owns.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener, stream, scrape := s.listener, s.stream, s.scrape
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server is not listening")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Serve(gctx)
	})
	if stream != nil {
		g.Go(func() error {
			return stream.Serve(gctx)
		})
	}
	if scrape != nil {
		g.Go(func() error {
			return s.metrics.Serve(gctx, scrape)
		})
	}

	err := g.Wait()
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Run binds and serves
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// ServeStdio serves one agent over in and out instead of a socket
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	t := transport.NewStdioTransport(in, out, s.engine,
		transport.WithLogger(s.logger),
		transport.WithMetrics(s.metrics),
		transport.WithTransportConfig(s.settings.Transport),
	)
	err := t.Serve(ctx)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close flushes the tracer and closes the audit log and the event bus
func (s *Server) Close() error {
	s.bus.Close()

	ctx := context.Background()
	return errors.Join(
		s.tracer.Shutdown(ctx),
		s.audit.Close(),
	)
}

func firstHost(cfg config.SecurityConfig) string {
	if len(cfg.AllowedHostAddresses) == 0 {
		return "127.0.0.1"
	}
	return cfg.AllowedHostAddresses[0]
}

// countingPublisher publishes to the bus and counts
type countingPublisher struct {
	bus     *events.Bus
	metrics *observability.Metrics
}

func (p countingPublisher) Publish(e events.Event) {
	p.bus.Publish(e)
	p.metrics.RecordEventPublished()
}

// configChanges lists the security settings that differ
func configChanges(prev, cur config.SecurityConfig) map[string]interface{} {
	changes := map[string]interface{}{}
	if prev.Enabled != cur.Enabled {
		changes["enabled"] = cur.Enabled
	}
	if prev.AllowWalletSend != cur.AllowWalletSend {
		changes["allow_wallet_send"] = cur.AllowWalletSend
	}
	if prev.Port != cur.Port {
		changes["port"] = cur.Port
	}
	if prev.AuditLogging != cur.AuditLogging {
		changes["audit_logging"] = cur.AuditLogging
	}
	if fmt.Sprint(prev.AllowedHostAddresses) != fmt.Sprint(cur.AllowedHostAddresses) {
		changes["allowed_host_addresses"] = cur.AllowedHostAddresses
	}
	return changes
}
