package msgsock

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Defaults for StartService.
const (
	DefaultBindAddress = "0.0.0.0"
	DefaultPort        = 9000
)

// ErrAlreadyStarted is returned by StartService on a running service.
var ErrAlreadyStarted = errors.New("service already started")

// Service accepts a single client at a time, delivers every message it sends
// to the OnMessageReceived callback and sends messages back to it.
//
// A second client connecting while one is active is closed immediately.
// When the active client goes away or breaks the framing protocol its
// connection is dropped and the next client is admitted.
type Service struct {
	gate    Gate
	logger  Logger
	metrics *metrics
	text    TextEncoding

	onMessageReceived func(text string)
	connOpts          []Option

	mu     sync.Mutex
	server *Server
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// OnMessageReceivedOption sets the callback invoked once per received message.
// It runs on the receive goroutine and should return quickly.
func OnMessageReceivedOption(cb func(text string)) ServiceOption {
	return func(s *Service) {
		s.onMessageReceived = cb
	}
}

// ServiceLoggerOption sets the logger used by the service, its listener and
// its connections.
func ServiceLoggerOption(logger Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// TextEncodingOption sets how messages are converted to and from payload bytes.
// Defaults to UTF8.
func TextEncodingOption(enc TextEncoding) ServiceOption {
	return func(s *Service) {
		s.text = enc
	}
}

// MetricsRegistererOption registers the service metrics with reg.
// Without it the metrics are kept but not exported.
func MetricsRegistererOption(reg prometheus.Registerer) ServiceOption {
	return func(s *Service) {
		s.metrics = newMetrics(reg)
	}
}

// ConnOptions applies opts to every admitted connection. OnMessageOption is
// ignored; messages always go to the OnMessageReceived callback.
func ConnOptions(opts ...Option) ServiceOption {
	return func(s *Service) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

// NewService returns a Service that is not yet listening.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		logger: defaultLogger(),
		text:   UTF8,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = newMetrics(nil)
	}

	return s
}

// StartService binds bindAddress:port and starts accepting clients in the
// background. A bind failure is logged and returned; nothing is retried.
func (s *Service) StartService(bindAddress string, port int) error {
	if bindAddress == "" {
		bindAddress = DefaultBindAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrAlreadyStarted
	}

	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(bindAddress, strconv.Itoa(port)))
	if err != nil {
		s.logger.Error("can not start listening", "address", bindAddress, "port", port, "error", err)
		return errors.WithMessagef(ErrBindFailure, "resolve %s:%d: %v", bindAddress, port, err)
	}

	server, err := New(addr, ServerLoggerOption(s.logger))
	if err != nil {
		s.logger.Error("can not start listening", "address", bindAddress, "port", port, "error", err)
		return err
	}

	s.server = server

	s.wg.Add(1)
	go func(ctx context.Context) {
		defer s.wg.Done()
		if err := server.Serve(ctx, s); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("listener stopped", "error", err)
		}
	}(s.ctx)

	s.logger.Info("start listening", "addr", server.Addr())
	return nil
}

// Handle admits conn if no client is active and starts its receive loop on a
// new goroutine; otherwise conn is closed without reading from it.
func (s *Service) Handle(conn *net.TCPConn) {
	opts := make([]Option, 0, len(s.connOpts)+3)
	opts = append(opts, LoggerOption(s.logger), metricsOption(s.metrics))
	opts = append(opts, s.connOpts...)
	opts = append(opts, OnMessageOption(s.dispatch))

	c, err := NewConn(conn, opts...)
	if err != nil {
		s.logger.Error("can not wrap connection", "remote_addr", conn.RemoteAddr(), "error", err)
		_ = conn.Close()
		return
	}

	if !s.gate.TryAdmit(c) {
		s.metrics.rejected()
		s.logger.Info("rejected connection, a client is already active", "remote_addr", conn.RemoteAddr())
		_ = c.Close()
		return
	}

	s.metrics.admitted()
	s.logger.Info("new client connected", "remote_addr", conn.RemoteAddr())

	s.wg.Add(1)
	go s.receive(c)
}

// receive runs the receive loop of the admitted connection c and frees the
// gate once it ends.
func (s *Service) receive(c *Conn) {
	defer s.wg.Done()

	_ = c.Run(s.ctx)

	s.gate.Release(c)
	s.metrics.released()
}

func (s *Service) dispatch(payload []byte) error {
	text, err := s.text.Decode(payload)
	if err != nil {
		s.logger.Warn("dropping undecodable message", "length", len(payload), "error", err)
		return nil
	}

	if s.onMessageReceived == nil {
		s.logger.Info("receive message", "message", text)
		return nil
	}

	s.onMessageReceived(text)
	return nil
}

// Send writes payload as one frame to the active client. It returns false if
// no client is connected, payload is empty or the write fails. A failed write
// does not disconnect the client.
func (s *Service) Send(payload []byte) bool {
	if len(payload) == 0 {
		s.logger.Warn("refusing to send empty payload")
		return false
	}

	c := s.gate.Active()
	if c == nil {
		return false
	}

	if err := c.Write(payload); err != nil {
		s.logger.Error("unable to send", "remote_addr", c.Addr(), "error", err)
		return false
	}
	return true
}

// SendMessage encodes text with the configured TextEncoding and sends it.
func (s *Service) SendMessage(text string) bool {
	payload, err := s.text.Encode(text)
	if err != nil {
		s.logger.Error("unable to encode message", "error", err)
		return false
	}
	return s.Send(payload)
}

// State reports whether a client is currently connected.
func (s *Service) State() State {
	return s.gate.State()
}

// Addr returns the listening address, or nil before StartService succeeded.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Addr()
}

// Close stops accepting clients, disconnects the active one and waits for
// the background goroutines to exit.
func (s *Service) Close() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	s.cancel()

	var err error
	if server != nil {
		err = server.Close()
	}
	s.wg.Wait()

	return err
}
