// Package server implements the Listener Registry: one HTTP listening socket
// that routes XML-RPC method calls to at most one handler per method name.
//
// Request processing pipeline:
//
//	POST {path} → protocol.Decode (body limit) → codec.Decode (methodCall)
//	  → built-in method?  call it, answer at once
//	  → no handler?       NotFound warning, fault -32601
//	  → handler(err, params, token) → wait for token or caller disconnect
//	    → codec.Encode (methodResponse or fault) → protocol.Encode
//
// Handlers run on net/http goroutines and must not block: they hand the token
// on and return. Whoever holds the token answers the request later.
//
// Lifecycle:
//
//	Unbound ──New──► Bound ──Close──► Closing ──► Closed
//
// Close deregisters from discovery, removes every handler, fails pending
// requests, then shuts the HTTP server down. No handler runs once Close has
// started.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"gopkg.in/tomb.v2"

	"xmlrpc-bridge/codec"
	"xmlrpc-bridge/metrics"
	"xmlrpc-bridge/protocol"
	"xmlrpc-bridge/registry"
	"xmlrpc-bridge/reply"
)

// ErrServerClosed is the outcome of requests still pending when the server
// closes, and of Register after Close.
const ErrServerClosed = errors.ConstError("server closed")

// DefaultResponseTimeout bounds how long a request waits for its token.
const DefaultResponseTimeout = 30 * time.Second

// Handler receives one inbound call. err is set when the parameters could not
// be decoded; params is nil in that case. The handler must eventually cause
// tok.Send, or let the token expire.
type Handler func(err error, params []any, tok *reply.Token)

// Warner receives the warnings a Server raises about how it is used.
type Warner interface {
	// NotFound is called when a caller invokes a method nobody listens on.
	NotFound(method string)
	// Duplicate is called when a second handler is registered for a method.
	Duplicate(method string)
}

// State is the lifecycle state of a Server.
type State int

const (
	StateUnbound State = iota
	StateBound
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config holds the parameters of a Server.
type Config struct {
	// Host and Port to listen on. An empty host listens on all interfaces;
	// port 0 picks a free port.
	Host string
	Port int

	// Path of the XML-RPC endpoint. Defaults to "/".
	Path string

	// ResponseTimeout bounds how long a request waits for its answer before
	// the caller receives a fault. Defaults to DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// Introspection enables system.listMethods and system.methodHelp.
	Introspection bool

	// Advertise is the service name to register under in Registry. Both must
	// be set for the server to be discoverable.
	Advertise     string
	AdvertiseAddr string // Defaults to the bound address, loopback if unspecified
	Registry      registry.Registry
	TTL           time.Duration

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Warner  Warner // Defaults to logging through Logger
}

// Validate reports whether the config can produce a server.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.NotValidf("port %d", c.Port)
	}
	if c.ResponseTimeout < 0 {
		return errors.NotValidf("negative response timeout")
	}
	if c.Advertise != "" && c.Registry == nil {
		return errors.NotValidf("advertise %q without a registry", c.Advertise)
	}
	return nil
}

// Server is the ServerBinding: it exclusively owns its listening socket.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	codec    codec.Codec
	listener net.Listener
	http     *http.Server
	tomb     tomb.Tomb

	mu         sync.Mutex
	state      State
	handlers   map[string]Handler
	builtins   map[string]*builtin
	pending    map[*reply.Token]struct{}
	advertised string // Address registered in discovery, empty if none
}

// New binds the socket and starts serving. The returned server is Bound.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.Warner == nil {
		cfg.Warner = logWarner{cfg.Logger}
	}
	cfg.Path = protocol.NormalizePath(cfg.Path)

	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger,
		codec:    codec.GetCodec(codec.CodecTypeXML),
		handlers: make(map[string]Handler),
		builtins: make(map[string]*builtin),
		pending:  make(map[*reply.Token]struct{}),
	}
	if cfg.Introspection {
		if err := s.registerBuiltins(&systemService{srv: s}, "system"); err != nil {
			return nil, errors.Trace(err)
		}
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %s", addr)
	}
	s.listener = listener

	router := mux.NewRouter()
	router.Handle(cfg.Path, s).Methods(http.MethodPost)
	s.http = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	s.state = StateBound
	s.tomb.Go(s.serve)

	s.advertise()
	s.logger.Info("xmlrpc server listening",
		zap.Stringer("addr", listener.Addr()),
		zap.String("path", cfg.Path),
	)
	return s, nil
}

func (s *Server) serve() error {
	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	s.logger.Error("xmlrpc server stopped", zap.Error(err))
	return errors.Trace(err)
}

// advertise registers the server in discovery. A failure leaves the server
// running, just not discoverable.
func (s *Server) advertise() {
	if s.cfg.Registry == nil || s.cfg.Advertise == "" {
		return
	}
	addr := s.cfg.AdvertiseAddr
	if addr == "" {
		addr = advertiseAddr(s.listener.Addr())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.cfg.Registry.Register(ctx, s.cfg.Advertise, registry.ServiceInstance{
		Addr:   addr,
		Path:   s.cfg.Path,
		Weight: 1,
	}, s.cfg.TTL)
	if err != nil {
		s.logger.Warn("advertising server", zap.String("service", s.cfg.Advertise), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.advertised = addr
	s.mu.Unlock()
}

// advertiseAddr turns a wildcard listen address into a routable one.
func advertiseAddr(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	ip := tcp.IP
	if ip == nil || ip.IsUnspecified() {
		ip = net.IPv4(127, 0, 0, 1)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(tcp.Port))
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Path returns the HTTP path the server answers on.
func (s *Server) Path() string {
	return s.cfg.Path
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Register installs h for method. A second registration for the same method
// keeps the first handler, raises one Duplicate warning and returns an
// AlreadyExists error.
func (s *Server) Register(method string, h Handler) error {
	if method == "" {
		return errors.NotValidf("empty method name")
	}
	if h == nil {
		return errors.NotValidf("nil handler for %q", method)
	}

	s.mu.Lock()
	if s.state != StateBound {
		s.mu.Unlock()
		return errors.Annotatef(ErrServerClosed, "registering %q", method)
	}
	_, taken := s.handlers[method]
	if _, ok := s.builtins[method]; ok {
		taken = true
	}
	if !taken {
		s.handlers[method] = h
	}
	s.mu.Unlock()

	if taken {
		s.cfg.Warner.Duplicate(method)
		return errors.AlreadyExistsf("method %q", method)
	}
	s.cfg.Metrics.RegisteredAdd(1)
	s.logger.Debug("method registered", zap.String("method", method))
	return nil
}

// Unregister removes the handler for method. It is a no-op for methods that
// are not registered.
func (s *Server) Unregister(method string) {
	s.mu.Lock()
	_, ok := s.handlers[method]
	delete(s.handlers, method)
	s.mu.Unlock()

	if ok {
		s.cfg.Metrics.RegisteredAdd(-1)
		s.logger.Debug("method unregistered", zap.String("method", method))
	}
}

// ListenerCount returns the number of handlers for method: 0 or 1.
func (s *Server) ListenerCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[method]; ok {
		return 1
	}
	return 0
}

// Methods returns every callable method name, sorted.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.handlers)+len(s.builtins))
	for name := range s.handlers {
		names = append(names, name)
	}
	for name := range s.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close runs the shutdown sequence and returns once the socket is closed.
// ctx bounds the wait for in-flight requests; when it ends first the
// remaining connections are closed forcibly. Close is idempotent.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateBound {
		s.mu.Unlock()
		<-s.tomb.Dead()
		return nil
	}
	s.state = StateClosing
	removed := len(s.handlers)
	s.handlers = make(map[string]Handler)
	pending := make([]*reply.Token, 0, len(s.pending))
	for tok := range s.pending {
		pending = append(pending, tok)
	}
	advertised := s.advertised
	s.mu.Unlock()

	// Clients stop routing here before the socket goes away.
	if advertised != "" {
		if err := s.cfg.Registry.Deregister(ctx, s.cfg.Advertise, advertised); err != nil {
			s.logger.Warn("deregistering server", zap.String("service", s.cfg.Advertise), zap.Error(err))
		}
	}
	s.cfg.Metrics.RegisteredAdd(-float64(removed))

	for _, tok := range pending {
		_ = tok.Send(ErrServerClosed, nil)
	}

	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("forcing xmlrpc server close", zap.Error(err))
		_ = s.http.Close()
	}
	s.tomb.Kill(nil)
	if werr := s.tomb.Wait(); err == nil {
		err = werr
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.logger.Info("xmlrpc server closed", zap.Stringer("addr", s.listener.Addr()))
	return errors.Trace(err)
}

// ServeHTTP handles one XML-RPC request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := protocol.Decode(r)
	if err != nil {
		s.cfg.Metrics.ObserveRequest("", metrics.OutcomeRejected)
		http.Error(w, err.Error(), protocol.StatusCode(err))
		return
	}

	var call codec.Call
	decodeErr := s.codec.Decode(body, &call)
	if decodeErr != nil && call.Method == "" {
		s.cfg.Metrics.ObserveRequest("", metrics.OutcomeRejected)
		s.writeFault(w, &codec.Fault{Code: codec.FaultParse, String: decodeErr.Error()})
		return
	}
	method := call.Method

	s.mu.Lock()
	state := s.state
	handler, ok := s.handlers[method]
	bi := s.builtins[method]
	s.mu.Unlock()

	switch {
	case state != StateBound:
		s.cfg.Metrics.ObserveRequest(method, metrics.OutcomeRejected)
		s.writeFault(w, &codec.Fault{Code: codec.FaultInternal, String: ErrServerClosed.Error()})
		return
	case bi != nil:
		s.serveBuiltin(w, bi, call.Params, decodeErr)
		return
	case !ok:
		s.cfg.Warner.NotFound(method)
		s.cfg.Metrics.ObserveRequest(method, metrics.OutcomeNotFound)
		s.writeFault(w, &codec.Fault{
			Code:   codec.FaultMethodNotFound,
			String: fmt.Sprintf("method %q not found", method),
		})
		return
	}

	tok := reply.New(reply.Config{
		Method:  method,
		Timeout: s.cfg.ResponseTimeout,
		Clock:   s.cfg.Clock,
	})
	s.track(tok, true)
	defer s.track(tok, false)

	handler(decodeErr, call.Params, tok)

	select {
	case <-tok.Done():
	case <-r.Context().Done():
		tok.Abandon()
	}

	if tok.State() == reply.StateAbandoned {
		s.cfg.Metrics.ObserveRequest(method, metrics.OutcomeAbandoned)
		s.logger.Debug("caller went away", zap.String("method", method), zap.String("token", tok.ID()))
		return
	}

	result, err := tok.Result()
	switch {
	case errors.Is(err, reply.ErrExpired):
		s.cfg.Metrics.ObserveRequest(method, metrics.OutcomeTimeout)
		s.logger.Debug("no response before deadline", zap.String("method", method), zap.String("token", tok.ID()))
		s.writeFault(w, &codec.Fault{
			Code:   codec.FaultApplication,
			String: fmt.Sprintf("no response for method %q", method),
		})
	case err != nil:
		s.cfg.Metrics.ObserveRequest(method, metrics.OutcomeFault)
		s.writeFault(w, codec.NewFault(err))
	default:
		s.cfg.Metrics.ObserveRequest(method, metrics.OutcomeOK)
		s.writeValue(w, result)
	}
}

func (s *Server) serveBuiltin(w http.ResponseWriter, bi *builtin, params []any, decodeErr error) {
	if decodeErr != nil {
		s.cfg.Metrics.ObserveRequest(bi.name, metrics.OutcomeFault)
		s.writeFault(w, &codec.Fault{Code: codec.FaultInvalidParams, String: decodeErr.Error()})
		return
	}
	result, err := bi.call(params)
	if err != nil {
		s.cfg.Metrics.ObserveRequest(bi.name, metrics.OutcomeFault)
		s.writeFault(w, codec.NewFault(err))
		return
	}
	s.cfg.Metrics.ObserveRequest(bi.name, metrics.OutcomeOK)
	s.writeValue(w, result)
}

func (s *Server) track(tok *reply.Token, add bool) {
	s.mu.Lock()
	if add {
		s.pending[tok] = struct{}{}
	} else {
		delete(s.pending, tok)
	}
	s.mu.Unlock()
	if add {
		s.cfg.Metrics.PendingAdd(1)
	} else {
		s.cfg.Metrics.PendingAdd(-1)
	}
}

func (s *Server) writeValue(w http.ResponseWriter, value any) {
	data, err := s.codec.Encode(&codec.Response{Value: value})
	if err != nil {
		s.logger.Warn("encoding response", zap.Error(err))
		s.writeFault(w, &codec.Fault{Code: codec.FaultInternal, String: err.Error()})
		return
	}
	s.write(w, data)
}

func (s *Server) writeFault(w http.ResponseWriter, fault *codec.Fault) {
	data, err := s.codec.Encode(&codec.Response{Fault: fault})
	if err != nil {
		s.logger.Error("encoding fault", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.write(w, data)
}

func (s *Server) write(w http.ResponseWriter, data []byte) {
	if err := protocol.Encode(w, data); err != nil {
		s.logger.Debug("writing response", zap.Error(err))
	}
}

type logWarner struct {
	logger *zap.Logger
}

func (l logWarner) NotFound(method string) {
	l.logger.Warn("method invoked, but not found", zap.String("method", method))
}

func (l logWarner) Duplicate(method string) {
	l.logger.Warn("method already registered", zap.String("method", method))
}
