// Package server exposes the session controller over a small HTTP surface:
// the toggle control, status, the visualizer feed and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bt-bridge/chronovoice"
	"github.com/bt-bridge/chronovoice/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

const (
	contentTypeJSON       = "application/json"
	defaultConnectTimeout = 30 * time.Second
)

// Controller is the part of chronovoice.Controller the surface drives.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect()
	Toggle(ctx context.Context) error
	Snapshot() chronovoice.Snapshot
}

var _ Controller = (*chronovoice.Controller)(nil)

type StatusResponse struct {
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Connected bool   `json:"connected"`
}

// VisualizerResponse is the contract the visualizer renders from.
type VisualizerResponse struct {
	IsPlaying bool    `json:"isPlaying"`
	Volume    float64 `json:"volume"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type Server struct {
	ctrl           Controller
	logger         shared.LoggerAdapter
	metrics        fasthttp.RequestHandler
	connectTimeout time.Duration
	srv            *fasthttp.Server
}

type Option func(*Server)

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.metrics = fasthttpadaptor.NewFastHTTPHandler(h)
		}
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

func New(ctrl Controller, logger shared.LoggerAdapter, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if ctrl == nil {
		return nil, errors.New("no controller provided")
	}
	s := &Server{
		ctrl:           ctrl,
		logger:         logger.With(zap.String("component", "http")),
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &fasthttp.Server{
		Handler:     s.Handle,
		Name:        "chronovoice/" + shared.Version,
		ReadTimeout: 10 * time.Second,
	}
	return s, nil
}

// Serve blocks until ln is closed or Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http surface listening", zap.String("address", ln.Addr().String()))
	return s.srv.Serve(ln)
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

// Handle routes one request.
func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())
	s.logger.Trace("http request", zap.String("method", method), zap.String("path", path))

	switch path {
	case "/toggle":
		if s.allow(ctx, fasthttp.MethodPost) {
			s.handleToggle(ctx)
		}
	case "/connect":
		if s.allow(ctx, fasthttp.MethodPost) {
			s.handleConnect(ctx)
		}
	case "/disconnect":
		if s.allow(ctx, fasthttp.MethodPost) {
			s.ctrl.Disconnect()
			s.writeStatus(ctx, fasthttp.StatusOK)
		}
	case "/status":
		if s.allow(ctx, fasthttp.MethodGet) {
			s.writeStatus(ctx, fasthttp.StatusOK)
		}
	case "/visualizer":
		if s.allow(ctx, fasthttp.MethodGet) {
			snap := s.ctrl.Snapshot()
			s.writeJSON(ctx, fasthttp.StatusOK, VisualizerResponse{IsPlaying: snap.IsPlaying, Volume: snap.Volume})
		}
	case "/healthz":
		if s.allow(ctx, fasthttp.MethodGet) {
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString("ok")
		}
	case "/metrics":
		if s.metrics == nil {
			ctx.Error("metrics disabled", fasthttp.StatusNotFound)
			return
		}
		if s.allow(ctx, fasthttp.MethodGet) {
			s.metrics(ctx)
		}
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) allow(ctx *fasthttp.RequestCtx, method string) bool {
	if string(ctx.Method()) == method {
		return true
	}
	ctx.Response.Header.Set("Allow", method)
	ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
	return false
}

func (s *Server) handleToggle(ctx *fasthttp.RequestCtx) {
	cctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	defer cancel()
	if err := s.ctrl.Toggle(cctx); err != nil {
		s.writeError(ctx, err)
		return
	}
	s.writeStatus(ctx, fasthttp.StatusOK)
}

func (s *Server) handleConnect(ctx *fasthttp.RequestCtx) {
	cctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	defer cancel()
	if err := s.ctrl.Connect(cctx); err != nil {
		s.writeError(ctx, err)
		return
	}
	s.writeStatus(ctx, fasthttp.StatusAccepted)
}

func (s *Server) writeStatus(ctx *fasthttp.RequestCtx, code int) {
	snap := s.ctrl.Snapshot()
	s.writeJSON(ctx, code, StatusResponse{
		State:     snap.State.String(),
		Error:     snap.Error,
		SessionID: snap.SessionID,
		Connected: snap.State == chronovoice.StateConnected,
	})
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, err error) {
	code := StatusCode(err)
	if code >= fasthttp.StatusInternalServerError {
		s.logger.Error("control request failed", err, zap.Int("status", code))
	} else {
		s.logger.Debug("control request rejected", zap.Error(err), zap.Int("status", code))
	}
	s.writeJSON(ctx, code, ErrorResponse{Error: err.Error(), Kind: shared.Kind(err)})
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("encoding response", err)
		ctx.Error("internal error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(code)
	ctx.SetContentType(contentTypeJSON)
	ctx.SetBody(body)
}

// StatusCode maps a controller error to an HTTP status.
func StatusCode(err error) int {
	var (
		configErr     *shared.ConfigError
		permissionErr *shared.PermissionError
		deviceErr     *shared.DeviceError
		transportErr  *shared.TransportError
	)
	switch {
	case errors.Is(err, shared.ErrSessionAlreadyRunning),
		errors.Is(err, shared.ErrConnectInProgress),
		errors.Is(err, shared.ErrLifecycleEnded):
		return fasthttp.StatusConflict
	case errors.As(err, &permissionErr):
		return fasthttp.StatusForbidden
	case errors.As(err, &configErr):
		return fasthttp.StatusPreconditionFailed
	case errors.As(err, &transportErr):
		return fasthttp.StatusBadGateway
	case errors.As(err, &deviceErr):
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}
