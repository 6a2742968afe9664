// Package bridge implements the Platform Bridge: a host-local, length-
// prefixed JSON-RPC TCP server that a sandboxed agent container's driver
// script calls back into for every host-mediated operation (chat
// completions, structured output, file access, provided tools, profile
// documents, and little utilities like UUID/readable-uid generation).
//
// Every call blocks the agent's RPC worker until the host returns a
// result or the call's safety timeout elapses; there is no streaming
// verb. Errors never leak a stack trace — only a platformerr Kind and
// message cross the wire.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/genbase-project/genbase/pkg/observability"
	"github.com/genbase-project/genbase/pkg/platformerr"
)

// HandlerFunc answers one verb. callerModuleID is the module the
// connection authenticated as; params is the raw "params" object from
// the request frame.
type HandlerFunc func(ctx context.Context, callerModuleID string, params json.RawMessage) (interface{}, error)

// authenticator resolves a connection's bearer api key to the module it
// belongs to, same defense-in-depth role module.ApiKeyStore.Authenticate
// plays everywhere else a kit-issued key is presented.
type authenticator interface {
	Authenticate(ctx context.Context, plainKey string) (string, error)
}

// Config controls the bridge's TCP listener and the per-call safety
// timeout enforced against every handler.
type Config struct {
	Host       string
	Port       int
	RPCTimeout time.Duration // 0 means DefaultRPCTimeout
}

// DefaultRPCTimeout is the "blocks the RPC worker on result with a 300s
// safety timeout" ceiling named for every verb.
const DefaultRPCTimeout = 300 * time.Second

// Server is the Platform Bridge's TCP JSON-RPC listener.
type Server struct {
	cfg      Config
	auth     authenticator
	handlers map[string]HandlerFunc
	listener net.Listener
	log      *slog.Logger
	metrics  *observability.Metrics
}

// NewServer wires a Server over auth and the verb table built by
// RegisterHandlers.
func NewServer(cfg Config, auth authenticator, handlers map[string]HandlerFunc, log *slog.Logger) *Server {
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = DefaultRPCTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, auth: auth, handlers: handlers, log: log}
}

// WithMetrics attaches a Prometheus metrics sink; every RPC call records
// its method and duration against it. A nil metrics (the default) makes
// every recording call a no-op.
func (s *Server) WithMetrics(metrics *observability.Metrics) *Server {
	s.metrics = metrics
	return s
}

// Start listens on cfg.Host:cfg.Port and serves connections until ctx is
// canceled or Stop is called. Blocking, like every other long-running
// component's Start.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.log.Info("platform bridge listening", "address", addr)

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("bridge: accept failed", "error", err)
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

// Address returns the server's listening address once Start has bound
// it.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Stop closes the listener, ending Start's accept loop.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var callerModuleID string
	authenticated := false

	for {
		body, err := readFrame(conn)
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(conn, "", platformerr.New(platformerr.PlatformCallFailed, "malformed request frame"))
			continue
		}

		if !authenticated {
			moduleID, err := s.handleAuthenticate(ctx, req)
			if err != nil {
				s.writeError(conn, req.ID, err)
				continue
			}
			callerModuleID = moduleID
			authenticated = true
			s.writeResult(conn, req.ID, map[string]string{"module_id": moduleID})
			continue
		}

		handler, ok := s.handlers[req.Method]
		if !ok {
			s.writeError(conn, req.ID, platformerr.New(platformerr.PlatformCallFailed, fmt.Sprintf("unknown method %q", req.Method)))
			continue
		}

		callStart := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RPCTimeout)
		result, err := handler(callCtx, callerModuleID, req.Params)
		cancel()

		statusCode := 200
		if err != nil {
			statusCode = 500
		}
		s.metrics.RecordHTTPRequest(req.Method, "bridge", statusCode, time.Since(callStart), int64(len(body)), 0)

		if err != nil {
			s.writeError(conn, req.ID, err)
			continue
		}
		s.writeResult(conn, req.ID, result)
	}
}

type authenticateParams struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleAuthenticate(ctx context.Context, req Request) (string, error) {
	if req.Method != "authenticate" {
		return "", platformerr.New(platformerr.CapabilityDenied, "connection must authenticate before issuing any other call")
	}
	var params authenticateParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return "", platformerr.New(platformerr.PlatformCallFailed, "malformed authenticate params")
	}
	moduleID, err := s.auth.Authenticate(ctx, params.APIKey)
	if err != nil {
		return "", err
	}
	return moduleID, nil
}

func (s *Server) writeResult(conn net.Conn, id string, result interface{}) {
	body, err := json.Marshal(Response{ID: id, Result: result})
	if err != nil {
		s.log.Error("bridge: marshal response", "error", err)
		return
	}
	if err := writeFrame(conn, body); err != nil {
		s.log.Warn("bridge: write response frame", "error", err)
	}
}

func (s *Server) writeError(conn net.Conn, id string, err error) {
	kind := platformerr.KindOf(err)
	if kind == "" {
		kind = platformerr.PlatformCallFailed
	}
	body, marshalErr := json.Marshal(Response{ID: id, Error: &RPCError{Code: string(kind), Message: err.Error()}})
	if marshalErr != nil {
		s.log.Error("bridge: marshal error response", "error", marshalErr)
		return
	}
	if writeErr := writeFrame(conn, body); writeErr != nil {
		s.log.Warn("bridge: write error frame", "error", writeErr)
	}
}
