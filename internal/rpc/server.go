// ABOUTME: JSON-RPC 2.0 HTTP server exposing the coordination operations.
// ABOUTME: Maps engine error kinds to JSON-RPC error codes.

package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/moot/internal/engine"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes, plus one application code for
// permission failures.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
	JSONRPCNotFound       = -32001
	JSONRPCPermission     = -32002
)

// Config holds configuration for the RPC server.
type Config struct {
	Engine *engine.Engine
	Logger *slog.Logger

	// APIKey signs injection tokens. Empty disables the /inject endpoint.
	APIKey string
}

// Server exposes the engine over HTTP: JSON-RPC at /rpc, health at
// /healthz, Prometheus metrics at /metrics, and a privileged broadcast
// injection endpoint at /inject.
type Server struct {
	engine   *engine.Engine
	logger   *slog.Logger
	injector *injector
}

// NewServer creates an RPC server for the given engine.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rpc")

	s := &Server{
		engine: cfg.Engine,
		logger: logger,
	}
	if cfg.APIKey != "" {
		s.injector = newInjector(cfg.Engine, cfg.APIKey, logger)
	}
	return s, nil
}

// RegisterRoutes registers all endpoints on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	if s.injector != nil {
		mux.HandleFunc("/inject", s.injector.handle)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s.injector != nil {
		s.injector.close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleRPC processes JSON-RPC messages sent via HTTP POST. The method
// field names an engine operation; params carry its arguments.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	s.logger.Debug("rpc request", "method", req.Method, "is_notification", isNotification)

	result, err := s.engine.Dispatch(r.Context(), req.Method, req.Params)

	// Notifications get no response body regardless of outcome
	if isNotification {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err != nil {
		code, message := errorCode(err)
		s.sendError(w, req.ID, code, message, nil)
		return
	}
	s.sendResult(w, req.ID, result)
}

// errorCode maps an engine error to a JSON-RPC code and a safe message.
// Internal errors keep their generic message so state never leaks.
func errorCode(err error) (int, string) {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return JSONRPCInvalidParams, verr.Error()
	}
	var nf *engine.NotFoundError
	if errors.As(err, &nf) {
		return JSONRPCNotFound, nf.Error()
	}
	var perm *engine.PermissionError
	if errors.As(err, &perm) {
		return JSONRPCPermission, perm.Error()
	}
	if errors.Is(err, engine.ErrUnknownOperation) {
		return JSONRPCMethodNotFound, "method not found"
	}
	return JSONRPCInternalError, "internal error"
}

func (s *Server) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
