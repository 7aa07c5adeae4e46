// Package rpc implements the JSON-RPC read API of the battle node, plus the
// health and metrics endpoints.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

// RPCRequest represents a JSON-RPC request.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// RPCResponse represents a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Backend interface for RPC operations.
type Backend interface {
	GetBattle(ctx context.Context, battleID uuid.UUID) (*types.Snapshot, error)
	GetActiveBattleCount(ctx context.Context) (int64, error)
	WorkerStats() map[string]interface{}
	ForceEndBattle(ctx context.Context, battleID uuid.UUID, reason types.EndReason) (bool, error)
}

// Server implements the JSON-RPC server.
type Server struct {
	backend Backend
	server  *http.Server
	log     *zap.Logger
}

// NewServer creates a new RPC server.
func NewServer(backend Backend, log *zap.Logger) *Server {
	return &Server{
		backend: backend,
		log:     log.Named("rpc"),
	}
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.log.Info("rpc server started", zap.String("addr", addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("rpc server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the RPC server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleRPC handles incoming RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, nil, ErrCodeParseError, "Failed to read request body")
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, ErrCodeParseError, "Invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version")
		return
	}

	result, rpcErr := s.handleMethod(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		s.writeResponse(w, &RPCResponse{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	s.writeResponse(w, &RPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// handleMethod routes the method to the appropriate handler.
func (s *Server) handleMethod(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	switch method {
	case "kb_getBattle":
		return s.getBattle(ctx, params)
	case "kb_getActiveBattleCount":
		return s.getActiveBattleCount(ctx)
	case "kb_workerStats":
		return s.backend.WorkerStats(), nil
	case "kb_forceEndBattle":
		return s.forceEndBattle(ctx, params)
	default:
		return nil, &RPCError{Code: ErrCodeMethodNotFound, Message: "Method not found"}
	}
}

func (s *Server) getBattle(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "Invalid params: [battleId]"}
	}
	battleID, err := uuid.Parse(args[0])
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "Invalid battle id"}
	}

	snapshot, err := s.backend.GetBattle(ctx, battleID)
	if errors.Is(err, types.ErrBattleNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInternalError, Message: err.Error()}
	}
	return snapshot, nil
}

func (s *Server) getActiveBattleCount(ctx context.Context) (interface{}, *RPCError) {
	count, err := s.backend.GetActiveBattleCount(ctx)
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInternalError, Message: err.Error()}
	}
	return count, nil
}

func (s *Server) forceEndBattle(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 2 {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "Invalid params: [battleId, reason]"}
	}
	battleID, err := uuid.Parse(args[0])
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "Invalid battle id"}
	}

	ended, err := s.backend.ForceEndBattle(ctx, battleID, types.EndReason(args[1]))
	if errors.Is(err, types.ErrBattleNotFound) {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "Battle not found"}
	}
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInternalError, Message: err.Error()}
	}
	return map[string]interface{}{"ended": ended}, nil
}

// Helper functions
func (s *Server) writeResponse(w http.ResponseWriter, resp *RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	s.writeResponse(w, &RPCResponse{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	})
}
