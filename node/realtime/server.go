package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
	"github.com/sorokinArtemV/kombats-sub001/node/metrics"
	"github.com/sorokinArtemV/kombats-sub001/node/store"
	"github.com/sorokinArtemV/kombats-sub001/node/turn"
)

// Authenticator resolves an incoming upgrade request to a player identity.
type Authenticator interface {
	Authenticate(r *http.Request) (uuid.UUID, error)
}

// TokenAuthenticator authenticates by the "token" query parameter, which in
// this deployment carries the player UUID minted by the gateway.
type TokenAuthenticator struct{}

// Authenticate implements Authenticator.
func (TokenAuthenticator) Authenticate(r *http.Request) (uuid.UUID, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return uuid.Nil, types.ErrNotAuthenticated
	}
	playerID, err := uuid.Parse(token)
	if err != nil {
		return uuid.Nil, types.ErrNotAuthenticated
	}
	return playerID, nil
}

// Config holds realtime server configuration.
type Config struct {
	Addr string
}

// DefaultConfig returns default realtime server config.
func DefaultConfig() *Config {
	return &Config{Addr: "0.0.0.0:8546"}
}

// clientMessage is the envelope of every inbound websocket message.
type clientMessage struct {
	Type      string          `json:"type"`
	BattleID  string          `json:"battleId"`
	TurnIndex int             `json:"turnIndex"`
	Payload   json.RawMessage `json:"payload"`
}

// Server serves the /ws endpoint and routes client messages to the turn
// service.
type Server struct {
	config *Config
	hub    *Hub
	store  *store.Store
	turns  *turn.Service
	auth   Authenticator
	log    *zap.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a realtime server.
func NewServer(config *Config, hub *Hub, st *store.Store, turns *turn.Service, auth Authenticator, log *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config: config,
		hub:    hub,
		store:  st,
		turns:  turns,
		auth:   auth,
		log:    log.Named("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway terminates origins upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start starts the websocket listener.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("realtime server failed", zap.Error(err))
		}
	}()
	s.log.Info("realtime server started", zap.String("addr", s.config.Addr))
	return nil
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleWS upgrades the connection and starts the client pumps.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	playerID, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(s, conn, playerID)
	metrics.RealtimeConnections.Inc()
	go c.writePump()
	go c.readPump()
}

// dispatch routes one inbound message.
func (s *Server) dispatch(c *Client, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(c, "Malformed message")
		return
	}

	battleID, err := uuid.Parse(msg.BattleID)
	if err != nil {
		s.sendError(c, "Malformed message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Type {
	case "joinBattle":
		s.handleJoin(ctx, c, battleID)
	case "submitTurnAction":
		s.handleSubmit(ctx, c, battleID, msg)
	default:
		s.sendError(c, "Unknown message type")
	}
}

// handleJoin verifies participation, subscribes the client and replies with a
// full snapshot so a reconnecting client resynchronizes in one round trip.
func (s *Server) handleJoin(ctx context.Context, c *Client, battleID uuid.UUID) {
	state, err := s.store.GetState(ctx, battleID)
	if err != nil {
		s.sendError(c, userMessage(battleID, err))
		return
	}
	if state == nil {
		s.sendError(c, fmt.Sprintf("Battle %s not found", battleID))
		return
	}
	if !state.IsParticipant(c.playerID) {
		s.sendError(c, "User is not a participant in this battle")
		return
	}

	s.hub.join(battleID, c)

	reply, err := json.Marshal(struct {
		Type string `json:"type"`
		types.Snapshot
	}{EventBattleSnapshot, state.Snapshot()})
	if err != nil {
		s.log.Error("marshal snapshot failed", zap.Error(err))
		return
	}
	c.trySend(reply)
}

// handleSubmit forwards the action to the turn service.
func (s *Server) handleSubmit(ctx context.Context, c *Client, battleID uuid.UUID, msg clientMessage) {
	err := s.turns.SubmitAction(ctx, battleID, c.playerID, msg.TurnIndex, msg.Payload)
	if err != nil {
		s.sendError(c, userMessage(battleID, err))
	}
}

// sendError pushes an error event to one client.
func (s *Server) sendError(c *Client, message string) {
	data, err := json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{EventError, message})
	if err != nil {
		return
	}
	c.trySend(data)
}

// userMessage maps service errors to the strings shown to players.
func userMessage(battleID uuid.UUID, err error) string {
	switch {
	case errors.Is(err, types.ErrNotAuthenticated):
		return "User not authenticated"
	case errors.Is(err, types.ErrNotParticipant):
		return "User is not a participant in this battle"
	case errors.Is(err, types.ErrBattleNotFound):
		return fmt.Sprintf("Battle %s not found", battleID)
	case errors.Is(err, types.ErrBattleEnded):
		return "Battle has ended"
	case errors.Is(err, types.ErrStateCorrupted):
		return fmt.Sprintf("Battle %s state is corrupted", battleID)
	default:
		return "Internal error"
	}
}
