package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Greed71/webRTC/internal/httpserver"
	"github.com/Greed71/webRTC/internal/metrics"
	"github.com/Greed71/webRTC/internal/origin"
	"github.com/Greed71/webRTC/internal/protocol"
	"github.com/Greed71/webRTC/internal/registry"
	"github.com/Greed71/webRTC/internal/room"
)

// Config wires together the runtime dependencies for the signaling service.
// Zero values fall back to the defaults of the config package.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	DuplicateIDPolicy registry.DuplicatePolicy

	// Origins admits browser WebSocket upgrades. The zero value is same-host.
	Origins origin.Policy

	// WebSocket inbound hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// Keepalive. The server pings every PingInterval and drops connections
	// that stay silent for IdleTimeout.
	PingInterval time.Duration
	IdleTimeout  time.Duration

	// SendQueue is the outbound frame buffer per connection. A full queue
	// drops the frame.
	SendQueue int
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.DuplicateIDPolicy == "" {
		c.DuplicateIDPolicy = registry.DuplicateEvict
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.MaxMessagesPerSecond <= 0 {
		c.MaxMessagesPerSecond = 50
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	return c
}

// Server owns the connection registry and room broker and exposes them over
// HTTP.
//
// Endpoints:
//   - POST /create-room   : create a room with its creator in slot A
//   - POST /destroy-room  : delete a room unconditionally
//   - GET  /rooms         : list rooms and occupants
//   - GET  /ws?userId=ID  : WebSocket signaling channel (also served on /)
type Server struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *registry.Registry
	broker   *room.Broker
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
	closed   bool
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	reg := registry.New(cfg.DuplicateIDPolicy, cfg.Logger, cfg.Metrics)
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		registry: reg,
		broker:   room.NewBroker(reg, cfg.Logger, cfg.Metrics),
		sessions: make(map[*wsSession]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return cfg.Origins.Allows(r.Header.Get("Origin"), r.Host)
		},
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/create-room", s.handleCreateRoom)
	r.Post("/destroy-room", s.handleDestroyRoom)
	r.Get("/rooms", s.handleListRooms)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/", s.handleWebSocket)
}

// Handler serves only the signaling routes, for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func (s *Server) Registry() *registry.Registry { return s.registry }

func (s *Server) Broker() *room.Broker { return s.broker }

// Close refuses new channels and closes the open ones. Each closing channel
// still runs its disconnect handling.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*wsSession, 0, len(s.sessions))
	for wss := range s.sessions {
		sessions = append(sessions, wss)
	}
	s.mu.Unlock()

	for _, wss := range sessions {
		wss.closeWith(websocket.CloseGoingAway, "server shutting down")
		wss.Close()
	}
}

func (s *Server) track(wss *wsSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[wss] = struct{}{}
	return true
}

func (s *Server) untrack(wss *wsSession) {
	s.mu.Lock()
	delete(s.sessions, wss)
	s.mu.Unlock()
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateRoomRequest
	if err := s.readJSONBody(r, &req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.RoomName = protocol.NormalizeRoomName(req.RoomName)
	if req.RoomName == "" || req.UserID == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request", "roomName and userId are required")
		return
	}

	if err := s.broker.Create(req.RoomName, req.UserID); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, failure(protocol.ResultCreateFailure, req.RoomName, err))
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, protocol.RoomResponse{Data: protocol.RoomResult{
		Type:     protocol.ResultCreateSuccess,
		RoomName: req.RoomName,
		Message:  fmt.Sprintf("Room %s created successfully.", req.RoomName),
	}})
}

func (s *Server) handleDestroyRoom(w http.ResponseWriter, r *http.Request) {
	var req protocol.DestroyRoomRequest
	if err := s.readJSONBody(r, &req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req.RoomName = protocol.NormalizeRoomName(req.RoomName)
	if req.RoomName == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "bad_request", "roomName is required")
		return
	}

	if err := s.broker.Destroy(req.RoomName); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, failure(protocol.ResultDestroyFailure, req.RoomName, err))
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, protocol.RoomResponse{Data: protocol.RoomResult{
		Type:     protocol.ResultDestroySuccess,
		RoomName: req.RoomName,
		Message:  fmt.Sprintf("Room %s destroyed successfully.", req.RoomName),
	}})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.broker.Rooms()
	resp := protocol.RoomsResponse{Rooms: make([]protocol.RoomInfo, 0, len(rooms))}
	for _, rm := range rooms {
		resp.Rooms = append(resp.Rooms, protocol.RoomInfo{Name: rm.Name, Occupants: rm.Occupants()})
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func failure(t protocol.ResultType, name string, err error) protocol.RoomResponse {
	res := protocol.RoomResult{Type: t, RoomName: name, Message: err.Error()}
	if reason, ok := room.Reason(err); ok {
		res.Reason = reason
	}
	return protocol.RoomResponse{Data: res}
}

var errBodyTooLarge = errors.New("request body too large")

func (s *Server) readJSONBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxMessageBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > s.cfg.MaxMessageBytes {
		return errBodyTooLarge
	}
	if err := decodeStrictJSON(body, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
