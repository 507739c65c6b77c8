// ABOUTME: WebSocket relay exposing a player to remote clients
// ABOUTME: Broadcasts every player event and applies commands sent by clients
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/chunkplay/internal/version"
	"github.com/Resonate-Protocol/chunkplay/pkg/chunkplay"
)

// Path is where the relay accepts websocket connections
const Path = "/relay"

// HTTP endpoints for clients that do not hold a websocket
const (
	StatusPath   = "/api/status"
	CommandsPath = "/api/commands"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	sendBuffer    = 64
)

// Player is the part of chunkplay.Player the relay drives
type Player interface {
	On(name chunkplay.EventName, handler func(chunkplay.Event)) func()
	Play() error
	Pause() error
	Seek(t float64) error
	SetMode(ctx context.Context, mode chunkplay.Mode, preset string) error
	SetPreset(ctx context.Context, preset string) error
	SetVolume(volume int) error
	Status() chunkplay.Status
}

// Config holds relay configuration
type Config struct {
	// Addr is the listen address used by ListenAndServe
	Addr string

	// CommandTimeout bounds mode and preset switches (default: 30s)
	CommandTimeout time.Duration

	Logger *zap.Logger
}

// client is one connected websocket peer
type client struct {
	id       string
	conn     *websocket.Conn
	sendChan chan interface{}
}

// Server relays one player over websockets
type Server struct {
	config   Config
	player   Player
	logger   *zap.Logger
	upgrader websocket.Upgrader

	unsubscribe []func()

	clientsMu sync.RWMutex
	clients   map[string]*client

	httpServer *http.Server
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// New creates a relay and subscribes it to the player's events
func New(config Config, player Player) *Server {
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		player: player,
		logger: logger,
		upgrader: websocket.Upgrader{
			// The relay serves trusted local networks; browsers on any origin may attach
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}

	for _, name := range []chunkplay.EventName{
		chunkplay.EventStateChange,
		chunkplay.EventTimeUpdate,
		chunkplay.EventEnded,
		chunkplay.EventError,
		chunkplay.EventModeSwitched,
		chunkplay.EventPresetSwitched,
	} {
		s.unsubscribe = append(s.unsubscribe, player.On(name, s.broadcastEvent))
	}

	return s
}

// Handler returns the router serving the websocket and the HTTP API
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.HandleFunc(Path, s.handleWebSocket).Methods(http.MethodGet)
	router.HandleFunc(StatusPath, s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc(CommandsPath, s.handleCommand).Methods(http.MethodPost, http.MethodOptions)
	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleStatus returns the current player status as JSON
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStatus(s.player.Status()))
}

// handleCommand applies one command posted as JSON and replies with its result
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_message", "message": err.Error()})
		return
	}

	result := s.execute(cmd)
	code := http.StatusOK
	if !result.OK {
		code = http.StatusUnprocessableEntity
		s.logger.Info("relay command failed",
			zap.String("remote", r.RemoteAddr),
			zap.String("command", cmd.Command),
			zap.String("error", result.Error))
	}
	writeJSON(w, code, result)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves the relay on config.Addr until Close
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves the relay on ln until Close
func (s *Server) Serve(ln net.Listener) error {
	s.clientsMu.Lock()
	s.httpServer = &http.Server{Handler: s.Handler()}
	srv := s.httpServer
	s.clientsMu.Unlock()

	s.logger.Info("relay listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server failed: %w", err)
	}
	return nil
}

// Close stops listening, disconnects clients and detaches from the player
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, unsub := range s.unsubscribe {
			unsub()
		}

		s.clientsMu.Lock()
		srv := s.httpServer
		for _, c := range s.clients {
			c.conn.Close()
		}
		s.clientsMu.Unlock()

		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = srv.Shutdown(ctx)
		}
		s.wg.Wait()
	})
	return err
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// handleWebSocket upgrades and serves one client
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(conn, r.RemoteAddr)
}

// handleConnection registers the client, greets it and reads commands until it leaves
func (s *Server) handleConnection(conn *websocket.Conn, remote string) {
	defer conn.Close()

	c := &client{
		id:       uuid.New().String(),
		conn:     conn,
		sendChan: make(chan interface{}, sendBuffer),
	}

	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()
	s.logger.Info("relay client connected", zap.String("client", c.id), zap.String("remote", remote))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.clientWriter(c)
	}()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		close(c.sendChan)
		s.clientsMu.Unlock()
		<-writerDone
		s.logger.Info("relay client disconnected", zap.String("client", c.id))
	}()

	s.send(c, TypeHello, Hello{
		ClientID: c.id,
		Product:  version.Product,
		Version:  version.Version,
		Status:   toStatus(s.player.Status()),
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("relay read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		s.handleClientMessage(c, data)
	}
}

// clientWriter serializes outbound messages and keeps the connection alive
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("failed to marshal relay message", zap.Error(err))
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("relay write failed", zap.String("client", c.id), zap.Error(err))
				c.conn.Close()
				s.drain(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				c.conn.Close()
				s.drain(c)
				return
			}
		}
	}
}

// drain discards messages until the reader side closes sendChan
func (s *Server) drain(c *client) {
	for range c.sendChan {
	}
}

// handleClientMessage decodes and applies one command
func (s *Server) handleClientMessage(c *client, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.send(c, TypeError, map[string]string{"error": "invalid_message", "message": err.Error()})
		return
	}
	if msg.Type != TypeCommand {
		s.send(c, TypeError, map[string]string{"error": "unknown_type", "message": msg.Type})
		return
	}

	cmd := msg.Payload
	result := s.execute(cmd)
	if !result.OK {
		s.logger.Info("relay command failed",
			zap.String("client", c.id),
			zap.String("command", cmd.Command),
			zap.String("error", result.Error))
	}
	s.send(c, TypeResult, result)
}

// execute applies a command and builds its result
func (s *Server) execute(cmd Command) Result {
	err := s.apply(cmd)

	result := Result{ID: cmd.ID, Command: cmd.Command, OK: err == nil}
	if err != nil {
		result.Error = err.Error()
	}
	if cmd.Command == CommandStatus {
		st := toStatus(s.player.Status())
		result.Status = &st
	}
	return result
}

// apply runs a command against the player
func (s *Server) apply(cmd Command) error {
	switch cmd.Command {
	case CommandPlay:
		return s.player.Play()
	case CommandPause:
		return s.player.Pause()
	case CommandSeek:
		return s.player.Seek(cmd.Position)
	case CommandVolume:
		return s.player.SetVolume(cmd.Volume)
	case CommandSetMode:
		mode, err := chunkplay.ParseMode(string(cmd.Mode))
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.config.CommandTimeout)
		defer cancel()
		return s.player.SetMode(ctx, mode, cmd.Preset)
	case CommandSetPreset:
		ctx, cancel := context.WithTimeout(context.Background(), s.config.CommandTimeout)
		defer cancel()
		return s.player.SetPreset(ctx, cmd.Preset)
	case CommandStatus:
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
}

// broadcastEvent forwards a player event to every client
func (s *Server) broadcastEvent(ev chunkplay.Event) {
	payload := toEvent(ev)

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		s.send(c, TypeEvent, payload)
	}
}

// send queues a message, dropping it if the client is not keeping up.
// Callers must not hold clientsMu for writing.
func (s *Server) send(c *client, msgType string, payload interface{}) {
	select {
	case c.sendChan <- Message{Type: msgType, Payload: payload}:
	default:
		s.logger.Warn("relay client send buffer full", zap.String("client", c.id), zap.String("type", msgType))
	}
}
