package ws

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"keyrush/internal/game"
	"keyrush/internal/protocol"
	"keyrush/internal/texts"
)

// Config bounds the registry's timers and buffers. Zero values take the
// reference defaults.
type Config struct {
	MaxPlayersPerRoom int
	CountdownFrom     int
	PingPeriod        time.Duration
	HeartbeatTimeout  time.Duration
	ReapPeriod        time.Duration
	RoomGrace         time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	MaxMessageBytes   int64
}

func (c Config) withDefaults() Config {
	if c.PingPeriod <= 0 {
		c.PingPeriod = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	if c.ReapPeriod <= 0 {
		c.ReapPeriod = 60 * time.Second
	}
	if c.RoomGrace <= 0 {
		c.RoomGrace = 5 * time.Minute
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 4096
	}
	return c
}

// Server owns the room and connection registries and executes all transport
// I/O. It is created at process start and torn down on shutdown; there is no
// package-level state.
type Server struct {
	cfg      Config
	texts    texts.Provider
	clock    clockwork.Clock
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*game.Room
	conns map[string]map[string]*Conn
}

func NewServer(cfg Config, provider texts.Provider, clock clockwork.Clock) *Server {
	return &Server{
		cfg:   cfg.withDefaults(),
		texts: provider,
		clock: clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]*game.Room),
		conns: make(map[string]map[string]*Conn),
	}
}

// Run starts the liveness monitor and room reaper until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	go s.livenessLoop(ctx)
	go s.reaperLoop(ctx)
}

// Teardown closes every live connection. Background loops stop with the Run
// context.
func (s *Server) Teardown() {
	s.mu.Lock()
	var all []*Conn
	for _, byPlayer := range s.conns {
		for _, c := range byPlayer {
			all = append(all, c)
		}
	}
	s.mu.Unlock()
	for _, c := range all {
		c.close()
	}
	log.Info().Int("connections", len(all)).Msg("registry torn down")
}

// HandleWS upgrades the transport and runs the join handshake. Room and
// player identifiers travel as query parameters; everything after the
// handshake is wire events.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := game.NormalizeRoomCode(r.URL.Query().Get("room"))
	playerID := r.URL.Query().Get("player")
	name := r.URL.Query().Get("name")

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	c := s.newConn(sock, roomID, playerID)

	if roomID == "" || playerID == "" {
		c.reject(protocol.CodeValidationError, "room and player are required")
		return
	}

	room := s.roomFor(r.Context(), roomID)
	c.room = room

	s.register(c)
	if err := room.Join(playerID, name); err != nil {
		s.unregister(c)
		c.reject(joinErrorCode(err), err.Error())
		return
	}

	log.Info().Str("conn", c.id).Str("room", roomID).Str("player", playerID).
		Msg("connection joined")

	go c.writeLoop()
	// Snapshot goes to the joiner only; the join event went to everyone else.
	c.sendEvent(room.Snapshot())
	c.readLoop()
}

func joinErrorCode(err error) string {
	switch err {
	case game.ErrRoomFull:
		return protocol.CodeRoomFull
	case game.ErrRaceStarted:
		return protocol.CodeGameAlreadyStarted
	default:
		return protocol.CodeValidationError
	}
}

// roomFor returns the room, creating it in waiting state on first join. The
// text fetch happens outside the registry lock.
func (s *Server) roomFor(ctx context.Context, roomID string) *game.Room {
	s.mu.Lock()
	if room, ok := s.rooms[roomID]; ok {
		s.mu.Unlock()
		return room
	}
	s.mu.Unlock()

	text, err := s.texts.RandomText(ctx)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("text provider failed, using fallback")
		text = texts.Fallback()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return room
	}
	room := game.NewRoom(roomID, text.Body, game.Config{
		MaxPlayers:    s.cfg.MaxPlayersPerRoom,
		CountdownFrom: s.cfg.CountdownFrom,
	}, s.clock, s)
	s.rooms[roomID] = room
	return room
}

func (s *Server) register(c *Conn) {
	s.mu.Lock()
	byPlayer := s.conns[c.roomID]
	if byPlayer == nil {
		byPlayer = make(map[string]*Conn)
		s.conns[c.roomID] = byPlayer
	}
	old := byPlayer[c.playerID]
	byPlayer[c.playerID] = c
	s.mu.Unlock()
	if old != nil {
		// Replaced by a rejoin; closing it is not a disconnect because the
		// binding now points at the new connection.
		old.close()
	}
}

// unregister removes a binding without side effects. Used when a join fails
// after registration.
func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	if byPlayer := s.conns[c.roomID]; byPlayer != nil && byPlayer[c.playerID] == c {
		delete(byPlayer, c.playerID)
		if len(byPlayer) == 0 {
			delete(s.conns, c.roomID)
		}
	}
	s.mu.Unlock()
}

// dropConn runs when a read loop ends. Disconnect side effects fire only if
// this connection still owns its binding (a rejoin may have replaced it).
func (s *Server) dropConn(c *Conn) {
	c.close()
	s.mu.Lock()
	owned := false
	if byPlayer := s.conns[c.roomID]; byPlayer != nil && byPlayer[c.playerID] == c {
		owned = true
		delete(byPlayer, c.playerID)
		if len(byPlayer) == 0 {
			delete(s.conns, c.roomID)
		}
	}
	room := s.rooms[c.roomID]
	s.mu.Unlock()

	if owned && room != nil {
		log.Info().Str("conn", c.id).Str("room", c.roomID).Str("player", c.playerID).
			Msg("connection dropped")
		room.Disconnect(c.playerID)
	}
}

// Broadcast fans a room event out to every bound open connection, skipping
// the excluded participant. Fire-and-forget: the event is serialized once and
// a failure only drops the individual consumer.
func (s *Server) Broadcast(roomID string, ev protocol.Event, excludePlayer string) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("encode broadcast failed")
		return
	}
	s.mu.Lock()
	targets := make([]*Conn, 0, len(s.conns[roomID]))
	for playerID, c := range s.conns[roomID] {
		if excludePlayer != "" && playerID == excludePlayer {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.trySend(payload)
	}
}

// RoomInfo is the public listing row for the HTTP surface.
type RoomInfo struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Players   int    `json:"players"`
	Connected int    `json:"connected"`
}

func (s *Server) Rooms() []RoomInfo {
	s.mu.Lock()
	rooms := make([]*game.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		snap := room.Snapshot()
		connected := 0
		for _, p := range snap.Players {
			if p.Connected {
				connected++
			}
		}
		out = append(out, RoomInfo{
			ID:        room.ID(),
			State:     snap.State,
			Players:   len(snap.Players),
			Connected: connected,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
