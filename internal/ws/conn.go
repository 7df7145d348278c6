package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"keyrush/internal/game"
	"keyrush/internal/protocol"
)

// Conn binds one live websocket to one participant in one room, plus the
// liveness bookkeeping the monitor sweeps.
type Conn struct {
	id       string
	roomID   string
	playerID string
	room     *game.Room
	ws       *websocket.Conn
	srv      *Server

	send chan []byte
	done chan struct{}
	once sync.Once

	mu           sync.Mutex
	lastSeen     time.Time
	awaitingPong bool
}

func (s *Server) newConn(ws *websocket.Conn, roomID, playerID string) *Conn {
	return &Conn{
		id:       newConnID(),
		roomID:   roomID,
		playerID: playerID,
		ws:       ws,
		srv:      s,
		send:     make(chan []byte, s.cfg.SendBuffer),
		done:     make(chan struct{}),
		lastSeen: s.clock.Now(),
	}
}

// close tears the transport down. Idempotent; the read loop observes the
// closed socket and runs the disconnect side effects exactly once.
func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) markAlive() {
	c.mu.Lock()
	c.lastSeen = c.srv.clock.Now()
	c.awaitingPong = false
	c.mu.Unlock()
}

func (c *Conn) liveness() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen, c.awaitingPong
}

func (c *Conn) markAwaiting() {
	c.mu.Lock()
	c.awaitingPong = true
	c.mu.Unlock()
}

// trySend queues a payload without blocking. A consumer too slow to drain its
// buffer is closed rather than allowed to stall the room.
func (c *Conn) trySend(payload []byte) {
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		log.Warn().Str("conn", c.id).Str("player", c.playerID).
			Msg("send buffer full, dropping connection")
		c.close()
	}
}

func (c *Conn) sendEvent(ev protocol.Event) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("conn", c.id).Msg("encode event failed")
		return
	}
	c.trySend(payload)
}

func (c *Conn) sendError(code, message string) {
	c.sendEvent(protocol.NewError(code, message))
}

// reject sends a structured error synchronously and closes. Used on the join
// path before the write loop exists.
func (c *Conn) reject(code, message string) {
	payload, err := protocol.Encode(protocol.NewError(code, message))
	if err == nil {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
		_ = c.ws.WriteMessage(websocket.TextMessage, payload)
	}
	c.close()
}

func (c *Conn) writeLoop() {
	defer c.close()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("write failed")
				return
			}
		}
	}
}

// readLoop drives the connection until the transport drops, then runs the
// disconnect side effects through the registry.
func (c *Conn) readLoop() {
	defer c.srv.dropConn(c)
	c.ws.SetReadLimit(c.srv.cfg.MaxMessageBytes)
	c.ws.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", c.id).Str("player", c.playerID).Msg("read failed")
			}
			return
		}
		c.markAlive()
		ev, err := protocol.Validate(raw)
		if err != nil {
			// Malformed input never closes the connection; the client may
			// recover.
			c.sendError(protocol.CodeInvalidMessage, err.Error())
			continue
		}
		c.dispatch(ev)
	}
}

// dispatch routes a validated inbound event. The sender's bound identity
// always wins over whatever player id the payload claims.
func (c *Conn) dispatch(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.PlayerReady:
		ev.PlayerID = c.playerID
		if err := c.room.SetReady(ev.PlayerID, ev.Ready); err != nil {
			c.sendError(protocol.CodePlayerNotFound, err.Error())
		}
	case protocol.TypingProgress:
		ev.PlayerID = c.playerID
		if err := c.room.ApplyProgress(ev); err != nil {
			c.sendError(protocol.CodePlayerNotFound, err.Error())
		}
	case protocol.PlayerFinished:
		ev.PlayerID = c.playerID
		if err := c.room.ApplyFinish(ev); err != nil {
			c.sendError(protocol.CodePlayerNotFound, err.Error())
		}
	case protocol.GameReset:
		// Room.Reset broadcasts the fresh waiting snapshot itself.
		if err := c.room.Reset(); err != nil {
			c.sendError(protocol.CodeGameAlreadyStarted, err.Error())
		}
	case protocol.Heartbeat:
		ev.ServerTimeMS = c.srv.clock.Now().UnixMilli()
		c.sendEvent(ev)
	case protocol.PlayerLeave:
		c.close()
	default:
		c.sendError(protocol.CodeInvalidMessage, "unexpected event type "+string(ev.Kind()))
	}
}
