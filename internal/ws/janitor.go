package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type sweepAction int

const (
	sweepProbe sweepAction = iota
	sweepEvict
)

// decideSweep applies the two-strike liveness policy: evict when the
// connection has been silent past the timeout or when the previous probe went
// unanswered, otherwise probe again. Worst-case detection latency is two
// monitor periods.
func decideSweep(lastSeen time.Time, awaitingPong bool, now time.Time, timeout time.Duration) sweepAction {
	if now.Sub(lastSeen) > timeout {
		return sweepEvict
	}
	if awaitingPong {
		return sweepEvict
	}
	return sweepProbe
}

func (s *Server) livenessLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.sweepConnections()
		}
	}
}

func (s *Server) sweepConnections() {
	now := s.clock.Now()
	s.mu.Lock()
	conns := make([]*Conn, 0)
	for _, byPlayer := range s.conns {
		for _, c := range byPlayer {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, c := range conns {
		lastSeen, awaiting := c.liveness()
		switch decideSweep(lastSeen, awaiting, now, s.cfg.HeartbeatTimeout) {
		case sweepEvict:
			log.Info().Str("conn", c.id).Str("player", c.playerID).
				Time("last_seen", lastSeen).Msg("liveness eviction")
			c.close()
		case sweepProbe:
			c.markAwaiting()
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("probe failed")
				c.close()
			}
		}
	}
}

func (s *Server) reaperLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.ReapPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.reapRooms()
		}
	}
}

// reapRooms discards rooms that have sat without a connected participant past
// the grace period. Rooms are never deleted synchronously on last-leave so a
// quick refresh can rejoin.
func (s *Server) reapRooms() {
	now := s.clock.Now()
	s.mu.Lock()
	candidates := make([]string, 0)
	for id := range s.rooms {
		if len(s.conns[id]) > 0 {
			continue
		}
		candidates = append(candidates, id)
	}
	s.mu.Unlock()

	for _, id := range candidates {
		s.mu.Lock()
		room := s.rooms[id]
		s.mu.Unlock()
		if room == nil || !room.Empty() || now.Sub(room.CreatedAt()) <= s.cfg.RoomGrace {
			continue
		}
		s.mu.Lock()
		if len(s.conns[id]) == 0 {
			delete(s.rooms, id)
			log.Info().Str("room", id).Msg("room reaped")
		}
		s.mu.Unlock()
	}
}
