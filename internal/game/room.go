package game

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"keyrush/internal/protocol"
)

// State is the race lifecycle position of a room.
type State string

const (
	StateWaiting   State = "waiting"
	StateCountdown State = "countdown"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateFinished  State = "finished"
)

var (
	ErrRoomFull       = errors.New("room is at capacity")
	ErrRaceStarted    = errors.New("race already started")
	ErrPlayerNotFound = errors.New("player not found in room")
	ErrRaceInProgress = errors.New("race in progress")
)

// Sink receives room events for fan-out. Broadcast is fire-and-forget: no
// delivery guarantee is returned and none exists.
type Sink interface {
	Broadcast(roomID string, ev protocol.Event, excludePlayer string)
}

// Config fixes a room's shape at creation time.
type Config struct {
	TargetChars   int
	MaxPlayers    int
	Public        bool
	CountdownFrom int
	TickInterval  time.Duration
}

const (
	defaultMaxPlayers    = 4
	defaultCountdownFrom = 3
	minPlayersToStart    = 2
)

func (c Config) withDefaults(textLen int) Config {
	if c.TargetChars <= 0 {
		c.TargetChars = textLen
	}
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = defaultMaxPlayers
	}
	if c.CountdownFrom <= 0 {
		c.CountdownFrom = defaultCountdownFrom
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// Room is the authoritative unit of shared race state. Every mutation is
// serialized under mu; broadcasts are emitted after the lock is released so
// the sink can take its own locks without ordering against ours.
type Room struct {
	id   string
	text string
	cfg  Config

	clock clockwork.Clock
	sink  Sink

	mu              sync.Mutex
	state           State
	participants    map[string]*Participant
	createdAt       time.Time
	startedAt       time.Time
	finishedAt      time.Time
	winner          string
	cancelCountdown context.CancelFunc
}

// outEvent is a broadcast staged while the room lock is held.
type outEvent struct {
	ev      protocol.Event
	exclude string
}

func NewRoom(id, text string, cfg Config, clock clockwork.Clock, sink Sink) *Room {
	r := &Room{
		id:           id,
		text:         text,
		cfg:          cfg.withDefaults(len(text)),
		clock:        clock,
		sink:         sink,
		state:        StateWaiting,
		participants: make(map[string]*Participant),
		createdAt:    clock.Now(),
	}
	log.Info().Str("room", id).Int("target_chars", r.cfg.TargetChars).Msg("room created")
	return r
}

func (r *Room) ID() string   { return r.id }
func (r *Room) Text() string { return r.text }

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) CreatedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createdAt
}

// Empty reports whether no participant is connected.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectedLocked() == 0
}

// Winner returns the first participant to reach the target, if any.
func (r *Room) Winner() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.winner
}

func (r *Room) emit(out []outEvent) {
	for _, o := range out {
		r.sink.Broadcast(r.id, o.ev, o.exclude)
	}
}

// Join attaches a participant. New participants are only admitted while the
// room is waiting; a known participant reconnecting is re-marked connected in
// any state so mid-race results stay meaningful.
func (r *Room) Join(id, name string) error {
	r.mu.Lock()
	if p, ok := r.participants[id]; ok {
		p.Connected = true
		out := []outEvent{{r.joinEventLocked(p), id}}
		r.mu.Unlock()
		r.emit(out)
		return nil
	}
	if r.state != StateWaiting {
		r.mu.Unlock()
		return ErrRaceStarted
	}
	if len(r.participants) >= r.cfg.MaxPlayers {
		r.mu.Unlock()
		return ErrRoomFull
	}
	p := newParticipant(id, name)
	r.participants[id] = p
	out := []outEvent{{r.joinEventLocked(p), id}}
	r.mu.Unlock()
	r.emit(out)
	return nil
}

func (r *Room) joinEventLocked(p *Participant) protocol.PlayerJoin {
	return protocol.PlayerJoin{
		Type:        protocol.EventPlayerJoin,
		PlayerID:    p.ID,
		Name:        p.Name,
		TimestampMS: r.clock.Now().UnixMilli(),
	}
}

// SetReady flips a participant's ready flag. The race enters countdown the
// moment at least two participants are present and all of them are ready.
func (r *Room) SetReady(id string, ready bool) error {
	r.mu.Lock()
	p, ok := r.participants[id]
	if !ok {
		r.mu.Unlock()
		return ErrPlayerNotFound
	}
	p.Ready = ready
	out := []outEvent{{protocol.PlayerReady{
		Type:        protocol.EventPlayerReady,
		PlayerID:    id,
		Ready:       ready,
		TimestampMS: r.clock.Now().UnixMilli(),
	}, id}}
	if r.state == StateWaiting && r.allReadyLocked() {
		r.beginCountdownLocked()
	}
	r.mu.Unlock()
	r.emit(out)
	return nil
}

func (r *Room) allReadyLocked() bool {
	if len(r.participants) < minPlayersToStart {
		return false
	}
	for _, p := range r.participants {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (r *Room) beginCountdownLocked() {
	r.state = StateCountdown
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelCountdown = cancel
	log.Info().Str("room", r.id).Msg("countdown started")
	go r.runCountdown(ctx)
}

// runCountdown emits one tick per interval for phases CountdownFrom..0, then
// activates the race. Cancellation is guaranteed on any transition away from
// countdown: the canceller flips state first, every tick re-checks it under
// the lock, and beginRace re-checks it once more.
func (r *Room) runCountdown(ctx context.Context) {
	for phase := r.cfg.CountdownFrom; ; phase-- {
		r.mu.Lock()
		if r.state != StateCountdown {
			r.mu.Unlock()
			return
		}
		now := r.clock.Now().UnixMilli()
		r.mu.Unlock()
		r.sink.Broadcast(r.id, protocol.CountdownSync{
			Type:         protocol.EventCountdownSync,
			Phase:        phase,
			ServerTimeMS: now,
			TimestampMS:  now,
		}, "")
		if phase == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.cfg.TickInterval):
		}
	}
	r.beginRace()
}

func (r *Room) beginRace() {
	r.mu.Lock()
	if r.state != StateCountdown {
		r.mu.Unlock()
		return
	}
	r.state = StateActive
	r.startedAt = r.clock.Now()
	r.cancelCountdown = nil
	out := []outEvent{
		{protocol.GameStart{
			Type:        protocol.EventGameStart,
			Text:        r.text,
			TargetChars: r.cfg.TargetChars,
			TimestampMS: r.startedAt.UnixMilli(),
		}, ""},
		{r.snapshotLocked(), ""},
	}
	r.mu.Unlock()
	log.Info().Str("room", r.id).Msg("race active")
	r.emit(out)
}

// ApplyProgress applies an inbound progress event last-write-wins, then either
// finishes the participant on threshold crossing or rebroadcasts the event
// verbatim to the rest of the room.
func (r *Room) ApplyProgress(ev protocol.TypingProgress) error {
	r.mu.Lock()
	if r.state != StateActive {
		r.mu.Unlock()
		return nil
	}
	p, ok := r.participants[ev.PlayerID]
	if !ok {
		r.mu.Unlock()
		return ErrPlayerNotFound
	}
	if p.Finished {
		r.mu.Unlock()
		return nil
	}
	if ev.CorrectChars < p.CorrectChars {
		log.Debug().Str("room", r.id).Str("player", p.ID).
			Int("from", p.CorrectChars).Int("to", ev.CorrectChars).
			Msg("progress regressed, applying last-write-wins")
	}
	p.CorrectChars = ev.CorrectChars
	p.WordIndex = ev.WordIndex
	p.CompletedWords = append([]string(nil), ev.CompletedWords...)
	p.CurrentWord = ev.CurrentWord
	p.WPM = ev.WPM
	p.Accuracy = ev.Accuracy

	if ev.CorrectChars >= r.cfg.TargetChars {
		out := r.finishLocked(p)
		r.mu.Unlock()
		r.emit(out)
		return nil
	}
	r.mu.Unlock()
	r.emit([]outEvent{{ev, ev.PlayerID}})
	return nil
}

// ApplyFinish records an explicit finish at face value and evaluates race
// completion the same way a threshold-crossing progress event would.
func (r *Room) ApplyFinish(ev protocol.PlayerFinished) error {
	r.mu.Lock()
	if r.state != StateActive && r.state != StateFinished {
		r.mu.Unlock()
		return nil
	}
	p, ok := r.participants[ev.PlayerID]
	if !ok {
		r.mu.Unlock()
		return ErrPlayerNotFound
	}
	if p.Finished {
		r.mu.Unlock()
		return nil
	}
	p.CorrectChars = ev.CorrectChars
	p.WPM = ev.WPM
	p.Accuracy = ev.Accuracy
	out := r.finishLocked(p)
	r.mu.Unlock()
	r.emit(out)
	return nil
}

// finishLocked marks a participant finished exactly once and transitions the
// room to finished on the first finisher (first past the post).
func (r *Room) finishLocked(p *Participant) []outEvent {
	now := r.clock.Now()
	p.Finished = true
	p.FinishTime = now.Sub(r.startedAt)
	out := []outEvent{{protocol.PlayerFinished{
		Type:         protocol.EventPlayerFinished,
		PlayerID:     p.ID,
		CorrectChars: p.CorrectChars,
		WPM:          p.WPM,
		Accuracy:     p.Accuracy,
		FinishMS:     p.FinishTime.Milliseconds(),
		TimestampMS:  now.UnixMilli(),
	}, ""}}
	if r.state == StateActive {
		r.state = StateFinished
		r.finishedAt = now
		r.winner = p.ID
		log.Info().Str("room", r.id).Str("winner", p.ID).Msg("race finished")
		out = append(out, outEvent{r.snapshotLocked(), ""})
	}
	return out
}

// Disconnect runs the disconnect side effects for a participant. Callers must
// invoke it at most once per connection loss.
func (r *Room) Disconnect(id string) {
	r.mu.Lock()
	p, ok := r.participants[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.Connected = false
	out := []outEvent{{protocol.PlayerLeave{
		Type:        protocol.EventPlayerLeave,
		PlayerID:    id,
		TimestampMS: r.clock.Now().UnixMilli(),
	}, id}}

	switch r.state {
	case StateWaiting:
		// No value in retaining a pre-race slot.
		delete(r.participants, id)
	case StateCountdown:
		if r.connectedLocked() < minPlayersToStart {
			r.abortCountdownLocked()
			out = append(out, outEvent{r.snapshotLocked(), ""})
		}
	case StateActive:
		if r.connectedLocked() < minPlayersToStart {
			r.state = StatePaused
			log.Info().Str("room", r.id).Msg("race paused, not enough connected players")
			out = append(out, outEvent{r.snapshotLocked(), ""})
		}
	}
	r.mu.Unlock()
	r.emit(out)
}

// abortCountdownLocked returns the room to waiting and clears ready flags so
// the next start requires everyone to opt in again.
func (r *Room) abortCountdownLocked() {
	if r.cancelCountdown != nil {
		r.cancelCountdown()
		r.cancelCountdown = nil
	}
	r.state = StateWaiting
	for _, p := range r.participants {
		p.Ready = false
	}
	log.Info().Str("room", r.id).Msg("countdown aborted")
}

// Reset returns a finished or paused room to waiting with all progress
// cleared. A paused race never resumes; restarting goes through here.
func (r *Room) Reset() error {
	r.mu.Lock()
	if r.state == StateActive || r.state == StateCountdown {
		r.mu.Unlock()
		return ErrRaceInProgress
	}
	r.state = StateWaiting
	r.startedAt = time.Time{}
	r.finishedAt = time.Time{}
	r.winner = ""
	for _, p := range r.participants {
		p.resetProgress()
	}
	out := []outEvent{{r.snapshotLocked(), ""}}
	r.mu.Unlock()
	r.emit(out)
	return nil
}

func (r *Room) connectedLocked() int {
	n := 0
	for _, p := range r.participants {
		if p.Connected {
			n++
		}
	}
	return n
}

// Snapshot builds the full authoritative state event.
func (r *Room) Snapshot() protocol.GameStateSync {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() protocol.GameStateSync {
	players := make([]protocol.PlayerState, 0, len(r.participants))
	for _, p := range r.participants {
		players = append(players, p.state())
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	var startedAt int64
	if !r.startedAt.IsZero() {
		startedAt = r.startedAt.UnixMilli()
	}
	return protocol.GameStateSync{
		Type:         protocol.EventGameStateSync,
		State:        string(r.state),
		Players:      players,
		Text:         r.text,
		TargetChars:  r.cfg.TargetChars,
		StartedAtMS:  startedAt,
		ServerTimeMS: r.clock.Now().UnixMilli(),
	}
}
