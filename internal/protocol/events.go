package protocol

import "encoding/json"

// ProtocolVersion is carried by clients in their handshake query and pinned by
// the JSON schema under api/schema.
const ProtocolVersion = "1.0"

type EventType string

const (
	EventPlayerJoin     EventType = "player_join"
	EventPlayerLeave    EventType = "player_leave"
	EventPlayerReady    EventType = "player_ready"
	EventGameStart      EventType = "game_start"
	EventCountdownSync  EventType = "countdown_sync"
	EventTypingProgress EventType = "typing_progress"
	EventPlayerFinished EventType = "player_finished"
	EventGameStateSync  EventType = "game_state_sync"
	EventGameReset      EventType = "game_reset"
	EventHeartbeat      EventType = "heartbeat"
	EventError          EventType = "error"
)

// Event is any validated wire event.
type Event interface {
	Kind() EventType
}

// serverOnly tags are produced by the server and never accepted from clients.
func (t EventType) ServerOnly() bool {
	return t == EventGameStateSync || t == EventError
}

// PlayerJoin announces a participant entering a room. The server emits it to
// everyone except the joiner; inbound joins travel as connection parameters,
// not as events.
type PlayerJoin struct {
	Type        EventType `json:"type"`
	PlayerID    string    `json:"player_id"`
	Name        string    `json:"name"`
	TimestampMS int64     `json:"timestamp_ms"`
}

func (PlayerJoin) Kind() EventType { return EventPlayerJoin }

type PlayerLeave struct {
	Type        EventType `json:"type"`
	PlayerID    string    `json:"player_id"`
	TimestampMS int64     `json:"timestamp_ms"`
}

func (PlayerLeave) Kind() EventType { return EventPlayerLeave }

type PlayerReady struct {
	Type        EventType `json:"type"`
	PlayerID    string    `json:"player_id"`
	Ready       bool      `json:"ready"`
	TimestampMS int64     `json:"timestamp_ms"`
}

func (PlayerReady) Kind() EventType { return EventPlayerReady }

// GameStart carries the reference text and the correct-character target a
// participant must reach to finish.
type GameStart struct {
	Type        EventType `json:"type"`
	Text        string    `json:"text"`
	TargetChars int       `json:"target_chars"`
	TimestampMS int64     `json:"timestamp_ms"`
}

func (GameStart) Kind() EventType { return EventGameStart }

// CountdownSync is one authoritative countdown tick. ServerTimeMS is the send
// timestamp on the server clock and is the only timestamp in the protocol
// that clients use for clock math rather than diagnostics.
type CountdownSync struct {
	Type         EventType `json:"type"`
	Phase        int       `json:"phase"`
	ServerTimeMS int64     `json:"server_time_ms"`
	TimestampMS  int64     `json:"timestamp_ms"`
}

func (CountdownSync) Kind() EventType { return EventCountdownSync }

type TypingProgress struct {
	Type           EventType `json:"type"`
	PlayerID       string    `json:"player_id"`
	CorrectChars   int       `json:"correct_chars"`
	WordIndex      int       `json:"word_index"`
	CompletedWords []string  `json:"completed_words"`
	CurrentWord    string    `json:"current_word"`
	WPM            float64   `json:"wpm"`
	Accuracy       float64   `json:"accuracy"`
	TimestampMS    int64     `json:"timestamp_ms"`
}

func (TypingProgress) Kind() EventType { return EventTypingProgress }

// PlayerFinished carries a participant's final stats. FinishMS is the offset
// from race start in milliseconds.
type PlayerFinished struct {
	Type         EventType `json:"type"`
	PlayerID     string    `json:"player_id"`
	CorrectChars int       `json:"correct_chars"`
	WPM          float64   `json:"wpm"`
	Accuracy     float64   `json:"accuracy"`
	FinishMS     int64     `json:"finish_ms"`
	TimestampMS  int64     `json:"timestamp_ms"`
}

func (PlayerFinished) Kind() EventType { return EventPlayerFinished }

// PlayerState is the authoritative per-participant record inside a snapshot.
type PlayerState struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Ready          bool     `json:"ready"`
	Connected      bool     `json:"connected"`
	CorrectChars   int      `json:"correct_chars"`
	WordIndex      int      `json:"word_index"`
	CompletedWords []string `json:"completed_words"`
	CurrentWord    string   `json:"current_word"`
	WPM            float64  `json:"wpm"`
	Accuracy       float64  `json:"accuracy"`
	Finished       bool     `json:"finished"`
	FinishMS       int64    `json:"finish_ms"`
}

// GameStateSync is the full authoritative snapshot. Server-only.
type GameStateSync struct {
	Type         EventType     `json:"type"`
	State        string        `json:"state"`
	Players      []PlayerState `json:"players"`
	Text         string        `json:"text"`
	TargetChars  int           `json:"target_chars"`
	StartedAtMS  int64         `json:"started_at_ms"`
	ServerTimeMS int64         `json:"server_time_ms"`
}

func (GameStateSync) Kind() EventType { return EventGameStateSync }

// GameReset asks the server to return a finished or paused room to waiting
// with all progress cleared. Rejected while a race or countdown is running.
type GameReset struct {
	Type        EventType `json:"type"`
	PlayerID    string    `json:"player_id"`
	TimestampMS int64     `json:"timestamp_ms"`
}

func (GameReset) Kind() EventType { return EventGameReset }

// Heartbeat is sent by clients; the server echoes it back with ServerTimeMS
// filled in so the client can measure round-trip time.
type Heartbeat struct {
	Type         EventType `json:"type"`
	SentAtMS     int64     `json:"sent_at_ms"`
	ServerTimeMS int64     `json:"server_time_ms,omitempty"`
}

func (Heartbeat) Kind() EventType { return EventHeartbeat }

// ErrorEvent is a structured rejection. Server-only.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

func (ErrorEvent) Kind() EventType { return EventError }

// Encode marshals a typed event for the wire.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
