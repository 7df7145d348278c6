package protocol

import (
	"encoding/json"
	"fmt"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
	kindStringList
	kindObjectList
)

func (k fieldKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindBool:
		return "bool"
	case kindStringList:
		return "string list"
	case kindObjectList:
		return "object list"
	}
	return "unknown"
}

type fieldSpec struct {
	name string
	kind fieldKind
}

// requiredFields lists, per tag, the fields a payload must carry with the
// right primitive type before it is allowed anywhere near game logic.
var requiredFields = map[EventType][]fieldSpec{
	EventPlayerJoin: {
		{"player_id", kindString},
		{"name", kindString},
	},
	EventPlayerLeave: {
		{"player_id", kindString},
	},
	EventPlayerReady: {
		{"player_id", kindString},
		{"ready", kindBool},
	},
	EventGameStart: {
		{"text", kindString},
		{"target_chars", kindNumber},
	},
	EventCountdownSync: {
		{"phase", kindNumber},
		{"server_time_ms", kindNumber},
	},
	EventTypingProgress: {
		{"player_id", kindString},
		{"correct_chars", kindNumber},
		{"word_index", kindNumber},
		{"completed_words", kindStringList},
		{"current_word", kindString},
		{"wpm", kindNumber},
		{"accuracy", kindNumber},
	},
	EventPlayerFinished: {
		{"player_id", kindString},
		{"correct_chars", kindNumber},
		{"wpm", kindNumber},
		{"accuracy", kindNumber},
		{"finish_ms", kindNumber},
	},
	EventGameStateSync: {
		{"state", kindString},
		{"players", kindObjectList},
	},
	EventGameReset: {
		{"player_id", kindString},
	},
	EventHeartbeat: {
		{"sent_at_ms", kindNumber},
	},
	EventError: {
		{"code", kindString},
		{"message", kindString},
	},
}

// Validate checks a raw payload against the closed event set and returns the
// typed event. Unknown tags and malformed payloads are rejected with
// ErrInvalidMessage; no state is touched either way.
func Validate(raw []byte) (Event, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalidMessage)
	}
	tag, ok := fields["type"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing type tag", ErrInvalidMessage)
	}
	kind := EventType(tag)
	specs, known := requiredFields[kind]
	if !known {
		return nil, fmt.Errorf("%w: unknown tag %q", ErrInvalidMessage, tag)
	}
	for _, spec := range specs {
		v, present := fields[spec.name]
		if !present {
			return nil, fmt.Errorf("%w: %s missing field %q", ErrInvalidMessage, tag, spec.name)
		}
		if !matchesKind(v, spec.kind) {
			return nil, fmt.Errorf("%w: %s field %q is not a %s", ErrInvalidMessage, tag, spec.name, spec.kind)
		}
	}
	return decode(kind, raw)
}

func matchesKind(v any, kind fieldKind) bool {
	switch kind {
	case kindString:
		_, ok := v.(string)
		return ok
	case kindNumber:
		_, ok := v.(float64)
		return ok
	case kindBool:
		_, ok := v.(bool)
		return ok
	case kindStringList:
		list, ok := v.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	case kindObjectList:
		list, ok := v.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if _, ok := item.(map[string]any); !ok {
				return false
			}
		}
		return true
	}
	return false
}

func decode(kind EventType, raw []byte) (Event, error) {
	var target Event
	switch kind {
	case EventPlayerJoin:
		target = &PlayerJoin{}
	case EventPlayerLeave:
		target = &PlayerLeave{}
	case EventPlayerReady:
		target = &PlayerReady{}
	case EventGameStart:
		target = &GameStart{}
	case EventCountdownSync:
		target = &CountdownSync{}
	case EventTypingProgress:
		target = &TypingProgress{}
	case EventPlayerFinished:
		target = &PlayerFinished{}
	case EventGameStateSync:
		target = &GameStateSync{}
	case EventGameReset:
		target = &GameReset{}
	case EventHeartbeat:
		target = &Heartbeat{}
	case EventError:
		target = &ErrorEvent{}
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("%w: %s decode: %v", ErrInvalidMessage, kind, err)
	}
	return deref(target), nil
}

// deref returns the value event so callers can type-switch on concrete
// structs rather than pointers.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *PlayerJoin:
		return *e
	case *PlayerLeave:
		return *e
	case *PlayerReady:
		return *e
	case *GameStart:
		return *e
	case *CountdownSync:
		return *e
	case *TypingProgress:
		return *e
	case *PlayerFinished:
		return *e
	case *GameStateSync:
		return *e
	case *GameReset:
		return *e
	case *Heartbeat:
		return *e
	case *ErrorEvent:
		return *e
	}
	return ev
}
