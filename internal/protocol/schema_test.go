package protocol

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func loadSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	compiler := jsonschema.NewCompiler()
	data, err := os.ReadFile("../../api/schema/ws_v1.schema.json")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if err := compiler.AddResource("ws_v1.schema.json", strings.NewReader(string(data))); err != nil {
		t.Fatalf("add resource: %v", err)
	}
	schema, err := compiler.Compile("ws_v1.schema.json")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return schema
}

func TestEncodedEventsMatchSchema(t *testing.T) {
	schema := loadSchema(t)

	events := []Event{
		PlayerJoin{Type: EventPlayerJoin, PlayerID: "p1", Name: "Ada", TimestampMS: 1},
		PlayerLeave{Type: EventPlayerLeave, PlayerID: "p1", TimestampMS: 2},
		PlayerReady{Type: EventPlayerReady, PlayerID: "p1", Ready: true, TimestampMS: 3},
		GameStart{Type: EventGameStart, Text: "the quick brown fox", TargetChars: 19, TimestampMS: 4},
		CountdownSync{Type: EventCountdownSync, Phase: 3, ServerTimeMS: 1724580000000, TimestampMS: 5},
		TypingProgress{
			Type: EventTypingProgress, PlayerID: "p1", CorrectChars: 9, WordIndex: 2,
			CompletedWords: []string{"the", "quick"}, CurrentWord: "br",
			WPM: 72.5, Accuracy: 0.98, TimestampMS: 6,
		},
		PlayerFinished{
			Type: EventPlayerFinished, PlayerID: "p1", CorrectChars: 19,
			WPM: 80, Accuracy: 1, FinishMS: 30000, TimestampMS: 7,
		},
		GameStateSync{
			Type: EventGameStateSync, State: "active",
			Players: []PlayerState{{
				ID: "p1", Name: "Ada", Ready: true, Connected: true,
				CompletedWords: []string{}, CurrentWord: "",
			}},
			Text: "the quick brown fox", TargetChars: 19,
			StartedAtMS: 1724580000000, ServerTimeMS: 1724580003000,
		},
		GameReset{Type: EventGameReset, PlayerID: "p1", TimestampMS: 8},
		Heartbeat{Type: EventHeartbeat, SentAtMS: 1724580000000},
		NewError(CodeRoomFull, "room LOBBY1 is full"),
	}

	for _, ev := range events {
		payload, err := Encode(ev)
		if err != nil {
			t.Fatalf("encode %s: %v", ev.Kind(), err)
		}
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			t.Fatalf("unmarshal %s: %v", ev.Kind(), err)
		}
		if err := schema.Validate(v); err != nil {
			t.Fatalf("schema validate %s: %v\npayload: %s", ev.Kind(), err, payload)
		}
	}
}

func TestSchemaRejectsUnknownEventTag(t *testing.T) {
	schema := loadSchema(t)
	var v any
	if err := json.Unmarshal([]byte(`{"type":"teleport","player_id":"p1"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := schema.Validate(v); err == nil {
		t.Fatal("schema accepted an unknown event tag")
	}
}
