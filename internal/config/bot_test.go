package config

import "testing"

func TestLoadBotDefaults(t *testing.T) {
	cfg, err := LoadBot()
	if err != nil {
		t.Fatalf("LoadBot() error = %v", err)
	}
	if cfg.WSURL != "ws://localhost:8080/ws" {
		t.Fatalf("WSURL = %q, want ws://localhost:8080/ws", cfg.WSURL)
	}
	if cfg.PlayerID != "bot" {
		t.Fatalf("PlayerID = %q, want bot", cfg.PlayerID)
	}
	if cfg.WordsPerMin != 60 {
		t.Fatalf("WordsPerMin = %d, want 60", cfg.WordsPerMin)
	}
}

func TestLoadBotOverrides(t *testing.T) {
	t.Setenv("WS_URL", "ws://127.0.0.1:9000/ws")
	t.Setenv("ROOM", "RACE42")
	t.Setenv("PLAYER", "bot-a")
	t.Setenv("BOT_WPM", "90")

	cfg, err := LoadBot()
	if err != nil {
		t.Fatalf("LoadBot() error = %v", err)
	}
	if cfg.WSURL != "ws://127.0.0.1:9000/ws" {
		t.Fatalf("WSURL = %q", cfg.WSURL)
	}
	if cfg.Room != "RACE42" || cfg.PlayerID != "bot-a" || cfg.WordsPerMin != 90 {
		t.Fatalf("unexpected bot config: %+v", cfg)
	}
}
