package client

import (
	"context"
	"strings"
	"testing"

	"keyrush/internal/protocol"
	"keyrush/internal/ws"
)

// TestTwoClientsRaceToFinish runs a full race end to end: ready-up, server
// countdown, predictive typing and the authoritative finish.
func TestTwoClientsRaceToFinish(t *testing.T) {
	ts := startRaceServer(t, ws.Config{CountdownFrom: 1})

	racer := New(Options{URL: wsURL(ts), Room: "ROOM20", Player: "racer"})
	defer racer.Close()
	rival := New(Options{URL: wsURL(ts), Room: "ROOM20", Player: "rival"})
	defer rival.Close()

	ctx := context.Background()
	if err := racer.Start(ctx); err != nil {
		t.Fatalf("racer Start() error = %v", err)
	}
	if err := rival.Start(ctx); err != nil {
		t.Fatalf("rival Start() error = %v", err)
	}

	if err := racer.SetReady(true); err != nil {
		t.Fatalf("racer SetReady() error = %v", err)
	}
	if err := rival.SetReady(true); err != nil {
		t.Fatalf("rival SetReady() error = %v", err)
	}

	start := waitEvent(t, racer.Events(), protocol.EventGameStart).(protocol.GameStart)
	if start.Text == "" || start.TargetChars != len(start.Text) {
		t.Fatalf("game_start = %+v", start)
	}

	var predicted Predicted
	for i, word := range strings.Fields(start.Text) {
		p, err := racer.HandleTyping(word, i)
		if err != nil {
			t.Fatalf("HandleTyping(%d) error = %v", i, err)
		}
		predicted = p
	}
	if predicted.CorrectChars != start.TargetChars {
		t.Fatalf("predicted %d chars after full text, want %d", predicted.CorrectChars, start.TargetChars)
	}

	// The rival observes the racer's progress and the authoritative finish.
	progress := waitEvent(t, rival.Events(), protocol.EventTypingProgress).(protocol.TypingProgress)
	if progress.PlayerID != "racer" {
		t.Fatalf("progress fanout from %q", progress.PlayerID)
	}
	finish := waitEvent(t, rival.Events(), protocol.EventPlayerFinished).(protocol.PlayerFinished)
	if finish.PlayerID != "racer" {
		t.Fatalf("finish for %q, want racer", finish.PlayerID)
	}
	snap := waitEvent(t, rival.Events(), protocol.EventGameStateSync).(protocol.GameStateSync)
	if snap.State != "finished" {
		t.Fatalf("final snapshot state = %q, want finished", snap.State)
	}
}
