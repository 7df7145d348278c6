package game

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"keyrush/internal/protocol"
)

const testText = "the quick brown fox jumps over the lazy dog"

type recordedEvent struct {
	ev      protocol.Event
	exclude string
}

// recordingSink captures broadcasts in order so tests can assert on the
// exact event stream a room produces.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *recordingSink) Broadcast(_ string, ev protocol.Event, excludePlayer string) {
	s.mu.Lock()
	s.events = append(s.events, recordedEvent{ev: ev, exclude: excludePlayer})
	s.mu.Unlock()
}

func (s *recordingSink) ofKind(kind protocol.EventType) []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Event
	for _, rec := range s.events {
		if rec.ev.Kind() == kind {
			out = append(out, rec.ev)
		}
	}
	return out
}

func newTestRoom(t *testing.T) (*Room, *clockwork.FakeClock, *recordingSink) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	sink := &recordingSink{}
	r := NewRoom("RACE01", testText, Config{}, fc, sink)
	return r, fc, sink
}

func waitForState(t *testing.T, r *Room, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("room state = %q, want %q", r.State(), want)
}

// startRace drives a two-player room through ready-up and the full countdown.
func startRace(t *testing.T, r *Room, fc *clockwork.FakeClock) {
	t.Helper()
	mustJoin(t, r, "p1")
	mustJoin(t, r, "p2")
	mustReady(t, r, "p1")
	mustReady(t, r, "p2")
	if r.State() != StateCountdown {
		t.Fatalf("state after ready = %q, want countdown", r.State())
	}
	for i := 0; i < defaultCountdownFrom; i++ {
		fc.BlockUntil(1)
		fc.Advance(time.Second)
	}
	waitForState(t, r, StateActive)
}

func mustJoin(t *testing.T, r *Room, id string) {
	t.Helper()
	if err := r.Join(id, ""); err != nil {
		t.Fatalf("Join(%s) error = %v", id, err)
	}
}

func mustReady(t *testing.T, r *Room, id string) {
	t.Helper()
	if err := r.SetReady(id, true); err != nil {
		t.Fatalf("SetReady(%s) error = %v", id, err)
	}
}

func progressEvent(id string, chars int) protocol.TypingProgress {
	return protocol.TypingProgress{
		Type:           protocol.EventTypingProgress,
		PlayerID:       id,
		CorrectChars:   chars,
		WordIndex:      1,
		CompletedWords: []string{"the"},
		CurrentWord:    "qu",
		WPM:            60,
		Accuracy:       0.98,
	}
}

func TestJoinCapacity(t *testing.T) {
	r, _, _ := newTestRoom(t)
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		mustJoin(t, r, id)
	}
	if err := r.Join("p5", ""); err != ErrRoomFull {
		t.Fatalf("Join into full room error = %v, want ErrRoomFull", err)
	}
}

func TestJoinRejectedAfterStart(t *testing.T) {
	r, fc, _ := newTestRoom(t)
	startRace(t, r, fc)
	if err := r.Join("late", ""); err != ErrRaceStarted {
		t.Fatalf("late Join error = %v, want ErrRaceStarted", err)
	}
	// A known participant reconnecting is not a new join.
	if err := r.Join("p1", ""); err != nil {
		t.Fatalf("rejoin error = %v", err)
	}
}

func TestReadyRequiresQuorum(t *testing.T) {
	r, _, _ := newTestRoom(t)
	mustJoin(t, r, "p1")
	mustReady(t, r, "p1")
	if r.State() != StateWaiting {
		t.Fatalf("single ready player started a race, state = %q", r.State())
	}
	mustJoin(t, r, "p2")
	if r.State() != StateWaiting {
		t.Fatalf("unready join changed state to %q", r.State())
	}
	mustReady(t, r, "p2")
	if r.State() != StateCountdown {
		t.Fatalf("state = %q, want countdown", r.State())
	}
}

func waitForKind(t *testing.T, sink *recordingSink, kind protocol.EventType, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.ofKind(kind)) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("got %d %s events, want %d", len(sink.ofKind(kind)), kind, n)
}

func TestCountdownTickSequence(t *testing.T) {
	r, fc, sink := newTestRoom(t)
	startRace(t, r, fc)
	waitForKind(t, sink, protocol.EventGameStart, 1)

	ticks := sink.ofKind(protocol.EventCountdownSync)
	if len(ticks) != defaultCountdownFrom+1 {
		t.Fatalf("got %d countdown ticks, want %d", len(ticks), defaultCountdownFrom+1)
	}
	for i, ev := range ticks {
		tick := ev.(protocol.CountdownSync)
		wantPhase := defaultCountdownFrom - i
		if tick.Phase != wantPhase {
			t.Fatalf("tick %d phase = %d, want %d", i, tick.Phase, wantPhase)
		}
		if tick.ServerTimeMS == 0 {
			t.Fatalf("tick %d missing server time", i)
		}
	}
	if got := sink.ofKind(protocol.EventGameStart); len(got) != 1 {
		t.Fatalf("got %d game_start events, want 1", len(got))
	}
}

func TestFirstPastThePost(t *testing.T) {
	r, fc, sink := newTestRoom(t)
	startRace(t, r, fc)
	fc.Advance(30 * time.Second)

	if err := r.ApplyProgress(progressEvent("p1", len(testText))); err != nil {
		t.Fatalf("ApplyProgress error = %v", err)
	}
	if r.State() != StateFinished {
		t.Fatalf("state = %q, want finished", r.State())
	}
	if r.Winner() != "p1" {
		t.Fatalf("winner = %q, want p1", r.Winner())
	}

	// The runner-up still finishes, but the winner does not change.
	err := r.ApplyFinish(protocol.PlayerFinished{
		Type: protocol.EventPlayerFinished, PlayerID: "p2",
		CorrectChars: len(testText), WPM: 50, Accuracy: 0.9,
	})
	if err != nil {
		t.Fatalf("ApplyFinish error = %v", err)
	}
	if r.Winner() != "p1" {
		t.Fatalf("winner changed to %q", r.Winner())
	}

	finishes := sink.ofKind(protocol.EventPlayerFinished)
	if len(finishes) != 2 {
		t.Fatalf("got %d finish events, want 2", len(finishes))
	}
	first := finishes[0].(protocol.PlayerFinished)
	if first.PlayerID != "p1" || first.FinishMS != (30*time.Second).Milliseconds() {
		t.Fatalf("unexpected first finish: %+v", first)
	}

	// A duplicate finish for an already finished participant is dropped.
	if err := r.ApplyFinish(protocol.PlayerFinished{Type: protocol.EventPlayerFinished, PlayerID: "p1"}); err != nil {
		t.Fatalf("duplicate ApplyFinish error = %v", err)
	}
	if got := sink.ofKind(protocol.EventPlayerFinished); len(got) != 2 {
		t.Fatalf("duplicate finish emitted an event, got %d", len(got))
	}
}

func TestProgressIgnoredOutsideActive(t *testing.T) {
	r, _, sink := newTestRoom(t)
	mustJoin(t, r, "p1")
	if err := r.ApplyProgress(progressEvent("p1", 10)); err != nil {
		t.Fatalf("ApplyProgress error = %v", err)
	}
	if got := sink.ofKind(protocol.EventTypingProgress); len(got) != 0 {
		t.Fatalf("progress rebroadcast while waiting: %d events", len(got))
	}
	snap := r.Snapshot()
	if snap.Players[0].CorrectChars != 0 {
		t.Fatalf("progress applied while waiting: %+v", snap.Players[0])
	}
}

func TestProgressLastWriteWins(t *testing.T) {
	r, fc, _ := newTestRoom(t)
	startRace(t, r, fc)

	if err := r.ApplyProgress(progressEvent("p1", 20)); err != nil {
		t.Fatalf("ApplyProgress error = %v", err)
	}
	// A regressed report still replaces the stored value.
	if err := r.ApplyProgress(progressEvent("p1", 15)); err != nil {
		t.Fatalf("ApplyProgress error = %v", err)
	}
	snap := r.Snapshot()
	for _, p := range snap.Players {
		if p.ID == "p1" && p.CorrectChars != 15 {
			t.Fatalf("CorrectChars = %d, want 15", p.CorrectChars)
		}
	}
}

func TestProgressUnknownPlayer(t *testing.T) {
	r, fc, _ := newTestRoom(t)
	startRace(t, r, fc)
	if err := r.ApplyProgress(progressEvent("ghost", 5)); err != ErrPlayerNotFound {
		t.Fatalf("ApplyProgress(ghost) error = %v, want ErrPlayerNotFound", err)
	}
}

func TestDisconnectDuringCountdownAborts(t *testing.T) {
	r, _, _ := newTestRoom(t)
	mustJoin(t, r, "p1")
	mustJoin(t, r, "p2")
	mustReady(t, r, "p1")
	mustReady(t, r, "p2")
	if r.State() != StateCountdown {
		t.Fatalf("state = %q, want countdown", r.State())
	}

	r.Disconnect("p2")
	waitForState(t, r, StateWaiting)
	snap := r.Snapshot()
	for _, p := range snap.Players {
		if p.Ready {
			t.Fatalf("ready flag survived the abort: %+v", p)
		}
	}
}

func TestCountdownAbortStopsTicks(t *testing.T) {
	r, fc, sink := newTestRoom(t)
	mustJoin(t, r, "p1")
	mustJoin(t, r, "p2")
	mustReady(t, r, "p1")
	mustReady(t, r, "p2")
	waitForKind(t, sink, protocol.EventCountdownSync, 1)

	r.Disconnect("p2")
	waitForState(t, r, StateWaiting)
	before := len(sink.ofKind(protocol.EventCountdownSync))

	// The tick that would have fired next must not leak into a room that has
	// already fallen back to waiting.
	fc.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := len(sink.ofKind(protocol.EventCountdownSync)); got != before {
		t.Fatalf("countdown ticks after abort: %d, want %d", got, before)
	}
	if r.State() != StateWaiting {
		t.Fatalf("state = %q, want waiting", r.State())
	}
}

func TestDisconnectPausesActiveRace(t *testing.T) {
	r, fc, _ := newTestRoom(t)
	startRace(t, r, fc)

	r.Disconnect("p2")
	if r.State() != StatePaused {
		t.Fatalf("state = %q, want paused", r.State())
	}

	// Paused is sticky: time passing does not resume the race, and progress
	// is not applied.
	fc.Advance(time.Minute)
	if r.State() != StatePaused {
		t.Fatalf("paused race resumed by itself, state = %q", r.State())
	}
	if err := r.ApplyProgress(progressEvent("p1", 10)); err != nil {
		t.Fatalf("ApplyProgress error = %v", err)
	}
	snap := r.Snapshot()
	for _, p := range snap.Players {
		if p.ID == "p1" && p.CorrectChars != 0 {
			t.Fatalf("progress applied while paused: %+v", p)
		}
	}
}

func TestRejoinDuringPauseAndReset(t *testing.T) {
	r, fc, _ := newTestRoom(t)
	startRace(t, r, fc)
	r.Disconnect("p2")
	if r.State() != StatePaused {
		t.Fatalf("state = %q, want paused", r.State())
	}

	// The restart path is an explicit reset back to waiting.
	mustJoin(t, r, "p2")
	if err := r.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if r.State() != StateWaiting {
		t.Fatalf("state after reset = %q, want waiting", r.State())
	}
	snap := r.Snapshot()
	if len(snap.Players) != 2 {
		t.Fatalf("reset dropped participants: %+v", snap.Players)
	}
	for _, p := range snap.Players {
		if p.CorrectChars != 0 || p.Finished || p.Ready {
			t.Fatalf("reset left progress behind: %+v", p)
		}
	}
}

func TestResetRejectedMidRace(t *testing.T) {
	r, fc, _ := newTestRoom(t)
	startRace(t, r, fc)
	if err := r.Reset(); err != ErrRaceInProgress {
		t.Fatalf("Reset() error = %v, want ErrRaceInProgress", err)
	}
}

func TestDisconnectWhileWaitingRemoves(t *testing.T) {
	r, _, _ := newTestRoom(t)
	mustJoin(t, r, "p1")
	mustJoin(t, r, "p2")
	r.Disconnect("p2")
	snap := r.Snapshot()
	if len(snap.Players) != 1 || snap.Players[0].ID != "p1" {
		t.Fatalf("unexpected players after waiting disconnect: %+v", snap.Players)
	}
}

func TestSnapshotOrderedAndComplete(t *testing.T) {
	r, _, _ := newTestRoom(t)
	mustJoin(t, r, "zed")
	mustJoin(t, r, "amy")
	snap := r.Snapshot()
	if snap.State != string(StateWaiting) {
		t.Fatalf("snapshot state = %q", snap.State)
	}
	if snap.Text != testText || snap.TargetChars != len(testText) {
		t.Fatalf("snapshot text fields wrong: %+v", snap)
	}
	if snap.Players[0].ID != "amy" || snap.Players[1].ID != "zed" {
		t.Fatalf("players not sorted: %+v", snap.Players)
	}
	if snap.ServerTimeMS == 0 {
		t.Fatal("snapshot missing server time")
	}
}
