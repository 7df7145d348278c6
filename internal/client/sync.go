package client

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"keyrush/internal/protocol"
)

const (
	// offsetSmoothing is the EWMA weight kept from the previous clock offset
	// estimate when a new countdown sample arrives.
	offsetSmoothing = 0.8

	tickInterval = time.Second

	// reconcileCharSlack is how far the local correct-character count may
	// drift from the authoritative snapshot before the predicted state is
	// rebuilt.
	reconcileCharSlack = 1

	maxReportedLag = 2 * time.Second
)

// Predicted is the locally computed view of the player's own progress. It
// renders immediately on every keystroke; Confirmed flips true once the
// authoritative state has caught up with it.
type Predicted struct {
	CorrectChars   int
	WordIndex      int
	CurrentWord    string
	CompletedWords []string
	Confirmed      bool
}

type pendingInput struct {
	Seq         uint64
	Input       string
	WordIndex   int
	LocalMS     int64
	EstServerMS int64
}

// Synchronizer keeps a client's predicted progress consistent with the
// authoritative snapshots while hiding network latency from the typing UI.
// Safe for concurrent use.
type Synchronizer struct {
	clock clockwork.Clock

	mu         sync.Mutex
	refWords   []string
	predicted  Predicted
	pending    []pendingInput
	nextSeq    uint64
	offsetMS   float64
	offsetInit bool
	rttMS      float64
}

func NewSynchronizer(clock clockwork.Clock) *Synchronizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Synchronizer{
		clock:     clock,
		predicted: Predicted{CompletedWords: []string{}},
	}
}

// SetText installs the reference text and resets all predicted progress.
func (s *Synchronizer) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refWords = strings.Fields(text)
	s.resetLocked()
}

// Reset clears predicted progress and the pending input log but keeps the
// clock offset estimate, which stays valid across races on one connection.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Synchronizer) resetLocked() {
	s.predicted = Predicted{CompletedWords: []string{}}
	s.pending = nil
}

// PredictiveUpdate applies one local keystroke state: the partial input for
// the word at wordIndex. It returns the new predicted view immediately,
// before the server has seen the input. Advancing wordIndex commits the
// previous input as a completed word.
func (s *Synchronizer) PredictiveUpdate(input string, wordIndex int) Predicted {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	seq := s.nextSeq
	now := s.clock.Now().UnixMilli()
	s.pending = append(s.pending, pendingInput{
		Seq:         seq,
		Input:       input,
		WordIndex:   wordIndex,
		LocalMS:     now,
		EstServerMS: now + int64(s.offsetMS),
	})

	s.applyLocked(input, wordIndex)
	return s.snapshotLocked()
}

func (s *Synchronizer) applyLocked(input string, wordIndex int) {
	if wordIndex >= len(s.refWords) {
		wordIndex = len(s.refWords) - 1
	}
	if wordIndex < 0 {
		wordIndex = 0
	}
	for s.predicted.WordIndex < wordIndex {
		s.predicted.CompletedWords = append(s.predicted.CompletedWords, s.predicted.CurrentWord)
		s.predicted.CurrentWord = ""
		s.predicted.WordIndex++
	}
	s.predicted.CurrentWord = input
	s.predicted.CorrectChars = s.correctCharsLocked()
	s.predicted.Confirmed = false
}

// correctCharsLocked scores completed words plus the live partial word
// against the reference. A fully correct completed word also earns its
// trailing separator.
func (s *Synchronizer) correctCharsLocked() int {
	total := 0
	for i, w := range s.predicted.CompletedWords {
		if i >= len(s.refWords) {
			break
		}
		total += matchingChars(s.refWords[i], w)
		if w == s.refWords[i] && i < len(s.refWords)-1 {
			total++
		}
	}
	if s.predicted.WordIndex < len(s.refWords) {
		total += matchingChars(s.refWords[s.predicted.WordIndex], s.predicted.CurrentWord)
	}
	return total
}

func matchingChars(ref, typed string) int {
	n := 0
	for i := 0; i < len(typed) && i < len(ref); i++ {
		if typed[i] != ref[i] {
			break
		}
		n++
	}
	return n
}

// ReconcileWithServer folds an authoritative snapshot of the local player
// into the predicted state. Inputs the server has acknowledged are pruned;
// when the remainder disagrees with the snapshot beyond tolerance, the
// prediction is rebuilt from the snapshot and the unacknowledged inputs are
// replayed on top.
func (s *Synchronizer) ReconcileWithServer(auth protocol.PlayerState, serverTimeMS int64, ackSeq uint64) Predicted {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pending[:0]
	for _, in := range s.pending {
		if in.Seq > ackSeq && in.EstServerMS > serverTimeMS {
			kept = append(kept, in)
		}
	}
	s.pending = kept

	charDrift := s.predicted.CorrectChars - auth.CorrectChars
	if charDrift < 0 {
		charDrift = -charDrift
	}
	// A match within tolerance confirms the prediction even with inputs
	// still in flight; rubber-banding stays limited to genuine mispredicts.
	if charDrift <= reconcileCharSlack && s.predicted.WordIndex == auth.WordIndex {
		s.predicted.Confirmed = true
		return s.snapshotLocked()
	}

	s.predicted = Predicted{
		CorrectChars:   auth.CorrectChars,
		WordIndex:      auth.WordIndex,
		CurrentWord:    auth.CurrentWord,
		CompletedWords: append([]string{}, auth.CompletedWords...),
	}
	for _, in := range s.pending {
		s.applyLocked(in.Input, in.WordIndex)
	}
	s.predicted.Confirmed = len(s.pending) == 0
	return s.snapshotLocked()
}

// SyncCountdown folds one authoritative countdown tick into the clock offset
// estimate and returns the phase together with the time this client should
// wait before rendering the next phase.
func (s *Synchronizer) SyncCountdown(phase int, serverTimeMS int64) (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	localMS := s.clock.Now().UnixMilli()
	sample := float64(serverTimeMS-localMS) + s.rttMS/2
	if !s.offsetInit {
		s.offsetMS = sample
		s.offsetInit = true
	} else {
		s.offsetMS = offsetSmoothing*s.offsetMS + (1-offsetSmoothing)*sample
	}

	estServerMS := localMS + int64(s.offsetMS)
	elapsed := time.Duration(estServerMS-serverTimeMS) * time.Millisecond
	remaining := tickInterval - elapsed
	if remaining < 0 {
		remaining = 0
	}
	if remaining > tickInterval {
		remaining = tickInterval
	}
	return phase, remaining
}

// ObserveRTT feeds one heartbeat round-trip measurement into the latency
// estimate used for offset compensation.
func (s *Synchronizer) ObserveRTT(rtt time.Duration) {
	if rtt < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := float64(rtt.Milliseconds())
	if s.rttMS == 0 {
		s.rttMS = ms
	} else {
		s.rttMS = offsetSmoothing*s.rttMS + (1-offsetSmoothing)*ms
	}
}

// Offset is the current estimate of server clock minus local clock.
func (s *Synchronizer) Offset() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.offsetMS) * time.Millisecond
}

func (s *Synchronizer) RTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.rttMS) * time.Millisecond
}

// NetworkLag reports how long the oldest unacknowledged input has been in
// flight, capped so a dead connection reads as "very behind" rather than
// growing without bound.
func (s *Synchronizer) NetworkLag() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return 0
	}
	lag := time.Duration(s.clock.Now().UnixMilli()-s.pending[0].LocalMS) * time.Millisecond
	if lag > maxReportedLag {
		lag = maxReportedLag
	}
	return lag
}

// LastSeq is the sequence number of the most recent predictive update.
// Sequence numbers start at one, so zero means no update yet.
func (s *Synchronizer) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// Predicted returns the current predicted view without applying input.
func (s *Synchronizer) Predicted() Predicted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Predicted {
	out := s.predicted
	out.CompletedWords = append([]string{}, s.predicted.CompletedWords...)
	return out
}
