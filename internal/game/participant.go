package game

import (
	"time"

	"keyrush/internal/protocol"
)

// Participant is one racer's record inside a room. All fields are guarded by
// the owning room's mutex.
type Participant struct {
	ID             string
	Name           string
	Ready          bool
	Connected      bool
	CorrectChars   int
	WordIndex      int
	CompletedWords []string
	CurrentWord    string
	WPM            float64
	Accuracy       float64
	Finished       bool
	FinishTime     time.Duration
}

func newParticipant(id, name string) *Participant {
	if name == "" {
		name = id
	}
	return &Participant{
		ID:             id,
		Name:           name,
		Connected:      true,
		CompletedWords: []string{},
	}
}

// resetProgress clears race progress but keeps identity and connectivity.
func (p *Participant) resetProgress() {
	p.Ready = false
	p.CorrectChars = 0
	p.WordIndex = 0
	p.CompletedWords = []string{}
	p.CurrentWord = ""
	p.WPM = 0
	p.Accuracy = 0
	p.Finished = false
	p.FinishTime = 0
}

func (p *Participant) state() protocol.PlayerState {
	words := make([]string, len(p.CompletedWords))
	copy(words, p.CompletedWords)
	return protocol.PlayerState{
		ID:             p.ID,
		Name:           p.Name,
		Ready:          p.Ready,
		Connected:      p.Connected,
		CorrectChars:   p.CorrectChars,
		WordIndex:      p.WordIndex,
		CompletedWords: words,
		CurrentWord:    p.CurrentWord,
		WPM:            p.WPM,
		Accuracy:       p.Accuracy,
		Finished:       p.Finished,
		FinishMS:       p.FinishTime.Milliseconds(),
	}
}
