package client

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"keyrush/internal/protocol"
)

// Client is the high level racing participant: it keeps the transport alive,
// predicts local progress per keystroke and reconciles against authoritative
// snapshots. Server events not consumed internally are forwarded on Events.
type Client struct {
	opts      Options
	clock     clockwork.Clock
	transport *Transport
	syncer    *Synchronizer

	out chan protocol.Event

	mu          sync.Mutex
	targetChars int
	raceStart   time.Time
	finished    bool
}

func New(opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{
		opts:      opts,
		clock:     opts.Clock,
		transport: NewTransport(opts),
		syncer:    NewSynchronizer(opts.Clock),
		out:       make(chan protocol.Event, 64),
	}
	c.transport.OnRTT = c.syncer.ObserveRTT
	return c
}

// Start connects and begins consuming server events. It returns once the
// join handshake has completed or failed.
func (c *Client) Start(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	go c.pump(ctx)
	return nil
}

// Events carries server pushes after the client has folded them into its own
// state. The channel closes when the transport ends.
func (c *Client) Events() <-chan protocol.Event {
	return c.out
}

func (c *Client) ConnState() ConnState {
	return c.transport.State()
}

func (c *Client) pump(ctx context.Context) {
	defer close(c.out)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.transport.Events():
			if !ok {
				return
			}
			c.absorb(ev)
			select {
			case c.out <- ev:
			default:
				log.Warn().Str("type", string(ev.Kind())).Msg("consumer behind, dropping event")
			}
		}
	}
}

// absorb folds a server event into local state before it reaches the
// consumer.
func (c *Client) absorb(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.GameStart:
		c.syncer.SetText(ev.Text)
		c.mu.Lock()
		c.targetChars = ev.TargetChars
		c.raceStart = c.clock.Now()
		c.finished = false
		c.mu.Unlock()
	case protocol.CountdownSync:
		c.syncer.SyncCountdown(ev.Phase, ev.ServerTimeMS)
	case protocol.GameStateSync:
		for _, p := range ev.Players {
			if p.ID == c.opts.Player {
				c.syncer.ReconcileWithServer(p, ev.ServerTimeMS, 0)
				break
			}
		}
	}
}

// SetReady toggles this participant's ready flag.
func (c *Client) SetReady(ready bool) error {
	return c.transport.Send(protocol.PlayerReady{
		Type:        protocol.EventPlayerReady,
		PlayerID:    c.opts.Player,
		Ready:       ready,
		TimestampMS: c.clock.Now().UnixMilli(),
	})
}

// HandleTyping applies one keystroke state locally and reports it to the
// server. The returned prediction renders immediately; the server confirms
// or corrects it later. Crossing the character target also sends the finish
// report.
func (c *Client) HandleTyping(input string, wordIndex int) (Predicted, error) {
	predicted := c.syncer.PredictiveUpdate(input, wordIndex)

	wpm, accuracy := c.stats(predicted)
	err := c.transport.Send(protocol.TypingProgress{
		Type:           protocol.EventTypingProgress,
		PlayerID:       c.opts.Player,
		CorrectChars:   predicted.CorrectChars,
		WordIndex:      predicted.WordIndex,
		CompletedWords: predicted.CompletedWords,
		CurrentWord:    predicted.CurrentWord,
		WPM:            wpm,
		Accuracy:       accuracy,
		TimestampMS:    c.clock.Now().UnixMilli(),
	})
	if err != nil {
		return predicted, err
	}

	c.mu.Lock()
	shouldFinish := !c.finished && c.targetChars > 0 && predicted.CorrectChars >= c.targetChars
	if shouldFinish {
		c.finished = true
	}
	start := c.raceStart
	c.mu.Unlock()

	if shouldFinish {
		err = c.transport.Send(protocol.PlayerFinished{
			Type:         protocol.EventPlayerFinished,
			PlayerID:     c.opts.Player,
			CorrectChars: predicted.CorrectChars,
			WPM:          wpm,
			Accuracy:     accuracy,
			FinishMS:     c.clock.Now().Sub(start).Milliseconds(),
			TimestampMS:  c.clock.Now().UnixMilli(),
		})
	}
	return predicted, err
}

// stats derives words-per-minute and accuracy from the predicted view. WPM
// uses the usual five-characters-per-word convention.
func (c *Client) stats(p Predicted) (wpm, accuracy float64) {
	c.mu.Lock()
	start := c.raceStart
	c.mu.Unlock()
	if !start.IsZero() {
		minutes := c.clock.Now().Sub(start).Minutes()
		if minutes > 0 {
			wpm = float64(p.CorrectChars) / 5 / minutes
		}
	}
	typed := len(p.CurrentWord)
	for _, w := range p.CompletedWords {
		typed += len(w) + 1
	}
	if typed > 0 {
		accuracy = float64(p.CorrectChars) / float64(typed)
		if accuracy > 1 {
			accuracy = 1
		}
	}
	return wpm, accuracy
}

// RequestReset asks the server to return a finished or paused race to
// waiting. Local predicted state is cleared separately via ResetGame.
func (c *Client) RequestReset() error {
	return c.transport.Send(protocol.GameReset{
		Type:        protocol.EventGameReset,
		PlayerID:    c.opts.Player,
		TimestampMS: c.clock.Now().UnixMilli(),
	})
}

// ResetGame clears the local predicted state for a fresh race on the same
// connection. The clock offset estimate survives.
func (c *Client) ResetGame() {
	c.syncer.Reset()
	c.mu.Lock()
	c.finished = false
	c.raceStart = time.Time{}
	c.mu.Unlock()
}

// Predicted returns the current local view without applying input.
func (c *Client) Predicted() Predicted {
	return c.syncer.Predicted()
}

// NetworkLag exposes how far behind the server this client currently is.
func (c *Client) NetworkLag() time.Duration {
	return c.syncer.NetworkLag()
}

// Leave announces departure and closes the transport.
func (c *Client) Leave() {
	_ = c.transport.Send(protocol.PlayerLeave{
		Type:        protocol.EventPlayerLeave,
		PlayerID:    c.opts.Player,
		TimestampMS: c.clock.Now().UnixMilli(),
	})
	c.transport.Close()
}

func (c *Client) Close() {
	c.transport.Close()
}
