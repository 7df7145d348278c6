package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"keyrush/internal/protocol"
)

// ConnState is the transport lifecycle. Failed is terminal; every other state
// can move forward.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

var (
	ErrQueueFull    = errors.New("client: offline queue full")
	ErrTerminal     = errors.New("client: transport failed permanently")
	ErrRejected     = errors.New("client: join rejected")
	ErrBadHandshake = errors.New("client: handshake did not return a snapshot")
)

// Options configures a Transport. Zero values take the defaults below.
type Options struct {
	URL    string
	Room   string
	Player string
	Name   string

	ConnectTimeout time.Duration
	HeartbeatEvery time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int
	QueueLimit     int

	// OnState observes lifecycle transitions. Called from transport
	// goroutines; must not block.
	OnState func(ConnState)

	Clock clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = 15 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = 256
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// computeBackoff returns the wait before reconnect attempt n (zero-based):
// exponential from base, capped at max.
func computeBackoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		d = max
	}
	return d
}

// Transport keeps one logical connection to a race room alive across
// transport drops. Events sent while offline are queued and flushed in order
// on reconnect.
type Transport struct {
	opts  Options
	clock clockwork.Clock

	// OnRTT receives heartbeat round-trip measurements. Set before Connect.
	OnRTT func(time.Duration)

	events chan protocol.Event
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	state ConnState
	ws    *websocket.Conn
	queue [][]byte
}

func NewTransport(opts Options) *Transport {
	opts = opts.withDefaults()
	return &Transport{
		opts:   opts,
		clock:  opts.Clock,
		events: make(chan protocol.Event, 64),
		done:   make(chan struct{}),
	}
}

// Events delivers everything the server pushes, in arrival order. The channel
// closes when the transport gives up or is closed.
func (t *Transport) Events() <-chan protocol.Event {
	return t.events
}

func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setState(s ConnState) {
	t.mu.Lock()
	changed := t.state != s
	t.state = s
	t.mu.Unlock()
	if changed && t.opts.OnState != nil {
		t.opts.OnState(s)
	}
}

func (t *Transport) endpoint() (string, error) {
	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("room", t.opts.Room)
	q.Set("player", t.opts.Player)
	if t.opts.Name != "" {
		q.Set("name", t.opts.Name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials and runs the join handshake. It fails fast when the server
// rejects the join; transient dial errors are retried by the background loop
// only after a first successful connect.
func (t *Transport) Connect(ctx context.Context) error {
	t.setState(StateConnecting)
	if err := t.dial(ctx); err != nil {
		t.setState(StateDisconnected)
		return err
	}
	t.setState(StateConnected)
	t.flushQueue()
	go t.readLoop(ctx)
	go t.heartbeatLoop(ctx)
	return nil
}

func (t *Transport) dial(ctx context.Context) error {
	endpoint, err := t.endpoint()
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: t.opts.ConnectTimeout}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	// The first frame decides the handshake: a snapshot means we are in, an
	// error event means the join was rejected.
	_ = ws.SetReadDeadline(time.Now().Add(t.opts.ConnectTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return fmt.Errorf("handshake read: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	ev, err := protocol.Validate(raw)
	if err != nil {
		_ = ws.Close()
		return fmt.Errorf("handshake decode: %w", err)
	}
	switch ev := ev.(type) {
	case protocol.GameStateSync:
		t.deliver(ev)
	case protocol.ErrorEvent:
		_ = ws.Close()
		return fmt.Errorf("%w: %s: %s", ErrRejected, ev.Code, ev.Message)
	default:
		_ = ws.Close()
		return ErrBadHandshake
	}

	t.mu.Lock()
	t.ws = ws
	t.mu.Unlock()
	return nil
}

// Send marshals and transmits an event, queueing it when the transport is
// down. Queued events keep their order.
func (t *Transport) Send(ev protocol.Event) error {
	payload, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.state == StateFailed {
		t.mu.Unlock()
		return ErrTerminal
	}
	if t.state != StateConnected || t.ws == nil {
		if len(t.queue) >= t.opts.QueueLimit {
			t.mu.Unlock()
			return ErrQueueFull
		}
		t.queue = append(t.queue, payload)
		t.mu.Unlock()
		return nil
	}
	ws := t.ws
	_ = ws.SetWriteDeadline(time.Now().Add(t.opts.ConnectTimeout))
	err = ws.WriteMessage(websocket.TextMessage, payload)
	t.mu.Unlock()
	if err != nil {
		// The read loop will notice the broken socket and reconnect; keep
		// the payload so it is not lost.
		t.mu.Lock()
		if len(t.queue) < t.opts.QueueLimit {
			t.queue = append(t.queue, payload)
		}
		t.mu.Unlock()
	}
	return nil
}

// flushQueue drains the offline queue under the same mutex Send writes
// under, so writes never interleave on the socket.
func (t *Transport) flushQueue() {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws := t.ws
	if ws == nil {
		return
	}
	for len(t.queue) > 0 {
		payload := t.queue[0]
		_ = ws.SetWriteDeadline(time.Now().Add(t.opts.ConnectTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debug().Err(err).Msg("flush interrupted")
			return
		}
		t.queue = t.queue[1:]
	}
	t.queue = nil
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		t.mu.Lock()
		ws := t.ws
		t.mu.Unlock()
		if ws == nil {
			return
		}
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				t.setState(StateDisconnected)
				return
			case <-ctx.Done():
				t.setState(StateDisconnected)
				return
			default:
			}
			if !t.reconnect(ctx) {
				return
			}
			continue
		}
		ev, err := protocol.Validate(raw)
		if err != nil {
			log.Debug().Err(err).Msg("dropping malformed server frame")
			continue
		}
		if hb, ok := ev.(protocol.Heartbeat); ok {
			t.observeHeartbeat(hb)
			continue
		}
		t.deliver(ev)
	}
}

// reconnect retries with exponential backoff. Returns false once the
// transport has given up.
func (t *Transport) reconnect(ctx context.Context) bool {
	t.setState(StateReconnecting)
	t.mu.Lock()
	if t.ws != nil {
		_ = t.ws.Close()
		t.ws = nil
	}
	t.mu.Unlock()

	for attempt := 0; attempt < t.opts.MaxAttempts; attempt++ {
		wait := computeBackoff(attempt, t.opts.BackoffBase, t.opts.BackoffMax)
		select {
		case <-t.done:
			t.setState(StateDisconnected)
			return false
		case <-ctx.Done():
			t.setState(StateDisconnected)
			return false
		case <-t.clock.After(wait):
		}
		if err := t.dial(ctx); err != nil {
			log.Debug().Err(err).Int("attempt", attempt+1).Msg("reconnect failed")
			if errors.Is(err, ErrRejected) {
				break
			}
			continue
		}
		t.setState(StateConnected)
		t.flushQueue()
		return true
	}

	t.setState(StateFailed)
	close(t.events)
	return false
}

func (t *Transport) heartbeatLoop(ctx context.Context) {
	ticker := t.clock.NewTicker(t.opts.HeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if t.State() != StateConnected {
				continue
			}
			_ = t.Send(protocol.Heartbeat{
				Type:     protocol.EventHeartbeat,
				SentAtMS: t.clock.Now().UnixMilli(),
			})
		}
	}
}

func (t *Transport) observeHeartbeat(hb protocol.Heartbeat) {
	if t.OnRTT == nil || hb.SentAtMS == 0 {
		return
	}
	rtt := time.Duration(t.clock.Now().UnixMilli()-hb.SentAtMS) * time.Millisecond
	t.OnRTT(rtt)
}

func (t *Transport) deliver(ev protocol.Event) {
	select {
	case t.events <- ev:
	default:
		log.Warn().Str("type", string(ev.Kind())).Msg("event buffer full, dropping")
	}
}

// Close tears the transport down. Safe to call more than once.
func (t *Transport) Close() {
	t.once.Do(func() {
		close(t.done)
		t.mu.Lock()
		if t.ws != nil {
			_ = t.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = t.ws.Close()
		}
		t.mu.Unlock()
	})
}
