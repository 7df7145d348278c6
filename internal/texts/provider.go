// Package texts supplies reference texts for races. It is the content
// boundary of the synchronization core: the core only needs a body and its
// word segmentation, never where the text came from.
package texts

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

type Text struct {
	Body  string
	Words []string
}

func New(body string) Text {
	return Text{Body: body, Words: strings.Fields(body)}
}

// Provider returns a race text. Implementations must be safe for concurrent
// use.
type Provider interface {
	RandomText(ctx context.Context) (Text, error)
}

// Fallback is served when a provider errors so a room can always start.
func Fallback() Text {
	return New("the quick brown fox jumps over the lazy dog while the calm river keeps rolling past the old stone bridge")
}

var builtinCorpus = []string{
	"the quick brown fox jumps over the lazy dog while the calm river keeps rolling past the old stone bridge",
	"a steady rhythm of keys fills the quiet room as racers chase the same line of text across their screens",
	"every small correction costs a moment so the fastest hands are the ones that rarely need to look back",
	"the market square woke slowly with carts and voices and the smell of bread drifting between the narrow streets",
	"long after midnight the lighthouse kept turning its patient beam across the dark water toward ships it would never meet",
	"practice does not make the words easier it makes the silence between them shorter until the sentence feels like one motion",
}

// Builtin serves from an embedded corpus. Good enough for single-process
// deployments and for tests.
type Builtin struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBuiltin() *Builtin {
	return &Builtin{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (b *Builtin) RandomText(_ context.Context) (Text, error) {
	b.mu.Lock()
	body := builtinCorpus[b.rnd.Intn(len(builtinCorpus))]
	b.mu.Unlock()
	return New(body), nil
}
