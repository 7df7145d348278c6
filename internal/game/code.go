package game

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Room codes are short shareable identifiers. The alphabet drops characters
// that are easy to misread over voice or screen (0/O, 1/I/L).
const (
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	CodeLength   = 6
)

var (
	codeRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
	codeRandMu sync.Mutex
)

// NewRoomCode returns a fresh room code. Uniqueness is probabilistic; the
// registry treats a collision as joining the existing room.
func NewRoomCode() string {
	codeRandMu.Lock()
	defer codeRandMu.Unlock()
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		b.WriteByte(codeAlphabet[codeRand.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// NormalizeRoomCode canonicalizes a client-supplied room identifier.
func NormalizeRoomCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
