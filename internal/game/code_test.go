package game

import (
	"strings"
	"testing"
)

func TestNewRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := NewRoomCode()
		if len(code) != CodeLength {
			t.Fatalf("code %q has length %d, want %d", code, len(code), CodeLength)
		}
		for _, c := range code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q contains %q outside the alphabet", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 90 {
		t.Fatalf("only %d distinct codes out of 100", len(seen))
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	if got := NormalizeRoomCode("  ab2xyz "); got != "AB2XYZ" {
		t.Fatalf("NormalizeRoomCode = %q, want AB2XYZ", got)
	}
}
