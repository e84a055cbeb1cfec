// Package codegen issues short shareable campaign codes.
package codegen

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	Length   = 6
	// DefaultAttempts is the probe budget before a colliding code is accepted.
	DefaultAttempts = 10
)

// rejectAbove is the largest multiple of len(Alphabet) that fits in a byte;
// bytes at or above it are discarded so every symbol stays equally likely.
const rejectAbove = 256 - 256%len(Alphabet)

// Generate draws a code from src, crypto/rand when src is nil.
func Generate(src io.Reader) (string, error) {
	if src == nil {
		src = rand.Reader
	}
	code := make([]byte, 0, Length)
	buf := make([]byte, Length*2)
	for len(code) < Length {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			code = append(code, Alphabet[int(b)%len(Alphabet)])
			if len(code) == Length {
				break
			}
		}
	}
	return string(code), nil
}

// Valid reports whether s has the shape of an issued code.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// ExistsFunc reports whether a code is already in use.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// GenerateFunc produces a candidate code.
type GenerateFunc func() (string, error)

// Allocation is the outcome of a probe run.
type Allocation struct {
	Code     string
	Attempts int
	// Collided is set when the budget ran out and Code may already exist.
	Collided bool
}

// Allocate probes up to attempts candidates and returns the first free one.
// When every candidate collides the last one is returned anyway; the
// store's primary key decides the outcome at insert time.
func Allocate(ctx context.Context, attempts int, exists ExistsFunc, gen GenerateFunc) (Allocation, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if gen == nil {
		gen = func() (string, error) { return Generate(nil) }
	}
	var last string
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return Allocation{}, err
		}
		code, err := gen()
		if err != nil {
			return Allocation{}, err
		}
		last = code
		taken, err := exists(ctx, code)
		if err != nil {
			return Allocation{}, fmt.Errorf("probe code %s: %w", code, err)
		}
		if !taken {
			return Allocation{Code: code, Attempts: i}, nil
		}
	}
	return Allocation{Code: last, Attempts: attempts, Collided: true}, nil
}
