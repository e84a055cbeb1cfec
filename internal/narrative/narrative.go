// Package narrative produces story scenes and genre suggestions, either from a
// language model or from fixed fallback content.
package narrative

import (
	"context"
	"errors"
)

// ErrUnavailable is the cause recorded when no generator is configured.
var ErrUnavailable = errors.New("narrative generator not configured")

// Member is one character of the roster handed to the generator.
type Member struct {
	ID        int64
	Name      string
	Archetype string
}

type Scene struct {
	Content       string   `json:"content"`
	Hooks         []string `json:"hooks"`
	MemorySummary string   `json:"memory_summary"`
}

type GenreSuggestion struct {
	Genre      string  `json:"genre"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type OpeningRequest struct {
	Title     string
	Genre     string
	Roster    []Member
	TurnIndex int
}

// PriorTurn is the continuity line fed into continuation prompts.
type PriorTurn struct {
	Index   int
	Summary string
}

type ContinuationRequest struct {
	Title        string
	Genre        string
	Roster       []Member
	TurnIndex    int
	History      []PriorTurn
	SelectedHook string
}

// Generator is the language-model backed collaborator.
type Generator interface {
	SuggestGenre(ctx context.Context, roster []Member) (GenreSuggestion, error)
	Opening(ctx context.Context, req OpeningRequest) (Scene, error)
	Continuation(ctx context.Context, req ContinuationRequest) (Scene, error)
}

type Source string

const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// Result carries either generated content or the fallback that replaced it.
type Result[T any] struct {
	Value  T
	Source Source
	// Cause is why the fallback was used; nil for generated content.
	Cause error
}

func (r Result[T]) Fallback() bool {
	return r.Source == SourceFallback
}
