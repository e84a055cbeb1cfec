package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Narrator wraps an optional Generator and never fails: every call yields a
// Result whose Source tells whether the fallback was used.
type Narrator struct {
	Gen     Generator
	Log     logrus.FieldLogger
	Timeout time.Duration
	// ValidGenre limits accepted genre suggestions; nil accepts any non-empty genre.
	ValidGenre func(string) bool
}

func NewNarrator(gen Generator, log logrus.FieldLogger) *Narrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Narrator{Gen: gen, Log: log}
}

// Available reports whether a generator is configured.
func (n *Narrator) Available() bool {
	return n != nil && n.Gen != nil
}

func (n *Narrator) logger() logrus.FieldLogger {
	if n == nil || n.Log == nil {
		return logrus.StandardLogger()
	}
	return n.Log
}

func (n *Narrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if n.Timeout > 0 {
		return context.WithTimeout(ctx, n.Timeout)
	}
	return ctx, func() {}
}

func (n *Narrator) SuggestGenre(ctx context.Context, roster []Member) Result[GenreSuggestion] {
	if !n.Available() {
		return Result[GenreSuggestion]{Value: FallbackGenre(true), Source: SourceFallback, Cause: ErrUnavailable}
	}
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	s, err := n.Gen.SuggestGenre(ctx, roster)
	if err == nil {
		err = n.checkGenre(s)
	}
	if err != nil {
		n.logger().WithError(err).WithField("roster", len(roster)).Warn("genre suggestion failed; using fallback")
		return Result[GenreSuggestion]{Value: FallbackGenre(false), Source: SourceFallback, Cause: err}
	}
	return Result[GenreSuggestion]{Value: s, Source: SourceGenerated}
}

func (n *Narrator) checkGenre(s GenreSuggestion) error {
	if strings.TrimSpace(s.Genre) == "" {
		return errors.New("suggestion has no genre")
	}
	if n.ValidGenre != nil && !n.ValidGenre(s.Genre) {
		return fmt.Errorf("suggested genre %q is not supported", s.Genre)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %v outside 0..1", s.Confidence)
	}
	return nil
}

// Opening returns the first scene of a campaign.
func (n *Narrator) Opening(ctx context.Context, req OpeningRequest) Result[Scene] {
	fallback := FallbackOpening(req.Title, req.Genre)
	if !n.Available() {
		return Result[Scene]{Value: fallback, Source: SourceFallback, Cause: ErrUnavailable}
	}
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	scene, err := n.Gen.Opening(ctx, req)
	return n.settle(scene, err, fallback, logrus.Fields{"title": req.Title, "turn": req.TurnIndex, "kind": "opening"})
}

// Continuation returns the scene following the selected hook.
func (n *Narrator) Continuation(ctx context.Context, req ContinuationRequest) Result[Scene] {
	fallback := FallbackContinuation(req.Title, req.Genre, req.TurnIndex)
	if !n.Available() {
		return Result[Scene]{Value: fallback, Source: SourceFallback, Cause: ErrUnavailable}
	}
	ctx, cancel := n.withTimeout(ctx)
	defer cancel()
	scene, err := n.Gen.Continuation(ctx, req)
	return n.settle(scene, err, fallback, logrus.Fields{"title": req.Title, "turn": req.TurnIndex, "kind": "continuation"})
}

func (n *Narrator) settle(scene Scene, err error, fallback Scene, fields logrus.Fields) Result[Scene] {
	if err == nil {
		err = ValidateScene(scene)
	}
	if err != nil {
		n.logger().WithFields(fields).WithError(err).Warn("scene generation failed; using fallback")
		return Result[Scene]{Value: fallback, Source: SourceFallback, Cause: err}
	}
	scene.Content = strings.TrimSpace(scene.Content)
	return Result[Scene]{Value: scene, Source: SourceGenerated}
}

const hookCount = 3

// ValidateScene requires prose and exactly three non-empty hooks.
func ValidateScene(s Scene) error {
	if strings.TrimSpace(s.Content) == "" {
		return errors.New("scene has no content")
	}
	if len(s.Hooks) != hookCount {
		return fmt.Errorf("scene has %d hooks, want %d", len(s.Hooks), hookCount)
	}
	for i, h := range s.Hooks {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("hook %d is empty", i)
		}
	}
	return nil
}
