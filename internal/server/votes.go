package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine"
)

func (s *server) registerVotes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "record-vote",
		Method:      http.MethodPost,
		Path:        "/votes",
		Summary:     "Vote for a hook",
		Description: "Re-voting replaces the character's previous choice for the turn.",
		Tags:        []string{"votes"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RecordVoteRequest `json:"body"`
	}) (*struct {
		Body domain.Vote `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := s.e.RecordVote(ctx, engine.RecordVoteOptions{
			TurnID:      input.Body.TurnID,
			CharacterID: input.Body.CharacterID,
			HookIndex:   input.Body.HookIndex,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Vote `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-votes",
		Method:      http.MethodGet,
		Path:        "/turns/{id}/votes",
		Summary:     "Votes cast for a turn",
		Tags:        []string{"votes"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *turnPath) (*struct {
		Body []domain.Vote `json:"body"`
	}, error) {
		items, err := s.e.ListVotes(ctx, input.ID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body []domain.Vote `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "vote-tally",
		Method:      http.MethodGet,
		Path:        "/turns/{id}/tally",
		Summary:     "Vote counts per hook",
		Tags:        []string{"votes"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *turnPath) (*struct {
		Body domain.Tally `json:"body"`
	}, error) {
		t, err := s.e.Tally(ctx, input.ID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Tally `json:"body"`
		}{Body: t}, nil
	})
}
