package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine"
)

type turnPath struct {
	ID int64 `path:"id"`
}

func (s *server) registerTurns(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "latest-turn",
		Method:      http.MethodGet,
		Path:        "/campaigns/{code}/turn",
		Summary:     "Current turn",
		Tags:        []string{"turns"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *campaignPath) (*struct {
		Body domain.Turn `json:"body"`
	}, error) {
		t, err := s.e.LatestTurn(ctx, input.Code)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Turn `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-turns",
		Method:      http.MethodGet,
		Path:        "/campaigns/{code}/turns",
		Summary:     "Story so far",
		Tags:        []string{"turns"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *campaignPath) (*struct {
		Body []domain.TurnScene `json:"body"`
	}, error) {
		items, err := s.e.ListTurns(ctx, input.Code)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body []domain.TurnScene `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-turn",
		Method:        http.MethodPost,
		Path:          "/campaigns/{code}/turns",
		Summary:       "Write the next turn by hand",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"turns"},
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Code string            `path:"code"`
		Body CreateTurnRequest `json:"body"`
	}) (*struct {
		Body engine.TurnResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.e.CreateTurn(ctx, engine.CreateTurnOptions{
			Code:          input.Code,
			Content:       input.Body.Content,
			Hooks:         input.Body.Hooks,
			MemorySummary: input.Body.MemorySummary,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body engine.TurnResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-turn",
		Method:      http.MethodPost,
		Path:        "/campaigns/{code}/advance",
		Summary:     "Continue from the winning hook",
		Tags:        []string{"turns"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *campaignPath) (*struct {
		Body engine.TurnResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.e.AdvanceTurn(ctx, input.Code, actorID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body engine.TurnResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "turn-resolution",
		Method:      http.MethodGet,
		Path:        "/turns/{id}/resolution",
		Summary:     "Resolution of a turn",
		Tags:        []string{"turns"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *turnPath) (*struct {
		Body domain.Resolution `json:"body"`
	}, error) {
		res, err := s.e.Resolution(ctx, input.ID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Resolution `json:"body"`
		}{Body: res}, nil
	})
}
