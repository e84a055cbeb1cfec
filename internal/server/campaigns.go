package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine"
	"github.com/Charitha2009/chronicle/internal/repo"
)

type campaignPath struct {
	Code string `path:"code" example:"K7QX2M"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func (s *server) registerCampaigns(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-campaign",
		Method:        http.MethodPost,
		Path:          "/campaigns",
		Summary:       "Create campaign",
		Description:   "Allocates a join code and opens a lobby hosted by the caller.",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"campaigns"},
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateCampaignRequest `json:"body"`
	}) (*struct {
		Body domain.Campaign `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := s.e.CreateCampaign(ctx, engine.CreateCampaignOptions{
			Title:      input.Body.Title,
			Genre:      input.Body.Genre,
			MaxPlayers: input.Body.MaxPlayers,
			HostID:     actorID,
		})
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Campaign `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-campaigns",
		Method:      http.MethodGet,
		Path:        "/campaigns",
		Summary:     "List campaigns",
		Tags:        []string{"campaigns"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"lobby,character_select,starting,active,ended"`
		Host   string `query:"host"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []domain.Campaign `json:"body"`
	}, error) {
		items, err := s.e.ListCampaigns(ctx, repo.CampaignFilters{Status: input.Status, HostID: input.Host, Limit: input.Limit})
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body []domain.Campaign `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-campaign",
		Method:      http.MethodGet,
		Path:        "/campaigns/{code}",
		Summary:     "Get campaign",
		Tags:        []string{"campaigns"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *campaignPath) (*struct {
		Body domain.Campaign `json:"body"`
	}, error) {
		c, err := s.e.GetCampaign(ctx, input.Code)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Campaign `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-campaign",
		Method:      http.MethodPatch,
		Path:        "/campaigns/{code}",
		Summary:     "Update campaign title or genre",
		Tags:        []string{"campaigns"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Code string                `path:"code"`
		Body UpdateCampaignRequest `json:"body"`
	}) (*struct {
		Body domain.Campaign `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := s.e.UpdateCampaign(ctx, engine.UpdateCampaignOptions{
			Code:    input.Code,
			Title:   input.Body.Title,
			Genre:   input.Body.Genre,
			ActorID: actorID,
		})
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Campaign `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "enter-character-select",
		Method:      http.MethodPost,
		Path:        "/campaigns/{code}/enter-character-select",
		Summary:     "Close the lobby and open character selection",
		Tags:        []string{"campaigns"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *campaignPath) (*struct {
		Body domain.Campaign `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := s.e.EnterCharacterSelect(ctx, input.Code, actorID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Campaign `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggest-genre",
		Method:      http.MethodPost,
		Path:        "/campaigns/{code}/suggest-genre",
		Summary:     "Suggest a genre for the current roster",
		Tags:        []string{"campaigns"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *campaignPath) (*struct {
		Body domain.GenreSuggestion `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sug, err := s.e.SuggestGenre(ctx, input.Code, actorID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.GenreSuggestion `json:"body"`
		}{Body: sug}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-campaign",
		Method:      http.MethodPost,
		Path:        "/campaigns/{code}/start",
		Summary:     "Start the story",
		Description: "Writes turn 1 with its opening resolution, seeds the world state and activates the campaign.",
		Tags:        []string{"campaigns"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *campaignPath) (*struct {
		Body engine.StartResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.e.Start(ctx, input.Code, actorID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body engine.StartResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-start",
		Method:      http.MethodPost,
		Path:        "/campaigns/{code}/resume",
		Summary:     "Resume an interrupted start",
		Tags:        []string{"campaigns"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *campaignPath) (*struct {
		Body engine.StartResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.e.ResumeStart(ctx, input.Code, actorID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body engine.StartResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "world-state",
		Method:      http.MethodGet,
		Path:        "/campaigns/{code}/world",
		Summary:     "Campaign world state",
		Tags:        []string{"campaigns"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *campaignPath) (*struct {
		Body domain.WorldState `json:"body"`
	}, error) {
		ws, err := s.e.WorldState(ctx, input.Code)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.WorldState `json:"body"`
		}{Body: ws}, nil
	})
}
