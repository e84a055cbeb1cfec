package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine"
)

func (s *server) registerCharacters(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-characters",
		Method:      http.MethodGet,
		Path:        "/campaigns/{code}/characters",
		Summary:     "Campaign roster",
		Tags:        []string{"characters"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *campaignPath) (*struct {
		Body []domain.Character `json:"body"`
	}, error) {
		items, err := s.e.ListCharacters(ctx, input.Code)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body []domain.Character `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "claim-character",
		Method:        http.MethodPost,
		Path:          "/characters/claim",
		Summary:       "Claim a character",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"characters"},
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body ClaimCharacterRequest `json:"body"`
	}) (*struct {
		Body domain.Character `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ch, err := s.e.ClaimCharacter(ctx, engine.ClaimCharacterOptions{
			CampaignCode: input.Body.CampaignID,
			Name:         input.Body.Name,
			Archetype:    input.Body.Archetype,
			AvatarURL:    input.Body.AvatarURL,
			UserID:       actorID,
		})
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Character `json:"body"`
		}{Body: ch}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-character",
		Method:      http.MethodPatch,
		Path:        "/characters/{id}",
		Summary:     "Edit an unlocked character",
		Tags:        []string{"characters"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                  `path:"id"`
		Body UpdateCharacterRequest `json:"body"`
	}) (*struct {
		Body domain.Character `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ch, err := s.e.UpdateCharacter(ctx, engine.UpdateCharacterOptions{
			ID:        input.ID,
			Name:      input.Body.Name,
			Archetype: input.Body.Archetype,
			AvatarURL: input.Body.AvatarURL,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Character `json:"body"`
		}{Body: ch}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lock-character",
		Method:      http.MethodPost,
		Path:        "/characters/{id}/lock",
		Summary:     "Lock a character",
		Description: "Locking is one-way; a locked character can no longer be edited.",
		Tags:        []string{"characters"},
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Character `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ch, err := s.e.LockCharacter(ctx, input.ID, actorID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Character `json:"body"`
		}{Body: ch}, nil
	})
}
