package server

import (
	"github.com/Charitha2009/chronicle/internal/domain"
)

type CreateCampaignRequest struct {
	Title      string `json:"title" minLength:"1" maxLength:"120" example:"The Sunken Crown"`
	Genre      string `json:"genre" example:"fantasy"`
	MaxPlayers int    `json:"maxPlayers,omitempty" minimum:"0" example:"4"`
}

type UpdateCampaignRequest struct {
	Title *string `json:"title,omitempty"`
	Genre *string `json:"genre,omitempty"`
}

type ClaimCharacterRequest struct {
	CampaignID string  `json:"campaignId" example:"K7QX2M"`
	Name       string  `json:"name" minLength:"1" maxLength:"40" example:"Ari"`
	Archetype  string  `json:"archetype" minLength:"1" maxLength:"40" example:"Mage"`
	AvatarURL  *string `json:"avatarUrl,omitempty"`
}

type UpdateCharacterRequest struct {
	Name      *string `json:"name,omitempty"`
	Archetype *string `json:"archetype,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

type CreateTurnRequest struct {
	Content       string   `json:"content" minLength:"1"`
	Hooks         []string `json:"hooks" minItems:"3" maxItems:"3"`
	MemorySummary string   `json:"memorySummary,omitempty"`
}

type RecordVoteRequest struct {
	TurnID      int64 `json:"turnId" minimum:"1"`
	CharacterID int64 `json:"characterId" minimum:"1"`
	HookIndex   int   `json:"hookIndex" minimum:"0" maximum:"2"`
}

type DevLoginRequest struct {
	UserID string `json:"userId,omitempty" example:"user-123"`
}

type DevLoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
