package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine/auth"
	"github.com/Charitha2009/chronicle/internal/events"
	"github.com/Charitha2009/chronicle/internal/repo"
)

const maxNameLen = 40

type ClaimCharacterOptions struct {
	CampaignCode string
	Name         string
	Archetype    string
	AvatarURL    *string
	UserID       string
}

// ClaimCharacter creates an unlocked character owned by the caller.
func (e Engine) ClaimCharacter(ctx context.Context, opts ClaimCharacterOptions) (domain.Character, error) {
	name := strings.TrimSpace(opts.Name)
	archetype := strings.TrimSpace(opts.Archetype)
	if err := validateCharacterFields(name, archetype); err != nil {
		return domain.Character{}, err
	}
	if err := auth.RequireActor(opts.UserID); err != nil {
		return domain.Character{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Character{}, err
	}
	defer tx.Rollback()
	c, err := e.loadCampaign(ctx, tx, opts.CampaignCode)
	if err != nil {
		return domain.Character{}, err
	}
	if c.Status != domain.StatusLobby && c.Status != domain.StatusCharacterSelect {
		return domain.Character{}, reject(KindInvalidState, "campaign %s is %s; characters can no longer be claimed", c.Code, c.Status)
	}
	count, err := e.Repo.CountCharacters(ctx, tx, c.Code, false)
	if err != nil {
		return domain.Character{}, err
	}
	if count >= c.MaxPlayers {
		return domain.Character{}, reject(KindCampaignFull, "campaign %s already has %d of %d characters", c.Code, count, c.MaxPlayers)
	}
	taken, err := e.Repo.CharacterNameTaken(ctx, tx, c.Code, name, 0)
	if err != nil {
		return domain.Character{}, err
	}
	if taken {
		return domain.Character{}, nameTaken(c.Code, name)
	}
	now := e.stamp()
	ch, err := e.Repo.InsertCharacter(ctx, tx, domain.Character{
		CampaignCode: c.Code,
		UserID:       opts.UserID,
		Name:         name,
		Archetype:    archetype,
		AvatarURL:    cleanAvatar(opts.AvatarURL),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if repo.IsConflict(err) {
		return domain.Character{}, nameTaken(c.Code, name)
	}
	if err != nil {
		return domain.Character{}, fmt.Errorf("insert character: %w", err)
	}
	evt, err := e.eventLog().Append(ctx, tx, events.CharacterClaimed, c.Code, "character", fmt.Sprint(ch.ID), opts.UserID, events.EventPayload{
		"name":      ch.Name,
		"archetype": ch.Archetype,
	})
	if err != nil {
		return domain.Character{}, err
	}
	if err := tx.Commit(); err != nil {
		if repo.IsConflict(err) {
			return domain.Character{}, nameTaken(c.Code, name)
		}
		return domain.Character{}, err
	}
	e.publish(ctx, evt)
	return ch, nil
}

func nameTaken(code, name string) error {
	return reject(KindNameTaken, "character name %q is already taken in campaign %s", name, code)
}

func validateCharacterFields(name, archetype string) error {
	if name == "" {
		return reject(KindValidation, "name is required")
	}
	if len(name) > maxNameLen {
		return reject(KindValidation, "name must be at most %d characters", maxNameLen)
	}
	if archetype == "" {
		return reject(KindValidation, "archetype is required")
	}
	if len(archetype) > maxNameLen {
		return reject(KindValidation, "archetype must be at most %d characters", maxNameLen)
	}
	return nil
}

func cleanAvatar(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

type UpdateCharacterOptions struct {
	ID        int64
	Name      *string
	Archetype *string
	AvatarURL *string
	ActorID   string
}

// UpdateCharacter edits an unlocked character; locked ones are immutable.
func (e Engine) UpdateCharacter(ctx context.Context, opts UpdateCharacterOptions) (domain.Character, error) {
	if opts.Name == nil && opts.Archetype == nil && opts.AvatarURL == nil {
		return domain.Character{}, reject(KindValidation, "nothing to update")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Character{}, err
	}
	defer tx.Rollback()
	ch, err := e.loadCharacter(ctx, tx, opts.ID)
	if err != nil {
		return ch, err
	}
	if err := auth.RequireOwner(ch, opts.ActorID); err != nil {
		return ch, err
	}
	if ch.IsLocked {
		return ch, reject(KindAlreadyLocked, "character %d is locked", ch.ID)
	}
	next := ch
	if opts.Name != nil {
		next.Name = strings.TrimSpace(*opts.Name)
	}
	if opts.Archetype != nil {
		next.Archetype = strings.TrimSpace(*opts.Archetype)
	}
	if opts.AvatarURL != nil {
		next.AvatarURL = cleanAvatar(opts.AvatarURL)
	}
	if err := validateCharacterFields(next.Name, next.Archetype); err != nil {
		return ch, err
	}
	if next.Name != ch.Name {
		taken, err := e.Repo.CharacterNameTaken(ctx, tx, ch.CampaignCode, next.Name, ch.ID)
		if err != nil {
			return ch, err
		}
		if taken {
			return ch, nameTaken(ch.CampaignCode, next.Name)
		}
	}
	next.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateCharacter(ctx, tx, next); err != nil {
		if repo.IsConflict(err) {
			return ch, nameTaken(ch.CampaignCode, next.Name)
		}
		return ch, fmt.Errorf("update character %d: %w", ch.ID, err)
	}
	evt, err := e.eventLog().Append(ctx, tx, events.CharacterUpdated, ch.CampaignCode, "character", fmt.Sprint(ch.ID), opts.ActorID, events.EventPayload{
		"name":      next.Name,
		"archetype": next.Archetype,
	})
	if err != nil {
		return ch, err
	}
	if err := tx.Commit(); err != nil {
		return ch, err
	}
	e.publish(ctx, evt)
	return next, nil
}

// LockCharacter commits a character. Locking twice is rejected.
func (e Engine) LockCharacter(ctx context.Context, id int64, actorID string) (domain.Character, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Character{}, err
	}
	defer tx.Rollback()
	ch, err := e.loadCharacter(ctx, tx, id)
	if err != nil {
		return ch, err
	}
	if err := auth.RequireOwner(ch, actorID); err != nil {
		return ch, err
	}
	if ch.IsLocked {
		return ch, reject(KindAlreadyLocked, "character %d is already locked", ch.ID)
	}
	now := e.stamp()
	ok, err := e.Repo.LockCharacter(ctx, tx, ch.ID, now)
	if err != nil {
		return ch, fmt.Errorf("lock character %d: %w", ch.ID, err)
	}
	if !ok {
		return ch, reject(KindAlreadyLocked, "character %d is already locked", ch.ID)
	}
	evt, err := e.eventLog().Append(ctx, tx, events.CharacterLocked, ch.CampaignCode, "character", fmt.Sprint(ch.ID), actorID, nil)
	if err != nil {
		return ch, err
	}
	if err := tx.Commit(); err != nil {
		return ch, err
	}
	e.publish(ctx, evt)
	ch.IsLocked = true
	ch.UpdatedAt = now
	return ch, nil
}

func (e Engine) GetCharacter(ctx context.Context, id int64) (domain.Character, error) {
	return e.loadCharacter(ctx, nil, id)
}

// ListCharacters returns the campaign roster in claim order.
func (e Engine) ListCharacters(ctx context.Context, code string) ([]domain.Character, error) {
	c, err := e.loadCampaign(ctx, nil, code)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListCharacters(ctx, nil, repo.CharacterFilters{CampaignCode: c.Code})
}
