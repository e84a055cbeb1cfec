package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Charitha2009/chronicle/internal/codegen"
	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine/auth"
	"github.com/Charitha2009/chronicle/internal/events"
	"github.com/Charitha2009/chronicle/internal/repo"
)

const maxTitleLen = 120

type CreateCampaignOptions struct {
	Title      string
	Genre      string
	MaxPlayers int
	HostID     string
}

// CreateCampaign allocates a code and stores a campaign in lobby.
func (e Engine) CreateCampaign(ctx context.Context, opts CreateCampaignOptions) (domain.Campaign, error) {
	cfg := e.config()
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Campaign{}, reject(KindValidation, "title is required")
	}
	if len(title) > maxTitleLen {
		return domain.Campaign{}, reject(KindValidation, "title must be at most %d characters", maxTitleLen)
	}
	genre := strings.TrimSpace(opts.Genre)
	if genre == "" {
		return domain.Campaign{}, reject(KindValidation, "genre is required")
	}
	if !domain.ValidGenre(genre) {
		return domain.Campaign{}, reject(KindValidation, "unknown genre %q", genre)
	}
	maxPlayers := opts.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = cfg.Campaign.DefaultMaxPlayers
	}
	if maxPlayers < 1 || maxPlayers > cfg.Campaign.MaxPlayersLimit {
		return domain.Campaign{}, reject(KindValidation, "maxPlayers must be between 1 and %d", cfg.Campaign.MaxPlayersLimit)
	}
	if err := auth.RequireActor(opts.HostID); err != nil {
		return domain.Campaign{}, err
	}

	alloc, err := codegen.Allocate(ctx, cfg.Campaign.CodeAttempts, e.Repo.CampaignExists, func() (string, error) {
		return codegen.Generate(e.Entropy)
	})
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("allocate campaign code: %w", err)
	}
	if alloc.Collided {
		e.log().WithFields(logrus.Fields{"code": alloc.Code, "attempts": alloc.Attempts}).Warn("code namespace crowded; using colliding code")
	}

	now := e.stamp()
	c := domain.Campaign{
		Code:       alloc.Code,
		Title:      title,
		Genre:      genre,
		Status:     domain.StatusLobby,
		MaxPlayers: maxPlayers,
		HostUserID: opts.HostID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Campaign{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCampaign(ctx, tx, c); err != nil {
		return domain.Campaign{}, fmt.Errorf("insert campaign %s: %w", c.Code, err)
	}
	evt, err := e.eventLog().Append(ctx, tx, events.CampaignCreated, c.Code, "campaign", c.Code, opts.HostID, events.EventPayload{
		"title":       c.Title,
		"genre":       c.Genre,
		"max_players": c.MaxPlayers,
	})
	if err != nil {
		return domain.Campaign{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Campaign{}, err
	}
	e.publish(ctx, evt)
	e.log().WithFields(logrus.Fields{"code": c.Code, "host": c.HostUserID}).Info("campaign created")
	return c, nil
}

func (e Engine) GetCampaign(ctx context.Context, code string) (domain.Campaign, error) {
	return e.loadCampaign(ctx, nil, code)
}

func (e Engine) ListCampaigns(ctx context.Context, f repo.CampaignFilters) ([]domain.Campaign, error) {
	if f.Status != "" && domain.StatusRank(f.Status) < 0 {
		return nil, reject(KindValidation, "unknown status %q", f.Status)
	}
	return e.Repo.ListCampaigns(ctx, f)
}

type UpdateCampaignOptions struct {
	Code    string
	Title   *string
	Genre   *string
	ActorID string
}

// UpdateCampaign edits title or genre while the roster is still forming.
func (e Engine) UpdateCampaign(ctx context.Context, opts UpdateCampaignOptions) (domain.Campaign, error) {
	var title, genre string
	if opts.Title != nil {
		title = strings.TrimSpace(*opts.Title)
		if title == "" {
			return domain.Campaign{}, reject(KindValidation, "title must not be empty")
		}
		if len(title) > maxTitleLen {
			return domain.Campaign{}, reject(KindValidation, "title must be at most %d characters", maxTitleLen)
		}
	}
	if opts.Genre != nil {
		genre = strings.TrimSpace(*opts.Genre)
		if !domain.ValidGenre(genre) {
			return domain.Campaign{}, reject(KindValidation, "unknown genre %q", genre)
		}
	}
	if title == "" && genre == "" {
		return domain.Campaign{}, reject(KindValidation, "nothing to update")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Campaign{}, err
	}
	defer tx.Rollback()
	c, err := e.loadCampaign(ctx, tx, opts.Code)
	if err != nil {
		return c, err
	}
	if err := auth.RequireHost(c, opts.ActorID); err != nil {
		return c, err
	}
	if c.Status != domain.StatusLobby && c.Status != domain.StatusCharacterSelect {
		return c, reject(KindInvalidState, "campaign %s is %s; details are fixed once the story starts", c.Code, c.Status)
	}
	now := e.stamp()
	if err := e.Repo.UpdateCampaignDetails(ctx, tx, c.Code, title, genre, now); err != nil {
		return c, fmt.Errorf("update campaign %s: %w", c.Code, err)
	}
	payload := events.EventPayload{}
	if title != "" {
		payload["title"] = title
		c.Title = title
	}
	if genre != "" {
		payload["genre"] = genre
		c.Genre = genre
	}
	c.UpdatedAt = now
	evt, err := e.eventLog().Append(ctx, tx, events.CampaignUpdated, c.Code, "campaign", c.Code, opts.ActorID, payload)
	if err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	e.publish(ctx, evt)
	return c, nil
}

// EnterCharacterSelect moves a campaign from lobby to character_select.
func (e Engine) EnterCharacterSelect(ctx context.Context, code, actorID string) (domain.Campaign, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Campaign{}, err
	}
	defer tx.Rollback()
	c, err := e.loadCampaign(ctx, tx, code)
	if err != nil {
		return c, err
	}
	if err := auth.RequireHost(c, actorID); err != nil {
		return c, err
	}
	if err := ensureCampaignTransition(c.Status, domain.StatusCharacterSelect); err != nil {
		return c, err
	}
	evt, err := e.transition(ctx, tx, &c, domain.StatusCharacterSelect, domain.StepNone, actorID)
	if err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	e.publish(ctx, evt)
	return c, nil
}

// ensureCampaignTransition permits only the single forward step from each status.
func ensureCampaignTransition(from, to string) error {
	switch from {
	case domain.StatusLobby:
		if to == domain.StatusCharacterSelect {
			return nil
		}
	case domain.StatusCharacterSelect:
		if to == domain.StatusStarting {
			return nil
		}
	case domain.StatusStarting:
		if to == domain.StatusActive {
			return nil
		}
	case domain.StatusActive:
		if to == domain.StatusEnded {
			return nil
		}
	}
	return reject(KindInvalidState, "invalid campaign status transition %s -> %s", from, to)
}

// transition performs a conditional status update and records it. Losing a
// race to another writer surfaces as an invalid_state rejection.
func (e Engine) transition(ctx context.Context, tx *sql.Tx, c *domain.Campaign, to, step, actorID string) (domain.Event, error) {
	from := c.Status
	now := e.stamp()
	ok, err := e.Repo.TransitionStatus(ctx, tx, c.Code, from, to, step, now)
	if err != nil {
		return domain.Event{}, fmt.Errorf("update campaign status: %w", err)
	}
	if !ok {
		return domain.Event{}, reject(KindInvalidState, "campaign %s changed status concurrently", c.Code)
	}
	evt, err := e.eventLog().Append(ctx, tx, events.CampaignStatusChanged, c.Code, "campaign", c.Code, actorID, events.EventPayload{
		"from": from,
		"to":   to,
	})
	if err != nil {
		return domain.Event{}, err
	}
	c.Status = to
	c.StartStep = step
	c.UpdatedAt = now
	return evt, nil
}
