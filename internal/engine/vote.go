package engine

import (
	"context"
	"fmt"

	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine/auth"
	"github.com/Charitha2009/chronicle/internal/events"
)

type RecordVoteOptions struct {
	TurnID      int64
	CharacterID int64
	HookIndex   int
	ActorID     string
}

// RecordVote upserts the character's choice for a turn; the last vote wins.
func (e Engine) RecordVote(ctx context.Context, opts RecordVoteOptions) (domain.Vote, error) {
	if opts.HookIndex < 0 || opts.HookIndex >= domain.HookCount {
		return domain.Vote{}, reject(KindValidation, "hookIndex must be between 0 and %d", domain.HookCount-1)
	}
	if opts.TurnID <= 0 || opts.CharacterID <= 0 {
		return domain.Vote{}, reject(KindValidation, "turnId and characterId are required")
	}
	if err := auth.RequireActor(opts.ActorID); err != nil {
		return domain.Vote{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Vote{}, err
	}
	defer tx.Rollback()
	turn, err := e.loadTurn(ctx, tx, opts.TurnID)
	if err != nil {
		return domain.Vote{}, err
	}
	ch, err := e.loadCharacter(ctx, tx, opts.CharacterID)
	if err != nil {
		return domain.Vote{}, err
	}
	if ch.CampaignCode != turn.CampaignCode {
		return domain.Vote{}, reject(KindValidation, "character %d does not belong to campaign %s", ch.ID, turn.CampaignCode)
	}
	if err := auth.RequireOwner(ch, opts.ActorID); err != nil {
		return domain.Vote{}, err
	}
	c, err := e.loadCampaign(ctx, tx, turn.CampaignCode)
	if err != nil {
		return domain.Vote{}, err
	}
	if c.Status != domain.StatusActive {
		return domain.Vote{}, reject(KindInvalidState, "campaign %s is %s; voting opens once it is active", c.Code, c.Status)
	}
	now := e.stamp()
	v, err := e.Repo.UpsertVote(ctx, tx, domain.Vote{
		TurnID:      turn.ID,
		CharacterID: ch.ID,
		HookIndex:   opts.HookIndex,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Vote{}, fmt.Errorf("record vote: %w", err)
	}
	evt, err := e.eventLog().Append(ctx, tx, events.VoteRecorded, c.Code, "vote", fmt.Sprint(v.ID), opts.ActorID, events.EventPayload{
		"turn_id":      turn.ID,
		"character_id": ch.ID,
		"hook_index":   v.HookIndex,
	})
	if err != nil {
		return domain.Vote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Vote{}, err
	}
	e.publish(ctx, evt)
	v.Character = &domain.VoteCharacter{Name: ch.Name, Archetype: ch.Archetype}
	return v, nil
}

// ListVotes returns each vote of a turn with the voter's name and archetype.
func (e Engine) ListVotes(ctx context.Context, turnID int64) ([]domain.Vote, error) {
	t, err := e.loadTurn(ctx, nil, turnID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListVotes(ctx, nil, t.ID)
}

// Tally counts votes per hook. The leading hook is the most voted one, ties
// going to the lowest index; with no votes hook 0 leads.
func (e Engine) Tally(ctx context.Context, turnID int64) (domain.Tally, error) {
	t, err := e.loadTurn(ctx, nil, turnID)
	if err != nil {
		return domain.Tally{}, err
	}
	counts, err := e.Repo.VoteCounts(ctx, nil, t.ID)
	if err != nil {
		return domain.Tally{}, err
	}
	return tallyFrom(t.ID, counts), nil
}

func tallyFrom(turnID int64, counts map[int]int) domain.Tally {
	out := domain.Tally{TurnID: turnID, Counts: make([]int, domain.HookCount)}
	for idx, n := range counts {
		if idx < 0 || idx >= domain.HookCount {
			continue
		}
		out.Counts[idx] = n
		out.Total += n
	}
	for i, n := range out.Counts {
		if n > out.Counts[out.Leading] {
			out.Leading = i
		}
	}
	return out
}
