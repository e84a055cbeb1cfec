package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine/auth"
	"github.com/Charitha2009/chronicle/internal/events"
	"github.com/Charitha2009/chronicle/internal/narrative"
	"github.com/Charitha2009/chronicle/internal/repo"
)

// TurnResult is a turn together with its resolution.
type TurnResult struct {
	Turn       domain.Turn       `json:"turn"`
	Resolution domain.Resolution `json:"resolution"`
	// SelectedHook is the hook the new turn continues from, -1 for hand-written turns.
	SelectedHook int `json:"selected_hook"`
}

// WriteTurn persists turn index with its resolution inside tx. The voting
// window starts at start.
func (e Engine) WriteTurn(ctx context.Context, tx *sql.Tx, code string, index int, start time.Time, scene narrative.Result[narrative.Scene], actorID string) (TurnResult, []domain.Event, error) {
	if index < 1 {
		return TurnResult{}, nil, reject(KindValidation, "turn index must be at least 1")
	}
	if err := narrative.ValidateScene(scene.Value); err != nil {
		return TurnResult{}, nil, reject(KindValidation, "%s", err.Error())
	}
	start = start.UTC()
	turn, err := e.Repo.InsertTurn(ctx, tx, domain.Turn{
		CampaignCode: code,
		Index:        index,
		StartsAt:     start.Format(time.RFC3339),
		EndsAt:       start.Add(e.config().VotingWindow()).Format(time.RFC3339),
		CreatedAt:    start.Format(time.RFC3339),
	})
	if err != nil {
		return TurnResult{}, nil, fmt.Errorf("insert turn %d: %w", index, err)
	}
	turnEvt, err := e.eventLog().Append(ctx, tx, events.TurnCreated, code, "turn", fmt.Sprint(turn.ID), actorID, events.EventPayload{
		"turn_index": index,
		"ends_at":    turn.EndsAt,
	})
	if err != nil {
		return TurnResult{}, nil, err
	}
	res, resEvt, err := e.writeResolution(ctx, tx, code, turn, scene, actorID)
	if err != nil {
		return TurnResult{}, nil, err
	}
	turn.Summary = res.MemorySummary
	return TurnResult{Turn: turn, Resolution: res, SelectedHook: -1}, []domain.Event{turnEvt, resEvt}, nil
}

// writeResolution stores the scene for turn and mirrors its memory summary
// onto the turn for continuation prompts.
func (e Engine) writeResolution(ctx context.Context, tx *sql.Tx, code string, turn domain.Turn, scene narrative.Result[narrative.Scene], actorID string) (domain.Resolution, domain.Event, error) {
	source := scene.Source
	if source == "" {
		source = narrative.SourceGenerated
	}
	res, err := e.Repo.InsertResolution(ctx, tx, domain.Resolution{
		TurnID:        turn.ID,
		Content:       scene.Value.Content,
		Hooks:         scene.Value.Hooks,
		MemorySummary: scene.Value.MemorySummary,
		Source:        string(source),
		CreatedAt:     e.stamp(),
	})
	if err != nil {
		return res, domain.Event{}, fmt.Errorf("insert resolution for turn %d: %w", turn.Index, err)
	}
	if err := e.Repo.UpdateTurnSummary(ctx, tx, turn.ID, res.MemorySummary); err != nil {
		return res, domain.Event{}, fmt.Errorf("update turn summary: %w", err)
	}
	evt, err := e.eventLog().Append(ctx, tx, events.ResolutionCreated, code, "resolution", fmt.Sprint(res.ID), actorID, events.EventPayload{
		"turn_id":    turn.ID,
		"turn_index": turn.Index,
		"source":     res.Source,
	})
	if err != nil {
		return res, domain.Event{}, err
	}
	return res, evt, nil
}

type CreateTurnOptions struct {
	Code          string
	Content       string
	Hooks         []string
	MemorySummary string
	ActorID       string
}

// CreateTurn writes a hand-authored turn after the latest one.
func (e Engine) CreateTurn(ctx context.Context, opts CreateTurnOptions) (TurnResult, error) {
	scene := narrative.Result[narrative.Scene]{
		Value:  narrative.Scene{Content: opts.Content, Hooks: opts.Hooks, MemorySummary: opts.MemorySummary},
		Source: narrative.SourceGenerated,
	}
	if err := narrative.ValidateScene(scene.Value); err != nil {
		return TurnResult{}, reject(KindValidation, "%s", err.Error())
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TurnResult{}, err
	}
	defer tx.Rollback()
	c, err := e.loadCampaign(ctx, tx, opts.Code)
	if err != nil {
		return TurnResult{}, err
	}
	if err := auth.RequireHost(c, opts.ActorID); err != nil {
		return TurnResult{}, err
	}
	if c.Status != domain.StatusActive {
		return TurnResult{}, reject(KindInvalidState, "campaign %s is %s; turns are written only while active", c.Code, c.Status)
	}
	maxIndex, err := e.Repo.MaxTurnIndex(ctx, tx, c.Code)
	if err != nil {
		return TurnResult{}, err
	}
	out, evts, err := e.WriteTurn(ctx, tx, c.Code, maxIndex+1, e.now(), scene, opts.ActorID)
	if repo.IsConflict(err) {
		return TurnResult{}, reject(KindInvalidState, "turn %d of campaign %s was written concurrently", maxIndex+1, c.Code)
	}
	if err != nil {
		return TurnResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TurnResult{}, err
	}
	e.publish(ctx, evts...)
	return out, nil
}

// AdvanceTurn continues the story from the current turn's winning hook.
func (e Engine) AdvanceTurn(ctx context.Context, code, actorID string) (TurnResult, error) {
	c, err := e.loadCampaign(ctx, nil, code)
	if err != nil {
		return TurnResult{}, err
	}
	if err := auth.RequireHost(c, actorID); err != nil {
		return TurnResult{}, err
	}
	current, err := e.Repo.LatestTurn(ctx, nil, c.Code)
	if errors.Is(err, repo.ErrNotFound) {
		return TurnResult{}, reject(KindInvalidState, "campaign %s has no turn to advance from", c.Code)
	}
	if err != nil {
		return TurnResult{}, err
	}
	currentRes, err := e.Repo.ResolutionForTurn(ctx, nil, current.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return TurnResult{}, reject(KindInvalidState, "turn %d has no resolution yet", current.Index)
	}
	if err != nil {
		return TurnResult{}, err
	}
	tally, err := e.Tally(ctx, current.ID)
	if err != nil {
		return TurnResult{}, err
	}
	selected := tally.Leading
	hook := ""
	if selected < len(currentRes.Hooks) {
		hook = currentRes.Hooks[selected]
	}

	turns, err := e.Repo.ListTurns(ctx, nil, c.Code)
	if err != nil {
		return TurnResult{}, err
	}
	history := make([]narrative.PriorTurn, 0, len(turns))
	for _, t := range turns {
		history = append(history, narrative.PriorTurn{Index: t.Index, Summary: t.Summary})
	}
	members, err := e.roster(ctx, c.Code, true)
	if err != nil {
		return TurnResult{}, err
	}
	next := current.Index + 1
	scene := e.Narrator.Continuation(ctx, narrative.ContinuationRequest{
		Title:        c.Title,
		Genre:        c.Genre,
		Roster:       members,
		TurnIndex:    next,
		History:      history,
		SelectedHook: hook,
	})
	if scene.Fallback() {
		e.log().WithError(scene.Cause).WithFields(logrus.Fields{"code": c.Code, "turn": next}).Warn("continuation fell back to default narrative")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TurnResult{}, err
	}
	defer tx.Rollback()
	out, evts, err := e.WriteTurn(ctx, tx, c.Code, next, e.now(), scene, actorID)
	if repo.IsConflict(err) {
		return TurnResult{}, reject(KindInvalidState, "turn %d of campaign %s was written concurrently", next, c.Code)
	}
	if err != nil {
		return TurnResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TurnResult{}, err
	}
	e.publish(ctx, evts...)
	out.SelectedHook = selected
	return out, nil
}

// LatestTurn returns the highest-indexed turn of a campaign.
func (e Engine) LatestTurn(ctx context.Context, code string) (domain.Turn, error) {
	c, err := e.loadCampaign(ctx, nil, code)
	if err != nil {
		return domain.Turn{}, err
	}
	t, err := e.Repo.LatestTurn(ctx, nil, c.Code)
	if errors.Is(err, repo.ErrNotFound) {
		return t, reject(KindNotFound, "campaign %s has no turns yet", c.Code)
	}
	return t, err
}

func (e Engine) GetTurn(ctx context.Context, id int64) (domain.Turn, error) {
	return e.loadTurn(ctx, nil, id)
}

// ListTurns returns the story so far in order, each turn with its resolution.
func (e Engine) ListTurns(ctx context.Context, code string) ([]domain.TurnScene, error) {
	c, err := e.loadCampaign(ctx, nil, code)
	if err != nil {
		return nil, err
	}
	turns, err := e.Repo.ListTurns(ctx, nil, c.Code)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TurnScene, 0, len(turns))
	for _, t := range turns {
		scene := domain.TurnScene{Turn: t}
		res, err := e.Repo.ResolutionForTurn(ctx, nil, t.ID)
		switch {
		case err == nil:
			scene.Resolution = &res
		case !errors.Is(err, repo.ErrNotFound):
			return nil, err
		}
		out = append(out, scene)
	}
	return out, nil
}

// Resolution returns the single resolution written for a turn.
func (e Engine) Resolution(ctx context.Context, turnID int64) (domain.Resolution, error) {
	t, err := e.loadTurn(ctx, nil, turnID)
	if err != nil {
		return domain.Resolution{}, err
	}
	res, err := e.Repo.ResolutionForTurn(ctx, nil, t.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return res, reject(KindNotFound, "turn %d has no resolution", t.ID)
	}
	return res, err
}

func (e Engine) WorldState(ctx context.Context, code string) (domain.WorldState, error) {
	c, err := e.loadCampaign(ctx, nil, code)
	if err != nil {
		return domain.WorldState{}, err
	}
	ws, err := e.Repo.GetWorldState(ctx, nil, c.Code)
	if errors.Is(err, repo.ErrNotFound) {
		return ws, reject(KindNotFound, "campaign %s has no world state yet", c.Code)
	}
	return ws, err
}
