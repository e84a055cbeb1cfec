package engine

import (
	"context"
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

// StartResult is the state produced by a completed start.
type StartResult struct {
	Campaign   domain.Campaign   `json:"campaign"`
	Turn       domain.Turn       `json:"turn"`
	Resolution domain.Resolution `json:"resolution"`
	World      domain.WorldState `json:"world_state"`
}

// Start moves a campaign from character_select to active, writing turn 1,
// its resolution and the seeded world state. Each step records the next
// pending step on the campaign so an interrupted start can be resumed.
func (e Engine) Start(ctx context.Context, code, actorID string) (StartResult, error) {
	c, err := e.loadCampaign(ctx, nil, code)
	if err != nil {
		return StartResult{}, err
	}
	if err := auth.RequireHost(c, actorID); err != nil {
		return StartResult{}, err
	}
	switch c.Status {
	case domain.StatusCharacterSelect:
	case domain.StatusStarting, domain.StatusActive, domain.StatusEnded:
		return StartResult{}, reject(KindAlreadyStarted, "campaign %s has already been started", c.Code)
	default:
		return StartResult{}, reject(KindInvalidState, "campaign %s is %s; enter character select first", c.Code, c.Status)
	}
	locked, err := e.Repo.CountCharacters(ctx, nil, c.Code, true)
	if err != nil {
		return StartResult{}, err
	}
	if locked == 0 {
		return StartResult{}, reject(KindInvalidState, "campaign %s needs at least one locked character to start", c.Code)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StartResult{}, err
	}
	defer tx.Rollback()
	evt, err := e.transition(ctx, tx, &c, domain.StatusStarting, domain.StepTurn, actorID)
	if IsRejection(err, KindInvalidState) {
		return StartResult{}, reject(KindAlreadyStarted, "campaign %s has already been started", c.Code)
	}
	if err != nil {
		return StartResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return StartResult{}, err
	}
	e.publish(ctx, evt)
	return e.runStart(ctx, c, actorID)
}

// ResumeStart continues a campaign stuck in starting from its pending step.
func (e Engine) ResumeStart(ctx context.Context, code, actorID string) (StartResult, error) {
	c, err := e.loadCampaign(ctx, nil, code)
	if err != nil {
		return StartResult{}, err
	}
	if err := auth.RequireHost(c, actorID); err != nil {
		return StartResult{}, err
	}
	if c.Status != domain.StatusStarting {
		return StartResult{}, reject(KindInvalidState, "campaign %s is %s; only starting campaigns can be resumed", c.Code, c.Status)
	}
	evt, err := e.eventLog().Append(ctx, nil, events.CampaignStartResumed, c.Code, "campaign", c.Code, actorID, events.EventPayload{"step": c.StartStep})
	if err != nil {
		return StartResult{}, err
	}
	e.publish(ctx, evt)
	e.log().WithFields(logrus.Fields{"code": c.Code, "step": c.StartStep, "actor": actorID}).Info("resuming start")
	return e.runStart(ctx, c, actorID)
}

// RecoveryOutcome reports one campaign handled by RecoverStalled.
type RecoveryOutcome struct {
	Code string
	Step string
	Err  error
}

// RecoverStalled resumes every campaign that has sat in starting for longer
// than olderThan.
func (e Engine) RecoverStalled(ctx context.Context, olderThan time.Duration) ([]RecoveryOutcome, error) {
	cutoff := e.now().Add(-olderThan).UTC().Format(time.RFC3339)
	stalled, err := e.Repo.StalledCampaigns(ctx, domain.StatusStarting, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stalled campaigns: %w", err)
	}
	res := make([]RecoveryOutcome, 0, len(stalled))
	for _, c := range stalled {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := e.ResumeStart(ctx, c.Code, auth.SystemActor)
		if err != nil {
			e.log().WithError(err).WithFields(logrus.Fields{"code": c.Code, "step": c.StartStep}).Error("stalled start recovery failed")
		}
		res = append(res, RecoveryOutcome{Code: c.Code, Step: c.StartStep, Err: err})
	}
	return res, nil
}

// runStart executes the remaining saga steps. A failing step leaves the
// marker on that step.
func (e Engine) runStart(ctx context.Context, c domain.Campaign, actorID string) (StartResult, error) {
	log := e.log().WithFields(logrus.Fields{"code": c.Code, "actor": actorID})
	fail := func(step string, err error) (StartResult, error) {
		log.WithError(err).WithField("step", step).Error("start step failed; campaign left in starting")
		return StartResult{}, err
	}

	switch c.StartStep {
	case domain.StepNone, domain.StepTurn:
		if err := e.startTurnStep(ctx, c, actorID); err != nil {
			return fail(domain.StepTurn, err)
		}
		fallthrough
	case domain.StepResolution:
		if err := e.startResolutionStep(ctx, c, actorID); err != nil {
			return fail(domain.StepResolution, err)
		}
		fallthrough
	case domain.StepWorld:
		if err := e.startWorldStep(ctx, c, actorID); err != nil {
			return fail(domain.StepWorld, err)
		}
		fallthrough
	case domain.StepActivate:
		if err := e.startActivateStep(ctx, &c, actorID); err != nil {
			return fail(domain.StepActivate, err)
		}
	default:
		return StartResult{}, fmt.Errorf("campaign %s has unknown start step %q", c.Code, c.StartStep)
	}

	return e.startResult(ctx, c.Code)
}

func (e Engine) startTurnStep(ctx context.Context, c domain.Campaign, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var pending []domain.Event
	_, err = e.Repo.GetTurnByIndex(ctx, tx, c.Code, 1)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		start := e.now().UTC()
		turn, err := e.Repo.InsertTurn(ctx, tx, domain.Turn{
			CampaignCode: c.Code,
			Index:        1,
			StartsAt:     start.Format(time.RFC3339),
			EndsAt:       start.Add(e.config().VotingWindow()).Format(time.RFC3339),
			CreatedAt:    start.Format(time.RFC3339),
		})
		if repo.IsConflict(err) {
			return reject(KindAlreadyStarted, "campaign %s already has a first turn", c.Code)
		}
		if err != nil {
			return fmt.Errorf("insert turn 1: %w", err)
		}
		evt, err := e.eventLog().Append(ctx, tx, events.TurnCreated, c.Code, "turn", fmt.Sprint(turn.ID), actorID, events.EventPayload{
			"turn_index": 1,
			"ends_at":    turn.EndsAt,
		})
		if err != nil {
			return err
		}
		pending = append(pending, evt)
	case err != nil:
		return fmt.Errorf("load turn 1: %w", err)
	}
	if err := e.Repo.SetStartStep(ctx, tx, c.Code, domain.StepResolution, e.stamp()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if repo.IsConflict(err) {
			return reject(KindAlreadyStarted, "campaign %s already has a first turn", c.Code)
		}
		return err
	}
	e.publish(ctx, pending...)
	return nil
}

func (e Engine) startResolutionStep(ctx context.Context, c domain.Campaign, actorID string) error {
	turn, err := e.Repo.GetTurnByIndex(ctx, nil, c.Code, 1)
	if err != nil {
		return fmt.Errorf("load turn 1: %w", err)
	}
	existing, err := e.Repo.CountResolutions(ctx, nil, turn.ID)
	if err != nil {
		return err
	}
	var result narrative.Result[narrative.Scene]
	if existing == 0 {
		members, err := e.roster(ctx, c.Code, true)
		if err != nil {
			return err
		}
		// generation runs outside any transaction; it is the slow step
		result = e.Narrator.Opening(ctx, narrative.OpeningRequest{
			Title:     c.Title,
			Genre:     c.Genre,
			Roster:    members,
			TurnIndex: 1,
		})
		if result.Fallback() {
			e.log().WithError(result.Cause).WithField("code", c.Code).Warn("opening scene fell back to default narrative")
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var pending []domain.Event
	if existing == 0 {
		_, evt, err := e.writeResolution(ctx, tx, c.Code, turn, result, actorID)
		switch {
		case err == nil:
			pending = append(pending, evt)
		case !repo.IsConflict(err):
			return err
		}
	}
	if err := e.Repo.SetStartStep(ctx, tx, c.Code, domain.StepWorld, e.stamp()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(ctx, pending...)
	return nil
}

func (e Engine) startWorldStep(ctx context.Context, c domain.Campaign, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.stamp()
	ws := domain.WorldState{
		CampaignCode: c.Code,
		Facts:        seedFacts(c),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.UpsertWorldState(ctx, tx, ws); err != nil {
		return fmt.Errorf("seed world state: %w", err)
	}
	evt, err := e.eventLog().Append(ctx, tx, events.WorldStateSeeded, c.Code, "world_state", c.Code, actorID, events.EventPayload(ws.Facts))
	if err != nil {
		return err
	}
	if err := e.Repo.SetStartStep(ctx, tx, c.Code, domain.StepActivate, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(ctx, evt)
	return nil
}

func seedFacts(c domain.Campaign) map[string]any {
	return map[string]any{
		"genre": c.Genre,
		"title": c.Title,
		"turn":  1,
	}
}

func (e Engine) startActivateStep(ctx context.Context, c *domain.Campaign, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	evt, err := e.transition(ctx, tx, c, domain.StatusActive, domain.StepNone, actorID)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(ctx, evt)
	e.log().WithField("code", c.Code).Info("campaign active")
	return nil
}

func (e Engine) startResult(ctx context.Context, code string) (StartResult, error) {
	var out StartResult
	c, err := e.loadCampaign(ctx, nil, code)
	if err != nil {
		return out, err
	}
	out.Campaign = c
	if out.Turn, err = e.Repo.GetTurnByIndex(ctx, nil, code, 1); err != nil {
		return out, fmt.Errorf("load turn 1: %w", err)
	}
	if out.Resolution, err = e.Repo.ResolutionForTurn(ctx, nil, out.Turn.ID); err != nil {
		return out, fmt.Errorf("load resolution: %w", err)
	}
	if out.World, err = e.Repo.GetWorldState(ctx, nil, code); err != nil {
		return out, fmt.Errorf("load world state: %w", err)
	}
	return out, nil
}
