package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Charitha2009/chronicle/internal/domain"
)

const turnColumns = `id,campaign_code,turn_index,starts_at,ends_at,summary,created_at`

func scanTurn(rows *sql.Rows) (domain.Turn, error) {
	var t domain.Turn
	err := rows.Scan(&t.ID, &t.CampaignCode, &t.Index, &t.StartsAt, &t.EndsAt, &t.Summary, &t.CreatedAt)
	return t, err
}

// InsertTurn relies on UNIQUE(campaign_code, turn_index); a duplicate index
// comes back as ErrConflict.
func (r Repo) InsertTurn(ctx context.Context, tx *sql.Tx, t domain.Turn) (domain.Turn, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO turns(campaign_code,turn_index,starts_at,ends_at,summary,created_at) VALUES (?,?,?,?,?,?)`,
		t.CampaignCode, t.Index, t.StartsAt, t.EndsAt, t.Summary, t.CreatedAt)
	if err != nil {
		return t, classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return t, err
	}
	t.ID = id
	return t, nil
}

func (r Repo) GetTurn(ctx context.Context, tx *sql.Tx, id int64) (domain.Turn, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id=?`, id)
	if err != nil {
		return domain.Turn{}, err
	}
	return scanOne(rows, scanTurn)
}

func (r Repo) GetTurnByIndex(ctx context.Context, tx *sql.Tx, campaignCode string, index int) (domain.Turn, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE campaign_code=? AND turn_index=?`, campaignCode, index)
	if err != nil {
		return domain.Turn{}, err
	}
	return scanOne(rows, scanTurn)
}

func (r Repo) LatestTurn(ctx context.Context, tx *sql.Tx, campaignCode string) (domain.Turn, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE campaign_code=? ORDER BY turn_index DESC LIMIT 1`, campaignCode)
	if err != nil {
		return domain.Turn{}, err
	}
	return scanOne(rows, scanTurn)
}

// MaxTurnIndex returns 0 when the campaign has no turns yet.
func (r Repo) MaxTurnIndex(ctx context.Context, tx *sql.Tx, campaignCode string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(turn_index),0) FROM turns WHERE campaign_code=?`, campaignCode).Scan(&n)
	return n, err
}

func (r Repo) ListTurns(ctx context.Context, tx *sql.Tx, campaignCode string) ([]domain.Turn, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE campaign_code=? ORDER BY turn_index ASC`, campaignCode)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanTurn)
}

func (r Repo) CountTurns(ctx context.Context, tx *sql.Tx, campaignCode string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM turns WHERE campaign_code=?`, campaignCode).Scan(&n)
	return n, err
}

func (r Repo) UpdateTurnSummary(ctx context.Context, tx *sql.Tx, id int64, summary string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE turns SET summary=? WHERE id=?`, summary, id)
	return err
}

const resolutionColumns = `id,turn_id,content,hooks_json,memory_summary,source,created_at`

func scanResolution(rows *sql.Rows) (domain.Resolution, error) {
	var res domain.Resolution
	var hooks string
	if err := rows.Scan(&res.ID, &res.TurnID, &res.Content, &hooks, &res.MemorySummary, &res.Source, &res.CreatedAt); err != nil {
		return res, err
	}
	if err := json.Unmarshal([]byte(hooks), &res.Hooks); err != nil {
		return res, fmt.Errorf("decode hooks for resolution %d: %w", res.ID, err)
	}
	return res, nil
}

func (r Repo) InsertResolution(ctx context.Context, tx *sql.Tx, res domain.Resolution) (domain.Resolution, error) {
	hooks, err := json.Marshal(res.Hooks)
	if err != nil {
		return res, err
	}
	out, err := r.q(tx).ExecContext(ctx, `INSERT INTO resolutions(turn_id,content,hooks_json,memory_summary,source,created_at) VALUES (?,?,?,?,?,?)`,
		res.TurnID, res.Content, string(hooks), res.MemorySummary, res.Source, res.CreatedAt)
	if err != nil {
		return res, classify(err)
	}
	id, err := out.LastInsertId()
	if err != nil {
		return res, err
	}
	res.ID = id
	return res, nil
}

// ResolutionForTurn expects exactly one resolution row for the turn.
func (r Repo) ResolutionForTurn(ctx context.Context, tx *sql.Tx, turnID int64) (domain.Resolution, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+resolutionColumns+` FROM resolutions WHERE turn_id=?`, turnID)
	if err != nil {
		return domain.Resolution{}, err
	}
	return scanOne(rows, scanResolution)
}

func (r Repo) CountResolutions(ctx context.Context, tx *sql.Tx, turnID int64) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM resolutions WHERE turn_id=?`, turnID).Scan(&n)
	return n, err
}

// UpsertWorldState replaces the fact bag for a campaign.
func (r Repo) UpsertWorldState(ctx context.Context, tx *sql.Tx, ws domain.WorldState) error {
	payload, err := json.Marshal(ws.Facts)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO world_states(campaign_code,facts_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(campaign_code) DO UPDATE SET facts_json=excluded.facts_json, updated_at=excluded.updated_at`,
		ws.CampaignCode, string(payload), ws.CreatedAt, ws.UpdatedAt)
	return err
}

func (r Repo) GetWorldState(ctx context.Context, tx *sql.Tx, campaignCode string) (domain.WorldState, error) {
	ws := domain.WorldState{CampaignCode: campaignCode}
	var payload string
	err := r.q(tx).QueryRowContext(ctx, `SELECT facts_json,created_at,updated_at FROM world_states WHERE campaign_code=?`, campaignCode).
		Scan(&payload, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return ws, classify(err)
	}
	if err := json.Unmarshal([]byte(payload), &ws.Facts); err != nil {
		return ws, fmt.Errorf("decode world state %s: %w", campaignCode, err)
	}
	return ws, nil
}
