package repo

import (
	"context"
	"database/sql"

	"github.com/Charitha2009/chronicle/internal/domain"
)

// UpsertVote keeps one row per (turn, character); the latest hook wins.
func (r Repo) UpsertVote(ctx context.Context, tx *sql.Tx, v domain.Vote) (domain.Vote, error) {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO votes(turn_id,character_id,hook_index,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(turn_id,character_id) DO UPDATE SET hook_index=excluded.hook_index, updated_at=excluded.updated_at`,
		v.TurnID, v.CharacterID, v.HookIndex, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return v, err
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,turn_id,character_id,hook_index,created_at,updated_at FROM votes WHERE turn_id=? AND character_id=?`,
		v.TurnID, v.CharacterID)
	if err != nil {
		return v, err
	}
	return scanOne(rows, scanVote)
}

func scanVote(rows *sql.Rows) (domain.Vote, error) {
	var v domain.Vote
	err := rows.Scan(&v.ID, &v.TurnID, &v.CharacterID, &v.HookIndex, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

// ListVotes returns the turn's votes enriched with the voter's name and archetype.
func (r Repo) ListVotes(ctx context.Context, tx *sql.Tx, turnID int64) ([]domain.Vote, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT v.id,v.turn_id,v.character_id,v.hook_index,v.created_at,v.updated_at,c.name,c.archetype
FROM votes v JOIN characters c ON c.id=v.character_id
WHERE v.turn_id=? ORDER BY v.created_at ASC, v.id ASC`, turnID)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, func(rows *sql.Rows) (domain.Vote, error) {
		var v domain.Vote
		var ch domain.VoteCharacter
		if err := rows.Scan(&v.ID, &v.TurnID, &v.CharacterID, &v.HookIndex, &v.CreatedAt, &v.UpdatedAt, &ch.Name, &ch.Archetype); err != nil {
			return v, err
		}
		v.Character = &ch
		return v, nil
	})
}

// VoteCounts returns a count per hook index present in the turn's votes.
func (r Repo) VoteCounts(ctx context.Context, tx *sql.Tx, turnID int64) (map[int]int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT hook_index, COUNT(1) FROM votes WHERE turn_id=? GROUP BY hook_index`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int]int{}
	for rows.Next() {
		var idx, n int
		if err := rows.Scan(&idx, &n); err != nil {
			return nil, err
		}
		res[idx] = n
	}
	return res, rows.Err()
}
