package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Charitha2009/chronicle/internal/domain"
)

const characterColumns = `id,campaign_code,user_id,name,archetype,avatar_url,is_locked,created_at,updated_at`

func scanCharacter(rows *sql.Rows) (domain.Character, error) {
	var c domain.Character
	var avatar sql.NullString
	var locked int
	if err := rows.Scan(&c.ID, &c.CampaignCode, &c.UserID, &c.Name, &c.Archetype, &avatar, &locked, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	if avatar.Valid {
		v := avatar.String
		c.AvatarURL = &v
	}
	c.IsLocked = locked != 0
	return c, nil
}

// InsertCharacter stores c and returns it with its assigned id.
func (r Repo) InsertCharacter(ctx context.Context, tx *sql.Tx, c domain.Character) (domain.Character, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO characters(campaign_code,user_id,name,archetype,avatar_url,is_locked,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.CampaignCode, c.UserID, c.Name, c.Archetype, nullableStringPtr(c.AvatarURL), boolInt(c.IsLocked), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return c, classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return c, err
	}
	c.ID = id
	return c, nil
}

func (r Repo) GetCharacter(ctx context.Context, tx *sql.Tx, id int64) (domain.Character, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+characterColumns+` FROM characters WHERE id=?`, id)
	if err != nil {
		return domain.Character{}, err
	}
	return scanOne(rows, scanCharacter)
}

// CharacterNameTaken checks the per-campaign name uniqueness before insert.
func (r Repo) CharacterNameTaken(ctx context.Context, tx *sql.Tx, campaignCode, name string, exceptID int64) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM characters WHERE campaign_code=? AND name=? AND id<>?`, campaignCode, name, exceptID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type CharacterFilters struct {
	CampaignCode string
	LockedOnly   bool
	UserID       string
}

func (r Repo) ListCharacters(ctx context.Context, tx *sql.Tx, f CharacterFilters) ([]domain.Character, error) {
	clauses := []string{"campaign_code=?"}
	args := []any{f.CampaignCode}
	if f.LockedOnly {
		clauses = append(clauses, "is_locked=1")
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	query := fmt.Sprintf(`SELECT %s FROM characters WHERE %s ORDER BY created_at ASC, id ASC`, characterColumns, strings.Join(clauses, " AND "))
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanCharacter)
}

func (r Repo) CountCharacters(ctx context.Context, tx *sql.Tx, campaignCode string, lockedOnly bool) (int, error) {
	query := `SELECT COUNT(1) FROM characters WHERE campaign_code=?`
	if lockedOnly {
		query += ` AND is_locked=1`
	}
	var n int
	if err := r.q(tx).QueryRowContext(ctx, query, campaignCode).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// UpdateCharacter rewrites presentation fields of an unlocked character.
func (r Repo) UpdateCharacter(ctx context.Context, tx *sql.Tx, c domain.Character) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE characters SET name=?, archetype=?, avatar_url=?, updated_at=? WHERE id=? AND is_locked=0`,
		c.Name, c.Archetype, nullableStringPtr(c.AvatarURL), c.UpdatedAt, c.ID)
	if err != nil {
		return classify(err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LockCharacter flips the lock flag once; it reports false when already locked.
func (r Repo) LockCharacter(ctx context.Context, tx *sql.Tx, id int64, updatedAt string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE characters SET is_locked=1, updated_at=? WHERE id=? AND is_locked=0`, updatedAt, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
