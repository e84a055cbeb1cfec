package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Charitha2009/chronicle/internal/domain"
)

const campaignColumns = `code,title,genre,status,max_players,host_user_id,start_step,created_at,updated_at`

func scanCampaign(rows *sql.Rows) (domain.Campaign, error) {
	var c domain.Campaign
	err := rows.Scan(&c.Code, &c.Title, &c.Genre, &c.Status, &c.MaxPlayers, &c.HostUserID, &c.StartStep, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r Repo) InsertCampaign(ctx context.Context, tx *sql.Tx, c domain.Campaign) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO campaigns(`+campaignColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.Code, c.Title, c.Genre, c.Status, c.MaxPlayers, c.HostUserID, c.StartStep, c.CreatedAt, c.UpdatedAt)
	return classify(err)
}

func (r Repo) GetCampaign(ctx context.Context, tx *sql.Tx, code string) (domain.Campaign, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE code=?`, code)
	if err != nil {
		return domain.Campaign{}, err
	}
	return scanOne(rows, scanCampaign)
}

// CampaignExists is the lookup the code prober uses.
func (r Repo) CampaignExists(ctx context.Context, code string) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM campaigns WHERE code=?`, code).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

type CampaignFilters struct {
	Status string
	HostID string
	Limit  int
}

func (r Repo) ListCampaigns(ctx context.Context, f CampaignFilters) ([]domain.Campaign, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.HostID != "" {
		clauses = append(clauses, "host_user_id=?")
		args = append(args, f.HostID)
	}
	args = append(args, normalizeLimit(f.Limit, 50, 200))
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE %s ORDER BY created_at DESC, code ASC LIMIT ?`, campaignColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanCampaign)
}

// UpdateCampaignDetails rewrites title and genre; empty values are left alone.
func (r Repo) UpdateCampaignDetails(ctx context.Context, tx *sql.Tx, code, title, genre, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if title != "" {
		fields = append(fields, "title=?")
		args = append(args, title)
	}
	if genre != "" {
		fields = append(fields, "genre=?")
		args = append(args, genre)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, code)
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE campaigns SET %s WHERE code=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionStatus moves the campaign from one status to another only if it
// is still in the expected status. It reports whether the row was changed.
func (r Repo) TransitionStatus(ctx context.Context, tx *sql.Tx, code, from, to, step, updatedAt string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE campaigns SET status=?, start_step=?, updated_at=? WHERE code=? AND status=?`,
		to, step, updatedAt, code, from)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SetStartStep persists the next pending step of the start saga.
func (r Repo) SetStartStep(ctx context.Context, tx *sql.Tx, code, step, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE campaigns SET start_step=?, updated_at=? WHERE code=? AND status=?`,
		step, updatedAt, code, domain.StatusStarting)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, err := r.GetCampaign(ctx, tx, code); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("campaign %s is no longer starting", code)
	}
	return nil
}

// StalledCampaigns lists campaigns in status whose last update is before cutoff.
func (r Repo) StalledCampaigns(ctx context.Context, status, cutoff string) ([]domain.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status=? AND updated_at<? ORDER BY updated_at ASC`, status, cutoff)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanCampaign)
}

func (r Repo) CountCampaignsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(1) FROM campaigns GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}
