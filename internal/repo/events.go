package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Charitha2009/chronicle/internal/domain"
)

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var e domain.Event
	var campaign, entityID, payload sql.NullString
	if err := rows.Scan(&e.ID, &e.TS, &e.Type, &campaign, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
		return e, err
	}
	e.CampaignCode = campaign.String
	e.EntityID = entityID.String
	e.Payload = payload.String
	return e, nil
}

type EventFilters struct {
	CampaignCode string
	Type         string
	EntityKind   string
	EntityID     string
	// Before pages backwards from an event id.
	Before int64
	Limit  int
}

// LatestEvents returns newest events first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.CampaignCode != "" {
		clauses = append(clauses, "campaign_code=?")
		args = append(args, f.CampaignCode)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,campaign_code,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, normalizeLimit(f.Limit, 50, 200))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanEvent)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, campaignCode string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if campaignCode != "" {
		clauses = append(clauses, "campaign_code=?")
		args = append(args, campaignCode)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,campaign_code,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAll(rows, scanEvent)
}

// LatestEventID returns the most recent event ID, scoped to a campaign when one is given.
func (r Repo) LatestEventID(ctx context.Context, campaignCode string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if campaignCode != "" {
		query += ` WHERE campaign_code=?`
		args = append(args, campaignCode)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
