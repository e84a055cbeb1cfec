package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Charitha2009/chronicle/internal/domain"
)

// Event types appended to the change log.
const (
	CampaignCreated       = "campaign.created"
	CampaignUpdated       = "campaign.updated"
	CampaignStatusChanged = "campaign.status_changed"
	CampaignStartResumed  = "campaign.start_resumed"
	CharacterClaimed      = "character.claimed"
	CharacterUpdated      = "character.updated"
	CharacterLocked       = "character.locked"
	TurnCreated           = "turn.created"
	ResolutionCreated     = "resolution.created"
	WorldStateSeeded      = "world_state.seeded"
	VoteRecorded          = "vote.recorded"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append inserts an event row inside tx (or directly when tx is nil) and
// returns the stored event so callers can publish it after commit.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, campaignCode, entityKind, entityID, actorID string, payload EventPayload) (domain.Event, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	const query = `INSERT INTO events(ts,type,campaign_code,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`
	args := []any{ts, evtType, nullable(campaignCode), entityKind, nullable(entityID), actorID, string(data)}
	var res sql.Result
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = w.DB.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return domain.Event{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		ID:           id,
		TS:           ts,
		Type:         evtType,
		CampaignCode: campaignCode,
		EntityKind:   entityKind,
		EntityID:     entityID,
		ActorID:      actorID,
		Payload:      string(data),
	}, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
