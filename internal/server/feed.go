package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/repo"
)

const (
	feedKeepAlive   = 15 * time.Second
	feedReplayBatch = 200
)

func (s *server) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/campaigns/{code}/events",
		Summary:     "Campaign event history, newest first",
		Tags:        []string{"events"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Code       string `path:"code"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"campaign,character,turn,resolution,world_state,vote"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		c, err := s.e.GetCampaign(ctx, input.Code)
		if err != nil {
			return nil, s.fail(err)
		}
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := s.e.Repo.LatestEvents(ctx, repo.EventFilters{
			CampaignCode: c.Code,
			Type:         input.Type,
			EntityKind:   input.EntityKind,
			EntityID:     input.EntityID,
			Before:       before,
			Limit:        limit + 1,
		})
		if err != nil {
			return nil, s.fail(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

// feed streams a campaign's events as Server-Sent Events. Stored events after
// the client's cursor are replayed before live delivery starts.
func (s *server) feed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.e.GetCampaign(ctx, chi.URLParam(r, "code"))
	if err != nil {
		respondStatusError(w, s.fail(err))
		return
	}
	after, err := feedCursor(r)
	if err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
		return
	}
	log := s.log.WithFields(logrus.Fields{"code": c.Code, "after": after})

	// subscribe before replaying so nothing committed in between is lost
	var live <-chan domain.Event
	if s.e.Bus != nil {
		ch, cancel, err := s.e.Bus.Subscribe(ctx, c.Code)
		if err != nil {
			respondStatusError(w, s.fail(fmt.Errorf("subscribe feed: %w", err)))
			return
		}
		defer cancel()
		live = ch
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	last := after
	for {
		batch, err := s.e.Repo.EventsAfter(ctx, feedReplayBatch, last, c.Code)
		if err != nil {
			log.WithError(err).Error("replay feed")
			return
		}
		for _, evt := range batch {
			if err := writeSSE(w, evt); err != nil {
				return
			}
			last = evt.ID
		}
		flusher.Flush()
		if len(batch) < feedReplayBatch {
			break
		}
	}
	log.Debug("feed replay done")

	keepAlive := time.NewTicker(feedKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-live:
			if !ok {
				return
			}
			if evt.ID <= last {
				continue
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
			last = evt.ID
			flusher.Flush()
		}
	}
}

func feedCursor(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("after"))
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid event cursor %q", raw)
	}
	return id, nil
}

func writeSSE(w http.ResponseWriter, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, data)
	return err
}
