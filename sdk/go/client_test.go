package chroniclesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chroniclesdk "github.com/Charitha2009/chronicle/sdk/go"

	"github.com/Charitha2009/chronicle/internal/config"
	"github.com/Charitha2009/chronicle/internal/db"
	"github.com/Charitha2009/chronicle/internal/engine"
	"github.com/Charitha2009/chronicle/internal/events"
	"github.com/Charitha2009/chronicle/internal/migrate"
	"github.com/Charitha2009/chronicle/internal/server"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))

	log, _ := test.NewNullLogger()
	e := engine.New(conn, config.Default())
	e.Log = log
	e.Narrator.Log = log
	e.Bus = events.NewMemoryBus()
	handler, err := server.New(server.Config{
		Engine: e,
		Auth:   server.AuthConfig{JWTSecret: "sdk-secret", DevMode: true},
		Log:    log,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server, userID string) *chroniclesdk.Client {
	c := chroniclesdk.New(srv.URL)
	c.UserID = userID
	c.HTTPClient = srv.Client()
	return c
}

func TestCampaignFlow(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	host := newClient(srv, "host")
	player := newClient(srv, "player")

	c, err := host.CreateCampaign(ctx, "Sunken Crown", "pirate", 4)
	require.NoError(t, err)
	assert.Equal(t, "lobby", c.Status)
	assert.Len(t, c.Code, 6)

	c, err = host.EnterCharacterSelect(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, "character_select", c.Status)

	ch, err := player.ClaimCharacter(ctx, c.Code, "Ari", "Mage")
	require.NoError(t, err)
	ch, err = player.LockCharacter(ctx, ch.ID)
	require.NoError(t, err)
	assert.True(t, ch.IsLocked)

	roster, err := host.Characters(ctx, c.Code)
	require.NoError(t, err)
	require.Len(t, roster, 1)

	started, err := host.Start(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, "active", started.Campaign.Status)
	assert.Equal(t, 1, started.Turn.Index)
	assert.Len(t, started.Resolution.Hooks, 3)

	turn, err := player.LatestTurn(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, started.Turn.ID, turn.ID)

	res, err := player.Resolution(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Source)

	_, err = player.Vote(ctx, turn.ID, ch.ID, 1)
	require.NoError(t, err)
	_, err = player.Vote(ctx, turn.ID, ch.ID, 2)
	require.NoError(t, err)

	votes, err := host.Votes(ctx, turn.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, 2, votes[0].HookIndex)
	require.NotNil(t, votes[0].Character)
	assert.Equal(t, "Ari", votes[0].Character.Name)

	tally, err := host.Tally(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, tally.Leading)
	assert.Equal(t, 1, tally.Total)

	next, err := host.Advance(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Turn.Index)
	assert.Equal(t, 2, next.SelectedHook)

	page, err := host.EventsPage(ctx, c.Code, 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
	older, err := host.EventsPage(ctx, c.Code, 2, page.NextCursor)
	require.NoError(t, err)
	require.NotEmpty(t, older.Items)
	assert.Less(t, older.Items[0].ID, page.Items[len(page.Items)-1].ID)
}

func TestErrorsCarryEnvelopeCode(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	_, err := newClient(srv, "host").GetCampaign(ctx, "ZZZZZZ")
	var apiErr *chroniclesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	_, err = newClient(srv, "").CreateCampaign(ctx, "Nobody", "fantasy", 0)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestNonEnvelopeErrorKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/campaigns/ABCDEF", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := chroniclesdk.New(srv.URL + "/")
	c.BearerToken = "tok"
	_, err := c.GetCampaign(context.Background(), "ABCDEF")
	var apiErr *chroniclesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.Contains(t, apiErr.Body, "upstream down")
}
