package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Charitha2009/chronicle/internal/config"
	"github.com/Charitha2009/chronicle/internal/db"
	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine"
	"github.com/Charitha2009/chronicle/internal/engine/auth"
	"github.com/Charitha2009/chronicle/internal/events"
	"github.com/Charitha2009/chronicle/internal/migrate"
	"github.com/Charitha2009/chronicle/internal/narrative"
	"github.com/Charitha2009/chronicle/internal/repo"
)

const (
	host   = "host-1"
	player = "player-1"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	log, _ := test.NewNullLogger()
	eng.Log = log
	eng.Narrator.Log = log
	eng.Now = func() time.Time { return t0 }
	return testEnv{Engine: eng, Ctx: ctx}
}

type stubGenerator struct {
	scene narrative.Scene
	err   error
	calls int
	last  narrative.ContinuationRequest
}

func (s *stubGenerator) SuggestGenre(context.Context, []narrative.Member) (narrative.GenreSuggestion, error) {
	return narrative.GenreSuggestion{Genre: "pirate", Confidence: 0.8, Reasoning: "salty crew"}, s.err
}

func (s *stubGenerator) Opening(context.Context, narrative.OpeningRequest) (narrative.Scene, error) {
	s.calls++
	return s.scene, s.err
}

func (s *stubGenerator) Continuation(_ context.Context, req narrative.ContinuationRequest) (narrative.Scene, error) {
	s.calls++
	s.last = req
	return s.scene, s.err
}

func (env testEnv) createCampaign(t *testing.T) domain.Campaign {
	t.Helper()
	c, err := env.Engine.CreateCampaign(env.Ctx, engine.CreateCampaignOptions{Title: "Test", Genre: "fantasy", MaxPlayers: 4, HostID: host})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

// readyCampaign returns a campaign in character_select with one locked character.
func (env testEnv) readyCampaign(t *testing.T) (domain.Campaign, domain.Character) {
	t.Helper()
	c := env.createCampaign(t)
	if _, err := env.Engine.EnterCharacterSelect(env.Ctx, c.Code, host); err != nil {
		t.Fatalf("enter character select: %v", err)
	}
	ch, err := env.Engine.ClaimCharacter(env.Ctx, engine.ClaimCharacterOptions{CampaignCode: c.Code, Name: "Ari", Archetype: "Mage", UserID: player})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ch, err = env.Engine.LockCharacter(env.Ctx, ch.ID, player); err != nil {
		t.Fatalf("lock: %v", err)
	}
	return c, ch
}

func TestEndToEndScenario(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	if c.Status != domain.StatusLobby || len(c.Code) != 6 {
		t.Fatalf("unexpected campaign %+v", c)
	}
	c, err := env.Engine.EnterCharacterSelect(env.Ctx, c.Code, host)
	if err != nil || c.Status != domain.StatusCharacterSelect {
		t.Fatalf("enter character select: %v %s", err, c.Status)
	}
	ch, err := env.Engine.ClaimCharacter(env.Ctx, engine.ClaimCharacterOptions{CampaignCode: c.Code, Name: "Ari", Archetype: "Mage", UserID: player})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ch.IsLocked {
		t.Fatalf("claimed character must start unlocked")
	}
	ch, err = env.Engine.LockCharacter(env.Ctx, ch.ID, player)
	if err != nil || !ch.IsLocked {
		t.Fatalf("lock: %v", err)
	}
	started, err := env.Engine.Start(env.Ctx, c.Code, host)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Turn.Index != 1 || len(started.Resolution.Hooks) != 3 || started.Campaign.Status != domain.StatusActive {
		t.Fatalf("unexpected start result %+v", started)
	}

	if _, err := env.Engine.RecordVote(env.Ctx, engine.RecordVoteOptions{TurnID: started.Turn.ID, CharacterID: ch.ID, HookIndex: 1, ActorID: player}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	votes, err := env.Engine.ListVotes(env.Ctx, started.Turn.ID)
	if err != nil || len(votes) != 1 || votes[0].HookIndex != 1 {
		t.Fatalf("votes after first: %v %+v", err, votes)
	}
	if _, err := env.Engine.RecordVote(env.Ctx, engine.RecordVoteOptions{TurnID: started.Turn.ID, CharacterID: ch.ID, HookIndex: 2, ActorID: player}); err != nil {
		t.Fatalf("revote: %v", err)
	}
	votes, err = env.Engine.ListVotes(env.Ctx, started.Turn.ID)
	if err != nil || len(votes) != 1 || votes[0].HookIndex != 2 {
		t.Fatalf("votes after second: %v %+v", err, votes)
	}
	if votes[0].Character == nil || votes[0].Character.Name != "Ari" || votes[0].Character.Archetype != "Mage" {
		t.Fatalf("vote not enriched: %+v", votes[0].Character)
	}
}

func TestEnterCharacterSelectRejectsWrongStatus(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	if _, err := env.Engine.EnterCharacterSelect(env.Ctx, c.Code, host); err != nil {
		t.Fatalf("first enter: %v", err)
	}
	_, err := env.Engine.EnterCharacterSelect(env.Ctx, c.Code, host)
	if !engine.IsRejection(err, engine.KindInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
	got, err := env.Engine.GetCampaign(env.Ctx, c.Code)
	if err != nil || got.Status != domain.StatusCharacterSelect {
		t.Fatalf("status changed: %v %s", err, got.Status)
	}
	if _, err := env.Engine.EnterCharacterSelect(env.Ctx, "ZZZZZZ", host); !engine.IsRejection(err, engine.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestHostOnlyTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.EnterCharacterSelect(env.Ctx, c.Code, player); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.EnterCharacterSelect(env.Ctx, c.Code, ""); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.CreateCampaignOptions{
		{Title: "", Genre: "fantasy", HostID: host},
		{Title: "x", Genre: "western", HostID: host},
		{Title: "x", Genre: "fantasy", MaxPlayers: 99, HostID: host},
	}
	for i, opts := range cases {
		if _, err := env.Engine.CreateCampaign(env.Ctx, opts); !engine.IsRejection(err, engine.KindValidation) {
			t.Fatalf("case %d: expected validation rejection, got %v", i, err)
		}
	}
	c, err := env.Engine.CreateCampaign(env.Ctx, engine.CreateCampaignOptions{Title: "Defaults", Genre: "mystery", HostID: host})
	if err != nil || c.MaxPlayers != 6 {
		t.Fatalf("default max players: %v %d", err, c.MaxPlayers)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestCrowdedCodeSpaceHitsPrimaryKey(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Entropy = zeroReader{}
	c := env.createCampaign(t)
	if c.Code != "AAAAAA" {
		t.Fatalf("expected deterministic code, got %s", c.Code)
	}
	_, err := env.Engine.CreateCampaign(env.Ctx, engine.CreateCampaignOptions{Title: "Again", Genre: "fantasy", HostID: host})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected store conflict once the probe budget is spent, got %v", err)
	}
}

func TestStartRejectedWithoutLockedCharacter(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	if _, err := env.Engine.EnterCharacterSelect(env.Ctx, c.Code, host); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := env.Engine.ClaimCharacter(env.Ctx, engine.ClaimCharacterOptions{CampaignCode: c.Code, Name: "Ari", Archetype: "Mage", UserID: player}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := env.Engine.Start(env.Ctx, c.Code, host)
	if !engine.IsRejection(err, engine.KindInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
	n, err := env.Engine.Repo.CountTurns(env.Ctx, nil, c.Code)
	if err != nil || n != 0 {
		t.Fatalf("expected no turns, got %d (%v)", n, err)
	}
	got, _ := env.Engine.GetCampaign(env.Ctx, c.Code)
	if got.Status != domain.StatusCharacterSelect {
		t.Fatalf("status moved to %s", got.Status)
	}
}

func TestStartFromLobbyRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	if _, err := env.Engine.Start(env.Ctx, c.Code, host); !engine.IsRejection(err, engine.KindInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
}

func TestStartWithUnavailableNarratorUsesFallback(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.readyCampaign(t)
	res, err := env.Engine.Start(env.Ctx, c.Code, host)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	want := narrative.FallbackOpening("Test", "fantasy")
	if res.Resolution.Content != want.Content {
		t.Fatalf("unexpected content %q", res.Resolution.Content)
	}
	for i, h := range want.Hooks {
		if res.Resolution.Hooks[i] != h {
			t.Fatalf("hook %d = %q, want %q", i, res.Resolution.Hooks[i], h)
		}
	}
	if res.Resolution.Source != string(narrative.SourceFallback) {
		t.Fatalf("expected fallback source, got %s", res.Resolution.Source)
	}
	if res.Campaign.Status != domain.StatusActive || res.Campaign.StartStep != "" {
		t.Fatalf("campaign not active: %+v", res.Campaign)
	}
	if res.Turn.Summary != want.MemorySummary {
		t.Fatalf("turn summary %q", res.Turn.Summary)
	}
	if res.Turn.EndsAt != t0.Add(60*time.Second).Format(time.RFC3339) {
		t.Fatalf("voting window ends at %s", res.Turn.EndsAt)
	}
	if res.World.Facts["genre"] != "fantasy" || res.World.Facts["title"] != "Test" || res.World.Facts["turn"] != float64(1) {
		t.Fatalf("unexpected world facts %+v", res.World.Facts)
	}
	turns, err := env.Engine.ListTurns(env.Ctx, c.Code)
	if err != nil || len(turns) != 1 || turns[0].Resolution == nil {
		t.Fatalf("expected exactly one turn with resolution: %v %+v", err, turns)
	}
}

func TestStartWithGeneratorFailureUsesFallback(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Narrator.Gen = &stubGenerator{err: errors.New("rate limited")}
	c, _ := env.readyCampaign(t)
	res, err := env.Engine.Start(env.Ctx, c.Code, host)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Resolution.Source != string(narrative.SourceFallback) || res.Campaign.Status != domain.StatusActive {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStartWithGeneratedScene(t *testing.T) {
	env := newTestEnv(t)
	gen := &stubGenerator{scene: narrative.Scene{Content: "Fog rolls in.", Hooks: []string{"a", "b", "c"}, MemorySummary: "fog"}}
	env.Engine.Narrator.Gen = gen
	c, _ := env.readyCampaign(t)
	res, err := env.Engine.Start(env.Ctx, c.Code, host)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Resolution.Content != "Fog rolls in." || res.Resolution.Source != string(narrative.SourceGenerated) || gen.calls != 1 {
		t.Fatalf("unexpected resolution %+v (calls %d)", res.Resolution, gen.calls)
	}
}

func TestStartTwiceIsAlreadyStarted(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.readyCampaign(t)
	if _, err := env.Engine.Start(env.Ctx, c.Code, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.Start(env.Ctx, c.Code, host); !engine.IsRejection(err, engine.KindAlreadyStarted) {
		t.Fatalf("expected already_started, got %v", err)
	}
	n, _ := env.Engine.Repo.CountTurns(env.Ctx, nil, c.Code)
	if n != 1 {
		t.Fatalf("expected one turn, got %d", n)
	}
}

func TestTurnIndexIsUniquePerCampaign(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	turn := domain.Turn{CampaignCode: c.Code, Index: 1, StartsAt: "x", EndsAt: "y", CreatedAt: "z"}
	if _, err := env.Engine.Repo.InsertTurn(env.Ctx, nil, turn); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := env.Engine.Repo.InsertTurn(env.Ctx, nil, turn); !repo.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLockTwiceRejected(t *testing.T) {
	env := newTestEnv(t)
	_, ch := env.readyCampaign(t)
	_, err := env.Engine.LockCharacter(env.Ctx, ch.ID, player)
	if !engine.IsRejection(err, engine.KindAlreadyLocked) {
		t.Fatalf("expected already_locked, got %v", err)
	}
	got, err := env.Engine.GetCharacter(env.Ctx, ch.ID)
	if err != nil || !got.IsLocked {
		t.Fatalf("lock flag toggled: %v %+v", err, got)
	}
}

func TestLockedCharacterIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	_, ch := env.readyCampaign(t)
	name := "Bo"
	if _, err := env.Engine.UpdateCharacter(env.Ctx, engine.UpdateCharacterOptions{ID: ch.ID, Name: &name, ActorID: player}); !engine.IsRejection(err, engine.KindAlreadyLocked) {
		t.Fatalf("expected already_locked, got %v", err)
	}
}

func TestUpdateCharacterBeforeLock(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	ch, err := env.Engine.ClaimCharacter(env.Ctx, engine.ClaimCharacterOptions{CampaignCode: c.Code, Name: "Ari", Archetype: "Mage", UserID: player})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	archetype, avatar := "Rogue", "https://img/ari.png"
	got, err := env.Engine.UpdateCharacter(env.Ctx, engine.UpdateCharacterOptions{ID: ch.ID, Archetype: &archetype, AvatarURL: &avatar, ActorID: player})
	if err != nil || got.Archetype != "Rogue" || got.AvatarURL == nil || *got.AvatarURL != avatar {
		t.Fatalf("update: %v %+v", err, got)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.UpdateCharacter(env.Ctx, engine.UpdateCharacterOptions{ID: ch.ID, Archetype: &archetype, ActorID: "someone"}); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	first, err := env.Engine.ClaimCharacter(env.Ctx, engine.ClaimCharacterOptions{CampaignCode: c.Code, Name: "Ari", Archetype: "Mage", UserID: player})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = env.Engine.ClaimCharacter(env.Ctx, engine.ClaimCharacterOptions{CampaignCode: c.Code, Name: "Ari", Archetype: "Rogue", UserID: "player-2"})
	if !engine.IsRejection(err, engine.KindNameTaken) {
		t.Fatalf("expected name_taken, got %v", err)
	}
	got, err := env.Engine.GetCharacter(env.Ctx, first.ID)
	if err != nil || got.Archetype != "Mage" || got.UserID != player {
		t.Fatalf("first character changed: %v %+v", err, got)
	}
	chars, _ := env.Engine.ListCharacters(env.Ctx, c.Code)
	if len(chars) != 1 {
		t.Fatalf("expected one character, got %d", len(chars))
	}
}

func TestCampaignFull(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.CreateCampaign(env.Ctx, engine.CreateCampaignOptions{Title: "Duo", Genre: "horror", MaxPlayers: 1, HostID: host})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.ClaimCharacter(env.Ctx, engine.ClaimCharacterOptions{CampaignCode: c.Code, Name: "A", Archetype: "x", UserID: player}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = env.Engine.ClaimCharacter(env.Ctx, engine.ClaimCharacterOptions{CampaignCode: c.Code, Name: "B", Archetype: "x", UserID: "player-2"})
	if !engine.IsRejection(err, engine.KindCampaignFull) {
		t.Fatalf("expected campaign_full, got %v", err)
	}
}

func TestVoteValidation(t *testing.T) {
	env := newTestEnv(t)
	c, ch := env.readyCampaign(t)
	res, err := env.Engine.Start(env.Ctx, c.Code, host)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.RecordVote(env.Ctx, engine.RecordVoteOptions{TurnID: res.Turn.ID, CharacterID: ch.ID, HookIndex: 3, ActorID: player}); !engine.IsRejection(err, engine.KindValidation) {
		t.Fatalf("expected validation, got %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.RecordVote(env.Ctx, engine.RecordVoteOptions{TurnID: res.Turn.ID, CharacterID: ch.ID, HookIndex: 0, ActorID: host}); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.RecordVote(env.Ctx, engine.RecordVoteOptions{TurnID: 999, CharacterID: ch.ID, HookIndex: 0, ActorID: player}); !engine.IsRejection(err, engine.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestAdvanceTurnFollowsWinningHook(t *testing.T) {
	env := newTestEnv(t)
	gen := &stubGenerator{scene: narrative.Scene{Content: "Next.", Hooks: []string{"x", "y", "z"}, MemorySummary: "next"}}
	c, ch := env.readyCampaign(t)
	other, err := env.Engine.ClaimCharacter(env.Ctx, engine.ClaimCharacterOptions{CampaignCode: c.Code, Name: "Bo", Archetype: "Rogue", UserID: "player-2"})
	if err != nil {
		t.Fatalf("claim second: %v", err)
	}
	started, err := env.Engine.Start(env.Ctx, c.Code, host)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	env.Engine.Narrator.Gen = gen
	for _, v := range []engine.RecordVoteOptions{
		{TurnID: started.Turn.ID, CharacterID: ch.ID, HookIndex: 2, ActorID: player},
		{TurnID: started.Turn.ID, CharacterID: other.ID, HookIndex: 2, ActorID: "player-2"},
	} {
		if _, err := env.Engine.RecordVote(env.Ctx, v); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	next, err := env.Engine.AdvanceTurn(env.Ctx, c.Code, host)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if next.Turn.Index != 2 || next.SelectedHook != 2 {
		t.Fatalf("unexpected advance %+v", next)
	}
	if gen.last.SelectedHook != started.Resolution.Hooks[2] {
		t.Fatalf("continuation got hook %q", gen.last.SelectedHook)
	}
	if len(gen.last.History) != 1 || gen.last.History[0].Summary != started.Resolution.MemorySummary {
		t.Fatalf("history not passed: %+v", gen.last.History)
	}
	latest, err := env.Engine.LatestTurn(env.Ctx, c.Code)
	if err != nil || latest.Index != 2 || latest.Summary != "next" {
		t.Fatalf("latest turn: %v %+v", err, latest)
	}
}

func TestAdvanceWithoutVotesFallsBackToHookZero(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.readyCampaign(t)
	if _, err := env.Engine.Start(env.Ctx, c.Code, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	next, err := env.Engine.AdvanceTurn(env.Ctx, c.Code, host)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	want := narrative.FallbackContinuation("Test", "fantasy", 2)
	if next.SelectedHook != 0 || next.Resolution.Content != want.Content || next.Turn.Summary != want.MemorySummary {
		t.Fatalf("unexpected advance %+v", next)
	}
}

func TestAdvanceBeforeStartRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	if _, err := env.Engine.AdvanceTurn(env.Ctx, c.Code, host); !engine.IsRejection(err, engine.KindInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
}

func TestTallyTieBreaksLow(t *testing.T) {
	env := newTestEnv(t)
	c, ch := env.readyCampaign(t)
	other, err := env.Engine.ClaimCharacter(env.Ctx, engine.ClaimCharacterOptions{CampaignCode: c.Code, Name: "Bo", Archetype: "Rogue", UserID: "player-2"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	res, err := env.Engine.Start(env.Ctx, c.Code, host)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = env.Engine.RecordVote(env.Ctx, engine.RecordVoteOptions{TurnID: res.Turn.ID, CharacterID: ch.ID, HookIndex: 2, ActorID: player})
	_, _ = env.Engine.RecordVote(env.Ctx, engine.RecordVoteOptions{TurnID: res.Turn.ID, CharacterID: other.ID, HookIndex: 1, ActorID: "player-2"})
	tally, err := env.Engine.Tally(env.Ctx, res.Turn.ID)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.Total != 2 || tally.Leading != 1 || tally.Counts[1] != 1 || tally.Counts[2] != 1 {
		t.Fatalf("unexpected tally %+v", tally)
	}
}

func TestRecoverStalledStart(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.readyCampaign(t)
	// simulate a crash right after the status moved to starting
	ok, err := env.Engine.Repo.TransitionStatus(env.Ctx, nil, c.Code, domain.StatusCharacterSelect, domain.StatusStarting, domain.StepTurn, t0.Format(time.RFC3339))
	if err != nil || !ok {
		t.Fatalf("force starting: %v %v", ok, err)
	}
	if _, err := env.Engine.Start(env.Ctx, c.Code, host); !engine.IsRejection(err, engine.KindAlreadyStarted) {
		t.Fatalf("expected already_started while starting, got %v", err)
	}

	outcomes, err := env.Engine.RecoverStalled(env.Ctx, 2*time.Minute)
	if err != nil || len(outcomes) != 0 {
		t.Fatalf("fresh start must not be recovered: %v %+v", err, outcomes)
	}
	env.Engine.Now = func() time.Time { return t0.Add(10 * time.Minute) }
	outcomes, err = env.Engine.RecoverStalled(env.Ctx, 2*time.Minute)
	if err != nil || len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("recover: %v %+v", err, outcomes)
	}
	got, _ := env.Engine.GetCampaign(env.Ctx, c.Code)
	if got.Status != domain.StatusActive {
		t.Fatalf("expected active after recovery, got %s", got.Status)
	}
	if n, _ := env.Engine.Repo.CountTurns(env.Ctx, nil, c.Code); n != 1 {
		t.Fatalf("expected one turn, got %d", n)
	}
}

func TestResumeSkipsCompletedSteps(t *testing.T) {
	env := newTestEnv(t)
	gen := &stubGenerator{scene: narrative.Scene{Content: "c", Hooks: []string{"a", "b", "c"}, MemorySummary: "m"}}
	env.Engine.Narrator.Gen = gen
	c, _ := env.readyCampaign(t)
	if _, err := env.Engine.Repo.TransitionStatus(env.Ctx, nil, c.Code, domain.StatusCharacterSelect, domain.StatusStarting, domain.StepResolution, t0.Format(time.RFC3339)); err != nil {
		t.Fatalf("force starting: %v", err)
	}
	turn, err := env.Engine.Repo.InsertTurn(env.Ctx, nil, domain.Turn{CampaignCode: c.Code, Index: 1, StartsAt: "s", EndsAt: "e", CreatedAt: "s"})
	if err != nil {
		t.Fatalf("insert turn: %v", err)
	}
	if _, err := env.Engine.Repo.InsertResolution(env.Ctx, nil, domain.Resolution{TurnID: turn.ID, Content: "old", Hooks: []string{"1", "2", "3"}, Source: "generated", CreatedAt: "s"}); err != nil {
		t.Fatalf("insert resolution: %v", err)
	}
	res, err := env.Engine.ResumeStart(env.Ctx, c.Code, host)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if gen.calls != 0 || res.Resolution.Content != "old" || res.Campaign.Status != domain.StatusActive {
		t.Fatalf("resume rewrote finished steps: calls=%d %+v", gen.calls, res)
	}
	if _, err := env.Engine.ResumeStart(env.Ctx, c.Code, host); !engine.IsRejection(err, engine.KindInvalidState) {
		t.Fatalf("expected invalid_state on active campaign, got %v", err)
	}
}

func TestSuggestGenre(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	s, err := env.Engine.SuggestGenre(env.Ctx, c.Code, player)
	if err != nil || !s.Fallback || s.Genre != "adventure" || s.Confidence != 0.3 {
		t.Fatalf("fallback suggestion: %v %+v", err, s)
	}
	env.Engine.Narrator.Gen = &stubGenerator{}
	s, err = env.Engine.SuggestGenre(env.Ctx, c.Code, player)
	if err != nil || s.Fallback || s.Genre != "pirate" {
		t.Fatalf("generated suggestion: %v %+v", err, s)
	}
}

func TestUpdateCampaignBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.readyCampaign(t)
	genre := "pirate"
	got, err := env.Engine.UpdateCampaign(env.Ctx, engine.UpdateCampaignOptions{Code: c.Code, Genre: &genre, ActorID: host})
	if err != nil || got.Genre != "pirate" {
		t.Fatalf("update: %v %+v", err, got)
	}
	if _, err := env.Engine.Start(env.Ctx, c.Code, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.UpdateCampaign(env.Ctx, engine.UpdateCampaignOptions{Code: c.Code, Genre: &genre, ActorID: host}); !engine.IsRejection(err, engine.KindInvalidState) {
		t.Fatalf("expected invalid_state after start, got %v", err)
	}
}

func TestEventsArePublished(t *testing.T) {
	env := newTestEnv(t)
	bus := events.NewMemoryBus()
	env.Engine.Bus = bus
	c := env.createCampaign(t)
	ctx, cancel := context.WithCancel(env.Ctx)
	defer cancel()
	ch, _, err := bus.Subscribe(ctx, c.Code)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := env.Engine.EnterCharacterSelect(env.Ctx, c.Code, host); err != nil {
		t.Fatalf("enter: %v", err)
	}
	select {
	case evt := <-ch:
		if evt.Type != events.CampaignStatusChanged || evt.CampaignCode != c.Code {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event published")
	}
	stored, err := env.Engine.Repo.EventsAfter(env.Ctx, 10, 0, c.Code)
	if err != nil || len(stored) != 2 {
		t.Fatalf("expected 2 stored events, got %d (%v)", len(stored), err)
	}
}

func TestEventsUseEngineClock(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCampaign(t)
	later := t0.Add(3 * time.Hour)
	env.Engine.Now = func() time.Time { return later }
	if _, err := env.Engine.EnterCharacterSelect(env.Ctx, c.Code, host); err != nil {
		t.Fatalf("enter: %v", err)
	}
	stored, err := env.Engine.Repo.EventsAfter(env.Ctx, 10, 0, c.Code)
	if err != nil || len(stored) != 2 {
		t.Fatalf("expected 2 stored events, got %d (%v)", len(stored), err)
	}
	if want := t0.Format(time.RFC3339); stored[0].TS != want {
		t.Fatalf("created event ts %s, want %s", stored[0].TS, want)
	}
	if want := later.Format(time.RFC3339); stored[1].TS != want {
		t.Fatalf("status event ts %s, want %s", stored[1].TS, want)
	}
}
