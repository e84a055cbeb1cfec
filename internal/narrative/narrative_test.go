package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	genre GenreSuggestion
	scene Scene
	err   error
	last  ContinuationRequest
}

func (s *stubGenerator) SuggestGenre(context.Context, []Member) (GenreSuggestion, error) {
	return s.genre, s.err
}

func (s *stubGenerator) Opening(context.Context, OpeningRequest) (Scene, error) {
	return s.scene, s.err
}

func (s *stubGenerator) Continuation(_ context.Context, req ContinuationRequest) (Scene, error) {
	s.last = req
	return s.scene, s.err
}

func quietLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	return log, hook
}

func TestUnavailableUsesFallbacks(t *testing.T) {
	n := NewNarrator(nil, nil)
	ctx := context.Background()

	opening := n.Opening(ctx, OpeningRequest{Title: "Test", Genre: "fantasy"})
	require.True(t, opening.Fallback())
	require.ErrorIs(t, opening.Cause, ErrUnavailable)
	assert.Equal(t, FallbackOpening("Test", "fantasy"), opening.Value)
	assert.Len(t, opening.Value.Hooks, 3)
	assert.True(t, strings.HasPrefix(opening.Value.Content, "Welcome to your fantasy adventure: Test!"))

	cont := n.Continuation(ctx, ContinuationRequest{Title: "Test", Genre: "fantasy", TurnIndex: 2})
	require.True(t, cont.Fallback())
	assert.Equal(t, "Turn 2 continuation of Test", cont.Value.MemorySummary)

	genre := n.SuggestGenre(ctx, nil)
	require.True(t, genre.Fallback())
	assert.Equal(t, "adventure", genre.Value.Genre)
	assert.Equal(t, 0.3, genre.Value.Confidence)
}

func TestGeneratorErrorUsesFallback(t *testing.T) {
	log, hook := quietLogger()
	boom := errors.New("timeout")
	n := NewNarrator(&stubGenerator{err: boom}, log)

	res := n.Opening(context.Background(), OpeningRequest{Title: "T", Genre: "horror"})
	require.True(t, res.Fallback())
	require.ErrorIs(t, res.Cause, boom)
	assert.Equal(t, FallbackOpening("T", "horror"), res.Value)
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	genre := n.SuggestGenre(context.Background(), nil)
	assert.Equal(t, 0.5, genre.Value.Confidence)
	assert.Equal(t, "Fallback genre due to AI service error", genre.Value.Reasoning)
}

func TestMalformedSceneUsesFallback(t *testing.T) {
	log, _ := quietLogger()
	n := NewNarrator(&stubGenerator{scene: Scene{Content: "x", Hooks: []string{"a", "b"}}}, log)
	res := n.Continuation(context.Background(), ContinuationRequest{Title: "T", Genre: "mystery", TurnIndex: 3})
	require.True(t, res.Fallback())
	assert.Contains(t, res.Cause.Error(), "2 hooks")
}

func TestGeneratedSceneIsKept(t *testing.T) {
	scene := Scene{Content: " prose ", Hooks: []string{"a", "b", "c"}, MemorySummary: "m"}
	gen := &stubGenerator{scene: scene}
	n := NewNarrator(gen, nil)
	req := ContinuationRequest{Title: "T", Genre: "pirate", TurnIndex: 2, SelectedHook: "b", History: []PriorTurn{{Index: 1, Summary: "s1"}}}
	res := n.Continuation(context.Background(), req)
	require.False(t, res.Fallback())
	require.NoError(t, res.Cause)
	assert.Equal(t, "prose", res.Value.Content)
	assert.Equal(t, "b", gen.last.SelectedHook)
}

func TestGenreOutsideEnumIsRejected(t *testing.T) {
	log, _ := quietLogger()
	n := NewNarrator(&stubGenerator{genre: GenreSuggestion{Genre: "western", Confidence: 0.9}}, log)
	n.ValidGenre = func(g string) bool { return g == "fantasy" }
	res := n.SuggestGenre(context.Background(), nil)
	require.True(t, res.Fallback())
	assert.Equal(t, "adventure", res.Value.Genre)
}

func TestContinuationPromptCarriesHistory(t *testing.T) {
	p := continuationPrompt(ContinuationRequest{
		Title:        "Tides",
		Genre:        "pirate",
		TurnIndex:    3,
		Roster:       []Member{{Name: "Ari", Archetype: "Mage"}},
		History:      []PriorTurn{{Index: 1, Summary: "set sail"}, {Index: 2, Summary: "storm"}},
		SelectedHook: "Board the ship",
	})
	assert.Contains(t, p, "Turn 1: set sail\nTurn 2: storm")
	assert.Contains(t, p, "Players chose: Board the ship")
	assert.Contains(t, p, "Characters: Ari (Mage)")
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON("Sure! {\"a\":1} hope this helps"))
}

func TestOpenAIClientDecodesScene(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		gotModel, _ = req["model"].(string)
		content, _ := json.Marshal(Scene{Content: "The tide turns.", Hooks: []string{"a", "b", "c"}, MemorySummary: "tide"})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-4",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": string(content)},
			}},
		})
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1/", Model: "gpt-4", SceneTemperature: 0.8, SceneMaxTokens: 1000})
	require.NotNil(t, client)
	scene, err := client.Opening(context.Background(), OpeningRequest{Title: "T", Genre: "pirate"})
	require.NoError(t, err)
	assert.Equal(t, "The tide turns.", scene.Content)
	assert.Equal(t, "gpt-4", gotModel)
}

func TestNewOpenAIWithoutKey(t *testing.T) {
	assert.Nil(t, NewOpenAI(OpenAIConfig{}))
}
