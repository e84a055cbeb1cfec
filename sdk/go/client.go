package chroniclesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Chronicle HTTP API client.
type Client struct {
	BaseURL string
	// BasePath defaults to /v0.
	BasePath    string
	BearerToken string
	// UserID is sent as X-User-Id; only honored by servers running dev auth.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Campaign struct {
	Code       string `json:"id"`
	Title      string `json:"title"`
	Genre      string `json:"genre"`
	Status     string `json:"status"`
	MaxPlayers int    `json:"max_players"`
	HostUserID string `json:"host_user_id"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type Character struct {
	ID           int64   `json:"id"`
	CampaignCode string  `json:"campaign_id"`
	UserID       string  `json:"user_id"`
	Name         string  `json:"name"`
	Archetype    string  `json:"archetype"`
	AvatarURL    *string `json:"avatar_url"`
	IsLocked     bool    `json:"is_locked"`
}

type Turn struct {
	ID           int64  `json:"id"`
	CampaignCode string `json:"campaign_id"`
	Index        int    `json:"turn_index"`
	StartsAt     string `json:"starts_at"`
	EndsAt       string `json:"ends_at"`
	Summary      string `json:"summary"`
}

type Resolution struct {
	ID            int64    `json:"id"`
	TurnID        int64    `json:"turn_id"`
	Content       string   `json:"content"`
	Hooks         []string `json:"hooks"`
	MemorySummary string   `json:"memory_summary"`
	Source        string   `json:"source"`
}

type Vote struct {
	ID          int64 `json:"id"`
	TurnID      int64 `json:"turn_id"`
	CharacterID int64 `json:"character_id"`
	HookIndex   int   `json:"hook_index"`
	Character   *struct {
		Name      string `json:"name"`
		Archetype string `json:"archetype"`
	} `json:"characters,omitempty"`
}

type Tally struct {
	TurnID  int64 `json:"turn_id"`
	Counts  []int `json:"counts"`
	Total   int   `json:"total"`
	Leading int   `json:"leading"`
}

// StartResult is returned by Start: the active campaign and its first scene.
type StartResult struct {
	Campaign   Campaign   `json:"campaign"`
	Turn       Turn       `json:"turn"`
	Resolution Resolution `json:"resolution"`
}

// TurnResult is returned by Advance.
type TurnResult struct {
	Turn         Turn       `json:"turn"`
	Resolution   Resolution `json:"resolution"`
	SelectedHook int        `json:"selected_hook"`
}

// Event represents a log entry.
type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts"`
	Type         string `json:"type"`
	CampaignCode string `json:"campaign_id"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id"`
	ActorID      string `json:"actor_id"`
	Payload      string `json:"payload_json"`
}

// PaginatedEvents wraps event history with a cursor for the next page.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCampaign creates a campaign hosted by the caller. maxPlayers 0 uses the server default.
func (c *Client) CreateCampaign(ctx context.Context, title, genre string, maxPlayers int) (Campaign, error) {
	body := map[string]any{"title": title, "genre": genre}
	if maxPlayers > 0 {
		body["maxPlayers"] = maxPlayers
	}
	var resp Campaign
	err := c.do(ctx, http.MethodPost, "campaigns", body, &resp)
	return resp, err
}

func (c *Client) GetCampaign(ctx context.Context, code string) (Campaign, error) {
	var resp Campaign
	err := c.do(ctx, http.MethodGet, c.campaignPath(code, ""), nil, &resp)
	return resp, err
}

// EnterCharacterSelect moves a lobby campaign into character selection.
func (c *Client) EnterCharacterSelect(ctx context.Context, code string) (Campaign, error) {
	var resp Campaign
	err := c.do(ctx, http.MethodPost, c.campaignPath(code, "enter-character-select"), nil, &resp)
	return resp, err
}

func (c *Client) Characters(ctx context.Context, code string) ([]Character, error) {
	var resp []Character
	err := c.do(ctx, http.MethodGet, c.campaignPath(code, "characters"), nil, &resp)
	return resp, err
}

// ClaimCharacter claims a character slot for the caller.
func (c *Client) ClaimCharacter(ctx context.Context, code, name, archetype string) (Character, error) {
	body := map[string]any{"campaignId": code, "name": name, "archetype": archetype}
	var resp Character
	err := c.do(ctx, http.MethodPost, "characters/claim", body, &resp)
	return resp, err
}

func (c *Client) LockCharacter(ctx context.Context, id int64) (Character, error) {
	var resp Character
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("characters/%d/lock", id), nil, &resp)
	return resp, err
}

// Start begins the campaign and returns the opening scene.
func (c *Client) Start(ctx context.Context, code string) (StartResult, error) {
	var resp StartResult
	err := c.do(ctx, http.MethodPost, c.campaignPath(code, "start"), nil, &resp)
	return resp, err
}

func (c *Client) LatestTurn(ctx context.Context, code string) (Turn, error) {
	var resp Turn
	err := c.do(ctx, http.MethodGet, c.campaignPath(code, "turn"), nil, &resp)
	return resp, err
}

func (c *Client) Resolution(ctx context.Context, turnID int64) (Resolution, error) {
	var resp Resolution
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("turns/%d/resolution", turnID), nil, &resp)
	return resp, err
}

// Vote records or replaces a character's vote on a turn.
func (c *Client) Vote(ctx context.Context, turnID, characterID int64, hookIndex int) (Vote, error) {
	body := map[string]any{"turnId": turnID, "characterId": characterID, "hookIndex": hookIndex}
	var resp Vote
	err := c.do(ctx, http.MethodPost, "votes", body, &resp)
	return resp, err
}

func (c *Client) Votes(ctx context.Context, turnID int64) ([]Vote, error) {
	var resp []Vote
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("turns/%d/votes", turnID), nil, &resp)
	return resp, err
}

func (c *Client) Tally(ctx context.Context, turnID int64) (Tally, error) {
	var resp Tally
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("turns/%d/tally", turnID), nil, &resp)
	return resp, err
}

// Advance closes the current turn and writes the next one from the winning hook.
func (c *Client) Advance(ctx context.Context, code string) (TurnResult, error) {
	var resp TurnResult
	err := c.do(ctx, http.MethodPost, c.campaignPath(code, "advance"), nil, &resp)
	return resp, err
}

// EventsPage returns campaign history, newest first.
func (c *Client) EventsPage(ctx context.Context, code string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.campaignPath(code, "events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) campaignPath(code, suffix string) string {
	p := "campaigns/" + url.PathEscape(code)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
