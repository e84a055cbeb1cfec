package domain

// Campaign statuses, in lifecycle order.
const (
	StatusLobby           = "lobby"
	StatusCharacterSelect = "character_select"
	StatusStarting        = "starting"
	StatusActive          = "active"
	StatusEnded           = "ended"
)

// Start saga markers stored on campaigns.start_step.
const (
	StepNone       = ""
	StepTurn       = "turn"
	StepResolution = "resolution"
	StepWorld      = "world"
	StepActivate   = "activate"
)

// HookCount is the number of choice hooks every resolution carries.
const HookCount = 3

// Genres is the closed set of campaign genres.
var Genres = []string{
	"dark_fantasy",
	"space_opera",
	"mystery",
	"post_apoc",
	"pirate",
	"fantasy",
	"scifi",
	"horror",
	"adventure",
	"romance",
}

func ValidGenre(g string) bool {
	for _, v := range Genres {
		if v == g {
			return true
		}
	}
	return false
}

// StatusRank orders statuses so transitions can be checked as forward-only.
func StatusRank(status string) int {
	switch status {
	case StatusLobby:
		return 0
	case StatusCharacterSelect:
		return 1
	case StatusStarting:
		return 2
	case StatusActive:
		return 3
	case StatusEnded:
		return 4
	default:
		return -1
	}
}

type Campaign struct {
	Code       string `json:"id"`
	Title      string `json:"title"`
	Genre      string `json:"genre" enum:"dark_fantasy,space_opera,mystery,post_apoc,pirate,fantasy,scifi,horror,adventure,romance"`
	Status     string `json:"status" enum:"lobby,character_select,starting,active,ended"`
	MaxPlayers int    `json:"max_players"`
	HostUserID string `json:"host_user_id"`
	StartStep  string `json:"start_step,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type Character struct {
	ID           int64   `json:"id"`
	CampaignCode string  `json:"campaign_id"`
	UserID       string  `json:"user_id"`
	Name         string  `json:"name"`
	Archetype    string  `json:"archetype"`
	AvatarURL    *string `json:"avatar_url"`
	IsLocked     bool    `json:"is_locked"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Turn struct {
	ID           int64  `json:"id"`
	CampaignCode string `json:"campaign_id"`
	Index        int    `json:"turn_index"`
	StartsAt     string `json:"starts_at" format:"date-time"`
	EndsAt       string `json:"ends_at" format:"date-time"`
	Summary      string `json:"summary"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Resolution struct {
	ID            int64    `json:"id"`
	TurnID        int64    `json:"turn_id"`
	Content       string   `json:"content"`
	Hooks         []string `json:"hooks"`
	MemorySummary string   `json:"memory_summary"`
	Source        string   `json:"source" enum:"generated,fallback"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
}

// VoteCharacter is the presentation enrichment attached to listed votes.
type VoteCharacter struct {
	Name      string `json:"name"`
	Archetype string `json:"archetype"`
}

type Vote struct {
	ID          int64          `json:"id"`
	TurnID      int64          `json:"turn_id"`
	CharacterID int64          `json:"character_id"`
	HookIndex   int            `json:"hook_index"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
	Character   *VoteCharacter `json:"characters,omitempty"`
}

type WorldState struct {
	CampaignCode string         `json:"campaign_id"`
	Facts        map[string]any `json:"facts"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

// TurnScene bundles a turn with its resolution for history reads.
type TurnScene struct {
	Turn       Turn        `json:"turn"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

type Tally struct {
	TurnID  int64 `json:"turn_id"`
	Counts  []int `json:"counts"`
	Total   int   `json:"total"`
	Leading int   `json:"leading"`
}

type GenreSuggestion struct {
	Genre      string  `json:"genre"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Fallback   bool    `json:"fallback"`
}

type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type"`
	CampaignCode string `json:"campaign_id,omitempty"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id,omitempty"`
	ActorID      string `json:"actor_id"`
	Payload      string `json:"payload_json"`
}
