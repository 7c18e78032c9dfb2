package proto

// Typed payloads for the frames the driver itself emits or consumes.
// Content-facing frames (QUEST, EQUIPMENT, GUI, …) carry free-form maps
// built by their daemons; only driver-owned payloads get structs here.

// TimePayload rides the heartbeat. The data frame exists to satisfy
// intermediaries whose idle timers ignore websocket ping frames.
type TimePayload struct {
	ServerMS    int64  `json:"server_ms"`
	GameVersion string `json:"game_version"`
}

// GameTimePayload is the in-world clock.
type GameTimePayload struct {
	Epoch  int64 `json:"epoch"`
	Day    int   `json:"day"`
	Hour   int   `json:"hour"`
	Minute int   `json:"minute"`
}

// StatsPayload is the player vitals snapshot.
type StatsPayload struct {
	Level              int     `json:"level"`
	HP                 int     `json:"hp"`
	MaxHP              int     `json:"maxHp"`
	MP                 int     `json:"mp"`
	MaxMP              int     `json:"maxMp"`
	XP                 int64   `json:"xp"`
	XPToLevel          int64   `json:"xpToLevel"`
	Gold               int64   `json:"gold"`
	BankedGold         int64   `json:"bankedGold"`
	Avatar             string  `json:"avatar,omitempty"`
	ProfilePortrait    string  `json:"profilePortrait,omitempty"`
	EncumbrancePercent float64 `json:"encumbrancePercent"`
	CarriedWeight      float64 `json:"carriedWeight"`
	MaxCarryWeight     float64 `json:"maxCarryWeight"`
}

// SessionPayload carries a resume token in either direction.
type SessionPayload struct {
	Token string `json:"token"`
}

/// AuthRequest is the inbound AUTH body: name+password, or a bare token.
type AuthRequest struct {
	Name         string `json:"name,omitempty"`
	Password     string `json:"password,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
}

// AuthResult is the outbound AUTH body.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// CommandRequest is the framed form of a command line. A plain text line is
// accepted as the same thing.
type CommandRequest struct {
	Line string `json:"line"`
}

// CommPayload is a channel message.
type CommPayload struct {
	Channel string `json:"channel"`
	From    string `json:"from"`
	Text    string `json:"text"`
}

// CombatPayload is the COMBAT union: kind "target_update" or "target_clear".
type CombatPayload struct {
	Kind     string `json:"kind"`
	TargetID int64  `json:"target_id,omitempty"`
	Name     string `json:"name,omitempty"`
	HP       int    `json:"hp,omitempty"`
	MaxHP    int    `json:"max_hp,omitempty"`
}

// MapPayload is the MAP union: kind ∈ area_change | move | world_data |
// biome_area | biome_world, with a daemon-built body.
type MapPayload struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

// IDERequest is an editor action from a pushed IDE input handler.
type IDERequest struct {
	Action  string `json:"action"` // open | save | close
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// IDESaveResult reports the outcome of an IDE save.
type IDESaveResult struct {
	Path  string `json:"path"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
