package tracker

import "github.com/m1ndfucker/autotracker/internal/state"

// Wire message types. All frames are JSON objects with a "type"
// discriminator, prefixed bb- by the tracker server.
const (
	msgAuth       = "bb-auth"
	msgAuthResult = "bb-auth-result"
	msgState      = "bb-state"
	msgError      = "bb-error"
)

type envelope struct {
	Type string `json:"type"`
}

type authMessage struct {
	Type     string `json:"type"`
	Password string `json:"password"`
}

type authResultMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// stateMessage is the authoritative snapshot the server pushes. Pointer
// fields distinguish "absent" from zero so a partial snapshot merges
// only what it carries.
type stateMessage struct {
	Type          string  `json:"type"`
	Deaths        *int    `json:"deaths,omitempty"`
	Elapsed       *int64  `json:"elapsed,omitempty"`
	IsRunning     *bool   `json:"isRunning,omitempty"`
	BossFightMode *bool   `json:"bossFightMode,omitempty"`
	BossDeaths    *int    `json:"bossDeaths,omitempty"`
	BossPaused    *bool   `json:"bossPaused,omitempty"`
	CanEdit       *bool   `json:"canEdit,omitempty"`
	ProfileName   *string `json:"profileName,omitempty"`
	DisplayName   *string `json:"displayName,omitempty"`
}

// patch maps present wire fields onto state keys.
func (m *stateMessage) patch() map[state.Key]any {
	p := make(map[state.Key]any)
	if m.Deaths != nil {
		p[state.KeyDeaths] = *m.Deaths
	}
	if m.Elapsed != nil {
		p[state.KeyElapsed] = *m.Elapsed
	}
	if m.IsRunning != nil {
		p[state.KeyRunning] = *m.IsRunning
	}
	if m.BossFightMode != nil {
		p[state.KeyBossMode] = *m.BossFightMode
	}
	if m.BossDeaths != nil {
		p[state.KeyBossDeaths] = *m.BossDeaths
	}
	if m.BossPaused != nil {
		p[state.KeyBossPaused] = *m.BossPaused
	}
	if m.CanEdit != nil {
		p[state.KeyCanEdit] = *m.CanEdit
	}
	if m.ProfileName != nil {
		p[state.KeyProfile] = *m.ProfileName
	}
	if m.DisplayName != nil {
		p[state.KeyProfileDisplayName] = *m.DisplayName
	}
	return p
}

type commandMessage struct {
	Type string `json:"type"`
}

type bossVictoryMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type setTimeMessage struct {
	Type    string `json:"type"`
	Elapsed int64  `json:"elapsed"`
}

type setDeathsMessage struct {
	Type   string `json:"type"`
	Deaths int    `json:"deaths"`
}
