package daemon

import (
	"strings"

	"github.com/jasona/mudforge-sub005/internal/persist"
	"github.com/jasona/mudforge-sub005/internal/world"
)

// Permissions is the authority on player levels and script path access.
// The path table maps a level name to the path prefixes it may write;
// read access is open.
type Permissions struct {
	levels map[string]string   // player name → level name
	paths  map[string][]string // level name → writable prefixes
}

func NewPermissions() *Permissions {
	return &Permissions{
		levels: map[string]string{},
		paths: map[string][]string{
			world.PermAdmin.String():         {"/"},
			world.PermSeniorBuilder.String(): {"/domains/", "/lib/"},
			world.PermBuilder.String():       {"/domains/"},
			world.PermPlayer.String():        {},
		},
	}
}

func (p *Permissions) ID() string         { return "permissions" }
func (p *Permissions) ResetOnError() bool { return false }

// Level returns a player's permission level, defaulting to player.
func (p *Permissions) Level(name string) world.PermLevel {
	return world.ParsePermLevel(p.levels[strings.ToLower(name)])
}

// SetLevel records a player's level.
func (p *Permissions) SetLevel(name string, lvl world.PermLevel) {
	p.levels[strings.ToLower(name)] = lvl.String()
}

// CanWrite reports whether a level may write under path. Paths are
// expected pre-normalized.
func (p *Permissions) CanWrite(lvl world.PermLevel, path string) bool {
	for _, prefix := range p.paths[lvl.String()] {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Record flattens to the persistence shape.
func (p *Permissions) Record() *persist.PermissionsRecord {
	levels := make(map[string]string, len(p.levels))
	for k, v := range p.levels {
		levels[k] = v
	}
	paths := make(map[string][]string, len(p.paths))
	for k, v := range p.paths {
		paths[k] = append([]string(nil), v...)
	}
	return &persist.PermissionsRecord{Levels: levels, Paths: paths}
}

// LoadRecord replaces state from the persistence shape. A nil record
// keeps the defaults.
func (p *Permissions) LoadRecord(rec *persist.PermissionsRecord) {
	if rec == nil {
		return
	}
	if rec.Levels != nil {
		p.levels = rec.Levels
	}
	if rec.Paths != nil {
		p.paths = rec.Paths
	}
}

func (p *Permissions) Serialize() map[string]any {
	levels := map[string]any{}
	for k, v := range p.levels {
		levels[k] = v
	}
	paths := map[string]any{}
	for lvl, list := range p.paths {
		vals := make([]any, 0, len(list))
		for _, s := range list {
			vals = append(vals, s)
		}
		paths[lvl] = vals
	}
	return map[string]any{"levels": levels, "paths": paths}
}

func (p *Permissions) Restore(data map[string]any) error {
	if raw, ok := data["levels"].(map[string]any); ok {
		p.levels = map[string]string{}
		for k, v := range raw {
			if s, ok := v.(string); ok {
				p.levels[k] = s
			}
		}
	}
	if raw, ok := data["paths"].(map[string]any); ok {
		p.paths = map[string][]string{}
		for lvl, v := range raw {
			list, _ := v.([]any)
			for _, e := range list {
				if s, ok := e.(string); ok {
					p.paths[lvl] = append(p.paths[lvl], s)
				}
			}
			if p.paths[lvl] == nil {
				p.paths[lvl] = []string{}
			}
		}
	}
	return nil
}
