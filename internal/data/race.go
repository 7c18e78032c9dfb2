// Package data loads the static content tables (races, object blueprints)
// from YAML files under the data directory.
package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Race holds character-creation data for one playable race. The JSON
// tags shape the /api/races response.
type Race struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	BaseHP      int            `yaml:"base_hp" json:"base_hp"`
	BaseMP      int            `yaml:"base_mp" json:"base_mp"`
	Stats       map[string]int `yaml:"stats" json:"stats,omitempty"` // strength, dexterity, ...
	StartRoom   string         `yaml:"start_room" json:"start_room,omitempty"`
}

type raceListFile struct {
	Races []Race `yaml:"races"`
}

// RaceTable holds all races indexed by id.
type RaceTable struct {
	races map[string]*Race
	order []string
}

// LoadRaceTable loads races from a YAML file.
func LoadRaceTable(path string) (*RaceTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read races: %w", err)
	}
	var f raceListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse races: %w", err)
	}
	t := &RaceTable{races: make(map[string]*Race, len(f.Races))}
	for i := range f.Races {
		r := &f.Races[i]
		if r.ID == "" {
			return nil, fmt.Errorf("races: entry %d missing id", i)
		}
		if _, dup := t.races[r.ID]; dup {
			return nil, fmt.Errorf("races: duplicate id %s", r.ID)
		}
		t.races[r.ID] = r
		t.order = append(t.order, r.ID)
	}
	return t, nil
}

// Get returns the race with the given id.
func (t *RaceTable) Get(id string) (*Race, bool) {
	r, ok := t.races[id]
	return r, ok
}

// All returns the races in file order.
func (t *RaceTable) All() []*Race {
	out := make([]*Race, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.races[id])
	}
	return out
}

// Count returns the race count.
func (t *RaceTable) Count() int { return len(t.races) }
