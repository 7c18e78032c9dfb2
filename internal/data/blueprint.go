package data

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jasona/mudforge-sub005/internal/world"
)

// BlueprintEntry is the YAML shape of one object blueprint: rooms, items,
// NPC templates. The path is the stable content id.
type BlueprintEntry struct {
	Path      string         `yaml:"path"`
	Name      string         `yaml:"name"`
	Short     string         `yaml:"short"`
	Long      string         `yaml:"long"`
	Aliases   []string       `yaml:"aliases"`
	Props     map[string]any `yaml:"props"`
	Weight    int            `yaml:"weight"`
	Heartbeat bool           `yaml:"heartbeat"`

	Container *struct {
		Open     bool `yaml:"open"`
		Locked   bool `yaml:"locked"`
		Capacity int  `yaml:"capacity"`
	} `yaml:"container"`

	Equip *struct {
		Slot string `yaml:"slot"`
	} `yaml:"equip"`
}

type blueprintFile struct {
	Blueprints []BlueprintEntry `yaml:"blueprints"`
}

// BlueprintTable indexes blueprints by path and implements the world's
// blueprint source.
type BlueprintTable struct {
	entries map[string]*world.Blueprint
}

// LoadBlueprintTable loads every *.yaml file under dir into one table.
func LoadBlueprintTable(dir string) (*BlueprintTable, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	t := &BlueprintTable{entries: map[string]*world.Blueprint{}}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read blueprints %s: %w", path, err)
		}
		var f blueprintFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse blueprints %s: %w", path, err)
		}
		for i := range f.Blueprints {
			bp, err := toBlueprint(&f.Blueprints[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if _, dup := t.entries[bp.Path]; dup {
				return nil, fmt.Errorf("%s: duplicate blueprint %s", path, bp.Path)
			}
			t.entries[bp.Path] = bp
		}
	}
	return t, nil
}

func toBlueprint(e *BlueprintEntry) (*world.Blueprint, error) {
	if e.Path == "" {
		return nil, fmt.Errorf("blueprint missing path")
	}
	if e.Name == "" {
		return nil, fmt.Errorf("blueprint %s missing name", e.Path)
	}
	bp := &world.Blueprint{
		Path:      e.Path,
		Name:      e.Name,
		Short:     e.Short,
		Long:      e.Long,
		Aliases:   e.Aliases,
		Props:     e.Props,
		Weight:    e.Weight,
		Heartbeat: e.Heartbeat,
	}
	if e.Container != nil {
		bp.Container = &world.Container{
			Open:     e.Container.Open,
			Locked:   e.Container.Locked,
			Capacity: e.Container.Capacity,
		}
	}
	if e.Equip != nil {
		bp.Equip = &world.Equippable{Slot: e.Equip.Slot}
	}
	return bp, nil
}

// Blueprint implements world.BlueprintSource.
func (t *BlueprintTable) Blueprint(path string) (*world.Blueprint, bool) {
	bp, ok := t.entries[path]
	return bp, ok
}

// Count returns the blueprint count.
func (t *BlueprintTable) Count() int { return len(t.entries) }
