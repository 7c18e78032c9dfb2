package server

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jasona/mudforge-sub005/internal/core/event"
	"github.com/jasona/mudforge-sub005/internal/daemon"
	"github.com/jasona/mudforge-sub005/internal/persist"
	"github.com/jasona/mudforge-sub005/internal/world"
)

type mapBlueprints map[string]*world.Blueprint

func (m mapBlueprints) Blueprint(path string) (*world.Blueprint, bool) {
	bp, ok := m[path]
	return bp, ok
}

func TestWorldBridgeSnapshots(t *testing.T) {
	reg := world.NewRegistry(mapBlueprints{
		"/obj/torch": {Path: "/obj/torch", Name: "torch", Short: "A pine torch"},
	}, zap.NewNop())
	b := &worldBridge{reg: reg, bus: event.NewBus()}

	snap, err := b.CloneObject("/obj/torch")
	require.NoError(t, err)
	require.Equal(t, "torch", snap["name"])

	id, _ := snap["id"].(string)
	require.NotEmpty(t, id)
	found, ok := b.FindObject(id)
	require.True(t, ok)
	require.Equal(t, "/obj/torch", found["path"])

	// Snapshots are clones: mutating one never touches the world.
	found["name"] = "mangled"
	again, _ := b.FindObject(id)
	require.Equal(t, "torch", again["name"])

	require.NoError(t, b.Destruct(id))
	_, ok = b.FindObject(id)
	require.False(t, ok)
	require.Error(t, b.Destruct(id))

	_, err = b.CloneObject("/obj/unknown")
	require.Error(t, err)
}

func TestFileBridgePermissions(t *testing.T) {
	store, err := persist.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	f := &fileBridge{store: store, perms: daemon.NewPermissions()}

	// Actor defaults to player level: no writes anywhere.
	require.Error(t, f.WriteFile("/domains/town/sign", "keep out"))

	f.SetActor(world.PermBuilder)
	require.NoError(t, f.WriteFile("/domains/town/sign", "keep out"))
	require.Error(t, f.WriteFile("/lib/core", "nope"), "builders stay inside /domains/")

	f.SetActor(world.PermAdmin)
	require.NoError(t, f.WriteFile("/lib/core", "fine"))

	got, err := f.ReadFile("/domains/town/sign")
	require.NoError(t, err)
	require.Equal(t, "keep out", got)

	// Dot segments collapse before the permission check and the read.
	got, err = f.ReadFile("/domains/town/../town/./sign")
	require.NoError(t, err)
	require.Equal(t, "keep out", got)

	_, err = f.ReadFile("/../escape")
	require.Error(t, err)

	_, err = f.ReadFile("/domains/town/absent")
	require.Error(t, err)
}
