// Package persist is the driver's storage layer. A Store hides whether data
// lives in a directory of JSON files or a remote Postgres instance; both
// backends satisfy the same contract: writes are atomic-visible or fail,
// a successful save is durable before return, reads see the last successful
// write from this process, and no cross-record transactions are promised.
package persist

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnavailable wraps backend failures (I/O, connection loss). The
	// caller decides whether to retry; the store itself never retries.
	ErrUnavailable = errors.New("persist: storage unavailable")
	// ErrConflict is a serialization failure on concurrent writers.
	ErrConflict = errors.New("persist: storage conflict")
	// ErrNotFound is returned by delete operations on absent keys.
	ErrNotFound = errors.New("persist: not found")
)

// PlayerRecord is the persisted form of a player. Payload is the full
// JSON-safe property snapshot built by the world layer.
type PlayerRecord struct {
	Name    string         `json:"name"` // lowercased key
	Payload map[string]any `json:"payload"`
	SavedAt time.Time      `json:"saved_at"`
}

// WorldRecord is the world snapshot.
type WorldRecord struct {
	Payload map[string]any `json:"payload"`
	SavedAt time.Time      `json:"saved_at"`
}

// PermissionsRecord maps player name → permission level name, plus the
// path-access table consulted by script host functions.
type PermissionsRecord struct {
	Levels  map[string]string   `json:"levels"`
	Paths   map[string][]string `json:"paths"` // level → writable path prefixes
	SavedAt time.Time           `json:"saved_at"`
}

// Store is the uniform persistence contract.
type Store interface {
	SavePlayer(ctx context.Context, rec *PlayerRecord) error
	LoadPlayer(ctx context.Context, name string) (*PlayerRecord, error)
	PlayerExists(ctx context.Context, name string) (bool, error)
	ListPlayers(ctx context.Context) ([]string, error)
	DeletePlayer(ctx context.Context, name string) (bool, error)

	SaveWorld(ctx context.Context, rec *WorldRecord) error
	LoadWorld(ctx context.Context) (*WorldRecord, error)

	SavePermissions(ctx context.Context, rec *PermissionsRecord) error
	LoadPermissions(ctx context.Context) (*PermissionsRecord, error)

	SaveData(ctx context.Context, namespace, key string, value any) error
	LoadData(ctx context.Context, namespace, key string) (map[string]any, error)
	DataExists(ctx context.Context, namespace, key string) (bool, error)
	DeleteData(ctx context.Context, namespace, key string) (bool, error)
	ListKeys(ctx context.Context, namespace string) ([]string, error)

	Close()
}

// PlayerKey canonicalizes a player name for storage.
func PlayerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// imageNamespace reports whether a namespace routes to binary object
// storage in remote mode (portraits and other large blobs).
func imageNamespace(ns string) bool {
	return strings.HasPrefix(ns, "images-")
}

// dedicatedTables routes well-known namespaces to their own tables in
// remote mode; everything else lands in the generic game_state table.
var dedicatedTables = map[string]string{
	"bots":          "bots",
	"emotes":        "emotes",
	"lore":          "lore_entries",
	"announcements": "announcements",
	"grudges":       "grudges",
	"portraits":     "portraits",
}
