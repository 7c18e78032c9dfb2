package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

// FileStore is the embedded persistence backend: one JSON document per
// record under a data root. Writes go through renameio (temp file, fsync,
// atomic rename) so a partial record is never observable.
type FileStore struct {
	root string
	log  *zap.Logger

	// Per-key write serialization. Ordering across distinct keys is
	// deliberately unspecified.
	locks sync.Map // string → *sync.Mutex
}

func NewFileStore(root string, log *zap.Logger) (*FileStore, error) {
	for _, dir := range []string{root, filepath.Join(root, "players"), filepath.Join(root, "world"), filepath.Join(root, "permissions")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrUnavailable, dir, err)
		}
	}
	return &FileStore{root: root, log: log}, nil
}

func (s *FileStore) keyLock(path string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// writeJSON marshals v and atomically replaces path with it.
func (s *FileStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	mu := s.keyLock(path)
	mu.Lock()
	defer mu.Unlock()

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("%w: pending %s: %v", ErrUnavailable, path, err)
	}
	defer pending.Cleanup()
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: replace %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

func (s *FileStore) readJSON(path string, v any) (bool, error) {
	mu := s.keyLock(path)
	mu.Lock()
	data, err := os.ReadFile(path)
	mu.Unlock()
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return true, nil
}

// safeName rejects path separators and dot-traversal in keys so a hostile
// key cannot escape the data root.
func safeName(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: unsafe key %q", ErrUnavailable, key)
	}
	return key, nil
}

func (s *FileStore) playerPath(name string) (string, error) {
	key, err := safeName(PlayerKey(name))
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, "players", key+".json"), nil
}

func (s *FileStore) SavePlayer(_ context.Context, rec *PlayerRecord) error {
	path, err := s.playerPath(rec.Name)
	if err != nil {
		return err
	}
	rec.Name = PlayerKey(rec.Name)
	rec.SavedAt = time.Now().UTC()
	return s.writeJSON(path, rec)
}

func (s *FileStore) LoadPlayer(_ context.Context, name string) (*PlayerRecord, error) {
	path, err := s.playerPath(name)
	if err != nil {
		return nil, err
	}
	rec := &PlayerRecord{}
	ok, err := s.readJSON(path, rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) PlayerExists(_ context.Context, name string) (bool, error) {
	path, err := s.playerPath(name)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return false, nil
	}
	if statErr != nil {
		return false, fmt.Errorf("%w: stat %s: %v", ErrUnavailable, path, statErr)
	}
	return true, nil
}

func (s *FileStore) ListPlayers(_ context.Context) ([]string, error) {
	return s.listDir(filepath.Join(s.root, "players"))
}

func (s *FileStore) DeletePlayer(_ context.Context, name string) (bool, error) {
	path, err := s.playerPath(name)
	if err != nil {
		return false, err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: remove %s: %v", ErrUnavailable, path, err)
	}
	return true, nil
}

func (s *FileStore) SaveWorld(_ context.Context, rec *WorldRecord) error {
	rec.SavedAt = time.Now().UTC()
	return s.writeJSON(filepath.Join(s.root, "world", "state.json"), rec)
}

func (s *FileStore) LoadWorld(_ context.Context) (*WorldRecord, error) {
	rec := &WorldRecord{}
	ok, err := s.readJSON(filepath.Join(s.root, "world", "state.json"), rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) SavePermissions(_ context.Context, rec *PermissionsRecord) error {
	rec.SavedAt = time.Now().UTC()
	return s.writeJSON(filepath.Join(s.root, "permissions", "permissions.json"), rec)
}

func (s *FileStore) LoadPermissions(_ context.Context) (*PermissionsRecord, error) {
	rec := &PermissionsRecord{}
	ok, err := s.readJSON(filepath.Join(s.root, "permissions", "permissions.json"), rec)
	if err != nil || !ok {
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) dataPath(namespace, key string) (string, error) {
	ns, err := safeName(namespace)
	if err != nil {
		return "", err
	}
	k, err := safeName(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, ns, k+".json"), nil
}

// blobEnvelope wraps daemon values so scalars round-trip as well as maps.
type blobEnvelope struct {
	Value any `json:"value"`
}

func (s *FileStore) SaveData(_ context.Context, namespace, key string, value any) error {
	path, err := s.dataPath(namespace, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrUnavailable, filepath.Dir(path), err)
	}
	return s.writeJSON(path, blobEnvelope{Value: value})
}

func (s *FileStore) LoadData(_ context.Context, namespace, key string) (map[string]any, error) {
	path, err := s.dataPath(namespace, key)
	if err != nil {
		return nil, err
	}
	env := blobEnvelope{}
	ok, err := s.readJSON(path, &env)
	if err != nil || !ok {
		return nil, err
	}
	if m, ok := env.Value.(map[string]any); ok {
		return m, nil
	}
	// Scalar blobs come back under a conventional key.
	return map[string]any{"value": env.Value}, nil
}

func (s *FileStore) DataExists(_ context.Context, namespace, key string) (bool, error) {
	path, err := s.dataPath(namespace, key)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return false, nil
	}
	if statErr != nil {
		return false, fmt.Errorf("%w: stat %s: %v", ErrUnavailable, path, statErr)
	}
	return true, nil
}

func (s *FileStore) DeleteData(_ context.Context, namespace, key string) (bool, error) {
	path, err := s.dataPath(namespace, key)
	if err != nil {
		return false, err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: remove %s: %v", ErrUnavailable, path, err)
	}
	return true, nil
}

func (s *FileStore) ListKeys(_ context.Context, namespace string) ([]string, error) {
	ns, err := safeName(namespace)
	if err != nil {
		return nil, err
	}
	return s.listDir(filepath.Join(s.root, ns))
}

func (s *FileStore) listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: readdir %s: %v", ErrUnavailable, dir, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ".json"))
	}
	return keys, nil
}

func (s *FileStore) Close() {}
