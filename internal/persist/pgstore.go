package persist

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGStore is the remote persistence backend: a pgx pool over Postgres.
// Well-known namespaces route to dedicated tables, `images-*` namespaces
// route payload bytes into object_images with a metadata row, and
// everything else lands in game_state keyed "namespace.key".
type PGStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// PGConfig carries the connection-pool settings.
type PGConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func NewPGStore(ctx context.Context, cfg PGConfig, log *zap.Logger) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	s := &PGStore{pool: pool, log: log}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// wrapPG maps pgx errors onto the store taxonomy. Serialization and unique
// violations become conflicts; everything else is unavailable.
func wrapPG(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (s *PGStore) SavePlayer(ctx context.Context, rec *PlayerRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal player %s: %w", rec.Name, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO players (name, payload, saved_at) VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, saved_at = now()`,
		PlayerKey(rec.Name), payload,
	)
	if err != nil {
		return wrapPG("save player", err)
	}
	return nil
}

func (s *PGStore) LoadPlayer(ctx context.Context, name string) (*PlayerRecord, error) {
	rec := &PlayerRecord{Name: PlayerKey(name)}
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload, saved_at FROM players WHERE name = $1`, rec.Name,
	).Scan(&payload, &rec.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPG("load player", err)
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode player %s: %w", name, err)
	}
	return rec, nil
}

func (s *PGStore) PlayerExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM players WHERE name = $1)`, PlayerKey(name),
	).Scan(&exists)
	if err != nil {
		return false, wrapPG("player exists", err)
	}
	return exists, nil
}

func (s *PGStore) ListPlayers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM players ORDER BY name`)
	if err != nil {
		return nil, wrapPG("list players", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, wrapPG("list players scan", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *PGStore) DeletePlayer(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM players WHERE name = $1`, PlayerKey(name))
	if err != nil {
		return false, wrapPG("delete player", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) SaveWorld(ctx context.Context, rec *WorldRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal world: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO world_state (id, payload, saved_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, saved_at = now()`,
		payload,
	)
	if err != nil {
		return wrapPG("save world", err)
	}
	return nil
}

func (s *PGStore) LoadWorld(ctx context.Context) (*WorldRecord, error) {
	rec := &WorldRecord{}
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload, saved_at FROM world_state WHERE id = 1`,
	).Scan(&payload, &rec.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPG("load world", err)
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode world: %w", err)
	}
	return rec, nil
}

func (s *PGStore) SavePermissions(ctx context.Context, rec *PermissionsRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO permissions (id, payload, saved_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, saved_at = now()`,
		payload,
	)
	if err != nil {
		return wrapPG("save permissions", err)
	}
	return nil
}

func (s *PGStore) LoadPermissions(ctx context.Context) (*PermissionsRecord, error) {
	var payload []byte
	var savedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT payload, saved_at FROM permissions WHERE id = 1`,
	).Scan(&payload, &savedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPG("load permissions", err)
	}
	rec := &PermissionsRecord{}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	rec.SavedAt = savedAt
	return rec, nil
}

func (s *PGStore) SaveData(ctx context.Context, namespace, key string, value any) error {
	if imageNamespace(namespace) {
		return s.saveImage(ctx, namespace, key, value)
	}
	payload, err := json.Marshal(blobEnvelope{Value: value})
	if err != nil {
		return fmt.Errorf("marshal %s.%s: %w", namespace, key, err)
	}
	if table, ok := dedicatedTables[namespace]; ok {
		_, err = s.pool.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (key, payload, saved_at) VALUES ($1, $2, now())
			 ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, saved_at = now()`, table),
			key, payload,
		)
	} else {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO game_state (state_key, payload, saved_at) VALUES ($1, $2, now())
			 ON CONFLICT (state_key) DO UPDATE SET payload = EXCLUDED.payload, saved_at = now()`,
			namespace+"."+key, payload,
		)
	}
	if err != nil {
		return wrapPG("save data "+namespace, err)
	}
	return nil
}

// saveImage stores binary payloads in object_images with a metadata row.
// The value must be a base64 string or raw bytes under the "bytes" key.
func (s *PGStore) saveImage(ctx context.Context, namespace, key string, value any) error {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("image %s.%s: not base64: %w", namespace, key, err)
		}
		data = decoded
	case map[string]any:
		enc, _ := v["bytes"].(string)
		decoded, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return fmt.Errorf("image %s.%s: not base64: %w", namespace, key, err)
		}
		data = decoded
	default:
		return fmt.Errorf("image %s.%s: unsupported payload %T", namespace, key, value)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO object_images (namespace, key, bytes, size, saved_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (namespace, key) DO UPDATE
		 SET bytes = EXCLUDED.bytes, size = EXCLUDED.size, saved_at = now()`,
		namespace, key, data, len(data),
	)
	if err != nil {
		return wrapPG("save image", err)
	}
	return nil
}

func (s *PGStore) LoadData(ctx context.Context, namespace, key string) (map[string]any, error) {
	if imageNamespace(namespace) {
		var data []byte
		err := s.pool.QueryRow(ctx,
			`SELECT bytes FROM object_images WHERE namespace = $1 AND key = $2`,
			namespace, key,
		).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, wrapPG("load image", err)
		}
		return map[string]any{"bytes": base64.StdEncoding.EncodeToString(data)}, nil
	}

	var payload []byte
	var err error
	if table, ok := dedicatedTables[namespace]; ok {
		err = s.pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT payload FROM %s WHERE key = $1`, table), key,
		).Scan(&payload)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT payload FROM game_state WHERE state_key = $1`, namespace+"."+key,
		).Scan(&payload)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPG("load data "+namespace, err)
	}
	env := blobEnvelope{}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode %s.%s: %w", namespace, key, err)
	}
	if m, ok := env.Value.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"value": env.Value}, nil
}

func (s *PGStore) DataExists(ctx context.Context, namespace, key string) (bool, error) {
	var exists bool
	var err error
	switch {
	case imageNamespace(namespace):
		err = s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM object_images WHERE namespace = $1 AND key = $2)`,
			namespace, key).Scan(&exists)
	default:
		if table, ok := dedicatedTables[namespace]; ok {
			err = s.pool.QueryRow(ctx,
				fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE key = $1)`, table), key).Scan(&exists)
		} else {
			err = s.pool.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM game_state WHERE state_key = $1)`,
				namespace+"."+key).Scan(&exists)
		}
	}
	if err != nil {
		return false, wrapPG("data exists", err)
	}
	return exists, nil
}

func (s *PGStore) DeleteData(ctx context.Context, namespace, key string) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	switch {
	case imageNamespace(namespace):
		tag, err = s.pool.Exec(ctx,
			`DELETE FROM object_images WHERE namespace = $1 AND key = $2`, namespace, key)
	default:
		if table, ok := dedicatedTables[namespace]; ok {
			tag, err = s.pool.Exec(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, table), key)
		} else {
			tag, err = s.pool.Exec(ctx,
				`DELETE FROM game_state WHERE state_key = $1`, namespace+"."+key)
		}
	}
	if err != nil {
		return false, wrapPG("delete data", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) ListKeys(ctx context.Context, namespace string) ([]string, error) {
	var rows pgx.Rows
	var err error
	switch {
	case imageNamespace(namespace):
		rows, err = s.pool.Query(ctx,
			`SELECT key FROM object_images WHERE namespace = $1 ORDER BY key`, namespace)
	default:
		if table, ok := dedicatedTables[namespace]; ok {
			rows, err = s.pool.Query(ctx,
				fmt.Sprintf(`SELECT key FROM %s ORDER BY key`, table))
		} else {
			rows, err = s.pool.Query(ctx,
				`SELECT state_key FROM game_state WHERE state_key LIKE $1 ORDER BY state_key`,
				namespace+".%")
		}
	}
	if err != nil {
		return nil, wrapPG("list keys "+namespace, err)
	}
	defer rows.Close()

	prefix := namespace + "."
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrapPG("list keys scan", err)
		}
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			k = k[len(prefix):]
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PGStore) Close() {
	s.pool.Close()
}
