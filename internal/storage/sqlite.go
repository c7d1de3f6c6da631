//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"roper/internal/profile"

	_ "modernc.org/sqlite"
)

var errSQLitePath = errors.New("sqlite path is required")

// SQLiteStore persists profiles and creature records as versioned JSON blobs.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	if path == "" {
		return nil, errSQLitePath
	}
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errSQLitePath
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, key string, p *profile.Profile) error {
	data, err := EncodeProfile(key, p)
	if err != nil {
		return err
	}
	return s.upsert(ctx, profilesTable, key, data)
}

func (s *SQLiteStore) GetProfile(ctx context.Context, key string) (*profile.Profile, bool, error) {
	data, ok, err := s.lookup(ctx, profilesTable, key)
	if err != nil || !ok {
		return nil, false, err
	}
	record, err := DecodeProfile(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode profile %s: %w", key, err)
	}
	return record.Profile, true, nil
}

func (s *SQLiteStore) SaveCreature(ctx context.Context, record CreatureRecord) error {
	data, err := EncodeCreature(record)
	if err != nil {
		return err
	}
	return s.upsert(ctx, creaturesTable, record.Name, data)
}

func (s *SQLiteStore) GetCreature(ctx context.Context, name string) (CreatureRecord, bool, error) {
	data, ok, err := s.lookup(ctx, creaturesTable, name)
	if err != nil || !ok {
		return CreatureRecord{}, false, err
	}
	record, err := DecodeCreature(data)
	if err != nil {
		return CreatureRecord{}, false, fmt.Errorf("decode creature %s: %w", name, err)
	}
	return record, true, nil
}

// table names a keyed blob table. Both tables share one layout.
type table struct {
	name string
	key  string
}

var (
	profilesTable  = table{name: "profiles", key: "payload_key"}
	creaturesTable = table{name: "creatures", key: "name"}
)

func (s *SQLiteStore) upsert(ctx context.Context, t table, key string, data []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(%[2]s) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, t.name, t.key), key, CurrentSchemaVersion, CurrentCodecVersion, data)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", t.name, key, err)
	}
	return nil
}

func (s *SQLiteStore) lookup(ctx context.Context, t table, key string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	var data []byte
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE %s = ?`, t.name, t.key)
	if err := db.QueryRowContext(ctx, query, key).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load %s %s: %w", t.name, key, err)
	}
	return data, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	for _, t := range []table{profilesTable, creaturesTable} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				%s TEXT PRIMARY KEY,
				schema_version INTEGER NOT NULL,
				codec_version INTEGER NOT NULL,
				payload BLOB NOT NULL
			)`, t.name, t.key)); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
	}
	return nil
}
