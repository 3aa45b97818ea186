package prefs

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend persists values in a single SQLite table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteBackend{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteBackend) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS prefs (
			key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			value TEXT NOT NULL
		);
	`)
	return err
}

func (s *SQLiteBackend) Get(key string) (any, bool, error) {
	var kind, raw string
	err := s.db.QueryRow(`SELECT kind, value FROM prefs WHERE key = ?`, key).Scan(&kind, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := decode(kind, raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *SQLiteBackend) Set(key string, value any) error {
	kind, raw, err := encode(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO prefs (key, kind, value) VALUES (?, ?, ?)`, key, kind, raw)
	return err
}

func (s *SQLiteBackend) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM prefs WHERE key = ?`, key)
	return err
}

func (s *SQLiteBackend) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM prefs WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteBackend) DeletePrefix(prefix string) error {
	_, err := s.db.Exec(`DELETE FROM prefs WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	return err
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func encode(v any) (string, string, error) {
	switch x := v.(type) {
	case string:
		return "s", x, nil
	case bool:
		return "b", strconv.FormatBool(x), nil
	case int32:
		return "i", strconv.FormatInt(int64(x), 10), nil
	}
	return "", "", fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func decode(kind, raw string) (any, error) {
	switch kind {
	case "s":
		return raw, nil
	case "b":
		return strconv.ParseBool(raw)
	case "i":
		n, err := strconv.ParseInt(raw, 10, 32)
		return int32(n), err
	}
	return nil, fmt.Errorf("prefs: unknown stored kind %q", kind)
}
