package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

const schema = `create table if not exists record_lists (
	name text primary key not null,
	data text not null,
	updated_at integer not null
);`

// Store persists flat JSON record lists keyed by a logical name.
type Store struct {
	db *sql.DB
}

// New creates the backing table if it is missing.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// LoadRaw returns the stored JSON of a list, ok is false when it was never saved.
func (s *Store) LoadRaw(ctx context.Context, name string) (data []byte, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, "select data from record_lists where name = ?", name)
	var raw string
	err = row.Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(raw), true, nil
}

// SaveRaw replaces the stored JSON of a list.
func (s *Store) SaveRaw(ctx context.Context, name string, data []byte) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into record_lists (name, data, updated_at) values (?, ?, ?)
		on conflict(name) do update set data = excluded.data, updated_at = excluded.updated_at`,
		name, string(data), time.Now().Unix(),
	)
	return err
}

// Names lists every saved list name in ascending order.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "select name from record_lists")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load decodes the list stored under name, a list that was never saved is empty.
func Load[T any](ctx context.Context, s *Store, name string) ([]T, error) {
	data, ok, err := s.LoadRaw(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if !ok {
		return []T{}, nil
	}
	var out []T
	err = json.Unmarshal(data, &out)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// Save encodes and replaces the list stored under name.
func Save[T any](ctx context.Context, s *Store, name string, records []T) error {
	if records == nil {
		records = []T{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	err = s.SaveRaw(ctx, name, data)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}
