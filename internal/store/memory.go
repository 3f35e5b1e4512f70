package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a RowStore kept in process memory. Nothing survives a restart;
// it backs tests and the "memory" backend.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row

	// FailWrites makes Upsert and DeleteWhere return this error when set.
	FailWrites error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]Row)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) FetchAll(_ context.Context, table string) ([]Row, error) {
	if _, err := Columns(table); err != nil {
		return nil, fmt.Errorf("%w: %s", err, table)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]Row, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		res = append(res, copyRow(r))
	}
	return res, nil
}

func (s *MemoryStore) Upsert(_ context.Context, table string, rows []Row, conflictKey string) error {
	if len(rows) == 0 {
		return nil
	}
	if _, err := Columns(table); err != nil {
		return fmt.Errorf("%w: %s", err, table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}

	for _, r := range rows {
		key, ok := r[conflictKey]
		if !ok {
			return fmt.Errorf("row missing conflict key %s", conflictKey)
		}
		replaced := false
		for i, existing := range s.tables[table] {
			if fmt.Sprint(existing[conflictKey]) == fmt.Sprint(key) {
				merged := copyRow(existing)
				for k, v := range r {
					merged[k] = v
				}
				s.tables[table][i] = merged
				replaced = true
				break
			}
		}
		if !replaced {
			s.tables[table] = append(s.tables[table], copyRow(r))
		}
	}
	return nil
}

func (s *MemoryStore) DeleteWhere(_ context.Context, table string, f Filter) error {
	if len(f) == 0 {
		return nil
	}
	if _, err := Columns(table); err != nil {
		return fmt.Errorf("%w: %s", err, table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}

	kept := s.tables[table][:0]
	for _, r := range s.tables[table] {
		if !matches(r, f) {
			kept = append(kept, r)
		}
	}
	s.tables[table] = kept
	return nil
}

// SetFailWrites toggles write failures under the store lock.
func (s *MemoryStore) SetFailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailWrites = err
}

func matches(r Row, f Filter) bool {
	for k, v := range f {
		if fmt.Sprint(r[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func copyRow(r Row) Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
