package store

import (
	"context"
	"errors"
)

// Table names shared by every RowStore backend.
const (
	TableReminders   = "reminders"
	TableDaily       = "daily_notifications"
	TableSleepChecks = "sleep_checks"
	TableChatTargets = "chat_targets"
	TablePlans       = "scheduled_plans"
)

// ErrUnknownTable is returned for tables or columns outside the schema.
var ErrUnknownTable = errors.New("unknown table")

// Row is one record keyed by column name.
type Row map[string]any

// Filter selects rows by column equality. An empty filter matches nothing.
type Filter map[string]any

// RowStore is the generic persistence contract: fetch a collection, upsert rows
// by a conflict key, delete rows matching a filter.
type RowStore interface {
	FetchAll(ctx context.Context, table string) ([]Row, error)
	Upsert(ctx context.Context, table string, rows []Row, conflictKey string) error
	DeleteWhere(ctx context.Context, table string, f Filter) error
	Close() error
}

// schema lists the columns of every table, used to validate identifiers.
var schema = map[string][]string{
	TableReminders:   {"id", "owner", "date", "time", "message", "repeat", "created_at"},
	TableDaily:       {"owner", "todos", "hour", "minute"},
	TableSleepChecks: {"owner", "hour", "minute", "presence_id"},
	TableChatTargets: {"owner"},
	TablePlans:       {"plan_id", "run_time"},
}

// Columns returns the known columns of table.
func Columns(table string) ([]string, error) {
	cols, ok := schema[table]
	if !ok {
		return nil, ErrUnknownTable
	}
	return cols, nil
}

func hasColumn(table, col string) bool {
	for _, c := range schema[table] {
		if c == col {
			return true
		}
	}
	return false
}
