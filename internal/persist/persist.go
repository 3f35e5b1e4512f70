// Package persist maps domain collections onto store rows.
//
// Every write is a per-row upsert keyed by a stable identifier, or a delete by that
// identifier. Nothing here deletes a whole collection before re-inserting it.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ykvlv/companion-bot/internal/domain"
	"github.com/ykvlv/companion-bot/internal/store"
)

// Adapter loads and saves domain entities through a RowStore.
type Adapter struct {
	rows store.RowStore
	loc  *time.Location
	log  *zap.Logger
}

// New creates an Adapter. Plan marker instants are written in loc.
func New(rows store.RowStore, loc *time.Location, log *zap.Logger) *Adapter {
	return &Adapter{rows: rows, loc: loc, log: log}
}

// --- Reminders ---

func (a *Adapter) LoadReminders(ctx context.Context) ([]domain.Reminder, error) {
	rows, err := a.rows.FetchAll(ctx, store.TableReminders)
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	res := make([]domain.Reminder, 0, len(rows))
	for _, r := range rows {
		rem, err := reminderFromRow(r)
		if err != nil {
			a.log.Warn("skip malformed reminder row", zap.Any("id", r["id"]), zap.Error(err))
			continue
		}
		res = append(res, rem)
	}
	return res, nil
}

func (a *Adapter) SaveReminder(ctx context.Context, r domain.Reminder) error {
	return a.SaveReminders(ctx, []domain.Reminder{r})
}

func (a *Adapter) SaveReminders(ctx context.Context, rs []domain.Reminder) error {
	rows := make([]store.Row, len(rs))
	for i, r := range rs {
		rows[i] = reminderRow(r)
	}
	if err := a.rows.Upsert(ctx, store.TableReminders, rows, "id"); err != nil {
		return fmt.Errorf("save reminders: %w", err)
	}
	return nil
}

// HasReminder reports whether the store still holds a reminder row with id.
func (a *Adapter) HasReminder(ctx context.Context, id string) (bool, error) {
	rows, err := a.rows.FetchAll(ctx, store.TableReminders)
	if err != nil {
		return false, fmt.Errorf("load reminders: %w", err)
	}
	for _, r := range rows {
		if asString(r["id"]) == id {
			return true, nil
		}
	}
	return false, nil
}

func (a *Adapter) DeleteReminder(ctx context.Context, id string) error {
	if err := a.rows.DeleteWhere(ctx, store.TableReminders, store.Filter{"id": id}); err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	return nil
}

func reminderRow(r domain.Reminder) store.Row {
	return store.Row{
		"id":         r.ID,
		"owner":      r.Owner,
		"date":       r.Date.String(),
		"time":       r.Time.String(),
		"message":    r.Message,
		"repeat":     r.Repeat,
		"created_at": r.CreatedAt.Unix(),
	}
}

func reminderFromRow(r store.Row) (domain.Reminder, error) {
	id := asString(r["id"])
	if id == "" {
		return domain.Reminder{}, fmt.Errorf("empty id")
	}
	md, err := domain.ParseMonthDay(asString(r["date"]))
	if err != nil {
		return domain.Reminder{}, err
	}
	tod, err := domain.ParseTimeOfDay(asString(r["time"]))
	if err != nil {
		return domain.Reminder{}, err
	}
	return domain.Reminder{
		ID:        id,
		Owner:     asString(r["owner"]),
		Date:      md,
		Time:      tod,
		Message:   asString(r["message"]),
		Repeat:    asBool(r["repeat"]),
		CreatedAt: time.Unix(int64(asInt(r["created_at"], 0)), 0).UTC(),
	}, nil
}

// --- Daily digests ---

func (a *Adapter) LoadDigests(ctx context.Context) (map[string]domain.DailyDigest, error) {
	rows, err := a.rows.FetchAll(ctx, store.TableDaily)
	if err != nil {
		return nil, fmt.Errorf("load daily digests: %w", err)
	}
	res := make(map[string]domain.DailyDigest, len(rows))
	for _, r := range rows {
		owner := asString(r["owner"])
		if owner == "" {
			continue
		}
		tod, err := domain.NewTimeOfDay(asInt(r["hour"], 8), asInt(r["minute"], 0))
		if err != nil {
			a.log.Warn("daily digest time invalid, using default", zap.String("owner", owner), zap.Error(err))
			tod = domain.DefaultDigestTime
		}
		res[owner] = domain.DailyDigest{Owner: owner, Todos: decodeTodos(r["todos"]), Time: tod}
	}
	return res, nil
}

func (a *Adapter) SaveDigest(ctx context.Context, d domain.DailyDigest) error {
	todos := d.Todos
	if todos == nil {
		todos = []string{}
	}
	enc, err := json.Marshal(todos)
	if err != nil {
		return err
	}
	row := store.Row{
		"owner":  d.Owner,
		"todos":  string(enc),
		"hour":   d.Time.Hour,
		"minute": d.Time.Minute,
	}
	if err := a.rows.Upsert(ctx, store.TableDaily, []store.Row{row}, "owner"); err != nil {
		return fmt.Errorf("save daily digest %s: %w", d.Owner, err)
	}
	return nil
}

// decodeTodos accepts a JSON-encoded string or an already decoded list.
func decodeTodos(v any) []string {
	switch t := v.(type) {
	case string:
		var out []string
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			out = append(out, asString(x))
		}
		return out
	}
	return nil
}

// --- Sleep checks ---

func (a *Adapter) LoadSleepChecks(ctx context.Context) (map[string]domain.SleepCheck, error) {
	rows, err := a.rows.FetchAll(ctx, store.TableSleepChecks)
	if err != nil {
		return nil, fmt.Errorf("load sleep checks: %w", err)
	}
	res := make(map[string]domain.SleepCheck, len(rows))
	for _, r := range rows {
		owner := asString(r["owner"])
		tod, err := domain.NewTimeOfDay(asInt(r["hour"], -1), asInt(r["minute"], -1))
		if owner == "" || err != nil {
			a.log.Warn("skip malformed sleep check row", zap.String("owner", owner), zap.Error(err))
			continue
		}
		res[owner] = domain.SleepCheck{Owner: owner, Time: tod, PresenceID: asString(r["presence_id"])}
	}
	return res, nil
}

func (a *Adapter) SaveSleepCheck(ctx context.Context, sc domain.SleepCheck) error {
	row := store.Row{
		"owner":       sc.Owner,
		"hour":        sc.Time.Hour,
		"minute":      sc.Time.Minute,
		"presence_id": sc.PresenceID,
	}
	if err := a.rows.Upsert(ctx, store.TableSleepChecks, []store.Row{row}, "owner"); err != nil {
		return fmt.Errorf("save sleep check %s: %w", sc.Owner, err)
	}
	return nil
}

func (a *Adapter) DeleteSleepCheck(ctx context.Context, owner string) error {
	if err := a.rows.DeleteWhere(ctx, store.TableSleepChecks, store.Filter{"owner": owner}); err != nil {
		return fmt.Errorf("delete sleep check %s: %w", owner, err)
	}
	return nil
}

// --- Chat targets ---

func (a *Adapter) LoadChatTargets(ctx context.Context) ([]string, error) {
	rows, err := a.rows.FetchAll(ctx, store.TableChatTargets)
	if err != nil {
		return nil, fmt.Errorf("load chat targets: %w", err)
	}
	res := make([]string, 0, len(rows))
	for _, r := range rows {
		if o := asString(r["owner"]); o != "" {
			res = append(res, o)
		}
	}
	return res, nil
}

func (a *Adapter) AddChatTarget(ctx context.Context, owner string) error {
	if err := a.rows.Upsert(ctx, store.TableChatTargets, []store.Row{{"owner": owner}}, "owner"); err != nil {
		return fmt.Errorf("add chat target %s: %w", owner, err)
	}
	return nil
}

func (a *Adapter) RemoveChatTarget(ctx context.Context, owner string) error {
	if err := a.rows.DeleteWhere(ctx, store.TableChatTargets, store.Filter{"owner": owner}); err != nil {
		return fmt.Errorf("remove chat target %s: %w", owner, err)
	}
	return nil
}

// --- Plan markers ---

func (a *Adapter) LoadPlanMarkers(ctx context.Context) ([]domain.PlanMarker, error) {
	rows, err := a.rows.FetchAll(ctx, store.TablePlans)
	if err != nil {
		return nil, fmt.Errorf("load plan markers: %w", err)
	}
	res := make([]domain.PlanMarker, 0, len(rows))
	for _, r := range rows {
		at, err := time.Parse(time.RFC3339, asString(r["run_time"]))
		if err != nil {
			a.log.Warn("skip malformed plan marker", zap.Any("plan_id", r["plan_id"]), zap.Error(err))
			continue
		}
		res = append(res, domain.PlanMarker{PlanID: asString(r["plan_id"]), RunTime: at.In(a.loc)})
	}
	return res, nil
}

// LoadPlanMarker returns the marker for planID, or domain.ErrNotFound.
func (a *Adapter) LoadPlanMarker(ctx context.Context, planID string) (domain.PlanMarker, error) {
	markers, err := a.LoadPlanMarkers(ctx)
	if err != nil {
		return domain.PlanMarker{}, err
	}
	for _, m := range markers {
		if m.PlanID == planID {
			return m, nil
		}
	}
	return domain.PlanMarker{}, domain.ErrNotFound
}

func (a *Adapter) SavePlanMarker(ctx context.Context, m domain.PlanMarker) error {
	row := store.Row{"plan_id": m.PlanID, "run_time": m.RunTime.In(a.loc).Format(time.RFC3339)}
	if err := a.rows.Upsert(ctx, store.TablePlans, []store.Row{row}, "plan_id"); err != nil {
		return fmt.Errorf("save plan marker %s: %w", m.PlanID, err)
	}
	return nil
}

func (a *Adapter) DeletePlanMarker(ctx context.Context, planID string) error {
	if err := a.rows.DeleteWhere(ctx, store.TablePlans, store.Filter{"plan_id": planID}); err != nil {
		return fmt.Errorf("delete plan marker %s: %w", planID, err)
	}
	return nil
}
