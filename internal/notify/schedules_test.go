package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykvlv/companion-bot/internal/domain"
	"github.com/ykvlv/companion-bot/internal/store"
)

func TestDigestLifecycle(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	h := newHarness(t, time.Date(2025, time.May, 5, 6, 0, 0, 0, loc), store.NewMemoryStore())

	_, err := h.svc.AddTodo(ctx, "A", "buy milk")
	require.NoError(t, err)
	_, err = h.svc.AddTodo(ctx, "A", "call mom")
	require.NoError(t, err)

	job, ok := h.jobs.Get(PrefixTodo + "A")
	require.True(t, ok)
	assert.True(t, job.NextRun.Equal(time.Date(2025, time.May, 5, 8, 0, 0, 0, loc)))

	_, err = h.svc.SetDigestTime(ctx, "A", tod(21, 30))
	require.NoError(t, err)
	assert.Equal(t, []string{PrefixTodo + "A"}, h.jobIDs(PrefixTodo))
	job, _ = h.jobs.Get(PrefixTodo + "A")
	assert.True(t, job.NextRun.Equal(time.Date(2025, time.May, 5, 21, 30, 0, 0, loc)))

	h.fireAt(time.Date(2025, time.May, 5, 21, 30, 0, 0, loc))
	require.Len(t, h.sender.Sent(), 1)
	assert.Equal(t, digestHeader+"\n- buy milk\n- call mom", h.sender.Sent()[0].Text)

	_, err = h.svc.RemoveTodoAt(ctx, "A", 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	text, err := h.svc.RemoveTodoAt(ctx, "A", 1)
	require.NoError(t, err)
	assert.Equal(t, "buy milk", text)
	text, err = h.svc.RemoveTodoAt(ctx, "A", 1)
	require.NoError(t, err)
	assert.Equal(t, "call mom", text)

	// Empty list: the job stays, nothing is sent.
	h.fireAt(time.Date(2025, time.May, 6, 21, 30, 0, 0, loc))
	assert.Len(t, h.sender.Sent(), 1)
	assert.Equal(t, []string{PrefixTodo + "A"}, h.jobIDs(PrefixTodo))

	stored, err := h.repo.LoadDigests(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DailyDigest{Owner: "A", Todos: []string{}, Time: tod(21, 30)}, stored["A"])
}

func TestDigestTimeSurvivesRestart(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	mem := store.NewMemoryStore()
	h := newHarness(t, time.Date(2025, time.May, 5, 6, 0, 0, 0, loc), mem)
	_, err := h.svc.SetDigestTime(ctx, "A", tod(7, 15))
	require.NoError(t, err)

	again := newHarness(t, time.Date(2025, time.May, 5, 10, 0, 0, 0, loc), mem)
	again.svc.Start(ctx)
	job, ok := again.jobs.Get(PrefixTodo + "A")
	require.True(t, ok)
	assert.True(t, job.NextRun.Equal(time.Date(2025, time.May, 6, 7, 15, 0, 0, loc)))
}

func TestSleepCheckCautionsOnlyWhenOnline(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	h := newHarness(t, time.Date(2025, time.May, 5, 20, 0, 0, 0, loc), store.NewMemoryStore())

	_, err := h.svc.SetSleepCheck(ctx, "A", tod(23, 0), "p-1")
	require.NoError(t, err)
	job, ok := h.jobs.Get(PrefixSleepCheck + "A")
	require.True(t, ok)
	assert.True(t, job.NextRun.Equal(time.Date(2025, time.May, 5, 23, 0, 0, 0, loc)))

	for _, st := range []domain.Presence{domain.PresenceIdle, domain.PresenceDoNotDisturb, domain.PresenceOffline, domain.PresenceUnknown} {
		h.presence.Set("p-1", st)
		require.NoError(t, h.svc.fireSleepCheck(ctx, "A"), st)
	}
	assert.Empty(t, h.sender.Sent())

	h.presence.Set("p-1", domain.PresenceOnline)
	h.fireAt(time.Date(2025, time.May, 5, 23, 0, 0, 0, loc))
	assert.Equal(t, []sentMsg{{Owner: "A", Text: sleepCaution}}, h.sender.Sent())

	h.presence.err = errors.New("gateway down")
	assert.Error(t, h.svc.fireSleepCheck(ctx, "A"))
	assert.Len(t, h.sender.Sent(), 1)
}

func TestSleepCheckRedefineAndDisable(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	h := newHarness(t, time.Date(2025, time.May, 5, 20, 0, 0, 0, loc), store.NewMemoryStore())

	_, err := h.svc.SetSleepCheck(ctx, "A", tod(23, 0), "p-1")
	require.NoError(t, err)
	_, err = h.svc.SetSleepCheck(ctx, "A", tod(0, 30), "p-1")
	require.NoError(t, err)
	assert.Equal(t, []string{PrefixSleepCheck + "A"}, h.jobIDs(PrefixSleepCheck))
	job, _ := h.jobs.Get(PrefixSleepCheck + "A")
	assert.True(t, job.NextRun.Equal(time.Date(2025, time.May, 6, 0, 30, 0, 0, loc)))

	require.NoError(t, h.svc.DisableSleepCheck(ctx, "A"))
	assert.Empty(t, h.jobIDs(PrefixSleepCheck))
	assert.ErrorIs(t, h.svc.DisableSleepCheck(ctx, "A"), domain.ErrNotFound)

	stored, err := h.repo.LoadSleepChecks(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSleepCheckNeedsAccountID(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	h := newHarness(t, time.Date(2025, time.May, 5, 20, 0, 0, 0, loc), store.NewMemoryStore())

	_, err := h.svc.SetSleepCheck(ctx, "A", tod(23, 0), " ")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "account id", verr.Field)
	_, ok := h.svc.SleepCheck("A")
	assert.False(t, ok)
	assert.Empty(t, h.jobIDs(PrefixSleepCheck))

	// Rows written without an account id stay quiet instead of probing the chat id.
	require.NoError(t, h.repo.SaveSleepCheck(ctx, domain.SleepCheck{Owner: "B", Time: tod(23, 0)}))
	require.NoError(t, h.svc.Resync(ctx))
	h.presence.Set("B", domain.PresenceOnline)
	h.fireAt(time.Date(2025, time.May, 5, 23, 0, 0, 0, loc))
	assert.Empty(t, h.sender.Sent())
	assert.Equal(t, 1, h.logs.FilterMessage("sleep check has no account id, skipped").Len())
}

var afternoon = domain.ChatSlot{Name: "afternoon", FromM: 13 * 60, ToM: 16 * 60}

func TestRandomChatDrawIsPersistedAndReplayed(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	mem := store.NewMemoryStore()

	first := newHarness(t, time.Date(2025, time.May, 5, 9, 0, 0, 0, loc), mem, afternoon)
	first.svc.Start(ctx)
	job, ok := first.jobs.Get(PrefixRandomChat + "afternoon")
	require.True(t, ok)
	marker, err := first.repo.LoadPlanMarker(ctx, "afternoon")
	require.NoError(t, err)
	assert.True(t, job.NextRun.Equal(marker.RunTime))
	assert.False(t, marker.RunTime.Before(time.Date(2025, time.May, 5, 13, 0, 0, 0, loc)))
	assert.True(t, marker.RunTime.Before(time.Date(2025, time.May, 5, 16, 0, 0, 0, loc)))

	// Restart with a different seed: the stored time wins.
	second := newHarness(t, time.Date(2025, time.May, 5, 10, 0, 0, 0, loc), mem, afternoon)
	second.svc.Start(ctx)
	job2, ok := second.jobs.Get(PrefixRandomChat + "afternoon")
	require.True(t, ok)
	assert.True(t, job2.NextRun.Equal(marker.RunTime))
}

func TestRandomChatReplaysStoredMarkerAfterRestart(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	mem := store.NewMemoryStore()
	planned := time.Date(2025, time.May, 5, 14, 32, 0, 0, loc)

	h := newHarness(t, time.Date(2025, time.May, 5, 10, 0, 0, 0, loc), mem, afternoon)
	require.NoError(t, h.repo.SavePlanMarker(ctx, domain.PlanMarker{PlanID: "afternoon", RunTime: planned}))
	h.svc.Start(ctx)

	job, ok := h.jobs.Get(PrefixRandomChat + "afternoon")
	require.True(t, ok)
	assert.True(t, job.NextRun.Equal(planned))
}

func TestRandomChatNotRedrawnLaterSameDay(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	h := newHarness(t, time.Date(2025, time.May, 5, 15, 0, 0, 0, loc), store.NewMemoryStore(), afternoon)
	require.NoError(t, h.repo.SavePlanMarker(ctx, domain.PlanMarker{
		PlanID: "afternoon", RunTime: time.Date(2025, time.May, 5, 14, 32, 0, 0, loc),
	}))

	h.svc.Start(ctx)
	assert.Empty(t, h.jobIDs(PrefixRandomChat))
	assert.Equal(t, []string{JobRandomChatReset}, h.jobIDs(JobRandomChatReset))
}

func TestRandomChatStaleMarkerIsRedrawn(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	h := newHarness(t, time.Date(2025, time.May, 5, 9, 0, 0, 0, loc), store.NewMemoryStore(), afternoon)
	require.NoError(t, h.repo.SavePlanMarker(ctx, domain.PlanMarker{
		PlanID: "afternoon", RunTime: time.Date(2025, time.May, 4, 14, 32, 0, 0, loc),
	}))

	h.svc.Start(ctx)
	m, err := h.repo.LoadPlanMarker(ctx, "afternoon")
	require.NoError(t, err)
	assert.True(t, domain.SameDay(m.RunTime, time.Date(2025, time.May, 5, 0, 0, 0, 0, loc), loc))
	job, ok := h.jobs.Get(PrefixRandomChat + "afternoon")
	require.True(t, ok)
	assert.True(t, job.NextRun.Equal(m.RunTime))
}

func TestRandomChatResetDrawsNextDay(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	h := newHarness(t, time.Date(2025, time.May, 5, 23, 0, 0, 0, loc), store.NewMemoryStore(), afternoon)
	require.NoError(t, h.repo.SavePlanMarker(ctx, domain.PlanMarker{
		PlanID: "afternoon", RunTime: time.Date(2025, time.May, 5, 14, 32, 0, 0, loc),
	}))
	h.svc.Start(ctx)
	require.Empty(t, h.jobIDs(PrefixRandomChat))

	h.fireAt(time.Date(2025, time.May, 6, 0, 0, 0, 0, loc))

	m, err := h.repo.LoadPlanMarker(ctx, "afternoon")
	require.NoError(t, err)
	assert.False(t, m.RunTime.Before(time.Date(2025, time.May, 6, 13, 0, 0, 0, loc)))
	assert.True(t, m.RunTime.Before(time.Date(2025, time.May, 6, 16, 0, 0, 0, loc)))
	job, ok := h.jobs.Get(PrefixRandomChat + "afternoon")
	require.True(t, ok)
	assert.True(t, job.NextRun.Equal(m.RunTime))

	reset, ok := h.jobs.Get(JobRandomChatReset)
	require.True(t, ok)
	assert.True(t, reset.NextRun.Equal(time.Date(2025, time.May, 7, 0, 0, 0, 0, loc)))
}

func TestRandomChatFiring(t *testing.T) {
	loc := jst(t)
	ctx := context.Background()
	h := newHarness(t, time.Date(2025, time.May, 5, 9, 0, 0, 0, loc), store.NewMemoryStore(), afternoon)

	require.NoError(t, h.svc.fireRandomChat(ctx, "afternoon"))
	assert.Empty(t, h.sender.Sent(), "no targets, nothing sent")

	require.NoError(t, h.svc.EnableRandomChat(ctx, "A"))
	h.completion.reply = "  How was lunch?  "
	require.NoError(t, h.svc.fireRandomChat(ctx, "afternoon"))
	assert.Equal(t, []sentMsg{{Owner: "A", Text: "How was lunch?"}}, h.sender.Sent())

	h.completion.err = errors.New("quota exceeded")
	assert.Error(t, h.svc.fireRandomChat(ctx, "afternoon"))
	assert.Len(t, h.sender.Sent(), 1)

	require.NoError(t, h.svc.DisableRandomChat(ctx, "A"))
	assert.Empty(t, h.svc.ChatTargets())
	targets, err := h.repo.LoadChatTargets(ctx)
	require.NoError(t, err)
	assert.Empty(t, targets)
}
