package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usncompetitions/notifier/internal/models"
)

func TestScheduler_RunDue(t *testing.T) {
	f := newFixture(t)
	now := f.orch.now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := f.createBroadcast(t, &models.Broadcast{Name: "due", SendTelegram: true, ScheduledAt: &past})
	later := f.createBroadcast(t, &models.Broadcast{Name: "later", SendTelegram: true, ScheduledAt: &future})
	manual := f.createBroadcast(t, &models.Broadcast{Name: "manual", SendTelegram: true})

	s := NewScheduler(f.orch, time.Hour, testLogger())

	assert.Equal(t, 1, s.RunDue(context.Background()))
	assert.Equal(t, models.BroadcastCompleted, f.reload(t, due.ID).Status)
	assert.Equal(t, models.BroadcastDraft, f.reload(t, later.ID).Status)
	assert.Equal(t, models.BroadcastDraft, f.reload(t, manual.ID).Status)

	// One-shot: a completed broadcast is not picked up again
	assert.Equal(t, 0, s.RunDue(context.Background()))
	assert.Len(t, f.telegram.calls(), 2)
}

func TestScheduler_RunDueSkipsInactiveTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := f.orch.now().Add(-time.Minute)
	b := f.createBroadcast(t, &models.Broadcast{SendTelegram: true, ScheduledAt: &past})

	require.NoError(t, f.templates.SetActive(ctx, f.template.ID, false))

	s := NewScheduler(f.orch, time.Hour, testLogger())
	assert.Equal(t, 0, s.RunDue(ctx))
	assert.Equal(t, models.BroadcastDraft, f.reload(t, b.ID).Status)
	assert.Empty(t, f.telegram.calls())

	// picked up again once the template is usable
	require.NoError(t, f.templates.SetActive(ctx, f.template.ID, true))
	assert.Equal(t, 1, s.RunDue(ctx))
	assert.Equal(t, models.BroadcastCompleted, f.reload(t, b.ID).Status)
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	past := f.orch.now().Add(-time.Minute)
	b := f.createBroadcast(t, &models.Broadcast{SendTelegram: true, ScheduledAt: &past})

	s := NewScheduler(f.orch, 10*time.Millisecond, testLogger())
	s.Start()

	require.Eventually(t, func() bool {
		got, err := f.broadcasts.GetByID(context.Background(), b.ID)
		return err == nil && got.Status == models.BroadcastCompleted
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
}

func TestNewScheduler_DefaultInterval(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.orch, 0, testLogger())
	assert.Equal(t, 30*time.Second, s.pollInterval)
}
