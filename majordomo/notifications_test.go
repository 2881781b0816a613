package majordomo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleReminder(t *testing.T) {
	t.Parallel()

	md, _ := newTestMajorDomo(t)
	ctx := context.Background()

	reminder := &Reminder{
		Name:        "daily-check",
		Message:     "time for the daily check!",
		Time:        "12:00",
		IsRecurring: true,
		Enabled:     true,
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))

	require.NoError(t, md.dispatcher.ScheduleReminder(reminder))
	next, ok := md.scheduler.NextRun(reminder.jobID())
	require.True(t, ok)
	assert.True(t, next.After(time.Now()))

	// rescheduling the same reminder replaces its job
	require.NoError(t, md.dispatcher.ScheduleReminder(reminder))
	assert.Len(t, md.scheduler.JobIDs(), 1)

	// disabling unschedules
	reminder.Enabled = false
	require.NoError(t, md.dispatcher.ScheduleReminder(reminder))
	assert.Empty(t, md.scheduler.JobIDs())

	// unschedule is safe on an already-unscheduled reminder
	md.dispatcher.UnscheduleReminder(reminder)
}

func TestScheduleReminderInvalidTime(t *testing.T) {
	t.Parallel()

	md, _ := newTestMajorDomo(t)

	err := md.dispatcher.ScheduleReminder(
		&Reminder{
			ModelUintID: ModelUintID{ID: 42},
			Name:        "broken",
			Message:     "m",
			Time:        "not-a-time",
			Enabled:     true,
		},
	)
	assert.ErrorIs(t, err, ErrInvalidReminderTime)
	assert.Empty(t, md.scheduler.JobIDs())
}

func TestFireReminderDelivers(t *testing.T) {
	t.Parallel()

	md, session := newTestMajorDomo(t)
	ctx := context.Background()

	reminder := &Reminder{
		Name:        "announce",
		Message:     "the event is starting",
		Time:        "12:00",
		IsRecurring: true,
		Enabled:     true,
		ChannelID:   "channel-123",
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))

	fire := md.dispatcher.fireReminder(reminder.ID)
	fire(ctx, ScheduledJob{ID: reminder.jobID()})

	sent := session.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "channel-123", sent[0].ChannelID)
	assert.Equal(t, "the event is starting", sent[0].Content)

	// recurring reminders survive firing
	_, err := getReminder(ctx, md.db.DB(), reminder.ID)
	assert.NoError(t, err)
}

func TestFireReminderEditsWinAtFireTime(t *testing.T) {
	t.Parallel()

	md, session := newTestMajorDomo(t)
	ctx := context.Background()

	reminder := &Reminder{
		Name:        "editable",
		Message:     "original text",
		Time:        "12:00",
		IsRecurring: true,
		Enabled:     true,
		ChannelID:   "channel-1",
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))

	// edit after scheduling: the fresh reload at fire time picks it up
	_, err := md.db.Update(ctx, reminder, columnReminderMessage, "edited text")
	require.NoError(t, err)

	fire := md.dispatcher.fireReminder(reminder.ID)
	fire(ctx, ScheduledJob{ID: reminder.jobID()})

	sent := session.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "edited text", sent[0].Content)
}

func TestFireReminderOneShotDeleted(t *testing.T) {
	t.Parallel()

	md, session := newTestMajorDomo(t)
	ctx := context.Background()

	reminder := &Reminder{
		Name:      "one-shot",
		Message:   "happens once",
		Time:      "12:00",
		Enabled:   true,
		ChannelID: "channel-1",
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))
	require.NoError(t, md.dispatcher.ScheduleReminder(reminder))

	fire := md.dispatcher.fireReminder(reminder.ID)
	fire(ctx, ScheduledJob{ID: reminder.jobID()})

	require.Len(t, session.sent(), 1)

	// fired one-shots are deleted and unscheduled
	_, err := getReminder(ctx, md.db.DB(), reminder.ID)
	assert.ErrorIs(t, err, ErrReminderNotFound)
	assert.Empty(t, md.scheduler.JobIDs())
}

func TestFireReminderOneShotDeletedOnSendFailure(t *testing.T) {
	t.Parallel()

	md, session := newTestMajorDomo(t)
	ctx := context.Background()
	session.sendErr = assert.AnError

	reminder := &Reminder{
		Name:      "dead-channel",
		Message:   "will never arrive",
		Time:      "12:00",
		Enabled:   true,
		ChannelID: "channel-gone",
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))

	fire := md.dispatcher.fireReminder(reminder.ID)
	fire(ctx, ScheduledJob{ID: reminder.jobID()})

	// delivery failed, but the one-shot is still deleted so it can't
	// fire forever
	_, err := getReminder(ctx, md.db.DB(), reminder.ID)
	assert.ErrorIs(t, err, ErrReminderNotFound)
}

func TestFireReminderDeletedReminderDropsJob(t *testing.T) {
	t.Parallel()

	md, session := newTestMajorDomo(t)
	ctx := context.Background()

	reminder := &Reminder{
		Name:        "ghost",
		Message:     "m",
		Time:        "12:00",
		IsRecurring: true,
		Enabled:     true,
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))
	require.NoError(t, md.dispatcher.ScheduleReminder(reminder))

	require.NoError(t, deleteReminder(md.db, reminder.ID))

	fire := md.dispatcher.fireReminder(reminder.ID)
	fire(ctx, ScheduledJob{ID: reminder.jobID()})

	assert.Empty(t, session.sent())
	assert.Empty(t, md.scheduler.JobIDs())
}

func TestFireReminderSkippedWhilePaused(t *testing.T) {
	t.Parallel()

	md, session := newTestMajorDomo(t)
	ctx := context.Background()

	setTestRuntimeConfig(
		t, md, func(c *RuntimeConfig) {
			c.Paused = true
		},
	)

	reminder := &Reminder{
		Name:        "paused",
		Message:     "m",
		Time:        "12:00",
		IsRecurring: true,
		Enabled:     true,
		ChannelID:   "channel-1",
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))

	fire := md.dispatcher.fireReminder(reminder.ID)
	fire(ctx, ScheduledJob{ID: reminder.jobID()})

	assert.Empty(t, session.sent())
}

func TestFireReminderOneShotHeldWhilePaused(t *testing.T) {
	t.Parallel()

	md, session := newTestMajorDomo(t)
	ctx := context.Background()

	setTestRuntimeConfig(
		t, md, func(c *RuntimeConfig) {
			c.Paused = true
		},
	)

	reminder := &Reminder{
		Name:      "held",
		Message:   "m",
		Time:      "12:00",
		Enabled:   true,
		ChannelID: "channel-1",
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))

	fire := md.dispatcher.fireReminder(reminder.ID)
	fire(ctx, ScheduledJob{ID: reminder.jobID()})

	// a held fire is not a delivery: the one-shot survives and is
	// requeued for its next occurrence
	assert.Empty(t, session.sent())
	_, err := getReminder(ctx, md.db.DB(), reminder.ID)
	assert.NoError(t, err)
	_, ok := md.scheduler.NextRun(reminder.jobID())
	assert.True(t, ok)
}

func TestFireReminderDisabledOneShotNotDeleted(t *testing.T) {
	t.Parallel()

	md, session := newTestMajorDomo(t)
	ctx := context.Background()

	reminder := &Reminder{
		Name:      "dormant",
		Message:   "m",
		Time:      "12:00",
		Enabled:   false,
		ChannelID: "channel-1",
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))

	// a stale job firing for a since-disabled reminder is a no-op
	fire := md.dispatcher.fireReminder(reminder.ID)
	fire(ctx, ScheduledJob{ID: reminder.jobID()})

	assert.Empty(t, session.sent())
	_, err := getReminder(ctx, md.db.DB(), reminder.ID)
	assert.NoError(t, err)
}

func TestFireReminderChannelFallback(t *testing.T) {
	t.Parallel()

	md, session := newTestMajorDomo(t)
	ctx := context.Background()

	setTestRuntimeConfig(
		t, md, func(c *RuntimeConfig) {
			c.NotificationChannelID = "notifications"
		},
	)

	reminder := &Reminder{
		Name:        "no-channel",
		Message:     "falls back",
		Time:        "12:00",
		IsRecurring: true,
		Enabled:     true,
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))

	fire := md.dispatcher.fireReminder(reminder.ID)
	fire(ctx, ScheduledJob{ID: reminder.jobID()})

	sent := session.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "notifications", sent[0].ChannelID)
}

func TestFireReminderNoChannelAnywhere(t *testing.T) {
	t.Parallel()

	md, session := newTestMajorDomo(t)
	ctx := context.Background()

	reminder := &Reminder{
		Name:        "nowhere",
		Message:     "m",
		Time:        "12:00",
		IsRecurring: true,
		Enabled:     true,
	}
	require.NoError(t, createReminder(ctx, md.db, reminder))

	fire := md.dispatcher.fireReminder(reminder.ID)
	fire(ctx, ScheduledJob{ID: reminder.jobID()})

	assert.Empty(t, session.sent())
}

func TestReminderAnnouncement(t *testing.T) {
	t.Parallel()

	r := Reminder{Message: "plain message"}
	assert.Equal(t, "plain message", reminderAnnouncement(r))

	r.MentionRoleIDs = StringList{"111", "222"}
	assert.Equal(
		t,
		"<@&111> <@&222> plain message",
		reminderAnnouncement(r),
	)

	// long announcements are truncated to the discord limit
	r = Reminder{Message: strings.Repeat("x", 3000)}
	assert.Len(t, reminderAnnouncement(r), discordMaxMessageLength)
}

func TestScheduleAll(t *testing.T) {
	t.Parallel()

	md, _ := newTestMajorDomo(t)
	ctx := context.Background()

	for _, r := range []Reminder{
		{Name: "r1", Message: "m", Time: "10:00", Enabled: true, IsRecurring: true},
		{Name: "r2", Message: "m", Time: "11:00", Enabled: true},
		{Name: "r3", Message: "m", Time: "12:00", Enabled: false},
	} {
		reminder := r
		require.NoError(t, createReminder(ctx, md.db, &reminder))
	}

	require.NoError(t, md.dispatcher.ScheduleAll(ctx))
	assert.Len(t, md.scheduler.JobIDs(), 2)
}
