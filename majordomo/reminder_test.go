package majordomo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	t.Parallel()

	hour, minute, err := parseClockTime("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, hour)
	assert.Equal(t, 30, minute)

	hour, minute, err = parseClockTime("23:59")
	require.NoError(t, err)
	assert.Equal(t, 23, hour)
	assert.Equal(t, 59, minute)

	hour, minute, err = parseClockTime("00:00")
	require.NoError(t, err)
	assert.Equal(t, 0, hour)
	assert.Equal(t, 0, minute)

	for _, bad := range []string{"", "25:00", "12:60", "12", "noonish", "9:3pm"} {
		_, _, err = parseClockTime(bad)
		assert.ErrorIsf(t, err, ErrInvalidReminderTime, "input: %q", bad)
	}
}

func TestReminderNextOccurrence(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	// still ahead today
	r := Reminder{Time: "15:30"}
	next, err := r.nextOccurrence(now)
	require.NoError(t, err)
	assert.Equal(
		t,
		time.Date(2024, 6, 15, 15, 30, 0, 0, time.UTC),
		next,
	)

	// already passed: tomorrow
	r = Reminder{Time: "09:00"}
	next, err = r.nextOccurrence(now)
	require.NoError(t, err)
	assert.Equal(
		t,
		time.Date(2024, 6, 16, 9, 0, 0, 0, time.UTC),
		next,
	)

	// exactly now: tomorrow, not immediately
	r = Reminder{Time: "10:00"}
	next, err = r.nextOccurrence(now)
	require.NoError(t, err)
	assert.Equal(
		t,
		time.Date(2024, 6, 16, 10, 0, 0, 0, time.UTC),
		next,
	)

	r = Reminder{Time: "bogus"}
	_, err = r.nextOccurrence(now)
	assert.ErrorIs(t, err, ErrInvalidReminderTime)
}

func TestCreateReminder(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	writeDB := NewDatabase(db, testLogger(t), false)
	ctx := context.Background()

	reminder := &Reminder{
		Name:    "standup",
		Message: "daily standup in 5 minutes",
		Time:    "09:55",
		Enabled: true,
	}
	require.NoError(t, createReminder(ctx, writeDB, reminder))
	assert.NotZero(t, reminder.ID)

	// names are unique
	err := createReminder(
		ctx,
		writeDB,
		&Reminder{
			Name:    "standup",
			Message: "something else",
			Time:    "12:00",
		},
	)
	assert.True(t, errors.Is(err, ErrDuplicateReminderName))

	// invalid clock values are rejected before any DB access
	err = createReminder(
		ctx,
		writeDB,
		&Reminder{
			Name:    "bad-time",
			Message: "whatever",
			Time:    "25:00",
		},
	)
	assert.ErrorIs(t, err, ErrInvalidReminderTime)

	// missing message fails struct validation
	err = createReminder(
		ctx,
		writeDB,
		&Reminder{Name: "no-message", Time: "12:00"},
	)
	assert.Error(t, err)
}

func TestGetReminder(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	writeDB := NewDatabase(db, testLogger(t), false)
	ctx := context.Background()

	reminder := &Reminder{
		Name:        "movie-night",
		Message:     "movie night starting!",
		Time:        "20:00",
		IsRecurring: true,
		Enabled:     true,
	}
	require.NoError(t, createReminder(ctx, writeDB, reminder))

	found, err := getReminder(ctx, db, reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, "movie-night", found.Name)

	byName, err := getReminderByName(ctx, db, "movie-night")
	require.NoError(t, err)
	assert.Equal(t, reminder.ID, byName.ID)

	_, err = getReminder(ctx, db, 99999)
	assert.ErrorIs(t, err, ErrReminderNotFound)

	_, err = getReminderByName(ctx, db, "no-such-reminder")
	assert.ErrorIs(t, err, ErrReminderNotFound)
}

func TestGetEnabledReminders(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	writeDB := NewDatabase(db, testLogger(t), false)
	ctx := context.Background()

	for _, r := range []Reminder{
		{Name: "enabled-1", Message: "m", Time: "10:00", Enabled: true},
		{Name: "enabled-2", Message: "m", Time: "11:00", Enabled: true},
		{Name: "disabled", Message: "m", Time: "12:00", Enabled: false},
	} {
		reminder := r
		require.NoError(t, createReminder(ctx, writeDB, &reminder))
	}

	enabled, err := getEnabledReminders(ctx, db)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)

	all, err := getReminders(ctx, db)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteReminder(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	writeDB := NewDatabase(db, testLogger(t), false)
	ctx := context.Background()

	reminder := &Reminder{
		Name:    "to-delete",
		Message: "m",
		Time:    "10:00",
	}
	require.NoError(t, createReminder(ctx, writeDB, reminder))

	require.NoError(t, deleteReminder(writeDB, reminder.ID))
	_, err := getReminder(ctx, db, reminder.ID)
	assert.ErrorIs(t, err, ErrReminderNotFound)

	// deleting again is not an error
	assert.NoError(t, deleteReminder(writeDB, reminder.ID))
}

func TestDeleteReminderFreesName(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	writeDB := NewDatabase(db, testLogger(t), false)
	ctx := context.Background()

	reminder := &Reminder{
		Name:    "weekly-sync",
		Message: "weekly sync starting",
		Time:    "14:00",
		Enabled: true,
	}
	require.NoError(t, createReminder(ctx, writeDB, reminder))
	require.NoError(t, deleteReminder(writeDB, reminder.ID))

	// the name must be reusable after deletion
	replacement := &Reminder{
		Name:    "weekly-sync",
		Message: "weekly sync moved to 15:00",
		Time:    "15:00",
		Enabled: true,
	}
	require.NoError(t, createReminder(ctx, writeDB, replacement))
	assert.NotEqual(t, reminder.ID, replacement.ID)

	found, err := getReminderByName(ctx, db, "weekly-sync")
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, found.ID)
}
