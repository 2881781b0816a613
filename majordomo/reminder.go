package majordomo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

var (
	ErrCooldownTooShort      = errors.New("message cooldown must be at least 1s")
	ErrSweepIntervalTooShort = errors.New("voice sweep interval must be at least 1m")
	ErrInvalidReminderTime   = errors.New("reminder time must be HH:MM (24-hour)")
	ErrReminderNotFound      = errors.New("reminder not found")
	ErrDuplicateReminderName = errors.New("a reminder with that name already exists")
)

var (
	columnReminderEnabled   = "enabled"
	columnReminderTime      = "time"
	columnReminderName      = "name"
	columnReminderMessage   = "message"
	columnReminderChannelID = "channel_id"
	columnReminderMentions  = "mention_role_ids"
)

// Reminder is a scheduled announcement. Time is a 24-hour "HH:MM" clock
// value: recurring reminders fire at that time every day, one-shot
// reminders fire at the next occurrence of that time (today if it's still
// ahead, otherwise tomorrow) and are then deleted.
//
//nolint:lll // struct tags can't be split
type Reminder struct {
	ModelUintID
	ModelUnixTime

	// Name identifies the reminder in commands and the operator API
	Name string `json:"name" gorm:"type:string;not null;uniqueIndex" binding:"required,min=1,max=100"`

	// Message is the announcement text
	Message string `json:"message" gorm:"type:string;not null" binding:"required,min=1,max=2000"`

	// Time of day the reminder fires, "HH:MM" 24-hour
	Time string `json:"time" gorm:"type:string;not null" binding:"required"`

	// IsRecurring makes the reminder fire daily instead of once
	IsRecurring bool `json:"is_recurring" gorm:"not null;default:false"`

	// Enabled reminders are scheduled; disabled ones are kept but never
	// fire. Callers set this explicitly on create; GORM omits zero-value
	// bools on insert when the column default is true.
	Enabled bool `json:"enabled" gorm:"not null;default:false"`

	// ChannelID is the channel the reminder posts to. Empty falls back to
	// the configured notification channel at fire time.
	ChannelID string `json:"channel_id" gorm:"type:string"`

	// MentionRoleIDs are roles to mention in the announcement
	MentionRoleIDs StringList `json:"mention_role_ids" gorm:"type:string"`

	// CreatedBy is the Discord user ID that created the reminder
	CreatedBy string `json:"created_by" gorm:"type:string"`
}

func (Reminder) TableName() string {
	return "reminders"
}

func (r Reminder) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(r.ID)),
		slog.String(columnReminderName, r.Name),
		slog.String(columnReminderTime, r.Time),
		slog.Bool("is_recurring", r.IsRecurring),
		slog.Bool(columnReminderEnabled, r.Enabled),
		slog.String(columnReminderChannelID, r.ChannelID),
	)
}

// jobID is the scheduler job identifier for this reminder
func (r Reminder) jobID() string {
	return fmt.Sprintf("reminder_%d", r.ID)
}

func (r Reminder) validate() error {
	if _, _, err := parseClockTime(r.Time); err != nil {
		return err
	}
	return structValidator.Struct(r)
}

// parseClockTime parses a 24-hour "HH:MM" string
func parseClockTime(s string) (hour int, minute int, err error) {
	parsed, parseErr := time.Parse("15:04", s)
	if parseErr != nil {
		return 0, 0, ErrInvalidReminderTime
	}
	return parsed.Hour(), parsed.Minute(), nil
}

// nextOccurrence returns the next time the reminder's clock value occurs,
// relative to now: today if that time is still ahead, otherwise the same
// time tomorrow.
func (r Reminder) nextOccurrence(now time.Time) (time.Time, error) {
	hour, minute, err := parseClockTime(r.Time)
	if err != nil {
		return time.Time{}, err
	}
	at := time.Date(
		now.Year(), now.Month(), now.Day(),
		hour, minute, 0, 0,
		now.Location(),
	)
	if !at.After(now) {
		at = at.Add(24 * time.Hour)
	}
	return at, nil
}

// createReminder validates and persists a new reminder
func createReminder(ctx context.Context, db DBI, r *Reminder) error {
	if err := r.validate(); err != nil {
		return err
	}

	var existing Reminder
	err := db.DB().WithContext(ctx).Where(
		"name = ?", r.Name,
	).First(&existing).Error
	switch {
	case err == nil:
		return ErrDuplicateReminderName
	case err != gorm.ErrRecordNotFound:
		return err
	}

	_, err = db.Create(ctx, r)
	return err
}

// getReminder loads a reminder by ID
func getReminder(ctx context.Context, db *gorm.DB, id uint) (*Reminder, error) {
	var reminder Reminder
	err := db.WithContext(ctx).First(&reminder, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrReminderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reminder, nil
}

// getReminderByName loads a reminder by its unique name
func getReminderByName(ctx context.Context, db *gorm.DB, name string) (*Reminder, error) {
	var reminder Reminder
	err := db.WithContext(ctx).Where("name = ?", name).First(&reminder).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrReminderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reminder, nil
}

// getReminders returns all reminders, ordered by name
func getReminders(ctx context.Context, db *gorm.DB) ([]Reminder, error) {
	var reminders []Reminder
	err := db.WithContext(ctx).Order("name asc").Find(&reminders).Error
	return reminders, err
}

// getEnabledReminders returns all enabled reminders, for startup
// scheduling
func getEnabledReminders(ctx context.Context, db *gorm.DB) ([]Reminder, error) {
	var reminders []Reminder
	err := db.WithContext(ctx).Where(
		"enabled = ?", true,
	).Find(&reminders).Error
	return reminders, err
}

// deleteReminder removes a reminder. The row is deleted outright rather
// than soft-deleted: Name carries a unique index, and a tombstone would
// block the name from ever being reused. Deleting an already-deleted
// reminder is not an error.
func deleteReminder(db DBI, id uint) error {
	db.Lock()
	defer db.Unlock()
	return db.DB().Unscoped().Delete(
		&Reminder{ModelUintID: ModelUintID{ID: id}},
	).Error
}
