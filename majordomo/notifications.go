package majordomo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// MessageSender is the slice of the Discord session the dispatcher needs
// to deliver announcements.
type MessageSender interface {
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordRequestOption,
	) (*discordgo.Message, error)
}

// Dispatcher turns persisted reminders into scheduler jobs and delivers
// their announcements. Reminder state is reloaded from the database at
// fire time, so edits made between scheduling and firing always win.
type Dispatcher struct {
	db        DBI
	scheduler *Scheduler
	sender    MessageSender
	logger    *slog.Logger
	configFn  func() RuntimeConfig
}

func NewDispatcher(
	db DBI,
	scheduler *Scheduler,
	sender MessageSender,
	configFn func() RuntimeConfig,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		db:        db,
		scheduler: scheduler,
		sender:    sender,
		configFn:  configFn,
		logger:    logger,
	}
}

// ScheduleReminder registers (or re-registers) a reminder with the
// scheduler. Disabled reminders are unscheduled instead. Recurring
// reminders fire daily at their clock time; one-shot reminders fire at the
// next occurrence of it.
func (d *Dispatcher) ScheduleReminder(r *Reminder) error {
	if !r.Enabled {
		d.scheduler.RemoveJob(r.jobID())
		return nil
	}

	next, err := r.nextOccurrence(time.Now())
	if err != nil {
		return fmt.Errorf("reminder %q: %w", r.Name, err)
	}

	job := &ScheduledJob{
		ID:        r.jobID(),
		RunAt:     next,
		Recurring: r.IsRecurring,
		Interval:  24 * time.Hour,
		Fire:      d.fireReminder(r.ID),
	}
	if err = d.scheduler.RescheduleJob(job); err != nil {
		return fmt.Errorf("error scheduling reminder %q: %w", r.Name, err)
	}
	d.logger.Info("scheduled reminder", "reminder", r, "run_at", next)
	return nil
}

// UnscheduleReminder removes a reminder's scheduler job, if present
func (d *Dispatcher) UnscheduleReminder(r *Reminder) {
	d.scheduler.RemoveJob(r.jobID())
}

// fireReminder returns the scheduler callback for a reminder ID. The
// reminder is reloaded fresh at fire time: a reminder deleted since
// scheduling drops its job, a disabled one is skipped, and a fire while
// the bot is paused leaves the reminder intact. Once a fire proceeds past
// those gates, a one-shot is deleted whether or not delivery succeeded.
func (d *Dispatcher) fireReminder(id uint) func(context.Context, ScheduledJob) {
	return func(ctx context.Context, job ScheduledJob) {
		log := d.logger.With("job_id", job.ID)

		reminder, err := getReminder(ctx, d.db.DB(), id)
		if errors.Is(err, ErrReminderNotFound) {
			log.Info("reminder gone, dropping job")
			d.scheduler.RemoveJob(job.ID)
			return
		}
		if err != nil {
			log.Error("error reloading reminder", tint.Err(err))
			return
		}

		if !reminder.Enabled {
			log.Info("reminder disabled, skipping", "reminder", reminder)
			return
		}

		config := d.configFn()
		if config.Paused {
			log.Info("bot paused, holding reminder", "reminder", reminder)
			// the scheduler consumes one-shot jobs when they fire, so a
			// held one-shot is requeued for its next occurrence
			if !reminder.IsRecurring {
				if schedErr := d.ScheduleReminder(reminder); schedErr != nil {
					log.Error(
						"error requeueing held reminder",
						tint.Err(schedErr),
						"reminder", reminder,
					)
				}
			}
			return
		}

		// past this point the fire is consumed: a one-shot is deleted even
		// when delivery fails, so a dead channel can't make it fire forever
		defer func() {
			if !reminder.IsRecurring {
				d.scheduler.RemoveJob(job.ID)
				if delErr := deleteReminder(d.db, reminder.ID); delErr != nil {
					log.Error(
						"error deleting one-shot reminder",
						tint.Err(delErr),
						"reminder", reminder,
					)
				}
			}
		}()

		channelID := reminder.ChannelID
		if channelID == "" {
			channelID = config.NotificationChannelID
		}
		if channelID == "" {
			log.Warn(
				"reminder has no channel and no notification channel is set",
				"reminder", reminder,
			)
			return
		}

		if _, sendErr := d.sender.ChannelMessageSend(
			channelID,
			reminderAnnouncement(*reminder),
		); sendErr != nil {
			log.Error(
				"error delivering reminder",
				tint.Err(sendErr),
				"reminder", reminder,
				"channel_id", channelID,
			)
			return
		}
		log.Info("delivered reminder", "reminder", reminder)
	}
}

// reminderAnnouncement formats the message posted when a reminder fires,
// prefixing any configured role mentions.
func reminderAnnouncement(r Reminder) string {
	if len(r.MentionRoleIDs) == 0 {
		return truncate(r.Message, discordMaxMessageLength)
	}
	mentions := make([]string, 0, len(r.MentionRoleIDs))
	for _, roleID := range r.MentionRoleIDs {
		mentions = append(mentions, fmt.Sprintf("<@&%s>", roleID))
	}
	return truncate(
		strings.Join(mentions, " ")+" "+r.Message,
		discordMaxMessageLength,
	)
}

// ScheduleAll loads every enabled reminder and schedules it. Called once
// at startup so reminders survive restarts; a one-shot whose time passed
// while the bot was down fires at the next occurrence of its clock time.
func (d *Dispatcher) ScheduleAll(ctx context.Context) error {
	reminders, err := getEnabledReminders(ctx, d.db.DB())
	if err != nil {
		return fmt.Errorf("error loading reminders: %w", err)
	}

	var errs []error
	for i := range reminders {
		if schedErr := d.ScheduleReminder(&reminders[i]); schedErr != nil {
			d.logger.Error(
				"error scheduling reminder",
				tint.Err(schedErr),
				"reminder", reminders[i],
			)
			errs = append(errs, schedErr)
		}
	}
	d.logger.Info("scheduled reminders", "count", len(reminders)-len(errs))
	return errors.Join(errs...)
}
