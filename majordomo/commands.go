package majordomo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandRank     = "rank"
	DiscordSlashCommandTop      = "top"
	DiscordSlashCommandActivity = "activity"
	DiscordSlashCommandAI       = "ai"
	DiscordSlashCommandRemind   = "remind"
	DiscordSlashCommandSettings = "settings"

	aiCommandPromptOption = "prompt"

	defaultTopCount = 10
	maxTopCount     = 25

	defaultActivityDays = 7
	maxActivityDays     = 90
	activityTopCount    = 10
)

func appCommandRank() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandRank,
		Description: "See your level, experience and leaderboard position",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "See another member's rank instead",
				Required:    false,
			},
		},
	}
}

func appCommandTop() *discordgo.ApplicationCommand {
	minCount := float64(1)
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandTop,
		Description: "Show the server leaderboard",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "count",
				Description: "How many members to show (default 10)",
				MinValue:    &minCount,
				MaxValue:    maxTopCount,
				Required:    false,
			},
		},
	}
}

func appCommandActivity() *discordgo.ApplicationCommand {
	minDays := float64(1)
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandActivity,
		Description: "Show current server activity",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "days",
				Description: "Show the most active members over this many days (default 7)",
				MinValue:    &minDays,
				MaxValue:    maxActivityDays,
				Required:    false,
			},
		},
	}
}

func appCommandAI() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandAI,
		Description: "Ask the assistant a question",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        aiCommandPromptOption,
				Description: "What would you like to ask?",
				Required:    true,
				MaxLength:   2000,
			},
		},
	}
}

func appCommandRemind() *discordgo.ApplicationCommand {
	manageServer := int64(discordgo.PermissionManageServer)
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandRemind,
		Description:              "Manage scheduled reminders",
		DefaultMemberPermissions: &manageServer,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add",
				Description: "Create a reminder",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Unique name for the reminder",
						Required:    true,
						MaxLength:   100,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "time",
						Description: "Time of day, 24-hour HH:MM",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "message",
						Description: "Announcement text",
						Required:    true,
						MaxLength:   2000,
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "recurring",
						Description: "Fire every day instead of once",
						Required:    false,
					},
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "channel",
						Description: "Channel to announce in",
						Required:    false,
					},
					{
						Type:        discordgo.ApplicationCommandOptionRole,
						Name:        "mention",
						Description: "Role to mention",
						Required:    false,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List reminders and their next run times",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "show",
				Description: "Show a reminder's full details",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Reminder name",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "delete",
				Description: "Delete a reminder",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Reminder name",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "toggle",
				Description: "Enable or disable a reminder",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Reminder name",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "time",
				Description: "Change a reminder's time",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Reminder name",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "time",
						Description: "New time of day, 24-hour HH:MM",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "message",
				Description: "Change a reminder's message",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Reminder name",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "message",
						Description: "New announcement text",
						Required:    true,
						MaxLength:   2000,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "rename",
				Description: "Rename a reminder",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Current reminder name",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "new-name",
						Description: "New reminder name",
						Required:    true,
						MaxLength:   100,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "channel",
				Description: "Change the channel a reminder announces in",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Reminder name",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "channel",
						Description: "Channel to announce in",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "mention",
				Description: "Change the role a reminder mentions",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Reminder name",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionRole,
						Name:        "role",
						Description: "Role to mention; omit to clear mentions",
						Required:    false,
					},
				},
			},
		},
	}
}

func appCommandSettings() *discordgo.ApplicationCommand {
	manageServer := int64(discordgo.PermissionManageServer)
	minLevel := float64(1)
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandSettings,
		Description:              "Configure experience tracking",
		DefaultMemberPermissions: &manageServer,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "pause",
				Description: "Pause experience awards and reminders",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "resume",
				Description: "Resume experience awards and reminders",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "levelrole",
				Description: "Map a role to a level",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "level",
						Description: "Level at which the role is granted",
						Required:    true,
						MinValue:    &minLevel,
						MaxValue:    DefaultLevelCap,
					},
					{
						Type:        discordgo.ApplicationCommandOptionRole,
						Name:        "role",
						Description: "Role to grant",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "levelrole-remove",
				Description: "Remove a level's role mapping",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "level",
						Description: "Level whose mapping to remove",
						Required:    true,
						MinValue:    &minLevel,
						MaxValue:    DefaultLevelCap,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "levelrole-list",
				Description: "List the level-role mappings",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "notification-channel",
				Description: "Set the default announcement channel",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "channel",
						Description: "Channel for announcements",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "track-channel",
				Description: "Limit message experience to a channel",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "channel",
						Description: "Channel to track",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "untrack-channel",
				Description: "Stop tracking a channel for message experience",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionChannel,
						Name:        "channel",
						Description: "Channel to stop tracking",
						Required:    true,
					},
				},
			},
		},
	}
}

// handlerInteractionCreate routes slash commands to their handlers. The
// whole exchange runs on its own goroutine: the session uses SyncEvents,
// and command handlers do database, OpenAI and rendering work that must
// not stall gateway dispatch. Each command is acknowledged with a deferred
// response up front, so handlers have the full interaction window.
func (d *Discord) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		user := getDiscordUser(i)
		if user == nil || user.Bot {
			return
		}
		go d.runInteraction(i, *user)
	}
}

func (d *Discord) runInteraction(
	i *discordgo.InteractionCreate,
	user discordgo.User,
) {
	ctx := WithLogger(context.Background(), d.logger)
	name := i.ApplicationCommandData().Name

	flags := discordgo.MessageFlagsEphemeral
	if name == DiscordSlashCommandTop || name == DiscordSlashCommandAI {
		flags = 0
	}
	if err := d.session.InteractionRespond(
		i.Interaction,
		d.ackResponse(flags),
	); err != nil {
		d.logger.Error(
			"error acknowledging interaction",
			tint.Err(err),
			"command", name,
		)
		return
	}

	var content string
	var files []*discordgo.File
	var err error

	switch name {
	case DiscordSlashCommandRank:
		content, files, err = d.md.handleRankCommand(ctx, i, user)
	case DiscordSlashCommandTop:
		content, err = d.md.handleTopCommand(ctx, i)
	case DiscordSlashCommandActivity:
		content, err = d.md.handleActivityCommand(ctx, i)
	case DiscordSlashCommandAI:
		content, err = d.md.handleAICommand(ctx, i)
	case DiscordSlashCommandRemind:
		content, err = d.md.handleRemindCommand(ctx, i, user)
	case DiscordSlashCommandSettings:
		content, err = d.md.handleSettingsCommand(ctx, i)
	default:
		content = DefaultDiscordErrorMessage
		d.logger.Warn("unknown command", "command", name)
	}

	if err != nil {
		d.logger.Error(
			"command failed",
			tint.Err(err),
			"command", name,
			"user_id", user.ID,
		)
		if content == "" {
			content = DefaultDiscordErrorMessage
		}
	}

	edit := &discordgo.WebhookEdit{Content: &content}
	if len(files) > 0 {
		edit.Files = files
	}
	if _, editErr := d.session.InteractionResponseEdit(
		i.Interaction,
		edit,
	); editErr != nil {
		d.logger.Error(
			"error editing interaction response",
			tint.Err(editErr),
			"command", name,
		)
	}
}

// handleRankCommand responds with the target user's rank card. If the
// card can't be rendered (no headless browser available, render timeout),
// the stats are returned as plain text instead of failing the command.
func (md *MajorDomo) handleRankCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	caller discordgo.User,
) (string, []*discordgo.File, error) {
	target := caller
	options := discordInteractionOptions(i)
	if opt, ok := options["user"]; ok {
		if u := opt.UserValue(nil); u != nil {
			target = *u
		}
	}

	progress, _, err := getOrCreateUserProgress(ctx, md.db, target)
	if err != nil {
		return "", nil, err
	}
	rank, err := rankOf(ctx, md.db.DB(), progress)
	if err != nil {
		return "", nil, err
	}

	card, renderErr := md.card.Render(
		ctx, RankCardData{
			Username:   displayName(target),
			Level:      progress.Level,
			Experience: progress.Experience,
			NextLevel:  experienceToNextLevel(progress.Level),
			TotalExp:   progress.TotalExp,
			Rank:       rank,
			AvatarURL:  target.AvatarURL("128"),
		},
	)
	if renderErr == nil {
		return "", []*discordgo.File{
			{
				Name:        fmt.Sprintf("rank_%s.png", target.ID),
				ContentType: "image/png",
				Reader:      card,
			},
		}, nil
	}
	md.logger.WarnContext(ctx, "rank card render failed", tint.Err(renderErr))

	return fmt.Sprintf(
		"**%s** is rank **#%d** at level **%d** (%d/%d exp, %d total)",
		displayName(target),
		rank,
		progress.Level,
		progress.Experience,
		experienceToNextLevel(progress.Level),
		progress.TotalExp,
	), nil, nil
}

func displayName(u discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func (md *MajorDomo) handleTopCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	count := defaultTopCount
	options := discordInteractionOptions(i)
	if opt, ok := options["count"]; ok {
		count = int(opt.IntValue())
	}

	users, err := topUsers(ctx, md.db.DB(), count)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "Nobody's on the board yet!", nil
	}

	var sb strings.Builder
	sb.WriteString("**Leaderboard**\n")
	for n, u := range users {
		name := u.GlobalName
		if name == "" {
			name = u.Username
		}
		fmt.Fprintf(
			&sb,
			"%d. **%s** - level %d (%d exp)\n",
			n+1,
			name,
			u.Level,
			u.TotalExp,
		)
	}
	return truncate(sb.String(), discordMaxMessageLength), nil
}

func (md *MajorDomo) handleActivityCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	days := defaultActivityDays
	options := discordInteractionOptions(i)
	if opt, ok := options["days"]; ok {
		days = int(opt.IntValue())
	}

	var tracked int64
	if err := md.db.DB().WithContext(ctx).Model(&UserProgress{}).Where(
		"bot = ?", false,
	).Count(&tracked).Error; err != nil {
		return "", err
	}

	active, err := topActiveUsers(ctx, md.db.DB(), days, activityTopCount)
	if err != nil {
		return "", err
	}

	voiceSessions := md.voiceTracker.ActiveSessions()
	config := md.RuntimeConfig()

	var sb strings.Builder
	sb.WriteString("**Server activity**\n")
	fmt.Fprintf(&sb, "Members tracked: %d\n", tracked)
	fmt.Fprintf(&sb, "In voice right now: %d\n", len(voiceSessions))
	fmt.Fprintf(
		&sb,
		"Message award: %d exp (every %s)\n",
		config.MessageExperience,
		config.MessageCooldown.Duration,
	)
	fmt.Fprintf(
		&sb,
		"Voice award: %d exp per %s\n",
		config.VoiceExperience,
		config.VoiceSweepInterval.Duration,
	)
	if config.Paused {
		sb.WriteString("Experience awards are currently **paused**\n")
	}

	if len(active) > 0 {
		fmt.Fprintf(&sb, "\n**Most active over the last %d day(s)**\n", days)
		for n, a := range active {
			fmt.Fprintf(
				&sb,
				"%d. **%s** - %d message(s)\n",
				n+1,
				a.Username,
				a.Messages,
			)
		}
	}
	return truncate(sb.String(), discordMaxMessageLength), nil
}

func (md *MajorDomo) handleAICommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	options := discordInteractionOptions(i)
	opt, ok := options[aiCommandPromptOption]
	if !ok {
		return "Please provide a prompt.", nil
	}

	answer, err := md.openai.Complete(ctx, opt.StringValue())
	if err != nil {
		return "Sorry, I couldn't get an answer right now. Try again in a bit.", err
	}
	return answer, nil
}

func (md *MajorDomo) handleRemindCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	caller discordgo.User,
) (string, error) {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return "Please choose a subcommand.", nil
	}
	sub := options[0]
	subOptions := subcommandOptions(sub)

	switch sub.Name {
	case "add":
		reminder := &Reminder{
			Name:      subOptions["name"].StringValue(),
			Time:      subOptions["time"].StringValue(),
			Message:   subOptions["message"].StringValue(),
			Enabled:   true,
			CreatedBy: caller.ID,
		}
		if opt, ok := subOptions["recurring"]; ok {
			reminder.IsRecurring = opt.BoolValue()
		}
		if opt, ok := subOptions["channel"]; ok {
			if ch := opt.ChannelValue(nil); ch != nil {
				reminder.ChannelID = ch.ID
			}
		}
		if opt, ok := subOptions["mention"]; ok {
			if role := opt.RoleValue(nil, i.GuildID); role != nil {
				reminder.MentionRoleIDs = StringList{role.ID}
			}
		}
		if err := createReminder(ctx, md.db, reminder); err != nil {
			if errors.Is(err, ErrInvalidReminderTime) ||
				errors.Is(err, ErrDuplicateReminderName) {
				return err.Error(), nil
			}
			return "", err
		}
		if err := md.dispatcher.ScheduleReminder(reminder); err != nil {
			return "", err
		}
		next, _ := md.scheduler.NextRun(reminder.jobID())
		return fmt.Sprintf(
			"Reminder **%s** created. Next run: %s",
			reminder.Name,
			next.Format(time.RFC1123),
		), nil

	case "list":
		reminders, err := getReminders(ctx, md.db.DB())
		if err != nil {
			return "", err
		}
		if len(reminders) == 0 {
			return "No reminders are set.", nil
		}
		var sb strings.Builder
		sb.WriteString("**Reminders**\n")
		for _, r := range reminders {
			state := "enabled"
			if !r.Enabled {
				state = "disabled"
			}
			kind := "one-shot"
			if r.IsRecurring {
				kind = "daily"
			}
			line := fmt.Sprintf(
				"- **%s** at %s (%s, %s)",
				r.Name, r.Time, kind, state,
			)
			if next, ok := md.scheduler.NextRun(r.jobID()); ok {
				line += " next: " + next.Format(time.RFC1123)
			}
			sb.WriteString(line + "\n")
		}
		return truncate(sb.String(), discordMaxMessageLength), nil

	case "delete":
		reminder, err := getReminderByName(
			ctx, md.db.DB(), subOptions["name"].StringValue(),
		)
		if errors.Is(err, ErrReminderNotFound) {
			return err.Error(), nil
		}
		if err != nil {
			return "", err
		}
		md.dispatcher.UnscheduleReminder(reminder)
		if err = deleteReminder(md.db, reminder.ID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Reminder **%s** deleted.", reminder.Name), nil

	case "toggle":
		reminder, err := getReminderByName(
			ctx, md.db.DB(), subOptions["name"].StringValue(),
		)
		if errors.Is(err, ErrReminderNotFound) {
			return err.Error(), nil
		}
		if err != nil {
			return "", err
		}
		reminder.Enabled = !reminder.Enabled
		if _, err = md.db.Update(
			ctx, reminder, columnReminderEnabled, reminder.Enabled,
		); err != nil {
			return "", err
		}
		if err = md.dispatcher.ScheduleReminder(reminder); err != nil {
			return "", err
		}
		state := "enabled"
		if !reminder.Enabled {
			state = "disabled"
		}
		return fmt.Sprintf("Reminder **%s** is now %s.", reminder.Name, state), nil

	case "time":
		reminder, err := getReminderByName(
			ctx, md.db.DB(), subOptions["name"].StringValue(),
		)
		if errors.Is(err, ErrReminderNotFound) {
			return err.Error(), nil
		}
		if err != nil {
			return "", err
		}
		newTime := subOptions["time"].StringValue()
		if _, _, err = parseClockTime(newTime); err != nil {
			return err.Error(), nil
		}
		reminder.Time = newTime
		if _, err = md.db.Update(
			ctx, reminder, columnReminderTime, newTime,
		); err != nil {
			return "", err
		}
		if err = md.dispatcher.ScheduleReminder(reminder); err != nil {
			return "", err
		}
		next, _ := md.scheduler.NextRun(reminder.jobID())
		return fmt.Sprintf(
			"Reminder **%s** moved to %s. Next run: %s",
			reminder.Name,
			newTime,
			next.Format(time.RFC1123),
		), nil

	case "message":
		reminder, err := getReminderByName(
			ctx, md.db.DB(), subOptions["name"].StringValue(),
		)
		if errors.Is(err, ErrReminderNotFound) {
			return err.Error(), nil
		}
		if err != nil {
			return "", err
		}
		if _, err = md.db.Update(
			ctx,
			reminder,
			columnReminderMessage,
			subOptions["message"].StringValue(),
		); err != nil {
			return "", err
		}
		return fmt.Sprintf("Reminder **%s** updated.", reminder.Name), nil

	case "show":
		reminder, err := getReminderByName(
			ctx, md.db.DB(), subOptions["name"].StringValue(),
		)
		if errors.Is(err, ErrReminderNotFound) {
			return err.Error(), nil
		}
		if err != nil {
			return "", err
		}
		kind := "one-shot"
		if reminder.IsRecurring {
			kind = "daily"
		}
		state := "enabled"
		if !reminder.Enabled {
			state = "disabled"
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "**%s** (%s, %s)\n", reminder.Name, kind, state)
		fmt.Fprintf(&sb, "Time: %s\n", reminder.Time)
		fmt.Fprintf(&sb, "Message: %s\n", reminder.Message)
		if reminder.ChannelID != "" {
			fmt.Fprintf(&sb, "Channel: <#%s>\n", reminder.ChannelID)
		}
		for _, roleID := range reminder.MentionRoleIDs {
			fmt.Fprintf(&sb, "Mentions: <@&%s>\n", roleID)
		}
		if reminder.CreatedBy != "" {
			fmt.Fprintf(&sb, "Created by: <@%s>\n", reminder.CreatedBy)
		}
		if next, ok := md.scheduler.NextRun(reminder.jobID()); ok {
			fmt.Fprintf(&sb, "Next run: %s\n", next.Format(time.RFC1123))
		}
		return truncate(sb.String(), discordMaxMessageLength), nil

	case "rename":
		reminder, err := getReminderByName(
			ctx, md.db.DB(), subOptions["name"].StringValue(),
		)
		if errors.Is(err, ErrReminderNotFound) {
			return err.Error(), nil
		}
		if err != nil {
			return "", err
		}
		newName := subOptions["new-name"].StringValue()
		if _, nameErr := getReminderByName(ctx, md.db.DB(), newName); nameErr == nil {
			return ErrDuplicateReminderName.Error(), nil
		}
		oldName := reminder.Name
		if _, err = md.db.Update(
			ctx, reminder, columnReminderName, newName,
		); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"Reminder **%s** renamed to **%s**.", oldName, newName,
		), nil

	case "channel":
		reminder, err := getReminderByName(
			ctx, md.db.DB(), subOptions["name"].StringValue(),
		)
		if errors.Is(err, ErrReminderNotFound) {
			return err.Error(), nil
		}
		if err != nil {
			return "", err
		}
		ch := subOptions["channel"].ChannelValue(nil)
		if ch == nil {
			return "Please provide a channel.", nil
		}
		if _, err = md.db.Update(
			ctx, reminder, columnReminderChannelID, ch.ID,
		); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"Reminder **%s** will announce in <#%s>.", reminder.Name, ch.ID,
		), nil

	case "mention":
		reminder, err := getReminderByName(
			ctx, md.db.DB(), subOptions["name"].StringValue(),
		)
		if errors.Is(err, ErrReminderNotFound) {
			return err.Error(), nil
		}
		if err != nil {
			return "", err
		}
		var mentions StringList
		if opt, ok := subOptions["role"]; ok {
			if role := opt.RoleValue(nil, i.GuildID); role != nil {
				mentions = StringList{role.ID}
			}
		}
		if _, err = md.db.Update(
			ctx, reminder, columnReminderMentions, mentions,
		); err != nil {
			return "", err
		}
		if len(mentions) == 0 {
			return fmt.Sprintf(
				"Reminder **%s** no longer mentions a role.", reminder.Name,
			), nil
		}
		return fmt.Sprintf(
			"Reminder **%s** will mention <@&%s>.", reminder.Name, mentions[0],
		), nil

	default:
		return "Please choose a subcommand.", nil
	}
}

func (md *MajorDomo) handleSettingsCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) (string, error) {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return "Please choose a subcommand.", nil
	}
	sub := options[0]
	subOptions := subcommandOptions(sub)

	switch sub.Name {
	case "pause":
		if md.Pause(ctx) {
			return "Paused. No experience will be awarded and reminders are held.", nil
		}
		return "Already paused.", nil

	case "resume":
		if md.Resume(ctx) {
			return "Resumed.", nil
		}
		return "Wasn't paused.", nil

	case "levelrole":
		level := int(subOptions["level"].IntValue())
		role := subOptions["role"].RoleValue(nil, i.GuildID)
		if role == nil {
			return "Please provide a role.", nil
		}
		mapping := &LevelRole{
			GuildID: i.GuildID,
			Level:   level,
			RoleID:  role.ID,
		}
		if _, err := md.db.Create(ctx, mapping); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"Members reaching level %d will now receive <@&%s>.",
			level,
			role.ID,
		), nil

	case "levelrole-remove":
		level := int(subOptions["level"].IntValue())
		rowsAffected, err := deleteLevelRole(md.db, i.GuildID, level)
		if err != nil {
			return "", err
		}
		if rowsAffected == 0 {
			return fmt.Sprintf("Level %d has no role mapping.", level), nil
		}
		return fmt.Sprintf(
			"Level %d no longer grants a role.", level,
		), nil

	case "levelrole-list":
		mappings, err := getLevelRoles(ctx, md.db.DB(), i.GuildID)
		if err != nil {
			return "", err
		}
		if len(mappings) == 0 {
			return "No level roles are mapped.", nil
		}
		var sb strings.Builder
		sb.WriteString("**Level roles**\n")
		for _, m := range mappings {
			fmt.Fprintf(&sb, "Level %d: <@&%s>\n", m.Level, m.RoleID)
		}
		return truncate(sb.String(), discordMaxMessageLength), nil

	case "notification-channel":
		ch := subOptions["channel"].ChannelValue(nil)
		if ch == nil {
			return "Please provide a channel.", nil
		}
		if err := md.updateRuntimeConfig(
			ctx,
			RuntimeConfigUpdate{NotificationChannelID: &ch.ID},
		); err != nil {
			return "", err
		}
		return fmt.Sprintf("Announcements will be sent to <#%s>.", ch.ID), nil

	case "track-channel":
		ch := subOptions["channel"].ChannelValue(nil)
		if ch == nil {
			return "Please provide a channel.", nil
		}
		settings, err := getGuildSettings(ctx, md.db.DB(), i.GuildID)
		if err != nil {
			return "", err
		}
		if settings.TrackedChannelIDs.Contains(ch.ID) {
			return fmt.Sprintf("<#%s> is already tracked.", ch.ID), nil
		}
		settings.TrackedChannelIDs = append(settings.TrackedChannelIDs, ch.ID)
		if _, err = md.db.Save(ctx, &settings); err != nil {
			return "", err
		}
		return fmt.Sprintf("Message experience now accrues in <#%s>.", ch.ID), nil

	case "untrack-channel":
		ch := subOptions["channel"].ChannelValue(nil)
		if ch == nil {
			return "Please provide a channel.", nil
		}
		settings, err := getGuildSettings(ctx, md.db.DB(), i.GuildID)
		if err != nil {
			return "", err
		}
		var kept StringList
		for _, id := range settings.TrackedChannelIDs {
			if id != ch.ID {
				kept = append(kept, id)
			}
		}
		settings.TrackedChannelIDs = kept
		if _, err = md.db.Save(ctx, &settings); err != nil {
			return "", err
		}
		return fmt.Sprintf("<#%s> is no longer tracked.", ch.ID), nil

	default:
		return "Please choose a subcommand.", nil
	}
}
