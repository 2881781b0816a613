package majordomo

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleMessageActivity awards message experience for a guild message. The
// award only happens when the bot isn't paused, the channel is tracked for
// the guild, and the user's message cooldown has elapsed. Messages inside
// the cooldown window still count toward activity stats; they just don't
// earn experience.
func (md *MajorDomo) handleMessageActivity(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	config := md.RuntimeConfig()
	if config.Paused {
		return nil
	}

	settings, err := getGuildSettings(ctx, md.db.DB(), m.GuildID)
	if err != nil {
		return fmt.Errorf("error loading guild settings: %w", err)
	}
	if !settings.channelTracked(m.ChannelID) {
		return nil
	}

	now := time.Now()
	progress, result, err := md.engine.AwardExperience(
		ctx,
		AwardRequest{
			User:     *m.Author,
			Amount:   config.MessageExperience,
			LevelCap: config.LevelCap,
			Cooldown: config.MessageCooldown.Duration,
			At:       now,
			Messages: 1,
		},
	)
	if err != nil {
		return fmt.Errorf("error awarding experience: %w", err)
	}
	if progress.Bot {
		return nil
	}

	if statErr := incrementMessageStat(ctx, md.db, m.Author.ID, now); statErr != nil {
		md.logger.WarnContext(
			ctx,
			"unable to record message stat",
			tint.Err(statErr),
			"user_id", m.Author.ID,
		)
	}

	if !result.LeveledUp() {
		return nil
	}

	md.logger.InfoContext(
		ctx,
		"message award leveled user up",
		"user", progress,
		"previous_level", result.PreviousLevel,
	)

	if announceErr := md.discord.channelMessageSend(
		m.ChannelID,
		fmt.Sprintf(
			"Congratulations %s, you reached level %d!",
			m.Author.Mention(),
			result.Level,
		),
	); announceErr != nil {
		md.logger.WarnContext(
			ctx,
			"unable to announce level-up",
			tint.Err(announceErr),
			"channel_id", m.ChannelID,
		)
	}

	return md.syncMemberRoles(ctx, m.GuildID, m.Author.ID, progress.Level, m.Member)
}

// syncMemberRoles reconciles a member's mapped roles with their level. When
// the member object isn't already in hand (voice awards, admin-triggered
// resyncs), it's fetched from the API.
func (md *MajorDomo) syncMemberRoles(
	ctx context.Context,
	guildID string,
	userID string,
	level int,
	member *discordgo.Member,
) error {
	if guildID == "" {
		return nil
	}
	if member == nil {
		var err error
		member, err = md.discord.session.GuildMember(guildID, userID)
		if err != nil {
			return fmt.Errorf("error fetching guild member: %w", err)
		}
	}
	return md.engine.SyncRoles(
		ctx,
		md.discord.session,
		guildID,
		userID,
		member.Roles,
		level,
	)
}
