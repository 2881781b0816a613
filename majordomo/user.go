package majordomo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	columnUserProgressUserID       = "user_id"
	columnUserProgressUsername     = "username"
	columnUserProgressGlobalName   = "global_name"
	columnUserProgressLevel        = "level"
	columnUserProgressExperience   = "experience"
	columnUserProgressTotalExp     = "total_exp"
	columnUserProgressLastExpTime  = "last_exp_time"
	columnUserProgressMessageCount = "message_count"
	columnUserProgressVoiceMinutes = "voice_minutes"
	columnUserProgressGrantedRoles = "granted_roles"
)

// UserProgress is a record of a Discord user and their leveling state.
// Experience resets at each level-up; TotalExp only ever increases and is
// used to break ties when ranking users at the same level.
//
//nolint:lll // struct tags can't be split
type UserProgress struct {
	// UserID is the Discord user ID
	UserID string `json:"user_id" gorm:"primaryKey;unique;type:string"`

	// Username, not unique
	Username string `json:"username" gorm:"type:string"`

	// User's display name
	GlobalName string `json:"global_name" gorm:"type:string"`

	// Indicates this user is a Discord bot user. Bots never accrue
	// experience.
	Bot bool `json:"bot" gorm:"type:bool"`

	// Level is the user's current level, starting at 1
	Level int `json:"level" gorm:"not null;default:1"`

	// Experience accrued toward the next level
	Experience int `json:"experience" gorm:"not null;default:0"`

	// TotalExp is lifetime experience, never reset
	TotalExp int `json:"total_exp" gorm:"not null;default:0"`

	// LastExpTime is the unix-ms time experience was last awarded for a
	// message. Used to enforce the message cooldown.
	LastExpTime int64 `json:"last_exp_time" gorm:"column:last_exp_time"`

	// LastVoiceAward is the unix-ms start of the current voice presence
	// interval, zero when the user isn't in voice
	LastVoiceAward int64 `json:"last_voice_award" gorm:"column:last_voice_award"`

	// MessageCount is the lifetime number of messages counted for this user
	MessageCount int64 `json:"message_count" gorm:"not null;default:0"`

	// VoiceMinutes is the lifetime voice presence credited, in minutes
	VoiceMinutes int64 `json:"voice_minutes" gorm:"not null;default:0"`

	// GrantedRoles is the set of level-mapped role IDs last applied to the
	// user, recorded after each role sync
	GrantedRoles StringList `json:"granted_roles" gorm:"type:string"`

	ModelUnixTime
}

func NewUserProgress(u discordgo.User) *UserProgress {
	return &UserProgress{
		UserID:     u.ID,
		Username:   u.Username,
		GlobalName: u.GlobalName,
		Bot:        u.Bot,
		Level:      1,
	}
}

func (UserProgress) TableName() string {
	return "user_progress"
}

func (u *UserProgress) String() string {
	return fmt.Sprintf("%s [%s] lvl %d", u.Username, u.UserID, u.Level)
}

func (u *UserProgress) LogValue() slog.Value {
	if u == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String(columnUserProgressUserID, u.UserID),
		slog.String(columnUserProgressUsername, u.Username),
		slog.Int(columnUserProgressLevel, u.Level),
		slog.Int(columnUserProgressExperience, u.Experience),
		slog.Int(columnUserProgressTotalExp, u.TotalExp),
	)
}

// progressChangedDiscordUsername compares the stored username fields with the
// given discordgo.User, to avoid 'drift' when users update their profile.
func (u *UserProgress) progressChangedDiscordUsername(d discordgo.User) bool {
	return (d.Username != u.Username) || (d.GlobalName != u.GlobalName)
}

// eligibleForAward reports whether enough time has passed since the user's
// last message experience award. A zero LastExpTime (never awarded) is
// always eligible.
func (u *UserProgress) eligibleForAward(at time.Time, cooldown time.Duration) bool {
	if u.LastExpTime == 0 {
		return true
	}
	last := time.UnixMilli(u.LastExpTime)
	return at.Sub(last) >= cooldown
}

// getOrCreateUserProgress loads a user's progress record, creating it if
// the user hasn't been seen before. Username fields are refreshed if the
// Discord profile changed.
func getOrCreateUserProgress(
	ctx context.Context,
	db DBI,
	u discordgo.User,
) (*UserProgress, bool, error) {
	var progress UserProgress
	err := db.DB().WithContext(ctx).Where(
		"user_id = ?", u.ID,
	).First(&progress).Error

	switch {
	case err == nil:
		if progress.progressChangedDiscordUsername(u) {
			progress.Username = u.Username
			progress.GlobalName = u.GlobalName
			if _, updateErr := db.Updates(
				ctx,
				&progress,
				map[string]any{
					columnUserProgressUsername:   u.Username,
					columnUserProgressGlobalName: u.GlobalName,
				},
			); updateErr != nil {
				return &progress, false, updateErr
			}
		}
		return &progress, false, nil
	case err == gorm.ErrRecordNotFound:
		created := NewUserProgress(u)
		if _, createErr := db.Create(ctx, created); createErr != nil {
			return nil, false, createErr
		}
		return created, true, nil
	default:
		return nil, false, err
	}
}

// rankOf returns the user's 1-based position on the leaderboard. Users are
// ordered by level, then lifetime experience.
func rankOf(ctx context.Context, db *gorm.DB, u *UserProgress) (int64, error) {
	var higher int64
	err := db.WithContext(ctx).Model(&UserProgress{}).Where(
		"bot = ? AND (level > ? OR (level = ? AND total_exp > ?))",
		false,
		u.Level,
		u.Level,
		u.TotalExp,
	).Count(&higher).Error
	return higher + 1, err
}

// topUsers returns the top n users by level, breaking ties on lifetime
// experience. Bots are excluded.
func topUsers(ctx context.Context, db *gorm.DB, n int) ([]UserProgress, error) {
	var users []UserProgress
	err := db.WithContext(ctx).Model(&UserProgress{}).Where(
		"bot = ?", false,
	).Order(
		clause.OrderBy{
			Columns: []clause.OrderByColumn{
				{Column: clause.Column{Name: columnUserProgressLevel}, Desc: true},
				{Column: clause.Column{Name: columnUserProgressTotalExp}, Desc: true},
			},
		},
	).Limit(n).Find(&users).Error
	return users, err
}

// LevelRole maps a level to the Discord role granted when a user reaches
// it. Role grants are cumulative: a user at level N holds the roles for
// every mapped level up to and including N.
type LevelRole struct {
	ModelUintID
	ModelUnixTime

	// GuildID scopes the mapping to a guild
	GuildID string `json:"guild_id" gorm:"type:string;index;uniqueIndex:idx_guild_level"`

	// Level at which the role is granted
	Level int `json:"level" gorm:"not null;uniqueIndex:idx_guild_level"`

	// RoleID is the Discord role to grant
	RoleID string `json:"role_id" gorm:"type:string;not null"`
}

func (LevelRole) TableName() string {
	return "level_roles"
}

// deleteLevelRole removes a guild's role mapping for a level outright.
// idx_guild_level is a unique index, so a soft-deleted tombstone would
// block the level from ever being remapped.
func deleteLevelRole(db DBI, guildID string, level int) (int64, error) {
	db.Lock()
	defer db.Unlock()
	rv := db.DB().Unscoped().Where(
		"guild_id = ? AND level = ?", guildID, level,
	).Delete(&LevelRole{})
	return rv.RowsAffected, rv.Error
}

// getLevelRoles returns all level-role mappings for a guild, ordered by
// level ascending.
func getLevelRoles(ctx context.Context, db *gorm.DB, guildID string) ([]LevelRole, error) {
	var roles []LevelRole
	err := db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("level asc").Find(&roles).Error
	return roles, err
}

// GuildSettings holds per-guild experience tracking settings.
//
//nolint:lll // struct tags can't be split
type GuildSettings struct {
	ModelUnixTime

	// GuildID is the Discord guild (server) ID
	GuildID string `json:"guild_id" gorm:"primaryKey;unique;type:string"`

	// TrackedChannelIDs limits message experience to these channels.
	// Empty means all channels are tracked.
	TrackedChannelIDs StringList `json:"tracked_channel_ids" gorm:"type:string"`

	// IgnoredChannelIDs are never tracked, even when TrackedChannelIDs
	// is empty
	IgnoredChannelIDs StringList `json:"ignored_channel_ids" gorm:"type:string"`
}

func (GuildSettings) TableName() string {
	return "guild_settings"
}

// channelTracked reports whether message experience should accrue for
// messages in the given channel.
func (g GuildSettings) channelTracked(channelID string) bool {
	if g.IgnoredChannelIDs.Contains(channelID) {
		return false
	}
	if len(g.TrackedChannelIDs) == 0 {
		return true
	}
	return g.TrackedChannelIDs.Contains(channelID)
}

// getGuildSettings loads a guild's settings, returning defaults (track
// everything) when no record exists.
func getGuildSettings(ctx context.Context, db *gorm.DB, guildID string) (GuildSettings, error) {
	var settings GuildSettings
	err := db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).First(&settings).Error
	if err == gorm.ErrRecordNotFound {
		return GuildSettings{GuildID: guildID}, nil
	}
	return settings, err
}

const messageStatDayFormat = "2006-01-02"

// MessageStat counts a user's tracked messages for a single calendar day.
// One row exists per user per day; rows are upserted as messages arrive.
type MessageStat struct {
	ModelUintID
	ModelUnixTime

	// UserID is the Discord user ID
	UserID string `json:"user_id" gorm:"type:string;not null;uniqueIndex:idx_user_day"`

	// Day in "2006-01-02" form, UTC
	Day string `json:"day" gorm:"type:string;not null;uniqueIndex:idx_user_day"`

	// Count of tracked messages seen on Day
	Count int64 `json:"count" gorm:"not null;default:0"`
}

func (MessageStat) TableName() string {
	return "message_stats"
}

// incrementMessageStat bumps the user's message counter for the day
// containing at, inserting the row on first sight.
func incrementMessageStat(
	ctx context.Context,
	db DBI,
	userID string,
	at time.Time,
) error {
	stat := MessageStat{
		UserID: userID,
		Day:    at.UTC().Format(messageStatDayFormat),
		Count:  1,
	}
	return db.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{
						{Name: columnUserProgressUserID},
						{Name: "day"},
					},
					DoUpdates: clause.Assignments(
						map[string]any{"count": gorm.Expr("count + 1")},
					),
				},
			).Create(&stat).Error
		},
	)
}

// userMessageCount returns the user's tracked message total over the last
// `days` calendar days, including today.
func userMessageCount(
	ctx context.Context,
	db *gorm.DB,
	userID string,
	days int,
) (int64, error) {
	if days < 1 {
		days = 1
	}
	since := time.Now().UTC().AddDate(0, 0, -(days - 1)).Format(messageStatDayFormat)
	var total int64
	err := db.WithContext(ctx).Model(&MessageStat{}).Where(
		"user_id = ? AND day >= ?", userID, since,
	).Select("COALESCE(SUM(count), 0)").Scan(&total).Error
	return total, err
}

// userMessageTotal pairs a user with their message count over a window.
type userMessageTotal struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Messages int64  `json:"messages"`
}

// topActiveUsers returns the n most active users by tracked messages over
// the last `days` calendar days, most active first. Bots are excluded.
func topActiveUsers(
	ctx context.Context,
	db *gorm.DB,
	days int,
	n int,
) ([]userMessageTotal, error) {
	if days < 1 {
		days = 1
	}
	since := time.Now().UTC().AddDate(0, 0, -(days - 1)).Format(messageStatDayFormat)
	var totals []userMessageTotal
	err := db.WithContext(ctx).Model(&MessageStat{}).Select(
		"message_stats.user_id AS user_id, "+
			"user_progress.username AS username, "+
			"SUM(message_stats.count) AS messages",
	).Joins(
		"JOIN user_progress ON user_progress.user_id = message_stats.user_id",
	).Where(
		"message_stats.day >= ? AND user_progress.bot = ?", since, false,
	).Group(
		"message_stats.user_id, user_progress.username",
	).Order("messages DESC").Limit(n).Scan(&totals).Error
	return totals, err
}
