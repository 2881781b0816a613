package majordomo

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"
)

const (
	DefaultMessageExperience  = 25
	DefaultMessageCooldown    = time.Minute
	DefaultVoiceExperience    = 100
	DefaultVoiceSweepInterval = 10 * time.Minute
	DefaultLevelCap           = 100
	DefaultAIMaxTokens        = 500
	DefaultAIResponseMaxLen   = discordMaxMessageLength
	DefaultAISystemPrompt     = "You are MajorDomo, a helpful Discord " +
		"community assistant. Keep answers concise and friendly."
)

// RuntimeConfig stores settings that operators can change while the bot is
// running, persisted across restarts. This is the 'live' application state:
// experience tuning, pause state, AI behavior and admin credentials.
//
// A single row exists; it's created with defaults on first startup.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused indicates whether the bot is currently paused. While paused,
	// no experience is awarded and reminders are held.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// DiscordCustomStatus is the custom status message displayed for the
	// bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string"`

	// MessageExperience is awarded per eligible message
	MessageExperience int `json:"message_experience" gorm:"default:25" binding:"omitempty,min=1,max=10000"`

	// MessageCooldown is the minimum interval between experience awards
	// for the same user's messages
	MessageCooldown Duration `json:"message_cooldown" gorm:"default:'1m0s'"`

	// VoiceExperience is awarded per completed voice presence interval
	VoiceExperience int `json:"voice_experience" gorm:"default:100" binding:"omitempty,min=1,max=10000"`

	// VoiceSweepInterval is how often active voice sessions are checked
	// for elapsed presence intervals
	VoiceSweepInterval Duration `json:"voice_sweep_interval" gorm:"default:'10m0s'"`

	// LevelCap is the maximum attainable level
	LevelCap int `json:"level_cap" gorm:"default:100" binding:"omitempty,min=1,max=1000"`

	// AISystemPrompt is prepended to every completion request
	AISystemPrompt string `json:"ai_system_prompt" gorm:"type:string"`

	// AIModels is the ordered completion model fallback list
	AIModels StringList `json:"ai_models" gorm:"type:string"`

	// AIMaxTokens caps completion length
	AIMaxTokens int `json:"ai_max_tokens" gorm:"default:500" binding:"omitempty,min=1,max=16384"`

	// AIMaxRequestsPerSecond is the rate limit for outgoing completion
	// requests
	AIMaxRequestsPerSecond int `gorm:"column:ai_max_requests_per_second;default:1" json:"ai_max_requests_per_second" binding:"omitempty,min=1"`

	// NotificationChannelID is the channel used for startup announcements
	// and for reminders that don't specify their own channel
	NotificationChannelID string `json:"notification_channel_id" gorm:"type:string"`

	// AdminUsername for the operator API
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the hashed password for the admin user
	AdminPassword string `json:"admin_password" gorm:"type:string" log:"[redacted]"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func DefaultRuntimeConfig() RuntimeConfig {
	models := make(StringList, len(DefaultOpenAIModels))
	copy(models, DefaultOpenAIModels)

	return RuntimeConfig{
		DiscordCustomStatus:    DefaultDiscordCustomStatus,
		MessageExperience:      DefaultMessageExperience,
		MessageCooldown:        Duration{DefaultMessageCooldown},
		VoiceExperience:        DefaultVoiceExperience,
		VoiceSweepInterval:     Duration{DefaultVoiceSweepInterval},
		LevelCap:               DefaultLevelCap,
		AISystemPrompt:         DefaultAISystemPrompt,
		AIModels:               models,
		AIMaxTokens:            DefaultAIMaxTokens,
		AIMaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
	}
}

// RuntimeConfigUpdate is the payload accepted by the operator API to update
// [RuntimeConfig]. Nil fields are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused *bool `json:"paused,omitempty"`

	DiscordCustomStatus *string `json:"discord_custom_status,omitempty" binding:"omitnil,max=128"`

	MessageExperience *int      `json:"message_experience,omitempty" binding:"omitnil,min=1,max=10000"`
	MessageCooldown   *Duration `json:"message_cooldown,omitempty"`

	VoiceExperience    *int      `json:"voice_experience,omitempty" binding:"omitnil,min=1,max=10000"`
	VoiceSweepInterval *Duration `json:"voice_sweep_interval,omitempty"`

	LevelCap *int `json:"level_cap,omitempty" binding:"omitnil,min=1,max=1000"`

	AISystemPrompt         *string     `json:"ai_system_prompt,omitempty"`
	AIModels               *StringList `json:"ai_models,omitempty"`
	AIMaxTokens            *int        `json:"ai_max_tokens,omitempty" binding:"omitnil,min=1,max=16384"`
	AIMaxRequestsPerSecond *int        `json:"ai_max_requests_per_second,omitempty" binding:"omitnil,min=1,max=30000"`

	NotificationChannelID *string `json:"notification_channel_id,omitempty"`
}

func (b RuntimeConfigUpdate) validate() error {
	if err := structValidator.Struct(b); err != nil {
		return err
	}
	if b.MessageCooldown != nil && b.MessageCooldown.Duration < time.Second {
		return ErrCooldownTooShort
	}
	if b.VoiceSweepInterval != nil && b.VoiceSweepInterval.Duration < time.Minute {
		return ErrSweepIntervalTooShort
	}
	return nil
}

func getDiscordPresenceStatusUpdate(config RuntimeConfig) discordgo.GatewayStatusUpdate {
	if config.Paused {
		return discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	return discordgo.GatewayStatusUpdate{Status: config.DiscordCustomStatus}
}
