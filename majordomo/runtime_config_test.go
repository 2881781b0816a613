package majordomo

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateRuntimeConfig(t *testing.T) {
	t.Parallel()

	md, _ := newTestMajorDomo(t)
	ctx := context.Background()

	messageExp := 50
	cooldown := Duration{2 * time.Minute}
	models := StringList{"model-x"}
	require.NoError(
		t,
		md.updateRuntimeConfig(
			ctx,
			RuntimeConfigUpdate{
				MessageExperience: &messageExp,
				MessageCooldown:   &cooldown,
				AIModels:          &models,
			},
		),
	)

	config := md.RuntimeConfig()
	assert.Equal(t, 50, config.MessageExperience)
	assert.Equal(t, 2*time.Minute, config.MessageCooldown.Duration)
	assert.Equal(t, StringList{"model-x"}, config.AIModels)

	// unset fields keep their previous values
	assert.Equal(t, DefaultVoiceExperience, config.VoiceExperience)
	assert.Equal(t, DefaultLevelCap, config.LevelCap)

	// the change is persisted
	var stored RuntimeConfig
	require.NoError(t, md.db.DB().Last(&stored).Error)
	assert.Equal(t, 50, stored.MessageExperience)
}

func TestUpdateRuntimeConfigValidation(t *testing.T) {
	t.Parallel()

	md, _ := newTestMajorDomo(t)
	ctx := context.Background()

	tooShort := Duration{500 * time.Millisecond}
	err := md.updateRuntimeConfig(
		ctx,
		RuntimeConfigUpdate{MessageCooldown: &tooShort},
	)
	assert.ErrorIs(t, err, ErrCooldownTooShort)

	shortSweep := Duration{30 * time.Second}
	err = md.updateRuntimeConfig(
		ctx,
		RuntimeConfigUpdate{VoiceSweepInterval: &shortSweep},
	)
	assert.ErrorIs(t, err, ErrSweepIntervalTooShort)

	badExp := 0
	err = md.updateRuntimeConfig(
		ctx,
		RuntimeConfigUpdate{MessageExperience: &badExp},
	)
	assert.Error(t, err)

	// nothing changed
	config := md.RuntimeConfig()
	assert.Equal(t, DefaultMessageExperience, config.MessageExperience)
	assert.Equal(t, DefaultMessageCooldown, config.MessageCooldown.Duration)
}

func TestPauseResume(t *testing.T) {
	t.Parallel()

	md, _ := newTestMajorDomo(t)
	ctx := context.Background()

	assert.False(t, md.RuntimeConfig().Paused)

	assert.True(t, md.Pause(ctx))
	assert.True(t, md.RuntimeConfig().Paused)

	// pausing an already-paused bot reports false
	assert.False(t, md.Pause(ctx))

	assert.True(t, md.Resume(ctx))
	assert.False(t, md.RuntimeConfig().Paused)
	assert.False(t, md.Resume(ctx))

	// the pause state survives a reload from the database
	assert.True(t, md.Pause(ctx))
	md.refreshRuntimeConfig(ctx)
	assert.True(t, md.RuntimeConfig().Paused)
}

func TestGetDiscordPresenceStatusUpdate(t *testing.T) {
	t.Parallel()

	config := RuntimeConfig{DiscordCustomStatus: "around and about"}
	update := getDiscordPresenceStatusUpdate(config)
	assert.Equal(t, "around and about", update.Status)
	assert.False(t, update.AFK)

	config.Paused = true
	update = getDiscordPresenceStatusUpdate(config)
	assert.True(t, update.AFK)
	assert.Equal(t, string(discordgo.StatusDoNotDisturb), update.Status)
}

func TestDefaultRuntimeConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRuntimeConfig()
	assert.Equal(t, DefaultMessageExperience, config.MessageExperience)
	assert.Equal(t, DefaultMessageCooldown, config.MessageCooldown.Duration)
	assert.Equal(t, DefaultVoiceExperience, config.VoiceExperience)
	assert.Equal(t, DefaultVoiceSweepInterval, config.VoiceSweepInterval.Duration)
	assert.Equal(t, DefaultLevelCap, config.LevelCap)
	assert.Equal(t, DefaultAIMaxTokens, config.AIMaxTokens)
	assert.Equal(t, StringList(DefaultOpenAIModels), config.AIModels)
	assert.False(t, config.Paused)

	// the model list is a copy, not an alias of the package default
	config.AIModels[0] = "mutated"
	assert.NotEqual(t, "mutated", DefaultOpenAIModels[0])
}
