package majordomo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// VoiceSession tracks a single user's presence in a guild voice channel.
// Baseline marks the start of the current un-awarded presence interval and
// advances each time experience is granted, so a user is never paid twice
// for the same stretch of time.
type VoiceSession struct {
	GuildID   string         `json:"guild_id"`
	User      discordgo.User `json:"user"`
	ChannelID string         `json:"channel_id"`
	JoinedAt  time.Time      `json:"joined_at"`
	Baseline  time.Time      `json:"baseline"`
}

func (v VoiceSession) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", v.GuildID),
		slog.String("user_id", v.User.ID),
		slog.String("channel_id", v.ChannelID),
		slog.Time("joined_at", v.JoinedAt),
		slog.Time("baseline", v.Baseline),
	)
}

// VoiceTracker maintains an in-memory registry of active voice sessions
// and periodically converts completed presence intervals into experience.
// The registry is rebuilt from gateway events; it is intentionally not
// persisted, so a restart forfeits at most one partial interval per user.
type VoiceTracker struct {
	md     *MajorDomo
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*VoiceSession

	stopped chan struct{}
}

func newVoiceTracker(md *MajorDomo, logger *slog.Logger) *VoiceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceTracker{
		md:       md,
		logger:   logger,
		sessions: map[string]*VoiceSession{},
		stopped:  make(chan struct{}),
	}
}

func voiceSessionKey(guildID, userID string) string {
	return guildID + ":" + userID
}

// Join registers the start of a user's voice presence. A user already in
// a session keeps their baseline when moving between channels, so channel
// hops don't reset interval progress.
func (t *VoiceTracker) Join(
	ctx context.Context,
	guildID string,
	user discordgo.User,
	channelID string,
) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := voiceSessionKey(guildID, user.ID)
	if existing, ok := t.sessions[key]; ok {
		existing.ChannelID = channelID
		return
	}

	now := time.Now()
	session := &VoiceSession{
		GuildID:   guildID,
		User:      user,
		ChannelID: channelID,
		JoinedAt:  now,
		Baseline:  now,
	}
	t.sessions[key] = session
	t.logger.InfoContext(ctx, "voice session started", "session", session)
}

// Leave settles any completed intervals for the user and removes their
// session. Unknown users are a no-op, which makes stale leave events safe.
func (t *VoiceTracker) Leave(ctx context.Context, guildID string, userID string) {
	t.mu.Lock()
	session, ok := t.sessions[voiceSessionKey(guildID, userID)]
	if ok {
		delete(t.sessions, voiceSessionKey(guildID, userID))
	}
	t.mu.Unlock()

	if !ok {
		return
	}

	if err := t.settleSession(ctx, session, time.Now()); err != nil {
		t.logger.ErrorContext(
			ctx,
			"error settling voice session",
			tint.Err(err),
			"session", session,
		)
	}
	t.logger.InfoContext(ctx, "voice session ended", "session", session)
}

// ActiveSessions returns a snapshot of current voice sessions.
func (t *VoiceTracker) ActiveSessions() []VoiceSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	sessions := make([]VoiceSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, *s)
	}
	return sessions
}

// Sweep settles completed intervals for every active session, advancing
// each session's baseline past the awarded time. Called on a ticker, but
// safe to invoke directly.
func (t *VoiceTracker) Sweep(ctx context.Context, now time.Time) {
	t.mu.Lock()
	sessions := make([]*VoiceSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, session := range sessions {
		if err := t.settleSession(ctx, session, now); err != nil {
			t.logger.ErrorContext(
				ctx,
				"error settling voice session",
				tint.Err(err),
				"session", session,
			)
		}
	}
}

// settleSession awards experience for each presence interval completed
// since the session baseline, then advances the baseline by exactly the
// awarded time. Partial intervals stay unawarded until they complete.
func (t *VoiceTracker) settleSession(
	ctx context.Context,
	session *VoiceSession,
	now time.Time,
) error {
	config := t.md.RuntimeConfig()
	if config.Paused {
		return nil
	}
	interval := config.VoiceSweepInterval.Duration
	if interval <= 0 {
		return nil
	}

	t.mu.Lock()
	elapsed := now.Sub(session.Baseline)
	intervals := int(elapsed / interval)
	if intervals <= 0 {
		t.mu.Unlock()
		return nil
	}
	session.Baseline = session.Baseline.Add(time.Duration(intervals) * interval)
	t.mu.Unlock()

	_, result, err := t.md.engine.AwardExperience(
		ctx,
		AwardRequest{
			User:         session.User,
			Amount:       intervals * config.VoiceExperience,
			LevelCap:     config.LevelCap,
			At:           now,
			VoiceMinutes: int64(time.Duration(intervals) * interval / time.Minute),
		},
	)
	if err != nil {
		return fmt.Errorf("error awarding voice experience: %w", err)
	}

	t.logger.InfoContext(
		ctx,
		"awarded voice experience",
		"session", session,
		"intervals", intervals,
		"awarded", result.Awarded,
	)

	if result.LeveledUp() {
		return t.md.syncMemberRoles(
			ctx,
			session.GuildID,
			session.User.ID,
			result.Level,
			nil,
		)
	}
	return nil
}

// Run sweeps active sessions on the configured interval until the context
// is canceled. Interval changes made at runtime take effect on the next
// tick.
func (t *VoiceTracker) Run(ctx context.Context) {
	defer close(t.stopped)

	interval := t.md.RuntimeConfig().VoiceSweepInterval.Duration
	if interval <= 0 {
		interval = DefaultVoiceSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("voice tracker stopping")
			return
		case now := <-ticker.C:
			t.Sweep(ctx, now)

			next := t.md.RuntimeConfig().VoiceSweepInterval.Duration
			if next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
