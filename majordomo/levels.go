package majordomo

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// levelThresholds holds the experience required to advance from each level,
// indexed by level. Levels 1 and 2 both require 100; each level after that
// requires 20% more than the previous, truncated.
var levelThresholds = buildLevelThresholds(DefaultLevelCap)

func buildLevelThresholds(maxLevel int) []int {
	thresholds := make([]int, maxLevel+1)
	thresholds[1] = 100
	if maxLevel >= 2 {
		thresholds[2] = 100
	}
	for level := 3; level <= maxLevel; level++ {
		thresholds[level] = int(math.Floor(float64(thresholds[level-1]) * 1.2))
	}
	return thresholds
}

// experienceToNextLevel returns the experience required to advance past the
// given level. Levels at or beyond the table bound never advance.
func experienceToNextLevel(level int) int {
	if level < 1 || level >= len(levelThresholds) {
		return math.MaxInt
	}
	return levelThresholds[level]
}

// LevelingEngine applies experience awards and keeps Discord roles in sync
// with user levels. Awards for the same user are serialized so concurrent
// message and voice awards can't lose progress.
type LevelingEngine struct {
	db     DBI
	logger *slog.Logger

	userMu   map[string]*sync.Mutex
	userMuMu sync.Mutex
}

func NewLevelingEngine(db DBI, logger *slog.Logger) *LevelingEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &LevelingEngine{
		db:     db,
		logger: logger,
		userMu: map[string]*sync.Mutex{},
	}
}

// lockUser returns the mutex serializing awards for a single user,
// creating it on first use.
func (e *LevelingEngine) lockUser(userID string) *sync.Mutex {
	e.userMuMu.Lock()
	defer e.userMuMu.Unlock()
	mu, ok := e.userMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		e.userMu[userID] = mu
	}
	return mu
}

// AwardResult describes the outcome of an experience award.
type AwardResult struct {
	// Awarded is the experience actually granted
	Awarded int `json:"awarded"`

	// PreviousLevel is the user's level before the award
	PreviousLevel int `json:"previous_level"`

	// Level is the user's level after the award
	Level int `json:"level"`

	// Experience is the user's progress toward the next level after
	// the award
	Experience int `json:"experience"`

	// TotalExp is the user's lifetime experience after the award
	TotalExp int `json:"total_exp"`
}

// LeveledUp reports whether the award advanced the user at least one level.
func (r AwardResult) LeveledUp() bool {
	return r.Level > r.PreviousLevel
}

// AwardRequest describes a single experience award.
type AwardRequest struct {
	// User receiving the award. Their progress record is created on
	// first sight.
	User discordgo.User

	// Amount of experience to grant; must be positive
	Amount int

	// LevelCap bounds level-ups; out-of-range values fall back to the
	// threshold table bound
	LevelCap int

	// Cooldown is the minimum interval since the user's last award. Zero
	// disables the gate; voice awards use this.
	Cooldown time.Duration

	// At is the award timestamp
	At time.Time

	// Messages and VoiceMinutes are activity counters, credited even when
	// the award itself is withheld by the cooldown
	Messages     int64
	VoiceMinutes int64
}

// AwardExperience grants experience to a user, applying as many level-ups
// as the new total supports, up to the level cap. Experience carried past a
// level-up rolls into the next level. The user's record is loaded, checked
// against the cooldown and persisted all inside the per-user lock, so
// overlapping message and voice awards can't lose progress. A zero Awarded
// in the result means the award was withheld (bot user, or cooldown not
// elapsed).
func (e *LevelingEngine) AwardExperience(
	ctx context.Context,
	req AwardRequest,
) (*UserProgress, AwardResult, error) {
	if req.Amount <= 0 {
		return nil, AwardResult{}, errors.New("award amount must be positive")
	}
	levelCap := req.LevelCap
	if levelCap <= 0 || levelCap >= len(levelThresholds) {
		levelCap = len(levelThresholds) - 1
	}
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}

	mu := e.lockUser(req.User.ID)
	mu.Lock()
	defer mu.Unlock()

	progress, _, err := getOrCreateUserProgress(ctx, e.db, req.User)
	if err != nil {
		return nil, AwardResult{}, err
	}

	result := AwardResult{
		PreviousLevel: progress.Level,
		Level:         progress.Level,
		Experience:    progress.Experience,
		TotalExp:      progress.TotalExp,
	}
	if progress.Bot {
		return progress, result, nil
	}

	updates := map[string]any{}
	if req.Messages != 0 {
		progress.MessageCount += req.Messages
		updates[columnUserProgressMessageCount] = progress.MessageCount
	}
	if req.VoiceMinutes != 0 {
		progress.VoiceMinutes += req.VoiceMinutes
		updates[columnUserProgressVoiceMinutes] = progress.VoiceMinutes
	}

	if req.Cooldown <= 0 || progress.eligibleForAward(at, req.Cooldown) {
		result.Awarded = req.Amount
		progress.Experience += req.Amount
		progress.TotalExp += req.Amount

		for progress.Level < levelCap &&
			progress.Experience >= experienceToNextLevel(progress.Level) {
			progress.Experience -= experienceToNextLevel(progress.Level)
			progress.Level++
		}
		progress.LastExpTime = at.UTC().UnixMilli()

		updates[columnUserProgressLevel] = progress.Level
		updates[columnUserProgressExperience] = progress.Experience
		updates[columnUserProgressTotalExp] = progress.TotalExp
		updates[columnUserProgressLastExpTime] = progress.LastExpTime
	}

	if len(updates) > 0 {
		if _, err = e.db.Updates(ctx, progress, updates); err != nil {
			return progress, result, err
		}
	}

	result.Level = progress.Level
	result.Experience = progress.Experience
	result.TotalExp = progress.TotalExp

	if result.LeveledUp() {
		e.logger.InfoContext(
			ctx,
			"user leveled up",
			"user", progress,
			"previous_level", result.PreviousLevel,
		)
	}
	return progress, result, nil
}

// rolesOwedForLevel returns the role IDs a user at the given level should
// hold: the roles for every mapped level up to and including theirs.
func rolesOwedForLevel(mappings []LevelRole, level int) []string {
	var owed []string
	for _, m := range mappings {
		if m.Level <= level {
			owed = append(owed, m.RoleID)
		}
	}
	return owed
}

// diffRoles compares a member's current roles against the roles owed for
// their level. toAdd lists owed roles the member is missing. toRemove lists
// mapped roles the member holds but is no longer entitled to. Roles not in
// the level mapping are never touched.
func diffRoles(current []string, owed []string, mapped []string) (toAdd, toRemove []string) {
	currentSet := make(map[string]bool, len(current))
	for _, r := range current {
		currentSet[r] = true
	}
	owedSet := make(map[string]bool, len(owed))
	for _, r := range owed {
		owedSet[r] = true
	}

	for _, r := range owed {
		if !currentSet[r] {
			toAdd = append(toAdd, r)
		}
	}
	for _, r := range mapped {
		if currentSet[r] && !owedSet[r] {
			toRemove = append(toRemove, r)
		}
	}
	return toAdd, toRemove
}

// RoleApplier grants and revokes guild member roles. Satisfied by
// [discordgo.Session].
type RoleApplier interface {
	GuildMemberRoleAdd(
		guildID string,
		userID string,
		roleID string,
		options ...discordRequestOption,
	) error
	GuildMemberRoleRemove(
		guildID string,
		userID string,
		roleID string,
		options ...discordRequestOption,
	) error
}

// SyncRoles brings a guild member's mapped roles in line with their level.
// Missing owed roles are granted and stale mapped roles are revoked; roles
// outside the level mapping are untouched, so repeated calls are no-ops
// once the member is in sync. The set of roles held after the sync is
// recorded on the user's progress record.
func (e *LevelingEngine) SyncRoles(
	ctx context.Context,
	applier RoleApplier,
	guildID string,
	userID string,
	memberRoles []string,
	level int,
) error {
	mappings, err := getLevelRoles(ctx, e.db.DB(), guildID)
	if err != nil {
		return err
	}
	if len(mappings) == 0 {
		return nil
	}

	mapped := make([]string, 0, len(mappings))
	for _, m := range mappings {
		mapped = append(mapped, m.RoleID)
	}
	owed := rolesOwedForLevel(mappings, level)
	toAdd, toRemove := diffRoles(memberRoles, owed, mapped)

	var errs []error
	granted := make(StringList, 0, len(owed))
	for _, roleID := range owed {
		granted = append(granted, roleID)
	}
	for _, roleID := range toAdd {
		if addErr := applier.GuildMemberRoleAdd(guildID, userID, roleID); addErr != nil {
			e.logger.ErrorContext(
				ctx,
				"error granting role",
				tint.Err(addErr),
				"guild_id", guildID,
				"user_id", userID,
				"role_id", roleID,
			)
			errs = append(errs, addErr)
			kept := make(StringList, 0, len(granted))
			for _, id := range granted {
				if id != roleID {
					kept = append(kept, id)
				}
			}
			granted = kept
		}
	}
	for _, roleID := range toRemove {
		if rmErr := applier.GuildMemberRoleRemove(guildID, userID, roleID); rmErr != nil {
			e.logger.ErrorContext(
				ctx,
				"error revoking role",
				tint.Err(rmErr),
				"guild_id", guildID,
				"user_id", userID,
				"role_id", roleID,
			)
			errs = append(errs, rmErr)
		}
	}

	if _, updateErr := e.db.Update(
		ctx,
		&UserProgress{UserID: userID},
		columnUserProgressGrantedRoles,
		granted,
	); updateErr != nil {
		errs = append(errs, updateErr)
	}
	return errors.Join(errs...)
}
