// Package majordomo implements a Discord community assistant bot that
// rewards member activity with experience and levels, delivers scheduled
// announcements, and proxies AI chat completions.
//
// MajorDomo watches guild messages and voice channels, converting activity
// into experience with configurable rates, cooldowns and level-gated role
// grants. Reminders persist across restarts and fire either once or daily
// at a configured clock time.
//
// Key components of the package include:
//
//   - MajorDomo: The main struct that wires the bot's components together.
//   - Discord: Handles the gateway session and event routing.
//   - LevelingEngine: Applies experience awards and keeps roles in sync.
//   - VoiceTracker: Converts voice channel presence into experience.
//   - Scheduler / Dispatcher: Fire reminders at their scheduled times.
//   - OpenAI: Proxies chat completion requests with model fallback.
//   - RankCardRenderer: Renders rank card images via headless Chrome.
//   - API: Provides a backend API for bot management and monitoring.
//
// The bot supports various commands:
//
//   - /rank: Shows a user's level, experience and leaderboard position.
//   - /top: Shows the server leaderboard.
//   - /activity: Configures which channels award message experience.
//   - /ai: Sends a prompt to the configured completion models.
//   - /remind: Creates, lists, toggles and deletes reminders.
//   - /settings: Adjusts runtime settings like experience rates.
//
// Settings that operators may want to change while the bot is running are
// stored in the database as RuntimeConfig and can be updated through the
// /settings command or the management API without a restart.
package majordomo
