package majordomo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	tmpdir := t.TempDir()
	dbPath := filepath.Join(tmpdir, "test.sqlite3")
	db, err := CreateDB(
		context.Background(),
		"sqlite",
		dbPath,
	)
	if err != nil {
		t.Fatalf("error creating test database: %v", err)
	}
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

func testLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     slog.LevelDebug,
				AddSource: true,
			},
		),
	).With("test_name", t.Name())
}

func newTestConfig(t testing.TB) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(t.TempDir(), "test.sqlite3")
	cfg.Discord.Token = "test-discord-token"
	cfg.Discord.ApplicationID = "test-app-id"
	cfg.OpenAI.Token = "test-openai-token"
	cfg.API.Enabled = false
	return cfg
}

// newTestMajorDomo wires up a MajorDomo with a real sqlite database, a
// mocked Discord session and the default runtime config row, without
// opening any network connections.
func newTestMajorDomo(t testing.TB) (*MajorDomo, *mockDiscordSession) {
	t.Helper()

	cfg := newTestConfig(t)
	logger := testLogger(t)

	db, err := CreateDB(context.Background(), cfg.DatabaseType, cfg.Database)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	runtimeCfg := DefaultRuntimeConfig()
	require.NoError(t, db.Create(&runtimeCfg).Error)

	md := &MajorDomo{
		config:                        cfg,
		logger:                        logger,
		signalReady:                   make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
	}
	md.db = NewDatabase(db, logger, false)
	md.runtimeConfig = &runtimeCfg

	session := newMockDiscordSession(t)
	md.discord = &Discord{
		config:  cfg.Discord,
		logger:  logger,
		session: session,
		md:      md,
	}
	md.engine = NewLevelingEngine(md.db, logger)
	md.scheduler = NewScheduler(logger)
	md.voiceTracker = newVoiceTracker(md, logger)
	md.dispatcher = NewDispatcher(
		md.db,
		md.scheduler,
		md,
		md.RuntimeConfig,
		logger,
	)
	md.openai = newOpenAI(md, nil)

	return md, session
}

// setTestRuntimeConfig replaces the cached runtime config with fn applied
// to the current value, persisting the result.
func setTestRuntimeConfig(
	t testing.TB,
	md *MajorDomo,
	fn func(c *RuntimeConfig),
) {
	t.Helper()
	md.cfgMu.Lock()
	defer md.cfgMu.Unlock()
	fn(md.runtimeConfig)
	require.NoError(t, md.db.DB().Save(md.runtimeConfig).Error)
}

type mockSentMessage struct {
	ChannelID string
	Content   string
}

// mockDiscordSession implements DiscordSessionHandler, recording sent
// messages and role changes instead of hitting the Discord API.
type mockDiscordSession struct {
	logger *slog.Logger

	mu               sync.Mutex
	sentMessages     []mockSentMessage
	roleAdds         []string
	roleRemoves      []string
	interactionEdits []string

	// memberRoles is keyed by "guildID:userID"
	memberRoles map[string][]string

	sendErr error
}

func newMockDiscordSession(t testing.TB) *mockDiscordSession {
	t.Helper()
	return &mockDiscordSession{
		logger:      testLogger(t).With(loggerNameKey, "discord_session_handler"),
		memberRoles: map[string][]string{},
	}
}

func (d *mockDiscordSession) sent() []mockSentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	messages := make([]mockSentMessage, len(d.sentMessages))
	copy(messages, d.sentMessages)
	return messages
}

func (d *mockDiscordSession) edits() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	edits := make([]string, len(d.interactionEdits))
	copy(edits, d.interactionEdits)
	return edits
}

func (d *mockDiscordSession) setMemberRoles(guildID, userID string, roles []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memberRoles[guildID+":"+userID] = roles
}

func (d *mockDiscordSession) GatewayBot(_ ...discordgo.RequestOption) (
	*discordgo.GatewayBotResponse,
	error,
) {
	return &discordgo.GatewayBotResponse{}, nil
}

func (d *mockDiscordSession) Open() error {
	d.logger.Info("opened session")
	return nil
}

func (d *mockDiscordSession) Close() error {
	d.logger.Info("closed session")
	return nil
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return nil, d.sendErr
	}
	d.sentMessages = append(
		d.sentMessages,
		mockSentMessage{ChannelID: channelID, Content: message},
	)
	d.logger.Info(
		"saw message send",
		"channel_id", channelID,
		"content", message,
	)
	return &discordgo.Message{ChannelID: channelID, Content: message}, nil
}

func (d *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info("complex message send", "channel_id", channelID, "data", data)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func (d *mockDiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.logger.Info(
		"overwrite application commands",
		"app_id", appID,
		"guild_id", guildID,
	)
	cmds := make([]*discordgo.ApplicationCommand, len(commands))
	for i, c := range commands {
		cmds[i] = &discordgo.ApplicationCommand{
			Name:        c.Name,
			Description: c.Description,
		}
	}
	return cmds, nil
}

func (d *mockDiscordSession) UpdateCustomStatus(status string) error {
	d.logger.Info("updating custom status", "status", status)
	return nil
}

func (d *mockDiscordSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	d.logger.Info("updating complex status", "data", data)
	return nil
}

func (d *mockDiscordSession) AddHandler(_ any) func() {
	return func() {}
}

func (d *mockDiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.logger.Info(
		"mock responding to interaction",
		"interaction", interaction,
		"response", resp,
	)
	return nil
}

func (d *mockDiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info(
		"mock editing interaction",
		"interaction", interaction,
		"webhook_edit", newresp,
	)
	if newresp != nil && newresp.Content != nil {
		d.mu.Lock()
		d.interactionEdits = append(d.interactionEdits, *newresp.Content)
		d.mu.Unlock()
	}
	return &discordgo.Message{}, nil
}

func (d *mockDiscordSession) GuildMember(
	guildID string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &discordgo.Member{
		GuildID: guildID,
		User:    &discordgo.User{ID: userID},
		Roles:   d.memberRoles[guildID+":"+userID],
	}, nil
}

func (d *mockDiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roleAdds = append(
		d.roleAdds,
		fmt.Sprintf("%s:%s:%s", guildID, userID, roleID),
	)
	return nil
}

func (d *mockDiscordSession) GuildMemberRoleRemove(
	guildID string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roleRemoves = append(
		d.roleRemoves,
		fmt.Sprintf("%s:%s:%s", guildID, userID, roleID),
	)
	return nil
}

func (d *mockDiscordSession) GuildChannels(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	d.logger.Info("mock guild channels", "guild_id", guildID)
	return nil, nil
}

func (d *mockDiscordSession) SetHTTPClient(_ *http.Client) {
	d.logger.Info("mock setting http client")
}

func (d *mockDiscordSession) SetIdentify(i discordgo.Identify) {
	d.logger.Info("mock setting identify", "intents", i.Intents)
}

func (d *mockDiscordSession) SetLogLevel(_ slog.Level) error {
	return nil
}

// mockCompletionClient returns canned completion responses per model, and
// records the order models were attempted in.
type mockCompletionClient struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	attempts  []string
}

func (m *mockCompletionClient) CreateChatCompletion(
	_ context.Context,
	request openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, request.Model)

	if err, ok := m.errs[request.Model]; ok {
		return openai.ChatCompletionResponse{}, err
	}
	content, ok := m.responses[request.Model]
	if !ok {
		return openai.ChatCompletionResponse{}, fmt.Errorf(
			"no canned response for model %q",
			request.Model,
		)
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: content,
				},
			},
		},
		Usage: openai.Usage{TotalTokens: 42},
	}, nil
}

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := VerifyPassword(hash, "correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)

	// each hash gets a fresh salt
	otherHash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, hash, otherHash)

	_, err = VerifyPassword("not-a-hash", "anything")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 100))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "", truncate("", 10))

	// rune-aware, not byte-aware
	assert.Equal(t, "héll", truncate("héllo", 4))
}

func TestStringListRoundTrip(t *testing.T) {
	t.Parallel()

	list := StringList{"111", "222", "333"}
	value, err := list.Value()
	require.NoError(t, err)

	var scanned StringList
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, list, scanned)

	var empty StringList
	require.NoError(t, empty.Scan(""))
	assert.Nil(t, empty)

	assert.True(t, list.Contains("222"))
	assert.False(t, list.Contains("444"))
}

func TestDurationScanValue(t *testing.T) {
	t.Parallel()

	d := Duration{90 * time.Second}
	value, err := d.Value()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", value)

	var scanned Duration
	require.NoError(t, scanned.Scan("10m"))
	assert.Equal(t, 10*time.Minute, scanned.Duration)

	assert.Error(t, scanned.Scan("bogus"))
}

func TestDerive64ByteKey(t *testing.T) {
	t.Parallel()

	key := derive64ByteKey("secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("secret"))
	assert.NotEqual(t, key, derive64ByteKey("other"))
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()

	s, err := generateRandomHexString(32)
	require.NoError(t, err)
	assert.Len(t, s, 32)

	// odd lengths are bumped to the next even value
	s, err = generateRandomHexString(5)
	require.NoError(t, err)
	assert.Len(t, s, 6)
}
