package majordomo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/majordomo-bot/majordomo/majordomo.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// MajorDomo is the main application struct. It wires together the gateway
// session, the leveling engine, the voice tracker, the reminder scheduler
// and dispatcher, the AI completion proxy, and the operator API.
type MajorDomo struct {
	config *Config

	// Pointer to a read-only GORM connection
	db DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Experience awards and role sync
	engine *LevelingEngine

	// Voice presence tracking
	voiceTracker *VoiceTracker

	// Fires scheduled jobs
	scheduler *Scheduler

	// Turns reminders into scheduler jobs and delivers them
	dispatcher *Dispatcher

	// Handles OpenAI API integration
	openai *OpenAI

	// Renders rank card images
	card *RankCardRenderer

	// Provides the operator back-end API
	api *API

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it when Run has finished startup
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// Runtime-configurable settings - things you may want to
	// change without restarting the bot.
	runtimeConfig *RuntimeConfig

	// protecc the runtime config
	cfgMu sync.RWMutex

	triggerRuntimeConfigRefreshCh chan bool
}

// New creates and initializes a new MajorDomo instance: logging, the
// OpenAI client, the Discord integration, the scheduler and the operator
// API. Run opens the actual connections.
func New(config *Config) (*MajorDomo, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	md := &MajorDomo{
		config:                        config,
		signalReady:                   make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
	}

	md.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	md.logger = slog.New(md.logHandler)
	slog.SetDefault(md.logger)

	md.openai = newOpenAI(md, http.DefaultClient)

	disc, err := newDiscord(config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.md = md
		md.discord = disc
	}

	md.scheduler = NewScheduler(
		slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     config.SchedulerLogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "scheduler"),
	)

	md.voiceTracker = newVoiceTracker(
		md,
		md.logger.With(loggerNameKey, "voice_tracker"),
	)

	md.card = newRankCardRenderer(
		config.CardRenderTimeout,
		md.logger.With(loggerNameKey, "rank_card"),
	)

	api, err := newAPI(md, config.API)
	errs = append(errs, err)
	md.api = api

	return md, errors.Join(errs...)
}

func (md *MajorDomo) ValidateConfig() error {
	return structValidator.Struct(md.config)
}

func (md *MajorDomo) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = md.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// RuntimeConfig returns a copy of the current runtime configuration
func (md *MajorDomo) RuntimeConfig() RuntimeConfig {
	md.cfgMu.RLock()
	defer md.cfgMu.RUnlock()
	if md.runtimeConfig == nil {
		return DefaultRuntimeConfig()
	}
	return *md.runtimeConfig
}

// RegisterSlashCommands registers the bot's slash commands with Discord
func (md *MajorDomo) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return md.discord.registerCommands(md.RuntimeConfig(), options...)
}

// initRun opens the database, loads (or creates) the runtime config, and
// wires the components that need the database handle.
func (md *MajorDomo) initRun(ctx context.Context) error {
	db, err := CreateDB(ctx, md.config.DatabaseType, md.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	md.db = NewDatabase(
		db,
		md.logger.With(loggerNameKey, "database"),
		md.config.DatabaseType == dbTypePostgres,
	)

	var runtimeConfig RuntimeConfig
	err = db.WithContext(ctx).Last(&runtimeConfig).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		runtimeConfig = DefaultRuntimeConfig()
		if _, createErr := md.db.Create(ctx, &runtimeConfig); createErr != nil {
			return fmt.Errorf("error creating runtime config: %w", createErr)
		}
		md.logger.InfoContext(ctx, "created default runtime config")
	case err != nil:
		return fmt.Errorf("error loading runtime config: %w", err)
	}

	md.cfgMu.Lock()
	md.runtimeConfig = &runtimeConfig
	md.cfgMu.Unlock()

	md.openai.setMaxRequestsPerSecond(runtimeConfig.AIMaxRequestsPerSecond)

	md.engine = NewLevelingEngine(
		md.db,
		md.logger.With(loggerNameKey, "leveling"),
	)
	md.dispatcher = NewDispatcher(
		md.db,
		md.scheduler,
		md,
		md.RuntimeConfig,
		md.logger.With(loggerNameKey, "dispatcher"),
	)

	return nil
}

// ChannelMessageSend implements [MessageSender] for the dispatcher,
// deferring to the live session.
func (md *MajorDomo) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordRequestOption,
) (*discordgo.Message, error) {
	return md.discord.session.ChannelMessageSend(channelID, message, opts...)
}

// Run starts the bot and blocks until the given context is canceled, a
// stop signal arrives, or startup fails.
func (md *MajorDomo) Run(ctx context.Context) error {
	// prevents concurrent runs
	md.runMu.Lock()
	defer md.runMu.Unlock()

	md.signalStop = make(chan struct{}, 1)
	md.startedAt = time.Now()
	logger := md.logger

	if err := md.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", md.config))

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-md.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled, sending stop signal")
			md.signalStop <- struct{}{}
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, md.config.StartupTimeout)
	initErr := make(chan error, 1)
	go func() {
		initErr <- md.initRun(startCtx)
	}()
	select {
	case <-startCtx.Done():
		startCancel()
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		startCancel()
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	runtimeWG := &sync.WaitGroup{}

	if md.config.API.Enabled {
		go func() {
			httpErr := md.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if err := md.initDiscordSession(ctx); err != nil {
		logger.ErrorContext(ctx, "error starting discord session", tint.Err(err))
		return err
	}

	if _, err := md.RegisterSlashCommands(); err != nil {
		logger.ErrorContext(ctx, "error registering slash commands", tint.Err(err))
		return err
	}

	if err := md.dispatcher.ScheduleAll(ctx); err != nil {
		logger.WarnContext(
			ctx,
			"some reminders could not be scheduled",
			tint.Err(err),
		)
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		md.scheduler.Run(ctx)
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		md.voiceTracker.Run(ctx)
	}()

	md.startRuntimeConfigRefresher(ctx, runtimeWG)

	md.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return md.shutdown(runtimeWG)
}

// initDiscordSession creates the gateway session, adds the event handlers
// and opens the websocket connection.
func (md *MajorDomo) initDiscordSession(ctx context.Context) error {
	session, err := md.discord.newSession()
	if err != nil {
		return err
	}
	md.discord.session = session

	runtimeCfg := md.RuntimeConfig()
	session.SetIdentify(
		discordgo.Identify{
			Intents:  md.config.Discord.GatewayIntents,
			Presence: getDiscordPresenceStatusUpdate(runtimeCfg),
		},
	)

	md.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(md.discord.handlerReady()),
		session.AddHandler(md.discord.handlerConnect()),
		session.AddHandler(md.discord.handlerDisconnect()),
		session.AddHandler(md.discord.handlerMessageCreate()),
		session.AddHandler(md.discord.handlerVoiceStateUpdate()),
		session.AddHandler(md.discord.handlerInteractionCreate()),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}
	md.logger.InfoContext(ctx, "discord session open")
	return nil
}

func (md *MajorDomo) startRuntimeConfigRefresher(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) {
	runtimeConfigTTL := md.config.RuntimeConfigTTL

	if runtimeConfigTTL > 0 {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			ticker := time.NewTicker(runtimeConfigTTL)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case md.triggerRuntimeConfigRefreshCh <- false:
					case <-time.After(5 * time.Second):
						md.logger.Warn("timed out sending config refresh signal")
					}
				}
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-md.triggerRuntimeConfigRefreshCh:
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
				md.refreshRuntimeConfig(refreshCtx)
				refreshCancel()
			}
		}
	}()
}

// refreshRuntimeConfig reloads the runtime config row from the database
// and applies any side effects (presence, AI rate limit).
func (md *MajorDomo) refreshRuntimeConfig(ctx context.Context) {
	md.cfgMu.Lock()
	defer md.cfgMu.Unlock()

	previous := md.runtimeConfig

	var refreshed RuntimeConfig
	if err := md.db.DB().WithContext(ctx).Last(&refreshed).Error; err != nil {
		md.logger.Error("error getting runtime config", tint.Err(err))
		return
	}
	md.runtimeConfig = &refreshed
	md.applyRuntimeConfigChange(previous, &refreshed)
}

// applyRuntimeConfigChange propagates config changes to live components.
// Callers must hold cfgMu.
func (md *MajorDomo) applyRuntimeConfigChange(previous, current *RuntimeConfig) {
	if previous == nil {
		return
	}
	if previous.Paused != current.Paused ||
		previous.DiscordCustomStatus != current.DiscordCustomStatus {
		if err := md.discord.updateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    current.Paused,
				Status: getDiscordPresenceStatusUpdate(*current).Status,
			},
		); err != nil {
			md.logger.Error("error updating discord status", tint.Err(err))
		}
	}
	if previous.AIMaxRequestsPerSecond != current.AIMaxRequestsPerSecond {
		md.openai.setMaxRequestsPerSecond(current.AIMaxRequestsPerSecond)
	}
}

// updateRuntimeConfig validates and persists a runtime config update,
// refreshing the in-memory copy and propagating side effects.
func (md *MajorDomo) updateRuntimeConfig(
	ctx context.Context,
	update RuntimeConfigUpdate,
) error {
	if err := update.validate(); err != nil {
		return err
	}

	md.cfgMu.Lock()
	defer md.cfgMu.Unlock()

	if md.runtimeConfig == nil {
		return errors.New("runtime config not loaded")
	}
	previous := *md.runtimeConfig
	updated := *md.runtimeConfig

	if update.Paused != nil {
		updated.Paused = *update.Paused
	}
	if update.DiscordCustomStatus != nil {
		updated.DiscordCustomStatus = *update.DiscordCustomStatus
	}
	if update.MessageExperience != nil {
		updated.MessageExperience = *update.MessageExperience
	}
	if update.MessageCooldown != nil {
		updated.MessageCooldown = *update.MessageCooldown
	}
	if update.VoiceExperience != nil {
		updated.VoiceExperience = *update.VoiceExperience
	}
	if update.VoiceSweepInterval != nil {
		updated.VoiceSweepInterval = *update.VoiceSweepInterval
	}
	if update.LevelCap != nil {
		updated.LevelCap = *update.LevelCap
	}
	if update.AISystemPrompt != nil {
		updated.AISystemPrompt = *update.AISystemPrompt
	}
	if update.AIModels != nil {
		updated.AIModels = *update.AIModels
	}
	if update.AIMaxTokens != nil {
		updated.AIMaxTokens = *update.AIMaxTokens
	}
	if update.AIMaxRequestsPerSecond != nil {
		updated.AIMaxRequestsPerSecond = *update.AIMaxRequestsPerSecond
	}
	if update.NotificationChannelID != nil {
		updated.NotificationChannelID = *update.NotificationChannelID
	}

	if _, err := md.db.Save(ctx, &updated); err != nil {
		return fmt.Errorf("error saving runtime config: %w", err)
	}

	md.runtimeConfig = &updated
	md.applyRuntimeConfigChange(&previous, &updated)
	return nil
}

// Pause stops experience awards and reminder delivery. Returns false if
// the bot was already paused.
func (md *MajorDomo) Pause(ctx context.Context) bool {
	if md.RuntimeConfig().Paused {
		return false
	}
	paused := true
	if err := md.updateRuntimeConfig(
		ctx,
		RuntimeConfigUpdate{Paused: &paused},
	); err != nil {
		md.logger.ErrorContext(ctx, "error pausing", tint.Err(err))
		return false
	}
	md.logger.WarnContext(ctx, "paused")
	return true
}

// Resume reverses Pause. Returns false if the bot wasn't paused.
func (md *MajorDomo) Resume(ctx context.Context) bool {
	if !md.RuntimeConfig().Paused {
		return false
	}
	paused := false
	if err := md.updateRuntimeConfig(
		ctx,
		RuntimeConfigUpdate{Paused: &paused},
	); err != nil {
		md.logger.ErrorContext(ctx, "error resuming", tint.Err(err))
		return false
	}
	md.logger.InfoContext(ctx, "resumed")
	return true
}

func (md *MajorDomo) shutdown(runtimeWG *sync.WaitGroup) error {
	md.logger.Warn("shutting down")
	defer func() {
		if md.eventShutdown != nil {
			go func() {
				md.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownTimeout := md.config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	if md.discord != nil && md.discord.session != nil {
		for _, removeHandler := range md.discord.discordgoRemoveHandlerFuncs {
			removeHandler()
		}
		if err := md.discord.session.Close(); err != nil {
			md.logger.Error("error closing discord session", tint.Err(err))
		}
	}

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		done <- struct{}{}
	}()

	var err error
	select {
	case <-done:
		md.logger.Info(
			"graceful shutdown complete",
			"duration", time.Since(shutdownStart),
		)
	case <-time.After(shutdownTimeout):
		err = errors.New("shutdown timed out")
		md.logger.Error("shutdown timed out, exiting anyway")
	}

	if md.api != nil && md.api.httpServer != nil {
		closeCtx, closeCancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		if apiErr := md.api.httpServer.Shutdown(closeCtx); apiErr != nil {
			md.logger.Error("error shutting down api", tint.Err(apiErr))
		}
		closeCancel()
	}

	return err
}
