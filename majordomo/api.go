package majordomo

import (
	"context"
	cryprand "crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	gsessions "github.com/gorilla/sessions"
	"github.com/gorilla/securecookie"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	apiPrefix               = "/api"
	apiPathLogin            = "/login"
	apiPathLogout           = "/logout"
	apiPathLoggedIn         = "/logged_in"
	apiHealthCheck          = "/healthz"
	apiPathPause            = "/pause"
	apiPathResume           = "/resume"
	apiPathQuit             = "/quit"
	apiPathConfig           = "/config"
	apiPathUsers            = "/users"
	apiPathLeaderboard      = "/leaderboard"
	apiPathReminders        = "/reminders"
	apiPathReminder         = "/reminder/:id"
	apiPathLevelRoles       = "/level_roles"
	apiPathLevelRole        = "/level_role/:id"
	apiPathRegisterCommands = "/discord/register_commands"
	apiPathSetup            = "/setup"
	apiPathSetupStatus      = "/setup/status"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var (
	structValidator = validator.New()
)

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}

// API provides the operator back-end: login sessions, runtime config
// management, reminder and level role CRUD, and bot lifecycle controls.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	requestMetrics      map[string]int
	requestMetricsMu    sync.Mutex
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI initializes the API: gin engine, session store, TLS config,
// middleware and routes. Serve starts the actual listener.
func newAPI(md *MajorDomo, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		requestMetrics:      map[string]int{},
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	apiHandlers := NewAPIHandlers(md)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	certFile := config.SSL.Cert
	keyFile := config.SSL.Key
	if config.Enabled && certFile == "" {
		certFile = filepath.Join(os.TempDir(), "majordomo-api.crt")
		keyFile = filepath.Join(os.TempDir(), "majordomo-api.key")
		setupLogger.Warn(
			"no TLS cert configured, generating self-signed certificate",
			"cert", certFile,
		)
		if _, e := generateSelfSignedCert(certFile, keyFile); e != nil {
			return nil, fmt.Errorf("error generating self-signed cert: %w", e)
		}
	}

	var tlsCfg *tls.Config
	if config.Enabled {
		var e error
		tlsCfg, e = tlsConfig(certFile, keyFile, config.SSL.TLSMinVersion)
		if e != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", e)
		}
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer
	api.logger = setupLogger.With(loggerNameKey, "api")

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && api.config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)
	r.POST(apiPathSetup, apiHandlers.adminSetup)
	r.GET(apiPathSetupStatus, apiHandlers.setupStatus)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(md))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathUsers, apiHandlers.getUsers)
	protected.GET(apiPathLeaderboard, apiHandlers.getLeaderboard)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.POST(apiPathPause, apiHandlers.botPause)
	protected.POST(apiPathResume, apiHandlers.botResume)
	protected.POST(apiPathQuit, apiHandlers.botQuit)
	protected.POST(apiPathRegisterCommands, apiHandlers.discordRegisterCommands)

	protected.GET(apiPathReminders, apiHandlers.getReminders)
	protected.POST(apiPathReminders, apiHandlers.createReminder)
	protected.PATCH(apiPathReminder, apiHandlers.updateReminder)
	protected.DELETE(apiPathReminder, apiHandlers.deleteReminder)

	protected.GET(apiPathLevelRoles, apiHandlers.getLevelRoles)
	protected.POST(apiPathLevelRoles, apiHandlers.createLevelRole)
	protected.DELETE(apiPathLevelRole, apiHandlers.deleteLevelRole)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if e != nil {
		return e
	}
	if a.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	}
	a.listener = ln
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	store := a.store
	session, err := store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("username not found in session")
	}
	s, e := username.(string)
	if !e {
		return "", errors.New("username not a string")
	}
	return s, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the various API endpoints
type APIHandlers struct {
	md     *MajorDomo
	logger *slog.Logger
	store  CookieStore
}

func NewAPIHandlers(md *MajorDomo) *APIHandlers {
	logger := md.logger.With(loggerNameKey, "api")

	var secretKey []byte
	switch sk := md.config.API.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	sameSite := http.SameSiteStrictMode
	if md.config.API.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			HttpOnly: true,
			Secure:   true,
			MaxAge:   int(md.config.API.SessionMaxAge.Seconds()),
			SameSite: sameSite,
		},
	)
	return &APIHandlers{md: md, logger: logger, store: store}
}

// pendingSetup reports whether the initial admin credentials have been set
func (h *APIHandlers) pendingSetup() bool {
	config := h.md.RuntimeConfig()
	return config.AdminUsername == "" || config.AdminPassword == ""
}

func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.pendingSetup()})
}

// adminSetup handles the first-time admin credential setup. Only allowed
// while no admin credentials exist.
func (h *APIHandlers) adminSetup(c *gin.Context) {
	if !h.pendingSetup() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c)
	logger.Info("first time admin setup")
	var payload adminSetupPayload

	if e := c.ShouldBindJSON(&payload); e != nil {
		logger.Error("bad payload", tint.Err(e))
		c.JSON(http.StatusBadRequest, gin.H{"error": e.Error()})
		return
	}

	password, err := HashPassword(payload.Password)
	if err != nil {
		logger.Error("error hashing password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error setting admin credentials"},
		)
		return
	}

	h.md.cfgMu.Lock()
	defer h.md.cfgMu.Unlock()

	currentState := h.md.runtimeConfig
	if _, err = h.md.db.Updates(
		context.Background(), currentState, map[string]any{
			columnRuntimeConfigAdminUsername: payload.Username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.Error("error updating admin credentials", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error updating admin credentials"},
		)
		return
	}
	currentState.AdminUsername = payload.Username
	currentState.AdminPassword = password
	c.JSON(http.StatusCreated, gin.H{"message": "admin credentials set"})
}

func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.md.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runtimeConfig := h.md.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	valid, err := VerifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Internal Server Error"},
		)
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	session, err := h.md.api.store.New(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error creating session", tint.Err(err))

		sess, _ := h.store.Get(c.Request, sessionVarName)
		if sess != nil {
			sess.Values[sessionVarField] = ""
			_ = sess.Save(c.Request, c.Writer)
		}
		ginReplyError(c, "internal server error")
		return
	}
	if session == nil {
		logger.Error("didn't get session!?")
		ginReplyError(c, "internal server error")
		return
	}
	sameSite := http.SameSiteStrictMode
	if h.md.api.config.Development {
		sameSite = http.SameSiteNoneMode
	}
	session.Options = &gsessions.Options{
		MaxAge:   int(h.md.api.config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
		HttpOnly: true,
		Secure:   true,
	}
	session.Values[sessionVarField] = login.Username
	err = session.Save(c.Request, c.Writer)
	if err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	config := h.md.RuntimeConfig()
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  config.Paused,
			ActiveVoiceSessions:     len(h.md.voiceTracker.ActiveSessions()),
			ScheduledJobs:           len(h.md.scheduler.JobIDs()),
			DiscordGatewayConnected: h.md.discord.connected.Load(),
		},
	)
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	err = session.Save(c.Request, c.Writer)
	if err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.md.api.getSessionUsername(c)
	if err != nil {
		ginContextLogger(c).Warn(
			"error getting session username",
			tint.Err(err),
		)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.md.RegisterSlashCommands()
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error registering commands"},
		)
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

func (h *APIHandlers) getUsers(c *gin.Context) {
	var pagination GetUsersQuery
	if c.ShouldBindQuery(&pagination) != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}

	if pagination.Order == "" {
		pagination.Order = Ascending
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	log := ginContextLogger(c)

	var users []UserProgress

	var err error
	switch pagination.Order {
	case Descending:
		err = h.md.db.DB().Limit(pagination.Limit).Offset(pagination.Offset).Order("id desc").Find(&users).Error
	default:
		err = h.md.db.DB().Limit(pagination.Limit).Offset(pagination.Offset).Order("id asc").Find(&users).Error
	}
	if err != nil {
		log.Error("error getting users", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error getting users"})
		return
	}

	c.JSON(http.StatusOK, users)
}

func (h *APIHandlers) getLeaderboard(c *gin.Context) {
	limit := 25
	if rawLimit := c.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, httpError{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	users, err := topUsers(c.Request.Context(), h.md.db.DB(), limit)
	if err != nil {
		ginContextLogger(c).Error("error getting leaderboard", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting leaderboard"},
		)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.md.RuntimeConfig())
}

func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	var updateRequest RuntimeConfigUpdate
	logger := ginContextLogger(c)
	if err := c.ShouldBindJSON(&updateRequest); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.md.updateRuntimeConfig(
		c.Request.Context(),
		updateRequest,
	); err != nil {
		logger.Error("error updating config", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, h.md.RuntimeConfig())
}

func (h *APIHandlers) botPause(c *gin.Context) {
	log := ginContextLogger(c)
	if h.md.Pause(c.Request.Context()) {
		log.Info("bot paused")
		ginReplyMessage(c, "bot paused")
		return
	}
	c.AbortWithStatusJSON(
		http.StatusConflict,
		httpError{Error: "bot already paused"},
	)
}

func (h *APIHandlers) botResume(c *gin.Context) {
	if h.md.Resume(c.Request.Context()) {
		ginReplyMessage(c, "bot resumed")
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "bot not paused"})
}

func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	select {
	case h.md.signalStop <- struct{}{}:
		ginReplyMessage(c, "quitting")
	case <-time.After(10 * time.Second):
		log.Warn("timeout sending stop signal")
		c.JSON(
			http.StatusGatewayTimeout,
			httpError{Error: "timeout sending stop signal"},
		)
	}
}

func (h *APIHandlers) getReminders(c *gin.Context) {
	reminders, err := getReminders(c.Request.Context(), h.md.db.DB())
	if err != nil {
		ginContextLogger(c).Error("error getting reminders", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting reminders"},
		)
		return
	}
	c.JSON(http.StatusOK, reminders)
}

func (h *APIHandlers) createReminder(c *gin.Context) {
	logger := ginContextLogger(c)

	var reminder Reminder
	if err := c.ShouldBindJSON(&reminder); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	reminder.ModelUintID = ModelUintID{}
	if reminder.CreatedBy == "" {
		username, _ := h.md.api.getSessionUsername(c)
		reminder.CreatedBy = username
	}

	ctx := c.Request.Context()
	if err := createReminder(ctx, h.md.db, &reminder); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateReminderName),
			errors.Is(err, ErrInvalidReminderTime):
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		default:
			logger.Error("error creating reminder", tint.Err(err))
			c.JSON(
				http.StatusInternalServerError,
				httpError{Error: "error creating reminder"},
			)
		}
		return
	}

	if err := h.md.dispatcher.ScheduleReminder(&reminder); err != nil {
		logger.Error("error scheduling reminder", tint.Err(err))
	}
	c.JSON(http.StatusCreated, reminder)
}

func (h *APIHandlers) updateReminder(c *gin.Context) {
	logger := ginContextLogger(c)
	reminderID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid reminder id"})
		return
	}

	var update reminderUpdate
	if err = c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	reminder, err := getReminder(ctx, h.md.db.DB(), uint(reminderID))
	if err != nil {
		if errors.Is(err, ErrReminderNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: "reminder not found"})
			return
		}
		logger.Error("error getting reminder", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting reminder"},
		)
		return
	}

	updates := map[string]any{}
	if update.Name != nil && *update.Name != reminder.Name {
		if _, nameErr := getReminderByName(
			ctx, h.md.db.DB(), *update.Name,
		); nameErr == nil {
			c.JSON(
				http.StatusBadRequest,
				httpError{Error: ErrDuplicateReminderName.Error()},
			)
			return
		}
		updates[columnReminderName] = *update.Name
	}
	if update.Message != nil {
		updates[columnReminderMessage] = *update.Message
	}
	if update.Time != nil {
		if _, _, err = parseClockTime(*update.Time); err != nil {
			c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
			return
		}
		updates[columnReminderTime] = *update.Time
	}
	if update.Enabled != nil {
		updates[columnReminderEnabled] = *update.Enabled
	}
	if update.ChannelID != nil {
		updates[columnReminderChannelID] = *update.ChannelID
	}
	if update.MentionRoleIDs != nil {
		updates[columnReminderMentions] = *update.MentionRoleIDs
	}

	if len(updates) == 0 {
		c.JSON(http.StatusAccepted, reminder)
		return
	}

	if _, err = h.md.db.Updates(ctx, reminder, updates); err != nil {
		logger.Error("error updating reminder", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error updating reminder"},
		)
		return
	}

	refreshed, err := getReminder(ctx, h.md.db.DB(), reminder.ID)
	if err != nil {
		logger.Error("error reloading reminder", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error reloading reminder"},
		)
		return
	}

	if err = h.md.dispatcher.ScheduleReminder(refreshed); err != nil {
		logger.Error("error rescheduling reminder", tint.Err(err))
	}
	c.JSON(http.StatusAccepted, refreshed)
}

func (h *APIHandlers) deleteReminder(c *gin.Context) {
	logger := ginContextLogger(c)
	reminderID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid reminder id"})
		return
	}

	ctx := c.Request.Context()
	reminder, err := getReminder(ctx, h.md.db.DB(), uint(reminderID))
	if err != nil {
		if errors.Is(err, ErrReminderNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: "reminder not found"})
			return
		}
		logger.Error("error getting reminder", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting reminder"},
		)
		return
	}

	h.md.dispatcher.UnscheduleReminder(reminder)
	if err = deleteReminder(h.md.db, reminder.ID); err != nil {
		logger.Error("error deleting reminder", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error deleting reminder"},
		)
		return
	}
	ginReplyMessage(c, "reminder deleted")
}

func (h *APIHandlers) getLevelRoles(c *gin.Context) {
	guildID := c.Query("guild_id")
	if guildID == "" {
		c.JSON(http.StatusBadRequest, httpError{Error: "guild_id required"})
		return
	}
	roles, err := getLevelRoles(c.Request.Context(), h.md.db.DB(), guildID)
	if err != nil {
		ginContextLogger(c).Error("error getting level roles", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting level roles"},
		)
		return
	}
	c.JSON(http.StatusOK, roles)
}

func (h *APIHandlers) createLevelRole(c *gin.Context) {
	logger := ginContextLogger(c)

	var levelRole LevelRole
	if err := c.ShouldBindJSON(&levelRole); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	levelRole.ModelUintID = ModelUintID{}
	if levelRole.GuildID == "" || levelRole.RoleID == "" || levelRole.Level < 1 {
		c.JSON(
			http.StatusBadRequest,
			httpError{Error: "guild_id, role_id and level (>= 1) are required"},
		)
		return
	}

	if _, err := h.md.db.Create(c.Request.Context(), &levelRole); err != nil {
		logger.Error("error creating level role", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error creating level role"},
		)
		return
	}
	c.JSON(http.StatusCreated, levelRole)
}

func (h *APIHandlers) deleteLevelRole(c *gin.Context) {
	logger := ginContextLogger(c)
	roleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid level role id"})
		return
	}

	var levelRole LevelRole
	err = h.md.db.DB().WithContext(c.Request.Context()).First(
		&levelRole,
		uint(roleID),
	).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: "level role not found"})
			return
		}
		logger.Error("error getting level role", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting level role"},
		)
		return
	}

	if _, err = deleteLevelRole(
		h.md.db, levelRole.GuildID, levelRole.Level,
	); err != nil {
		logger.Error("error deleting level role", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error deleting level role"},
		)
		return
	}
	ginReplyMessage(c, "level role deleted")
}

type Sort string

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

type GetUsersQuery struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
}

type reminderUpdate struct {
	Name           *string     `json:"name,omitempty" binding:"omitnil,min=1,max=100"`
	Message        *string     `json:"message,omitempty"`
	Time           *string     `json:"time,omitempty"`
	Enabled        *bool       `json:"enabled,omitempty"`
	ChannelID      *string     `json:"channel_id,omitempty"`
	MentionRoleIDs *StringList `json:"mention_role_ids,omitempty"`
}

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Paused                  bool `json:"paused"`
	ActiveVoiceSessions     int  `json:"active_voice_sessions"`
	ScheduledJobs           int  `json:"scheduled_jobs"`
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type adminSetupPayload struct {
	Username string `json:"username" binding:"required,min=1,max=64"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type setupResponse struct {
	Required bool `json:"required"`
}

func authMiddleware(md *MajorDomo) gin.HandlerFunc {
	return func(c *gin.Context) {
		store := md.api.store
		logger := md.logger
		if logger == nil {
			logger = slog.Default()
		}
		if md.api.handlers.pendingSetup() {
			logger.Warn("admin username and password not set")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		session, err := store.Get(c.Request, sessionVarName)
		if err != nil {
			logger.Error("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		if session == nil {
			logger.Error("session is nil")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		username, ok := session.Values[sessionVarField]
		if !ok || username == "" {
			logger.Warn("username not found in session")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs the request method, path, remote address and
// duration, plus any accumulated errors.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware increments the request count for each unique
// combination of HTTP method and URL path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		_, ok := a.requestMetrics[key]
		if !ok {
			a.requestMetrics[key] = 1
			return
		}
		a.requestMetrics[key]++
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

// generateSelfSignedCert generates a self-signed TLS certificate and
// private key, valid from the current time for 1 year.
func generateSelfSignedCert(
	certFile string,
	keyFile string,
) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(cryprand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	certTemplate := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"MajorDomo"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(
		cryprand.Reader,
		&certTemplate,
		&certTemplate,
		&priv.PublicKey,
		priv,
	)
	if err != nil {
		return tls.Certificate{}, err
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = certOut.Close()
	}()

	if err = pem.Encode(
		certOut,
		&pem.Block{Type: "CERTIFICATE", Bytes: derBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	keyOut, err := os.Create(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = keyOut.Close()
	}()

	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	if err = pem.Encode(
		keyOut,
		&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	return cert, nil
}
