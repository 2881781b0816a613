package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/majordomo-bot/majordomo/majordomo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = majordomo.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "majordomo [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", majordomo.DefaultDatabase)
	viper.SetDefault("database_type", majordomo.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		majordomo.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		majordomo.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("runtime_config_ttl", majordomo.DefaultRuntimeConfigTTL)
	viper.SetDefault("card_render_timeout", majordomo.DefaultCardRenderTimeout)

	viper.SetDefault("log_level", majordomo.DefaultLogLevel.String())
	viper.SetDefault(
		"scheduler_log_level",
		majordomo.DefaultSchedulerLogLevel.String(),
	)
	viper.SetDefault("api.log_level", majordomo.DefaultAPILogLevel.String())

	viper.SetDefault("startup_timeout", majordomo.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", majordomo.DefaultShutdownTimeout)

	// OpenAI config
	viper.SetDefault("openai.log_level", majordomo.DefaultOpenAILogLevel.String())
	viper.SetDefault("openai.token", "")
	viper.SetDefault(
		"openai.max_requests_per_second",
		majordomo.DefaultOpenAIMaxRequestsPerSecond,
	)
	viper.SetDefault(
		"openai.request_timeout",
		majordomo.DefaultOpenAIRequestTimeout,
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		majordomo.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		majordomo.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		majordomo.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		majordomo.DefaultDiscordStartupMessage,
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", majordomo.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.development", false)

	viper.SetDefault(
		"api.session_max_age",
		majordomo.DefaultAPISessionMaxAge,
	)
	viper.SetDefault("api.read_timeout", majordomo.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		majordomo.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", majordomo.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", majordomo.DefaultIdleTimeout)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	fatalErr(viper.BindEnv("api.ssl.tls_min_version"))

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		majordomo.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		majordomo.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		majordomo.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", majordomo.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		majordomo.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(majordomo.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = majordomo.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	for _, key := range []string{
		"log_level",
		"scheduler_log_level",
		"database_log_level",
		"api.log_level",
		"openai.log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
	} {
		// already normalized by an earlier run: viper state is global and
		// cobra re-runs initConfig on every Execute. The viper override
		// shadows the env layer, so refresh the existing var from the
		// environment directly.
		if lvlVar, ok := viper.Get(key).(*slog.LevelVar); ok {
			envKey := strings.ToUpper(envPrefix + "_" + replacer.Replace(key))
			if raw := os.Getenv(envKey); raw != "" {
				lvl, err := getLogLevel(raw)
				if err != nil {
					log.Fatalf("error parsing %s: %v", key, err)
				}
				lvlVar.Set(lvl)
			}
			continue
		}
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
