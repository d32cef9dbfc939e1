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

	"github.com/CApy-RPI/mvp/capy"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = capy.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "capy [flags]",
	Short: "Capy is a discord bot for running a student club",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(" "),
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
	switch strings.ToUpper(level) {
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

// LevelToStringHookFunc decodes level names ("DEBUG", "info", ...) into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if t.Kind() != reflect.Ptr || t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}

		switch v := data.(type) {
		case *slog.LevelVar:
			return v, nil
		case string:
			lvl, err := getLogLevel(v)
			if err != nil {
				return nil, err
			}
			lvlVar := &slog.LevelVar{}
			lvlVar.Set(lvl)
			return lvlVar, nil
		default:
			return data, nil
		}
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
	if err := rootCmd.ExecuteContext(ctx); err != nil {
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
			log.Printf("error loading %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", capy.DefaultDatabase)
	viper.SetDefault("database_type", capy.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", capy.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", capy.DefaultDatabaseLogLevel.String())
	viper.SetDefault("log_level", capy.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", capy.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", capy.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.command_prefix", capy.DefaultDiscordCommandPrefix)
	viper.SetDefault("discord.log_level", capy.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		capy.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault("discord.startup_message", capy.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.custom_status", capy.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.commands_per_minute", capy.DefaultDiscordCommandsPerMin)
	viper.SetDefault("discord.command_burst", capy.DefaultDiscordCommandBurst)
	viper.SetDefault("discord.gateway_intents", int(capy.DefaultDiscordGatewayIntent))

	// Prompts
	viper.SetDefault("prompt.timeout", capy.DefaultPromptTimeout)
	viper.SetDefault("prompt.expired_linger", capy.DefaultPromptExpiredLinger)
	viper.SetDefault("prompt.color", capy.ColorDefault)
	viper.SetDefault("prompt.log_level", capy.DefaultPromptLogLevel.String())

	// Events, reminders and profiles
	viper.SetDefault("events.default_timezone", capy.DefaultEventsTimezone)
	viper.SetDefault("events.announcement_channel", capy.DefaultEventsAnnouncementName)
	viper.SetDefault("events.list_limit", capy.DefaultEventsListLimit)
	viper.SetDefault("reminders.enabled", true)
	viper.SetDefault("reminders.schedule", capy.DefaultRemindersSchedule)
	viper.SetDefault("reminders.lead_time", capy.DefaultRemindersLeadTime)
	viper.SetDefault("profile.school_email_domain", capy.DefaultProfileEmailDomain)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", capy.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.log_level", capy.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", capy.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", capy.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", capy.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", capy.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", capy.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", capy.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", capy.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", capy.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		capy.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(capy.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = capy.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range []string{
		"api.cors.allow_headers",
		"api.cors.allow_origins",
		"api.cors.allow_methods",
		"api.cors.expose_headers",
	} {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"prompt.log_level",
		"api.log_level",
	} {
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

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
