//nolint:lll // struct tags can't be split
package capy

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

const (
	EnvvarSetEnvPrefix    = "CAPY_ENV_PREFIX"
	DefaultEnvPrefix      = "CAPY"
	DefaultDatabaseType   = "sqlite"
	DefaultDatabase       = "capy.sqlite3"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 30 * time.Second

	// DefaultShutdownTimeout leaves room for prompts in progress to clean up
	// after themselves
	DefaultShutdownTimeout = 30 * time.Second

	DefaultDiscordCommandPrefix   = "!"
	DefaultDiscordStartupMessage  = "Capy is online!"
	DefaultDiscordCustomStatus    = "!help"
	DefaultDiscordLogLevel        = slog.LevelInfo
	DefaultDiscordgoLogLevel      = slog.LevelWarn
	DefaultDiscordCommandsPerMin  = 10
	DefaultDiscordCommandBurst    = 3
	DefaultDiscordGatewayIntent   = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildMessageReactions | discordgo.IntentsDirectMessages | discordgo.IntentsDirectMessageReactions | discordgo.IntentsMessageContent
	DefaultPromptTimeout          = time.Minute
	DefaultPromptExpiredLinger    = 5 * time.Second
	DefaultPromptLogLevel         = slog.LevelInfo
	DefaultEventsTimezone         = "America/New_York"
	DefaultEventsAnnouncementName = "announcements"
	DefaultEventsListLimit        = 10
	DefaultRemindersSchedule      = "@every 1m"
	DefaultRemindersLeadTime      = time.Hour
	DefaultProfileEmailDomain     = "rpi.edu"

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultReadTimeout             = 5 * time.Second
	DefaultReadHeaderTimeout       = 5 * time.Second
	DefaultWriteTimeout            = 10 * time.Second
	DefaultIdleTimeout             = 30 * time.Second
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultAPICORSAllowCredentials = false
	defaultListenNetwork           = "tcp"

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

var structValidator = validator.New()

type Config struct {
	// Database connection string, or sqlite file path
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]" binding:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration after which a query is logged
	// as slow
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits how long database initialization may take
	// before Run gives up.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=1s"`

	// ShutdownTimeout is the time allowed for commands and prompts in
	// progress to finish once shutdown begins.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	Discord   *DiscordConfig   `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`
	Prompt    *PromptConfig    `yaml:"prompt" mapstructure:"prompt" json:"prompt" binding:"required"`
	Events    *EventsConfig    `yaml:"events" mapstructure:"events" json:"events" binding:"required"`
	Reminders *RemindersConfig `yaml:"reminders" mapstructure:"reminders" json:"reminders" binding:"required"`
	Profile   *ProfileConfig   `yaml:"profile" mapstructure:"profile" json:"profile" binding:"required"`
	API       *APIConfig       `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// CommandPrefix precedes every command, ex: "!events add"
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" binding:"required,max=5"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If NotificationChannelID is set, StartupMessage is sent to that
	// channel whenever the bot connects to the gateway.
	StartupMessage        string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// CommandsPerMinute limits how often a single user may run commands.
	// 0 disables the limit.
	CommandsPerMinute int `yaml:"commands_per_minute" mapstructure:"commands_per_minute" json:"commands_per_minute" binding:"min=0"`
	CommandBurst      int `yaml:"command_burst" mapstructure:"command_burst" json:"command_burst" binding:"min=1"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// PromptConfig sets the defaults for interactive menus and questions
type PromptConfig struct {
	// Timeout is how long each prompt waits for an answer
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s,max=15m"`

	// ExpiredLinger is how long an expired prompt's notice stays visible
	// before it's deleted
	ExpiredLinger time.Duration `yaml:"expired_linger" mapstructure:"expired_linger" json:"expired_linger" binding:"min=0,max=1m"`

	// Color is the default embed color
	Color int `yaml:"color" mapstructure:"color" json:"color" binding:"min=0,max=16777215"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

type EventsConfig struct {
	// DefaultTimezone is used when an event's time doesn't name one
	DefaultTimezone string `yaml:"default_timezone" mapstructure:"default_timezone" json:"default_timezone" binding:"required,timezone"`

	// AnnouncementChannel is the name of the guild text channel event
	// announcements are posted to. It's created if it doesn't exist.
	AnnouncementChannel string `yaml:"announcement_channel" mapstructure:"announcement_channel" json:"announcement_channel" binding:"required,max=100"`

	// ListLimit is the maximum number of events listed at once
	ListLimit int `yaml:"list_limit" mapstructure:"list_limit" json:"list_limit" binding:"min=1,max=25"`
}

type RemindersConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Schedule is a cron spec (or descriptor like "@every 1m") for how
	// often upcoming events are checked
	Schedule string `yaml:"schedule" mapstructure:"schedule" json:"schedule" binding:"required_if=Enabled true,omitempty,cron_spec"`

	// LeadTime is how far ahead of an event's start a reminder is sent
	LeadTime time.Duration `yaml:"lead_time" mapstructure:"lead_time" json:"lead_time" binding:"required_if=Enabled true,omitempty,min=1m"`
}

type ProfileConfig struct {
	// SchoolEmailDomain is the domain every profile's school email must
	// belong to, ex: "rpi.edu"
	SchoolEmailDomain string `yaml:"school_email_domain" mapstructure:"school_email_domain" json:"school_email_domain" binding:"required,fqdn"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,omitempty,hostname_port"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6"`

	// Secret, if set, must be provided as a bearer token on every request
	// other than the health check
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,omitempty,min=1s"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true,omitempty,min=1s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true,omitempty,min=1s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true,omitempty,min=1s"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string(nil), DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string(nil), DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string(nil), DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	levelVar := func(l slog.Level) *slog.LevelVar {
		v := &slog.LevelVar{}
		v.Set(l)
		return v
	}

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      levelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              levelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			CommandPrefix:     DefaultDiscordCommandPrefix,
			LogLevel:          levelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel: levelVar(DefaultDiscordgoLogLevel),
			StartupMessage:    DefaultDiscordStartupMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			CommandsPerMinute: DefaultDiscordCommandsPerMin,
			CommandBurst:      DefaultDiscordCommandBurst,
			GatewayIntents:    DefaultDiscordGatewayIntent,
		},
		Prompt: &PromptConfig{
			Timeout:       DefaultPromptTimeout,
			ExpiredLinger: DefaultPromptExpiredLinger,
			Color:         ColorDefault,
			LogLevel:      levelVar(DefaultPromptLogLevel),
		},
		Events: &EventsConfig{
			DefaultTimezone:     DefaultEventsTimezone,
			AnnouncementChannel: DefaultEventsAnnouncementName,
			ListLimit:           DefaultEventsListLimit,
		},
		Reminders: &RemindersConfig{
			Enabled:  true,
			Schedule: DefaultRemindersSchedule,
			LeadTime: DefaultRemindersLeadTime,
		},
		Profile: &ProfileConfig{
			SchoolEmailDomain: DefaultProfileEmailDomain,
		},
		API: &APIConfig{
			Enabled:           false,
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          levelVar(DefaultAPILogLevel),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}

// validateCronSpec checks that a string parses as a cron schedule, using
// the same parser the reminder scheduler uses
func validateCronSpec(fl validator.FieldLevel) bool {
	_, err := cronParser.Parse(fl.Field().String())
	return err == nil
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func init() {
	structValidator.SetTagName("binding")
	if err := structValidator.RegisterValidation("cron_spec", validateCronSpec); err != nil {
		panic(err)
	}
}
