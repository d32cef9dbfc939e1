package capy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/CApy-RPI/mvp/prompt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Capy is the bot. Create one with New, then call Run.
type Capy struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	// db is used for reads, writeDB for writes
	db      *gorm.DB
	writeDB DBI

	discord *Discord

	// bus receives every message and reaction the bot sees, so pending
	// prompts can pick out their answers
	bus     *prompt.Bus
	prompts *prompt.Controller

	commands  *commandRouter
	scheduler *scheduler
	api       *API

	// now returns the current time. Tests override it.
	now func() time.Time

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// starts commands and RSVP updates from the gateway handlers, until
	// shutdown begins
	dispatch dispatcher

	startedAt time.Time

	// signalReady receives a value once Run has connected to discord
	// and started every component
	signalReady chan struct{}

	// promptOptions are passed to the prompt controller, after the
	// configured defaults
	promptOptions []prompt.ControllerOption
}

// New creates a Capy instance with loggers and every component that
// doesn't need the database or a discord connection.
func New(config *Config) (*Capy, error) {
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

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	c := &Capy{
		config:      config,
		bus:         prompt.NewBus(),
		now:         time.Now,
		signalReady: make(chan struct{}, 1),
	}

	c.logHandler = newLogHandler(config.LogLevel)
	c.logger = slog.New(c.logHandler)
	slog.SetDefault(c.logger)

	config.Discord.httpClient = config.HTTPClient
	c.discord = newDiscord(config.Discord)
	c.discord.logger = slog.New(newLogHandler(config.Discord.LogLevel)).With(loggerNameKey, "discord")

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)

	c.commands = newCommandRouter(
		config.Discord.CommandPrefix,
		config.Discord.CommandsPerMinute,
		config.Discord.CommandBurst,
	)
	c.commands.register(
		pingCommand(),
		helpCommand(),
		eventsCommand(),
		attendanceCommand(),
		profileCommand(),
		settingsCommand(),
	)

	c.scheduler = newScheduler(c, c.logger.With(loggerNameKey, "scheduler"))

	if config.API.Enabled {
		c.api = newAPI(c, config.API)
	}

	return c, errors.Join(errs...)
}

func (c *Capy) ValidateConfig() error {
	return structValidator.Struct(c.config)
}

// Run validates the config, initializes the database, connects to discord
// and starts the scheduler and API. It blocks until ctx is cancelled, then
// shuts down, giving commands in progress until the shutdown timeout to
// finish.
func (c *Capy) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.startedAt = time.Now()
	logger := c.logger

	if err := c.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", c.config))

	// this is the 'runtime' context, which commands and prompts run
	// under. It's cancelled when shutdown begins.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer startCancel()

	if c.db == nil {
		if err := c.initDB(startCtx); err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return fmt.Errorf("error initializing database: %w", err)
		}
	}

	// commands and event handlers in progress
	runtimeWG := &sync.WaitGroup{}
	c.dispatch.open()

	if err := c.initDiscordSession(ctx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}

	logger.InfoContext(ctx, "connecting to discord")
	if err := c.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := c.scheduler.start(gctx); err != nil {
		c.closeDiscord(ctx)
		return err
	}
	g.Go(
		func() error {
			<-gctx.Done()
			c.scheduler.stop()
			return nil
		},
	)

	if c.api != nil {
		g.Go(
			func() error {
				if err := c.api.Serve(gctx); err != nil {
					logger.ErrorContext(gctx, "error serving api", tint.Err(err))
					return err
				}
				return nil
			},
		)
		g.Go(
			func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(
					context.WithoutCancel(gctx),
					c.config.ShutdownTimeout,
				)
				defer cancel()
				return c.api.Shutdown(shutdownCtx)
			},
		)
	}

	c.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal")

	// block until the context is cancelled (generally from an interrupt),
	// or a component fails
	<-gctx.Done()
	cancel()
	groupErr := g.Wait()

	return errors.Join(groupErr, c.shutdown(ctx, runtimeWG))
}

// initDB opens and migrates the configured database
func (c *Capy) initDB(ctx context.Context) error {
	handler := newLogHandler(c.config.DatabaseLogLevel)
	dbLogger := slog.New(handler).With(loggerNameKey, "database")
	db, err := openDB(
		ctx,
		c.config.DatabaseType,
		c.config.Database,
		newGORMLogger(handler, c.config.DatabaseSlowThreshold),
		dbLogger,
	)
	if err != nil {
		return err
	}
	c.db = db
	c.writeDB = NewDatabase(db, dbLogger, c.config.DatabaseType == dbTypePostgres)
	return nil
}

// initDiscordSession creates the discord session (if one hasn't been set),
// the prompt controller on top of it, and registers the gateway handlers.
func (c *Capy) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	if c.discord.session == nil {
		session, err := c.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		c.discord.session = session
	}

	ctx = WithLogger(ctx, c.logger.With(loggerNameKey, "discord_session"))

	promptOpts := append(
		[]prompt.ControllerOption{
			prompt.WithLogger(slog.New(newLogHandler(c.config.Prompt.LogLevel))),
			prompt.WithColor(c.config.Prompt.Color),
			prompt.WithExpiredLinger(c.config.Prompt.ExpiredLinger),
		},
		c.promptOptions...,
	)
	c.prompts = prompt.NewController(
		discordMessenger{session: c.discord.session},
		c.bus,
		promptOpts...,
	)

	for _, h := range c.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	c.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: c.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusOnline),
			},
		},
	)

	c.discord.discordgoRemoveHandlerFuncs = []func(){
		c.discord.session.AddHandler(c.discord.handlerConnect()),
		c.discord.session.AddHandler(c.discord.handlerDisconnect()),
		c.discord.session.AddHandler(c.discord.handlerReady()),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				c.handleMessage(ctx, m.Message, runtimeWG)
			},
		),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
				c.handleReactionAdd(ctx, r.MessageReaction, r.Member, runtimeWG)
			},
		),
		c.discord.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
				c.handleReactionRemove(ctx, r.MessageReaction, runtimeWG)
			},
		),
	}
	return nil
}

func (c *Capy) closeDiscord(ctx context.Context) {
	for _, h := range c.discord.discordgoRemoveHandlerFuncs {
		h()
	}
	c.discord.discordgoRemoveHandlerFuncs = nil
	if err := c.discord.session.Close(); err != nil {
		c.logger.ErrorContext(ctx, "error closing discord session", tint.Err(err))
	}
}

// shutdown waits for commands in progress (and their prompts' cleanup) to
// finish, up to the shutdown timeout, then disconnects from discord.
func (c *Capy) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(c.config.ShutdownTimeout)
	c.logger.WarnContext(
		ctx,
		"shutting down",
		"shutdown_timeout", c.config.ShutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
		"pending_prompts", c.bus.Len(),
		"pending_rsvp_updates", c.dispatch.pending(),
	)

	// stop receiving new events first, so nothing new is started. A
	// handler already running can't add to runtimeWG after this.
	for _, h := range c.discord.discordgoRemoveHandlerFuncs {
		h()
	}
	c.discord.discordgoRemoveHandlerFuncs = nil
	c.dispatch.close()

	done := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		close(done)
	}()

	var err error
	timer := time.NewTimer(time.Until(shutdownDeadline))
	defer timer.Stop()
	select {
	case <-done:
		c.logger.InfoContext(ctx, "commands finished")
	case <-timer.C:
		err = errors.New("commands did not finish in time")
		c.logger.WarnContext(ctx, "commands did not finish in time, forcing close")
	}

	if closeErr := c.discord.session.Close(); closeErr != nil {
		c.logger.ErrorContext(ctx, "error closing discord session", tint.Err(closeErr))
	}

	if c.db != nil {
		if sqlDB, dbErr := c.db.DB(); dbErr == nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				c.logger.ErrorContext(ctx, "error closing database", tint.Err(closeErr))
			}
		}
	}

	c.logger.InfoContext(
		ctx,
		"shutdown complete",
		"shutdown_duration", time.Since(shutdownStart),
	)
	return err
}
