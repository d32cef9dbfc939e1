package capy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CApy-RPI/mvp/prompt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	commandResponseRateLimited  = "You're sending commands too quickly. Try again in a bit."
	commandResponsePromptActive = "Finish answering your current prompt first."
	commandResponseGuildOnly    = "That command only works in a server."
	commandResponseNoPermission = "You need the Manage Messages permission to do that."
	commandResponseUnexpected   = "Something went wrong. Please try again later."
)

// userError is an error whose message is safe, and meant, to show the
// user who ran the command
type userError struct {
	msg string
}

func (e userError) Error() string {
	return e.msg
}

func newUserError(format string, args ...any) error {
	return userError{msg: fmt.Sprintf(format, args...)}
}

// commandFunc executes a command. A userError is shown to the user as-is,
// anything else is logged and replaced with a generic message.
type commandFunc func(cc *commandContext) error

// command is a prefix command, optionally with subcommands. When the first
// argument names a subcommand, that subcommand runs instead.
type command struct {
	Name        string
	Usage       string
	Description string

	// GuildOnly commands are refused in DMs
	GuildOnly bool

	// Interactive commands hold a prompt session for their duration. A
	// user can only have one at a time.
	Interactive bool

	Subcommands []*command
	Run         commandFunc
}

func (c *command) subcommand(name string) *command {
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}

// commandContext is passed to every command
type commandContext struct {
	ctx     context.Context
	bot     *Capy
	message *discordgo.Message
	author  *discordgo.User
	args    []string
	logger  *slog.Logger
}

func (cc *commandContext) guildID() string {
	return cc.message.GuildID
}

func (cc *commandContext) channelID() string {
	return cc.message.ChannelID
}

// reply sends an embed to the channel the command was sent in
func (cc *commandContext) reply(embed *discordgo.MessageEmbed) error {
	return cc.send(cc.channelID(), embed)
}

func (cc *commandContext) send(channelID string, embed *discordgo.MessageEmbed) error {
	_, err := cc.bot.discord.session.ChannelMessageSendEmbed(
		channelID,
		embed,
		discordgo.WithContext(cc.ctx),
	)
	return err
}

// dmChannel returns the ID of the DM channel with the command's author
func (cc *commandContext) dmChannel() (string, error) {
	if cc.message.GuildID == "" {
		return cc.channelID(), nil
	}
	ch, err := cc.bot.discord.session.UserChannelCreate(
		cc.author.ID,
		discordgo.WithContext(cc.ctx),
	)
	if err != nil {
		return "", fmt.Errorf("error creating DM channel: %w", err)
	}
	return ch.ID, nil
}

// hasPermission reports whether the author has perm in the command's
// channel. Administrator implies every permission.
func (cc *commandContext) hasPermission(perm int64) (bool, error) {
	perms, err := cc.bot.discord.session.UserChannelPermissions(
		cc.author.ID,
		cc.channelID(),
		discordgo.WithContext(cc.ctx),
	)
	if err != nil {
		return false, fmt.Errorf("error getting permissions: %w", err)
	}
	return perms&(perm|discordgo.PermissionAdministrator) != 0, nil
}

// commandRouter parses prefixed messages and runs the matching command,
// enforcing per-user rate limits and the one-prompt-per-user rule
type commandRouter struct {
	prefix   string
	commands []*command

	limit    rate.Limit
	burst    int
	limiters map[string]*userLimiter
	limitMu  sync.Mutex

	// active holds the IDs of users with an interactive command running
	active   map[string]struct{}
	activeMu sync.Mutex
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCommandRouter(prefix string, commandsPerMinute int, burst int) *commandRouter {
	r := &commandRouter{
		prefix:   prefix,
		limit:    rate.Inf,
		burst:    burst,
		limiters: map[string]*userLimiter{},
		active:   map[string]struct{}{},
	}
	if commandsPerMinute > 0 {
		r.limit = rate.Every(time.Minute / time.Duration(commandsPerMinute))
	}
	if r.burst < 1 {
		r.burst = 1
	}
	return r
}

func (r *commandRouter) register(cmds ...*command) {
	r.commands = append(r.commands, cmds...)
	sort.Slice(
		r.commands, func(i, j int) bool {
			return r.commands[i].Name < r.commands[j].Name
		},
	)
}

// parse returns the command named by content, and the remaining
// arguments. ok is false if content isn't a command.
func (r *commandRouter) parse(content string) (cmd *command, args []string, ok bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, r.prefix) {
		return nil, nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, r.prefix))
	if len(fields) == 0 {
		return nil, nil, false
	}
	name := strings.ToLower(fields[0])
	for _, c := range r.commands {
		if c.Name != name {
			continue
		}
		cmd, args = c, fields[1:]
		for len(args) > 0 {
			sub := cmd.subcommand(strings.ToLower(args[0]))
			if sub == nil {
				break
			}
			cmd, args = sub, args[1:]
		}
		return cmd, args, true
	}
	return nil, nil, false
}

// allow reports whether the user may run another command now
func (r *commandRouter) allow(userID string, now time.Time) bool {
	r.limitMu.Lock()
	defer r.limitMu.Unlock()
	ul, ok := r.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[userID] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}

// pruneLimiters drops limiters for users that haven't run a command
// since cutoff
func (r *commandRouter) pruneLimiters(cutoff time.Time) int {
	r.limitMu.Lock()
	defer r.limitMu.Unlock()
	removed := 0
	for id, ul := range r.limiters {
		if ul.lastSeen.Before(cutoff) {
			delete(r.limiters, id)
			removed++
		}
	}
	return removed
}

// beginSession marks the user as having a prompt session. It returns
// false if they already have one.
func (r *commandRouter) beginSession(userID string) bool {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	if _, exists := r.active[userID]; exists {
		return false
	}
	r.active[userID] = struct{}{}
	return true
}

func (r *commandRouter) endSession(userID string) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	delete(r.active, userID)
}

func (r *commandRouter) sessionActive(userID string) bool {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	_, ok := r.active[userID]
	return ok
}

// handleMessage takes every message the bot sees. Messages answering a
// pending prompt are consumed by the prompt, anything else starting with
// the command prefix is dispatched in its own goroutine.
//
// This runs in discordgo's event loop, so prompts see messages in the
// order they arrived.
func (c *Capy) handleMessage(ctx context.Context, m *discordgo.Message, wg *sync.WaitGroup) {
	author := messageAuthor(m)
	if author == nil || author.Bot || author.ID == c.discord.BotUserID() {
		return
	}
	if n := c.bus.Publish(prompt.MessageEvent(m)); n > 0 {
		c.logger.DebugContext(ctx, "message answered prompt", messageLogAttrs(m)...)
		return
	}

	cmd, args, ok := c.commands.parse(m.Content)
	if !ok {
		return
	}

	started := c.dispatch.goTracked(
		wg, "", func() {
			c.runCommand(ctx, cmd, m, author, args)
		},
	)
	if !started {
		c.logger.DebugContext(ctx, "shutting down, command ignored", messageLogAttrs(m)...)
	}
}

func (c *Capy) runCommand(
	ctx context.Context,
	cmd *command,
	m *discordgo.Message,
	author *discordgo.User,
	args []string,
) {
	logger := c.logger.With(
		slog.Group("command", "name", cmd.Name, "args", args),
		slog.Group("message", messageLogAttrs(m)...),
	)
	ctx = WithLogger(ctx, logger)
	cc := &commandContext{
		ctx:     ctx,
		bot:     c,
		message: m,
		author:  author,
		args:    args,
		logger:  logger,
	}

	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, rc)
			if err := cc.reply(errorEmbed(commandResponseUnexpected)); err != nil {
				logger.ErrorContext(ctx, "error sending error response", tint.Err(err))
			}
		}
	}()

	if !c.commands.allow(author.ID, c.now()) {
		logger.WarnContext(ctx, "user rate limited")
		c.replyError(cc, commandResponseRateLimited)
		return
	}

	if cmd.GuildOnly && m.GuildID == "" {
		c.replyError(cc, commandResponseGuildOnly)
		return
	}

	if cmd.Interactive {
		if !c.commands.beginSession(author.ID) {
			c.replyError(cc, commandResponsePromptActive)
			return
		}
		defer c.commands.endSession(author.ID)
	}

	if cmd.Run == nil {
		c.replyError(cc, fmt.Sprintf("Usage: `%s%s`", c.commands.prefix, cmd.Usage))
		return
	}

	logger.InfoContext(ctx, "running command")
	start := time.Now()
	err := cmd.Run(cc)
	if err == nil {
		logger.InfoContext(ctx, "command finished", "duration", time.Since(start))
		return
	}

	var ue userError
	switch {
	case errors.As(err, &ue):
		logger.InfoContext(ctx, "command refused", "reason", ue.msg)
		c.replyError(cc, ue.msg)
	case errors.Is(err, context.Canceled):
		logger.WarnContext(ctx, "command cancelled", tint.Err(err))
	default:
		logger.ErrorContext(ctx, "command failed", tint.Err(err))
		c.replyError(cc, commandResponseUnexpected)
	}
}

func (c *Capy) replyError(cc *commandContext, msg string) {
	if err := cc.reply(errorEmbed(msg)); err != nil {
		cc.logger.ErrorContext(cc.ctx, "error sending error response", tint.Err(err))
	}
}

// requirePermission returns a userError if the author lacks perm
func requirePermission(cc *commandContext, perm int64) error {
	ok, err := cc.hasPermission(perm)
	if err != nil {
		return err
	}
	if !ok {
		return newUserError(commandResponseNoPermission)
	}
	return nil
}
