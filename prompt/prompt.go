// Package prompt presents interactive menus and questions to a single
// Discord user and waits, for a bounded time, for that user to answer with a
// reaction or a message.
//
// A prompt always removes the message it presented before returning, whether
// it was answered, expired, or failed. Expiry is reported through Status
// rather than as an error. Errors are reserved for invalid requests (see
// ErrInvalidPrompt), context cancellation, and failures to present the
// prompt in the first place.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	// ExpiredNotice replaces a prompt's description when nobody answered it
	// in time.
	ExpiredNotice = "This prompt has expired."

	DefaultColor         = 0x5865F2
	ColorExpired         = 0xED4245
	maxTitleLength       = 256
	maxDescriptionLength = 4096

	loggerNameKey = "logger"
)

var (
	// ErrInvalidPrompt is wrapped by every validation failure. Nothing is
	// sent when a request fails validation.
	ErrInvalidPrompt = errors.New("invalid prompt")

	// cleanupTimeout bounds the best-effort edits/deletes performed after a
	// wait has finished
	cleanupTimeout = 10 * time.Second
)

// Status describes how a prompt ended.
type Status int

const (
	// StatusSelected means the actor answered before the timeout.
	StatusSelected Status = iota + 1

	// StatusTimeout means the timeout elapsed without a qualifying answer.
	StatusTimeout

	// StatusCancelled means the caller's context ended first.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSelected:
		return "selected"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Mode selects how a Menu waits for its answer.
type Mode int

const (
	// ModeReaction attaches each trigger as a reaction and waits for the
	// actor to click one.
	ModeReaction Mode = iota + 1

	// ModeText waits for the actor to send a message whose content is
	// exactly one of the triggers.
	ModeText
)

func (m Mode) String() string {
	switch m {
	case ModeReaction:
		return "reaction"
	case ModeText:
		return "text"
	default:
		return "unknown"
	}
}

// Messenger is the set of chat operations a Controller needs.
type Messenger interface {
	SendEmbed(
		ctx context.Context,
		channelID string,
		embed *discordgo.MessageEmbed,
	) (*discordgo.Message, error)
	EditEmbed(
		ctx context.Context,
		channelID string,
		messageID string,
		embed *discordgo.MessageEmbed,
	) error
	DeleteMessage(ctx context.Context, channelID string, messageID string) error
	AddReaction(
		ctx context.Context,
		channelID string,
		messageID string,
		emoji string,
	) error
	ClearReactions(ctx context.Context, channelID string, messageID string) error
}

// Controller runs prompts against a Messenger, taking answers from a Bus.
//
// The zero value is not usable; create one with NewController.
type Controller struct {
	messenger     Messenger
	bus           *Bus
	clock         Clock
	logger        *slog.Logger
	color         int
	expiredLinger time.Duration
}

type ControllerOption func(*Controller)

// WithClock overrides the timer source
func WithClock(clock Clock) ControllerOption {
	return func(c *Controller) {
		c.clock = clock
	}
}

func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithColor sets the embed color used when a request doesn't specify one
func WithColor(color int) ControllerOption {
	return func(c *Controller) {
		c.color = color
	}
}

// WithExpiredLinger sets how long the expiry notice stays visible before
// the prompt is deleted. Zero deletes it immediately after the edit.
func WithExpiredLinger(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.expiredLinger = d
	}
}

func NewController(
	messenger Messenger,
	bus *Bus,
	opts ...ControllerOption,
) *Controller {
	c := &Controller{
		messenger: messenger,
		bus:       bus,
		clock:     realClock{},
		color:     DefaultColor,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With(loggerNameKey, "prompt")
	return c
}

// session is the transient state of one presented prompt message.
type session struct {
	id        string
	logger    *slog.Logger
	channelID string
	title     string
	message   *discordgo.Message
	reactions bool
	expired   bool
}

func (c *Controller) newSession(
	kind string,
	actorID string,
	channelID string,
	title string,
) *session {
	id := uuid.NewString()
	return &session{
		id:        id,
		channelID: channelID,
		title:     title,
		logger: c.logger.With(
			slog.Group(
				"prompt_session",
				"id", id,
				"kind", kind,
				"actor_id", actorID,
				"channel_id", channelID,
			),
		),
	}
}

// present sends the prompt embed and records it on the session.
func (c *Controller) present(
	ctx context.Context,
	s *session,
	embed *discordgo.MessageEmbed,
) error {
	msg, err := c.messenger.SendEmbed(ctx, s.channelID, embed)
	if err != nil {
		s.logger.ErrorContext(ctx, "error sending prompt", tint.Err(err))
		return fmt.Errorf("error sending prompt: %w", err)
	}
	if msg == nil {
		return errors.New("error sending prompt: no message returned")
	}
	s.message = msg
	s.logger.DebugContext(ctx, "presented prompt", "message_id", msg.ID)
	return nil
}

// wait blocks on sub for at most timeout. The returned Status is
// StatusSelected with the matching event, StatusTimeout, or
// StatusCancelled along with the context's error.
func (c *Controller) wait(
	ctx context.Context,
	sub *Subscription,
	timeout time.Duration,
) (Event, Status, error) {
	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	ev, err := sub.Wait(ctx, timer.C())
	switch {
	case err == nil:
		return ev, StatusSelected, nil
	case errors.Is(err, ErrExpired):
		return Event{}, StatusTimeout, nil
	default:
		return Event{}, StatusCancelled, err
	}
}

// finish removes everything a session left in the channel. Failures are
// logged and otherwise ignored, as the outcome of the prompt has already
// been decided.
func (c *Controller) finish(ctx context.Context, s *session) {
	if s.message == nil {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx),
		cleanupTimeout,
	)
	defer cancel()

	msgID := s.message.ID

	if s.reactions {
		if err := c.messenger.ClearReactions(cleanupCtx, s.channelID, msgID); err != nil {
			s.logger.WarnContext(ctx, "error clearing prompt reactions", tint.Err(err))
		}
	}

	if s.expired {
		if err := c.messenger.EditEmbed(
			cleanupCtx,
			s.channelID,
			msgID,
			expiredEmbed(s.title),
		); err != nil {
			s.logger.WarnContext(ctx, "error marking prompt expired", tint.Err(err))
		} else {
			c.linger(ctx)
		}
	}

	if err := c.messenger.DeleteMessage(cleanupCtx, s.channelID, msgID); err != nil {
		s.logger.WarnContext(ctx, "error deleting prompt", tint.Err(err))
	} else {
		s.logger.DebugContext(ctx, "deleted prompt", "message_id", msgID)
	}
}

// linger keeps an expiry notice visible for the configured duration,
// cut short if ctx ends.
func (c *Controller) linger(ctx context.Context) {
	if c.expiredLinger <= 0 {
		return
	}
	t := c.clock.NewTimer(c.expiredLinger)
	defer t.Stop()
	select {
	case <-t.C():
	case <-ctx.Done():
	}
}

// deleteReply removes an answer message sent by the actor
func (c *Controller) deleteReply(ctx context.Context, s *session, m *discordgo.Message) {
	if m == nil {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(
		context.WithoutCancel(ctx),
		cleanupTimeout,
	)
	defer cancel()
	if err := c.messenger.DeleteMessage(cleanupCtx, m.ChannelID, m.ID); err != nil {
		s.logger.WarnContext(ctx, "error deleting reply", tint.Err(err), "reply_id", m.ID)
	}
}

func (c *Controller) promptEmbed(
	title string,
	description string,
	color int,
	timeout time.Duration,
) *discordgo.MessageEmbed {
	if color == 0 {
		color = c.color
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: truncate(description, maxDescriptionLength),
		Color:       color,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Expires in %s", timeout.Round(time.Second)),
		},
	}
}

func expiredEmbed(title string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: ExpiredNotice,
		Color:       ColorExpired,
	}
}

func validateCommon(
	actorID string,
	channelID string,
	title string,
	timeout time.Duration,
) error {
	var errs []error
	if actorID == "" {
		errs = append(errs, errors.New("actor ID is required"))
	}
	if channelID == "" {
		errs = append(errs, errors.New("channel ID is required"))
	}
	if strings.TrimSpace(title) == "" {
		errs = append(errs, errors.New("title is required"))
	} else if utf8.RuneCountInString(title) > maxTitleLength {
		errs = append(
			errs,
			fmt.Errorf("title must be at most %d characters", maxTitleLength),
		)
	}
	if timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", timeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPrompt, errors.Join(errs...))
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
