package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// variationSelector is appended to some emoji. The gateway doesn't always
// echo it back on reactions, so triggers are compared without it.
const variationSelector = "\ufe0f"

// Option maps a trigger (an emoji, or a literal reply) to a value.
type Option[T any] struct {
	Trigger string
	Value   T
}

// Options is an ordered set of menu choices. Reactions are attached in
// this order.
type Options[T any] []Option[T]

// Values returns the option values, in order
func (o Options[T]) Values() []T {
	values := make([]T, len(o))
	for i, opt := range o {
		values[i] = opt.Value
	}
	return values
}

func (o Options[T]) lookup(trigger string, mode Mode) (Option[T], bool) {
	for _, opt := range o {
		if mode == ModeReaction {
			if normalizeEmoji(opt.Trigger) == normalizeEmoji(trigger) {
				return opt, true
			}
			continue
		}
		if opt.Trigger == trigger {
			return opt, true
		}
	}
	return Option[T]{}, false
}

// validate checks the triggers are set and distinct. Reaction triggers are
// compared the way lookup compares them.
func (o Options[T]) validate(mode Mode) error {
	if len(o) == 0 {
		return errors.New("at least one option is required")
	}
	seen := make(map[string]struct{}, len(o))
	var errs []error
	for i, opt := range o {
		if opt.Trigger == "" {
			errs = append(errs, fmt.Errorf("option %d has an empty trigger", i))
			continue
		}
		key := opt.Trigger
		if mode == ModeReaction {
			key = normalizeEmoji(key)
		}
		if _, dupe := seen[key]; dupe {
			errs = append(errs, fmt.Errorf("duplicate trigger %q", opt.Trigger))
		}
		seen[key] = struct{}{}
	}
	return errors.Join(errs...)
}

// MenuRequest describes a single menu.
type MenuRequest[T any] struct {
	// ActorID is the only user whose answer is accepted
	ActorID string

	// ChannelID is where the menu is posted, and (in ModeText) where the
	// answer must be sent
	ChannelID string

	Options Options[T]

	// Prompt is the embed body. It should tell the actor what the
	// triggers mean.
	Prompt string

	Mode    Mode
	Timeout time.Duration
	Title   string

	// Color of the embed. Zero uses the Controller's default.
	Color int
}

func (r MenuRequest[T]) validate() error {
	var errs []error
	if err := validateCommon(r.ActorID, r.ChannelID, r.Title, r.Timeout); err != nil {
		errs = append(errs, err)
	}
	if err := r.Options.validate(r.Mode); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidPrompt, err))
	}
	switch r.Mode {
	case ModeReaction, ModeText:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown mode %d", ErrInvalidPrompt, r.Mode))
	}
	return errors.Join(errs...)
}

// Selection is the outcome of a Menu. Value and Trigger are only set when
// Status is StatusSelected.
type Selection[T any] struct {
	Status  Status
	Trigger string
	Value   T
}

// Selected reports whether an option was chosen
func (s Selection[T]) Selected() bool {
	return s.Status == StatusSelected
}

// Menu posts req.Prompt and waits for req.ActorID to pick one of
// req.Options.
//
// In ModeReaction, every trigger is attached to the message as a reaction
// before waiting, and the first reaction the actor adds to that message
// with a known trigger is the answer. In ModeText, the first message the
// actor sends in the channel whose content exactly equals a trigger is the
// answer, and that message is deleted.
//
// Anything else (other users, other channels/messages, unknown triggers) is
// ignored, and does not extend the timeout.
func Menu[T any](
	ctx context.Context,
	c *Controller,
	req MenuRequest[T],
) (Selection[T], error) {
	if err := req.validate(); err != nil {
		return Selection[T]{}, err
	}

	s := c.newSession("menu", req.ActorID, req.ChannelID, req.Title)
	if err := c.present(
		ctx,
		s,
		c.promptEmbed(req.Title, req.Prompt, req.Color, req.Timeout),
	); err != nil {
		return Selection[T]{}, err
	}
	defer c.finish(ctx, s)

	msgID := s.message.ID
	var sub *Subscription

	switch req.Mode {
	case ModeReaction:
		sub = c.bus.Subscribe(
			KindReactionAdd, func(ev Event) bool {
				r := ev.Reaction
				if r == nil || r.UserID != req.ActorID || r.MessageID != msgID {
					return false
				}
				_, ok := req.Options.lookup(r.Emoji.APIName(), ModeReaction)
				return ok
			},
		)
		s.reactions = true
		for _, opt := range req.Options {
			if err := c.messenger.AddReaction(
				ctx,
				req.ChannelID,
				msgID,
				opt.Trigger,
			); err != nil {
				sub.Cancel()
				s.logger.ErrorContext(
					ctx,
					"error adding reaction",
					tint.Err(err),
					"trigger", opt.Trigger,
				)
				return Selection[T]{}, fmt.Errorf(
					"error adding reaction %q: %w",
					opt.Trigger,
					err,
				)
			}
		}
	case ModeText:
		sub = c.bus.Subscribe(
			KindMessageCreate, func(ev Event) bool {
				m := ev.Message
				if m == nil || ev.UserID() != req.ActorID || m.ChannelID != req.ChannelID {
					return false
				}
				_, ok := req.Options.lookup(m.Content, ModeText)
				return ok
			},
		)
	}

	ev, status, err := c.wait(ctx, sub, req.Timeout)
	switch status {
	case StatusTimeout:
		s.expired = true
		s.logger.InfoContext(ctx, "menu expired")
		return Selection[T]{Status: StatusTimeout}, nil
	case StatusCancelled:
		s.logger.InfoContext(ctx, "menu cancelled", tint.Err(err))
		return Selection[T]{Status: StatusCancelled}, err
	}

	var trigger string
	if req.Mode == ModeReaction {
		trigger = ev.Reaction.Emoji.APIName()
	} else {
		trigger = ev.Message.Content
		c.deleteReply(ctx, s, ev.Message)
	}
	opt, _ := req.Options.lookup(trigger, req.Mode)
	s.logger.InfoContext(ctx, "menu selection", "trigger", opt.Trigger)
	return Selection[T]{
		Status:  StatusSelected,
		Trigger: opt.Trigger,
		Value:   opt.Value,
	}, nil
}

func normalizeEmoji(s string) string {
	return strings.ReplaceAll(s, variationSelector, "")
}
