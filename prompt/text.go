package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// OneRequest describes a single free-text question.
type OneRequest struct {
	ActorID     string
	ChannelID   string
	Description string
	Title       string
	Color       int
	Timeout     time.Duration
}

func (r OneRequest) validate() error {
	return validateCommon(r.ActorID, r.ChannelID, r.Title, r.Timeout)
}

// Response is the outcome of a free-text question. Content and Message are
// only set when Status is StatusSelected.
type Response struct {
	Status  Status
	Content string

	// Message is the actor's reply
	Message *discordgo.Message
}

// Answered reports whether a reply was received
func (r Response) Answered() bool {
	return r.Status == StatusSelected
}

// One asks a question and returns the next message with content that
// req.ActorID sends in req.ChannelID. Messages without content (ex: only an
// attachment) don't count as an answer.
//
// The question is deleted before returning. If the actor doesn't answer in
// time, it's first edited to show ExpiredNotice.
func (c *Controller) One(ctx context.Context, req OneRequest) (Response, error) {
	if err := req.validate(); err != nil {
		return Response{}, err
	}
	return c.ask(
		ctx,
		"one",
		req.ActorID,
		req.ChannelID,
		req.Title,
		req.Description,
		req.Color,
		req.Timeout,
	)
}

// ManyRequest describes an ordered series of free-text questions, all
// asked with the same title, color and per-question timeout.
type ManyRequest struct {
	ActorID   string
	ChannelID string
	Prompts   []string
	Title     string
	Color     int
	Timeout   time.Duration
}

func (r ManyRequest) validate() error {
	var errs []error
	if len(r.Prompts) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one prompt is required", ErrInvalidPrompt))
	}
	// the longest numbered title has to fit, too
	title := r.Title
	if strings.TrimSpace(title) != "" {
		title = stepTitle(r.Title, len(r.Prompts), len(r.Prompts))
	}
	if err := validateCommon(r.ActorID, r.ChannelID, title, r.Timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Many asks each of req.Prompts in order, titled "<title> (i/N)", and
// returns the answers collected. The first question that times out ends
// the sequence without asking the rest, so a result shorter than
// req.Prompts means the actor stopped answering. Answers already given are
// kept.
//
// If ctx ends mid-sequence, the answers collected so far are returned
// along with the context's error.
func (c *Controller) Many(ctx context.Context, req ManyRequest) ([]string, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	total := len(req.Prompts)
	responses := make([]string, 0, total)
	for i, p := range req.Prompts {
		resp, err := c.ask(
			ctx,
			"many",
			req.ActorID,
			req.ChannelID,
			stepTitle(req.Title, i+1, total),
			p,
			req.Color,
			req.Timeout,
		)
		if err != nil {
			return responses, err
		}
		if !resp.Answered() {
			c.logger.InfoContext(
				ctx,
				"prompt sequence ended early",
				"answered", len(responses),
				"total", total,
			)
			return responses, nil
		}
		responses = append(responses, resp.Content)
	}
	return responses, nil
}

// ask presents one question and waits for the answer.
func (c *Controller) ask(
	ctx context.Context,
	kind string,
	actorID string,
	channelID string,
	title string,
	description string,
	color int,
	timeout time.Duration,
) (Response, error) {
	s := c.newSession(kind, actorID, channelID, title)
	if err := c.present(
		ctx,
		s,
		c.promptEmbed(title, description, color, timeout),
	); err != nil {
		return Response{}, err
	}
	defer c.finish(ctx, s)

	sub := c.bus.Subscribe(
		KindMessageCreate, func(ev Event) bool {
			m := ev.Message
			return m != nil &&
				ev.UserID() == actorID &&
				m.ChannelID == channelID &&
				strings.TrimSpace(m.Content) != ""
		},
	)

	ev, status, err := c.wait(ctx, sub, timeout)
	switch status {
	case StatusTimeout:
		s.expired = true
		s.logger.InfoContext(ctx, "prompt expired")
		return Response{Status: StatusTimeout}, nil
	case StatusCancelled:
		s.logger.InfoContext(ctx, "prompt cancelled", tint.Err(err))
		return Response{Status: StatusCancelled}, err
	}

	s.logger.DebugContext(ctx, "prompt answered", "reply_id", ev.Message.ID)
	return Response{
		Status:  StatusSelected,
		Content: ev.Message.Content,
		Message: ev.Message,
	}, nil
}

func stepTitle(title string, step int, total int) string {
	return fmt.Sprintf("%s (%d/%d)", title, step, total)
}
