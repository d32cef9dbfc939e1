package prompt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var yesNo = Options[bool]{
	{Trigger: "✅", Value: true},
	{Trigger: "❌", Value: false},
}

func reactionMenu(timeout time.Duration) MenuRequest[bool] {
	return MenuRequest[bool]{
		ActorID:   testActorID,
		ChannelID: testChannelID,
		Options:   yesNo,
		Prompt:    "✅ to confirm, ❌ to cancel",
		Mode:      ModeReaction,
		Timeout:   timeout,
		Title:     "Confirm",
	}
}

func TestMenuReactionSelected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	done := run(
		func() (Selection[bool], error) {
			return Menu(ctx, h.c, reactionMenu(30*time.Second))
		},
	)

	timer := h.clock.next(t)
	assert.Equal(t, 30*time.Second, timer.d)

	msg := lastSent(t, h.messenger)
	assert.Equal(t, []string{"✅", "❌"}, h.messenger.reactionsFor(msg.ID))
	assert.Equal(t, "Confirm", msg.Embeds[0].Title)
	assert.Equal(t, DefaultColor, msg.Embeds[0].Color)
	assert.Equal(t, "Expires in 30s", msg.Embeds[0].Footer.Text)

	// none of these qualify
	assert.Equal(t, 0, h.bus.Publish(reaction("someone-else", msg.ID, "✅")))
	assert.Equal(t, 0, h.bus.Publish(reaction(testActorID, "other-message", "✅")))
	assert.Equal(t, 0, h.bus.Publish(reaction(testActorID, msg.ID, "🎉")))
	assert.Equal(t, 0, h.bus.Publish(reply(testActorID, testChannelID, "✅")))

	assert.Equal(t, 1, h.bus.Publish(reaction(testActorID, msg.ID, "❌")))

	sel, err := await(t, done)
	require.NoError(t, err)
	assert.True(t, sel.Selected())
	assert.Equal(t, StatusSelected, sel.Status)
	assert.Equal(t, "❌", sel.Trigger)
	assert.False(t, sel.Value)

	assert.True(t, h.messenger.wasCleared(msg.ID))
	assert.True(t, h.messenger.wasDeleted(msg.ID))
	assert.Empty(t, h.messenger.editsFor(msg.ID))
	assert.Equal(t, 0, h.messenger.liveCount())
	assert.Equal(t, 0, h.bus.Len())
	assert.Equal(t, 0, h.clock.pending(), "ignored events shouldn't restart the wait")
}

func TestMenuReactionVariationSelector(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	req := MenuRequest[string]{
		ActorID:   testActorID,
		ChannelID: testChannelID,
		Options:   Options[string]{{Trigger: "❤️", Value: "love"}},
		Prompt:    "react",
		Mode:      ModeReaction,
		Timeout:   time.Minute,
		Title:     "Heart",
	}
	done := run(
		func() (Selection[string], error) {
			return Menu(context.Background(), h.c, req)
		},
	)
	h.clock.next(t)
	msg := lastSent(t, h.messenger)

	assert.Equal(t, 1, h.bus.Publish(reaction(testActorID, msg.ID, "❤")))

	sel, err := await(t, done)
	require.NoError(t, err)
	assert.Equal(t, "love", sel.Value)
	assert.Equal(t, "❤️", sel.Trigger)
}

func TestMenuReactionTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	done := run(
		func() (Selection[bool], error) {
			return Menu(context.Background(), h.c, reactionMenu(time.Second))
		},
	)
	timer := h.clock.next(t)
	msg := lastSent(t, h.messenger)
	timer.Fire()

	sel, err := await(t, done)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, sel.Status)
	assert.False(t, sel.Selected())
	assert.False(t, sel.Value)

	edits := h.messenger.editsFor(msg.ID)
	require.Len(t, edits, 1)
	assert.Equal(t, ExpiredNotice, edits[0].Description)
	assert.Equal(t, ColorExpired, edits[0].Color)
	assert.True(t, h.messenger.wasDeleted(msg.ID))
	assert.Equal(t, 0, h.bus.Len())

	// a late reaction goes nowhere
	assert.Equal(t, 0, h.bus.Publish(reaction(testActorID, msg.ID, "✅")))
}

func TestMenuExpiredLinger(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.c.expiredLinger = 3 * time.Second

	done := run(
		func() (Selection[bool], error) {
			return Menu(context.Background(), h.c, reactionMenu(time.Second))
		},
	)
	h.clock.next(t).Fire()
	msg := lastSent(t, h.messenger)

	linger := h.clock.next(t)
	assert.Equal(t, 3*time.Second, linger.d)
	assert.False(t, h.messenger.wasDeleted(msg.ID))
	linger.Fire()

	sel, err := await(t, done)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, sel.Status)
	assert.True(t, h.messenger.wasDeleted(msg.ID))
}

func TestMenuText(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	req := MenuRequest[string]{
		ActorID:   testActorID,
		ChannelID: testChannelID,
		Options: Options[string]{
			{Trigger: "Y", Value: "yes"},
			{Trigger: "N", Value: "no"},
		},
		Prompt:  "Overwrite your profile? (Y/N)",
		Mode:    ModeText,
		Timeout: time.Minute,
		Title:   "Profile",
		Color:   0x00FF00,
	}
	done := run(
		func() (Selection[string], error) {
			return Menu(context.Background(), h.c, req)
		},
	)
	h.clock.next(t)
	msg := lastSent(t, h.messenger)
	assert.Empty(t, h.messenger.reactionsFor(msg.ID))
	assert.Equal(t, 0x00FF00, msg.Embeds[0].Color)

	assert.Equal(t, 0, h.bus.Publish(reply(testActorID, testChannelID, "y")))
	assert.Equal(t, 0, h.bus.Publish(reply(testActorID, "elsewhere", "Y")))
	assert.Equal(t, 0, h.bus.Publish(reply("someone-else", testChannelID, "Y")))

	answer := reply(testActorID, testChannelID, "Y")
	assert.Equal(t, 1, h.bus.Publish(answer))

	sel, err := await(t, done)
	require.NoError(t, err)
	assert.Equal(t, "yes", sel.Value)
	assert.Equal(t, "Y", sel.Trigger)
	assert.True(t, h.messenger.wasDeleted(msg.ID))
	assert.True(t, h.messenger.wasDeleted(answer.Message.ID), "reply should be removed")
	assert.False(t, h.messenger.wasCleared(msg.ID))
	assert.Equal(t, 0, h.bus.Len())
}

func TestMenuValidation(t *testing.T) {
	t.Parallel()

	long := make([]rune, maxTitleLength+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name   string
		modify func(r *MenuRequest[bool])
	}{
		{"no options", func(r *MenuRequest[bool]) { r.Options = nil }},
		{"empty trigger", func(r *MenuRequest[bool]) {
			r.Options = Options[bool]{{Trigger: "", Value: true}}
		}},
		{"duplicate trigger", func(r *MenuRequest[bool]) {
			r.Options = Options[bool]{{Trigger: "✅"}, {Trigger: "✅"}}
		}},
		{"duplicate after variation selector", func(r *MenuRequest[bool]) {
			r.Options = Options[bool]{{Trigger: "\u2764\ufe0f", Value: true}, {Trigger: "\u2764", Value: false}}
		}},
		{"zero timeout", func(r *MenuRequest[bool]) { r.Timeout = 0 }},
		{"negative timeout", func(r *MenuRequest[bool]) { r.Timeout = -time.Second }},
		{"blank title", func(r *MenuRequest[bool]) { r.Title = "  " }},
		{"long title", func(r *MenuRequest[bool]) { r.Title = string(long) }},
		{"no actor", func(r *MenuRequest[bool]) { r.ActorID = "" }},
		{"no channel", func(r *MenuRequest[bool]) { r.ChannelID = "" }},
		{"unknown mode", func(r *MenuRequest[bool]) { r.Mode = Mode(99) }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				h := newHarness(t)
				req := reactionMenu(time.Minute)
				tc.modify(&req)

				sel, err := Menu(context.Background(), h.c, req)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPrompt)
				assert.Equal(t, Status(0), sel.Status)
				assert.Equal(t, 0, h.messenger.sentCount())
				assert.Equal(t, 0, h.bus.Len())
			},
		)
	}
}

func TestMenuSendFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	sendErr := errors.New("missing access")
	h.messenger.sendErr = sendErr

	_, err := Menu(context.Background(), h.c, reactionMenu(time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, sendErr)
	assert.NotErrorIs(t, err, ErrInvalidPrompt)
	assert.Equal(t, 0, h.bus.Len())
	assert.Equal(t, 0, h.clock.pending())
}

func TestMenuAddReactionFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	reactionErr := errors.New("unknown emoji")
	h.messenger.reactionErr = reactionErr

	_, err := Menu(context.Background(), h.c, reactionMenu(time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, reactionErr)

	msg := lastSent(t, h.messenger)
	assert.True(t, h.messenger.wasDeleted(msg.ID))
	assert.Equal(t, 0, h.messenger.liveCount())
	assert.Equal(t, 0, h.bus.Len())
	assert.Equal(t, 0, h.clock.pending(), "shouldn't wait after failing to add reactions")
}

func TestMenuDeleteFailureDoesNotMaskResult(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.messenger.deleteErr = errors.New("already deleted")

	done := run(
		func() (Selection[bool], error) {
			return Menu(context.Background(), h.c, reactionMenu(time.Minute))
		},
	)
	h.clock.next(t)
	msg := lastSent(t, h.messenger)
	h.bus.Publish(reaction(testActorID, msg.ID, "✅"))

	sel, err := await(t, done)
	require.NoError(t, err)
	assert.True(t, sel.Value)
	assert.Equal(t, 0, h.bus.Len())
}

func TestMenuEditFailureStillDeletes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.messenger.editErr = errors.New("missing permissions")

	done := run(
		func() (Selection[bool], error) {
			return Menu(context.Background(), h.c, reactionMenu(time.Minute))
		},
	)
	h.clock.next(t).Fire()

	sel, err := await(t, done)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, sel.Status)
	assert.True(t, h.messenger.wasDeleted(lastSent(t, h.messenger).ID))
}

func TestMenuContextCancelled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := run(
		func() (Selection[bool], error) {
			return Menu(ctx, h.c, reactionMenu(time.Minute))
		},
	)
	h.clock.next(t)
	cancel()

	sel, err := await(t, done)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, sel.Status)
	assert.True(t, h.messenger.wasDeleted(lastSent(t, h.messenger).ID))
	assert.Equal(t, 0, h.bus.Len())
}

func TestConcurrentMenusDoNotInterfere(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	first := reactionMenu(time.Minute)
	second := reactionMenu(time.Minute)
	second.ActorID = "actor-2"

	done1 := run(
		func() (Selection[bool], error) {
			return Menu(context.Background(), h.c, first)
		},
	)
	h.clock.next(t)
	msg1 := lastSent(t, h.messenger)

	done2 := run(
		func() (Selection[bool], error) {
			return Menu(context.Background(), h.c, second)
		},
	)
	h.clock.next(t)
	msg2 := lastSent(t, h.messenger)
	require.NotEqual(t, msg1.ID, msg2.ID)

	// actor 2 reacting to actor 1's menu is ignored
	assert.Equal(t, 0, h.bus.Publish(reaction("actor-2", msg1.ID, "✅")))
	assert.Equal(t, 1, h.bus.Publish(reaction("actor-2", msg2.ID, "❌")))
	assert.Equal(t, 1, h.bus.Publish(reaction(testActorID, msg1.ID, "✅")))

	sel1, err := await(t, done1)
	require.NoError(t, err)
	assert.True(t, sel1.Value)

	sel2, err := await(t, done2)
	require.NoError(t, err)
	assert.False(t, sel2.Value)
	assert.Equal(t, 0, h.bus.Len())
}

func TestOptionsValues(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []bool{true, false}, yesNo.Values())
	assert.Equal(t, "reaction", ModeReaction.String())
	assert.Equal(t, "timeout", StatusTimeout.String())
}
