package prompt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

const (
	testActorID   = "actor-1"
	testChannelID = "channel-1"
	testWait      = 5 * time.Second
)

// fakeMessenger keeps an in-memory view of the channel, recording every
// call made against it.
type fakeMessenger struct {
	mu        sync.Mutex
	nextID    int
	live      map[string]*discordgo.MessageEmbed
	sent      []*discordgo.Message
	edits     map[string][]*discordgo.MessageEmbed
	deleted   []string
	reactions map[string][]string
	cleared   []string

	sendErr     error
	deleteErr   error
	editErr     error
	reactionErr error

	sentCh chan *discordgo.Message
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		live:      map[string]*discordgo.MessageEmbed{},
		edits:     map[string][]*discordgo.MessageEmbed{},
		reactions: map[string][]string{},
		sentCh:    make(chan *discordgo.Message, 100),
	}
}

func (f *fakeMessenger) SendEmbed(
	_ context.Context,
	channelID string,
	embed *discordgo.MessageEmbed,
) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	msg := &discordgo.Message{
		ID:        fmt.Sprintf("prompt-%d", f.nextID),
		ChannelID: channelID,
		Embeds:    []*discordgo.MessageEmbed{embed},
	}
	f.live[msg.ID] = embed
	f.sent = append(f.sent, msg)
	f.sentCh <- msg
	return msg, nil
}

func (f *fakeMessenger) EditEmbed(
	_ context.Context,
	_ string,
	messageID string,
	embed *discordgo.MessageEmbed,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits[messageID] = append(f.edits[messageID], embed)
	if _, ok := f.live[messageID]; ok {
		f.live[messageID] = embed
	}
	return nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, _ string, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.live, messageID)
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) AddReaction(
	_ context.Context,
	_ string,
	messageID string,
	emoji string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactionErr != nil {
		return f.reactionErr
	}
	f.reactions[messageID] = append(f.reactions[messageID], emoji)
	return nil
}

func (f *fakeMessenger) ClearReactions(_ context.Context, _ string, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, messageID)
	return nil
}

func (f *fakeMessenger) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeMessenger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeMessenger) editsFor(messageID string) []*discordgo.MessageEmbed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.MessageEmbed(nil), f.edits[messageID]...)
}

func (f *fakeMessenger) reactionsFor(messageID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reactions[messageID]...)
}

func (f *fakeMessenger) wasDeleted(messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.deleted {
		if id == messageID {
			return true
		}
	}
	return false
}

func (f *fakeMessenger) wasCleared(messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.cleared {
		if id == messageID {
			return true
		}
	}
	return false
}

// fakeClock hands out timers that only fire when the test says so. Each
// new timer is also sent on timers, which tells the test that a wait has
// started (and its subscription is registered).
type fakeClock struct {
	timers chan *fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{timers: make(chan *fakeTimer, 100)}
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	t := &fakeTimer{d: d, c: make(chan time.Time, 1)}
	c.timers <- t
	return t
}

// next waits for the next timer to be created
func (c *fakeClock) next(t testing.TB) *fakeTimer {
	t.Helper()
	select {
	case timer := <-c.timers:
		return timer
	case <-time.After(testWait):
		t.Fatal("timed out waiting for a prompt to start waiting")
		return nil
	}
}

// pending returns the number of timers created but not yet taken by next
func (c *fakeClock) pending() int {
	return len(c.timers)
}

type fakeTimer struct {
	d       time.Duration
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.c
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// Fire simulates the timer's duration elapsing
func (t *fakeTimer) Fire() {
	select {
	case t.c <- time.Now():
	default:
	}
}

type harness struct {
	bus       *Bus
	clock     *fakeClock
	messenger *fakeMessenger
	c         *Controller
}

func newHarness(t testing.TB) *harness {
	t.Helper()
	h := &harness{
		bus:       NewBus(),
		clock:     newFakeClock(),
		messenger: newFakeMessenger(),
	}
	h.c = NewController(
		h.messenger,
		h.bus,
		WithClock(h.clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)).With("test_name", t.Name())),
	)
	return h
}

func reaction(userID string, messageID string, emoji string) Event {
	return ReactionEvent(
		&discordgo.MessageReaction{
			UserID:    userID,
			MessageID: messageID,
			ChannelID: testChannelID,
			Emoji:     discordgo.Emoji{Name: emoji},
		},
	)
}

var replyCounter struct {
	sync.Mutex
	n int
}

func reply(userID string, channelID string, content string) Event {
	replyCounter.Lock()
	replyCounter.n++
	id := fmt.Sprintf("reply-%d", replyCounter.n)
	replyCounter.Unlock()
	return MessageEvent(
		&discordgo.Message{
			ID:        id,
			ChannelID: channelID,
			Content:   content,
			Author:    &discordgo.User{ID: userID},
		},
	)
}

func lastSent(t testing.TB, m *fakeMessenger) *discordgo.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

type result[T any] struct {
	value T
	err   error
}

// run executes f in a goroutine, returning a channel for its result
func run[T any](f func() (T, error)) <-chan result[T] {
	ch := make(chan result[T], 1)
	go func() {
		v, err := f()
		ch <- result[T]{value: v, err: err}
	}()
	return ch
}

func await[T any](t testing.TB, ch <-chan result[T]) (T, error) {
	t.Helper()
	select {
	case r := <-ch:
		return r.value, r.err
	case <-time.After(testWait):
		t.Fatal("timed out waiting for prompt to return")
		var zero T
		return zero, nil
	}
}
