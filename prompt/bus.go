package prompt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrExpired is returned by Subscription.Wait when the expiry channel fires
// before a matching event arrives.
var ErrExpired = errors.New("prompt: wait expired")

// Kind identifies the category of a gateway event delivered through a Bus.
type Kind int

const (
	KindMessageCreate Kind = iota + 1
	KindReactionAdd
)

func (k Kind) String() string {
	switch k {
	case KindMessageCreate:
		return "message_create"
	case KindReactionAdd:
		return "reaction_add"
	default:
		return "unknown"
	}
}

// Event is a single gateway event. Exactly one of Message or Reaction
// is set, depending on Kind.
type Event struct {
	Kind     Kind
	Message  *discordgo.Message
	Reaction *discordgo.MessageReaction
}

// MessageEvent wraps a created message as an Event
func MessageEvent(m *discordgo.Message) Event {
	return Event{Kind: KindMessageCreate, Message: m}
}

// ReactionEvent wraps an added reaction as an Event
func ReactionEvent(r *discordgo.MessageReaction) Event {
	return Event{Kind: KindReactionAdd, Reaction: r}
}

// UserID returns the ID of the user that produced the event, if known.
func (e Event) UserID() string {
	switch e.Kind {
	case KindMessageCreate:
		if e.Message == nil {
			return ""
		}
		if e.Message.Author != nil {
			return e.Message.Author.ID
		}
		if e.Message.Member != nil && e.Message.Member.User != nil {
			return e.Message.Member.User.ID
		}
	case KindReactionAdd:
		if e.Reaction != nil {
			return e.Reaction.UserID
		}
	}
	return ""
}

// ChannelID returns the channel the event happened in.
func (e Event) ChannelID() string {
	switch e.Kind {
	case KindMessageCreate:
		if e.Message != nil {
			return e.Message.ChannelID
		}
	case KindReactionAdd:
		if e.Reaction != nil {
			return e.Reaction.ChannelID
		}
	}
	return ""
}

// Bus fans gateway events out to the subscriptions currently waiting on
// them. Events that no subscription matches are dropped; nothing is buffered
// for subscriptions registered later.
//
// Match functions run while the bus lock is held, so they must be fast and
// must not call back into the Bus.
type Bus struct {
	mu   sync.Mutex
	subs map[Kind]map[uint64]*Subscription
	next uint64
}

func NewBus() *Bus {
	return &Bus{subs: map[Kind]map[uint64]*Subscription{}}
}

// Subscribe registers interest in the next event of the given kind for
// which match returns true. A nil match accepts any event of that kind.
func (b *Bus) Subscribe(kind Kind, match func(Event) bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	s := &Subscription{
		id:    b.next,
		kind:  kind,
		match: match,
		bus:   b,
		ch:    make(chan Event, 1),
	}
	if b.subs[kind] == nil {
		b.subs[kind] = map[uint64]*Subscription{}
	}
	b.subs[kind][s.id] = s
	return s
}

// Publish delivers ev to every matching subscription, removing each one
// from the bus as it resolves. Returns the number of subscriptions resolved.
func (b *Bus) Publish(ev Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	resolved := 0
	for id, s := range b.subs[ev.Kind] {
		if s.match != nil && !s.match(ev) {
			continue
		}
		delete(b.subs[ev.Kind], id)
		// capacity 1, and a subscription is only ever delivered to once
		// because it was just removed
		s.ch <- ev
		resolved++
	}
	return resolved
}

// Len returns the number of subscriptions still waiting.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// Subscription is a single-resolution handle returned by Bus.Subscribe.
type Subscription struct {
	id    uint64
	kind  Kind
	match func(Event) bool
	bus   *Bus
	ch    chan Event
	once  sync.Once
}

// Wait blocks until the subscription resolves, expired fires, or ctx is
// done. The subscription is always removed from the bus before Wait returns.
func (s *Subscription) Wait(
	ctx context.Context,
	expired <-chan time.Time,
) (Event, error) {
	defer s.Cancel()

	select {
	case ev := <-s.ch:
		return ev, nil
	case <-expired:
		// an event delivered at the same moment still wins
		select {
		case ev := <-s.ch:
			return ev, nil
		default:
		}
		return Event{}, ErrExpired
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Cancel removes the subscription from its bus. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(
		func() {
			s.bus.mu.Lock()
			defer s.bus.mu.Unlock()
			delete(s.bus.subs[s.kind], s.id)
		},
	)
}
