package capy

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_Closed(t *testing.T) {
	t.Parallel()
	var d dispatcher
	wg := &sync.WaitGroup{}

	var ran atomic.Int32
	require.True(t, d.goTracked(wg, "", func() { ran.Add(1) }))
	d.close()
	assert.False(t, d.goTracked(wg, "", func() { ran.Add(1) }))
	assert.False(t, d.goTracked(wg, "key", func() { ran.Add(1) }))
	wg.Wait()
	assert.Equal(t, int32(1), ran.Load())

	d.open()
	require.True(t, d.goTracked(wg, "", func() { ran.Add(1) }))
	wg.Wait()
	assert.Equal(t, int32(2), ran.Load())
}

func TestDispatcher_Ordered(t *testing.T) {
	t.Parallel()
	var d dispatcher
	wg := &sync.WaitGroup{}

	// the first job holds up everything queued behind it on the same key
	release := make(chan struct{})
	var mu sync.Mutex
	var order []int
	record := func(i int) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
		}
	}

	require.True(
		t, d.goTracked(
			wg, "a", func() {
				<-release
				record(0)()
			},
		),
	)
	for i := 1; i < 20; i++ {
		require.True(t, d.goTracked(wg, "a", record(i)))
	}

	otherDone := make(chan struct{})
	require.True(t, d.goTracked(wg, "b", func() { close(otherDone) }))
	select {
	case <-otherDone:
	case <-time.After(mockWait):
		t.Fatalf("work on another key was held up")
	}
	assert.Equal(t, 1, d.pending())

	close(release)
	wg.Wait()

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
	assert.Zero(t, d.pending())
}

func TestShutdown_StopsCommandDispatch(t *testing.T) {
	bot := newTestCapy(t, func(cfg *Config) { cfg.Discord.CommandsPerMinute = 0 })

	var shutdownDone atomic.Bool
	var ran, lateRuns atomic.Int32
	bot.commands.register(
		&command{
			Name: "count",
			Run: func(cc *commandContext) error {
				if shutdownDone.Load() {
					lateRuns.Add(1)
				}
				ran.Add(1)
				return nil
			},
		},
	)

	stop := make(chan struct{})
	senders := &sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		senders.Add(1)
		go func(userID string) {
			defer senders.Done()
			for {
				select {
				case <-stop:
					return
				default:
					bot.say(userID, testGuildID, testChannelID, "!count")
				}
			}
		}(fmt.Sprintf("user-%d", i))
	}

	// let some commands start before shutting down
	require.Eventually(t, func() bool { return ran.Load() > 0 }, mockWait, time.Millisecond)
	require.NoError(t, bot.shutdown(bot.ctx, bot.wg))
	shutdownDone.Store(true)
	finished := ran.Load()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	senders.Wait()
	bot.waitCommands(t)

	assert.Zero(t, lateRuns.Load(), "a command ran after shutdown returned")
	assert.Equal(t, finished, ran.Load())

	bot.say(testUserID, testGuildID, testChannelID, "!ping")
	bot.waitCommands(t)
	bot.session.assertNothingSent(t)
}
