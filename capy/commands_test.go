package capy

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRouter_Parse(t *testing.T) {
	t.Parallel()
	r := newCommandRouter("!", 0, 1)
	r.register(pingCommand(), eventsCommand(), helpCommand(), profileCommand())

	names := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"events", "help", "ping", "profile"}, names)

	tests := []struct {
		content string
		usage   string
		args    []string
		ok      bool
	}{
		{content: "!ping", usage: "ping", ok: true},
		{content: "  !PING  ", usage: "ping", ok: true},
		{content: "!events", usage: "events", ok: true},
		{content: "!events add", usage: "events add", ok: true},
		{content: "!events Show 12", usage: "events show <id>", args: []string{"12"}, ok: true},
		{content: "!events bogus 12", usage: "events", args: []string{"bogus", "12"}, ok: true},
		{content: "!profile delete", usage: "profile delete", ok: true},
		{content: "ping", ok: false},
		{content: "!", ok: false},
		{content: "! ", ok: false},
		{content: "!unknown", ok: false},
		{content: "", ok: false},
	}
	for _, tc := range tests {
		t.Run(
			tc.content, func(t *testing.T) {
				cmd, args, ok := r.parse(tc.content)
				require.Equal(t, tc.ok, ok)
				if !tc.ok {
					assert.Nil(t, cmd)
					return
				}
				assert.Equal(t, tc.usage, cmd.Usage)
				if len(tc.args) == 0 {
					assert.Empty(t, args)
				} else {
					assert.Equal(t, tc.args, args)
				}
			},
		)
	}
}

func TestCommandRouter_Allow(t *testing.T) {
	t.Parallel()
	r := newCommandRouter("!", 2, 2)
	now := testNow

	assert.True(t, r.allow("a", now))
	assert.True(t, r.allow("a", now))
	assert.False(t, r.allow("a", now), "burst should be exhausted")
	assert.True(t, r.allow("b", now), "users are limited separately")

	// two per minute, so one token every 30 seconds
	assert.True(t, r.allow("a", now.Add(30*time.Second)))
	assert.False(t, r.allow("a", now.Add(31*time.Second)))
}

func TestCommandRouter_Unlimited(t *testing.T) {
	t.Parallel()
	r := newCommandRouter("!", 0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, r.allow("a", testNow))
	}
}

func TestCommandRouter_PruneLimiters(t *testing.T) {
	t.Parallel()
	r := newCommandRouter("!", 10, 1)
	r.allow("old", testNow.Add(-2*time.Hour))
	r.allow("recent", testNow)

	removed := r.pruneLimiters(testNow.Add(-time.Hour))
	assert.Equal(t, 1, removed)
	assert.NotContains(t, r.limiters, "old")
	assert.Contains(t, r.limiters, "recent")
}

func TestCommandRouter_Sessions(t *testing.T) {
	t.Parallel()
	r := newCommandRouter("!", 0, 1)

	assert.True(t, r.beginSession("a"))
	assert.False(t, r.beginSession("a"))
	assert.True(t, r.beginSession("b"))
	r.endSession("a")
	assert.True(t, r.beginSession("a"))
}

func TestHandleMessage_Ping(t *testing.T) {
	bot := newTestCapy(t)
	bot.say(testUserID, testGuildID, testChannelID, "!ping")

	reply := bot.session.waitEmbed(t, "Pong!")
	assert.Equal(t, testChannelID, reply.ChannelID)
	assert.Equal(t, "Latency: 42 ms", reply.Embed.Description)
}

func TestHandleMessage_Help(t *testing.T) {
	bot := newTestCapy(t)
	bot.say(testUserID, "", "dm-channel", "!help")

	reply := bot.session.waitEmbed(t, "Commands")
	require.Len(t, reply.Embed.Fields, 6)
	assert.Equal(t, "attendance", reply.Embed.Fields[0].Name)
	assert.Equal(t, "events", reply.Embed.Fields[1].Name)
	assert.Contains(t, reply.Embed.Fields[1].Value, "`!events add` Creates an event, step by step (server only)")
	assert.Contains(t, reply.Embed.Fields[1].Value, "`!events delete <id>`")
	assert.Contains(t, reply.Embed.Fields[4].Value, "`!profile update`")
	assert.Equal(t, "settings", reply.Embed.Fields[5].Name)
}

func TestHandleMessage_Ignored(t *testing.T) {
	bot := newTestCapy(t)
	bot.discord.setBotUserID("bot-user")

	// other bots, the bot itself, plain chatter and unknown commands
	m := newUserMessage("another-bot", testGuildID, testChannelID, "!ping")
	m.Author.Bot = true
	bot.handleMessage(bot.ctx, m, bot.wg)
	bot.say("bot-user", testGuildID, testChannelID, "!ping")
	bot.say(testUserID, testGuildID, testChannelID, "hello there")
	bot.say(testUserID, testGuildID, testChannelID, "!dance")
	bot.handleMessage(bot.ctx, &discordgo.Message{Content: "!ping"}, bot.wg)

	bot.waitCommands(t)
	bot.session.assertNothingSent(t)
}

func TestHandleMessage_GuildOnly(t *testing.T) {
	bot := newTestCapy(t)
	bot.say(testUserID, "", "dm-channel", "!events")

	reply := bot.session.waitEmbed(t, "Error")
	assert.Equal(t, commandResponseGuildOnly, reply.Embed.Description)
}

func TestHandleMessage_RateLimited(t *testing.T) {
	bot := newTestCapy(
		t, func(cfg *Config) {
			cfg.Discord.CommandsPerMinute = 1
			cfg.Discord.CommandBurst = 1
		},
	)

	bot.say(testUserID, testGuildID, testChannelID, "!ping")
	bot.session.waitEmbed(t, "Pong!")
	bot.waitCommands(t)

	bot.say(testUserID, testGuildID, testChannelID, "!ping")
	reply := bot.session.waitEmbed(t, "Error")
	assert.Equal(t, commandResponseRateLimited, reply.Embed.Description)

	bot.say("user-2", testGuildID, testChannelID, "!ping")
	bot.session.waitEmbed(t, "Pong!")
}

func TestHandleMessage_OnePromptPerUser(t *testing.T) {
	bot := newTestCapy(t)
	bot.say(testUserID, testGuildID, testChannelID, "!events add")
	bot.session.waitEmbed(t, "Create Event (1/3)")
	bot.waitForPrompt(t)

	// a message in the same channel would answer the prompt, so start
	// the second command from a DM
	bot.say(testUserID, "", "dm-channel", "!profile create")
	reply := bot.session.waitEmbed(t, "Error")
	assert.Equal(t, "dm-channel", reply.ChannelID)
	assert.Equal(t, commandResponsePromptActive, reply.Embed.Description)
	assert.True(t, bot.commands.sessionActive(testUserID))

	// non-interactive commands still work
	bot.say(testUserID, "", "dm-channel", "!ping")
	bot.session.waitEmbed(t, "Pong!")
}

func TestRunCommand_Errors(t *testing.T) {
	bot := newTestCapy(t, func(cfg *Config) { cfg.Discord.CommandsPerMinute = 0 })
	bot.commands.register(
		&command{
			Name: "panic",
			Run: func(cc *commandContext) error {
				panic("something broke")
			},
		},
		&command{
			Name: "fail",
			Run: func(cc *commandContext) error {
				return errors.New("database on fire")
			},
		},
		&command{
			Name: "refuse",
			Run: func(cc *commandContext) error {
				return newUserError("Not today, %s.", cc.author.Username)
			},
		},
		&command{
			Name:  "parent",
			Usage: "parent <child>",
		},
	)

	tests := []struct {
		content string
		reply   string
	}{
		{content: "!panic", reply: commandResponseUnexpected},
		{content: "!fail", reply: commandResponseUnexpected},
		{content: "!refuse", reply: "Not today, user_" + testUserID + "."},
		{content: "!parent", reply: "Usage: `!parent <child>`"},
	}
	for _, tc := range tests {
		bot.say(testUserID, testGuildID, testChannelID, tc.content)
		reply := bot.session.waitEmbed(t, "Error")
		assert.Equal(t, tc.reply, reply.Embed.Description, tc.content)
		bot.waitCommands(t)
	}
}

func TestRequirePermission(t *testing.T) {
	bot := newTestCapy(t)
	cc := &commandContext{
		ctx:     bot.ctx,
		bot:     bot.Capy,
		message: newUserMessage(testUserID, testGuildID, testChannelID, "!events clear"),
		author:  &discordgo.User{ID: testUserID},
		logger:  bot.logger,
	}

	bot.session.permissions = discordgo.PermissionSendMessages
	var ue userError
	require.ErrorAs(t, requirePermission(cc, discordgo.PermissionManageMessages), &ue)
	assert.Equal(t, commandResponseNoPermission, ue.msg)

	bot.session.permissions = discordgo.PermissionManageMessages
	assert.NoError(t, requirePermission(cc, discordgo.PermissionManageMessages))

	bot.session.permissions = discordgo.PermissionAdministrator
	assert.NoError(t, requirePermission(cc, discordgo.PermissionManageMessages))
}
