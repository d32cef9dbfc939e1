package capy

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

func pingCommand() *command {
	return &command{
		Name:        "ping",
		Usage:       "ping",
		Description: "Shows the bot's gateway latency",
		Run:         runPing,
	}
}

func runPing(cc *commandContext) error {
	latency := cc.bot.discord.session.HeartbeatLatency()
	return cc.reply(
		&discordgo.MessageEmbed{
			Title:       "Pong!",
			Description: fmt.Sprintf("Latency: %d ms", latency.Round(time.Millisecond).Milliseconds()),
			Color:       ColorSuccess,
		},
	)
}

func helpCommand() *command {
	return &command{
		Name:        "help",
		Usage:       "help",
		Description: "Lists every command",
		Run:         runHelp,
	}
}

func runHelp(cc *commandContext) error {
	prefix := cc.bot.commands.prefix
	embed := &discordgo.MessageEmbed{
		Title: "Commands",
		Color: ColorDefault,
	}
	for _, cmd := range cc.bot.commands.commands {
		lines := []string{helpLine(prefix, cmd)}
		for _, sub := range cmd.Subcommands {
			lines = append(lines, helpLine(prefix, sub))
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  cmd.Name,
				Value: truncate(strings.Join(lines, "\n"), maxEmbedFieldValue),
			},
		)
	}
	return cc.reply(embed)
}

func helpLine(prefix string, cmd *command) string {
	line := fmt.Sprintf("`%s%s`", prefix, cmd.Usage)
	if cmd.Description != "" {
		line += " " + cmd.Description
	}
	if cmd.GuildOnly {
		line += " (server only)"
	}
	return line
}
