package capy

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const settingsTitle = "Server Settings"

func settingsCommand() *command {
	return &command{
		Name:        "settings",
		Usage:       "settings <list|set>",
		Description: "Shows or changes this server's settings",
		GuildOnly:   true,
		Subcommands: []*command{
			{
				Name:        "list",
				Usage:       "settings list",
				Description: "Lists this server's settings",
				GuildOnly:   true,
				Run:         runSettingsList,
			},
			{
				Name:        "set",
				Usage:       "settings set <name> <#channel|@role|none>",
				Description: "Changes a setting (Manage Messages)",
				GuildOnly:   true,
				Run:         runSettingsSet,
			},
		},
	}
}

func runSettingsList(cc *commandContext) error {
	g, err := getGuild(cc.ctx, cc.bot.db, cc.guildID())
	if err != nil {
		return err
	}
	embed := infoEmbed(settingsTitle, "")
	for _, s := range guildSettings {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: s.Name, Value: s.mention(g)},
		)
	}
	return cc.reply(embed)
}

func runSettingsSet(cc *commandContext) error {
	if err := requirePermission(cc, discordgo.PermissionManageMessages); err != nil {
		return err
	}
	if len(cc.args) != 2 {
		return newUserError("Usage: `%ssettings set <name> <value>`\n%s", cc.bot.commands.prefix, settingNames())
	}

	setting, err := lookupGuildSetting(cc.args[0])
	if err != nil {
		return newUserError("There's no setting called %q.\n%s", cc.args[0], settingNames())
	}
	value, err := setting.parse(cc.args[1])
	if err != nil {
		return newUserError("%q isn't a %s. Mention one, or use `none` to clear it.", cc.args[1], setting.kindName())
	}

	before, err := getGuild(cc.ctx, cc.bot.db, cc.guildID())
	if err != nil {
		return err
	}
	if err = setGuildSetting(cc.ctx, cc.bot.writeDB, cc.guildID(), setting, value); err != nil {
		return fmt.Errorf("error saving setting: %w", err)
	}
	after, err := getGuild(cc.ctx, cc.bot.db, cc.guildID())
	if err != nil {
		return err
	}
	cc.logger.InfoContext(
		cc.ctx,
		"changed guild setting",
		"setting", setting.Name,
		"old", setting.value(before),
		"new", value,
	)
	return cc.reply(
		successEmbed(
			settingsTitle,
			fmt.Sprintf(
				"**%s** changed to %s from %s.",
				setting.Name,
				setting.mention(after),
				setting.mention(before),
			),
		),
	)
}

func settingNames() string {
	names := make([]string, len(guildSettings))
	for i, s := range guildSettings {
		names[i] = "`" + s.Name + "`"
	}
	return "Settings: " + strings.Join(names, ", ")
}
