package capy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/CApy-RPI/mvp/prompt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	attendanceEmojiYes   = "✅"
	attendanceEmojiNo    = "❌"
	attendanceEmojiMaybe = "❔"

	maxEventNameLength     = 100
	maxEventLocationLength = 200
	maxEventDescLength     = 2000

	eventCreateTitle = "Create Event"
)

var (
	attendanceEmojiStatus = map[string]AttendanceStatus{
		attendanceEmojiYes:   AttendanceYes,
		attendanceEmojiNo:    AttendanceNo,
		attendanceEmojiMaybe: AttendanceMaybe,
	}

	eventCreatePrompts = []string{
		"What's the event called?",
		"Describe the event.",
		"Where is it?",
	}

	confirmOptions = prompt.Options[bool]{
		{Trigger: attendanceEmojiYes, Value: true},
		{Trigger: attendanceEmojiNo, Value: false},
	}
)

func eventsCommand() *command {
	return &command{
		Name:        "events",
		Usage:       "events",
		Description: "Lists upcoming events",
		GuildOnly:   true,
		Run:         runEventsList,
		Subcommands: []*command{
			{
				Name:        "add",
				Usage:       "events add",
				Description: "Creates an event, step by step",
				GuildOnly:   true,
				Interactive: true,
				Run:         runEventsAdd,
			},
			{
				Name:        "show",
				Usage:       "events show <id>",
				Description: "Shows an event and its RSVPs",
				GuildOnly:   true,
				Run:         runEventsShow,
			},
			{
				Name:        "clear",
				Usage:       "events clear",
				Description: "Deletes every upcoming event (Manage Messages)",
				GuildOnly:   true,
				Interactive: true,
				Run:         runEventsClear,
			},
			{
				Name:        "delete",
				Usage:       "events delete <id>",
				Description: "Deletes an event (Manage Messages)",
				GuildOnly:   true,
				Interactive: true,
				Run:         runEventsDelete,
			},
			{
				Name:        "myevents",
				Usage:       "events myevents",
				Description: "DMs you the events you're going to",
				Run:         runEventsMine,
			},
			{
				Name:        "announce",
				Usage:       "events announce <id>",
				Description: "Announces an event so members can RSVP (Manage Messages)",
				GuildOnly:   true,
				Run:         runEventsAnnounce,
			},
		},
	}
}

func attendanceCommand() *command {
	return &command{
		Name:        "attendance",
		Usage:       "attendance <id>",
		Description: "Lists who RSVP'd to an event (Manage Messages)",
		GuildOnly:   true,
		Run:         runAttendance,
	}
}

func runEventsList(cc *commandContext) error {
	events, err := upcomingEvents(
		cc.ctx,
		cc.bot.db,
		cc.guildID(),
		cc.bot.now(),
		cc.bot.config.Events.ListLimit,
	)
	if err != nil {
		return fmt.Errorf("error listing events: %w", err)
	}
	return cc.reply(eventListEmbed("Upcoming Events", events))
}

func runEventsAdd(cc *commandContext) error {
	cfg := cc.bot.config
	answers, err := cc.bot.prompts.Many(
		cc.ctx, prompt.ManyRequest{
			ActorID:   cc.author.ID,
			ChannelID: cc.channelID(),
			Prompts:   eventCreatePrompts,
			Title:     eventCreateTitle,
			Timeout:   cfg.Prompt.Timeout,
		},
	)
	if err != nil {
		return err
	}
	if len(answers) < len(eventCreatePrompts) {
		return cc.reply(promptTimeoutEmbed())
	}

	name := strings.TrimSpace(answers[0])
	if utf8.RuneCountInString(name) > maxEventNameLength {
		return newUserError("Event names can be at most %d characters.", maxEventNameLength)
	}

	date, ok, err := askValid(
		cc,
		cc.channelID(),
		eventCreateTitle,
		"What day is it? (mm/dd/yy, ex: 10/23/26)",
		parseEventDate,
	)
	if err != nil || !ok {
		return err
	}

	start, ok, err := askValid(
		cc,
		cc.channelID(),
		eventCreateTitle,
		fmt.Sprintf(
			"What time does it start? (HH:MM AM/PM, with an optional timezone, ex: 07:00 PM EDT. Defaults to %s)",
			cfg.Events.DefaultTimezone,
		),
		func(s string) (time.Time, error) {
			clock, parseErr := parseEventTime(s, cfg.Events.DefaultTimezone)
			if parseErr != nil {
				return time.Time{}, parseErr
			}
			t := eventStart(date, clock)
			if t.Before(cc.bot.now()) {
				return time.Time{}, errEventInPast
			}
			return t, nil
		},
	)
	if err != nil || !ok {
		return err
	}

	event := &Event{
		GuildID:     cc.guildID(),
		Name:        name,
		Description: truncate(strings.TrimSpace(answers[1]), maxEventDescLength),
		Location:    truncate(strings.TrimSpace(answers[2]), maxEventLocationLength),
		StartsAt:    start.UnixMilli(),
		Timezone:    start.Location().String(),
		CreatedBy:   cc.author.ID,
	}

	if err = ensureGuild(cc.ctx, cc.bot.writeDB, cc.guildID()); err != nil {
		return err
	}
	if _, err = cc.bot.writeDB.Create(cc.ctx, event); err != nil {
		return fmt.Errorf("error saving event: %w", err)
	}
	cc.logger.InfoContext(cc.ctx, "created event", "event", event)

	embed := eventEmbed(*event, nil)
	embed.Color = ColorSuccess
	embed.Author = &discordgo.MessageEmbedAuthor{Name: "Event created"}
	return cc.reply(embed)
}

// askValid asks question until the answer parses. An answer that doesn't
// parse is explained to the user and asked again. ok is false if the user
// stopped answering, in which case they've already been told.
func askValid[T any](
	cc *commandContext,
	channelID string,
	title string,
	question string,
	parse func(string) (T, error),
) (value T, ok bool, err error) {
	for {
		resp, askErr := cc.bot.prompts.One(
			cc.ctx, prompt.OneRequest{
				ActorID:     cc.author.ID,
				ChannelID:   channelID,
				Title:       title,
				Description: question,
				Timeout:     cc.bot.config.Prompt.Timeout,
			},
		)
		if askErr != nil {
			return value, false, askErr
		}
		if !resp.Answered() {
			return value, false, cc.send(channelID, promptTimeoutEmbed())
		}

		v, parseErr := parse(strings.TrimSpace(resp.Content))
		if parseErr == nil {
			return v, true, nil
		}
		cc.logger.DebugContext(cc.ctx, "invalid answer", tint.Err(parseErr))
		if sendErr := cc.send(channelID, errorEmbed(capitalize(parseErr.Error()))); sendErr != nil {
			return value, false, sendErr
		}
	}
}

func promptTimeoutEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Timed out",
		Description: "You took too long to respond. Please try again.",
		Color:       ColorWarning,
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

// eventIDArg parses the command's first argument as an event ID
func eventIDArg(cc *commandContext) (uint, error) {
	if len(cc.args) == 0 {
		return 0, newUserError("Which event? Give its ID, ex: `%sevents show 12`", cc.bot.commands.prefix)
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(cc.args[0], "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, newUserError("%q isn't an event ID.", cc.args[0])
	}
	return uint(id), nil
}

// guildEvent looks up an event by ID in the command's guild. An unknown
// ID is a userError.
func guildEvent(cc *commandContext) (*Event, error) {
	id, err := eventIDArg(cc)
	if err != nil {
		return nil, err
	}
	event, err := getEvent(cc.ctx, cc.bot.db, cc.guildID(), id)
	if errors.Is(err, errEventNotFound) {
		return nil, newUserError("No event found with ID %d.", id)
	}
	return event, err
}

func runEventsShow(cc *commandContext) error {
	event, err := guildEvent(cc)
	if err != nil {
		return err
	}
	counts, err := attendanceCounts(cc.ctx, cc.bot.db, event.ID)
	if err != nil {
		return fmt.Errorf("error counting attendance: %w", err)
	}
	return cc.reply(eventEmbed(*event, &counts))
}

func runEventsClear(cc *commandContext) error {
	if err := requirePermission(cc, discordgo.PermissionManageMessages); err != nil {
		return err
	}

	now := cc.bot.now()
	var pending int64
	if err := cc.bot.db.WithContext(cc.ctx).
		Model(&Event{}).
		Where(columnEventGuildID+" = ?", cc.guildID()).
		Where(columnEventStartsAt+" >= ?", now.UnixMilli()).
		Count(&pending).Error; err != nil {
		return fmt.Errorf("error counting events: %w", err)
	}
	if pending == 0 {
		return cc.reply(infoEmbed("Clear Events", "There are no upcoming events to clear."))
	}

	sel, err := prompt.Menu(
		cc.ctx, cc.bot.prompts, prompt.MenuRequest[bool]{
			ActorID:   cc.author.ID,
			ChannelID: cc.channelID(),
			Title:     "Clear Events",
			Prompt: fmt.Sprintf(
				"Delete all %d upcoming events?\nReact %s to confirm or %s to cancel.",
				pending,
				attendanceEmojiYes,
				attendanceEmojiNo,
			),
			Options: confirmOptions,
			Mode:    prompt.ModeReaction,
			Timeout: cc.bot.config.Prompt.Timeout,
			Color:   ColorWarning,
		},
	)
	if err != nil {
		return err
	}
	switch {
	case sel.Status == prompt.StatusTimeout:
		return cc.reply(promptTimeoutEmbed())
	case !sel.Value:
		return cc.reply(infoEmbed("Clear Events", "Nothing was deleted."))
	}

	deleted, err := cc.bot.writeDB.Delete(
		cc.ctx,
		&Event{},
		columnEventGuildID+" = ? AND "+columnEventStartsAt+" >= ?",
		cc.guildID(),
		now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("error deleting events: %w", err)
	}
	cc.logger.InfoContext(cc.ctx, "cleared events", "deleted", deleted)
	return cc.reply(
		successEmbed(
			"Events Cleared",
			fmt.Sprintf("Deleted %d upcoming events.", deleted),
		),
	)
}

func runEventsDelete(cc *commandContext) error {
	if err := requirePermission(cc, discordgo.PermissionManageMessages); err != nil {
		return err
	}
	event, err := guildEvent(cc)
	if err != nil {
		return err
	}

	sel, err := prompt.Menu(
		cc.ctx, cc.bot.prompts, prompt.MenuRequest[bool]{
			ActorID:   cc.author.ID,
			ChannelID: cc.channelID(),
			Title:     "Delete Event",
			Prompt: fmt.Sprintf(
				"Delete **%s** (#%d)?\nReact %s to confirm or %s to cancel.",
				event.Name,
				event.ID,
				attendanceEmojiYes,
				attendanceEmojiNo,
			),
			Options: confirmOptions,
			Mode:    prompt.ModeReaction,
			Timeout: cc.bot.config.Prompt.Timeout,
			Color:   ColorWarning,
		},
	)
	if err != nil {
		return err
	}
	switch {
	case !sel.Selected():
		return cc.reply(promptTimeoutEmbed())
	case !sel.Value:
		return cc.reply(infoEmbed("Delete Event", "Nothing was deleted."))
	}

	deleted, err := cc.bot.writeDB.Delete(cc.ctx, event)
	if err != nil {
		return fmt.Errorf("error deleting event: %w", err)
	}
	if deleted == 0 {
		return newUserError("Event %d has already been deleted.", event.ID)
	}
	cc.logger.InfoContext(cc.ctx, "deleted event", "event", event)
	return cc.reply(
		successEmbed(
			"Event Deleted",
			fmt.Sprintf("Deleted **%s** (#%d).", event.Name, event.ID),
		),
	)
}

func runAttendance(cc *commandContext) error {
	if err := requirePermission(cc, discordgo.PermissionManageMessages); err != nil {
		return err
	}
	event, err := guildEvent(cc)
	if err != nil {
		return err
	}

	attendees := make(map[AttendanceStatus][]string, len(attendanceEmojiStatus))
	for _, status := range []AttendanceStatus{AttendanceYes, AttendanceMaybe, AttendanceNo} {
		ids, idErr := attendeeIDs(cc.ctx, cc.bot.db, event.ID, status)
		if idErr != nil {
			return fmt.Errorf("error listing attendees: %w", idErr)
		}
		attendees[status] = ids
	}
	return cc.reply(attendanceEmbed(*event, attendees))
}

func runEventsMine(cc *commandContext) error {
	events, err := eventsForAttendee(
		cc.ctx,
		cc.bot.db,
		cc.author.ID,
		cc.bot.now(),
		cc.bot.config.Events.ListLimit,
	)
	if err != nil {
		return fmt.Errorf("error listing events: %w", err)
	}

	dm, err := cc.dmChannel()
	if err != nil {
		return err
	}
	if err = cc.send(dm, eventListEmbed("Your Upcoming Events", events)); err != nil {
		return newUserError("I couldn't DM you. Check that you allow direct messages from server members.")
	}
	if dm != cc.channelID() {
		return cc.reply(infoEmbed("My Events", "Check your DMs!"))
	}
	return nil
}

func runEventsAnnounce(cc *commandContext) error {
	if err := requirePermission(cc, discordgo.PermissionManageMessages); err != nil {
		return err
	}
	event, err := guildEvent(cc)
	if err != nil {
		return err
	}

	channelID, err := announcementChannel(cc)
	if err != nil {
		return err
	}

	msg, err := cc.bot.discord.session.ChannelMessageSendEmbed(
		channelID,
		announcementEmbed(*event),
		discordgo.WithContext(cc.ctx),
	)
	if err != nil {
		return newUserError("I couldn't post in <#%s>. Check my permissions there.", channelID)
	}
	for _, emoji := range []string{attendanceEmojiYes, attendanceEmojiNo, attendanceEmojiMaybe} {
		if err = cc.bot.discord.session.MessageReactionAdd(
			channelID,
			msg.ID,
			emoji,
			discordgo.WithContext(cc.ctx),
		); err != nil {
			cc.logger.WarnContext(cc.ctx, "error adding rsvp reaction", tint.Err(err), "emoji", emoji)
		}
	}

	if _, err = cc.bot.writeDB.Updates(
		cc.ctx,
		event,
		map[string]any{
			"announcement_channel_id":        channelID,
			columnEventAnnouncementMessageID: msg.ID,
		},
	); err != nil {
		return fmt.Errorf("error saving announcement: %w", err)
	}
	if err = ensureGuild(cc.ctx, cc.bot.writeDB, cc.guildID()); err != nil {
		cc.logger.WarnContext(cc.ctx, "error saving guild", tint.Err(err))
	} else if _, err = cc.bot.writeDB.Updates(
		cc.ctx,
		&Guild{ModelStringID: ModelStringID{ID: cc.guildID()}},
		map[string]any{"announcement_channel_id": channelID},
	); err != nil {
		cc.logger.WarnContext(cc.ctx, "error saving announcement channel", tint.Err(err))
	}
	cc.logger.InfoContext(cc.ctx, "announced event", "event", event, "message_id", msg.ID)

	return cc.reply(
		successEmbed(
			"Event Announced",
			fmt.Sprintf("Announced **%s** in <#%s>.", event.Name, channelID),
		),
	)
}

// announcementChannel returns the guild's announcements_channel setting.
// Without one, it finds the announcements text channel by name, creating
// it if there isn't one.
func announcementChannel(cc *commandContext) (string, error) {
	g, err := getGuild(cc.ctx, cc.bot.db, cc.guildID())
	if err != nil {
		return "", err
	}
	if g.AnnouncementChannelID != "" {
		return g.AnnouncementChannelID, nil
	}

	name := cc.bot.config.Events.AnnouncementChannel
	channels, err := cc.bot.discord.session.GuildChannels(
		cc.guildID(),
		discordgo.WithContext(cc.ctx),
	)
	if err != nil {
		return "", fmt.Errorf("error listing channels: %w", err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(ch.Name, name) {
			return ch.ID, nil
		}
	}

	ch, err := cc.bot.discord.session.GuildChannelCreate(
		cc.guildID(),
		name,
		discordgo.ChannelTypeGuildText,
		discordgo.WithContext(cc.ctx),
	)
	if err != nil {
		return "", newUserError("There's no #%s channel, and I don't have permission to create one.", name)
	}
	return ch.ID, nil
}

func announcementEmbed(e Event) *discordgo.MessageEmbed {
	embed := eventEmbed(e, nil)
	embed.Author = &discordgo.MessageEmbedAuthor{Name: "Event Announcement"}
	embed.Fields = append(
		embed.Fields,
		&discordgo.MessageEmbedField{
			Name: "RSVP",
			Value: fmt.Sprintf(
				"React with %s to attend, %s to decline, or %s for maybe.",
				attendanceEmojiYes,
				attendanceEmojiNo,
				attendanceEmojiMaybe,
			),
		},
	)
	return embed
}

// ensureGuild creates the guild's record if it doesn't exist yet
func ensureGuild(ctx context.Context, db DBI, guildID string) error {
	return db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&Guild{ModelStringID: ModelStringID{ID: guildID}}).Error
		},
	)
}

// attendanceStatusForEmoji maps an RSVP reaction to its status
func attendanceStatusForEmoji(emoji string) (AttendanceStatus, bool) {
	status, ok := attendanceEmojiStatus[strings.ReplaceAll(emoji, "\ufe0f", "")]
	return status, ok
}

// handleReactionAdd publishes the reaction to pending prompts. Reactions
// on announcements that no prompt took are RSVPs, and are saved outside
// discordgo's event loop.
func (c *Capy) handleReactionAdd(
	ctx context.Context,
	r *discordgo.MessageReaction,
	member *discordgo.Member,
	wg *sync.WaitGroup,
) {
	if r.UserID == c.discord.BotUserID() || (member != nil && member.User != nil && member.User.Bot) {
		return
	}
	if n := c.bus.Publish(prompt.ReactionEvent(r)); n > 0 {
		return
	}
	status, ok := attendanceStatusForEmoji(r.Emoji.APIName())
	if !ok {
		return
	}
	c.dispatchAttendance(ctx, r, wg, func(event *Event) error {
		return setAttendance(ctx, c.writeDB, event.ID, r.UserID, status)
	})
}

// handleReactionRemove clears an RSVP when its reaction is removed
func (c *Capy) handleReactionRemove(ctx context.Context, r *discordgo.MessageReaction, wg *sync.WaitGroup) {
	if r.UserID == c.discord.BotUserID() {
		return
	}
	status, ok := attendanceStatusForEmoji(r.Emoji.APIName())
	if !ok {
		return
	}
	c.dispatchAttendance(ctx, r, wg, func(event *Event) error {
		_, err := removeAttendance(ctx, c.writeDB, event.ID, r.UserID, status)
		return err
	})
}

// dispatchAttendance runs an RSVP update in the background. Updates for
// the same member on the same message are applied in the order the
// reactions arrived.
func (c *Capy) dispatchAttendance(
	ctx context.Context,
	r *discordgo.MessageReaction,
	wg *sync.WaitGroup,
	update func(event *Event) error,
) {
	started := c.dispatch.goTracked(
		wg, r.MessageID+"/"+r.UserID, func() {
			c.updateAttendance(ctx, r, update)
		},
	)
	if !started {
		c.logger.WarnContext(
			ctx,
			"shutting down, attendance not updated",
			"message_id", r.MessageID,
			"user_id", r.UserID,
			"emoji", r.Emoji.APIName(),
		)
	}
}

func (c *Capy) updateAttendance(
	ctx context.Context,
	r *discordgo.MessageReaction,
	update func(event *Event) error,
) {
	event, err := eventByAnnouncement(ctx, c.db, r.MessageID)
	if err != nil {
		if !errors.Is(err, errEventNotFound) {
			c.logger.ErrorContext(ctx, "error finding announced event", tint.Err(err))
		}
		return
	}
	if err = update(event); err != nil {
		c.logger.ErrorContext(
			ctx,
			"error updating attendance",
			tint.Err(err),
			"event", event,
			"user_id", r.UserID,
		)
		return
	}
	c.logger.InfoContext(
		ctx,
		"attendance updated",
		"event", event,
		"user_id", r.UserID,
		"emoji", r.Emoji.APIName(),
	)
}
