package capy

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	ColorDefault = 0x5865F2
	ColorSuccess = 0x57F287
	ColorError   = 0xED4245
	ColorWarning = 0xFEE75C

	// maxEmbedFields is discord's limit on fields per embed
	maxEmbedFields     = 25
	maxEmbedFieldValue = 1024

	// eventTimeDisplayFormat renders an event's start, ex:
	// "Friday, October 23, 2026 at 7:00 PM EDT"
	eventTimeDisplayFormat = "Monday, January 2, 2006 at 3:04 PM MST"
)

// errorEmbed is sent when a command fails
func errorEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Error",
		Description: description,
		Color:       ColorError,
	}
}

func successEmbed(title string, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       ColorSuccess,
	}
}

func infoEmbed(title string, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       ColorDefault,
	}
}

// eventEmbed renders an event. counts is omitted when nil.
func eventEmbed(e Event, counts *AttendanceCounts) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       truncate(e.Name, 256),
		Description: truncate(e.Description, 4096),
		Color:       ColorDefault,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "When",
				Value:  e.Start().Format(eventTimeDisplayFormat),
				Inline: false,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Event ID: %d", e.ID),
		},
		Timestamp: e.Start().Format(time.RFC3339),
	}
	if e.Location != "" {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  "Where",
				Value: truncate(e.Location, maxEmbedFieldValue),
			},
		)
	}
	if counts != nil {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:   attendanceEmojiYes + " Going",
				Value:  fmt.Sprintf("%d", counts.Yes),
				Inline: true,
			},
			&discordgo.MessageEmbedField{
				Name:   attendanceEmojiNo + " Not going",
				Value:  fmt.Sprintf("%d", counts.No),
				Inline: true,
			},
			&discordgo.MessageEmbedField{
				Name:   attendanceEmojiMaybe + " Maybe",
				Value:  fmt.Sprintf("%d", counts.Maybe),
				Inline: true,
			},
		)
	}
	return embed
}

// eventListEmbed renders a list of events, one field each
func eventListEmbed(title string, events []Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: title,
		Color: ColorDefault,
	}
	if len(events) == 0 {
		embed.Description = "No upcoming events."
		return embed
	}
	for i, e := range events {
		if i == maxEmbedFields {
			break
		}
		value := e.Start().Format(eventTimeDisplayFormat)
		if e.Location != "" {
			value += "\n" + e.Location
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  truncate(fmt.Sprintf("#%d %s", e.ID, e.Name), 256),
				Value: truncate(value, maxEmbedFieldValue),
			},
		)
	}
	return embed
}

func profileEmbed(u User) *discordgo.MessageEmbed {
	majors := strings.Join(u.MajorList(), ", ")
	if majors == "" {
		majors = "-"
	}
	return &discordgo.MessageEmbed{
		Title: truncate(fmt.Sprintf("%s %s", u.FirstName, u.LastName), 256),
		Color: ColorDefault,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Major(s)", Value: truncate(majors, maxEmbedFieldValue)},
			{Name: "Graduation year", Value: fmt.Sprintf("%d", u.GraduationYear), Inline: true},
			{Name: "School email", Value: u.SchoolEmail, Inline: true},
		},
	}
}

// attendanceEmbed lists an event's attendees as mentions, one field per
// status
func attendanceEmbed(e Event, attendees map[AttendanceStatus][]string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:  truncate("Attendance: "+e.Name, 256),
		Color:  ColorDefault,
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Event ID: %d", e.ID)},
	}
	for _, s := range []struct {
		status AttendanceStatus
		name   string
	}{
		{AttendanceYes, attendanceEmojiYes + " Going"},
		{AttendanceMaybe, attendanceEmojiMaybe + " Maybe"},
		{AttendanceNo, attendanceEmojiNo + " Not going"},
	} {
		ids := attendees[s.status]
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  fmt.Sprintf("%s (%d)", s.name, len(ids)),
				Value: mentionList(ids, maxEmbedFieldValue),
			},
		)
	}
	return embed
}

// mentionList renders user mentions, one per line, ending with "and N
// more" if they don't all fit in limit characters
func mentionList(userIDs []string, limit int) string {
	if len(userIDs) == 0 {
		return "Nobody"
	}
	var b strings.Builder
	for i, id := range userIDs {
		line := "<@" + id + ">"
		if i > 0 {
			line = "\n" + line
		}
		more := fmt.Sprintf("\nand %d more", len(userIDs)-i)
		last := i == len(userIDs)-1
		if b.Len()+len(line) > limit || (!last && b.Len()+len(line)+len(more) > limit) {
			b.WriteString(more)
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
