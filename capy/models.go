package capy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnEventGuildID               = "guild_id"
	columnEventStartsAt              = "starts_at"
	columnEventAnnouncementMessageID = "announcement_message_id"
	columnEventRemindedAt            = "reminded_at"
	columnAttendanceEventID          = "event_id"
	columnAttendanceUserID           = "user_id"
	columnAttendanceStatus           = "status"
)

// Guild holds per-server settings.
type Guild struct {
	ModelStringID
	ModelUnixTime

	// AnnouncementChannelID is where events are announced. It's set by
	// `settings set`, or to wherever the last announcement went.
	AnnouncementChannelID string `json:"announcement_channel_id"`
	ModeratorChannelID    string `json:"moderator_channel_id"`
	ReportsChannelID      string `json:"reports_channel_id"`
	EboardRoleID          string `json:"eboard_role_id"`
	AdminRoleID           string `json:"admin_role_id"`
}

// guildSettingKind is what a guild setting refers to
type guildSettingKind int

const (
	guildSettingChannel guildSettingKind = iota
	guildSettingRole
)

// guildSetting is a guild setting members can change by name
type guildSetting struct {
	Name   string
	Column string
	Kind   guildSettingKind
	value  func(g Guild) string
}

// guildSettings are listed in this order
var guildSettings = []guildSetting{
	{
		Name:   "announcements_channel",
		Column: "announcement_channel_id",
		Kind:   guildSettingChannel,
		value:  func(g Guild) string { return g.AnnouncementChannelID },
	},
	{
		Name:   "moderator_channel",
		Column: "moderator_channel_id",
		Kind:   guildSettingChannel,
		value:  func(g Guild) string { return g.ModeratorChannelID },
	},
	{
		Name:   "reports_channel",
		Column: "reports_channel_id",
		Kind:   guildSettingChannel,
		value:  func(g Guild) string { return g.ReportsChannelID },
	},
	{
		Name:   "eboard_role",
		Column: "eboard_role_id",
		Kind:   guildSettingRole,
		value:  func(g Guild) string { return g.EboardRoleID },
	},
	{
		Name:   "admin_role",
		Column: "admin_role_id",
		Kind:   guildSettingRole,
		value:  func(g Guild) string { return g.AdminRoleID },
	},
}

var (
	errUnknownGuildSetting = errors.New("unknown setting")
	errInvalidSettingValue = errors.New("invalid setting value")
)

// lookupGuildSetting finds a setting by name, case-insensitively
func lookupGuildSetting(name string) (guildSetting, error) {
	for _, s := range guildSettings {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return guildSetting{}, fmt.Errorf("%w: %q", errUnknownGuildSetting, name)
}

// parse accepts a mention of the setting's kind, or a bare ID. "none"
// clears the setting.
func (s guildSetting) parse(value string) (string, error) {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "none") {
		return "", nil
	}
	switch s.Kind {
	case guildSettingChannel:
		value = strings.TrimSuffix(strings.TrimPrefix(value, "<#"), ">")
	case guildSettingRole:
		value = strings.TrimSuffix(strings.TrimPrefix(value, "<@&"), ">")
	}
	if err := structValidator.Var(value, "required,number,max=20"); err != nil {
		return "", fmt.Errorf("%w: %q isn't a %s", errInvalidSettingValue, value, s.kindName())
	}
	return value, nil
}

func (s guildSetting) kindName() string {
	if s.Kind == guildSettingRole {
		return "role"
	}
	return "channel"
}

// mention renders the setting's value as a discord mention
func (s guildSetting) mention(g Guild) string {
	id := s.value(g)
	switch {
	case id == "":
		return "not set"
	case s.Kind == guildSettingRole:
		return "<@&" + id + ">"
	default:
		return "<#" + id + ">"
	}
}

// getGuild returns the guild's settings. A guild with no record yet has
// every setting empty.
func getGuild(ctx context.Context, db *gorm.DB, guildID string) (Guild, error) {
	var g Guild
	err := db.WithContext(ctx).Where("id = ?", guildID).Take(&g).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Guild{ModelStringID: ModelStringID{ID: guildID}}, nil
	case err != nil:
		return g, fmt.Errorf("error getting guild: %w", err)
	}
	return g, nil
}

// setGuildSetting saves value (already parsed) to the guild, creating its
// record if needed
func setGuildSetting(ctx context.Context, db DBI, guildID string, s guildSetting, value string) error {
	return db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&Guild{ModelStringID: ModelStringID{ID: guildID}}).Error; err != nil {
				return err
			}
			return tx.Model(&Guild{}).
				Where("id = ?", guildID).
				Update(s.Column, value).Error
		},
	)
}

// User is a member's profile. ID is the discord user ID.
type User struct {
	ModelStringID
	ModelUnixTime

	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Majors         string `json:"majors"`
	GraduationYear int    `json:"graduation_year"`
	SchoolEmail    string `json:"school_email"`
	StudentID      string `json:"student_id" log:"[redacted]"`
}

func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.String("username", u.Username),
	)
}

// MajorList returns Majors split into its individual entries
func (u User) MajorList() []string {
	var majors []string
	for _, m := range strings.Split(u.Majors, ",") {
		if m = strings.TrimSpace(m); m != "" {
			majors = append(majors, m)
		}
	}
	return majors
}

// Event is a scheduled club event in a guild.
type Event struct {
	ModelUintID
	ModelUnixTime

	GuildID     string `gorm:"index" json:"guild_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`

	// StartsAt is the start time in unix milliseconds
	StartsAt int64 `gorm:"index" json:"starts_at"`

	// Timezone is the IANA zone the event was scheduled in, used when
	// displaying StartsAt
	Timezone string `json:"timezone"`

	// CreatedBy is the discord user ID of whoever added the event
	CreatedBy string `json:"created_by"`

	AnnouncementChannelID string `json:"announcement_channel_id,omitempty"`
	AnnouncementMessageID string `gorm:"index" json:"announcement_message_id,omitempty"`

	// RemindedAt is set (unix milliseconds) once a reminder has been sent
	RemindedAt *int64 `json:"reminded_at,omitempty"`

	Attendance []Attendance `json:"attendance,omitempty"`
}

func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(e.ID)),
		slog.String("guild_id", e.GuildID),
		slog.String("name", e.Name),
		slog.Time("starts_at", e.Start()),
	)
}

// Start returns StartsAt in the event's timezone
func (e Event) Start() time.Time {
	t := time.UnixMilli(e.StartsAt)
	if loc, err := time.LoadLocation(e.Timezone); err == nil {
		return t.In(loc)
	}
	return t.UTC()
}

type AttendanceStatus string

const (
	AttendanceYes   AttendanceStatus = "yes"
	AttendanceNo    AttendanceStatus = "no"
	AttendanceMaybe AttendanceStatus = "maybe"
)

// Attendance is a user's RSVP to an Event, one per event and user.
type Attendance struct {
	ModelUintID
	CreatedAt int64            `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64            `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	EventID   uint             `gorm:"uniqueIndex:idx_attendance_event_user;not null" json:"event_id"`
	UserID    string           `gorm:"uniqueIndex:idx_attendance_event_user;not null" json:"user_id"`
	Status    AttendanceStatus `gorm:"index" json:"status"`
}

// AttendanceCounts is the number of RSVPs to an event, by status
type AttendanceCounts struct {
	Yes   int `json:"yes"`
	No    int `json:"no"`
	Maybe int `json:"maybe"`
}

var errEventNotFound = errors.New("event not found")

// upcomingEvents returns up to limit events in the guild starting at or
// after now, soonest first
func upcomingEvents(
	ctx context.Context,
	db *gorm.DB,
	guildID string,
	now time.Time,
	limit int,
) ([]Event, error) {
	var events []Event
	err := db.WithContext(ctx).
		Where(columnEventGuildID+" = ?", guildID).
		Where(columnEventStartsAt+" >= ?", now.UnixMilli()).
		Order(columnEventStartsAt + " asc").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// getEvent returns the event with the given ID. If guildID isn't empty,
// the event must belong to that guild.
func getEvent(ctx context.Context, db *gorm.DB, guildID string, id uint) (*Event, error) {
	q := db.WithContext(ctx).Where("id = ?", id)
	if guildID != "" {
		q = q.Where(columnEventGuildID+" = ?", guildID)
	}
	var event Event
	if err := q.Take(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", errEventNotFound, id)
		}
		return nil, err
	}
	return &event, nil
}

// eventByAnnouncement returns the event announced by the given message
func eventByAnnouncement(ctx context.Context, db *gorm.DB, messageID string) (*Event, error) {
	var event Event
	err := db.WithContext(ctx).
		Where(columnEventAnnouncementMessageID+" = ?", messageID).
		Take(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

// attendanceCounts tallies RSVPs for an event
func attendanceCounts(ctx context.Context, db *gorm.DB, eventID uint) (AttendanceCounts, error) {
	var rows []struct {
		Status AttendanceStatus
		Count  int
	}
	err := db.WithContext(ctx).
		Model(&Attendance{}).
		Select(columnAttendanceStatus+", count(*) as count").
		Where(columnAttendanceEventID+" = ?", eventID).
		Group(columnAttendanceStatus).
		Scan(&rows).Error
	if err != nil {
		return AttendanceCounts{}, err
	}
	var counts AttendanceCounts
	for _, r := range rows {
		switch r.Status {
		case AttendanceYes:
			counts.Yes = r.Count
		case AttendanceNo:
			counts.No = r.Count
		case AttendanceMaybe:
			counts.Maybe = r.Count
		}
	}
	return counts, nil
}

// attendeeIDs returns the IDs of users with the given status for an event
func attendeeIDs(
	ctx context.Context,
	db *gorm.DB,
	eventID uint,
	status AttendanceStatus,
) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&Attendance{}).
		Where(columnAttendanceEventID+" = ?", eventID).
		Where(columnAttendanceStatus+" = ?", status).
		Order("created_at asc, id asc").
		Pluck(columnAttendanceUserID, &ids).Error
	return ids, err
}

// eventsForAttendee returns upcoming events the user RSVP'd "yes" to
func eventsForAttendee(
	ctx context.Context,
	db *gorm.DB,
	userID string,
	now time.Time,
	limit int,
) ([]Event, error) {
	var events []Event
	err := db.WithContext(ctx).
		Joins("JOIN attendances ON attendances.event_id = events.id").
		Where("attendances."+columnAttendanceUserID+" = ?", userID).
		Where("attendances."+columnAttendanceStatus+" = ?", AttendanceYes).
		Where("events."+columnEventStartsAt+" >= ?", now.UnixMilli()).
		Order("events." + columnEventStartsAt + " asc").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// dueReminders returns announced events starting between now and
// now+lead that haven't had a reminder sent
func dueReminders(
	ctx context.Context,
	db *gorm.DB,
	now time.Time,
	lead time.Duration,
) ([]Event, error) {
	var events []Event
	err := db.WithContext(ctx).
		Where(columnEventRemindedAt+" IS NULL").
		Where(columnEventAnnouncementMessageID+" <> ''").
		Where(
			columnEventStartsAt+" BETWEEN ? AND ?",
			now.UnixMilli(),
			now.Add(lead).UnixMilli(),
		).
		Order(columnEventStartsAt + " asc").
		Find(&events).Error
	return events, err
}

// setAttendance creates or updates the user's RSVP for an event
func setAttendance(
	ctx context.Context,
	db DBI,
	eventID uint,
	userID string,
	status AttendanceStatus,
) error {
	return db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{
						{Name: columnAttendanceEventID},
						{Name: columnAttendanceUserID},
					},
					DoUpdates: clause.AssignmentColumns(
						[]string{columnAttendanceStatus, "updated_at"},
					),
				},
			).Create(
				&Attendance{
					EventID: eventID,
					UserID:  userID,
					Status:  status,
				},
			).Error
		},
	)
}

// removeAttendance deletes the user's RSVP, but only if it still has the
// given status. Removing a reaction that was already replaced by another
// one shouldn't remove the newer RSVP.
func removeAttendance(
	ctx context.Context,
	db DBI,
	eventID uint,
	userID string,
	status AttendanceStatus,
) (int64, error) {
	return db.Delete(
		ctx,
		&Attendance{},
		columnAttendanceEventID+" = ? AND "+columnAttendanceUserID+" = ? AND "+columnAttendanceStatus+" = ?",
		eventID,
		userID,
		status,
	)
}
