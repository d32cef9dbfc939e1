package capy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/CApy-RPI/mvp/prompt"
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

const (
	profileCreateTitle  = "Create Profile"
	profileUpdateTitle  = "Update Page"
	maxProfileNameLen   = 50
	maxProfileMajorsLen = 200

	// graduation years are accepted this far either side of the current year
	graduationYearRange = 10
)

var (
	profileCreatePrompts = []string{
		"What's your first name?",
		"What's your last name?",
		"What's your major? If you have more than one, separate them with commas.",
	}

	overwriteOptions = prompt.Options[bool]{
		{Trigger: "Y", Value: true},
		{Trigger: "y", Value: true},
		{Trigger: "N", Value: false},
		{Trigger: "n", Value: false},
	}

	errNoProfile = errors.New("no profile")
)

func profileCommand() *command {
	return &command{
		Name:        "profile",
		Usage:       "profile",
		Description: "DMs you your profile",
		Run:         runProfileShow,
		Subcommands: []*command{
			{
				Name:        "create",
				Usage:       "profile create",
				Description: "Creates (or replaces) your profile, over DM",
				Interactive: true,
				Run:         runProfileCreate,
			},
			{
				Name:        "update",
				Usage:       "profile update",
				Description: "Changes parts of your profile, over DM",
				Interactive: true,
				Run:         runProfileUpdate,
			},
			{
				Name:        "delete",
				Usage:       "profile delete",
				Description: "Deletes your profile",
				Interactive: true,
				Run:         runProfileDelete,
			},
		},
	}
}

// getProfile returns the user's profile, or errNoProfile
func getProfile(cc *commandContext) (*User, error) {
	var u User
	err := cc.bot.db.WithContext(cc.ctx).Where("id = ?", cc.author.ID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNoProfile
	}
	if err != nil {
		return nil, fmt.Errorf("error getting profile: %w", err)
	}
	return &u, nil
}

func runProfileShow(cc *commandContext) error {
	u, err := getProfile(cc)
	if errors.Is(err, errNoProfile) {
		return newUserError(
			"You don't have a profile yet. Create one with `%sprofile create`.",
			cc.bot.commands.prefix,
		)
	}
	if err != nil {
		return err
	}
	dm, err := cc.dmChannel()
	if err != nil {
		return err
	}
	if err = cc.send(dm, profileEmbed(*u)); err != nil {
		return newUserError("I couldn't DM you. Check that you allow direct messages from server members.")
	}
	if dm != cc.channelID() {
		return cc.reply(infoEmbed("Profile", "Check your DMs!"))
	}
	return nil
}

func runProfileCreate(cc *commandContext) error {
	timeout := cc.bot.config.Prompt.Timeout
	dm, err := cc.dmChannel()
	if err != nil {
		return err
	}
	if dm != cc.channelID() {
		if err = cc.reply(infoEmbed(profileCreateTitle, "Check your DMs!")); err != nil {
			return err
		}
	}

	existing, err := getProfile(cc)
	switch {
	case errors.Is(err, errNoProfile):
		existing = &User{ModelStringID: ModelStringID{ID: cc.author.ID}}
	case err != nil:
		return err
	default:
		sel, menuErr := prompt.Menu(
			cc.ctx, cc.bot.prompts, prompt.MenuRequest[bool]{
				ActorID:   cc.author.ID,
				ChannelID: dm,
				Title:     profileCreateTitle,
				Prompt:    "You already have a profile. Do you want to replace it?\nType Y or N.",
				Options:   overwriteOptions,
				Mode:      prompt.ModeText,
				Timeout:   timeout,
			},
		)
		if menuErr != nil {
			return menuErr
		}
		if !sel.Selected() {
			return cc.send(dm, promptTimeoutEmbed())
		}
		if !sel.Value {
			return cc.send(dm, infoEmbed(profileCreateTitle, "Your profile wasn't changed."))
		}
	}

	answers, err := cc.bot.prompts.Many(
		cc.ctx, prompt.ManyRequest{
			ActorID:   cc.author.ID,
			ChannelID: dm,
			Prompts:   profileCreatePrompts,
			Title:     profileCreateTitle,
			Timeout:   timeout,
		},
	)
	if err != nil {
		return err
	}
	if len(answers) < len(profileCreatePrompts) {
		return cc.send(dm, promptTimeoutEmbed())
	}

	firstName, lastName := strings.TrimSpace(answers[0]), strings.TrimSpace(answers[1])
	if utf8.RuneCountInString(firstName) > maxProfileNameLen ||
		utf8.RuneCountInString(lastName) > maxProfileNameLen {
		return newUserError("Names can be at most %d characters.", maxProfileNameLen)
	}
	majors := normalizeMajors(answers[2])
	if majors == "" || utf8.RuneCountInString(majors) > maxProfileMajorsLen {
		return newUserError("Enter between 1 and %d characters of majors.", maxProfileMajorsLen)
	}

	currentYear := cc.bot.now().Year()
	gradYear, ok, err := askValid(
		cc,
		dm,
		profileCreateTitle,
		"What's your graduation year? (YYYY)",
		func(s string) (int, error) {
			return parseGraduationYear(s, currentYear)
		},
	)
	if err != nil || !ok {
		return err
	}

	domain := cc.bot.config.Profile.SchoolEmailDomain
	email, ok, err := askValid(
		cc,
		dm,
		profileCreateTitle,
		fmt.Sprintf("What's your school email? (must end in @%s)", domain),
		func(s string) (string, error) {
			return parseSchoolEmail(s, domain)
		},
	)
	if err != nil || !ok {
		return err
	}

	studentID, ok, err := askValid(
		cc,
		dm,
		profileCreateTitle,
		"What's your student ID? (9 digits)",
		parseStudentID,
	)
	if err != nil || !ok {
		return err
	}

	existing.Username = cc.author.Username
	existing.FirstName = firstName
	existing.LastName = lastName
	existing.Majors = majors
	existing.GraduationYear = gradYear
	existing.SchoolEmail = email
	existing.StudentID = studentID

	if _, err = cc.bot.writeDB.Save(cc.ctx, existing); err != nil {
		return fmt.Errorf("error saving profile: %w", err)
	}
	cc.logger.InfoContext(cc.ctx, "saved profile", "user", existing)

	embed := profileEmbed(*existing)
	embed.Color = ColorSuccess
	embed.Author = &discordgo.MessageEmbedAuthor{Name: "Profile saved"}
	return cc.send(dm, embed)
}

// profileField is a part of a profile that `profile update` can change.
// ask asks for a new value and sets it on u. ok is false if the user
// stopped answering.
type profileField struct {
	Name string
	ask  func(cc *commandContext, channelID string, u *User) (ok bool, err error)
}

// askProfileField asks question, showing the current value if there is
// one, and passes the parsed answer to set
func askProfileField[T any](
	question string,
	current func(u User) string,
	parse func(cc *commandContext, s string) (T, error),
	set func(u *User, v T),
) func(cc *commandContext, channelID string, u *User) (bool, error) {
	return func(cc *commandContext, channelID string, u *User) (bool, error) {
		q := question
		if cur := current(*u); cur != "" {
			q = fmt.Sprintf("%s\nCurrently: %s", question, cur)
		}
		v, ok, err := askValid(
			cc, channelID, profileUpdateTitle, q, func(s string) (T, error) {
				return parse(cc, s)
			},
		)
		if err != nil || !ok {
			return false, err
		}
		set(u, v)
		return true, nil
	}
}

// profileFields are numbered from 1 in the update menu, in this order
var profileFields = []profileField{
	{
		Name: "First Name",
		ask: askProfileField(
			"What's your first name?",
			func(u User) string { return u.FirstName },
			func(_ *commandContext, s string) (string, error) { return parseProfileName(s) },
			func(u *User, v string) { u.FirstName = v },
		),
	},
	{
		Name: "Last Name",
		ask: askProfileField(
			"What's your last name?",
			func(u User) string { return u.LastName },
			func(_ *commandContext, s string) (string, error) { return parseProfileName(s) },
			func(u *User, v string) { u.LastName = v },
		),
	},
	{
		Name: "Major",
		ask: askProfileField(
			"What's your major? If you have more than one, separate them with commas.",
			func(u User) string { return strings.Join(u.MajorList(), ", ") },
			func(_ *commandContext, s string) (string, error) { return parseProfileMajors(s) },
			func(u *User, v string) { u.Majors = v },
		),
	},
	{
		Name: "Graduation Year",
		ask: askProfileField(
			"What's your graduation year? (YYYY)",
			func(u User) string {
				if u.GraduationYear == 0 {
					return ""
				}
				return strconv.Itoa(u.GraduationYear)
			},
			func(cc *commandContext, s string) (int, error) {
				return parseGraduationYear(s, cc.bot.now().Year())
			},
			func(u *User, v int) { u.GraduationYear = v },
		),
	},
	{
		Name: "Student ID",
		ask: askProfileField(
			"What's your student ID? (9 digits)",
			func(User) string { return "" },
			func(_ *commandContext, s string) (string, error) { return parseStudentID(s) },
			func(u *User, v string) { u.StudentID = v },
		),
	},
	{
		Name: "School Email",
		ask: askProfileField(
			"What's your school email?",
			func(u User) string { return u.SchoolEmail },
			func(cc *commandContext, s string) (string, error) {
				return parseSchoolEmail(s, cc.bot.config.Profile.SchoolEmailDomain)
			},
			func(u *User, v string) { u.SchoolEmail = v },
		),
	},
}

// profileUpdateMenu numbers each profile field, followed by Exit
func profileUpdateMenu() (prompt.Options[int], string) {
	opts := make(prompt.Options[int], 0, len(profileFields)+1)
	lines := make([]string, 0, len(profileFields)+2)
	for i, f := range profileFields {
		opts = append(opts, prompt.Option[int]{Trigger: strconv.Itoa(i + 1), Value: i})
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, f.Name))
	}
	exit := len(profileFields)
	opts = append(opts, prompt.Option[int]{Trigger: strconv.Itoa(exit + 1), Value: exit})
	lines = append(lines, fmt.Sprintf("%d. Exit", exit+1), "", "Reply with a number.")
	return opts, strings.Join(lines, "\n")
}

func runProfileUpdate(cc *commandContext) error {
	u, err := getProfile(cc)
	if errors.Is(err, errNoProfile) {
		return newUserError(
			"You don't have a profile yet. Create one with `%sprofile create`.",
			cc.bot.commands.prefix,
		)
	}
	if err != nil {
		return err
	}

	dm, err := cc.dmChannel()
	if err != nil {
		return err
	}
	if dm != cc.channelID() {
		if err = cc.reply(infoEmbed(profileUpdateTitle, "Check your DMs!")); err != nil {
			return err
		}
	}

	options, menu := profileUpdateMenu()
	for {
		sel, menuErr := prompt.Menu(
			cc.ctx, cc.bot.prompts, prompt.MenuRequest[int]{
				ActorID:   cc.author.ID,
				ChannelID: dm,
				Title:     profileUpdateTitle,
				Prompt:    menu,
				Options:   options,
				Mode:      prompt.ModeText,
				Timeout:   cc.bot.config.Prompt.Timeout,
			},
		)
		if menuErr != nil {
			return menuErr
		}
		if !sel.Selected() {
			return cc.send(dm, promptTimeoutEmbed())
		}
		if sel.Value == len(profileFields) {
			return cc.send(dm, infoEmbed(profileUpdateTitle, "Exiting update page."))
		}

		field := profileFields[sel.Value]
		ok, askErr := field.ask(cc, dm, u)
		if askErr != nil || !ok {
			return askErr
		}
		u.Username = cc.author.Username
		if _, err = cc.bot.writeDB.Save(cc.ctx, u); err != nil {
			return fmt.Errorf("error saving profile: %w", err)
		}
		cc.logger.InfoContext(cc.ctx, "updated profile", "user", u, "field", field.Name)
		if err = cc.send(
			dm,
			successEmbed(profileUpdateTitle, fmt.Sprintf("Updated your %s.", strings.ToLower(field.Name))),
		); err != nil {
			return err
		}
	}
}

func runProfileDelete(cc *commandContext) error {
	u, err := getProfile(cc)
	if errors.Is(err, errNoProfile) {
		return newUserError("You don't have a profile.")
	}
	if err != nil {
		return err
	}

	sel, err := prompt.Menu(
		cc.ctx, cc.bot.prompts, prompt.MenuRequest[bool]{
			ActorID:   cc.author.ID,
			ChannelID: cc.channelID(),
			Title:     "Delete Profile",
			Prompt: fmt.Sprintf(
				"Permanently delete your profile?\nReact %s to confirm or %s to cancel.",
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
		return cc.reply(infoEmbed("Delete Profile", "Your profile wasn't deleted."))
	}

	if err = cc.bot.writeDB.Transaction(
		cc.ctx, func(tx *gorm.DB) error {
			return tx.Unscoped().Delete(u).Error
		},
	); err != nil {
		return fmt.Errorf("error deleting profile: %w", err)
	}
	cc.logger.InfoContext(cc.ctx, "deleted profile", "user", u)
	return cc.reply(successEmbed("Delete Profile", "Your profile was deleted."))
}

// normalizeMajors trims each comma-separated major and drops empty ones
func normalizeMajors(s string) string {
	u := User{Majors: s}
	return strings.Join(u.MajorList(), ", ")
}

func parseProfileName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("enter a name")
	}
	if utf8.RuneCountInString(s) > maxProfileNameLen {
		return "", fmt.Errorf("names can be at most %d characters", maxProfileNameLen)
	}
	return s, nil
}

func parseProfileMajors(s string) (string, error) {
	majors := normalizeMajors(s)
	if majors == "" || utf8.RuneCountInString(majors) > maxProfileMajorsLen {
		return "", fmt.Errorf("enter between 1 and %d characters of majors", maxProfileMajorsLen)
	}
	return majors, nil
}

func parseGraduationYear(s string, currentYear int) (int, error) {
	if err := structValidator.Var(s, "number,len=4"); err != nil {
		return 0, fmt.Errorf("%q isn't a year, enter it as YYYY", s)
	}
	year, _ := strconv.Atoi(s)
	if year < currentYear-graduationYearRange || year > currentYear+graduationYearRange {
		return 0, fmt.Errorf("%d isn't a valid graduation year", year)
	}
	return year, nil
}

func parseSchoolEmail(s string, domain string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(s))
	if err := structValidator.Var(email, "required,email"); err != nil {
		return "", fmt.Errorf("%q isn't an email address", s)
	}
	if !strings.HasSuffix(email, "@"+strings.ToLower(domain)) {
		return "", fmt.Errorf("your email must end in @%s", domain)
	}
	return email, nil
}

func parseStudentID(s string) (string, error) {
	if err := structValidator.Var(s, "number,len=9"); err != nil {
		return "", errors.New("your student ID must be exactly 9 digits")
	}
	return s, nil
}
