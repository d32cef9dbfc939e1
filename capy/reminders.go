package capy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
)

const (
	// limiterPruneSchedule is how often idle command rate limiters are
	// dropped
	limiterPruneSchedule = "@every 10m"
	limiterIdleTimeout   = time.Hour

	// maxReminderMentions keeps a reminder's content under discord's
	// message length limit
	maxReminderMentions = 80
)

// scheduler runs the bot's periodic jobs: event reminders and command
// limiter cleanup
type scheduler struct {
	bot    *Capy
	cron   *cron.Cron
	logger *slog.Logger
}

func newScheduler(bot *Capy, logger *slog.Logger) *scheduler {
	cronLogger := cronSlogLogger{logger: logger}
	return &scheduler{
		bot:    bot,
		logger: logger,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cronLogger),
			cron.WithChain(
				cron.Recover(cronLogger),
				cron.SkipIfStillRunning(cronLogger),
			),
		),
	}
}

// start schedules every job and starts the cron runner. Jobs run with ctx,
// and the runner is stopped when ctx ends.
func (s *scheduler) start(ctx context.Context) error {
	cfg := s.bot.config.Reminders
	if cfg.Enabled {
		if _, err := s.cron.AddFunc(
			cfg.Schedule, func() {
				if err := s.bot.sendReminders(ctx); err != nil {
					s.logger.ErrorContext(ctx, "error sending reminders", tint.Err(err))
				}
			},
		); err != nil {
			return fmt.Errorf("error scheduling reminders: %w", err)
		}
		s.logger.InfoContext(
			ctx,
			"scheduled reminders",
			"schedule", cfg.Schedule,
			"lead_time", cfg.LeadTime,
		)
	}

	if _, err := s.cron.AddFunc(
		limiterPruneSchedule, func() {
			removed := s.bot.commands.pruneLimiters(s.bot.now().Add(-limiterIdleTimeout))
			s.logger.DebugContext(ctx, "pruned command limiters", "removed", removed)
		},
	); err != nil {
		return fmt.Errorf("error scheduling limiter pruning: %w", err)
	}

	s.cron.Start()
	return nil
}

// stop stops scheduling jobs, and waits for any that are running
func (s *scheduler) stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

// sendReminders posts a reminder for every announced event starting within
// the lead time, mentioning everyone who RSVP'd yes. Each event is only
// reminded once.
func (c *Capy) sendReminders(ctx context.Context) error {
	now := c.now()
	events, err := dueReminders(ctx, c.db, now, c.config.Reminders.LeadTime)
	if err != nil {
		return fmt.Errorf("error finding due reminders: %w", err)
	}

	for i := range events {
		event := &events[i]
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = c.sendReminder(ctx, event, now); err != nil {
			c.logger.ErrorContext(ctx, "error sending reminder", tint.Err(err), "event", event)
			continue
		}
		c.logger.InfoContext(ctx, "sent reminder", "event", event)
	}
	return nil
}

func (c *Capy) sendReminder(ctx context.Context, event *Event, now time.Time) error {
	attendees, err := attendeeIDs(ctx, c.db, event.ID, AttendanceYes)
	if err != nil {
		return fmt.Errorf("error getting attendees: %w", err)
	}

	mentioned := attendees
	if len(mentioned) > maxReminderMentions {
		mentioned = mentioned[:maxReminderMentions]
	}
	mentions := make([]string, 0, len(mentioned))
	for _, id := range mentioned {
		mentions = append(mentions, "<@"+id+">")
	}
	content := strings.Join(mentions, " ")
	if extra := len(attendees) - len(mentioned); extra > 0 {
		content += fmt.Sprintf(" and %d more", extra)
	}

	embed := eventEmbed(*event, nil)
	embed.Author = &discordgo.MessageEmbedAuthor{
		Name: fmt.Sprintf(
			"Starting in %s",
			time.UnixMilli(event.StartsAt).Sub(now).Round(time.Minute),
		),
	}

	if _, err = c.discord.session.ChannelMessageSendComplex(
		event.AnnouncementChannelID,
		&discordgo.MessageSend{
			Content: content,
			Embeds:  []*discordgo.MessageEmbed{embed},
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Users: mentioned,
			},
		},
		discordgo.WithContext(ctx),
	); err != nil {
		return err
	}

	remindedAt := now.UnixMilli()
	if _, err = c.writeDB.Updates(
		ctx,
		event,
		map[string]any{columnEventRemindedAt: remindedAt},
	); err != nil {
		return fmt.Errorf("error recording reminder: %w", err)
	}
	event.RemindedAt = &remindedAt
	return nil
}
