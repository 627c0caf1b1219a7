package scheduler

import (
	"context"
	"fmt"
	"time"

	"carinspect/internal/config"
	"carinspect/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const jobTimeout = 10 * time.Minute

// CalendarWarmer pre-generates calendar days.
type CalendarWarmer interface {
	Today() time.Time
	WarmUpCalendar(ctx context.Context, days int) (int, error)
}

// ReminderSender queues reminder emails for inspections on a day.
type ReminderSender interface {
	SendReminders(ctx context.Context, day time.Time) (int, error)
}

// BackupRunner takes one database snapshot and applies retention.
type BackupRunner interface {
	Run(ctx context.Context)
}

// Jobs are the collaborators invoked by the cron entries. Nil members are not scheduled.
type Jobs struct {
	Calendar  CalendarWarmer
	Reminders ReminderSender
	Backup    BackupRunner
}

// Scheduler runs the periodic maintenance jobs.
type Scheduler struct {
	cron       *cron.Cron
	jobs       Jobs
	warmupDays int
	logger     zerolog.Logger
}

func New(cfg config.SchedulerConfig, booking config.BookingConfig, jobs Jobs, logger *zerolog.Logger) (*Scheduler, error) {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}

	warmupDays := booking.WarmupDays
	if warmupDays <= 0 {
		warmupDays = models.DefaultWarmupDays
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(booking.Location()),
			cron.WithSeconds(),
		),
		jobs:       jobs,
		warmupDays: warmupDays,
		logger:     l,
	}

	if err := s.registerJobs(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) registerJobs(cfg config.SchedulerConfig) error {
	entries := []struct {
		name    string
		spec    string
		enabled bool
		run     func()
	}{
		{"calendar_warmup", cfg.WarmupSpec, s.jobs.Calendar != nil, s.WarmUp},
		{"reminders", cfg.ReminderSpec, s.jobs.Reminders != nil, s.SendReminders},
		{"backup", cfg.BackupSpec, s.jobs.Backup != nil, s.RunBackup},
	}

	for _, e := range entries {
		if !e.enabled || e.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(e.spec, e.run); err != nil {
			return fmt.Errorf("register %s job %q: %w", e.name, e.spec, err)
		}
		s.logger.Debug().Str("job", e.name).Str("spec", e.spec).Msg("cron job registered")
	}

	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("cron jobs registered")
	return nil
}

// WarmUp ensures the calendar for the configured number of days ahead.
func (s *Scheduler) WarmUp() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.jobs.Calendar.WarmUpCalendar(ctx, s.warmupDays)
	if err != nil {
		s.logger.Error().Err(err).Int("days_done", n).Msg("calendar warm-up failed")
		return
	}
	s.logger.Info().Int("days", n).Dur("duration", time.Since(start)).Msg("calendar warmed up")
}

// SendReminders queues reminders for inspections taking place tomorrow.
func (s *Scheduler) SendReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	tomorrow := s.today().AddDate(0, 0, 1)
	if _, err := s.jobs.Reminders.SendReminders(ctx, tomorrow); err != nil {
		s.logger.Error().Err(err).Str("date", tomorrow.Format(models.DateLayout)).Msg("reminder job failed")
	}
}

func (s *Scheduler) RunBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.jobs.Backup.Run(ctx)
}

func (s *Scheduler) today() time.Time {
	if s.jobs.Calendar != nil {
		return s.jobs.Calendar.Today()
	}
	return models.DateOf(time.Now().In(s.cron.Location()))
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("cron scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("cron scheduler stopped")
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
