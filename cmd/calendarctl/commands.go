package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"carinspect/internal/api"
	"carinspect/internal/config"
	"carinspect/internal/database"
	"carinspect/internal/domain"
	"carinspect/internal/logging"
	"carinspect/internal/models"
	"carinspect/internal/service"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// env holds what every subcommand needs once the config is loaded.
type env struct {
	cfg    *config.Config
	db     *database.DB
	svc    *service.InspectionService
	logger *zerolog.Logger
	closer io.Closer
}

func openEnv(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	cliLogger := logger.With().Str("component", "calendarctl").Logger()

	db, err := database.Open(cfg.Database, &cliLogger)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	svc := service.NewInspectionService(db, db, nil, cfg.Booking.MaxBookingDays, cfg.Booking.Location(), &cliLogger)
	return &env{cfg: cfg, db: db, svc: svc, logger: &cliLogger, closer: closer}, nil
}

func (e *env) Close() {
	_ = e.db.Close()
	if e.closer != nil {
		_ = e.closer.Close()
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "calendarctl",
		Short:         "Operate the inspection calendar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultPath, "path to config.yaml")

	withEnv := func(run func(cmd *cobra.Command, e *env) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			return run(cmd, e)
		}
	}

	root.AddCommand(newGenerateCmd(withEnv))
	root.AddCommand(newAvailabilityCmd(withEnv))
	root.AddCommand(newReleaseCmd(withEnv))
	root.AddCommand(newBackupCmd(withEnv))
	root.AddCommand(newExportCmd(withEnv))
	root.AddCommand(newTokenCmd(withEnv))
	return root
}

type envRunner func(run func(cmd *cobra.Command, e *env) error) func(*cobra.Command, []string) error

func newGenerateCmd(withEnv envRunner) *cobra.Command {
	var days int

	c := &cobra.Command{
		Use:   "generate",
		Short: "Pre-generate calendar days starting today",
		RunE: withEnv(func(cmd *cobra.Command, e *env) error {
			if days <= 0 {
				days = e.cfg.Booking.WarmupDays
			}
			n, err := e.svc.WarmUpCalendar(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %d days from %s\n", n, e.svc.Today().Format(models.DateLayout))
			return nil
		}),
	}
	c.Flags().IntVar(&days, "days", 0, "number of days (defaults to booking.warmup_days)")
	return c
}

func newAvailabilityCmd(withEnv envRunner) *cobra.Command {
	var date string

	c := &cobra.Command{
		Use:   "availability",
		Short: "Print free slots of a day",
		RunE: withEnv(func(cmd *cobra.Command, e *env) error {
			day, err := models.ParseDate(date)
			if err != nil {
				return domain.InvalidDate("date", date)
			}
			periods, err := e.svc.GetAvailableSlots(cmd.Context(), day)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PERIOD\tBOOKED\tFREE SLOTS")
			for _, p := range periods {
				starts := make([]string, 0, len(p.AvailableSlots))
				for _, s := range p.AvailableSlots {
					starts = append(starts, s.StartTime)
				}
				fmt.Fprintf(tw, "%s\t%d/%d\t%s\n", p.Period, p.BookedSlots, p.TotalSlots, strings.Join(starts, " "))
			}
			return tw.Flush()
		}),
	}
	c.Flags().StringVar(&date, "date", "", "day in YYYY-MM-DD")
	_ = c.MarkFlagRequired("date")
	return c
}

// newReleaseCmd frees a slot whose holder no longer owns it, e.g. after a crash
// between reserving the slot and saving the inspection.
func newReleaseCmd(withEnv envRunner) *cobra.Command {
	var date, period, start string
	var force bool

	c := &cobra.Command{
		Use:   "release",
		Short: "Release an orphaned slot hold",
		RunE: withEnv(func(cmd *cobra.Command, e *env) error {
			ctx := cmd.Context()
			day, err := models.ParseDate(date)
			if err != nil {
				return domain.InvalidDate("date", date)
			}
			p, ok := models.ParsePeriod(period)
			if !ok {
				return domain.InvalidPeriod(period)
			}

			calendarDay, err := e.db.FindCalendarDay(ctx, day, p)
			if err != nil {
				return fmt.Errorf("find calendar day: %w", err)
			}
			holder, err := e.db.SlotHolder(ctx, calendarDay.ID, start)
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrSlotNotFound
			}
			if err != nil {
				return err
			}
			if holder == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "slot is already free")
				return nil
			}

			if !force {
				inspection, err := e.db.GetInspection(ctx, holder)
				switch {
				case errors.Is(err, domain.ErrNotFound):
				case err != nil:
					return err
				case inspection.Status.HoldsSlot() &&
					inspection.InspectionDate.Equal(day) &&
					inspection.TimeSlot.Period == p &&
					inspection.TimeSlot.StartTime == start:
					return fmt.Errorf("slot is held by active inspection %s (use --force to release anyway)", inspection.Ref())
				}
			}

			if err := e.db.ReleaseSlot(ctx, day, p, start); err != nil {
				return err
			}
			e.logger.Warn().
				Str("date", date).
				Str("period", string(p)).
				Str("start_time", start).
				Str("inspection_id", holder).
				Bool("force", force).
				Msg("slot released by operator")
			fmt.Fprintf(cmd.OutOrStdout(), "released %s %s %s (held by %s)\n", date, p, start, holder)
			return nil
		}),
	}
	c.Flags().StringVar(&date, "date", "", "day in YYYY-MM-DD")
	c.Flags().StringVar(&period, "period", "", "morning, afternoon or night")
	c.Flags().StringVar(&start, "start", "", "slot start time, HH:MM")
	c.Flags().BoolVar(&force, "force", false, "release even if an active inspection holds the slot")
	for _, f := range []string{"date", "period", "start"} {
		_ = c.MarkFlagRequired(f)
	}
	return c
}

func newBackupCmd(withEnv envRunner) *cobra.Command {
	var cleanup bool

	c := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the SQLite database",
		RunE: withEnv(func(cmd *cobra.Command, e *env) error {
			backups := database.NewBackupService(e.db, e.cfg.Backup, e.logger)
			path, err := backups.PerformBackup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			if cleanup {
				n := backups.CleanupOldBackups()
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d old backups\n", n)
			}
			return nil
		}),
	}
	c.Flags().BoolVar(&cleanup, "cleanup", false, "apply backup.retention_days afterwards")
	return c
}

func newExportCmd(withEnv envRunner) *cobra.Command {
	var from, to, status string

	c := &cobra.Command{
		Use:   "export",
		Short: "Write inspections to an xlsx file under exports.path",
		RunE: withEnv(func(cmd *cobra.Command, e *env) error {
			filter := models.InspectionFilter{}
			for _, d := range []struct {
				field string
				raw   string
				dst   **time.Time
			}{{"from", from, &filter.StartDate}, {"to", to, &filter.EndDate}} {
				if d.raw == "" {
					continue
				}
				parsed, err := models.ParseDate(d.raw)
				if err != nil {
					return domain.InvalidDate(d.field, d.raw)
				}
				*d.dst = &parsed
			}
			if status != "" {
				st, ok := models.ParseInspectionStatus(status)
				if !ok {
					return domain.NewValidationError("status", "unknown status %q", status)
				}
				filter.Statuses = []models.InspectionStatus{st}
			}

			items, err := api.CollectInspections(cmd.Context(), e.svc, filter)
			if err != nil {
				return err
			}
			book, err := api.BuildInspectionWorkbook(items, filter.StartDate, filter.EndDate)
			if err != nil {
				return err
			}
			defer book.Close()

			if err := os.MkdirAll(e.cfg.Exports.Path, 0o755); err != nil {
				return fmt.Errorf("create export directory: %w", err)
			}
			path := filepath.Join(e.cfg.Exports.Path, fmt.Sprintf("inspections_%s.xlsx", time.Now().Format("20060102_150405")))
			if err := book.SaveAs(path); err != nil {
				return fmt.Errorf("save export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d inspections)\n", path, len(items))
			return nil
		}),
	}
	c.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	c.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	c.Flags().StringVar(&status, "status", "", "only inspections in this status")
	return c
}

func newTokenCmd(withEnv envRunner) *cobra.Command {
	var userID, role string

	c := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for an existing user",
		RunE: withEnv(func(cmd *cobra.Command, e *env) error {
			id, err := strconv.ParseInt(userID, 10, 64)
			if err != nil || id <= 0 {
				return domain.NewValidationError("user", "must be a numeric id")
			}
			user, err := e.db.GetUser(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load user %d: %w", id, err)
			}
			r := user.Role
			if role != "" {
				r = models.Role(role)
			}
			token, err := api.NewTokenManager(e.cfg.API.Auth).Issue(user.ID, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	}
	c.Flags().StringVar(&userID, "user", "", "user id")
	c.Flags().StringVar(&role, "role", "", "override the stored role")
	_ = c.MarkFlagRequired("user")
	return c
}
