package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"carinspect/internal/config"

	"github.com/rs/zerolog"
)

var ErrBackupUnsupported = errors.New("backup is only supported for sqlite databases")

// BackupService snapshots the SQLite database into timestamped files.
type BackupService struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// Run performs one backup followed by retention cleanup. It is the scheduler entrypoint.
func (s *BackupService) Run(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Debug().Msg("backup service is disabled")
		return
	}
	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled backup failed")
		return
	}
	s.CleanupOldBackups()
}

// PerformBackup writes a consistent copy of the database and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if s.db == nil || s.db.Driver() != DriverSQLite {
		return "", ErrBackupUnsupported
	}

	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(s.config.StoragePath, fmt.Sprintf("backup_%s.db", timestamp))

	s.logger.Info().Str("path", backupPath).Msg("performing database backup using VACUUM INTO")

	quoted := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := s.db.DB.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		if s.db.Path() == "" || s.db.Path() == ":memory:" {
			return "", fmt.Errorf("vacuum into: %w", err)
		}
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, falling back to file copy")
		if err := s.copyFile(backupPath); err != nil {
			return "", err
		}
	}

	s.logger.Info().Str("path", backupPath).Msg("backup completed")
	return backupPath, nil
}

func (s *BackupService) copyFile(backupPath string) error {
	source, err := os.Open(s.db.Path())
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(backupPath)
	if err != nil {
		return err
	}
	defer destination.Close()

	// io.Copy is not atomic for SQLite; concurrent writes may produce a torn copy.
	if _, err := io.Copy(destination, source); err != nil {
		return err
	}
	return nil
}

// CleanupOldBackups removes backups older than the retention period.
func (s *BackupService) CleanupOldBackups() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read backup directory for cleanup")
		return 0
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("deleting old backup")
			if err := os.Remove(filepath.Join(s.config.StoragePath, file.Name())); err == nil {
				removed++
			}
		}
	}
	return removed
}
