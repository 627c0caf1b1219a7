package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"carinspect/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Booking       BookingConfig       `yaml:"booking"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Exports       ExportConfig        `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	// ServiceKeys authorize internal callers of the gRPC port.
	ServiceKeys []string `yaml:"service_keys"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type DatabaseConfig struct {
	// Driver is "sqlite3" (default) or "postgres".
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts := []string{
		fmt.Sprintf("host=%s", p.Host),
		fmt.Sprintf("port=%d", p.Port),
		fmt.Sprintf("dbname=%s", p.DBName),
		fmt.Sprintf("sslmode=%s", sslMode),
	}
	if p.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", p.User))
	}
	if p.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", p.Password))
	}
	return strings.Join(parts, " ")
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type BookingConfig struct {
	MaxBookingDays int    `yaml:"max_booking_days"`
	WarmupDays     int    `yaml:"warmup_days"`
	Timezone       string `yaml:"timezone"`
	RateLimit      int    `yaml:"rate_limit"`
	RateWindow     int    `yaml:"rate_window"`
}

// Location resolves Timezone, falling back to UTC.
func (b BookingConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type NotificationsConfig struct {
	Enabled        bool     `yaml:"enabled"`
	SendGridAPIKey string   `yaml:"sendgrid_api_key"`
	FromEmail      string   `yaml:"from_email"`
	FromName       string   `yaml:"from_name"`
	ClientURL      string   `yaml:"client_url"`
	AdminEmails    []string `yaml:"admin_emails"`
	MaxRetries     int      `yaml:"max_retries"`
}

type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	WarmupSpec   string `yaml:"warmup_spec"`
	ReminderSpec string `yaml:"reminder_spec"`
	BackupSpec   string `yaml:"backup_spec"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	// The HTTP API authenticates every request, whatever auth.enabled says.
	if (c.API.HTTP.Enabled || c.API.Auth.Enabled) && c.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is required when the HTTP API or auth is enabled")
	}

	if c.Notifications.Enabled {
		if c.Notifications.SendGridAPIKey == "" {
			return errors.New("notifications.sendgrid_api_key is required when notifications are enabled")
		}
		if c.Notifications.FromEmail == "" {
			return errors.New("notifications.from_email is required when notifications are enabled")
		}
	}

	if c.Booking.Timezone != "" {
		if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
			return fmt.Errorf("invalid booking.timezone: %w", err)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.TokenTTL == 0 {
		c.API.Auth.TokenTTL = 24 * time.Hour
	}
	if c.API.Auth.Issuer == "" {
		c.API.Auth.Issuer = "carinspect"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Booking.MaxBookingDays == 0 {
		c.Booking.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if c.Booking.WarmupDays == 0 {
		c.Booking.WarmupDays = models.DefaultWarmupDays
	}
	if c.Booking.RateLimit == 0 {
		c.Booking.RateLimit = models.DefaultBookingRateLimit
	}
	if c.Booking.RateWindow == 0 {
		c.Booking.RateWindow = models.DefaultBookingRateWindow
	}

	if c.Notifications.FromName == "" {
		c.Notifications.FromName = "Car Inspections"
	}
	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = 5
	}

	if c.Scheduler.WarmupSpec == "" {
		c.Scheduler.WarmupSpec = "0 15 0 * * *"
	}
	if c.Scheduler.ReminderSpec == "" {
		c.Scheduler.ReminderSpec = "0 0 9 * * *"
	}
	if c.Scheduler.BackupSpec == "" {
		c.Scheduler.BackupSpec = "0 30 3 * * *"
	}

	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
