// Package config loads the mailcored process configuration from YAML,
// mirroring the section layout the teacher's smtp-server/config package
// uses (one struct per concern, yaml tags, sane defaults applied after
// unmarshal).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all mailcored configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	IMAP     IMAPConfig     `yaml:"imap"`
	POP3     POP3Config     `yaml:"pop3"`
	Lockout  LockoutConfig  `yaml:"lockout"`
	Registry RegistryConfig `yaml:"registry"`
	TLS      TLSConfig      `yaml:"tls"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds process-wide server settings.
type ServerConfig struct {
	Hostname                 string `yaml:"hostname"`
	ReservedAdminDomain      string `yaml:"reserved_admin_domain"`
	MaxMessageSizeBytes      int64  `yaml:"max_message_size_bytes"`
	StorageQuotaPerUserBytes int64  `yaml:"storage_quota_per_user_bytes"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds Redis settings for the auth rate-limit guard.
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig holds attachment blob storage settings.
type StorageConfig struct {
	Backend        string        `yaml:"backend"` // "s3" or "filesystem"
	FilesystemRoot string        `yaml:"filesystem_root"`
	S3Endpoint     string        `yaml:"s3_endpoint"`
	S3Region       string        `yaml:"s3_region"`
	S3Bucket       string        `yaml:"s3_bucket"`
	S3AccessKey    string        `yaml:"s3_access_key"`
	S3SecretKey    string        `yaml:"s3_secret_key"`
	S3UsePathStyle bool          `yaml:"s3_use_path_style"`
	PresignExpiry  time.Duration `yaml:"presign_expiry"`
}

// SMTPConfig holds SMTP listener settings.
type SMTPConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	SubmissionPort    int           `yaml:"submission_port"`
	Banner            string        `yaml:"banner"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxRecipients     int           `yaml:"max_recipients"`
	MaxConnections    int           `yaml:"max_connections"`
	AllowInsecureAuth bool          `yaml:"allow_insecure_auth"`
}

// IMAPConfig holds IMAP listener settings.
type IMAPConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	TLSPort        int           `yaml:"tls_port"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxConnections int           `yaml:"max_connections"`
}

// POP3Config holds POP3 listener settings.
type POP3Config struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	TLSPort        int           `yaml:"tls_port"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxConnections int           `yaml:"max_connections"`
}

// LockoutConfig holds authentication lockout settings (spec §4.3).
type LockoutConfig struct {
	Enabled                bool `yaml:"enabled"`
	MaxFailedAttempts      int  `yaml:"max_failed_attempts"`
	LockoutDurationMinutes int  `yaml:"lockout_duration_minutes"`
	ResetWindowMinutes     int  `yaml:"reset_window_minutes"`
}

// RegistryConfig holds Domain Registry cache settings (spec §4.1).
type RegistryConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheCapacity int           `yaml:"cache_capacity"`
	RefreshCron   string        `yaml:"refresh_cron"`
}

// TLSConfig holds TLS settings.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"`
}

// MetricsConfig holds the Prometheus /metrics endpoint settings.
type MetricsConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses a YAML config file, applying defaults for any
// zero-valued field that requires one to operate safely.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config populated with the documented defaults from
// spec.md §4.3 and §6.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname:                 "mail.example.com",
			ReservedAdminDomain:      "admin.internal",
			MaxMessageSizeBytes:      25 << 20,
			StorageQuotaPerUserBytes: 5 << 30,
		},
		SMTP: SMTPConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           25,
			SubmissionPort: 587,
			Banner:         "ESMTP mailcored",
			ReadTimeout:    10 * time.Minute,
			WriteTimeout:   10 * time.Minute,
			IdleTimeout:    10 * time.Minute,
			MaxRecipients:  100,
			MaxConnections: 1000,
		},
		IMAP: IMAPConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           143,
			TLSPort:        993,
			IdleTimeout:    30 * time.Minute,
			MaxConnections: 1000,
		},
		POP3: POP3Config{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           110,
			TLSPort:        995,
			IdleTimeout:    10 * time.Minute,
			MaxConnections: 1000,
		},
		Lockout: LockoutConfig{
			Enabled:                true,
			MaxFailedAttempts:      5,
			LockoutDurationMinutes: 15,
			ResetWindowMinutes:     60,
		},
		Registry: RegistryConfig{
			CacheTTL:      time.Hour,
			CacheCapacity: 4096,
			RefreshCron:   "@every 5m",
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Host: "0.0.0.0", Port: 9100},
	}
}
