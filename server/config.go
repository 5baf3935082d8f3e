package server

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the full bot configuration.
type Config struct {
	Name         string             `yaml:"name" json:"name" usage:"Bot instance name, used in log and metric labels." validate:"required"`
	Config       string             `yaml:"config" json:"config" usage:"The absolute file path to the configuration YAML file."`
	DataDir      string             `yaml:"data_dir" json:"data_dir" env:"DATA_DIR" usage:"An absolute path to a writeable folder where the bot stores its data." validate:"required"`
	Logger       *LoggerConfig      `yaml:"logger" json:"logger" usage:"Logger levels and output."`
	Discord      *DiscordConfig     `yaml:"discord" json:"discord" usage:"Discord bot credentials and channels."`
	Games        map[string]string  `yaml:"games" json:"games" usage:"Requestable games, mapped to an image URL shown on the notification."`
	PlayRequests *PlayRequestConfig `yaml:"play_requests" json:"play_requests" usage:"Play request behavior."`
	Storage      *StorageConfig     `yaml:"storage" json:"storage" usage:"Where bans and play requests are persisted."`
	Metrics      *MetricsConfig     `yaml:"metrics" json:"metrics" usage:"Metrics settings."`
	Admin        *AdminConfig       `yaml:"admin" json:"admin" usage:"Read-only admin HTTP API."`
}

func NewConfig() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &Config{
		Name:         "playbot",
		DataDir:      filepath.Join(cwd, "data"),
		Logger:       NewLoggerConfig(),
		Discord:      NewDiscordConfig(),
		Games:        make(map[string]string),
		PlayRequests: NewPlayRequestConfig(),
		Storage:      NewStorageConfig(),
		Metrics:      NewMetricsConfig(),
		Admin:        NewAdminConfig(),
	}
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	cfgCopy.Logger = c.Logger.Clone()
	cfgCopy.Discord = c.Discord.Clone()
	cfgCopy.Games = make(map[string]string, len(c.Games))
	for k, v := range c.Games {
		cfgCopy.Games[k] = v
	}
	cfgCopy.PlayRequests = c.PlayRequests.Clone()
	cfgCopy.Storage = c.Storage.Clone()
	cfgCopy.Metrics = c.Metrics.Clone()
	cfgCopy.Admin = c.Admin.Clone()
	return &cfgCopy
}

// LoggerConfig is configuration relevant to logging levels and output.
type LoggerConfig struct {
	Level      string `yaml:"level" json:"level" env:"LOG_LEVEL" usage:"Log level to set. Valid values are 'debug', 'info', 'warn', 'error'. Default 'info'." validate:"oneof=debug info warn error"`
	Stdout     bool   `yaml:"stdout" json:"stdout" usage:"Log to standard console output (as well as to a log file if set). Default true."`
	File       string `yaml:"file" json:"file" usage:"Log output to a file (as well as stdout if set). Make sure that the directory and the file is writable."`
	Rotation   bool   `yaml:"rotation" json:"rotation" usage:"Rotate log files. Default is false."`
	MaxSize    int    `yaml:"max_size" json:"max_size" usage:"The maximum size in megabytes of the log file before it gets rotated. It defaults to 100 megabytes."`
	MaxAge     int    `yaml:"max_age" json:"max_age" usage:"The maximum number of days to retain old log files based on the timestamp encoded in their filename. The default is not to remove old log files based on age."`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" usage:"The maximum number of old log files to retain. The default is to retain all old log files (though MaxAge may still cause them to get deleted.)"`
	LocalTime  bool   `yaml:"local_time" json:"local_time" usage:"This determines if the time used for formatting the timestamps in backup files is the computer's local time. The default is to use UTC time."`
	Compress   bool   `yaml:"compress" json:"compress" usage:"This determines if the rotated log files should be compressed using gzip."`
	Format     string `yaml:"format" json:"format" usage:"Set logging output format. Can either be 'JSON' or 'Stackdriver'. Default is 'JSON'."`
}

func NewLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:   "info",
		Stdout:  true,
		MaxSize: 100,
		Format:  "json",
	}
}

func (c *LoggerConfig) Clone() *LoggerConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}

// DiscordConfig holds the bot credentials and the channels it posts to.
type DiscordConfig struct {
	Token                 string   `yaml:"token" json:"token" env:"DISCORD_TOKEN" usage:"Discord bot token." validate:"required"`
	ApplicationID         string   `yaml:"application_id" json:"application_id" env:"DISCORD_APPLICATION_ID" usage:"Discord application ID used to register slash commands."`
	GuildID               string   `yaml:"guild_id" json:"guild_id" env:"DISCORD_GUILD_ID" usage:"Register commands in this guild only. Empty registers them globally."`
	NotificationChannelID string   `yaml:"notification_channel_id" json:"notification_channel_id" env:"NOTIFICATION_CHANNEL_ID" usage:"Channel where new play requests are posted." validate:"required"`
	ReportChannelID       string   `yaml:"report_channel_id" json:"report_channel_id" env:"REPORT_CHANNEL_ID" usage:"Channel where reports are relayed to moderators." validate:"required"`
	LogChannelID          string   `yaml:"log_channel_id" json:"log_channel_id" env:"LOG_CHANNEL_ID" usage:"Audit log channel. Empty disables audit messages."`
	RequestMenuChannelID  string   `yaml:"request_menu_channel_id" json:"request_menu_channel_id" usage:"Channel where /requestmenu posts the menu. Empty posts it in the invoking channel."`
	RequestMenuTitle      string   `yaml:"request_menu_title" json:"request_menu_title" usage:"Title of the request menu embed."`
	ModeratorRoleIDs      []string `yaml:"moderator_role_ids" json:"moderator_role_ids" usage:"Members with any of these roles may moderate play requests."`
	StatusIntervalSec     int      `yaml:"status_interval_sec" json:"status_interval_sec" usage:"Seconds between bot presence updates. 0 disables them. Default 60."`
}

func NewDiscordConfig() *DiscordConfig {
	return &DiscordConfig{
		RequestMenuTitle:  "Play Request Menu",
		ModeratorRoleIDs:  []string{},
		StatusIntervalSec: 60,
	}
}

func (c *DiscordConfig) Clone() *DiscordConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	cfgCopy.ModeratorRoleIDs = append([]string(nil), c.ModeratorRoleIDs...)
	return &cfgCopy
}

// PlayRequestConfig controls how play requests are resolved and throttled.
type PlayRequestConfig struct {
	AcceptThreshold       int  `yaml:"accept_threshold" json:"accept_threshold" usage:"Accepts needed before a request shows as accepted. Default 1." validate:"gte=1"`
	DenyThreshold         int  `yaml:"deny_threshold" json:"deny_threshold" usage:"Denies needed before a request shows as denied. Default 1." validate:"gte=1"`
	DMRequesterOnCreate   bool `yaml:"dm_requester_on_create" json:"dm_requester_on_create" usage:"Send the requester a preview of the posted request. Default true."`
	DMRequesterOnResponse bool `yaml:"dm_requester_on_response" json:"dm_requester_on_response" usage:"Message the requester when someone accepts or denies. Default true."`
	SubmitIntervalSec     int  `yaml:"submit_interval_sec" json:"submit_interval_sec" usage:"Seconds a user must wait between requests once the burst is spent. 0 disables rate limiting. Default 60." validate:"gte=0"`
	SubmitBurst           int  `yaml:"submit_burst" json:"submit_burst" usage:"Requests a user may make back to back. Default 2." validate:"gte=0"`
	RequestTTLSec         int  `yaml:"request_ttl_sec" json:"request_ttl_sec" usage:"Requests older than this are ended automatically. 0 keeps them until ended. Default 0." validate:"gte=0"`
	ExpiryIntervalSec     int  `yaml:"expiry_interval_sec" json:"expiry_interval_sec" usage:"Seconds between sweeps that expire old requests and drop idle rate limiters. Default 300." validate:"gte=1"`
}

func NewPlayRequestConfig() *PlayRequestConfig {
	return &PlayRequestConfig{
		AcceptThreshold:       1,
		DenyThreshold:         1,
		DMRequesterOnCreate:   true,
		DMRequesterOnResponse: true,
		SubmitIntervalSec:     60,
		SubmitBurst:           2,
		RequestTTLSec:         0,
		ExpiryIntervalSec:     300,
	}
}

func (c *PlayRequestConfig) Clone() *PlayRequestConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}

func (c *PlayRequestConfig) Thresholds() StatusThresholds {
	return StatusThresholds{Accept: c.AcceptThreshold, Deny: c.DenyThreshold}
}

func (c *PlayRequestConfig) GetRequestTTL() time.Duration {
	return time.Duration(c.RequestTTLSec) * time.Second
}

func (c *PlayRequestConfig) GetExpiryInterval() time.Duration {
	return time.Duration(c.ExpiryIntervalSec) * time.Second
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend         string `yaml:"backend" json:"backend" env:"STORAGE_BACKEND" usage:"Persistence backend. One of 'file', 'sqlite', 'postgres'. Default 'file'." validate:"oneof=file sqlite postgres"`
	BanFile         string `yaml:"ban_file" json:"ban_file" usage:"Ban list JSON file for the file backend. Defaults to <data_dir>/ban.json."`
	PlayRequestFile string `yaml:"play_request_file" json:"play_request_file" usage:"Play request JSON file for the file backend. Defaults to <data_dir>/playRequests.json."`
	SQLitePath      string `yaml:"sqlite_path" json:"sqlite_path" usage:"SQLite database file for the sqlite backend. Defaults to <data_dir>/playbot.db."`
	PostgresDSN     string `yaml:"postgres_dsn" json:"postgres_dsn" env:"POSTGRES_DSN" usage:"Connection string for the postgres backend."`
}

func NewStorageConfig() *StorageConfig {
	return &StorageConfig{
		Backend: StorageBackendFile,
	}
}

func (c *StorageConfig) Clone() *StorageConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}

// MetricsConfig is configuration relevant to metrics capturing and output.
type MetricsConfig struct {
	ReportingFreqSec int    `yaml:"reporting_freq_sec" json:"reporting_freq_sec" usage:"Frequency of metrics exports. Default is 60 seconds." validate:"gte=1"`
	Namespace        string `yaml:"namespace" json:"namespace" usage:"Namespace for Prometheus metrics. It will always prepend node name."`
	PrometheusPort   int    `yaml:"prometheus_port" json:"prometheus_port" usage:"Port to expose Prometheus. If '0' Prometheus exports are disabled."`
	Prefix           string `yaml:"prefix" json:"prefix" usage:"Prefix for metric names. Default is 'playbot', empty string '' disables the prefix."`
}

func NewMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		ReportingFreqSec: 60,
		Prefix:           "playbot",
	}
}

func (c *MetricsConfig) Clone() *MetricsConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}

// AdminConfig configures the read-only admin HTTP API.
type AdminConfig struct {
	Address    string `yaml:"address" json:"address" usage:"Interface the admin API listens on. Default all interfaces."`
	Port       int    `yaml:"port" json:"port" usage:"Admin API port. If '0' the admin API is disabled." validate:"gte=0,lte=65535"`
	SigningKey string `yaml:"signing_key" json:"signing_key" env:"ADMIN_SIGNING_KEY" usage:"HMAC key used to verify admin API bearer tokens. Required when the admin API is enabled."`
}

func NewAdminConfig() *AdminConfig {
	return &AdminConfig{}
}

func (c *AdminConfig) Clone() *AdminConfig {
	if c == nil {
		return nil
	}
	cfgCopy := *c
	return &cfgCopy
}

// envPrefix is prepended to every env tag in the Config tree.
const envPrefix = "PLAYBOT_"

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// ParseArgs builds the configuration from defaults, the YAML file named by --config,
// the environment, and finally the remaining command line flags.
func ParseArgs(logger *zap.Logger, args []string) (*Config, error) {
	fs := flag.NewFlagSet("playbot", flag.ContinueOnError)
	configPath := fs.String("config", "", "The absolute file path to the configuration YAML file.")
	logLevel := fs.String("logger.level", "", "Log level to set. Overrides the config file.")
	dataDir := fs.String("data_dir", "", "Folder where the bot stores its data. Overrides the config file.")

	if len(args) > 1 {
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
	}

	cfg := NewConfig()
	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
		logger.Info("Loaded config file", zap.String("path", *configPath))
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadGames reads only the game catalog from the config file.
func LoadGames(path string) (map[string]string, error) {
	cfg := NewConfig()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg.Games, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("could not parse config file: %w", err)
	}
	c.Config = path
	return nil
}

// applyEnv overrides the fields tagged with env from PLAYBOT_* variables.
func (c *Config) applyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Games == nil {
		c.Games = make(map[string]string)
	}
	c.Logger.Level = strings.ToLower(c.Logger.Level)
	if c.Storage.BanFile == "" {
		c.Storage.BanFile = filepath.Join(c.DataDir, "ban.json")
	}
	if c.Storage.PlayRequestFile == "" {
		c.Storage.PlayRequestFile = filepath.Join(c.DataDir, "playRequests.json")
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.DataDir, "playbot.db")
	}
}

// Validate checks field constraints and the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := ValidateGameNames(c.Games); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Backend == StorageBackendPostgres && c.Storage.PostgresDSN == "" {
		return errors.New("invalid config: storage.postgres_dsn is required for the postgres backend")
	}
	if c.Admin.Port != 0 && len(c.Admin.SigningKey) < 16 {
		return errors.New("invalid config: admin.signing_key must be at least 16 characters when the admin API is enabled")
	}
	if c.Metrics.PrometheusPort != 0 && c.Metrics.PrometheusPort == c.Admin.Port {
		return errors.New("invalid config: metrics.prometheus_port and admin.port must differ")
	}
	return nil
}
