// config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" validate:"required,oneof=mysql sqlite"`
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	Path         string `yaml:"path"` // sqlite file
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

type LockConfig struct {
	Backend       string        `yaml:"backend" validate:"omitempty,oneof=local redis"`
	RedisAddress  string        `yaml:"redis_address"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
	Prefix        string        `yaml:"prefix"`
	TTLStr        string        `yaml:"ttl"`
	TTL           time.Duration `yaml:"-"`
}

type DatastoreConfig struct {
	Root            string     `yaml:"root" validate:"required"`
	SoftwareVersion string     `yaml:"software_version" validate:"max=16"`
	HashCachePath   string     `yaml:"hash_cache_path"` // empty disables the on-disk digest cache
	HashCacheSize   int        `yaml:"hash_cache_size" validate:"gte=0"`
	PublishLatest   bool       `yaml:"publish_latest"` // keep quicklook/<plot>/latest.<ext> current
	Lock            LockConfig `yaml:"lock"`
}

type WindowConfig struct {
	MissionEpochStr string    `yaml:"mission_epoch"`
	MissionEpoch    time.Time `yaml:"-"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// FeedConfig describes one HTTP directory listing polled for new files.
type FeedConfig struct {
	Name       string        `yaml:"name" validate:"required"`
	URL        string        `yaml:"url" validate:"required,url"`
	Pattern    string        `yaml:"pattern"` // regexp on link names; empty accepts any selectable file
	TimeoutStr string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

type PollConfig struct {
	Concurrency int          `yaml:"concurrency" validate:"gte=0"`
	Feeds       []FeedConfig `yaml:"feeds" validate:"dive"`
}

type CleanupTask struct {
	Name                  string        `yaml:"name" validate:"required"`
	PathsToMatch          []string      `yaml:"paths_to_match" validate:"required,min=1"`
	FilesOlderThanStr     string        `yaml:"files_older_than"`
	FilesOlderThan        time.Duration `yaml:"-"`
	KeepLatestVersionOnly bool          `yaml:"keep_latest_version_only"`
	CleanupMode           string        `yaml:"cleanup_mode" validate:"required,oneof=delete archive"`
	ArchiveFolder         string        `yaml:"archive_folder"`
	ArchiveToS3           bool          `yaml:"archive_to_s3"`
}

type CleanupConfig struct {
	DryRun            bool          `yaml:"dry_run"`
	MaxFileOperations int           `yaml:"max_file_operations" validate:"gte=0"`
	Tasks             []CleanupTask `yaml:"tasks" validate:"dive"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type WatchConfig struct {
	Folder            string `yaml:"folder"`
	RemoveAfterIngest bool   `yaml:"remove_after_ingest"`
}

type ReplicationConfig struct {
	ProgressItem string `yaml:"progress_item"`
	BatchSize    int    `yaml:"batch_size" validate:"gte=0"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Datastore   DatastoreConfig   `yaml:"datastore"`
	Window      WindowConfig      `yaml:"window"`
	Logging     LoggingConfig     `yaml:"logging"`
	Poll        PollConfig        `yaml:"poll"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
	S3          S3Config          `yaml:"s3"`
	Watch       WatchConfig       `yaml:"watch"`
	Replication ReplicationConfig `yaml:"replication"`
}

// DefaultConfigPaths are tried in order when no path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config/config.yaml",
}

// LoadConfig reads the YAML file at configPath (or the first default path
// that exists), loads a .env file if present, applies IMAP_* environment
// overrides and defaults, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		for _, p := range DefaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("config.yaml not found in standard locations")
		}
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(file)
}

// Parse decodes raw YAML and finishes the config the same way LoadConfig
// does.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	applyEnv(&cfg)

	if err := ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Datastore.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create datastore root %s: %w", cfg.Datastore.Root, err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString(&cfg.Database.Driver, "IMAP_DB_DRIVER")
	setString(&cfg.Database.Host, "IMAP_DB_HOST")
	setString(&cfg.Database.Port, "IMAP_DB_PORT")
	setString(&cfg.Database.User, "IMAP_DB_USER")
	setString(&cfg.Database.Password, "IMAP_DB_PASSWORD")
	setString(&cfg.Database.DBName, "IMAP_DB_NAME")
	setString(&cfg.Database.Path, "IMAP_DB_PATH")
	setString(&cfg.Datastore.Root, "IMAP_DATASTORE")
	setString(&cfg.Datastore.Lock.RedisAddress, "IMAP_REDIS_ADDRESS")
	setString(&cfg.Datastore.Lock.RedisPassword, "IMAP_REDIS_PASSWORD")
	setString(&cfg.Logging.Level, "IMAP_LOG_LEVEL")
	setString(&cfg.Server.Port, "IMAP_PORT")
	if v, ok := os.LookupEnv("IMAP_CLEANUP_DRY_RUN"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cleanup.DryRun = b
		}
	}
}

// FeedByName returns the configured feed with the given name.
func (c *Config) FeedByName(name string) (FeedConfig, bool) {
	for _, f := range c.Poll.Feeds {
		if f.Name == name {
			return f, true
		}
	}
	return FeedConfig{}, false
}

func parseDurationField(name, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := utils.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return d, nil
}
