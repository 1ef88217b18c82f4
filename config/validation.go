// config/validation.go
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// DefaultMissionEpoch is the launch date, used as the earliest window start
// for a feed that has never been polled.
var DefaultMissionEpoch = time.Date(2025, 9, 24, 0, 0, 0, 0, time.UTC)

// ApplyDefaults fills unset fields and resolves the string-typed durations
// and dates into their parsed counterparts.
func ApplyDefaults(cfg *Config) error {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		cfg.Database.Path = "imap.db"
	}
	if cfg.Database.Driver == "mysql" && cfg.Database.Port == "" {
		cfg.Database.Port = "3306"
	}
	if cfg.Datastore.SoftwareVersion == "" {
		cfg.Datastore.SoftwareVersion = "dev"
	}
	if cfg.Datastore.HashCacheSize == 0 {
		cfg.Datastore.HashCacheSize = 4096
	}
	if cfg.Datastore.Lock.Backend == "" {
		cfg.Datastore.Lock.Backend = "local"
	}
	if cfg.Datastore.Lock.Prefix == "" {
		cfg.Datastore.Lock.Prefix = "imap:lock:"
	}

	var err error
	if cfg.Datastore.Lock.TTL, err = parseDurationField("datastore.lock.ttl", cfg.Datastore.Lock.TTLStr, 2*time.Minute); err != nil {
		return err
	}

	if cfg.Window.MissionEpochStr == "" {
		cfg.Window.MissionEpoch = DefaultMissionEpoch
	} else {
		epoch, err := utils.ParseDate(cfg.Window.MissionEpochStr)
		if err != nil {
			return fmt.Errorf("failed to parse window.mission_epoch: %w", err)
		}
		cfg.Window.MissionEpoch = epoch
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Poll.Concurrency == 0 {
		cfg.Poll.Concurrency = 4
	}
	for i := range cfg.Poll.Feeds {
		f := &cfg.Poll.Feeds[i]
		if f.Timeout, err = parseDurationField(fmt.Sprintf("poll.feeds[%d].timeout", i), f.TimeoutStr, 30*time.Second); err != nil {
			return err
		}
	}

	for i := range cfg.Cleanup.Tasks {
		t := &cfg.Cleanup.Tasks[i]
		if t.FilesOlderThan, err = parseDurationField(fmt.Sprintf("cleanup.tasks[%d].files_older_than", i), t.FilesOlderThanStr, 30*24*time.Hour); err != nil {
			return err
		}
	}
	if cfg.Cleanup.MaxFileOperations == 0 {
		cfg.Cleanup.MaxFileOperations = 100
	}

	if cfg.Replication.ProgressItem == "" {
		cfg.Replication.ProgressItem = "file-replication"
	}
	if cfg.Replication.BatchSize == 0 {
		cfg.Replication.BatchSize = 1000
	}
	return nil
}

// Validate checks struct tags first, then the cross-field rules tags
// cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Database.Driver == "mysql" && (cfg.Database.Host == "" || cfg.Database.DBName == "") {
		return fmt.Errorf("database: host and dbname are required for mysql")
	}

	if cfg.Datastore.Lock.Backend == "redis" && cfg.Datastore.Lock.RedisAddress == "" {
		return fmt.Errorf("datastore.lock: redis_address is required for the redis backend")
	}

	names := make(map[string]bool)
	for i, f := range cfg.Poll.Feeds {
		if names[f.Name] {
			return fmt.Errorf("poll.feeds[%d]: duplicate feed name %q", i, f.Name)
		}
		names[f.Name] = true
		if f.Pattern != "" {
			if _, err := regexp.Compile(f.Pattern); err != nil {
				return fmt.Errorf("poll.feeds[%d]: invalid pattern: %w", i, err)
			}
		}
	}

	for i, t := range cfg.Cleanup.Tasks {
		if t.CleanupMode != "archive" {
			continue
		}
		if t.ArchiveToS3 {
			if cfg.S3.Bucket == "" {
				return fmt.Errorf("cleanup.tasks[%d]: archive_to_s3 requires s3.bucket", i)
			}
		} else if t.ArchiveFolder == "" {
			return fmt.Errorf("cleanup.tasks[%d]: archive mode requires archive_folder", i)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
