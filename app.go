// app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/archive"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/config"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/database"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/hashcache"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/lock"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/scraper"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/services"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

// app holds everything a command needs, built once from the config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  utils.Clock

	db       *database.DB
	files    *database.FileStore
	progress *database.ProgressStore

	store    *datastore.IndexedStore
	resolver datastore.Resolver
	finder   *datastore.Finder

	window      *services.WindowService
	ingest      *services.IngestService
	cleanup     *services.CleanupService
	replication *services.ReplicationService

	closers []func() error
}

func buildApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, clock: utils.SystemClock{}}

	a.db, err = database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)

	a.files = database.NewFileStore(a.db, a.clock, logger)
	a.progress = database.NewProgressStore(a.db, logger)

	var hasher datastore.Hasher = datastore.MD5Hasher{}
	if cfg.Datastore.HashCachePath != "" {
		cache, err := hashcache.Open(cfg.Datastore.HashCachePath, cfg.Datastore.HashCacheSize, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("error opening hash cache: %w", err)
		}
		a.closers = append(a.closers, cache.Close)
		hasher = cache
	}

	locker, err := a.buildLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	root := cfg.Datastore.Root
	fs := datastore.NewFileStore(root, hasher, logger)
	a.store = datastore.NewIndexedStore(fs, a.files, datastore.IndexedStoreConfig{
		Root:            root,
		SoftwareVersion: cfg.Datastore.SoftwareVersion,
		Hasher:          hasher,
		Clock:           a.clock,
	}, logger)
	a.resolver = datastore.NewLockingStore(a.store, locker, logger)
	a.finder = datastore.NewFinder(root, logger)

	a.window = services.NewWindowService(a.progress, a.clock, cfg.Window.MissionEpoch, logger)
	a.ingest = services.NewIngestService(a.resolver, a.window, logger)
	if cfg.Datastore.PublishLatest {
		a.ingest.Latest = services.NewLatestPublisher(fs, logger)
	}
	a.cleanup = services.NewCleanupService(cfg.Cleanup, a.files, a.store, a.archiverFor, a.clock, logger)
	a.replication = services.NewReplicationService(a.files, a.progress, cfg.Replication.ProgressItem, cfg.Replication.BatchSize, a.clock, logger)
	return a, nil
}

func (a *app) buildLocker(ctx context.Context) (lock.Locker, error) {
	lc := a.cfg.Datastore.Lock
	if lc.Backend != "redis" {
		return lock.NewLocalLocker(), nil
	}

	rc := lock.DefaultRedisConfig(lc.RedisAddress)
	rc.Password = lc.RedisPassword
	rc.Database = lc.RedisDB
	rc.Prefix = lc.Prefix
	rc.TTL = lc.TTL
	locker, err := lock.NewRedisLocker(ctx, rc, a.logger)
	if err != nil {
		return nil, fmt.Errorf("error connecting to redis for locking: %w", err)
	}
	a.closers = append(a.closers, locker.Close)
	return locker, nil
}

// archiverFor builds the destination for a cleanup task in archive mode.
func (a *app) archiverFor(task config.CleanupTask) (datastore.Archiver, error) {
	if task.ArchiveToS3 {
		s3 := a.cfg.S3
		archiver, err := archive.NewS3Archiver(context.Background(), archive.S3Config{
			Bucket:          s3.Bucket,
			Prefix:          s3.Prefix,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			UsePathStyle:    s3.UsePathStyle,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return archiver, nil
	}

	folder := task.ArchiveFolder
	if !filepath.IsAbs(folder) {
		folder = filepath.Join(a.cfg.Datastore.Root, folder)
	}
	return archive.FolderArchiver{Root: folder, DatastoreRoot: a.cfg.Datastore.Root}, nil
}

// poller builds a listing source per configured feed.
func (a *app) poller() (*services.Poller, error) {
	sources := make([]services.Source, 0, len(a.cfg.Poll.Feeds))
	for _, f := range a.cfg.Poll.Feeds {
		src, err := scraper.NewListingSource(f.Name, f.URL, f.Pattern, f.Timeout, a.logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return services.NewPoller(sources, a.window, a.ingest, a.cfg.Poll.Concurrency, "", a.logger), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
