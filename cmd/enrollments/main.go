package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-records/internal/repository"
	"github.com/noah-isme/enrollment-records/internal/service"
	"github.com/noah-isme/enrollment-records/pkg/cache"
	"github.com/noah-isme/enrollment-records/pkg/config"
	"github.com/noah-isme/enrollment-records/pkg/database"
	appErrors "github.com/noah-isme/enrollment-records/pkg/errors"
	"github.com/noah-isme/enrollment-records/pkg/logger"
	"github.com/noah-isme/enrollment-records/pkg/response"
	"github.com/noah-isme/enrollment-records/pkg/storage"
)

const (
	exitOK       = 0
	exitInternal = 1
	exitUsage    = 2
	exitNotFound = 3
)

type usageError struct {
	msg string
}

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// app bundles the wired services a subcommand operates on.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	metrics     *service.MetricsService
	enrollments *service.EnrollmentService
	exports     *service.ExportService
	migrate     func(ctx context.Context) error
	closers     []func() error
}

func (a *app) Close() {
	if a.metrics != nil && a.logger != nil {
		snap := a.metrics.Snapshot()
		a.logger.Debug("command metrics",
			zap.Uint64("operations", snap.Operations),
			zap.Uint64("db_queries", snap.DBQueryCount),
			zap.Float64("avg_db_query_ms", snap.AverageDBQueryDurationMs),
			zap.Uint64("cache_hits", snap.CacheHits),
			zap.Uint64("cache_misses", snap.CacheMisses),
			zap.Uint64("exports", snap.Exports),
		)
	}
	if a.metrics != nil && a.cfg != nil {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
			a.logger.Warn("write metrics textfile failed", zap.String("path", a.cfg.Metrics.TextfilePath), zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// cli carries process streams and the infrastructure factory.
type cli struct {
	stdout  io.Writer
	stderr  io.Writer
	openApp func(ctx context.Context) (*app, error)
}

type command struct {
	summary string
	run     func(c *cli, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"describe": {"print the descriptive string of a record built from flags or loaded by -id", runDescribe},
	"create":   {"store a new record", runCreate},
	"get":      {"print a stored record", runGet},
	"list":     {"list stored records", runList},
	"update":   {"replace all fields of a stored record", runUpdate},
	"delete":   {"remove a stored record", runDelete},
	"export":   {"render stored records to csv, pdf or all", runExport},
	"cleanup":  {"remove rendered exports older than a TTL", runCleanup},
	"migrate":  {"create the enrollments table", runMigrate},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	c := &cli{stdout: os.Stdout, stderr: os.Stderr, openApp: openApp}
	code := c.run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		c.usage()
		return exitUsage
	}
	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		c.usage()
		return exitOK
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(c.stderr, "unknown command %q\n\n", name)
		c.usage()
		return exitUsage
	}
	return c.exitCode(cmd.run(c, ctx, args[1:]))
}

func (c *cli) usage() {
	fmt.Fprintln(c.stderr, "usage: enrollments <command> [flags]")
	fmt.Fprintln(c.stderr)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.stderr, "  %-9s %s\n", name, commands[name].summary)
	}
}

func (c *cli) exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	var usage usageError
	if errors.As(err, &usage) {
		fmt.Fprintln(c.stderr, usage.msg)
		return exitUsage
	}
	appErr := response.Error(c.stderr, err)
	switch appErr.Status {
	case http.StatusNotFound:
		return exitNotFound
	case http.StatusBadRequest:
		return exitUsage
	default:
		return exitInternal
	}
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logr}
	a.closers = append(a.closers, func() error { _ = logr.Sync(); return nil })

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		a.Close()
		return nil, appErrors.Internal(err, "failed to connect to database")
	}
	a.closers = append(a.closers, db.Close)

	a.metrics = service.NewMetricsService()
	repo := repository.NewEnrollmentRepository(db)

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, cache disabled", zap.String("addr", cache.Addr(cfg.Redis)), zap.Error(err))
		} else {
			redisRepo := repository.NewCacheRepository(client, logr)
			a.closers = append(a.closers, redisRepo.Close)
			cacheRepo = redisRepo
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, a.metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled && cacheRepo != nil)

	store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.enrollments = service.NewEnrollmentService(repo, cacheSvc, a.metrics, logr)
	a.exports = service.NewExportService(repo, store, service.ExportConfig{
		ResultTTL: cfg.Exports.ResultTTL,
		Formats:   cfg.Exports.Formats,
	}, a.metrics, logr, nil, nil)
	a.migrate = repo.Migrate

	logr.Debug("enrollments cli ready",
		zap.String("env", cfg.Env),
		zap.Bool("cache", cacheSvc.Enabled()),
		zap.String("exports_dir", cfg.Exports.StorageDir),
	)
	return a, nil
}
