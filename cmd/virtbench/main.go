// Command virtbench manages the test catalog and plans virtualization test
// runs.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/virtbench/virtbench/internal/catalog"
	"github.com/virtbench/virtbench/internal/config"
	"github.com/virtbench/virtbench/internal/repository/etcd"
	"github.com/virtbench/virtbench/internal/repository/postgres"
	"github.com/virtbench/virtbench/internal/repository/redis"
	"github.com/virtbench/virtbench/internal/runner"
	"github.com/virtbench/virtbench/internal/scheduler"
)

var configPath string

func main() {
	app := cli.NewApp()
	app.Name = "virtbench"
	app.Usage = "resource-aware virtualization test run scheduler"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "config file path, in yaml",
			Destination: &configPath,
			EnvVars:     []string{"VIRTBENCH_CONFIG"},
		},
	}
	app.Commands = []*cli.Command{
		hostCommand(),
		subjectCommand(),
		vendorCommand(),
		osTypeCommand(),
		imageCommand(),
		testCommand(),
		planCommand(),
		prepCommand(),
		queueCommand(),
		runsCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env bundles everything a subcommand needs. Redis and etcd are connected
// lazily because catalog commands only touch the database.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *postgres.DB
	catalog  *catalog.Service
	schedule *postgres.ScheduleRepository
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	db, err := postgres.NewDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		catalog:  catalog.NewService(postgres.NewCatalogRepository(db, logger), logger),
		schedule: postgres.NewScheduleRepository(db, logger),
	}, nil
}

func (e *env) close() {
	e.db.Close()
	_ = e.logger.Sync()
}

// newRunner connects the queue and the lock service and builds a runner.
// The returned cleanup closes both.
func (e *env) newRunner(ctx context.Context) (*runner.Runner, func(), error) {
	queue, err := redis.NewQueue(e.cfg.Redis, e.cfg.Queue, e.logger)
	if err != nil {
		return nil, nil, err
	}
	locks, err := etcd.NewClient(e.cfg.Etcd, e.cfg.Runner.LockTTLSec, e.logger)
	if err != nil {
		queue.Close()
		return nil, nil, err
	}

	adapter := etcdLocker{locks}
	r := runner.New(e.schedule, e.cfg.Scheduler, e.cfg.Runner, adapter, queue, adapter, e.logger)
	cleanup := func() {
		_ = locks.Close()
		_ = queue.Close()
	}
	return r, cleanup, nil
}

// queueEnv connects only the run queue, for commands on the consumer side.
func queueEnv() (*redis.Queue, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogger(cfg.Logging)
	queue, err := redis.NewQueue(cfg.Redis, cfg.Queue, logger)
	if err != nil {
		return nil, nil, err
	}
	return queue, logger, nil
}

// locksEnv connects only the lock service, for run-marker inspection.
func locksEnv() (*etcd.Client, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogger(cfg.Logging)
	locks, err := etcd.NewClient(cfg.Etcd, cfg.Runner.LockTTLSec, logger)
	if err != nil {
		return nil, nil, err
	}
	return locks, logger, nil
}

// etcdLocker adapts the etcd client to the runner's lock and run-marker
// interfaces.
type etcdLocker struct {
	client *etcd.Client
}

func (l etcdLocker) TryAcquireLock(ctx context.Context, key string, timeout time.Duration) (runner.Lock, error) {
	return l.client.TryAcquireLock(ctx, key, timeout)
}

func (l etcdLocker) RecordRun(ctx context.Context, hostname string, run *scheduler.Run) error {
	return l.client.PutRunMarker(ctx, hostname, etcd.RunMarker{
		RunID:  run.ID,
		Host:   run.Host.Name,
		Guests: len(run.Guests),
	})
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
