package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/compozy/gitdeck/internal/cache"
	"github.com/compozy/gitdeck/internal/config"
	"github.com/compozy/gitdeck/internal/events"
	"github.com/compozy/gitdeck/internal/logger"
	"github.com/compozy/gitdeck/internal/orchestrator"
	"github.com/compozy/gitdeck/internal/repository"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// container holds all the dependencies for the application.
type container struct {
	cfg    *config.Config
	logger *zap.Logger

	registry *repository.FileRegistry
	adapter  *repository.GitCLIAdapter
	engine   *orchestrator.Engine
}

// newContainer creates a new container with all the dependencies.
func newContainer(ctx context.Context) (*container, error) {
	cfg, err := config.LoadConfig(os.Getenv(config.EnvPrefix + "_CONFIG"))
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	fs := afero.NewOsFs()
	registry, err := repository.NewFileRegistry(ctx, fs, cfg.RegistryFile, log.Named("registry"))
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	adapter := repository.NewGitCLIAdapter(cfg.GitBin, repository.ExecRunner{}, fs, log.Named("git"))

	statusCache := cache.NewStatusCache(cache.SystemClock)
	tracker := orchestrator.NewRebaseTracker()
	bus := events.NewBus(
		events.WithLogger(log.Named("events")),
		events.WithHandlerTimeout(cfg.HandlerTimeout),
	)
	executor := orchestrator.NewExecutor(adapter, registry, statusCache, tracker, bus,
		orchestrator.WithExecutorLogger(log.Named("executor")),
		orchestrator.WithOperationTimeout(cfg.OperationTimeout),
	)
	engine := orchestrator.NewEngine(registry, statusCache, tracker, bus, executor, log)

	return &container{
		cfg:      cfg,
		logger:   log,
		registry: registry,
		adapter:  adapter,
		engine:   engine,
	}, nil
}

// requireGit fails early when the configured git cannot produce porcelain v2 output.
func (c *container) requireGit(ctx context.Context) error {
	v, err := c.adapter.CheckVersion(ctx)
	if err != nil {
		return err
	}
	c.logger.Debug("git detected", zap.String("version", v.String()))
	return nil
}

// shutdown drains the executor and flushes the logger.
func (c *container) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), orchestrator.DefaultShutdownTimeout)
	defer cancel()
	if err := c.engine.Close(ctx); err != nil {
		c.logger.Warn("shutdown incomplete", zap.Error(err))
	}
	_ = c.logger.Sync()
}

// app is the container shared by every command of this process.
var app *container

// Shutdown releases the resources built by InitCommands.
func Shutdown() {
	if app != nil {
		app.shutdown()
	}
}

// InitCommands initializes all commands with their dependencies
func InitCommands() error {
	c, err := newContainer(context.Background())
	if err != nil {
		return err
	}
	app = c
	rootCmd.AddCommand(
		newReposCmd(c),
		newStatusCmd(c),
		newRefreshCmd(c),
		newRunCmd(c),
		newWatchCmd(c),
		newVersionCmd(c),
	)
	return nil
}
