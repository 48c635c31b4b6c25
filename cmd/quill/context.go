package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"quill/internal/config"
	"quill/internal/events"
	"quill/internal/fetch"
	"quill/internal/library"
	"quill/internal/logging"
	"quill/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the library database for read-mostly commands that do
// not need the coordinator running.
func (c *commandContext) withStore(fn func(cfg *config.Config, st *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open library store: %w", err)
	}
	defer st.Close()
	return fn(cfg, st)
}

// runtime bundles the started library coordinator with its
// collaborators for commands that mutate or fetch.
type runtime struct {
	cfg     *config.Config
	store   *store.Store
	bus     *events.Bus
	library *library.Manager
	logger  *slog.Logger
}

// withRuntime acquires the single-instance lock, starts the library
// coordinator, runs fn, and tears everything down in reverse order.
func (c *commandContext) withRuntime(ctx context.Context, fn func(rt *runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another quill instance is already running (lock %s)", cfg.LockPath())
	}
	defer lock.Unlock() //nolint:errcheck

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open library store: %w", err)
	}
	defer st.Close()

	bus := events.NewBus()
	defer bus.Close()

	manager := library.NewManager(cfg, st, fetch.New(cfg), bus, logger)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start library coordinator: %w", err)
	}
	defer manager.Stop()

	return fn(&runtime{
		cfg:     cfg,
		store:   st,
		bus:     bus,
		library: manager,
		logger:  logger,
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
