package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/juju/clock"

	"github.com/256dpi/wxstation/pkg/config"
	"github.com/256dpi/wxstation/pkg/flash"
	"github.com/256dpi/wxstation/pkg/mdns"
	"github.com/256dpi/wxstation/pkg/ota"
	"github.com/256dpi/wxstation/pkg/watchdog"
)

type updater struct {
	config   *config.Config
	storage  *flash.Storage
	resetter ota.Resetter
	logger   *slog.Logger
	agent    *ota.Agent
	watchdog atomic.Pointer[watchdog.Watchdog]
}

func newUpdater(cfg *config.Config, storage *flash.Storage, resetter ota.Resetter, logger *slog.Logger) *updater {
	// prepare updater
	u := &updater{
		config:   cfg,
		storage:  storage,
		resetter: resetter,
		logger:   logger,
	}

	// create static agent
	if cfg.Update.URL != "" {
		u.agent = u.newAgent(cfg.Update.URL)
	}

	return u
}

func (u *updater) Run(ctx context.Context) (*ota.Session, error) {
	// get agent
	agent := u.agent
	if agent == nil {
		url, err := u.discover()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ota.ErrNoUpdate, err)
		}
		agent = u.newAgent(url)
	}

	// arm watchdog
	wd := watchdog.New(clock.WallClock, u.config.Watchdog.Timeout, func() {
		u.logger.Error("watchdog expired during update")
		os.Exit(2)
	})
	u.watchdog.Store(wd)
	defer func() {
		wd.Stop()
		u.watchdog.Store(nil)
	}()

	// run agent
	session, err := agent.Run(ctx)
	if err != nil {
		// discard partial writes
		u.storage.Abort()
	}

	return session, err
}

func (u *updater) feed() {
	if wd := u.watchdog.Load(); wd != nil {
		wd.Feed()
	}
}

func (u *updater) newAgent(url string) *ota.Agent {
	// get max size
	maxSize, _ := u.config.Update.MaxBytes()

	return ota.NewAgent(ota.AgentConfig{
		URL:         url,
		ChunkSize:   u.config.Update.ChunkSize,
		Timeout:     u.config.Update.Timeout,
		MaxAttempts: u.config.Update.MaxAttempts,
		MaxSize:     maxSize,
		Logger:      u.logger,
	}, u.storage, ota.WatchdogFunc(u.feed), u.resetter)
}

func (u *updater) discover() (string, error) {
	// discover publishers
	locations, err := mdns.Discover(u.config.Update.Timeout, u.config.Update.Pattern)
	if err != nil {
		return "", err
	} else if len(locations) == 0 {
		return "", fmt.Errorf("no publisher found")
	}

	u.logger.Info("discovered publisher", "instance", locations[0].Instance, "url", locations[0].URL())

	return locations[0].URL(), nil
}
