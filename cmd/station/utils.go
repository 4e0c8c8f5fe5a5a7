package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/256dpi/wxstation/pkg/config"
	"github.com/256dpi/wxstation/pkg/utils"
)

func exitIfSet(errs ...error) {
	for _, err := range errs {
		if err != nil {
			exitWithError(err.Error())
		}
	}
}

func exitWithError(str string) {
	_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", str)
	os.Exit(1)
}

func getConfig(cmd *command) *config.Config {
	cfg, err := config.Load(cmd.oConfig)
	exitIfSet(err)

	return cfg
}

func getLogger(cfg *config.Config) *slog.Logger {
	level, err := utils.ParseLevel(cfg.LogLevel)
	exitIfSet(err)

	return utils.NewLogger(os.Stderr, level, false).With("station", cfg.Name)
}
