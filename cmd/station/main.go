package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/juju/clock"

	"github.com/256dpi/wxstation/pkg/config"
	"github.com/256dpi/wxstation/pkg/flash"
	"github.com/256dpi/wxstation/pkg/mdns"
	"github.com/256dpi/wxstation/pkg/mqtt"
	"github.com/256dpi/wxstation/pkg/ota"
	"github.com/256dpi/wxstation/pkg/sensor"
	"github.com/256dpi/wxstation/pkg/station"
	"github.com/256dpi/wxstation/pkg/utils"
)

func main() {
	// parse command
	cmd := parseCommand()

	// set default pattern
	if cmd.aPattern == "" {
		cmd.aPattern = "*"
	}

	// run desired command
	if cmd.cRun {
		run(cmd, getConfig(cmd))
	} else if cmd.cUpdate {
		update(cmd, getConfig(cmd))
	} else if cmd.cStatus {
		status(cmd, getConfig(cmd))
	} else if cmd.cDiscover {
		discover(cmd)
	}
}

func run(_ *command, cfg *config.Config) {
	// prepare logger
	logger := getLogger(cfg)

	// prepare context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// open storage
	storage := openStorage(cfg)

	// connect broker
	client, err := mqtt.Dial(cfg.Broker, cfg.Name, 1, logger)
	exitIfSet(err)
	defer client.Close()

	// prepare resetter
	var rebooted atomic.Bool
	resetter := ota.ResetFunc(func() {
		rebooted.Store(true)
		cancel()
	})

	// prepare station config
	stationConfig := station.Config{
		Base:          cfg.Base(client.Base()),
		Counters:      &station.Counters{},
		Window:        cfg.Sleep.Active,
		SleepInterval: cfg.Sleep.Interval,
		Publisher:     client,
		Logger:        logger,
	}

	// prepare updater
	if cfg.Update.Enabled() {
		stationConfig.Updater = newUpdater(cfg, storage, resetter, logger)
		stationConfig.UpdateEvery = cfg.Update.Every
	}

	// open sensors
	if cfg.Sensors.Enabled {
		closer := openSensors(ctx, cfg, &stationConfig, logger)
		defer closer()
	}

	// create station
	st, err := station.New(stationConfig)
	exitIfSet(err)

	utils.Log(os.Stdout, fmt.Sprintf("Running station %q...", cfg.Name))

	// run station
	err = st.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		exitIfSet(err)
	}

	// show boot record after update
	if rebooted.Load() {
		boot, err := storage.Boot()
		exitIfSet(err)
		utils.Log(os.Stdout, fmt.Sprintf("Rebooting into slot %d (%s, crc %d)...", boot.Slot, bytefmt.ByteSize(uint64(boot.Size)), boot.Checksum))
		return
	}

	utils.Log(os.Stdout, "Stopped.")
}

func update(_ *command, cfg *config.Config) {
	// check config
	if !cfg.Update.Enabled() {
		exitWithError("updates are not configured")
	}

	// prepare logger
	logger := getLogger(cfg)

	// prepare context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// open storage
	storage := openStorage(cfg)

	// run update
	var rebooted bool
	u := newUpdater(cfg, storage, ota.ResetFunc(func() {
		rebooted = true
	}), logger)
	session, err := u.Run(ctx)

	// prepare table
	tbl := newTable("STATE", "SIZE", "WRITTEN", "CHECKSUM", "ERROR")

	// add row
	if session != nil {
		errStr := ""
		if err != nil {
			errStr = err.Error()
		}
		tbl.add(session.State.String(), bytefmt.ByteSize(uint64(session.ExpectedSize)), bytefmt.ByteSize(uint64(session.BytesWritten)), strconv.FormatUint(uint64(session.TargetChecksum), 10), errStr)
		tbl.print()
	}

	// check result
	if errors.Is(err, ota.ErrNoUpdate) {
		utils.Log(os.Stdout, "No update available.")
		return
	}
	exitIfSet(err)

	if rebooted {
		utils.Log(os.Stdout, "Update applied, restart to boot the new image.")
	}
}

func status(_ *command, cfg *config.Config) {
	// open storage
	storage := openStorage(cfg)

	// get boot record
	boot, err := storage.Boot()
	exitIfSet(err)

	// verify image
	valid := "yes"
	err = storage.Verify()
	if err != nil {
		valid = err.Error()
	}

	// prepare table
	tbl := newTable("SLOT", "SIZE", "CHECKSUM", "UPDATED", "VALID")

	// add row
	updated := "never"
	if !boot.Updated.IsZero() {
		updated = boot.Updated.Local().Format(time.RFC3339)
	}
	tbl.add(strconv.Itoa(boot.Slot), bytefmt.ByteSize(uint64(boot.Size)), strconv.FormatUint(uint64(boot.Checksum), 10), updated, valid)

	// show table
	tbl.print()
}

func discover(cmd *command) {
	// discover publishers
	list, err := mdns.Discover(cmd.oTimeout, cmd.aPattern)
	exitIfSet(err)

	// prepare table
	tbl := newTable("INSTANCE", "URL", "SIZE", "CHECKSUM")

	// add rows
	for _, loc := range list {
		size, _ := strconv.ParseUint(loc.Text["size"], 10, 64)
		tbl.add(loc.Instance, loc.URL(), bytefmt.ByteSize(size), loc.Text["crc"])
	}

	// show table
	tbl.print()

	// show info
	fmt.Printf("\nFound %d publishers.\n", len(list))
}

func openStorage(cfg *config.Config) *flash.Storage {
	// get partition size
	size, err := cfg.Flash.PartitionBytes()
	exitIfSet(err)

	// open storage
	storage, err := flash.Open(cfg.Flash.Dir, size)
	exitIfSet(err)

	return storage
}

func openSensors(ctx context.Context, cfg *config.Config, sc *station.Config, logger *slog.Logger) func() {
	// watch pulse inputs
	watchPulses(ctx, "rain", cfg.Sensors.RainPin, cfg.Sensors.Debounce, sc.Counters.AddRain, logger)
	watchPulses(ctx, "speed", cfg.Sensors.SpeedPin, cfg.Sensors.Debounce, sc.Counters.AddRotation, logger)

	// open bus
	bus, err := sensor.OpenBus(cfg.Sensors.Bus)
	if err != nil {
		logger.Error("failed to open sensor bus", "error", err)
		return func() {}
	}

	// open climate sensor
	climate, err := sensor.NewClimate(bus, cfg.Sensors.Climate)
	if err != nil {
		logger.Error("failed to open climate sensor", "error", err)
	} else {
		sc.Climate = climate
	}

	// open battery monitor
	battery, err := sensor.NewBattery(bus, cfg.Sensors.Battery)
	if err != nil {
		logger.Error("failed to open battery monitor", "error", err)
	} else {
		sc.Battery = battery
	}

	// open wind vane
	sc.Vane = sensor.NewVane(bus, cfg.Sensors.Wind)

	return func() {
		if climate != nil {
			_ = climate.Close()
		}
		_ = bus.Close()
	}
}

func watchPulses(ctx context.Context, name, pinName string, debounce time.Duration, count func(), logger *slog.Logger) {
	// check pin
	if pinName == "" {
		return
	}

	// open pin
	pin, err := sensor.OpenPin(pinName)
	if err != nil {
		logger.Error("failed to open pulse pin", "input", name, "pin", pinName, "error", err)
		return
	}

	// run watcher
	go func() {
		err := sensor.WatchPulses(ctx, pin, clock.WallClock, debounce, count)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("pulse watcher failed", "input", name, "pin", pinName, "error", err)
		}
	}()
}
