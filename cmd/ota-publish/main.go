package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"

	"code.cloudfoundry.org/bytefmt"
	"github.com/docopt/docopt-go"

	"github.com/256dpi/wxstation/pkg/mdns"
	"github.com/256dpi/wxstation/pkg/ota"
	"github.com/256dpi/wxstation/pkg/utils"
)

var usage = `ota-publish - serve a firmware image to a single station

Usage:
  ota-publish --ip-addr=<addr> --port=<port> --file=<path>
  ota-publish -h | --help

Options:
  --ip-addr=<addr>  The address to bind.
  --port=<port>     The port to bind.
  --file=<path>     Path to the firmware image.
  -h --help         Show this screen.
`

type command struct {
	oIPAddr string
	oPort   string
	oFile   string
}

func parseCommand() *command {
	a, err := docopt.Parse(usage, nil, true, "", false)
	exitIfSet(err)

	return &command{
		oIPAddr: getString(a["--ip-addr"]),
		oPort:   getString(a["--port"]),
		oFile:   getString(a["--file"]),
	}
}

func main() {
	// parse command
	cmd := parseCommand()

	// check port
	port, err := strconv.ParseUint(cmd.oPort, 10, 16)
	if err != nil {
		exitWithError(fmt.Sprintf("invalid port %q", cmd.oPort))
	}

	// prepare logger
	logger := utils.NewLogger(os.Stderr, slog.LevelInfo, false)

	// prepare context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// listen
	ln, err := net.Listen("tcp", net.JoinHostPort(cmd.oIPAddr, cmd.oPort))
	exitIfSet(err)

	// advertise publisher
	shutdown := advertise(cmd.oFile, int(port), logger)
	defer shutdown()

	utils.Log(os.Stdout, fmt.Sprintf("Serving %s on %s...", cmd.oFile, ln.Addr()))

	// serve image
	publisher := ota.NewPublisher(cmd.oFile, logger)
	outcome, err := publisher.Serve(ctx, ln)
	if err != nil {
		logger.Error("publisher stopped", "error", err)
		utils.Log(os.Stdout, "Shut down without serving the image.")
		return
	}

	// print outcome
	if outcome.Err != nil {
		utils.Log(os.Stdout, fmt.Sprintf("Shut down after failure: %s", outcome.Err))
		return
	}
	utils.Log(os.Stdout, fmt.Sprintf("Shut down after serving %s (crc %d) to %s.", bytefmt.ByteSize(uint64(outcome.Size)), outcome.Checksum, outcome.Remote))
}

func advertise(file string, port int, logger *slog.Logger) func() {
	// read image
	image, err := ota.ReadImage(file)
	if err != nil {
		logger.Warn("skipping advertisement", "error", err)
		return func() {}
	}

	// register service
	shutdown, err := mdns.Advertise(fmt.Sprintf("wxota-%d", image.Checksum), port, mdns.Text(image.Size, image.Checksum))
	if err != nil {
		logger.Warn("failed to advertise publisher", "error", err)
		return func() {}
	}

	return shutdown
}

func getString(field interface{}) string {
	str, _ := field.(string)
	return str
}

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
