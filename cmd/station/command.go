package main

import (
	"time"

	"github.com/docopt/docopt-go"
)

var usage = `station - the weather station agent

Usage:
  station run [--config=<path>]
  station update [--config=<path>]
  station status [--config=<path>]
  station discover [<pattern>] [--timeout=<d>]

Options:
  -c --config=<path>  Path to the configuration file [default: station.yaml].
  -t --timeout=<d>    The discovery duration [default: 2s].
  -h --help           Show this screen.
`

type command struct {
	// commands
	cRun      bool
	cUpdate   bool
	cStatus   bool
	cDiscover bool

	// arguments
	aPattern string

	// options
	oConfig  string
	oTimeout time.Duration
}

func parseCommand() *command {
	a, err := docopt.Parse(usage, nil, true, "", false)
	exitIfSet(err)

	return &command{
		// commands
		cRun:      getBool(a["run"]),
		cUpdate:   getBool(a["update"]),
		cStatus:   getBool(a["status"]),
		cDiscover: getBool(a["discover"]),

		// arguments
		aPattern: getString(a["<pattern>"]),

		// options
		oConfig:  getString(a["--config"]),
		oTimeout: getDuration(a["--timeout"]),
	}
}

func getBool(field interface{}) bool {
	val, _ := field.(bool)
	return val
}

func getString(field interface{}) string {
	str, _ := field.(string)
	return str
}

func getDuration(field interface{}) time.Duration {
	d, _ := time.ParseDuration(getString(field))
	return d
}
