//go:build linux

// Command evsieve reads events from one or more evdev input devices,
// passes them through a configurable pipeline of stages, and writes
// the survivors to one or more uinput output devices.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/KarsMulder/evsieve/internal/cache"
	"github.com/KarsMulder/evsieve/internal/config"
	"github.com/KarsMulder/evsieve/internal/logging"
	"github.com/KarsMulder/evsieve/internal/pipeline"
	"github.com/KarsMulder/evsieve/internal/reactor"

	ev "github.com/KarsMulder/evsieve"
)

// version is overridden at release build time via -ldflags.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "evsieve:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	switch {
	case len(args) == 0, args[0] == "--help", args[0] == "-h":
		printUsage()
		return nil
	case args[0] == "--version":
		fmt.Println("evsieve", version)
		return nil
	}

	logger := logging.GetLogger("main")

	groups, err := config.Tokenize(args)
	if err != nil {
		return fmt.Errorf("parsing arguments: %w", err)
	}

	domains := ev.NewDomainRegistry()
	toggles := pipeline.NewToggleRegistry()

	built, err := config.Build(groups, domains, toggles, logging.GetLogger("config"))
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	if len(built.Inputs) == 0 {
		return fmt.Errorf("at least one --input is required")
	}
	if len(built.Outputs) == 0 {
		return fmt.Errorf("at least one --output is required")
	}

	deviceCache, err := cache.Open()
	if err != nil {
		return fmt.Errorf("opening device cache: %w", err)
	}

	pl := &pipeline.Pipeline{Stages: built.Stages}

	react, err := reactor.New(built, pl, domains, toggles, deviceCache, logging.GetLogger("reactor"))
	if err != nil {
		return fmt.Errorf("starting up: %w", err)
	}

	logger.Info("evsieve starting", "inputs", len(built.Inputs), "outputs", len(built.Outputs))

	return react.Run(context.Background())
}

func printUsage() {
	fmt.Println(`usage: evsieve [--input PATH [domain=ID] [grab=none|auto|force] [persist=none|reopen|full]]...
               [--output [SELECTOR]... [create-link=PATH] [repeat=passive|enable|disable] [name=NAME]]...
               [--map SELECTOR... DESTINATION... [yield]]
               [--copy SELECTOR... DESTINATION... [yield]]
               [--block SELECTOR...]
               [--merge SELECTOR...]
               [--toggle SELECTOR DESTINATION... [id=ID]]
               [--hook SELECTOR... [sequential] [period=SECONDS] [breaks-on=SELECTOR]
                       [exec-shell=CMD] [send-key=KEY] [toggle[=ID[:INDEX]]]]
               [--withhold SELECTOR...]
               [--scale SELECTOR... factor=FACTOR]
               [--rel-to-abs SELECTOR DESTINATION:MIN~MAX]
               [--delay SELECTOR... period=SECONDS]
               [--control-fifo PATH]

See the project documentation for the full grammar of each section.`)
}
