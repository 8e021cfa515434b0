package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/danmuck/tcpq/internal/config"
	logs "github.com/danmuck/tcpq/internal/logging"
)

type options struct {
	Kind     string `short:"k" long:"kind" default:"hub" choice:"hub" choice:"client" description:"Config kind"`
	Output   string `short:"o" long:"output" description:"Output path for the config template"`
	Validate bool   `long:"validate" description:"Validate an existing config file instead of writing one"`
	Input    string `short:"i" long:"input" description:"Config path for validation, defaults to the per-kind cmd path"`
	Force    bool   `short:"f" long:"force" description:"Overwrite an existing config file"`
}

func defaultPath(kind string) string {
	switch kind {
	case config.KindClient:
		return "cmd/tcpqctl/config.toml"
	default:
		return "cmd/tcpqd/config.toml"
	}
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	logs.ConfigureRuntime()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.Validate {
		path := opts.Input
		if path == "" {
			path = defaultPath(opts.Kind)
		}
		if err := config.Validate(opts.Kind, path); err != nil {
			return err
		}
		logs.Infof("configgen validated kind=%s path=%s", opts.Kind, path)
		return nil
	}

	target := opts.Output
	if target == "" {
		target = defaultPath(opts.Kind)
	}
	if err := config.WriteTemplate(target, opts.Kind, opts.Force); err != nil {
		return err
	}
	logs.Infof("configgen wrote kind=%s path=%s", opts.Kind, target)
	return nil
}
