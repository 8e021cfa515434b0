package main

import (
	"fmt"
	"os"
	"strings"

	flags "github.com/jessevdk/go-flags"

	"github.com/danmuck/tcpq/internal/config"
	"github.com/danmuck/tcpq/internal/hub"
	logs "github.com/danmuck/tcpq/internal/logging"
	"github.com/danmuck/tcpq/internal/observability"
)

type options struct {
	ConfigFile string `short:"C" long:"config" description:"Path to hub TOML config"`
	Listen     string `short:"l" long:"listen" description:"Hub listen address, overrides the config file"`
	Admin      string `short:"a" long:"admin" description:"Admin HTTP listen address, overrides the config file"`
	LogLevel   string `long:"loglevel" description:"Log level: trace, debug, info, warn, error"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, logFile, err := resolveConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tcpqd: %v\n", err)
		os.Exit(1)
	}
	if err := setupLogging(logFile, opts.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "tcpqd: %v\n", err)
	}
	defer logs.Close()

	observability.RegisterMetrics()
	svc := hub.NewService(cfg, nil)
	if err := svc.Run(); err != nil {
		logs.Errf("tcpqd: %v", err)
		_ = logs.Close()
		os.Exit(1)
	}
}

func resolveConfig(opts options) (hub.ServiceConfig, config.LogFile, error) {
	cfg := hub.DefaultServiceConfig()
	var logFile config.LogFile
	if path := strings.TrimSpace(opts.ConfigFile); path != "" {
		var err error
		cfg, logFile, err = loadServiceConfig(path)
		if err != nil {
			return hub.ServiceConfig{}, logFile, err
		}
	}
	if v := strings.TrimSpace(opts.Listen); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(opts.Admin); v != "" {
		cfg.AdminListenAddr = v
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return hub.ServiceConfig{}, logFile, err
	}
	return cfg, logFile, nil
}

func setupLogging(file config.LogFile, level string) error {
	base := logs.DefaultConfig(logs.ProfileRuntime)
	if strings.TrimSpace(file.Level) != "" || file.File != "" {
		overlay, err := file.LoggingConfig(base)
		if err != nil {
			return err
		}
		base = overlay
	}
	cfg := logs.WithEnv(base)
	if strings.TrimSpace(level) != "" {
		lvl, ok := logs.ParseLevel(level)
		if !ok {
			return fmt.Errorf("unknown log level %q", level)
		}
		cfg.Level = lvl
	}
	return logs.Apply(cfg)
}
