package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	flags "github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/danmuck/tcpq/internal/client"
	"github.com/danmuck/tcpq/internal/config"
	logs "github.com/danmuck/tcpq/internal/logging"
	"github.com/danmuck/tcpq/internal/protocol/envelope"
	"github.com/danmuck/tcpq/internal/queue"
)

type globalOptions struct {
	ConfigFile string `short:"C" long:"config" description:"Path to client TOML config"`
	Hub        string `short:"H" long:"hub" description:"Hub address host:port, overrides the config file"`
	LogLevel   string `long:"loglevel" description:"Log level: trace, debug, info, warn, error; overrides [log] level"`
}

type pullCommand struct {
	Dump bool `long:"dump" description:"Dump the decoded value structure"`
	Args struct {
		Queue string `positional-arg-name:"queue" description:"outbound|inbound"`
	} `positional-args:"yes" required:"yes"`
}

type pushCommand struct {
	JSON bool `long:"json" description:"Parse the message as JSON and send it as a structured value"`
	Raw  bool `long:"raw" description:"Send the message as raw bytes"`
	Args struct {
		Message string `positional-arg-name:"message"`
	} `positional-args:"yes" required:"yes"`
}

var global globalOptions

func main() {
	parser := flags.NewParser(&global, flags.Default)
	parser.SubcommandsOptional = false
	if _, err := parser.AddCommand("pull", "Pull one item", "Pull the head of a hub queue and print it.", &pullCommand{}); err != nil {
		fmt.Fprintf(os.Stderr, "tcpqctl: %v\n", err)
		os.Exit(2)
	}
	if _, err := parser.AddCommand("push", "Push one item", "Push a message to the hub inbound queue.", &pushCommand{}); err != nil {
		fmt.Fprintf(os.Stderr, "tcpqctl: %v\n", err)
		os.Exit(2)
	}
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func (c *pullCommand) Execute(_ []string) error {
	id, err := queue.ParseQueueID(c.Args.Queue)
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, cl *client.Client) error {
		return runPull(ctx, cl, id, c.Dump, os.Stdout)
	})
}

func (c *pushCommand) Execute(_ []string) error {
	env, err := buildEnvelope(c.Args.Message, c.JSON, c.Raw)
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, cl *client.Client) error {
		return cl.Push(ctx, env)
	})
}

func withClient(fn func(context.Context, *client.Client) error) error {
	cfg := client.DefaultConfig()
	var logFile config.LogFile
	if path := strings.TrimSpace(global.ConfigFile); path != "" {
		loaded, file, err := loadClientConfig(path)
		if err != nil {
			return err
		}
		cfg, logFile = loaded, file
	}
	if v := strings.TrimSpace(global.Hub); v != "" {
		cfg.Address = v
	}

	logCfg, err := loggingConfig(logFile, global.LogLevel)
	if err != nil {
		return err
	}
	if err := logs.Apply(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "tcpqctl: %v\n", err)
	}
	defer logs.Close()

	cl, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, cl)
}

// loggingConfig layers the [log] table, TCPQ_LOG_* env and --loglevel over a
// warn-level runtime profile, later layers winning.
func loggingConfig(file config.LogFile, level string) (logs.Config, error) {
	base := logs.DefaultConfig(logs.ProfileRuntime)
	base.Level = zerolog.WarnLevel
	if strings.TrimSpace(file.Level) != "" || file.File != "" {
		overlay, err := file.LoggingConfig(base)
		if err != nil {
			return logs.Config{}, err
		}
		base = overlay
	}
	cfg := logs.WithEnv(base)
	if strings.TrimSpace(level) != "" {
		lvl, ok := logs.ParseLevel(level)
		if !ok {
			return logs.Config{}, fmt.Errorf("unknown log level %q", level)
		}
		cfg.Level = lvl
	}
	return cfg, nil
}

func runPull(ctx context.Context, cl *client.Client, id queue.QueueID, dump bool, w io.Writer) error {
	env := cl.Pull(ctx, id)
	if env.IsNone() {
		_, err := fmt.Fprintln(w, "<none>")
		return err
	}
	if dump {
		spew.Fdump(w, env.Interface())
		return nil
	}
	_, err := fmt.Fprintln(w, env.String())
	return err
}

func buildEnvelope(message string, asJSON, raw bool) (envelope.Envelope, error) {
	switch {
	case asJSON && raw:
		return envelope.Envelope{}, fmt.Errorf("--json and --raw are exclusive")
	case asJSON:
		var v any
		if err := json.Unmarshal([]byte(message), &v); err != nil {
			return envelope.Envelope{}, fmt.Errorf("parse --json message: %w", err)
		}
		return envelope.FromValue(v)
	case raw:
		return envelope.FromBytes([]byte(message)), nil
	default:
		return envelope.FromString(message), nil
	}
}
