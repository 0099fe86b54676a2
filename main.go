package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	relayservice "transit-sync/cmd/relay_service"
	trackerclient "transit-sync/cmd/tracker_client"
	"transit-sync/internal/cli"
	"transit-sync/internal/domain/user"

	"github.com/spf13/pflag"
)

func main() {
	// quick path for global help
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	mode, args, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// context cancelled on SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch mode {
	case cli.ModeRelay:
		fs := pflag.NewFlagSet(cli.ModeRelay, pflag.ContinueOnError)
		var opts relayservice.Options
		fs.StringVar(&opts.ConfigPath, "config", "./config/config.yaml", "Path to the YAML config file")
		fs.IntVar(&opts.MaxConcurrent, "max-concurrent", 200, "Maximum number of concurrent short HTTP requests")
		fs.IntVar(&opts.Prefetch, "prefetch", 32, "RabbitMQ prefetch count for the fan-out consumer")
		fs.StringVar(&opts.InstanceID, "instance-id", "", "Relay instance id (defaults to config, then a random id)")
		cli.AttachUsage(fs, cli.ModeRelay)
		parse(fs, args)

		if opts.MaxConcurrent < 1 {
			usageError(fs, "--max-concurrent must be >= 1")
		}
		if opts.Prefetch <= 0 {
			usageError(fs, "--prefetch must be > 0")
		}
		if err := relayservice.Run(ctx, opts); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeTracker:
		fs := pflag.NewFlagSet(cli.ModeTracker, pflag.ContinueOnError)
		var opts trackerclient.Options
		var role string
		fs.StringVar(&opts.ConfigPath, "config", "./config/config.yaml", "Path to the YAML config file")
		fs.StringVar(&opts.Token, "token", os.Getenv("TRANSIT_SYNC_TOKEN"), "Bearer token (raw JWT)")
		fs.StringVar(&role, "role", "DRIVER", "Role the token was issued for: PASSENGER | DRIVER | ADMIN")
		fs.StringVar(&opts.EntityID, "entity-id", "", "Entity whose simulated location is published")
		fs.StringSliceVar(&opts.Routes, "route", nil, "Route ids to follow (repeatable)")
		fs.DurationVar(&opts.Interval, "interval", 0, "Publish a simulated location this often (0 disables)")
		fs.DurationVar(&opts.Redial, "redial", 15*time.Second, "Redial interval while disconnected")
		fs.BoolVar(&opts.Quiet, "quiet", false, "Suppress DEBUG logs")
		cli.AttachUsage(fs, cli.ModeTracker)
		parse(fs, args)

		r, err := user.ParseRole(role)
		if err != nil {
			usageError(fs, "--role must be PASSENGER, DRIVER or ADMIN")
		}
		opts.Role = r
		if opts.Interval < 0 || opts.Redial < 0 {
			usageError(fs, "durations must not be negative")
		}
		if err := trackerclient.Run(ctx, opts); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	default:
		// ParseMode only returns known modes
		fmt.Fprintln(os.Stderr, "Error: unknown mode")
		os.Exit(2)
	}
}

func parse(fs *pflag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func usageError(fs *pflag.FlagSet, msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	fs.Usage()
	os.Exit(2)
}
