package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

const (
	ModeRelay   = "relay-service"
	ModeTracker = "tracker-client"
)

// isKnownMode resolves a mode name or one of its aliases.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeRelay, "relay", "r":
		return ModeRelay, true
	case ModeTracker, "tracker", "client", "t":
		return ModeTracker, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `relay-service --max-concurrent=300`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for _, arg := range args {
		if after, ok := strings.CutPrefix(arg, "--mode="); ok {
			mode = after
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, errors.New("no mode specified: use --mode=<mode>")
	}

	m, ok := isKnownMode(mode)
	if !ok {
		return "", out, fmt.Errorf("unknown mode %q", mode)
	}
	return m, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // cyan

	fmt.Fprintln(w, `Usage:
  ./transit-sync --mode=<mode> [flags]

Modes:
  relay-service     Websocket/polling relay with RabbitMQ fan-out and Postgres storage
  tracker-client    Real-time client that tracks locations and notifications

Examples:
  ./transit-sync --mode=relay-service --max-concurrent=300 --prefetch=32
  ./transit-sync --mode=tracker-client --token=$TOKEN --entity-id=drv-7 --interval=5s`)

	fmt.Fprint(w, "\033[0m") // reset
}

// AttachUsage wires a concise per-mode usage to a FlagSet.
func AttachUsage(fs *pflag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./transit-sync --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
