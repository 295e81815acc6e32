// Package main is the turnstile command: the local solving server, the
// browser solve flow and the static inspection tools.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Rorqualx/turnstile-solver-go/internal/config"
	"github.com/Rorqualx/turnstile-solver-go/pkg/version"
)

// Exit codes. exitNegative reports an unresolved page or a rejected sitekey.
const (
	exitOK       = 0
	exitFatal    = 1
	exitNegative = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Load()
	root := newRootCmd(cfg)
	root.SetArgs(args)

	err := root.Execute()
	var ee *exitError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ee):
		if ee.code == exitFatal {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
		}
		return ee.code
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitFatal
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var closer io.Closer

	root := &cobra.Command{
		Use:           "turnstile",
		Short:         "Detect and solve Cloudflare Turnstile widgets",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			quiet, _ := cmd.Flags().GetBool("tui")
			closer = setupLogging(cfg, quiet)
			cfg.Validate()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if closer != nil {
				_ = closer.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(cfg),
		newSolveCmd(cfg),
		newExtractCmd(cfg),
		newValidateCmd(cfg),
	)
	return root
}

// setupLogging configures zerolog: a console writer on stderr plus an
// optional rotating JSON file. quiet drops the console writer so a
// full-screen view is not overwritten.
func setupLogging(cfg *config.Config, quiet bool) io.Closer {
	var console io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	if quiet {
		console = io.Discard
	}

	var closer io.Closer
	out := console
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		closer = file
		out = zerolog.MultiLevelWriter(console, file)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	switch cfg.LogLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	return closer
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
