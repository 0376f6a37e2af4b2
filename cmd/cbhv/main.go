package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/a2cb/cbhv/pkg/box"
	"github.com/a2cb/cbhv/pkg/corrections"
	"github.com/a2cb/cbhv/pkg/fleet"
)

var (
	logLevel   = "info"
	verbose    = false
	configPath = ""
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	if verbose && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.TimeOnly,
		})
	}

	return nil
}

func handleCmdError(w io.Writer, err error) {
	switch {
	case errors.Is(err, fleet.ErrNoCorrections):
		fmt.Fprintln(w, "\nError: no usable correction values found")
		fmt.Fprintln(w, "Every line must look like <card>,<channel>,...,<gain>,<offset>")
	case errors.Is(err, corrections.ErrEmpty):
		fmt.Fprintln(w, "\nError: the correction file is empty, please check the provided file")
	case errors.Is(err, box.ErrBadTemplate):
		fmt.Fprintln(w, "\nError: invalid host prefix")
		fmt.Fprintf(w, "The prefix needs exactly one integer verb, like %q\n", box.DefaultHostTemplate)
	case errors.Is(err, errLocked):
		fmt.Fprintln(w, "\nError: another cbhv run is in progress")
		fmt.Fprintln(w, "Wait for it to finish, or pass a different --lock-file if you know what you are doing")
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(w, "\nInterrupted, the remaining boxes were not touched")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(os.Stderr, err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cbhv",
		Short: "cbhv sets or measures the correction values of the CB HV boxes",
		Long: `cbhv sets or measures the correction values of the CB HV boxes.

The boxes are reached over telnet, one after the other by default. A box
that cannot be reached or fails half way is reported and skipped.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.BoolVarP(&verbose, "verbose", "v", false, "print additional output, same as --log-level debug")
	globalFlags.StringVar(&configPath, "config", "", "config file path (YAML)")
	addFleetFlags(globalFlags)

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewSetCommand(),
		NewResetCommand(),
		NewCalibrateCommand(),
		NewConfigCommand(),
		NewVersionCommand(),
	)

	return cmd
}
