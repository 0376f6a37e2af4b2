package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/a2cb/cbhv/pkg/box"
	"github.com/a2cb/cbhv/pkg/config"
	"github.com/a2cb/cbhv/pkg/events"
	"github.com/a2cb/cbhv/pkg/fleet"
	"github.com/a2cb/cbhv/pkg/session"
)

var errLocked = pkgerrors.New("lock is held by another process")

// fleetFlags override the config file for a single run.
type fleetFlags struct {
	prefix      string
	boxes       []int
	port        int
	parallelism int
	lockFile    string
}

var gFleet fleetFlags

func addFleetFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&gFleet.prefix, "prefix", "p", box.DefaultHostTemplate, "host name scheme of the boxes, including formatting for digits")
	fs.IntSliceVarP(&gFleet.boxes, "boxes", "b", nil, "comma-separated list of boxes to use (default all)")
	fs.IntVar(&gFleet.port, "port", session.DefaultPort, "telnet port of the boxes")
	fs.IntVarP(&gFleet.parallelism, "parallel", "j", 1, "number of boxes handled at once")
	fs.StringVar(&gFleet.lockFile, "lock-file", "", "lock file preventing concurrent runs (default $TMPDIR/cbhv.lock)")
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.File, error) {
	cfg, err := config.NewFile(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("prefix") {
		cfg.SetHostTemplate(gFleet.prefix)
		logrus.Infof("set custom host prefix to %q", gFleet.prefix)
	}
	if flags.Changed("boxes") {
		cfg.SetBoxes(gFleet.boxes)
		logrus.Infof("custom list of boxes will be used: %v", gFleet.boxes)
	}
	if flags.Changed("port") {
		cfg.SetPort(gFleet.port)
	}
	if flags.Changed("parallel") {
		cfg.SetParallelism(gFleet.parallelism)
	}
	if flags.Changed("lock-file") {
		cfg.SetLockFile(gFleet.lockFile)
	}

	if err := config.Validate(cfg); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid configuration")
	}
	logrus.WithFields(cfg.LogrusFields()).Debug("config loaded")

	return cfg, nil
}

func acquireLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to acquire lock %s", path)
	}
	if !ok {
		return nil, pkgerrors.Wrapf(errLocked, "lock %s", path)
	}
	return lock, nil
}

func sessionOptions(cfg config.Config) []session.Option {
	return []session.Option{
		session.WithPort(cfg.Port()),
		session.WithDialTimeout(cfg.DialTimeout()),
		session.WithBannerTimeout(cfg.BannerTimeout()),
		session.WithCommandTimeout(cfg.CommandTimeout()),
		session.WithSettleDelay(cfg.SettleDelay()),
	}
}

func driverOptions(cfg config.Config, hub *events.EventHub) []fleet.Option {
	return []fleet.Option{
		fleet.WithHostTemplate(cfg.HostTemplate()),
		fleet.WithParallelism(cfg.Parallelism()),
		fleet.WithEventHub(hub),
		fleet.WithOpener(fleet.SessionOpener(sessionOptions(cfg)...)),
	}
}

// runFleet takes the lock, runs the driver built by newDriver over the
// configured boxes and prints the report.
func runFleet(cmd *cobra.Command, cfg config.Config, newDriver func(opts []fleet.Option) (*fleet.Driver, error)) error {
	lock, err := acquireLock(cfg.LockFile())
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logrus.WithError(err).Warn("failed to release lock")
		}
	}()

	hub := events.NewEventHub()
	d, err := newDriver(driverOptions(cfg, hub))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	done := printProgress(out, hub, len(cfg.Boxes()))

	color.New(color.FgGreen).Fprintln(out, "Start connecting to the CBHV boxes")
	report, runErr := d.Run(ctx, cfg.Boxes())

	hub.Close()
	<-done

	if report != nil {
		fmt.Fprint(out, renderReport(report))
	}
	if runErr != nil {
		return runErr
	}

	color.New(color.FgGreen).Fprintln(out, "Done!")
	return nil
}

// printProgress prints one line per finished box until hub is closed. The
// subscription holds one event per box, so a slow terminal never loses a
// line.
func printProgress(w io.Writer, hub *events.EventHub, boxes int) <-chan struct{} {
	ch := hub.SubscribeNames(boxes, events.BoxFinished)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			p, err := events.DecodeAs[events.BoxFinishedEvent](ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "%s %s\n", overallColor(box.Overall(p.Overall)).Sprintf("[%s]", p.Overall), p.Host)
		}
	}()
	return done
}

func overallColor(o box.Overall) *color.Color {
	switch o {
	case box.OverallOK:
		return color.New(color.FgGreen)
	case box.OverallPartial:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}
