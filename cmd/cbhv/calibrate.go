package main

import (
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/a2cb/cbhv/pkg/calibration"
	"github.com/a2cb/cbhv/pkg/config"
	"github.com/a2cb/cbhv/pkg/fleet"
)

type calibrateFlags struct {
	output   string
	name     string
	stepping int
	vRange   []int
	waitSecs int
	force    bool
	save     bool
}

func NewCalibrateCommand() *cobra.Command {
	var f calibrateFlags

	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"measure", "cali"},
		Short:   "Measure the correction values of the boxes",
		GroupID: gAdvanced,
		Long: `Measure the correction values of the boxes.

The board clock of every box is set first. Then every card is swept through
the voltage range [V_min, V_max): the setpoint is applied to all 8 channels,
and after the waiting time the ADC readout is appended to the card's output
file. This takes a while, roughly waiting time * number of setpoints per
card.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			settings, err := applyCalibrateFlags(cmd, cfg, f)
			if err != nil {
				return err
			}
			logrus.Infof("the following path and naming scheme will be used for the files: %s", settings.OutputPattern)
			logrus.Debugf("run correction measurement from %d V to %d V with stepping %d V",
				settings.RangeMin, settings.RangeMax, settings.Stepping)

			if f.save {
				cfg.SetCalibration(settings)
				if err := saveConfig(cfg, configPath); err != nil {
					return err
				}
			}

			return runFleet(cmd, cfg, func(opts []fleet.Option) (*fleet.Driver, error) {
				return fleet.NewMeasureDriver(settings, nil, opts...)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", calibration.DefaultOutputDir, "output directory")
	flags.StringVarP(&f.name, "name", "n", calibration.DefaultFileName, "output file name, including formatting for the card number")
	flags.IntVarP(&f.stepping, "stepping", "s", calibration.DefaultStepping, "voltage stepping")
	flags.IntSliceVar(&f.vRange, "range", []int{calibration.DefaultRangeMin, calibration.DefaultRangeMax}, "voltage range V_min,V_max (V_max excluded)")
	flags.IntVarP(&f.waitSecs, "time", "t", int(calibration.DefaultWaitingTime/time.Second), "waiting time in seconds between applying the voltage and reading the result")
	flags.BoolVarP(&f.force, "force", "f", false, "create the output directory if it does not exist")
	flags.BoolVar(&f.save, "save-config", false, "write the resolved settings to --config before measuring")

	return cmd
}

// applyCalibrateFlags merges the flags the user set into the configured
// calibration settings and prepares the output directory.
func applyCalibrateFlags(cmd *cobra.Command, cfg config.Config, f calibrateFlags) (calibration.Settings, error) {
	s := cfg.Calibration()
	dir, name := filepath.Split(s.OutputPattern)
	force := f.force

	flags := cmd.Flags()
	if flags.Changed("output") {
		dir = f.output
		logrus.Infof("setting custom output directory: %s", dir)
	} else {
		// The default directory is always created.
		force = true
	}
	if flags.Changed("name") {
		name = f.name
		logrus.Infof("set custom output file formatting to %q", name)
	}
	if flags.Changed("stepping") {
		s.Stepping = f.stepping
		logrus.Infof("voltage stepping set to %d", s.Stepping)
	}
	if flags.Changed("range") {
		if len(f.vRange) != 2 {
			return s, pkgerrors.Errorf("--range needs exactly two values, got %v", f.vRange)
		}
		s.RangeMin, s.RangeMax = f.vRange[0], f.vRange[1]
		logrus.Infof("the following voltage range will be used: %d <= V < %d", s.RangeMin, s.RangeMax)
	}
	if flags.Changed("time") {
		s.WaitingTime = time.Duration(f.waitSecs) * time.Second
		logrus.Infof("set waiting time for applying calibration values to %s", s.WaitingTime)
	}

	if dir == "" {
		dir = "."
	}
	s.OutputPattern = filepath.Join(dir, name)
	if err := s.Validate(); err != nil {
		return s, err
	}
	if err := checkOutputDir(dir, force); err != nil {
		return s, err
	}

	return s, nil
}

// checkOutputDir makes sure dir is a directory, creating it when force is
// set.
func checkOutputDir(dir string, force bool) error {
	fi, err := os.Stat(dir)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return pkgerrors.Errorf("the output directory %s is not a directory", dir)
		}
		return nil
	case !os.IsNotExist(err):
		return pkgerrors.Wrapf(err, "the output directory %s cannot be used", dir)
	case !force:
		return pkgerrors.Errorf("the output directory %s does not exist, use --force to create it", dir)
	}

	logrus.Infof("creating output directory %s", dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create output directory %s", dir)
	}
	return nil
}
