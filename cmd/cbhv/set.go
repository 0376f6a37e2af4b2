package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/a2cb/cbhv/pkg/box"
	"github.com/a2cb/cbhv/pkg/config"
	"github.com/a2cb/cbhv/pkg/corrections"
	"github.com/a2cb/cbhv/pkg/fleet"
)

func configuratorOptions(cfg config.Config) []box.ConfiguratorOption {
	return []box.ConfiguratorOption{
		box.WithPersistTimeout(cfg.PersistTimeout()),
	}
}

func NewSetCommand() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:     "set",
		Aliases: []string{"apply"},
		Short:   "Write the correction values to the boxes",
		GroupID: gBasic,
		Long: `Write the correction values to the boxes.

For every card of every box the 8 gains (M) and 8 offsets (N) are read from
the correction file, written to the box and the correction loop is enabled.
A card without a value for each of its 8 channels is skipped.

The correction file has one line per channel:

  <card>,<channel>,...,<gain>,<offset>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("input") {
				cfg.SetCorrectionFile(input)
				logrus.Infof("set custom gain correction file to %s", input)
			}

			table, err := corrections.LoadFile(cfg.CorrectionFile())
			if err != nil {
				return err
			}

			return runFleet(cmd, cfg, func(opts []fleet.Option) (*fleet.Driver, error) {
				return fleet.NewConfigureDriver(box.ModeApply, table, configuratorOptions(cfg), opts...)
			})
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", config.DefaultCorrectionFile, "correction file")

	return cmd
}

func NewResetCommand() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:     "reset",
		Short:   "Reset the correction values of the boxes to 0",
		GroupID: gBasic,
		Long: `Reset the correction values of the boxes to 0.

Zeros are written for every channel of every card and the correction loop
is disabled. A correction file given with --input is ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("input") {
				logrus.Warnf("resetting the correction values, the values from %s will be ignored", input)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			return runFleet(cmd, cfg, func(opts []fleet.Option) (*fleet.Driver, error) {
				return fleet.NewConfigureDriver(box.ModeReset, nil, configuratorOptions(cfg), opts...)
			})
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", config.DefaultCorrectionFile, "correction file, ignored by reset")

	return cmd
}
