package main

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/a2cb/cbhv/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Manage the config file",
		GroupID: gAdvanced,
	}

	cmd.AddCommand(NewConfigSaveCommand())

	return cmd
}

func NewConfigSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save [path]",
		Short: "Write the resolved configuration to a file",
		Long: `Write the resolved configuration to a file.

Defaults, values from --config and the flags given on the command line are
merged and written as YAML to path, or to --config if path is omitted. The
result can be edited and passed with --config later.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			path := configPath
			if len(args) == 1 {
				path = args[0]
			}

			return saveConfig(cfg, path)
		},
	}
}

// saveConfig writes every resolved value of cfg to path, so the file no
// longer depends on the built-in defaults.
func saveConfig(cfg config.Config, path string) error {
	if path == "" {
		return pkgerrors.New("no config file path, use --config or pass a path")
	}

	raw, err := config.NewRawFileConfigFromConfig(cfg)
	if err != nil {
		return err
	}
	if err := config.NewFileFromConfig(raw, path).Save(); err != nil {
		return err
	}

	logrus.Infof("config saved to %s", path)
	return nil
}
