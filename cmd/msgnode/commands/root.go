// Package commands implements the msgnode command line.
package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/backkem/msglayer/cmd/msgnode/config"
	"github.com/backkem/msglayer/cmd/msgnode/zaplog"
)

// env is the state shared by every subcommand once the root has loaded the
// configuration.
type env struct {
	configPath string
	logLevel   string

	file   *config.File
	logger *zap.Logger
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:          "msgnode",
		Short:        "Run or talk to a secure messaging node",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "TOML configuration file (default: UDP on :5540, no sessions)")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override node.log_level (debug, info, warn, error)")

	root.AddCommand(serveCmd(e), sendCmd(e))
	return root
}

func (e *env) load() error {
	var err error
	if e.configPath == "" {
		e.file, err = config.Decode("")
	} else {
		e.file, err = config.Load(e.configPath)
	}
	if err != nil {
		return err
	}
	if e.logLevel != "" {
		e.file.Node.LogLevel = e.logLevel
	}
	e.logger, err = zaplog.New(e.file.Node.LogLevel)
	return err
}
