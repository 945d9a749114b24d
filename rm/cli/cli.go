// Package cli is the command line of the resource manager: serve runs the
// manager, the other commands inspect a stopped manager's store.
package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/config/rmconfig"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/db/badger"
	"github.com/twitter/nodepool/rm/db/sqlite"
)

type CLI struct {
	rootCmd *cobra.Command
	out     io.Writer

	configPath string
	logLevel   string
}

func New() *CLI {
	c := &CLI{out: os.Stdout}
	c.rootCmd = &cobra.Command{
		Use:           "rmserver",
		Short:         "rmserver manages a pool of compute nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "path to the YAML configuration, defaults apply when empty")
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log_level", "", "overrides log_level from the configuration")

	c.addCmd(&serveCmd{})
	c.addCmd(&sourcesCmd{})
	c.addCmd(&nodesCmd{})
	c.addCmd(&historyCmd{})
	return c
}

func (c *CLI) Exec() error {
	return c.rootCmd.Execute()
}

func (c *CLI) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(cl *CLI, cmd *cobra.Command, args []string) error
}

func (c *CLI) config() (rmconfig.Config, error) {
	cfg, err := rmconfig.Load(c.configPath)
	if err != nil {
		return cfg, rmerrors.NewError(err, rmerrors.ConfigFailureExitCode)
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	return cfg, nil
}

// openStore opens the configured store. The returned close func is never nil.
func openStore(cfg rmconfig.DatabaseConfig) (db.Gateway, func() error, error) {
	switch cfg.Driver {
	case rmconfig.DriverSQLite:
		g, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, rmerrors.NewError(err, rmerrors.DBInitFailureExitCode)
		}
		return g, g.Close, nil
	case rmconfig.DriverBadger:
		g, err := badger.Open(cfg.Path)
		if err != nil {
			return nil, nil, rmerrors.NewError(err, rmerrors.DBInitFailureExitCode)
		}
		return g, g.Close, nil
	default:
		return db.NewMemory(), func() error { return nil }, nil
	}
}

func (c *CLI) printJSON(v interface{}) error {
	return writeJSON(c.out, v)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
