package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fluffypony/universe/pkg/config"
	"github.com/fluffypony/universe/pkg/logging"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	jsonOutput bool
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.configPath, "config", "c", "", "settings file (.yaml or .json)")
	fs.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
	fs.BoolVar(&g.jsonOutput, "json", false, "print command output as JSON")
}

// settings loads the settings file, or the defaults when none is given
func (g *globalFlags) settings() (*config.Settings, error) {
	if g.configPath == "" {
		return config.Defaults(), nil
	}
	s, err := config.Load(g.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("settings file %s does not exist; create it with 'tari-mcp config init %s'", g.configPath, g.configPath)
	}
	return s, err
}

// logger configures logging on stderr, which stays free of protocol
// traffic in stdio mode.
func (g *globalFlags) logger(s *config.Settings) (logging.Logger, error) {
	level, format := s.Logging.Level, s.Logging.Format
	if g.logLevel != "" {
		level = g.logLevel
	}
	if g.logFormat != "" {
		format = g.logFormat
	}
	return logging.Configure(os.Stderr, level, format)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "tari-mcp",
		Short: "Permission-gated MCP server for the Tari Universe wallet and miner",
		Long: `tari-mcp lets an automated agent inspect and partly control a Tari Universe
wallet and miner over the Model Context Protocol.

The server is disabled and wallet sends are refused until the settings allow
them. Every request is recorded in a hash-chained audit log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	g.register(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(g),
		newConfigCmd(g),
		newAuditCmd(g),
		newCatalogCmd(g),
		newClientCmd(g),
		newVersionCmd(g),
	)
	return root
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
