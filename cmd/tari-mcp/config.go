package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fluffypony/universe/pkg/config"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, show and check settings files",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd(g), newConfigValidateCmd(g))
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a settings file with the defaults",
		Long: `Write a settings file with the defaults. The format follows the extension:
.yaml and .yml write YAML, .json and .jsonc write JSON.

The defaults keep the server disabled and wallet sends refused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := config.FormatFromPath(path); err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			format := config.FormatYAML
			if g.jsonOutput {
				format = config.FormatJSON
			}
			data, err := config.Marshal(s, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

type validateOutput struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func newConfigValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the settings and report warnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			warnings, verr := s.Validate()

			out := validateOutput{Valid: verr == nil, Warnings: warnings}
			if verr != nil {
				out.Error = verr.Error()
			}
			w := cmd.OutOrStdout()
			if g.jsonOutput {
				if err := printJSON(w, out); err != nil {
					return err
				}
			} else {
				for _, warn := range warnings {
					fmt.Fprintf(w, "warning: %s\n", warn)
				}
				if verr == nil {
					fmt.Fprintln(w, "settings are valid")
				}
			}
			return verr
		},
	}
}
