package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/fluffypony/universe/pkg/protocol"
)

type versionOutput struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	Date            string `json:"date"`
	ProtocolVersion string `json:"protocol_version"`
	Go              string `json:"go"`
	OS              string `json:"os"`
	Arch            string `json:"arch"`
}

func buildVersion() versionOutput {
	out := versionOutput{
		Version:         Version,
		Commit:          Commit,
		Date:            BuildDate,
		ProtocolVersion: protocol.ProtocolVersion,
		Go:              runtime.Version(),
		OS:              runtime.GOOS,
		Arch:            runtime.GOARCH,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if out.Version == "dev" && info.Main.Version != "" {
			out.Version = info.Main.Version
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if out.Commit == "none" {
					out.Commit = setting.Value
				}
			case "vcs.time":
				if out.Date == "unknown" {
					out.Date = setting.Value
				}
			case "vcs.modified":
				if setting.Value == "true" {
					out.Commit += "-dirty"
				}
			}
		}
	}
	return out
}

func newVersionCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := buildVersion()
			if g.jsonOutput {
				return printJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tari-mcp %s (%s, %s)\n", out.Version, out.Commit, out.Date)
			fmt.Fprintf(cmd.OutOrStdout(), "MCP %s, %s %s/%s\n", out.ProtocolVersion, out.Go, out.OS, out.Arch)
			return nil
		},
	}
}
