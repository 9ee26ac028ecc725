package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fluffypony/universe/pkg/host"
	"github.com/fluffypony/universe/pkg/protocol"
	"github.com/fluffypony/universe/pkg/registry"
)

type catalogOutput struct {
	Resources []protocol.Resource `json:"resources"`
	Tools     []protocol.Tool     `json:"tools"`
	Prompts   []protocol.Prompt   `json:"prompts"`
}

func newCatalogCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the resources, tools and prompts the server exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := registry.New(host.NewSimulator().Collaborators())
			if err != nil {
				return err
			}
			out := catalogOutput{
				Resources: reg.Resources(),
				Tools:     reg.Tools(),
				Prompts:   reg.Prompts(),
			}
			if g.jsonOutput {
				return printJSON(cmd.OutOrStdout(), out)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tNAME\tCAPABILITY\tDESCRIPTION")
			for _, e := range reg.List(registry.KindResource) {
				fmt.Fprintf(tw, "resource\t%s\t%s\t%s\n", e.Name(), capabilityLabel(e.RequiredCapability()), e.Description())
			}
			for _, e := range reg.List(registry.KindTool) {
				fmt.Fprintf(tw, "tool\t%s\t%s\t%s\n", e.Name(), capabilityLabel(e.RequiredCapability()), e.Description())
			}
			for _, p := range out.Prompts {
				fmt.Fprintf(tw, "prompt\t%s\t-\t%s\n", p.Name, p.Description)
			}
			return tw.Flush()
		},
	}
}

func capabilityLabel(c registry.Capability) string {
	if c == registry.CapabilityNone {
		return "-"
	}
	return string(c)
}
