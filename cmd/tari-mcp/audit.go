package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluffypony/universe/pkg/audit"
)

func newAuditCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect audit log files",
	}
	cmd.AddCommand(newAuditVerifyCmd(g), newAuditTailCmd(g))
	return cmd
}

type verifyOutput struct {
	File    string `json:"file"`
	Records int    `json:"records"`
	Intact  bool   `json:"intact"`
	Error   string `json:"error,omitempty"`
}

func newAuditVerifyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check the digest chain of an audit file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := audit.ReadFile(args[0])
			if err != nil {
				return err
			}
			verr := audit.Verify(recs)

			out := verifyOutput{File: args[0], Records: len(recs), Intact: verr == nil}
			if verr != nil {
				out.Error = verr.Error()
			}
			w := cmd.OutOrStdout()
			if g.jsonOutput {
				if err := printJSON(w, out); err != nil {
					return err
				}
			} else if verr == nil {
				fmt.Fprintf(w, "%s: %d records, chain intact\n", out.File, out.Records)
			}
			return verr
		},
	}
}

func newAuditTailCmd(g *globalFlags) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail <file>",
		Short: "Print the last records of an audit file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := audit.ReadFile(args[0])
			if err != nil {
				return err
			}
			if n > 0 && len(recs) > n {
				recs = recs[len(recs)-n:]
			}

			w := cmd.OutOrStdout()
			if g.jsonOutput {
				if recs == nil {
					recs = []audit.Record{}
				}
				return printJSON(w, recs)
			}
			for _, rec := range recs {
				fmt.Fprintln(w, rec.String())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of records to print (0 prints all)")
	return cmd
}
