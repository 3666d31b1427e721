package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(paramsCmd)
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "List the parameters that can be logged. With --osid, only those available on that operating system.",
	RunE: func(cmd *cobra.Command, args []string) error {
		available := vpw.Parameters
		if osid != 0 {
			available = vpw.AvailableParameters(osid)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tName\tUnit\tKind\tSource")
		for _, id := range vpw.ParameterIDs() {
			p, ok := available[id]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Unit, p.Kind, parameterSource(p))
		}
		return w.Flush()
	},
}

func parameterSource(p *vpw.Parameter) string {
	if p.Kind == vpw.KindDerived {
		return p.X.Parameter.ID + ", " + p.Y.Parameter.ID
	}
	if p.DefineBy == vpw.DefineByAddress {
		return fmt.Sprintf("RAM (%d bytes)", p.ByteCount)
	}
	return fmt.Sprintf("PID %04X (%d bytes)", p.PID, p.ByteCount)
}
