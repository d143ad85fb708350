package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/passport/internal/types"
	"github.com/spf13/cobra"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the supported document sizes",
	Run: func(cmd *cobra.Command, args []string) {
		listPresets(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}

func listPresets(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tDOCUMENT\tSIZE (PX)\tTOP\tEYES\tCHIN")
	fmt.Fprintln(w, "----\t--------\t---------\t---\t----\t----")

	for _, name := range types.PresetNames() {
		spec := types.Presets[name]
		g := spec.Guides()
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%.0f\t%.0f\t%.0f\n",
			name, types.PresetLabels[name], spec.Width, spec.Height, g.TopY, g.EyeY, g.ChinY)
	}
	w.Flush()
}
