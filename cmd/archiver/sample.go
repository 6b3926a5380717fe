package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgm-archive/archiver/internal/ui"
)

var sampleCmd = &cobra.Command{
	Use:     "sample <pair> <category>",
	GroupID: "admin",
	Short:   "Draw a spot check for one category, rebuilding the hidden mask",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, _, cleanup := openApp(cmd)
		defer cleanup()

		res, err := a.Sample(cmd.Context(), args[0], args[1])
		if err != nil {
			exit(cleanup, err)
		}
		if wantJSON(cmd) {
			if err := printJSON(res); err != nil {
				exit(cleanup, err)
			}
			return
		}

		fmt.Printf("%s %s: max id %s, %d sampled, %d holes\n",
			ui.RenderPass("✓"), res.Category, ui.Count(res.MaxID), len(res.Sampled), len(res.Holes))
		if res.Drained {
			fmt.Printf("   %s id space exhausted, sampled mask reset\n", ui.RenderWarn("⚠"))
		}
	},
}

func init() {
	rootCmd.AddCommand(sampleCmd)
}
