package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgm-archive/archiver/internal/ui"
)

var propagateCmd = &cobra.Command{
	Use:     "propagate [pair...]",
	GroupID: "pipeline",
	Short:   "Load JSON changes into the database",
	Run: func(cmd *cobra.Command, args []string) {
		a, _, cleanup := openApp(cmd)
		defer cleanup()

		results, err := a.Propagate(cmd.Context(), args...)
		if wantJSON(cmd) {
			if err := printJSON(results); err != nil {
				exit(cleanup, err)
			}
		} else {
			for _, r := range results {
				fmt.Printf("%s %s: %s applied, %s deleted, %s skipped, %s users merged (%s → %s)\n",
					ui.RenderPass("✓"), r.Pair, ui.Count(r.Applied), ui.Count(r.Deleted),
					ui.Count(r.Skipped), ui.Count(r.Dedup.Merged), ui.Short(r.From), ui.Short(r.To))
				for _, name := range r.Dedup.Conflicts {
					fmt.Printf("   %s username %q belongs to several users\n", ui.RenderWarn("⚠"), name)
				}
				if r.FileFailures > 0 {
					fmt.Printf("   %s %d files failed, see the log\n", ui.RenderWarn("⚠"), r.FileFailures)
				}
			}
		}
		if err != nil {
			exit(cleanup, err)
		}
	},
}

func init() {
	rootCmd.AddCommand(propagateCmd)
}
