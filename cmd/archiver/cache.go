package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgm-archive/archiver/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:     "cache [pair...]",
	GroupID: "pipeline",
	Short:   "Index which commits touched which JSON artifacts",
	Run: func(cmd *cobra.Command, args []string) {
		a, _, cleanup := openApp(cmd)
		defer cleanup()

		results, err := a.BuildCache(cmd.Context(), args...)
		if wantJSON(cmd) {
			if err := printJSON(results); err != nil {
				exit(cleanup, err)
			}
		} else {
			for _, r := range results {
				fmt.Printf("%s %s: %s commits indexed, %s failed, %s files (%s → %s)\n",
					ui.RenderPass("✓"), r.RepoID, ui.Count(r.Succeeded), ui.Count(r.Failed),
					ui.Count(r.Files), ui.Short(r.From), ui.Short(r.To))
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
	rootCmd.AddCommand(cacheCmd)
}
