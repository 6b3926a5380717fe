package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgm-archive/archiver/internal/ui"
)

var watermarkCmd = &cobra.Command{
	Use:     "watermark",
	GroupID: "admin",
	Short:   "Read or override watermarks",
	Long: `Watermarks record the last processed commit per scope:
  convert:<pair>   source commit converted into the target repository
  cache:<pair>     target commit indexed into the commit/file tables
  db:<pair>        target commit propagated into the database`,
}

var watermarkGetCmd = &cobra.Command{
	Use:   "get <scope>",
	Short: "Print the current watermark of a scope",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, _, cleanup := openApp(cmd)
		defer cleanup()

		commit, err := a.Watermark(cmd.Context(), args[0])
		if err != nil {
			exit(cleanup, err)
		}
		fmt.Println(commit)
	},
}

var watermarkSetCmd = &cobra.Command{
	Use:   "set <scope> <ref>",
	Short: "Set a watermark, skipping the ancestry check",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, _, cleanup := openApp(cmd)
		defer cleanup()

		commit, err := a.OverrideWatermark(cmd.Context(), args[0], args[1])
		if err != nil {
			exit(cleanup, err)
		}
		fmt.Printf("%s %s → %s\n", ui.RenderPass("✓"), args[0], commit)
	},
}

func init() {
	watermarkCmd.AddCommand(watermarkGetCmd, watermarkSetCmd)
	rootCmd.AddCommand(watermarkCmd)
}
