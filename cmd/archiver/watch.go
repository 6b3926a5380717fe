package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bgm-archive/archiver/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "pipeline",
	Short:   "Convert each pair whenever its source repository gets new commits",
	Run: func(cmd *cobra.Command, args []string) {
		a, _, cleanup := openApp(cmd)
		defer cleanup()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		debounce, _ := cmd.Flags().GetDuration("debounce")
		fmt.Printf("%s Watching %d repositories, press Ctrl+C to stop\n", ui.RenderAccent("→"), len(a.Pairs()))
		if err := a.Watch(ctx, debounce); err != nil {
			exit(cleanup, err)
		}
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", 2*time.Second, "Quiet period before a change triggers a run")
	rootCmd.AddCommand(watchCmd)
}
