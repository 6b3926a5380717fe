package main

import (
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "pipeline",
	Short:   "Serve HTTP triggers, queries and the event stream",
	Long: `Start the HTTP server.

Mutating endpoints require the configured secret as the "secret" query parameter:
  POST /api/convert?repo=     run the conversion pipeline (all pairs if omitted)
  POST /api/cache?repo=       build the commit to file index
  POST /api/propagate?repo=   load JSON changes into the database
  POST /api/watermark?scope=&commit=

Read endpoints:
  GET /api/watermark?scope=
  GET /api/repos/{repo}/status
  GET /api/topics/{category}/{id}/timestamps
  GET /api/topics/{category}/{id}?at=
  GET /healthz, /metrics, /ws

With --watch the source repositories are also watched for new commits.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, logger, cleanup := openApp(cmd)
		defer cleanup()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		watch, _ := cmd.Flags().GetBool("watch")
		debounce, _ := cmd.Flags().GetDuration("debounce")

		var wg conc.WaitGroup
		if watch {
			wg.Go(func() {
				if err := a.Watch(ctx, debounce); err != nil {
					logger.Error("watcher stopped", zap.Error(err))
				}
			})
		}

		err := a.Serve(ctx)
		cancel()
		wg.Wait()
		if err != nil {
			exit(cleanup, err)
		}
	},
}

func init() {
	serveCmd.Flags().Bool("watch", false, "Also convert when source refs move")
	serveCmd.Flags().Duration("debounce", 2*time.Second, "Quiet period before a watched change triggers a run")
	rootCmd.AddCommand(serveCmd)
}
