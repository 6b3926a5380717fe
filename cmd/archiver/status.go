package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bgm-archive/archiver/internal/api"
	"github.com/bgm-archive/archiver/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status [pair...]",
	GroupID: "admin",
	Short:   "Show repository sizes, heads, watermarks and lag",
	Run: func(cmd *cobra.Command, args []string) {
		a, _, cleanup := openApp(cmd)
		defer cleanup()

		names := args
		if len(names) == 0 {
			names = a.Pairs()
		}

		statuses := make([]api.RepoStatus, 0, len(names))
		for _, name := range names {
			st, err := a.Status(cmd.Context(), name)
			if err != nil {
				exit(cleanup, err)
			}
			statuses = append(statuses, st)
		}

		if wantJSON(cmd) {
			if err := printJSON(statuses); err != nil {
				exit(cleanup, err)
			}
			return
		}

		sections := make([]ui.Section, 0, len(statuses))
		for _, st := range statuses {
			rows := map[string]string{
				"source head": ui.Short(st.SourceHead) + " (" + st.SourceHuman + ")",
				"target head": ui.Short(st.TargetHead) + " (" + st.TargetHuman + ")",
				"lag":         ui.Count(st.Lag) + " commits",
			}
			for scope, commit := range st.Watermarks {
				rows[scope] = ui.Short(commit)
			}
			title := ui.RenderPass(st.Name)
			if st.Lag > 0 {
				title = ui.RenderWarn(st.Name)
			}
			sections = append(sections, ui.Section{Title: title, Rows: rows})
		}
		if err := ui.WriteSections(os.Stdout, sections...); err != nil {
			exit(cleanup, err)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
