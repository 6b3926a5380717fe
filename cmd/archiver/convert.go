package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bgm-archive/archiver/internal/convert"
	"github.com/bgm-archive/archiver/internal/ui"
)

var convertCmd = &cobra.Command{
	Use:     "convert [pair...]",
	GroupID: "pipeline",
	Short:   "Convert new HTML captures to JSON",
	Long: `Walk each source repository from its conversion watermark to HEAD and
commit the converted artifacts to the target repository. Without arguments
every configured pair is converted.

A single-pair run that converted the commit right after its watermark, and
finished within the sample budget, is followed by a spot check.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, _, cleanup := openApp(cmd)
		defer cleanup()

		summary := a.Convert(cmd.Context(), args...)
		if wantJSON(cmd) {
			if err := printJSON(summary); err != nil {
				exit(cleanup, err)
			}
		} else {
			printSummary(summary)
		}
		if summary.Failed() {
			exit(cleanup, nil)
		}
	},
}

func printSummary(s convert.RunSummary) {
	sections := make([]ui.Section, 0, len(s.Reports))
	for _, r := range s.Reports {
		rows := map[string]string{
			"state":     string(r.State),
			"range":     ui.Short(r.From) + " → " + ui.Short(r.To),
			"converted": ui.Count(r.Converted),
			"admin":     ui.Count(r.Admin),
			"failed":    ui.Count(r.Failed),
			"files":     ui.Count(r.Files),
			"duration":  r.Duration.String(),
		}
		if r.Skipped {
			rows["skipped"] = ui.RenderWarn("lock busy")
		}
		if r.FileFailures > 0 {
			rows["file failures"] = ui.RenderWarn(strconv.Itoa(r.FileFailures))
		}
		if r.Sample != nil {
			rows["spot check"] = fmt.Sprintf("%s: %d sampled, %d holes", r.Sample.Category, len(r.Sample.Sampled), len(r.Sample.Holes))
		}
		if r.Err != nil {
			rows["error"] = ui.RenderFail(r.Err.Error())
		}

		mark := ui.RenderPass("✓")
		if r.State == convert.StateFailed {
			mark = ui.RenderFail("✗")
		} else if r.Err != nil {
			mark = ui.RenderWarn("⚠")
		}
		sections = append(sections, ui.Section{Title: mark + " " + r.Repo, Rows: rows})
	}
	if err := ui.WriteSections(os.Stdout, sections...); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

func init() {
	rootCmd.AddCommand(convertCmd)
}
