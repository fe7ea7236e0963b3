package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dataclean/cleanctl/internal/models"
	"github.com/dataclean/cleanctl/internal/report"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		export string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past processing runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hist, err := a.openHistory()
			if err != nil {
				return err
			}
			if hist == nil {
				return errors.New("history is disabled: enable storage persistence in the config")
			}
			defer hist.Close()

			runs, err := hist.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if export != "" {
				if err := exportRuns(export, runs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d runs to %s\n", len(runs), export)
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			printTable(cmd.OutOrStdout(),
				[]string{"finished", "file", "status", "rows", "seconds", "message"},
				runRows(runs))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&export, "export", "", "Also write the runs to this .xlsx file")
	return cmd
}

func runRows(runs []models.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		status, rowCount, seconds, message := "", "0", "0.00", ""
		if r.Result != nil {
			status = string(r.Result.Status)
			rowCount = strconv.Itoa(r.Result.Statistics.TotalRows)
			seconds = fmt.Sprintf("%.2f", r.Result.ProcessingTime)
			message = r.Result.Message
		}
		rows = append(rows, []string{
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			r.FileName,
			status,
			rowCount,
			seconds,
			message,
		})
	}
	return rows
}

func exportRuns(path string, runs []models.Run) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteRuns(f, runs); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
