package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the progress of a job on the cleaning service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.client().PollStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), st)
			}
			printDetail(cmd.OutOrStdout(), [][2]string{
				{"Status", st.Status},
				{"Progress", strconv.Itoa(st.Progress) + "%"},
				{"Current step", st.CurrentStep},
			})
			return nil
		},
	}
}
