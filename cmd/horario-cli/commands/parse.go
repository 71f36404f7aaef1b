package commands

import (
	"fmt"
	"os"

	"horario-backend/internal/schedule"

	"github.com/spf13/cobra"
)

var marker *string

func init() {
	marker = parseCmd.Flags().String("marker", schedule.CourseMarker, "Class carried by course rows.")
	rootCmd.AddCommand(parseCmd)
}

var parseCmd = &cobra.Command{
	Use:   "parse <path/to/page.html>",
	Short: "Parses a saved schedule page and prints the entries found in it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		rows, err := schedule.RowsFromHTMLWithMarker(f, *marker)
		if err != nil {
			return fmt.Errorf("read rows: %w", err)
		}
		courses := 0
		for _, row := range rows {
			if row.IsCourse {
				courses++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rows, %d course rows\n", len(rows), courses)

		renderSchedule(cmd.OutOrStdout(), schedule.Parse(rows))
		return nil
	},
}
