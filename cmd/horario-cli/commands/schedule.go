package commands

import (
	"errors"

	"github.com/spf13/cobra"
)

var scheduleCreds credentials

func init() {
	scheduleCreds = credentialFlags(scheduleCmd)
	rootCmd.AddCommand(scheduleCmd)
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule --username <id> [--password <password>]",
	Short: "Logs in and prints the schedule of a student.",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		app, username, err := login(cmd, scheduleCreds)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, app.Close())
		}()

		entries, err := app.Fetcher.FetchSchedule(cmd.Context(), username)
		if err != nil {
			return err
		}
		renderSchedule(cmd.OutOrStdout(), entries)
		return nil
	},
}
