package commands

import (
	"errors"

	"horario-backend/internal/portal"

	"github.com/spf13/cobra"
)

var cookiesCreds credentials

func init() {
	cookiesCreds = credentialFlags(cookiesCmd)
	rootCmd.AddCommand(cookiesCmd)
}

var cookiesCmd = &cobra.Command{
	Use:   "cookies --username <id> [--password <password>]",
	Short: "Logs in and prints the captured cookies next to the ones replayed on the schedule page.",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		app, username, err := login(cmd, cookiesCreds)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, app.Close())
		}()

		sess, err := app.Store.Get(cmd.Context(), username)
		if err != nil {
			return err
		}
		parent := app.Options.CookieDomain
		if parent == "" {
			parent, err = portal.ParentDomain(app.Options.LoginURL)
			if err != nil {
				return err
			}
		}

		renderCookies(cmd.OutOrStdout(), "captured", sess.Cookies)
		renderCookies(cmd.OutOrStdout(), "replayed on ."+parent, portal.NormalizeCookies(sess.Cookies, parent))
		return nil
	},
}
