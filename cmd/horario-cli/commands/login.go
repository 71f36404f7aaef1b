package commands

import (
	"errors"
	"os"

	"horario-backend/internal/application"
	"horario-backend/internal/telemetry"

	"github.com/spf13/cobra"
)

type credentials struct {
	username *string
	password *string
}

func credentialFlags(cmd *cobra.Command) credentials {
	return credentials{
		username: cmd.Flags().StringP("username", "u", "", "Student id."),
		password: cmd.Flags().StringP("password", "p", "", "Password, HORARIO_PASSWORD is used when empty."),
	}
}

func (c credentials) get() (string, string, error) {
	password := *c.password
	if password == "" {
		password = os.Getenv("HORARIO_PASSWORD")
	}
	if *c.username == "" || password == "" {
		return "", "", errors.New("--username and --password (or HORARIO_PASSWORD) are required")
	}
	return *c.username, password, nil
}

// login builds the pipeline from the config and signs in, the caller closes the app.
func login(cmd *cobra.Command, creds credentials) (*application.App, string, error) {
	username, password, err := creds.get()
	if err != nil {
		return nil, "", err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	app, err := application.New(cfg, telemetry.SlogAPI{})
	if err != nil {
		return nil, "", err
	}
	err = app.Authenticator.Login(cmd.Context(), username, password)
	if err != nil {
		return nil, "", errors.Join(err, app.Close())
	}
	return app, username, nil
}
