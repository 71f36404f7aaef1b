// Package application assembles the portal pipeline out of a config.Config.
package application

import (
	"errors"
	"fmt"

	"horario-backend/internal/browser"
	"horario-backend/internal/browser/httpbrowser"
	"horario-backend/internal/browser/rodbrowser"
	"horario-backend/internal/config"
	"horario-backend/internal/portal"
	"horario-backend/internal/session"
	"horario-backend/internal/telemetry"
	"horario-backend/lib/restyutil"
)

// App is a fully wired pipeline. Close releases the browser driver.
type App struct {
	Provider      browser.Provider
	Store         *session.MemoryStore
	Authenticator portal.Authenticator
	Fetcher       portal.Fetcher
	Options       portal.Options

	close func() error
}

// NewProvider builds the browser driver selected by cfg.Driver.
func NewProvider(cfg config.BrowserConfig, tel telemetry.API) (browser.Provider, func() error, error) {
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Driver {
	case config.DriverRod:
		provider, err := rodbrowser.NewProvider(rodbrowser.Options{
			Bin:            cfg.Bin,
			RemoteURL:      cfg.RemoteURL,
			Headless:       !cfg.ShowWindow,
			NoSandbox:      cfg.NoSandbox,
			UserAgent:      cfg.UserAgent,
			OpensPerSecond: cfg.OpensPerSecond,
		}, tel)
		if err != nil {
			return nil, nil, err
		}
		return provider, provider.Close, nil
	case config.DriverHTTP:
		opts := httpbrowser.Options{
			UserAgent:        cfg.UserAgent,
			Timeout:          timeout,
			OpensPerSecond:   cfg.OpensPerSecond,
			CloudflareBypass: !cfg.NoCloudflareBypass,
		}
		if cfg.DumpDir != "" {
			output, err := restyutil.NewFilesystemOutput(cfg.DumpDir)
			if err != nil {
				return nil, nil, fmt.Errorf("dump dir: %w", err)
			}
			opts.Dump = output
		}
		provider := httpbrowser.NewProvider(opts, tel)
		return provider, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
}

// New wires a provider, an in-memory session store, an authenticator and a fetcher.
func New(cfg config.Config, tel telemetry.API) (*App, error) {
	opts, err := cfg.Portal.Options()
	if err != nil {
		return nil, err
	}
	provider, closeProvider, err := NewProvider(cfg.Browser, tel)
	if err != nil {
		return nil, fmt.Errorf("browser driver: %w", err)
	}
	app, err := Assemble(provider, opts, tel)
	if err != nil {
		return nil, errors.Join(err, closeProvider())
	}
	app.close = closeProvider
	return app, nil
}

// Assemble wires the pipeline around an existing provider.
func Assemble(provider browser.Provider, opts portal.Options, tel telemetry.API) (*App, error) {
	store, err := session.NewMemoryStore()
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	fetcher, err := portal.NewFetcher(provider, store, opts, portal.WithCustomTelemetryAPI(tel))
	if err != nil {
		return nil, err
	}
	return &App{
		Provider:      provider,
		Store:         store,
		Authenticator: portal.NewAuthenticator(provider, store, opts, portal.WithCustomTelemetryAPI(tel)),
		Fetcher:       fetcher,
		Options:       opts,
		close:         func() error { return nil },
	}, nil
}

func (a *App) Close() error {
	return a.close()
}
