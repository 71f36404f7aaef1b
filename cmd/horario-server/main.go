package main

import (
	"context"
	"flag"
	"log/slog"

	"horario-backend/internal/application"
	"horario-backend/internal/config"
	"horario-backend/internal/service"
	"horario-backend/internal/telemetry"
	"horario-backend/lib/serviceutil"
)

func main() {
	configPath := flag.String("config", "config.json5", "Path to the config file, <name>.local.json5 is merged on top.")
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	cfg, err := config.Load(*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	InitTelemetry(ctx, *verbose || cfg.Verbose)
	if *verbose && cfg.Browser.DumpDir == "" {
		cfg.Browser.DumpDir = ".dev/resty/httpbrowser"
	}

	tel := telemetry.SlogAPI{}
	app, err := application.New(cfg, tel)
	if err != nil {
		serviceutil.Fatal("init portal", err)
	}
	defer func() {
		err := app.Close()
		if err != nil {
			slog.Error("close browser driver", "err", err)
		}
	}()

	telemetry.InstrumentPerfStats(ctx, app.Store.Len)

	slog.Info(
		"portal configured",
		"driver", cfg.Browser.Driver,
		"login_url", app.Options.LoginURL,
		"schedule_url", app.Options.ScheduleURL,
	)

	svc := service.NewService(
		service.NewPortalAPI(app.Authenticator, app.Fetcher),
		service.WithCustomTelemetryAPI(tel),
	)
	err = serviceutil.StartHttpServer(ctx, cfg.Host, cfg.Port, svc.Router())
	if err != nil {
		serviceutil.Fatal("serve http", err)
	}
}

func InitTelemetry(ctx context.Context, verbose bool) {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	providers, err := telemetry.SetupFromEnv(ctx, "horario-server")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		err := providers.Shutdown(context.Background())
		if err != nil {
			slog.Error("shutdown telemetry", "err", err)
		}
	}()
}
