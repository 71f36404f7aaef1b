package portal

import (
	"context"
	"time"

	"horario-backend/internal/chrono"
	"horario-backend/internal/schedule"
	"horario-backend/internal/telemetry"
)

// Options describes the portal being driven.
type Options struct {
	LoginURL    string
	LandingURL  string
	ScheduleURL string
	// FallbackScheduleURLs are tried in order when ScheduleURL cannot be loaded.
	FallbackScheduleURLs []string

	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	CourseMarker     string

	// CookieDomain is the parent domain cookies are replayed on, when empty it is
	// derived from LoginURL.
	CookieDomain      string
	TypingDelay       time.Duration
	NavigationTimeout time.Duration
}

// navigationContext bounds a single navigation, a zero NavigationTimeout leaves it to ctx.
func (o Options) navigationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.NavigationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.NavigationTimeout)
}

// DefaultOptions returns the options for the UDLAP intranet.
func DefaultOptions() Options {
	return Options{
		LoginURL:         "https://online.udlap.mx/intranet/Login/Index",
		LandingURL:       "https://online.udlap.mx/intranet/Home/Index",
		ScheduleURL:      "https://intranet.udlap.mx/ConsultaHorarioAlumno/default.aspx",
		UsernameSelector: "#username",
		PasswordSelector: "#password",
		SubmitSelector:   "#btnAceptar",
		CourseMarker:     schedule.CourseMarker,

		TypingDelay:       time.Millisecond * 50,
		NavigationTimeout: time.Second * 30,
	}
}

type coreConfig struct {
	tel  telemetry.API
	time chrono.TimeAPI
}

// CoreOption customizes the collaborators of an Authenticator or Fetcher.
type CoreOption func(cfg *coreConfig)

func WithCustomTelemetryAPI(tel telemetry.API) CoreOption {
	return func(cfg *coreConfig) {
		cfg.tel = tel
	}
}

func WithCustomTimeAPI(time chrono.TimeAPI) CoreOption {
	return func(cfg *coreConfig) {
		cfg.time = time
	}
}

func newCoreConfig(namespace string, options []CoreOption) coreConfig {
	cfg := coreConfig{
		tel:  telemetry.SlogAPI{},
		time: chrono.NewStandardTime(),
	}
	for _, opt := range options {
		opt(&cfg)
	}
	cfg.tel = telemetry.NewScopedAPI(namespace, cfg.tel)
	return cfg
}
