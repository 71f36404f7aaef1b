// Package service exposes the portal pipeline over HTTP.
package service

import (
	"context"

	"horario-backend/internal/assert"
	"horario-backend/internal/portal"
	"horario-backend/internal/schedule"
	"horario-backend/internal/telemetry"
)

// PortalAPI is everything the HTTP surface needs from the portal.
//
// note: fault injection point
type PortalAPI interface {
	// Login signs the user in and stores their session, replacing any previous one.
	Login(ctx context.Context, username, password string) error
	// FetchSchedule scrapes the schedule of a user that has logged in before.
	FetchSchedule(ctx context.Context, user string) ([]schedule.Entry, error)
}

type portalAPI struct {
	portal.Authenticator
	portal.Fetcher
}

// NewPortalAPI joins an authenticator and a fetcher sharing the same session store.
func NewPortalAPI(auth portal.Authenticator, fetcher portal.Fetcher) PortalAPI {
	return portalAPI{Authenticator: auth, Fetcher: fetcher}
}

const (
	report_service_login    = "service.login"
	report_service_schedule = "service.schedule"
	report_service_encode   = "service.encode"
)

// Service implements the HTTP API.
type Service struct {
	api PortalAPI
	tel telemetry.API
}

type serviceConfig struct {
	tel telemetry.API
}

type Option func(cfg *serviceConfig)

func WithCustomTelemetryAPI(tel telemetry.API) Option {
	return func(cfg *serviceConfig) {
		cfg.tel = tel
	}
}

func NewService(api PortalAPI, options ...Option) Service {
	assert.NotNil(api, "portal api")

	cfg := serviceConfig{}
	for _, opt := range options {
		opt(&cfg)
	}

	s := Service{
		api: api,
		tel: telemetry.SlogAPI{},
	}
	if cfg.tel != nil {
		s.tel = cfg.tel
	}
	s.tel = telemetry.NewScopedAPI("service", s.tel)
	return s
}
