package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"horario-backend/internal/assert"
	"horario-backend/internal/browser"
	"horario-backend/internal/chrono"
	"horario-backend/internal/session"
	"horario-backend/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Authenticator logs users into the portal and stores the resulting sessions.
type Authenticator struct {
	provider browser.Provider
	store    session.Store
	opts     Options
	tel      telemetry.API
	time     chrono.TimeAPI
}

func NewAuthenticator(provider browser.Provider, store session.Store, opts Options, options ...CoreOption) Authenticator {
	assert.NotNil(provider, "browser provider")
	assert.NotNil(store, "session store")
	assert.NotEmptyStr(opts.LoginURL, "login url")
	assert.NotEmptyStr(opts.UsernameSelector, "username selector")
	assert.NotEmptyStr(opts.PasswordSelector, "password selector")
	assert.NotEmptyStr(opts.SubmitSelector, "submit selector")

	cfg := newCoreConfig("portal", options)
	return Authenticator{
		provider: provider,
		store:    store,
		opts:     opts,
		tel:      cfg.tel,
		time:     cfg.time,
	}
}

// Login signs username in through the portal's login form and stores the cookies it
// produced along with the credentials. Either a complete session is stored or nothing is.
func (a Authenticator) Login(ctx context.Context, username, password string) (err error) {
	ctx, span := tracer.Start(ctx, "Authenticator.Login")
	defer span.End()
	defer func() {
		countOutcome(ctx, loginCounter, err)
	}()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrMissingCredentials
	}
	span.SetAttributes(attribute.String("portal.user", username))

	unlock, err := a.store.Lock(ctx, username)
	if err != nil {
		return &AuthError{Step: "wait for pending requests", Err: err}
	}
	defer unlock()

	var cookies []browser.Cookie
	err = browser.Use(ctx, a.provider, func(page browser.Page) error {
		var err error
		cookies, err = a.signIn(ctx, page, username, password)
		return err
	})
	if err != nil {
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			err = &AuthError{Step: "browser", Err: err}
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			a.tel.ReportBroken(report_authenticator_login, err, username)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return err
	}

	err = a.store.Put(ctx, session.Session{
		User:      username,
		Cookies:   cookies,
		Password:  password,
		CreatedAt: a.time.Now(),
	})
	if err != nil {
		a.tel.ReportBroken(report_authenticator_login, fmt.Errorf("store session: %w", err), username)
		span.SetStatus(codes.Error, "store session")
		return &AuthError{Step: "store session", Err: err}
	}

	a.tel.ReportDebug("logged in", username, len(cookies))
	return nil
}

func (a Authenticator) signIn(ctx context.Context, page browser.Page, username, password string) ([]browser.Cookie, error) {
	navCtx, cancel := a.opts.navigationContext(ctx)
	err := page.Navigate(navCtx, a.opts.LoginURL, browser.WaitNetworkAlmostIdle)
	cancel()
	if err != nil {
		return nil, &AuthError{Step: "open login page", Err: err}
	}

	err = page.Type(ctx, a.opts.UsernameSelector, username, a.opts.TypingDelay)
	if err != nil {
		return nil, &AuthError{Step: "type username", Err: err}
	}
	err = page.Type(ctx, a.opts.PasswordSelector, password, a.opts.TypingDelay)
	if err != nil {
		return nil, &AuthError{Step: "type password", Err: err}
	}

	navCtx, cancel = a.opts.navigationContext(ctx)
	err = page.Submit(navCtx, a.opts.SubmitSelector, browser.WaitNetworkAlmostIdle)
	cancel()
	if err != nil {
		return nil, &AuthError{Step: "submit login form", Err: err}
	}

	stillOnLogin, err := page.Has(ctx, a.opts.UsernameSelector)
	if err != nil {
		return nil, &AuthError{Step: "inspect login result", Err: err}
	}
	if stillOnLogin {
		return nil, &AuthError{Step: "inspect login result", Err: ErrInvalidCredentials}
	}

	urls := []string{a.opts.LoginURL}
	if a.opts.LandingURL != "" {
		urls = append(urls, a.opts.LandingURL)
	}
	cookies, err := page.Cookies(ctx, urls...)
	if err != nil {
		return nil, &AuthError{Step: "capture cookies", Err: err}
	}
	if len(cookies) == 0 {
		return nil, &AuthError{Step: "capture cookies", Err: ErrNoCookies}
	}
	return cookies, nil
}
