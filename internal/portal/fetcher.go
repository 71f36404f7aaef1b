package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"horario-backend/internal/assert"
	"horario-backend/internal/browser"
	"horario-backend/internal/schedule"
	"horario-backend/internal/session"
	"horario-backend/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// loadCriteria are tried in order, some portal pages keep long-polling and never settle.
var loadCriteria = []browser.WaitUntil{
	browser.WaitNetworkAlmostIdle,
	browser.WaitDOMContentLoaded,
}

// Fetcher replays stored sessions to scrape the class schedule.
type Fetcher struct {
	provider     browser.Provider
	store        session.Store
	opts         Options
	parentDomain string
	tel          telemetry.API
}

func NewFetcher(provider browser.Provider, store session.Store, opts Options, options ...CoreOption) (Fetcher, error) {
	assert.NotNil(provider, "browser provider")
	assert.NotNil(store, "session store")
	assert.NotEmptyStr(opts.ScheduleURL, "schedule url")
	assert.NotEmptyStr(opts.UsernameSelector, "username selector")
	if opts.CourseMarker == "" {
		opts.CourseMarker = schedule.CourseMarker
	}

	parent := opts.CookieDomain
	if parent == "" {
		var err error
		parent, err = ParentDomain(opts.LoginURL)
		if err != nil {
			return Fetcher{}, fmt.Errorf("derive cookie domain: %w", err)
		}
	}

	cfg := newCoreConfig("portal", options)
	return Fetcher{
		provider:     provider,
		store:        store,
		opts:         opts,
		parentDomain: parent,
		tel:          cfg.tel,
	}, nil
}

// FetchSchedule opens a fresh page authenticated with the user's stored session and
// returns the schedule entries found on the schedule page, which may be none.
func (f Fetcher) FetchSchedule(ctx context.Context, user string) (entries []schedule.Entry, err error) {
	ctx, span := tracer.Start(ctx, "Fetcher.FetchSchedule")
	defer span.End()
	defer func() {
		countOutcome(ctx, fetchCounter, err)
	}()
	span.SetAttributes(attribute.String("portal.user", user))

	unlock, err := f.store.Lock(ctx, user)
	if err != nil {
		return nil, &NavigationError{Step: "wait for pending requests", Err: err}
	}
	defer unlock()

	sess, err := f.store.Get(ctx, user)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		f.tel.ReportBroken(report_fetcher_fetch, fmt.Errorf("read session: %w", err), user)
		return nil, err
	}

	err = browser.Use(ctx, f.provider, func(page browser.Page) error {
		page.OnRequestFailed(func(failure browser.RequestFailure) {
			f.tel.ReportWarning(report_fetcher_subresource, failure.URL, failure.Reason)
		})

		var err error
		entries, err = f.scrape(ctx, page, sess)
		return err
	})
	if err != nil {
		var navErr *NavigationError
		var extractErr *ExtractError
		if !errors.As(err, &navErr) && !errors.As(err, &extractErr) && !errors.Is(err, ErrSessionExpired) {
			err = &NavigationError{Step: "browser", Err: err}
		}
		if !errors.Is(err, ErrSessionExpired) {
			f.tel.ReportBroken(report_fetcher_fetch, err, user)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch schedule failed")
		return nil, err
	}

	f.tel.ReportCount(report_fetcher_entries, int64(len(entries)))
	return entries, nil
}

func (f Fetcher) scrape(ctx context.Context, page browser.Page, sess session.Session) ([]schedule.Entry, error) {
	err := page.SetCookies(ctx, NormalizeCookies(sess.Cookies, f.parentDomain))
	if err != nil {
		return nil, &NavigationError{Step: "inject cookies", Err: err}
	}
	err = page.SetBasicAuth(ctx, sess.User, sess.Password)
	if err != nil {
		return nil, &NavigationError{Step: "set basic auth", Err: err}
	}

	if f.opts.LandingURL != "" {
		err = f.load(ctx, page, f.opts.LandingURL)
		if err != nil {
			return nil, err
		}
		loggedOut, err := page.Has(ctx, f.opts.UsernameSelector)
		if err != nil {
			return nil, &NavigationError{Step: "check session", URL: f.opts.LandingURL, Err: err}
		}
		if loggedOut {
			current, err := page.URL(ctx)
			if err != nil {
				current = f.opts.LandingURL
			}
			f.tel.ReportWarning(report_fetcher_expired, sess.User, current)
			return nil, ErrSessionExpired
		}
	}

	targets := append([]string{f.opts.ScheduleURL}, f.opts.FallbackScheduleURLs...)
	var loadErrs []error
	loaded := false
	for _, target := range targets {
		err = f.load(ctx, page, target)
		if err == nil {
			loaded = true
			break
		}
		loadErrs = append(loadErrs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if !loaded {
		if len(loadErrs) == 1 {
			return nil, loadErrs[0]
		}
		return nil, &NavigationError{Step: "load schedule", Err: errors.Join(loadErrs...)}
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, &ExtractError{Err: err}
	}
	rows, err := schedule.RowsFromHTMLWithMarker(strings.NewReader(html), f.opts.CourseMarker)
	if err != nil {
		return nil, &ExtractError{Err: err}
	}
	return schedule.Parse(rows), nil
}

// load navigates to target trying every criterion in loadCriteria until one succeeds.
func (f Fetcher) load(ctx context.Context, page browser.Page, target string) error {
	var errs []error
	for _, until := range loadCriteria {
		navCtx, cancel := f.opts.navigationContext(ctx)
		err := page.Navigate(navCtx, target, until)
		cancel()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", until, err))
		if ctx.Err() != nil {
			break
		}
		f.tel.ReportWarning(report_fetcher_navigate, target, until.String(), err)
	}
	return &NavigationError{Step: "load", URL: target, Err: errors.Join(errs...)}
}
