// Package rodbrowser drives Chromium over the DevTools protocol with go-rod. Every page gets its
// own browser context: either a freshly launched browser process or an incognito context of a
// long running remote browser.
package rodbrowser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"horario-backend/internal/browser"
	"horario-backend/internal/telemetry"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	report_provider_open  = "provider.open"
	report_page_close     = "page.close"
	report_page_listeners = "page.listeners"
	report_page_auth      = "page.auth"
)

type Options struct {
	// Bin is the Chromium executable, empty lets the launcher find or download one.
	Bin string
	// RemoteURL is the DevTools websocket of an already running browser, when set pages are
	// opened as incognito contexts of it instead of launching a process per page.
	RemoteURL string
	Headless  bool
	NoSandbox bool
	UserAgent string
	// OpensPerSecond limits how many pages can be opened each second, 0 disables the limit.
	OpensPerSecond float64
}

type Provider struct {
	opts    Options
	limiter *rate.Limiter
	tel     telemetry.API

	remote       *rod.Browser
	cancelRemote context.CancelFunc
}

// NewProvider connects to opts.RemoteURL when it is set.
func NewProvider(opts Options, tel telemetry.API) (*Provider, error) {
	limit := rate.Inf
	burst := 1
	if opts.OpensPerSecond > 0 {
		limit = rate.Limit(opts.OpensPerSecond)
		burst = int(math.Ceil(opts.OpensPerSecond))
	}

	p := &Provider{
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		tel:     telemetry.NewScopedAPI("rodbrowser", tel),
	}
	if opts.RemoteURL == "" {
		return p, nil
	}

	remoteCtx, cancel := context.WithCancel(context.Background())
	remote := rod.New().ControlURL(opts.RemoteURL).Context(remoteCtx)
	err := remote.Connect()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect %s: %w", opts.RemoteURL, err)
	}
	p.remote = remote
	p.cancelRemote = cancel
	return p, nil
}

// Close drops the connection to the remote browser, pages that are still open stop working.
func (p *Provider) Close() error {
	if p.cancelRemote != nil {
		p.cancelRemote()
	}
	return nil
}

// context returns a browser context nobody else uses and the function that disposes of it.
func (p *Provider) context() (*rod.Browser, func() error, error) {
	if p.remote != nil {
		incognito, err := p.remote.Incognito()
		if err != nil {
			return nil, nil, fmt.Errorf("incognito context: %w", err)
		}
		return incognito, incognito.Close, nil
	}

	l := launcher.New().
		Headless(p.opts.Headless).
		NoSandbox(p.opts.NoSandbox)
	if p.opts.Bin != "" {
		l = l.Bin(p.opts.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	err = b.Connect()
	if err != nil {
		l.Kill()
		l.Cleanup()
		return nil, nil, fmt.Errorf("connect browser: %w", err)
	}
	release := func() error {
		err := b.Close()
		l.Kill()
		l.Cleanup()
		return err
	}
	return b, release, nil
}

func (p *Provider) Open(ctx context.Context) (browser.Page, error) {
	err := p.limiter.Wait(ctx)
	if err != nil {
		return nil, err
	}

	b, release, err := p.context()
	if err != nil {
		return nil, err
	}

	rp, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create page: %w", err), release())
	}
	if p.opts.UserAgent != "" {
		err = rp.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: p.opts.UserAgent})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("set user agent: %w", err), release())
		}
	}
	err = proto.NetworkEnable{}.Call(rp)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("enable network events: %w", err), release())
	}

	id := uuid.NewString()
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	page := &Page{
		id:         id,
		page:       rp,
		release:    release,
		stopEvents: stopEvents,
		tel:        telemetry.NewScopedAPI(id, p.tel),
	}
	page.listen(eventsCtx)

	p.tel.ReportDebug(report_provider_open, id, p.opts.RemoteURL != "")
	return page, nil
}

// Page is a browser.Page backed by a rod page.
type Page struct {
	id         string
	page       *rod.Page
	release    func() error
	stopEvents context.CancelFunc
	tel        telemetry.API

	mu          sync.Mutex
	onFailed    []func(browser.RequestFailure)
	credentials *credentials
	challenged  map[proto.FetchRequestID]bool
	stopAuth    context.CancelFunc
	closed      bool
}

type credentials struct {
	username string
	password string
}

func (p *Page) listen(ctx context.Context) {
	// only touched by the EachEvent goroutine
	urls := map[proto.NetworkRequestID]string{}

	wait := p.page.Context(ctx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			urls[e.RequestID] = e.Request.URL
		},
		func(e *proto.NetworkLoadingFailed) {
			if e.Canceled {
				return
			}
			p.failed(browser.RequestFailure{URL: urls[e.RequestID], Reason: e.ErrorText})
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Response.Status < 400 {
				return
			}
			p.failed(browser.RequestFailure{
				URL:    e.Response.URL,
				Reason: strconv.Itoa(e.Response.Status),
			})
		},
	)
	go func() {
		wait()
		p.tel.ReportDebug(report_page_listeners, "stopped")
	}()
}

func (p *Page) failed(failure browser.RequestFailure) {
	p.mu.Lock()
	callbacks := append([]func(browser.RequestFailure){}, p.onFailed...)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(failure)
	}
}

func lifecycleEvent(until browser.WaitUntil) proto.PageLifecycleEventName {
	switch until {
	case browser.WaitDOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded
	case browser.WaitLoad:
		return proto.PageLifecycleEventNameLoad
	}
	return proto.PageLifecycleEventNameNetworkAlmostIdle
}

// waitFor runs action and blocks until the page reports the lifecycle event for until.
func (p *Page) waitFor(ctx context.Context, until browser.WaitUntil, action func(pg *rod.Page) error) error {
	pg := p.page.Context(ctx)
	wait := pg.WaitNavigation(lifecycleEvent(until))
	err := action(pg)
	if err != nil {
		return err
	}
	wait()
	if ctx.Err() != nil {
		return fmt.Errorf("wait for %s: %w", until, ctx.Err())
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string, until browser.WaitUntil) error {
	return p.waitFor(ctx, until, func(pg *rod.Page) error {
		err := pg.Navigate(url)
		if err != nil {
			return fmt.Errorf("navigate %s: %w", url, err)
		}
		return nil
	})
}

func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *Page) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := p.page.Context(ctx).Has(selector)
	return has, err
}

// element does not wait for selector to appear, the caller already waited for the page.
func (p *Page) element(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("%s: %w", selector, browser.ErrElementNotFound)
	}
	return el, nil
}

func (p *Page) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	for i, r := range text {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err = el.Input(string(r))
		if err != nil {
			return fmt.Errorf("type into %s: %w", selector, err)
		}
	}
	return nil
}

func (p *Page) Submit(ctx context.Context, selector string, until browser.WaitUntil) error {
	el, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	return p.waitFor(ctx, until, func(*rod.Page) error {
		err := el.Click(proto.InputMouseButtonLeft, 1)
		if err != nil {
			return fmt.Errorf("click %s: %w", selector, err)
		}
		return nil
	})
}

func (p *Page) Cookies(ctx context.Context, urls ...string) ([]browser.Cookie, error) {
	cookies, err := p.page.Context(ctx).Cookies(urls)
	if err != nil {
		return nil, err
	}

	out := make([]browser.Cookie, len(cookies))
	for i, c := range cookies {
		var expires time.Time
		if !c.Session {
			expires = c.Expires.Time()
		}
		out[i] = browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			HostOnly: !strings.HasPrefix(c.Domain, "."),
			Expires:  expires,
			SameSite: string(c.SameSite),
		}
	}
	return out, nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	params := make([]*proto.NetworkCookieParam, len(cookies))
	for i, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		}
		if !c.Expires.IsZero() {
			param.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		params[i] = param
	}
	return p.page.Context(ctx).SetCookies(params)
}

// SetBasicAuth answers the authentication challenges of the page with the credentials,
// requests that are never challenged do not carry them.
func (p *Page) SetBasicAuth(ctx context.Context, username, password string) error {
	p.mu.Lock()
	p.credentials = &credentials{username: username, password: password}
	if p.stopAuth != nil {
		p.mu.Unlock()
		return nil
	}
	authCtx, stop := context.WithCancel(context.Background())
	p.stopAuth = stop
	p.challenged = map[proto.FetchRequestID]bool{}
	p.mu.Unlock()

	// with no patterns every request of the page is paused and must be continued
	pg := p.page.Context(authCtx)
	wait := pg.EachEvent(
		func(e *proto.FetchRequestPaused) {
			go p.resume(pg, e.RequestID)
		},
		func(e *proto.FetchAuthRequired) {
			go p.answer(pg, e)
		},
	)
	go wait()

	err := proto.FetchEnable{HandleAuthRequests: true}.Call(p.page.Context(ctx))
	if err != nil {
		stop()
		p.mu.Lock()
		p.stopAuth = nil
		p.mu.Unlock()
		return fmt.Errorf("enable auth handling: %w", err)
	}
	return nil
}

func (p *Page) resume(pg *rod.Page, id proto.FetchRequestID) {
	err := proto.FetchContinueRequest{RequestID: id}.Call(pg)
	if err != nil && pg.GetContext().Err() == nil {
		p.tel.ReportWarning(report_page_auth, fmt.Errorf("continue request: %w", err))
	}
}

// answer provides the credentials once per request, a second challenge for the same request
// means they were rejected and is cancelled so the server's 401 reaches the page.
func (p *Page) answer(pg *rod.Page, e *proto.FetchAuthRequired) {
	p.mu.Lock()
	creds := p.credentials
	retry := p.challenged[e.RequestID]
	p.challenged[e.RequestID] = true
	p.mu.Unlock()

	response := &proto.FetchAuthChallengeResponse{
		Response: proto.FetchAuthChallengeResponseResponseCancelAuth,
	}
	if creds != nil && !retry {
		response = &proto.FetchAuthChallengeResponse{
			Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
			Username: creds.username,
			Password: creds.password,
		}
	}
	if retry {
		p.tel.ReportDebug(report_page_auth, "credentials rejected", e.AuthChallenge.Origin)
	}

	err := proto.FetchContinueWithAuth{
		RequestID:             e.RequestID,
		AuthChallengeResponse: response,
	}.Call(pg)
	if err != nil && pg.GetContext().Err() == nil {
		p.tel.ReportWarning(report_page_auth, fmt.Errorf("continue with auth: %w", err))
	}
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *Page) OnRequestFailed(fn func(browser.RequestFailure)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailed = append(p.onFailed, fn)
}

// Close closes the page and disposes of its browser context, killing the browser process
// when the page owns one.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stopAuth := p.stopAuth
	p.mu.Unlock()

	if stopAuth != nil {
		stopAuth()
	}
	p.stopEvents()

	err := errors.Join(p.page.Close(), p.release())
	if err != nil {
		p.tel.ReportBroken(report_page_close, err)
	} else {
		p.tel.ReportDebug(report_page_close)
	}
	return err
}
