package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"horario-backend/internal/browser"
	"horario-backend/internal/browser/fakebrowser"
	"horario-backend/internal/chrono"
	"horario-backend/internal/schedule"
	"horario-backend/internal/session"
	"horario-backend/internal/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const (
	loginURL    = "https://online.udlap.mx/intranet/Login/Index"
	landingURL  = "https://online.udlap.mx/intranet/Home/Index"
	scheduleURL = "https://intranet.udlap.mx/ConsultaHorarioAlumno/default.aspx"
	fallbackURL = "https://online.udlap.mx/ConsultaHorarioAlumno/default.aspx"

	authCookie = ".ASPXAUTH"
)

const loginHTML = `<html><body><form action="/intranet/Login/Index" method="post">
	<input id="username" name="username">
	<input id="password" name="password" type="password">
	<button id="btnAceptar" type="submit">Aceptar</button>
</form></body></html>`

const scheduleHTML = `<html><body><table>
	<tr class="orange"><td>Cálculo I</td></tr>
	<tr><td>Horario: L M V 08:00-09:00</td></tr>
	<tr class="orange"><td>Física</td></tr>
	<tr><td>no schedule here</td></tr>
</table></body></html>`

var expectedEntries = []schedule.Entry{
	{Course: "Cálculo I", Days: "L M V", Time: "08:00-09:00"},
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.LoginURL = loginURL
	opts.LandingURL = landingURL
	opts.ScheduleURL = scheduleURL
	opts.TypingDelay = 0
	opts.NavigationTimeout = time.Second * 5
	return opts
}

func authenticated(v fakebrowser.View, page string) string {
	if !v.HasCookie(authCookie) {
		return loginHTML
	}
	return page
}

func portalSite(cookieValue string) fakebrowser.Site {
	return fakebrowser.Site{
		Documents: map[string]fakebrowser.Document{
			loginURL: {HTML: loginHTML},
			landingURL: {Render: func(v fakebrowser.View) string {
				return authenticated(v, "<h1>Bienvenido</h1>")
			}},
			scheduleURL: {Render: func(v fakebrowser.View) string {
				if v.BasicAuth[0] == "" {
					return "<h1>401 Unauthorized</h1>"
				}
				return authenticated(v, scheduleHTML)
			}},
		},
		Forms: map[string]fakebrowser.Form{
			"#btnAceptar": {
				Target: landingURL,
				SetCookies: []browser.Cookie{
					{Name: authCookie, Value: cookieValue, Domain: "online.udlap.mx", Path: "/", HostOnly: true, HTTPOnly: true},
					{Name: "tracking", Value: "x", Domain: "analytics.example.com", Path: "/"},
				},
			},
		},
	}
}

type harness struct {
	provider *fakebrowser.Provider
	store    *session.MemoryStore
	tel      *telemetry.Recorder
	auth     Authenticator
	fetcher  Fetcher
}

func newHarness(t *testing.T, site fakebrowser.Site, opts Options) harness {
	t.Helper()
	store, err := session.NewMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	h := harness{
		provider: fakebrowser.New(site),
		store:    store,
		tel:      &telemetry.Recorder{},
	}
	h.auth = NewAuthenticator(h.provider, store, opts,
		WithCustomTelemetryAPI(h.tel),
		WithCustomTimeAPI(chrono.FixedTime(time.Date(2026, 8, 10, 9, 0, 0, 0, chrono.Campus()))),
	)
	h.fetcher, err = NewFetcher(h.provider, store, opts, WithCustomTelemetryAPI(h.tel))
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestParentDomain(t *testing.T) {
	testCases := []struct {
		url    string
		expect string
	}{
		{url: "https://online.udlap.mx/intranet/Login/Index", expect: "udlap.mx"},
		{url: "https://intranet.udlap.mx/ConsultaHorarioAlumno/default.aspx", expect: "udlap.mx"},
		{url: "https://a.b.example.co.uk:8443/", expect: "example.co.uk"},
	}
	for _, test := range testCases {
		parent, err := ParentDomain(test.url)
		require.NoError(t, err)
		require.Equal(t, test.expect, parent)
	}

	_, err := ParentDomain("/relative/path")
	require.Error(t, err)
}

func TestNormalizeCookies(t *testing.T) {
	input := []browser.Cookie{
		{Name: "ASP.NET_SessionId", Value: "abc", Domain: "online.udlap.mx", HostOnly: true, Secure: false},
		{Name: authCookie, Value: "def", Domain: ".udlap.mx", Path: "/intranet", HTTPOnly: true, SameSite: "Lax"},
	}

	normalized := NormalizeCookies(input, "udlap.mx")
	expect := []browser.Cookie{
		{Name: "ASP.NET_SessionId", Value: "abc", Domain: ".udlap.mx", Path: "/", Secure: true},
		{Name: authCookie, Value: "def", Domain: ".udlap.mx", Path: "/intranet", Secure: true, HTTPOnly: true, SameSite: "Lax"},
	}
	require.Empty(t, cmp.Diff(expect, normalized))

	require.Equal(t, "online.udlap.mx", input[0].Domain)
	require.True(t, input[0].HostOnly)
	require.Equal(t, ".udlap.mx", NormalizeCookies(input, ".udlap.mx")[0].Domain)
}

func TestLoginThenFetch(t *testing.T) {
	h := newHarness(t, portalSite("token-1"), testOptions())
	ctx := context.Background()

	err := h.auth.Login(ctx, " 179763 ", "contraseña")
	require.NoError(t, err)

	stored, err := h.store.Get(ctx, "179763")
	require.NoError(t, err)
	require.Equal(t, "179763", stored.User)
	require.Equal(t, "contraseña", stored.Password)
	require.Len(t, stored.Cookies, 1)
	require.Equal(t, "token-1", stored.Cookies[0].Value)
	require.Equal(t, 2026, stored.CreatedAt.Year())

	entries, err := h.fetcher.FetchSchedule(ctx, "179763")
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(expectedEntries, entries))

	pages := h.provider.Pages()
	require.Len(t, pages, 2)
	require.Equal(t, 0, h.provider.Live())

	loginPage := pages[0]
	require.Equal(t, "179763", loginPage.Typed["#username"])
	require.Equal(t, "contraseña", loginPage.Typed["#password"])
	require.Equal(t, len("179763")+len([]rune("contraseña")), loginPage.Keystrokes)
	require.Equal(t, []fakebrowser.Visit{
		{URL: loginURL, Until: browser.WaitNetworkAlmostIdle},
		{URL: landingURL, Until: browser.WaitNetworkAlmostIdle},
	}, loginPage.Visits)

	fetchPage := pages[1]
	user, password := fetchPage.BasicAuth()
	require.Equal(t, "179763", user)
	require.Equal(t, "contraseña", password)
	require.Len(t, fetchPage.Injected, 1)
	require.Equal(t, ".udlap.mx", fetchPage.Injected[0].Domain)
	require.True(t, fetchPage.Injected[0].Secure)
	require.False(t, fetchPage.Injected[0].HostOnly)
	require.Equal(t, []fakebrowser.Visit{
		{URL: landingURL, Until: browser.WaitNetworkAlmostIdle},
		{URL: scheduleURL, Until: browser.WaitNetworkAlmostIdle},
	}, fetchPage.Visits)
}

func TestSecondLoginReplacesSession(t *testing.T) {
	ctx := context.Background()
	store, err := session.NewMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	opts := testOptions()

	first := NewAuthenticator(fakebrowser.New(portalSite("token-1")), store, opts)
	require.NoError(t, first.Login(ctx, "179763", "primera"))

	second := NewAuthenticator(fakebrowser.New(portalSite("token-2")), store, opts)
	require.NoError(t, second.Login(ctx, "179763", "segunda"))

	stored, err := store.Get(ctx, "179763")
	require.NoError(t, err)
	require.Equal(t, "segunda", stored.Password)
	require.Len(t, stored.Cookies, 1)
	require.Equal(t, "token-2", stored.Cookies[0].Value)
	require.Equal(t, 1, store.Len())
}

func TestFetchWithoutLogin(t *testing.T) {
	h := newHarness(t, portalSite("token-1"), testOptions())

	for _, user := range []string{"179763", "", "nadie"} {
		entries, err := h.fetcher.FetchSchedule(context.Background(), user)
		require.ErrorIs(t, err, ErrNotAuthenticated)
		require.Nil(t, entries)
	}
	require.Empty(t, h.provider.Pages())
}

func TestLoginMissingCredentials(t *testing.T) {
	h := newHarness(t, portalSite("token-1"), testOptions())

	require.ErrorIs(t, h.auth.Login(context.Background(), "  ", "x"), ErrMissingCredentials)
	require.ErrorIs(t, h.auth.Login(context.Background(), "179763", ""), ErrMissingCredentials)
	require.Empty(t, h.provider.Pages())
}

func TestLoginFailures(t *testing.T) {
	unreachable := errors.New("net::ERR_TIMED_OUT")

	testCases := []struct {
		name   string
		site   func() fakebrowser.Site
		open   error
		expect error
		step   string
	}{
		{
			name: "login page does not load",
			site: func() fakebrowser.Site {
				site := portalSite("token")
				site.Documents[loginURL] = fakebrowser.Document{Err: unreachable}
				return site
			},
			expect: unreachable,
			step:   "open login page",
		},
		{
			name: "login form markup changed",
			site: func() fakebrowser.Site {
				site := portalSite("token")
				site.Documents[loginURL] = fakebrowser.Document{HTML: `<input id="user">`}
				return site
			},
			expect: browser.ErrElementNotFound,
			step:   "type username",
		},
		{
			name: "credentials rejected",
			site: func() fakebrowser.Site {
				site := portalSite("token")
				site.Forms["#btnAceptar"] = fakebrowser.Form{Target: loginURL}
				return site
			},
			expect: ErrInvalidCredentials,
			step:   "inspect login result",
		},
		{
			name: "no cookies",
			site: func() fakebrowser.Site {
				site := portalSite("token")
				site.Forms["#btnAceptar"] = fakebrowser.Form{Target: scheduleURL}
				site.Documents[scheduleURL] = fakebrowser.Document{HTML: "<p>ok</p>"}
				return site
			},
			expect: ErrNoCookies,
			step:   "capture cookies",
		},
		{
			name:   "browser cannot start",
			site:   func() fakebrowser.Site { return portalSite("token") },
			open:   unreachable,
			expect: unreachable,
			step:   "browser",
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t, test.site(), testOptions())
			h.provider.OpenErr = test.open

			err := h.auth.Login(context.Background(), "179763", "contraseña")
			require.ErrorIs(t, err, test.expect)

			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			require.Equal(t, test.step, authErr.Step)

			require.Equal(t, 0, h.store.Len())
			require.Equal(t, 0, h.provider.Live())

			_, err = h.fetcher.FetchSchedule(context.Background(), "179763")
			require.ErrorIs(t, err, ErrNotAuthenticated)
		})
	}
}

func TestFetchFallsBackToDOMContentLoaded(t *testing.T) {
	site := portalSite("token-1")
	site.Documents[scheduleURL] = fakebrowser.Document{
		HTML:   scheduleHTML,
		Err:    context.DeadlineExceeded,
		FailOn: []browser.WaitUntil{browser.WaitNetworkAlmostIdle},
	}
	h := newHarness(t, site, testOptions())
	ctx := context.Background()

	require.NoError(t, h.auth.Login(ctx, "179763", "contraseña"))
	entries, err := h.fetcher.FetchSchedule(ctx, "179763")
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(expectedEntries, entries))

	fetchPage := h.provider.Pages()[1]
	require.Equal(t, []fakebrowser.Visit{
		{URL: landingURL, Until: browser.WaitNetworkAlmostIdle},
		{URL: scheduleURL, Until: browser.WaitNetworkAlmostIdle},
		{URL: scheduleURL, Until: browser.WaitDOMContentLoaded},
	}, fetchPage.Visits)
	require.Len(t, h.tel.Reports("warning", report_fetcher_navigate), 1)
}

func TestFetchFallbackScheduleURL(t *testing.T) {
	site := portalSite("token-1")
	site.Documents[scheduleURL] = fakebrowser.Document{Err: errors.New("net::ERR_CONNECTION_REFUSED")}
	site.Documents[fallbackURL] = fakebrowser.Document{HTML: scheduleHTML}
	opts := testOptions()
	opts.FallbackScheduleURLs = []string{fallbackURL}
	h := newHarness(t, site, opts)
	ctx := context.Background()

	require.NoError(t, h.auth.Login(ctx, "179763", "contraseña"))
	entries, err := h.fetcher.FetchSchedule(ctx, "179763")
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(expectedEntries, entries))
}

func TestFetchNavigationError(t *testing.T) {
	refused := errors.New("net::ERR_CONNECTION_REFUSED")
	site := portalSite("token-1")
	site.Documents[scheduleURL] = fakebrowser.Document{Err: refused}
	h := newHarness(t, site, testOptions())
	ctx := context.Background()

	require.NoError(t, h.auth.Login(ctx, "179763", "contraseña"))
	entries, err := h.fetcher.FetchSchedule(ctx, "179763")
	require.Nil(t, entries)
	require.ErrorIs(t, err, refused)

	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
	require.Equal(t, scheduleURL, navErr.URL)

	require.Equal(t, 0, h.provider.Live())
	require.Len(t, h.tel.Reports("broken", report_fetcher_fetch), 1)

	_, err = h.store.Get(ctx, "179763")
	require.NoError(t, err)
}

func TestFetchSessionExpired(t *testing.T) {
	h := newHarness(t, portalSite("token-1"), testOptions())
	ctx := context.Background()

	err := h.store.Put(ctx, session.Session{
		User:     "179763",
		Password: "contraseña",
		Cookies:  []browser.Cookie{{Name: "stale", Value: "x", Domain: "online.udlap.mx"}},
	})
	require.NoError(t, err)

	entries, err := h.fetcher.FetchSchedule(ctx, "179763")
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Nil(t, entries)
	require.Equal(t, 0, h.provider.Live())

	reports := h.tel.Reports("warning", report_fetcher_expired)
	require.Len(t, reports, 1)
	require.Equal(t, []any{"179763", landingURL}, reports[0].Params)
	require.Empty(t, h.tel.Reports("broken", report_fetcher_fetch))
}

func TestFetchEmptySchedule(t *testing.T) {
	site := portalSite("token-1")
	site.Documents[scheduleURL] = fakebrowser.Document{HTML: "<table><tr><td>Sin materias inscritas</td></tr></table>"}
	h := newHarness(t, site, testOptions())
	ctx := context.Background()

	require.NoError(t, h.auth.Login(ctx, "179763", "contraseña"))
	entries, err := h.fetcher.FetchSchedule(ctx, "179763")
	require.NoError(t, err)
	require.NotNil(t, entries)
	require.Empty(t, entries)
}

func TestFetchReportsFailedSubresources(t *testing.T) {
	site := portalSite("token-1")
	site.Documents[scheduleURL] = fakebrowser.Document{
		Render: func(v fakebrowser.View) string { return authenticated(v, scheduleHTML) },
		Failures: []browser.RequestFailure{
			{URL: "https://intranet.udlap.mx/css/horario.css", Reason: "net::ERR_ABORTED"},
			{URL: "https://intranet.udlap.mx/js/menu.js", Reason: "404"},
		},
	}
	h := newHarness(t, site, testOptions())
	ctx := context.Background()

	require.NoError(t, h.auth.Login(ctx, "179763", "contraseña"))
	_, err := h.fetcher.FetchSchedule(ctx, "179763")
	require.NoError(t, err)

	reports := h.tel.Reports("warning", report_fetcher_subresource)
	require.Len(t, reports, 2)
	require.Equal(t, []any{"https://intranet.udlap.mx/css/horario.css", "net::ERR_ABORTED"}, reports[0].Params)
}
