package httpbrowser

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"horario-backend/internal/browser"
	"horario-backend/internal/browser/browsertest"
	"horario-backend/internal/portal"
	"horario-backend/internal/schedule"
	"horario-backend/internal/session"
	"horario-backend/internal/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const (
	username = "179763"
	password = "contraseña"
)

// the fake portal is reached through "localhost" so cookies behave like they do on a
// real domain, the httptest certificate is issued for example.com.
func newPortal(t *testing.T) (*browsertest.Portal, *Provider, *telemetry.Recorder) {
	t.Helper()

	fake := browsertest.NewPortal(true, username, password)
	t.Cleanup(fake.Close)

	tlsConfig := fake.Server.Client().Transport.(*http.Transport).TLSClientConfig.Clone()
	tlsConfig.ServerName = "example.com"

	tel := &telemetry.Recorder{}
	provider := NewProvider(Options{
		Timeout:   time.Second * 5,
		TLSConfig: tlsConfig,
	}, tel)
	return fake, provider, tel
}

func TestLoginForm(t *testing.T) {
	fake, provider, _ := newPortal(t)
	ctx := context.Background()

	err := browser.Use(ctx, provider, func(page browser.Page) error {
		loginURL := fake.URL("localhost", browsertest.LoginPath)
		require.NoError(t, page.Navigate(ctx, loginURL, browser.WaitNetworkAlmostIdle))

		has, err := page.Has(ctx, "#username")
		require.NoError(t, err)
		require.True(t, has)

		require.NoError(t, page.Type(ctx, "#username", username, 0))
		require.NoError(t, page.Type(ctx, "#password", "contra", 0))
		require.NoError(t, page.Type(ctx, "#password", "seña", 0))
		require.NoError(t, page.Submit(ctx, "#btnAceptar", browser.WaitNetworkAlmostIdle))

		current, err := page.URL(ctx)
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(current, browsertest.LandingPath), current)

		has, err = page.Has(ctx, "#username")
		require.NoError(t, err)
		require.False(t, has)

		cookies, err := page.Cookies(ctx, loginURL, fake.URL("localhost", browsertest.LandingPath))
		require.NoError(t, err)
		require.Len(t, cookies, 1)
		require.Equal(t, browsertest.AuthCookie, cookies[0].Name)
		require.Equal(t, "localhost", cookies[0].Domain)
		require.True(t, cookies[0].HostOnly)
		require.True(t, cookies[0].Secure)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, fake.Logins())
}

func TestLoginFormRejected(t *testing.T) {
	fake, provider, _ := newPortal(t)
	ctx := context.Background()

	err := browser.Use(ctx, provider, func(page browser.Page) error {
		require.NoError(t, page.Navigate(ctx, fake.URL("localhost", browsertest.LoginPath), browser.WaitLoad))
		require.NoError(t, page.Type(ctx, "#username", username, 0))
		require.NoError(t, page.Type(ctx, "#password", "wrong", 0))
		require.NoError(t, page.Submit(ctx, "#btnAceptar", browser.WaitLoad))

		has, err := page.Has(ctx, "#username")
		require.NoError(t, err)
		require.True(t, has)

		html, err := page.HTML(ctx)
		require.NoError(t, err)
		require.Contains(t, html, "Usuario o contraseña incorrectos")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, fake.Logins())
}

func TestMissingElements(t *testing.T) {
	fake, provider, _ := newPortal(t)
	ctx := context.Background()

	page, err := provider.Open(ctx)
	require.NoError(t, err)
	defer page.Close()

	_, err = page.Has(ctx, "#username")
	require.Error(t, err)

	require.NoError(t, page.Navigate(ctx, fake.URL("localhost", browsertest.LoginPath), browser.WaitLoad))
	err = page.Type(ctx, "#captcha", "x", 0)
	require.ErrorIs(t, err, browser.ErrElementNotFound)
	err = page.Submit(ctx, "#btnCancelar", browser.WaitLoad)
	require.ErrorIs(t, err, browser.ErrElementNotFound)
}

func TestFailedResponsesAreReported(t *testing.T) {
	fake, provider, _ := newPortal(t)
	ctx := context.Background()

	var failures []browser.RequestFailure
	err := browser.Use(ctx, provider, func(page browser.Page) error {
		page.OnRequestFailed(func(failure browser.RequestFailure) {
			failures = append(failures, failure)
		})
		require.NoError(t, page.Navigate(ctx, fake.URL("localhost", browsertest.SchedulePath), browser.WaitLoad))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.True(t, strings.HasSuffix(failures[0].URL, browsertest.SchedulePath))
	require.Contains(t, failures[0].Reason, "401")
}

func TestSetCookies(t *testing.T) {
	_, provider, _ := newPortal(t)
	ctx := context.Background()

	page, err := provider.Open(ctx)
	require.NoError(t, err)
	defer page.Close()

	err = page.SetCookies(ctx, []browser.Cookie{
		{Name: "a", Value: "1", Domain: ".example.com", Path: "/", Secure: true},
		{Name: "b", Value: "2", Domain: "online.example.com", Path: "/", HostOnly: true},
	})
	require.NoError(t, err)

	cookies, err := page.Cookies(ctx, "https://intranet.example.com/")
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	require.Equal(t, "a", cookies[0].Name)

	cookies, err = page.Cookies(ctx, "http://online.example.com/")
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	require.Equal(t, "b", cookies[0].Name)

	err = page.SetCookies(ctx, []browser.Cookie{{Name: "c"}})
	require.Error(t, err)
}

func TestPortalPipeline(t *testing.T) {
	fake, provider, tel := newPortal(t)
	ctx := context.Background()

	opts := portal.DefaultOptions()
	opts.LoginURL = fake.URL("localhost", browsertest.LoginPath)
	opts.LandingURL = fake.URL("localhost", browsertest.LandingPath)
	opts.ScheduleURL = fake.URL("localhost", browsertest.SchedulePath)
	opts.CookieDomain = "localhost"
	opts.TypingDelay = 0
	opts.NavigationTimeout = time.Second * 5

	store, err := session.NewMemoryStore()
	require.NoError(t, err)

	auth := portal.NewAuthenticator(provider, store, opts, portal.WithCustomTelemetryAPI(tel))
	fetcher, err := portal.NewFetcher(provider, store, opts, portal.WithCustomTelemetryAPI(tel))
	require.NoError(t, err)

	err = auth.Login(ctx, username, "incorrecta")
	require.ErrorIs(t, err, portal.ErrInvalidCredentials)

	require.NoError(t, auth.Login(ctx, username, password))

	entries, err := fetcher.FetchSchedule(ctx, username)
	require.NoError(t, err)
	expected := []schedule.Entry{
		{Course: "LIS-1001 Cálculo I", Days: "L M V", Time: "08:00-09:00"},
		{Course: "FIS-1101 Física I", Days: "Ma J", Time: "10:00-11:30"},
	}
	if diff := cmp.Diff(expected, entries); diff != "" {
		t.Fatal("unexpected entries", diff)
	}

	fake.Expire()
	_, err = fetcher.FetchSchedule(ctx, username)
	require.ErrorIs(t, err, portal.ErrSessionExpired)

	require.Empty(t, tel.Reports("broken", "resty.response"))
}

type dumps struct {
	mu  sync.Mutex
	ids []string
}

func (d *dumps) Write(id string, contents string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
}

func TestDumpExchanges(t *testing.T) {
	fake, _, _ := newPortal(t)
	tlsConfig := fake.Server.Client().Transport.(*http.Transport).TLSClientConfig

	out := &dumps{}
	provider := NewProvider(Options{TLSConfig: tlsConfig, Dump: out}, &telemetry.Recorder{})
	ctx := context.Background()

	var id string
	err := browser.Use(ctx, provider, func(page browser.Page) error {
		id = page.(*Page).id
		return page.Navigate(ctx, fake.URL("", browsertest.LoginPath), browser.WaitLoad)
	})
	require.NoError(t, err)
	require.Equal(t, []string{id + "-1"}, out.ids)
}

func TestCloudflareTransport(t *testing.T) {
	provider := NewProvider(Options{CloudflareBypass: true, TLSConfig: &tls.Config{}}, &telemetry.Recorder{})
	page, err := provider.Open(context.Background())
	require.NoError(t, err)
	defer page.Close()

	_, isPlain := page.(*Page).client.GetClient().Transport.(*http.Transport)
	require.False(t, isPlain)
}
