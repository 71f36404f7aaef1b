// Package httpbrowser is a browser driver that speaks plain HTTP: documents are fetched with
// resty, forms are filled and submitted by reading their markup with goquery and cookies live in
// a per-page jar. It does not run scripts, so it only works against pages whose login form is
// plain HTML.
package httpbrowser

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"horario-backend/internal/browser"
	"horario-backend/internal/telemetry"
	"horario-backend/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	report_provider_open = "provider.open"
	report_page_close    = "page.close"
)

type Options struct {
	UserAgent string
	// Timeout bounds a single request, 0 leaves it to the context.
	Timeout time.Duration
	// OpensPerSecond limits how many pages can be opened each second, 0 disables the limit.
	OpensPerSecond float64
	// CloudflareBypass wraps the transport with the TLS fingerprint and headers of a
	// desktop browser.
	CloudflareBypass bool
	TLSConfig        *tls.Config
	// Dump, when set, receives a redacted copy of every request and response.
	Dump restyutil.InstrumentOutput
}

type Provider struct {
	opts    Options
	limiter *rate.Limiter
	tel     telemetry.API
}

func NewProvider(opts Options, tel telemetry.API) *Provider {
	limit := rate.Inf
	burst := 1
	if opts.OpensPerSecond > 0 {
		limit = rate.Limit(opts.OpensPerSecond)
		burst = int(math.Ceil(opts.OpensPerSecond))
	}
	return &Provider{
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		tel:     telemetry.NewScopedAPI("httpbrowser", tel),
	}
}

func (p *Provider) Open(ctx context.Context) (browser.Page, error) {
	err := p.limiter.Wait(ctx)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetCookieJar(jar)
	if p.opts.Timeout > 0 {
		client.SetTimeout(p.opts.Timeout)
	}
	if p.opts.UserAgent != "" {
		client.SetHeader("user-agent", p.opts.UserAgent)
	}
	if p.opts.TLSConfig != nil {
		client.SetTLSClientConfig(p.opts.TLSConfig.Clone())
	}
	if p.opts.CloudflareBypass {
		client.SetTransport(cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport))
	}

	page := &Page{
		id:     uuid.NewString(),
		client: client,
		jar:    jar,
		fields: map[string]string{},
	}
	page.tel = telemetry.NewScopedAPI(page.id, p.tel)
	telemetry.InstrumentResty(client, page.tel)
	restyutil.InstrumentClient(client, nil, p.opts.Dump, page.id+"-")
	client.OnAfterResponse(page.onAfterResponse)

	p.tel.ReportDebug(report_provider_open, page.id)
	return page, nil
}

// Page is a browser.Page backed by a resty client.
type Page struct {
	id     string
	client *resty.Client
	jar    http.CookieJar
	tel    telemetry.API

	current *url.URL
	body    []byte
	doc     *goquery.Document
	// fields holds the values typed into form controls, keyed by control name.
	fields map[string]string

	mu       sync.Mutex
	onFailed []func(browser.RequestFailure)
	closed   bool
}

func (p *Page) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	if res.StatusCode() < http.StatusBadRequest {
		return nil
	}
	p.failed(browser.RequestFailure{
		URL:    res.Request.URL,
		Reason: res.Status(),
	})
	return nil
}

func (p *Page) failed(failure browser.RequestFailure) {
	p.mu.Lock()
	callbacks := append([]func(browser.RequestFailure){}, p.onFailed...)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(failure)
	}
}

func (p *Page) load(res *resty.Response) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	p.current = res.RawResponse.Request.URL
	p.body = res.Body()
	p.doc = doc
	p.fields = map[string]string{}
	return nil
}

func (p *Page) document() (*goquery.Document, error) {
	if p.doc == nil {
		return nil, errors.New("no document loaded")
	}
	return p.doc, nil
}

// Navigate ignores until, a response has no further loading to wait for.
func (p *Page) Navigate(ctx context.Context, target string, until browser.WaitUntil) error {
	res, err := p.client.R().
		SetContext(ctx).
		Get(target)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	return p.load(res)
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if p.current == nil {
		return "about:blank", nil
	}
	return p.current.String(), nil
}

func (p *Page) Has(ctx context.Context, selector string) (bool, error) {
	doc, err := p.document()
	if err != nil {
		return false, err
	}
	return doc.Find(selector).Length() > 0, nil
}

func (p *Page) find(selector string) (*goquery.Selection, error) {
	doc, err := p.document()
	if err != nil {
		return nil, err
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%s: %w", selector, browser.ErrElementNotFound)
	}
	return sel, nil
}

// Type records text as the value of the matching control, delay is ignored since nothing
// observes keystrokes.
func (p *Page) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	sel, err := p.find(selector)
	if err != nil {
		return err
	}
	name, ok := sel.Attr("name")
	if !ok || name == "" {
		return fmt.Errorf("%s: control has no name", selector)
	}
	value, typed := p.fields[name]
	if !typed {
		value = sel.AttrOr("value", "")
	}
	p.fields[name] = value + text
	return nil
}

func formValues(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input[name], select[name], textarea[name]").Each(func(_ int, control *goquery.Selection) {
		name := control.AttrOr("name", "")
		switch goquery.NodeName(control) {
		case "textarea":
			values.Add(name, control.Text())
			return
		case "select":
			option := control.Find("option[selected]").First()
			if option.Length() == 0 {
				option = control.Find("option").First()
			}
			if option.Length() > 0 {
				values.Add(name, option.AttrOr("value", strings.TrimSpace(option.Text())))
			}
			return
		}

		switch strings.ToLower(control.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
		case "checkbox", "radio":
			if _, checked := control.Attr("checked"); checked {
				values.Add(name, control.AttrOr("value", "on"))
			}
		default:
			values.Add(name, control.AttrOr("value", ""))
		}
	})
	return values
}

// Submit posts the form that contains the element matching selector, as if that element
// was clicked.
func (p *Page) Submit(ctx context.Context, selector string, until browser.WaitUntil) error {
	button, err := p.find(selector)
	if err != nil {
		return err
	}
	form := button.Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("%s: not inside a form", selector)
	}

	values := formValues(form)
	for name, value := range p.fields {
		values.Set(name, value)
	}
	if name, ok := button.Attr("name"); ok && name != "" {
		values.Set(name, button.AttrOr("value", ""))
	}

	action, err := p.current.Parse(form.AttrOr("action", ""))
	if err != nil {
		return fmt.Errorf("form action: %w", err)
	}

	req := p.client.R().SetContext(ctx)
	var res *resty.Response
	if strings.EqualFold(form.AttrOr("method", "get"), http.MethodPost) {
		res, err = req.SetFormDataFromValues(values).Post(action.String())
	} else {
		action.RawQuery = values.Encode()
		res, err = req.Get(action.String())
	}
	if err != nil {
		return fmt.Errorf("submit %s: %w", action, err)
	}
	return p.load(res)
}

// Cookies reads the jar, which only keeps names and values. Every cookie is reported as
// host-only on the host of the url it was found for.
func (p *Page) Cookies(ctx context.Context, urls ...string) ([]browser.Cookie, error) {
	if len(urls) == 0 && p.current != nil {
		urls = []string{p.current.String()}
	}

	seen := map[string]bool{}
	var out []browser.Cookie
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		for _, c := range p.jar.Cookies(u) {
			key := u.Hostname() + "\x00" + c.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, browser.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   u.Hostname(),
				Path:     "/",
				Secure:   u.Scheme == "https",
				HostOnly: true,
			})
		}
	}
	return out, nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	for _, c := range cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			return fmt.Errorf("cookie %s: empty domain", c.Name)
		}
		scheme := "http"
		if c.Secure {
			scheme = "https"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}

		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
			Expires:  c.Expires,
		}
		if !c.HostOnly {
			cookie.Domain = c.Domain
		}
		p.jar.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: path}, []*http.Cookie{cookie})
	}
	return nil
}

// SetBasicAuth sends the credentials with every request, resty has no challenge handling.
func (p *Page) SetBasicAuth(ctx context.Context, username, password string) error {
	p.client.SetBasicAuth(username, password)
	return nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if p.body == nil {
		return "", errors.New("no document loaded")
	}
	return string(p.body), nil
}

func (p *Page) OnRequestFailed(fn func(browser.RequestFailure)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailed = append(p.onFailed, fn)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.client.GetClient().CloseIdleConnections()
	p.tel.ReportDebug(report_page_close)
	return nil
}
