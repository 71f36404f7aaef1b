// Package fakebrowser is a browser.Provider over canned documents. Selectors are evaluated
// against the canned HTML with goquery, so pipelines can be exercised without Chrome.
package fakebrowser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"horario-backend/internal/browser"

	"github.com/PuerkitoBio/goquery"
)

// View is what a Document's Render function can see of the page being served.
type View struct {
	Cookies   []browser.Cookie
	BasicAuth [2]string
}

// HasCookie reports whether a cookie called name is installed.
func (v View) HasCookie(name string) bool {
	return slices.ContainsFunc(v.Cookies, func(c browser.Cookie) bool {
		return c.Name == name
	})
}

// Document is a canned response for one url.
type Document struct {
	HTML string
	// Render, when set, replaces HTML.
	Render func(v View) string
	// Err is returned by Navigate for the criteria in FailOn, or for every criterion
	// when FailOn is empty.
	Err    error
	FailOn []browser.WaitUntil
	// Failures are reported to OnRequestFailed callbacks on every load.
	Failures []browser.RequestFailure
}

// Form describes what happens when the element matched by a selector is submitted.
type Form struct {
	// Target is navigated to after the submit.
	Target string
	// SetCookies are added to the page's jar when the form is submitted.
	SetCookies []browser.Cookie
	Err        error
}

// Site is the full set of documents and forms a Provider serves.
type Site struct {
	Documents map[string]Document
	Forms     map[string]Form
}

// Visit records one navigation.
type Visit struct {
	URL   string
	Until browser.WaitUntil
}

// Provider implements browser.Provider.
type Provider struct {
	Site    Site
	OpenErr error

	mu    sync.Mutex
	pages []*Page
}

func New(site Site) *Provider {
	return &Provider{Site: site}
}

func (p *Provider) Open(ctx context.Context) (browser.Page, error) {
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page := &Page{site: p.Site, Typed: map[string]string{}}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, page)
	return page, nil
}

// Pages returns every page opened so far, in order.
func (p *Provider) Pages() []*Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.pages)
}

// Live counts pages that have not been closed.
func (p *Provider) Live() int {
	n := 0
	for _, page := range p.Pages() {
		if !page.Closed() {
			n++
		}
	}
	return n
}

// Page implements browser.Page, the exported fields are for inspection by tests.
type Page struct {
	site Site

	mu        sync.Mutex
	current   string
	html      string
	cookies   []browser.Cookie
	basicAuth [2]string
	callbacks []func(browser.RequestFailure)
	closed    bool

	Visits     []Visit
	Typed      map[string]string
	Keystrokes int
	Injected   []browser.Cookie
}

func (p *Page) view() View {
	return View{Cookies: slices.Clone(p.cookies), BasicAuth: p.basicAuth}
}

func (p *Page) checkOpen(ctx context.Context) error {
	if p.closed {
		return errors.New("fakebrowser: page is closed")
	}
	return ctx.Err()
}

func (p *Page) Navigate(ctx context.Context, target string, until browser.WaitUntil) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	p.Visits = append(p.Visits, Visit{URL: target, Until: until})

	doc, ok := p.site.Documents[target]
	if !ok {
		return fmt.Errorf("navigate %s: net::ERR_NAME_NOT_RESOLVED", target)
	}
	for _, failure := range doc.Failures {
		for _, cb := range p.callbacks {
			cb(failure)
		}
	}
	if doc.Err != nil && (len(doc.FailOn) == 0 || slices.Contains(doc.FailOn, until)) {
		return fmt.Errorf("navigate %s: %w", target, doc.Err)
	}

	p.current = target
	p.html = doc.HTML
	if doc.Render != nil {
		p.html = doc.Render(p.view())
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return "", err
	}
	return p.current, nil
}

func (p *Page) has(selector string) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.html))
	if err != nil {
		return false, err
	}
	return doc.Find(selector).Length() > 0, nil
}

func (p *Page) Has(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return false, err
	}
	return p.has(selector)
}

func (p *Page) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	found, err := p.has(selector)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("type into %s: %w", selector, browser.ErrElementNotFound)
	}
	for _, r := range text {
		p.Typed[selector] += string(r)
		p.Keystrokes++
	}
	return nil
}

func (p *Page) Submit(ctx context.Context, selector string, until browser.WaitUntil) error {
	p.mu.Lock()
	if err := p.checkOpen(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	found, err := p.has(selector)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if !found {
		p.mu.Unlock()
		return fmt.Errorf("submit %s: %w", selector, browser.ErrElementNotFound)
	}
	form, ok := p.site.Forms[selector]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("submit %s: no form behaviour configured", selector)
	}
	if form.Err != nil {
		p.mu.Unlock()
		return fmt.Errorf("submit %s: %w", selector, form.Err)
	}
	p.cookies = mergeCookies(p.cookies, form.SetCookies)
	p.mu.Unlock()

	return p.Navigate(ctx, form.Target, until)
}

func domainMatch(host, domain string) bool {
	domain = strings.TrimPrefix(domain, ".")
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func (p *Page) Cookies(ctx context.Context, urls ...string) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return nil, err
	}

	var out []browser.Cookie
	for _, c := range p.cookies {
		for _, raw := range urls {
			u, err := url.Parse(raw)
			if err != nil {
				return nil, err
			}
			if domainMatch(u.Hostname(), c.Domain) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func mergeCookies(jar, add []browser.Cookie) []browser.Cookie {
	for _, c := range add {
		jar = slices.DeleteFunc(jar, func(existing browser.Cookie) bool {
			return existing.Name == c.Name && existing.Domain == c.Domain && existing.Path == c.Path
		})
		jar = append(jar, c)
	}
	return jar
}

func (p *Page) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	p.Injected = append(p.Injected, cookies...)
	p.cookies = mergeCookies(p.cookies, cookies)
	return nil
}

func (p *Page) SetBasicAuth(ctx context.Context, username, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	p.basicAuth = [2]string{username, password}
	return nil
}

// BasicAuth returns the credentials given to SetBasicAuth.
func (p *Page) BasicAuth() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.basicAuth[0], p.basicAuth[1]
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen(ctx); err != nil {
		return "", err
	}
	return p.html, nil
}

func (p *Page) OnRequestFailed(fn func(browser.RequestFailure)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, fn)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
