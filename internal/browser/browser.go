// Package browser describes what the portal pipeline needs from a web browser: an isolated
// page that can navigate, fill and submit forms, exchange cookies and hand back the rendered
// document. Drivers live in the sub-packages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WaitUntil is the load-completion criterion a navigation waits for.
type WaitUntil int

const (
	// WaitNetworkAlmostIdle waits until there have been at most 2 open connections for
	// 500ms (puppeteer's networkidle2).
	WaitNetworkAlmostIdle WaitUntil = iota
	// WaitDOMContentLoaded waits for the DOMContentLoaded event only.
	WaitDOMContentLoaded
	// WaitLoad waits for the load event.
	WaitLoad
)

func (w WaitUntil) String() string {
	switch w {
	case WaitNetworkAlmostIdle:
		return "network-almost-idle"
	case WaitDOMContentLoaded:
		return "dom-content-loaded"
	case WaitLoad:
		return "load"
	}
	return fmt.Sprintf("wait-until(%d)", int(w))
}

// ErrElementNotFound is returned (wrapped) when a selector matches nothing.
var ErrElementNotFound = errors.New("element not found")

// Cookie is a browser cookie, Expires is the zero time for session cookies.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"httpOnly"`
	HostOnly bool      `json:"hostOnly,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	SameSite string    `json:"sameSite,omitempty"`
}

// RequestFailure describes a sub-resource request that failed while a page was loading.
type RequestFailure struct {
	URL    string
	Reason string
}

// Page is one isolated browsing context. A Page is used by a single goroutine.
type Page interface {
	// Navigate loads url and blocks until the criterion in `until` is satisfied.
	Navigate(ctx context.Context, url string, until WaitUntil) error
	// URL returns the address of the currently loaded document.
	URL(ctx context.Context) (string, error)
	// Has reports whether selector matches an element of the current document.
	Has(ctx context.Context, selector string) (bool, error)
	// Type enters text into the element matching selector one character at a time,
	// pausing for delay between characters.
	Type(ctx context.Context, selector, text string, delay time.Duration) error
	// Submit clicks the element matching selector and waits for the navigation it triggers.
	Submit(ctx context.Context, selector string, until WaitUntil) error
	// Cookies returns the cookies that apply to the given urls.
	Cookies(ctx context.Context, urls ...string) ([]Cookie, error)
	// SetCookies installs cookies into the context.
	SetCookies(ctx context.Context, cookies []Cookie) error
	// SetBasicAuth answers HTTP basic authentication challenges with the given credentials.
	SetBasicAuth(ctx context.Context, username, password string) error
	// HTML returns the serialized rendered document.
	HTML(ctx context.Context) (string, error)
	// OnRequestFailed registers fn to be called for every failed sub-resource request.
	OnRequestFailed(fn func(RequestFailure))
	// Close releases every resource held by the page, it is safe to call more than once.
	Close() error
}

// Provider opens isolated pages, pages opened by one call never share cookies or
// a live browser context with pages opened by another.
//
// note: fault injection point
type Provider interface {
	Open(ctx context.Context) (Page, error)
}

// Use opens a page from p, runs fn with it and closes the page on every exit path,
// panics included. A close error is only returned when fn succeeded.
func Use(ctx context.Context, p Provider, fn func(page Page) error) (err error) {
	page, err := p.Open(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer func() {
		closeErr := page.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("close page: %w", closeErr)
		}
	}()
	return fn(page)
}
