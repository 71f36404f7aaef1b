package portal

import (
	"fmt"
	"net/url"
	"strings"

	"horario-backend/internal/browser"

	"golang.org/x/net/publicsuffix"
)

// ParentDomain returns the registrable domain of rawURL's host, ex.
// "https://online.udlap.mx/intranet" -> "udlap.mx".
func ParentDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return publicsuffix.EffectiveTLDPlusOne(host)
}

// NormalizeCookies rewrites cookies so that a browser attaches them on every subdomain of
// parent: the domain becomes ".<parent>", the cookie becomes secure (the portal is HTTPS
// only) and host-only is dropped. The input is not modified.
func NormalizeCookies(cookies []browser.Cookie, parent string) []browser.Cookie {
	domain := "." + strings.TrimPrefix(parent, ".")

	out := make([]browser.Cookie, len(cookies))
	for i, c := range cookies {
		c.Domain = domain
		c.Secure = true
		c.HostOnly = false
		if c.Path == "" {
			c.Path = "/"
		}
		out[i] = c
	}
	return out
}
