// Package config holds the server configuration read from config.json5 (and its
// config.local.json5 override).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"horario-backend/internal/portal"
	"horario-backend/lib/configutil"
)

const (
	DriverRod  = "rod"
	DriverHTTP = "http"
)

type Config struct {
	Host    string        `json:"host"`
	Port    int           `json:"port"`
	Verbose bool          `json:"verbose"`
	Portal  PortalConfig  `json:"portal"`
	Browser BrowserConfig `json:"browser"`
}

// PortalConfig describes the intranet, durations are strings parsed by time.ParseDuration.
type PortalConfig struct {
	LoginURL             string   `json:"login_url"`
	LandingURL           string   `json:"landing_url"`
	ScheduleURL          string   `json:"schedule_url"`
	FallbackScheduleURLs []string `json:"fallback_schedule_urls"`
	CookieDomain         string   `json:"cookie_domain"`

	UsernameSelector string `json:"username_selector"`
	PasswordSelector string `json:"password_selector"`
	SubmitSelector   string `json:"submit_selector"`
	CourseMarker     string `json:"course_marker"`

	TypingDelay       string `json:"typing_delay"`
	NavigationTimeout string `json:"navigation_timeout"`
}

// BrowserConfig selects and configures the browser driver. Every bool defaults to false,
// a config layer cannot switch a field back to false once a lower layer set it.
type BrowserConfig struct {
	Driver         string  `json:"driver"`
	Bin            string  `json:"bin"`
	RemoteURL      string  `json:"remote_url"`
	ShowWindow     bool    `json:"show_window"`
	NoSandbox      bool    `json:"no_sandbox"`
	UserAgent      string  `json:"user_agent"`
	OpensPerSecond float64 `json:"opens_per_second"`

	NoCloudflareBypass bool   `json:"no_cloudflare_bypass"`
	RequestTimeout     string `json:"request_timeout"`
	// DumpDir, when set, receives a redacted dump of every exchange of the http driver.
	DumpDir string `json:"dump_dir"`
}

// Defaults returns the configuration used for every field no config file sets.
func Defaults() Config {
	opts := portal.DefaultOptions()
	return Config{
		Host: "0.0.0.0",
		Port: 3000,
		Portal: PortalConfig{
			LoginURL:          opts.LoginURL,
			LandingURL:        opts.LandingURL,
			ScheduleURL:       opts.ScheduleURL,
			UsernameSelector:  opts.UsernameSelector,
			PasswordSelector:  opts.PasswordSelector,
			SubmitSelector:    opts.SubmitSelector,
			CourseMarker:      opts.CourseMarker,
			TypingDelay:       opts.TypingDelay.String(),
			NavigationTimeout: opts.NavigationTimeout.String(),
		},
		Browser: BrowserConfig{
			Driver:         DriverRod,
			OpensPerSecond: 2,
			RequestTimeout: "30s",
		},
	}
}

// Load layers the config file at path (and its .local variant) over Defaults, a missing
// file is not an error. PORT, when set, overrides the port.
func Load(path string) (Config, error) {
	cfg, err := configutil.Layer(Defaults(), path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port, err = strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("PORT: %w", err)
		}
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Browser.Driver {
	case DriverRod, DriverHTTP:
	default:
		return fmt.Errorf("unknown browser driver %q", c.Browser.Driver)
	}
	_, err := c.Portal.Options()
	if err != nil {
		return err
	}
	_, err = c.Browser.Timeout()
	return err
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// Options converts the config into portal.Options.
func (c PortalConfig) Options() (portal.Options, error) {
	typingDelay, err := parseDuration("portal.typing_delay", c.TypingDelay)
	if err != nil {
		return portal.Options{}, err
	}
	navigationTimeout, err := parseDuration("portal.navigation_timeout", c.NavigationTimeout)
	if err != nil {
		return portal.Options{}, err
	}

	return portal.Options{
		LoginURL:             c.LoginURL,
		LandingURL:           c.LandingURL,
		ScheduleURL:          c.ScheduleURL,
		FallbackScheduleURLs: c.FallbackScheduleURLs,
		UsernameSelector:     c.UsernameSelector,
		PasswordSelector:     c.PasswordSelector,
		SubmitSelector:       c.SubmitSelector,
		CourseMarker:         c.CourseMarker,
		CookieDomain:         c.CookieDomain,
		TypingDelay:          typingDelay,
		NavigationTimeout:    navigationTimeout,
	}, nil
}

func (c BrowserConfig) Timeout() (time.Duration, error) {
	return parseDuration("browser.request_timeout", c.RequestTimeout)
}
