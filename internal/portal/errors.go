package portal

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials is returned by Login when the username or password is empty.
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrInvalidCredentials is wrapped by an AuthError when the portal shows the login form again after submitting it.
	ErrInvalidCredentials = errors.New("the portal rejected the credentials")
	// ErrNoCookies is wrapped by an AuthError when the login finished without any cookie to replay.
	ErrNoCookies = errors.New("login did not produce any cookies")
	// ErrNotAuthenticated is returned by FetchSchedule for a user that never logged in.
	ErrNotAuthenticated = errors.New("user has not logged in")
	// ErrSessionExpired is returned by FetchSchedule when the stored cookies no longer authenticate.
	ErrSessionExpired = errors.New("stored session has expired, login again")
)

// AuthError is a failure of the login pipeline, nothing is stored when it is returned.
type AuthError struct {
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login: %s: %s", e.Step, e.Err.Error())
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NavigationError is a failure to prepare the page for, or to load, one of the portal pages.
type NavigationError struct {
	Step string
	URL  string
	Err  error
}

func (e *NavigationError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("fetch schedule: %s: %s", e.Step, e.Err.Error())
	}
	return fmt.Sprintf("fetch schedule: %s %s: %s", e.Step, e.URL, e.Err.Error())
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// ExtractError is a failure to read rows out of a schedule page that did load.
type ExtractError struct {
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("fetch schedule: extract rows: %s", e.Err.Error())
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}
