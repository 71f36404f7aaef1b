package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"horario-backend/internal/browser"
)

var ErrNotFound = errors.New("session not found")

// Session is the replayable login state of one user.
type Session struct {
	// User is the username exactly as it was typed into the login form.
	User      string
	Cookies   []browser.Cookie
	Password  string
	CreatedAt time.Time
}

// Key returns the store key of a username, only surrounding whitespace is ignored so
// usernames differing in case are different users.
func Key(user string) string {
	return strings.TrimSpace(user)
}

func (s Session) clone() Session {
	s.Cookies = slices.Clone(s.Cookies)
	return s
}

// Store keeps at most one session per user, a Put for a user that already has one
// replaces it entirely.
//
// note: fault injection point
type Store interface {
	Put(ctx context.Context, s Session) error
	// Get returns ErrNotFound when the user has never logged in.
	Get(ctx context.Context, user string) (Session, error)
	// Lock serializes work on a single user, the returned function releases the lock.
	Lock(ctx context.Context, user string) (unlock func(), err error)
	Len() int
}
