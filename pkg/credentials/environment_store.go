package credentials

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvSessionCookie = "COURSEDUMP_SESSION_COOKIE"
	EnvUserAgent     = "COURSEDUMP_USER_AGENT"
)

// EnvironmentStore serves a session from environment variables. It is
// read-only and answers for any profile.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based session store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(session *Session) error {
	return ErrStoreUnavailable
}

// Retrieve builds a session from the environment
func (e *EnvironmentStore) Retrieve(profile string) (*Session, error) {
	cookie := NormalizeCookie(os.Getenv(EnvSessionCookie))
	if cookie == "" {
		return nil, ErrSessionNotFound
	}
	if profile == "" {
		profile = "default"
	}

	return &Session{
		Profile:   profile,
		Cookie:    cookie,
		UserAgent: os.Getenv(EnvUserAgent),
	}, nil
}

// List returns a single session if the environment carries one
func (e *EnvironmentStore) List() ([]*Session, error) {
	session, err := e.Retrieve("")
	if err != nil {
		return []*Session{}, nil
	}
	session.LastModified = time.Time{}
	return []*Session{session}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(profile string) error {
	return ErrStoreUnavailable
}

// Exists checks if the environment carries a session
func (e *EnvironmentStore) Exists(profile string) bool {
	return os.Getenv(EnvSessionCookie) != ""
}
