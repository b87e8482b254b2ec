// Package credentials stores the platform session cookie used to authenticate
// crawl requests. Sessions are kept per profile in the system keychain when
// one is available, with an encrypted file and the environment as fallbacks.
package credentials

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Session is an authenticated browser session for one profile
type Session struct {
	Profile      string    `json:"profile"`
	Cookie       string    `json:"cookie"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the interface for storing and retrieving sessions
type Store interface {
	// Store saves the session for its profile
	Store(session *Session) error

	// Retrieve gets the session of a profile
	Retrieve(profile string) (*Session, error)

	// List returns all stored sessions
	List() ([]*Session, error)

	// Delete removes the session of a profile
	Delete(profile string) error

	// Exists checks if a session exists for a profile
	Exists(profile string) bool
}

// Errors
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSession   = errors.New("invalid session")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Manager tries each store in order
type Manager struct {
	stores []Store
}

// NewManager creates a manager over the keychain (when reachable), an
// encrypted file inside dir, and the environment
func NewManager(dir string) (*Manager, error) {
	var stores []Store

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	encrypted, err := NewEncryptedFileStore(filepath.Join(dir, "sessions.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encrypted)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over explicit stores
func NewManagerWithStores(stores ...Store) *Manager {
	return &Manager{stores: stores}
}

// Store saves the session in the first store that accepts it
func (m *Manager) Store(session *Session) error {
	if session == nil || session.Profile == "" {
		return errors.New("profile is required")
	}
	session.Cookie = NormalizeCookie(session.Cookie)
	if session.Cookie == "" {
		return errors.New("session cookie is required")
	}

	session.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(session)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store session: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets the session of a profile from the first store that has it
func (m *Manager) Retrieve(profile string) (*Session, error) {
	for _, store := range m.stores {
		if session, err := store.Retrieve(profile); err == nil && session != nil {
			return session, nil
		}
	}
	return nil, fmt.Errorf("%w for profile %q", ErrSessionNotFound, profile)
}

// List returns every stored session, the most recent copy per profile,
// sorted by profile
func (m *Manager) List() ([]*Session, error) {
	byProfile := make(map[string]*Session)

	for _, store := range m.stores {
		sessions, err := store.List()
		if err != nil {
			continue
		}
		for _, s := range sessions {
			if existing, ok := byProfile[s.Profile]; !ok || s.LastModified.After(existing.LastModified) {
				byProfile[s.Profile] = s
			}
		}
	}

	result := make([]*Session, 0, len(byProfile))
	for _, s := range byProfile {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Profile < result[j].Profile })
	return result, nil
}

// Delete removes the session of a profile from every store
func (m *Manager) Delete(profile string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		err := store.Delete(profile)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete session: %w", lastErr)
	}
	return fmt.Errorf("%w for profile %q", ErrSessionNotFound, profile)
}

// NormalizeCookie accepts either a bare cookie string or a pasted
// "Cookie: a=b; c=d" header line and returns the cookie pairs
func NormalizeCookie(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 7 && strings.EqualFold(s[:7], "cookie:") {
		s = strings.TrimSpace(s[7:])
	}
	var pairs []string
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			pairs = append(pairs, part)
		}
	}
	return strings.Join(pairs, "; ")
}

// Sanitize returns a copy of the session with the cookie values masked
func Sanitize(session *Session) *Session {
	if session == nil {
		return nil
	}
	masked := *session
	var pairs []string
	for _, part := range strings.Split(session.Cookie, "; ") {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			pairs = append(pairs, maskString(part))
			continue
		}
		pairs = append(pairs, name+"="+maskString(value))
	}
	masked.Cookie = strings.Join(pairs, "; ")
	return &masked
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
