package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

// memStore is an in-memory Store with error injection
type memStore struct {
	mu       sync.Mutex
	sessions map[string]Session

	StoreError error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]Session)}
}

func (m *memStore) Store(s *Session) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Profile] = *s
	return nil
}

func (m *memStore) Retrieve(profile string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[profile]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *memStore) List() ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		s := s
		out = append(out, &s)
	}
	return out, nil
}

func (m *memStore) Delete(profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[profile]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, profile)
	return nil
}

func (m *memStore) Exists(profile string) bool {
	_, err := m.Retrieve(profile)
	return err == nil
}

func TestManagerStoreRetrieveDelete(t *testing.T) {
	store := newMemStore()
	manager := NewManagerWithStores(store)

	err := manager.Store(&Session{Profile: "school", Cookie: "Cookie: ASP.NET_SessionId=abc; auth=xyz;", UserAgent: "Test/1.0"})
	if err != nil {
		t.Fatalf("Failed to store session: %v", err)
	}

	got, err := manager.Retrieve("school")
	if err != nil {
		t.Fatalf("Failed to retrieve session: %v", err)
	}
	if got.Cookie != "ASP.NET_SessionId=abc; auth=xyz" {
		t.Errorf("Cookie not normalized: %q", got.Cookie)
	}
	if got.UserAgent != "Test/1.0" {
		t.Errorf("UserAgent mismatch: got %s", got.UserAgent)
	}
	if got.LastModified.IsZero() {
		t.Error("LastModified should be set on store")
	}

	if err := manager.Delete("school"); err != nil {
		t.Fatalf("Failed to delete session: %v", err)
	}
	if _, err := manager.Retrieve("school"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := manager.Delete("school"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound deleting twice, got %v", err)
	}
}

func TestManagerValidation(t *testing.T) {
	manager := NewManagerWithStores(newMemStore())

	if err := manager.Store(&Session{Cookie: "a=b"}); err == nil {
		t.Error("Expected error for missing profile")
	}
	if err := manager.Store(&Session{Profile: "p", Cookie: " ; "}); err == nil {
		t.Error("Expected error for empty cookie")
	}
}

func TestManagerFallsThroughStores(t *testing.T) {
	broken := newMemStore()
	broken.StoreError = errors.New("keychain locked")
	fallback := newMemStore()
	manager := NewManagerWithStores(broken, fallback)

	if err := manager.Store(&Session{Profile: "p", Cookie: "a=b"}); err != nil {
		t.Fatalf("Store should fall back: %v", err)
	}
	if !fallback.Exists("p") {
		t.Error("Session should be in the fallback store")
	}

	only := NewManagerWithStores(broken)
	if err := only.Store(&Session{Profile: "p", Cookie: "a=b"}); err == nil {
		t.Error("Expected error when every store fails")
	}
}

func TestManagerListNewestPerProfile(t *testing.T) {
	older := newMemStore()
	newer := newMemStore()
	now := time.Now()
	older.sessions["b"] = Session{Profile: "b", Cookie: "old=1", LastModified: now.Add(-time.Hour)}
	newer.sessions["b"] = Session{Profile: "b", Cookie: "new=1", LastModified: now}
	newer.sessions["a"] = Session{Profile: "a", Cookie: "a=1", LastModified: now}

	list, err := NewManagerWithStores(older, newer).List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(list))
	}
	if list[0].Profile != "a" || list[1].Profile != "b" {
		t.Errorf("Sessions not sorted by profile: %s, %s", list[0].Profile, list[1].Profile)
	}
	if list[1].Cookie != "new=1" {
		t.Errorf("Expected newest copy, got %s", list[1].Cookie)
	}
}

func TestManagerEnvironmentFallback(t *testing.T) {
	t.Setenv(EnvSessionCookie, "token=from-env")
	t.Setenv(EnvUserAgent, "EnvAgent")

	manager := NewManagerWithStores(newMemStore(), NewEnvironmentStore())
	got, err := manager.Retrieve("anything")
	if err != nil {
		t.Fatalf("Expected environment session: %v", err)
	}
	if got.Cookie != "token=from-env" || got.Profile != "anything" || got.UserAgent != "EnvAgent" {
		t.Errorf("Unexpected environment session: %+v", got)
	}
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvSessionCookie, "")
	store := NewEnvironmentStore()

	if store.Exists("") {
		t.Error("Exists should be false without the variable")
	}
	if _, err := store.Retrieve(""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if err := store.Store(&Session{Profile: "p"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Store should be unavailable, got %v", err)
	}

	t.Setenv(EnvSessionCookie, "a=b")
	list, _ := store.List()
	if len(list) != 1 || list[0].Profile != "default" {
		t.Errorf("Expected one default session, got %+v", list)
	}
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(EnvPassphrase, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "sessions.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}

	for _, p := range []string{"one", "two"} {
		if err := store.Store(&Session{Profile: p, Cookie: "id=" + p}); err != nil {
			t.Fatalf("Failed to store %s: %v", p, err)
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read store file: %v", err)
	}
	if string(content) == "" || containsAny(string(content), "id=one", "id=two") {
		t.Error("Store file should not contain plaintext cookies")
	}

	got, err := store.Retrieve("two")
	if err != nil || got.Cookie != "id=two" {
		t.Errorf("Round trip failed: %+v, %v", got, err)
	}

	list, _ := store.List()
	if len(list) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(list))
	}

	t.Setenv(EnvPassphrase, "wrong")
	other, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to create second store: %v", err)
	}
	if _, err := other.Retrieve("one"); err == nil {
		t.Error("Expected decryption failure with the wrong passphrase")
	}

	t.Setenv(EnvPassphrase, "test_passphrase_123")
	if err := store.Delete("one"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("two"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Store file should be removed with the last session")
	}
	if err := store.Delete("two"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(EnvPassphrase, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Store(&Session{Profile: "p", Cookie: "a=b"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".passphrase")); err != nil {
		t.Fatalf("Passphrase file not created: %v", err)
	}

	reopened, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	if !reopened.Exists("p") {
		t.Error("Reopened store should read the saved session")
	}
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	if err != nil {
		t.Fatalf("Mock keyring should be available: %v", err)
	}

	for _, p := range []string{"a", "b", "a"} {
		if err := store.Store(&Session{Profile: p, Cookie: "id=" + p}); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	list, _ := store.List()
	if len(list) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(list))
	}
	if !store.Exists("b") {
		t.Error("Expected session b")
	}

	if err := store.Delete("a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Retrieve("a"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if err := store.Delete("a"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	list, _ = store.List()
	if len(list) != 1 || list[0].Profile != "b" {
		t.Errorf("Expected only b, got %+v", list)
	}
}

func TestNewManager(t *testing.T) {
	keyring.MockInit()
	t.Setenv(EnvPassphrase, "p")

	manager, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if len(manager.stores) != 3 {
		t.Errorf("Expected keyring, file and environment stores, got %d", len(manager.stores))
	}
}

func TestNormalizeCookie(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a=b", "a=b"},
		{"  a=b ;c=d;  ", "a=b; c=d"},
		{"Cookie: a=b; c=d", "a=b; c=d"},
		{"cookie:a=b", "a=b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeCookie(tt.in); got != tt.want {
			t.Errorf("NormalizeCookie(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitize(t *testing.T) {
	s := &Session{Profile: "p", Cookie: "session=abcdefghijklmnop; short=xy"}
	masked := Sanitize(s)

	if masked.Cookie != "session=abcd...mnop; short=********" {
		t.Errorf("Unexpected masked cookie: %s", masked.Cookie)
	}
	if s.Cookie != "session=abcdefghijklmnop; short=xy" {
		t.Error("Sanitize must not modify the original")
	}
	if Sanitize(nil) != nil {
		t.Error("Sanitize(nil) should be nil")
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
