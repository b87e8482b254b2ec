package credentials

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "coursedump"
	keyringPrefix  = "session_"
	// keyringIndex holds the list of stored profiles, since the keychain
	// itself cannot be enumerated
	keyringIndex = "profiles"
)

// KeyringStore implements Store using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keyring store after checking that the keychain answers
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves the session to the system keychain
func (k *KeyringStore) Store(session *Session) error {
	if session == nil || session.Profile == "" {
		return ErrInvalidSession
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := keyring.Set(keyringService, keyringPrefix+session.Profile, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	profiles := k.profiles()
	for _, p := range profiles {
		if p == session.Profile {
			return nil
		}
	}
	return k.saveProfiles(append(profiles, session.Profile))
}

// Retrieve gets the session from the system keychain
func (k *KeyringStore) Retrieve(profile string) (*Session, error) {
	if profile == "" {
		return nil, ErrInvalidSession
	}

	data, err := keyring.Get(keyringService, keyringPrefix+profile)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// List returns the sessions of every profile recorded in the index
func (k *KeyringStore) List() ([]*Session, error) {
	var sessions []*Session
	for _, p := range k.profiles() {
		s, err := k.Retrieve(p)
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Delete removes the session from the system keychain
func (k *KeyringStore) Delete(profile string) error {
	if profile == "" {
		return ErrInvalidSession
	}

	if err := keyring.Delete(keyringService, keyringPrefix+profile); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	var kept []string
	for _, p := range k.profiles() {
		if p != profile {
			kept = append(kept, p)
		}
	}
	return k.saveProfiles(kept)
}

// Exists checks if a session exists in the keychain
func (k *KeyringStore) Exists(profile string) bool {
	if profile == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+profile)
	return err == nil
}

func (k *KeyringStore) profiles() []string {
	data, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		return nil
	}
	var profiles []string
	if err := json.Unmarshal([]byte(data), &profiles); err != nil {
		return nil
	}
	return profiles
}

func (k *KeyringStore) saveProfiles(profiles []string) error {
	if len(profiles) == 0 {
		err := keyring.Delete(keyringService, keyringIndex)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to update keyring index: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("failed to marshal keyring index: %w", err)
	}
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to update keyring index: %w", err)
	}
	return nil
}
