// Package admins manages the operator allowlist. The allowlist always keeps
// at least one entry so the service cannot be locked out by its own
// administrators.
package admins

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/provzone/docchat/internal/storage"
)

// ErrLastAdmin is returned when removing an admin would empty the allowlist.
var ErrLastAdmin = errors.New("cannot remove the last admin")

// ErrInvalidEmail is returned for malformed admin emails.
var ErrInvalidEmail = errors.New("invalid email")

// AdminStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type AdminStore interface {
	AddAdmin(email string) error
	RemoveAdmin(email string) error
	ListAdmins() ([]storage.Admin, error)
}

// Manager provides cached access to the allowlist and enforces the
// minimum-one-admin invariant at the mutation boundary.
type Manager struct {
	store AdminStore

	mu     sync.RWMutex
	cached map[string]bool
}

// NewManager creates a Manager. bootstrapEmail, when non-empty, seeds an
// empty allowlist so a fresh deployment starts with one admin. A non-empty
// allowlist is left untouched, so removing the bootstrap admin sticks across
// restarts.
func NewManager(store AdminStore, bootstrapEmail string) (*Manager, error) {
	m := &Manager{store: store}
	if bootstrapEmail == "" {
		return m, nil
	}
	existing, err := store.ListAdmins()
	if err != nil {
		return nil, fmt.Errorf("loading allowlist: %w", err)
	}
	if len(existing) == 0 {
		if err := m.Add(bootstrapEmail); err != nil {
			return nil, fmt.Errorf("seeding bootstrap admin: %w", err)
		}
	}
	return m, nil
}

// IsAdmin reports whether email is on the allowlist.
func (m *Manager) IsAdmin(email string) (bool, error) {
	email = normalize(email)

	m.mu.RLock()
	if m.cached != nil {
		ok := m.cached[email]
		m.mu.RUnlock()
		return ok, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached == nil {
		if err := m.loadLocked(); err != nil {
			return false, err
		}
	}
	return m.cached[email], nil
}

// Add puts email on the allowlist. Adding an existing admin is a no-op.
func (m *Manager) Add(email string) error {
	email = normalize(email)
	if !validEmail(email) {
		return fmt.Errorf("%q: %w", email, ErrInvalidEmail)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.AddAdmin(email); err != nil {
		return fmt.Errorf("adding admin: %w", err)
	}
	m.cached = nil
	return nil
}

// Remove takes email off the allowlist. Fails with ErrLastAdmin when email is
// the only entry, and storage.ErrNotFound when it is not listed.
func (m *Manager) Remove(email string) error {
	email = normalize(email)

	m.mu.Lock()
	defer m.mu.Unlock()

	admins, err := m.store.ListAdmins()
	if err != nil {
		return fmt.Errorf("listing admins: %w", err)
	}
	listed := false
	for _, a := range admins {
		if a.Email == email {
			listed = true
			break
		}
	}
	if !listed {
		return storage.ErrNotFound
	}
	if len(admins) == 1 {
		return ErrLastAdmin
	}

	if err := m.store.RemoveAdmin(email); err != nil {
		return fmt.Errorf("removing admin: %w", err)
	}
	m.cached = nil
	return nil
}

// List returns all allowlisted admins.
func (m *Manager) List() ([]storage.Admin, error) {
	return m.store.ListAdmins()
}

func (m *Manager) loadLocked() error {
	admins, err := m.store.ListAdmins()
	if err != nil {
		return fmt.Errorf("listing admins: %w", err)
	}
	m.cached = make(map[string]bool, len(admins))
	for _, a := range admins {
		m.cached[a.Email] = true
	}
	return nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\n")
}
