package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager owns the one active AuthState. Every read returns a copy and
// every write goes through the persister before it becomes visible.
type Manager struct {
	mu        sync.Mutex
	current   AuthState
	persister Persister
	log       logrus.FieldLogger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for persistence events.
func WithLogger(l logrus.FieldLogger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager loads the stored state from p. A missing record starts from
// an empty AuthState.
func NewManager(ctx context.Context, p Persister, opts ...ManagerOption) (*Manager, error) {
	if p == nil {
		p = NewMemoryPersister()
	}
	m := &Manager{persister: p, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(m)
	}

	st, err := p.Load(ctx)
	switch {
	case err == nil:
		m.current = st
	case errors.Is(err, ErrNotFound):
	default:
		return nil, fmt.Errorf("authstate: load: %w", err)
	}
	return m, nil
}

// Current returns a copy of the active state.
func (m *Manager) Current() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.clone()
}

// Replace swaps in st wholesale.
func (m *Manager) Replace(ctx context.Context, st AuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st = st.clone()
	if err := m.persister.Save(ctx, st); err != nil {
		return fmt.Errorf("authstate: save: %w", err)
	}
	m.current = st
	m.log.WithFields(logrus.Fields{
		"has_config":       st.Config != nil,
		"has_registration": st.LastRegistration != nil,
	}).Debug("auth state replaced")
	return nil
}

// Reset removes the stored record and starts over from an empty state.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.persister.Clear(ctx); err != nil {
		return fmt.Errorf("authstate: clear: %w", err)
	}
	m.current = AuthState{}
	m.log.Debug("auth state cleared")
	return nil
}

// SetConfig stores a provider configuration, keeping everything else.
func (m *Manager) SetConfig(ctx context.Context, cfg *ServiceConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current.clone()
	if cfg != nil {
		c := *cfg
		next.Config = &c
	} else {
		next.Config = nil
	}
	if err := m.persister.Save(ctx, next); err != nil {
		return fmt.Errorf("authstate: save: %w", err)
	}
	m.current = next
	return nil
}

// UpdateAfterRegistration records the outcome of a registration attempt.
// A successful response replaces the previous one and clears any tokens
// issued to the old client; a failure is recorded as text and leaves the
// previous registration untouched.
func (m *Manager) UpdateAfterRegistration(ctx context.Context, resp *RegistrationResponse, regErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current.clone()
	switch {
	case regErr != nil:
		next.LastRegistrationError = regErr.Error()
	case resp != nil:
		r := *resp
		r.RedirectURIs = append([]string(nil), resp.RedirectURIs...)
		next.LastRegistration = &r
		next.LastRegistrationError = ""
		next.clearTokens()
	default:
		return errors.New("authstate: registration update needs a response or an error")
	}

	if err := m.persister.Save(ctx, next); err != nil {
		return fmt.Errorf("authstate: save: %w", err)
	}
	m.current = next

	m.log.WithFields(logrus.Fields{
		"client_id": next.ClientID(),
		"failed":    regErr != nil,
	}).Info("registration recorded")
	return nil
}

// Close releases the persister.
func (m *Manager) Close() error {
	return m.persister.Close()
}
