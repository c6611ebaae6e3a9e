// Package memstore keeps the directory and audit log in process memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tenantauth.org/internal/audit"
	"tenantauth.org/internal/auth"
)

var (
	_ auth.Directory = (*Store)(nil)
	_ audit.Sink     = (*Store)(nil)
)

// Store implements auth.Directory and audit.Sink guarded by a single mutex.
type Store struct {
	mu     sync.RWMutex
	orgs   map[string]auth.Organization
	users  map[string]auth.User
	events []audit.Event
	nextID int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		orgs:  make(map[string]auth.Organization),
		users: make(map[string]auth.User),
	}
}

func (s *Store) GetUser(_ context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("%w: user %q", auth.ErrNotFound, username)
	}
	return &u, nil
}

func (s *Store) CreateUser(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return fmt.Errorf("%w: user %q", auth.ErrConflict, u.Username)
	}
	if u.OrgID != "" {
		if _, ok := s.orgs[u.OrgID]; !ok {
			return fmt.Errorf("%w: organization %q", auth.ErrNotFound, u.OrgID)
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.Username] = *u
	return nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("%w: user %q", auth.ErrNotFound, username)
	}
	delete(s.users, username)
	return nil
}

func (s *Store) ListUsers(_ context.Context, orgID string) ([]*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.User, 0)
	for _, u := range s.users {
		if u.OrgID != orgID {
			continue
		}
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) GetOrganization(_ context.Context, orgID string) (*auth.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[orgID]
	if !ok {
		return nil, fmt.Errorf("%w: organization %q", auth.ErrNotFound, orgID)
	}
	return &org, nil
}

func (s *Store) CreateOrganization(_ context.Context, org *auth.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return fmt.Errorf("%w: organization %q", auth.ErrConflict, org.ID)
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	s.orgs[org.ID] = *org
	return nil
}

func (s *Store) ListOrganizations(_ context.Context, filter auth.OrgFilter) ([]*auth.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.Organization, 0, len(s.orgs))
	for id, org := range s.orgs {
		if filter.ID != "" && id != filter.ID {
			continue
		}
		org := org
		out = append(out, &org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Append implements audit.Sink.
func (s *Store) Append(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, *e)
	return nil
}

// Events returns up to limit events for username, newest first. An empty
// username matches every event.
func (s *Store) Events(_ context.Context, username string, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if username == "" || s.events[i].Username == username {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}
