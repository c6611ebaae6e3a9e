package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tenantauth.org/internal/audit"
	"tenantauth.org/internal/auth"
)

func TestCreateOrganizationConflictKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateOrganization(ctx, &auth.Organization{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.CreateOrganization(ctx, &auth.Organization{ID: "acme", Name: "Other"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	org, err := s.GetOrganization(ctx, "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if org.Name != "Acme" {
		t.Fatalf("existing record changed: %+v", org)
	}
}

func TestConcurrentCreateUserSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateOrganization(ctx, &auth.Organization{ID: "acme"}); err != nil {
		t.Fatalf("create org: %v", err)
	}

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateUser(ctx, &auth.User{Username: "bob", Role: auth.RoleViewer, OrgID: "acme"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, auth.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 || conflicts != workers-1 {
		t.Fatalf("succeeded=%d conflicts=%d", succeeded, conflicts)
	}
}

func TestCreateUserUnknownOrg(t *testing.T) {
	s := New()
	err := s.CreateUser(context.Background(), &auth.User{Username: "bob", Role: auth.RoleViewer, OrgID: "ghost"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"beta", "acme"} {
		if err := s.CreateOrganization(ctx, &auth.Organization{ID: id}); err != nil {
			t.Fatalf("create org: %v", err)
		}
	}
	_ = s.CreateUser(ctx, &auth.User{Username: "zed", Role: auth.RoleViewer, OrgID: "acme"})
	_ = s.CreateUser(ctx, &auth.User{Username: "amy", Role: auth.RoleEditor, OrgID: "acme"})
	_ = s.CreateUser(ctx, &auth.User{Username: "bo", Role: auth.RoleViewer, OrgID: "beta"})

	orgs, _ := s.ListOrganizations(ctx, auth.OrgFilter{})
	if len(orgs) != 2 || orgs[0].ID != "acme" {
		t.Fatalf("unexpected orgs: %+v", orgs)
	}
	orgs, _ = s.ListOrganizations(ctx, auth.OrgFilter{ID: "beta"})
	if len(orgs) != 1 || orgs[0].ID != "beta" {
		t.Fatalf("unexpected filtered orgs: %+v", orgs)
	}
	users, _ := s.ListUsers(ctx, "acme")
	if len(users) != 2 || users[0].Username != "amy" || users[1].Username != "zed" {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestAppendAssignsIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, &audit.Event{Username: "alice", Event: audit.EventLoginSuccess}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = s.Append(ctx, &audit.Event{Event: audit.EventTokenInvalid})

	events, err := s.Events(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].ID != 3 || events[1].ID != 2 {
		t.Fatalf("unexpected events: %+v", events)
	}
	for _, e := range events {
		if e.Timestamp.IsZero() {
			t.Fatalf("timestamp not assigned: %+v", e)
		}
	}
	all, _ := s.Events(ctx, "", 10)
	if len(all) != 4 || all[0].ID != 4 || all[3].ID != 1 {
		t.Fatalf("unexpected events: %+v", all)
	}
}
