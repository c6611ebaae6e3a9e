package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"tenantauth.org/internal/audit"
)

type fakeDirectory struct {
	mu    sync.Mutex
	orgs  map[string]Organization
	users map[string]User
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{orgs: map[string]Organization{}, users: map[string]User{}}
}

func (d *fakeDirectory) GetUser(_ context.Context, username string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (d *fakeDirectory) CreateUser(_ context.Context, u *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[u.Username]; ok {
		return ErrConflict
	}
	d.users[u.Username] = *u
	return nil
}

func (d *fakeDirectory) DeleteUser(_ context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[username]; !ok {
		return ErrNotFound
	}
	delete(d.users, username)
	return nil
}

func (d *fakeDirectory) ListUsers(_ context.Context, orgID string) ([]*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*User
	for _, u := range d.users {
		if u.OrgID == orgID {
			u := u
			out = append(out, &u)
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetOrganization(_ context.Context, orgID string) (*Organization, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.orgs[orgID]
	if !ok {
		return nil, fmt.Errorf("%w: organization %q", ErrNotFound, orgID)
	}
	return &o, nil
}

func (d *fakeDirectory) CreateOrganization(_ context.Context, org *Organization) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.orgs[org.ID]; ok {
		return ErrConflict
	}
	d.orgs[org.ID] = *org
	return nil
}

func (d *fakeDirectory) ListOrganizations(_ context.Context, f OrgFilter) ([]*Organization, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Organization
	for id, o := range d.orgs {
		if f.ID == "" || f.ID == id {
			o := o
			out = append(out, &o)
		}
	}
	return out, nil
}

type sliceSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *sliceSink) Append(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *sliceSink) take() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

type fixture struct {
	svc   *Service
	dir   *fakeDirectory
	sink  *sliceSink
	clock *fakeClock
	seen  []string
}

var testHasher = NewBcryptHasher(bcrypt.MinCost)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: newFakeDirectory(), sink: &sliceSink{}, clock: newFakeClock()}
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	iss, err := NewIssuer(testIssuerConfig(), WithIssuerClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	f.svc, err = NewService(f.dir, iss,
		WithHasher(testHasher),
		WithAuditRecorder(audit.NewRecorder(f.sink, logger)),
		WithLogger(logger),
		WithClock(f.clock.Now),
		WithLoginObserver(func(status string, role Role) { f.seen = append(f.seen, status+":"+role.String()) }),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	f.dir.orgs["acme"] = Organization{ID: "acme", Name: "Acme"}
	f.dir.orgs["globex"] = Organization{ID: "globex"}
	f.addUser(t, "root", "rootpw", RoleAdmin, "")
	f.addUser(t, "alice", "alicepw", RoleEditor, "acme")
	f.addUser(t, "vic", "vicpw", RoleViewer, "acme")
	f.addUser(t, "gus", "guspw", RoleEditor, "globex")
	return f
}

func (f *fixture) addUser(t *testing.T, username, password string, role Role, org string) {
	t.Helper()
	hash, err := testHasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f.dir.users[username] = User{Username: username, PasswordHash: hash, Role: role, OrgID: org}
}

func principal(username string, role Role, org string) Principal {
	return Principal{Username: username, Role: role, OrgID: org}
}

func expectSingleEvent(t *testing.T, events []audit.Event, username, tag string) audit.Event {
	t.Helper()
	if len(events) != 1 {
		t.Fatalf("expected exactly one audit event, got %d: %+v", len(events), events)
	}
	if events[0].Username != username || events[0].Event != tag {
		t.Fatalf("unexpected audit event: %+v (want %s/%s)", events[0], username, tag)
	}
	return events[0]
}

func TestAuthenticateLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.AuthenticateLogin(ctx, "alice", "alicepw")
	if err != nil {
		t.Fatalf("AuthenticateLogin: %v", err)
	}
	if p != principal("alice", RoleEditor, "acme") {
		t.Fatalf("unexpected principal: %+v", p)
	}
	expectSingleEvent(t, f.sink.take(), "alice", audit.EventLoginSuccess)

	if _, err := f.svc.AuthenticateLogin(ctx, "alice", "wrong"); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
	e := expectSingleEvent(t, f.sink.take(), "alice", audit.EventLoginFailure)
	if e.Details != "incorrect password" {
		t.Fatalf("unexpected details %q", e.Details)
	}

	if _, err := f.svc.AuthenticateLogin(ctx, "nobody", "x"); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
	e = expectSingleEvent(t, f.sink.take(), "nobody", audit.EventLoginFailure)
	if e.Details != "unknown user" {
		t.Fatalf("unexpected details %q", e.Details)
	}

	want := []string{"success:editor", "failed:", "failed:"}
	if fmt.Sprint(f.seen) != fmt.Sprint(want) {
		t.Fatalf("observer saw %v, want %v", f.seen, want)
	}
}

func TestLoginThenAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, tok, err := f.svc.Login(ctx, "alice", "alicepw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.sink.take()

	p, err := f.svc.Authenticate(ctx, tok.Value)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !IsOrgAdminOrSelf(p, "acme") {
		t.Fatal("expected editor to be permitted in own org")
	}
	if IsOrgAdminOrSelf(p, "globex") {
		t.Fatal("expected editor to be denied in other org")
	}
	if Authorize(p, RoleAdmin) {
		t.Fatal("expected admin-only check to deny editor")
	}
	if events := f.sink.take(); len(events) != 0 {
		t.Fatalf("successful authentication must not audit, got %+v", events)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Issuer().Issue(principal("alice", RoleEditor, "acme"), time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	f.clock.Advance(time.Minute)
	if _, err := f.svc.Authenticate(ctx, tok.Value); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	expectSingleEvent(t, f.sink.take(), "alice", audit.EventTokenExpire)

	if _, err := f.svc.Authenticate(ctx, "garbage"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	expectSingleEvent(t, f.sink.take(), "", audit.EventTokenInvalid)

	ghost, err := f.svc.Issuer().Issue(principal("ghost", RoleViewer, "acme"), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, ghost.Value); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	expectSingleEvent(t, f.sink.take(), "ghost", audit.EventLoginFailure)
}

type unavailableDirectory struct {
	*fakeDirectory
	err error
}

func (d unavailableDirectory) GetUser(context.Context, string) (*User, error) {
	return nil, d.err
}

func TestAuthenticateDirectoryErrorIsLogged(t *testing.T) {
	f := newFixture(t)
	logger, hook := logtest.NewNullLogger()
	dirErr := errors.New("connection refused")

	svc, err := NewService(unavailableDirectory{fakeDirectory: f.dir, err: dirErr}, f.svc.Issuer(),
		WithHasher(testHasher),
		WithAuditRecorder(audit.NewRecorder(f.sink, logger)),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	tok, err := f.svc.Issuer().Issue(principal("alice", RoleEditor, "acme"), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Authenticate(context.Background(), tok.Value); !errors.Is(err, dirErr) {
		t.Fatalf("expected directory error, got %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning, got %+v", hook.AllEntries())
	}
	if entry.Data["username"] != "alice" || entry.Data[logrus.ErrorKey] != dirErr {
		t.Fatalf("unexpected log fields %+v", entry.Data)
	}
	if events := f.sink.take(); len(events) != 0 {
		t.Fatalf("expected no audit events, got %+v", events)
	}
}

func TestAuthenticateRereadsDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Issuer().Issue(principal("alice", RoleEditor, "acme"), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	u := f.dir.users["alice"]
	u.Role = RoleViewer
	f.dir.users["alice"] = u

	p, err := f.svc.Authenticate(ctx, tok.Value)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Role != RoleViewer {
		t.Fatalf("expected demoted role from directory, got %s", p.Role)
	}
	if IsOrgAdminOrSelf(p, "acme") {
		t.Fatal("demoted user must lose org admin rights")
	}
}

func TestCreateOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := principal("root", RoleAdmin, "")

	if _, err := f.svc.CreateOrganization(ctx, principal("alice", RoleEditor, "acme"), "initech", ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := f.svc.CreateOrganization(ctx, root, "bad id!", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	org, err := f.svc.CreateOrganization(ctx, root, "initech", "Initech")
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	if org.ID != "initech" || org.Name != "Initech" {
		t.Fatalf("unexpected org: %+v", org)
	}
	expectSingleEvent(t, f.sink.take(), "root", audit.EventOrgCreated)

	if _, err := f.svc.CreateOrganization(ctx, root, "acme", "Renamed"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := f.dir.orgs["acme"].Name; got != "Acme" {
		t.Fatalf("existing org modified: %q", got)
	}
}

func TestListOrganizationsScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	all, err := f.svc.ListOrganizations(ctx, principal("root", RoleAdmin, ""))
	if err != nil || len(all) != 2 {
		t.Fatalf("admin list: %v %+v", err, all)
	}
	own, err := f.svc.ListOrganizations(ctx, principal("vic", RoleViewer, "acme"))
	if err != nil || len(own) != 1 || own[0].ID != "acme" {
		t.Fatalf("viewer list: %v %+v", err, own)
	}
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := principal("alice", RoleEditor, "acme")

	cases := []struct {
		name  string
		actor Principal
		org   string
		in    NewUser
		want  error
	}{
		{"viewer denied", principal("vic", RoleViewer, "acme"), "acme", NewUser{"x1", "pw", RoleViewer}, ErrPermissionDenied},
		{"other org denied", principal("gus", RoleEditor, "globex"), "acme", NewUser{"x2", "pw", RoleViewer}, ErrPermissionDenied},
		{"editor cannot grant admin", alice, "acme", NewUser{"x3", "pw", RoleAdmin}, ErrPermissionDenied},
		{"bad username", alice, "acme", NewUser{"no spaces", "pw", RoleViewer}, ErrInvalidInput},
		{"empty password", alice, "acme", NewUser{"x4", "", RoleViewer}, ErrInvalidInput},
		{"unknown role", principal("root", RoleAdmin, ""), "acme", NewUser{"x5", "pw", Role("owner")}, ErrInvalidInput},
		{"missing org", principal("root", RoleAdmin, ""), "ghost", NewUser{"x6", "pw", RoleViewer}, ErrNotFound},
		{"duplicate", alice, "acme", NewUser{"gus", "pw", RoleViewer}, ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.CreateUser(ctx, tc.actor, tc.org, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	f.sink.take()

	u, err := f.svc.CreateUser(ctx, alice, "acme", NewUser{Username: "dave", Password: "davepw", Role: RoleViewer})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.OrgID != "acme" || u.Role != RoleViewer || u.PasswordHash == "davepw" {
		t.Fatalf("unexpected user: %+v", u)
	}
	expectSingleEvent(t, f.sink.take(), "alice", audit.EventUserCreated)

	if _, err := f.svc.AuthenticateLogin(ctx, "dave", "davepw"); err != nil {
		t.Fatalf("new user cannot log in: %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := principal("root", RoleAdmin, "")

	if err := f.svc.DeleteUser(ctx, root, "acme", "gus"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for user in other org, got %v", err)
	}
	if _, ok := f.dir.users["gus"]; !ok {
		t.Fatal("user in other org must not be deleted")
	}
	if err := f.svc.DeleteUser(ctx, root, "acme", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.svc.DeleteUser(ctx, principal("vic", RoleViewer, "acme"), "acme", "alice"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := f.svc.DeleteUser(ctx, principal("alice", RoleEditor, "acme"), "acme", "vic"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, ok := f.dir.users["vic"]; ok {
		t.Fatal("user still present after delete")
	}
	expectSingleEvent(t, f.sink.take(), "alice", audit.EventUserDeleted)
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users, err := f.svc.ListUsers(ctx, principal("alice", RoleEditor, "acme"), "acme")
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 acme users, got %d", len(users))
	}
	if _, err := f.svc.ListUsers(ctx, principal("alice", RoleEditor, "acme"), "globex"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}
