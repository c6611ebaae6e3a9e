package auth

import (
	"context"
	"testing"
)

func TestAuthorize(t *testing.T) {
	admin := Principal{Username: "root", Role: RoleAdmin}
	orgAdmin := Principal{Username: "ann", Role: RoleAdmin, OrgID: "acme"}
	editor := Principal{Username: "bob", Role: RoleEditor, OrgID: "acme"}
	viewer := Principal{Username: "vic", Role: RoleViewer, OrgID: "acme"}

	cases := []struct {
		name     string
		p        Principal
		required []Role
		want     bool
	}{
		{"admin listed", admin, []Role{RoleAdmin}, true},
		{"admin not listed", admin, []Role{RoleEditor}, true},
		{"admin nothing required", admin, nil, true},
		{"admin with org", orgAdmin, []Role{RoleAdmin}, true},
		{"editor admin-only", editor, []Role{RoleAdmin}, false},
		{"editor global role", editor, []Role{RoleEditor, RoleAdmin}, true},
		{"viewer global role", viewer, []Role{RoleViewer}, true},
		{"viewer not listed", viewer, []Role{RoleEditor, RoleAdmin}, false},
		{"no required roles", viewer, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Authorize(tc.p, tc.required...); got != tc.want {
				t.Fatalf("Authorize(%+v, %v) = %v, want %v", tc.p, tc.required, got, tc.want)
			}
		})
	}
}

func TestIsOrgAdminOrSelf(t *testing.T) {
	if !IsOrgAdminOrSelf(Principal{Username: "root", Role: RoleAdmin}, "acme") {
		t.Fatal("admin must qualify")
	}
	if !IsOrgAdminOrSelf(Principal{Username: "bob", Role: RoleEditor, OrgID: "acme"}, "acme") {
		t.Fatal("editor of same org must qualify")
	}
	if IsOrgAdminOrSelf(Principal{Username: "bob", Role: RoleEditor, OrgID: "acme"}, "globex") {
		t.Fatal("editor of other org must not qualify")
	}
	if IsOrgAdminOrSelf(Principal{Username: "vic", Role: RoleViewer, OrgID: "acme"}, "acme") {
		t.Fatal("viewer must never qualify")
	}
	if !IsOrgAdminOrSelf(Principal{Username: "ann", Role: RoleAdmin, OrgID: "acme"}, "globex") {
		t.Fatal("admin must qualify regardless of org")
	}
	if IsOrgAdminOrSelf(Principal{Username: "bob", Role: RoleEditor, OrgID: "acme"}, "") {
		t.Fatal("editor must not qualify for an empty org")
	}
}

func TestCanAssignRole(t *testing.T) {
	editor := Principal{Username: "bob", Role: RoleEditor, OrgID: "acme"}
	if CanAssignRole(editor, RoleAdmin) {
		t.Fatal("editor must not grant admin")
	}
	if !CanAssignRole(editor, RoleViewer) || !CanAssignRole(editor, RoleEditor) {
		t.Fatal("editor may grant org-scoped roles")
	}
	if !CanAssignRole(Principal{Username: "root", Role: RoleAdmin}, RoleAdmin) {
		t.Fatal("admin may grant admin")
	}
	if CanAssignRole(Principal{Username: "root", Role: RoleAdmin}, Role("owner")) {
		t.Fatal("unknown role must be refused")
	}
}

func TestParseRole(t *testing.T) {
	for _, raw := range []string{"admin", " Editor ", "VIEWER"} {
		if _, err := ParseRole(raw); err != nil {
			t.Fatalf("ParseRole(%q): %v", raw, err)
		}
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal in empty context")
	}
	want := Principal{Username: "alice", Role: RoleEditor, OrgID: "acme"}
	got, ok := PrincipalFromContext(ContextWithPrincipal(context.Background(), want))
	if !ok || got != want {
		t.Fatalf("PrincipalFromContext = %+v, %v; want %+v", got, ok, want)
	}
}
