package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermParameterRead, true},
		{RoleViewer, PermHistoryRead, true},
		{RoleViewer, PermParameterWrite, false},
		{RoleOperator, PermParameterWrite, true},
		{RoleOperator, PermTokenIssue, false},
		{RoleAdmin, PermTokenIssue, true},
		{RoleAdmin, PermParameterWrite, true},
		{Role("nobody"), PermParameterRead, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleOperator)
	if len(perms) != 3 {
		t.Fatalf("PermissionsForRole(operator) = %v, want 3 permissions", perms)
	}

	// The returned slice is a copy.
	perms[0] = PermTokenIssue
	if HasPermission(RoleOperator, PermTokenIssue) {
		t.Error("mutating the returned slice changed the role mapping")
	}

	if got := PermissionsForRole(Role("nobody")); got != nil {
		t.Errorf("PermissionsForRole(unknown) = %v, want nil", got)
	}
}

func TestIsValidRole(t *testing.T) {
	for _, role := range []Role{RoleViewer, RoleOperator, RoleAdmin} {
		if !IsValidRole(role) {
			t.Errorf("IsValidRole(%q) = false", role)
		}
	}
	if IsValidRole("owner") {
		t.Error("IsValidRole(owner) = true")
	}
}
