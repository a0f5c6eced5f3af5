package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPermissionMatrix(t *testing.T) {
	cases := []struct {
		role    Role
		perm    string
		allowed bool
	}{
		{RoleAdmin, PermAidDecide, true},
		{RoleAdmin, PermAuditRead, true},
		{RoleTeller, PermMemberCreate, true},
		{RoleTeller, PermTransactionApply, true},
		{RoleTeller, PermAidRequest, true},
		{RoleTeller, PermAidDecide, false},
		{RoleTeller, PermAccountBlock, false},
		{RoleTeller, PermAuditRead, false},
		{RoleSupervisor, PermAidDecide, true},
		{RoleSupervisor, PermMemberRead, true},
		{RoleSupervisor, PermMemberCreate, false},
		{RoleSupervisor, PermTransactionApply, false},
		{RoleAuditor, PermAuditRead, true},
		{RoleAuditor, PermTransactionRead, true},
		{RoleAuditor, PermMemberCreate, false},
		{RoleAuditor, PermTransactionApply, false},
		{RoleAuditor, PermContributionRecord, false},
	}
	for _, tc := range cases {
		p := Principal{ID: "u1", Role: tc.role}
		err := Authorize(p, tc.perm)
		if tc.allowed && err != nil {
			t.Fatalf("%s should hold %s: %v", tc.role, tc.perm, err)
		}
		if !tc.allowed && !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("%s should lack %s, got %v", tc.role, tc.perm, err)
		}
	}
}

func TestUnknownRoleHoldsNothing(t *testing.T) {
	p := Principal{ID: "u1", Role: Role("ROOT")}
	for _, perm := range allPermissions {
		if err := Authorize(p, perm); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("unknown role granted %s", perm)
		}
	}
	if KnownRole(Role("ROOT")) {
		t.Fatal("ROOT must not be a known role")
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv("CAJA_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("user-42", RoleSupervisor, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("not a JWT: %q", token)
	}

	p, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if p.ID != "user-42" || p.Role != RoleSupervisor {
		t.Fatalf("principal = %+v", p)
	}
}

func TestGenerateTokenRejectsUnknownRole(t *testing.T) {
	t.Setenv("CAJA_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("user-42", Role("ROOT"), time.Minute); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("got %v, want ErrUnknownRole", err)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	t.Setenv("CAJA_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("user-42", RoleTeller, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tampered := token[:len(token)-2] + "xx"
	if _, err := ParseAndValidate(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token accepted: %v", err)
	}
	if _, err := ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token accepted: %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	t.Setenv("CAJA_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("user-42", RoleTeller, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}
