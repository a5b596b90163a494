package auth

import (
	"errors"
	"testing"
	"time"
)

func TestCreateUserAndAuthenticate(t *testing.T) {
	m := NewManager()

	if err := m.CreateUser("alice", "secret", RoleReadWrite); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	session, err := m.Authenticate("alice", "secret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if session.Username != "alice" || session.Role != RoleReadWrite {
		t.Errorf("session = %+v", session)
	}
	if session.Token == "" {
		t.Error("session has empty token")
	}

	resolved, err := m.ValidateToken(session.Token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if resolved.Username != "alice" {
		t.Errorf("resolved username = %q", resolved.Username)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	m := NewManager()
	if err := m.CreateUser("alice", "secret", RoleRead); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if _, err := m.Authenticate("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := m.Authenticate("nobody", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user = %v, want ErrInvalidCredentials", err)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	m := NewManager()
	if err := m.CreateUser("alice", "a", RoleRead); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := m.CreateUser("alice", "b", RoleRead); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate user = %v, want ErrUserExists", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	m := NewManager()
	m.SetSessionTTL(-time.Second) // Sessions are born expired
	if err := m.CreateUser("alice", "secret", RoleRead); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	session, err := m.Authenticate("alice", "secret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if _, err := m.ValidateToken(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token = %v, want ErrInvalidToken", err)
	}
}

func TestLogout(t *testing.T) {
	m := NewManager()
	if err := m.CreateUser("alice", "secret", RoleRead); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	session, err := m.Authenticate("alice", "secret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	m.Logout(session.Token)
	if _, err := m.ValidateToken(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token after logout = %v, want ErrInvalidToken", err)
	}
}

func TestDeleteUserInvalidatesSessions(t *testing.T) {
	m := NewManager()
	if err := m.CreateUser("alice", "secret", RoleAdmin); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	session, err := m.Authenticate("alice", "secret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if err := m.DeleteUser("alice"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if _, err := m.ValidateToken(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token after user deletion = %v, want ErrInvalidToken", err)
	}
	if err := m.DeleteUser("alice"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("double delete = %v, want ErrUserNotFound", err)
	}
}

func TestRolePermissions(t *testing.T) {
	if !RoleAdmin.CanWrite() || !RoleReadWrite.CanWrite() {
		t.Error("admin and readWrite should be able to write")
	}
	if RoleRead.CanWrite() {
		t.Error("read role should not be able to write")
	}
	if Role("nonsense").Valid() {
		t.Error("unknown role should not be valid")
	}
}
