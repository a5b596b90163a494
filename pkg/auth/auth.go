// Package auth provides user management and token sessions for the HTTP
// server. Passwords are stored as PBKDF2-SHA256 derived keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrInvalidCredentials is returned when username or password is incorrect
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUserExists is returned when trying to create a user that already exists
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when user is not found
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidToken is returned when a session token is unknown or expired
	ErrInvalidToken = errors.New("invalid or expired session token")
	// ErrPermissionDenied is returned when user lacks required permission
	ErrPermissionDenied = errors.New("permission denied")
)

const (
	saltLength     = 16
	iterationCount = 4096
	keyLength      = 32
	tokenLength    = 32
)

// Role represents a user role.
type Role string

const (
	// RoleAdmin has full access, including user management
	RoleAdmin Role = "admin"
	// RoleReadWrite can read and write data
	RoleReadWrite Role = "readWrite"
	// RoleRead can only read data
	RoleRead Role = "read"
)

// CanWrite reports whether the role may mutate data.
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleReadWrite
}

// Valid reports whether the role is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleReadWrite || r == RoleRead
}

// User represents a server user.
type User struct {
	Username  string
	Salt      []byte
	Key       []byte
	Role      Role
	CreatedAt time.Time
}

// Session represents an authenticated session.
type Session struct {
	Username  string
	Role      Role
	Token     string
	ExpiresAt time.Time
}

// Manager manages users and authenticated sessions.
type Manager struct {
	mu       sync.RWMutex
	users    map[string]*User
	sessions map[string]*Session

	sessionTTL time.Duration
}

// NewManager creates an authentication manager with a default session TTL
// of one hour.
func NewManager() *Manager {
	return &Manager{
		users:      make(map[string]*User),
		sessions:   make(map[string]*Session),
		sessionTTL: time.Hour,
	}
}

// SetSessionTTL overrides the session lifetime.
func (m *Manager) SetSessionTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionTTL = ttl
}

// CreateUser registers a new user with the given role.
func (m *Manager) CreateUser(username, password string, role Role) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if !role.Valid() {
		return fmt.Errorf("unknown role: %q", role)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[username]; exists {
		return ErrUserExists
	}

	m.users[username] = &User{
		Username:  username,
		Salt:      salt,
		Key:       pbkdf2.Key([]byte(password), salt, iterationCount, keyLength, sha256.New),
		Role:      role,
		CreatedAt: time.Now(),
	}
	return nil
}

// DeleteUser removes a user and invalidates their sessions.
func (m *Manager) DeleteUser(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[username]; !exists {
		return ErrUserNotFound
	}
	delete(m.users, username)

	for token, session := range m.sessions {
		if session.Username == username {
			delete(m.sessions, token)
		}
	}
	return nil
}

// Verify checks a username/password pair without creating a session.
func (m *Manager) Verify(username, password string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, exists := m.users[username]
	if !exists {
		// Derive a key anyway so absent users cost the same as bad
		// passwords.
		pbkdf2.Key([]byte(password), make([]byte, saltLength), iterationCount, keyLength, sha256.New)
		return nil, ErrInvalidCredentials
	}

	key := pbkdf2.Key([]byte(password), user.Salt, iterationCount, keyLength, sha256.New)
	if subtle.ConstantTimeCompare(key, user.Key) != 1 {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Authenticate verifies credentials and opens a session.
func (m *Manager) Authenticate(username, password string) (*Session, error) {
	user, err := m.Verify(username, password)
	if err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session := &Session{
		Username:  user.Username,
		Role:      user.Role,
		Token:     token,
		ExpiresAt: time.Now().Add(m.sessionTTL),
	}
	m.sessions[token] = session
	return session, nil
}

// ValidateToken resolves a session token, expiring stale sessions.
func (m *Manager) ValidateToken(token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[token]
	if !exists {
		return nil, ErrInvalidToken
	}
	if time.Now().After(session.ExpiresAt) {
		delete(m.sessions, token)
		return nil, ErrInvalidToken
	}
	return session, nil
}

// Logout invalidates a session token.
func (m *Manager) Logout(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// UserCount returns the number of registered users.
func (m *Manager) UserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

func generateToken() (string, error) {
	b := make([]byte, tokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
