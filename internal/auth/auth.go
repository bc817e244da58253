// Package auth handles accounts and session tokens. Passwords are hashed
// with bcrypt. Tokens are HS256 JWTs signed with an app-level secret, and
// every issued token is also recorded in the sessions table so logout can
// revoke it before expiry.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"doc-translator/internal/db"
)

const jwtSecretConfigKey = "jwt_secret"

var (
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrInvalidToken         = errors.New("invalid or expired token")
	ErrUserExists           = errors.New("username already taken")
	ErrRegistrationDisabled = errors.New("registration is disabled")
	ErrSetupComplete        = errors.New("setup already completed")
)

// Service issues and validates session tokens.
type Service struct {
	db          *db.DB
	secret      []byte
	tokenExpiry time.Duration
}

// NewService opens the auth service, generating and persisting the JWT
// signing secret on first use.
func NewService(database *db.DB, tokenExpiry time.Duration) (*Service, error) {
	secret, err := database.GetAppConfig(jwtSecretConfigKey)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
		}
		secret = hex.EncodeToString(raw)
		if err := database.SetAppConfig(jwtSecretConfigKey, secret); err != nil {
			return nil, err
		}
	}

	return &Service{
		db:          database,
		secret:      []byte(secret),
		tokenExpiry: tokenExpiry,
	}, nil
}

// NeedsSetup reports whether no account exists yet. The first account is
// created through Setup and becomes the admin.
func (s *Service) NeedsSetup() (bool, error) {
	n, err := s.db.CountUsers()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Setup creates the initial admin account. Fails once any account exists.
func (s *Service) Setup(username, password string) error {
	needed, err := s.NeedsSetup()
	if err != nil {
		return err
	}
	if !needed {
		return ErrSetupComplete
	}
	return s.createUser(username, password, true)
}

// Register creates a regular account, subject to the registration toggle.
func (s *Service) Register(username, password string) error {
	enabled, err := s.RegistrationEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		return ErrRegistrationDisabled
	}
	return s.createUser(username, password, false)
}

func (s *Service) createUser(username, password string, isAdmin bool) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", ErrInvalidCredentials)
	}
	if existing, err := s.db.GetUser(username); err != nil && !errors.Is(err, db.ErrUserNotFound) {
		return err
	} else if existing != nil {
		return ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.db.CreateUser(username, string(hash), isAdmin)
}

// RegistrationEnabled reports whether new accounts may self-register.
// Defaults to enabled until an admin turns it off.
func (s *Service) RegistrationEnabled() (bool, error) {
	v, err := s.db.GetAppConfig("registration_enabled")
	if err != nil {
		return false, err
	}
	return v != "false", nil
}

// SetRegistrationEnabled flips the self-registration toggle.
func (s *Service) SetRegistrationEnabled(enabled bool) error {
	v := "true"
	if !enabled {
		v = "false"
	}
	return s.db.SetAppConfig("registration_enabled", v)
}

// Login verifies the credentials and issues a session token.
func (s *Service) Login(username, password string) (string, error) {
	u, err := s.db.GetUser(username)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenExpiry)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	if err := s.db.InsertSession(&db.Session{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}); err != nil {
		return "", err
	}
	if err := s.db.TouchLastLogin(username); err != nil {
		return "", err
	}
	return token, nil
}

// Validate checks a token's signature, expiry and revocation status, and
// returns the authenticated user.
func (s *Service) Validate(token string) (*db.User, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	// A valid signature is not enough: logout revokes the session row.
	sess, err := s.db.GetSession(token)
	if err != nil {
		return nil, err
	}
	if sess == nil || time.Now().After(sess.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	u, err := s.db.GetUser(claims.Subject)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return u, nil
}

// Logout revokes the session for the given token.
func (s *Service) Logout(token string) error {
	return s.db.DeleteSession(token)
}

// ChangePassword verifies the old password and sets a new one.
func (s *Service) ChangePassword(username, oldPassword, newPassword string) error {
	u, err := s.db.GetUser(username)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidCredentials)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.db.UpdatePasswordHash(username, string(hash))
}
