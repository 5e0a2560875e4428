// Package auth parses the bearer credential presented on every request and
// mints the short-lived system token the runner fabric uses to call back
// into the HTTP surface (§4.3).
//
// Signature verification is out of scope at this boundary (§9 open
// question #1): the token is treated as a trusted assertion from whatever
// issued it. This package only parses claims, it never validates a
// signature.
package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/plectr/core/pkg/apperr"
)

// Claims is the JSON payload carried in a bearer token's middle segment.
type Claims struct {
	Sub               string `json:"sub"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	Exp               int64  `json:"exp,omitempty"`
	jwt.RegisteredClaims
}

// User is the caller identity resolved from a bearer credential.
type User struct {
	ID       uuid.UUID
	Username string
	Email    string
}

var unverifiedParser = jwt.NewParser(jwt.WithoutClaimsValidation())

// ParseBearer extracts claims from an `Authorization: Bearer <token>` header
// value without checking any signature. sub must parse as a UUID; anything
// else is Unauthorized.
func ParseBearer(tokenString string) (*User, error) {
	var claims Claims
	if _, _, err := unverifiedParser.ParseUnverified(tokenString, &claims); err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "invalid bearer token", err)
	}

	id, err := uuid.Parse(claims.Sub)
	if err != nil {
		return nil, apperr.New(apperr.Unauthorized, "bearer token sub is not a uuid")
	}

	username := claims.PreferredUsername
	if username == "" {
		username = "unknown"
	}

	return &User{ID: id, Username: username, Email: claims.Email}, nil
}

// Service materializes users lazily and checks the system-admin flag.
type Service struct {
	DB *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}

// Upsert ensures a users row exists for this bearer identity, updating the
// display fields if the claims changed since last seen. The row is what
// repository/organization membership rows foreign-key against.
func (s *Service) Upsert(ctx context.Context, u *User) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, email = EXCLUDED.email`,
		u.ID, u.Username, u.Email)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// IsSystemAdmin reports the flag used only for runner-token administration
// (§4.3).
func (s *Service) IsSystemAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	var isAdmin bool
	err := s.DB.QueryRowContext(ctx, `SELECT is_system_admin FROM users WHERE id = $1`, userID).Scan(&isAdmin)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check system admin: %w", err)
	}
	return isAdmin, nil
}

// UpdateProfile changes the display fields the bearer identity carries
// locally, independent of whatever the issuing token claims next time.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, username, email string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET username = $2, email = $3 WHERE id = $1`, userID, username, email)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// UsernameAvailable reports whether no user currently holds username,
// backing the pre-create availability check (§6).
func (s *Service) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username availability: %w", err)
	}
	return !exists, nil
}

// MintSystemToken produces a short-lived, unsigned-in-effect bearer token
// (HMAC'd with a fixed key written into this source file purely so it round-trips through the
// same jwt/v5 parser; the signature is never checked on the way back in,
// matching every other token this server accepts) identifying the
// pipeline-trigger system actor, injected as job context.auth_token so a
// runner can call back into the HTTP surface.
func (s *Service) MintSystemToken(ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Sub:               uuid.New().String(),
		PreferredUsername: "plectr-ci-system",
		Email:             "ci@plectr.internal",
		// Exp is the field encoded as "exp"; it shadows RegisteredClaims.ExpiresAt.
		Exp: now.Add(ttl).Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte("plectr-system-token-signing-key"))
}
