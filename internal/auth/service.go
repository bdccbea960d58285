package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"rollcall/internal/models"
	"rollcall/internal/redis"
)

// Identity is the resolved (who, role) pair handed to every protected
// operation. Downstream code trusts it completely; this package is the only
// place credentials are verified.
type Identity struct {
	UserID int64
	Role   models.Role
	Name   string
}

// Claims is the JWT payload carried by access tokens.
type Claims struct {
	Role models.Role `json:"role"`
	Name string      `json:"name"`
	jwt.RegisteredClaims
}

// Service verifies credentials and issues and validates signed, time-limited
// access tokens.
type Service struct {
	db             *sql.DB
	cache          *redis.Client
	secret         []byte
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs an auth service. The redis cache backs token
// revocation; when nil, revoked tokens simply stay valid until they expire.
func NewService(db *sql.DB, cache *redis.Client, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:             db,
		cache:          cache,
		secret:         []byte(secret),
		tokenTTL:       ttl,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// Login validates the username/password pair against the seeded accounts and
// returns the matching user. Failures are deliberately indistinguishable.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, full_name, password_hash, role, created_at FROM users WHERE username = ?`,
		username,
	)
	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.FullName, &user.PasswordHash, &user.Role, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("invalid credentials")
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, errors.New("invalid credentials")
	}
	return &user, nil
}

// IssueToken mints a signed access token for the user.
func (s *Service) IssueToken(user *models.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: user.Role,
		Name: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// ValidateToken checks signature, expiry, revocation, and role, returning the
// identity the token encodes.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, errors.New("token required")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	if !claims.Role.Valid() {
		return nil, errors.New("unknown role")
	}
	if s.cache != nil && claims.ID != "" {
		revoked, err := s.cache.Exists(ctx, revokedTokenKey(claims.ID))
		if err == nil && revoked {
			return nil, errors.New("token revoked")
		}
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, errors.New("invalid token subject")
	}
	return &Identity{UserID: userID, Role: claims.Role, Name: claims.Name}, nil
}

// RevokeToken denylists the token until its natural expiry. Best effort: with
// no cache configured there is nothing to write to and logout only clears the
// client's cookie.
func (s *Service) RevokeToken(ctx context.Context, tokenString string) error {
	if s.cache == nil || tokenString == "" {
		return nil
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		// Expired or bogus tokens need no denylist entry.
		return nil
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return nil
	}
	if err := s.cache.Set(ctx, revokedTokenKey(claims.ID), "1", remaining); err != nil {
		return fmt.Errorf("denylist token: %w", err)
	}
	return nil
}

func revokedTokenKey(jti string) string {
	return "revoked_token:" + jti
}

// AuthCookieName returns the cookie name storing access tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
