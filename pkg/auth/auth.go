// Package auth handles passwords, access tokens and refresh token rotation.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"dhfinance/models"
	"dhfinance/pkg/logging"
	"dhfinance/pkg/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrWeakPassword       = errors.New("password too short (min 6)")
	ErrInvalidUsername    = errors.New("username must be 3-50 letters, digits, '.', '_' or '-'")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const MinPasswordLength = 6

var usernameRE = regexp.MustCompile(`^[A-Za-z0-9._-]{3,50}$`)

// Store is the subset of the store used for accounts and tokens.
type Store interface {
	store.RoleStore
	store.UserStore
	store.TokenStore
}

type Options struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Claims are read from a verified access token.
type Claims struct {
	Username  string
	Role      string
	ExpiresAt time.Time
}

// Session is returned by Login and Refresh. RefreshToken is the raw value;
// only its hash is stored.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         models.User
	Role         string
}

type Service struct {
	store      Store
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	cost       int
	now        func() time.Time
	log        *slog.Logger
}

func NewService(st Store, opts Options) *Service {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:      st,
		secret:     []byte(opts.Secret),
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		cost:       opts.BcryptCost,
		now:        time.Now,
		log:        logging.For(logging.ComponentAuth),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a regular user.
func (s *Service) Register(ctx context.Context, username, password, email string) (models.User, error) {
	return s.CreateUser(ctx, username, password, email, models.RoleUser)
}

// CreateUser validates the credentials, ensures roleName exists and stores
// the user with a bcrypt hash.
func (s *Service) CreateUser(ctx context.Context, username, password, email, roleName string) (models.User, error) {
	username = strings.TrimSpace(username)
	if !usernameRE.MatchString(username) {
		return models.User{}, ErrInvalidUsername
	}
	if len(password) < MinPasswordLength {
		return models.User{}, ErrWeakPassword
	}
	if roleName == "" {
		roleName = models.RoleUser
	}
	role, err := s.store.EnsureRole(ctx, roleName, "")
	if err != nil {
		return models.User{}, fmt.Errorf("ensure role %s: %w", roleName, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := models.User{
		Username:       username,
		Email:          strings.TrimSpace(email),
		HashedPassword: hash,
		RoleID:         &role.ID,
	}
	if err := s.store.CreateUser(ctx, &u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return models.User{}, ErrUserExists
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	u.Role = &role
	return u, nil
}

// EnsureUser returns the existing user called username or creates it. The
// boolean reports whether it was created.
func (s *Service) EnsureUser(ctx context.Context, username, password, email, roleName string) (models.User, bool, error) {
	u, err := s.store.UserByUsername(ctx, strings.TrimSpace(username))
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.User{}, false, err
	}
	u, err = s.CreateUser(ctx, username, password, email, roleName)
	if errors.Is(err, ErrUserExists) {
		u, err = s.store.UserByUsername(ctx, strings.TrimSpace(username))
		return u, false, err
	}
	return u, err == nil, err
}

// Authenticate checks the password and records the login time.
func (s *Service) Authenticate(ctx context.Context, username, password string) (models.User, error) {
	u, err := s.store.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(u.HashedPassword, []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	now := s.now()
	if err := s.store.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.log.WarnContext(ctx, "update last login failed", logging.FieldOwner, u.Username, logging.FieldError, err)
	} else {
		u.LastLogin = &now
	}
	return u, nil
}

// RoleName resolves the user's role, or "" when it has none.
func (s *Service) RoleName(ctx context.Context, u models.User) string {
	if u.Role != nil {
		return u.Role.Name
	}
	if u.RoleID == nil {
		return ""
	}
	r, err := s.store.RoleByID(ctx, *u.RoleID)
	if err != nil {
		return ""
	}
	return r.Name
}

// Login authenticates and opens a session.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	u, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return s.newSession(ctx, u)
}

func (s *Service) newSession(ctx context.Context, u models.User) (Session, error) {
	role := s.RoleName(ctx, u)
	token, exp, err := s.IssueAccessToken(u.Username, role)
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.NewRefreshToken(ctx, u.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: token, RefreshToken: refresh, ExpiresAt: exp, User: u, Role: role}, nil
}

// Refresh exchanges a usable refresh token for a new session, revoking the
// presented token.
func (s *Service) Refresh(ctx context.Context, raw string) (Session, error) {
	rt, err := s.store.RefreshTokenByHash(ctx, HashToken(raw))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	if !rt.Usable(s.now()) {
		return Session{}, ErrInvalidToken
	}
	u, err := s.store.UserByID(ctx, rt.UserID)
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	if err := s.store.RevokeRefreshToken(ctx, rt.ID); err != nil {
		return Session{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	return s.newSession(ctx, u)
}

// Revoke invalidates a refresh token, e.g. on logout.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	rt, err := s.store.RefreshTokenByHash(ctx, HashToken(raw))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	return s.store.RevokeRefreshToken(ctx, rt.ID)
}

// NewRefreshToken stores the hash of a fresh random token and returns the
// raw token.
func (s *Service) NewRefreshToken(ctx context.Context, userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	rt := models.RefreshToken{UserID: userID, TokenHash: HashToken(token), ExpiresAt: s.now().Add(s.refreshTTL)}
	if err := s.store.CreateRefreshToken(ctx, &rt); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

// HashToken is the stored form of a refresh token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// IssueAccessToken signs an HS256 token carrying username and role.
func (s *Service) IssueAccessToken(username, role string) (string, time.Time, error) {
	exp := s.now().Add(s.accessTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"role":     role,
		"exp":      exp.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseAccessToken verifies signature and expiry.
func (s *Service) ParseAccessToken(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	username, _ := claims["username"].(string)
	if username == "" {
		return Claims{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	c := Claims{Username: username, Role: role}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}
