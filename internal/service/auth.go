// Package service contains application services for device authentication and documents.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/cc42-scan/internal/crypto"
	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/limiter"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/payload"
	"github.com/and161185/cc42-scan/internal/repository"
)

// AuthService defines device registration, login and token verification.
type AuthService interface {
	// Register creates a student account with secure password hashing.
	Register(ctx context.Context, login, password string, p model.Profile) (userID string, err error)
	// Promote grants the staff role to login on behalf of a staff member of the same campus.
	Promote(ctx context.Context, actor model.Claims, login string) error
	// LoginWithIP applies rate-limiting and authenticates the device.
	LoginWithIP(ctx context.Context, login, password string, ip string) (tokens model.Tokens, user model.User, err error)
	// Verify checks an access token and returns its claims.
	Verify(token string) (model.Claims, error)
}

// tokenClaims is the JWT payload; Subject carries the user ID.
type tokenClaims struct {
	Campus  string `json:"campus"`
	Login   string `json:"login"`
	IntraID string `json:"intraId"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	params    pkgcrypto.Params
	log       *zap.Logger
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, log *zap.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, signKey: signKey, accessTTL: accessTTL, lim: lim, params: pkgcrypto.DefaultParams, log: log}
}

// WithHashParams overrides the Argon2id cost (tests use a cheap setting).
func (s *AuthServiceImpl) WithHashParams(p pkgcrypto.Params) *AuthServiceImpl {
	s.params = p
	return s
}

// Register creates a student account. Staff accounts only come out of Promote
// or the operator list given to PromoteLogins. The intra id is unique across accounts.
func (s *AuthServiceImpl) Register(ctx context.Context, login, password string, p model.Profile) (string, error) {
	switch {
	case login == "" || password == "":
		return "", fmt.Errorf("%w: empty login/password", errs.ErrInvalidArgument)
	case !payload.IsID(p.CampusID) || !payload.IsID(p.IntraID):
		return "", fmt.Errorf("%w: campus and intra id must be set and contain no '/'", errs.ErrInvalidArgument)
	case p.Role == model.RoleStaff:
		return "", fmt.Errorf("%w: staff accounts are granted by promotion", errs.ErrForbidden)
	case p.Role != "" && p.Role != model.RoleStudent:
		return "", fmt.Errorf("%w: unknown role %q", errs.ErrInvalidArgument, p.Role)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	hash, err := pkgcrypto.HashPassword(password, s.params)
	if err != nil {
		return "", err
	}
	u := &model.User{
		ID:          uid,
		Login:       login,
		PwdHash:     hash,
		IntraID:     p.IntraID,
		DisplayName: p.DisplayName,
		ImageURL:    p.ImageURL,
		CampusID:    p.CampusID,
		Role:        model.RoleStudent,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", err
	}
	s.log.Info("device registered", zap.String("login", login), zap.String("campus", p.CampusID))
	return uid.String(), nil
}

// Promote grants the staff role. The new role shows up in the next token the user logs in for.
func (s *AuthServiceImpl) Promote(ctx context.Context, actor model.Claims, login string) error {
	if actor.Role != model.RoleStaff {
		return errs.ErrForbidden
	}
	u, err := s.users.GetByLogin(ctx, login)
	if err != nil {
		return err
	}
	if u.CampusID != actor.CampusID {
		return errs.ErrForbidden
	}
	if u.Role == model.RoleStaff {
		return nil
	}
	if err := s.users.SetRole(ctx, login, model.RoleStaff); err != nil {
		return err
	}
	s.log.Info("staff promoted", zap.String("login", login), zap.String("by", actor.Login), zap.String("campus", u.CampusID))
	return nil
}

// PromoteLogins is the operator bootstrap: every listed login that is registered becomes staff.
// Unknown logins are skipped with a warning.
func (s *AuthServiceImpl) PromoteLogins(ctx context.Context, logins []string) error {
	for _, l := range logins {
		err := s.users.SetRole(ctx, l, model.RoleStaff)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			s.log.Warn("staff login not registered yet", zap.String("login", l))
		case err != nil:
			return fmt.Errorf("promote %s: %w", l, err)
		default:
			s.log.Info("staff granted by operator", zap.String("login", l))
		}
	}
	return nil
}

// LoginWithIP authenticates with rate limiting by (login, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, login, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, login, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByLogin(ctx, login)
	ok := false
	if err == nil {
		ok, err = pkgcrypto.VerifyPassword(password, u.PwdHash)
		if err != nil {
			s.log.Error("stored hash unreadable", zap.String("login", login), zap.Error(err))
		}
	}
	if !ok {
		if blocked, wait, ferr := s.lim.Failure(ctx, login, ipHash); ferr == nil && blocked {
			s.log.Warn("login locked", zap.String("login", login), zap.Duration("for", wait))
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown login and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, login, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}

	access, exp, err := s.issueAccessToken(u)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// issueAccessToken creates a signed HS256 JWT for the given user.
func (s *AuthServiceImpl) issueAccessToken(u *model.User) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := tokenClaims{
		Campus:  u.CampusID,
		Login:   u.Login,
		IntraID: u.IntraID,
		Role:    string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// Verify parses an HS256 token and returns its claims; any failure is ErrUnauthorized.
func (s *AuthServiceImpl) Verify(token string) (model.Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return model.Claims{}, errs.ErrUnauthorized
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || claims.Campus == "" {
		return model.Claims{}, errs.ErrUnauthorized
	}
	return model.Claims{
		UserID:   id,
		Login:    claims.Login,
		IntraID:  claims.IntraID,
		CampusID: claims.Campus,
		Role:     model.Role(claims.Role),
	}, nil
}
