package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/models"
)

type Service struct {
	db            *gorm.DB
	secret        string
	tokenTTL      time.Duration
	ghostTokenTTL time.Duration
}

func NewService(db *gorm.DB, secret string, tokenTTL, ghostTokenTTL time.Duration) *Service {
	return &Service{db: db, secret: secret, tokenTTL: tokenTTL, ghostTokenTTL: ghostTokenTTL}
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// SetupOpen reports whether no account exists yet, in which case the
// register endpoint works without a session.
func (s *Service) SetupOpen(ctx context.Context) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return n == 0, nil
}

// Register creates a platform admin.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	u := &models.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        NormalizeEmail(in.Email),
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	if err := s.createUnique(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) createUnique(ctx context.Context, u *models.User) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", u.Email).Count(&n).Error; err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if n > 0 {
		return apperr.Conflict("email already registered")
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	if err := s.checkActive(ctx, &u); err != nil {
		return nil, err
	}

	token, exp, err := GenerateToken(TokenClaims{UserID: u.ID, Role: string(u.Role)}, s.secret, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: &u}, nil
}

// GhostLogin issues a short-lived token that acts as the client, recording
// the admin who asked for it.
func (s *Service) GhostLogin(ctx context.Context, admin *Session, clientID string) (*LoginResult, error) {
	if err := admin.Require(CapImpersonate); err != nil {
		return nil, err
	}
	var u models.User
	err := s.db.WithContext(ctx).Where("id = ? AND role = ?", clientID, models.RoleUser).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("client not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}

	token, exp, err := GenerateToken(TokenClaims{
		UserID:         u.ID,
		Role:           string(u.Role),
		ImpersonatedBy: admin.UserID,
	}, s.secret, s.ghostTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: &u}, nil
}

// Authenticate turns a raw token into a session. The user is reloaded so
// deleted or deactivated accounts lose access immediately.
func (s *Service) Authenticate(ctx context.Context, raw string) (*Session, error) {
	if raw == "" {
		return nil, apperr.Unauthorized("no token provided")
	}
	claims, err := ParseToken(raw, s.secret)
	if err != nil {
		return nil, apperr.Unauthorized("invalid token")
	}

	var u models.User
	err = s.db.WithContext(ctx).Where("id = ?", claims.UserID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized("account no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if err := s.checkActive(ctx, &u); err != nil {
		return nil, err
	}
	if claims.ImpersonatedBy != "" {
		if err := s.checkImpersonator(ctx, claims.ImpersonatedBy); err != nil {
			return nil, err
		}
	}
	return NewSession(&u, claims.ImpersonatedBy), nil
}

// checkImpersonator refuses ghost sessions whose admin was removed or demoted.
func (s *Service) checkImpersonator(ctx context.Context, adminID string) error {
	var admin models.User
	err := s.db.WithContext(ctx).Select("id", "role").Where("id = ?", adminID).First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Unauthorized("impersonating admin no longer exists")
	}
	if err != nil {
		return fmt.Errorf("load impersonator: %w", err)
	}
	if admin.Role != models.RoleAdmin {
		return apperr.Unauthorized("impersonating account is not an admin")
	}
	return nil
}

// checkActive refuses inactive clients and the agents of inactive clients.
func (s *Service) checkActive(ctx context.Context, u *models.User) error {
	if u.Status == models.AccountInactive {
		return apperr.Forbidden("account is inactive")
	}
	if u.Role != models.RoleAgent || u.OwnerID == nil {
		return nil
	}
	var owner models.User
	err := s.db.WithContext(ctx).Select("id", "status").Where("id = ?", *u.OwnerID).First(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Forbidden("account is inactive")
	}
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}
	if owner.Status == models.AccountInactive {
		return apperr.Forbidden("account is inactive")
	}
	return nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
