// Package accounts manages client businesses, platform admins and the agents
// of each client.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/models"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ClientInput is used for both create and update. On update nil fields are
// left untouched; an empty Password never changes the stored one.
type ClientInput struct {
	Name           *string
	Email          *string
	Password       string
	BusinessName   *string
	Phone          *string
	Status         *string
	WhatsAppConfig *WhatsAppConfigInput
}

type WhatsAppConfigInput struct {
	PhoneNumberID     *string
	AccessToken       *string
	BusinessAccountID *string
}

type AgentInput struct {
	Name     *string
	Email    *string
	Password string
	Phone    *string
}

func (s *Service) ListClients(ctx context.Context, sess *auth.Session) ([]models.User, error) {
	if err := sess.Require(auth.CapManageClients); err != nil {
		return nil, err
	}
	return s.listByRole(ctx, models.RoleUser, "")
}

// ListUsers returns every account on the platform.
func (s *Service) ListUsers(ctx context.Context, sess *auth.Session) ([]models.User, error) {
	if err := sess.Require(auth.CapManageUsers); err != nil {
		return nil, err
	}
	users := []models.User{}
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Service) CreateClient(ctx context.Context, sess *auth.Session, in ClientInput) (*models.User, error) {
	if err := sess.Require(auth.CapManageClients); err != nil {
		return nil, err
	}
	name, email := strings.TrimSpace(deref(in.Name)), auth.NormalizeEmail(deref(in.Email))
	if name == "" || email == "" {
		return nil, apperr.Validation("name and email are required")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}

	u := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		BusinessName: strings.TrimSpace(deref(in.BusinessName)),
		Phone:        strings.TrimSpace(deref(in.Phone)),
		Status:       models.AccountActive,
	}
	if in.Status != nil {
		status, err := normalizeStatus(*in.Status)
		if err != nil {
			return nil, err
		}
		u.Status = status
	}
	if in.WhatsAppConfig != nil {
		applyWhatsApp(&u.WhatsAppConfig, in.WhatsAppConfig)
	}
	if err := s.create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateClient merges in into the client. Toggling status to inactive locks
// the client and its agents out on their next request.
func (s *Service) UpdateClient(ctx context.Context, sess *auth.Session, id string, in ClientInput) (*models.User, error) {
	if err := sess.Require(auth.CapManageClients); err != nil {
		return nil, err
	}
	u, err := s.load(ctx, id, models.RoleUser, "")
	if err != nil {
		return nil, err
	}

	if err := s.applyCommon(ctx, u, in.Name, in.Email, in.Password, in.Phone); err != nil {
		return nil, err
	}
	if in.BusinessName != nil {
		u.BusinessName = strings.TrimSpace(*in.BusinessName)
	}
	if in.Status != nil {
		status, err := normalizeStatus(*in.Status)
		if err != nil {
			return nil, err
		}
		u.Status = status
	}
	if in.WhatsAppConfig != nil {
		applyWhatsApp(&u.WhatsAppConfig, in.WhatsAppConfig)
	}

	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}
	return u, nil
}

// DeleteClient removes the client together with its agents and bot
// configuration. Contacts and messages stay in place.
func (s *Service) DeleteClient(ctx context.Context, sess *auth.Session, id string) error {
	if err := sess.Require(auth.CapManageClients); err != nil {
		return err
	}
	u, err := s.load(ctx, id, models.RoleUser, "")
	if err != nil {
		return err
	}
	return s.deleteClient(ctx, u)
}

// DeleteUser removes any account except the caller's own.
func (s *Service) DeleteUser(ctx context.Context, sess *auth.Session, id string) error {
	if err := sess.Require(auth.CapManageUsers); err != nil {
		return err
	}
	if id == sess.UserID {
		return apperr.Validation("you cannot delete your own account")
	}
	u, err := s.load(ctx, id, "", "")
	if err != nil {
		return err
	}
	switch u.Role {
	case models.RoleUser:
		return s.deleteClient(ctx, u)
	case models.RoleAgent:
		return s.deleteAgent(ctx, u)
	}
	if err := s.db.WithContext(ctx).Delete(u).Error; err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ByPhoneNumberID finds the client whose WhatsApp number received a webhook.
func (s *Service) ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.User, error) {
	if phoneNumberID == "" {
		return nil, apperr.NotFound("client not found")
	}
	var u models.User
	err := s.db.WithContext(ctx).
		Where("wa_phone_number_id = ? AND role = ?", phoneNumberID, models.RoleUser).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("client not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find client by phone number id: %w", err)
	}
	return &u, nil
}

// ListAgents returns the agents of the caller's tenant, or of clientID for
// sessions that may act on any tenant.
func (s *Service) ListAgents(ctx context.Context, sess *auth.Session, clientID string) ([]models.User, error) {
	if !sess.Can(auth.CapManageTeam) && !sess.Can(auth.CapAssignContacts) {
		return nil, apperr.Forbidden("you are not allowed to do this")
	}
	tenantID, err := sess.Tenant(clientID)
	if err != nil {
		return nil, err
	}
	return s.listByRole(ctx, models.RoleAgent, tenantID)
}

func (s *Service) AddAgent(ctx context.Context, sess *auth.Session, in AgentInput) (*models.User, error) {
	if err := sess.Require(auth.CapManageTeam); err != nil {
		return nil, err
	}
	name, email := strings.TrimSpace(deref(in.Name)), auth.NormalizeEmail(deref(in.Email))
	if name == "" || email == "" {
		return nil, apperr.Validation("name and email are required")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}

	owner := sess.TenantID
	u := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAgent,
		Phone:        strings.TrimSpace(deref(in.Phone)),
		OwnerID:      &owner,
		Status:       models.AccountActive,
	}
	if err := s.create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateAgent changes an agent of the caller's team. Password is optional.
func (s *Service) UpdateAgent(ctx context.Context, sess *auth.Session, id string, in AgentInput) (*models.User, error) {
	if err := sess.Require(auth.CapManageTeam); err != nil {
		return nil, err
	}
	u, err := s.load(ctx, id, models.RoleAgent, sess.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.applyCommon(ctx, u, in.Name, in.Email, in.Password, in.Phone); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	return u, nil
}

// DeleteAgent removes the agent; its contacts go back to the unassigned pool.
func (s *Service) DeleteAgent(ctx context.Context, sess *auth.Session, id string) error {
	if err := sess.Require(auth.CapManageTeam); err != nil {
		return err
	}
	u, err := s.load(ctx, id, models.RoleAgent, sess.TenantID)
	if err != nil {
		return err
	}
	return s.deleteAgent(ctx, u)
}

func (s *Service) deleteAgent(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Contact{}).
			Where("assigned_to = ?", u.ID).
			Update("assigned_to", nil).Error
		if err != nil {
			return fmt.Errorf("unassign contacts: %w", err)
		}
		if err := tx.Delete(u).Error; err != nil {
			return fmt.Errorf("delete agent: %w", err)
		}
		return nil
	})
}

func (s *Service) deleteClient(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agentIDs []string
		if err := tx.Model(&models.User{}).Where("owner_id = ? AND role = ?", u.ID, models.RoleAgent).Pluck("id", &agentIDs).Error; err != nil {
			return fmt.Errorf("load agents: %w", err)
		}
		if len(agentIDs) > 0 {
			if err := tx.Model(&models.Contact{}).Where("assigned_to IN ?", agentIDs).Update("assigned_to", nil).Error; err != nil {
				return fmt.Errorf("unassign contacts: %w", err)
			}
			if err := tx.Where("id IN ?", agentIDs).Delete(&models.User{}).Error; err != nil {
				return fmt.Errorf("delete agents: %w", err)
			}
		}

		var bot models.BotConfig
		err := tx.Where("owner_id = ?", u.ID).First(&bot).Error
		if err == nil {
			if err := tx.Where("bot_config_id = ?", bot.ID).Delete(&models.BotReply{}).Error; err != nil {
				return fmt.Errorf("delete bot replies: %w", err)
			}
			if err := tx.Delete(&bot).Error; err != nil {
				return fmt.Errorf("delete bot config: %w", err)
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load bot config: %w", err)
		}

		if err := tx.Delete(u).Error; err != nil {
			return fmt.Errorf("delete client: %w", err)
		}
		return nil
	})
}

func (s *Service) applyCommon(ctx context.Context, u *models.User, name, email *string, password string, phone *string) error {
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return apperr.Validation("name must not be empty")
		}
		u.Name = n
	}
	if email != nil {
		e := auth.NormalizeEmail(*email)
		if e == "" {
			return apperr.Validation("email must not be empty")
		}
		if e != u.Email {
			if err := s.ensureEmailFree(ctx, e); err != nil {
				return err
			}
			u.Email = e
		}
	}
	if password != "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return apperr.Validation("%s", err.Error())
		}
		u.PasswordHash = hash
	}
	if phone != nil {
		u.Phone = strings.TrimSpace(*phone)
	}
	return nil
}

func (s *Service) create(ctx context.Context, u *models.User) error {
	if err := s.ensureEmailFree(ctx, u.Email); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Service) ensureEmailFree(ctx context.Context, email string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if n > 0 {
		return apperr.Conflict("email already registered")
	}
	return nil
}

// load finds a user by id, optionally constrained by role and owner. A
// mismatch is reported as not found so foreign ids leak nothing.
func (s *Service) load(ctx context.Context, id string, role models.Role, ownerID string) (*models.User, error) {
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var u models.User
	err := q.First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if role == models.RoleAgent {
			return nil, apperr.NotFound("agent not found")
		}
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

func (s *Service) listByRole(ctx context.Context, role models.Role, ownerID string) ([]models.User, error) {
	users := []models.User{}
	q := s.db.WithContext(ctx).Where("role = ?", role)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err := q.Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list %s accounts: %w", role, err)
	}
	return users, nil
}

func applyWhatsApp(dst *models.WhatsAppConfig, in *WhatsAppConfigInput) {
	if in.PhoneNumberID != nil {
		dst.PhoneNumberID = strings.TrimSpace(*in.PhoneNumberID)
	}
	if in.AccessToken != nil {
		dst.AccessToken = strings.TrimSpace(*in.AccessToken)
	}
	if in.BusinessAccountID != nil {
		dst.BusinessAccountID = strings.TrimSpace(*in.BusinessAccountID)
	}
}

func normalizeStatus(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case models.AccountActive:
		return models.AccountActive, nil
	case models.AccountInactive:
		return models.AccountInactive, nil
	}
	return "", apperr.Validation("status must be active or inactive")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
