// Package botconfig stores the canned reply flow each client's bot sends to
// new contacts.
package botconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/inbox"
	"smartreply-crm/internal/models"
)

const maxReplies = 20

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

type ReplyInput struct {
	Text      string
	MediaURL  string
	MediaType string
	FileName  string
}

type SaveInput struct {
	OwnerID  string
	Replies  []ReplyInput
	IsActive *bool
}

// Get returns the config of ownerID, or of the caller's own business when
// ownerID is empty. A business without a saved flow gets an empty, inactive one.
func (s *Service) Get(ctx context.Context, sess *auth.Session, ownerID string) (*models.BotConfig, error) {
	owner, err := s.resolveOwner(ctx, sess, ownerID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.find(ctx, s.db.WithContext(ctx), owner)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return &models.BotConfig{OwnerID: owner, Replies: []models.BotReply{}}, nil
	}
	return cfg, nil
}

// Save replaces the reply flow in the given order. IsActive defaults to true
// for a new config and is kept otherwise.
func (s *Service) Save(ctx context.Context, sess *auth.Session, in SaveInput) (*models.BotConfig, error) {
	if sess.Can(auth.CapAnyBotConfig) && strings.TrimSpace(in.OwnerID) == "" {
		return nil, apperr.Validation("ownerId is required")
	}
	owner, err := s.resolveOwner(ctx, sess, strings.TrimSpace(in.OwnerID))
	if err != nil {
		return nil, err
	}
	replies, err := normalizeReplies(in.Replies)
	if err != nil {
		return nil, err
	}

	var saved *models.BotConfig
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := s.find(ctx, tx, owner)
		if err != nil {
			return err
		}
		if cfg == nil {
			cfg = &models.BotConfig{OwnerID: owner, IsActive: true}
		}
		if in.IsActive != nil {
			cfg.IsActive = *in.IsActive
		}
		cfg.Replies = nil
		if err := tx.Save(cfg).Error; err != nil {
			return fmt.Errorf("save bot config: %w", err)
		}
		if err := tx.Where("bot_config_id = ?", cfg.ID).Delete(&models.BotReply{}).Error; err != nil {
			return fmt.Errorf("clear bot replies: %w", err)
		}
		for i := range replies {
			replies[i].BotConfigID = cfg.ID
		}
		if len(replies) > 0 {
			if err := tx.Create(&replies).Error; err != nil {
				return fmt.Errorf("store bot replies: %w", err)
			}
		}
		cfg.Replies = replies
		saved = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ActiveFor returns the tenant's flow when it is switched on and has steps.
func (s *Service) ActiveFor(ctx context.Context, tenantID string) (*models.BotConfig, error) {
	cfg, err := s.find(ctx, s.db.WithContext(ctx), tenantID)
	if err != nil || cfg == nil {
		return nil, err
	}
	if !cfg.IsActive || len(cfg.Replies) == 0 {
		return nil, nil
	}
	return cfg, nil
}

func (s *Service) find(ctx context.Context, tx *gorm.DB, ownerID string) (*models.BotConfig, error) {
	var cfg models.BotConfig
	err := tx.WithContext(ctx).
		Preload("Replies", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Where("owner_id = ?", ownerID).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bot config: %w", err)
	}
	return &cfg, nil
}

// resolveOwner maps the requested owner to a client id the caller may touch.
func (s *Service) resolveOwner(ctx context.Context, sess *auth.Session, ownerID string) (string, error) {
	if sess.Can(auth.CapAnyBotConfig) {
		if ownerID == "" {
			return "", apperr.Validation("ownerId is required")
		}
		var n int64
		err := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ? AND role = ?", ownerID, models.RoleUser).
			Count(&n).Error
		if err != nil {
			return "", fmt.Errorf("check owner: %w", err)
		}
		if n == 0 {
			return "", apperr.NotFound("client not found")
		}
		return ownerID, nil
	}
	if err := sess.Require(auth.CapOwnBotConfig); err != nil {
		return "", err
	}
	if ownerID != "" && ownerID != sess.TenantID {
		return "", apperr.NotFound("client not found")
	}
	return sess.TenantID, nil
}

func normalizeReplies(in []ReplyInput) ([]models.BotReply, error) {
	if len(in) > maxReplies {
		return nil, apperr.Validation("at most %d reply steps are allowed", maxReplies)
	}
	out := make([]models.BotReply, 0, len(in))
	for i, r := range in {
		text := strings.TrimSpace(r.Text)
		mediaURL := strings.TrimSpace(r.MediaURL)
		mediaType := strings.ToLower(strings.TrimSpace(r.MediaType))

		if mediaURL == "" {
			if text == "" {
				return nil, apperr.Validation("step %d needs text or media", i+1)
			}
			mediaType = models.MessageText
		} else if !models.IsMediaType(mediaType) {
			mediaType = inbox.MediaTypeFromURL(mediaURL)
		}

		out = append(out, models.BotReply{
			Position:  i,
			Text:      text,
			MediaURL:  mediaURL,
			MediaType: mediaType,
			FileName:  strings.TrimSpace(r.FileName),
		})
	}
	return out, nil
}
