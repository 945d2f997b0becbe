// Package templates lists and submits a tenant's WhatsApp message templates,
// keeping a local copy for when the Cloud API is unreachable.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
	"smartreply-crm/internal/whatsapp"
)

const fetchErrorMessage = "Error fetching templates. Check WABA ID."

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

var categories = map[string]bool{
	"MARKETING":      true,
	"UTILITY":        true,
	"AUTHENTICATION": true,
}

type Provider interface {
	GetTemplates(ctx context.Context, creds models.WhatsAppConfig) ([]whatsapp.TemplateInfo, error)
	CreateTemplate(ctx context.Context, creds models.WhatsAppConfig, req whatsapp.CreateTemplateRequest) (*whatsapp.CreateTemplateResponse, error)
}

type Service struct {
	db       *gorm.DB
	provider Provider
	log      *logging.Logger
}

func NewService(db *gorm.DB, provider Provider, log *logging.Logger) *Service {
	return &Service{db: db, provider: provider, log: log.Sub("templates")}
}

// View is a template as the dashboard renders it; components stay raw JSON.
type View struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Language   string            `json:"language"`
	Category   string            `json:"category"`
	Status     string            `json:"status"`
	Components []json.RawMessage `json:"components"`
}

type CreateInput struct {
	Name       string
	Category   string
	Language   string
	HeaderType string
	HeaderText string
	BodyText   string
	FooterText string
}

// List fetches the tenant's templates and refreshes the local copy. When the
// provider fails the stored copy is served if there is one.
func (s *Service) List(ctx context.Context, sess *auth.Session) ([]View, error) {
	tenant, err := s.tenant(ctx, sess)
	if err != nil {
		return nil, err
	}

	remote, fetchErr := s.provider.GetTemplates(ctx, tenant.WhatsAppConfig)
	if fetchErr == nil {
		if err := s.replaceCache(ctx, tenant.ID, remote); err != nil {
			s.log.Warn().Err(err).Str("tenant_id", tenant.ID).Msg("refreshing template cache")
		}
		views := make([]View, 0, len(remote))
		for _, t := range remote {
			views = append(views, viewOf(t))
		}
		return views, nil
	}

	s.log.Warn().Err(fetchErr).Str("tenant_id", tenant.ID).Msg("fetching templates from provider")
	cached, err := s.cached(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 {
		return nil, apperr.Upstream(fetchErr, fetchErrorMessage)
	}
	return cached, nil
}

// Create validates the form and submits the template for approval.
func (s *Service) Create(ctx context.Context, sess *auth.Session, in CreateInput) (*View, error) {
	req, err := buildRequest(in)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenant(ctx, sess)
	if err != nil {
		return nil, err
	}

	res, err := s.provider.CreateTemplate(ctx, tenant.WhatsAppConfig, req)
	if err != nil {
		if errors.Is(err, whatsapp.ErrNotConfigured) {
			return nil, apperr.Validation("WhatsApp business account is not configured")
		}
		var apiErr *whatsapp.APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return nil, apperr.Validation("%s", apiErr.Message)
		}
		return nil, apperr.Upstream(err, "template submission failed")
	}

	status := res.Status
	if status == "" {
		status = "PENDING"
	}
	category := res.Category
	if category == "" {
		category = req.Category
	}
	components, err := json.Marshal(req.Components)
	if err != nil {
		return nil, fmt.Errorf("encode components: %w", err)
	}
	row := models.Template{
		ID:         res.ID,
		TenantID:   tenant.ID,
		Name:       req.Name,
		Language:   req.Language,
		Category:   category,
		Status:     status,
		Components: string(components),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return nil, fmt.Errorf("cache template: %w", err)
	}
	v := rowView(row)
	return &v, nil
}

func buildRequest(in CreateInput) (whatsapp.CreateTemplateRequest, error) {
	name := strings.TrimSpace(in.Name)
	if !namePattern.MatchString(name) {
		return whatsapp.CreateTemplateRequest{}, apperr.Validation("name must be lowercase letters, numbers and underscores only")
	}
	category := strings.ToUpper(strings.TrimSpace(in.Category))
	if category == "" {
		category = "MARKETING"
	}
	if !categories[category] {
		return whatsapp.CreateTemplateRequest{}, apperr.Validation("category must be MARKETING, UTILITY or AUTHENTICATION")
	}
	language := strings.TrimSpace(in.Language)
	if language == "" {
		language = "en_US"
	}
	body := strings.TrimSpace(in.BodyText)
	if body == "" {
		return whatsapp.CreateTemplateRequest{}, apperr.Validation("bodyText is required")
	}

	var components []whatsapp.TemplateComponent
	switch strings.ToUpper(strings.TrimSpace(in.HeaderType)) {
	case "", "NONE":
	case "TEXT":
		header := strings.TrimSpace(in.HeaderText)
		if header == "" {
			return whatsapp.CreateTemplateRequest{}, apperr.Validation("headerText is required for a text header")
		}
		components = append(components, whatsapp.TemplateComponent{Type: "HEADER", Format: "TEXT", Text: header})
	default:
		return whatsapp.CreateTemplateRequest{}, apperr.Validation("headerType must be NONE or TEXT")
	}
	components = append(components, whatsapp.TemplateComponent{Type: "BODY", Text: body})
	if footer := strings.TrimSpace(in.FooterText); footer != "" {
		components = append(components, whatsapp.TemplateComponent{Type: "FOOTER", Text: footer})
	}

	return whatsapp.CreateTemplateRequest{
		Name:       name,
		Category:   category,
		Language:   language,
		Components: components,
	}, nil
}

func (s *Service) tenant(ctx context.Context, sess *auth.Session) (*models.User, error) {
	if err := sess.Require(auth.CapTemplates); err != nil {
		return nil, err
	}
	var u models.User
	err := s.db.WithContext(ctx).Where("id = ?", sess.TenantID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("client not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	return &u, nil
}

func (s *Service) replaceCache(ctx context.Context, tenantID string, remote []whatsapp.TemplateInfo) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&models.Template{}).Error; err != nil {
			return err
		}
		if len(remote) == 0 {
			return nil
		}
		rows := make([]models.Template, 0, len(remote))
		for _, t := range remote {
			components, err := json.Marshal(t.Components)
			if err != nil {
				return err
			}
			rows = append(rows, models.Template{
				ID:         t.ID,
				TenantID:   tenantID,
				Name:       t.Name,
				Language:   t.Language,
				Category:   t.Category,
				Status:     t.Status,
				Components: string(components),
			})
		}
		return tx.Create(&rows).Error
	})
}

func (s *Service) cached(ctx context.Context, tenantID string) ([]View, error) {
	var rows []models.Template
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load cached templates: %w", err)
	}
	views := make([]View, 0, len(rows))
	for _, r := range rows {
		views = append(views, rowView(r))
	}
	return views, nil
}

func viewOf(t whatsapp.TemplateInfo) View {
	components := t.Components
	if components == nil {
		components = []json.RawMessage{}
	}
	return View{ID: t.ID, Name: t.Name, Language: t.Language, Category: t.Category, Status: t.Status, Components: components}
}

func rowView(r models.Template) View {
	components := []json.RawMessage{}
	if r.Components != "" {
		_ = json.Unmarshal([]byte(r.Components), &components)
	}
	return View{ID: r.ID, Name: r.Name, Language: r.Language, Category: r.Category, Status: r.Status, Components: components}
}
