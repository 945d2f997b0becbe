// Package crm owns contacts (leads) and their assignment to agents.
package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/models"
	"smartreply-crm/internal/ws"
	"smartreply-crm/pkg/validator"
)

// Publisher pushes realtime events to connected dashboards.
type Publisher interface {
	Publish(tenantID, assignedTo, eventType string, data any)
}

const maxPageSize = 500

type Service struct {
	db  *gorm.DB
	pub Publisher
}

func NewService(db *gorm.DB, pub Publisher) *Service {
	return &Service{db: db, pub: pub}
}

type ListFilter struct {
	ClientID string
	AgentID  string
	Status   string
	Page     int
	Limit    int
}

// ContactPatch carries the fields a caller wants to change; nil means keep.
type ContactPatch struct {
	Name         *string
	Status       *string
	Priority     *string
	Remark       *string
	CallStatus   *string
	CallMethod   *string
	CallAttempts *int
	AssignedTo   *string
}

// ListContacts returns the tenant's contacts, most recently active first.
// Agents only ever see their own assignments.
func (s *Service) ListContacts(ctx context.Context, sess *auth.Session, f ListFilter) ([]models.Contact, int64, error) {
	if err := sess.Require(auth.CapViewContacts); err != nil {
		return nil, 0, err
	}
	tenantID, err := sess.Tenant(f.ClientID)
	if err != nil {
		return nil, 0, err
	}

	q := s.db.WithContext(ctx).Model(&models.Contact{}).Where("tenant_id = ?", tenantID)
	agentID := f.AgentID
	if sess.IsAgent() {
		agentID = sess.UserID
	}
	if agentID != "" {
		q = q.Where("assigned_to = ?", agentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count contacts: %w", err)
	}

	q = q.Order("CASE WHEN last_message_time IS NULL THEN 1 ELSE 0 END").
		Order("last_message_time DESC").
		Order("created_at DESC")
	if f.Limit > 0 {
		limit := min(f.Limit, maxPageSize)
		page := max(f.Page, 1)
		q = q.Limit(limit).Offset((page - 1) * limit)
	}

	contacts := []models.Contact{}
	if err := q.Find(&contacts).Error; err != nil {
		return nil, 0, fmt.Errorf("list contacts: %w", err)
	}
	if err := s.populateAssignees(ctx, contacts); err != nil {
		return nil, 0, err
	}
	return contacts, total, nil
}

// AssignChats points every listed contact at agentID, overwriting any
// previous assignment. Either all contacts are updated or none.
func (s *Service) AssignChats(ctx context.Context, sess *auth.Session, contactIDs []string, agentID string) (int, error) {
	if err := sess.Require(auth.CapAssignContacts); err != nil {
		return 0, err
	}
	ids := unique(contactIDs)
	if len(ids) == 0 {
		return 0, apperr.Validation("contactIds must not be empty")
	}
	if strings.TrimSpace(agentID) == "" {
		return 0, apperr.Validation("agentId is required")
	}

	agent, err := s.agentFor(ctx, sess, agentID)
	if err != nil {
		return 0, err
	}
	tenantID := *agent.OwnerID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found int64
		if err := tx.Model(&models.Contact{}).
			Where("tenant_id = ? AND id IN ?", tenantID, ids).
			Count(&found).Error; err != nil {
			return fmt.Errorf("check contacts: %w", err)
		}
		if int(found) != len(ids) {
			return apperr.NotFound("contact not found")
		}
		if err := tx.Model(&models.Contact{}).
			Where("tenant_id = ? AND id IN ?", tenantID, ids).
			Update("assigned_to", agent.ID).Error; err != nil {
			return fmt.Errorf("assign contacts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.publish(tenantID, agent.ID, map[string]any{"contactIds": ids, "agentId": agent.ID})
	return len(ids), nil
}

// agentFor loads an agent the session may assign to.
func (s *Service) agentFor(ctx context.Context, sess *auth.Session, agentID string) (*models.User, error) {
	var agent models.User
	err := s.db.WithContext(ctx).Where("id = ? AND role = ?", agentID, models.RoleAgent).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Validation("agent does not belong to your team")
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agent.OwnerID == nil {
		return nil, apperr.Validation("agent does not belong to your team")
	}
	if sess.TenantID != "" && *agent.OwnerID != sess.TenantID {
		return nil, apperr.Validation("agent does not belong to your team")
	}
	return &agent, nil
}

// Visible loads a contact the session may act on. Anything else is not found.
func (s *Service) Visible(ctx context.Context, sess *auth.Session, id string) (*models.Contact, error) {
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if sess.TenantID != "" {
		q = q.Where("tenant_id = ?", sess.TenantID)
	} else if !sess.Can(auth.CapAnyTenant) {
		return nil, apperr.NotFound("contact not found")
	}
	if sess.IsAgent() {
		q = q.Where("assigned_to = ?", sess.UserID)
	}

	var c models.Contact
	err := q.First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("contact not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	return &c, nil
}

func (s *Service) UpdateContact(ctx context.Context, sess *auth.Session, id string, p ContactPatch) (*models.Contact, error) {
	if err := sess.Require(auth.CapEditContacts); err != nil {
		return nil, err
	}
	c, err := s.Visible(ctx, sess, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if p.Name != nil {
		updates["name"] = strings.TrimSpace(*p.Name)
	}
	if p.Status != nil {
		status, ok := NormalizeStatus(*p.Status)
		if !ok {
			return nil, apperr.Validation("status must be one of New, Pending, Answered, Rejected")
		}
		updates["status"] = status
	}
	if p.Priority != nil {
		priority, ok := NormalizePriority(*p.Priority)
		if !ok {
			return nil, apperr.Validation("priority must be one of Low, Medium, High")
		}
		updates["priority"] = priority
	}
	if p.Remark != nil {
		updates["remark"] = *p.Remark
	}
	if p.CallStatus != nil {
		updates["call_status"] = *p.CallStatus
	}
	if p.CallMethod != nil {
		updates["call_method"] = *p.CallMethod
	}
	if p.CallAttempts != nil {
		if *p.CallAttempts < 0 {
			return nil, apperr.Validation("callAttempts must not be negative")
		}
		updates["call_attempts"] = *p.CallAttempts
	}
	if p.AssignedTo != nil {
		if err := sess.Require(auth.CapAssignContacts); err != nil {
			return nil, err
		}
		if *p.AssignedTo == "" {
			updates["assigned_to"] = nil
		} else {
			agent, err := s.agentFor(ctx, sess, *p.AssignedTo)
			if err != nil {
				return nil, err
			}
			if *agent.OwnerID != c.TenantID {
				return nil, apperr.Validation("agent does not belong to your team")
			}
			updates["assigned_to"] = agent.ID
		}
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(c).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update contact: %w", err)
		}
	}
	c, err = s.reload(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if err := s.populateOne(ctx, c); err != nil {
		return nil, err
	}

	s.publish(c.TenantID, deref(c.AssignedToID), c)
	return c, nil
}

// ImportContact creates a contact by hand, or returns the existing one for
// the same phone. A missing name is filled in on an existing contact.
func (s *Service) ImportContact(ctx context.Context, sess *auth.Session, clientID, phone, name string) (*models.Contact, bool, error) {
	if err := sess.Require(auth.CapImportContacts); err != nil {
		return nil, false, err
	}
	tenantID, err := sess.Tenant(clientID)
	if err != nil {
		return nil, false, err
	}
	phone = strings.TrimSpace(phone)
	if !validator.IsPhone(phone) {
		return nil, false, apperr.Validation("phone must be a phone number of 4-15 digits, optionally prefixed with +")
	}
	name = strings.TrimSpace(name)

	var c models.Contact
	err = s.db.WithContext(ctx).Where("tenant_id = ? AND phone = ?", tenantID, phone).First(&c).Error
	switch {
	case err == nil:
		if c.Name == "" && name != "" {
			if err := s.db.WithContext(ctx).Model(&c).Update("name", name).Error; err != nil {
				return nil, false, fmt.Errorf("update contact name: %w", err)
			}
		}
		return &c, false, s.populateOne(ctx, &c)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, fmt.Errorf("load contact: %w", err)
	}

	c = models.Contact{TenantID: tenantID, Phone: phone, Name: name}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, false, fmt.Errorf("create contact: %w", err)
	}
	return &c, true, nil
}

// RecordInbound upserts the contact for an inbound message and bumps its
// unread counter. created reports whether this is the first message.
func (s *Service) RecordInbound(ctx context.Context, tenantID, phone, name, preview string, at time.Time) (*models.Contact, bool, error) {
	c, created, err := s.recordInbound(ctx, tenantID, phone, name, preview, at)
	if err != nil {
		// A concurrent first message may have created the row; retry as update.
		c, created, err = s.recordInbound(ctx, tenantID, phone, name, preview, at)
	}
	if err != nil {
		return nil, false, err
	}
	if err := s.populateOne(ctx, c); err != nil {
		return nil, false, err
	}
	s.publish(tenantID, deref(c.AssignedToID), c)
	return c, created, nil
}

func (s *Service) recordInbound(ctx context.Context, tenantID, phone, name, preview string, at time.Time) (*models.Contact, bool, error) {
	at = at.UTC()
	var c models.Contact
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND phone = ?", tenantID, phone).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c = models.Contact{
			TenantID:        tenantID,
			Phone:           phone,
			Name:            name,
			LastMessage:     preview,
			LastMessageTime: &at,
			UnreadCount:     1,
		}
		if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
			return nil, false, fmt.Errorf("create contact: %w", err)
		}
		return &c, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load contact: %w", err)
	}

	updates := map[string]any{
		"unread_count":      gorm.Expr("unread_count + 1"),
		"last_message":      preview,
		"last_message_time": at,
	}
	if c.Name == "" && name != "" {
		updates["name"] = name
	}
	if err := s.db.WithContext(ctx).Model(&c).Updates(updates).Error; err != nil {
		return nil, false, fmt.Errorf("update contact: %w", err)
	}
	fresh, err := s.reload(ctx, c.ID)
	if err != nil {
		return nil, false, err
	}
	return fresh, false, nil
}

func (s *Service) reload(ctx context.Context, id string) (*models.Contact, error) {
	var c models.Contact
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("reload contact: %w", err)
	}
	return &c, nil
}

// TouchOutbound records an outbound message as the contact's latest activity.
func (s *Service) TouchOutbound(ctx context.Context, c *models.Contact, preview string, at time.Time) error {
	at = at.UTC()
	err := s.db.WithContext(ctx).Model(c).Updates(map[string]any{
		"last_message":      preview,
		"last_message_time": at,
	}).Error
	if err != nil {
		return fmt.Errorf("touch contact: %w", err)
	}
	c.LastMessage = preview
	c.LastMessageTime = &at
	return nil
}

// MarkRead resets the unread counter.
func (s *Service) MarkRead(ctx context.Context, c *models.Contact) error {
	if err := s.db.WithContext(ctx).Model(c).UpdateColumn("unread_count", 0).Error; err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	c.UnreadCount = 0
	return nil
}

func (s *Service) populateOne(ctx context.Context, c *models.Contact) error {
	list := []models.Contact{*c}
	if err := s.populateAssignees(ctx, list); err != nil {
		return err
	}
	c.AssignedTo = list[0].AssignedTo
	return nil
}

// populateAssignees fills AssignedTo with {_id, name, email} in one query.
func (s *Service) populateAssignees(ctx context.Context, contacts []models.Contact) error {
	ids := make([]string, 0, len(contacts))
	for _, c := range contacts {
		if c.AssignedToID != nil {
			ids = append(ids, *c.AssignedToID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var agents []models.User
	if err := s.db.WithContext(ctx).Select("id", "name", "email").Where("id IN ?", unique(ids)).Find(&agents).Error; err != nil {
		return fmt.Errorf("load assignees: %w", err)
	}
	refs := make(map[string]*models.UserRef, len(agents))
	for _, a := range agents {
		refs[a.ID] = &models.UserRef{ID: a.ID, Name: a.Name, Email: a.Email}
	}
	for i := range contacts {
		if contacts[i].AssignedToID != nil {
			contacts[i].AssignedTo = refs[*contacts[i].AssignedToID]
		}
	}
	return nil
}

func (s *Service) publish(tenantID, assignedTo string, data any) {
	if s.pub != nil {
		s.pub.Publish(tenantID, assignedTo, ws.EventContactUpdate, data)
	}
}

// NormalizeStatus accepts the status names case-insensitively.
func NormalizeStatus(v string) (string, bool) {
	for _, s := range []string{models.StatusNew, models.StatusPending, models.StatusAnswered, models.StatusRejected} {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return s, true
		}
	}
	return "", false
}

// NormalizePriority accepts Low, Medium (or Mid) and High.
func NormalizePriority(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "Mid") {
		return models.PriorityMedium, true
	}
	for _, p := range []string{models.PriorityLow, models.PriorityMedium, models.PriorityHigh} {
		if strings.EqualFold(v, p) {
			return p, true
		}
	}
	return "", false
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
