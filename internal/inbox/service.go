// Package inbox stores conversations and delivers outbound messages.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"gorm.io/gorm"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/crm"
	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
	"smartreply-crm/internal/ws"
)

const botSenderName = "SmartReply Bot"

// Sender delivers a message through the messaging provider and returns its id.
type Sender interface {
	Send(ctx context.Context, creds models.WhatsAppConfig, to, messageType, text, mediaURL, caption string) (string, error)
}

type Publisher interface {
	Publish(tenantID, assignedTo, eventType string, data any)
}

type EventRecorder interface {
	Error(ctx context.Context, source, message, clientID string, meta map[string]any)
}

type Service struct {
	db       *gorm.DB
	contacts *crm.Service
	sender   Sender
	events   EventRecorder
	pub      Publisher
	log      *logging.Logger
}

func NewService(db *gorm.DB, contacts *crm.Service, sender Sender, events EventRecorder, pub Publisher, log *logging.Logger) *Service {
	return &Service{
		db:       db,
		contacts: contacts,
		sender:   sender,
		events:   events,
		pub:      pub,
		log:      log.Sub("inbox"),
	}
}

type SendInput struct {
	ContactID string
	To        string
	ClientID  string
	Text      string
	Type      string
	MediaURL  string
	Caption   string
}

type InboundMessage struct {
	From        string
	Name        string
	WAMessageID string
	Type        string
	Text        string
	MediaURL    string
	MediaID     string
	Caption     string
	At          time.Time
}

// ListMessages returns the conversation oldest first and marks it read.
func (s *Service) ListMessages(ctx context.Context, sess *auth.Session, contactID string) ([]models.Message, error) {
	c, err := s.contacts.Visible(ctx, sess, contactID)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, c)
}

func (s *Service) open(ctx context.Context, c *models.Contact) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.WithContext(ctx).
		Where("contact_id = ?", c.ID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	if c.UnreadCount > 0 {
		if err := s.contacts.MarkRead(ctx, c); err != nil {
			return nil, err
		}
		s.publish(c, ws.EventContactUpdate, c)
	}
	return messages, nil
}

// Conversation is one row of the admin inbox. It is keyed by phone number,
// which is what MessagesByPhone takes.
type Conversation struct {
	Phone       string     `json:"_id"`
	ContactID   string     `json:"contactId"`
	Name        string     `json:"name"`
	LastMessage string     `json:"lastMessage"`
	LastActive  *time.Time `json:"lastActive"`
	Type        string     `json:"type"`
	UnreadCount int        `json:"unreadCount"`
}

// Conversations lists a client's chats for the admin inbox, most recent first.
func (s *Service) Conversations(ctx context.Context, sess *auth.Session, clientID string) ([]Conversation, error) {
	contacts, _, err := s.contacts.ListContacts(ctx, sess, crm.ListFilter{ClientID: clientID})
	if err != nil {
		return nil, err
	}
	convs := make([]Conversation, 0, len(contacts))
	if len(contacts) == 0 {
		return convs, nil
	}

	ids := make([]string, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}
	var latest []struct {
		ContactID string
		Type      string
	}
	err = s.db.WithContext(ctx).Model(&models.Message{}).
		Select("contact_id, type").
		Where("contact_id IN ?", ids).
		Where("id = (SELECT MAX(m2.id) FROM messages m2 WHERE m2.contact_id = messages.contact_id)").
		Scan(&latest).Error
	if err != nil {
		return nil, fmt.Errorf("latest message types: %w", err)
	}
	types := make(map[string]string, len(latest))
	for _, l := range latest {
		types[l.ContactID] = l.Type
	}

	for _, c := range contacts {
		msgType := types[c.ID]
		if msgType == "" {
			msgType = models.MessageText
		}
		convs = append(convs, Conversation{
			Phone:       c.Phone,
			ContactID:   c.ID,
			Name:        c.Name,
			LastMessage: c.LastMessage,
			LastActive:  c.LastMessageTime,
			Type:        msgType,
			UnreadCount: c.UnreadCount,
		})
	}
	return convs, nil
}

// MessagesByPhone opens a client's conversation by phone number.
func (s *Service) MessagesByPhone(ctx context.Context, sess *auth.Session, clientID, phone string) ([]models.Message, error) {
	tenantID, err := sess.Tenant(clientID)
	if err != nil {
		return nil, err
	}
	c, err := s.byPhone(ctx, tenantID, phone)
	if err != nil {
		return nil, err
	}
	if c, err = s.contacts.Visible(ctx, sess, c.ID); err != nil {
		return nil, err
	}
	return s.open(ctx, c)
}

// SendMessage persists an outbound message from the session user and
// delivers it. A delivery failure is recorded on the message, not returned.
func (s *Service) SendMessage(ctx context.Context, sess *auth.Session, in SendInput) (*models.Message, error) {
	if err := sess.Require(auth.CapSendMessages); err != nil {
		return nil, err
	}
	msgType, err := resolveType(in.Type, in.Text, in.MediaURL)
	if err != nil {
		return nil, err
	}

	c, err := s.resolveContact(ctx, sess, in)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenant(ctx, c.TenantID)
	if err != nil {
		return nil, err
	}

	return s.deliver(ctx, tenant, c, &models.Message{
		Type:       msgType,
		Text:       strings.TrimSpace(in.Text),
		MediaURL:   strings.TrimSpace(in.MediaURL),
		Caption:    in.Caption,
		SenderID:   &sess.UserID,
		SenderName: sess.Name,
	})
}

// SendBotReply delivers one automated reply step to the contact.
func (s *Service) SendBotReply(ctx context.Context, tenantID string, c *models.Contact, text, mediaURL, mediaType string) (*models.Message, error) {
	msgType, err := resolveType(mediaType, text, mediaURL)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.deliver(ctx, tenant, c, &models.Message{
		Type:       msgType,
		Text:       strings.TrimSpace(text),
		MediaURL:   strings.TrimSpace(mediaURL),
		IsBotReply: true,
		SenderName: botSenderName,
	})
}

func (s *Service) deliver(ctx context.Context, tenant *models.User, c *models.Contact, msg *models.Message) (*models.Message, error) {
	now := time.Now().UTC()
	msg.TenantID = c.TenantID
	msg.ContactID = c.ID
	msg.Direction = models.DirectionOutbound
	msg.Status = models.DeliveryQueued
	msg.CreatedAt = now
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if err := s.contacts.TouchOutbound(ctx, c, Preview(msg.Type, msg.Text, msg.Caption), now); err != nil {
		return nil, err
	}

	waID, sendErr := s.sender.Send(ctx, tenant.WhatsAppConfig, c.Phone, msg.Type, msg.Text, msg.MediaURL, msg.Caption)
	updates := map[string]any{"status": models.DeliverySent, "wa_message_id": waID}
	if sendErr != nil {
		updates = map[string]any{"status": models.DeliveryFailed, "error": sendErr.Error()}
	}
	if err := s.db.WithContext(ctx).Model(msg).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}

	if sendErr != nil {
		msg.Status = models.DeliveryFailed
		msg.Error = sendErr.Error()
		s.events.Error(ctx, "inbox", "Message delivery failed", tenant.ID, map[string]any{
			"to":        c.Phone,
			"messageId": msg.ID,
			"error":     sendErr.Error(),
		})
	} else {
		msg.Status = models.DeliverySent
		msg.WAMessageID = waID
	}

	s.publish(c, ws.EventNewMessage, msg)
	return msg, nil
}

// ReceiveInbound stores a message from the webhook. Redelivered provider
// ids are ignored. created reports whether the contact is new.
func (s *Service) ReceiveInbound(ctx context.Context, tenantID string, in InboundMessage) (*models.Message, *models.Contact, bool, error) {
	if in.WAMessageID != "" {
		var existing models.Message
		err := s.db.WithContext(ctx).
			Where("tenant_id = ? AND wa_message_id = ?", tenantID, in.WAMessageID).
			First(&existing).Error
		if err == nil {
			return &existing, nil, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, false, fmt.Errorf("check duplicate: %w", err)
		}
	}

	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	msgType := in.Type
	if !models.IsMessageType(msgType) {
		msgType = models.MessageText
	}

	c, created, err := s.contacts.RecordInbound(ctx, tenantID, in.From, in.Name, Preview(msgType, in.Text, in.Caption), at)
	if err != nil {
		return nil, nil, false, err
	}

	msg := &models.Message{
		TenantID:    tenantID,
		ContactID:   c.ID,
		Direction:   models.DirectionInbound,
		Type:        msgType,
		Text:        in.Text,
		MediaURL:    in.MediaURL,
		MediaID:     in.MediaID,
		Caption:     in.Caption,
		WAMessageID: in.WAMessageID,
		Status:      models.DeliveryReceived,
		CreatedAt:   at,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, nil, false, fmt.Errorf("create message: %w", err)
	}

	s.publish(c, ws.EventNewMessage, msg)
	return msg, c, created, nil
}

var statusRank = map[string]int{
	models.DeliveryQueued:    0,
	models.DeliverySent:      1,
	models.DeliveryDelivered: 2,
	models.DeliveryRead:      3,
}

// UpdateDeliveryStatus applies a provider status callback. Statuses only
// move forward; failed is accepted until the message was read.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, tenantID, waMessageID, status, reason string) error {
	if _, ok := statusRank[status]; !ok && status != models.DeliveryFailed {
		return apperr.Validation("unknown delivery status %q", status)
	}

	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND wa_message_id = ? AND direction = ?", tenantID, waMessageID, models.DirectionOutbound).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("message not found")
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}

	if status == models.DeliveryFailed {
		if msg.Status == models.DeliveryRead {
			return nil
		}
	} else if cur, ok := statusRank[msg.Status]; ok && statusRank[status] <= cur {
		return nil
	}

	updates := map[string]any{"status": status}
	if reason != "" {
		updates["error"] = reason
	}
	if err := s.db.WithContext(ctx).Model(&msg).Updates(updates).Error; err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if s.pub != nil {
		var c models.Contact
		if err := s.db.WithContext(ctx).Select("id", "tenant_id", "assigned_to").First(&c, "id = ?", msg.ContactID).Error; err == nil {
			s.publish(&c, ws.EventMessageStatus, map[string]any{"_id": msg.ID, "contactId": msg.ContactID, "status": status})
		}
	}
	return nil
}

func (s *Service) resolveContact(ctx context.Context, sess *auth.Session, in SendInput) (*models.Contact, error) {
	if in.ContactID != "" {
		return s.contacts.Visible(ctx, sess, in.ContactID)
	}
	phone := strings.TrimSpace(in.To)
	if phone == "" {
		return nil, apperr.Validation("contactId or to is required")
	}
	tenantID, err := sess.Tenant(in.ClientID)
	if err != nil {
		return nil, err
	}

	c, err := s.byPhone(ctx, tenantID, phone)
	if err == nil {
		return s.contacts.Visible(ctx, sess, c.ID)
	}
	if !apperr.Is(err, apperr.KindNotFound) || !sess.Can(auth.CapImportContacts) {
		return nil, err
	}
	c, _, err = s.contacts.ImportContact(ctx, sess, tenantID, phone, "")
	return c, err
}

func (s *Service) byPhone(ctx context.Context, tenantID, phone string) (*models.Contact, error) {
	var c models.Contact
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND phone = ?", tenantID, phone).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("contact not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	return &c, nil
}

func (s *Service) tenant(ctx context.Context, tenantID string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("id = ? AND role = ?", tenantID, models.RoleUser).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("client not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	return &u, nil
}

func (s *Service) publish(c *models.Contact, eventType string, data any) {
	if s.pub == nil {
		return
	}
	assignedTo := ""
	if c.AssignedToID != nil {
		assignedTo = *c.AssignedToID
	}
	s.pub.Publish(c.TenantID, assignedTo, eventType, data)
}

// resolveType validates the content for the requested type. An empty type
// means text, or is guessed from the media URL's extension.
func resolveType(msgType, text, mediaURL string) (string, error) {
	msgType = strings.ToLower(strings.TrimSpace(msgType))
	text = strings.TrimSpace(text)
	mediaURL = strings.TrimSpace(mediaURL)

	if msgType == "" {
		if mediaURL == "" {
			msgType = models.MessageText
		} else {
			msgType = MediaTypeFromURL(mediaURL)
		}
	}
	if !models.IsMessageType(msgType) {
		return "", apperr.Validation("type must be one of text, image, video, audio, document")
	}
	if msgType == models.MessageText && text == "" {
		return "", apperr.Validation("text is required for text messages")
	}
	if models.IsMediaType(msgType) && mediaURL == "" {
		return "", apperr.Validation("mediaUrl is required for %s messages", msgType)
	}
	return msgType, nil
}

// MediaTypeFromURL guesses the WhatsApp media type from a file extension.
func MediaTypeFromURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	switch strings.ToLower(path.Ext(u)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return models.MessageImage
	case ".mp4", ".3gp", ".mov":
		return models.MessageVideo
	case ".mp3", ".ogg", ".opus", ".aac", ".m4a", ".amr", ".webm":
		return models.MessageAudio
	default:
		return models.MessageDocument
	}
}

// Preview is the one-line summary shown in the contact list.
func Preview(msgType, text, caption string) string {
	if msgType == models.MessageText || msgType == "" {
		return text
	}
	label := "[" + msgType + "]"
	if caption != "" {
		return label + " " + caption
	}
	if text != "" {
		return label + " " + text
	}
	return label
}
