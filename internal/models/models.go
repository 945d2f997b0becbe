package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

const (
	AccountActive   = "active"
	AccountInactive = "inactive"
)

// WhatsAppConfig holds a tenant's Cloud API credentials.
type WhatsAppConfig struct {
	PhoneNumberID     string `gorm:"column:wa_phone_number_id;type:varchar(64);index" json:"phoneNumberId"`
	AccessToken       string `gorm:"column:wa_access_token;type:text" json:"accessToken"`
	BusinessAccountID string `gorm:"column:wa_business_account_id;type:varchar(64)" json:"businessAccountId"`
}

func (w WhatsAppConfig) Configured() bool {
	return w.PhoneNumberID != "" && w.AccessToken != ""
}

// User is any account: platform admin, client business (tenant) or agent.
type User struct {
	ID             string         `gorm:"primaryKey;type:varchar(36)" json:"_id"`
	Name           string         `gorm:"type:varchar(255);not null" json:"name"`
	Email          string         `gorm:"type:varchar(255);not null;uniqueIndex" json:"email"`
	PasswordHash   string         `gorm:"type:varchar(255);not null" json:"-"`
	Role           Role           `gorm:"type:varchar(20);not null;index" json:"role"`
	BusinessName   string         `gorm:"type:varchar(255)" json:"businessName,omitempty"`
	Phone          string         `gorm:"type:varchar(32)" json:"phone,omitempty"`
	Status         string         `gorm:"type:varchar(20);default:'active'" json:"status"`
	OwnerID        *string        `gorm:"type:varchar(36);index" json:"ownerId,omitempty"`
	WhatsAppConfig WhatsAppConfig `gorm:"embedded" json:"whatsappConfig"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = AccountActive
	}
	return nil
}

// TenantID is the business the user acts for. Admins have none.
func (u *User) TenantID() string {
	switch u.Role {
	case RoleUser:
		return u.ID
	case RoleAgent:
		if u.OwnerID != nil {
			return *u.OwnerID
		}
	}
	return ""
}

// UserRef is the populated form of a user reference inside other documents.
type UserRef struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	BusinessName string `json:"businessName,omitempty"`
}

// Contact statuses. Only agents and admins move a contact between them.
const (
	StatusNew      = "New"
	StatusPending  = "Pending"
	StatusAnswered = "Answered"
	StatusRejected = "Rejected"
)

const (
	PriorityLow    = "Low"
	PriorityMedium = "Medium"
	PriorityHigh   = "High"
)

// Contact is a lead: a phone number that messaged the tenant or was imported.
type Contact struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)" json:"_id"`
	TenantID        string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_contact_tenant_phone" json:"tenantId"`
	Phone           string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_contact_tenant_phone" json:"phone"`
	Name            string     `gorm:"type:varchar(255)" json:"name"`
	AssignedToID    *string    `gorm:"column:assigned_to;type:varchar(36);index" json:"-"`
	AssignedTo      *UserRef   `gorm:"-" json:"assignedTo"`
	Status          string     `gorm:"type:varchar(20);default:'New';index" json:"status"`
	Priority        string     `gorm:"type:varchar(20);default:'Low'" json:"priority"`
	LastMessage     string     `gorm:"type:text" json:"lastMessage"`
	LastMessageTime *time.Time `gorm:"index" json:"lastMessageTime"`
	UnreadCount     int        `gorm:"default:0" json:"unreadCount"`
	Remark          string     `gorm:"type:text" json:"remark"`
	CallStatus      string     `gorm:"type:varchar(50)" json:"callStatus"`
	CallMethod      string     `gorm:"type:varchar(50)" json:"callMethod"`
	CallAttempts    int        `gorm:"default:0" json:"callAttempts"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Contact) TableName() string {
	return "contacts"
}

// MarshalJSON adds phoneNumber, the name the dashboard reads the phone under.
func (c Contact) MarshalJSON() ([]byte, error) {
	type contact Contact
	return json.Marshal(struct {
		contact
		PhoneNumber string `json:"phoneNumber"`
	}{contact(c), c.Phone})
}

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = StatusNew
	}
	if c.Priority == "" {
		c.Priority = PriorityLow
	}
	return nil
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const (
	MessageText     = "text"
	MessageImage    = "image"
	MessageVideo    = "video"
	MessageAudio    = "audio"
	MessageDocument = "document"
)

// Delivery statuses. received is used for inbound messages only.
const (
	DeliveryReceived  = "received"
	DeliveryQueued    = "queued"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryFailed    = "failed"
)

func IsMediaType(t string) bool {
	switch t {
	case MessageImage, MessageVideo, MessageAudio, MessageDocument:
		return true
	}
	return false
}

func IsMessageType(t string) bool {
	return t == MessageText || IsMediaType(t)
}

// Message belongs to exactly one contact; listed oldest first.
type Message struct {
	ID          uint      `gorm:"primaryKey" json:"_id"`
	TenantID    string    `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ContactID   string    `gorm:"type:varchar(36);not null;index:idx_message_contact_time" json:"contactId"`
	Direction   string    `gorm:"type:varchar(10);not null" json:"direction"`
	Type        string    `gorm:"type:varchar(20);not null" json:"type"`
	Text        string    `gorm:"type:text" json:"text"`
	MediaURL    string    `gorm:"type:text" json:"mediaUrl,omitempty"`
	MediaID     string    `gorm:"type:varchar(255)" json:"mediaId,omitempty"` // provider media id of inbound media
	Caption     string    `gorm:"type:text" json:"caption,omitempty"`
	SenderID    *string   `gorm:"type:varchar(36)" json:"senderId,omitempty"`
	SenderName  string    `gorm:"type:varchar(255)" json:"senderName,omitempty"`
	IsBotReply  bool      `gorm:"default:false" json:"isBotReply"`
	WAMessageID string    `gorm:"type:varchar(255);index" json:"waMessageId,omitempty"`
	Status      string    `gorm:"type:varchar(20)" json:"status"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time `gorm:"index:idx_message_contact_time" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Message) TableName() string {
	return "messages"
}

const (
	SenderMe      = "me"
	SenderContact = "contact"
)

// Content is the media link for media messages and the text otherwise.
func (m Message) Content() string {
	if IsMediaType(m.Type) && m.MediaURL != "" {
		return m.MediaURL
	}
	return m.Text
}

// Sender is "me" for outbound messages and "contact" for inbound ones.
func (m Message) Sender() string {
	if m.Direction == DirectionOutbound {
		return SenderMe
	}
	return SenderContact
}

func (m Message) MarshalJSON() ([]byte, error) {
	type message Message
	return json.Marshal(struct {
		message
		Content string `json:"content"`
		Sender  string `json:"sender"`
	}{message(m), m.Content(), m.Sender()})
}

// BotConfig is the ordered list of canned replies a tenant's responder sends.
type BotConfig struct {
	ID        uint       `gorm:"primaryKey" json:"-"`
	OwnerID   string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"ownerId"`
	IsActive  bool       `gorm:"not null" json:"isActive"`
	Replies   []BotReply `gorm:"foreignKey:BotConfigID;constraint:OnDelete:CASCADE;" json:"replies"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (BotConfig) TableName() string {
	return "bot_configs"
}

type BotReply struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	BotConfigID uint   `gorm:"index" json:"-"`
	Position    int    `gorm:"not null" json:"-"`
	Text        string `gorm:"type:text" json:"text"`
	MediaURL    string `gorm:"type:text" json:"mediaUrl"`
	MediaType   string `gorm:"type:varchar(20)" json:"mediaType"`
	FileName    string `gorm:"type:varchar(255)" json:"fileName,omitempty"`
}

func (BotReply) TableName() string {
	return "bot_replies"
}

// MessageTemplate is only valid for broadcasts: Message holds the template name.
const MessageTemplate = "template"

const (
	CampaignPending    = "pending"
	CampaignProcessing = "processing"
	CampaignCompleted  = "completed"
	CampaignFailed     = "failed"
)

// BroadcastCampaign is a scheduled bulk send; its status is owned by the scheduler.
type BroadcastCampaign struct {
	ID            uint       `gorm:"primaryKey" json:"_id"`
	TenantID      string     `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	CreatedBy     string     `gorm:"type:varchar(36)" json:"createdBy"`
	Name          string     `gorm:"type:varchar(255);not null" json:"name"`
	Recipients    []string   `gorm:"serializer:json;type:text" json:"recipients"`
	MessageType   string     `gorm:"type:varchar(20);not null" json:"messageType"`
	Message       string     `gorm:"type:text" json:"message"`
	MediaURL      string     `gorm:"type:text" json:"mediaUrl,omitempty"`
	Language      string     `gorm:"type:varchar(20)" json:"language,omitempty"` // template messages only
	ScheduledTime time.Time  `gorm:"not null;index" json:"scheduledTime"`
	Status        string     `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	SuccessCount  int        `gorm:"default:0" json:"successCount"`
	FailCount     int        `gorm:"default:0" json:"failCount"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Remaining     []string   `gorm:"serializer:json;type:text" json:"-"` // recipients an interrupted run did not reach
	ClaimedAt     *time.Time `json:"-"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (BroadcastCampaign) TableName() string {
	return "broadcast_campaigns"
}

// Template is the local cache of a tenant's WhatsApp message templates.
type Template struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TenantID   string    `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	Language   string    `gorm:"type:varchar(50)" json:"language"`
	Category   string    `gorm:"type:varchar(100)" json:"category"`
	Status     string    `gorm:"type:varchar(50)" json:"status"`
	Components string    `gorm:"type:text" json:"components"` // JSON components
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Template) TableName() string {
	return "templates"
}

const (
	LogInfo  = "INFO"
	LogWarn  = "WARN"
	LogError = "ERROR"
)

// SystemLog is an operator-visible event (delivery failures, webhook problems, ...).
type SystemLog struct {
	ID       uint           `gorm:"primaryKey" json:"_id"`
	Type     string         `gorm:"type:varchar(10);not null;index" json:"type"`
	Source   string         `gorm:"type:varchar(100)" json:"source"`
	Message  string         `gorm:"type:text" json:"message"`
	ClientID *string        `gorm:"type:varchar(36);index" json:"-"`
	Client   *UserRef       `gorm:"-" json:"clientId"`
	MetaData map[string]any `gorm:"serializer:json;type:text" json:"metaData,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (SystemLog) TableName() string {
	return "system_logs"
}

// All lists every model for AutoMigrate and data copies, parents first.
func All() []any {
	return []any{
		&User{},
		&Contact{},
		&Message{},
		&BotConfig{},
		&BotReply{},
		&BroadcastCampaign{},
		&Template{},
		&SystemLog{},
	}
}
