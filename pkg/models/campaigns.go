package models

import "time"

type BroadcastRequest struct {
	ClientID      string     `json:"clientId"`
	Name          string     `json:"name" binding:"required,max=255"`
	Recipients    []string   `json:"recipients" binding:"required,min=1"`
	MessageType   string     `json:"messageType"`
	Message       string     `json:"message"`
	MediaURL      string     `json:"mediaUrl" binding:"omitempty,url"`
	Language      string     `json:"language"`
	ScheduledTime *time.Time `json:"scheduledTime"`
}

// BotReplyRequest is one step of a bot flow. The builder names the media
// link "media"; "mediaUrl" is accepted too.
type BotReplyRequest struct {
	Text      string `json:"text"`
	Media     string `json:"media"`
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
	FileName  string `json:"fileName"`
}

func (r BotReplyRequest) Link() string {
	if r.MediaURL != "" {
		return r.MediaURL
	}
	return r.Media
}

type BotConfigRequest struct {
	OwnerID  string            `json:"ownerId"`
	UserID   string            `json:"userId"`
	Replies  []BotReplyRequest `json:"replies" binding:"max=20"`
	IsActive *bool             `json:"isActive"`
}

// Owner prefers ownerId over the older userId field.
func (r BotConfigRequest) Owner() string {
	if r.OwnerID != "" {
		return r.OwnerID
	}
	return r.UserID
}

type TemplateRequest struct {
	Name       string `json:"name" binding:"required"`
	Category   string `json:"category"`
	Language   string `json:"language"`
	HeaderType string `json:"headerType"`
	HeaderText string `json:"headerText" binding:"max=60"`
	BodyText   string `json:"bodyText" binding:"required,max=1024"`
	FooterText string `json:"footerText" binding:"max=60"`
}
