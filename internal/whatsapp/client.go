package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"smartreply-crm/internal/models"
)

// ErrNotConfigured is returned when a tenant has no Cloud API credentials.
var ErrNotConfigured = errors.New("whatsapp credentials are not configured")

// Client talks to the WhatsApp Cloud API. Credentials are per tenant and
// passed on every call.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextObj     `json:"text,omitempty"`
	Image            *MediaObj    `json:"image,omitempty"`
	Video            *MediaObj    `json:"video,omitempty"`
	Audio            *MediaObj    `json:"audio,omitempty"`
	Document         *MediaObj    `json:"document,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"` // For documents
}

type TemplateObj struct {
	Name     string      `json:"name"`
	Language LanguageObj `json:"language"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("whatsapp api error %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp api error %d: %s", e.Status, e.Message)
}

// --- Helper Functions ---

func (c *Client) request(ctx context.Context, creds models.WhatsAppConfig) *resty.Request {
	return c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken)
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode(), Message: resp.Status()}
	var body apiErrorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Code = body.Error.Code
	}
	return apiErr
}

// --- Messaging Methods ---

// SendRawMessage posts msg and returns the provider message id.
func (c *Client) SendRawMessage(ctx context.Context, creds models.WhatsAppConfig, msg GenericMessage) (string, error) {
	if !creds.Configured() {
		return "", ErrNotConfigured
	}
	msg.MessagingProduct = "whatsapp"
	if msg.RecipientType == "" {
		msg.RecipientType = "individual"
	}

	var result sendResponse
	resp, err := c.request(ctx, creds).
		SetBody(msg).
		SetResult(&result).
		Post(fmt.Sprintf("%s/%s/messages", c.baseURL, creds.PhoneNumberID))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return "", err
	}
	if len(result.Messages) == 0 {
		return "", nil
	}
	return result.Messages[0].ID, nil
}

func (c *Client) SendText(ctx context.Context, creds models.WhatsAppConfig, to, body string) (string, error) {
	return c.SendRawMessage(ctx, creds, GenericMessage{
		To:   to,
		Type: models.MessageText,
		Text: &TextObj{Body: body},
	})
}

// SendMedia sends a media message by public link. mediaType is one of
// image, video, audio or document; audio carries no caption.
func (c *Client) SendMedia(ctx context.Context, creds models.WhatsAppConfig, to, mediaType, link, caption string) (string, error) {
	media := &MediaObj{Link: link, Caption: caption}
	msg := GenericMessage{To: to, Type: mediaType}
	switch mediaType {
	case models.MessageImage:
		msg.Image = media
	case models.MessageVideo:
		msg.Video = media
	case models.MessageAudio:
		media.Caption = ""
		msg.Audio = media
	case models.MessageDocument:
		msg.Document = media
	default:
		return "", fmt.Errorf("unsupported media type %q", mediaType)
	}
	return c.SendRawMessage(ctx, creds, msg)
}

// Send dispatches text or media depending on messageType.
func (c *Client) Send(ctx context.Context, creds models.WhatsAppConfig, to, messageType, text, mediaURL, caption string) (string, error) {
	if messageType == models.MessageText || messageType == "" {
		return c.SendText(ctx, creds, to, text)
	}
	if caption == "" {
		caption = text
	}
	return c.SendMedia(ctx, creds, to, messageType, mediaURL, caption)
}

func (c *Client) SendTemplateMessage(ctx context.Context, creds models.WhatsAppConfig, to, templateName, languageCode string) (string, error) {
	return c.SendRawMessage(ctx, creds, GenericMessage{
		To:   to,
		Type: "template",
		Template: &TemplateObj{
			Name:     templateName,
			Language: LanguageObj{Code: languageCode},
		},
	})
}

// --- Template Management Methods ---

type TemplateComponent struct {
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
	Text   string `json:"text,omitempty"`
}

type TemplateInfo struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Language   string            `json:"language"`
	Category   string            `json:"category"`
	Status     string            `json:"status"`
	Components []json.RawMessage `json:"components"`
}

type CreateTemplateRequest struct {
	Name       string              `json:"name"`
	Category   string              `json:"category"`
	Language   string              `json:"language"`
	Components []TemplateComponent `json:"components"`
}

type CreateTemplateResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Category string `json:"category"`
}

func (c *Client) GetTemplates(ctx context.Context, creds models.WhatsAppConfig) ([]TemplateInfo, error) {
	if creds.BusinessAccountID == "" || creds.AccessToken == "" {
		return nil, ErrNotConfigured
	}
	var result struct {
		Data []TemplateInfo `json:"data"`
	}
	resp, err := c.request(ctx, creds).
		SetQueryParam("limit", "100").
		SetResult(&result).
		Get(fmt.Sprintf("%s/%s/message_templates", c.baseURL, creds.BusinessAccountID))
	if err != nil {
		return nil, fmt.Errorf("get templates: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return result.Data, nil
}

func (c *Client) CreateTemplate(ctx context.Context, creds models.WhatsAppConfig, req CreateTemplateRequest) (*CreateTemplateResponse, error) {
	if creds.BusinessAccountID == "" || creds.AccessToken == "" {
		return nil, ErrNotConfigured
	}
	var result CreateTemplateResponse
	resp, err := c.request(ctx, creds).
		SetBody(req).
		SetResult(&result).
		Post(fmt.Sprintf("%s/%s/message_templates", c.baseURL, creds.BusinessAccountID))
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &result, nil
}
