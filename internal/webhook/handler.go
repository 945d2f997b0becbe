package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/inbox"
	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
	wire "smartreply-crm/pkg/models"
)

const signatureHeader = "X-Hub-Signature-256"

type TenantLookup interface {
	ByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.User, error)
}

type Inbox interface {
	ReceiveInbound(ctx context.Context, tenantID string, in inbox.InboundMessage) (*models.Message, *models.Contact, bool, error)
	UpdateDeliveryStatus(ctx context.Context, tenantID, waMessageID, status, reason string) error
}

type Responder interface {
	HandleInbound(ctx context.Context, tenantID string, c *models.Contact, created bool) (int, error)
}

type EventRecorder interface {
	Warn(ctx context.Context, source, message, clientID string, meta map[string]any)
	Error(ctx context.Context, source, message, clientID string, meta map[string]any)
}

type Handler struct {
	verifyToken string
	appSecret   string
	tenants     TenantLookup
	inbox       Inbox
	bot         Responder
	events      EventRecorder
	log         *logging.Logger
	wg          sync.WaitGroup
}

// NewHandler builds the webhook endpoint. An empty appSecret disables the
// signature check; bot may be nil.
func NewHandler(verifyToken, appSecret string, tenants TenantLookup, in Inbox, bot Responder, events EventRecorder, log *logging.Logger) *Handler {
	return &Handler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		tenants:     tenants,
		inbox:       in,
		bot:         bot,
		events:      events,
		log:         log.Sub("webhook"),
	}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "" && token != "" {
		if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
			h.log.Info().Msg("webhook verified")
			c.String(http.StatusOK, challenge)
		} else {
			c.Status(http.StatusForbidden)
		}
	} else {
		c.Status(http.StatusBadRequest)
	}
}

func (h *Handler) HandleMessage(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if h.appSecret != "" && !validSignature(h.appSecret, body, c.GetHeader(signatureHeader)) {
		h.log.Warn().Str("ip", c.ClientIP()).Msg("rejected webhook with bad signature")
		c.Status(http.StatusUnauthorized)
		return
	}

	var payload wire.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn().Err(err).Msg("binding webhook payload")
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			h.processChange(ctx, change.Value)
		}
	}

	c.Status(http.StatusOK)
}

// Wait blocks until every bot flow started by the handler has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) processChange(ctx context.Context, value wire.ChangeValue) {
	if len(value.Messages) == 0 && len(value.Statuses) == 0 {
		return
	}
	phoneNumberID := value.Metadata.PhoneNumberID
	tenant, err := h.tenants.ByPhoneNumberID(ctx, phoneNumberID)
	if apperr.Is(err, apperr.KindNotFound) {
		h.events.Warn(ctx, "webhook", "Webhook for unknown phone number id", "", map[string]any{
			"phoneNumberId": phoneNumberID,
			"messages":      len(value.Messages),
			"statuses":      len(value.Statuses),
		})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("phone_number_id", phoneNumberID).Msg("resolving tenant")
		return
	}

	for _, m := range value.Messages {
		h.processMessage(ctx, tenant.ID, toInbound(m, value.NameFor(m.From)))
	}
	for _, st := range value.Statuses {
		err := h.inbox.UpdateDeliveryStatus(ctx, tenant.ID, st.ID, st.Status, st.Reason())
		switch {
		case err == nil:
		case apperr.Is(err, apperr.KindNotFound), apperr.Is(err, apperr.KindValidation):
			h.log.Debug().Err(err).Str("wa_message_id", st.ID).Str("status", st.Status).Msg("status callback ignored")
		default:
			h.log.Error().Err(err).Str("wa_message_id", st.ID).Msg("applying status callback")
		}
	}
}

func (h *Handler) processMessage(ctx context.Context, tenantID string, in inbox.InboundMessage) {
	msg, contact, created, err := h.inbox.ReceiveInbound(ctx, tenantID, in)
	if err != nil {
		h.events.Error(ctx, "webhook", "Inbound message could not be stored", tenantID, map[string]any{
			"from":  in.From,
			"id":    in.WAMessageID,
			"error": err.Error(),
		})
		return
	}
	h.log.Info().
		Str("tenant_id", tenantID).
		Str("from", in.From).
		Str("type", msg.Type).
		Bool("new_contact", created).
		Msg("received message")

	if h.bot == nil || !created {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		botCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		if _, err := h.bot.HandleInbound(botCtx, tenantID, contact, created); err != nil {
			h.log.Error().Err(err).Str("tenant_id", tenantID).Str("to", contact.Phone).Msg("bot flow failed")
		}
	}()
}

// toInbound flattens a provider message into what the inbox stores.
// Unsupported types are kept as a text placeholder.
func toInbound(m wire.WebhookMessage, name string) inbox.InboundMessage {
	in := inbox.InboundMessage{
		From:        m.From,
		Name:        name,
		WAMessageID: m.ID,
		Type:        m.Type,
		At:          parseTimestamp(m.Timestamp),
	}

	switch m.Type {
	case models.MessageText:
		if m.Text != nil {
			in.Text = m.Text.Body
		}
	case models.MessageImage, models.MessageVideo, models.MessageAudio, models.MessageDocument:
		if media := m.Media(); media != nil {
			in.MediaID = media.ID
			in.MediaURL = media.Link
			in.Caption = media.Caption
			in.Text = media.Filename
		}
	case "interactive":
		in.Type = models.MessageText
		if m.Interactive != nil {
			switch {
			case m.Interactive.ButtonReply != nil:
				in.Text = m.Interactive.ButtonReply.Title
			case m.Interactive.ListReply != nil:
				in.Text = m.Interactive.ListReply.Title
			}
		}
	case "button":
		in.Type = models.MessageText
		if m.Button != nil {
			in.Text = m.Button.Text
		}
	default:
		in.Type = models.MessageText
		in.Text = "[" + m.Type + "]"
	}
	return in
}

func parseTimestamp(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
