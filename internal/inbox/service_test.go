package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/crm"
	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
	"smartreply-crm/internal/testutil"
)

type sent struct {
	to, msgType, text, mediaURL, caption string
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []sent
}

func (f *fakeSender) Send(_ context.Context, creds models.WhatsAppConfig, to, messageType, text, mediaURL, caption string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if !creds.Configured() {
		return "", errors.New("not configured")
	}
	f.sent = append(f.sent, sent{to, messageType, text, mediaURL, caption})
	return "wamid." + to, nil
}

type fakeEvents struct {
	messages []string
}

func (f *fakeEvents) Error(_ context.Context, source, message, clientID string, meta map[string]any) {
	f.messages = append(f.messages, source+": "+message)
}

type fixture struct {
	db     *gorm.DB
	svc    *Service
	sender *fakeSender
	events *fakeEvents
	client *models.User
	agent  *models.User
	ctx    context.Context
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	sender := &fakeSender{}
	events := &fakeEvents{}
	client := testutil.CreateClient(t, db, "acme")
	return &fixture{
		db:     db,
		svc:    NewService(db, crm.NewService(db, nil), sender, events, nil, logging.Nop()),
		sender: sender,
		events: events,
		client: client,
		agent:  testutil.CreateAgent(t, db, client, "alice"),
		ctx:    context.Background(),
	}
}

func TestReceiveInbound_ThenOpenResetsUnreadKeepsOrder(t *testing.T) {
	f := setup(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, c, created, err := f.svc.ReceiveInbound(f.ctx, f.client.ID, InboundMessage{From: "+94771", Name: "Kamal", WAMessageID: "in.1", Type: "text", Text: "first", At: base})
	require.NoError(t, err)
	assert.True(t, created)
	_, _, created, err = f.svc.ReceiveInbound(f.ctx, f.client.ID, InboundMessage{From: "+94771", WAMessageID: "in.2", Type: "text", Text: "second", At: base})
	require.NoError(t, err)
	assert.False(t, created)
	_, _, _, err = f.svc.ReceiveInbound(f.ctx, f.client.ID, InboundMessage{From: "+94771", WAMessageID: "in.3", Type: "image", MediaURL: "media-1", Caption: "pic", At: base.Add(time.Minute)})
	require.NoError(t, err)

	// redelivery is ignored
	_, _, _, err = f.svc.ReceiveInbound(f.ctx, f.client.ID, InboundMessage{From: "+94771", WAMessageID: "in.3", Type: "image", At: base.Add(time.Minute)})
	require.NoError(t, err)

	var before models.Contact
	require.NoError(t, f.db.First(&before, "id = ?", c.ID).Error)
	assert.Equal(t, 3, before.UnreadCount)
	assert.Equal(t, "[image] pic", before.LastMessage)

	owner := auth.NewSession(f.client, "")
	messages, err := f.svc.ListMessages(f.ctx, owner, c.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Text)
	assert.Equal(t, "second", messages[1].Text)
	assert.Equal(t, models.MessageImage, messages[2].Type)

	var after models.Contact
	require.NoError(t, f.db.First(&after, "id = ?", c.ID).Error)
	assert.Equal(t, 0, after.UnreadCount)

	again, err := f.svc.ListMessages(f.ctx, owner, c.ID)
	require.NoError(t, err)
	require.Len(t, again, 3)
	for i := range messages {
		assert.Equal(t, messages[i].ID, again[i].ID)
	}
}

func TestSendMessage_Text(t *testing.T) {
	f := setup(t)
	c := testutil.CreateContact(t, f.db, f.client, "+94771")
	owner := auth.NewSession(f.client, "")

	msg, err := f.svc.SendMessage(f.ctx, owner, SendInput{ContactID: c.ID, Text: "hello", Type: "text"})
	require.NoError(t, err)
	assert.Equal(t, models.DirectionOutbound, msg.Direction)
	assert.Equal(t, models.DeliverySent, msg.Status)
	assert.Equal(t, "wamid.+94771", msg.WAMessageID)
	require.NotNil(t, msg.SenderID)
	assert.Equal(t, f.client.ID, *msg.SenderID)
	assert.Equal(t, "acme", msg.SenderName)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, sent{"+94771", "text", "hello", "", ""}, f.sender.sent[0])

	var got models.Contact
	require.NoError(t, f.db.First(&got, "id = ?", c.ID).Error)
	assert.Equal(t, "hello", got.LastMessage)
	assert.NotNil(t, got.LastMessageTime)
}

func TestSendMessage_MediaOnly(t *testing.T) {
	f := setup(t)
	c := testutil.CreateContact(t, f.db, f.client, "+94771")
	owner := auth.NewSession(f.client, "")

	msg, err := f.svc.SendMessage(f.ctx, owner, SendInput{ContactID: c.ID, Type: "video", MediaURL: "https://cdn.example.com/clip.mp4"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageVideo, msg.Type)
	assert.Empty(t, msg.Text)

	var stored models.Message
	require.NoError(t, f.db.First(&stored, msg.ID).Error)
	assert.Equal(t, models.MessageVideo, stored.Type)
	assert.Equal(t, models.DirectionOutbound, stored.Direction)
	assert.Equal(t, "https://cdn.example.com/clip.mp4", stored.MediaURL)

	inferred, err := f.svc.SendMessage(f.ctx, owner, SendInput{ContactID: c.ID, MediaURL: "https://cdn.example.com/a.PNG?x=1"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageImage, inferred.Type)
}

func TestSendMessage_Validation(t *testing.T) {
	f := setup(t)
	c := testutil.CreateContact(t, f.db, f.client, "+94771")
	owner := auth.NewSession(f.client, "")

	cases := []SendInput{
		{ContactID: c.ID, Type: "text"},
		{ContactID: c.ID, Type: "image"},
		{ContactID: c.ID, Type: "sticker", MediaURL: "x"},
		{Text: "no target"},
	}
	for _, in := range cases {
		_, err := f.svc.SendMessage(f.ctx, owner, in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "%+v", in)
	}
	assert.Empty(t, f.sender.sent)
}

func TestSendMessage_DeliveryFailureStillReturnsMessage(t *testing.T) {
	f := setup(t)
	f.sender.err = errors.New("graph api down")
	c := testutil.CreateContact(t, f.db, f.client, "+94771")

	msg, err := f.svc.SendMessage(f.ctx, auth.NewSession(f.client, ""), SendInput{ContactID: c.ID, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, msg.Status)
	assert.Equal(t, "graph api down", msg.Error)

	var stored models.Message
	require.NoError(t, f.db.First(&stored, msg.ID).Error)
	assert.Equal(t, models.DeliveryFailed, stored.Status)
	assert.Equal(t, []string{"inbox: Message delivery failed"}, f.events.messages)
}

func TestSendMessage_ByPhoneCreatesContactForOwner(t *testing.T) {
	f := setup(t)
	msg, err := f.svc.SendMessage(f.ctx, auth.NewSession(f.client, ""), SendInput{To: "+94779", Text: "welcome"})
	require.NoError(t, err)

	var c models.Contact
	require.NoError(t, f.db.First(&c, "id = ?", msg.ContactID).Error)
	assert.Equal(t, "+94779", c.Phone)
	assert.Equal(t, f.client.ID, c.TenantID)

	_, err = f.svc.SendMessage(f.ctx, auth.NewSession(f.agent, ""), SendInput{To: "+94778", Text: "hi"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestAgentCannotOpenUnassignedConversation(t *testing.T) {
	f := setup(t)
	c := testutil.CreateContact(t, f.db, f.client, "+94771")
	agent := auth.NewSession(f.agent, "")

	_, err := f.svc.ListMessages(f.ctx, agent, c.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.svc.SendMessage(f.ctx, agent, SendInput{ContactID: c.ID, Text: "hi"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, f.db.Model(c).Update("assigned_to", f.agent.ID).Error)
	_, err = f.svc.ListMessages(f.ctx, agent, c.ID)
	assert.NoError(t, err)
}

func TestUpdateDeliveryStatus_MovesForwardOnly(t *testing.T) {
	f := setup(t)
	c := testutil.CreateContact(t, f.db, f.client, "+94771")
	msg, err := f.svc.SendMessage(f.ctx, auth.NewSession(f.client, ""), SendInput{ContactID: c.ID, Text: "hello"})
	require.NoError(t, err)

	status := func() string {
		var m models.Message
		require.NoError(t, f.db.First(&m, msg.ID).Error)
		return m.Status
	}

	require.NoError(t, f.svc.UpdateDeliveryStatus(f.ctx, f.client.ID, msg.WAMessageID, models.DeliveryRead, ""))
	assert.Equal(t, models.DeliveryRead, status())

	require.NoError(t, f.svc.UpdateDeliveryStatus(f.ctx, f.client.ID, msg.WAMessageID, models.DeliveryDelivered, ""))
	assert.Equal(t, models.DeliveryRead, status())

	require.NoError(t, f.svc.UpdateDeliveryStatus(f.ctx, f.client.ID, msg.WAMessageID, models.DeliveryFailed, "expired"))
	assert.Equal(t, models.DeliveryRead, status())

	err = f.svc.UpdateDeliveryStatus(f.ctx, f.client.ID, "unknown", models.DeliveryRead, "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	err = f.svc.UpdateDeliveryStatus(f.ctx, f.client.ID, msg.WAMessageID, "bounced", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAdminInbox(t *testing.T) {
	f := setup(t)
	admin := auth.NewSession(testutil.CreateAdmin(t, f.db, "root"), "")
	_, _, _, err := f.svc.ReceiveInbound(f.ctx, f.client.ID, InboundMessage{From: "+94771", Type: "text", Text: "hi"})
	require.NoError(t, err)

	_, _, _, err = f.svc.ReceiveInbound(f.ctx, f.client.ID, InboundMessage{From: "+94771", Type: "image", MediaID: "media-1", Caption: "menu"})
	require.NoError(t, err)

	convs, err := f.svc.Conversations(f.ctx, admin, f.client.ID)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "+94771", convs[0].Phone)
	assert.Equal(t, models.MessageImage, convs[0].Type)
	assert.Equal(t, 2, convs[0].UnreadCount)
	assert.NotNil(t, convs[0].LastActive)

	messages, err := f.svc.MessagesByPhone(f.ctx, admin, f.client.ID, convs[0].Phone)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	_, err = f.svc.MessagesByPhone(f.ctx, admin, f.client.ID, "+94000")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSendBotReply(t *testing.T) {
	f := setup(t)
	c := testutil.CreateContact(t, f.db, f.client, "+94771")

	msg, err := f.svc.SendBotReply(f.ctx, f.client.ID, c, "", "https://cdn.example.com/menu.pdf", "document")
	require.NoError(t, err)
	assert.True(t, msg.IsBotReply)
	assert.Equal(t, models.MessageDocument, msg.Type)
	assert.Nil(t, msg.SenderID)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "hi", Preview("text", "hi", ""))
	assert.Equal(t, "[audio]", Preview("audio", "", ""))
	assert.Equal(t, "[document] menu", Preview("document", "", "menu"))
}

func TestMediaTypeFromURL(t *testing.T) {
	assert.Equal(t, models.MessageImage, MediaTypeFromURL("https://x/a.JPG"))
	assert.Equal(t, models.MessageVideo, MediaTypeFromURL("https://x/a.mp4#t=1"))
	assert.Equal(t, models.MessageAudio, MediaTypeFromURL("https://x/voice.ogg"))
	assert.Equal(t, models.MessageDocument, MediaTypeFromURL("https://x/file"))
}
