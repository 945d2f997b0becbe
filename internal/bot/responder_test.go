package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
)

type fakeFlows struct {
	flow *models.BotConfig
	err  error
}

func (f *fakeFlows) ActiveFor(ctx context.Context, tenantID string) (*models.BotConfig, error) {
	return f.flow, f.err
}

type fakeSender struct {
	sent     []string
	failStep int
	errStep  int
}

func (f *fakeSender) SendBotReply(_ context.Context, _ string, _ *models.Contact, text, mediaURL, mediaType string) (*models.Message, error) {
	step := len(f.sent) + 1
	if step == f.errStep {
		return nil, errors.New("database is locked")
	}
	f.sent = append(f.sent, text+"|"+mediaType)
	status := models.DeliverySent
	if step == f.failStep {
		status = models.DeliveryFailed
	}
	return &models.Message{Text: text, Status: status}, nil
}

type fakeEvents struct{ count int }

func (f *fakeEvents) Error(context.Context, string, string, string, map[string]any) { f.count++ }

func flow() *models.BotConfig {
	return &models.BotConfig{IsActive: true, Replies: []models.BotReply{
		{Text: "Welcome", MediaType: "text"},
		{Text: "Menu", MediaURL: "https://cdn.example.com/menu.pdf", MediaType: "document"},
		{Text: "Bye", MediaType: "text"},
	}}
}

func TestHandleInbound_SendsStepsInOrderForNewContacts(t *testing.T) {
	sender := &fakeSender{}
	r := NewResponder(&fakeFlows{flow: flow()}, sender, &fakeEvents{}, logging.Nop())
	c := &models.Contact{Phone: "+94771"}

	n, err := r.HandleInbound(context.Background(), "t1", c, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"Welcome|text", "Menu|document", "Bye|text"}, sender.sent)

	n, err = r.HandleInbound(context.Background(), "t1", c, false)
	require.NoError(t, err)
	assert.Zero(t, n, "known contacts get no flow")
}

func TestHandleInbound_NoActiveFlow(t *testing.T) {
	sender := &fakeSender{}
	r := NewResponder(&fakeFlows{}, sender, &fakeEvents{}, logging.Nop())

	n, err := r.HandleInbound(context.Background(), "t1", &models.Contact{Phone: "+94771"}, true)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sender.sent)
}

func TestHandleInbound_StopsOnFailure(t *testing.T) {
	sender := &fakeSender{failStep: 2}
	r := NewResponder(&fakeFlows{flow: flow()}, sender, &fakeEvents{}, logging.Nop())

	n, err := r.HandleInbound(context.Background(), "t1", &models.Contact{Phone: "+94771"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, sender.sent, 2)

	events := &fakeEvents{}
	sender = &fakeSender{errStep: 1}
	r = NewResponder(&fakeFlows{flow: flow()}, sender, events, logging.Nop())
	_, err = r.HandleInbound(context.Background(), "t1", &models.Contact{Phone: "+94771"}, true)
	assert.Error(t, err)
	assert.Equal(t, 1, events.count)
}
