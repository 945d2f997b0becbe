package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartreply-crm/internal/models"
)

var creds = models.WhatsAppConfig{
	PhoneNumberID:     "pn-1",
	AccessToken:       "tok-1",
	BusinessAccountID: "waba-1",
}

type captured struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newServer(t *testing.T, status int, reply string, got *captured) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", time.Second)
}

func TestSendText(t *testing.T) {
	var got captured
	c := newServer(t, http.StatusOK, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.1"}]}`, &got)

	id, err := c.SendText(context.Background(), creds, "+94771", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", id)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/pn-1/messages", got.path)
	assert.Equal(t, "Bearer tok-1", got.auth)
	assert.Equal(t, "whatsapp", got.body["messaging_product"])
	assert.Equal(t, "text", got.body["type"])
	assert.Equal(t, map[string]any{"body": "hello"}, got.body["text"])
}

func TestSend_MediaUsesTextAsCaption(t *testing.T) {
	var got captured
	c := newServer(t, http.StatusOK, `{"messages":[{"id":"wamid.2"}]}`, &got)

	_, err := c.Send(context.Background(), creds, "+94771", models.MessageImage, "look", "https://cdn.example.com/a.png", "")
	require.NoError(t, err)

	assert.Equal(t, "image", got.body["type"])
	image, ok := got.body["image"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/a.png", image["link"])
	assert.Equal(t, "look", image["caption"])
}

func TestSendMedia_AudioHasNoCaption(t *testing.T) {
	var got captured
	c := newServer(t, http.StatusOK, `{"messages":[{"id":"wamid.3"}]}`, &got)

	_, err := c.SendMedia(context.Background(), creds, "+94771", models.MessageAudio, "https://cdn.example.com/a.ogg", "ignored")
	require.NoError(t, err)
	audio := got.body["audio"].(map[string]any)
	assert.NotContains(t, audio, "caption")

	_, err = c.SendMedia(context.Background(), creds, "+94771", "sticker", "x", "")
	assert.Error(t, err)
}

func TestSend_APIError(t *testing.T) {
	var got captured
	c := newServer(t, http.StatusBadRequest, `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`, &got)

	_, err := c.SendText(context.Background(), creds, "+94771", "hello")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, 100, apiErr.Code)
	assert.Equal(t, "Invalid parameter", apiErr.Message)
}

func TestSend_NotConfigured(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", time.Second)
	_, err := c.SendText(context.Background(), models.WhatsAppConfig{}, "+94771", "hello")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = c.GetTemplates(context.Background(), models.WhatsAppConfig{AccessToken: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGetTemplates(t *testing.T) {
	var got captured
	c := newServer(t, http.StatusOK, `{"data":[{"id":"t1","name":"welcome","language":"en_US","category":"MARKETING","status":"APPROVED","components":[{"type":"BODY","text":"Hi"}]}]}`, &got)

	templates, err := c.GetTemplates(context.Background(), creds)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "welcome", templates[0].Name)
	assert.Equal(t, "APPROVED", templates[0].Status)
	assert.Len(t, templates[0].Components, 1)
	assert.Equal(t, "/waba-1/message_templates", got.path)
}

func TestCreateTemplate(t *testing.T) {
	var got captured
	c := newServer(t, http.StatusOK, `{"id":"t9","status":"PENDING","category":"UTILITY"}`, &got)

	res, err := c.CreateTemplate(context.Background(), creds, CreateTemplateRequest{
		Name:     "order_update",
		Category: "UTILITY",
		Language: "en_US",
		Components: []TemplateComponent{
			{Type: "BODY", Text: "Your order shipped"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "t9", res.ID)
	assert.Equal(t, "PENDING", res.Status)
	assert.Equal(t, "order_update", got.body["name"])
}
