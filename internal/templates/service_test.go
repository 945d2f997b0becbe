package templates

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
	"smartreply-crm/internal/testutil"
	"smartreply-crm/internal/whatsapp"
)

type fakeProvider struct {
	templates []whatsapp.TemplateInfo
	listErr   error
	created   []whatsapp.CreateTemplateRequest
	createErr error
}

func (f *fakeProvider) GetTemplates(context.Context, models.WhatsAppConfig) ([]whatsapp.TemplateInfo, error) {
	return f.templates, f.listErr
}

func (f *fakeProvider) CreateTemplate(_ context.Context, _ models.WhatsAppConfig, req whatsapp.CreateTemplateRequest) (*whatsapp.CreateTemplateResponse, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &whatsapp.CreateTemplateResponse{ID: "tpl-" + req.Name, Status: "PENDING"}, nil
}

func TestList_RefreshesCacheAndFallsBack(t *testing.T) {
	db := testutil.NewDB(t)
	provider := &fakeProvider{templates: []whatsapp.TemplateInfo{{
		ID: "1", Name: "hello_world", Language: "en_US", Category: "UTILITY", Status: "APPROVED",
		Components: []json.RawMessage{json.RawMessage(`{"type":"BODY","text":"Hello"}`)},
	}}}
	svc := NewService(db, provider, logging.Nop())
	ctx := context.Background()
	sess := auth.NewSession(testutil.CreateClient(t, db, "acme"), "")

	list, err := svc.List(ctx, sess)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "hello_world", list[0].Name)

	provider.listErr = errors.New("graph api unreachable")
	list, err = svc.List(ctx, sess)
	require.NoError(t, err)
	require.Len(t, list, 1, "cached copy is served")
	assert.JSONEq(t, `{"type":"BODY","text":"Hello"}`, string(list[0].Components[0]))

	other := auth.NewSession(testutil.CreateClient(t, db, "rival"), "")
	_, err = svc.List(ctx, other)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.Equal(t, "Error fetching templates. Check WABA ID.", apperr.Message(err))
}

func TestCreate_BuildsComponents(t *testing.T) {
	db := testutil.NewDB(t)
	provider := &fakeProvider{}
	svc := NewService(db, provider, logging.Nop())
	ctx := context.Background()
	sess := auth.NewSession(testutil.CreateClient(t, db, "acme"), "")

	v, err := svc.Create(ctx, sess, CreateInput{
		Name:       "new_year_promo",
		Category:   "marketing",
		HeaderType: "TEXT",
		HeaderText: "Happy new year",
		BodyText:   "20% off today",
		FooterText: "Reply STOP to opt out",
	})
	require.NoError(t, err)
	assert.Equal(t, "tpl-new_year_promo", v.ID)
	assert.Equal(t, "PENDING", v.Status)
	assert.Len(t, v.Components, 3)

	require.Len(t, provider.created, 1)
	req := provider.created[0]
	assert.Equal(t, "MARKETING", req.Category)
	assert.Equal(t, "en_US", req.Language)
	assert.Equal(t, []whatsapp.TemplateComponent{
		{Type: "HEADER", Format: "TEXT", Text: "Happy new year"},
		{Type: "BODY", Text: "20% off today"},
		{Type: "FOOTER", Text: "Reply STOP to opt out"},
	}, req.Components)

	var cached models.Template
	require.NoError(t, db.First(&cached, "id = ?", "tpl-new_year_promo").Error)
	assert.Equal(t, sess.TenantID, cached.TenantID)
}

func TestCreate_Validation(t *testing.T) {
	db := testutil.NewDB(t)
	provider := &fakeProvider{}
	svc := NewService(db, provider, logging.Nop())
	ctx := context.Background()
	sess := auth.NewSession(testutil.CreateClient(t, db, "acme"), "")

	cases := []CreateInput{
		{Name: "New Year", BodyText: "hi"},
		{Name: "promo", BodyText: ""},
		{Name: "promo", BodyText: "hi", Category: "SPAM"},
		{Name: "promo", BodyText: "hi", HeaderType: "TEXT"},
		{Name: "promo", BodyText: "hi", HeaderType: "IMAGE"},
	}
	for _, in := range cases {
		_, err := svc.Create(ctx, sess, in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "%+v", in)
	}
	assert.Empty(t, provider.created)

	provider.createErr = &whatsapp.APIError{Status: 400, Message: "Template name already exists"}
	_, err := svc.Create(ctx, sess, CreateInput{Name: "promo", BodyText: "hi"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "Template name already exists", apperr.Message(err))

	admin := auth.NewSession(testutil.CreateAdmin(t, db, "root"), "")
	_, err = svc.Create(ctx, admin, CreateInput{Name: "promo", BodyText: "hi"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}
