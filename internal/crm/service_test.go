package crm

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/models"
	"smartreply-crm/internal/testutil"
	"smartreply-crm/internal/ws"
)

type event struct {
	tenantID, assignedTo, eventType string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []event
}

func (f *fakePublisher) Publish(tenantID, assignedTo, eventType string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{tenantID, assignedTo, eventType})
}

type fixture struct {
	db     *gorm.DB
	svc    *Service
	pub    *fakePublisher
	client *models.User
	agent  *models.User
	ctx    context.Context
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	pub := &fakePublisher{}
	client := testutil.CreateClient(t, db, "acme")
	return &fixture{
		db:     db,
		svc:    NewService(db, pub),
		pub:    pub,
		client: client,
		agent:  testutil.CreateAgentWithID(t, db, client, "A1", "Agent One"),
		ctx:    context.Background(),
	}
}

func ids(contacts ...*models.Contact) []string {
	out := make([]string, len(contacts))
	for i, c := range contacts {
		out[i] = c.ID
	}
	return out
}

func TestAssignChats_ThreeUnassignedContacts(t *testing.T) {
	f := setup(t)
	c1 := testutil.CreateContact(t, f.db, f.client, "+94771")
	c2 := testutil.CreateContact(t, f.db, f.client, "+94772")
	c3 := testutil.CreateContact(t, f.db, f.client, "+94773")
	owner := auth.NewSession(f.client, "")

	n, err := f.svc.AssignChats(f.ctx, owner, ids(c1, c2, c3), "A1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	contacts, total, err := f.svc.ListContacts(f.ctx, owner, ListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, contacts, 3)
	for _, c := range contacts {
		require.NotNil(t, c.AssignedTo, c.Phone)
		assert.Equal(t, "A1", c.AssignedTo.ID)
		assert.Equal(t, "Agent One", c.AssignedTo.Name)
		assert.Equal(t, models.StatusNew, c.Status, "assignment must not change status")
	}

	require.NotEmpty(t, f.pub.events)
	assert.Equal(t, event{f.client.ID, "A1", ws.EventContactUpdate}, f.pub.events[len(f.pub.events)-1])
}

func TestAssignChats_OverwritesPreviousAgent(t *testing.T) {
	f := setup(t)
	other := testutil.CreateAgent(t, f.db, f.client, "Agent Two")
	c := testutil.CreateContact(t, f.db, f.client, "+94771")
	owner := auth.NewSession(f.client, "")

	_, err := f.svc.AssignChats(f.ctx, owner, []string{c.ID}, "A1")
	require.NoError(t, err)
	_, err = f.svc.AssignChats(f.ctx, owner, []string{c.ID, c.ID}, other.ID)
	require.NoError(t, err)

	var got models.Contact
	require.NoError(t, f.db.First(&got, "id = ?", c.ID).Error)
	require.NotNil(t, got.AssignedToID)
	assert.Equal(t, other.ID, *got.AssignedToID)
}

func TestAssignChats_Failures(t *testing.T) {
	f := setup(t)
	c := testutil.CreateContact(t, f.db, f.client, "+94771")
	owner := auth.NewSession(f.client, "")

	rival := testutil.CreateClient(t, f.db, "rival")
	rivalAgent := testutil.CreateAgent(t, f.db, rival, "spy")
	rivalContact := testutil.CreateContact(t, f.db, rival, "+94779")

	_, err := f.svc.AssignChats(f.ctx, owner, nil, "A1")
	assert.True(t, apperr.Is(err, apperr.KindValidation), "empty ids")

	_, err = f.svc.AssignChats(f.ctx, owner, []string{c.ID}, rivalAgent.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation), "foreign agent")

	_, err = f.svc.AssignChats(f.ctx, owner, []string{c.ID}, "nobody")
	assert.True(t, apperr.Is(err, apperr.KindValidation), "unknown agent")

	_, err = f.svc.AssignChats(f.ctx, owner, []string{c.ID, "missing"}, "A1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "unknown contact")

	_, err = f.svc.AssignChats(f.ctx, owner, []string{c.ID, rivalContact.ID}, "A1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "foreign contact")

	var got models.Contact
	require.NoError(t, f.db.First(&got, "id = ?", c.ID).Error)
	assert.Nil(t, got.AssignedToID, "no partial update")

	_, err = f.svc.AssignChats(f.ctx, auth.NewSession(f.agent, ""), []string{c.ID}, "A1")
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "agents cannot assign")
}

func TestAssignChats_AdminActsOnAgentTenant(t *testing.T) {
	f := setup(t)
	admin := testutil.CreateAdmin(t, f.db, "root")
	c := testutil.CreateContact(t, f.db, f.client, "+94771")

	n, err := f.svc.AssignChats(f.ctx, auth.NewSession(admin, ""), []string{c.ID}, "A1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListContacts_AgentSeesOnlyOwnAssignments(t *testing.T) {
	f := setup(t)
	other := testutil.CreateAgent(t, f.db, f.client, "Agent Two")
	mine := testutil.CreateContact(t, f.db, f.client, "+94771")
	theirs := testutil.CreateContact(t, f.db, f.client, "+94772")
	testutil.CreateContact(t, f.db, f.client, "+94773")
	owner := auth.NewSession(f.client, "")

	_, err := f.svc.AssignChats(f.ctx, owner, []string{mine.ID}, "A1")
	require.NoError(t, err)
	_, err = f.svc.AssignChats(f.ctx, owner, []string{theirs.ID}, other.ID)
	require.NoError(t, err)

	agentSess := auth.NewSession(f.agent, "")
	contacts, total, err := f.svc.ListContacts(f.ctx, agentSess, ListFilter{AgentID: other.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, contacts, 1)
	assert.Equal(t, mine.ID, contacts[0].ID)

	_, err = f.svc.Visible(f.ctx, agentSess, theirs.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	contacts, _, err = f.svc.ListContacts(f.ctx, owner, ListFilter{AgentID: other.ID})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, theirs.ID, contacts[0].ID)
}

func TestListContacts_OrderingAndPaging(t *testing.T) {
	f := setup(t)
	owner := auth.NewSession(f.client, "")
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	idle := testutil.CreateContact(t, f.db, f.client, "+94770")
	_, _, err := f.svc.RecordInbound(f.ctx, f.client.ID, "+94771", "", "old", base)
	require.NoError(t, err)
	_, _, err = f.svc.RecordInbound(f.ctx, f.client.ID, "+94772", "", "new", base.Add(time.Hour))
	require.NoError(t, err)

	contacts, total, err := f.svc.ListContacts(f.ctx, owner, ListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, contacts, 3)
	assert.Equal(t, "+94772", contacts[0].Phone)
	assert.Equal(t, "+94771", contacts[1].Phone)
	assert.Equal(t, idle.ID, contacts[2].ID)

	page, total, err := f.svc.ListContacts(f.ctx, owner, ListFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, idle.ID, page[0].ID)
}

func TestUpdateContact(t *testing.T) {
	f := setup(t)
	c := testutil.CreateContact(t, f.db, f.client, "+94771")
	owner := auth.NewSession(f.client, "")

	status, priority, remark, attempts := "answered", "Mid", "called back", 2
	got, err := f.svc.UpdateContact(f.ctx, owner, c.ID, ContactPatch{
		Status:       &status,
		Priority:     &priority,
		Remark:       &remark,
		CallAttempts: &attempts,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnswered, got.Status)
	assert.Equal(t, models.PriorityMedium, got.Priority)
	assert.Equal(t, "called back", got.Remark)
	assert.Equal(t, 2, got.CallAttempts)

	bad := "Closed"
	_, err = f.svc.UpdateContact(f.ctx, owner, c.ID, ContactPatch{Status: &bad})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.UpdateContact(f.ctx, owner, c.ID, ContactPatch{Priority: &bad})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdateContact_SingleAssignAndUnassign(t *testing.T) {
	f := setup(t)
	c := testutil.CreateContact(t, f.db, f.client, "+94771")
	owner := auth.NewSession(f.client, "")

	agentID := "A1"
	got, err := f.svc.UpdateContact(f.ctx, owner, c.ID, ContactPatch{AssignedTo: &agentID})
	require.NoError(t, err)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, "A1", got.AssignedTo.ID)

	none := ""
	got, err = f.svc.UpdateContact(f.ctx, owner, c.ID, ContactPatch{AssignedTo: &none})
	require.NoError(t, err)
	assert.Nil(t, got.AssignedTo)
	assert.Nil(t, got.AssignedToID)
}

func TestUpdateContact_CrossTenantIsNotFound(t *testing.T) {
	f := setup(t)
	rival := testutil.CreateClient(t, f.db, "rival")
	c := testutil.CreateContact(t, f.db, rival, "+94771")

	remark := "mine now"
	_, err := f.svc.UpdateContact(f.ctx, auth.NewSession(f.client, ""), c.ID, ContactPatch{Remark: &remark})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.UpdateContact(f.ctx, auth.NewSession(f.agent, ""), c.ID, ContactPatch{Remark: &remark})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestImportContact(t *testing.T) {
	f := setup(t)
	owner := auth.NewSession(f.client, "")

	c, created, err := f.svc.ImportContact(f.ctx, owner, "", "+94771", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.StatusNew, c.Status)
	assert.Equal(t, models.PriorityLow, c.Priority)

	again, created, err := f.svc.ImportContact(f.ctx, owner, "", "+94771", "Nimal")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c.ID, again.ID)

	var got models.Contact
	require.NoError(t, f.db.First(&got, "id = ?", c.ID).Error)
	assert.Equal(t, "Nimal", got.Name)

	_, _, err = f.svc.ImportContact(f.ctx, owner, "", "not a phone", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRecordInbound(t *testing.T) {
	f := setup(t)
	at := time.Now()

	c, created, err := f.svc.RecordInbound(f.ctx, f.client.ID, "+94771", "Kamal", "hi", at)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "Kamal", c.Name)

	c, created, err = f.svc.RecordInbound(f.ctx, f.client.ID, "+94771", "Other", "again", at.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, c.UnreadCount)
	assert.Equal(t, "again", c.LastMessage)
	assert.Equal(t, "Kamal", c.Name)

	require.NoError(t, f.svc.MarkRead(f.ctx, c))
	var got models.Contact
	require.NoError(t, f.db.First(&got, "id = ?", c.ID).Error)
	assert.Equal(t, 0, got.UnreadCount)
}

func TestExportCSV(t *testing.T) {
	f := setup(t)
	owner := auth.NewSession(f.client, "")
	testutil.CreateContact(t, f.db, f.client, "+94771")
	testutil.CreateContact(t, f.db, f.client, "+94772")
	_, _, err := f.svc.ImportContact(f.ctx, owner, "", "+94773", "Perera, Sunil")
	require.NoError(t, err)
	multiline := testutil.CreateContact(t, f.db, f.client, "+94774")
	require.NoError(t, f.db.Model(multiline).Update("name", "Nimal\r\nSilva").Error)

	out, err := f.svc.ExportCSV(f.ctx, owner, "")
	require.NoError(t, err)

	rows := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
	require.Len(t, rows, 5)
	assert.Equal(t, strings.TrimSuffix(csvHeader, "\n"), rows[0])

	body := string(out)
	assert.Contains(t, body, ",+94771,")
	assert.Contains(t, body, ",+94772,")
	assert.Contains(t, body, "Perera, Sunil,+94773,")
	assert.Contains(t, body, "Nimal Silva,+94774,")

	_, err = f.svc.ExportCSV(f.ctx, auth.NewSession(f.agent, ""), "")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestNormalizePriority(t *testing.T) {
	for in, want := range map[string]string{"Mid": "Medium", "mid": "Medium", "HIGH": "High", "Low": "Low"} {
		got, ok := NormalizePriority(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := NormalizePriority("Urgent")
	assert.False(t, ok)
}
