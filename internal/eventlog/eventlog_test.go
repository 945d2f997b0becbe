package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
	"smartreply-crm/internal/testutil"
)

func TestRecordAndLatest(t *testing.T) {
	db := testutil.NewDB(t)
	client := testutil.CreateClient(t, db, "acme")
	r := NewRecorder(db, logging.Nop())
	ctx := context.Background()

	r.Info(ctx, "broadcast", "campaign finished", "", nil)
	r.Error(ctx, "inbox", "delivery failed", client.ID, map[string]any{"to": "+94771"})

	logs, err := r.Latest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, models.LogError, logs[0].Type)
	assert.Equal(t, "inbox", logs[0].Source)
	require.NotNil(t, logs[0].Client)
	assert.Equal(t, "acme", logs[0].Client.Name)
	assert.Equal(t, "acme Ltd", logs[0].Client.BusinessName)
	assert.Equal(t, "+94771", logs[0].MetaData["to"])

	assert.Equal(t, models.LogInfo, logs[1].Type)
	assert.Nil(t, logs[1].Client)
}

func TestLatest_DefaultLimit(t *testing.T) {
	db := testutil.NewDB(t)
	r := NewRecorder(db, logging.Nop())
	ctx := context.Background()
	for i := 0; i < 55; i++ {
		r.Warn(ctx, "webhook", "unknown phone number id", "", nil)
	}

	logs, err := r.Latest(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 50)
}
