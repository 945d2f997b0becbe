// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"smartreply-crm/internal/database"
	"smartreply-crm/internal/models"
)

// Password is the plain password of every fixture account.
const Password = "secret123"

var (
	hashOnce sync.Once
	hash     string
)

// passwordHash uses the minimum bcrypt cost so fixtures stay fast.
func passwordHash() string {
	hashOnce.Do(func() {
		b, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		hash = string(b)
	})
	return hash
}

// NewDB returns a migrated in-memory sqlite database private to the test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func CreateAdmin(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	return create(t, db, &models.User{Name: name, Role: models.RoleAdmin})
}

// CreateClient creates a business account with Cloud API credentials.
func CreateClient(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	return create(t, db, &models.User{
		Name:         name,
		Role:         models.RoleUser,
		BusinessName: name + " Ltd",
		WhatsAppConfig: models.WhatsAppConfig{
			PhoneNumberID:     "pn-" + uuid.NewString()[:8],
			AccessToken:       "token-" + name,
			BusinessAccountID: "waba-" + name,
		},
	})
}

func CreateAgent(t *testing.T, db *gorm.DB, owner *models.User, name string) *models.User {
	t.Helper()
	return create(t, db, &models.User{Name: name, Role: models.RoleAgent, OwnerID: &owner.ID})
}

// CreateAgentWithID creates an agent with a fixed id.
func CreateAgentWithID(t *testing.T, db *gorm.DB, owner *models.User, id, name string) *models.User {
	t.Helper()
	return create(t, db, &models.User{ID: id, Name: name, Role: models.RoleAgent, OwnerID: &owner.ID})
}

func CreateContact(t *testing.T, db *gorm.DB, tenant *models.User, phone string) *models.Contact {
	t.Helper()
	c := &models.Contact{TenantID: tenant.ID, Phone: phone}
	require.NoError(t, db.Create(c).Error)
	return c
}

func create(t *testing.T, db *gorm.DB, u *models.User) *models.User {
	t.Helper()
	if u.Email == "" {
		u.Email = uuid.NewString()[:8] + "@example.com"
	}
	u.PasswordHash = passwordHash()
	require.NoError(t, db.Create(u).Error)
	return u
}
