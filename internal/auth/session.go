package auth

import (
	"smartreply-crm/internal/apperr"
	"smartreply-crm/internal/models"
)

type Capability string

const (
	CapRegisterAdmins   Capability = "admins:register"
	CapManageClients    Capability = "clients:manage"
	CapManageUsers      Capability = "users:manage"
	CapImpersonate      Capability = "clients:impersonate"
	CapAnyTenant        Capability = "tenants:any"
	CapPlatformStats    Capability = "analytics:platform"
	CapOwnStats         Capability = "analytics:own"
	CapAgentPerformance Capability = "analytics:agents"
	CapManageTeam       Capability = "team:manage"
	CapViewContacts     Capability = "contacts:view"
	CapEditContacts     Capability = "contacts:edit"
	CapAssignContacts   Capability = "contacts:assign"
	CapImportContacts   Capability = "contacts:import"
	CapExportContacts   Capability = "contacts:export"
	CapSendMessages     Capability = "messages:send"
	CapBroadcast        Capability = "broadcast:manage"
	CapTemplates        Capability = "templates:manage"
	CapOwnBotConfig     Capability = "bot:own"
	CapAnyBotConfig     Capability = "bot:any"
)

// capabilities is resolved once per session; views and handlers never branch on role.
var capabilities = map[models.Role][]Capability{
	models.RoleAdmin: {
		CapRegisterAdmins, CapManageClients, CapManageUsers, CapImpersonate, CapAnyTenant,
		CapPlatformStats, CapViewContacts, CapEditContacts, CapAssignContacts, CapImportContacts,
		CapExportContacts, CapSendMessages, CapBroadcast, CapAnyBotConfig,
	},
	models.RoleUser: {
		CapOwnStats, CapAgentPerformance, CapManageTeam, CapViewContacts, CapEditContacts,
		CapAssignContacts, CapImportContacts, CapExportContacts, CapSendMessages, CapBroadcast,
		CapTemplates, CapOwnBotConfig,
	},
	models.RoleAgent: {
		CapOwnStats, CapViewContacts, CapEditContacts, CapSendMessages,
	},
}

// CapabilitiesFor returns the capability set of a role.
func CapabilitiesFor(role models.Role) map[Capability]bool {
	out := make(map[Capability]bool, len(capabilities[role]))
	for _, c := range capabilities[role] {
		out[c] = true
	}
	return out
}

// Session is the authenticated caller of a single request.
type Session struct {
	UserID         string              `json:"userId"`
	Role           models.Role         `json:"role"`
	TenantID       string              `json:"tenantId,omitempty"`
	Name           string              `json:"name"`
	ImpersonatedBy string              `json:"impersonatedBy,omitempty"`
	Capabilities   map[Capability]bool `json:"capabilities"`
}

// NewSession builds the request session for u.
func NewSession(u *models.User, impersonatedBy string) *Session {
	return &Session{
		UserID:         u.ID,
		Role:           u.Role,
		TenantID:       u.TenantID(),
		Name:           u.Name,
		ImpersonatedBy: impersonatedBy,
		Capabilities:   CapabilitiesFor(u.Role),
	}
}

func (s *Session) Can(c Capability) bool {
	return s != nil && s.Capabilities[c]
}

func (s *Session) Require(c Capability) error {
	if !s.Can(c) {
		return apperr.Forbidden("you are not allowed to do this")
	}
	return nil
}

// IsAgent reports whether the session only sees its own assignments.
func (s *Session) IsAgent() bool {
	return s.Role == models.RoleAgent
}

// Tenant resolves the tenant an operation acts on. Tenant-bound sessions
// always act on their own tenant; a session that may act on any tenant must
// name one.
func (s *Session) Tenant(requested string) (string, error) {
	if s.TenantID != "" {
		if requested != "" && requested != s.TenantID && !s.Can(CapAnyTenant) {
			return "", apperr.NotFound("client not found")
		}
		return s.TenantID, nil
	}
	if !s.Can(CapAnyTenant) {
		return "", apperr.Forbidden("no business is attached to this account")
	}
	if requested == "" {
		return "", apperr.Validation("clientId is required")
	}
	return requested, nil
}
