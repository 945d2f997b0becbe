package models

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the token under both names the dashboard reads.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	Token        string `json:"token"`
	Role         string `json:"role"`
	ID           string `json:"_id"`
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	BusinessName string `json:"businessName,omitempty"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// RegisterRequest creates an admin. Older forms send the name as username.
type RegisterRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"omitempty,eq=admin"`
}

func (r RegisterRequest) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Username
}

type GhostLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

type WhatsAppConfigRequest struct {
	PhoneNumberID     *string `json:"phoneNumberId"`
	AccessToken       *string `json:"accessToken"`
	BusinessAccountID *string `json:"businessAccountId"`
}

// ClientRequest serves create and update; a status toggle sends only status.
type ClientRequest struct {
	Name           *string                `json:"name" binding:"omitempty,max=255"`
	Email          *string                `json:"email" binding:"omitempty,email"`
	Password       string                 `json:"password"`
	BusinessName   *string                `json:"businessName" binding:"omitempty,max=255"`
	Phone          *string                `json:"phone"`
	Status         *string                `json:"status" binding:"omitempty,oneof=active inactive"`
	WhatsAppConfig *WhatsAppConfigRequest `json:"whatsappConfig"`
}

type AgentRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=255"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Password string  `json:"password"`
	Phone    *string `json:"phone"`
}
