package models

// ImportContactRequest adds a single lead by phone number.
type ImportContactRequest struct {
	Phone    string `json:"phone" binding:"required,phone"`
	Name     string `json:"name" binding:"max=255"`
	ClientID string `json:"clientId"`
}

// UpdateContactRequest is a partial update: the dashboard sends one field at a time.
type UpdateContactRequest struct {
	Name         *string `json:"name" binding:"omitempty,max=255"`
	Status       *string `json:"status"`
	Priority     *string `json:"priority"`
	Remark       *string `json:"remark"`
	CallStatus   *string `json:"callStatus" binding:"omitempty,max=50"`
	CallMethod   *string `json:"callMethod" binding:"omitempty,max=50"`
	CallAttempts *int    `json:"callAttempts" binding:"omitempty,min=0"`
	AssignedTo   *string `json:"assignedTo"`
}

type AssignChatsRequest struct {
	ContactIDs []string `json:"contactIds" binding:"required,min=1,dive,required"`
	AgentID    string   `json:"agentId" binding:"required"`
}

type AssignChatsResponse struct {
	Message  string `json:"message"`
	Assigned int    `json:"assigned"`
}

// SendMessageRequest addresses a contact by id, or by phone within a tenant.
type SendMessageRequest struct {
	ContactID string `json:"contactId"`
	To        string `json:"to"`
	ClientID  string `json:"clientId"`
	Text      string `json:"text"`
	Type      string `json:"type" binding:"omitempty,oneof=text image video audio document"`
	MediaURL  string `json:"mediaUrl" binding:"omitempty,url"`
	Caption   string `json:"caption"`
}
