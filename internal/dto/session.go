package dto

import "github.com/noah-isme/candidate-sync/internal/models"

// SessionResponse describes the engine session of the caller.
type SessionResponse struct {
	UID        string            `json:"uid"`
	Email      string            `json:"email"`
	Username   string            `json:"username"`
	Role       models.Role       `json:"role"`
	SortOrder  string            `json:"sortOrder"`
	Quota      models.QuotaState `json:"quota"`
	Topics     []string          `json:"topics"`
	FeedErrors map[string]string `json:"feedErrors,omitempty"`
}

// QuotaResponse is the quota state plus the rendered lock countdown.
type QuotaResponse struct {
	models.QuotaState
	Countdown string `json:"countdown,omitempty"`
}

// AuditQuery filters GET /audit.
type AuditQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=2000"`
}
