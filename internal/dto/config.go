package dto

import "github.com/noah-isme/candidate-sync/internal/models"

// QuestionInput is one question of a config patch.
type QuestionInput struct {
	ID         string   `json:"id" validate:"required,max=64"`
	Label      string   `json:"label" validate:"required,max=200"`
	Type       string   `json:"type" validate:"required"`
	Options    []string `json:"options" validate:"omitempty,dive,required"`
	Visibility string   `json:"visibility"`
}

// TemplateItemInput is one summary template item of a config patch.
type TemplateItemInput struct {
	ID         string `json:"id" validate:"max=64"`
	Kind       string `json:"kind" validate:"required,oneof=question-reference computed fixed"`
	Enabled    *bool  `json:"enabled"`
	Visibility string `json:"visibility"`
	Label      string `json:"label" validate:"max=200"`
	QuestionID string `json:"questionId"`
	Computed   string `json:"computed"`
	Text       string `json:"text" validate:"max=2000"`
}

// ConfigPatchRequest is the payload of PATCH /config. Absent sections stay unchanged.
type ConfigPatchRequest struct {
	Questions               []QuestionInput     `json:"questions" validate:"omitempty,dive"`
	SummaryTemplate         []TemplateItemInput `json:"summaryTemplate" validate:"omitempty,dive"`
	HealthSupervisorMention *string             `json:"healthSupervisorMention" validate:"omitempty,max=200"`
}

// ConfigView is the normalized configuration returned by GET /config.
type ConfigView struct {
	Questions               []models.QuestionSpec         `json:"questions"`
	SummaryTemplate         []models.TemplateItemDocument `json:"summaryTemplate"`
	HealthSupervisorMention string                        `json:"healthSupervisorMention"`
	UpdatedAtMs             int64                         `json:"updatedAtMs"`
	UpdatedBy               *models.Actor                 `json:"updatedBy,omitempty"`
}
