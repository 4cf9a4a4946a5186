package models

import "encoding/json"

// AppConfigDocument is the raw stored shape of config/app. Questions and template are
// kept raw so legacy shapes can be normalized on read.
type AppConfigDocument struct {
	Questions               []map[string]interface{} `json:"questions"`
	SummaryTemplate         json.RawMessage          `json:"summaryTemplate"`
	SummaryLinks            json.RawMessage          `json:"summaryLinks"`
	HealthSupervisorMention *string                  `json:"healthSupervisorMention"`
	UpdatedAt               FlexInt                  `json:"updatedAt"`
	UpdatedBy               *Actor                   `json:"updatedBy"`
}

// AppConfig is a normalized, immutable configuration snapshot.
type AppConfig struct {
	Questions       []QuestionSpec
	SummaryTemplate []SummaryTemplateItem
	Mention         string
	Configured      bool
	UpdatedAtMs     int64
	UpdatedBy       *Actor
}

// QuestionByID returns the question with id, if present.
func (c *AppConfig) QuestionByID(id string) (QuestionSpec, bool) {
	if c == nil {
		return QuestionSpec{}, false
	}
	for _, q := range c.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return QuestionSpec{}, false
}
