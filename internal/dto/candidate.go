package dto

// SaveCandidateRequest is the payload of POST and PUT /candidates.
type SaveCandidateRequest struct {
	ID          string            `json:"id" validate:"omitempty,max=128"`
	NationalID  string            `json:"nationalId" validate:"max=64"`
	Name        string            `json:"name" validate:"required,max=200"`
	Age         string            `json:"age" validate:"max=16"`
	Interviewer string            `json:"interviewer" validate:"max=200"`
	Status      string            `json:"status" validate:"max=32"`
	Answers     map[string]string `json:"answers" validate:"omitempty,dive,max=4000"`
	Scores      []int             `json:"scores" validate:"max=8"`
}

// ListCandidatesQuery carries the list filters of GET /candidates.
type ListCandidatesQuery struct {
	Search   string `form:"search"`
	Sort     string `form:"sort" validate:"omitempty,oneof=newest oldest name"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"pageSize" validate:"omitempty,min=1,max=500"`
}

// CandidateView is a reconciled candidate as shown to a role.
type CandidateView struct {
	ID          string            `json:"id"`
	NationalID  string            `json:"nationalId"`
	Name        string            `json:"name"`
	Age         string            `json:"age"`
	Interviewer string            `json:"interviewer"`
	Status      string            `json:"status"`
	Answers     map[string]string `json:"answers"`
	Scores      []int             `json:"scores"`
	TotalScore  int               `json:"totalScore"`
	CreatedAtMs int64             `json:"createdAtMs"`
	UpdatedAtMs int64             `json:"updatedAtMs"`
}

// CandidatePage is one page of GET /candidates.
type CandidatePage struct {
	Items      []CandidateView `json:"items"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalCount int             `json:"totalCount"`
	TotalPages int             `json:"totalPages"`
	Sort       string          `json:"sort"`
}

// CandidateSummary is the resolved summary of one candidate.
type CandidateSummary struct {
	ID    string   `json:"id"`
	Lines []string `json:"lines"`
	Text  string   `json:"text"`
}
