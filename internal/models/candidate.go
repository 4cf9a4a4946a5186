package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// CandidateStatus is the review outcome of a candidate.
type CandidateStatus string

const (
	StatusUnderReview CandidateStatus = "under-review"
	StatusAccepted    CandidateStatus = "accepted"
	StatusRejected    CandidateStatus = "rejected"
)

// ScoreSlots is the number of positional scores carried by a candidate.
const ScoreSlots = 8

// DefaultScoreMaxima caps each score position.
var DefaultScoreMaxima = []int{2, 1, 1, 1, 1, 1, 2, 1}

// CandidateRecord is one interview candidate document.
type CandidateRecord struct {
	ID          string            `json:"id"`
	NationalID  string            `json:"nationalId"`
	Name        string            `json:"name"`
	Age         string            `json:"age"`
	Interviewer string            `json:"interviewer"`
	Status      CandidateStatus   `json:"status"`
	Answers     map[string]string `json:"answers"`
	Scores      []int             `json:"scores"`
	TotalScore  int               `json:"totalScore"`
	CreatedAtMs int64             `json:"createdAtMs"`
	UpdatedAtMs int64             `json:"updatedAtMs"`
}

// Clone returns a deep copy so snapshots can be handed out safely.
func (c CandidateRecord) Clone() CandidateRecord {
	out := c
	if c.Answers != nil {
		out.Answers = make(map[string]string, len(c.Answers))
		for k, v := range c.Answers {
			out.Answers[k] = v
		}
	}
	if c.Scores != nil {
		out.Scores = append([]int(nil), c.Scores...)
	}
	return out
}

// CandidateDocument is the tolerant wire shape of a stored candidate: legacy writers
// stored numbers where strings are expected and the other way round.
type CandidateDocument struct {
	NationalID  FlexString            `json:"nationalId"`
	Name        FlexString            `json:"name"`
	Age         FlexString            `json:"age"`
	Interviewer FlexString            `json:"interviewer"`
	Status      FlexString            `json:"status"`
	Answers     map[string]FlexString `json:"answers"`
	Scores      []FlexInt             `json:"scores"`
	TotalScore  FlexInt               `json:"totalScore"`
	CreatedAtMs FlexInt               `json:"createdAtMs"`
	UpdatedAtMs FlexInt               `json:"updatedAtMs"`
}

// FlexString decodes a JSON string, number or boolean into its textual form; null
// becomes "".
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		*f = ""
		return nil
	}
	*f = FlexString(strings.TrimSpace(string(data)))
	return nil
}

// FlexInt decodes numbers and numeric strings; anything else becomes 0.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		*f = 0
		return nil
	}
	*f = FlexInt(int64(n))
	return nil
}
