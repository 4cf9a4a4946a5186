package models

// QuestionType controls how an answer is captured.
type QuestionType string

const (
	QuestionText         QuestionType = "text"
	QuestionTextarea     QuestionType = "textarea"
	QuestionSingleSelect QuestionType = "single-select"
)

// Visibility gates questions and summary items by role.
type Visibility string

const (
	VisibilityAll              Visibility = "all"
	VisibilityAdminsOnly       Visibility = "admins-only"
	VisibilityTrainersAndAbove Visibility = "trainers-and-above"
)

// Allows reports whether role may see an element with visibility v.
func (v Visibility) Allows(role Role) bool {
	switch v {
	case VisibilityAdminsOnly:
		return role.AtLeast(RoleAdmin)
	case VisibilityTrainersAndAbove:
		return role.AtLeast(RoleTrainer)
	default:
		return true
	}
}

// QuestionSpec describes one configurable interview question.
type QuestionSpec struct {
	ID         string       `json:"id"`
	Label      string       `json:"label"`
	Type       QuestionType `json:"type"`
	Options    []string     `json:"options,omitempty"`
	Visibility Visibility   `json:"visibility"`
}

// ComputedKey names a value derived from a candidate record.
type ComputedKey string

const (
	ComputedTotalScore ComputedKey = "total-score"
	ComputedCreatedAt  ComputedKey = "created-at"
	ComputedUpdatedAt  ComputedKey = "updated-at"
)

// TemplateItemKind discriminates summary template items.
type TemplateItemKind string

const (
	KindQuestionReference TemplateItemKind = "question-reference"
	KindComputed          TemplateItemKind = "computed"
	KindFixed             TemplateItemKind = "fixed"
)

// ItemCommon holds the fields shared by every summary template item.
type ItemCommon struct {
	ID         string
	Enabled    bool
	Visibility Visibility
}

// SummaryTemplateItem is one line producer of a summary template. The concrete types
// are QuestionRefItem, ComputedItem and FixedItem; the set is closed.
type SummaryTemplateItem interface {
	Common() ItemCommon
	Kind() TemplateItemKind
	summaryTemplateItem()
}

// QuestionRefItem renders the answer of a question.
type QuestionRefItem struct {
	ItemCommon
	Label      string
	QuestionID string
}

// ComputedItem renders a value derived from the candidate.
type ComputedItem struct {
	ItemCommon
	Label string
	Key   ComputedKey
}

// FixedItem renders literal text.
type FixedItem struct {
	ItemCommon
	Label string
	Text  string
}

func (i QuestionRefItem) Common() ItemCommon { return i.ItemCommon }
func (i ComputedItem) Common() ItemCommon    { return i.ItemCommon }
func (i FixedItem) Common() ItemCommon       { return i.ItemCommon }

func (QuestionRefItem) Kind() TemplateItemKind { return KindQuestionReference }
func (ComputedItem) Kind() TemplateItemKind    { return KindComputed }
func (FixedItem) Kind() TemplateItemKind       { return KindFixed }

func (QuestionRefItem) summaryTemplateItem() {}
func (ComputedItem) summaryTemplateItem()    {}
func (FixedItem) summaryTemplateItem()       {}

// TemplateItemDocument is the stored shape of a summary template item.
type TemplateItemDocument struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Enabled    bool   `json:"enabled"`
	Visibility string `json:"visibility"`
	Label      string `json:"label,omitempty"`
	QuestionID string `json:"questionId,omitempty"`
	Computed   string `json:"computed,omitempty"`
	Text       string `json:"text,omitempty"`
}

// DocumentOf converts an item into its stored shape.
func DocumentOf(item SummaryTemplateItem) TemplateItemDocument {
	common := item.Common()
	doc := TemplateItemDocument{
		ID:         common.ID,
		Kind:       string(item.Kind()),
		Enabled:    common.Enabled,
		Visibility: string(common.Visibility),
	}
	switch it := item.(type) {
	case QuestionRefItem:
		doc.Label = it.Label
		doc.QuestionID = it.QuestionID
	case ComputedItem:
		doc.Label = it.Label
		doc.Computed = string(it.Key)
	case FixedItem:
		doc.Label = it.Label
		doc.Text = it.Text
	}
	return doc
}
