package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/candidate-sync/internal/models"
)

func visible(id string) models.ItemCommon {
	return models.ItemCommon{ID: id, Enabled: true, Visibility: models.VisibilityAll}
}

func TestResolveSummarySkipsDanglingReferences(t *testing.T) {
	questions := []models.QuestionSpec{
		{ID: "q1", Label: "الاسم", Type: models.QuestionText, Visibility: models.VisibilityAll},
		{ID: "q2", Label: "العمر", Type: models.QuestionText, Visibility: models.VisibilityAll},
	}
	template := []models.SummaryTemplateItem{
		models.QuestionRefItem{ItemCommon: visible("a"), QuestionID: "q1"},
		models.QuestionRefItem{ItemCommon: visible("b"), QuestionID: "removed"},
		models.QuestionRefItem{ItemCommon: visible("c"), Label: "السن", QuestionID: "q2"},
	}

	lines := ResolveSummary(ResolveInput{
		Template:  template,
		Questions: questions,
		Candidate: models.CandidateRecord{Answers: map[string]string{"q1": " سارة ", "q2": "22"}},
		Role:      models.RoleTrainer,
	})

	assert.Equal(t, []string{"الاسم : سارة", "السن : 22"}, lines)
}

func TestResolveSummaryMentionAppearsOnce(t *testing.T) {
	template := []models.SummaryTemplateItem{
		models.FixedItem{ItemCommon: visible("a"), Text: "<@&1>"},
		models.FixedItem{ItemCommon: visible("b"), Text: "<@&1>"},
	}
	lines := ResolveSummary(ResolveInput{Template: template, Role: models.RoleReader, Mention: "<@&1>"})
	assert.Equal(t, []string{"<@&1>"}, lines)

	template = append(template, models.FixedItem{ItemCommon: visible("c"), Label: "ملاحظة", Text: "ok"})
	lines = ResolveSummary(ResolveInput{Template: template, Role: models.RoleReader, Mention: "<@&1>"})
	assert.Equal(t, []string{"ملاحظة : ok", "<@&1>"}, lines)
}

func TestResolveSummaryVisibility(t *testing.T) {
	template := []models.SummaryTemplateItem{
		models.FixedItem{ItemCommon: models.ItemCommon{ID: "a", Enabled: true, Visibility: models.VisibilityAdminsOnly}, Text: "admins"},
		models.FixedItem{ItemCommon: models.ItemCommon{ID: "b", Enabled: true, Visibility: models.VisibilityTrainersAndAbove}, Text: "trainers"},
		models.FixedItem{ItemCommon: models.ItemCommon{ID: "c", Enabled: false, Visibility: models.VisibilityAll}, Text: "disabled"},
	}

	cases := []struct {
		role models.Role
		want []string
	}{
		{models.RoleReader, nil},
		{models.RoleTrainer, []string{"trainers"}},
		{models.RoleAdmin, []string{"admins", "trainers"}},
		{models.RoleSuperAdmin, []string{"admins", "trainers"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			lines := ResolveSummary(ResolveInput{Template: template, Role: tc.role})
			if tc.want == nil {
				// Nothing visible falls back to the identity lines.
				assert.Len(t, lines, 4)
				assert.Equal(t, "الاسم :", lines[0])
				return
			}
			assert.Equal(t, tc.want, lines)
		})
	}
}

func TestResolveSummaryInterviewerAndComputed(t *testing.T) {
	questions := []models.QuestionSpec{{ID: "qi", Label: "المقابل", Type: models.QuestionText}}
	template := []models.SummaryTemplateItem{
		models.QuestionRefItem{ItemCommon: visible("a"), QuestionID: "qi"},
		models.ComputedItem{ItemCommon: visible("b"), Key: models.ComputedTotalScore},
		models.ComputedItem{ItemCommon: visible("c"), Label: "أضيف", Key: models.ComputedCreatedAt},
		models.ComputedItem{ItemCommon: visible("d"), Label: "عدل", Key: models.ComputedUpdatedAt},
	}
	created := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	candidate := models.CandidateRecord{
		Answers:     map[string]string{"qi": "ignored"},
		Scores:      []int{5, 1, -3, 1, 0, 0, 2, 1},
		CreatedAtMs: created.UnixMilli(),
	}

	lines := ResolveSummary(ResolveInput{
		Template:        template,
		Questions:       questions,
		Candidate:       candidate,
		Role:            models.RoleAdmin,
		SessionUsername: "mona",
		Location:        time.UTC,
	})
	assert.Equal(t, []string{"المقابل : mona", "النتيجة : 7", "أضيف : 05/03/2024, 14:07:09", "عدل :"}, lines)

	candidate.Interviewer = "khaled"
	lines = ResolveSummary(ResolveInput{Template: template[:1], Questions: questions, Candidate: candidate, SessionUsername: "mona"})
	assert.Equal(t, []string{"المقابل : khaled"}, lines)
}

func TestResolveSummaryFallback(t *testing.T) {
	lines := ResolveSummary(ResolveInput{
		Candidate: models.CandidateRecord{Name: "Sara", NationalID: "123", Age: "20", Scores: []int{2, 1}},
		Mention:   "<@&9>",
	})
	assert.Equal(t, []string{"الاسم : Sara", "الرقم الوطني : 123", "العمر : 20", "المجموع : 3", "<@&9>"}, lines)
}

func TestTotalScoreClampsEachPosition(t *testing.T) {
	assert.Equal(t, 10, TotalScore([]int{9, 9, 9, 9, 9, 9, 9, 9}, nil))
	assert.Equal(t, 0, TotalScore([]int{-1, -1}, nil))
	assert.Equal(t, 3, TotalScore([]int{2, 1}, nil))
	assert.Equal(t, []int{2, 1, 0, 0, 0, 0, 0, 0}, NormalizeScores([]int{7, 1, -2}, nil))
}

func TestNormalizeTemplateLegacyShapes(t *testing.T) {
	questions := []models.QuestionSpec{
		{ID: "q1", Label: "الاسم"},
		{ID: "q2", Label: "العمر"},
	}
	raw := json.RawMessage(`[
		{"type":"question","qid":"q1"},
		{"kind":"question","questionLabel":"العمر","visibility":"admins"},
		{"kind":"question","questionId":"gone"},
		{"type":"fixed","value":"نص"},
		{"kind":"fixed","label":"وحيد"},
		{"kind":"computed","key":"totalScore","enabled":false},
		{"kind":"computed","computed":"nonsense"}
	]`)

	items := NormalizeTemplate(raw, questions)
	require.Len(t, items, 7)

	first := items[0].(models.QuestionRefItem)
	assert.Equal(t, "q1", first.QuestionID)
	assert.True(t, first.Enabled)
	assert.Equal(t, models.VisibilityAll, first.Visibility)

	second := items[1].(models.QuestionRefItem)
	assert.Equal(t, "q2", second.QuestionID)
	assert.Equal(t, models.VisibilityAdminsOnly, second.Visibility)

	assert.Empty(t, items[2].(models.QuestionRefItem).QuestionID)
	assert.Equal(t, "نص", items[3].(models.FixedItem).Text)
	assert.Equal(t, "وحيد", items[4].(models.FixedItem).Text)

	computed := items[5].(models.ComputedItem)
	assert.Equal(t, models.ComputedTotalScore, computed.Key)
	assert.False(t, computed.Enabled)
	assert.Equal(t, models.ComputedTotalScore, items[6].(models.ComputedItem).Key)
}

func TestNormalizeTemplateFallsBackToDefault(t *testing.T) {
	questions := DefaultQuestions()
	items := NormalizeTemplate(nil, questions)
	require.Len(t, items, 11)

	ids := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		ids[q.ID] = struct{}{}
	}
	for _, item := range items {
		if ref, ok := item.(models.QuestionRefItem); ok {
			_, exists := ids[ref.QuestionID]
			assert.True(t, exists, "default template references %q", ref.QuestionID)
		}
	}
	assert.Equal(t, "q_no_objection", items[9].(models.QuestionRefItem).QuestionID)
}

func TestNormalizeQuestions(t *testing.T) {
	raw := []map[string]interface{}{
		{"id": "a", "label": "الاسم", "type": "select", "options": []interface{}{"0", float64(1)}},
		{"label": "ملاحظات", "type": "textarea", "options": []interface{}{"x"}},
		{"id": "a", "label": "مكرر"},
		{"type": "text"},
	}
	questions := NormalizeQuestions(raw)
	require.Len(t, questions, 3)
	assert.Equal(t, models.QuestionSingleSelect, questions[0].Type)
	assert.Equal(t, []string{"0", "1"}, questions[0].Options)
	assert.Equal(t, "q_2", questions[1].ID)
	assert.Nil(t, questions[1].Options)
	assert.Equal(t, "q_3", questions[2].ID)
	assert.Equal(t, models.QuestionText, questions[2].Type)
}

func TestNormalizeAppConfig(t *testing.T) {
	empty := ""
	cfg := NormalizeAppConfig(models.AppConfigDocument{
		SummaryLinks:            json.RawMessage(`[{"questionLabel":"العمر"}]`),
		HealthSupervisorMention: &empty,
		UpdatedAt:               42,
	}, "<@&1>")

	assert.True(t, cfg.Configured)
	assert.Equal(t, "<@&1>", cfg.Mention)
	assert.Len(t, cfg.Questions, len(DefaultQuestions()))
	require.Len(t, cfg.SummaryTemplate, 1)
	assert.Equal(t, "q_age", cfg.SummaryTemplate[0].(models.QuestionRefItem).QuestionID)
	assert.EqualValues(t, 42, cfg.UpdatedAtMs)
}
