package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/normalize"
)

// Built-in labels of the identity questions and summary fallbacks.
const (
	LabelName        = "الاسم"
	LabelNationalID  = "الرقم الوطني"
	LabelAge         = "العمر"
	LabelInterviewer = "المقابل"
	labelTotal       = "المجموع"
	labelResult      = "النتيجة"
	labelCertificate = "شهادة"
)

// SummaryTimeLayout renders created-at and updated-at lines.
const SummaryTimeLayout = "02/01/2006, 15:04:05"

var (
	scoreOptions = []string{"0", "1", "2"}
	jobOptions   = []string{"_", "عاطل", "كهرب", "تكسي", "قمامه", "سطحه", "عدل", "شرطه", "مطعم", "ورشه", "منجم", "تدوير", "خياطه"}
)

// DefaultQuestions returns the built-in question bank seeded into an empty config.
func DefaultQuestions() []models.QuestionSpec {
	q := func(id, label string, t models.QuestionType, options []string) models.QuestionSpec {
		return models.QuestionSpec{ID: id, Label: label, Type: t, Options: options, Visibility: models.VisibilityAll}
	}
	return []models.QuestionSpec{
		q("q_name", LabelName, models.QuestionText, nil),
		q("q_national_id", LabelNationalID, models.QuestionText, nil),
		q("q_age", LabelAge, models.QuestionText, nil),
		q("q_interviewer", LabelInterviewer, models.QuestionText, nil),
		q("q_mic", "جودة المايك", models.QuestionSingleSelect, scoreOptions),
		q("q_hours", "عدد ساعات التواجد", models.QuestionText, nil),
		q("q_previous_job", "وظيفة سابقة", models.QuestionSingleSelect, jobOptions),
		q("q_criminal_record", "سجل إجرامي", models.QuestionSingleSelect, scoreOptions),
		q("q_experience", "خبرة بالمجال", models.QuestionSingleSelect, scoreOptions),
		q("q_license", "رخصة", models.QuestionSingleSelect, scoreOptions),
		q("q_tattoos", "وشوم", models.QuestionSingleSelect, scoreOptions),
		q("q_police_intent", "نية الذهاب للشرطة", models.QuestionSingleSelect, scoreOptions),
		q("q_no_objection", "شهادة عدم ممانعة", models.QuestionSingleSelect, scoreOptions),
		q("q_former_medic", "مسعف سابق", models.QuestionSingleSelect, scoreOptions),
		q("q_strengths", "المميزات", models.QuestionTextarea, nil),
		q("q_notes", "الملاحظات", models.QuestionTextarea, nil),
	}
}

// DefaultTemplate builds the standard summary over questions. Lines whose question is
// missing from the bank keep an empty reference and are skipped at resolution.
func DefaultTemplate(questions []models.QuestionSpec) []models.SummaryTemplateItem {
	byLabel := make(map[string]string, len(questions))
	for _, q := range questions {
		byLabel[strings.TrimSpace(q.Label)] = q.ID
	}
	certificate := byLabel[labelCertificate]
	if certificate == "" {
		certificate = byLabel["شهادة عدم ممانعة"]
	}

	n := 0
	common := func() models.ItemCommon {
		n++
		return models.ItemCommon{ID: fmt.Sprintf("st_%d", n), Enabled: true, Visibility: models.VisibilityAll}
	}
	ref := func(label, lookup string) models.SummaryTemplateItem {
		return models.QuestionRefItem{ItemCommon: common(), Label: label, QuestionID: byLabel[lookup]}
	}

	return []models.SummaryTemplateItem{
		ref(LabelName, LabelName),
		ref(LabelNationalID, LabelNationalID),
		ref(LabelAge, LabelAge),
		ref("جودة المايك", "جودة المايك"),
		ref("عدد ساعات التواجد", "عدد ساعات التواجد"),
		models.ComputedItem{ItemCommon: common(), Label: labelResult, Key: models.ComputedTotalScore},
		ref("المميزات", "المميزات"),
		ref("الملاحظات", "الملاحظات"),
		ref("مسعف سابق", "مسعف سابق"),
		models.QuestionRefItem{ItemCommon: common(), Label: labelCertificate, QuestionID: certificate},
		ref(LabelInterviewer, LabelInterviewer),
	}
}

// ResolveInput is everything a summary depends on.
type ResolveInput struct {
	Template        []models.SummaryTemplateItem
	Questions       []models.QuestionSpec
	Candidate       models.CandidateRecord
	Role            models.Role
	SessionUsername string
	Mention         string
	ScoreMaxima     []int
	Location        *time.Location
}

// ResolveSummary projects a candidate through the template into display lines. The
// mention, when set, is always the single last line.
func ResolveSummary(in ResolveInput) []string {
	questions := make(map[string]models.QuestionSpec, len(in.Questions))
	for _, q := range in.Questions {
		questions[q.ID] = q
	}
	maxima := in.ScoreMaxima
	if len(maxima) == 0 {
		maxima = models.DefaultScoreMaxima
	}

	lines := make([]string, 0, len(in.Template)+1)
	push := func(line string) {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	for _, item := range in.Template {
		common := item.Common()
		if !common.Enabled || !common.Visibility.Allows(in.Role) {
			continue
		}
		switch it := item.(type) {
		case models.QuestionRefItem:
			q, ok := questions[it.QuestionID]
			if !ok {
				continue
			}
			label := firstNonEmpty(it.Label, q.Label)
			if normalize.IsInterviewerLabel(q.Label) {
				push(formatLine(label, firstNonEmpty(in.Candidate.Interviewer, in.SessionUsername)))
				continue
			}
			push(formatLine(label, in.Candidate.Answers[q.ID]))
		case models.ComputedItem:
			push(formatLine(firstNonEmpty(it.Label, labelResult), computedValue(it.Key, in.Candidate, maxima, in.Location)))
		case models.FixedItem:
			text := strings.TrimSpace(it.Text)
			if strings.TrimSpace(it.Label) != "" {
				push(formatLine(it.Label, text))
			} else {
				push(text)
			}
		}
	}

	if len(lines) == 0 {
		lines = append(lines,
			formatLine(LabelName, in.Candidate.Name),
			formatLine(LabelNationalID, in.Candidate.NationalID),
			formatLine(LabelAge, in.Candidate.Age),
			formatLine(labelTotal, strconv.Itoa(TotalScore(in.Candidate.Scores, maxima))),
		)
	}

	mention := strings.TrimSpace(in.Mention)
	if mention == "" {
		return lines
	}
	out := lines[:0]
	for _, line := range lines {
		if line != mention {
			out = append(out, line)
		}
	}
	return append(out, mention)
}

// TotalScore sums each score position clamped to [0, max] for that position.
func TotalScore(scores []int, maxima []int) int {
	if len(maxima) == 0 {
		maxima = models.DefaultScoreMaxima
	}
	total := 0
	for i, max := range maxima {
		if i >= len(scores) {
			break
		}
		v := scores[i]
		if v < 0 {
			v = 0
		}
		if v > max {
			v = max
		}
		total += v
	}
	return total
}

// NormalizeScores pads or truncates scores to the slot count and clamps each value.
func NormalizeScores(scores []int, maxima []int) []int {
	if len(maxima) == 0 {
		maxima = models.DefaultScoreMaxima
	}
	out := make([]int, models.ScoreSlots)
	for i := range out {
		if i >= len(scores) {
			break
		}
		v := scores[i]
		if v < 0 {
			v = 0
		}
		if i < len(maxima) && v > maxima[i] {
			v = maxima[i]
		}
		out[i] = v
	}
	return out
}

// FormatTimestamp renders ms in loc, or "" when ms is unset.
func FormatTimestamp(ms int64, loc *time.Location) string {
	if ms <= 0 {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc).Format(SummaryTimeLayout)
}

func computedValue(key models.ComputedKey, c models.CandidateRecord, maxima []int, loc *time.Location) string {
	switch key {
	case models.ComputedCreatedAt:
		return FormatTimestamp(c.CreatedAtMs, loc)
	case models.ComputedUpdatedAt:
		return FormatTimestamp(c.UpdatedAtMs, loc)
	default:
		return strconv.Itoa(TotalScore(c.Scores, maxima))
	}
}

func formatLine(label, value string) string {
	label = strings.TrimSpace(label)
	value = strings.TrimSpace(value)
	if label == "" {
		return value
	}
	return strings.TrimSpace(label + " : " + value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// NormalizeAppConfig turns the stored config/app document into an immutable snapshot.
func NormalizeAppConfig(doc models.AppConfigDocument, defaultMention string) *models.AppConfig {
	questions := NormalizeQuestions(doc.Questions)
	if len(questions) == 0 {
		questions = DefaultQuestions()
	}
	rawTemplate := doc.SummaryTemplate
	if isEmptyJSONArray(rawTemplate) && !isEmptyJSONArray(doc.SummaryLinks) {
		rawTemplate = doc.SummaryLinks
	}
	mention := defaultMention
	if doc.HealthSupervisorMention != nil && strings.TrimSpace(*doc.HealthSupervisorMention) != "" {
		mention = strings.TrimSpace(*doc.HealthSupervisorMention)
	}
	return &models.AppConfig{
		Questions:       questions,
		SummaryTemplate: NormalizeTemplate(rawTemplate, questions),
		Mention:         mention,
		Configured:      true,
		UpdatedAtMs:     int64(doc.UpdatedAt),
		UpdatedBy:       doc.UpdatedBy,
	}
}

// NormalizeQuestions accepts every stored question shape: missing ids are assigned,
// legacy type and visibility names are mapped, options are kept for selects only.
func NormalizeQuestions(raw []map[string]interface{}) []models.QuestionSpec {
	out := make([]models.QuestionSpec, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, item := range raw {
		label := stringField(item, "label", "title")
		id := stringField(item, "id")
		if label == "" && id == "" {
			continue
		}
		if _, dup := seen[id]; id == "" || dup {
			id = fmt.Sprintf("q_%d", i+1)
			for k := 2; ; k++ {
				if _, taken := seen[id]; !taken {
					break
				}
				id = fmt.Sprintf("q_%d_%d", i+1, k)
			}
		}
		seen[id] = struct{}{}

		q := models.QuestionSpec{
			ID:         id,
			Label:      label,
			Type:       normalize.QuestionType(stringField(item, "type")),
			Visibility: normalize.Visibility(stringField(item, "visibility")),
		}
		if q.Type == models.QuestionSingleSelect {
			q.Options = stringList(item["options"])
		}
		out = append(out, q)
	}
	return out
}

// NormalizeTemplate decodes stored template items of any legacy shape into the closed
// item set. References to unknown questions are cleared; an empty result falls back to
// DefaultTemplate.
func NormalizeTemplate(raw json.RawMessage, questions []models.QuestionSpec) []models.SummaryTemplateItem {
	var items []map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &items); err != nil {
			items = nil
		}
	}

	known := make(map[string]struct{}, len(questions))
	byLabel := make(map[string]string, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
		byLabel[strings.TrimSpace(q.Label)] = q.ID
	}

	out := make([]models.SummaryTemplateItem, 0, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		common := models.ItemCommon{
			ID:         stringField(item, "id"),
			Enabled:    boolField(item, "enabled", true),
			Visibility: normalize.Visibility(stringField(item, "visibility")),
		}
		if common.ID == "" {
			common.ID = fmt.Sprintf("st_%d", i+1)
		}

		kind, ok := normalize.TemplateKind(stringField(item, "kind", "type"))
		if !ok {
			kind = models.KindQuestionReference
		}
		switch kind {
		case models.KindFixed:
			text := stringField(item, "text", "value")
			label := stringField(item, "label")
			if text == "" {
				text, label = label, ""
			}
			out = append(out, models.FixedItem{ItemCommon: common, Label: label, Text: text})
		case models.KindComputed:
			key, ok := normalize.ComputedKey(stringField(item, "computed", "key"))
			if !ok {
				key = models.ComputedTotalScore
			}
			out = append(out, models.ComputedItem{ItemCommon: common, Label: stringField(item, "label"), Key: key})
		default:
			qid := stringField(item, "questionId", "qid")
			if qid == "" {
				qid = byLabel[stringField(item, "questionLabel")]
			}
			if _, exists := known[qid]; !exists {
				qid = ""
			}
			out = append(out, models.QuestionRefItem{ItemCommon: common, Label: stringField(item, "label"), QuestionID: qid})
		}
	}

	if len(out) == 0 {
		return DefaultTemplate(questions)
	}
	return out
}

// TemplateDocuments converts items into their stored shape.
func TemplateDocuments(items []models.SummaryTemplateItem) []models.TemplateItemDocument {
	out := make([]models.TemplateItemDocument, 0, len(items))
	for _, item := range items {
		out = append(out, models.DocumentOf(item))
	}
	return out
}

func isEmptyJSONArray(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == "[]"
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(val)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func boolField(m map[string]interface{}, key string, fallback bool) bool {
	v, ok := m[key].(bool)
	if !ok {
		return fallback
	}
	return v
}

func stringList(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		if strs, ok := v.([]string); ok {
			return append([]string(nil), strs...)
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch val := item.(type) {
		case string:
			out = append(out, val)
		case float64:
			out = append(out, strconv.FormatFloat(val, 'f', -1, 64))
		}
	}
	return out
}
