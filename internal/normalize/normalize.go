// Package normalize holds the pure key, role and legacy-value normalizers shared by the
// engine. Every alias table lives here so that role ordering and legacy spellings are
// decided in one place.
package normalize

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/noah-isme/candidate-sync/internal/models"
)

const tatweel = 'ـ'

// Fold lower-cases raw, folds full-width forms, strips combining marks (Latin accents,
// Arabic harakat and hamza marks) and drops whitespace, '_', '-' and tatweel.
func Fold(raw string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), width.Fold, norm.NFC)
	folded, _, err := transform.String(t, raw)
	if err != nil {
		folded = raw
	}
	folded = strings.ToLower(folded)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '_' || r == '-' || r == tatweel {
			return -1
		}
		return r
	}, folded)
}

// NationalIDKey keeps only the ASCII digits of raw.
func NationalIDKey(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// CandidateKey returns the reconciliation key of a record: the national id digits when
// there are any, else the trimmed document id, else "".
func CandidateKey(nationalID, id string) string {
	if key := NationalIDKey(nationalID); key != "" {
		return key
	}
	return strings.TrimSpace(id)
}

// CandidateDocID returns the document id used when creating a candidate with the given
// national id, or "" when the id has no digits.
func CandidateDocID(nationalID string) string {
	if key := NationalIDKey(nationalID); key != "" {
		return "nid_" + key
	}
	return ""
}

type alias struct {
	exact    []string
	contains []string
}

var roleAliases = []struct {
	role models.Role
	alias
}{
	{models.RoleSuperAdmin, alias{exact: []string{"superadmin", "super"}, contains: []string{"سوبر"}}},
	{models.RoleAdmin, alias{exact: []string{"admin", "administrator"}, contains: []string{"ادمن", "أدمن", "إدارة", "الادارة", "الاداره", "اداره"}}},
	{models.RoleTrainer, alias{exact: []string{"trainer", "coach"}, contains: []string{"مدرب", "تدريب"}}},
	{models.RoleReader, alias{exact: []string{"reader", "viewer", "readonly"}, contains: []string{"قارئ", "مشاهد", "قراءة"}}},
}

func init() {
	for i := range roleAliases {
		for j, c := range roleAliases[i].contains {
			roleAliases[i].contains[j] = Fold(c)
		}
	}
}

// Role maps any spelling of a role onto the canonical role. Unknown or empty input is a
// reader.
func Role(raw string) models.Role {
	folded := Fold(raw)
	if folded == "" {
		return models.RoleReader
	}
	for _, entry := range roleAliases {
		for _, e := range entry.exact {
			if folded == e {
				return entry.role
			}
		}
	}
	for _, entry := range roleAliases {
		for _, c := range entry.contains {
			if strings.Contains(folded, c) {
				return entry.role
			}
		}
	}
	return models.RoleReader
}

// Visibility maps legacy visibility spellings. Unknown values are visible to all.
func Visibility(raw string) models.Visibility {
	switch Fold(raw) {
	case "adminsonly", "admins", "admin", "super", "superadmin":
		return models.VisibilityAdminsOnly
	case "trainersandabove", "trainer", "trainers":
		return models.VisibilityTrainersAndAbove
	default:
		return models.VisibilityAll
	}
}

// QuestionType maps legacy type names. Unknown values become text.
func QuestionType(raw string) models.QuestionType {
	switch Fold(raw) {
	case "textarea", "longtext":
		return models.QuestionTextarea
	case "singleselect", "select":
		return models.QuestionSingleSelect
	default:
		return models.QuestionText
	}
}

// ValidQuestionType reports whether raw names a known question type.
func ValidQuestionType(raw string) bool {
	switch Fold(raw) {
	case "text", "textarea", "longtext", "singleselect", "select":
		return true
	}
	return false
}

// CandidateStatus maps English and legacy Arabic status names. Unknown values are
// under review.
func CandidateStatus(raw string) models.CandidateStatus {
	s, _ := ParseCandidateStatus(raw)
	return s
}

// ParseCandidateStatus is CandidateStatus reporting whether raw was recognised. Empty
// input is recognised as under review.
func ParseCandidateStatus(raw string) (models.CandidateStatus, bool) {
	switch Fold(raw) {
	case "", "underreview", "review", "pending", "قيدالمراجعة":
		return models.StatusUnderReview, true
	case "accepted", "accept", "مقبول":
		return models.StatusAccepted, true
	case "rejected", "reject", "مرفوض":
		return models.StatusRejected, true
	default:
		return models.StatusUnderReview, false
	}
}

// ComputedKey maps legacy computed keys.
func ComputedKey(raw string) (models.ComputedKey, bool) {
	switch Fold(raw) {
	case "totalscore", "total", "score":
		return models.ComputedTotalScore, true
	case "createdat", "created":
		return models.ComputedCreatedAt, true
	case "updatedat", "updated":
		return models.ComputedUpdatedAt, true
	default:
		return "", false
	}
}

// TemplateKind maps legacy template item kinds.
func TemplateKind(raw string) (models.TemplateItemKind, bool) {
	switch Fold(raw) {
	case "questionreference", "question", "q":
		return models.KindQuestionReference, true
	case "computed", "calc":
		return models.KindComputed, true
	case "fixed", "text", "static":
		return models.KindFixed, true
	default:
		return "", false
	}
}

// SortOrder maps a requested sort order onto a known one, defaulting to newest.
func SortOrder(raw string) string {
	switch Fold(raw) {
	case models.SortOldest:
		return models.SortOldest
	case models.SortName:
		return models.SortName
	default:
		return models.SortNewest
	}
}

// LatestMs is the recency of a record: the larger of its update and creation time.
func LatestMs(updatedAtMs, createdAtMs int64) int64 {
	if updatedAtMs > createdAtMs {
		return updatedAtMs
	}
	return createdAtMs
}

// IsOnline reports whether a heartbeat at lastSeenMs is still inside window at now.
func IsOnline(lastSeenMs int64, now time.Time, window time.Duration) bool {
	if lastSeenMs <= 0 {
		return false
	}
	return now.UnixMilli()-lastSeenMs < window.Milliseconds()
}

var (
	interviewerLabels = map[string]struct{}{Fold("interviewer"): {}, Fold("المقابل"): {}}
	coreLabels        = map[string]struct{}{
		Fold("الاسم"): {}, Fold("الرقم الوطني"): {}, Fold("العمر"): {}, Fold("المقابل"): {},
		Fold("name"): {}, Fold("national id"): {}, Fold("age"): {}, Fold("interviewer"): {},
	}
)

// IsInterviewerLabel reports whether a question label identifies the interviewer.
func IsInterviewerLabel(label string) bool {
	_, ok := interviewerLabels[Fold(label)]
	return ok
}

// IsCoreLabel reports whether a question label is one of the identity fields that stay
// visible regardless of the question's visibility.
func IsCoreLabel(label string) bool {
	_, ok := coreLabels[Fold(label)]
	return ok
}
