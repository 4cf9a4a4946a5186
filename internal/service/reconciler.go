package service

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/normalize"
)

// DefaultPageSize is the candidate list page size.
const DefaultPageSize = 50

// DecodeCandidate converts a stored candidate into a record. Scores are padded to the
// slot count; unknown statuses read as under review.
func DecodeCandidate(id string, doc models.CandidateDocument) models.CandidateRecord {
	rec := models.CandidateRecord{
		ID:          id,
		NationalID:  strings.TrimSpace(string(doc.NationalID)),
		Name:        strings.TrimSpace(string(doc.Name)),
		Age:         strings.TrimSpace(string(doc.Age)),
		Interviewer: strings.TrimSpace(string(doc.Interviewer)),
		Status:      normalize.CandidateStatus(string(doc.Status)),
		Answers:     make(map[string]string, len(doc.Answers)),
		Scores:      make([]int, models.ScoreSlots),
		TotalScore:  int(doc.TotalScore),
		CreatedAtMs: int64(doc.CreatedAtMs),
		UpdatedAtMs: int64(doc.UpdatedAtMs),
	}
	for qid, answer := range doc.Answers {
		rec.Answers[qid] = string(answer)
	}
	for i, score := range doc.Scores {
		if i >= models.ScoreSlots {
			break
		}
		rec.Scores[i] = int(score)
	}
	return rec
}

// Reconcile collapses records sharing a candidate key. The survivor of a key is the
// record with the greatest recency; on equal recency the later arrival wins. Keys keep
// the position of their first arrival. Records without any key are dropped.
func Reconcile(records []models.CandidateRecord) []models.CandidateRecord {
	index := make(map[string]int, len(records))
	out := make([]models.CandidateRecord, 0, len(records))
	for _, rec := range records {
		key := normalize.CandidateKey(rec.NationalID, rec.ID)
		if key == "" {
			continue
		}
		pos, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, rec.Clone())
			continue
		}
		prev := out[pos]
		if normalize.LatestMs(rec.UpdatedAtMs, rec.CreatedAtMs) >= normalize.LatestMs(prev.UpdatedAtMs, prev.CreatedAtMs) {
			out[pos] = rec.Clone()
		}
	}
	return out
}

// SortCandidates orders list in place by recency (newest or oldest first) or by name.
// Recency ties fall back to the name order.
func SortCandidates(list []models.CandidateRecord, order string) {
	order = normalize.SortOrder(order)
	// Collators are not safe for concurrent use.
	col := newNameCollator()
	byName := func(a, b models.CandidateRecord) int {
		return col.CompareString(a.Name, b.Name)
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if order == models.SortName {
			return byName(a, b) < 0
		}
		ta := normalize.LatestMs(a.UpdatedAtMs, a.CreatedAtMs)
		tb := normalize.LatestMs(b.UpdatedAtMs, b.CreatedAtMs)
		if ta != tb {
			if order == models.SortOldest {
				return ta < tb
			}
			return ta > tb
		}
		return byName(a, b) < 0
	})
}

// CompareNames orders two candidate names the way the list does.
func CompareNames(a, b string) int {
	return newNameCollator().CompareString(a, b)
}

func newNameCollator() *collate.Collator {
	return collate.New(language.Arabic, collate.IgnoreCase)
}

// FilterCandidates keeps records whose name, national id or interviewer contains the
// search text. National ids also match with whitespace removed.
func FilterCandidates(list []models.CandidateRecord, search string) []models.CandidateRecord {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return list
	}
	compact := strings.Join(strings.Fields(needle), "")
	out := make([]models.CandidateRecord, 0, len(list))
	for _, rec := range list {
		nid := strings.ToLower(rec.NationalID)
		switch {
		case strings.Contains(strings.ToLower(rec.Name), needle),
			strings.Contains(nid, needle),
			strings.Contains(strings.Join(strings.Fields(nid), ""), compact),
			strings.Contains(strings.ToLower(rec.Interviewer), needle):
			out = append(out, rec)
		}
	}
	return out
}

// Page is one slice of a sorted candidate list.
type Page struct {
	Items      []models.CandidateRecord
	Page       int
	PageSize   int
	TotalCount int
	TotalPages int
}

// Paginate clamps page into [1, totalPages] and returns that slice of list.
func Paginate(list []models.CandidateRecord, page, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	totalPages := int(math.Ceil(float64(len(list)) / float64(size)))
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * size
	end := start + size
	if end > len(list) {
		end = len(list)
	}
	return Page{
		Items:      list[start:end],
		Page:       page,
		PageSize:   size,
		TotalCount: len(list),
		TotalPages: totalPages,
	}
}
