package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/candidate-sync/internal/models"
)

func ids(list []models.CandidateRecord) []string {
	out := make([]string, 0, len(list))
	for _, rec := range list {
		out = append(out, rec.ID)
	}
	return out
}

func TestReconcileKeepsMostRecentPerKey(t *testing.T) {
	records := []models.CandidateRecord{
		{ID: "a", NationalID: "123 456", UpdatedAtMs: 100},
		{ID: "b", NationalID: "123456", UpdatedAtMs: 200},
	}
	out := Reconcile(records)
	assert.Equal(t, []string{"b"}, ids(out))
}

func TestReconcileOrderingAndTies(t *testing.T) {
	records := []models.CandidateRecord{
		{ID: "x", NationalID: "1-1", CreatedAtMs: 500},
		{ID: "y", NationalID: "", UpdatedAtMs: 10},
		{ID: "z", NationalID: "11", UpdatedAtMs: 300, CreatedAtMs: 100},
		{ID: "w", NationalID: "11", UpdatedAtMs: 500},
		{ID: "   ", NationalID: "no digits"},
		{ID: "y", NationalID: "", UpdatedAtMs: 5},
	}
	out := Reconcile(records)

	// "11" keeps its first position; the tie at 500 goes to the later arrival.
	assert.Equal(t, []string{"w", "y"}, ids(out))
	assert.EqualValues(t, 10, out[1].UpdatedAtMs)
}

func TestReconcileReturnsCopies(t *testing.T) {
	records := []models.CandidateRecord{{ID: "a", NationalID: "1", Answers: map[string]string{"q": "v"}, Scores: []int{1}}}
	out := Reconcile(records)
	out[0].Answers["q"] = "changed"
	out[0].Scores[0] = 9
	assert.Equal(t, "v", records[0].Answers["q"])
	assert.Equal(t, 1, records[0].Scores[0])
}

func TestDecodeCandidateToleratesLegacyTypes(t *testing.T) {
	var doc models.CandidateDocument
	raw := `{"nationalId":123456,"name":" Sara ","age":21,"status":"مقبول",
		"answers":{"q1":"x","q2":3},"scores":["2",1,null,"bad"],"createdAtMs":"1700000000000"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	rec := DecodeCandidate("nid_123456", doc)
	assert.Equal(t, "123456", rec.NationalID)
	assert.Equal(t, "Sara", rec.Name)
	assert.Equal(t, "21", rec.Age)
	assert.Equal(t, models.StatusAccepted, rec.Status)
	assert.Equal(t, "3", rec.Answers["q2"])
	assert.Equal(t, []int{2, 1, 0, 0, 0, 0, 0, 0}, rec.Scores)
	assert.EqualValues(t, 1700000000000, rec.CreatedAtMs)
}

func TestSortCandidates(t *testing.T) {
	list := []models.CandidateRecord{
		{ID: "1", Name: "ياسر", UpdatedAtMs: 100},
		{ID: "2", Name: "أحمد", UpdatedAtMs: 300},
		{ID: "3", Name: "باسم", CreatedAtMs: 100},
	}

	SortCandidates(list, "newest")
	assert.Equal(t, []string{"2", "3", "1"}, ids(list))

	SortCandidates(list, "oldest")
	assert.Equal(t, []string{"3", "1", "2"}, ids(list))

	SortCandidates(list, "name")
	assert.Equal(t, []string{"2", "3", "1"}, ids(list))

	assert.Negative(t, CompareNames("أحمد", "ياسر"))
}

func TestFilterCandidates(t *testing.T) {
	list := []models.CandidateRecord{
		{ID: "1", Name: "Sara Ali", NationalID: "123 456"},
		{ID: "2", Name: "Omar", NationalID: "999", Interviewer: "Mona"},
	}
	assert.Equal(t, []string{"1"}, ids(FilterCandidates(list, "sara")))
	assert.Equal(t, []string{"1"}, ids(FilterCandidates(list, "3 45")))
	assert.Equal(t, []string{"1"}, ids(FilterCandidates(list, "123456")))
	assert.Equal(t, []string{"2"}, ids(FilterCandidates(list, "mona")))
	assert.Len(t, FilterCandidates(list, "  "), 2)
}

func TestPaginate(t *testing.T) {
	list := make([]models.CandidateRecord, 120)

	page := Paginate(list, 3, 0)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Items, 20)

	page = Paginate(list, 99, 50)
	assert.Equal(t, 3, page.Page)

	page = Paginate(nil, 0, 50)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.TotalPages)
	assert.Empty(t, page.Items)
}
