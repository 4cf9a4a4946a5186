package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/candidate-sync/internal/dto"
	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

type candidateFixture struct {
	*sessionFixture
	cfg     *ConfigurationService
	svc     *CandidateService
	trainer *Session
	admin   *Session
}

func newCandidateFixture(t *testing.T) *candidateFixture {
	t.Helper()
	f, cfgSvc := newConfigFixture(t)
	ctx := context.Background()
	require.NoError(t, cfgSvc.SeedDefaults(ctx, nil))

	trainer, err := f.reg.Start(ctx, trainerIdentity)
	require.NoError(t, err)
	admin, err := f.reg.Start(ctx, adminIdentity)
	require.NoError(t, err)
	waitConfigured(t, trainer)
	waitConfigured(t, admin)

	svc := NewCandidateService(f.store, nil, nil)
	svc.newID = func() string { return "c_fixed" }
	return &candidateFixture{sessionFixture: f, cfg: cfgSvc, svc: svc, trainer: trainer, admin: admin}
}

func waitCandidate(t *testing.T, sess *Session, id string) models.CandidateRecord {
	t.Helper()
	var rec models.CandidateRecord
	require.Eventually(t, func() bool {
		got, ok := sess.Candidate(id)
		rec = got
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return rec
}

func TestCandidateSaveCreate(t *testing.T) {
	f := newCandidateFixture(t)
	ctx := context.Background()
	writesBefore := f.trainer.Quota.State().WritesUsed

	view, err := f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{
		NationalID: " 12-34 ",
		Name:       " Ali ",
		Age:        "24",
		Answers:    map[string]string{"q_mic": "2", "unknown": "x"},
		Scores:     []int{5, 1, -1},
	}, true)
	require.NoError(t, err)

	assert.Equal(t, "nid_1234", view.ID)
	assert.Equal(t, "sara", view.Interviewer)
	assert.Equal(t, string(models.StatusUnderReview), view.Status)
	assert.Equal(t, []int{2, 1, 0, 0, 0, 0, 0, 0}, view.Scores)
	assert.Equal(t, 3, view.TotalScore)
	assert.Equal(t, "Ali", view.Answers["q_name"])
	assert.Equal(t, "12-34", view.Answers["q_national_id"])
	assert.Equal(t, "sara", view.Answers["q_interviewer"])
	assert.Equal(t, "2", view.Answers["q_mic"])
	assert.Contains(t, view.Answers, "q_notes")
	assert.NotContains(t, view.Answers, "unknown")
	assert.Equal(t, writesBefore+1, f.trainer.Quota.State().WritesUsed)

	rec := waitCandidate(t, f.admin, "nid_1234")
	assert.Equal(t, "Ali", rec.Name)
	assert.Equal(t, governorEpoch.UnixMilli(), rec.CreatedAtMs)

	local := f.trainer.Audit.Local()
	require.NotEmpty(t, local)
	assert.Equal(t, models.AuditKindCandidate, local[0].Kind)
	assert.Equal(t, models.AuditActionCreate, local[0].Action)

	waitCandidate(t, f.trainer, "nid_1234")
	_, err = f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{NationalID: "1234", Name: "Other"}, true)
	assert.Equal(t, appErrors.ErrConflict.Code, codeOf(err))

	view, err = f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{Name: "No Id"}, true)
	require.NoError(t, err)
	assert.Equal(t, "c_fixed", view.ID)
}

func TestCandidateSaveRoleRules(t *testing.T) {
	f := newCandidateFixture(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{Name: "Ali", Status: "accepted"}, true)
	assert.Equal(t, appErrors.ErrForbidden.Code, codeOf(err))

	_, err = f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{Name: "Ali", Status: "maybe"}, true)
	assert.Equal(t, appErrors.ErrValidation.Code, codeOf(err))

	_, err = f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{Name: "   "}, true)
	assert.Equal(t, appErrors.ErrValidation.Code, codeOf(err))

	created, err := f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{NationalID: "55", Name: "Ali"}, true)
	require.NoError(t, err)
	waitCandidate(t, f.admin, created.ID)

	updated, err := f.svc.Save(ctx, f.admin, dto.SaveCandidateRequest{ID: created.ID, NationalID: "55", Name: "Ali", Status: "مقبول"}, false)
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusAccepted), updated.Status)

	require.Eventually(t, func() bool {
		rec, ok := f.trainer.Candidate(created.ID)
		return ok && rec.Status == models.StatusAccepted
	}, 2*time.Second, 10*time.Millisecond)

	// A trainer edit keeps the review outcome set by an admin.
	_, err = f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{ID: created.ID, NationalID: "55", Name: "Ali H"}, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, ok := f.admin.Candidate(created.ID)
		return ok && rec.Name == "Ali H"
	}, 2*time.Second, 10*time.Millisecond)
	rec, _ := f.admin.Candidate(created.ID)
	assert.Equal(t, models.StatusAccepted, rec.Status)
	assert.Equal(t, governorEpoch.UnixMilli(), rec.CreatedAtMs)

	assert.Equal(t, appErrors.ErrForbidden.Code, codeOf(f.svc.Delete(ctx, f.trainer, created.ID)))
	require.NoError(t, f.svc.Delete(ctx, f.admin, created.ID))
	require.Eventually(t, func() bool {
		_, ok := f.admin.Candidate(created.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCandidateTrainerEditKeepsHiddenAnswers(t *testing.T) {
	f := newCandidateFixture(t)
	ctx := context.Background()

	questions := make([]dto.QuestionInput, 0, len(DefaultQuestions()))
	for _, q := range DefaultQuestions() {
		in := dto.QuestionInput{ID: q.ID, Label: q.Label, Type: string(q.Type), Options: q.Options}
		if q.ID == "q_notes" {
			in.Visibility = "admins"
		}
		questions = append(questions, in)
	}
	_, err := f.cfg.SavePatch(ctx, f.admin, dto.ConfigPatchRequest{Questions: questions})
	require.NoError(t, err)
	for _, sess := range []*Session{f.admin, f.trainer} {
		sess := sess
		require.Eventually(t, func() bool {
			cfg, err := sess.Config()
			if err != nil {
				return false
			}
			for _, q := range cfg.Questions {
				if q.ID == "q_notes" {
					return q.Visibility == models.VisibilityAdminsOnly
				}
			}
			return false
		}, 2*time.Second, 10*time.Millisecond)
	}

	_, err = f.svc.Save(ctx, f.admin, dto.SaveCandidateRequest{
		NationalID: "555",
		Name:       "Ali",
		Answers:    map[string]string{"q_notes": "admin secret", "q_mic": "1"},
	}, true)
	require.NoError(t, err)
	waitCandidate(t, f.trainer, "nid_555")

	_, err = f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{
		ID:         "nid_555",
		NationalID: "555",
		Name:       "Ali H",
		Answers:    map[string]string{"q_mic": "2", "q_notes": "overwritten"},
	}, false)
	require.NoError(t, err)

	doc, err := f.store.Get(ctx, repository.CollectionCandidates, "nid_555")
	require.NoError(t, err)
	var stored models.CandidateRecord
	require.NoError(t, doc.Decode(&stored))
	assert.Equal(t, "Ali H", stored.Name)
	assert.Equal(t, "root", stored.Interviewer)
	assert.Equal(t, "admin secret", stored.Answers["q_notes"])
	assert.Equal(t, "2", stored.Answers["q_mic"])
	assert.Contains(t, stored.Answers, "q_hours")
}

func TestCandidateSaveQuotaFailureLocks(t *testing.T) {
	f := newCandidateFixture(t)
	f.store.InjectFault(repository.OpSet, repository.ErrResourceExhausted)

	_, err := f.svc.Save(context.Background(), f.trainer, dto.SaveCandidateRequest{Name: "Ali"}, true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, codeOf(err))
	assert.True(t, f.trainer.Quota.IsLocked())

	f.store.ClearFaults()
	_, err = f.svc.Save(context.Background(), f.trainer, dto.SaveCandidateRequest{Name: "Ali"}, true)
	var lockErr *LockError
	assert.ErrorAs(t, err, &lockErr)
}

func TestCandidateListAndSummary(t *testing.T) {
	f := newCandidateFixture(t)
	ctx := context.Background()

	for _, req := range []dto.SaveCandidateRequest{
		{NationalID: "1", Name: "Basel", Scores: []int{2, 1}},
		{NationalID: "2", Name: "Adam", Answers: map[string]string{"q_notes": "calm"}},
		{NationalID: "3", Name: "Camal", Interviewer: "omar"},
	} {
		_, err := f.svc.Save(ctx, f.trainer, req, true)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(f.trainer.Candidates()) == 3 }, 2*time.Second, 10*time.Millisecond)

	page, err := f.svc.List(f.trainer, dto.ListCandidatesQuery{Sort: "name", PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Adam", page.Items[0].Name)
	assert.Equal(t, "Basel", page.Items[1].Name)

	page, err = f.svc.List(f.trainer, dto.ListCandidatesQuery{Search: "omar"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Camal", page.Items[0].Name)
	assert.Equal(t, models.SortNewest, page.Sort)

	_, err = f.svc.List(f.trainer, dto.ListCandidatesQuery{Sort: "random"})
	assert.Equal(t, appErrors.ErrValidation.Code, codeOf(err))

	summary, err := f.svc.Summary(f.trainer, "nid_1")
	require.NoError(t, err)
	assert.Contains(t, summary.Lines, LabelName+" : Basel")
	assert.Contains(t, summary.Lines, labelResult+" : 3")
	assert.Contains(t, summary.Lines, LabelInterviewer+" : sara")
	assert.Equal(t, "@supervisors", summary.Lines[len(summary.Lines)-1])
	assert.Equal(t, strings.Join(summary.Lines, "\n"), summary.Text)

	_, err = f.svc.Summary(f.trainer, "nid_404")
	assert.Equal(t, appErrors.ErrNotFound.Code, codeOf(err))
}

func TestCandidateExport(t *testing.T) {
	f := newCandidateFixture(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{NationalID: "7", Name: "Zaid", Answers: map[string]string{"q_notes": "steady"}, Scores: []int{2}}, true)
	require.NoError(t, err)
	_, err = f.svc.Save(ctx, f.trainer, dto.SaveCandidateRequest{NationalID: "8", Name: "Adam"}, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.admin.Candidates()) == 2 }, 2*time.Second, 10*time.Millisecond)

	table, err := f.svc.Export(f.admin, dto.ListCandidatesQuery{Sort: "name", Page: 9, PageSize: 1})
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Adam", table.Rows[0]["name"])
	assert.Equal(t, "nid_7", table.Rows[1]["id"])
	assert.Equal(t, "2", table.Rows[1]["totalScore"])
	assert.Equal(t, "steady", table.Rows[1]["q:q_notes"])

	keys := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		keys = append(keys, col.Key)
	}
	assert.Contains(t, keys, "q:q_notes")
	assert.NotContains(t, keys, "q:q_name")
}
