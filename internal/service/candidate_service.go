package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/candidate-sync/internal/dto"
	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/normalize"
	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
	"github.com/noah-isme/candidate-sync/pkg/export"
)

type candidateStore interface {
	Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error
	Delete(ctx context.Context, collection, id string) error
}

// coreFields maps the folded labels of identity questions to the record field they mirror.
var coreFields = map[string]func(models.CandidateRecord) string{
	normalize.Fold(LabelName):        func(r models.CandidateRecord) string { return r.Name },
	normalize.Fold("name"):           func(r models.CandidateRecord) string { return r.Name },
	normalize.Fold(LabelNationalID):  func(r models.CandidateRecord) string { return r.NationalID },
	normalize.Fold("national id"):    func(r models.CandidateRecord) string { return r.NationalID },
	normalize.Fold(LabelAge):         func(r models.CandidateRecord) string { return r.Age },
	normalize.Fold("age"):            func(r models.CandidateRecord) string { return r.Age },
	normalize.Fold(LabelInterviewer): func(r models.CandidateRecord) string { return r.Interviewer },
	normalize.Fold("interviewer"):    func(r models.CandidateRecord) string { return r.Interviewer },
}

// CandidateService turns candidate write intents into store mutations and serves list and
// summary views from the reconciled snapshot of a session.
type CandidateService struct {
	store     candidateStore
	validator *validator.Validate
	logger    *zap.Logger
	maxima    []int
	newID     func() string
}

// NewCandidateService constructs a CandidateService.
func NewCandidateService(store candidateStore, validate *validator.Validate, logger *zap.Logger) *CandidateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandidateService{
		store:     store,
		validator: validate,
		logger:    logger,
		maxima:    models.DefaultScoreMaxima,
		newID:     func() string { return "c_" + uuid.NewString() },
	}
}

// Save creates (isNew) or merges a candidate. The change becomes visible through the
// candidates feed once the store confirms it.
func (s *CandidateService) Save(ctx context.Context, sess *Session, req dto.SaveCandidateRequest, isNew bool) (*dto.CandidateView, error) {
	sc := sess.Context()
	if !sc.Role.AtLeast(models.RoleTrainer) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "readers cannot edit candidates")
	}
	if err := sess.Quota.Guard(); err != nil {
		return nil, err
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.NationalID = strings.TrimSpace(req.NationalID)
	req.Age = strings.TrimSpace(req.Age)
	req.Interviewer = strings.TrimSpace(req.Interviewer)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid candidate payload")
	}

	status, known := normalize.ParseCandidateStatus(req.Status)
	if !known {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown candidate status")
	}
	if status != models.StatusUnderReview && !sc.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can set a review outcome")
	}

	id := req.ID
	var prior models.CandidateRecord
	var hasPrior bool
	if isNew {
		id = normalize.CandidateDocID(req.NationalID)
		if id == "" {
			id = s.newID()
		}
		if _, exists := sess.Candidate(id); exists && req.NationalID != "" {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a candidate with this national id already exists")
		}
	} else if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "candidate id is required")
	} else {
		prior, hasPrior = sess.Candidate(id)
	}

	interviewer := req.Interviewer
	if interviewer == "" && hasPrior {
		interviewer = prior.Interviewer
	}

	rec := models.CandidateRecord{
		ID:          id,
		NationalID:  req.NationalID,
		Name:        req.Name,
		Age:         req.Age,
		Interviewer: firstNonEmpty(interviewer, sc.Username),
		Status:      status,
		Scores:      NormalizeScores(req.Scores, s.maxima),
		UpdatedAtMs: sess.Now().UnixMilli(),
	}
	rec.TotalScore = TotalScore(rec.Scores, s.maxima)
	rec.Answers = s.fillAnswers(sess, rec, req.Answers, prior.Answers)

	fields := map[string]interface{}{
		"nationalId":  rec.NationalID,
		"name":        rec.Name,
		"age":         rec.Age,
		"interviewer": rec.Interviewer,
		"answers":     rec.Answers,
		"scores":      rec.Scores,
		"totalScore":  rec.TotalScore,
		"updatedAtMs": rec.UpdatedAtMs,
	}
	if isNew {
		rec.CreatedAtMs = rec.UpdatedAtMs
		fields["createdAtMs"] = rec.CreatedAtMs
		fields["status"] = string(rec.Status)
	} else if sc.Role.IsAdmin() && strings.TrimSpace(req.Status) != "" {
		fields["status"] = string(rec.Status)
	}

	if err := s.store.Set(ctx, repository.CollectionCandidates, id, fields, !isNew); err != nil {
		if appErrors.IsQuota(err) {
			sess.Quota.Lock("", 0)
		}
		return nil, appErrors.Normalize(err, "failed to save candidate")
	}
	sess.Quota.BumpWrites(1)

	action := models.AuditActionUpdate
	if isNew {
		action = models.AuditActionCreate
	}
	sess.Audit.Record(models.AuditKindCandidate, action, map[string]interface{}{
		"id":         id,
		"name":       rec.Name,
		"nationalId": rec.NationalID,
	})
	if hasPrior {
		rec.CreatedAtMs = prior.CreatedAtMs
		if _, written := fields["status"]; !written {
			rec.Status = prior.Status
		}
	}
	view := s.view(sess, rec)
	return &view, nil
}

// fillAnswers starts from the stored answers so an edit only touches questions the
// caller can see and actually sent. Identity questions mirror the record fields.
func (s *CandidateService) fillAnswers(sess *Session, rec models.CandidateRecord, in, prior map[string]string) map[string]string {
	questions := DefaultQuestions()
	if cfg, err := sess.Config(); err == nil {
		questions = cfg.Questions
	}
	role := sess.Context().Role
	answers := make(map[string]string, len(questions)+len(prior))
	for id, value := range prior {
		answers[id] = value
	}
	for _, q := range questions {
		if field, ok := coreFields[normalize.Fold(q.Label)]; ok {
			answers[q.ID] = field(rec)
			continue
		}
		if value, sent := in[q.ID]; sent && q.Visibility.Allows(role) {
			answers[q.ID] = strings.TrimSpace(value)
			continue
		}
		if _, kept := answers[q.ID]; !kept {
			answers[q.ID] = ""
		}
	}
	return answers
}

// Delete removes a candidate. Admins only.
func (s *CandidateService) Delete(ctx context.Context, sess *Session, id string) error {
	sc := sess.Context()
	if !sc.Role.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins can delete candidates")
	}
	if err := sess.Quota.Guard(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return appErrors.Clone(appErrors.ErrValidation, "candidate id is required")
	}
	if err := s.store.Delete(ctx, repository.CollectionCandidates, id); err != nil {
		if appErrors.IsQuota(err) {
			sess.Quota.Lock("", 0)
		}
		return appErrors.Normalize(err, "failed to delete candidate")
	}
	sess.Quota.BumpWrites(1)
	sess.Audit.Record(models.AuditKindCandidate, models.AuditActionDelete, map[string]interface{}{"id": id})
	s.logger.Info("candidate deleted", zap.String("id", id), zap.String("uid", sc.UID))
	return nil
}

// List filters, sorts and pages the reconciled candidates. The sort order defaults to the
// profile preference.
func (s *CandidateService) List(sess *Session, query dto.ListCandidatesQuery) (*dto.CandidatePage, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid list query")
	}
	order := query.Sort
	if order == "" {
		order = sess.Profile().Preferences.SortOrder
	}
	order = normalize.SortOrder(order)

	list := FilterCandidates(sess.Candidates(), query.Search)
	SortCandidates(list, order)
	page := Paginate(list, query.Page, query.PageSize)

	items := make([]dto.CandidateView, 0, len(page.Items))
	for _, rec := range page.Items {
		items = append(items, s.view(sess, rec))
	}
	return &dto.CandidatePage{
		Items:      items,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
		TotalPages: page.TotalPages,
		Sort:       order,
	}, nil
}

// Export flattens the filtered and sorted candidates into a table with one column per
// question the role may see. Paging is ignored.
func (s *CandidateService) Export(sess *Session, query dto.ListCandidatesQuery) (export.Table, error) {
	query.Page, query.PageSize = 0, 0
	if err := s.validator.Struct(query); err != nil {
		return export.Table{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export query")
	}
	order := query.Sort
	if order == "" {
		order = sess.Profile().Preferences.SortOrder
	}
	list := FilterCandidates(sess.Candidates(), query.Search)
	SortCandidates(list, normalize.SortOrder(order))

	table := export.Table{Columns: []export.Column{
		{Key: "id", Header: "id"},
		{Key: "nationalId", Header: LabelNationalID},
		{Key: "name", Header: LabelName},
		{Key: "age", Header: LabelAge},
		{Key: "interviewer", Header: LabelInterviewer},
		{Key: "status", Header: "status"},
		{Key: "totalScore", Header: labelResult},
		{Key: "createdAt", Header: "createdAt"},
		{Key: "updatedAt", Header: "updatedAt"},
	}}
	questions := DefaultQuestions()
	if cfg, err := sess.Config(); err == nil {
		questions = cfg.Questions
	}
	role := sess.Context().Role
	var extra []models.QuestionSpec
	for _, q := range questions {
		if _, core := coreFields[normalize.Fold(q.Label)]; core || !q.Visibility.Allows(role) {
			continue
		}
		extra = append(extra, q)
		table.Columns = append(table.Columns, export.Column{Key: "q:" + q.ID, Header: q.Label})
	}

	loc := sess.Location()
	for _, rec := range list {
		row := map[string]string{
			"id":          rec.ID,
			"nationalId":  rec.NationalID,
			"name":        rec.Name,
			"age":         rec.Age,
			"interviewer": rec.Interviewer,
			"status":      string(rec.Status),
			"totalScore":  strconv.Itoa(TotalScore(rec.Scores, s.maxima)),
			"createdAt":   FormatTimestamp(rec.CreatedAtMs, loc),
			"updatedAt":   FormatTimestamp(rec.UpdatedAtMs, loc),
		}
		for _, q := range extra {
			row["q:"+q.ID] = rec.Answers[q.ID]
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// Get returns one reconciled candidate.
func (s *CandidateService) Get(sess *Session, id string) (*dto.CandidateView, error) {
	rec, ok := sess.Candidate(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "candidate not found")
	}
	view := s.view(sess, rec)
	return &view, nil
}

// Summary resolves the summary template for one candidate.
func (s *CandidateService) Summary(sess *Session, id string) (*dto.CandidateSummary, error) {
	rec, ok := sess.Candidate(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "candidate not found")
	}
	sc := sess.Context()
	in := ResolveInput{
		Candidate:       rec,
		Role:            sc.Role,
		SessionUsername: sc.Username,
		ScoreMaxima:     s.maxima,
		Location:        sess.Location(),
	}
	if cfg, err := sess.Config(); err == nil {
		in.Template, in.Questions, in.Mention = cfg.SummaryTemplate, cfg.Questions, cfg.Mention
	} else {
		in.Questions = DefaultQuestions()
		in.Template = DefaultTemplate(in.Questions)
		in.Mention = sess.cfg.DefaultMention
	}
	lines := ResolveSummary(in)
	return &dto.CandidateSummary{ID: rec.ID, Lines: lines, Text: strings.Join(lines, "\n")}, nil
}

// view strips answers to questions the role may not see.
func (s *CandidateService) view(sess *Session, rec models.CandidateRecord) dto.CandidateView {
	role := sess.Context().Role
	answers := make(map[string]string, len(rec.Answers))
	cfg, _ := sess.Config()
	for qid, answer := range rec.Answers {
		if q, ok := cfg.QuestionByID(qid); ok && !q.Visibility.Allows(role) && !normalize.IsCoreLabel(q.Label) {
			continue
		}
		answers[qid] = answer
	}
	return dto.CandidateView{
		ID:          rec.ID,
		NationalID:  rec.NationalID,
		Name:        rec.Name,
		Age:         rec.Age,
		Interviewer: rec.Interviewer,
		Status:      string(rec.Status),
		Answers:     answers,
		Scores:      append([]int(nil), rec.Scores...),
		TotalScore:  rec.TotalScore,
		CreatedAtMs: rec.CreatedAtMs,
		UpdatedAtMs: rec.UpdatedAtMs,
	}
}
