package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/candidate-sync/internal/dto"
	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/normalize"
	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

type configurationStore interface {
	Get(ctx context.Context, collection, id string) (*repository.Document, error)
	Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error
}

// SystemActor attributes writes made outside a signed-in session.
var SystemActor = models.Actor{UID: "system", Username: "syncctl", Role: models.RoleSuperAdmin}

// ConfigurationService reads and patches config/app.
type ConfigurationService struct {
	store          configurationStore
	validator      *validator.Validate
	logger         *zap.Logger
	defaultMention string
}

// NewConfigurationService constructs a ConfigurationService.
func NewConfigurationService(store configurationStore, validate *validator.Validate, logger *zap.Logger, defaultMention string) *ConfigurationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigurationService{
		store:          store,
		validator:      validate,
		logger:         logger,
		defaultMention: defaultMention,
	}
}

// Get returns the live configuration snapshot of the session, filtered to what the role
// may see.
func (s *ConfigurationService) Get(sess *Session) (*dto.ConfigView, error) {
	cfg, err := sess.Config()
	if err != nil {
		return nil, err
	}
	return configView(cfg, sess.Context().Role), nil
}

// SavePatch validates and merges a partial configuration update.
func (s *ConfigurationService) SavePatch(ctx context.Context, sess *Session, req dto.ConfigPatchRequest) (*dto.ConfigView, error) {
	sc := sess.Context()
	if !sc.Role.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can change the configuration")
	}
	if err := sess.Quota.Guard(); err != nil {
		return nil, err
	}
	if req.Questions == nil && req.SummaryTemplate == nil && req.HealthSupervisorMention == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nothing to update")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid configuration payload")
	}

	current, err := sess.Config()
	if err != nil && !errors.Is(err, appErrors.ErrNotConfigured) {
		return nil, err
	}
	questions := DefaultQuestions()
	template := DefaultTemplate(questions)
	mention := s.defaultMention
	if current != nil {
		questions, template, mention = current.Questions, current.SummaryTemplate, current.Mention
	}

	fields := make(map[string]interface{}, 5)
	if req.Questions != nil {
		next, err := validateQuestions(req.Questions)
		if err != nil {
			return nil, err
		}
		questions = next
		fields["questions"] = next
	}
	if req.SummaryTemplate != nil {
		next, err := validateTemplate(req.SummaryTemplate, questions)
		if err != nil {
			return nil, err
		}
		template = next
		fields["summaryTemplate"] = TemplateDocuments(next)
	} else if req.Questions != nil {
		if err := checkReferences(template, questions); err != nil {
			return nil, err
		}
	}
	if req.HealthSupervisorMention != nil {
		mention = strings.TrimSpace(*req.HealthSupervisorMention)
		fields["healthSupervisorMention"] = mention
	}
	fields["updatedAt"] = repository.ServerTimestamp
	fields["updatedBy"] = sc.Actor().Map()

	if err := s.store.Set(ctx, repository.CollectionConfig, repository.DocAppConfig, fields, true); err != nil {
		if appErrors.IsQuota(err) {
			sess.Quota.Lock("", 0)
		}
		return nil, appErrors.Normalize(err, "failed to save configuration")
	}
	sess.Quota.BumpWrites(1)

	changed := make([]string, 0, len(fields))
	for key := range fields {
		if key != "updatedAt" && key != "updatedBy" {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	kind := models.AuditKindConfig
	if req.Questions != nil {
		kind = models.AuditKindQuestion
	}
	sess.Audit.Record(kind, models.AuditActionUpdate, map[string]interface{}{"fields": changed})
	s.logger.Info("configuration updated", zap.String("uid", sc.UID), zap.Strings("fields", changed))

	actor := sc.Actor()
	return configView(&models.AppConfig{
		Questions:       questions,
		SummaryTemplate: template,
		Mention:         mention,
		Configured:      true,
		UpdatedAtMs:     sess.Now().UnixMilli(),
		UpdatedBy:       &actor,
	}, sc.Role), nil
}

// SeedDefaults writes the built-in configuration when config/app does not exist. A nil
// session attributes the write to SystemActor and skips quota accounting.
func (s *ConfigurationService) SeedDefaults(ctx context.Context, sess *Session) error {
	actor := SystemActor
	if sess != nil {
		if err := sess.Quota.Guard(); err != nil {
			return err
		}
		actor = sess.Context().Actor()
	}

	_, err := s.store.Get(ctx, repository.CollectionConfig, repository.DocAppConfig)
	if sess != nil {
		sess.Quota.BumpReads(1)
	}
	switch appErrors.Classify(err) {
	case appErrors.KindNone:
		return nil
	case appErrors.KindNotFound:
	default:
		if sess != nil && appErrors.IsQuota(err) {
			sess.Quota.Lock("", 0)
		}
		return appErrors.Normalize(err, "failed to read configuration")
	}

	fields := DefaultConfigFields(s.defaultMention)
	fields["updatedAt"] = repository.ServerTimestamp
	fields["updatedBy"] = actor.Map()
	if err := s.store.Set(ctx, repository.CollectionConfig, repository.DocAppConfig, fields, false); err != nil {
		if sess != nil && appErrors.IsQuota(err) {
			sess.Quota.Lock("", 0)
		}
		return appErrors.Normalize(err, "failed to seed configuration")
	}
	if sess != nil {
		sess.Quota.BumpWrites(1)
		sess.Audit.Record(models.AuditKindConfig, models.AuditActionSeedDefaults, nil)
	}
	s.logger.Info("default configuration seeded", zap.String("actor", actor.UID))
	return nil
}

// DefaultConfigFields is the stored shape of the built-in configuration.
func DefaultConfigFields(mention string) map[string]interface{} {
	questions := DefaultQuestions()
	return map[string]interface{}{
		"questions":               questions,
		"summaryTemplate":         TemplateDocuments(DefaultTemplate(questions)),
		"healthSupervisorMention": mention,
	}
}

func validateQuestions(in []dto.QuestionInput) ([]models.QuestionSpec, error) {
	if len(in) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one question is required")
	}
	out := make([]models.QuestionSpec, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, q := range in {
		id := strings.TrimSpace(q.ID)
		label := strings.TrimSpace(q.Label)
		if id == "" || label == "" {
			return nil, invalid("question %d needs an id and a label", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, invalid("duplicate question id %q", id)
		}
		seen[id] = struct{}{}
		if !normalize.ValidQuestionType(q.Type) {
			return nil, invalid("question %q has unknown type %q", id, q.Type)
		}
		spec := models.QuestionSpec{
			ID:         id,
			Label:      label,
			Type:       normalize.QuestionType(q.Type),
			Visibility: normalize.Visibility(q.Visibility),
		}
		if spec.Type == models.QuestionSingleSelect {
			for _, opt := range q.Options {
				if opt = strings.TrimSpace(opt); opt != "" {
					spec.Options = append(spec.Options, opt)
				}
			}
			if len(spec.Options) == 0 {
				return nil, invalid("question %q needs at least one option", id)
			}
		}
		out = append(out, spec)
	}
	return out, nil
}

func validateTemplate(in []dto.TemplateItemInput, questions []models.QuestionSpec) ([]models.SummaryTemplateItem, error) {
	out := make([]models.SummaryTemplateItem, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, item := range in {
		common := models.ItemCommon{
			ID:         strings.TrimSpace(item.ID),
			Enabled:    item.Enabled == nil || *item.Enabled,
			Visibility: normalize.Visibility(item.Visibility),
		}
		if common.ID == "" {
			common.ID = fmt.Sprintf("st_%d", i+1)
		}
		if _, dup := seen[common.ID]; dup {
			return nil, invalid("duplicate template item id %q", common.ID)
		}
		seen[common.ID] = struct{}{}

		kind, ok := normalize.TemplateKind(item.Kind)
		if !ok {
			return nil, invalid("template item %q has unknown kind %q", common.ID, item.Kind)
		}
		switch kind {
		case models.KindComputed:
			key, ok := normalize.ComputedKey(item.Computed)
			if !ok {
				return nil, invalid("template item %q has unknown computed key %q", common.ID, item.Computed)
			}
			out = append(out, models.ComputedItem{ItemCommon: common, Label: strings.TrimSpace(item.Label), Key: key})
		case models.KindFixed:
			text := strings.TrimSpace(item.Text)
			if text == "" {
				return nil, invalid("template item %q needs text", common.ID)
			}
			out = append(out, models.FixedItem{ItemCommon: common, Label: strings.TrimSpace(item.Label), Text: text})
		default:
			if strings.TrimSpace(item.QuestionID) == "" {
				return nil, invalid("template item %q needs a question", common.ID)
			}
			out = append(out, models.QuestionRefItem{ItemCommon: common, Label: strings.TrimSpace(item.Label), QuestionID: strings.TrimSpace(item.QuestionID)})
		}
	}
	if err := checkReferences(out, questions); err != nil {
		return nil, err
	}
	return out, nil
}

func checkReferences(template []models.SummaryTemplateItem, questions []models.QuestionSpec) error {
	known := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
	}
	for _, item := range template {
		ref, ok := item.(models.QuestionRefItem)
		if !ok || ref.QuestionID == "" {
			continue
		}
		if _, exists := known[ref.QuestionID]; !exists {
			return invalid("template item %q references unknown question %q", ref.ID, ref.QuestionID)
		}
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf(format, args...))
}

func configView(cfg *models.AppConfig, role models.Role) *dto.ConfigView {
	questions := cfg.Questions
	if !role.IsAdmin() {
		questions = make([]models.QuestionSpec, 0, len(cfg.Questions))
		for _, q := range cfg.Questions {
			if q.Visibility.Allows(role) || normalize.IsCoreLabel(q.Label) {
				questions = append(questions, q)
			}
		}
	}
	return &dto.ConfigView{
		Questions:               questions,
		SummaryTemplate:         TemplateDocuments(cfg.SummaryTemplate),
		HealthSupervisorMention: cfg.Mention,
		UpdatedAtMs:             cfg.UpdatedAtMs,
		UpdatedBy:               cfg.UpdatedBy,
	}
}
