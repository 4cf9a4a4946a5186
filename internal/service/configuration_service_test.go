package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/candidate-sync/internal/dto"
	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

var (
	adminIdentity   = Identity{UID: "root", Email: "root@example.com", Name: "root"}
	trainerIdentity = Identity{UID: "t1", Email: "sara@example.com", Name: "sara"}
)

// waitConfigured blocks until the session holds a configuration snapshot.
func waitConfigured(t *testing.T, sess *Session) *models.AppConfig {
	t.Helper()
	var cfg *models.AppConfig
	require.Eventually(t, func() bool {
		got, err := sess.Config()
		cfg = got
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return cfg
}

func newConfigFixture(t *testing.T) (*sessionFixture, *ConfigurationService) {
	t.Helper()
	f := newSessionFixture(t)
	svc := NewConfigurationService(f.store, nil, nil, "@supervisors")
	f.reg.SetSeeder(svc)
	return f, svc
}

func codeOf(err error) string {
	if e := appErrors.FromError(err); e != nil {
		return e.Code
	}
	return ""
}

func TestConfigurationSeededForAdmin(t *testing.T) {
	f, svc := newConfigFixture(t)
	sess, err := f.reg.Start(context.Background(), adminIdentity)
	require.NoError(t, err)

	cfg := waitConfigured(t, sess)
	assert.Len(t, cfg.Questions, len(DefaultQuestions()))
	assert.Equal(t, "@supervisors", cfg.Mention)
	require.NotNil(t, cfg.UpdatedBy)
	assert.Equal(t, "root", cfg.UpdatedBy.UID)

	view, err := svc.Get(sess)
	require.NoError(t, err)
	assert.Len(t, view.SummaryTemplate, 11)
}

func TestConfigurationSeedWithoutSession(t *testing.T) {
	store := repository.NewMemoryStore(repository.Options{})
	svc := NewConfigurationService(store, nil, nil, "@supervisors")
	ctx := context.Background()

	require.NoError(t, svc.SeedDefaults(ctx, nil))
	doc, err := store.Get(ctx, repository.CollectionConfig, repository.DocAppConfig)
	require.NoError(t, err)
	var stored models.AppConfigDocument
	require.NoError(t, doc.Decode(&stored))
	require.NotNil(t, stored.UpdatedBy)
	assert.Equal(t, SystemActor.UID, stored.UpdatedBy.UID)

	require.NoError(t, store.Set(ctx, repository.CollectionConfig, repository.DocAppConfig, map[string]interface{}{"healthSupervisorMention": "@kept"}, true))
	require.NoError(t, svc.SeedDefaults(ctx, nil))
	doc, err = store.Get(ctx, repository.CollectionConfig, repository.DocAppConfig)
	require.NoError(t, err)
	require.NoError(t, doc.Decode(&stored))
	assert.Equal(t, "@kept", *stored.HealthSupervisorMention)
}

func TestConfigurationSavePatch(t *testing.T) {
	f, svc := newConfigFixture(t)
	sess, err := f.reg.Start(context.Background(), adminIdentity)
	require.NoError(t, err)
	waitConfigured(t, sess)

	mention := " @team "
	view, err := svc.SavePatch(context.Background(), sess, dto.ConfigPatchRequest{HealthSupervisorMention: &mention})
	require.NoError(t, err)
	assert.Equal(t, "@team", view.HealthSupervisorMention)
	assert.Len(t, view.Questions, len(DefaultQuestions()))

	require.Eventually(t, func() bool {
		cfg, err := sess.Config()
		return err == nil && cfg.Mention == "@team"
	}, 2*time.Second, 10*time.Millisecond)

	local := sess.Audit.Local()
	require.NotEmpty(t, local)
	assert.Equal(t, models.AuditKindConfig, local[0].Kind)
	assert.Equal(t, models.AuditActionUpdate, local[0].Action)

	view, err = svc.SavePatch(context.Background(), sess, dto.ConfigPatchRequest{
		Questions: []dto.QuestionInput{
			{ID: "q_name", Label: LabelName, Type: "text"},
			{ID: "q_mood", Label: "Mood", Type: "single-select", Options: []string{"good", " ", "bad"}, Visibility: "admins"},
		},
		SummaryTemplate: []dto.TemplateItemInput{
			{Kind: "question-reference", QuestionID: "q_mood"},
			{Kind: "computed", Computed: "total-score", Label: "Total"},
		},
	})
	require.NoError(t, err)
	require.Len(t, view.Questions, 2)
	assert.Equal(t, []string{"good", "bad"}, view.Questions[1].Options)
	assert.Equal(t, models.VisibilityAdminsOnly, view.Questions[1].Visibility)
	assert.Equal(t, "st_1", view.SummaryTemplate[0].ID)
}

func TestConfigurationSavePatchRejects(t *testing.T) {
	f, svc := newConfigFixture(t)
	ctx := context.Background()
	require.NoError(t, svc.SeedDefaults(ctx, nil))

	admin, err := f.reg.Start(ctx, adminIdentity)
	require.NoError(t, err)
	waitConfigured(t, admin)

	cases := map[string]dto.ConfigPatchRequest{
		"empty patch": {},
		"duplicate ids": {Questions: []dto.QuestionInput{
			{ID: "a", Label: "A", Type: "text"},
			{ID: "a", Label: "B", Type: "text"},
		}},
		"unknown type":        {Questions: []dto.QuestionInput{{ID: "a", Label: "A", Type: "slider"}}},
		"select needs option": {Questions: []dto.QuestionInput{{ID: "a", Label: "A", Type: "select"}}},
		"dangling template ref": {SummaryTemplate: []dto.TemplateItemInput{
			{Kind: "question-reference", QuestionID: "missing"},
		}},
		"unknown computed key":     {SummaryTemplate: []dto.TemplateItemInput{{Kind: "computed", Computed: "average"}}},
		"existing template breaks": {Questions: []dto.QuestionInput{{ID: "only", Label: "Only", Type: "text"}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SavePatch(ctx, admin, req)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, codeOf(err))
		})
	}

	trainer, err := f.reg.Start(ctx, trainerIdentity)
	require.NoError(t, err)
	mention := "@x"
	_, err = svc.SavePatch(ctx, trainer, dto.ConfigPatchRequest{HealthSupervisorMention: &mention})
	assert.Equal(t, appErrors.ErrForbidden.Code, codeOf(err))

	admin.Quota.Lock("", governorEpoch.Add(time.Hour).UnixMilli())
	_, err = svc.SavePatch(ctx, admin, dto.ConfigPatchRequest{HealthSupervisorMention: &mention})
	var lockErr *LockError
	assert.True(t, errors.As(err, &lockErr))
}

func TestConfigurationViewHidesAdminQuestions(t *testing.T) {
	cfg := &models.AppConfig{Questions: []models.QuestionSpec{
		{ID: "q_name", Label: LabelName, Visibility: models.VisibilityAdminsOnly},
		{ID: "q_secret", Label: "Secret", Visibility: models.VisibilityAdminsOnly},
		{ID: "q_open", Label: "Open", Visibility: models.VisibilityAll},
	}}
	view := configView(cfg, models.RoleTrainer)
	require.Len(t, view.Questions, 2)
	assert.Equal(t, "q_name", view.Questions[0].ID)
	assert.Equal(t, "q_open", view.Questions[1].ID)
	assert.Len(t, configView(cfg, models.RoleAdmin).Questions, 3)
}
