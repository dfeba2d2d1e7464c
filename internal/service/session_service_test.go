package service

import (
	"adaptive_engine_backend/internal/config"
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/internal/util"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSessionService(db *gorm.DB, cfg config.EngineConfig, graph PrerequisiteProvider, gen ContentGenerator) *SessionService {
	itemRepo := repository.NewItemRepository(db)
	responseRepo := repository.NewResponseRepository(db)
	conceptRepo := repository.NewConceptRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	masteryRepo := repository.NewMasteryRepository(db)

	itemBank := NewItemBankService(itemRepo, responseRepo, cfg)
	calibration := NewCalibrationService(responseRepo, graph)
	followUp := NewFollowUpService(graph, responseRepo, itemBank)
	mastery := NewMasteryService(masteryRepo, responseRepo, conceptRepo, nil)

	return NewSessionService(
		sessionRepo, itemRepo, responseRepo, conceptRepo,
		calibration, itemBank, followUp, mastery,
		gen, nil, cfg,
	)
}

func seedSessionFixture(t *testing.T, db *gorm.DB) (*model.Concept, map[int]*model.Item) {
	t.Helper()
	concept := createConcept(t, db, "cardiac-conduction", 0, 100)
	items := map[int]*model.Item{}
	for _, d := range []int{10, 30, 38, 50, 70, 90} {
		items[d] = createItem(t, db, concept.ID, d, "recall", "stem")
	}
	return concept, items
}

func TestStartSessionColdStart(t *testing.T) {
	db := newTestDB(t)
	concept, items := seedSessionFixture(t, db)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{text: "generated"})

	result, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	// 无历史：中点起步，第一题难度最接近50
	assert.Equal(t, 50, result.Session.InitialDifficulty)
	assert.Equal(t, 50, result.Session.CurrentDifficulty)
	assert.Equal(t, model.SessionAwaitingResponse, result.Session.Status)
	assert.Equal(t, items[50].ID, result.Item.ItemID)
	require.NotNil(t, result.Session.CurrentItemID)
	assert.Equal(t, items[50].ID, *result.Session.CurrentItemID)
}

func TestStartSessionUnknownConcept(t *testing.T) {
	db := newTestDB(t)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{text: "g"})

	_, err := svc.StartSession(context.Background(), 1, 9999)
	assert.ErrorIs(t, err, util.ErrConceptNotFound)
}

func TestStartSessionResumesActiveSession(t *testing.T) {
	db := newTestDB(t)
	concept, _ := seedSessionFixture(t, db)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{text: "g"})

	first, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	second, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, first.Item.ItemID, second.Item.ItemID)
}

func TestSubmitOverconfidenceCorrection(t *testing.T) {
	db := newTestDB(t)
	concept, items := seedSessionFixture(t, db)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{text: "g"})

	start, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	// 高信心答错：难度大幅下调 50 → 30
	result, err := svc.SubmitResponse(context.Background(), 1, start.Session.ID, &SubmitRequest{
		ItemID:     start.Item.ItemID,
		Correct:    false,
		Confidence: 5,
	})
	require.NoError(t, err)

	assert.False(t, result.Terminated)
	assert.Equal(t, model.AdjustOverconfidenceCorrection, result.TrajectoryEntry.Reason)

	session, err := svc.SessionRepo.FindByID(start.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, session.CurrentDifficulty)
	assert.Equal(t, 1, session.QuestionCount)
	assert.Less(t, session.AbilityEstimate, 0.0)
	require.NotNil(t, result.NextItem)
	assert.Equal(t, items[30].ID, result.NextItem.ItemID)

	// 低信心答对：小幅上调 30 → 38
	result, err = svc.SubmitResponse(context.Background(), 1, session.ID, &SubmitRequest{
		ItemID:     result.NextItem.ItemID,
		Correct:    true,
		Confidence: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, model.AdjustHesitantCorrect, result.TrajectoryEntry.Reason)

	session, err = svc.SessionRepo.FindByID(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 38, session.CurrentDifficulty)
	assert.Equal(t, 2, session.QuestionCount)
}

func TestSubmitConfidentCorrectRaisesDifficulty(t *testing.T) {
	db := newTestDB(t)
	concept, _ := seedSessionFixture(t, db)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{text: "g"})

	start, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	result, err := svc.SubmitResponse(context.Background(), 1, start.Session.ID, &SubmitRequest{
		ItemID:     start.Item.ItemID,
		Correct:    true,
		Confidence: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, model.AdjustConfidentCorrect, result.TrajectoryEntry.Reason)

	session, err := svc.SessionRepo.FindByID(start.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 65, session.CurrentDifficulty)
	assert.Greater(t, session.AbilityEstimate, 0.0)
}

func TestSubmitTerminatesAtQuestionCap(t *testing.T) {
	db := newTestDB(t)
	concept, _ := seedSessionFixture(t, db)
	cfg := testEngineConfig()
	cfg.MinQuestions = 2
	cfg.MaxQuestions = 2
	svc := newSessionService(db, cfg, &stubGraph{}, &stubGenerator{text: "g"})

	start, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	result, err := svc.SubmitResponse(context.Background(), 1, start.Session.ID, &SubmitRequest{
		ItemID:     start.Item.ItemID,
		Correct:    true,
		Confidence: 3,
	})
	require.NoError(t, err)
	require.False(t, result.Terminated)
	require.NotNil(t, result.NextItem)

	result, err = svc.SubmitResponse(context.Background(), 1, start.Session.ID, &SubmitRequest{
		ItemID:     result.NextItem.ItemID,
		Correct:    false,
		Confidence: 3,
	})
	require.NoError(t, err)

	assert.True(t, result.Terminated)
	assert.Equal(t, model.TerminationHardCap, result.TerminationReason)
	assert.Nil(t, result.NextItem)

	session, err := svc.SessionRepo.FindByID(start.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionTerminated, session.Status)
	assert.NotNil(t, session.TerminatedAt)
	assert.Nil(t, session.CurrentItemID)
}

func TestSubmitWeakResponseIssuesDiagnostic(t *testing.T) {
	db := newTestDB(t)
	concept, _ := seedSessionFixture(t, db)
	prereq := createConcept(t, db, "membrane-potential", 0, 100)
	diagItem := createItem(t, db, prereq.ID, 50, "recall", "diag")

	svc := newSessionService(db, testEngineConfig(), &stubGraph{prereqs: []uint{prereq.ID}}, &stubGenerator{text: "g"})

	start, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	result, err := svc.SubmitResponse(context.Background(), 1, start.Session.ID, &SubmitRequest{
		ItemID:     start.Item.ItemID,
		Correct:    false,
		Confidence: 2,
	})
	require.NoError(t, err)

	require.NotNil(t, result.NextItem)
	assert.True(t, result.NextItem.IsFollowUp)
	assert.Equal(t, diagItem.ID, result.NextItem.ItemID)

	session, err := svc.SessionRepo.FindByID(start.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, session.PendingFollowUpItemID)
	assert.Equal(t, diagItem.ID, *session.PendingFollowUpItemID)

	// 诊断未答完前，主循环题即使换新 responseId 也不受理
	_, err = svc.SubmitResponse(context.Background(), 1, session.ID, &SubmitRequest{
		ItemID:     start.Item.ItemID,
		ResponseID: model.GenerateUUID(),
		Correct:    true,
		Confidence: 3,
	})
	assert.ErrorIs(t, err, util.ErrItemNotInSession)

	// 诊断作答：不计入题数与能力估计，答完回到主循环
	abilityBefore := session.AbilityEstimate
	result, err = svc.SubmitResponse(context.Background(), 1, session.ID, &SubmitRequest{
		ItemID:     diagItem.ID,
		Correct:    false,
		Confidence: 2,
	})
	require.NoError(t, err)

	assert.True(t, result.TrajectoryEntry.IsFollowUp)
	require.NotNil(t, result.Mastery) // 诊断作答后同样重评掌握
	require.NotNil(t, result.NextItem)
	assert.False(t, result.NextItem.IsFollowUp)

	session, err = svc.SessionRepo.FindByID(session.ID)
	require.NoError(t, err)
	assert.Nil(t, session.PendingFollowUpItemID)
	assert.Equal(t, 1, session.QuestionCount)
	assert.Equal(t, abilityBefore, session.AbilityEstimate)

	// 诊断作答计入被评概念的掌握历史（校准精度判据可见），
	// 先修归属由题目本身与 ParentItemID 追溯
	var diag model.Response
	require.NoError(t, db.First(&diag, "is_follow_up = ?", true).Error)
	assert.Equal(t, concept.ID, diag.ConceptID)
	assert.Equal(t, diagItem.ID, diag.ItemID)
	require.NotNil(t, diag.ParentItemID)
	assert.Equal(t, start.Item.ItemID, *diag.ParentItemID)
}

func TestSubmitGraphFailureSkipsDiagnostic(t *testing.T) {
	db := newTestDB(t)
	concept, _ := seedSessionFixture(t, db)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{err: errGenerationDown}, &stubGenerator{text: "g"})

	start, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	// 图谱故障：诊断路径吸收故障，会话照常推进
	result, err := svc.SubmitResponse(context.Background(), 1, start.Session.ID, &SubmitRequest{
		ItemID:     start.Item.ItemID,
		Correct:    false,
		Confidence: 2,
	})
	require.NoError(t, err)
	require.NotNil(t, result.NextItem)
	assert.False(t, result.NextItem.IsFollowUp)
}

func TestSubmitIdempotentReplay(t *testing.T) {
	db := newTestDB(t)
	concept, _ := seedSessionFixture(t, db)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{text: "g"})

	start, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	req := &SubmitRequest{
		ItemID:     start.Item.ItemID,
		ResponseID: model.GenerateUUID(),
		Correct:    true,
		Confidence: 4,
	}
	first, err := svc.SubmitResponse(context.Background(), 1, start.Session.ID, req)
	require.NoError(t, err)

	// 网络重试同一 responseId：回放与首次一致的完整结果，不重复记账
	second, err := svc.SubmitResponse(context.Background(), 1, start.Session.ID, req)
	require.NoError(t, err)
	assert.Equal(t, first.TrajectoryEntry.ItemID, second.TrajectoryEntry.ItemID)
	assert.Equal(t, first.TrajectoryEntry.Reason, second.TrajectoryEntry.Reason)
	assert.Equal(t, first.TrajectoryEntry.AbilityAfter, second.TrajectoryEntry.AbilityAfter)
	require.NotNil(t, second.TrajectoryEntry.StandardErrorAfter)
	assert.Equal(t, *first.TrajectoryEntry.StandardErrorAfter, *second.TrajectoryEntry.StandardErrorAfter)

	var count int64
	require.NoError(t, db.Model(&model.Response{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	session, err := svc.SessionRepo.FindByID(start.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.QuestionCount)
}

func TestSubmitRejectsForeignItem(t *testing.T) {
	db := newTestDB(t)
	concept, items := seedSessionFixture(t, db)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{text: "g"})

	start, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	wrong := items[90].ID
	if wrong == start.Item.ItemID {
		wrong = items[10].ID
	}
	_, err = svc.SubmitResponse(context.Background(), 1, start.Session.ID, &SubmitRequest{
		ItemID:     wrong,
		Correct:    true,
		Confidence: 3,
	})
	assert.ErrorIs(t, err, util.ErrItemNotInSession)
}

func TestSubmitValidatesConfidence(t *testing.T) {
	db := newTestDB(t)
	concept, _ := seedSessionFixture(t, db)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{text: "g"})

	start, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	_, err = svc.SubmitResponse(context.Background(), 1, start.Session.ID, &SubmitRequest{
		ItemID:     start.Item.ItemID,
		Correct:    true,
		Confidence: 6,
	})
	assert.True(t, util.IsValidation(err))
}

func TestPauseTerminatesSession(t *testing.T) {
	db := newTestDB(t)
	concept, _ := seedSessionFixture(t, db)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{text: "g"})

	start, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	session, err := svc.Pause(context.Background(), 1, start.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionTerminated, session.Status)
	assert.Equal(t, model.TerminationPaused, session.TerminationReason)

	// 已终止的会话拒绝作答
	_, err = svc.SubmitResponse(context.Background(), 1, session.ID, &SubmitRequest{
		ItemID:     start.Item.ItemID,
		Correct:    true,
		Confidence: 3,
	})
	assert.ErrorIs(t, err, util.ErrSessionTerminated)
}

func TestGetTrajectoryChecksOwnership(t *testing.T) {
	db := newTestDB(t)
	concept, _ := seedSessionFixture(t, db)
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{text: "g"})

	start, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	_, err = svc.GetTrajectory(2, start.Session.ID)
	assert.ErrorIs(t, err, util.ErrSessionNotFound)

	session, err := svc.GetTrajectory(1, start.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, start.Session.ID, session.ID)
}

func TestItemContentGeneratedOnDemand(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "action-potential", 0, 100)
	item := createItem(t, db, concept.ID, 50, "recall", "") // 题干留空
	gen := &stubGenerator{text: "which phase does the plateau occur in?"}
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, gen)

	result, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, gen.text, result.Item.Content)

	// 生成结果持久化，后续复用不再调用生成服务
	var stored model.Item
	require.NoError(t, db.First(&stored, item.ID).Error)
	assert.Equal(t, gen.text, stored.Content)
}

func TestGenerationFailureFallsBackToGeneratedItem(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "refractory-period", 0, 100)
	createItem(t, db, concept.ID, 50, "recall", "") // 无题干，生成会失败
	ready := createItem(t, db, concept.ID, 60, "recall", "ready stem")
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{err: errGenerationDown})

	result, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.NoError(t, err)

	assert.Equal(t, ready.ID, result.Item.ItemID)
	assert.Equal(t, "ready stem", result.Item.Content)
	require.NotNil(t, result.Session.CurrentItemID)
	assert.Equal(t, ready.ID, *result.Session.CurrentItemID)
}

func TestGenerationFailureWithNoFallbackFails(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "isolated-concept", 0, 100)
	createItem(t, db, concept.ID, 50, "recall", "")
	svc := newSessionService(db, testEngineConfig(), &stubGraph{}, &stubGenerator{err: errGenerationDown})

	_, err := svc.StartSession(context.Background(), 1, concept.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrExternalService)
}
