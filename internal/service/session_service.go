package service

import (
	"adaptive_engine_backend/internal/config"
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/internal/util"
	"adaptive_engine_backend/pkg/logger"
	"adaptive_engine_backend/pkg/monitoring"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 难度调整规则（§作答正误 × 信心高低）
const (
	deltaConfidentCorrect = 15
	deltaHesitantCorrect  = 8
	deltaOverconfident    = -20
	deltaHesitantWrong    = -10

	highConfidence = 4 // 1-5 标尺上视为"高信心"的下界

	sessionLockTTL = 30 * time.Second
)

// SessionService 自适应会话编排器：起始校准 → 选题 → 收作答 →
// 调难度 → 更新能力估计 → 掌握校验 → 终止判定。
// 一个会话单写者；redis 锁防御同会话并发提交。
type SessionService struct {
	SessionRepo  *repository.SessionRepository
	ItemRepo     *repository.ItemRepository
	ResponseRepo *repository.ResponseRepository
	ConceptRepo  *repository.ConceptRepository
	Calibration  *CalibrationService
	ItemBank     *ItemBankService
	FollowUp     *FollowUpService
	Mastery      *MasteryService
	Generator    ContentGenerator
	Redis        *redis.Client
	Cfg          config.EngineConfig
}

func NewSessionService(
	sessionRepo *repository.SessionRepository,
	itemRepo *repository.ItemRepository,
	responseRepo *repository.ResponseRepository,
	conceptRepo *repository.ConceptRepository,
	calibration *CalibrationService,
	itemBank *ItemBankService,
	followUp *FollowUpService,
	mastery *MasteryService,
	generator ContentGenerator,
	rdb *redis.Client,
	cfg config.EngineConfig,
) *SessionService {
	return &SessionService{
		SessionRepo:  sessionRepo,
		ItemRepo:     itemRepo,
		ResponseRepo: responseRepo,
		ConceptRepo:  conceptRepo,
		Calibration:  calibration,
		ItemBank:     itemBank,
		FollowUp:     followUp,
		Mastery:      mastery,
		Generator:    generator,
		Redis:        rdb,
		Cfg:          cfg,
	}
}

// ItemView 下发给学习者的题目视图（不含答案侧元数据）
type ItemView struct {
	ItemID     uint            `json:"itemId"`
	Difficulty int             `json:"difficulty"`
	Content    string          `json:"content"`
	Options    json.RawMessage `json:"options,omitempty"`
	IsFollowUp bool            `json:"isFollowUp,omitempty"`
}

// StartSessionResult 会话创建结果：会话 + 第一道题
type StartSessionResult struct {
	Session *model.AdaptiveSession `json:"session"`
	Item    *ItemView              `json:"item"`
}

// SubmitRequest 一次作答提交
type SubmitRequest struct {
	ItemID          uint   `json:"itemId" binding:"required"`
	ResponseID      string `json:"responseId"` // 幂等键，缺省时服务端生成
	Correct         bool   `json:"correct"`
	Score           *int   `json:"score"`      // 0-100 部分得分，缺省由 correct 推出
	Confidence      int    `json:"confidence" binding:"required"` // 1-5
	TimeToRespondMs int    `json:"timeToRespondMillis"`
}

// SubmitResult 作答处理结果：下一题或终止 + 本次轨迹记录
type SubmitResult struct {
	Terminated        bool                   `json:"terminated"`
	TerminationReason string                 `json:"terminationReason,omitempty"`
	NextItem          *ItemView              `json:"nextItem,omitempty"`
	TrajectoryEntry   *model.TrajectoryEntry `json:"trajectoryEntry"`
	Mastery           *model.MasteryRecord   `json:"mastery,omitempty"`
}

// StartSession 创建会话：校准起始难度，选出并下发第一题。
// 同学习者同概念已有未终止会话时直接续用（产品规则上不应并发开两个）。
func (s *SessionService) StartSession(ctx context.Context, learnerID, conceptID uint) (*StartSessionResult, error) {
	concept, err := s.ConceptRepo.FindByID(conceptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrConceptNotFound
		}
		return nil, err
	}

	if existing, err := s.SessionRepo.FindActiveByLearnerConcept(learnerID, conceptID); err == nil {
		return s.resumeSession(ctx, existing, concept)
	}

	initial, err := s.Calibration.StartingDifficulty(ctx, learnerID, conceptID)
	if err != nil {
		return nil, err
	}

	session := &model.AdaptiveSession{
		LearnerID:         learnerID,
		ConceptID:         conceptID,
		Status:            model.SessionInitializing,
		InitialDifficulty: initial,
		CurrentDifficulty: initial,
	}
	if err := s.SessionRepo.Create(session); err != nil {
		return nil, err
	}

	view, err := s.presentNextItem(ctx, session, concept, initial, false)
	if err != nil {
		return nil, err
	}

	session.Status = model.SessionAwaitingResponse
	if err := s.SessionRepo.SaveConditional(session); err != nil {
		return nil, err
	}

	logger.Log.Info("adaptive session started",
		zap.String("sessionId", session.ID),
		zap.Uint("learnerId", learnerID),
		zap.Uint("conceptId", conceptID),
		zap.Int("initialDifficulty", initial))

	return &StartSessionResult{Session: session, Item: view}, nil
}

// resumeSession 续用未终止会话：重新下发等待作答的题目
func (s *SessionService) resumeSession(ctx context.Context, session *model.AdaptiveSession, concept *model.Concept) (*StartSessionResult, error) {
	itemID := session.CurrentItemID
	isFollowUp := false
	if session.PendingFollowUpItemID != nil {
		itemID = session.PendingFollowUpItemID
		isFollowUp = true
	}
	if itemID == nil {
		// 会话未终止却无待答题目：状态损坏
		return nil, fmt.Errorf("%w: session %s active without current item", util.ErrDataIntegrity, session.ID)
	}
	item, err := s.ItemRepo.FindByID(*itemID)
	if err != nil {
		return nil, err
	}
	view, err := s.itemView(ctx, item, concept, isFollowUp)
	if err != nil {
		return nil, err
	}
	return &StartSessionResult{Session: session, Item: view}, nil
}

// SubmitResponse 处理一次作答。挂起等待外部调用期间不持有任何题库锁；
// 幂等：重复的 responseId 返回已存结果，不重复计入估计与掌握校验。
func (s *SessionService) SubmitResponse(ctx context.Context, learnerID uint, sessionID string, req *SubmitRequest) (*SubmitResult, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	unlock, err := s.acquireLock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.SessionRepo.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
		return nil, err
	}
	if session.LearnerID != learnerID {
		return nil, util.ErrSessionNotFound
	}
	if !session.Active() {
		return nil, util.ErrSessionTerminated
	}

	// 幂等提交：同一 responseId 已落库则直接回放结果
	if req.ResponseID != "" {
		if stored, err := s.ResponseRepo.FindByID(req.ResponseID); err == nil {
			return s.replayResult(session, stored)
		}
	}

	// 诊断未答完前主循环题不再受理，防止重复计入
	var isFollowUp bool
	if session.PendingFollowUpItemID != nil {
		if req.ItemID != *session.PendingFollowUpItemID {
			return nil, util.ErrItemNotInSession
		}
		isFollowUp = true
	} else if session.CurrentItemID == nil || req.ItemID != *session.CurrentItemID {
		return nil, util.ErrItemNotInSession
	}

	item, err := s.ItemRepo.FindByID(req.ItemID)
	if err != nil {
		return nil, util.ErrItemNotFound
	}

	concept, err := s.ConceptRepo.FindByID(session.ConceptID)
	if err != nil {
		return nil, err
	}

	score := deriveScore(req)

	if isFollowUp {
		return s.handleFollowUpResponse(ctx, session, concept, item, req, score)
	}
	return s.handleMainResponse(ctx, session, concept, item, req, score)
}

// handleMainResponse 主循环作答：调难度、更新能力估计、掌握校验、终止判定
func (s *SessionService) handleMainResponse(ctx context.Context, session *model.AdaptiveSession, concept *model.Concept, item *model.Item, req *SubmitRequest, score int) (*SubmitResult, error) {
	presentedDifficulty := session.CurrentDifficulty

	adjusted, reason := adjustDifficulty(session.CurrentDifficulty, req.Correct, req.Confidence)

	estimator, err := s.rebuildEstimator(session)
	if err != nil {
		return nil, err
	}
	estimator.Record(presentedDifficulty, req.Correct)

	session.AbilityEstimate = estimator.Theta()
	session.StandardError = estimator.StandardError()
	session.CurrentDifficulty = adjusted
	session.QuestionCount++
	session.Status = model.SessionAbilityUpdated

	resp := &model.Response{
		UUIDBase:           model.UUIDBase{ID: req.ResponseID},
		ItemID:             item.ID,
		LearnerID:          session.LearnerID,
		ConceptID:          session.ConceptID,
		SessionID:          session.ID,
		InitialDifficulty:  presentedDifficulty,
		Correct:            req.Correct,
		Score:              score,
		StatedConfidence:   req.Confidence,
		TimeToRespondMs:    req.TimeToRespondMs,
		AdjustedDifficulty: adjusted,
		AdjustmentReason:   reason,
		AbilityAtResponse:  session.AbilityEstimate,
	}
	if err := s.persistResponse(resp); err != nil {
		return nil, err
	}
	s.maybeRecalculateDiscrimination(item)

	entry := model.TrajectoryEntry{
		ItemID:                   item.ID,
		DifficultyAtPresentation: presentedDifficulty,
		Correct:                  req.Correct,
		AbilityAfter:             session.AbilityEstimate,
		StandardErrorAfter:       session.StandardError,
		Reason:                   reason,
	}
	if err := session.AppendTrajectory(entry); err != nil {
		return nil, err
	}

	mastery, err := s.Mastery.Evaluate(session.LearnerID, session.ConceptID)
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{TrajectoryEntry: &entry, Mastery: mastery}

	// 终止判定：掌握达成优先于估计精度
	if mastery.Status == model.MasteryVerified {
		return result, s.terminate(session, model.TerminationMastery, result)
	}
	if stop, stopReason := estimator.ShouldStop(s.Cfg.SEThreshold, s.Cfg.MinQuestions, s.Cfg.MaxQuestions); stop {
		return result, s.terminate(session, stopReason, result)
	}

	// 弱作答触发先修诊断题
	if Triggered(req.Correct, score) {
		if selection, _, err := s.FollowUp.DiagnosticItem(ctx, session.LearnerID, session.ConceptID); err == nil && selection != nil {
			view, verr := s.itemView(ctx, selection.Item, concept, true)
			if verr == nil {
				session.PendingFollowUpItemID = &selection.Item.ID
				parentID := item.ID
				session.FollowUpParentItemID = &parentID
				session.Status = model.SessionAwaitingResponse
				result.NextItem = view
				return result, s.SessionRepo.SaveConditional(session)
			}
		}
	}

	view, err := s.presentNextItem(ctx, session, concept, session.CurrentDifficulty, false)
	if err != nil {
		return nil, err
	}
	session.Status = model.SessionAwaitingResponse
	result.NextItem = view
	return result, s.SessionRepo.SaveConditional(session)
}

// handleFollowUpResponse 诊断题作答：不进能力估计，不调难度，
// 但计入被评概念的校准精度判据
func (s *SessionService) handleFollowUpResponse(ctx context.Context, session *model.AdaptiveSession, concept *model.Concept, item *model.Item, req *SubmitRequest, score int) (*SubmitResult, error) {
	resp := &model.Response{
		UUIDBase:          model.UUIDBase{ID: req.ResponseID},
		ItemID:            item.ID,
		LearnerID:         session.LearnerID,
		ConceptID:         session.ConceptID, // 先修归属由题目自身概念与 ParentItemID 保留
		SessionID:         session.ID,
		InitialDifficulty: item.Difficulty,
		Correct:           req.Correct,
		Score:             score,
		StatedConfidence:  req.Confidence,
		TimeToRespondMs:   req.TimeToRespondMs,
		IsFollowUp:        true,
		ParentItemID:      session.FollowUpParentItemID,
		AbilityAtResponse: session.AbilityEstimate,
	}
	if err := s.persistResponse(resp); err != nil {
		return nil, err
	}
	s.maybeRecalculateDiscrimination(item)

	entry := model.TrajectoryEntry{
		ItemID:                   item.ID,
		DifficultyAtPresentation: item.Difficulty,
		Correct:                  req.Correct,
		IsFollowUp:               true,
		AbilityAfter:             session.AbilityEstimate,
		StandardErrorAfter:       session.StandardError,
		Reason:                   "diagnostic",
	}
	if err := session.AppendTrajectory(entry); err != nil {
		return nil, err
	}

	session.PendingFollowUpItemID = nil
	session.FollowUpParentItemID = nil

	// 每次新作答后重评掌握：诊断作答可改变校准精度判据
	mastery, err := s.Mastery.Evaluate(session.LearnerID, session.ConceptID)
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{TrajectoryEntry: &entry, Mastery: mastery}
	if mastery.Status == model.MasteryVerified {
		return result, s.terminate(session, model.TerminationMastery, result)
	}

	// 诊断结束，回到主循环
	view, err := s.presentNextItem(ctx, session, concept, session.CurrentDifficulty, false)
	if err != nil {
		return nil, err
	}
	session.Status = model.SessionAwaitingResponse
	result.NextItem = view
	return result, s.SessionRepo.SaveConditional(session)
}

// Pause 学习者显式暂停：终止会话并固化轨迹
func (s *SessionService) Pause(ctx context.Context, learnerID uint, sessionID string) (*model.AdaptiveSession, error) {
	unlock, err := s.acquireLock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.SessionRepo.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
		return nil, err
	}
	if session.LearnerID != learnerID {
		return nil, util.ErrSessionNotFound
	}
	if !session.Active() {
		return session, nil
	}

	if err := s.terminate(session, model.TerminationPaused, nil); err != nil {
		return nil, err
	}
	return session, nil
}

// GetTrajectory 查询会话及其完整轨迹
func (s *SessionService) GetTrajectory(learnerID uint, sessionID string) (*model.AdaptiveSession, error) {
	session, err := s.SessionRepo.FindByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
		return nil, err
	}
	if session.LearnerID != learnerID {
		return nil, util.ErrSessionNotFound
	}
	return session, nil
}

// terminate 统一终止路径：置状态、记录原因、落库、计数
func (s *SessionService) terminate(session *model.AdaptiveSession, reason string, result *SubmitResult) error {
	now := time.Now()
	session.Status = model.SessionTerminated
	session.TerminationReason = reason
	session.TerminatedAt = &now
	session.CurrentItemID = nil
	session.PendingFollowUpItemID = nil
	session.FollowUpParentItemID = nil

	if result != nil {
		result.Terminated = true
		result.TerminationReason = reason
	}

	if err := s.SessionRepo.SaveConditional(session); err != nil {
		return err
	}

	monitoring.SessionsTerminatedCounter.WithLabelValues(reason).Inc()
	logger.Log.Info("adaptive session terminated",
		zap.String("sessionId", session.ID),
		zap.String("reason", reason),
		zap.Int("questions", session.QuestionCount),
		zap.Float64("ability", session.AbilityEstimate))
	return nil
}

// presentNextItem 选题并确保题干可用。生成服务故障时回退复用已生成
// 内容的题目；选题占用与外部生成调用之间不持有任何锁。
func (s *SessionService) presentNextItem(ctx context.Context, session *model.AdaptiveSession, concept *model.Concept, targetDifficulty int, isFollowUp bool) (*ItemView, error) {
	selection, err := s.ItemBank.SelectItem(session.LearnerID, session.ConceptID, targetDifficulty)
	if err != nil {
		return nil, err
	}

	view, err := s.itemView(ctx, selection.Item, concept, isFollowUp)
	if err != nil {
		return nil, err
	}

	session.CurrentItemID = &selection.Item.ID
	return view, nil
}

// itemView 组装下发视图；题干缺失时调用生成服务，失败则换用已有内容的题目。
// 诊断题归属先修概念，生成时按题目自身概念取名。
func (s *SessionService) itemView(ctx context.Context, item *model.Item, concept *model.Concept, isFollowUp bool) (*ItemView, error) {
	if item.Content == "" {
		if concept == nil || concept.ID != item.ConceptID {
			c, cerr := s.ConceptRepo.FindByID(item.ConceptID)
			if cerr != nil {
				return nil, cerr
			}
			concept = c
		}
		content, err := s.Generator.GenerateItemContent(ctx, concept.Name, item.Difficulty)
		if err == nil {
			item.Content = content.Text
			item.Options = content.Options
			if uerr := s.ItemRepo.UpdateContent(item.ID, content.Text, content.Options); uerr != nil {
				return nil, uerr
			}
		} else {
			monitoring.GenerationFallbackCounter.Inc()
			logger.Log.Warn("item content generation failed, falling back to generated pool",
				zap.Uint("itemId", item.ID), zap.Error(err))
			fallback, ferr := s.generatedFallback(item)
			if ferr != nil {
				return nil, fmt.Errorf("%w: no generated item available: %v", util.ErrExternalService, err)
			}
			*item = *fallback
		}
	}

	return &ItemView{
		ItemID:     item.ID,
		Difficulty: item.Difficulty,
		Content:    item.Content,
		Options:    item.Options,
		IsFollowUp: isFollowUp,
	}, nil
}

// generatedFallback 同概念下已有题干、难度最接近的替代题
func (s *SessionService) generatedFallback(item *model.Item) (*model.Item, error) {
	candidates, err := s.ItemRepo.ListCandidates(item.ConceptID)
	if err != nil {
		return nil, err
	}
	var best *model.Item
	for i := range candidates {
		c := &candidates[i]
		if c.ID == item.ID || c.Content == "" {
			continue
		}
		if best == nil || abs(c.Difficulty-item.Difficulty) < abs(best.Difficulty-item.Difficulty) {
			best = c
		}
	}
	if best == nil {
		return nil, util.ErrEmptyItemBank
	}
	return best, nil
}

// rebuildEstimator 由已存轨迹重建能力估计器（诊断题不计入）
func (s *SessionService) rebuildEstimator(session *model.AdaptiveSession) (*AbilityEstimator, error) {
	entries, err := session.TrajectoryEntries()
	if err != nil {
		return nil, fmt.Errorf("%w: trajectory unreadable for session %s: %v", util.ErrDataIntegrity, session.ID, err)
	}
	estimator := NewAbilityEstimator()
	for _, e := range entries {
		if e.IsFollowUp {
			continue
		}
		estimator.Record(e.DifficultyAtPresentation, e.Correct)
	}
	return estimator, nil
}

// persistResponse 幂等落库：主键冲突说明重试提交已成功，不再重复写
func (s *SessionService) persistResponse(resp *model.Response) error {
	err := s.ResponseRepo.Create(resp)
	if err == nil {
		return nil
	}
	if resp.ID != "" {
		if _, ferr := s.ResponseRepo.FindByID(resp.ID); ferr == nil {
			return nil
		}
	}
	return err
}

// maybeRecalculateDiscrimination 第 N 次作答后异步补算区分度，不阻塞会话
func (s *SessionService) maybeRecalculateDiscrimination(item *model.Item) {
	if item.ResponseCount+1 < s.Cfg.DiscriminationMinN {
		return
	}
	itemID := item.ID
	go func() {
		if err := s.ItemBank.RecalculateDiscrimination(itemID); err != nil {
			logger.Log.Error("discrimination recalculation failed",
				zap.Uint("itemId", itemID), zap.Error(err))
		}
	}()
}

// replayResult 重复提交的回放：优先取轨迹中的当次原始记录（含标准误），
// 轨迹缺失时由已存作答重建；不再推进会话
func (s *SessionService) replayResult(session *model.AdaptiveSession, stored *model.Response) (*SubmitResult, error) {
	entry := model.TrajectoryEntry{
		ItemID:                   stored.ItemID,
		DifficultyAtPresentation: stored.InitialDifficulty,
		Correct:                  stored.Correct,
		IsFollowUp:               stored.IsFollowUp,
		AbilityAfter:             stored.AbilityAtResponse,
		Reason:                   stored.AdjustmentReason,
	}
	// 冷却期内同一道题在会话中不会重复出现，题目ID即可定位原记录
	if entries, err := session.TrajectoryEntries(); err == nil {
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].ItemID == stored.ItemID && entries[i].IsFollowUp == stored.IsFollowUp {
				entry = entries[i]
				break
			}
		}
	}
	result := &SubmitResult{TrajectoryEntry: &entry}
	if !session.Active() {
		result.Terminated = true
		result.TerminationReason = session.TerminationReason
	}
	return result, nil
}

// acquireLock 会话级 redis 锁：同一会话的提交串行化。redis 不可用时
// 跳过（单实例部署下会话本就单写者）。
func (s *SessionService) acquireLock(ctx context.Context, sessionID string) (func(), error) {
	if s.Redis == nil {
		return func() {}, nil
	}
	key := "session_lock:" + sessionID
	ok, err := s.Redis.SetNX(ctx, key, 1, sessionLockTTL).Result()
	if err != nil {
		logger.Log.Warn("session lock unavailable", zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, util.ErrSessionBusy
	}
	return func() {
		s.Redis.Del(context.Background(), key)
	}, nil
}

// adjustDifficulty 难度调整规则，结果截断到 [0,100]
func adjustDifficulty(current int, correct bool, confidence int) (int, string) {
	var delta int
	var reason string
	switch {
	case correct && confidence >= highConfidence:
		delta, reason = deltaConfidentCorrect, model.AdjustConfidentCorrect
	case correct:
		delta, reason = deltaHesitantCorrect, model.AdjustHesitantCorrect
	case confidence >= highConfidence:
		delta, reason = deltaOverconfident, model.AdjustOverconfidenceCorrection
	default:
		delta, reason = deltaHesitantWrong, model.AdjustIncorrect
	}
	return util.ClampInt(current+delta, 0, 100), reason
}

func deriveScore(req *SubmitRequest) int {
	if req.Score != nil {
		return util.ClampInt(*req.Score, 0, 100)
	}
	if req.Correct {
		return 100
	}
	return 0
}

func validateSubmit(req *SubmitRequest) error {
	if req.ItemID == 0 {
		return util.Validationf("itemId is required")
	}
	if req.Confidence < 1 || req.Confidence > 5 {
		return util.Validationf("confidence must be between 1 and 5, got %d", req.Confidence)
	}
	if req.Score != nil && (*req.Score < 0 || *req.Score > 100) {
		return util.Validationf("score must be between 0 and 100, got %d", *req.Score)
	}
	if req.TimeToRespondMs < 0 {
		return util.Validationf("timeToRespondMillis must be non-negative")
	}
	return nil
}
