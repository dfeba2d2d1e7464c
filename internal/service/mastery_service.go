package service

import (
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/internal/util"
	"adaptive_engine_backend/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	masteryHighScore       = 80 // 判据1：最近3次作答得分需高于该值
	masteryTypeCoverage    = 3  // 判据2：至少覆盖的题型数
	masteryCalibrationGap  = 15 // 判据4：信心与得分平均绝对偏差上限
	masterySpacingDays     = 2  // 判据5：合格作答首尾至少相隔的日历天数
	masteryQualifyingCount = 3

	masteryCacheTTL = 10 * time.Minute
)

// MasteryService 五判据掌握校验。每次新作答后重评，幂等；
// 状态只向前推进，回退仅限显式 Reset。
type MasteryService struct {
	MasteryRepo  *repository.MasteryRepository
	ResponseRepo *repository.ResponseRepository
	ConceptRepo  *repository.ConceptRepository
	Redis        *redis.Client
}

func NewMasteryService(masteryRepo *repository.MasteryRepository, responseRepo *repository.ResponseRepository, conceptRepo *repository.ConceptRepository, rdb *redis.Client) *MasteryService {
	return &MasteryService{
		MasteryRepo:  masteryRepo,
		ResponseRepo: responseRepo,
		ConceptRepo:  conceptRepo,
		Redis:        rdb,
	}
}

// Evaluate 重评 (学习者, 概念) 的掌握状态并落库。乐观冲突时重读重评一次。
func (s *MasteryService) Evaluate(learnerID, conceptID uint) (*model.MasteryRecord, error) {
	rec, err := s.evaluateOnce(learnerID, conceptID)
	if util.IsConflict(err) {
		rec, err = s.evaluateOnce(learnerID, conceptID)
	}
	if err != nil {
		return nil, err
	}
	s.invalidateCache(learnerID, conceptID)
	return rec, nil
}

func (s *MasteryService) evaluateOnce(learnerID, conceptID uint) (*model.MasteryRecord, error) {
	rec, err := s.MasteryRepo.GetOrCreate(learnerID, conceptID)
	if err != nil {
		return nil, err
	}

	// verified ⇔ 五判据全真；存量不满足即为数据损坏，上抛而不是悄悄修
	if !rec.ConsistentWithStatus() {
		return nil, fmt.Errorf("%w: mastery record %d verified without all criteria", util.ErrDataIntegrity, rec.ID)
	}

	// 已达成的掌握不因后续作答自动回退
	if rec.Status == model.MasteryVerified {
		return rec, nil
	}

	history, err := s.ResponseRepo.ListHistoryByLearnerConcept(learnerID, conceptID, true)
	if err != nil {
		return nil, err
	}

	if len(history) == 0 {
		rec.Status = model.MasteryNotStarted
		return rec, s.MasteryRepo.SaveConditional(rec)
	}

	concept, err := s.ConceptRepo.FindByID(conceptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrConceptNotFound
		}
		return nil, err
	}

	s.applyCriteria(rec, concept, history, learnerID)

	if rec.AllCriteria() {
		now := time.Now()
		rec.Status = model.MasteryVerified
		rec.VerifiedAt = &now
		logger.Log.Info("mastery verified",
			zap.Uint("learnerId", learnerID),
			zap.Uint("conceptId", conceptID))
	} else {
		rec.Status = model.MasteryInProgress
	}

	return rec, s.MasteryRepo.SaveConditional(rec)
}

// applyCriteria 在非诊断历史（升序）上计算五项判据
func (s *MasteryService) applyCriteria(rec *model.MasteryRecord, concept *model.Concept, history []model.Response, learnerID uint) {
	qualifying := lastN(history, masteryQualifyingCount)

	// 1. 最近3次均为高分
	rec.ConsecutiveHighScores = len(qualifying) == masteryQualifyingCount &&
		allAbove(qualifying, masteryHighScore)

	if !rec.ConsecutiveHighScores {
		// 后续判据都定义在合格窗口上；窗口不成立则全部置否
		rec.MultiTypeCoverage = false
		rec.DifficultyTierMatch = false
		rec.CalibrationAccuracy = false
		rec.TimeSpacing = false
		return
	}

	// 2. 覆盖至少3种外部分类的题型
	types := map[string]bool{}
	for _, r := range qualifying {
		if r.Item != nil && r.Item.AssessmentType != "" {
			types[r.Item.AssessmentType] = true
		}
	}
	rec.MultiTypeCoverage = len(types) >= masteryTypeCoverage

	// 3. 合格作答的难度落在概念注册的目标层级内
	rec.DifficultyTierMatch = true
	for _, r := range qualifying {
		if !concept.InTier(r.InitialDifficulty) {
			rec.DifficultyTierMatch = false
			break
		}
	}

	// 4. 校准精度：信心（换算 0-100）与实际得分的平均绝对偏差 ≤ 15。
	// 诊断题作答计入此项（也仅此项）。
	rec.CalibrationAccuracy = s.calibrationAccurate(learnerID, concept.ID, qualifying)

	// 5. 时间分布：合格作答不得挤在同一个两日历天窗口内
	rec.TimeSpacing = daySpan(qualifying) >= masterySpacingDays
}

// calibrationAccurate 合格窗口期内（含窗口内的诊断题作答）的信心校准
func (s *MasteryService) calibrationAccurate(learnerID, conceptID uint, qualifying []model.Response) bool {
	window := qualifying
	if full, err := s.ResponseRepo.ListHistoryByLearnerConcept(learnerID, conceptID, false); err == nil {
		start := qualifying[0].CreatedAt
		window = window[:0:0]
		for _, r := range full {
			if !r.CreatedAt.Before(start) {
				window = append(window, r)
			}
		}
	}

	var total float64
	for _, r := range window {
		total += math.Abs(float64(r.ConfidencePercent() - r.Score))
	}
	return total/float64(len(window)) <= masteryCalibrationGap
}

// GetStatus 查询掌握状态，redis 缓存10分钟；无记录时返回 not_started 快照
func (s *MasteryService) GetStatus(ctx context.Context, learnerID, conceptID uint) (*model.MasteryRecord, error) {
	key := s.cacheKey(learnerID, conceptID)
	if s.Redis != nil {
		if val, err := s.Redis.Get(ctx, key).Result(); err == nil {
			var rec model.MasteryRecord
			if json.Unmarshal([]byte(val), &rec) == nil {
				return &rec, nil
			}
		}
	}

	rec, err := s.MasteryRepo.Find(learnerID, conceptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.MasteryRecord{
				LearnerID: learnerID,
				ConceptID: conceptID,
				Status:    model.MasteryNotStarted,
			}, nil
		}
		return nil, err
	}

	if s.Redis != nil {
		if data, err := json.Marshal(rec); err == nil {
			s.Redis.Set(ctx, key, data, masteryCacheTTL)
		}
	}
	return rec, nil
}

// Reset 显式外部重置：唯一允许 verified 状态回退的路径
func (s *MasteryService) Reset(learnerID, conceptID uint) error {
	err := s.MasteryRepo.Reset(learnerID, conceptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrNotFound
		}
		return err
	}
	s.invalidateCache(learnerID, conceptID)
	logger.Log.Info("mastery record reset",
		zap.Uint("learnerId", learnerID),
		zap.Uint("conceptId", conceptID))
	return nil
}

func (s *MasteryService) cacheKey(learnerID, conceptID uint) string {
	return fmt.Sprintf("mastery:%d:%d", learnerID, conceptID)
}

func (s *MasteryService) invalidateCache(learnerID, conceptID uint) {
	if s.Redis != nil {
		s.Redis.Del(context.Background(), s.cacheKey(learnerID, conceptID))
	}
}

func lastN(history []model.Response, n int) []model.Response {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func allAbove(responses []model.Response, threshold int) bool {
	for _, r := range responses {
		if r.Score <= threshold {
			return false
		}
	}
	return true
}

// daySpan 首尾作答相隔的日历天数
func daySpan(responses []model.Response) int {
	if len(responses) == 0 {
		return 0
	}
	first := responses[0].CreatedAt
	last := responses[len(responses)-1].CreatedAt
	fy, fm, fd := first.Date()
	ly, lm, ld := last.Date()
	firstDay := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	lastDay := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	return int(lastDay.Sub(firstDay).Hours() / 24)
}
