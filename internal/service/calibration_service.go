package service

import (
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/internal/util"
	"adaptive_engine_backend/pkg/logger"
	"context"
	"math"

	"go.uber.org/zap"

	"adaptive_engine_backend/internal/model"
)

const (
	calibrationHistorySize = 10
	calibrationMinDirect   = 3 // 少于该数量时借用相关概念历史
	calibrationDecay       = 0.85
	calibrationCorrectBump = 8
	defaultStartDifficulty = 50
)

// CalibrationService 起始难度校准：基于近期作答的加权平均，无副作用
type CalibrationService struct {
	ResponseRepo *repository.ResponseRepository
	Graph        PrerequisiteProvider
}

func NewCalibrationService(responseRepo *repository.ResponseRepository, graph PrerequisiteProvider) *CalibrationService {
	return &CalibrationService{
		ResponseRepo: responseRepo,
		Graph:        graph,
	}
}

// StartingDifficulty 计算学习者在概念上的起始难度，[0,100]。
// 无任何历史时取中点 50。
func (s *CalibrationService) StartingDifficulty(ctx context.Context, learnerID, conceptID uint) (int, error) {
	history, err := s.ResponseRepo.ListRecentByLearnerConcept(learnerID, conceptID, calibrationHistorySize)
	if err != nil {
		return 0, err
	}

	if len(history) < calibrationMinDirect {
		related, err := s.relatedHistory(ctx, learnerID, conceptID)
		if err == nil && len(related) > len(history) {
			history = related
		}
	}

	if len(history) == 0 {
		return defaultStartDifficulty, nil
	}

	return weightedDifficulty(history), nil
}

// relatedHistory 直接历史不足时，借相邻概念（外部图谱给出的先修集合）的作答
func (s *CalibrationService) relatedHistory(ctx context.Context, learnerID, conceptID uint) ([]model.Response, error) {
	prereqs, err := s.Graph.PrerequisitesOf(ctx, conceptID)
	if err != nil {
		// 图谱故障可恢复：降级为仅用直接历史
		logger.Log.Warn("prerequisite graph unavailable during calibration",
			zap.Uint("conceptId", conceptID), zap.Error(err))
		return nil, util.ErrExternalService
	}
	if len(prereqs) == 0 {
		return nil, nil
	}
	conceptIDs := append([]uint{conceptID}, prereqs...)
	return s.ResponseRepo.ListRecentByLearnerConcepts(learnerID, conceptIDs, calibrationHistorySize)
}

// weightedDifficulty 按新近程度几何衰减加权；答对上调、答错下调
func weightedDifficulty(history []model.Response) int {
	var weightedSum, weightTotal float64
	for i, r := range history {
		adjusted := float64(r.InitialDifficulty)
		if r.Correct {
			adjusted += calibrationCorrectBump
		} else {
			adjusted -= calibrationCorrectBump
		}
		w := math.Pow(calibrationDecay, float64(i)) // history 新的在前
		weightedSum += adjusted * w
		weightTotal += w
	}
	return util.ClampInt(int(math.Round(weightedSum/weightTotal)), 0, 100)
}
