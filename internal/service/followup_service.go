package service

import (
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/pkg/logger"
	"context"

	"go.uber.org/zap"
)

// 低于该得分率的作答触发诊断题
const FollowUpScoreThreshold = 60

// FollowUpService 弱作答后的诊断出题：从外部图谱取先修概念，
// 挑掌握信号最弱的一个，请一道诊断题。
type FollowUpService struct {
	Graph        PrerequisiteProvider
	ResponseRepo *repository.ResponseRepository
	ItemBank     *ItemBankService
}

func NewFollowUpService(graph PrerequisiteProvider, responseRepo *repository.ResponseRepository, itemBank *ItemBankService) *FollowUpService {
	return &FollowUpService{
		Graph:        graph,
		ResponseRepo: responseRepo,
		ItemBank:     itemBank,
	}
}

// Triggered 判断一次作答是否触发诊断
func Triggered(correct bool, score int) bool {
	if !correct {
		return true
	}
	return score < FollowUpScoreThreshold
}

// DiagnosticItem 为失手概念挑选先修诊断题。图谱或题库故障时返回 (nil, 0, nil)：
// 诊断是增益路径，外部故障在此吸收，不影响会话。
func (s *FollowUpService) DiagnosticItem(ctx context.Context, learnerID, conceptID uint) (*Selection, uint, error) {
	prereqs, err := s.Graph.PrerequisitesOf(ctx, conceptID)
	if err != nil {
		logger.Log.Warn("prerequisite graph unavailable, skipping follow-up",
			zap.Uint("conceptId", conceptID), zap.Error(err))
		return nil, 0, nil
	}
	if len(prereqs) == 0 {
		return nil, 0, nil
	}

	target := s.weakestPrerequisite(learnerID, prereqs)

	// 诊断题难度：有历史信号时对准学习者的能力位置，否则取中点
	difficulty := defaultStartDifficulty
	means, err := s.ResponseRepo.MeanAbilityByLearnerConcepts(learnerID, []uint{target})
	if err == nil {
		if mean, ok := means[target]; ok {
			difficulty = AbilityToDifficulty(mean)
		}
	}

	selection, err := s.ItemBank.SelectItem(learnerID, target, difficulty)
	if err != nil {
		logger.Log.Warn("no diagnostic item available for prerequisite",
			zap.Uint("prerequisiteId", target), zap.Error(err))
		return nil, 0, nil
	}

	return selection, target, nil
}

// weakestPrerequisite 能力信号最弱的先修概念；无数据时取图谱返回的第一个
func (s *FollowUpService) weakestPrerequisite(learnerID uint, prereqs []uint) uint {
	means, err := s.ResponseRepo.MeanAbilityByLearnerConcepts(learnerID, prereqs)
	if err != nil || len(means) == 0 {
		return prereqs[0]
	}

	target := prereqs[0]
	found := false
	var weakest float64
	for _, id := range prereqs {
		mean, ok := means[id]
		if !ok {
			continue
		}
		if !found || mean < weakest {
			weakest = mean
			target = id
			found = true
		}
	}
	return target
}
