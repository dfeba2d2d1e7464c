package repository

import (
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/util"

	"gorm.io/gorm"
)

type SessionRepository struct {
	DB *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

func (r *SessionRepository) Create(s *model.AdaptiveSession) error {
	return r.DB.Create(s).Error
}

func (r *SessionRepository) FindByID(id string) (*model.AdaptiveSession, error) {
	var s model.AdaptiveSession
	err := r.DB.First(&s, "id = ?", id).Error
	return &s, err
}

// SaveConditional 版本号乐观更新。会话本应单写者，版本条件是对产品规则
// 失效（同学习者并发会话）的防御。
func (r *SessionRepository) SaveConditional(s *model.AdaptiveSession) error {
	res := r.DB.Model(&model.AdaptiveSession{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(map[string]interface{}{
			"status":                    s.Status,
			"current_difficulty":        s.CurrentDifficulty,
			"ability_estimate":          s.AbilityEstimate,
			"standard_error":            s.StandardError,
			"question_count":            s.QuestionCount,
			"current_item_id":           s.CurrentItemID,
			"pending_follow_up_item_id": s.PendingFollowUpItemID,
			"follow_up_parent_item_id":  s.FollowUpParentItemID,
			"trajectory":                s.Trajectory,
			"termination_reason":        s.TerminationReason,
			"terminated_at":             s.TerminatedAt,
			"version":                   gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrConcurrencyConflict
	}
	s.Version++
	return nil
}

// FindActiveByLearnerConcept 学习者在某概念下未终止的会话
func (r *SessionRepository) FindActiveByLearnerConcept(learnerID, conceptID uint) (*model.AdaptiveSession, error) {
	var s model.AdaptiveSession
	err := r.DB.Where("learner_id = ? AND concept_id = ? AND status <> ?",
		learnerID, conceptID, model.SessionTerminated).
		Order("created_at desc").First(&s).Error
	return &s, err
}
