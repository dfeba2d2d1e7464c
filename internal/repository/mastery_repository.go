package repository

import (
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/util"
	"errors"
	"time"

	"gorm.io/gorm"
)

type MasteryRepository struct {
	DB *gorm.DB
}

func NewMasteryRepository(db *gorm.DB) *MasteryRepository {
	return &MasteryRepository{DB: db}
}

func (r *MasteryRepository) Find(learnerID, conceptID uint) (*model.MasteryRecord, error) {
	var rec model.MasteryRecord
	err := r.DB.Where("learner_id = ? AND concept_id = ?", learnerID, conceptID).
		First(&rec).Error
	return &rec, err
}

func (r *MasteryRepository) GetOrCreate(learnerID, conceptID uint) (*model.MasteryRecord, error) {
	rec, err := r.Find(learnerID, conceptID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	rec = &model.MasteryRecord{
		LearnerID: learnerID,
		ConceptID: conceptID,
		Status:    model.MasteryNotStarted,
	}
	if err := r.DB.Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveConditional 按读到的版本号条件更新；同学习者并发会话写同一条记录时
// 仅一方成功，另一方拿到冲突后重读重评。
func (r *MasteryRepository) SaveConditional(rec *model.MasteryRecord) error {
	res := r.DB.Model(&model.MasteryRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(map[string]interface{}{
			"status":                  rec.Status,
			"consecutive_high_scores": rec.ConsecutiveHighScores,
			"multi_type_coverage":     rec.MultiTypeCoverage,
			"difficulty_tier_match":   rec.DifficultyTierMatch,
			"calibration_accuracy":    rec.CalibrationAccuracy,
			"time_spacing":            rec.TimeSpacing,
			"verified_at":             rec.VerifiedAt,
			"version":                 gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrConcurrencyConflict
	}
	rec.Version++
	return nil
}

// Reset 显式外部重置：唯一允许状态回退的路径
func (r *MasteryRepository) Reset(learnerID, conceptID uint) error {
	res := r.DB.Model(&model.MasteryRecord{}).
		Where("learner_id = ? AND concept_id = ?", learnerID, conceptID).
		Updates(map[string]interface{}{
			"status":                  model.MasteryNotStarted,
			"consecutive_high_scores": false,
			"multi_type_coverage":     false,
			"difficulty_tier_match":   false,
			"calibration_accuracy":    false,
			"time_spacing":            false,
			"verified_at":             nil,
			"version":                 gorm.Expr("version + 1"),
			"updated_at":              time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
