package repository

import (
	"adaptive_engine_backend/internal/model"

	"gorm.io/gorm"
)

type ResponseRepository struct {
	DB *gorm.DB
}

func NewResponseRepository(db *gorm.DB) *ResponseRepository {
	return &ResponseRepository{DB: db}
}

// Create 落库一次作答并累加题目的作答计数，同一事务内完成
func (r *ResponseRepository) Create(resp *model.Response) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(resp).Error; err != nil {
			return err
		}
		return tx.Model(&model.Item{}).Where("id = ?", resp.ItemID).
			Update("response_count", gorm.Expr("response_count + 1")).Error
	})
}

func (r *ResponseRepository) FindByID(id string) (*model.Response, error) {
	var resp model.Response
	err := r.DB.First(&resp, "id = ?", id).Error
	return &resp, err
}

// ListRecentByLearnerConcept 最近 N 次主循环作答，新的在前（起始难度校准用）。
// 诊断作答针对先修题目，不反映学习者在该概念上的工作难度，排除。
func (r *ResponseRepository) ListRecentByLearnerConcept(learnerID, conceptID uint, limit int) ([]model.Response, error) {
	var resps []model.Response
	err := r.DB.Where("learner_id = ? AND concept_id = ? AND is_follow_up = ?", learnerID, conceptID, false).
		Order("created_at desc").Limit(limit).Find(&resps).Error
	return resps, err
}

// ListRecentByLearnerConcepts 跨多个相关概念的最近主循环作答（历史不足时的校准兜底）
func (r *ResponseRepository) ListRecentByLearnerConcepts(learnerID uint, conceptIDs []uint, limit int) ([]model.Response, error) {
	var resps []model.Response
	err := r.DB.Where("learner_id = ? AND concept_id IN ? AND is_follow_up = ?", learnerID, conceptIDs, false).
		Order("created_at desc").Limit(limit).Find(&resps).Error
	return resps, err
}

// ListHistoryByLearnerConcept 掌握校验用完整历史（升序），可选排除诊断题
func (r *ResponseRepository) ListHistoryByLearnerConcept(learnerID, conceptID uint, excludeFollowUp bool) ([]model.Response, error) {
	var resps []model.Response
	query := r.DB.Preload("Item").
		Where("learner_id = ? AND concept_id = ?", learnerID, conceptID)
	if excludeFollowUp {
		query = query.Where("is_follow_up = ?", false)
	}
	err := query.Order("created_at asc").Find(&resps).Error
	return resps, err
}

// ListByItem 某道题的全部作答（跨学习者），区分度计算用
func (r *ResponseRepository) ListByItem(itemID uint) ([]model.Response, error) {
	var resps []model.Response
	err := r.DB.Where("item_id = ?", itemID).Order("created_at asc").Find(&resps).Error
	return resps, err
}

// MeanAbilityByLearnerConcepts 学习者在各概念最近作答时的能力估计均值（薄弱先修筛选用）
func (r *ResponseRepository) MeanAbilityByLearnerConcepts(learnerID uint, conceptIDs []uint) (map[uint]float64, error) {
	type row struct {
		ConceptID uint
		Mean      float64
	}
	var rows []row
	err := r.DB.Model(&model.Response{}).
		Select("concept_id, AVG(ability_at_response) as mean").
		Where("learner_id = ? AND concept_id IN ?", learnerID, conceptIDs).
		Group("concept_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]float64, len(rows))
	for _, rw := range rows {
		out[rw.ConceptID] = rw.Mean
	}
	return out, nil
}
