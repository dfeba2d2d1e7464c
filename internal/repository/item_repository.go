package repository

import (
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/util"
	"time"

	"gorm.io/gorm"
)

type ItemRepository struct {
	DB *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{DB: db}
}

func (r *ItemRepository) Create(item *model.Item) error {
	return r.DB.Create(item).Error
}

func (r *ItemRepository) FindByID(id uint) (*model.Item, error) {
	var item model.Item
	err := r.DB.First(&item, id).Error
	return &item, err
}

func (r *ItemRepository) ListByConcept(conceptID uint, page, limit int) ([]model.Item, int64, error) {
	var items []model.Item
	var total int64
	query := r.DB.Model(&model.Item{}).Where("concept_id = ?", conceptID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("difficulty asc").Offset(offset).Limit(limit).Find(&items).Error
	return items, total, err
}

// ListCandidates 返回概念下的全部题目，选题逻辑共享读
func (r *ItemRepository) ListCandidates(conceptID uint) ([]model.Item, error) {
	var items []model.Item
	err := r.DB.Where("concept_id = ?", conceptID).Find(&items).Error
	return items, err
}

// LearnerLastAnswered 学习者对概念下每道题最近一次作答时间，按学习者的
// 冷却过滤用。按题目自身概念关联：诊断作答记在被评概念名下，但先修题照样
// 进入冷却。聚合列丢失类型信息，部分驱动会把 MAX(created_at) 回传成字符串，
// 因此按行取回由驱动做时间转换，升序遍历让新作答覆盖旧值。
func (r *ItemRepository) LearnerLastAnswered(learnerID, conceptID uint) (map[uint]time.Time, error) {
	var resps []model.Response
	err := r.DB.Model(&model.Response{}).
		Select("responses.item_id", "responses.created_at").
		Joins("JOIN items ON items.id = responses.item_id").
		Where("responses.learner_id = ? AND items.concept_id = ?", learnerID, conceptID).
		Order("responses.created_at asc").
		Find(&resps).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]time.Time, len(resps))
	for _, resp := range resps {
		out[resp.ItemID] = resp.CreatedAt
	}
	return out, nil
}

// MarkUsed 选题后的占用标记。以读到的 times_used/last_used_at 为条件的
// 乐观更新；并发会话撞到同一道题时 RowsAffected 为 0，返回冲突由上层重试。
func (r *ItemRepository) MarkUsed(item *model.Item, now time.Time) error {
	query := r.DB.Model(&model.Item{}).
		Where("id = ? AND times_used = ?", item.ID, item.TimesUsed)
	if item.LastUsedAt == nil {
		query = query.Where("last_used_at IS NULL")
	} else {
		query = query.Where("last_used_at = ?", *item.LastUsedAt)
	}

	res := query.Updates(map[string]interface{}{
		"times_used":   gorm.Expr("times_used + 1"),
		"last_used_at": now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrConcurrencyConflict
	}

	item.TimesUsed++
	item.LastUsedAt = &now
	return nil
}

// LeastRecentlyUsed 冷却兜底：全概念范围内最久未使用的题目
func (r *ItemRepository) LeastRecentlyUsed(conceptID uint) (*model.Item, error) {
	var item model.Item
	err := r.DB.Where("concept_id = ?", conceptID).
		Order("last_used_at IS NULL DESC, last_used_at asc, times_used asc").
		First(&item).Error
	return &item, err
}

func (r *ItemRepository) UpdateDiscrimination(itemID uint, value float64) error {
	return r.DB.Model(&model.Item{}).Where("id = ?", itemID).
		Update("discrimination", value).Error
}

func (r *ItemRepository) UpdateContent(itemID uint, content string, options []byte) error {
	return r.DB.Model(&model.Item{}).Where("id = ?", itemID).
		Updates(map[string]interface{}{"content": content, "options": options}).Error
}

// ListNeedingDiscrimination 后台区分度扫描：作答数达标但尚未计算的题目
func (r *ItemRepository) ListNeedingDiscrimination(minResponses int) ([]model.Item, error) {
	var items []model.Item
	err := r.DB.Where("response_count >= ? AND discrimination IS NULL", minResponses).
		Find(&items).Error
	return items, err
}
