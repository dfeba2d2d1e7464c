package repository

import (
	"adaptive_engine_backend/internal/model"

	"gorm.io/gorm"
)

type ConceptRepository struct {
	DB *gorm.DB
}

func NewConceptRepository(db *gorm.DB) *ConceptRepository {
	return &ConceptRepository{DB: db}
}

func (r *ConceptRepository) Create(c *model.Concept) error {
	return r.DB.Create(c).Error
}

func (r *ConceptRepository) FindByID(id uint) (*model.Concept, error) {
	var c model.Concept
	err := r.DB.First(&c, id).Error
	return &c, err
}

func (r *ConceptRepository) FindByCode(code string) (*model.Concept, error) {
	var c model.Concept
	err := r.DB.Where("code = ?", code).First(&c).Error
	return &c, err
}

func (r *ConceptRepository) List(page, limit int) ([]model.Concept, int64, error) {
	var cs []model.Concept
	var total int64
	query := r.DB.Model(&model.Concept{}).Where("enabled = ?", true)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("code asc").Offset(offset).Limit(limit).Find(&cs).Error
	return cs, total, err
}

func (r *ConceptRepository) Update(c *model.Concept) error {
	return r.DB.Save(c).Error
}
