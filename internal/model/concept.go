package model

// Concept 知识概念，含注册的目标复杂度层级（掌握校验用）
type Concept struct {
	BaseModel
	Code        string `gorm:"size:100;uniqueIndex;not null" json:"code"`
	Name        string `gorm:"size:255;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	TierMin     int    `gorm:"default:0" json:"tierMin"`    // 目标难度层级下界 (0-100)
	TierMax     int    `gorm:"default:100" json:"tierMax"`  // 目标难度层级上界 (0-100)
	Enabled     bool   `gorm:"default:true" json:"enabled"`
}

func (Concept) TableName() string {
	return "concepts"
}

// InTier 判断难度是否落在概念注册的目标层级内
func (c *Concept) InTier(difficulty int) bool {
	return difficulty >= c.TierMin && difficulty <= c.TierMax
}
