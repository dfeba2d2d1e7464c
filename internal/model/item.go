package model

import (
	"encoding/json"
	"time"
)

// Item 可复用题目：引擎自有的 0-100 难度标尺 + 使用元数据
// swagger:model Item
type Item struct {
	BaseModel
	ConceptID      uint            `gorm:"index;not null" json:"conceptId"`
	Difficulty     int             `gorm:"not null" json:"difficulty"`            // 0-100 引擎校准标尺
	Discrimination *float64        `json:"discrimination,omitempty"`              // 点二列相关，累计20次作答后计算
	AssessmentType string          `gorm:"size:50;index" json:"assessmentType"`   // 外部分类器提供的题型标签
	Content        string          `gorm:"type:text" json:"content"`              // 已生成的题干（生成服务超时后复用）
	Options        json.RawMessage `gorm:"type:json" json:"options,omitempty"`
	TimesUsed      int             `gorm:"default:0" json:"timesUsed"`
	LastUsedAt     *time.Time      `json:"lastUsedAt,omitempty"`
	ResponseCount  int             `gorm:"default:0" json:"responseCount"` // 跨学习者累计作答数
}

func (Item) TableName() string {
	return "items"
}

// LogitDifficulty 将 0-100 难度映射到约 [-4,4] 的 logit 标尺
func (i *Item) LogitDifficulty() float64 {
	return (float64(i.Difficulty) - 50.0) / 12.5
}
