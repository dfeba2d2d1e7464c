package model

import "time"

type MasteryStatus string

const (
	MasteryNotStarted MasteryStatus = "not_started"
	MasteryInProgress MasteryStatus = "in_progress"
	MasteryVerified   MasteryStatus = "verified"
)

// MasteryRecord 按 (学习者, 概念) 唯一；五项判据全部为真时状态才为 verified。
// 状态只能向前推进，回退仅允许显式 Reset 调用。
// swagger:model MasteryRecord
type MasteryRecord struct {
	BaseModel
	LearnerID uint          `gorm:"uniqueIndex:idx_mastery_learner_concept;not null" json:"learnerId"`
	ConceptID uint          `gorm:"uniqueIndex:idx_mastery_learner_concept;not null" json:"conceptId"`
	Status    MasteryStatus `gorm:"size:20;default:'not_started'" json:"status"`

	ConsecutiveHighScores bool `gorm:"default:false" json:"consecutiveHighScores"`
	MultiTypeCoverage     bool `gorm:"default:false" json:"multiTypeCoverage"`
	DifficultyTierMatch   bool `gorm:"default:false" json:"difficultyTierMatch"`
	CalibrationAccuracy   bool `gorm:"default:false" json:"calibrationAccuracy"`
	TimeSpacing           bool `gorm:"default:false" json:"timeSpacing"`

	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	Version    int        `gorm:"default:0" json:"-"` // 乐观锁
}

func (MasteryRecord) TableName() string {
	return "mastery_records"
}

// AllCriteria 五项判据是否同时成立
func (m *MasteryRecord) AllCriteria() bool {
	return m.ConsecutiveHighScores && m.MultiTypeCoverage && m.DifficultyTierMatch &&
		m.CalibrationAccuracy && m.TimeSpacing
}

// ConsistentWithStatus 状态与判据的不变量校验（verified ⇔ 五项全真）
func (m *MasteryRecord) ConsistentWithStatus() bool {
	if m.Status == MasteryVerified {
		return m.AllCriteria()
	}
	return true
}
