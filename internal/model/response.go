package model

// 难度调整原因标签
const (
	AdjustConfidentCorrect         = "confident-correct"
	AdjustHesitantCorrect          = "hesitant-correct"
	AdjustOverconfidenceCorrection = "overconfidence-correction"
	AdjustIncorrect                = "incorrect"
)

// Response 学习者的一次作答，按 (学习者, 概念) 只追加，写入后不可变
// swagger:model Response
type Response struct {
	UUIDBase
	ItemID             uint    `gorm:"index;not null" json:"itemId"`
	Item               *Item   `gorm:"foreignKey:ItemID" json:"item,omitempty"`
	LearnerID          uint    `gorm:"index:idx_learner_concept;not null" json:"learnerId"`
	ConceptID          uint    `gorm:"index:idx_learner_concept;not null" json:"conceptId"`
	SessionID          string  `gorm:"index;type:varchar(36)" json:"sessionId"`
	InitialDifficulty  int     `gorm:"not null" json:"initialDifficulty"` // 出题时的题目难度
	Correct            bool    `gorm:"not null" json:"correct"`
	Score              int     `gorm:"default:0" json:"score"`           // 0-100，二元题为 0/100
	StatedConfidence   int     `gorm:"not null" json:"statedConfidence"` // 1-5
	TimeToRespondMs    int     `gorm:"default:0" json:"timeToRespondMillis"`
	IsFollowUp         bool    `gorm:"default:false;index" json:"isFollowUp"`
	ParentItemID       *uint   `json:"parentItemId,omitempty"`
	AdjustedDifficulty int     `json:"adjustedDifficulty"`
	AdjustmentReason   string  `gorm:"size:50" json:"adjustmentReason"`
	AbilityAtResponse  float64 `json:"abilityAtResponse"` // 作答时的能力估计，区分度计算用
}

func (Response) TableName() string {
	return "responses"
}

// ConfidencePercent 将 1-5 信心度换算到 0-100，校准精度判据用
func (r *Response) ConfidencePercent() int {
	return (r.StatedConfidence - 1) * 25
}
