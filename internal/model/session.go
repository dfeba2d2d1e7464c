package model

import (
	"encoding/json"
	"time"
)

type SessionStatus string

const (
	SessionInitializing     SessionStatus = "initializing"
	SessionAwaitingResponse SessionStatus = "awaiting_response"
	SessionAbilityUpdated   SessionStatus = "ability_updated"
	SessionTerminated       SessionStatus = "terminated"
)

// 终止原因
const (
	TerminationPrecision = "se_threshold" // SE 达到精度阈值
	TerminationHardCap   = "question_cap" // 到达题数硬上限
	TerminationMastery   = "mastery_verified"
	TerminationPaused    = "learner_paused"
)

// TrajectoryEntry 会话轨迹中的一条记录
type TrajectoryEntry struct {
	ItemID                   uint     `json:"itemId"`
	DifficultyAtPresentation int      `json:"difficultyAtPresentation"`
	Correct                  bool     `json:"correct"`
	IsFollowUp               bool     `json:"isFollowUp,omitempty"`
	AbilityAfter             float64  `json:"abilityAfter"`
	StandardErrorAfter       *float64 `json:"standardErrorAfter,omitempty"`
	Reason                   string   `json:"reason"`
}

// AdaptiveSession 一位学习者一次自适应测评。单写者：仅所属会话的编排器修改。
// swagger:model AdaptiveSession
type AdaptiveSession struct {
	UUIDBase
	LearnerID         uint          `gorm:"index:idx_session_learner_concept;not null" json:"learnerId"`
	ConceptID         uint          `gorm:"index:idx_session_learner_concept;not null" json:"conceptId"`
	Status            SessionStatus `gorm:"size:30;default:'initializing'" json:"status"`
	InitialDifficulty int           `json:"initialDifficulty"`
	CurrentDifficulty int           `json:"currentDifficulty"`
	AbilityEstimate   float64       `gorm:"default:0" json:"abilityEstimate"` // logit 标尺
	StandardError     *float64      `json:"standardError,omitempty"`          // 首次作答前为空
	QuestionCount     int           `gorm:"default:0" json:"questionCount"`

	CurrentItemID         *uint `json:"currentItemId,omitempty"`         // 等待作答的题目
	PendingFollowUpItemID *uint `json:"pendingFollowUpItemId,omitempty"` // 待作答的诊断题
	FollowUpParentItemID  *uint `json:"-"`                               // 触发诊断题的原题

	Trajectory        json.RawMessage `gorm:"type:json" json:"trajectory,omitempty"`
	TerminationReason string          `gorm:"size:50" json:"terminationReason,omitempty"`
	TerminatedAt      *time.Time      `json:"terminatedAt,omitempty"`
	Version           int             `gorm:"default:0" json:"-"` // 乐观锁（同学习者并发会话防御）
}

func (AdaptiveSession) TableName() string {
	return "adaptive_sessions"
}

// TrajectoryEntries 反序列化轨迹
func (s *AdaptiveSession) TrajectoryEntries() ([]TrajectoryEntry, error) {
	if len(s.Trajectory) == 0 {
		return nil, nil
	}
	var entries []TrajectoryEntry
	if err := json.Unmarshal(s.Trajectory, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendTrajectory 追加一条轨迹记录
func (s *AdaptiveSession) AppendTrajectory(entry TrajectoryEntry) error {
	entries, err := s.TrajectoryEntries()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	s.Trajectory = data
	return nil
}

// Active 会话是否仍可接收作答
func (s *AdaptiveSession) Active() bool {
	return s.Status != SessionTerminated
}
