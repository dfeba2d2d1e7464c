package service

import (
	"adaptive_engine_backend/internal/config"
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/repository"
	"adaptive_engine_backend/internal/util"
	"adaptive_engine_backend/pkg/logger"
	"adaptive_engine_backend/pkg/monitoring"
	"errors"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Selection 一次选题结果；CooldownOverride 表示回退到了冷却期内的题目
type Selection struct {
	Item             *model.Item
	CooldownOverride bool
}

// ItemBankService 题库管理：冷却约束下按目标难度选题，乐观并发占用，
// 以及题目区分度的事后计算。
type ItemBankService struct {
	ItemRepo     *repository.ItemRepository
	ResponseRepo *repository.ResponseRepository
	Cfg          config.EngineConfig
}

func NewItemBankService(itemRepo *repository.ItemRepository, responseRepo *repository.ResponseRepository, cfg config.EngineConfig) *ItemBankService {
	return &ItemBankService{
		ItemRepo:     itemRepo,
		ResponseRepo: responseRepo,
		Cfg:          cfg,
	}
}

// SelectItem 在冷却约束下选出难度最接近 targetDifficulty 的题目并原子占用。
// 平手依次按使用次数、区分度（劣汰，最低优先级）、稳定随机序打破。
// 无合规题目时回退到最久未用的题目并标记冷却覆盖（记日志，非致命）。
func (s *ItemBankService) SelectItem(learnerID, conceptID uint, targetDifficulty int) (*Selection, error) {
	candidates, err := s.ItemRepo.ListCandidates(conceptID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, util.ErrEmptyItemBank
	}

	lastAnswered, err := s.ItemRepo.LearnerLastAnswered(learnerID, conceptID)
	if err != nil {
		return nil, err
	}

	cooldownCutoff := time.Now().AddDate(0, 0, -s.Cfg.CooldownDays)
	eligible := make([]model.Item, 0, len(candidates))
	for _, item := range candidates {
		if last, ok := lastAnswered[item.ID]; ok && last.After(cooldownCutoff) {
			continue
		}
		eligible = append(eligible, item)
	}

	override := false
	if len(eligible) == 0 {
		// 冷却兜底：最久未用的题目
		lru, err := s.ItemRepo.LeastRecentlyUsed(conceptID)
		if err != nil {
			return nil, err
		}
		eligible = []model.Item{*lru}
		override = true
		monitoring.CooldownOverrideCounter.Inc()
		logger.Log.Warn("item selection fell back past cooldown window",
			zap.Uint("learnerId", learnerID),
			zap.Uint("conceptId", conceptID),
			zap.Uint("itemId", lru.ID))
	}

	s.rankCandidates(eligible, learnerID, targetDifficulty)

	// 逐候选尝试占用：每个候选在乐观冲突下重读重试有限次，
	// 用尽后转向次优候选。
	for idx := range eligible {
		item := eligible[idx]
		for attempt := 0; attempt <= s.Cfg.SelectRetries; attempt++ {
			err := s.ItemRepo.MarkUsed(&item, time.Now())
			if err == nil {
				monitoring.ItemsServedCounter.Inc()
				return &Selection{Item: &item, CooldownOverride: override}, nil
			}
			if !util.IsConflict(err) {
				return nil, err
			}
			monitoring.OptimisticConflictCounter.WithLabelValues("item").Inc()
			fresh, ferr := s.ItemRepo.FindByID(item.ID)
			if ferr != nil {
				return nil, ferr
			}
			item = *fresh
		}
	}

	return nil, util.ErrConcurrencyConflict
}

// rankCandidates 选题排序：难度距离 → 使用次数 → 区分度（高者优先）→ 稳定随机
func (s *ItemBankService) rankCandidates(items []model.Item, learnerID uint, targetDifficulty int) {
	sort.SliceStable(items, func(i, j int) bool {
		di := abs(items[i].Difficulty - targetDifficulty)
		dj := abs(items[j].Difficulty - targetDifficulty)
		if di != dj {
			return di < dj
		}
		if items[i].TimesUsed != items[j].TimesUsed {
			return items[i].TimesUsed < items[j].TimesUsed
		}
		wi := discriminationOrZero(&items[i])
		wj := discriminationOrZero(&items[j])
		if wi != wj {
			return wi > wj
		}
		return stableTieBreak(learnerID, items[i].ID) < stableTieBreak(learnerID, items[j].ID)
	})
}

func discriminationOrZero(item *model.Item) float64 {
	if item.Discrimination == nil {
		return 0
	}
	return *item.Discrimination
}

// stableTieBreak 学习者与题目联合散列，公平且可重现
func stableTieBreak(learnerID, itemID uint) uint32 {
	h := fnv.New32a()
	var buf [8]byte
	buf[0] = byte(learnerID)
	buf[1] = byte(learnerID >> 8)
	buf[2] = byte(learnerID >> 16)
	buf[3] = byte(learnerID >> 24)
	buf[4] = byte(itemID)
	buf[5] = byte(itemID >> 8)
	buf[6] = byte(itemID >> 16)
	buf[7] = byte(itemID >> 24)
	h.Write(buf[:])
	return h.Sum32()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// RecalculateDiscrimination 第20次作答后计算点二列相关：
// 作答正确性与作答时能力估计的相关。仅用于后续选题劣汰，不阻塞选题。
func (s *ItemBankService) RecalculateDiscrimination(itemID uint) error {
	responses, err := s.ResponseRepo.ListByItem(itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrItemNotFound
		}
		return err
	}
	if len(responses) < s.Cfg.DiscriminationMinN {
		return nil
	}

	value := pointBiserial(responses)
	if err := s.ItemRepo.UpdateDiscrimination(itemID, value); err != nil {
		return err
	}

	logger.Log.Info("item discrimination recalculated",
		zap.Uint("itemId", itemID),
		zap.Float64("discrimination", value),
		zap.Int("responses", len(responses)))
	return nil
}

// pointBiserial r_pb = (M1 - M0) / s_x * sqrt(p*q)
func pointBiserial(responses []model.Response) float64 {
	n := float64(len(responses))
	var sum, sumSq, correctSum float64
	var correctN float64
	for _, r := range responses {
		x := r.AbilityAtResponse
		sum += x
		sumSq += x * x
		if r.Correct {
			correctSum += x
			correctN++
		}
	}

	if correctN == 0 || correctN == n {
		return 0 // 全对或全错无法区分
	}

	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance <= 0 {
		return 0
	}
	sd := math.Sqrt(variance)

	m1 := correctSum / correctN
	m0 := (sum - correctSum) / (n - correctN)
	p := correctN / n
	q := 1 - p

	return (m1 - m0) / sd * math.Sqrt(p*q)
}

// SweepDiscrimination 后台扫描：补算所有作答数达标但尚无区分度的题目
func (s *ItemBankService) SweepDiscrimination() error {
	items, err := s.ItemRepo.ListNeedingDiscrimination(s.Cfg.DiscriminationMinN)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.RecalculateDiscrimination(item.ID); err != nil {
			logger.Log.Error("discrimination sweep failed for item",
				zap.Uint("itemId", item.ID), zap.Error(err))
		}
	}
	return nil
}
