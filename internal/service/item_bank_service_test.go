package service

import (
	"adaptive_engine_backend/internal/config"
	"adaptive_engine_backend/internal/model"
	"adaptive_engine_backend/internal/util"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		CooldownDays:       14,
		MinQuestions:       3,
		MaxQuestions:       10,
		SEThreshold:        0.625,
		SelectRetries:      3,
		DiscriminationMinN: 20,
	}
}

func newItemBank(db *gorm.DB) *ItemBankService {
	itemRepo, responseRepo, _ := newRepos(db)
	return NewItemBankService(itemRepo, responseRepo, testEngineConfig())
}

func TestSelectItemPrefersClosestDifficulty(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "ecg-waves", 0, 100)
	createItem(t, db, concept.ID, 30, "recall", "q30")
	want := createItem(t, db, concept.ID, 52, "recall", "q52")
	createItem(t, db, concept.ID, 80, "recall", "q80")

	sel, err := newItemBank(db).SelectItem(1, concept.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, want.ID, sel.Item.ID)
	assert.False(t, sel.CooldownOverride)
}

func TestSelectItemMarksUsage(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "av-node", 0, 100)
	item := createItem(t, db, concept.ID, 50, "recall", "q")

	sel, err := newItemBank(db).SelectItem(1, concept.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, item.ID, sel.Item.ID)
	assert.Equal(t, 1, sel.Item.TimesUsed)
	require.NotNil(t, sel.Item.LastUsedAt)

	var stored model.Item
	require.NoError(t, db.First(&stored, item.ID).Error)
	assert.Equal(t, 1, stored.TimesUsed)
}

func TestSelectItemExcludesRecentlyAnswered(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "preload", 0, 100)
	recent := createItem(t, db, concept.ID, 50, "recall", "recent")
	other := createItem(t, db, concept.ID, 60, "recall", "other")

	// 学习者3天前答过 recent，仍在14天冷却期内
	createResponse(t, db, &model.Response{
		UUIDBase:          model.UUIDBase{CreatedAt: daysAgo(3)},
		ItemID:            recent.ID,
		LearnerID:         1,
		ConceptID:         concept.ID,
		InitialDifficulty: 50,
		Correct:           true,
		StatedConfidence:  3,
	})

	sel, err := newItemBank(db).SelectItem(1, concept.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, other.ID, sel.Item.ID)
}

func TestSelectItemCooldownExpired(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "afterload", 0, 100)
	item := createItem(t, db, concept.ID, 50, "recall", "q")

	// 20天前答过，冷却期已过
	createResponse(t, db, &model.Response{
		UUIDBase:          model.UUIDBase{CreatedAt: daysAgo(20)},
		ItemID:            item.ID,
		LearnerID:         1,
		ConceptID:         concept.ID,
		InitialDifficulty: 50,
		Correct:           true,
		StatedConfidence:  3,
	})

	sel, err := newItemBank(db).SelectItem(1, concept.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, item.ID, sel.Item.ID)
	assert.False(t, sel.CooldownOverride)
}

func TestSelectItemCooldownFallback(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "contractility", 0, 100)
	a := createItem(t, db, concept.ID, 40, "recall", "a")
	b := createItem(t, db, concept.ID, 60, "recall", "b")

	for _, item := range []*model.Item{a, b} {
		createResponse(t, db, &model.Response{
			UUIDBase:          model.UUIDBase{CreatedAt: daysAgo(2)},
			ItemID:            item.ID,
			LearnerID:         1,
			ConceptID:         concept.ID,
			InitialDifficulty: item.Difficulty,
			Correct:           true,
			StatedConfidence:  3,
		})
	}

	// 题库全部在冷却期内：兜底放行并标记覆盖
	sel, err := newItemBank(db).SelectItem(1, concept.ID, 50)
	require.NoError(t, err)
	assert.True(t, sel.CooldownOverride)
}

func TestSelectItemCooldownUsesLatestResponse(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "stroke-volume", 0, 100)
	repeated := createItem(t, db, concept.ID, 50, "recall", "repeated")
	other := createItem(t, db, concept.ID, 60, "recall", "other")

	// 同一道题答过两次：冷却以最近一次为准
	for _, n := range []int{20, 3} {
		createResponse(t, db, &model.Response{
			UUIDBase:          model.UUIDBase{CreatedAt: daysAgo(n)},
			ItemID:            repeated.ID,
			LearnerID:         1,
			ConceptID:         concept.ID,
			InitialDifficulty: 50,
			Correct:           true,
			StatedConfidence:  3,
		})
	}

	sel, err := newItemBank(db).SelectItem(1, concept.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, other.ID, sel.Item.ID)
}

func TestSelectItemEmptyBank(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "empty-concept", 0, 100)

	_, err := newItemBank(db).SelectItem(1, concept.ID, 50)
	assert.ErrorIs(t, err, util.ErrEmptyItemBank)
}

func TestSelectItemTieBrokenByUsage(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "valve-function", 0, 100)

	worn := createItem(t, db, concept.ID, 50, "recall", "worn")
	require.NoError(t, db.Model(worn).Update("times_used", 5).Error)
	fresh := createItem(t, db, concept.ID, 50, "recall", "fresh")

	sel, err := newItemBank(db).SelectItem(1, concept.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, sel.Item.ID)
}

func TestMarkUsedConflictOnStaleRead(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "sa-node", 0, 100)
	item := createItem(t, db, concept.ID, 50, "recall", "q")
	itemRepo, _, _ := newRepos(db)

	stale := *item
	require.NoError(t, itemRepo.MarkUsed(item, time.Now()))

	// 另一会话持有选题时的旧副本，条件更新不命中
	err := itemRepo.MarkUsed(&stale, time.Now())
	assert.ErrorIs(t, err, util.ErrConcurrencyConflict)
}

func TestSelectItemRetriesConflictThenNextBest(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "ejection-fraction", 0, 100)
	closest := createItem(t, db, concept.ID, 50, "recall", "closest")
	next := createItem(t, db, concept.ID, 55, "recall", "next")

	bank := newItemBank(db)

	// 模拟并发会话：每次占用前抢改 closest 的 last_used_at，
	// 条件更新持续落空直到重试用尽
	conflicts := 0
	err := db.Callback().Update().Before("gorm:update").Register("contending_session", func(tx *gorm.DB) {
		if tx.Statement.Table != "items" || conflicts > bank.Cfg.SelectRetries {
			return
		}
		conflicts++
		bump := time.Now().Add(time.Duration(conflicts) * time.Second)
		db.Exec("UPDATE items SET last_used_at = ? WHERE id = ?", bump, closest.ID)
	})
	require.NoError(t, err)

	sel, selErr := bank.SelectItem(1, concept.ID, 50)
	require.NoError(t, selErr)
	assert.Equal(t, next.ID, sel.Item.ID)
	assert.Equal(t, bank.Cfg.SelectRetries+1, conflicts)

	var stored model.Item
	require.NoError(t, db.First(&stored, closest.ID).Error)
	assert.Equal(t, 0, stored.TimesUsed)
}

func TestRecalculateDiscriminationBelowMinimumIsNoop(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "pr-interval", 0, 100)
	item := createItem(t, db, concept.ID, 50, "recall", "q")

	for i := 0; i < 5; i++ {
		createResponse(t, db, &model.Response{
			ItemID:            item.ID,
			LearnerID:         uint(i + 1),
			ConceptID:         concept.ID,
			InitialDifficulty: 50,
			Correct:           i%2 == 0,
			StatedConfidence:  3,
			AbilityAtResponse: float64(i),
		})
	}

	require.NoError(t, newItemBank(db).RecalculateDiscrimination(item.ID))

	var stored model.Item
	require.NoError(t, db.First(&stored, item.ID).Error)
	assert.Nil(t, stored.Discrimination)
}

func TestRecalculateDiscriminationPositiveForSeparatingItem(t *testing.T) {
	db := newTestDB(t)
	concept := createConcept(t, db, "qt-interval", 0, 100)
	item := createItem(t, db, concept.ID, 50, "recall", "q")

	// 高能力者答对、低能力者答错：区分度应明显为正
	for i := 0; i < 20; i++ {
		correct := i >= 10
		ability := -2.0
		if correct {
			ability = 2.0
		}
		createResponse(t, db, &model.Response{
			ItemID:            item.ID,
			LearnerID:         uint(i + 1),
			ConceptID:         concept.ID,
			InitialDifficulty: 50,
			Correct:           correct,
			StatedConfidence:  3,
			AbilityAtResponse: ability,
		})
	}

	require.NoError(t, newItemBank(db).RecalculateDiscrimination(item.ID))

	var stored model.Item
	require.NoError(t, db.First(&stored, item.ID).Error)
	require.NotNil(t, stored.Discrimination)
	assert.Greater(t, *stored.Discrimination, 0.9)
}

func TestPointBiserialDegenerateCases(t *testing.T) {
	allCorrect := make([]model.Response, 20)
	for i := range allCorrect {
		allCorrect[i] = model.Response{Correct: true, AbilityAtResponse: float64(i)}
	}
	assert.Zero(t, pointBiserial(allCorrect))

	noVariance := make([]model.Response, 20)
	for i := range noVariance {
		noVariance[i] = model.Response{Correct: i%2 == 0, AbilityAtResponse: 1.5}
	}
	assert.Zero(t, pointBiserial(noVariance))
}
