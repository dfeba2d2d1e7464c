package service

import (
	"adaptive_engine_backend/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDifficultyToLogit(t *testing.T) {
	assert.InDelta(t, -4.0, DifficultyToLogit(0), 1e-9)
	assert.InDelta(t, 0.0, DifficultyToLogit(50), 1e-9)
	assert.InDelta(t, 4.0, DifficultyToLogit(100), 1e-9)
}

func TestAbilityToDifficultyRoundTrip(t *testing.T) {
	assert.Equal(t, 50, AbilityToDifficulty(0))
	assert.Equal(t, 100, AbilityToDifficulty(4))
	assert.Equal(t, 0, AbilityToDifficulty(-4))
	// 超出标尺的估计截断到边界
	assert.Equal(t, 100, AbilityToDifficulty(6))
	assert.Equal(t, 0, AbilityToDifficulty(-6))
}

func TestEstimatorAllCorrectClampsAtUpperBound(t *testing.T) {
	e := NewAbilityEstimator()
	for i := 0; i < 5; i++ {
		e.Record(50, true)
	}
	// 全对的似然无界，估计必须停在上界而不是发散
	assert.Equal(t, 4.0, e.Theta())
	assert.Equal(t, 5, e.Count())
}

func TestEstimatorAllIncorrectClampsAtLowerBound(t *testing.T) {
	e := NewAbilityEstimator()
	for i := 0; i < 5; i++ {
		e.Record(50, false)
	}
	assert.Equal(t, -4.0, e.Theta())
}

func TestEstimatorMixedResponsesConverge(t *testing.T) {
	e := NewAbilityEstimator()
	// 难度50上互有对错，估计应落在题目难度附近
	e.Record(50, true)
	e.Record(50, false)
	e.Record(50, true)
	e.Record(50, false)
	assert.InDelta(t, 0.0, e.Theta(), 0.01)
}

func TestEstimatorMostlyCorrectIsPositive(t *testing.T) {
	e := NewAbilityEstimator()
	e.Record(50, true)
	e.Record(50, true)
	e.Record(50, false)
	// 2/3 答对，MLE 为 ln(2) ≈ 0.693
	assert.InDelta(t, 0.693, e.Theta(), 0.01)
}

func TestStandardErrorNilBeforeFirstResponse(t *testing.T) {
	e := NewAbilityEstimator()
	assert.Nil(t, e.StandardError())
}

func TestStandardErrorShrinksWithResponses(t *testing.T) {
	e := NewAbilityEstimator()
	e.Record(50, true)
	e.Record(50, false)
	first := e.StandardError()
	require.NotNil(t, first)

	e.Record(50, true)
	e.Record(50, false)
	second := e.StandardError()
	require.NotNil(t, second)

	assert.Less(t, *second, *first)
}

func TestShouldStopHardCap(t *testing.T) {
	e := NewAbilityEstimator()
	for i := 0; i < 10; i++ {
		e.Record(50, i%2 == 0)
	}
	stop, reason := e.ShouldStop(0.625, 3, 10)
	assert.True(t, stop)
	assert.Equal(t, model.TerminationHardCap, reason)
}

func TestShouldStopPrecision(t *testing.T) {
	e := NewAbilityEstimator()
	e.Record(50, true)
	e.Record(50, false)
	e.Record(50, true)
	e.Record(50, false)

	// 4次交替作答在难度50上 SE = 1/sqrt(4*0.25) = 1.0
	stop, reason := e.ShouldStop(1.1, 3, 10)
	assert.True(t, stop)
	assert.Equal(t, model.TerminationPrecision, reason)
}

func TestShouldStopRequiresMinimumQuestions(t *testing.T) {
	e := NewAbilityEstimator()
	e.Record(50, true)
	e.Record(50, false)

	// SE 已低于阈值但不足3次作答，不得终止
	stop, _ := e.ShouldStop(2.0, 3, 10)
	assert.False(t, stop)
}

func TestShouldStopContinuesAboveThreshold(t *testing.T) {
	e := NewAbilityEstimator()
	e.Record(50, true)
	e.Record(50, false)
	e.Record(50, true)

	stop, _ := e.ShouldStop(0.625, 3, 10)
	assert.False(t, stop)
}
