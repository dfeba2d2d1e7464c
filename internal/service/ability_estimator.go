package service

import (
	"adaptive_engine_backend/internal/model"
	"math"
)

const (
	thetaMin = -4.0
	thetaMax = 4.0

	// 信息量低于该值的题目不计入标准误分母，避免除零
	minInformation = 1e-9

	newtonIterations = 25
	newtonTolerance  = 1e-5
)

// AbilityEstimator 单参数 logistic（Rasch）模型下的能力估计。
// 每个会话一个实例，可由已存轨迹重建；诊断题作答不进入估计。
type AbilityEstimator struct {
	theta        float64
	difficulties []float64 // logit 标尺
	correct      []bool
}

func NewAbilityEstimator() *AbilityEstimator {
	return &AbilityEstimator{}
}

// DifficultyToLogit 0-100 难度映射到约 [-4,4] 的 logit
func DifficultyToLogit(difficulty int) float64 {
	return (float64(difficulty) - 50.0) / 12.5
}

// AbilityToDifficulty logit 能力反向映射回 0-100 难度标尺
func AbilityToDifficulty(theta float64) int {
	d := int(math.Round(theta*12.5 + 50.0))
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}

// Probability Rasch 模型：P(θ) = 1 / (1 + e^{-(θ-b)})
func Probability(theta, b float64) float64 {
	return 1.0 / (1.0 + math.Exp(-(theta - b)))
}

// Record 记录一次作答并对全部历史做极大似然更新
func (e *AbilityEstimator) Record(difficulty int, correct bool) {
	e.difficulties = append(e.difficulties, DifficultyToLogit(difficulty))
	e.correct = append(e.correct, correct)
	e.estimate()
}

// estimate Newton-Raphson 迭代求解联合似然。全对/全错不收敛，
// 依靠区间钳制停在边界而不发散。
func (e *AbilityEstimator) estimate() {
	theta := e.theta
	for i := 0; i < newtonIterations; i++ {
		gradient := 0.0
		information := 0.0
		for j, b := range e.difficulties {
			p := Probability(theta, b)
			u := 0.0
			if e.correct[j] {
				u = 1.0
			}
			gradient += u - p
			information += p * (1.0 - p)
		}
		if information < minInformation {
			break
		}
		step := gradient / information
		theta += step
		theta = clampTheta(theta)
		if math.Abs(step) < newtonTolerance {
			break
		}
	}
	e.theta = clampTheta(theta)
}

func clampTheta(theta float64) float64 {
	if theta < thetaMin {
		return thetaMin
	}
	if theta > thetaMax {
		return thetaMax
	}
	return theta
}

// Theta 当前能力估计（logit 标尺，[-4,4]）
func (e *AbilityEstimator) Theta() float64 {
	return e.theta
}

// Count 已计入估计的作答数
func (e *AbilityEstimator) Count() int {
	return len(e.difficulties)
}

// StandardError SE = 1/sqrt(ΣI(θ))，首次作答前为 nil
func (e *AbilityEstimator) StandardError() *float64 {
	if len(e.difficulties) == 0 {
		return nil
	}
	information := 0.0
	for _, b := range e.difficulties {
		p := Probability(e.theta, b)
		information += p * (1.0 - p)
	}
	if information < minInformation {
		return nil
	}
	se := 1.0 / math.Sqrt(information)
	return &se
}

// ShouldStop 估计阶段的终止条件：SE 低于阈值且至少作答 minQuestions 次，
// 或到达硬上限 maxQuestions。
func (e *AbilityEstimator) ShouldStop(seThreshold float64, minQuestions, maxQuestions int) (bool, string) {
	n := len(e.difficulties)
	if n >= maxQuestions {
		return true, model.TerminationHardCap
	}
	se := e.StandardError()
	if se != nil && *se < seThreshold && n >= minQuestions {
		return true, model.TerminationPrecision
	}
	return false, ""
}
