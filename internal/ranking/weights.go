package ranking

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Weights 是组合四个子分数的系数，随请求提供并随会话固化。
type Weights struct {
	Semantic   float64 `json:"semantic"`
	Skill      float64 `json:"skill"`
	Experience float64 `json:"experience"`
	Education  float64 `json:"education"`
}

// 默认权重与打分引擎保持一致。
var defaultWeights = Weights{
	Semantic:   0.50,
	Skill:      0.25,
	Experience: 0.15,
	Education:  0.10,
}

const weightSumTolerance = 1e-3

var (
	ErrWeightNegative = errors.New("weight must not be negative")
	ErrWeightSum      = errors.New("weights must sum to 1.0")
)

// DefaultWeights 返回默认权重的副本。
func DefaultWeights() Weights {
	return defaultWeights
}

// ParseWeights 解析可选的权重 JSON。
// 空输入返回默认值；缺失字段按字段回落到默认；负值与总和偏离 1.0 均拒绝。
func ParseWeights(raw string) (Weights, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultWeights, nil
	}

	var override struct {
		Semantic   *float64 `json:"semantic"`
		Skill      *float64 `json:"skill"`
		Experience *float64 `json:"experience"`
		Education  *float64 `json:"education"`
	}
	if err := json.Unmarshal([]byte(raw), &override); err != nil {
		return Weights{}, fmt.Errorf("decode weights: %w", err)
	}

	w := defaultWeights
	for _, field := range []struct {
		name string
		src  *float64
		dst  *float64
	}{
		{"semantic", override.Semantic, &w.Semantic},
		{"skill", override.Skill, &w.Skill},
		{"experience", override.Experience, &w.Experience},
		{"education", override.Education, &w.Education},
	} {
		if field.src == nil {
			continue
		}
		if *field.src < 0 {
			return Weights{}, fmt.Errorf("%w: %s", ErrWeightNegative, field.name)
		}
		*field.dst = *field.src
	}

	if math.Abs(w.Sum()-1.0) > weightSumTolerance {
		return Weights{}, fmt.Errorf("%w, got %.4f", ErrWeightSum, w.Sum())
	}

	return w, nil
}

// Sum 返回四个系数之和。
func (w Weights) Sum() float64 {
	return w.Semantic + w.Skill + w.Experience + w.Education
}
