package score

import (
	"math"
	"time"
)

// Completeness weights per populated generation field. They sum to 100.
const (
	weightModel          = 20
	weightPrompt         = 25
	weightNegativePrompt = 10
	weightSampler        = 10
	weightSteps          = 5
	weightCfgScale       = 5
	weightSeed           = 5
	weightDimensions     = 10
	weightTags           = 10
)

type Weights struct {
	Click        float64
	Like         float64
	Completeness float64
}

func DefaultWeights() Weights {
	return Weights{Click: 1, Like: 8, Completeness: 0.05}
}

// BoostSource is one time-anchored boost. A nil Expiry never cuts it off
// before the decay window ends.
type BoostSource struct {
	Amount float64
	Start  time.Time
	Expiry *time.Time
}

// sanitize maps NaN, Inf and negative values to zero.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func counter(v int64) float64 {
	if v < 0 {
		return 0
	}
	return float64(v)
}

// ComputeCompleteness scores how much optional metadata item carries, in
// [0, 100].
func ComputeCompleteness(item *ContentItem) float64 {
	if item == nil {
		return 0
	}

	total := 0.0
	if item.Model != "" {
		total += weightModel
	}
	if item.Prompt != "" {
		total += weightPrompt
	}
	if item.NegativePrompt != "" {
		total += weightNegativePrompt
	}
	if item.Sampler != "" {
		total += weightSampler
	}
	if item.Steps > 0 {
		total += weightSteps
	}
	if sanitize(item.CfgScale) > 0 {
		total += weightCfgScale
	}
	if item.Seed != nil {
		total += weightSeed
	}
	if item.Width > 0 && item.Height > 0 {
		total += weightDimensions
	}
	if len(item.Tags) > 0 {
		total += weightTags
	}

	return math.Min(100, math.Max(0, total))
}

// ComputeTimeDecayedBoost decays amount linearly from start to zero over
// window.
func ComputeTimeDecayedBoost(amount float64, start, now time.Time, window time.Duration) float64 {
	amount = sanitize(amount)
	if amount == 0 || start.IsZero() || window <= 0 || now.Before(start) {
		return 0
	}

	elapsed := now.Sub(start)
	if elapsed >= window {
		return 0
	}
	return amount * math.Max(0, 1-elapsed.Hours()/window.Hours())
}

// ComputeDualBoost decays both sources independently and keeps the larger.
func ComputeDualBoost(natural, power BoostSource, now time.Time, window time.Duration) float64 {
	n := ComputeTimeDecayedBoost(natural.Amount, natural.Start, now, window)

	p := 0.0
	if power.Expiry == nil || !now.After(*power.Expiry) {
		p = ComputeTimeDecayedBoost(power.Amount, power.Start, now, window)
	}

	return math.Max(n, p)
}

func ComputeBaseScore(item *ContentItem, w Weights) float64 {
	if item == nil {
		return 0
	}
	return counter(item.Clicks)*w.Click +
		counter(item.LikesCount)*w.Like +
		math.Min(100, sanitize(item.CompletenessScore))*w.Completeness
}

func boostSources(item *ContentItem) (natural, power BoostSource) {
	natural = BoostSource{Amount: item.InitialBoost, Start: item.CreatedAt}
	if item.PowerUsed && item.PowerUsedAt != nil {
		power = BoostSource{Amount: item.InitialBoost, Start: *item.PowerUsedAt, Expiry: item.PowerExpiry}
	}
	return natural, power
}

// ComputePopScore is the base score plus the larger of the freshness and
// power-up boosts.
func ComputePopScore(item *ContentItem, now time.Time, w Weights, window time.Duration) float64 {
	if item == nil {
		return 0
	}

	natural, power := boostSources(item)
	return ComputeBaseScore(item, w) + ComputeDualBoost(natural, power, now, window)
}

// Engine binds the configured weights and window.
type Engine struct {
	Weights Weights
	Window  time.Duration
}

func NewEngine(w Weights, windowHours float64) *Engine {
	return &Engine{
		Weights: w,
		Window:  time.Duration(sanitize(windowHours) * float64(time.Hour)),
	}
}

func (e *Engine) PopScore(item *ContentItem, now time.Time) float64 {
	return ComputePopScore(item, now, e.Weights, e.Window)
}
