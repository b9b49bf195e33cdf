package score

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func TestComputeTimeDecayedBoost(t *testing.T) {
	window := 10 * time.Hour

	cases := []struct {
		name    string
		elapsed time.Duration
		want    float64
	}{
		{"start", 0, 100},
		{"half", 5 * time.Hour, 50},
		{"end", 10 * time.Hour, 0},
		{"after", 30 * time.Hour, 0},
		{"before start", -time.Hour, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeTimeDecayedBoost(100, t0, t0.Add(tc.elapsed), window)
			require.InDelta(t, tc.want, got, 1e-9)
		})
	}

	require.Zero(t, ComputeTimeDecayedBoost(math.NaN(), t0, t0, window))
	require.Zero(t, ComputeTimeDecayedBoost(-5, t0, t0, window))
	require.Zero(t, ComputeTimeDecayedBoost(100, time.Time{}, t0, window))
	require.Zero(t, ComputeTimeDecayedBoost(100, t0, t0, 0))
}

func TestComputeDualBoostTakesMax(t *testing.T) {
	window := 10 * time.Hour
	now := t0.Add(8 * time.Hour)
	expiry := t0.Add(12 * time.Hour)

	natural := BoostSource{Amount: 100, Start: t0}
	power := BoostSource{Amount: 100, Start: t0.Add(6 * time.Hour), Expiry: &expiry}

	// natural 20, power 80
	require.InDelta(t, 80, ComputeDualBoost(natural, power, now, window), 1e-9)

	// expired power-up no longer counts
	past := t0.Add(7 * time.Hour)
	power.Expiry = &past
	require.InDelta(t, 20, ComputeDualBoost(natural, power, now, window), 1e-9)

	require.InDelta(t, 20, ComputeDualBoost(natural, BoostSource{}, now, window), 1e-9)
}

func TestComputePopScore(t *testing.T) {
	item := &ContentItem{Clicks: 10, LikesCount: 2, CompletenessScore: 80, CreatedAt: t0}
	w := DefaultWeights()

	require.InDelta(t, 30, ComputeBaseScore(item, w), 1e-9)
	require.InDelta(t, 30, ComputePopScore(item, t0.Add(time.Hour), w, 48*time.Hour), 1e-9)

	item.InitialBoost = 48
	require.InDelta(t, 30+47, ComputePopScore(item, t0.Add(time.Hour), w, 48*time.Hour), 1e-9)

	usedAt := t0.Add(40 * time.Hour)
	expiry := usedAt.Add(24 * time.Hour)
	item.PowerUsed, item.PowerUsedAt, item.PowerExpiry = true, &usedAt, &expiry
	require.InDelta(t, 30+44, ComputePopScore(item, t0.Add(44*time.Hour), w, 48*time.Hour), 1e-9)
}

func TestComputePopScoreTreatsMalformedAsZero(t *testing.T) {
	item := &ContentItem{Clicks: -4, LikesCount: -1, CompletenessScore: math.NaN(), InitialBoost: math.Inf(1)}
	score := ComputePopScore(item, t0, DefaultWeights(), 48*time.Hour)
	require.Zero(t, score)
	require.Zero(t, ComputePopScore(nil, t0, DefaultWeights(), time.Hour))
}

func TestComputeCompleteness(t *testing.T) {
	require.Zero(t, ComputeCompleteness(&ContentItem{Title: "only a title"}))

	seed := int64(0)
	full := &ContentItem{
		Model: "sdxl", Prompt: "a lighthouse", NegativePrompt: "blurry", Sampler: "euler",
		Steps: 30, CfgScale: 7, Seed: &seed, Width: 1024, Height: 1024, Tags: []string{"sea"},
	}
	require.Equal(t, 100.0, ComputeCompleteness(full))

	partial := &ContentItem{Model: "sdxl", Prompt: "a lighthouse", Width: 512}
	require.Equal(t, 45.0, ComputeCompleteness(partial))
}

func TestNewEngine(t *testing.T) {
	e := NewEngine(DefaultWeights(), 48)
	require.Equal(t, 48*time.Hour, e.Window)
	require.Equal(t, time.Duration(0), NewEngine(DefaultWeights(), -1).Window)
}
