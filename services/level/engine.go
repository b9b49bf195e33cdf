package level

import (
	"fmt"
	"math"
	"sort"
)

// Engine maps cumulative earned points to a level using an ascending
// threshold table.
type Engine struct {
	levels          []Level
	baseUploadLimit int
}

type Info struct {
	Index            int     `json:"index"`
	Rank             int     `json:"rank"`
	Title            string  `json:"title"`
	Color            string  `json:"color"`
	Threshold        int64   `json:"threshold"`
	NextThreshold    int64   `json:"next_threshold,omitempty"`
	ProgressPct      float64 `json:"progress_pct"`
	ToNext           int64   `json:"to_next"`
	IsMax            bool    `json:"is_max"`
	DailyUploadLimit int     `json:"daily_upload_limit"`
}

func NewEngine(levels []Level, baseUploadLimit int) (*Engine, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("level table is empty")
	}
	for i := 1; i < len(levels); i++ {
		if levels[i].Threshold <= levels[i-1].Threshold {
			return nil, fmt.Errorf("level %d threshold %d is not above level %d threshold %d",
				i, levels[i].Threshold, i-1, levels[i-1].Threshold)
		}
	}
	if baseUploadLimit < 0 {
		baseUploadLimit = 0
	}

	table := make([]Level, len(levels))
	copy(table, levels)
	return &Engine{levels: table, baseUploadLimit: baseUploadLimit}, nil
}

// LevelIndex returns the highest index whose threshold is <= total, or -1
// when total is below the first threshold.
func (e *Engine) LevelIndex(total int64) int {
	n := sort.Search(len(e.levels), func(i int) bool {
		return e.levels[i].Threshold > total
	})
	return n - 1
}

func (e *Engine) MaxIndex() int {
	return len(e.levels) - 1
}

func (e *Engine) Level(i int) (Level, bool) {
	if i < 0 || i >= len(e.levels) {
		return Level{}, false
	}
	return e.levels[i], true
}

func (e *Engine) LevelInfo(total int64) Info {
	idx := e.LevelIndex(total)
	info := Info{
		Index:            idx,
		Rank:             idx + 1,
		DailyUploadLimit: e.DailyUploadLimit(total),
	}

	var floor int64
	if idx >= 0 {
		cur := e.levels[idx]
		info.Title = cur.Title
		info.Color = cur.Color
		info.Threshold = cur.Threshold
		floor = cur.Threshold
	}

	if idx == e.MaxIndex() {
		info.IsMax = true
		info.ProgressPct = 100
		return info
	}

	next := e.levels[idx+1].Threshold
	info.NextThreshold = next
	info.ToNext = next - total

	span := next - floor
	if span > 0 {
		pct := float64(total-floor) / float64(span) * 100
		info.ProgressPct = math.Round(math.Max(0, math.Min(100, pct))*10) / 10
	}

	return info
}

// DailyUploadLimit is the base allowance plus one upload per level above
// the first.
func (e *Engine) DailyUploadLimit(total int64) int {
	idx := e.LevelIndex(total)
	if idx < 0 {
		idx = 0
	}
	return e.baseUploadLimit + idx
}
