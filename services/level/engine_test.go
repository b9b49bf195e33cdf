package level

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testTable() []Level {
	return []Level{
		{Threshold: 0, Title: "L0"},
		{Threshold: 100, Title: "L1"},
		{Threshold: 300, Title: "L2"},
		{Threshold: 700, Title: "L3"},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testTable(), 5)
	require.NoError(t, err)
	return e
}

func TestNewEngineValidatesOrder(t *testing.T) {
	_, err := NewEngine(nil, 5)
	require.Error(t, err)

	_, err = NewEngine([]Level{{Threshold: 0}, {Threshold: 100}, {Threshold: 100}}, 5)
	require.Error(t, err)

	_, err = NewEngine(DefaultTable(), 5)
	require.NoError(t, err)
}

func TestLevelIndex(t *testing.T) {
	e := newTestEngine(t)

	cases := map[int64]int{
		0:    0,
		99:   0,
		100:  1,
		299:  1,
		300:  2,
		699:  2,
		700:  3,
		9999: 3,
		-1:   -1,
	}
	for total, want := range cases {
		require.Equal(t, want, e.LevelIndex(total), "total=%d", total)
	}
}

func TestLevelInfo(t *testing.T) {
	e := newTestEngine(t)

	info := e.LevelInfo(200)
	require.Equal(t, 1, info.Index)
	require.Equal(t, 2, info.Rank)
	require.Equal(t, "L1", info.Title)
	require.Equal(t, int64(300), info.NextThreshold)
	require.Equal(t, int64(100), info.ToNext)
	require.Equal(t, 50.0, info.ProgressPct)
	require.False(t, info.IsMax)

	info = e.LevelInfo(0)
	require.Equal(t, 0.0, info.ProgressPct)
	require.Equal(t, int64(100), info.ToNext)

	info = e.LevelInfo(1000)
	require.True(t, info.IsMax)
	require.Equal(t, 100.0, info.ProgressPct)
	require.Equal(t, int64(0), info.ToNext)
	require.Equal(t, "L3", info.Title)
}

func TestDailyUploadLimit(t *testing.T) {
	e := newTestEngine(t)

	require.Equal(t, 5, e.DailyUploadLimit(0))
	require.Equal(t, 6, e.DailyUploadLimit(150))
	require.Equal(t, 8, e.DailyUploadLimit(700))
}
