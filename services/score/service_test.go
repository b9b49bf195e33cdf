package score

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"engagement-core/pkg/errutil"
	"engagement-core/pkg/taskname"
	"engagement-core/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type memRanking struct {
	mu     sync.Mutex
	scores map[string]float64
}

func (m *memRanking) Update(_ context.Context, id string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[id] = score
	return nil
}

func (m *memRanking) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scores, id)
	return nil
}

func (m *memRanking) Top(_ context.Context, limit int) ([]RankedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RankedItem, 0, len(m.scores))
	for id, s := range m.scores {
		out = append(out, RankedItem{ContentID: id, PopScore: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PopScore > out[j].PopScore })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (c *captureEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, t)
	return &asynq.TaskInfo{ID: "t", Queue: "low"}, nil
}

type staticFlags map[string]bool

func (f staticFlags) Enabled(_ context.Context, identifier, _ string) (bool, error) {
	on, ok := f[identifier]
	return on || !ok, nil
}

type fixture struct {
	db      *gorm.DB
	svc     *Service
	ranking *memRanking
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &ContentItem{}, &ContentLike{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	f := &fixture{
		db:      db,
		ranking: &memRanking{scores: map[string]float64{}},
		now:     time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = newService(db, node, NewEngine(DefaultWeights(), 48), f.ranking)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func ptr[T any](v T) *T { return &v }

// eightyPct fills every field but dimensions and tags.
func eightyPct() Metadata {
	return Metadata{
		Model: ptr("sdxl"), Prompt: ptr("harbour at dusk"), NegativePrompt: ptr("blurry"),
		Sampler: ptr("euler"), Steps: ptr(30), CfgScale: ptr(7.0), Seed: ptr(int64(42)),
	}
}

func TestRecomputeScoresLikesAndClicks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.Create(ctx, CreateRequest{OwnerID: "u1", InitialBoost: ptr(0.0), Metadata: eightyPct()})
	require.NoError(t, err)
	require.Equal(t, 80.0, item.CompletenessScore)

	for range 10 {
		_, err = f.svc.RecordClick(ctx, item.ID)
		require.NoError(t, err)
	}
	_, liked, err := f.svc.RecordLike(ctx, item.ID, "fan-1")
	require.NoError(t, err)
	require.True(t, liked)
	item, liked, err = f.svc.RecordLike(ctx, item.ID, "fan-2")
	require.NoError(t, err)
	require.True(t, liked)

	require.InDelta(t, 30, item.PopScore, 1e-9)
	require.InDelta(t, 30, f.ranking.scores[item.ID], 1e-9)

	item, liked, err = f.svc.RecordLike(ctx, item.ID, "fan-2")
	require.NoError(t, err)
	require.False(t, liked)
	require.Equal(t, int64(2), item.LikesCount)

	item, err = f.svc.RemoveLike(ctx, item.ID, "fan-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), item.LikesCount)
	require.InDelta(t, 22, item.PopScore, 1e-9)
}

func TestMetadataEditKeepsPopScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.Create(ctx, CreateRequest{OwnerID: "u1", InitialBoost: ptr(0.0), Metadata: Metadata{Title: ptr("draft")}})
	require.NoError(t, err)
	_, err = f.svc.RecordClick(ctx, item.ID)
	require.NoError(t, err)

	before, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)

	edited, err := f.svc.UpdateMetadata(ctx, item.ID, eightyPct())
	require.NoError(t, err)
	require.Equal(t, 80.0, edited.CompletenessScore)

	after, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, before.PopScore, after.PopScore)
	require.Equal(t, 80.0, after.CompletenessScore)
	require.Equal(t, "draft", after.Title)

	// the next qualifying interaction picks the completeness up
	after, err = f.svc.RecordClick(ctx, item.ID)
	require.NoError(t, err)
	require.InDelta(t, 2+4, after.PopScore, 1e-9)
}

func TestRecomputeReconcilesLikes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.Create(ctx, CreateRequest{OwnerID: "u1", InitialBoost: ptr(0.0)})
	require.NoError(t, err)
	_, _, err = f.svc.RecordLike(ctx, item.ID, "fan-1")
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&ContentItem{}).Where("id = ?", item.ID).Update("likes_count", 40).Error)

	item, err = f.svc.Recompute(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), item.LikesCount)
	require.InDelta(t, 8, item.PopScore, 1e-9)

	stored, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.LikesCount)
}

func TestActivatePowerUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.Create(ctx, CreateRequest{OwnerID: "u1", InitialBoost: ptr(48.0)})
	require.NoError(t, err)
	require.InDelta(t, 48, item.PopScore, 1e-9)

	f.now = f.now.Add(40 * time.Hour)
	item, err = f.svc.Recompute(ctx, item.ID)
	require.NoError(t, err)
	require.InDelta(t, 8, item.PopScore, 1e-9)

	item, err = f.svc.ActivatePowerUp(ctx, item.ID, 24*time.Hour)
	require.NoError(t, err)
	require.InDelta(t, 48, item.PopScore, 1e-9)

	f.now = f.now.Add(25 * time.Hour)
	item, err = f.svc.Recompute(ctx, item.ID)
	require.NoError(t, err)
	require.Zero(t, item.PopScore)

	_, err = f.svc.ActivatePowerUp(ctx, "missing", time.Hour)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
	_, err = f.svc.ActivatePowerUp(ctx, item.ID, 0)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestActivatePowerUpRespectsFeatureFlag(t *testing.T) {
	f := newFixture(t)
	f.svc.flags = staticFlags{"blocked": false}
	ctx := context.Background()

	item, err := f.svc.Create(ctx, CreateRequest{OwnerID: "blocked", InitialBoost: ptr(10.0)})
	require.NoError(t, err)
	_, err = f.svc.ActivatePowerUp(ctx, item.ID, time.Hour)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	stored, err := f.svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, stored.PowerUsed)

	other, err := f.svc.Create(ctx, CreateRequest{OwnerID: "u2", InitialBoost: ptr(10.0)})
	require.NoError(t, err)
	other, err = f.svc.ActivatePowerUp(ctx, other.ID, time.Hour)
	require.NoError(t, err)
	require.True(t, other.PowerUsed)
}

func TestRecomputePageToleratesMalformedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rows := []*ContentItem{
		{ID: "a1", Clicks: 5, CreatedAt: f.now},
		{ID: "a2", Clicks: -7, LikesCount: -3, InitialBoost: -20},
		{ID: "a3", Clicks: 2, CompletenessScore: 500, CreatedAt: f.now},
	}
	require.NoError(t, f.db.Create(rows).Error)

	res, err := f.svc.RecomputePage(ctx, "", 2)
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.Equal(t, "a2", res.NextCursor)

	res, err = f.svc.RecomputePage(ctx, res.NextCursor, 2)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Empty(t, res.NextCursor)

	var malformed ContentItem
	require.NoError(t, f.db.Where("id = ?", "a2").Take(&malformed).Error)
	require.Zero(t, malformed.PopScore)
	require.Equal(t, int64(0), malformed.LikesCount)
	require.NotNil(t, malformed.ScoredAt)

	top, err := f.svc.Trending(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "a3", top[0].ContentID)
	require.Len(t, top, 2)
}

func TestRecomputePageScoresUndecodableRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Create([]*ContentItem{
		{ID: "m1", Clicks: 5, CreatedAt: f.now},
		{ID: "m4", Clicks: 2, CreatedAt: f.now},
	}).Error)
	require.NoError(t, f.db.Exec(
		"INSERT INTO content_items (id, owner_id, clicks, tags) VALUES (?, ?, ?, ?)", "m2", "u1", 3, "not-json").Error)
	require.NoError(t, f.db.Exec(
		"INSERT INTO content_items (id, owner_id, clicks) VALUES (?, ?, ?)", "m3", "u1", "abc").Error)
	require.NoError(t, f.db.Create(&ContentLike{ID: "l1", ContentID: "m3", UserID: "fan-1", CreatedAt: f.now}).Error)

	res, err := f.svc.RecomputePage(ctx, "", 10)
	require.NoError(t, err)
	require.Equal(t, 4, res.Processed)
	require.Zero(t, res.Skipped)
	require.Empty(t, res.NextCursor)

	want := map[string]float64{"m1": 5, "m2": 3, "m3": 8, "m4": 2}
	for id, score := range want {
		var got struct {
			PopScore float64
			ScoredAt *time.Time
		}
		require.NoError(t, f.db.Raw("SELECT pop_score, scored_at FROM content_items WHERE id = ?", id).Scan(&got).Error)
		require.InDelta(t, score, got.PopScore, 1e-9, id)
		require.NotNil(t, got.ScoredAt, id)
		require.InDelta(t, score, f.ranking.scores[id], 1e-9, id)
	}

	var tags string
	require.NoError(t, f.db.Raw("SELECT tags FROM content_items WHERE id = ?", "m2").Scan(&tags).Error)
	require.Equal(t, "not-json", tags)
}

func TestDeleteDropsRanking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.Create(ctx, CreateRequest{OwnerID: "u1", InitialBoost: ptr(10.0)})
	require.NoError(t, err)
	_, _, err = f.svc.RecordLike(ctx, item.ID, "fan-1")
	require.NoError(t, err)
	require.Contains(t, f.ranking.scores, item.ID)

	require.NoError(t, f.svc.Delete(ctx, item.ID))
	require.NotContains(t, f.ranking.scores, item.ID)

	var likes int64
	require.NoError(t, f.db.Model(&ContentLike{}).Where("content_id = ?", item.ID).Count(&likes).Error)
	require.Zero(t, likes)

	_, err = f.svc.Get(ctx, item.ID)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
	err = f.svc.Delete(ctx, item.ID)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestTrendingFallsBackToDatabase(t *testing.T) {
	f := newFixture(t)
	f.svc.ranking = nil
	ctx := context.Background()

	require.NoError(t, f.db.Create([]*ContentItem{
		{ID: "b1", PopScore: 3}, {ID: "b2", PopScore: 9}, {ID: "b3", PopScore: 6},
	}).Error)

	top, err := f.svc.Trending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"b2", "b3", "b1"}, []string{top[0].ContentID, top[1].ContentID, top[2].ContentID})
}

func TestHandleRecomputePageChainsNextPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.Create([]*ContentItem{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}).Error)

	enq := &captureEnqueuer{}
	worker := NewTask(TaskParams{Service: f.svc, Enqueuer: enq})

	first, err := NewRecomputeTask(RecomputePayload{RunID: "run-1", Limit: 2})
	require.NoError(t, err)
	require.NoError(t, worker.HandleRecomputePage(ctx, first))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.ScoreRecomputePage, enq.tasks[0].Type())

	var next RecomputePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &next))
	require.Equal(t, RecomputePayload{RunID: "run-1", Cursor: "c2", Limit: 2}, next)

	require.NoError(t, worker.HandleRecomputePage(ctx, enq.tasks[0]))
	require.Len(t, enq.tasks, 1)

	bad := asynq.NewTask(taskname.ScoreRecomputePage, []byte("{"))
	require.ErrorIs(t, worker.HandleRecomputePage(ctx, bad), asynq.SkipRetry)
}
