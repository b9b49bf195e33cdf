package points

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"engagement-core/pkg/db/pagination"
	"engagement-core/pkg/errutil"
	"engagement-core/pkg/taskname"
	"engagement-core/services/account"
	"engagement-core/services/level"
	"engagement-core/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (c *captureEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, t)
	return &asynq.TaskInfo{ID: "t1", Queue: "low"}, nil
}

type fixture struct {
	db  *gorm.DB
	svc *Service
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&account.User{}, &Transaction{}, &PointRule{},
		&level.UserUnlock{}, &level.OwnedItem{},
	)
	require.NoError(t, SeedDefaults(context.Background(), db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	rules, err := newRuleBook(db, 0)
	require.NoError(t, err)

	engine, err := level.NewEngine(level.DefaultTable(), 5)
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		DB:      db,
		Node:    node,
		Rules:   rules,
		Levels:  engine,
		Granter: level.NewGranter(level.GranterParams{DB: db, Node: node, Engine: engine}),
	})

	f := &fixture{db: db, svc: svc, now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) user(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.db.Create(&account.User{ID: id, Username: id}).Error)
}

func (f *fixture) reload(t *testing.T, id string) *account.User {
	t.Helper()
	var u account.User
	require.NoError(t, f.db.Where("id = ?", id).Take(&u).Error)
	return &u
}

func (f *fixture) ledgerSum(t *testing.T, id string) int64 {
	t.Helper()
	var sum int64
	require.NoError(t, f.db.Model(&Transaction{}).Select("COALESCE(SUM(points), 0)").Where("user_id = ?", id).Scan(&sum).Error)
	return sum
}

func (f *fixture) addRule(t *testing.T, rule PointRule) {
	t.Helper()
	rule.IsActive = true
	require.NoError(t, f.svc.Rules().Upsert(context.Background(), &rule))
}

func TestCreditPointsLifetimeDuplicate(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	ctx := context.Background()

	req := CreditRequest{UserID: "u1", Type: TypeUpload, SourceID: "content-1"}
	res, err := f.svc.CreditPoints(ctx, req)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Equal(t, int64(10), res.Added)

	res, err = f.svc.CreditPoints(ctx, req)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, ReasonLifetimeDuplicate, res.Reason)

	// still a duplicate on another day
	f.now = f.now.Add(72 * time.Hour)
	res, err = f.svc.CreditPoints(ctx, req)
	require.NoError(t, err)
	require.Equal(t, ReasonLifetimeDuplicate, res.Reason)

	require.Equal(t, int64(10), f.reload(t, "u1").PointsBalance)
}

func TestCreditPointsDailyCap(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	f.addRule(t, PointRule{Type: "view_received", Points: 1, DailyCap: 5, DedupScope: ScopeLifetime})
	ctx := context.Background()

	for i := range 5 {
		res, err := f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: "view_received", SourceID: fmt.Sprintf("v%d", i)})
		require.NoError(t, err)
		require.True(t, res.OK, "credit %d", i)
	}

	res, err := f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: "view_received", SourceID: "v5"})
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, ReasonCapReached, res.Reason)

	// the cap resets with the day
	f.now = f.now.Add(24 * time.Hour)
	res, err = f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: "view_received", SourceID: "v6"})
	require.NoError(t, err)
	require.True(t, res.OK)

	require.Equal(t, int64(6), f.reload(t, "u1").PointsBalance)
}

func TestCreditPointsPartialRemainder(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	f.addRule(t, PointRule{Type: "share", Points: 3, DailyCap: 5, DedupScope: ScopeLifetime})
	ctx := context.Background()

	var added []int64
	for i := range 3 {
		res, err := f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: "share", SourceID: fmt.Sprintf("s%d", i)})
		require.NoError(t, err)
		added = append(added, res.Added)
	}
	require.Equal(t, []int64{3, 2, 0}, added)
	require.Equal(t, int64(5), f.reload(t, "u1").TotalEarnedPoints)
}

func TestCreditPointsDailyScope(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	ctx := context.Background()

	req := CreditRequest{UserID: "u1", Type: TypeDailyLogin}
	res, err := f.svc.CreditPoints(ctx, req)
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = f.svc.CreditPoints(ctx, req)
	require.NoError(t, err)
	require.Equal(t, ReasonDuplicate, res.Reason)

	f.now = f.now.Add(24 * time.Hour)
	res, err = f.svc.CreditPoints(ctx, req)
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestCreditPointsIneligibleSelfAction(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	ctx := context.Background()

	res, err := f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: TypeLikeReceived, SourceID: "c1", ActorUserID: "u1"})
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, ReasonIneligible, res.Reason)

	res, err = f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: TypeLikeReceived, SourceID: "c1", ActorUserID: "u2"})
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestCreditPointsErrors(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	ctx := context.Background()

	_, err := f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: "nope"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.CreditPoints(ctx, CreditRequest{Type: TypeUpload})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.CreditPoints(ctx, CreditRequest{UserID: "ghost", Type: TypeUpload, SourceID: "c1"})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	disabled := PointRule{Type: "retired", Points: 1, DedupScope: ScopeLifetime}
	require.NoError(t, f.svc.Rules().Upsert(ctx, &disabled))
	_, err = f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: "retired"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestCreditPointsConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	ctx := context.Background()

	const n = 8
	results := make([]*CreditResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: TypeUpload, SourceID: "same"})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	ok := 0
	for _, r := range results {
		if r.OK {
			ok++
			continue
		}
		require.Equal(t, ReasonLifetimeDuplicate, r.Reason)
	}
	require.Equal(t, 1, ok)
	require.Equal(t, int64(10), f.reload(t, "u1").PointsBalance)
	require.Equal(t, f.ledgerSum(t, "u1"), f.reload(t, "u1").PointsBalance)
}

func TestCreditPointsInsertConflictIsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	ctx := context.Background()

	// a concurrent writer books the same dedup key between the pre-check
	// and this credit's insert
	fired := false
	err := f.db.Callback().Create().Before("gorm:create").Register("points_test:race_dedup", func(tx *gorm.DB) {
		entry, ok := tx.Statement.Dest.(*Transaction)
		if !ok || fired || entry.Type != TypeUpload {
			return
		}
		fired = true
		tx.AddError(tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO points_transactions (id, user_id, type, points, date_key, dedup_key) VALUES (?, ?, ?, ?, ?, ?)",
			"rival", entry.UserID, entry.Type, entry.Points, entry.DateKey, entry.DedupKey,
		).Error)
	})
	require.NoError(t, err)

	res, err := f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: TypeUpload, SourceID: "content-1"})
	require.NoError(t, err)
	require.True(t, fired)
	require.False(t, res.OK)
	require.Equal(t, ReasonLifetimeDuplicate, res.Reason)

	u := f.reload(t, "u1")
	require.Zero(t, u.PointsBalance)
	require.Zero(t, u.TotalEarnedPoints)
	require.Zero(t, f.ledgerSum(t, "u1"))
}

func TestCreditPointsMultiLevelJump(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	f.addRule(t, PointRule{Type: "contest_win", Points: 800, DedupScope: ScopeLifetime})
	ctx := context.Background()

	res, err := f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: "contest_win", SourceID: "spring"})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.True(t, res.LevelUp)
	require.Equal(t, 0, res.OldLevel)
	require.Equal(t, 3, res.NewLevel)
	require.Equal(t, int64(800), res.TotalEarned)
	require.Equal(t, int64(870), res.Balance)

	levels := map[int]bool{}
	for _, r := range res.Rewards {
		require.True(t, r.Applied)
		levels[r.Level] = true
	}
	require.Equal(t, map[int]bool{1: true, 2: true, 3: true}, levels)

	u := f.reload(t, "u1")
	require.Equal(t, int64(870), u.PointsBalance)
	require.Equal(t, int64(800), u.TotalEarnedPoints)
	require.Equal(t, f.ledgerSum(t, "u1"), u.PointsBalance)

	view, err := f.svc.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 3, view.Level.Index)
	require.ElementsMatch(t, []string{"profile_banner", "custom_tags"}, view.Unlocks)
	require.Equal(t, []string{"frame_bronze"}, view.OwnedItems)

	audit, err := f.svc.RebuildBalance(ctx, "u1")
	require.NoError(t, err)
	require.False(t, audit.Repaired)
}

func TestReversePoints(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	ctx := context.Background()

	res, err := f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: TypeUpload, SourceID: "c1"})
	require.NoError(t, err)

	rev, err := f.svc.ReversePoints(ctx, ReverseRequest{TransactionID: res.TransactionID, Reason: "spam upload"})
	require.NoError(t, err)
	require.Equal(t, int64(-10), rev.Points)

	u := f.reload(t, "u1")
	require.Equal(t, int64(0), u.PointsBalance)
	require.Equal(t, int64(10), u.TotalEarnedPoints)

	_, err = f.svc.ReversePoints(ctx, ReverseRequest{TransactionID: res.TransactionID})
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	_, err = f.svc.ReversePoints(ctx, ReverseRequest{TransactionID: rev.ID})
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))

	_, err = f.svc.ReversePoints(ctx, ReverseRequest{TransactionID: "missing"})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	audit, err := f.svc.RebuildBalance(ctx, "u1")
	require.NoError(t, err)
	require.False(t, audit.Repaired)
}

func TestRebuildBalanceRepairsDrift(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	f.user(t, "u2")
	ctx := context.Background()

	for _, src := range []string{"a", "b", "c"} {
		_, err := f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: TypeUpload, SourceID: src})
		require.NoError(t, err)
	}

	require.NoError(t, f.db.Model(&account.User{}).Where("id = ?", "u1").
		Updates(map[string]any{"points_balance": 999, "total_earned_points": 5}).Error)

	audit, err := f.svc.RebuildBalance(ctx, "u1")
	require.NoError(t, err)
	require.True(t, audit.Repaired)
	require.Equal(t, int64(969), audit.Drift())
	require.Equal(t, int64(30), audit.LedgerBalance)

	u := f.reload(t, "u1")
	require.Equal(t, int64(30), u.PointsBalance)
	require.Equal(t, int64(30), u.TotalEarnedPoints)

	require.NoError(t, f.db.Model(&account.User{}).Where("id = ?", "u2").Update("points_balance", 7).Error)
	repaired, err := f.svc.RebuildAll(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, repaired)
	require.Equal(t, int64(0), f.reload(t, "u2").PointsBalance)

	_, err = f.svc.RebuildBalance(ctx, "ghost")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestFixMissingRewards(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&account.User{ID: "u1", Username: "u1", TotalEarnedPoints: 350, PointsBalance: 350}).Error)
	ctx := context.Background()

	rewards, err := f.svc.FixMissingRewards(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, rewards)
	for _, r := range rewards {
		require.True(t, r.Applied)
		require.LessOrEqual(t, r.Level, 2)
	}
	require.Equal(t, int64(370), f.reload(t, "u1").PointsBalance)

	rewards, err = f.svc.FixMissingRewards(ctx, "u1")
	require.NoError(t, err)
	for _, r := range rewards {
		require.False(t, r.Applied)
	}
	require.Equal(t, int64(370), f.reload(t, "u1").PointsBalance)
}

func TestScheduleFixMissingRewards(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&account.User{ID: "u1", Username: "u1", TotalEarnedPoints: 350, PointsBalance: 350}).Error)
	ctx := context.Background()

	_, err := f.svc.ScheduleFixMissingRewards(ctx, "u1")
	require.True(t, errutil.Is(err, errutil.StatusNotImplemented))

	enq := &captureEnqueuer{}
	f.svc.enqueuer = enq
	_, err = f.svc.ScheduleFixMissingRewards(ctx, "")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	info, err := f.svc.ScheduleFixMissingRewards(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "t1", info.ID)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.PointsFixMissingRewards, enq.tasks[0].Type())
	require.JSONEq(t, `{"user_id":"u1"}`, string(enq.tasks[0].Payload()))

	worker := NewTask(TaskParams{Service: f.svc})
	require.NoError(t, worker.HandleFixMissingRewards(ctx, enq.tasks[0]))
	require.Equal(t, int64(370), f.reload(t, "u1").PointsBalance)
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	ctx := context.Background()

	for i := range 5 {
		_, err := f.svc.CreditPoints(ctx, CreditRequest{UserID: "u1", Type: TypeUpload, SourceID: fmt.Sprintf("c%d", i)})
		require.NoError(t, err)
	}

	page, info, err := f.svc.ListTransactions(ctx, "u1", pagination.Pagination{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.True(t, info.HasMore)
	require.Greater(t, page[0].ID, page[1].ID)

	rest, info, err := f.svc.ListTransactions(ctx, "u1", pagination.Pagination{Limit: 3, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.False(t, info.HasMore)

	_, _, err = f.svc.ListTransactions(ctx, "u1", pagination.Pagination{Cursor: "!!"})
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))

	_, _, err = f.svc.ListTransactions(ctx, "", pagination.Pagination{})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.Balance(ctx, "")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestRuleUpsertRejectsBadCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Rules().Upsert(ctx, &PointRule{Type: "x", Points: 1, DedupScope: ScopeDaily, Condition: "user_id +"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	err = f.svc.Rules().Upsert(ctx, &PointRule{Type: TypeReversal, Points: 1, DedupScope: ScopeDaily})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	rules, err := f.svc.Rules().List(ctx)
	require.NoError(t, err)
	require.Len(t, rules, len(DefaultRules()))
}
