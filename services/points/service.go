package points

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"engagement-core/pkg/db"
	"engagement-core/pkg/db/option"
	"engagement-core/pkg/db/pagination"
	"engagement-core/pkg/errutil"
	"engagement-core/pkg/repository"
	"engagement-core/pkg/task"
	"engagement-core/pkg/taskname"
	"engagement-core/services/account"
	"engagement-core/services/level"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var creditOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "points_credit_outcomes_total",
	Help: "Credit attempts by action type and outcome.",
}, []string{"type", "outcome"})

const rebuildConcurrency = 4

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	rules    *RuleBook
	levels   *level.Engine
	granter  *level.Granter
	enqueuer task.Enqueuer
	tracer   trace.Tracer
	now      func() time.Time

	users  repository.Repository[account.User]
	ledger repository.Repository[Transaction]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Rules    *RuleBook
	Levels   *level.Engine
	Granter  *level.Granter
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		rules:    p.Rules,
		levels:   p.Levels,
		granter:  p.Granter,
		enqueuer: p.Enqueuer,
		tracer:   otel.Tracer("engagement-core/points"),
		now:      func() time.Time { return time.Now().UTC() },

		users:  repository.ProvideStore[account.User](p.DB),
		ledger: repository.ProvideStore[Transaction](p.DB),
	}
}

func (s *Service) Rules() *RuleBook { return s.rules }

// CreditPoints grants the points of one user action. Duplicate, capped and
// ineligible actions come back as a rejected result with a nil error.
func (s *Service) CreditPoints(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	ctx, span := s.tracer.Start(ctx, "points.CreditPoints",
		trace.WithAttributes(attribute.String("user_id", req.UserID), attribute.String("type", req.Type)))
	defer span.End()

	log := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", req.UserID),
		zap.String("type", req.Type),
	)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	rule, err := s.rules.Get(ctx, req.Type)
	if err != nil {
		return nil, err
	}

	ok, err := s.rules.Eligible(rule, req)
	if err != nil {
		log.Error("failed to evaluate rule condition", zap.Error(err))
		return nil, errutil.Internal("failed to evaluate rule condition", err)
	}
	if !ok {
		return s.reject(log, req.Type, ReasonIneligible), nil
	}

	var meta datatypes.JSON
	if len(req.Meta) > 0 {
		b, err := json.Marshal(req.Meta)
		if err != nil {
			return nil, errutil.ValidationFailed("meta is not serializable", err)
		}
		meta = b
	}

	now := s.now()
	dateKey := DateKey(now)
	dedupKey := BuildDedupKey(rule.DedupScope, req.UserID, req.Type, req.SourceID, req.ActorUserID, dateKey)

	var result *CreditResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.WithTrx(tx).FindOne(ctx, &account.User{ID: req.UserID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if user == nil {
			return errutil.NotFound("user not found", nil)
		}

		var seen int64
		if err := tx.Model(&Transaction{}).Where("dedup_key = ?", dedupKey).Count(&seen).Error; err != nil {
			return err
		}
		if seen > 0 {
			result = rejected(rule.DuplicateReason())
			return nil
		}

		var usedToday int64
		err = tx.Model(&Transaction{}).
			Select("COALESCE(SUM(points), 0)").
			Where("user_id = ? AND type = ? AND date_key = ?", req.UserID, req.Type, dateKey).
			Scan(&usedToday).Error
		if err != nil {
			return err
		}

		add := rule.Allowance(usedToday)
		if add <= 0 {
			result = rejected(ReasonCapReached)
			return nil
		}

		entry := &Transaction{
			ID:          s.node.Generate().String(),
			UserID:      req.UserID,
			Type:        req.Type,
			Points:      add,
			SourceID:    req.SourceID,
			ActorUserID: req.ActorUserID,
			DateKey:     dateKey,
			DedupKey:    dedupKey,
			Meta:        meta,
			CreatedAt:   now,
		}
		if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
			return err
		}

		err = s.users.WithTrx(tx).Update(ctx, user.ID, map[string]any{
			"points_balance":      gorm.Expr("points_balance + ?", add),
			"total_earned_points": gorm.Expr("total_earned_points + ?", add),
			"updated_at":          now,
		})
		if err != nil {
			return err
		}

		oldTotal := user.TotalEarnedPoints
		newTotal := oldTotal + add
		oldLevel := s.levels.LevelIndex(oldTotal)
		newLevel := s.levels.LevelIndex(newTotal)

		result = &CreditResult{
			OK:            true,
			Added:         add,
			OldLevel:      oldLevel,
			NewLevel:      newLevel,
			TransactionID: entry.ID,
			Balance:       user.PointsBalance + add,
			TotalEarned:   newTotal,
		}

		if newLevel > oldLevel {
			rewards, err := s.granter.GrantRewards(ctx, tx, user.ID, oldLevel, newLevel, s)
			if err != nil {
				return err
			}
			result.LevelUp = true
			result.Rewards = rewards
			for _, r := range rewards {
				if r.Kind == level.RewardBonusPoints && r.Applied {
					result.Balance += r.Points
				}
			}
		}

		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			// lost a race against a concurrent credit of the same action
			return s.reject(log, req.Type, rule.DuplicateReason()), nil
		}
		if errutil.StatusOf(err) == errutil.StatusInternal {
			log.Error("failed to credit points", zap.Error(err))
		}
		return nil, err
	}

	if !result.OK {
		return s.reject(log, req.Type, result.Reason), nil
	}

	creditOutcomes.WithLabelValues(req.Type, "ok").Inc()
	if result.LevelUp {
		log.Info("user levelled up",
			zap.Int("old_level", result.OldLevel),
			zap.Int("new_level", result.NewLevel),
			zap.Int("rewards", len(result.Rewards)))
	}
	return result, nil
}

func (s *Service) reject(log *zap.Logger, typ string, reason Reason) *CreditResult {
	creditOutcomes.WithLabelValues(typ, string(reason)).Inc()
	log.Debug("credit rejected", zap.String("reason", string(reason)))
	return rejected(reason)
}

// CreditLevelBonus books the bonus of lvl once per user. It raises the
// spendable balance only; total earned points stay tied to actions.
func (s *Service) CreditLevelBonus(ctx context.Context, tx *gorm.DB, userID string, lvl int, points int64) (bool, error) {
	if points <= 0 {
		return false, nil
	}

	now := s.now()
	source := levelBonusSource(lvl)
	entry := &Transaction{
		ID:        s.node.Generate().String(),
		UserID:    userID,
		Type:      TypeLevelBonus,
		Points:    points,
		SourceID:  source,
		DateKey:   DateKey(now),
		DedupKey:  BuildDedupKey(ScopeLifetime, userID, TypeLevelBonus, source, "", ""),
		CreatedAt: now,
	}

	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	err := s.users.WithTrx(tx).Update(ctx, userID, map[string]any{
		"points_balance": gorm.Expr("points_balance + ?", points),
		"updated_at":     now,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReversePoints books a compensating entry for a prior credit. Each entry
// can be reversed once.
func (s *Service) ReversePoints(ctx context.Context, req ReverseRequest) (*Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "points.ReversePoints",
		trace.WithAttributes(attribute.String("transaction_id", req.TransactionID)))
	defer span.End()

	if req.TransactionID == "" {
		return nil, errutil.ValidationFailed("transaction_id is required", nil)
	}

	var reversal *Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orig, err := s.ledger.WithTrx(tx).FindOne(ctx, &Transaction{ID: req.TransactionID})
		if err != nil {
			return err
		}
		if orig == nil {
			return errutil.NotFound("transaction not found", nil)
		}
		if orig.Type == TypeReversal || orig.Points <= 0 {
			return errutil.BadRequest("transaction cannot be reversed", nil)
		}

		user, err := s.users.WithTrx(tx).FindOne(ctx, &account.User{ID: orig.UserID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if user == nil {
			return errutil.NotFound("user not found", nil)
		}

		var meta datatypes.JSON
		if req.Reason != "" {
			meta, _ = json.Marshal(map[string]string{"reason": req.Reason})
		}

		now := s.now()
		reversal = &Transaction{
			ID:        s.node.Generate().String(),
			UserID:    orig.UserID,
			Type:      TypeReversal,
			Points:    -orig.Points,
			SourceID:  orig.ID,
			DateKey:   DateKey(now),
			DedupKey:  BuildDedupKey(ScopeLifetime, orig.UserID, TypeReversal, orig.ID, "", ""),
			Meta:      meta,
			CreatedAt: now,
		}
		if err := s.ledger.WithTrx(tx).Create(ctx, reversal); err != nil {
			return err
		}

		return s.users.WithTrx(tx).Update(ctx, user.ID, map[string]any{
			"points_balance": gorm.Expr("points_balance - ?", orig.Points),
			"updated_at":     now,
		})
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errutil.Conflict("transaction already reversed", err)
		}
		if errutil.StatusOf(err) == errutil.StatusInternal {
			zap.L().Error("failed to reverse points", zap.String("transaction_id", req.TransactionID), zap.Error(err))
		}
		return nil, err
	}

	return reversal, nil
}

// RebuildBalance replays the ledger of one user and rewrites the cached
// balances when they drifted.
func (s *Service) RebuildBalance(ctx context.Context, userID string) (*BalanceAudit, error) {
	ctx, span := s.tracer.Start(ctx, "points.RebuildBalance", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	audit := &BalanceAudit{UserID: userID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.WithTrx(tx).FindOne(ctx, &account.User{ID: userID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if user == nil {
			return errutil.NotFound("user not found", nil)
		}
		audit.CachedBalance = user.PointsBalance
		audit.CachedTotalEarned = user.TotalEarnedPoints

		err = tx.Model(&Transaction{}).
			Select("COALESCE(SUM(points), 0)").
			Where("user_id = ?", userID).
			Scan(&audit.LedgerBalance).Error
		if err != nil {
			return err
		}

		err = tx.Model(&Transaction{}).
			Select("COALESCE(SUM(points), 0)").
			Where("user_id = ? AND points > 0 AND type NOT IN ?", userID, []string{TypeLevelBonus, TypeReversal}).
			Scan(&audit.LedgerTotalEarned).Error
		if err != nil {
			return err
		}

		if audit.Drift() == 0 && audit.CachedTotalEarned == audit.LedgerTotalEarned {
			return nil
		}

		audit.Repaired = true
		return s.users.WithTrx(tx).Update(ctx, userID, map[string]any{
			"points_balance":      audit.LedgerBalance,
			"total_earned_points": audit.LedgerTotalEarned,
			"updated_at":          s.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	if audit.Repaired {
		zap.L().Warn("points balance drift repaired",
			zap.String("user_id", userID),
			zap.Int64("balance_drift", audit.Drift()),
			zap.Int64("cached_total_earned", audit.CachedTotalEarned),
			zap.Int64("ledger_total_earned", audit.LedgerTotalEarned))
	}
	return audit, nil
}

// RebuildAll audits every user in pages of batchSize and returns how many
// were repaired.
func (s *Service) RebuildAll(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 200
	}

	repaired := 0
	cursor := ""
	for {
		var ids []string
		q := s.db.WithContext(ctx).Model(&account.User{}).Order("id ASC").Limit(batchSize)
		if cursor != "" {
			q = q.Where("id > ?", cursor)
		}
		if err := q.Pluck("id", &ids).Error; err != nil {
			return repaired, err
		}
		if len(ids) == 0 {
			return repaired, nil
		}

		audits := make([]*BalanceAudit, len(ids))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(rebuildConcurrency)
		for i, id := range ids {
			g.Go(func() error {
				a, err := s.RebuildBalance(gctx, id)
				if err != nil {
					return fmt.Errorf("rebuild %s: %w", id, err)
				}
				audits[i] = a
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return repaired, err
		}

		for _, a := range audits {
			if a.Repaired {
				repaired++
			}
		}
		cursor = ids[len(ids)-1]
	}
}

// FixMissingRewards replays the rewards of every level the user has reached.
func (s *Service) FixMissingRewards(ctx context.Context, userID string) ([]level.GrantedReward, error) {
	user, err := s.users.FindOne(ctx, &account.User{ID: userID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errutil.NotFound("user not found", nil)
	}

	rewards, err := s.granter.GrantRewards(ctx, nil, userID, -1, s.levels.LevelIndex(user.TotalEarnedPoints), s)
	if err != nil {
		zap.L().Error("failed to fix missing rewards", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	return rewards, nil
}

// ScheduleRebuild queues a balance rebuild for userID on the worker.
func (s *Service) ScheduleRebuild(ctx context.Context, userID string) (*asynq.TaskInfo, error) {
	return s.scheduleUserTask(ctx, taskname.PointsRebuildBalance, userID)
}

// ScheduleFixMissingRewards queues a reward replay for userID on the worker.
func (s *Service) ScheduleFixMissingRewards(ctx context.Context, userID string) (*asynq.TaskInfo, error) {
	return s.scheduleUserTask(ctx, taskname.PointsFixMissingRewards, userID)
}

func (s *Service) scheduleUserTask(ctx context.Context, typename, userID string) (*asynq.TaskInfo, error) {
	if s.enqueuer == nil {
		return nil, errutil.NotImplemented("background tasks are not configured", nil)
	}
	if userID == "" {
		return nil, errutil.ValidationFailed("user_id is required", nil)
	}

	t, err := task.NewJSONTask(typename, UserTaskPayload{UserID: userID},
		asynq.Queue(task.QueueLow), asynq.MaxRetry(3))
	if err != nil {
		return nil, err
	}
	return s.enqueuer.Enqueue(ctx, t)
}

// ListTransactions pages a user's ledger newest first.
func (s *Service) ListTransactions(ctx context.Context, userID string, p pagination.Pagination) ([]*Transaction, *pagination.PageInfo, error) {
	if userID == "" {
		return nil, nil, errutil.ValidationFailed("user_id is required", nil)
	}
	p = p.Normalize()

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc"}),
		option.WithLimit(p.Limit + 1),
	}
	if p.Cursor != "" {
		c, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "id", Operator: option.LT, Value: c.ID}))
	}

	rows, err := s.ledger.Find(ctx, &Transaction{UserID: userID}, opts...)
	if err != nil {
		return nil, nil, err
	}

	page, info := pagination.BuildCursorPage(rows, p.Limit, func(t *Transaction) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{ID: t.ID})
		return c
	})
	return page, info, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (*BalanceView, error) {
	user, err := s.users.FindOne(ctx, &account.User{ID: userID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errutil.NotFound("user not found", nil)
	}

	unlocks, err := s.granter.Unlocks(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := s.granter.OwnedItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &BalanceView{
		UserID:            user.ID,
		PointsBalance:     user.PointsBalance,
		TotalEarnedPoints: user.TotalEarnedPoints,
		Level:             s.levels.LevelInfo(user.TotalEarnedPoints),
		Unlocks:           unlocks,
		OwnedItems:        items,
	}, nil
}

// isNotFound reports gorm and service not-found errors alike.
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errutil.Is(err, errutil.StatusNotFound)
}
