package score

import (
	"context"
	"errors"
	"strings"
	"time"

	"engagement-core/pkg/config"
	"engagement-core/pkg/db/option"
	"engagement-core/pkg/errutil"
	"engagement-core/pkg/featureflags"
	"engagement-core/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultInitialBoost = 50
	maxTrendingLimit    = 100
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	engine    *Engine
	ranking   Ranking
	flags     featureflags.FeatureFlag
	batchSize int
	now       func() time.Time

	items repository.Repository[ContentItem]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Redis  *redis.Client            `optional:"true"`
	Flags  featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	sc := p.Config.Score
	svc := newService(p.DB, p.Node, NewEngine(Weights{
		Click:        sc.ClickWeight,
		Like:         sc.LikeWeight,
		Completeness: sc.CompletenessWeight,
	}, sc.WindowHours), nil)
	svc.batchSize = sc.BatchSize
	svc.flags = p.Flags
	if p.Redis != nil {
		svc.ranking = NewRedisRanking(p.Redis)
	}
	return svc
}

func newService(db *gorm.DB, node *snowflake.Node, engine *Engine, ranking Ranking) *Service {
	return &Service{
		db:        db,
		node:      node,
		engine:    engine,
		ranking:   ranking,
		batchSize: 200,
		now:       func() time.Time { return time.Now().UTC() },
		items:     repository.ProvideStore[ContentItem](db),
	}
}

func (s *Service) BatchSize() int { return s.batchSize }

func (s *Service) Create(ctx context.Context, req CreateRequest) (*ContentItem, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, errutil.ValidationFailed("owner_id is required", nil)
	}

	boost := float64(DefaultInitialBoost)
	if req.InitialBoost != nil {
		boost = sanitize(*req.InitialBoost)
	}

	now := s.now()
	item := &ContentItem{
		ID:           s.node.Generate().String(),
		OwnerID:      req.OwnerID,
		InitialBoost: boost,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	req.Metadata.apply(item)
	item.CompletenessScore = ComputeCompleteness(item)
	item.PopScore = s.engine.PopScore(item, now)
	item.ScoredAt = &now

	if err := s.items.Create(ctx, item); err != nil {
		zap.L().Error("failed to create content item", zap.String("owner_id", req.OwnerID), zap.Error(err))
		return nil, err
	}

	s.rank(ctx, item)
	return item, nil
}

func (s *Service) Get(ctx context.Context, id string) (*ContentItem, error) {
	item, err := s.items.FindOne(ctx, &ContentItem{ID: id})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errutil.NotFound("content not found", nil)
	}
	return item, nil
}

func (s *Service) RecordClick(ctx context.Context, id string) (*ContentItem, error) {
	err := s.items.Update(ctx, id, map[string]any{
		"clicks":     gorm.Expr("clicks + 1"),
		"updated_at": s.now(),
	})
	if err != nil {
		return nil, s.notFound(err)
	}
	return s.Recompute(ctx, id)
}

// RecordLike stores userID's like once. liked is false when it already
// existed; the score is recomputed either way.
func (s *Service) RecordLike(ctx context.Context, id, userID string) (item *ContentItem, liked bool, err error) {
	if userID == "" {
		return nil, false, errutil.ValidationFailed("user_id is required", nil)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.items.WithTrx(tx).FindOne(ctx, &ContentItem{ID: id})
		if err != nil {
			return err
		}
		if found == nil {
			return errutil.NotFound("content not found", nil)
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ContentLike{
			ID:        s.node.Generate().String(),
			ContentID: id,
			UserID:    userID,
			CreatedAt: s.now(),
		})
		if res.Error != nil {
			return res.Error
		}
		liked = res.RowsAffected == 1
		if !liked {
			return nil
		}

		return s.items.WithTrx(tx).Update(ctx, id, map[string]any{
			"likes_count": gorm.Expr("likes_count + 1"),
			"updated_at":  s.now(),
		})
	})
	if err != nil {
		return nil, false, err
	}

	item, err = s.Recompute(ctx, id)
	return item, liked, err
}

func (s *Service) RemoveLike(ctx context.Context, id, userID string) (*ContentItem, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("content_id = ? AND user_id = ?", id, userID).Delete(&ContentLike{})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		return tx.Model(&ContentItem{}).
			Where("id = ? AND likes_count > 0", id).
			Update("likes_count", gorm.Expr("likes_count - 1")).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Recompute(ctx, id)
}

// Delete removes an item with its likes and drops it from the ranking.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("content_id = ?", id).Delete(&ContentLike{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&ContentItem{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.NotFound("content not found", nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.ranking != nil {
		if err := s.ranking.Remove(ctx, id); err != nil {
			zap.L().Warn("failed to remove content from ranking", zap.String("content_id", id), zap.Error(err))
		}
	}
	zap.L().Info("content deleted", zap.String("content_id", id))
	return nil
}

// ActivatePowerUp anchors a fresh boost at now that stops counting after d.
// The owner must have the power-up feature enabled.
func (s *Service) ActivatePowerUp(ctx context.Context, id string, d time.Duration) (*ContentItem, error) {
	if d <= 0 {
		return nil, errutil.ValidationFailed("power-up duration must be positive", nil)
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkPowerUp(ctx, item.OwnerID); err != nil {
		return nil, err
	}

	now := s.now()
	expiry := now.Add(d)
	err = s.items.Update(ctx, id, map[string]any{
		"power_used":    true,
		"power_used_at": now,
		"power_expiry":  expiry,
		"updated_at":    now,
	})
	if err != nil {
		return nil, s.notFound(err)
	}
	return s.Recompute(ctx, id)
}

// UpdateMetadata edits descriptive fields and refreshes completeness. The
// cached pop score is left as is until the next qualifying interaction.
func (s *Service) UpdateMetadata(ctx context.Context, id string, m Metadata) (*ContentItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m.apply(item)
	item.CompletenessScore = ComputeCompleteness(item)

	err = s.items.Update(ctx, id, map[string]any{
		"title":              item.Title,
		"description":        item.Description,
		"tags":               item.Tags,
		"model":              item.Model,
		"prompt":             item.Prompt,
		"negative_prompt":    item.NegativePrompt,
		"sampler":            item.Sampler,
		"steps":              item.Steps,
		"cfg_scale":          item.CfgScale,
		"seed":               item.Seed,
		"width":              item.Width,
		"height":             item.Height,
		"completeness_score": item.CompletenessScore,
		"updated_at":         s.now(),
	})
	if err != nil {
		return nil, s.notFound(err)
	}
	return item, nil
}

// Recompute refreshes the cached pop score of one item. The likes
// collection is authoritative over likes_count.
func (s *Service) Recompute(ctx context.Context, id string) (*ContentItem, error) {
	var item *ContentItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, err = s.items.WithTrx(tx).FindOne(ctx, &ContentItem{ID: id}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if item == nil {
			return errutil.NotFound("content not found", nil)
		}

		var likes int64
		if err := tx.Model(&ContentLike{}).Where("content_id = ?", id).Count(&likes).Error; err != nil {
			return err
		}
		return s.store(ctx, tx, item, likes)
	})
	if err != nil {
		return nil, err
	}

	s.rank(ctx, item)
	return item, nil
}

// RecomputePage scores up to limit items after cursor in id order. A row
// whose columns cannot be decoded is scored from whatever fields still parse,
// with the rest counted as zero. Rows that fail to save are logged and
// skipped; an empty NextCursor ends the run.
func (s *Service) RecomputePage(ctx context.Context, cursor string, limit int) (*PageResult, error) {
	if limit <= 0 {
		limit = s.batchSize
	}

	q := s.db.WithContext(ctx).Model(&ContentItem{}).Order("id ASC").Limit(limit)
	if cursor != "" {
		q = q.Where("id > ?", cursor)
	}
	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	res := &PageResult{}
	if len(ids) == 0 {
		return res, nil
	}
	if len(ids) == limit {
		res.NextCursor = ids[len(ids)-1]
	}

	items, skipped, err := s.loadPage(ctx, ids)
	if err != nil {
		return nil, err
	}
	res.Skipped = skipped

	likes, err := s.likeCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		if err := s.store(ctx, s.db.WithContext(ctx), item, likes[item.ID]); err != nil {
			zap.L().Warn("skipping content in score recompute", zap.String("content_id", item.ID), zap.Error(err))
			res.Skipped++
			continue
		}
		s.rank(ctx, item)
		res.Processed++
	}
	return res, nil
}

// loadPage reads ids one row at a time so a single undecodable row cannot
// fail the page. The cursor is drained before returning.
func (s *Service) loadPage(ctx context.Context, ids []string) ([]*ContentItem, int, error) {
	rows, err := s.db.WithContext(ctx).Model(&ContentItem{}).
		Where("id IN ?", ids).Order("id ASC").Rows()
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		items   []*ContentItem
		skipped int
	)
	for rows.Next() {
		item := &ContentItem{}
		scanErr := s.db.ScanRows(rows, item)
		if scanErr == nil {
			items = append(items, item)
			continue
		}

		item, err := salvageRow(rows)
		if err != nil || item.ID == "" {
			zap.L().Warn("skipping unreadable content row", zap.NamedError("scan_error", scanErr), zap.Error(err))
			skipped++
			continue
		}
		zap.L().Warn("scoring malformed content row with defaults",
			zap.String("content_id", item.ID),
			zap.Error(scanErr))
		items = append(items, item)
	}
	return items, skipped, rows.Err()
}

func (s *Service) Trending(ctx context.Context, limit int) ([]RankedItem, error) {
	if limit <= 0 || limit > maxTrendingLimit {
		limit = maxTrendingLimit
	}

	if s.ranking != nil {
		top, err := s.ranking.Top(ctx, limit)
		if err == nil && len(top) > 0 {
			return top, nil
		}
		if err != nil {
			zap.L().Warn("ranking store unavailable, reading from database", zap.Error(err))
		}
	}

	var items []*ContentItem
	err := s.db.WithContext(ctx).Select("id", "pop_score").
		Order("pop_score DESC").Order("id ASC").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}

	out := make([]RankedItem, len(items))
	for i, it := range items {
		out[i] = RankedItem{ContentID: it.ID, PopScore: it.PopScore}
	}
	return out, nil
}

// checkPowerUp fails open when the flag service is unreachable.
func (s *Service) checkPowerUp(ctx context.Context, ownerID string) error {
	if s.flags == nil {
		return nil
	}

	on, err := s.flags.Enabled(ctx, ownerID, featureflags.PowerUp)
	if err != nil {
		zap.L().Warn("feature flag lookup failed", zap.String("owner_id", ownerID), zap.Error(err))
		return nil
	}
	if !on {
		return errutil.Forbidden("power-ups are not available for this account", nil)
	}
	return nil
}

func (s *Service) likeCounts(ctx context.Context, ids []string) (map[string]int64, error) {
	var rows []struct {
		ContentID string
		N         int64
	}
	err := s.db.WithContext(ctx).Model(&ContentLike{}).
		Select("content_id, COUNT(*) AS n").
		Where("content_id IN ?", ids).
		Group("content_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ContentID] = r.N
	}
	return out, nil
}

// store reconciles likes, rescores item and saves the derived columns.
func (s *Service) store(ctx context.Context, tx *gorm.DB, item *ContentItem, likes int64) error {
	now := s.now()
	updates := map[string]any{}

	if item.LikesCount != likes {
		zap.L().Debug("reconciling likes count",
			zap.String("content_id", item.ID),
			zap.Int64("cached", item.LikesCount),
			zap.Int64("actual", likes))
		item.LikesCount = likes
		updates["likes_count"] = likes
	}

	item.PopScore = s.engine.PopScore(item, now)
	item.ScoredAt = &now
	updates["pop_score"] = item.PopScore
	updates["scored_at"] = now

	return s.items.WithTrx(tx).Update(ctx, item.ID, updates)
}

func (s *Service) rank(ctx context.Context, item *ContentItem) {
	if s.ranking == nil {
		return
	}
	if err := s.ranking.Update(ctx, item.ID, item.PopScore); err != nil {
		zap.L().Warn("failed to update ranking", zap.String("content_id", item.ID), zap.Error(err))
	}
}

func (s *Service) notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errutil.NotFound("content not found", err)
	}
	return err
}
