package level

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BonusCrediter books level bonus points. It must be idempotent per
// (userID, level) and report whether points were added by this call.
type BonusCrediter interface {
	CreditLevelBonus(ctx context.Context, tx *gorm.DB, userID string, level int, points int64) (bool, error)
}

type Granter struct {
	db     *gorm.DB
	node   *snowflake.Node
	engine *Engine
}

type GranterParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Engine *Engine
}

func NewGranter(p GranterParams) *Granter {
	return &Granter{db: p.DB, node: p.Node, engine: p.Engine}
}

// GrantRewards applies the rewards of levels fromExclusive+1..toInclusive in
// order. Unlocks and items are set inserts, so replaying any range, including
// from -1, leaves the same state. tx may be nil to run in a new transaction.
func (g *Granter) GrantRewards(ctx context.Context, tx *gorm.DB, userID string, fromExclusive, toInclusive int, bonus BonusCrediter) ([]GrantedReward, error) {
	if tx == nil {
		var out []GrantedReward
		err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			out, err = g.GrantRewards(ctx, tx, userID, fromExclusive, toInclusive, bonus)
			return err
		})
		return out, err
	}

	if fromExclusive < -1 {
		fromExclusive = -1
	}
	if toInclusive > g.engine.MaxIndex() {
		toInclusive = g.engine.MaxIndex()
	}

	granted := make([]GrantedReward, 0)
	for lvl := fromExclusive + 1; lvl <= toInclusive; lvl++ {
		def, _ := g.engine.Level(lvl)
		for _, r := range def.Rewards {
			applied, err := g.apply(ctx, tx, userID, lvl, r, bonus)
			if err != nil {
				zap.L().Error("failed to grant level reward",
					zap.String("user_id", userID),
					zap.Int("level", lvl),
					zap.String("kind", string(r.Kind)),
					zap.Error(err))
				return nil, err
			}

			granted = append(granted, GrantedReward{
				Level:   lvl,
				Kind:    r.Kind,
				Code:    r.Code,
				Points:  r.Points,
				Applied: applied,
			})
		}
	}

	return granted, nil
}

func (g *Granter) apply(ctx context.Context, tx *gorm.DB, userID string, lvl int, r Reward, bonus BonusCrediter) (bool, error) {
	switch r.Kind {
	case RewardUnlock:
		return g.insertOnce(ctx, tx, &UserUnlock{
			ID: g.node.Generate().String(), UserID: userID, Feature: r.Code, Level: lvl,
		})
	case RewardItem:
		return g.insertOnce(ctx, tx, &OwnedItem{
			ID: g.node.Generate().String(), UserID: userID, ItemCode: r.Code, Level: lvl,
		})
	case RewardBonusPoints:
		if bonus == nil {
			return false, fmt.Errorf("level %d has a bonus reward but no crediter was given", lvl)
		}
		return bonus.CreditLevelBonus(ctx, tx, userID, lvl, r.Points)
	default:
		return false, fmt.Errorf("unknown reward kind %q", r.Kind)
	}
}

func (g *Granter) insertOnce(ctx context.Context, tx *gorm.DB, row any) (bool, error) {
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (g *Granter) Unlocks(ctx context.Context, userID string) ([]string, error) {
	var features []string
	err := g.db.WithContext(ctx).Model(&UserUnlock{}).
		Where("user_id = ?", userID).
		Order("level ASC").Order("feature ASC").
		Pluck("feature", &features).Error
	return features, err
}

func (g *Granter) OwnedItems(ctx context.Context, userID string) ([]string, error) {
	var items []string
	err := g.db.WithContext(ctx).Model(&OwnedItem{}).
		Where("user_id = ?", userID).
		Order("level ASC").Order("item_code ASC").
		Pluck("item_code", &items).Error
	return items, err
}
