package points

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"engagement-core/pkg/celengine"
	"engagement-core/pkg/config"
	"engagement-core/pkg/errutil"

	"github.com/google/cel-go/cel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ruleCacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "points_rule_cache_hits_total"})
	ruleCacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "points_rule_cache_miss_total"})
)

// notSelfAction rejects credits where the receiver triggered the action.
const notSelfAction = `actor_user_id == "" || actor_user_id != user_id`

func DefaultRules() []PointRule {
	return []PointRule{
		{Type: TypeUpload, Points: 10, DailyCap: 50, DedupScope: ScopeLifetime, IsActive: true},
		{Type: TypeLikeReceived, Points: 2, DailyCap: 40, DedupScope: ScopeLifetime, Condition: notSelfAction, IsActive: true},
		{Type: TypeCommentReceived, Points: 3, DailyCap: 30, DedupScope: ScopeDaily, Condition: notSelfAction, IsActive: true},
		{Type: TypeDailyLogin, Points: 5, DailyCap: 5, DedupScope: ScopeDaily, IsActive: true},
	}
}

type cachedRule struct {
	rule     PointRule
	loadedAt time.Time
}

// RuleBook is a read-through cache over point_rules.
type RuleBook struct {
	db    *gorm.DB
	cel   *celengine.Engine
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]cachedRule
	group singleflight.Group
}

type RuleBookParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewRuleBook(p RuleBookParams) (*RuleBook, error) {
	return newRuleBook(p.DB, p.Config.Points.RuleCacheTTL)
}

func newRuleBook(db *gorm.DB, ttl time.Duration) (*RuleBook, error) {
	engine, err := celengine.New(
		celengine.Variable{Name: "user_id", Type: cel.StringType},
		celengine.Variable{Name: "type", Type: cel.StringType},
		celengine.Variable{Name: "source_id", Type: cel.StringType},
		celengine.Variable{Name: "actor_user_id", Type: cel.StringType},
		celengine.Variable{Name: "meta", Type: cel.MapType(cel.StringType, cel.DynType)},
	)
	if err != nil {
		return nil, fmt.Errorf("build rule condition env: %w", err)
	}

	return &RuleBook{
		db:    db,
		cel:   engine,
		ttl:   ttl,
		items: make(map[string]cachedRule),
	}, nil
}

func (b *RuleBook) cached(typ string) (PointRule, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.items[typ]
	if !ok || (b.ttl > 0 && time.Since(v.loadedAt) > b.ttl) {
		return PointRule{}, false
	}
	return v.rule, true
}

func (b *RuleBook) Invalidate(typ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, typ)
}

// Get returns the active rule for an action type. Unknown and disabled
// types are validation errors.
func (b *RuleBook) Get(ctx context.Context, typ string) (*PointRule, error) {
	rule, ok := b.cached(typ)
	if ok {
		ruleCacheHits.Inc()
	} else {
		ruleCacheMiss.Inc()
		v, err, _ := b.group.Do(typ, func() (any, error) {
			var r PointRule
			err := b.db.WithContext(ctx).Where("type = ?", typ).Take(&r).Error
			if err != nil {
				return nil, err
			}

			b.mu.Lock()
			b.items[typ] = cachedRule{rule: r, loadedAt: time.Now()}
			b.mu.Unlock()
			return r, nil
		})
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errutil.ValidationFailed(fmt.Sprintf("unknown action type %q", typ), nil)
			}
			return nil, err
		}
		rule = v.(PointRule)
	}

	if !rule.IsActive {
		return nil, errutil.ValidationFailed(fmt.Sprintf("action type %q is disabled", typ), nil)
	}
	return &rule, nil
}

// Eligible evaluates the rule's condition for req. Rules without a
// condition always pass.
func (b *RuleBook) Eligible(rule *PointRule, req CreditRequest) (bool, error) {
	if rule.Condition == "" {
		return true, nil
	}

	meta := req.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	return b.cel.Evaluate(rule.Condition, map[string]any{
		"user_id":       req.UserID,
		"type":          req.Type,
		"source_id":     req.SourceID,
		"actor_user_id": req.ActorUserID,
		"meta":          meta,
	})
}

// Upsert validates and stores a rule, then drops its cached copy.
func (b *RuleBook) Upsert(ctx context.Context, rule *PointRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Condition != "" {
		if err := b.cel.Validate(rule.Condition); err != nil {
			return errutil.ValidationFailed("invalid rule condition", err,
				errutil.WithDetails(errutil.Detail{Field: "condition", Message: err.Error()}))
		}
	}

	rule.UpdatedAt = time.Now().UTC()
	if err := b.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rule).Error; err != nil {
		zap.L().Error("failed to upsert point rule", zap.String("type", rule.Type), zap.Error(err))
		return err
	}

	b.Invalidate(rule.Type)
	return nil
}

func (b *RuleBook) List(ctx context.Context) ([]PointRule, error) {
	var rules []PointRule
	if err := b.db.WithContext(ctx).Order("type ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// SeedDefaults inserts DefaultRules, keeping any rule that already exists.
func SeedDefaults(ctx context.Context, db *gorm.DB) error {
	rules := DefaultRules()
	now := time.Now().UTC()
	for i := range rules {
		rules[i].UpdatedAt = now
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rules).Error
}
