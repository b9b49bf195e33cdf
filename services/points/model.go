package points

import (
	"fmt"
	"time"

	"engagement-core/pkg/errutil"
	"engagement-core/services/level"

	"gorm.io/datatypes"
)

// Action types.
const (
	TypeUpload          = "upload"
	TypeLikeReceived    = "like_received"
	TypeCommentReceived = "comment_received"
	TypeDailyLogin      = "daily_login"

	// Written by the ledger itself, never through CreditPoints.
	TypeLevelBonus = "level_bonus"
	TypeReversal   = "reversal"
)

type DedupScope string

const (
	ScopeDaily    DedupScope = "daily"
	ScopeLifetime DedupScope = "lifetime"
)

type Reason string

const (
	ReasonDuplicate         Reason = "duplicate"
	ReasonLifetimeDuplicate Reason = "lifetime_duplicate"
	ReasonCapReached        Reason = "cap_reached"
	ReasonIneligible        Reason = "ineligible"
)

// Transaction is an immutable ledger entry. Corrections are new entries.
type Transaction struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	UserID      string         `gorm:"column:user_id;not null;index:idx_points_tx_user_type_day,priority:1" json:"user_id"`
	Type        string         `gorm:"column:type;not null;index:idx_points_tx_user_type_day,priority:2" json:"type"`
	Points      int64          `gorm:"column:points;not null" json:"points"`
	SourceID    string         `gorm:"column:source_id" json:"source_id,omitempty"`
	ActorUserID string         `gorm:"column:actor_user_id" json:"actor_user_id,omitempty"`
	DateKey     string         `gorm:"column:date_key;not null;index:idx_points_tx_user_type_day,priority:3" json:"date_key"`
	DedupKey    string         `gorm:"column:dedup_key;not null;uniqueIndex" json:"-"`
	Meta        datatypes.JSON `gorm:"column:meta" json:"meta,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Transaction) TableName() string { return "points_transactions" }

type PointRule struct {
	Type       string     `gorm:"column:type;primaryKey" json:"type"`
	Points     int64      `gorm:"column:points;not null" json:"points"`
	DailyCap   int64      `gorm:"column:daily_cap;not null" json:"daily_cap"`
	DedupScope DedupScope `gorm:"column:dedup_scope;type:varchar(16);not null" json:"dedup_scope"`
	Condition  string     `gorm:"column:condition_expr" json:"condition,omitempty"`
	IsActive   bool       `gorm:"column:is_active;not null" json:"is_active"`
	UpdatedAt  time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (PointRule) TableName() string { return "point_rules" }

func (r *PointRule) Validate() error {
	var details []errutil.Detail
	if r.Type == "" {
		details = append(details, errutil.Detail{Field: "type", Message: "is required"})
	}
	if r.Type == TypeLevelBonus || r.Type == TypeReversal {
		details = append(details, errutil.Detail{Field: "type", Message: "is reserved"})
	}
	if r.Points <= 0 {
		details = append(details, errutil.Detail{Field: "points", Message: "must be positive"})
	}
	if r.DedupScope != ScopeDaily && r.DedupScope != ScopeLifetime {
		details = append(details, errutil.Detail{Field: "dedup_scope", Message: "must be daily or lifetime"})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid point rule", nil, errutil.WithDetails(details...))
	}
	return nil
}

func (r *PointRule) DuplicateReason() Reason {
	if r.DedupScope == ScopeLifetime {
		return ReasonLifetimeDuplicate
	}
	return ReasonDuplicate
}

// Allowance returns how many points a new credit may add given the points
// already earned today for this type. A cap of zero or less means uncapped.
func (r *PointRule) Allowance(usedToday int64) int64 {
	if r.DailyCap <= 0 {
		return r.Points
	}
	remain := max(0, r.DailyCap-usedToday)
	return min(r.Points, remain)
}

type CreditRequest struct {
	UserID      string         `json:"user_id"`
	Type        string         `json:"type"`
	SourceID    string         `json:"source_id,omitempty"`
	ActorUserID string         `json:"actor_user_id,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

func (r CreditRequest) Validate() error {
	var details []errutil.Detail
	if r.UserID == "" {
		details = append(details, errutil.Detail{Field: "user_id", Message: "is required"})
	}
	if r.Type == "" {
		details = append(details, errutil.Detail{Field: "type", Message: "is required"})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid credit request", nil, errutil.WithDetails(details...))
	}
	return nil
}

// CreditResult is returned for both accepted and rejected credits. A
// rejection (OK false) is a normal outcome, not an error.
type CreditResult struct {
	OK            bool                  `json:"ok"`
	Reason        Reason                `json:"reason,omitempty"`
	Added         int64                 `json:"added,omitempty"`
	LevelUp       bool                  `json:"level_up"`
	OldLevel      int                   `json:"old_level"`
	NewLevel      int                   `json:"new_level"`
	Rewards       []level.GrantedReward `json:"rewards,omitempty"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Balance       int64                 `json:"balance"`
	TotalEarned   int64                 `json:"total_earned"`
}

func rejected(reason Reason) *CreditResult {
	return &CreditResult{OK: false, Reason: reason}
}

type ReverseRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// BalanceAudit compares the cached balances with a full ledger replay.
type BalanceAudit struct {
	UserID            string `json:"user_id"`
	CachedBalance     int64  `json:"cached_balance"`
	LedgerBalance     int64  `json:"ledger_balance"`
	CachedTotalEarned int64  `json:"cached_total_earned"`
	LedgerTotalEarned int64  `json:"ledger_total_earned"`
	Repaired          bool   `json:"repaired"`
}

func (a *BalanceAudit) Drift() int64 {
	return a.CachedBalance - a.LedgerBalance
}

type BalanceView struct {
	UserID            string     `json:"user_id"`
	PointsBalance     int64      `json:"points_balance"`
	TotalEarnedPoints int64      `json:"total_earned_points"`
	Level             level.Info `json:"level"`
	Unlocks           []string   `json:"unlocks"`
	OwnedItems        []string   `json:"owned_items"`
}

func levelBonusSource(lvl int) string {
	return fmt.Sprintf("level:%d", lvl)
}
