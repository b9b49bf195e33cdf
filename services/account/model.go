package account

import "time"

// User holds the points and moderation state of an account. PointsBalance
// and TotalEarnedPoints are caches of the points ledger.
type User struct {
	ID                    string     `gorm:"column:id;primaryKey" json:"id"`
	Username              string     `gorm:"column:username;uniqueIndex" json:"username"`
	PointsBalance         int64      `gorm:"column:points_balance;not null;default:0" json:"points_balance"`
	TotalEarnedPoints     int64      `gorm:"column:total_earned_points;not null;default:0" json:"total_earned_points"`
	IsSuspended           bool       `gorm:"column:is_suspended;not null;default:false" json:"is_suspended"`
	IsPermanentSuspension bool       `gorm:"column:is_permanent_suspension;not null;default:false" json:"is_permanent_suspension"`
	SuspendedAt           *time.Time `gorm:"column:suspended_at" json:"suspended_at,omitempty"`
	SuspendedUntil        *time.Time `gorm:"column:suspended_until" json:"suspended_until,omitempty"`
	CreatedAt             time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// IsSuspendedAt reports whether the account is barred at now. A permanent
// suspension always applies. A temporary one lapses once SuspendedUntil has
// passed; the stored flag is left as is.
func (u *User) IsSuspendedAt(now time.Time) bool {
	if u == nil {
		return false
	}
	if u.IsPermanentSuspension {
		return true
	}
	if !u.IsSuspended {
		return false
	}
	if u.SuspendedUntil == nil {
		return true
	}
	return now.Before(*u.SuspendedUntil)
}
