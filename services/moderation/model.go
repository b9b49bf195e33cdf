package moderation

import "time"

// Warning ages out passively: it counts while unrevoked and unexpired.
type Warning struct {
	ID         string     `gorm:"column:id;primaryKey" json:"id"`
	UserID     string     `gorm:"column:user_id;not null;index:idx_warnings_user_expiry,priority:1" json:"user_id"`
	ReasonCode string     `gorm:"column:reason_code;not null" json:"reason_code"`
	Note       string     `gorm:"column:note" json:"note,omitempty"`
	IssuedBy   string     `gorm:"column:issued_by" json:"issued_by,omitempty"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null;index:idx_warnings_user_expiry,priority:2" json:"expires_at"`
	IsRevoked  bool       `gorm:"column:is_revoked;not null;default:false" json:"is_revoked"`
	RevokedAt  *time.Time `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
	RevokedBy  string     `gorm:"column:revoked_by" json:"revoked_by,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (Warning) TableName() string { return "warnings" }

func (w *Warning) IsActive(now time.Time) bool {
	return !w.IsRevoked && w.ExpiresAt.After(now)
}

// Actor is the moderator or admin performing an action.
type Actor struct {
	ID   string
	Role string
}

type IssueWarningRequest struct {
	UserID     string `json:"user_id"`
	ReasonCode string `json:"reason_code"`
	Note       string `json:"note,omitempty"`
	TTLDays    int    `json:"ttl_days,omitempty"`
}

// LockStatus is the account state after a lock check. Locked is set only
// when this check performed the transition.
type LockStatus struct {
	ActiveWarnings        int64 `json:"active_warnings"`
	IsSuspended           bool  `json:"is_suspended"`
	IsPermanentSuspension bool  `json:"is_permanent_suspension"`
	Locked                bool  `json:"locked"`
}

type IssueResult struct {
	Warning *Warning    `json:"warning"`
	Status  *LockStatus `json:"status"`
}

type Status struct {
	UserID                string     `json:"user_id"`
	Suspended             bool       `json:"suspended"`
	IsPermanentSuspension bool       `json:"is_permanent_suspension"`
	SuspendedAt           *time.Time `json:"suspended_at,omitempty"`
	SuspendedUntil        *time.Time `json:"suspended_until,omitempty"`
	ActiveWarnings        int64      `json:"active_warnings"`
}
