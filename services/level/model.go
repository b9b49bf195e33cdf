package level

import "time"

type UserUnlock struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_user_unlocks_user_feature"`
	Feature   string    `gorm:"column:feature;uniqueIndex:idx_user_unlocks_user_feature"`
	Level     int       `gorm:"column:level"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (UserUnlock) TableName() string { return "user_unlocks" }

type OwnedItem struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_owned_items_user_item"`
	ItemCode  string    `gorm:"column:item_code;uniqueIndex:idx_owned_items_user_item"`
	Level     int       `gorm:"column:level"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (OwnedItem) TableName() string { return "owned_items" }

// GrantedReward reports one reward of a level range. Applied is false when
// the reward was already held before the call.
type GrantedReward struct {
	Level   int        `json:"level"`
	Kind    RewardKind `json:"kind"`
	Code    string     `json:"code,omitempty"`
	Points  int64      `json:"points,omitempty"`
	Applied bool       `json:"applied"`
}
