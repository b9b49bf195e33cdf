package level

type RewardKind string

const (
	RewardUnlock      RewardKind = "unlock"
	RewardItem        RewardKind = "item"
	RewardBonusPoints RewardKind = "bonus_points"
)

type Reward struct {
	Kind   RewardKind `json:"kind"`
	Code   string     `json:"code,omitempty"`
	Points int64      `json:"points,omitempty"`
}

type Level struct {
	Threshold int64    `json:"threshold"`
	Title     string   `json:"title"`
	Color     string   `json:"color"`
	Rewards   []Reward `json:"rewards,omitempty"`
}

// DefaultTable is the production level table, ordered by threshold.
func DefaultTable() []Level {
	return []Level{
		{Threshold: 0, Title: "Newcomer", Color: "#9e9e9e"},
		{Threshold: 100, Title: "Sketcher", Color: "#8bc34a", Rewards: []Reward{
			{Kind: RewardUnlock, Code: "profile_banner"},
		}},
		{Threshold: 300, Title: "Creator", Color: "#4caf50", Rewards: []Reward{
			{Kind: RewardItem, Code: "frame_bronze"},
			{Kind: RewardBonusPoints, Points: 20},
		}},
		{Threshold: 700, Title: "Artisan", Color: "#03a9f4", Rewards: []Reward{
			{Kind: RewardUnlock, Code: "custom_tags"},
			{Kind: RewardBonusPoints, Points: 50},
		}},
		{Threshold: 1500, Title: "Curator", Color: "#3f51b5", Rewards: []Reward{
			{Kind: RewardItem, Code: "frame_silver"},
			{Kind: RewardUnlock, Code: "collections"},
		}},
		{Threshold: 3000, Title: "Virtuoso", Color: "#9c27b0", Rewards: []Reward{
			{Kind: RewardUnlock, Code: "animated_avatar"},
			{Kind: RewardBonusPoints, Points: 100},
		}},
		{Threshold: 6000, Title: "Maestro", Color: "#e91e63", Rewards: []Reward{
			{Kind: RewardItem, Code: "frame_gold"},
		}},
		{Threshold: 12000, Title: "Luminary", Color: "#ff9800", Rewards: []Reward{
			{Kind: RewardUnlock, Code: "featured_slot"},
			{Kind: RewardBonusPoints, Points: 250},
		}},
		{Threshold: 25000, Title: "Legend", Color: "#f44336", Rewards: []Reward{
			{Kind: RewardItem, Code: "frame_legend"},
		}},
		{Threshold: 50000, Title: "Mythic", Color: "#ffd700", Rewards: []Reward{
			{Kind: RewardItem, Code: "crown_mythic"},
			{Kind: RewardBonusPoints, Points: 500},
		}},
	}
}
