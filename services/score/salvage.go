package score

import (
	"database/sql"
	"time"

	"github.com/spf13/cast"
)

// salvageRow re-reads the current row as raw driver values and keeps the
// columns the score depends on. Anything that does not convert is zero.
func salvageRow(rows *sql.Rows) (*ContentItem, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	raw := make(map[string]any, len(cols))
	for i, c := range cols {
		if b, ok := vals[i].([]byte); ok {
			raw[c] = string(b)
			continue
		}
		raw[c] = vals[i]
	}

	item := &ContentItem{
		ID:                cast.ToString(raw["id"]),
		OwnerID:           cast.ToString(raw["owner_id"]),
		Clicks:            cast.ToInt64(raw["clicks"]),
		LikesCount:        cast.ToInt64(raw["likes_count"]),
		CompletenessScore: cast.ToFloat64(raw["completeness_score"]),
		InitialBoost:      cast.ToFloat64(raw["initial_boost"]),
		PowerUsed:         cast.ToBool(raw["power_used"]),
		PowerUsedAt:       timeOrNil(raw["power_used_at"]),
		PowerExpiry:       timeOrNil(raw["power_expiry"]),
	}
	if t := timeOrNil(raw["created_at"]); t != nil {
		item.CreatedAt = *t
	}
	return item, nil
}

func timeOrNil(v any) *time.Time {
	if v == nil {
		return nil
	}
	t, err := cast.ToTimeE(v)
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}
