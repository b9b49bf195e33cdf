package score

import (
	"context"

	"engagement-core/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

// Ranking mirrors pop scores into a store that can answer top-N queries.
type Ranking interface {
	Update(ctx context.Context, contentID string, score float64) error
	Remove(ctx context.Context, contentID string) error
	Top(ctx context.Context, limit int) ([]RankedItem, error)
}

type redisRanking struct {
	rdb *redis.Client
	key string
}

func NewRedisRanking(rdb *redis.Client) Ranking {
	return &redisRanking{rdb: rdb, key: rediskey.ContentRankingKey}
}

func (r *redisRanking) Update(ctx context.Context, contentID string, score float64) error {
	return r.rdb.ZAdd(ctx, r.key, redis.Z{Score: score, Member: contentID}).Err()
}

func (r *redisRanking) Remove(ctx context.Context, contentID string) error {
	return r.rdb.ZRem(ctx, r.key, contentID).Err()
}

func (r *redisRanking) Top(ctx context.Context, limit int) ([]RankedItem, error) {
	zs, err := r.rdb.ZRevRangeWithScores(ctx, r.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]RankedItem, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, RankedItem{ContentID: id, PopScore: z.Score})
	}
	return out, nil
}
