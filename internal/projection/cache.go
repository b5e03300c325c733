package projection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps the latest prices, asset state and AUM in Redis hashes
// and appends liquidations to a stream:
//
//	{prefix}:prices        feed id -> PriceRow JSON
//	{prefix}:assets        token   -> AssetRow JSON
//	{prefix}:aum           max, min, share_supply, at, sequence
//	{prefix}:liquidations  stream of liquidated positions
type RedisCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	keyPrices string
	keyAssets string
	keyAum    string
	keyLiqs   string
}

// NewRedisCache creates a cache. A zero ttl keeps keys forever.
func NewRedisCache(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "amx"
	}
	return &RedisCache{
		rdb:       rdb,
		ttl:       ttl,
		keyPrices: prefix + ":prices",
		keyAssets: prefix + ":assets",
		keyAum:    prefix + ":aum",
		keyLiqs:   prefix + ":liquidations",
	}
}

// Apply writes rows in one pipeline.
func (c *RedisCache) Apply(ctx context.Context, rows Rows) error {
	pipe := c.rdb.Pipeline()

	for _, q := range rows.Prices {
		b, err := json.Marshal(q)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, c.keyPrices, q.FeedID, string(b))
	}
	if len(rows.Prices) > 0 && c.ttl > 0 {
		pipe.Expire(ctx, c.keyPrices, c.ttl)
	}

	for _, a := range rows.Assets {
		b, err := json.Marshal(a)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, c.keyAssets, a.Token, string(b))
	}

	if rows.Aum != nil {
		pipe.HSet(ctx, c.keyAum,
			"max", rows.Aum.Max,
			"min", rows.Aum.Min,
			"share_supply", rows.Aum.ShareSupply,
			"at", rows.Aum.At,
			"sequence", rows.Sequence,
		)
	}

	if rows.EventType == "LiquidatePosition" {
		for _, p := range rows.Positions {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: c.keyLiqs,
				Values: map[string]any{
					"sequence":         rows.Sequence,
					"account":          p.Account,
					"collateral_token": p.CollateralToken,
					"index_token":      p.IndexToken,
					"is_long":          p.IsLong,
					"open":             p.IsOpen,
				},
			})
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// LatestPrice reads a cached quote; ok is false when none is cached.
func (c *RedisCache) LatestPrice(ctx context.Context, feedID string) (row PriceRow, ok bool, err error) {
	s, err := c.rdb.HGet(ctx, c.keyPrices, feedID).Result()
	if err == redis.Nil {
		return PriceRow{}, false, nil
	}
	if err != nil {
		return PriceRow{}, false, err
	}
	if err := json.Unmarshal([]byte(s), &row); err != nil {
		return PriceRow{}, false, err
	}
	return row, true, nil
}

// Aum reads the cached pool valuation.
func (c *RedisCache) Aum(ctx context.Context) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, c.keyAum).Result()
}
