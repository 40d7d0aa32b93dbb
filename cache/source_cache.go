package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"soundscape/logger"

	"github.com/go-redis/redis/v8"
)

const (
	sourceKey = "source:%s" // String: SourceMeta JSON
	sourceTTL = 7 * 24 * time.Hour
)

// SourceMeta records where a resolved source lives on local disk.
type SourceMeta struct {
	Ref       string    `json:"ref"`
	LocalPath string    `json:"localPath"`
	Size      int64     `json:"size"`
	ETag      string    `json:"etag,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// SourceCache 音源解析结果缓存
type SourceCache struct {
	client *redis.Client
}

// NewSourceCache 创建音源缓存
func NewSourceCache() *SourceCache {
	return &SourceCache{client: RedisClient}
}

// SourceKey returns the Redis key for ref.
func SourceKey(ref string) string {
	sum := sha1.Sum([]byte(ref))
	return fmt.Sprintf(sourceKey, hex.EncodeToString(sum[:]))
}

// Get returns the cached metadata for ref, or nil on a miss.
func (c *SourceCache) Get(ctx context.Context, ref string) (*SourceMeta, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, SourceKey(ref)).Bytes()
	if err != nil {
		if isMiss(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get source meta: %w", err)
	}
	var meta SourceMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		logger.Warn("音源缓存数据损坏，忽略", logger.String("ref", ref), logger.ErrorField(err))
		return nil, nil
	}
	return &meta, nil
}

// Set stores meta under its ref.
func (c *SourceCache) Set(ctx context.Context, meta *SourceMeta) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal source meta: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.Set(ctx, SourceKey(meta.Ref), data, sourceTTL).Err()
}

// Delete drops the cached metadata for ref.
func (c *SourceCache) Delete(ctx context.Context, ref string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.Del(ctx, SourceKey(ref)).Err()
}
