package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"soundscape/logger"
	"soundscape/model"

	"github.com/go-redis/redis/v8"
)

const (
	renderKey = "render:%s" // String: RenderEntry JSON
	renderTTL = 24 * time.Hour
)

// RenderEntry points at a stored mixdown.
type RenderEntry struct {
	ObjectKey string    `json:"objectKey"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// RenderCache maps a render request to an object already in storage.
type RenderCache struct {
	client *redis.Client
}

// NewRenderCache 创建渲染结果缓存
func NewRenderCache() *RenderCache {
	return &RenderCache{client: RedisClient}
}

// RequestHash identifies a render by its full input. Track order matters.
func RequestHash(states []model.TrackState, duration time.Duration) string {
	payload := struct {
		Tracks   []model.TrackState `json:"tracks"`
		Duration int64              `json:"durationMs"`
	}{states, duration.Milliseconds()}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the entry for hash, or nil on a miss. Redis errors are logged
// and reported as a miss so a render can proceed uncached.
func (c *RenderCache) Get(ctx context.Context, hash string) *RenderEntry {
	if c.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, fmt.Sprintf(renderKey, hash)).Bytes()
	if err != nil {
		if !isMiss(err) {
			logger.Warn("获取渲染缓存失败", logger.String("hash", hash), logger.ErrorField(err))
		}
		return nil
	}
	var entry RenderEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil
	}
	return &entry
}

// Set stores entry for hash.
func (c *RenderCache) Set(ctx context.Context, hash string, entry *RenderEntry) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal render entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, fmt.Sprintf(renderKey, hash), data, renderTTL).Err(); err != nil {
		return fmt.Errorf("failed to set render entry: %w", err)
	}
	logger.Debug("渲染缓存设置成功", logger.String("hash", hash), logger.String("object", entry.ObjectKey))
	return nil
}
