package cache

import (
	"context"
	"errors"
	"time"

	"wavedeck/logger"

	"github.com/redis/go-redis/v9"
)

// SetSegmentCache 设置分片缓存。缓存不可用时静默跳过。
func SetSegmentCache(key string, data []byte, expiration time.Duration) error {
	if RedisClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := RedisClient.Set(ctx, key, data, expiration).Err()
	if err != nil {
		logger.Error("设置分片缓存失败",
			logger.String("key", key),
			logger.Int("dataSize", len(data)),
			logger.ErrorField(err))
		return err
	}

	logger.Debug("分片缓存设置成功",
		logger.String("key", key),
		logger.Int("dataSize", len(data)))

	return nil
}

// GetSegmentCache 获取分片缓存。未命中返回 nil, nil，让调用方回落到磁盘。
func GetSegmentCache(key string) ([]byte, error) {
	if RedisClient == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := RedisClient.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			logger.Debug("分片缓存不存在", logger.String("key", key))
			return nil, nil
		}

		logger.Warn("获取分片缓存失败，回落到磁盘",
			logger.String("key", key),
			logger.ErrorField(err))
		return nil, nil
	}

	logger.Debug("分片缓存获取成功",
		logger.String("key", key),
		logger.Int("dataSize", len(data)))

	return data, nil
}

// DeleteSegmentPattern 批量删除匹配模式的分片缓存（流停止时清理）
func DeleteSegmentPattern(pattern string) error {
	if RedisClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	keys, err := RedisClient.Keys(ctx, pattern).Result()
	if err != nil {
		logger.Error("查找缓存键失败",
			logger.String("pattern", pattern),
			logger.ErrorField(err))
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	if err := RedisClient.Del(ctx, keys...).Err(); err != nil {
		logger.Error("批量删除分片缓存失败",
			logger.String("pattern", pattern),
			logger.Int("keysCount", len(keys)),
			logger.ErrorField(err))
		return err
	}

	logger.Info("批量删除分片缓存成功",
		logger.String("pattern", pattern),
		logger.Int("deletedCount", len(keys)))

	return nil
}
