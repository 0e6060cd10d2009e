package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/khiemvuong/e-commerce-saas-sub002/config"
)

// 在线标记的过期时间。断连走显式 DEL，过期兜底非正常断开
const PresenceTTL = 300 * time.Second

type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient 初始化并返回一个新的 RedisClient 实例
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password, // 密码，没有则留空
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		// 可选：添加超时配置
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// PING 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis client connection test failed: %w", err)
	}

	return &RedisClient{
		Client: client,
	}, nil
}

// Close 关闭 Redis 连接
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// PresenceKey 在线标记 key，形如 "online:seller:42"
func PresenceKey(role, participantID string) string {
	return fmt.Sprintf("online:%s:%s", role, participantID)
}

// UnseenKey 未读计数 key，按 (角色, 会话) 维度
func UnseenKey(role, conversationID string) string {
	return fmt.Sprintf("unseen:%s:%s", role, conversationID)
}

// SetOnline 写入在线标记，带 5 分钟过期
func (r *RedisClient) SetOnline(ctx context.Context, role, participantID string) error {
	return r.Client.Set(ctx, PresenceKey(role, participantID), "1", PresenceTTL).Err()
}

// SetOffline 显式下线，key 不存在时也是 no-op
func (r *RedisClient) SetOffline(ctx context.Context, role, participantID string) error {
	return r.Client.Del(ctx, PresenceKey(role, participantID)).Err()
}

// IsOnline 缺失即离线
func (r *RedisClient) IsOnline(ctx context.Context, role, participantID string) (bool, error) {
	_, err := r.Client.Get(ctx, PresenceKey(role, participantID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IncrUnseen 持久未读计数 +1，只由持久化 worker 调用
func (r *RedisClient) IncrUnseen(ctx context.Context, role, conversationID string) (int64, error) {
	return r.Client.Incr(ctx, UnseenKey(role, conversationID)).Result()
}

// UnseenCount 读取持久未读计数，key 缺失按 0 处理
func (r *RedisClient) UnseenCount(ctx context.Context, role, conversationID string) (int64, error) {
	n, err := r.Client.Get(ctx, UnseenKey(role, conversationID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ClearUnseen 已读后清零
func (r *RedisClient) ClearUnseen(ctx context.Context, role, conversationID string) error {
	return r.Client.Del(ctx, UnseenKey(role, conversationID)).Err()
}
