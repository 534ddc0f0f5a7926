package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis key layout:
//
//	agentgrid:msg:<id>          message record JSON
//	agentgrid:inbox:<agent>     list of message ids, newest at head
//	agentgrid:deadletter        list of message ids, newest at head
const (
	redisMsgKeyPrefix   = "agentgrid:msg:"
	redisInboxKeyPrefix = "agentgrid:inbox:"
	redisDeadLetterKey  = "agentgrid:deadletter"
)

// RedisConfig configures the redis-backed message store.
type RedisConfig struct {
	// Addr is the redis server address.
	Addr string `yaml:"addr" json:"addr"`
	// Password for authenticated servers.
	Password string `yaml:"password" json:"password"`
	// DB selects the redis database number.
	DB int `yaml:"db" json:"db"`
	// PoolSize bounds the connection pool.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
	// RecordTTL expires archived records; 0 keeps them forever.
	RecordTTL time.Duration `yaml:"record_ttl" json:"record_ttl"`
	// MaxPerAgent trims each agent inbox index to this length.
	MaxPerAgent int `yaml:"max_per_agent" json:"max_per_agent"`
}

// DefaultRedisConfig returns the default redis store configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		DB:          0,
		PoolSize:    10,
		RecordTTL:   24 * time.Hour,
		MaxPerAgent: 1000,
	}
}

// RedisMessageStore is the redis-backed MessageStore implementation for
// deployments where the archive must survive restarts.
type RedisMessageStore struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger
}

// NewRedisMessageStore connects to redis and returns the store.
func NewRedisMessageStore(config RedisConfig, logger *zap.Logger) (*RedisMessageStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis message store initialized", zap.String("addr", config.Addr))

	return &RedisMessageStore{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "redis_message_store")),
	}, nil
}

func (s *RedisMessageStore) Save(ctx context.Context, rec *MessageRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal message record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisMsgKeyPrefix+rec.ID, data, s.config.RecordTTL)
	inbox := redisInboxKeyPrefix + rec.Recipient
	pipe.LPush(ctx, inbox, rec.ID)
	if s.config.MaxPerAgent > 0 {
		pipe.LTrim(ctx, inbox, 0, int64(s.config.MaxPerAgent-1))
	}
	if rec.Status == StatusDeadLetter {
		pipe.LPush(ctx, redisDeadLetterKey, rec.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save message record: %w", err)
	}
	return nil
}

func (s *RedisMessageStore) Get(ctx context.Context, id string) (*MessageRecord, error) {
	data, err := s.client.Get(ctx, redisMsgKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message record: %w", err)
	}
	var rec MessageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal message record: %w", err)
	}
	return &rec, nil
}

func (s *RedisMessageStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*MessageRecord, error) {
	return s.list(ctx, redisInboxKeyPrefix+agentID, limit)
}

func (s *RedisMessageStore) ListDeadLetters(ctx context.Context, limit int) ([]*MessageRecord, error) {
	return s.list(ctx, redisDeadLetterKey, limit)
}

func (s *RedisMessageStore) list(ctx context.Context, key string, limit int) ([]*MessageRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list message ids: %w", err)
	}

	out := make([]*MessageRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err == ErrNotFound {
			// Record expired out from under its index entry.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisMessageStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisMessageStore) Close() error {
	return s.client.Close()
}
