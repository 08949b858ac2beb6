package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xaenox/line-relay/internal/models"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// appendScript assigns the next id and records the message in one atomic step,
// so concurrent writers can neither share an id nor leave a gap.
var appendScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
local record = cjson.encode({id = id, user_id = ARGV[1], message = ARGV[2], created_at = ARGV[3]})
redis.call('ZADD', KEYS[2], id, record)
return id
`)

// RedisStorage keeps messages in a sorted set scored by id.
type RedisStorage struct {
	client *redis.Client
	seqKey string
	setKey string
	logger *zap.Logger
}

func NewRedisStorage(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "line-relay"
	}
	logger.Info("Message store ready", zap.String("dialect", "redis"), zap.String("prefix", prefix))
	return &RedisStorage{
		client: client,
		seqKey: prefix + ":messages:seq",
		setKey: prefix + ":messages",
		logger: logger,
	}, nil
}

func (s *RedisStorage) Append(ctx context.Context, userID, message string) (*models.StoredMessage, error) {
	createdAt := time.Now().UTC()
	id, err := appendScript.Run(ctx, s.client,
		[]string{s.seqKey, s.setKey},
		userID, message, createdAt.Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		return nil, unavailable("append message", err)
	}

	return &models.StoredMessage{
		ID:        id,
		UserID:    userID,
		Message:   message,
		CreatedAt: createdAt,
	}, nil
}

func (s *RedisStorage) List(ctx context.Context) ([]models.StoredMessage, error) {
	records, err := s.client.ZRange(ctx, s.setKey, 0, -1).Result()
	if err != nil {
		return nil, unavailable("list messages", err)
	}

	messages := make([]models.StoredMessage, 0, len(records))
	for _, record := range records {
		var msg models.StoredMessage
		if err := json.Unmarshal([]byte(record), &msg); err != nil {
			s.logger.Error("Skipping undecodable message record",
				zap.Error(err),
				zap.String("record", record))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
