package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"sessionrecorder/pkg/model"
)

// RedisStore 基于 Redis 的临时存储，每次写入后在 changes 频道发布变更键名
type RedisStore struct {
	rc     *redis.Client
	prefix string
}

// NewRedisStore 创建 Redis 临时存储
func NewRedisStore(rc *redis.Client, prefix string) *RedisStore {
	if rc == nil {
		panic("storage.NewRedisStore: redis client is nil")
	}
	if prefix == "" {
		prefix = "recorder"
	}
	return &RedisStore{rc: rc, prefix: prefix}
}

func (s *RedisStore) key(k Key) string {
	return s.prefix + ":" + string(k)
}

// ChangesChannel 变更通知频道名
func (s *RedisStore) ChangesChannel() string {
	return s.prefix + ":changes"
}

func (s *RedisStore) Events(ctx context.Context) ([]model.Event, error) {
	data, err := s.rc.Get(ctx, s.key(KeyEvents)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.Event{}, nil
		}
		return nil, err
	}
	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

func (s *RedisStore) SetEvents(ctx context.Context, events []model.Event) error {
	if events == nil {
		events = []model.Event{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	return s.write(ctx, KeyEvents, data)
}

func (s *RedisStore) Settings(ctx context.Context) (model.Settings, bool, error) {
	data, err := s.rc.Get(ctx, s.key(KeySettings)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Settings{}, false, nil
		}
		return model.Settings{}, false, err
	}
	var settings model.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return model.Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return settings, true, nil
}

func (s *RedisStore) SetSettings(ctx context.Context, settings model.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.write(ctx, KeySettings, data)
}

func (s *RedisStore) Recording(ctx context.Context) (bool, error) {
	v, err := s.rc.Get(ctx, s.key(KeyRecording)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return strconv.ParseBool(v)
}

func (s *RedisStore) SetRecording(ctx context.Context, on bool) error {
	return s.write(ctx, KeyRecording, []byte(strconv.FormatBool(on)))
}

// write 写入键值并发布变更通知
func (s *RedisStore) write(ctx context.Context, k Key, value []byte) error {
	_, err := s.rc.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(k), value, 0)
		p.Publish(ctx, s.ChangesChannel(), string(k))
		return nil
	})
	return err
}

// Subscribe 订阅变更频道，订阅确认后才返回，保证之后的写入都能被观察到
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan Change, error) {
	sub := s.rc.Subscribe(ctx, s.ChangesChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.ChangesChannel(), err)
	}

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- Change{Key: Key(msg.Payload)}:
				default:
				}
			}
		}
	}()
	return out, nil
}
