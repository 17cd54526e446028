package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long an abandoned session's set survives a relay crash.
	// Every Join refreshes it.
	TTL time.Duration
}

// RedisStore keeps one set per session at session:<id>:participants.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, ttl: opts.TTL}, nil
}

func participantsKey(session string) string {
	return "session:" + session + ":participants"
}

func (s *RedisStore) Join(ctx context.Context, session, participant string) error {
	key := participantsKey(session)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, participant)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence join %s/%s: %w", session, participant, err)
	}
	return nil
}

func (s *RedisStore) Leave(ctx context.Context, session, participant string) error {
	if err := s.client.SRem(ctx, participantsKey(session), participant).Err(); err != nil {
		return fmt.Errorf("presence leave %s/%s: %w", session, participant, err)
	}
	return nil
}

func (s *RedisStore) Participants(ctx context.Context, session string) ([]string, error) {
	members, err := s.client.SMembers(ctx, participantsKey(session)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list %s: %w", session, err)
	}
	sort.Strings(members)
	return members, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks that the Redis server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
