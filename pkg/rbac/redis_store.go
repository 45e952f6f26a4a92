package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisAssignmentStore keeps role assignments in Redis sets so multiple
// processes of the parent application observe the same assignments. Each
// user's roles live in one set; SADD/SREM give the per-user serialization
// AssignmentStore requires.
type RedisAssignmentStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisAssignmentConfig configures the Redis-backed assignment store.
type RedisAssignmentConfig struct {
	URL       string // redis:// URL
	Password  string // overrides URL password if set
	DB        int
	KeyPrefix string // default "confgate:roles:"
}

// NewRedisAssignmentStore connects to Redis and verifies the connection.
func NewRedisAssignmentStore(config RedisAssignmentConfig) (*RedisAssignmentStore, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB >= 0 {
		opts.DB = config.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "confgate:roles:"
	}

	return &RedisAssignmentStore{
		client:    client,
		keyPrefix: prefix,
	}, nil
}

// NewRedisAssignmentStoreWithClient wraps an existing client; used by tests.
func NewRedisAssignmentStoreWithClient(client *redis.Client, keyPrefix string) *RedisAssignmentStore {
	if keyPrefix == "" {
		keyPrefix = "confgate:roles:"
	}
	return &RedisAssignmentStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisAssignmentStore) key(userID string) string {
	return s.keyPrefix + userID
}

// Assign grants a role to a user.
func (s *RedisAssignmentStore) Assign(ctx context.Context, userID, roleName string) error {
	if err := s.client.SAdd(ctx, s.key(userID), roleName).Err(); err != nil {
		return fmt.Errorf("redis assign failed: %w", err)
	}
	return nil
}

// Revoke removes a role from a user.
func (s *RedisAssignmentStore) Revoke(ctx context.Context, userID, roleName string) error {
	if err := s.client.SRem(ctx, s.key(userID), roleName).Err(); err != nil {
		return fmt.Errorf("redis revoke failed: %w", err)
	}
	return nil
}

// Roles returns the sorted role names assigned to a user.
func (s *RedisAssignmentStore) Roles(ctx context.Context, userID string) ([]string, error) {
	roles, err := s.client.SMembers(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis roles lookup failed: %w", err)
	}
	sort.Strings(roles)
	return roles, nil
}

// HasRole reports whether the user holds the named role.
func (s *RedisAssignmentStore) HasRole(ctx context.Context, userID, roleName string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key(userID), roleName).Result()
	if err != nil {
		return false, fmt.Errorf("redis role check failed: %w", err)
	}
	return ok, nil
}

// Close releases the underlying Redis connection.
func (s *RedisAssignmentStore) Close() error {
	return s.client.Close()
}
