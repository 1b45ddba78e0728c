package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

// ErrLockNotHeld is returned when releasing or refreshing a lock owned by another process.
var ErrLockNotHeld = errors.New("lock not held")

// Client wraps Redis operations shared by validator processes.
type Client struct {
	rdb   *redis.Client
	owner string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// NewClient creates a new Redis client. owner identifies this process in lock values.
func NewClient(cfg Config, owner string) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, owner: owner}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func lockKey(instance domain.InstanceID) string {
	return fmt.Sprintf("ethbridge:lock:%d", uint64(instance))
}

func votedKey(instance domain.InstanceID, subject string) string {
	return fmt.Sprintf("ethbridge:voted:%d:%s", uint64(instance), subject)
}

// Compare-and-delete / compare-and-expire so a process never touches a lock it lost.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// AcquireLock attempts to become the process driving instance.
func (c *Client) AcquireLock(ctx context.Context, instance domain.InstanceID, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(instance), c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	if ok {
		return true, nil
	}
	// Re-entrant for the current owner.
	holder, err := c.rdb.Get(ctx, lockKey(instance)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get failed: %w", err)
	}
	if holder != c.owner {
		return false, nil
	}
	return true, c.RefreshLock(ctx, instance, ttl)
}

// ReleaseLock releases the instance lock if this process holds it.
func (c *Client) ReleaseLock(ctx context.Context, instance domain.InstanceID) error {
	n, err := releaseScript.Run(ctx, c.rdb, []string{lockKey(instance)}, c.owner).Int()
	if err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// RefreshLock extends the TTL of a lock held by this process.
func (c *Client) RefreshLock(ctx context.Context, instance domain.InstanceID, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, c.rdb, []string{lockKey(instance)}, c.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// MarkVoted records that this validator submitted a vote for subject.
func (c *Client) MarkVoted(ctx context.Context, instance domain.InstanceID, subject string, block uint64, ttl time.Duration) error {
	return c.rdb.Set(ctx, votedKey(instance, subject), strconv.FormatUint(block, 10), ttl).Err()
}

// HasVoted reports whether a vote for subject was already submitted.
func (c *Client) HasVoted(ctx context.Context, instance domain.InstanceID, subject string) (bool, error) {
	n, err := c.rdb.Exists(ctx, votedKey(instance, subject)).Result()
	if err != nil {
		return false, fmt.Errorf("exists failed: %w", err)
	}
	return n > 0, nil
}

// VoteSubject names the vote a validator casts in host round round: for the
// active range, or the latest-block vote when ar is nil.
func VoteSubject(ar *domain.ActiveRange, round uint64) string {
	if ar == nil {
		return fmt.Sprintf("latest#%d", round)
	}
	return fmt.Sprintf("%d-%d/p%d#%d", ar.Range.StartBlock, ar.Range.EndBlock(), ar.Partition, round)
}
