package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/save_cart.lua
var saveCartScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

const couponField = "coupon"

type Client struct {
	rdb          *redis.Client
	cartTTL      time.Duration
	saveScript   *redis.Script
	unlockScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, cartTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb, cartTTL), nil
}

func newClient(rdb *redis.Client, cartTTL time.Duration) *Client {
	return &Client{
		rdb:          rdb,
		cartTTL:      cartTTL,
		saveScript:   redis.NewScript(saveCartScript),
		unlockScript: redis.NewScript(releaseLockScript),
	}
}

// Ping checks the connection, used by readiness checks
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// LoadCart returns the stored cart of a session, or an empty one.
// Fields that do not parse are skipped.
func (c *Client) LoadCart(ctx context.Context, sessionID string, userID *int64) (*models.Cart, error) {
	fields, err := c.rdb.HGetAll(ctx, cartKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	cart := models.NewCart(sessionID, userID)
	for field, value := range fields {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		if field == couponField {
			cart.CouponID = n
			continue
		}
		key, err := models.ParseLineKey(field)
		if err != nil {
			continue
		}
		cart.Lines[key] = int(n)
	}
	return cart, nil
}

// SaveCart atomically replaces the stored cart and refreshes its TTL
func (c *Client) SaveCart(ctx context.Context, cart *models.Cart) error {
	args := make([]interface{}, 0, 2*len(cart.Lines)+3)
	args = append(args, int64(c.cartTTL/time.Second))
	for key, qty := range cart.Lines {
		if qty > 0 {
			args = append(args, key.String(), qty)
		}
	}
	if cart.CouponID > 0 {
		args = append(args, couponField, cart.CouponID)
	}

	if err := c.saveScript.Run(ctx, c.rdb, []string{cartKey(cart.SessionID)}, args...).Err(); err != nil {
		return fmt.Errorf("save cart script failed: %w", err)
	}
	return nil
}

// DeleteCart drops the stored cart of a session
func (c *Client) DeleteCart(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, cartKey(sessionID)).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// ErrLockHeld is returned when another holder owns the lock
var ErrLockHeld = errors.New("lock held")

// Lock is an acquired distributed lock
type Lock struct {
	key   string
	token string
}

// AcquireLock acquires a distributed lock that expires after ttl
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{key: fmt.Sprintf("lock:%s", lockKey), token: uuid.New().String()}
	ok, err := c.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return lock, nil
}

// ReleaseLock releases a distributed lock if it is still ours
func (c *Client) ReleaseLock(ctx context.Context, lock *Lock) error {
	return c.unlockScript.Run(ctx, c.rdb, []string{lock.key}, lock.token).Err()
}
