package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key patterns:
// - ratelimit:{operator_id}:dial - per-window outbound dial limit
// - ratelimit:{ip}:auth - per-window login attempts

type RateLimitConfig struct {
	DialLimit  int
	DialWindow time.Duration
	AuthLimit  int
	AuthWindow time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		DialLimit:  30,
		DialWindow: 60 * time.Second,
		AuthLimit:  5,
		AuthWindow: 60 * time.Second,
	}
}

type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	Limit     int
}

func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
	}
}

// INCR under the limit, keep the first window's TTL.
var limitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')
	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		local n = redis.call('INCR', key)
		if n == 1 then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	end
	return {0, 0, ttl}
`)

func dialKey(operatorID string) string { return fmt.Sprintf("ratelimit:%s:dial", operatorID) }
func authKey(ip string) string         { return fmt.Sprintf("ratelimit:%s:auth", ip) }

// AllowDial checks whether the operator may place another outbound call.
func (r *RateLimiter) AllowDial(ctx context.Context, operatorID string) (*RateLimitResult, error) {
	return r.checkLimit(ctx, dialKey(operatorID), r.config.DialLimit, r.config.DialWindow)
}

// AllowAuth checks whether an IP may attempt another login.
func (r *RateLimiter) AllowAuth(ctx context.Context, ip string) (*RateLimitResult, error) {
	return r.checkLimit(ctx, authKey(ip), r.config.AuthLimit, r.config.AuthWindow)
}

func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	if limit <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: -1}, nil
	}
	result, err := limitScript.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	allowed, _ := result[0].(int64)
	remaining, _ := result[1].(int64)
	ttl, _ := result[2].(int64)
	return &RateLimitResult{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetIn:   time.Duration(ttl) * time.Second,
		Limit:     limit,
	}, nil
}

// ResetAuth clears the login counter of an IP, called after a successful login.
func (r *RateLimiter) ResetAuth(ctx context.Context, ip string) error {
	return r.client.Del(ctx, authKey(ip)).Err()
}
