// Package ratelimit throttles per-user actions with a fixed window counter
// kept in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleMessage allows 20 messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 20, Window: 10 * time.Second}

	// RuleLike allows 30 likes per minute per user.
	RuleLike = Rule{Key: "rl:like:", Limit: 30, Window: time.Minute}
)

// Limiter checks actions against Redis. A nil *Limiter allows everything.
type Limiter struct {
	client *redis.Client
	log    *log.Logger
}

func NewLimiter(client *redis.Client, l *log.Logger) *Limiter {
	return &Limiter{client: client, log: l}
}

// Connect dials Redis at addr and verifies the connection.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// WithLimit returns rule with its limit replaced by perWindow when
// perWindow is positive.
func WithLimit(rule Rule, perWindow int) Rule {
	if perWindow > 0 {
		rule.Limit = perWindow
	}
	return rule
}

// Allow increments the counter for identifier under rule and reports whether
// it is still within the limit. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil {
		return true
	}

	key := rule.Key + identifier
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Printf("ratelimit: incr %s: %v", key, err)
		return true
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Printf("ratelimit: expire %s: %v", key, err)
			// a key without a ttl would block the identifier forever
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}
