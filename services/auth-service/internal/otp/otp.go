// Package otp issues one-time email verification codes and throttles guesses against them.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is how long an issued code stays valid.
const TTL = 5 * time.Minute

// Generate returns a uniformly random code in 100000..999999.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Expired reports whether a code issued at issuedAt is no longer valid at now.
func Expired(issuedAt, now time.Time) bool {
	return now.After(issuedAt.Add(TTL))
}

// Limiter counts verification attempts per email.
type Limiter interface {
	// Allow records an attempt and reports whether it is within budget.
	Allow(ctx context.Context, email string) (bool, error)
	Reset(ctx context.Context, email string) error
}

// Unlimited is used when no redis is configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
func (Unlimited) Reset(context.Context, string) error         { return nil }

var attemptScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter allows max attempts per email within window.
type RedisLimiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
	prefix string
}

func NewRedisLimiter(rdb *redis.Client, max int, window time.Duration, prefix string) *RedisLimiter {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = TTL
	}
	if prefix == "" {
		prefix = "auth:otp"
	}
	return &RedisLimiter{rdb: rdb, max: max, window: window, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, email string) (bool, error) {
	n, err := attemptScript.Run(ctx, l.rdb, []string{l.key(email)}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n <= int64(l.max), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, email string) error {
	return l.rdb.Del(ctx, l.key(email)).Err()
}

func (l *RedisLimiter) key(email string) string {
	return l.prefix + ":" + strings.ToLower(strings.TrimSpace(email))
}
