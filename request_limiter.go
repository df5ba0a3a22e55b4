package gateward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errRequestRateLimited = errors.New("verification request rate limited")
	errLimiterUnavailable = errors.New("verification limiter unavailable")
)

type requestLimiter struct {
	redis  *redis.Client
	config LimiterConfig
	prefix string
}

func newRequestLimiter(redisClient *redis.Client, cfg LimiterConfig, prefix string) *requestLimiter {
	return &requestLimiter{
		redis:  redisClient,
		config: cfg,
		prefix: prefix,
	}
}

func (l *requestLimiter) CheckStart(ctx context.Context, principalID, ip string) error {
	if !l.config.EnableStartThrottle {
		return nil
	}
	if err := l.enforceFixedWindow(ctx, l.startKey(principalID), l.config.MaxStartRequests, l.config.StartWindow); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, l.startIPKey(ip), l.config.MaxStartRequests, l.config.StartWindow); err != nil {
			return err
		}
	}
	return nil
}

func (l *requestLimiter) CheckSubmit(ctx context.Context, principalID, ip string) error {
	if !l.config.EnableAnswerThrottle {
		return nil
	}
	if err := l.enforceFixedWindow(ctx, l.answerKey(principalID), l.config.MaxAnswerRequests, l.config.AnswerWindow); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, l.answerIPKey(ip), l.config.MaxAnswerRequests, l.config.AnswerWindow); err != nil {
			return err
		}
	}
	return nil
}

func (l *requestLimiter) enforceFixedWindow(ctx context.Context, key string, max int, window time.Duration) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			return fmt.Errorf("%w: %v", errLimiterUnavailable, err)
		}
	}

	if count > int64(max) {
		return errRequestRateLimited
	}

	return nil
}

func (l *requestLimiter) startKey(principalID string) string {
	return l.prefix + ":ls:" + principalID
}

func (l *requestLimiter) startIPKey(ip string) string {
	return l.prefix + ":lsip:" + ip
}

func (l *requestLimiter) answerKey(principalID string) string {
	return l.prefix + ":la:" + principalID
}

func (l *requestLimiter) answerIPKey(ip string) string {
	return l.prefix + ":laip:" + ip
}
