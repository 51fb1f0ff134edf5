package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"delivery-tracking/internal/config"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/redis"
)

// Lua скрипт для атомарной проверки и инкремента счетчика
const rateLimitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = redis.call('GET', key)
if not current then
    current = 0
else
    current = tonumber(current)
end

current = current + 1

if current > limit then
    return {0, current, limit}
end

local remaining = redis.call('TTL', key)
if remaining < 0 then
    remaining = ttl
end
redis.call('SET', key, current, 'EX', remaining)
return {1, current, limit}
`

const rateLimitWindow = 60 // секунды

// RateLimiterService управляет rate limiting с использованием Redis
type RateLimiterService struct {
	redis  *redis.Client
	config *config.RateLimitConfig
	log    *logger.Logger
}

// RateLimitResult содержит результат проверки rate limit
type RateLimitResult struct {
	Allowed     bool
	Remaining   int
	Limit       int
	ResetAt     time.Time
	BannedUntil time.Time
	RetryAfter  int
}

// NewRateLimiterService создает сервис ограничения частоты.
// Без Redis ограничение выключено.
func NewRateLimiterService(redisClient *redis.Client, cfg *config.RateLimitConfig, log *logger.Logger) *RateLimiterService {
	effective := *cfg
	if redisClient == nil {
		effective.Enabled = false
	}
	return &RateLimiterService{
		redis:  redisClient,
		config: &effective,
		log:    log,
	}
}

func (s *RateLimiterService) unlimited() *RateLimitResult {
	return &RateLimitResult{
		Allowed:   true,
		Remaining: math.MaxInt,
		Limit:     math.MaxInt,
	}
}

func (s *RateLimiterService) limitFor(isVIP bool) int {
	if isVIP {
		return s.config.VIPRPM
	}
	return s.config.DefaultRPM
}

func counterKey(ip string) string { return fmt.Sprintf("rate_limit:ip:%s", ip) }
func banKey(ip string) string     { return fmt.Sprintf("rate_limit:ban:%s", ip) }

// checkBan возвращает результат, если клиент забанен
func (s *RateLimiterService) checkBan(ctx context.Context, ip string, limit int) *RateLimitResult {
	client := s.redis.GetClient()
	banned, err := client.Get(ctx, banKey(ip)).Result()
	if err != nil || banned == "" {
		return nil
	}
	ttl, _ := client.TTL(ctx, banKey(ip)).Result()
	return &RateLimitResult{
		Allowed:     false,
		Remaining:   0,
		Limit:       limit,
		BannedUntil: time.Now().Add(ttl),
		RetryAfter:  int(ttl.Seconds()),
	}
}

// CheckLimit учитывает запрос и проверяет лимит клиента
func (s *RateLimiterService) CheckLimit(ctx context.Context, ip string, isVIP bool) (*RateLimitResult, error) {
	if !s.config.Enabled {
		return s.unlimited(), nil
	}

	limit := s.limitFor(isVIP)
	if result := s.checkBan(ctx, ip, limit); result != nil {
		return result, nil
	}

	client := s.redis.GetClient()
	key := counterKey(ip)

	result, err := client.Eval(ctx, rateLimitLuaScript, []string{key}, limit, rateLimitWindow).Result()
	if err != nil {
		// fail-open: при недоступности Redis запрос пропускается
		s.log.WithError(err).WithField("ip", ip).Error("Failed to evaluate rate limit script")
		return &RateLimitResult{Allowed: true, Remaining: limit, Limit: limit}, nil
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 3 {
		s.log.WithField("ip", ip).WithField("result", result).Error("Unexpected rate limit script result")
		return &RateLimitResult{Allowed: true, Remaining: limit, Limit: limit}, nil
	}

	allowed := resultSlice[0].(int64) == 1
	currentCount := int(resultSlice[1].(int64))

	if !allowed {
		banDuration := time.Duration(s.config.BanDuration) * time.Second
		client.Set(ctx, banKey(ip), "1", banDuration)

		s.log.WithFields(map[string]interface{}{
			"ip":           ip,
			"count":        currentCount,
			"limit":        limit,
			"ban_duration": s.config.BanDuration,
		}).Warn("Client exceeded rate limit and was banned")

		return &RateLimitResult{
			Allowed:     false,
			Remaining:   0,
			Limit:       limit,
			BannedUntil: time.Now().Add(banDuration),
			RetryAfter:  s.config.BanDuration,
		}, nil
	}

	ttl, _ := client.TTL(ctx, key).Result()
	return &RateLimitResult{
		Allowed:   true,
		Remaining: limit - currentCount,
		Limit:     limit,
		ResetAt:   time.Now().Add(ttl),
	}, nil
}

// ResetLimit сбрасывает счетчик и бан клиента
func (s *RateLimiterService) ResetLimit(ctx context.Context, ip string) error {
	if s.redis == nil {
		return nil
	}
	client := s.redis.GetClient()

	pipe := client.Pipeline()
	pipe.Del(ctx, counterKey(ip))
	pipe.Del(ctx, banKey(ip))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.WithError(err).WithField("ip", ip).Error("Failed to reset rate limit")
		return err
	}

	s.log.WithField("ip", ip).Info("Rate limit reset")
	return nil
}

// GetStatus возвращает текущий статус rate limit БЕЗ изменения счетчика
func (s *RateLimiterService) GetStatus(ctx context.Context, ip string, isVIP bool) (*RateLimitResult, error) {
	if !s.config.Enabled {
		return s.unlimited(), nil
	}

	limit := s.limitFor(isVIP)
	if result := s.checkBan(ctx, ip, limit); result != nil {
		return result, nil
	}

	client := s.redis.GetClient()
	key := counterKey(ip)

	count, err := client.Get(ctx, key).Int()
	if err != nil {
		// Ключа нет - запросов еще не было
		count = 0
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	ttl, _ := client.TTL(ctx, key).Result()
	resetAt := time.Now().Add(ttl)
	if ttl < 0 {
		resetAt = time.Time{}
	}

	return &RateLimitResult{
		Allowed:   count < limit,
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   resetAt,
	}, nil
}
