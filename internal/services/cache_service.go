package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"delivery-tracking/internal/config"
	"delivery-tracking/internal/hub"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/redis"
)

// CacheService управляет кешированием ответов списочных запросов
type CacheService struct {
	redis     *redis.Client
	config    *config.CacheConfig
	logger    *logger.Logger
	hits      atomic.Uint64 // Количество попаданий в кеш
	misses    atomic.Uint64 // Количество промахов
	evictions atomic.Uint64 // Количество инвалидаций
}

// CacheMetrics представляет метрики кеширования
type CacheMetrics struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	TotalReqs uint64  `json:"total_requests"`
	HitRate   float64 `json:"hit_rate"`
	CacheSize int64   `json:"cache_size"`
}

// NewCacheService создает новый сервис кеширования.
// Если redisClient равен nil, кеш выключается.
func NewCacheService(redisClient *redis.Client, cfg *config.CacheConfig, log *logger.Logger) *CacheService {
	effective := *cfg
	if redisClient == nil {
		effective.Enabled = false
	}
	return &CacheService{
		redis:  redisClient,
		config: &effective,
		logger: log,
	}
}

// Enabled сообщает, включен ли кеш
func (s *CacheService) Enabled() bool {
	return s.config.Enabled
}

// Get получает данные из кеша и десериализует в target
func (s *CacheService) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	if !s.config.Enabled {
		s.misses.Add(1)
		return false, nil
	}

	if err := s.redis.Get(ctx, key, target); err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			s.misses.Add(1)
			return false, nil
		}
		s.logger.WithError(err).WithField("key", key).Error("Failed to get from cache")
		return false, err
	}

	s.hits.Add(1)
	return true, nil
}

// Set сохраняет данные в кеш с TTL
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.config.Enabled {
		return nil
	}

	if err := s.redis.Set(ctx, key, value, ttl); err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to set cache")
		return err
	}
	return nil
}

// Delete удаляет ключи из кеша (инвалидация)
func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	if !s.config.Enabled {
		return nil
	}

	if err := s.redis.Delete(ctx, keys...); err != nil {
		s.logger.WithError(err).WithField("keys", keys).Error("Failed to delete from cache")
		return err
	}

	s.evictions.Add(uint64(len(keys)))
	return nil
}

// InvalidatePrefix удаляет все ключи с префиксом
func (s *CacheService) InvalidatePrefix(ctx context.Context, prefix string) error {
	if !s.config.Enabled {
		return nil
	}

	deleted, err := s.redis.DeleteByPattern(ctx, prefix+":*")
	s.evictions.Add(uint64(deleted))
	if err != nil {
		s.logger.WithError(err).WithField("prefix", prefix).Error("Failed to invalidate cache prefix")
		return err
	}
	return nil
}

// GetMetrics возвращает метрики кеширования
func (s *CacheService) GetMetrics(ctx context.Context) (*CacheMetrics, error) {
	hits := s.hits.Load()
	misses := s.misses.Load()
	totalReqs := hits + misses

	var hitRate float64
	if totalReqs > 0 {
		hitRate = float64(hits) / float64(totalReqs) * 100
	}

	var cacheSize int64
	if s.redis != nil {
		size, err := s.redis.GetClient().DBSize(ctx).Result()
		if err != nil {
			s.logger.WithError(err).Error("Failed to get cache size")
		} else {
			cacheSize = size
		}
	}

	return &CacheMetrics{
		Hits:      hits,
		Misses:    misses,
		Evictions: s.evictions.Load(),
		TotalReqs: totalReqs,
		HitRate:   hitRate,
		CacheSize: cacheSize,
	}, nil
}

// GetDefaultTTL возвращает TTL по умолчанию
func (s *CacheService) GetDefaultTTL() time.Duration {
	return time.Duration(s.config.DefaultTTL) * time.Second
}

// GetHotDataTTL возвращает TTL для горячих данных
func (s *CacheService) GetHotDataTTL() time.Duration {
	return time.Duration(s.config.HotDataTTL) * time.Second
}

// RunInvalidator сбрасывает списки в кеше по событиям хаба до отмены ctx
func (s *CacheService) RunInvalidator(ctx context.Context, sub *hub.Subscriber) {
	hub.Pump(ctx, sub, func(events []models.Event) {
		var agents, packages bool
		for _, e := range events {
			switch e.Type {
			case models.EventTypeLocationUpdated, models.EventTypeAgentStatusChanged:
				agents = true
			case models.EventTypePackageAssigned, models.EventTypePackageStatusChanged:
				packages = true
			}
		}
		if agents {
			s.InvalidatePrefix(ctx, redis.KeyPrefixAgent)
		}
		if packages {
			s.InvalidatePrefix(ctx, redis.KeyPrefixPackage)
		}
	})
}

// BuildKey создает ключ для кеша с префиксом
func BuildKey(prefix string, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}

// BuildListKey создает ключ для списка с фильтрами
func BuildListKey(prefix string, filters ...string) string {
	key := prefix + ":list"
	for _, f := range filters {
		key += ":" + f
	}
	return key
}
