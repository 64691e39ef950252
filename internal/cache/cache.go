// Package cache предоставляет Redis-обертку для кэширования статистики по
// пакетам. В отличие от оригинальной системы, здесь Redis не кэширует
// заказы целиком (заказы меняются слишком часто во время выполнения
// пакета, и устаревшая копия ввела бы в заблуждение operator dashboard);
// вместо этого он хранит короткоживущие агрегаты BatchStats/SystemStats,
// которые дешево пересчитать, но дорого пересчитывать на каждый HTTP-опрос
// прогресса.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/natura-rpa/gsp-dispatch/internal/config"
	"github.com/natura-rpa/gsp-dispatch/internal/models"
)

// defaultTTL ограничивает, насколько устаревшей может быть статистика,
// отданная из кэша вместо живого пересчета по БД.
const defaultTTL = 3 * time.Second

// Client — обертка над redis.Client; встраивание позволяет в будущем
// расширять функциональность пакета, не меняя публичный API.
type Client struct {
	*redis.Client
}

// New подключается к Redis и проверяет соединение командой PING.
func New(ctx context.Context, cfg config.Redis) (*Client, error) {
	address := net.JoinHostPort(cfg.Host, cfg.Port)

	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("can't ping redis: %v", err)
	}

	return &Client{client}, nil
}

func batchStatsKey(batchID int64) string { return fmt.Sprintf("gsp:stats:batch:%d", batchID) }

const systemStatsKey = "gsp:stats:system"

// GetBatchStats возвращает кэшированную статистику пакета, если она еще не
// истекла. Промах кэша не является ошибкой — вызывающий код должен
// пересчитать статистику из хранилища и сохранить ее через SetBatchStats.
func (c *Client) GetBatchStats(ctx context.Context, batchID int64) (*models.BatchStats, bool, error) {
	raw, err := c.Get(ctx, batchStatsKey(batchID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("can't get cached batch stats: %v", err)
	}

	var stats models.BatchStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, false, fmt.Errorf("can't unmarshal cached batch stats: %v", err)
	}

	return &stats, true, nil
}

// SetBatchStats кэширует статистику пакета на defaultTTL.
func (c *Client) SetBatchStats(ctx context.Context, batchID int64, stats *models.BatchStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("can't marshal batch stats: %v", err)
	}

	if err := c.Set(ctx, batchStatsKey(batchID), payload, defaultTTL).Err(); err != nil {
		return fmt.Errorf("can't cache batch stats: %v", err)
	}

	return nil
}

// InvalidateBatchStats сбрасывает кэш статистики пакета. Orchestrator
// вызывает его после каждой своей команды, чтобы следующий опрос не отдал
// устаревшие числа в пределах TTL; переходы заказов, которые делает
// воркер, кэш не сбрасывают и становятся видны по истечении TTL.
func (c *Client) InvalidateBatchStats(ctx context.Context, batchID int64) error {
	if err := c.Del(ctx, batchStatsKey(batchID)).Err(); err != nil {
		return fmt.Errorf("can't invalidate batch stats cache: %v", err)
	}
	return nil
}

// GetSystemStats/SetSystemStats кэшируют сводку по всей системе,
// запрашиваемую дашбордом заметно чаще, чем меняется.
func (c *Client) GetSystemStats(ctx context.Context) (*models.SystemStats, bool, error) {
	raw, err := c.Get(ctx, systemStatsKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("can't get cached system stats: %v", err)
	}

	var stats models.SystemStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, false, fmt.Errorf("can't unmarshal cached system stats: %v", err)
	}

	return &stats, true, nil
}

func (c *Client) SetSystemStats(ctx context.Context, stats *models.SystemStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("can't marshal system stats: %v", err)
	}

	if err := c.Set(ctx, systemStatsKey, payload, defaultTTL).Err(); err != nil {
		return fmt.Errorf("can't cache system stats: %v", err)
	}

	return nil
}
