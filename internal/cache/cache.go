package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
)

const (
	// Кэш заказа: order:{order_id} -> JSON заказа.
	keyOrder = "order:%s"
	// Кэш складской записи: stock:{product_id} -> JSON записи.
	keyStock = "stock:%s"
)

var (
	// TTLOrder — время жизни кэша заказа. Записи инвалидируются при каждом
	// переходе, TTL страхует от пропущенной инвалидации.
	TTLOrder = 5 * time.Minute
	// TTLStock — время жизни кэша складской записи.
	TTLStock = 1 * time.Minute
)

// Cache — read-through кэш для GET-запросов API. Источником истины
// остаются репозитории: кэш лишь снимает нагрузку с чтения, все записи
// проходят мимо него с последующей инвалидацией.
type Cache struct {
	rdb    *redis.Client
	logger *log.Entry
}

// New создаёт кэш поверх Redis по адресу addr.
func New(addr string) *Cache {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &Cache{
		rdb:    rdb,
		logger: log.WithField("component", "cache"),
	}
}

// NewWithClient создаёт кэш поверх готового клиента.
func NewWithClient(rdb *redis.Client) *Cache {
	return &Cache{
		rdb:    rdb,
		logger: log.WithField("component", "cache"),
	}
}

// Ping проверяет доступность Redis.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close закрывает соединение с Redis.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// GetOrder возвращает закэшированный заказ. Второй результат false
// означает cache miss; ошибки Redis тоже трактуются как miss.
func (c *Cache) GetOrder(ctx context.Context, orderID string) (domain.Order, bool) {
	var order domain.Order
	if !c.get(ctx, fmt.Sprintf(keyOrder, orderID), &order) {
		return domain.Order{}, false
	}
	return order, true
}

// SetOrder кэширует заказ.
func (c *Cache) SetOrder(ctx context.Context, order domain.Order) {
	c.set(ctx, fmt.Sprintf(keyOrder, order.ID), order, TTLOrder)
}

// InvalidateOrder удаляет заказ из кэша. Вызывается при каждом переходе.
func (c *Cache) InvalidateOrder(ctx context.Context, orderID string) {
	c.del(ctx, fmt.Sprintf(keyOrder, orderID))
}

// GetStock возвращает закэшированную складскую запись.
func (c *Cache) GetStock(ctx context.Context, productID string) (domain.Stock, bool) {
	var stock domain.Stock
	if !c.get(ctx, fmt.Sprintf(keyStock, productID), &stock) {
		return domain.Stock{}, false
	}
	return stock, true
}

// SetStock кэширует складскую запись.
func (c *Cache) SetStock(ctx context.Context, stock domain.Stock) {
	c.set(ctx, fmt.Sprintf(keyStock, stock.ProductID), stock, TTLStock)
}

// InvalidateStock удаляет складскую запись из кэша.
func (c *Cache) InvalidateStock(ctx context.Context, productID string) {
	c.del(ctx, fmt.Sprintf(keyStock, productID))
}

func (c *Cache) get(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("key", key).Debug("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache entry is corrupted, dropping")
		c.del(ctx, key)
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache marshal failed")
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("cache write failed")
	}
}

func (c *Cache) del(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("cache invalidation failed")
	}
}
