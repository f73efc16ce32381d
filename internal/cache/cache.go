// Пакет cache — LRU-кэш с TTL для ответов внешних интеграций.
// Обёртка над hashicorp/golang-lru/v2/expirable с Prometheus-метриками.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша. Лейбл cache — имя экземпляра (umami, uptimekuma).
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cp_cache_hits_total",
		Help: "Общее количество попаданий в кэш интеграций.",
	}, []string{"cache"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cp_cache_misses_total",
		Help: "Общее количество промахов кэша интеграций.",
	}, []string{"cache"})
)

// TTL — LRU-кэш с автоматическим истечением записей.
// Каждый экземпляр сервиса имеет собственный in-memory кэш.
type TTL[V any] struct {
	lru    *expirable.LRU[string, V]
	hits   prometheus.Counter
	misses prometheus.Counter
}

// New создаёт кэш. name — значение лейбла cache в метриках.
// maxSize — максимальное количество записей, ttl — время жизни записи.
func New[V any](name string, maxSize int, ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		lru:    expirable.NewLRU[string, V](maxSize, nil, ttl),
		hits:   cacheHitsTotal.WithLabelValues(name),
		misses: cacheMissesTotal.WithLabelValues(name),
	}
}

// Get возвращает значение по ключу и обновляет метрики hit/miss.
func (c *TTL[V]) Get(key string) (V, bool) {
	val, ok := c.lru.Get(key)
	if ok {
		c.hits.Inc()
		return val, true
	}
	c.misses.Inc()
	return val, false
}

// Set добавляет или обновляет запись.
func (c *TTL[V]) Set(key string, val V) {
	c.lru.Add(key, val)
}

// Delete удаляет запись.
func (c *TTL[V]) Delete(key string) {
	c.lru.Remove(key)
}

// Len возвращает количество записей (включая ещё не вычищенные истёкшие).
func (c *TTL[V]) Len() int {
	return c.lru.Len()
}
