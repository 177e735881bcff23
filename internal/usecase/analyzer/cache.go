package analyzer

import (
	"container/list"
	"sync"
	"time"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
)

// lruCache — LRU-кэш анализов с TTL. Просроченные записи удаляются при
// обращении, фонового вытеснения нет.
type lruCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List
	entries map[string]*list.Element
	hits    int64
	misses  int64
	now     func() time.Time
}

type cacheEntry struct {
	key      string
	value    domain.Analysis
	storedAt time.Time
}

func newLRUCache(maxSize int, ttl time.Duration) *lruCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &lruCache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Get возвращает запись и признак попадания.
func (c *lruCache) Get(key string) (domain.Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return domain.Analysis{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.removeLocked(el)
		c.misses++
		return domain.Analysis{}, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return entry.value, true
}

// Put сохраняет запись, вытесняя самую давнюю при переполнении.
func (c *lruCache) Put(key string, value domain.Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Back())
	}
	el := c.order.PushFront(&cacheEntry{key: key, value: value, storedAt: c.now()})
	c.entries[key] = el
}

func (c *lruCache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(el)
}

// Clear очищает кэш.
func (c *lruCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// CacheStats описывает состояние кэша анализов.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
}

// Stats возвращает счётчики кэша.
func (c *lruCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:    c.order.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
