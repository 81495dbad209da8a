package query

import (
	"log/slog"
	"time"
)

// GC удаляет записи без ожидающих и наблюдателей, к которым не обращались
// дольше gcTime. Возвращает число удаленных записей.
func (c *Cache) GC() int {
	if c.cfg.gcTime <= 0 {
		return 0
	}

	c.mu.Lock()
	now := c.cfg.now()
	removed := 0
	for key, e := range c.entries {
		if e.state == StateFetching || e.waiters > 0 || e.observers > 0 {
			continue
		}
		if now.Sub(e.lastAccess) < c.cfg.gcTime {
			continue
		}
		delete(c.entries, key)
		removed++
	}
	c.mu.Unlock()

	if removed > 0 {
		c.stats.evictions.Add(uint64(removed))
		c.cfg.logger.Debug("удалены неиспользуемые записи кеша", slog.Int("count", removed))
	}
	return removed
}

// janitor периодически вызывает GC до вызова Close.
func (c *Cache) janitor() {
	defer close(c.gcDone)

	ticker := time.NewTicker(c.cfg.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.GC()
		case <-c.stopGC:
			return
		}
	}
}
