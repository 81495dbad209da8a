package query

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/x-research-team/dtx-subgraph/bus/event"
	"github.com/x-research-team/dtx-subgraph/graphql"
)

// Cache хранит результаты запросов по ключу и гарантирует, что для одного
// ключа одновременно выполняется не более одной загрузки.
// Кеш принадлежит вызывающей стороне и должен быть закрыт через Close.
type Cache struct {
	cfg *cacheConfig

	mu      sync.Mutex
	entries map[Key]*entry
	// orphans хранит удаленные записи, загрузка которых еще идет.
	orphans   map[Key]*entry
	closed    bool
	flightSeq uint64

	group    singleflight.Group
	events   event.IBus[EntryEvent]
	inflight sync.WaitGroup
	stats    counters

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

type counters struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	fetches   atomic.Uint64
	joins     atomic.Uint64
	retries   atomic.Uint64
	failures  atomic.Uint64
	evictions atomic.Uint64
}

// entry — запись кеша. Все поля защищены Cache.mu.
type entry struct {
	key   Key
	state State

	value    any
	hasValue bool
	err      error

	updatedAt  time.Time
	failedAt   time.Time
	staleTime  time.Duration
	lastAccess time.Time

	invalidated        bool
	invalidations      uint64
	fetchInvalidations uint64

	flightID  uint64
	waiters   int
	observers int
}

// NewCache создает новый кеш запросов.
func NewCache(opts ...CacheOption) *Cache {
	cfg := newCacheConfig(opts)

	// Шина с непустым топиком создается без ошибок.
	// Загрузка не ждет медленных асинхронных наблюдателей.
	bus, _ := event.NewBus[EntryEvent](EntryTopic, event.WithLogger(cfg.logger), event.WithDropWhenFull())

	c := &Cache{
		cfg:     cfg,
		entries: make(map[Key]*entry),
		orphans: make(map[Key]*entry),
		events:  bus,
		stopGC:  make(chan struct{}),
		gcDone:  make(chan struct{}),
	}

	if cfg.gcTime > 0 {
		go c.janitor()
	} else {
		close(c.gcDone)
	}
	return c
}

// Get возвращает значение для ключа. Свежее значение возвращается из кеша,
// иначе вызывающий присоединяется к текущей загрузке ключа или запускает новую.
//
// Загрузка выполняется на контексте, отвязанном от отмены ctx: отмена ctx
// прекращает ожидание только этого вызывающего.
func Get[R any](ctx context.Context, c *Cache, key Key, fetch graphql.Operation[R], opts ...FetchOption) (R, error) {
	var zero R
	o := c.options(opts)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}

	now := c.cfg.now()
	e, created := c.entryLocked(key, now)
	e.lastAccess = now
	var createdEv *EntryEvent
	if created {
		ev := e.eventLocked()
		createdEv = &ev
	}

	if !o.Enabled {
		value, hasValue := e.value, e.hasValue
		c.mu.Unlock()
		c.publish(createdEv)
		if hasValue {
			return cast[R](key, value)
		}
		return zero, ErrDisabled
	}

	if e.freshLocked(now, o.StaleTime) {
		value := e.value
		c.mu.Unlock()
		c.stats.hits.Add(1)
		return cast[R](key, value)
	}
	c.stats.misses.Add(1)

	var started EntryEvent
	if e.state != StateFetching {
		c.flightSeq++
		e.flightID = c.flightSeq
		e.state = StateFetching
		e.staleTime = o.StaleTime
		e.fetchInvalidations = e.invalidations
		c.inflight.Add(1)
		c.stats.fetches.Add(1)
		started = e.eventLocked()
	} else {
		c.stats.joins.Add(1)
	}
	e.waiters++

	flight := e.flightID
	detached := context.WithoutCancel(ctx)
	// DoChan вызывается под мьютексом: пока запись в состоянии Fetching,
	// загрузка с этим flightID еще не завершилась и ключ присутствует в группе.
	ch := c.group.DoChan(flightKey(key, flight), func() (any, error) {
		return c.run(started, flight, func() (any, error) {
			return load(detached, c, key, o, fetch)
		})
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		c.release(e)
		if res.Err != nil {
			return zero, res.Err
		}
		return cast[R](key, res.Val)
	case <-ctx.Done():
		c.release(e)
		return zero, ctx.Err()
	}
}

// Prefetch загружает значение в кеш, если оно отсутствует или устарело.
func Prefetch[R any](ctx context.Context, c *Cache, key Key, fetch graphql.Operation[R], opts ...FetchOption) error {
	_, err := Get(ctx, c, key, fetch, opts...)
	return err
}

// Lookup возвращает текущее содержимое записи без загрузки.
func Lookup[R any](c *Cache, key Key) (Result[R], bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return Result[R]{}, false
	}
	res := Result[R]{
		HasValue:  e.hasValue,
		Err:       e.err,
		State:     e.stateLocked(c.cfg.now()),
		UpdatedAt: e.updatedAt,
	}
	value := e.value
	c.mu.Unlock()

	if res.HasValue {
		v, err := cast[R](key, value)
		if err != nil {
			res.HasValue = false
			res.Err = err
			return res, true
		}
		res.Value = v
	}
	return res, true
}

// SetData записывает значение в кеш так, как если бы оно было успешно загружено.
func SetData[R any](c *Cache, key Key, value R) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	now := c.cfg.now()
	e, _ := c.entryLocked(key, now)
	e.value = value
	e.hasValue = true
	e.err = nil
	e.updatedAt = now
	e.lastAccess = now
	e.invalidated = false
	if e.state != StateFetching {
		e.state = StateSuccess
	}
	if e.staleTime == 0 {
		e.staleTime = c.options(nil).StaleTime
	}
	ev := e.eventLocked()
	c.mu.Unlock()

	c.publish(&ev)
	return nil
}

// State возвращает состояние записи. Для отсутствующей записи возвращается StateIdle.
func (c *Cache) State(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return StateIdle
	}
	return e.stateLocked(c.cfg.now())
}

// Invalidate помечает запись устаревшей: следующее обращение запустит загрузку.
// Возвращает false, если записи нет.
func (c *Cache) Invalidate(key Key) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e.invalidateLocked()
	ev := e.eventLocked()
	c.mu.Unlock()

	c.publish(&ev)
	return true
}

// InvalidateOperation инвалидирует все записи операции во всех областях
// и возвращает их количество.
func (c *Cache) InvalidateOperation(operation string) int {
	c.mu.Lock()
	var events []EntryEvent
	for _, e := range c.entries {
		if e.key.Operation != operation {
			continue
		}
		e.invalidateLocked()
		events = append(events, e.eventLocked())
	}
	c.mu.Unlock()

	for i := range events {
		c.publish(&events[i])
	}
	return len(events)
}

// Remove удаляет запись из кеша. Текущая загрузка не прерывается, но ее
// результат не будет сохранен, если ключ не запросят снова до ее завершения.
// Повторный запрос присоединяется к текущей загрузке.
func (c *Cache) Remove(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	if e.state == StateFetching {
		e.value, e.hasValue, e.err = nil, false, nil
		c.orphans[key] = e
	}
	return true
}

// Len возвращает число записей в кеше.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot возвращает описание всех записей кеша.
func (c *Cache) Snapshot() []EntrySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.now()
	out := make([]EntrySnapshot, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, EntrySnapshot{
			Key:       e.key,
			State:     e.stateLocked(now),
			HasValue:  e.hasValue,
			Err:       e.err,
			UpdatedAt: e.updatedAt,
			Waiters:   e.waiters,
			Observers: e.observers,
		})
	}
	return out
}

// Stats возвращает счетчики кеша.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Hits:      c.stats.hits.Load(),
		Misses:    c.stats.misses.Load(),
		Fetches:   c.stats.fetches.Load(),
		Joins:     c.stats.joins.Load(),
		Retries:   c.stats.retries.Load(),
		Failures:  c.stats.failures.Load(),
		Evictions: c.stats.evictions.Load(),
	}
}

// Subscribe подписывает наблюдателя на изменения записи key. Пока наблюдатель
// подписан, запись не удаляется сборщиком мусора. Асинхронный наблюдатель
// (event.WithAsync) пропускает события, если очередь шины заполнена.
func (c *Cache) Subscribe(key Key, handler event.EventHandler[EntryEvent], opts ...event.SubscribeOption[EntryEvent]) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, _ := c.entryLocked(key, c.cfg.now())
	e.observers++
	c.mu.Unlock()

	opts = append(opts, event.WithFilter(func(ev EntryEvent) bool { return ev.Key == key }))
	unsubscribe, err := c.events.Subscribe(handler, opts...)
	if err != nil {
		c.mu.Lock()
		e.observers--
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			c.mu.Lock()
			e.observers--
			e.lastAccess = c.cfg.now()
			c.mu.Unlock()
		})
	}, nil
}

// SubscribeAll подписывает наблюдателя на изменения всех записей кеша.
func (c *Cache) SubscribeAll(handler event.EventHandler[EntryEvent], opts ...event.SubscribeOption[EntryEvent]) (func(), error) {
	return c.events.Subscribe(handler, opts...)
}

// Close останавливает сборщик мусора и дожидается завершения текущих загрузок
// или отмены ctx. После Close все операции возвращают ErrClosed.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.stopGC) })

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		<-c.gcDone
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("не удалось дождаться завершения загрузок: %w", ctx.Err())
	}
	return c.events.Shutdown(ctx)
}

// options собирает параметры вызова поверх параметров кеша.
func (c *Cache) options(opts []FetchOption) Options {
	o := DefaultOptions()
	for _, opt := range c.cfg.defaults {
		opt(&o)
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// entryLocked возвращает запись для ключа, создавая ее в состоянии Idle.
// Удаленная запись с незавершенной загрузкой возвращается в кеш.
func (c *Cache) entryLocked(key Key, now time.Time) (*entry, bool) {
	if e, ok := c.entries[key]; ok {
		return e, false
	}
	if e, ok := c.orphans[key]; ok {
		delete(c.orphans, key)
		c.entries[key] = e
		return e, false
	}
	e := &entry{key: key, state: StateIdle, lastAccess: now}
	c.entries[key] = e
	return e, true
}

// run выполняет загрузку и сохраняет ее результат. Событие начала загрузки
// публикуется из горутины загрузки, чтобы наблюдатели получали события по порядку.
func (c *Cache) run(started EntryEvent, flight uint64, fn func() (any, error)) (value any, err error) {
	key := started.Key
	c.cfg.logger.Debug("загрузка запроса", slog.String("key", key.String()))
	c.publish(&started)

	defer c.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
		c.complete(key, flight, value, err)
	}()
	return fn()
}

// complete сохраняет результат загрузки, если запись не была удалена или
// заменена за время загрузки.
func (c *Cache) complete(key Key, flight uint64, value any, err error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.flightID != flight {
		if d, ok := c.orphans[key]; ok && d.flightID == flight {
			delete(c.orphans, key)
		}
		c.mu.Unlock()
		return
	}

	now := c.cfg.now()
	if err != nil {
		e.err = err
		e.failedAt = now
		e.state = StateFailed
		c.stats.failures.Add(1)
	} else {
		e.value = value
		e.hasValue = true
		e.err = nil
		e.updatedAt = now
		e.state = StateSuccess
	}
	if e.invalidations == e.fetchInvalidations {
		e.invalidated = false
	}
	e.lastAccess = now
	ev := e.eventLocked()
	c.mu.Unlock()

	if err != nil {
		c.cfg.logger.Warn("загрузка запроса завершилась ошибкой",
			slog.String("key", key.String()),
			slog.String("outcome", graphql.Outcome(err)),
			slog.Any("error", err),
		)
	}
	c.publish(&ev)
}

// release уменьшает число ожидающих записи.
func (c *Cache) release(e *entry) {
	c.mu.Lock()
	e.waiters--
	e.lastAccess = c.cfg.now()
	c.mu.Unlock()
}

func (c *Cache) publish(ev *EntryEvent) {
	if ev == nil {
		return
	}
	if err := c.events.Publish(context.Background(), *ev); err != nil {
		c.cfg.logger.Debug("событие записи кеша не опубликовано",
			slog.String("key", ev.Key.String()),
			slog.Any("error", err),
		)
	}
}

// freshLocked сообщает, можно ли вернуть значение без загрузки.
func (e *entry) freshLocked(now time.Time, staleTime time.Duration) bool {
	if !e.hasValue || e.err != nil || e.invalidated || e.state == StateFetching {
		return false
	}
	return now.Sub(e.updatedAt) < staleTime
}

// stateLocked возвращает состояние с учетом устаревания.
func (e *entry) stateLocked(now time.Time) State {
	if e.state == StateSuccess && (e.invalidated || now.Sub(e.updatedAt) >= e.staleTime) {
		return StateStale
	}
	return e.state
}

func (e *entry) invalidateLocked() {
	e.invalidated = true
	e.invalidations++
}

func (e *entry) eventLocked() EntryEvent {
	ev := EntryEvent{Key: e.key, State: e.state, Err: e.err, UpdatedAt: e.updatedAt}
	if e.state == StateSuccess && e.invalidated {
		ev.State = StateStale
	}
	return ev
}

func flightKey(key Key, flight uint64) string {
	return key.String() + "#" + strconv.FormatUint(flight, 10)
}

// cast приводит значение из кеша к типу R.
func cast[R any](key Key, value any) (R, error) {
	var zero R
	if value == nil {
		return zero, nil
	}
	v, ok := value.(R)
	if !ok {
		return zero, fmt.Errorf("%w: ключ '%s', тип %T", ErrTypeMismatch, key, value)
	}
	return v, nil
}
