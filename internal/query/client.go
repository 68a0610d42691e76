// Package query - кэш результатов чтения с дедупликацией запросов,
// stale-while-revalidate и явной инвалидацией после изменений.
package query

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultStaleTime - сколько результат считается свежим
const DefaultStaleTime = 5 * time.Minute

// fetchTimeout ограничивает общий запрос, который разделяют несколько читателей
const fetchTimeout = 30 * time.Second

// Key - стабильный ключ запроса: имя операции и параметры через «/»
type Key string

// NewKey строит ключ из имени операции и параметров
func NewKey(op string, params ...any) Key {
	if len(params) == 0 {
		return Key(op)
	}
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, op)
	for _, p := range params {
		parts = append(parts, fmt.Sprint(p))
	}
	return Key(strings.Join(parts, "/"))
}

// Op возвращает имя операции ключа
func (k Key) Op() string {
	op, _, _ := strings.Cut(string(k), "/")
	return op
}

// State - то, что видит потребитель ключа
type State struct {
	Data      any
	IsLoading bool
	Err       error
	UpdatedAt time.Time
}

// Invalidator объявляет, какие ключи затронула операция изменения
type Invalidator interface {
	Invalidate(keys ...Key)
	InvalidateOp(ops ...string)
}

type fetchFunc func(context.Context) (any, error)

type entry struct {
	data      any
	err       error
	hasData   bool
	loading   bool
	fetchedAt time.Time
	gen       uint64
	fetcher   fetchFunc
	subs      map[uint64]func(State)
}

func (e *entry) state() State {
	return State{Data: e.data, IsLoading: e.loading, Err: e.err, UpdatedAt: e.fetchedAt}
}

// Options настраивает Client
type Options struct {
	StaleTime time.Duration
	Retry     RetryPolicy
	Now       func() time.Time
}

// Client - кэш запросов. Безопасен для конкурентного использования.
type Client struct {
	mu        sync.Mutex
	entries   map[Key]*entry
	group     singleflight.Group
	staleTime time.Duration
	retry     RetryPolicy
	now       func() time.Time
	nextSub   uint64

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт Client
func New(opts Options) *Client {
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialInterval == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		entries:   make(map[Key]*entry),
		staleTime: opts.StaleTime,
		retry:     opts.Retry,
		now:       opts.Now,
		bg:        ctx,
		cancel:    cancel,
	}
}

// Close останавливает фоновые обновления и ждёт их завершения
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

// Fetch возвращает значение ключа: свежее - из кэша, устаревшее - из кэша
// с фоновым обновлением, отсутствующее - через fetcher. Одновременные
// запросы одного ключа выполняются одним вызовом fetcher.
func Fetch[T any](ctx context.Context, c *Client, key Key, fetcher func(context.Context) (T, error)) (T, error) {
	v, err := c.fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetcher(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

func (c *Client) fetch(ctx context.Context, key Key, fn fetchFunc) (any, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.fetcher = fn
	if e.hasData && e.err == nil {
		data := e.data
		stale := c.now().Sub(e.fetchedAt) >= c.staleTime
		c.mu.Unlock()
		if stale {
			c.revalidate(key)
		}
		return data, nil
	}
	c.mu.Unlock()

	return c.load(ctx, key, fn)
}

// load выполняет общий для всех читателей запрос ключа и ждёт его
// результата, пока жив контекст вызывающего. Без fn используется запрос,
// сохранённый в записи ключа.
func (c *Client) load(ctx context.Context, key Key, fn fetchFunc) (any, error) {
	ch := c.group.DoChan(string(key), func() (any, error) {
		c.mu.Lock()
		e := c.entryLocked(key)
		// Запись могла быть пересоздана инвалидацией после fetch
		run := fn
		if run != nil {
			e.fetcher = run
		} else {
			run = e.fetcher
		}
		gen := e.gen
		e.loading = true
		subs, st := e.snapshotLocked()
		c.mu.Unlock()
		notify(subs, st)

		if run == nil {
			return nil, fmt.Errorf("для ключа %s не задан запрос", key)
		}

		fctx, cancel := context.WithTimeout(c.bg, fetchTimeout)
		defer cancel()
		data, err := Retry(fctx, c.retry, func(ctx context.Context) (any, error) {
			return run(ctx)
		})

		c.store(key, gen, data, err)
		return data, err
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		// Запрос доработает и обновит кэш без этого читателя
		return nil, ctx.Err()
	}
}

func (c *Client) store(key Key, gen uint64, data any, err error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.gen != gen {
		// Ключ инвалидирован, пока шёл запрос: результат устарел
		c.mu.Unlock()
		return
	}
	e.loading = false
	if err != nil {
		e.err = err
	} else {
		e.data, e.err, e.hasData = data, nil, true
		e.fetchedAt = c.now()
	}
	subs, st := e.snapshotLocked()
	c.mu.Unlock()
	notify(subs, st)
}

// revalidate обновляет ключ в фоне, не блокируя читателя
func (c *Client) revalidate(key Key) {
	if c.bg.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.load(c.bg, key, nil); err != nil && c.bg.Err() == nil {
			log.Printf("Фоновое обновление %s не удалось: %v", key, err)
		}
	}()
}

// Observe возвращает текущее состояние ключа
func (c *Client) Observe(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.state()
	}
	return State{}
}

// Subscribe вызывает fn при каждом изменении состояния ключа.
// fn сразу получает текущее состояние.
func (c *Client) Subscribe(key Key, fn func(State)) (unsubscribe func()) {
	return c.subscribe(key, nil, fn)
}

// Watch подписывает на готовые значения ключа: состояния загрузки и ошибки
// пропускаются. fetcher остаётся в записи ключа, поэтому после инвалидации
// ключ перезапрашивается, даже если читателей больше не было.
func Watch[T any](c *Client, key Key, fetcher func(context.Context) (T, error), fn func(T)) (unwatch func()) {
	return c.subscribe(key, func(ctx context.Context) (any, error) {
		return fetcher(ctx)
	}, func(st State) {
		if st.IsLoading || st.Err != nil {
			return
		}
		if v, ok := st.Data.(T); ok {
			fn(v)
		}
	})
}

func (c *Client) subscribe(key Key, fetcher fetchFunc, fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	e := c.entryLocked(key)
	if fetcher != nil && e.fetcher == nil {
		e.fetcher = fetcher
	}
	c.nextSub++
	id := c.nextSub
	e.subs[id] = fn
	st := e.state()
	// Ключ сброшен до подписки: загружаем заново
	load := !e.hasData && !e.loading && e.fetcher != nil
	c.mu.Unlock()

	fn(st)
	if load {
		c.revalidate(key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if e, ok := c.entries[key]; ok {
				delete(e.subs, id)
				if len(e.subs) == 0 && !e.hasData && !e.loading {
					delete(c.entries, key)
				}
			}
		})
	}
}

// Invalidate сбрасывает ключи. Ключи с подписчиками сразу перезапрашиваются.
func (c *Client) Invalidate(keys ...Key) {
	c.mu.Lock()
	var refetch []Key
	for _, key := range keys {
		if c.invalidateLocked(key) {
			refetch = append(refetch, key)
		}
	}
	c.mu.Unlock()

	for _, key := range refetch {
		c.revalidate(key)
	}
}

// InvalidateOp сбрасывает все ключи указанных операций
func (c *Client) InvalidateOp(ops ...string) {
	c.mu.Lock()
	var keys []Key
	for key := range c.entries {
		for _, op := range ops {
			if key.Op() == op {
				keys = append(keys, key)
				break
			}
		}
	}
	c.mu.Unlock()
	c.Invalidate(keys...)
}

func (c *Client) invalidateLocked(key Key) (refetch bool) {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.gen++
	e.data, e.err, e.hasData, e.loading = nil, nil, false, false
	e.fetchedAt = time.Time{}
	c.group.Forget(string(key))

	if len(e.subs) == 0 {
		delete(c.entries, key)
		return false
	}
	return e.fetcher != nil
}

func (c *Client) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{subs: make(map[uint64]func(State))}
		c.entries[key] = e
	}
	return e
}

func (e *entry) snapshotLocked() ([]func(State), State) {
	subs := make([]func(State), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	return subs, e.state()
}

func notify(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}
