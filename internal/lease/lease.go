// Package lease предоставляет краткоживущие блокировки по ключу для защиты
// последовательностей вида «проверить, затем изменить».
package lease

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// entry хранит семафор одного ключа и число ожидающих его горутин.
type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Keyed выдаёт взаимоисключающие блокировки, привязанные к числовому ключу
// (идентификатору книги или выдачи). Блокировки разных ключей независимы.
type Keyed struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// NewKeyed создаёт менеджер блокировок по ключу.
func NewKeyed() *Keyed {
	return &Keyed{
		entries: make(map[int64]*entry),
	}
}

// Acquire захватывает блокировку ключа key, ожидая не дольше wait.
// Возвращает функцию освобождения и признак успеха; ok == false означает,
// что блокировка занята (истёк срок ожидания или отменён контекст).
// Функцию освобождения необходимо вызвать на каждом пути выхода.
func (k *Keyed) Acquire(ctx context.Context, key int64, wait time.Duration) (release func(), ok bool) {
	k.mu.Lock()
	e, exists := k.entries[key]
	if !exists {
		e = &entry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		k.put(key, e)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.put(key, e)
		})
	}, true
}

// put уменьшает счётчик ссылок и удаляет запись, когда она никому не нужна,
// чтобы карта не росла с числом когда-либо встреченных ключей.
func (k *Keyed) put(key int64, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
