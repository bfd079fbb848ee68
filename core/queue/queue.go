// Package queue implements the gated FIFO queue that is the backbone of the
// bearerbox message-routing engine. It generalizes the mutex+condvar list
// from Kannel's gwlib/list.c: a queue tracks a producer count alongside its
// items, and draining the last producer wakes every blocked consumer rather
// than requiring them to poll a shutdown flag.
package queue

import (
	"sync"
	"time"
)

// Queue is a multi-producer, multi-consumer FIFO of owned items, gated by a
// producer count. While producerCount > 0, Consume may block on an empty
// queue; once the last producer deregisters, every blocked (and future)
// Consume call returns immediately with the drained sentinel (ok == false).
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []T
	nProd    int
	lastMod  time.Time
	oldestAt time.Time
}

// New returns an empty queue with no registered producers.
func New[T any]() *Queue[T] {
	q := &Queue[T]{lastMod: time.Now()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// AddProducer registers one producer. Must be called before that producer's
// first Produce call. Re-registration after the queue has drained is
// permitted; it simply makes the queue block again.
func (q *Queue[T]) AddProducer() {
	q.mu.Lock()
	q.nProd++
	q.mu.Unlock()
}

// RemoveProducer deregisters one producer. When this transitions the
// producer count to zero, every blocked Consume is woken with the drained
// sentinel. Calling RemoveProducer with no registered producers is a
// programming error and panics, mirroring gwlib's gw_assert(num_producers > 0).
func (q *Queue[T]) RemoveProducer() {
	q.mu.Lock()
	if q.nProd <= 0 {
		q.mu.Unlock()
		panic("queue: RemoveProducer called with no registered producers")
	}
	q.nProd--
	if q.nProd == 0 {
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// ProducerCount returns the current number of registered producers.
func (q *Queue[T]) ProducerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nProd
}

// Produce appends item at the tail and wakes one waiting consumer.
func (q *Queue[T]) Produce(item T) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.oldestAt = time.Now()
	}
	q.items = append(q.items, item)
	q.lastMod = time.Now()
	q.cond.Signal()
	q.mu.Unlock()
}

// Consume removes and returns the head item. If the queue is empty it blocks
// until an item arrives or the producer count drops to zero, in which case
// it returns the zero value and ok == false (the drain sentinel).
func (q *Queue[T]) Consume() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && q.nProd > 0 {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.oldestAt = time.Now()
	}
	return item, true
}

// TryConsume is the non-blocking variant of Consume: it never waits, and
// returns ok == false whenever the queue is currently empty, whether or not
// it has drained.
func (q *Queue[T]) TryConsume() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.oldestAt = time.Now()
	}
	return item, true
}

// Lock acquires the queue's internal mutex for the duration of a caller-side
// bulk scan or mutation through Items(). Every other method (Consume,
// TryConsume, Produce, Len, ChangeDestination, ...) takes the same mutex, so
// none of them may be called while holding this lock; ChangeDestination
// locks on its own and is called without Lock.
func (q *Queue[T]) Lock() { q.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (q *Queue[T]) Unlock() { q.mu.Unlock() }

// Items returns the live backing slice of queued items. Callers must hold
// the lock (via Lock/Unlock) for the duration of any access.
func (q *Queue[T]) Items() []T { return q.items }

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// LastModTime returns the timestamp of the most recent Produce, or of the
// most recent ChangeDestination that re-tagged at least one item. Consume
// and TryConsume do not update it.
func (q *Queue[T]) LastModTime() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastMod
}

// OldestItemTime returns the timestamp at which the current head item became
// the head, which is later than its Produce time when it waited behind
// other items.
func (q *Queue[T]) OldestItemTime() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.oldestAt
}

// ChangeDestination re-tags every item for which matches returns true, using
// retag to produce the replacement value, in place. It returns the number of
// items changed. Used when a target SMSC connection disappears and its
// queue must be folded back into a more general pool.
func (q *Queue[T]) ChangeDestination(matches func(T) bool, retag func(T) T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i, it := range q.items {
		if matches(it) {
			q.items[i] = retag(it)
			n++
		}
	}
	if n > 0 {
		q.lastMod = time.Now()
	}
	return n
}
