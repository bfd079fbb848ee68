package queue

import (
	"sync"
	"testing"
	"time"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Produce(i)
	}
	for i := 0; i < 5; i++ {
		got, ok := q.Consume()
		if !ok {
			t.Fatalf("item %d: Consume returned drained sentinel unexpectedly", i)
		}
		if got != i {
			t.Fatalf("item %d: got %d, want %d", i, got, i)
		}
	}
}

func TestQueueTryConsumeNonBlocking(t *testing.T) {
	q := New[string]()
	if _, ok := q.TryConsume(); ok {
		t.Fatal("TryConsume on empty queue should return ok == false")
	}
	q.Produce("a")
	v, ok := q.TryConsume()
	if !ok || v != "a" {
		t.Fatalf("TryConsume = (%q, %v), want (a, true)", v, ok)
	}
}

func TestQueueDrainAvalanche(t *testing.T) {
	q := New[int]()
	q.AddProducer()

	const nConsumers = 8
	var wg sync.WaitGroup
	results := make(chan bool, nConsumers)
	for i := 0; i < nConsumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Consume()
			results <- ok
		}()
	}

	// Give the consumers time to actually block on the condvar before we
	// remove the producer.
	time.Sleep(50 * time.Millisecond)
	q.RemoveProducer()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all blocked consumers woke up within bound; lost wakeup?")
	}
	close(results)
	for ok := range results {
		if ok {
			t.Fatal("drained queue produced ok == true with no items")
		}
	}
}

func TestQueueConsumeAfterDrainNeverBlocksAgain(t *testing.T) {
	q := New[int]()
	q.AddProducer()
	q.RemoveProducer()

	for i := 0; i < 3; i++ {
		if _, ok := q.Consume(); ok {
			t.Fatal("Consume on a drained queue should always return ok == false")
		}
	}
}

func TestQueueRemoveProducerUnderflowPanics(t *testing.T) {
	q := New[int]()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on RemoveProducer with no registered producers")
		}
	}()
	q.RemoveProducer()
}

func TestQueueChangeDestination(t *testing.T) {
	type item struct {
		dest string
		val  int
	}
	q := New[item]()
	q.Produce(item{"old", 1})
	q.Produce(item{"old", 2})
	q.Produce(item{"keep", 3})

	n := q.ChangeDestination(
		func(it item) bool { return it.dest == "old" },
		func(it item) item { it.dest = "new"; return it },
	)
	if n != 2 {
		t.Fatalf("ChangeDestination changed %d items, want 2", n)
	}

	q.Lock()
	items := append([]item(nil), q.Items()...)
	q.Unlock()

	want := []string{"new", "new", "keep"}
	for i, it := range items {
		if it.dest != want[i] {
			t.Fatalf("item %d dest = %q, want %q", i, it.dest, want[i])
		}
	}
}

func TestQueueProduceConsumeHappensBefore(t *testing.T) {
	// Regression for a lost-wakeup bug class: a consumer blocked before the
	// producer arrives must still observe the produced item.
	q := New[int]()
	q.AddProducer()

	result := make(chan int, 1)
	go func() {
		v, ok := q.Consume()
		if !ok {
			result <- -1
			return
		}
		result <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Produce(42)

	select {
	case v := <-result:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer never woke up after Produce")
	}
}
