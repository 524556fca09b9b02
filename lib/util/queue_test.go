package util

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvWithin(t *testing.T, q *Queue[int], timeout time.Duration) (int, bool) {
	t.Helper()
	select {
	case v, ok := <-q.Recv():
		return v, ok
	case <-time.After(timeout):
		t.Fatalf("Timeout waiting for an item")
		return 0, false
	}
}

func TestPushAndReceiveInOrder(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		require.True(t, q.Push(i))
	}

	for i := 0; i < 10; i++ {
		v, ok := recvWithin(t, q, 100*time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	select {
	case v := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", v)
	case <-time.After(10 * time.Millisecond):
	}
	assert.Equal(t, 0, q.Len())
}

func TestZeroValuesAreDelivered(t *testing.T) {
	q := NewQueue[*int]()
	defer q.Close()

	require.True(t, q.Push(nil))
	select {
	case v := <-q.Recv():
		assert.Nil(t, v)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for nil item")
	}
}

func TestSingleProducerOrder(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	const n = 5000
	go func() {
		for i := 0; i < n; i++ {
			q.Push(i)
		}
	}()

	for i := 0; i < n; i++ {
		v, ok := recvWithin(t, q, 2*time.Second)
		require.True(t, ok)
		require.Equal(t, i, v, "out of order")
	}
}

// every producer's items arrive in its own push order
func TestConcurrentProducers(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.True(t, q.Push(p*perProducer+i))
			}
		}(p)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for n := 0; n < producers*perProducer; n++ {
		v, ok := recvWithin(t, q, 2*time.Second)
		require.True(t, ok)
		p, i := v/perProducer, v%perProducer
		require.Greater(t, i, last[p], "producer %d out of order", p)
		last[p] = i
	}
	wg.Wait()

	for p := range last {
		assert.Equal(t, perProducer-1, last[p])
	}
}

func TestCloseDeliversRemainingItems(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	q.Close()
	assert.True(t, q.IsClosed())
	assert.False(t, q.Push(100), "push after close must fail")

	for i := 0; i < 5; i++ {
		v, ok := recvWithin(t, q, 100*time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := recvWithin(t, q, 100*time.Millisecond)
	assert.False(t, ok, "channel must be closed once drained")
}

func TestAbortReportsUndeliveredItems(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	v, ok := recvWithin(t, q, 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 0, v)

	assert.Equal(t, 4, q.Abort())

	_, ok = <-q.Recv()
	assert.False(t, ok, "channel must be closed after abort")
	assert.False(t, q.Push(7))
	assert.Equal(t, 0, q.Abort(), "a second abort reports nothing")
}

func TestAbortIdleQueue(t *testing.T) {
	q := NewQueue[string]()

	done := make(chan int)
	go func() { done <- q.Abort() }()

	select {
	case dropped := <-done:
		assert.Equal(t, 0, dropped)
	case <-time.After(time.Second):
		t.Fatal("Abort blocked on an empty queue")
	}
}
