package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushPop(t *testing.T) {
	q := New[int](0)
	q.Push(1, 2)
	q.Push(3)

	assert.Equal(t, 3, q.Len())
	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop()
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestLimitEvictsOldest(t *testing.T) {
	q := New[string](2)
	q.Push("a", "b", "c")
	q.Push("d")

	assert.Equal(t, []string{"c", "d"}, q.Drain())
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Zero(t, q.Len())
}

func TestDrainEmpty(t *testing.T) {
	q := New[int](4)
	assert.Empty(t, q.Drain())

	q.Push(7)
	assert.Equal(t, []int{7}, q.Drain())
	assert.Empty(t, q.Drain())
}

func TestConcurrentPush(t *testing.T) {
	q := New[int](0)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, q.Len())
	assert.Zero(t, q.Dropped())
}
