package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_ObtainSameKey(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	got := make([]*sync.Mutex, 100)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.Obtain(Currency(7))
		}(i)
	}
	wg.Wait()

	for _, mu := range got {
		assert.Same(t, got[0], mu)
	}
	assert.NotSame(t, m.Obtain(Currency(7)), m.Obtain(Fee(7)), "kinds must not share locks")
}

func TestOrder(t *testing.T) {
	keys := Order(Fee(2), Currency(9), Currency(3), Currency(9), Fee(1))
	assert.Equal(t, []Key{Currency(3), Currency(9), Fee(1), Fee(2)}, keys)
}

func TestManager_AcquireDuplicateKeys(t *testing.T) {
	m := NewManager()

	done := make(chan struct{})
	go func() {
		release := m.Acquire(Currency(1), Currency(1))
		release()
		release() // second call is a no-op
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquiring a repeated key deadlocked")
	}
}

func TestManager_AcquireExcludes(t *testing.T) {
	m := NewManager()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := m.Acquire(Currency(1), Currency(2))
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, counter)
}

func TestManager_AcquireOppositeOrderNoDeadlock(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release := m.Acquire(Currency(1), Currency(2))
			release()
		}()
		go func() {
			defer wg.Done()
			release := m.Acquire(Currency(2), Currency(1))
			release()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("opposite acquisition order deadlocked")
	}
}

func TestManager_UnrelatedKeysDoNotBlock(t *testing.T) {
	m := NewManager()
	release := m.Acquire(Currency(1))
	defer release()

	done := make(chan struct{})
	go func() {
		r := m.Acquire(Currency(2), Fee(1))
		r()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated currency blocked")
	}
}

func TestManager_HeldKeyIsNotReacquirable(t *testing.T) {
	m := NewManager()
	release := m.Acquire(Currency(1), Fee(1))

	assert.False(t, m.Obtain(Currency(1)).TryLock(), "a held key stays locked for every caller")
	assert.False(t, m.Obtain(Fee(1)).TryLock())

	release()
	release()

	mu := m.Obtain(Currency(1))
	assert.True(t, mu.TryLock(), "a double release unlocks once")
	mu.Unlock()
}
