package services_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/fleetgate/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_DistinctKeysDoNotContend(t *testing.T) {
	locks := services.NewKeyedMutex()
	release := locks.Lock("203.0.113.10")
	defer release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// enough keys that some would share a hash bucket with the held one
		for i := 0; i < 2000; i++ {
			locks.Lock(fmt.Sprintf("198.51.100.%d", i))()
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("locking unrelated keys waited on a held key")
	}
	assert.Equal(t, 1, locks.Len())
}

func TestKeyedMutex_SameKeySerializes(t *testing.T) {
	locks := services.NewKeyedMutex()
	release := locks.Lock("203.0.113.10")

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		unlock := locks.Lock("203.0.113.10")
		acquired.Store(true)
		unlock()
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, acquired.Load())

	release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released")
	}
	assert.True(t, acquired.Load())
	assert.Zero(t, locks.Len())
}

func TestKeyedMutex_ConcurrentIncrements(t *testing.T) {
	locks := services.NewKeyedMutex()
	counts := make(map[string]*int)
	for i := 0; i < 4; i++ {
		counts[fmt.Sprintf("10.0.2.%d", i)] = new(int)
	}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("10.0.2.%d", i%4)
			unlock := locks.Lock(key)
			defer unlock()
			*counts[key]++
		}(i)
	}
	wg.Wait()

	require.Len(t, counts, 4)
	for key, n := range counts {
		assert.Equal(t, 50, *n, key)
	}
	assert.Zero(t, locks.Len())
}
