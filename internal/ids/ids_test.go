package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableWithinMillisecond(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	prev := NewAt(at)
	for i := 0; i < 100; i++ {
		next := NewAt(at)
		require.Greater(t, next, prev)
		prev = next
	}
	assert.True(t, IsValid(prev))
	assert.False(t, IsValid("not-a-ulid"))
}

func TestNewIsSafeForConcurrentUse(t *testing.T) {
	const workers = 8
	seen := sync.Map{}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, dup := seen.LoadOrStore(New(), struct{}{})
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
}
