package stepsaga

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLinearOrchestratorConcurrentRunsReturnOwnOutcome(t *testing.T) {
	var mu sync.Mutex
	rejected := make(map[uuid.UUID]bool)
	hooks := make(map[uuid.UUID]int)

	o := NewLinearOrchestrator("stages", []Stage{
		{Name: "first", Reached: "FIRST_DONE"},
		{Name: "second", Reached: "SECOND_DONE", Check: func(_ context.Context, id uuid.UUID) bool {
			mu.Lock()
			defer mu.Unlock()
			return !rejected[id]
		}},
	}, func(_ context.Context, id uuid.UUID) {
		mu.Lock()
		defer mu.Unlock()
		hooks[id]++
	})

	ids := make([]uuid.UUID, 20)
	for i := range ids {
		ids[i] = uuid.New()
		rejected[ids[i]] = i%2 == 1
	}

	results := make([]Status, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.Execute(context.Background(), id)
		}()
	}
	wg.Wait()

	for i, id := range ids {
		if i%2 == 1 {
			assert.Equal(t, StatusFailed, results[i])
			assert.Equal(t, 1, hooks[id])
		} else {
			assert.Equal(t, StatusCompleted, results[i])
			assert.Zero(t, hooks[id])
		}
	}
	assert.True(t, o.State().IsTerminal())
}
