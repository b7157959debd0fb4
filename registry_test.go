package stepsaga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepRegistry(t *testing.T) {
	log := &callLog{}
	registry := NewStepRegistry[testOrder]()

	require.NoError(t, registry.Register(recordingStep(log, "reserve", false)))
	require.NoError(t, registry.Register(recordingStep(log, "charge", false)))

	err := registry.Register(recordingStep(log, "reserve", false))
	assert.ErrorIs(t, err, ErrDuplicateStep)
	assert.Error(t, registry.Register(nil))

	step, err := registry.Get("charge")
	require.NoError(t, err)
	assert.Equal(t, StepName("charge"), step.Name())

	_, err = registry.Get("refund")
	assert.ErrorIs(t, err, ErrStepNotFound)

	assert.Equal(t, []StepName{"charge", "reserve"}, registry.Names())
}

func TestStepRegistryResolve(t *testing.T) {
	log := &callLog{}
	registry := NewStepRegistry[testOrder]()
	for _, name := range []StepName{"reserve", "charge", "fulfill"} {
		require.NoError(t, registry.Register(recordingStep(log, name, false)))
	}

	steps, err := registry.Resolve("reserve", "charge", "fulfill")
	require.NoError(t, err)
	require.Len(t, steps, 3)

	item := newItem()
	NewCoordinator[testOrder]().Run(context.Background(), steps, item)
	assert.Equal(t, StatusCompleted, item.Status())
	assert.Equal(t, []string{"execute:reserve", "execute:charge", "execute:fulfill"}, log.all())

	_, err = registry.Resolve("reserve", "reserve")
	assert.ErrorIs(t, err, ErrDuplicateStep)

	_, err = registry.Resolve("reserve", "refund")
	assert.ErrorIs(t, err, ErrStepNotFound)
}
