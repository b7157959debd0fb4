package stepsaga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/graph/topo"
)

func TestDescribePlan(t *testing.T) {
	log := &callLog{}
	steps := []Step[testOrder]{
		recordingStep(log, "InventoryService", false).WithStatus("INVENTORY_RESERVED"),
		recordingStep(log, "PaymentService", false),
		recordingStep(log, "ShippingService", false),
	}

	g, err := DescribePlan("order", steps)
	require.NoError(t, err)

	// start, end and one node per step
	assert.Equal(t, 5, g.Nodes().Len())
	// 4 execute edges and 2 compensate edges
	assert.Equal(t, 6, g.Edges().Len())

	out, err := g.ExportToDot()
	require.NoError(t, err)
	assert.Contains(t, out, "digraph order {")
	assert.Contains(t, out, "rankdir=LR")
	assert.Contains(t, out, "start -> InventoryService")
	assert.Contains(t, out, "ShippingService -> end")
	assert.Contains(t, out, "PaymentService -> InventoryService [")
	assert.Contains(t, out, "style=dashed")
	assert.Contains(t, out, "xlabel=INVENTORY_RESERVED")
	assert.Contains(t, out, "xlabel=PAYMENT_SERVICE_COMPLETED")
	assert.NotContains(t, out, "InventoryService -> start")

	// compensate edges point back, so the plan is not acyclic
	_, err = topo.Sort(g)
	assert.Error(t, err)
}

func TestDescribePlanRejectsDuplicates(t *testing.T) {
	log := &callLog{}
	steps := []Step[testOrder]{
		recordingStep(log, "reserve", false),
		recordingStep(log, "reserve", false),
	}

	_, err := DescribePlan("dup", steps)
	assert.ErrorIs(t, err, ErrDuplicateStep)

	_, err = DescribePlan("reserved", []Step[testOrder]{recordingStep(log, "start", false)})
	assert.Error(t, err)
}

func TestDescribeEmptyPlan(t *testing.T) {
	g, err := DescribePlan[testOrder]("empty", nil)
	require.NoError(t, err)

	out, err := g.ExportToDot()
	require.NoError(t, err)
	assert.Contains(t, out, "start -> end")

	_, err = topo.Sort(g)
	assert.NoError(t, err)
}
