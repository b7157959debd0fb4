package stepsaga

import (
	"fmt"

	"gonum.org/v1/gonum/graph/encoding"

	"github.com/fortressi/stepsaga/dag"
	"github.com/fortressi/stepsaga/set"
)

const (
	planStart = "start"
	planEnd   = "end"
)

// DescribePlan returns the execution plan for steps as a graph. Execute edges
// run forward from start through every step to end; compensate edges run
// backwards from each step to the one before it and are drawn dashed.
func DescribePlan[T any](name string, steps []Step[T]) (*dag.Graph, error) {
	seen := set.New[StepName]()
	for _, step := range steps {
		if !seen.Insert(step.Name()) {
			return nil, fmt.Errorf("%w: '%s' appears twice in plan", ErrDuplicateStep, step.Name())
		}
		if n := step.Name(); n == planStart || n == planEnd {
			return nil, fmt.Errorf("step name '%s' is reserved", n)
		}
	}

	g := dag.New(name)
	if err := g.SetAttribute(encoding.Attribute{Key: "rankdir", Value: "LR"}); err != nil {
		return nil, err
	}
	if err := g.SetNodeDefault(encoding.Attribute{Key: "shape", Value: "box"}); err != nil {
		return nil, err
	}

	start := g.AddNamedNode(planStart)
	end := g.AddNamedNode(planEnd)
	for _, n := range []*dag.Node{start, end} {
		if err := n.SetAttribute(encoding.Attribute{Key: "shape", Value: "circle"}); err != nil {
			return nil, err
		}
	}

	prev := start
	for _, step := range steps {
		node := g.AddNamedNode(step.Name().String())
		if err := node.SetAttribute(encoding.Attribute{Key: "xlabel", Value: markerFor(step).String()}); err != nil {
			return nil, err
		}
		g.Connect(prev, node)
		if prev != start {
			undo := g.Connect(node, prev)
			if err := undo.SetAttribute(encoding.Attribute{Key: "style", Value: "dashed"}); err != nil {
				return nil, err
			}
			if err := undo.SetAttribute(encoding.Attribute{Key: "label", Value: "compensate"}); err != nil {
				return nil, err
			}
		}
		prev = node
	}
	g.Connect(prev, end)
	return g, nil
}
