// Package dag is a directed graph whose nodes and edges carry Graphviz
// attributes, so a saga plan can be rendered with dot. Cycles are allowed:
// a plan links each step back to its predecessor for compensation.
package dag

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

type Graph struct {
	*simple.DirectedGraph
	name  string
	attrs encoding.Attributes
	nodes encoding.Attributes
	edges encoding.Attributes
}

// New returns an empty graph rendered under name.
func New(name string) *Graph {
	return &Graph{DirectedGraph: simple.NewDirectedGraph(), name: name}
}

// DOTID implements dot.Graph.
func (g *Graph) DOTID() string {
	return g.name
}

// AddNamedNode adds a node labelled with name.
func (g *Graph) AddNamedNode(name string) *Node {
	n := &Node{Node: g.DirectedGraph.NewNode(), name: name}
	g.AddNode(n)
	return n
}

// Connect adds an edge from -> to and returns it for decoration.
func (g *Graph) Connect(from, to graph.Node) *Edge {
	e := &Edge{Edge: g.DirectedGraph.NewEdge(from, to)}
	g.SetEdge(e)
	return e
}

// DOTAttributers implements dot.Attributers with graph-wide defaults.
func (g *Graph) DOTAttributers() (graph, node, edge encoding.Attributer) {
	return &g.attrs, &g.nodes, &g.edges
}

// SetAttribute sets a graph-level attribute such as rankdir.
func (g *Graph) SetAttribute(attr encoding.Attribute) error {
	return g.attrs.SetAttribute(attr)
}

// SetNodeDefault sets an attribute applied to every node.
func (g *Graph) SetNodeDefault(attr encoding.Attribute) error {
	return g.nodes.SetAttribute(attr)
}

// SetEdgeDefault sets an attribute applied to every edge.
func (g *Graph) SetEdgeDefault(attr encoding.Attribute) error {
	return g.edges.SetAttribute(attr)
}

type Node struct {
	graph.Node
	name  string
	attrs encoding.Attributes
}

// Name returns the node label.
func (n *Node) Name() string {
	return n.name
}

// DOTID implements dot.Node.
func (n *Node) DOTID() string {
	return n.name
}

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

type Edge struct {
	graph.Edge
	attrs encoding.Attributes
}

func (e *Edge) Attributes() []encoding.Attribute {
	return e.attrs.Attributes()
}

func (e *Edge) SetAttribute(attr encoding.Attribute) error {
	return e.attrs.SetAttribute(attr)
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot() (string, error) {
	data, err := dot.Marshal(g, g.name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export graph to DOT format: %w", err)
	}
	return string(data), nil
}
