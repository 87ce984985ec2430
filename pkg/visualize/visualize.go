// Package visualize renders circuits as diagrams.
package visualize

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/l7mp/ivm/pkg/circuit"
	"github.com/l7mp/ivm/pkg/dbsp"
)

// Fill colors by operator class.
var classColors = map[dbsp.OperatorType]string{
	dbsp.OpTypeLinear:    "lightblue",
	dbsp.OpTypeBilinear:  "khaki",
	dbsp.OpTypeNonLinear: "lightsalmon",
}

// BuildDotGraph creates a dot.Graph from a circuit. Recursive scopes are drawn as clusters
// holding their body; the feedback edge from a bound stream to its variable is dashed. This
// unified graph can then be rendered in different formats (DOT, Mermaid, etc.).
func BuildDotGraph(c *circuit.Circuit) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")    // Left to right layout.
	graph.Attr("compound", "true") // Allow edges between clusters.
	graph.Attr("newrank", "true")
	mode := "snapshot"
	if c.Incremental() {
		mode = "incremental"
	}
	graph.Attr("label", fmt.Sprintf("%s (%s)", c.Name(), mode))
	graph.Attr("labelloc", "t")
	graph.Attr("fontsize", "16")

	nodes := map[*circuit.Node]dot.Node{}

	// Scope bodies first so that edges can reference body nodes.
	for _, s := range c.Scopes() {
		sub := graph.Subgraph(s.Name(), dot.ClusterOption{})
		sub.Attr("style", "rounded,dashed")
		sub.Attr("label", "fixpoint: "+s.Name())
		for _, n := range s.Nodes() {
			nodes[n] = addNode(sub, n)
		}
		for _, n := range s.Nodes() {
			for _, in := range n.Inputs {
				graph.Edge(nodes[in], nodes[n])
			}
		}
		for _, v := range s.Variables() {
			if b := s.Binding(v); b != nil {
				graph.Edge(nodes[b], nodes[v]).
					Attr("label", "z⁻¹").
					Attr("style", "dashed").
					Attr("fontsize", "10")
			}
		}
	}

	for _, n := range c.Nodes() {
		if n.Kind == circuit.ScopeNode {
			continue
		}
		nodes[n] = addNode(graph, n)
	}

	for _, n := range c.Nodes() {
		switch n.Kind {
		case circuit.ScopeNode:
			// outer streams feed the import nodes of the body
			imports := importNodes(n.Scope)
			for i, in := range n.Inputs {
				if i < len(imports) {
					graph.Edge(nodes[in], nodes[imports[i]]).Attr("style", "bold")
				}
			}
		case circuit.ExportNode:
			exports := n.Scope.Exports()
			graph.Edge(nodes[exports[n.Port]], nodes[n]).Attr("style", "bold")
		default:
			for _, in := range n.Inputs {
				graph.Edge(nodes[in], nodes[n])
			}
		}
	}

	for _, name := range c.OutputNames() {
		n, _ := c.OutputNode(name)
		out := graph.Node("output:"+name).
			Attr("label", name).
			Attr("shape", "ellipse").
			Attr("style", "filled").
			Attr("fillcolor", "lightgrey")
		graph.Edge(nodes[n], out)
	}

	return graph
}

func importNodes(s *circuit.Scope) []*circuit.Node {
	var ret []*circuit.Node
	for _, n := range s.Nodes() {
		if n.Kind == circuit.ImportNode {
			ret = append(ret, n)
		}
	}
	return ret
}

func addNode(g *dot.Graph, n *circuit.Node) dot.Node {
	node := g.Node(n.ID).Attr("fontname", "helvetica")
	switch n.Kind {
	case circuit.InputNode:
		return node.Attr("label", n.ID).
			Attr("shape", "ellipse").
			Attr("style", "filled").
			Attr("fillcolor", "lightgreen")
	case circuit.ImportNode, circuit.ExportNode:
		return node.Attr("label", n.ID).Attr("shape", "point")
	case circuit.VariableNode:
		return node.Attr("label", n.ID).
			Attr("shape", "diamond").
			Attr("style", "filled").
			Attr("fillcolor", "white")
	}

	return node.Attr("label", fmt.Sprintf("%s\n%s", n.Name(), n.Op.OpType())).
		Attr("shape", "box").
		Attr("style", "filled,rounded").
		Attr("fillcolor", classColors[n.Op.OpType()])
}
