package visualize

import "github.com/l7mp/ivm/pkg/circuit"

// DotGenerator generates Graphviz DOT diagrams.
type DotGenerator struct{}

// Generate creates a Graphviz DOT diagram from the circuit.
func (d *DotGenerator) Generate(c *circuit.Circuit) string {
	return BuildDotGraph(c).String()
}
