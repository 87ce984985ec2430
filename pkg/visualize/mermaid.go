package visualize

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/l7mp/ivm/pkg/circuit"
)

// MermaidGenerator generates Mermaid flowchart diagrams.
type MermaidGenerator struct{}

// Generate creates a Mermaid flowchart from the circuit using the dot library.
func (m *MermaidGenerator) Generate(c *circuit.Circuit) string {
	mermaid := dot.MermaidFlowchart(BuildDotGraph(c), dot.MermaidLeftToRight)

	// Wrap in markdown code block.
	return fmt.Sprintf("```mermaid\n%s\n```\n", mermaid)
}

// Generator renders a circuit as text.
type Generator interface {
	Generate(c *circuit.Circuit) string
}

// NewGenerator returns the generator of a format: "dot" or "mermaid".
func NewGenerator(format string) (Generator, error) {
	switch format {
	case "dot":
		return &DotGenerator{}, nil
	case "mermaid":
		return &MermaidGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown diagram format %q", format)
	}
}
