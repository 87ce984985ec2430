// Copyright 2024 rg0now. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dag

import (
	"fmt"
	"sort"
	"strings"
)

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		byLabel: map[string]int{},
		edges:   map[string]map[string]bool{},
		rev:     map[string]map[string]bool{},
	}
}

// Roots returns a roots of the DAG, i.e., the nodes without an incoming edge.
func (g *Graph) Roots() []string {
	roots := make([]string, 0, len(g.Nodes))
	for _, j := range g.Nodes {
		if len(g.rev[j]) == 0 {
			roots = append(roots, j)
		}
	}
	return roots
}

// CycleError is returned when the graph is not acyclic.
type CycleError struct {
	// Nodes lists the nodes that could not be ordered.
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle through nodes %s", strings.Join(e.Nodes, ", "))
}

// Levels returns the nodes grouped into topological levels: level 0 holds the roots, and every
// other node sits one level after its deepest predecessor. Nodes within a level keep insertion
// order. Returns a CycleError if the graph has a cycle.
func (g *Graph) Levels() ([][]string, error) {
	indeg := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indeg[n] = len(g.rev[n])
	}

	levels := [][]string{}
	current := g.Roots()
	done := 0
	for len(current) > 0 {
		levels = append(levels, current)
		done += len(current)

		next := []string{}
		for _, n := range current {
			for _, m := range g.Edges(n) {
				indeg[m]--
				if indeg[m] == 0 {
					next = append(next, m)
				}
			}
		}
		g.sortByLabel(next)
		current = next
	}

	if done != len(g.Nodes) {
		rest := []string{}
		for _, n := range g.Nodes {
			if indeg[n] > 0 {
				rest = append(rest, n)
			}
		}
		return nil, &CycleError{Nodes: rest}
	}
	return levels, nil
}

// TopologicalSort returns the nodes in a topological order.
func (g *Graph) TopologicalSort() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(g.Nodes))
	for _, l := range levels {
		order = append(order, l...)
	}
	return order, nil
}

func (g *Graph) sortByLabel(nodes []string) {
	sort.Slice(nodes, func(i, j int) bool { return g.byLabel[nodes[i]] < g.byLabel[nodes[j]] })
}
