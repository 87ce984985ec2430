// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dag implements labelled directed graphs with cycle detection and topological
// ordering. Circuits use it to check acyclicity and to schedule nodes level by level: every node
// of a level depends only on nodes of earlier levels.
package dag

import (
	"sort"
)

type Graph struct {
	Nodes   []string
	byLabel map[string]int
	edges   map[string]map[string]bool
	rev     map[string]map[string]bool
}

func (g *Graph) AddNode(label string) bool {
	if _, ok := g.byLabel[label]; ok {
		return false
	}
	g.byLabel[label] = len(g.Nodes)
	g.Nodes = append(g.Nodes, label)
	g.edges[label] = map[string]bool{}
	g.rev[label] = map[string]bool{}
	return true
}

func (g *Graph) HasNode(label string) bool {
	_, ok := g.byLabel[label]
	return ok
}

// AddEdge adds an edge between two existing nodes.
func (g *Graph) AddEdge(from, to string) {
	g.edges[from][to] = true
	g.rev[to][from] = true
}

func (g *Graph) DelEdge(from, to string) {
	delete(g.edges[from], to)
	delete(g.rev[to], from)
}

func (g *Graph) HasEdge(from, to string) bool {
	return g.edges[from] != nil && g.edges[from][to]
}

func (g *Graph) Edges(from string) []string {
	edges := make([]string, 0, 16)
	for k := range g.edges[from] {
		edges = append(edges, k)
	}
	sort.Slice(edges, func(i, j int) bool { return g.byLabel[edges[i]] < g.byLabel[edges[j]] })
	return edges
}

// Preds returns the nodes with an edge into a node, in insertion order.
func (g *Graph) Preds(to string) []string {
	preds := make([]string, 0, len(g.rev[to]))
	for k := range g.rev[to] {
		preds = append(preds, k)
	}
	sort.Slice(preds, func(i, j int) bool { return g.byLabel[preds[i]] < g.byLabel[preds[j]] })
	return preds
}
