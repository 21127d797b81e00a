// SPDX-License-Identifier: MPL-2.0

// Package dag orders a package dependency closure so that every package
// comes after the packages it depends on. Dependency graphs built from
// manifests may contain cycles; sorting then still yields a usable order
// alongside a *CycleError naming the nodes involved.
package dag

import (
	"cmp"
	"fmt"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle, preventing a strict
	// topological ordering.
	CycleError struct {
		// Cycle lists the nodes left with unresolved predecessors, in insertion order.
		Cycle []string
	}

	// Graph is a directed graph keyed by K. An edge from A to B means A must be
	// handled before B.
	Graph[K cmp.Ordered] struct {
		adjacency map[K][]K
		edges     map[[2]K]bool
		// nodes keeps insertion order for deterministic output.
		nodes   []K
		nodeSet map[K]bool
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New[K cmp.Ordered]() *Graph[K] {
	return &Graph[K]{
		adjacency: make(map[K][]K),
		edges:     make(map[[2]K]bool),
		nodeSet:   make(map[K]bool),
	}
}

// Len returns the number of nodes.
func (g *Graph[K]) Len() int { return len(g.nodes) }

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph[K]) AddNode(n K) {
	if g.nodeSet[n] {
		return
	}
	g.nodeSet[n] = true
	g.nodes = append(g.nodes, n)
}

// AddEdge records that from must be handled before to. Both nodes are added
// if missing; repeated edges are ignored.
func (g *Graph[K]) AddEdge(from, to K) {
	g.AddNode(from)
	g.AddNode(to)
	key := [2]K{from, to}
	if g.edges[key] {
		return
	}
	g.edges[key] = true
	g.adjacency[from] = append(g.adjacency[from], to)
}

// DependsOn records that node requires dep, so dep is ordered first.
func (g *Graph[K]) DependsOn(node, dep K) {
	g.AddEdge(dep, node)
}

// TopologicalSort returns an order using Kahn's algorithm. Nodes at the same
// level keep insertion order. When the graph has a cycle, the returned order
// holds every acyclic node first and then the remaining nodes in insertion
// order, together with a *CycleError.
func (g *Graph[K]) TopologicalSort() ([]K, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[K]int, len(g.nodes))
	for _, neighbors := range g.adjacency {
		for _, n := range neighbors {
			inDegree[n]++
		}
	}

	queue := make([]K, 0, len(g.nodes))
	for _, n := range g.nodes {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	result := make([]K, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		result = append(result, n)
		for _, next := range g.adjacency[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(result) == len(g.nodes) {
		return result, nil
	}

	var cycle []string
	for _, n := range g.nodes {
		if inDegree[n] > 0 {
			result = append(result, n)
			cycle = append(cycle, fmt.Sprint(n))
		}
	}
	return result, &CycleError{Cycle: cycle}
}
