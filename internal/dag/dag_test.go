// SPDX-License-Identifier: MPL-2.0

package dag

import (
	"errors"
	"slices"
	"testing"
)

func TestTopologicalSort_EmptyGraph(t *testing.T) {
	t.Parallel()
	order, err := New[string]().TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort() error = %v", err)
	}
	if order != nil {
		t.Errorf("TopologicalSort() = %v, want nil", order)
	}
}

func TestTopologicalSort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		build func(g *Graph[string])
		want  []string
	}{
		{
			name:  "single node",
			build: func(g *Graph[string]) { g.AddNode("A") },
			want:  []string{"A"},
		},
		{
			name: "dependency chain",
			build: func(g *Graph[string]) {
				g.DependsOn("Scene.1", "Look.1")
				g.DependsOn("Look.1", "Skin.1")
			},
			want: []string{"Skin.1", "Look.1", "Scene.1"},
		},
		{
			name: "diamond",
			build: func(g *Graph[string]) {
				g.AddEdge("A", "B")
				g.AddEdge("A", "C")
				g.AddEdge("B", "D")
				g.AddEdge("C", "D")
			},
			want: []string{"A", "B", "C", "D"},
		},
		{
			name: "disconnected keeps insertion order",
			build: func(g *Graph[string]) {
				g.AddNode("C")
				g.AddEdge("A", "B")
				g.AddNode("D")
			},
			want: []string{"C", "A", "D", "B"},
		},
		{
			name: "duplicate edges",
			build: func(g *Graph[string]) {
				g.AddEdge("A", "B")
				g.AddEdge("A", "B")
			},
			want: []string{"A", "B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := New[string]()
			tt.build(g)
			got, err := g.TopologicalSort()
			if err != nil {
				t.Fatalf("TopologicalSort() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("TopologicalSort() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopologicalSort_Cycle(t *testing.T) {
	t.Parallel()

	g := New[string]()
	g.AddNode("Root")
	g.AddEdge("Root", "A")
	g.AddEdge("A", "B")
	g.AddEdge("B", "C")
	g.AddEdge("C", "A")

	order, err := g.TopologicalSort()
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("TopologicalSort() error = %v, want *CycleError", err)
	}
	if !slices.Equal(cycleErr.Cycle, []string{"A", "B", "C"}) {
		t.Errorf("Cycle = %v, want [A B C]", cycleErr.Cycle)
	}
	if !slices.Equal(order, []string{"Root", "A", "B", "C"}) {
		t.Errorf("best-effort order = %v, want [Root A B C]", order)
	}
}

func TestTopologicalSort_SelfLoop(t *testing.T) {
	t.Parallel()

	g := New[int]()
	g.AddEdge(1, 1)
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
	_, err := g.TopologicalSort()
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("TopologicalSort() error = %v, want *CycleError", err)
	}
}

func TestCycleError_Message(t *testing.T) {
	t.Parallel()
	err := &CycleError{Cycle: []string{"A", "B", "C"}}
	if got, want := err.Error(), "dependency cycle detected: A -> B -> C"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
