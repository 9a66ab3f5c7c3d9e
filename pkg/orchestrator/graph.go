package orchestrator

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-pilot/pkg/errors"
	"github.com/core-tools/hsu-pilot/pkg/machine"
)

// Node is one machine in the dependency graph
type Node struct {
	Spec machine.Spec

	// Index is the position in configuration order and the scheduling tie-break key
	Index int

	Dependencies []*Node
	Dependents   []*Node
}

// Graph is an acyclic dependency graph over machines, read-only once built
type Graph struct {
	nodes []*Node
	byID  map[machine.ID]*Node
}

type visitMark int

const (
	unvisited visitMark = iota
	inProgress
	done
)

// BuildGraph validates the machine list and links dependencies.
// Duplicate ids, unknown references and cycles are validation errors.
func BuildGraph(specs []machine.Spec) (*Graph, error) {
	g := &Graph{
		nodes: make([]*Node, 0, len(specs)),
		byID:  make(map[machine.ID]*Node, len(specs)),
	}

	for i, spec := range specs {
		if _, exists := g.byID[spec.ID]; exists {
			return nil, errors.NewValidationError(fmt.Sprintf("duplicate machine id %d", spec.ID), nil).
				WithContext("vm_id", spec.ID)
		}
		node := &Node{Spec: spec, Index: i}
		g.nodes = append(g.nodes, node)
		g.byID[spec.ID] = node
	}

	for _, node := range g.nodes {
		seen := make(map[machine.ID]bool, len(node.Spec.Dependencies))
		for _, depID := range node.Spec.Dependencies {
			if seen[depID] {
				continue
			}
			seen[depID] = true

			dep, exists := g.byID[depID]
			if !exists {
				return nil, errors.NewValidationError(
					fmt.Sprintf("machine %d depends on unknown machine %d", node.Spec.ID, depID), nil).
					WithContext("vm_id", node.Spec.ID).
					WithContext("dependency", depID)
			}
			node.Dependencies = append(node.Dependencies, dep)
			dep.Dependents = append(dep.Dependents, node)
		}
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) checkCycles() error {
	marks := make(map[machine.ID]visitMark, len(g.nodes))
	var path []machine.ID

	var visit func(node *Node) error
	visit = func(node *Node) error {
		marks[node.Spec.ID] = inProgress
		path = append(path, node.Spec.ID)

		for _, dep := range node.Dependencies {
			switch marks[dep.Spec.ID] {
			case inProgress:
				return errors.NewValidationError("dependency cycle: "+formatCycle(path, dep.Spec.ID), nil).
					WithContext("vm_id", dep.Spec.ID)
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		marks[node.Spec.ID] = done
		return nil
	}

	for _, node := range g.nodes {
		if marks[node.Spec.ID] == unvisited {
			if err := visit(node); err != nil {
				return err
			}
		}
	}
	return nil
}

// formatCycle renders the part of path that closes on id, e.g. "1 -> 2 -> 1"
func formatCycle(path []machine.ID, id machine.ID) string {
	start := 0
	for i, p := range path {
		if p == id {
			start = i
			break
		}
	}
	parts := make([]string, 0, len(path)-start+1)
	for _, p := range path[start:] {
		parts = append(parts, p.String())
	}
	parts = append(parts, id.String())
	return strings.Join(parts, " -> ")
}

// Nodes returns the nodes in configuration order
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

func (g *Graph) Node(id machine.ID) (*Node, bool) {
	node, ok := g.byID[id]
	return node, ok
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

// DependenciesSatisfied reports whether every direct dependency of id has a
// terminal outcome that lets dependents start. lookup returns false for
// machines without a terminal outcome yet.
func (g *Graph) DependenciesSatisfied(id machine.ID, lookup func(machine.ID) (machine.Outcome, bool)) bool {
	node, ok := g.byID[id]
	if !ok {
		return false
	}
	for _, dep := range node.Dependencies {
		outcome, resolved := lookup(dep.Spec.ID)
		if !resolved || !outcome.Satisfied() {
			return false
		}
	}
	return true
}

// TopologicalOrder returns the nodes with every dependency before its
// dependents, otherwise keeping configuration order.
func (g *Graph) TopologicalOrder() []*Node {
	order := make([]*Node, 0, len(g.nodes))
	visited := make(map[machine.ID]bool, len(g.nodes))

	var visit func(node *Node)
	visit = func(node *Node) {
		if visited[node.Spec.ID] {
			return
		}
		visited[node.Spec.ID] = true
		for _, dep := range node.Dependencies {
			visit(dep)
		}
		order = append(order, node)
	}

	for _, node := range g.nodes {
		visit(node)
	}
	return order
}
