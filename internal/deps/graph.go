// Package deps orders a set of linked Apps (env.Linked references) into
// a dependency-respecting start/stop sequence, so the App Supervisor
// never leaves a dependent running once something it links to has gone
// down, or starts a dependent before its own links are up.
package deps

import (
	"fmt"
	"sort"

	"github.com/odac-run/odac/internal/model"
)

// Graph is a directed graph of App link dependencies.
type Graph struct {
	adj map[string][]string // app -> its dependencies (what it links to)
	all map[string]bool     // every app name in the graph
}

// Build constructs the dependency graph from a set of Apps, reading each
// App's Env.Linked references. A linked name outside the given set is
// ignored rather than treated as a dependency, since it isn't part of
// this batch of apps being ordered.
func Build(apps []model.App) *Graph {
	g := &Graph{
		adj: make(map[string][]string),
		all: make(map[string]bool),
	}
	for _, a := range apps {
		g.all[a.Name] = true
	}
	for _, a := range apps {
		var linked []string
		for _, dep := range a.Env.Linked {
			if g.all[dep] {
				linked = append(linked, dep)
			}
		}
		if len(linked) > 0 {
			g.adj[a.Name] = linked
		}
	}
	return g
}

// StartOrder returns app names in the order they should be started:
// dependencies before the apps that link to them. Returns an error if
// the link graph contains a cycle.
func (g *Graph) StartOrder() ([]string, error) {
	inDegree := make(map[string]int)
	reverse := make(map[string][]string) // dep -> apps linking to it

	for name := range g.all {
		inDegree[name] = 0
	}
	for name, linked := range g.adj {
		for _, dep := range linked {
			inDegree[name]++
			reverse[dep] = append(reverse[dep], name)
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var result []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		dependents := reverse[node]
		sort.Strings(dependents)
		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(result) != len(g.all) {
		return result, fmt.Errorf("deps: link cycle detected: ordered %d of %d apps", len(result), len(g.all))
	}
	return result, nil
}

// StopOrder returns app names in the order they should be stopped: the
// exact reverse of StartOrder, so a dependent always stops before
// anything it links to.
func (g *Graph) StopOrder() ([]string, error) {
	order, err := g.StartOrder()
	if err != nil {
		return order, err
	}
	reversed := make([]string, len(order))
	for i, name := range order {
		reversed[len(order)-1-i] = name
	}
	return reversed, nil
}

// DetectCycles uses three-colour DFS to find circular link chains, for
// reporting a concrete cycle to the operator rather than just "a cycle
// exists somewhere".
func (g *Graph) DetectCycles() [][]string {
	const (
		white = 0
		grey  = 1
		black = 2
	)

	color := make(map[string]int)
	parent := make(map[string]string)
	var cycles [][]string

	var dfs func(node string)
	dfs = func(node string) {
		color[node] = grey
		for _, dep := range g.adj[node] {
			if color[dep] == grey {
				cycle := []string{dep, node}
				cur := node
				for cur != dep {
					cur = parent[cur]
					if cur == "" || cur == dep {
						break
					}
					cycle = append(cycle, cur)
				}
				cycles = append(cycles, cycle)
			} else if color[dep] == white {
				parent[dep] = node
				dfs(dep)
			}
		}
		color[node] = black
	}

	for name := range g.all {
		if color[name] == white {
			dfs(name)
		}
	}
	return cycles
}

// Dependents returns the apps that link to name.
func (g *Graph) Dependents(name string) []string {
	var result []string
	for app, linked := range g.adj {
		for _, dep := range linked {
			if dep == name {
				result = append(result, app)
				break
			}
		}
	}
	sort.Strings(result)
	return result
}

// Dependencies returns what name itself links to.
func (g *Graph) Dependencies(name string) []string {
	linked := g.adj[name]
	if linked == nil {
		return nil
	}
	result := make([]string, len(linked))
	copy(result, linked)
	sort.Strings(result)
	return result
}
