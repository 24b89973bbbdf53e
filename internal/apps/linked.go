package apps

import (
	"context"

	"github.com/odac-run/odac/internal/deps"
	"github.com/odac-run/odac/internal/model"
)

// linkedGroup returns name plus every app that transitively depends on it
// through Env.Linked, so a cascade touches the whole affected set.
func (s *Supervisor) linkedGroup(name string) []model.App {
	all := s.store.Apps().List()
	g := deps.Build(all)

	names := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dependent := range g.Dependents(cur) {
			if !names[dependent] {
				names[dependent] = true
				queue = append(queue, dependent)
			}
		}
	}

	var group []model.App
	for _, a := range all {
		if names[a.Name] {
			group = append(group, a)
		}
	}
	return group
}

// StopLinkedGroup stops name and every app that links to it (directly or
// transitively), dependents first, so nothing is left running once
// something it depends on has gone down.
func (s *Supervisor) StopLinkedGroup(ctx context.Context, name string) error {
	group := s.linkedGroup(name)
	order, err := deps.Build(group).StopOrder()
	if err != nil {
		return err
	}
	for _, n := range order {
		if err := s.StopApp(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// RestartLinkedGroup restarts name and everything that links to it:
// dependents stop first, then the whole group restarts in dependency
// order so a dependent never comes back up before what it links to.
func (s *Supervisor) RestartLinkedGroup(ctx context.Context, name, reason string) error {
	group := s.linkedGroup(name)
	g := deps.Build(group)

	stopOrder, err := g.StopOrder()
	if err != nil {
		return err
	}
	for _, n := range stopOrder {
		if n == name {
			continue
		}
		if err := s.StopApp(ctx, n); err != nil {
			return err
		}
	}

	startOrder, err := g.StartOrder()
	if err != nil {
		return err
	}
	for _, n := range startOrder {
		if err := s.RestartApp(ctx, n, reason); err != nil {
			return err
		}
	}
	return nil
}
