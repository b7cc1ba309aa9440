package coordinator

import (
	"sort"
	"strings"

	apperrors "github.com/stackmesh/convoy/pkg/errors"
)

// validateGraph checks the worker dependency graph for unknown references and
// cycles, returning a topological launch order. Validation runs before any
// worker starts; a bad graph fails the whole session up front.
func validateGraph(specs []WorkerSpec) ([]string, error) {
	nodes := make(map[string][]string, len(specs))
	for _, spec := range specs {
		if _, dup := nodes[spec.Name]; dup {
			return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
				"duplicate worker name %q", spec.Name)
		}
		nodes[spec.Name] = spec.DependsOn
	}

	for name, deps := range nodes {
		for _, dep := range deps {
			if dep == name {
				return nil, apperrors.Newf(apperrors.ErrCodeGraphCycle,
					"worker %q depends on itself", name)
			}
			if _, ok := nodes[dep]; !ok {
				return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
					"worker %q depends on unknown worker %q", name, dep)
			}
		}
	}

	// Kahn's algorithm. Deterministic order keeps logs and tests stable.
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for name, deps := range nodes {
		indegree[name] += 0
		for _, dep := range deps {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := append([]string(nil), dependents[name]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(nodes) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, apperrors.Newf(apperrors.ErrCodeGraphCycle,
			"dependency cycle involving workers: %s", strings.Join(cyclic, ", ")).
			WithContext("workers", strings.Join(cyclic, ","))
	}
	return order, nil
}
