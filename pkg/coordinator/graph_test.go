package coordinator

import (
	"testing"

	apperrors "github.com/stackmesh/convoy/pkg/errors"
)

func TestValidateGraphOrdersDependenciesFirst(t *testing.T) {
	specs := []WorkerSpec{
		{Name: "deploy", DependsOn: []string{"review", "scan"}},
		{Name: "scan", DependsOn: []string{"build"}},
		{Name: "review", DependsOn: []string{"build"}},
		{Name: "build"},
	}

	order, err := validateGraph(specs)
	if err != nil {
		t.Fatalf("validateGraph() error = %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("order has %d entries, want 4", len(order))
	}

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	for _, spec := range specs {
		for _, dep := range spec.DependsOn {
			if pos[dep] >= pos[spec.Name] {
				t.Errorf("%s at %d precedes its dependency %s at %d", spec.Name, pos[spec.Name], dep, pos[dep])
			}
		}
	}
}

func TestValidateGraphDetectsCycle(t *testing.T) {
	_, err := validateGraph([]WorkerSpec{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	})
	if !apperrors.IsCode(err, apperrors.ErrCodeGraphCycle) {
		t.Errorf("error code = %v, want %v", apperrors.GetCode(err), apperrors.ErrCodeGraphCycle)
	}
}

func TestValidateGraphDetectsSelfDependency(t *testing.T) {
	_, err := validateGraph([]WorkerSpec{{Name: "a", DependsOn: []string{"a"}}})
	if !apperrors.IsCode(err, apperrors.ErrCodeGraphCycle) {
		t.Errorf("error code = %v, want %v", apperrors.GetCode(err), apperrors.ErrCodeGraphCycle)
	}
}

func TestValidateGraphRejectsDuplicates(t *testing.T) {
	_, err := validateGraph([]WorkerSpec{{Name: "a"}, {Name: "a"}})
	if !apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid) {
		t.Errorf("error code = %v, want %v", apperrors.GetCode(err), apperrors.ErrCodeConfigInvalid)
	}
}

func TestValidateGraphDeterministicOrder(t *testing.T) {
	specs := []WorkerSpec{{Name: "c"}, {Name: "a"}, {Name: "b"}}
	first, err := validateGraph(specs)
	if err != nil {
		t.Fatalf("validateGraph() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := validateGraph(specs)
		if err != nil {
			t.Fatalf("validateGraph() error = %v", err)
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("order differs between runs: %v vs %v", first, again)
			}
		}
	}
}
