package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Orchestra/internal/domain"
)

func TestValidateSpec_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec domain.TaskSpec
		want error
	}{
		{
			name: "empty name",
			spec: domain.TaskSpec{ID: "a"},
			want: ErrEmptyName,
		},
		{
			name: "unknown phase",
			spec: domain.TaskSpec{Name: "a", Phase: "party"},
			want: ErrInvalidPhase,
		},
		{
			name: "unknown priority",
			spec: domain.TaskSpec{Name: "a", Priority: "urgent"},
			want: ErrInvalidPriority,
		},
		{
			name: "unknown complexity",
			spec: domain.TaskSpec{Name: "a", Complexity: "insane"},
			want: ErrInvalidComplexity,
		},
		{
			name: "negative estimate",
			spec: domain.TaskSpec{Name: "a", EstimatedHours: -1},
			want: ErrInvalidEstimate,
		},
		{
			name: "self dependency",
			spec: domain.TaskSpec{ID: "a", Name: "a", Dependencies: []string{"a"}},
			want: ErrSelfDependency,
		},
		{
			name: "duplicate dependency",
			spec: domain.TaskSpec{Name: "a", Dependencies: []string{"b", "b"}},
			want: ErrDuplicateDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpec(&tt.spec)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestValidateSpec_Valid(t *testing.T) {
	spec := domain.TaskSpec{
		ID:             "api",
		Name:           "Build API",
		Phase:          domain.PhaseImplementation,
		Priority:       domain.PriorityHigh,
		Complexity:     domain.ComplexityComplex,
		EstimatedHours: 16,
		Dependencies:   []string{"schema"},
	}

	if err := ValidateSpec(&spec); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateBatch_ForwardReference(t *testing.T) {
	known := func(string) bool { return false }

	err := ValidateBatch([]domain.TaskSpec{
		{ID: "b", Name: "b", Dependencies: []string{"a"}},
		{ID: "a", Name: "a"},
	}, known)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency for forward reference, got %v", err)
	}
}

func TestValidateBatch_KnownAndDuplicate(t *testing.T) {
	known := func(id string) bool { return id == "existing" }

	err := ValidateBatch([]domain.TaskSpec{
		{ID: "a", Name: "a", Dependencies: []string{"existing"}},
	}, known)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err = ValidateBatch([]domain.TaskSpec{{ID: "existing", Name: "again"}}, known)
	if !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestParseTaskSpecs_YAML(t *testing.T) {
	data := []byte(`
tasks:
  - id: schema
    name: Design schema
    phase: design
    priority: critical
    estimated_hours: 6
    required_capabilities: [sql]
    critical_path: true
  - id: api
    name: Build API
    dependencies: [schema]
    parallelizable: true
`)

	specs, err := ParseTaskSpecs(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Priority != domain.PriorityCritical || !specs[0].CriticalPath {
		t.Errorf("unexpected first spec: %+v", specs[0])
	}
	if specs[0].EstimatedHours != 6 {
		t.Errorf("expected 6 hours, got %v", specs[0].EstimatedHours)
	}
	if len(specs[1].Dependencies) != 1 || specs[1].Dependencies[0] != "schema" {
		t.Errorf("unexpected dependencies: %v", specs[1].Dependencies)
	}
}

func TestParseTaskSpecs_JSONList(t *testing.T) {
	data := []byte(`[{"id": "a", "name": "A", "estimated_hours": 2}]`)

	specs, err := ParseTaskSpecs(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 1 || specs[0].ID != "a" || specs[0].EstimatedHours != 2 {
		t.Errorf("unexpected specs: %+v", specs)
	}
}

func TestParseTaskSpecs_Empty(t *testing.T) {
	specs, err := ParseTaskSpecs([]byte("  \n"))
	if err != nil || specs != nil {
		t.Errorf("expected nil, nil; got %v, %v", specs, err)
	}
}
