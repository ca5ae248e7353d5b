package engine

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Orchestra/internal/domain"
)

// taskSpecFile — формат файла со спецификациями задач.
// Допускается как объект с ключом tasks, так и голый список.
type taskSpecFile struct {
	Tasks []domain.TaskSpec `yaml:"tasks"`
}

// ParseTaskSpecs разбирает YAML или JSON со спецификациями задач.
// JSON является подмножеством YAML, поэтому оба формата читаются одним парсером.
func ParseTaskSpecs(data []byte) ([]domain.TaskSpec, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' || data[0] == '-' {
		var specs []domain.TaskSpec
		if err := yaml.Unmarshal(data, &specs); err != nil {
			return nil, fmt.Errorf("parse task specs: %w", err)
		}
		return specs, nil
	}

	var file taskSpecFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse task specs: %w", err)
	}
	return file.Tasks, nil
}

// ValidateSpec проверяет одну спецификацию задачи без учёта графа.
//
// Пустые phase/priority/complexity допустимы и заменяются значениями
// по умолчанию в AddTask. Ссылки зависимостей проверяет граф.
func ValidateSpec(spec *domain.TaskSpec) error {
	ref := spec.ID
	if ref == "" {
		ref = spec.Name
	}

	if spec.Name == "" {
		return NewValidationError(ref, "name", "task has empty name", ErrEmptyName)
	}

	if spec.Phase != "" && !spec.Phase.Valid() {
		return NewValidationError(ref, "phase",
			fmt.Sprintf("unknown phase: %s", spec.Phase), ErrInvalidPhase)
	}

	if spec.Priority != "" && !spec.Priority.Valid() {
		return NewValidationError(ref, "priority",
			fmt.Sprintf("unknown priority: %s", spec.Priority), ErrInvalidPriority)
	}

	if spec.Complexity != "" && !spec.Complexity.Valid() {
		return NewValidationError(ref, "complexity",
			fmt.Sprintf("unknown complexity: %s", spec.Complexity), ErrInvalidComplexity)
	}

	if spec.EstimatedHours < 0 {
		return NewValidationError(ref, "estimated_hours",
			"estimated hours must be non-negative", ErrInvalidEstimate)
	}

	seen := make(map[string]bool, len(spec.Dependencies))
	for _, dep := range spec.Dependencies {
		if spec.ID != "" && dep == spec.ID {
			return NewValidationError(ref, "dependencies",
				"task depends on itself", ErrSelfDependency)
		}
		if seen[dep] {
			return NewValidationError(ref, "dependencies",
				fmt.Sprintf("duplicate dependency: %s", dep), ErrDuplicateDependency)
		}
		seen[dep] = true
	}

	return nil
}

// ValidateBatch проверяет набор спецификаций, добавляемых вместе.
// known — ID задач, уже находящихся в графе.
//
// Зависимости должны ссылаться либо на known, либо на задачу из того же
// набора, объявленную раньше.
func ValidateBatch(specs []domain.TaskSpec, known func(id string) bool) error {
	declared := make(map[string]bool, len(specs))

	for i := range specs {
		spec := &specs[i]
		if err := ValidateSpec(spec); err != nil {
			return err
		}

		for _, dep := range spec.Dependencies {
			if !declared[dep] && !known(dep) {
				return NewValidationError(spec.Name, "dependencies",
					fmt.Sprintf("depends on unknown task: %s", dep), ErrUnknownDependency)
			}
		}

		if spec.ID != "" {
			if declared[spec.ID] || known(spec.ID) {
				return NewValidationError(spec.ID, "id",
					fmt.Sprintf("duplicate task ID: %s", spec.ID), ErrDuplicateTask)
			}
			declared[spec.ID] = true
		}
	}

	return nil
}
