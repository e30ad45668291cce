package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateTaskReference = errors.New("duplicate task reference name")
	ErrInvalidTaskNode        = errors.New("invalid task node")
)

// ValidateTaskNodes checks the structural rules of a task tree that struct tags cannot express.
func ValidateTaskNodes(nodes []TaskNode) error {
	var errs []error

	if duplicates := DuplicateReferences(nodes, nil); len(duplicates) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateTaskReference, strings.Join(duplicates, ", ")))
	}

	ForEachNode(nodes, func(node *TaskNode) bool {
		if err := validateTaskNode(node); err != nil {
			errs = append(errs, err)
		}

		return true
	})

	return errors.Join(errs...)
}

func validateTaskNode(node *TaskNode) error {
	invalid := func(reason string) error {
		return fmt.Errorf("%w %q: %s", ErrInvalidTaskNode, node.TaskReferenceName, reason)
	}

	if node.TaskReferenceName == "" {
		return invalid("task_reference_name is required")
	}

	switch node.Type {
	case TaskTypeTask, TaskTypeCompensate:
		if node.Name == "" {
			return invalid("name is required")
		}
	case TaskTypeDecision:
		if len(node.Decisions) == 0 && len(node.DefaultDecision) == 0 {
			return invalid("decision needs at least one case or a default decision")
		}
	case TaskTypeParallel:
		if len(node.ParallelTasks) == 0 {
			return invalid("parallel needs at least one branch")
		}
	case TaskTypeSubTransaction, TaskTypeSubWorkflow:
		if node.Workflow == nil || node.Workflow.Name == "" || node.Workflow.Rev == "" {
			return invalid("workflow reference is required")
		}
	case TaskTypeSchedule, TaskTypeDynamicTask:
	default:
		return invalid("unknown type " + string(node.Type))
	}

	return nil
}
