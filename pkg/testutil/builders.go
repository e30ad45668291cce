// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/sagaflow/pkg/models"
)

// Task creates a TASK node whose name and reference are both ref.
func Task(ref string, overrides ...func(*models.TaskNode)) models.TaskNode {
	node := models.TaskNode{
		Type:              models.TaskTypeTask,
		Name:              ref,
		TaskReferenceName: ref,
	}

	for _, override := range overrides {
		override(&node)
	}

	return node
}

// Decision creates a DECISION node switching on the resolved "case" input.
func Decision(ref string, caseExpr string, decisions map[string][]models.TaskNode, defaultDecision ...models.TaskNode) models.TaskNode {
	return models.TaskNode{
		Type:              models.TaskTypeDecision,
		TaskReferenceName: ref,
		InputParameters:   map[string]any{"case": caseExpr},
		Decisions:         decisions,
		DefaultDecision:   defaultDecision,
	}
}

// Parallel creates a PARALLEL node with one branch per argument.
func Parallel(ref string, branches ...[]models.TaskNode) models.TaskNode {
	return models.TaskNode{
		Type:              models.TaskTypeParallel,
		TaskReferenceName: ref,
		ParallelTasks:     branches,
	}
}

// WithInput sets the node input parameters.
func WithInput(input map[string]any) func(*models.TaskNode) {
	return func(n *models.TaskNode) {
		n.InputParameters = input
	}
}

// WithRetry overrides the node retry policy.
func WithRetry(limit int, delay int64) func(*models.TaskNode) {
	return func(n *models.TaskNode) {
		n.Retry = &models.RetryPolicy{Limit: limit, Delay: delay}
	}
}

// WithType sets the node type.
func WithType(taskType models.TaskType) func(*models.TaskNode) {
	return func(n *models.TaskNode) {
		n.Type = taskType
	}
}

// WithName sets the task definition name the node refers to.
func WithName(name string) func(*models.TaskNode) {
	return func(n *models.TaskNode) {
		n.Name = name
	}
}

// CreateTestWorkflowDefinition creates a definition failing with the FAILED strategy.
func CreateTestWorkflowDefinition(tasks ...models.TaskNode) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name:            "test_workflow",
		Rev:             "1",
		Description:     "A workflow for testing",
		Tasks:           tasks,
		FailureStrategy: models.FailureStrategyFailed,
	}
}

// TaskDefinitionsFor creates a zero-retry task definition for every TASK node of the tree.
func TaskDefinitionsFor(tasks []models.TaskNode) []*models.TaskDefinition {
	seen := make(map[string]struct{})

	var definitions []*models.TaskDefinition

	models.ForEachNode(tasks, func(node *models.TaskNode) bool {
		if node.Type != models.TaskTypeTask {
			return true
		}

		if _, ok := seen[node.Name]; ok {
			return true
		}

		seen[node.Name] = struct{}{}
		definitions = append(definitions, &models.TaskDefinition{Name: node.Name})

		return true
	})

	return definitions
}
