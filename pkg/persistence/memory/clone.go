package memory

import (
	"maps"
	"slices"

	"github.com/dukex/sagaflow/pkg/models"
)

// Stored records never share maps or slices with the values handed to or
// returned from the stores.

func cloneTransaction(transaction *models.Transaction) *models.Transaction {
	copied := *transaction
	copied.Input = cloneMap(transaction.Input)
	copied.Output = cloneMap(transaction.Output)
	copied.WorkflowDefinition = cloneDefinition(transaction.WorkflowDefinition)
	copied.Tags = slices.Clone(transaction.Tags)

	if transaction.Parent != nil {
		parent := *transaction.Parent
		copied.Parent = &parent
	}

	return &copied
}

func cloneWorkflow(workflow *models.Workflow) *models.Workflow {
	copied := *workflow
	copied.Input = cloneMap(workflow.Input)
	copied.Output = cloneMap(workflow.Output)
	copied.WorkflowDefinition = cloneDefinition(workflow.WorkflowDefinition)

	return &copied
}

func cloneTask(task *models.Task) *models.Task {
	copied := *task
	copied.Input = cloneMap(task.Input)
	copied.Output = cloneMap(task.Output)
	copied.Logs = slices.Clone(task.Logs)
	copied.Decisions = cloneDecisions(task.Decisions)
	copied.DefaultDecision = cloneNodes(task.DefaultDecision)
	copied.ParallelTasks = cloneBranches(task.ParallelTasks)
	copied.DynamicTasks = cloneNodes(task.DynamicTasks)

	return &copied
}

func cloneDefinition(definition models.WorkflowDefinition) models.WorkflowDefinition {
	definition.Tasks = cloneNodes(definition.Tasks)
	definition.Retry = clonePtr(definition.Retry)
	definition.RecoveryWorkflow = clonePtr(definition.RecoveryWorkflow)
	definition.OutputParameters = cloneMap(definition.OutputParameters)
	definition.InputSchema = cloneMap(definition.InputSchema)

	return definition
}

func cloneNodes(nodes []models.TaskNode) []models.TaskNode {
	if nodes == nil {
		return nil
	}

	copied := make([]models.TaskNode, len(nodes))

	for i, node := range nodes {
		node.InputParameters = cloneMap(node.InputParameters)
		node.AckTimeout = clonePtr(node.AckTimeout)
		node.Timeout = clonePtr(node.Timeout)
		node.Retry = clonePtr(node.Retry)
		node.Workflow = clonePtr(node.Workflow)
		node.Decisions = cloneDecisions(node.Decisions)
		node.DefaultDecision = cloneNodes(node.DefaultDecision)
		node.ParallelTasks = cloneBranches(node.ParallelTasks)
		copied[i] = node
	}

	return copied
}

func cloneDecisions(decisions map[string][]models.TaskNode) map[string][]models.TaskNode {
	if decisions == nil {
		return nil
	}

	copied := make(map[string][]models.TaskNode, len(decisions))
	for key, nodes := range decisions {
		copied[key] = cloneNodes(nodes)
	}

	return copied
}

func cloneBranches(branches [][]models.TaskNode) [][]models.TaskNode {
	if branches == nil {
		return nil
	}

	copied := make([][]models.TaskNode, len(branches))
	for i, branch := range branches {
		copied[i] = cloneNodes(branch)
	}

	return copied
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	copied := maps.Clone(m)
	for key, value := range copied {
		copied[key] = cloneValue(value)
	}

	return copied
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		copied := make([]any, len(v))
		for i, item := range v {
			copied[i] = cloneValue(item)
		}

		return copied
	default:
		return value
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}

	copied := *p

	return &copied
}
