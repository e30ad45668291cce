// Package models defines the core domain models for saga orchestration.
package models

import (
	"sort"
	"strconv"
	"time"
)

// TaskType identifies the variant of a TaskNode and of the Task materialized from it.
type TaskType string

const (
	TaskTypeTask           TaskType = "TASK"
	TaskTypeCompensate     TaskType = "COMPENSATE"
	TaskTypeDecision       TaskType = "DECISION"
	TaskTypeParallel       TaskType = "PARALLEL"
	TaskTypeSubTransaction TaskType = "SUB_TRANSACTION"
	TaskTypeSchedule       TaskType = "SCHEDULE"
	TaskTypeSubWorkflow    TaskType = "SUB_WORKFLOW"
	TaskTypeDynamicTask    TaskType = "DYNAMIC_TASK"
)

// IsSystem reports whether tasks of this type are resolved by the engine instead of a worker.
func (t TaskType) IsSystem() bool {
	switch t {
	case TaskTypeDecision, TaskTypeParallel, TaskTypeDynamicTask:
		return true
	default:
		return false
	}
}

// IsWorker reports whether tasks of this type are dispatched to external workers.
func (t TaskType) IsWorker() bool {
	return t == TaskTypeTask || t == TaskTypeCompensate
}

// FailureStrategy is the workflow-level policy applied once a task exhausts its own retries.
type FailureStrategy string

const (
	FailureStrategyFailed              FailureStrategy = "FAILED"
	FailureStrategyRetry               FailureStrategy = "RETRY"
	FailureStrategyCompensate          FailureStrategy = "COMPENSATE"
	FailureStrategyCompensateThenRetry FailureStrategy = "COMPENSATE_THEN_RETRY"
	FailureStrategyRecoveryWorkflow    FailureStrategy = "RECOVERY_WORKFLOW"
)

// RetryPolicy bounds how many times something is retried and how long to wait in between.
type RetryPolicy struct {
	Limit int `json:"limit" validate:"min=0"`
	// Delay in milliseconds.
	Delay int64 `json:"delay" validate:"min=0"`
}

// WorkflowRef points at a stored workflow definition.
type WorkflowRef struct {
	Name string `json:"name" validate:"required"`
	Rev  string `json:"rev"  validate:"required"`
}

// Key returns the definition store key of the referenced workflow.
func (r WorkflowRef) Key() string {
	return WorkflowDefinitionKey(r.Name, r.Rev)
}

// TaskDefinition is the operator-managed template of a worker task.
type TaskDefinition struct {
	Name        string `json:"name"                  validate:"required"`
	Description string `json:"description,omitempty"`
	// AckTimeout in milliseconds, 0 disables it.
	AckTimeout int64 `json:"ack_timeout" validate:"min=0"`
	// Timeout in milliseconds, 0 disables it.
	Timeout   int64       `json:"timeout" validate:"min=0"`
	Retry     RetryPolicy `json:"retry"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// DefinitionKey implements persistence.Definition.
func (d TaskDefinition) DefinitionKey() string {
	return d.Name
}

// WorkflowDefinition is an immutable, versioned tree of task nodes.
type WorkflowDefinition struct {
	Name             string          `json:"name"                        validate:"required"`
	Rev              string          `json:"rev"                         validate:"required"`
	Description      string          `json:"description,omitempty"`
	Tasks            []TaskNode      `json:"tasks"                       validate:"required,min=1,dive"`
	FailureStrategy  FailureStrategy `json:"failure_strategy"            validate:"required,oneof=FAILED RETRY COMPENSATE COMPENSATE_THEN_RETRY RECOVERY_WORKFLOW"`
	Retry            *RetryPolicy    `json:"retry,omitempty"`
	RecoveryWorkflow *WorkflowRef    `json:"recovery_workflow,omitempty"`
	OutputParameters map[string]any  `json:"output_parameters,omitempty"`
	InputSchema      map[string]any  `json:"input_schema,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// DefinitionKey implements persistence.Definition.
func (d WorkflowDefinition) DefinitionKey() string {
	return WorkflowDefinitionKey(d.Name, d.Rev)
}

// RetryLimit returns the workflow-level retry budget.
func (d WorkflowDefinition) RetryLimit() int {
	if d.Retry == nil {
		return 0
	}

	return d.Retry.Limit
}

// WorkflowDefinitionKey builds the "name/rev" store key.
func WorkflowDefinitionKey(name, rev string) string {
	return name + "/" + rev
}

// TaskNode is one position of a workflow definition's task tree.
type TaskNode struct {
	Type              TaskType       `json:"type"                       validate:"required,oneof=TASK COMPENSATE DECISION PARALLEL SUB_TRANSACTION SCHEDULE SUB_WORKFLOW DYNAMIC_TASK"`
	Name              string         `json:"name,omitempty"`
	TaskReferenceName string         `json:"task_reference_name"        validate:"required"`
	InputParameters   map[string]any `json:"input_parameters,omitempty"`
	// AckTimeout overrides the task definition, in milliseconds.
	AckTimeout *int64 `json:"ack_timeout,omitempty"`
	// Timeout overrides the task definition, in milliseconds.
	Timeout         *int64                `json:"timeout,omitempty"`
	Retry           *RetryPolicy          `json:"retry,omitempty"`
	Decisions       map[string][]TaskNode `json:"decisions,omitempty"`
	DefaultDecision []TaskNode            `json:"default_decision,omitempty"`
	ParallelTasks   [][]TaskNode          `json:"parallel_tasks,omitempty"`
	Workflow        *WorkflowRef          `json:"workflow,omitempty"`
	Cron            string                `json:"cron,omitempty"`
}

// ForEachNode walks every node of the tree depth-first, stopping when fn returns false.
func ForEachNode(nodes []TaskNode, fn func(node *TaskNode) bool) bool {
	for i := range nodes {
		node := &nodes[i]
		if !fn(node) {
			return false
		}

		for _, key := range SortedDecisionKeys(node.Decisions) {
			if !ForEachNode(node.Decisions[key], fn) {
				return false
			}
		}

		if !ForEachNode(node.DefaultDecision, fn) {
			return false
		}

		for _, branch := range node.ParallelTasks {
			if !ForEachNode(branch, fn) {
				return false
			}
		}
	}

	return true
}

// DuplicateReferences returns every task reference name used more than once in the tree.
func DuplicateReferences(nodes []TaskNode, known map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(known))
	for ref := range known {
		seen[ref] = struct{}{}
	}

	var duplicates []string

	ForEachNode(nodes, func(node *TaskNode) bool {
		if _, ok := seen[node.TaskReferenceName]; ok {
			duplicates = append(duplicates, node.TaskReferenceName)
		}

		seen[node.TaskReferenceName] = struct{}{}

		return true
	})

	return duplicates
}

// FormatCaseKey turns a resolved decision input into the key used by Decisions.
func FormatCaseKey(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// SortedDecisionKeys returns the case keys of a decision in a stable order.
func SortedDecisionKeys(decisions map[string][]TaskNode) []string {
	keys := make([]string, 0, len(decisions))
	for key := range decisions {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
