package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/sagaflow/pkg/events"
	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/dukex/sagaflow/pkg/state"
	"github.com/dukex/sagaflow/pkg/template"
	"github.com/dukex/sagaflow/pkg/tree"
)

var (
	errNoDecisionMatch    = errors.New("no decision case matches")
	errMissingDynamicList = errors.New("dynamic task needs an input.tasks list")
)

// workflowRun describes a workflow attempt to start.
type workflowRun struct {
	TransactionID string
	Type          models.WorkflowType
	Definition    models.WorkflowDefinition
	Input         map[string]any
	Retries       int
	ParentTaskID  string
}

// startWorkflow creates a workflow attempt and materializes its first task.
func (e *Engine) startWorkflow(ctx context.Context, run workflowRun) (*models.Workflow, error) {
	workflow := &models.Workflow{
		TransactionID:      run.TransactionID,
		Type:               run.Type,
		Status:             models.WorkflowStatusRunning,
		Retries:            run.Retries,
		Input:              run.Input,
		WorkflowDefinition: run.Definition,
		ParentTaskID:       run.ParentTaskID,
	}

	if err := e.createWorkflow(ctx, workflow); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Workflow started",
		"transaction_id", workflow.TransactionID,
		"workflow_id", workflow.WorkflowID,
		"workflow_type", workflow.Type,
		"definition", workflow.WorkflowDefinition.DefinitionKey())

	tasks := workflow.WorkflowDefinition.Tasks

	if duplicates := models.DuplicateReferences(tasks, nil); len(duplicates) > 0 {
		err := fmt.Errorf("%w: %s", models.ErrDuplicateTaskReference, strings.Join(duplicates, ", "))

		return workflow, e.abortWorkflow(ctx, workflow, err)
	}

	if len(tasks) == 0 {
		return workflow, e.completeWorkflow(ctx, workflow, models.TaskData{})
	}

	return workflow, e.createTask(ctx, workflow, tree.Root(0), models.TaskData{})
}

// abortWorkflow fails a workflow that cannot run at all.
func (e *Engine) abortWorkflow(ctx context.Context, workflow *models.Workflow, cause error) error {
	e.logger.WarnContext(ctx, "Workflow rejected",
		"transaction_id", workflow.TransactionID, "workflow_id", workflow.WorkflowID, "error", cause)

	output := errorOutput(cause)

	updated, err := e.updateWorkflow(ctx, models.WorkflowUpdate{
		WorkflowID:    workflow.WorkflowID,
		TransactionID: workflow.TransactionID,
		Status:        models.WorkflowStatusFailed,
		Output:        output,
	})
	if err != nil || updated == nil {
		return err
	}

	if updated.Type == models.WorkflowTypeSubWorkflow {
		return e.settleParentTask(ctx, updated, models.TaskStatusFailed, output)
	}

	return e.finishTransaction(ctx, updated.TransactionID, models.TransactionStatusFailed, output)
}

// createTask materializes the node at path, then starts it. Definition errors
// still create the task and fail it through a system update.
func (e *Engine) createTask(ctx context.Context, workflow *models.Workflow, path tree.Path, taskData models.TaskData) error {
	node := tree.NodeAt(workflow.WorkflowDefinition.Tasks, path, taskData)
	if node == nil {
		return fmt.Errorf("%w: no task at %s", tree.ErrMalformedTree, path)
	}

	task := &models.Task{
		TaskName:          node.Name,
		TaskReferenceName: node.TaskReferenceName,
		WorkflowID:        workflow.WorkflowID,
		TransactionID:     workflow.TransactionID,
		Type:              node.Type,
		Status:            state.InitialTaskStatus(node.Type),
		Decisions:         node.Decisions,
		DefaultDecision:   node.DefaultDecision,
		ParallelTasks:     node.ParallelTasks,
	}

	if task.TaskName == "" {
		task.TaskName = node.TaskReferenceName
	}

	failure, err := e.prepareTask(ctx, workflow, node, task, taskData)
	if err != nil {
		return err
	}

	if err := e.storeTask(ctx, task); err != nil {
		return err
	}

	taskData[task.TaskReferenceName] = task

	if failure != nil {
		e.logger.WarnContext(ctx, "Task cannot run",
			"transaction_id", task.TransactionID, "task_id", task.TaskID, "task_ref", task.TaskReferenceName, "error", failure)

		return e.settleLater(ctx, task, models.TaskStatusFailed, errorOutput(failure))
	}

	return e.startTask(ctx, workflow, path, node, task, taskData)
}

// prepareTask resolves the input and the settings of a task. failure reports a
// definition problem the task itself fails with, err an internal one.
func (e *Engine) prepareTask(
	ctx context.Context,
	workflow *models.Workflow,
	node *models.TaskNode,
	task *models.Task,
	taskData models.TaskData,
) (failure error, err error) {
	resolver, err := template.NewResolver(resolverData(workflow, taskData))
	if err != nil {
		return nil, err
	}

	input, resolveErr := resolver.Map(node.InputParameters)
	if resolveErr != nil {
		return fmt.Errorf("failed to resolve input: %w", resolveErr), nil
	}

	task.Input = input

	switch {
	case node.Type.IsWorker():
		definition, err := e.taskDefinitions.Get(ctx, node.Name)
		if err != nil {
			return nil, err
		}

		if definition == nil {
			return persistence.NewDefinitionError("Get", node.Name, persistence.ErrDefinitionNotFound), nil
		}

		applyTaskDefinition(task, definition, node)
	case node.Type == models.TaskTypeDynamicTask:
		nodes, err := dynamicTasks(task.Input["tasks"])
		if err != nil {
			return err, nil
		}

		known := make(map[string]struct{}, len(taskData))
		for ref := range taskData {
			known[ref] = struct{}{}
		}

		models.ForEachNode(workflow.WorkflowDefinition.Tasks, func(n *models.TaskNode) bool {
			known[n.TaskReferenceName] = struct{}{}

			return true
		})

		if duplicates := models.DuplicateReferences(nodes, known); len(duplicates) > 0 {
			return fmt.Errorf("%w: %s", models.ErrDuplicateTaskReference, strings.Join(duplicates, ", ")), nil
		}

		if err := models.ValidateTaskNodes(nodes); err != nil {
			return err, nil
		}

		task.DynamicTasks = nodes
	}

	return nil, nil
}

func applyTaskDefinition(task *models.Task, definition *models.TaskDefinition, node *models.TaskNode) {
	task.Retries = definition.Retry.Limit
	task.RetryDelay = definition.Retry.Delay
	task.AckTimeout = definition.AckTimeout
	task.Timeout = definition.Timeout

	if node.Retry != nil {
		task.Retries = node.Retry.Limit
		task.RetryDelay = node.Retry.Delay
	}

	if node.AckTimeout != nil {
		task.AckTimeout = *node.AckTimeout
	}

	if node.Timeout != nil {
		task.Timeout = *node.Timeout
	}
}

func dynamicTasks(value any) ([]models.TaskNode, error) {
	if value == nil {
		return nil, errMissingDynamicList
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMissingDynamicList, err)
	}

	var nodes []models.TaskNode

	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("%w: %w", errMissingDynamicList, err)
	}

	return nodes, nil
}

// startTask hands a stored task to whoever runs it: a worker, the timer
// store, or the engine itself for branching tasks.
func (e *Engine) startTask(
	ctx context.Context,
	workflow *models.Workflow,
	path tree.Path,
	node *models.TaskNode,
	task *models.Task,
	taskData models.TaskData,
) error {
	switch task.Type {
	case models.TaskTypeTask, models.TaskTypeCompensate:
		return e.dispatch(ctx, task)
	case models.TaskTypeDecision:
		return e.startDecision(ctx, workflow, path, task, taskData)
	case models.TaskTypeParallel:
		started := 0

		for branch, nodes := range task.ParallelTasks {
			if len(nodes) == 0 {
				continue
			}

			if err := e.createTask(ctx, workflow, path.Child(tree.KeyParallelTasks, tree.Index(branch), tree.Index(0)), taskData); err != nil {
				return err
			}

			started++
		}

		if started == 0 {
			return e.settleLater(ctx, task, models.TaskStatusCompleted, nil)
		}

		return nil
	case models.TaskTypeDynamicTask:
		if len(task.DynamicTasks) == 0 {
			return e.settleLater(ctx, task, models.TaskStatusCompleted, nil)
		}

		return e.createTask(ctx, workflow, path.Child(tree.KeyDynamicTasks, tree.Index(0)), taskData)
	case models.TaskTypeSubWorkflow:
		return e.startSubWorkflow(ctx, node, task)
	case models.TaskTypeSubTransaction:
		return e.startSubTransaction(ctx, node, task)
	case models.TaskTypeSchedule:
		return e.startSchedule(ctx, node, task)
	default:
		return e.settleLater(ctx, task, models.TaskStatusFailed, errorOutput(fmt.Errorf("%w: unknown type %s", models.ErrInvalidTaskNode, task.Type)))
	}
}

func (e *Engine) dispatch(ctx context.Context, task *models.Task) error {
	if err := e.messenger.Dispatch(ctx, task); err != nil {
		return fmt.Errorf("failed to dispatch task %s: %w", task.TaskID, err)
	}

	e.logger.DebugContext(ctx, "Task dispatched",
		"transaction_id", task.TransactionID, "task_id", task.TaskID, "task_ref", task.TaskReferenceName)

	if task.AckTimeout <= 0 {
		return nil
	}

	return e.sendTimer(ctx, models.TimerTypeAckTimeout, millis(task.AckTimeout), models.TaskUpdate{
		TransactionID: task.TransactionID,
		WorkflowID:    task.WorkflowID,
		TaskID:        task.TaskID,
		Status:        models.TaskStatusAckTimeout,
	})
}

func (e *Engine) startDecision(ctx context.Context, workflow *models.Workflow, path tree.Path, task *models.Task, taskData models.TaskData) error {
	caseKey := models.FormatCaseKey(task.Input["case"])

	var (
		branch tree.Path
		size   int
	)

	if nodes, ok := task.Decisions[caseKey]; ok {
		branch = path.Child(tree.KeyDecisions, tree.Key(caseKey), tree.Index(0))
		size = len(nodes)
	} else if len(task.DefaultDecision) > 0 {
		branch = path.Child(tree.KeyDefaultDecision, tree.Index(0))
		size = len(task.DefaultDecision)
	} else {
		return e.settleLater(ctx, task, models.TaskStatusFailed, errorOutput(fmt.Errorf("%w %q", errNoDecisionMatch, caseKey)))
	}

	if size == 0 {
		return e.settleLater(ctx, task, models.TaskStatusCompleted, nil)
	}

	return e.createTask(ctx, workflow, branch, taskData)
}

// referencedDefinition loads the workflow a sub task points at. A missing one
// fails the task and is reported as a system error.
func (e *Engine) referencedDefinition(ctx context.Context, node *models.TaskNode, task *models.Task) (*models.WorkflowDefinition, error) {
	if node.Workflow == nil {
		return nil, e.settleLater(ctx, task, models.TaskStatusFailed, errorOutput(fmt.Errorf("%w: workflow reference is required", models.ErrInvalidTaskNode)))
	}

	definition, err := e.workflowDefinitions.Get(ctx, node.Workflow.Key())
	if err != nil {
		return nil, err
	}

	if definition == nil {
		cause := persistence.NewDefinitionError("Get", node.Workflow.Key(), persistence.ErrDefinitionNotFound)
		e.emit(ctx, events.NewSystemError(task.TransactionID, task, cause))

		return nil, e.settleLater(ctx, task, models.TaskStatusFailed, errorOutput(cause))
	}

	return definition, nil
}

func (e *Engine) startSubWorkflow(ctx context.Context, node *models.TaskNode, task *models.Task) error {
	definition, err := e.referencedDefinition(ctx, node, task)
	if err != nil || definition == nil {
		return err
	}

	_, err = e.startWorkflow(ctx, workflowRun{
		TransactionID: task.TransactionID,
		Type:          models.WorkflowTypeSubWorkflow,
		Definition:    *definition,
		Input:         task.Input,
		ParentTaskID:  task.TaskID,
	})

	return err
}

// startSubTransaction starts a child transaction whose id is the task id, so
// a cancellation can reach it.
func (e *Engine) startSubTransaction(ctx context.Context, node *models.TaskNode, task *models.Task) error {
	definition, err := e.referencedDefinition(ctx, node, task)
	if err != nil || definition == nil {
		return err
	}

	child := &models.Transaction{
		TransactionID:      task.TaskID,
		Status:             models.TransactionStatusRunning,
		Input:              task.Input,
		WorkflowDefinition: *definition,
		Parent: &models.ParentRef{
			TransactionID: task.TransactionID,
			TaskID:        task.TaskID,
			WorkflowID:    task.WorkflowID,
		},
	}

	err = e.startTransaction(ctx, child)
	if errors.Is(err, ErrInvalidInput) || persistence.IsAlreadyExists(err) {
		return e.settleLater(ctx, task, models.TaskStatusFailed, errorOutput(err))
	}

	return err
}

// startSchedule completes the task once input.completedAfter milliseconds
// passed, or at the next firing of the node's cron expression.
func (e *Engine) startSchedule(ctx context.Context, node *models.TaskNode, task *models.Task) error {
	delay, err := e.scheduleDelay(node, task)
	if err != nil {
		return e.settleLater(ctx, task, models.TaskStatusFailed, errorOutput(err))
	}

	return e.sendTimer(ctx, models.TimerTypeScheduleTask, delay, models.TaskUpdate{
		TransactionID: task.TransactionID,
		WorkflowID:    task.WorkflowID,
		TaskID:        task.TaskID,
		Status:        models.TaskStatusCompleted,
		IsSystem:      true,
	})
}

func (e *Engine) scheduleDelay(node *models.TaskNode, task *models.Task) (time.Duration, error) {
	if value, ok := task.Input["completedAfter"]; ok {
		switch v := value.(type) {
		case float64:
			return millis(int64(v)), nil
		case int:
			return millis(int64(v)), nil
		case int64:
			return millis(v), nil
		default:
			return 0, fmt.Errorf("completedAfter must be a number of milliseconds, got %T", value)
		}
	}

	if node.Cron == "" {
		return 0, nil
	}

	schedule, err := e.cron.Parse(node.Cron)
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression %q: %w", node.Cron, err)
	}

	now := e.now()

	return schedule.Next(now).Sub(now), nil
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// resolverData is the document task inputs and workflow outputs resolve against.
func resolverData(workflow *models.Workflow, taskData models.TaskData) map[string]any {
	data := snapshot(taskData)
	data["workflow"] = map[string]any{
		"input":          workflow.Input,
		"transaction_id": workflow.TransactionID,
		"workflow_id":    workflow.WorkflowID,
	}

	return data
}

// snapshot exposes the input, output and status of every task by reference name.
func snapshot(taskData models.TaskData) map[string]any {
	data := make(map[string]any, len(taskData)+1)

	for ref, task := range taskData {
		data[ref] = map[string]any{
			"input":  task.Input,
			"output": task.Output,
			"status": string(task.Status),
		}
	}

	return data
}
