package tree

import (
	"errors"
	"fmt"

	"github.com/dukex/sagaflow/pkg/models"
)

// ErrMalformedTree is returned when a path has no successor and is neither the
// last root node nor the child of a branch.
var ErrMalformedTree = errors.New("task tree is malformed")

// NextTask is the outcome of GetNextTaskPath.
type NextTask struct {
	// IsCompleted is true when the whole workflow is done.
	IsCompleted bool
	// TaskPath is the next node to materialize, nil when nothing is runnable yet.
	TaskPath Path
	// ParentTask is the nearest system task whose last child just finished.
	ParentTask  *models.Task
	IsLastChild bool
}

// NodeAt resolves the node a path points at, or nil when the path does not
// address a node. Branch containers are read from the system task copies in
// taskData when present, falling back to the definition.
func NodeAt(tasks []models.TaskNode, path Path, taskData models.TaskData) *models.TaskNode {
	list := tasks

	var node *models.TaskNode

	for i := 0; i < len(path); i++ {
		switch segment := path[i].(type) {
		case Index:
			if node != nil || int(segment) < 0 || int(segment) >= len(list) {
				return nil
			}

			node = &list[segment]
		case Key:
			if node == nil {
				return nil
			}

			switch segment {
			case KeyParallelTasks:
				if i+1 >= len(path) {
					return nil
				}

				branches := parallelTasksOf(node, taskData)

				branch, ok := path[i+1].(Index)
				if !ok || int(branch) < 0 || int(branch) >= len(branches) {
					return nil
				}

				list = branches[branch]
				i++
			case KeyDecisions:
				if i+1 >= len(path) {
					return nil
				}

				caseKey, ok := path[i+1].(Key)
				if !ok {
					return nil
				}

				branch, ok := decisionsOf(node, taskData)[string(caseKey)]
				if !ok {
					return nil
				}

				list = branch
				i++
			case KeyDefaultDecision:
				list = defaultDecisionOf(node, taskData)
			case KeyDynamicTasks:
				list = dynamicTasksOf(node, taskData)
			default:
				return nil
			}

			node = nil
		default:
			return nil
		}
	}

	return node
}

// IsChildOfParallel reports whether path went through 'parallelTasks', branchIndex.
func IsChildOfParallel(tasks []models.TaskNode, path Path, taskData models.TaskData) bool {
	if len(path) < 4 || path[len(path)-3] != KeyParallelTasks {
		return false
	}

	return isNodeOfType(tasks, path.Parent(3), taskData, models.TaskTypeParallel)
}

// IsChildOfDecisionCase reports whether path went through 'decisions', caseKey.
func IsChildOfDecisionCase(tasks []models.TaskNode, path Path, taskData models.TaskData) bool {
	if len(path) < 4 || path[len(path)-3] != KeyDecisions {
		return false
	}

	return isNodeOfType(tasks, path.Parent(3), taskData, models.TaskTypeDecision)
}

// IsChildOfDecisionDefault reports whether path went through 'defaultDecision'.
func IsChildOfDecisionDefault(tasks []models.TaskNode, path Path, taskData models.TaskData) bool {
	if len(path) < 3 || path[len(path)-2] != KeyDefaultDecision {
		return false
	}

	return isNodeOfType(tasks, path.Parent(2), taskData, models.TaskTypeDecision)
}

// IsChildOfDynamic reports whether path went through 'dynamicTasks'.
func IsChildOfDynamic(tasks []models.TaskNode, path Path, taskData models.TaskData) bool {
	if len(path) < 3 || path[len(path)-2] != KeyDynamicTasks {
		return false
	}

	return isNodeOfType(tasks, path.Parent(2), taskData, models.TaskTypeDynamicTask)
}

// FindTaskPath locates a reference name in the tree, depth first. Decision
// cases are probed in sorted order, then the default branch; parallel branches
// in index order. Returns nil when the reference is not in the tree.
func FindTaskPath(ref string, tasks []models.TaskNode, taskData models.TaskData) Path {
	return findTaskPath(ref, tasks, nil, taskData)
}

func findTaskPath(ref string, nodes []models.TaskNode, prefix Path, taskData models.TaskData) Path {
	for i := range nodes {
		node := &nodes[i]
		path := prefix.Child(Index(i))

		if node.TaskReferenceName == ref {
			return path
		}

		switch node.Type {
		case models.TaskTypeDecision:
			decisions := decisionsOf(node, taskData)
			for _, key := range models.SortedDecisionKeys(decisions) {
				if found := findTaskPath(ref, decisions[key], path.Child(KeyDecisions, Key(key)), taskData); found != nil {
					return found
				}
			}

			if found := findTaskPath(ref, defaultDecisionOf(node, taskData), path.Child(KeyDefaultDecision), taskData); found != nil {
				return found
			}
		case models.TaskTypeParallel:
			for branch, branchNodes := range parallelTasksOf(node, taskData) {
				if found := findTaskPath(ref, branchNodes, path.Child(KeyParallelTasks, Index(branch)), taskData); found != nil {
					return found
				}
			}
		case models.TaskTypeDynamicTask:
			if found := findTaskPath(ref, dynamicTasksOf(node, taskData), path.Child(KeyDynamicTasks), taskData); found != nil {
				return found
			}
		}
	}

	return nil
}

// GetNextTaskPath computes what follows the node at currentPath once it finished.
func GetNextTaskPath(tasks []models.TaskNode, currentPath Path, taskData models.TaskData) (NextTask, error) {
	return getNextTaskPath(tasks, currentPath, taskData, nil, false)
}

func getNextTaskPath(
	tasks []models.TaskNode,
	currentPath Path,
	taskData models.TaskData,
	parentTask *models.Task,
	isLastChild bool,
) (NextTask, error) {
	if currentPath.Equal(Root(len(tasks) - 1)) {
		return NextTask{IsCompleted: true, ParentTask: parentTask, IsLastChild: isLastChild}, nil
	}

	if IsChildOfParallel(tasks, currentPath, taskData) {
		if next := NextPath(currentPath); NodeAt(tasks, next, taskData) != nil {
			return NextTask{TaskPath: next, ParentTask: parentTask, IsLastChild: isLastChild}, nil
		}

		parallelPath := currentPath.Parent(3)
		parallel := NodeAt(tasks, parallelPath, taskData)

		if !branchesCompleted(parallelTasksOf(parallel, taskData), taskData) {
			return NextTask{ParentTask: parentTask, IsLastChild: isLastChild}, nil
		}

		parentTask, isLastChild = trackParent(parentTask, isLastChild, parallel, taskData)

		return getNextTaskPath(tasks, parallelPath, taskData, parentTask, isLastChild)
	}

	if branchParent := branchParentPath(tasks, currentPath, taskData); branchParent != nil {
		if next := NextPath(currentPath); NodeAt(tasks, next, taskData) != nil {
			return NextTask{TaskPath: next, ParentTask: parentTask, IsLastChild: isLastChild}, nil
		}

		parentTask, isLastChild = trackParent(parentTask, isLastChild, NodeAt(tasks, branchParent, taskData), taskData)

		return getNextTaskPath(tasks, branchParent, taskData, parentTask, isLastChild)
	}

	if next := NextPath(currentPath); NodeAt(tasks, next, taskData) != nil {
		return NextTask{TaskPath: next, ParentTask: parentTask, IsLastChild: isLastChild}, nil
	}

	return NextTask{}, fmt.Errorf("%w: no task after %s", ErrMalformedTree, currentPath)
}

// branchParentPath returns the path of the Decision or DynamicTask node owning
// the single-sequence branch currentPath sits in.
func branchParentPath(tasks []models.TaskNode, currentPath Path, taskData models.TaskData) Path {
	switch {
	case IsChildOfDecisionCase(tasks, currentPath, taskData):
		return currentPath.Parent(3)
	case IsChildOfDecisionDefault(tasks, currentPath, taskData), IsChildOfDynamic(tasks, currentPath, taskData):
		return currentPath.Parent(2)
	default:
		return nil
	}
}

func trackParent(parentTask *models.Task, isLastChild bool, node *models.TaskNode, taskData models.TaskData) (*models.Task, bool) {
	if parentTask != nil {
		return parentTask, isLastChild
	}

	if node == nil {
		return nil, true
	}

	return taskData[node.TaskReferenceName], true
}

// branchesCompleted only inspects the terminal reference of every branch.
func branchesCompleted(branches [][]models.TaskNode, taskData models.TaskData) bool {
	for _, branch := range branches {
		if len(branch) == 0 {
			continue
		}

		task, ok := taskData[branch[len(branch)-1].TaskReferenceName]
		if !ok || task.Status != models.TaskStatusCompleted {
			return false
		}
	}

	return true
}

func isNodeOfType(tasks []models.TaskNode, path Path, taskData models.TaskData, taskType models.TaskType) bool {
	node := NodeAt(tasks, path, taskData)

	return node != nil && node.Type == taskType
}

func parallelTasksOf(node *models.TaskNode, taskData models.TaskData) [][]models.TaskNode {
	if node == nil {
		return nil
	}

	if task, ok := taskData[node.TaskReferenceName]; ok && task.ParallelTasks != nil {
		return task.ParallelTasks
	}

	return node.ParallelTasks
}

func decisionsOf(node *models.TaskNode, taskData models.TaskData) map[string][]models.TaskNode {
	if task, ok := taskData[node.TaskReferenceName]; ok && task.Decisions != nil {
		return task.Decisions
	}

	return node.Decisions
}

func defaultDecisionOf(node *models.TaskNode, taskData models.TaskData) []models.TaskNode {
	if task, ok := taskData[node.TaskReferenceName]; ok && task.DefaultDecision != nil {
		return task.DefaultDecision
	}

	return node.DefaultDecision
}

func dynamicTasksOf(node *models.TaskNode, taskData models.TaskData) []models.TaskNode {
	if task, ok := taskData[node.TaskReferenceName]; ok {
		return task.DynamicTasks
	}

	return nil
}
