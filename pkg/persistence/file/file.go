// Package file provides file-based persistence for task and workflow
// definitions. Instance stores are delegated to another backend.
package file

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
)

// Persistence serves definitions from JSON files under root and instances
// from the wrapped backend.
type Persistence struct {
	persistence.Persistence

	root                string
	taskDefinitions     *DefinitionStore[models.TaskDefinition]
	workflowDefinitions *DefinitionStore[models.WorkflowDefinition]
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string, instances persistence.Persistence) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		Persistence:         instances,
		root:                cleanRoot,
		taskDefinitions:     NewDefinitionStore[models.TaskDefinition](cleanRoot, "tasks"),
		workflowDefinitions: NewDefinitionStore[models.WorkflowDefinition](cleanRoot, "workflows"),
	}
}

func (fp *Persistence) TaskDefinitions() persistence.DefinitionStore[models.TaskDefinition] {
	return fp.taskDefinitions
}

func (fp *Persistence) WorkflowDefinitions() persistence.DefinitionStore[models.WorkflowDefinition] {
	return fp.workflowDefinitions
}

// HealthCheck checks that the root directory exists and the instance backend is healthy.
func (fp *Persistence) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return fmt.Errorf("definition root %s: %w", fp.root, os.ErrNotExist)
	}

	return fp.Persistence.HealthCheck(ctx)
}
