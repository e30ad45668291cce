// Package web provides the HTTP handlers of the administration API.
package web

import (
	"net/http"
	"time"

	"github.com/dukex/sagaflow/pkg/models"
	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/dukex/sagaflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	transactions        *services.Transactions
	taskDefinitions     *services.Definitions[models.TaskDefinition]
	workflowDefinitions *services.Definitions[models.WorkflowDefinition]
	validator           *validator.Validate
}

func NewAPIHandlers(
	transactions *services.Transactions,
	taskDefinitions *services.Definitions[models.TaskDefinition],
	workflowDefinitions *services.Definitions[models.WorkflowDefinition],
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		transactions:        transactions,
		taskDefinitions:     taskDefinitions,
		workflowDefinitions: workflowDefinitions,
		validator:           validator,
	}
}

// Register mounts every route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	t := router.Group("/transactions")
	t.Get("/", h.ListTransactions)
	t.Post("/", h.StartTransaction)
	t.Get("/:id", h.GetTransaction)
	t.Post("/:id/cancel", h.CancelTransaction)

	router.Post("/updates", h.ReportUpdate)

	td := router.Group("/definitions/tasks")
	td.Get("/", h.ListTaskDefinitions)
	td.Post("/", h.CreateTaskDefinition)
	td.Get("/:name", h.GetTaskDefinition)
	td.Put("/:name", h.UpdateTaskDefinition)
	td.Delete("/:name", h.DeleteTaskDefinition)

	wd := router.Group("/definitions/workflows")
	wd.Get("/", h.ListWorkflowDefinitions)
	wd.Post("/", h.CreateWorkflowDefinition)
	wd.Get("/:name/:rev", h.GetWorkflowDefinition)
	wd.Put("/:name/:rev", h.UpdateWorkflowDefinition)
	wd.Delete("/:name/:rev", h.DeleteWorkflowDefinition)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	persistenceCheck, ok := h.transactions.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Sagaflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Sagaflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": persistenceCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) StartTransaction(c fiber.Ctx) error {
	var req StartTransactionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	transaction, err := h.transactions.Start(c.Context(), req.StartRequest())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(transaction)
}

func (h *APIHandlers) GetTransaction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	detail, err := h.transactions.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) ListTransactions(c fiber.Ctx) error {
	status := models.TransactionStatus(c.Query("status"))

	transactions, err := h.transactions.List(c.Context(), status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"transactions": transactions,
		"total_count":  len(transactions),
	})
}

func (h *APIHandlers) CancelTransaction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Transaction ID is required")
	}

	if err := h.transactions.Cancel(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) ReportUpdate(c fiber.Ctx) error {
	var req TaskUpdateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.transactions.ReportUpdate(c.Context(), req.TaskUpdate()); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) ListTaskDefinitions(c fiber.Ctx) error {
	return listDefinitions(c, h.taskDefinitions)
}

func (h *APIHandlers) GetTaskDefinition(c fiber.Ctx) error {
	return getDefinition(c, h.taskDefinitions, c.Params("name"))
}

func (h *APIHandlers) CreateTaskDefinition(c fiber.Ctx) error {
	return createDefinition(c, h.taskDefinitions)
}

func (h *APIHandlers) UpdateTaskDefinition(c fiber.Ctx) error {
	return updateDefinition(c, h.taskDefinitions, c.Params("name"))
}

func (h *APIHandlers) DeleteTaskDefinition(c fiber.Ctx) error {
	return deleteDefinition(c, h.taskDefinitions, c.Params("name"))
}

func (h *APIHandlers) ListWorkflowDefinitions(c fiber.Ctx) error {
	return listDefinitions(c, h.workflowDefinitions)
}

func (h *APIHandlers) GetWorkflowDefinition(c fiber.Ctx) error {
	return getDefinition(c, h.workflowDefinitions, workflowKey(c))
}

func (h *APIHandlers) CreateWorkflowDefinition(c fiber.Ctx) error {
	return createDefinition(c, h.workflowDefinitions)
}

func (h *APIHandlers) UpdateWorkflowDefinition(c fiber.Ctx) error {
	return updateDefinition(c, h.workflowDefinitions, workflowKey(c))
}

func (h *APIHandlers) DeleteWorkflowDefinition(c fiber.Ctx) error {
	return deleteDefinition(c, h.workflowDefinitions, workflowKey(c))
}

func workflowKey(c fiber.Ctx) string {
	return models.WorkflowDefinitionKey(c.Params("name"), c.Params("rev"))
}

func listDefinitions[T persistence.Definition](c fiber.Ctx, definitions *services.Definitions[T]) error {
	list, err := definitions.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"definitions": list,
		"total_count": len(list),
	})
}

func getDefinition[T persistence.Definition](c fiber.Ctx, definitions *services.Definitions[T], key string) error {
	definition, err := definitions.Get(c.Context(), key)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func createDefinition[T persistence.Definition](c fiber.Ctx, definitions *services.Definitions[T]) error {
	definition := new(T)
	if err := c.Bind().JSON(definition); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := definitions.Create(c.Context(), definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func updateDefinition[T persistence.Definition](c fiber.Ctx, definitions *services.Definitions[T], key string) error {
	definition := new(T)
	if err := c.Bind().JSON(definition); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := definitions.Update(c.Context(), key, definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func deleteDefinition[T persistence.Definition](c fiber.Ctx, definitions *services.Definitions[T], key string) error {
	if err := definitions.Delete(c.Context(), key); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
