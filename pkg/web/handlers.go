package web

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/flowmend/flowmend/pkg/agent"
	"github.com/flowmend/flowmend/pkg/approvals"
	"github.com/flowmend/flowmend/pkg/models"
)

// APIHandlers serves the agent's HTTP endpoints: report intake, channel
// action callbacks and approval record introspection.
type APIHandlers struct {
	agent     *agent.Service
	store     approvals.Store
	validator *validator.Validate
}

func NewAPIHandlers(agentService *agent.Service, store approvals.Store, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		agent:     agentService,
		store:     store,
		validator: validator,
	}
}

// Register mounts every endpoint under /api/v1 plus the health detail
// endpoint.
func (h *APIHandlers) Register(app *fiber.App) {
	v1 := app.Group("/api/v1")
	v1.Post("/reports", h.CreateReport)
	v1.Post("/actions", h.HandleAction)

	a := v1.Group("/approvals")
	a.Get("/", h.ListApprovals)
	a.Get("/:id", h.GetApproval)
	a.Delete("/:id", h.DeleteApproval)

	v1.Get("/workflows/:id/approvals", h.ListWorkflowApprovals)

	app.Get("/health", h.HealthCheck)
}

// CreateReport ingests one failure report and files a fix proposal for
// approval. Analysis failures leave no record behind.
func (h *APIHandlers) CreateReport(c fiber.Ctx) error {
	var report models.ErrorReport
	if err := c.Bind().JSON(&report); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	record, err := h.agent.HandleReport(c.Context(), &report)
	if err != nil {
		return handleAgentError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(record)
}

// HandleAction processes an inbound channel callback. Conversational
// actions aimed at a record that no longer exists or already left
// pending are acknowledged as ignored so chat platforms do not retry.
func (h *APIHandlers) HandleAction(c fiber.Ctx) error {
	var req ActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	switch req.Type {
	case ActionApprove:
		outcome, err := h.agent.Approve(c.Context(), req.Ref())
		if err != nil {
			return handleAgentError(c, err)
		}

		return c.JSON(fiber.Map{
			"result":  "applied",
			"record":  TransformApprovalSummary(outcome.Record),
			"applied": outcome.Applied,
			"skipped": outcome.Skipped,
		})

	case ActionReject:
		record, err := h.agent.Reject(c.Context(), req.Ref())
		if err != nil {
			return handleAgentError(c, err)
		}

		return c.JSON(fiber.Map{
			"result": "rejected",
			"record": TransformApprovalSummary(record),
		})

	case ActionAsk:
		reply, err := h.agent.Converse(c.Context(), req.Ref(), req.Text)
		if err != nil {
			if ignorable(err) {
				return c.JSON(fiber.Map{"result": "ignored"})
			}

			return handleAgentError(c, err)
		}

		return c.JSON(fiber.Map{
			"result": "replied",
			"reply":  reply.Reply,
			"docs":   reply.DocRefs,
		})

	case ActionRevise:
		record, err := h.agent.Revise(c.Context(), req.Ref(), req.Text)
		if err != nil {
			if ignorable(err) {
				return c.JSON(fiber.Map{"result": "ignored"})
			}

			return handleAgentError(c, err)
		}

		return c.JSON(fiber.Map{
			"result": "revised",
			"record": TransformApprovalSummary(record),
		})
	}

	return badRequest(c, "Unknown action type")
}

// ignorable reports whether a conversational action lost its record: the
// record vanished or a decision already landed. The callback succeeds
// with an ignored result instead of erroring back into the channel.
func ignorable(err error) bool {
	return approvals.IsRecordNotFound(err) || approvals.IsNotPending(err)
}

// ListApprovals lists records, optionally filtered by status.
func (h *APIHandlers) ListApprovals(c fiber.Ctx) error {
	var (
		records []*models.ApprovalRecord
		err     error
	)

	if status := c.Query("status"); status != "" {
		records, err = h.store.ListByStatus(c.Context(), models.ApprovalStatus(status))
	} else {
		records, err = h.store.List(c.Context())
	}

	if err != nil {
		return internalError(c, err)
	}

	summaries := make([]ApprovalSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, TransformApprovalSummary(record))
	}

	return c.JSON(fiber.Map{
		"approvals":   summaries,
		"total_count": len(summaries),
	})
}

// GetApproval returns the full record, workflow snapshot included.
func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	record, err := h.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		if approvals.IsRecordNotFound(err) {
			return notFound(c, "approval record not found")
		}

		return internalError(c, err)
	}

	return c.JSON(record)
}

// DeleteApproval removes a record from the store.
func (h *APIHandlers) DeleteApproval(c fiber.Ctx) error {
	if err := h.store.Delete(c.Context(), c.Params("id")); err != nil {
		if approvals.IsRecordNotFound(err) {
			return notFound(c, "approval record not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ListWorkflowApprovals lists the approval history of one workflow.
func (h *APIHandlers) ListWorkflowApprovals(c fiber.Ctx) error {
	records, err := h.store.ListByWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return internalError(c, err)
	}

	summaries := make([]ApprovalSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, TransformApprovalSummary(record))
	}

	return c.JSON(fiber.Map{
		"approvals":   summaries,
		"total_count": len(summaries),
	})
}

// HealthCheck reports the store's view of the record table.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	pending, err := h.store.ListByStatus(c.Context(), models.ApprovalPending)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "unhealthy",
			"message": "approval store unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"status":    "healthy",
		"pending":   len(pending),
		"timestamp": time.Now().UTC(),
	})
}
