package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/flowmend/flowmend/pkg/agent"
	"github.com/flowmend/flowmend/pkg/approvals"
	"github.com/flowmend/flowmend/pkg/workflows"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusConflict).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func badGateway(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadGateway).
		WithInstance(c.Path()).
		WithType("upstream_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadGateway).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleAgentError maps agent and store failures onto problem responses.
func handleAgentError(c fiber.Ctx, err error) error {
	switch {
	case agent.IsInvalidReport(err), errors.Is(err, agent.ErrEmptyMessage):
		return badRequest(c, err.Error())

	case workflows.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case approvals.IsRecordNotFound(err):
		return notFound(c, "approval record not found")

	case approvals.IsInvalidTransition(err), approvals.IsNotPending(err):
		return conflict(c, "approval record already processed")

	case agent.IsApplyFailed(err):
		return badGateway(c, err.Error())

	case workflows.IsEngineUnavailable(err):
		return badGateway(c, "workflow engine unavailable")

	case agent.IsAnalysisFailed(err):
		return badGateway(c, err.Error())

	default:
		return internalError(c, err)
	}
}
