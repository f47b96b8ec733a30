package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/canvasflow/canvasflow/pkg/compiler"
	"github.com/canvasflow/canvasflow/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// compilationFailed returns the full structured failure set so the author
// can fix every issue in one pass.
func compilationFailed(c fiber.Ctx, verrs compiler.ValidationErrors) error {
	problem := problems.NewStatusProblem(422).
		WithInstance(c.Path()).
		WithType("compilation_failed").
		WithDetail(verrs.Error())

	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"problem": problem,
		"errors":  verrs,
	})
}

// handleStoreError maps persistence and compiler errors onto HTTP statuses.
func handleStoreError(c fiber.Ctx, err error) error {
	if verrs, ok := compiler.AsValidationErrors(err); ok {
		return compilationFailed(c, verrs)
	}

	switch {
	case persistence.IsFlowNotFound(err):
		return notFound(c, "flow not found")
	case persistence.IsVersionNotFound(err):
		return notFound(c, "version not found")
	case persistence.IsNoCurrentVersion(err):
		return notFound(c, "flow has no current version")
	case persistence.IsRunNotFound(err):
		return notFound(c, "run not found")
	case persistence.IsEntityNotFound(err):
		return notFound(c, "entity not found")
	case persistence.IsPositionConflict(err):
		return conflict(c, "entity position changed concurrently")
	default:
		return internalError(c, err)
	}
}
