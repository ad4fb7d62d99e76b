package handlers

import (
	"errors"
	"fmt"

	"github.com/3moredev/climasys/clinical"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Structured Error Responses
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func NewErrorResponse(code string, message string, details ...any) ErrorResponse {
	var detail any
	if len(details) == 1 {
		detail = details[0]
	} else if len(details) > 1 {
		detail = details
	}
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: detail,
	}
}

// clinicalError maps an error of the reconciliation core onto a status code
// and error envelope.
func clinicalError(c *fiber.Ctx, err error) error {
	var ve *clinical.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(
			NewErrorResponse("VALIDATION_FAILED", ve.Message, fiber.Map{"field": ve.Field}))
	case errors.Is(err, clinical.ErrMissingContext):
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("MISSING_CONTEXT", err.Error()))
	case errors.Is(err, clinical.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(NewErrorResponse("SESSION_NOT_FOUND", err.Error()))
	case errors.Is(err, clinical.ErrRowNotFound):
		return c.Status(fiber.StatusNotFound).JSON(NewErrorResponse("ROW_NOT_FOUND", err.Error()))
	case errors.Is(err, clinical.ErrFieldNotEditable):
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("FIELD_NOT_EDITABLE", err.Error()))
	case errors.Is(err, clinical.ErrSaveInProgress):
		return c.Status(fiber.StatusConflict).JSON(NewErrorResponse("SAVE_IN_PROGRESS", err.Error()))
	case errors.Is(err, clinical.ErrSaveRejected):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(NewErrorResponse("SAVE_REJECTED", err.Error()))
	default:
		return c.Status(fiber.StatusBadGateway).JSON(NewErrorResponse("UPSTREAM_FAILURE", err.Error()))
	}
}

// formatValidationErrors formats validation errors for better response
func formatValidationErrors(err error) interface{} {
	var validationErrors []map[string]string

	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			validationErrors = append(validationErrors, map[string]string{
				"field":   fe.Field(),
				"tag":     fe.Tag(),
				"value":   fmt.Sprintf("%v", fe.Value()),
				"message": getValidationMessage(fe),
			})
		}
		return validationErrors
	}

	return err.Error()
}

// getValidationMessage returns user-friendly validation messages
func getValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "alphanum":
		return fmt.Sprintf("%s may only contain letters and digits", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
