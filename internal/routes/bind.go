package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/vtu-pay/vtu_pay/internal/api"
	"github.com/vtu-pay/vtu_pay/internal/media"
	"github.com/vtu-pay/vtu_pay/internal/purchase"
	"github.com/vtu-pay/vtu_pay/internal/session"
)

var validate = validator.New()

// bind parses the JSON body into dst and validates its struct tags.
func bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fiber.NewError(http.StatusUnprocessableEntity, fieldMessage(verrs[0]))
		}
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return "enter a valid email address"
	case "len":
		return fmt.Sprintf("%s must be %s characters", field, fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must be a number", field)
	case "eqfield":
		return fmt.Sprintf("%s must match %s", field, strings.ToLower(fe.Param()))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// fail converts a core error into an HTTP error carrying its display text.
func fail(err error) error {
	msg := session.UserMessage(err)
	var display *purchase.Error
	if errors.As(err, &display) {
		msg = display.Message
	}

	var apiErr *api.Error
	switch {
	case api.IsUnauthorized(err):
		return fiber.NewError(http.StatusUnauthorized, msg)
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		return fiber.NewError(apiErr.Status, msg)
	case errors.As(err, &apiErr):
		return fiber.NewError(http.StatusBadGateway, msg)
	case errors.Is(err, api.ErrNetwork), errors.Is(err, session.ErrNoToken):
		return fiber.NewError(http.StatusBadGateway, msg)
	case errors.Is(err, session.ErrNotAuthenticated):
		return fiber.NewError(http.StatusUnauthorized, msg)
	case errors.Is(err, session.ErrInvalidPin), errors.Is(err, session.ErrPinMismatch),
		errors.Is(err, session.ErrInvalidOTP), errors.Is(err, purchase.ErrInvalidOrder):
		return fiber.NewError(http.StatusUnprocessableEntity, msg)
	case errors.Is(err, session.ErrRejected):
		return fiber.NewError(http.StatusBadRequest, msg)
	case errors.Is(err, media.ErrNotConfigured):
		return fiber.NewError(http.StatusServiceUnavailable, "Profile picture uploads are not available right now.")
	default:
		return fiber.NewError(http.StatusInternalServerError, msg)
	}
}
