package middleware

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vtu-pay/vtu_pay/internal/device"
	"github.com/vtu-pay/vtu_pay/internal/session"
)

const (
	deviceIDHeader = "X-Device-ID"
	bundleLocal    = "device_bundle"
)

// Device resolves the X-Device-ID header into the device's hydrated bundle.
func Device(reg *device.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(deviceIDHeader)
		if id == "" {
			return fiber.NewError(http.StatusBadRequest, "missing X-Device-ID header")
		}
		b, err := reg.Get(c.UserContext(), id)
		if errors.Is(err, device.ErrInvalidID) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if err != nil {
			return err
		}
		c.Locals(bundleLocal, b)
		return c.Next()
	}
}

// BundleFrom returns the bundle resolved by Device, or nil.
func BundleFrom(c *fiber.Ctx) *device.Bundle {
	b, _ := c.Locals(bundleLocal).(*device.Bundle)
	return b
}

// Guard blocks requests the device's session may not make and tells the
// client where to go instead.
func Guard(need session.Access) fiber.Handler {
	return func(c *fiber.Ctx) error {
		b := BundleFrom(c)
		if b == nil {
			return fiber.NewError(http.StatusInternalServerError, "device not resolved")
		}

		switch session.Decide(b.Session.Snapshot(), need) {
		case session.Allow:
			return c.Next()
		case session.Wait:
			return fiber.NewError(http.StatusServiceUnavailable, "session is still loading")
		case session.RedirectSetPin:
			return c.Status(http.StatusForbidden).JSON(fiber.Map{
				"message":  "Set your transaction PIN to continue.",
				"redirect": "/set-pin",
			})
		default:
			body := fiber.Map{"message": "Please log in to continue.", "redirect": "/login"}
			if ev, ok := b.LastInvalidation(); ok {
				body["reason"] = ev.Reason
				b.AcknowledgeInvalidation()
			}
			return c.Status(http.StatusUnauthorized).JSON(body)
		}
	}
}
