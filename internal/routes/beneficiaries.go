package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vtu-pay/vtu_pay/internal/beneficiary"
	"github.com/vtu-pay/vtu_pay/internal/middleware"
	"github.com/vtu-pay/vtu_pay/internal/prefs"
)

// RegisterBeneficiaryRoutes wires the saved-recipient management screen.
func RegisterBeneficiaryRoutes(r fiber.Router, guard fiber.Handler) {
	group := r.Group("/beneficiaries", guard)

	group.Get("/", func(c *fiber.Ctx) error {
		cache := middleware.BundleFrom(c).Beneficiaries
		var (
			list []beneficiary.Beneficiary
			err  error
		)
		if t := c.Query("service_type"); t != "" {
			list, err = cache.GetByServiceType(c.UserContext(), t)
		} else {
			list, err = cache.GetAll(c.UserContext())
		}
		if err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, "saved beneficiaries are unavailable")
		}
		return c.JSON(fiber.Map{"beneficiaries": list})
	})

	group.Post("/", func(c *fiber.Ctx) error {
		var req struct {
			beneficiary.Beneficiary
			ServiceType string `json:"serviceType" validate:"required,max=32"`
		}
		if err := bind(c, &req); err != nil {
			return err
		}
		b := req.Beneficiary
		b.ServiceType = req.ServiceType
		saved, err := middleware.BundleFrom(c).Beneficiaries.Save(c.UserContext(), b)
		if err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, "could not save beneficiary")
		}
		return c.Status(http.StatusCreated).JSON(saved)
	})

	group.Delete("/:id", func(c *fiber.Ctx) error {
		if err := middleware.BundleFrom(c).Beneficiaries.Remove(c.UserContext(), c.Params("id")); err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, "could not remove beneficiary")
		}
		return c.SendStatus(http.StatusNoContent)
	})

	group.Delete("/", func(c *fiber.Ctx) error {
		if err := middleware.BundleFrom(c).Beneficiaries.Clear(c.UserContext()); err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, "could not clear beneficiaries")
		}
		return c.SendStatus(http.StatusNoContent)
	})
}

// RegisterBannerRoutes wires the app-install banner preference.
func RegisterBannerRoutes(r fiber.Router) {
	r.Get("/banner", func(c *fiber.Ctx) error {
		banner := middleware.BundleFrom(c).Banner
		visible, err := banner.Visible(c.UserContext(), prefs.DefaultBannerCooldown)
		if err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, "preferences are unavailable")
		}
		body := fiber.Map{"visible": visible}
		if at, ok, _ := banner.DismissedAt(c.UserContext()); ok {
			body["dismissed_at"] = at
		}
		return c.JSON(body)
	})

	r.Post("/banner/dismiss", func(c *fiber.Ctx) error {
		at, err := middleware.BundleFrom(c).Banner.Dismiss(c.UserContext())
		if err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, "preferences are unavailable")
		}
		return c.JSON(fiber.Map{"visible": false, "dismissed_at": at})
	})
}
