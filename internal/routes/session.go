package routes

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/vtu-pay/vtu_pay/internal/media"
	"github.com/vtu-pay/vtu_pay/internal/middleware"
	"github.com/vtu-pay/vtu_pay/internal/session"
)

const maxPictureBytes = 5 << 20

// RegisterSessionRoutes wires the session store operations.
func RegisterSessionRoutes(r fiber.Router, rateLimiter fiber.Handler, logger *slog.Logger) {
	group := r.Group("/session")
	authed := middleware.Guard(session.Authenticated)

	group.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(middleware.BundleFrom(c).Session.Snapshot())
	})

	login := func(c *fiber.Ctx) error {
		var req struct {
			Email    string `json:"email" validate:"required,email"`
			Password string `json:"password" validate:"required"`
		}
		if err := bind(c, &req); err != nil {
			return err
		}
		store := middleware.BundleFrom(c).Session
		if err := store.Login(c.UserContext(), session.Credentials{Email: req.Email, Password: req.Password}); err != nil {
			return fail(err)
		}
		return c.JSON(store.Snapshot())
	}
	if rateLimiter != nil {
		group.Post("/login", rateLimiter, login)
	} else {
		group.Post("/login", login)
	}

	group.Post("/google", func(c *fiber.Ctx) error {
		var req struct {
			AccessToken string `json:"access_token" validate:"required"`
		}
		if err := bind(c, &req); err != nil {
			return err
		}
		store := middleware.BundleFrom(c).Session
		if err := store.GoogleLogin(c.UserContext(), req.AccessToken); err != nil {
			return fail(err)
		}
		return c.JSON(store.Snapshot())
	})

	group.Post("/register", func(c *fiber.Ctx) error {
		var req struct {
			Name            string `json:"name"`
			Username        string `json:"username"`
			Email           string `json:"email" validate:"required,email"`
			Phone           string `json:"phone"`
			Password        string `json:"password" validate:"required,min=6"`
			ConfirmPassword string `json:"confirm_password" validate:"omitempty,eqfield=Password"`
			Referral        string `json:"referral"`
		}
		if err := bind(c, &req); err != nil {
			return err
		}
		store := middleware.BundleFrom(c).Session
		outcome, err := store.Register(c.UserContext(), session.RegisterPayload(req))
		if err != nil {
			return fail(err)
		}
		status := http.StatusCreated
		if outcome == session.RegisterPendingVerification {
			status = http.StatusAccepted
		}
		return c.Status(status).JSON(fiber.Map{"outcome": outcome, "session": store.Snapshot()})
	})

	group.Post("/verify-otp", func(c *fiber.Ctx) error {
		var req struct {
			Email string `json:"email" validate:"required,email"`
			OTP   string `json:"otp" validate:"required,numeric,len=6"`
		}
		if err := bind(c, &req); err != nil {
			return err
		}
		otp, err := strconv.Atoi(req.OTP)
		if err != nil {
			return fail(session.ErrInvalidOTP)
		}
		store := middleware.BundleFrom(c).Session
		established, err := store.VerifyRegistrationOtp(c.UserContext(), req.Email, otp)
		if err != nil {
			return fail(err)
		}
		next := "/login"
		if established {
			next = "/dashboard"
		}
		return c.JSON(fiber.Map{"established": established, "redirect": next, "session": store.Snapshot()})
	})

	group.Post("/resend-verification", func(c *fiber.Ctx) error {
		var req struct {
			Email string `json:"email" validate:"required,email"`
		}
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := middleware.BundleFrom(c).Session.ResendVerificationEmail(c.UserContext(), req.Email); err != nil {
			return fail(err)
		}
		return c.JSON(fiber.Map{"message": "Verification code sent. Check your email."})
	})

	group.Post("/verification-email", func(c *fiber.Ctx) error {
		var req struct {
			Email string `json:"email" validate:"required,email"`
		}
		if err := bind(c, &req); err != nil {
			return err
		}
		store := middleware.BundleFrom(c).Session
		if err := store.SetEmailForVerification(c.UserContext(), req.Email); err != nil {
			return fail(err)
		}
		return c.JSON(store.Snapshot())
	})

	group.Post("/logout", func(c *fiber.Ctx) error {
		b := middleware.BundleFrom(c)
		b.Session.Logout(c.UserContext())
		b.AcknowledgeInvalidation()
		return c.JSON(b.Session.Snapshot())
	})

	group.Delete("/error", func(c *fiber.Ctx) error {
		store := middleware.BundleFrom(c).Session
		store.ClearError()
		return c.JSON(store.Snapshot())
	})

	group.Post("/transaction-pin", authed, func(c *fiber.Ctx) error {
		var req struct {
			Pin        string `json:"pin" validate:"required"`
			ConfirmPin string `json:"confirm_pin" validate:"required"`
		}
		if err := bind(c, &req); err != nil {
			return err
		}
		store := middleware.BundleFrom(c).Session
		if err := store.SetTransactionPin(c.UserContext(), req.Pin, req.ConfirmPin); err != nil {
			return fail(err)
		}
		return c.JSON(store.Snapshot())
	})

	group.Post("/refresh", authed, func(c *fiber.Ctx) error {
		store := middleware.BundleFrom(c).Session
		if _, err := store.FetchUser(c.UserContext()); err != nil {
			return fail(err)
		}
		return c.JSON(store.Snapshot())
	})

	group.Post("/profile-picture", authed, func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "file is required")
		}
		if fh.Size > maxPictureBytes {
			return fiber.NewError(http.StatusRequestEntityTooLarge, "Profile picture must be 5MB or smaller.")
		}
		f, err := fh.Open()
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "unreadable file")
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "unreadable file")
		}

		store := middleware.BundleFrom(c).Session
		file := media.File{Name: fh.Filename, ContentType: fh.Header.Get(fiber.HeaderContentType), Content: content}
		if err := store.UpdateProfilePicture(c.UserContext(), file); err != nil {
			if logger != nil {
				logger.Warn("profile picture update failed", slog.Any("error", err))
			}
			return fail(err)
		}
		return c.JSON(store.Snapshot())
	})
}
