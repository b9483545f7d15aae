package routes

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/vtu-pay/vtu_pay/internal/device"
	"github.com/vtu-pay/vtu_pay/internal/middleware"
	"github.com/vtu-pay/vtu_pay/internal/payment"
	"github.com/vtu-pay/vtu_pay/internal/purchase"
)

const msgEnterPin = "Enter your 5-digit transaction PIN."

type orderRequest struct {
	Pin               string `json:"pin" validate:"required"`
	SaveAsBeneficiary bool   `json:"save_as_beneficiary"`
	BeneficiaryName   string `json:"beneficiary_name"`
	Amount            string `json:"amount" validate:"omitempty,numeric"`
	Network           string `json:"network"`
	PhoneNumber       string `json:"phone_number"`
	MeterNumber       string `json:"meter_number"`
	MeterType         string `json:"meter_type"`
	SmartCardNumber   string `json:"smart_card_number"`
	Provider          string `json:"provider"`
	PlanID            string `json:"plan_id"`
	Link              string `json:"link"`
	Quantity          int    `json:"quantity" validate:"gte=0"`
	Message           string `json:"message"`
}

type transferRequest struct {
	Pin           string `json:"pin" validate:"required"`
	Amount        string `json:"amount" validate:"required,numeric"`
	AccountNumber string `json:"account_number" validate:"required,numeric"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
	Narration     string `json:"narration"`
}

// RegisterPurchaseRoutes wires settlement endpoints. Purchases use the
// detailed dialog so the client can show a receipt; transfers use the
// simple one.
func RegisterPurchaseRoutes(r fiber.Router, guard, idempotency fiber.Handler) {
	handlers := []fiber.Handler{guard}
	if idempotency != nil {
		handlers = append(handlers, idempotency)
	}

	r.Post("/purchases/:service", append(handlers[:len(handlers):len(handlers)], func(c *fiber.Ctx) error {
		service, err := purchase.ParseServiceType(c.Params("service"))
		if err != nil {
			return fiber.NewError(http.StatusNotFound, "unknown service")
		}
		var req orderRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return err
		}
		b := middleware.BundleFrom(c)
		order := purchase.Order{
			Service:         service,
			Amount:          amount,
			Network:         req.Network,
			PhoneNumber:     req.PhoneNumber,
			MeterNumber:     req.MeterNumber,
			MeterType:       req.MeterType,
			SmartCardNumber: req.SmartCardNumber,
			Provider:        req.Provider,
			PlanID:          req.PlanID,
			Link:            req.Link,
			Quantity:        req.Quantity,
			Message:         req.Message,
			BeneficiaryName: req.BeneficiaryName,
			Reference:       c.Get("Idempotency-Key"),
		}
		if err := order.Validate(); err != nil {
			return fail(err)
		}

		flow := purchase.NewFlow(b.Purchases, b.Beneficiaries, order)
		dialog, err := payment.New(
			payment.DetailedConfirm{ConfirmPayment: flow.ConfirmPayment, State: flow},
			payment.Options{OnErrorClear: flow.ClearError},
		)
		if err != nil {
			return err
		}
		dialog.Open()
		defer dialog.Close()
		dialog.SetSaveAsBeneficiary(req.SaveAsBeneficiary)
		dialog.SetPin(req.Pin)

		outcome := dialog.Submit(c.UserContext())
		if outcome != payment.Confirmed {
			return settlementFailure(c, b, outcome, dialog.View())
		}
		receipt, _ := flow.Receipt()
		body := fiber.Map{"receipt": receipt, "session": b.Session.Snapshot()}
		if saved, ok := flow.Saved(); ok {
			body["beneficiary"] = saved
		}
		return c.JSON(body)
	})...)

	r.Post("/transfers", append(handlers[:len(handlers):len(handlers)], func(c *fiber.Ctx) error {
		var req transferRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return err
		}
		b := middleware.BundleFrom(c)
		order := purchase.Order{
			Service:       purchase.Transfer,
			Amount:        amount,
			AccountNumber: req.AccountNumber,
			BankCode:      req.BankCode,
			BankName:      req.BankName,
			Narration:     req.Narration,
			Reference:     c.Get("Idempotency-Key"),
		}

		var receipt purchase.Receipt
		dialog, err := payment.New(payment.SimpleConfirm{Confirm: func(ctx context.Context, pin string) error {
			r, err := b.Purchases.Settle(ctx, order, pin)
			if err != nil {
				return err
			}
			receipt = r
			return nil
		}}, payment.Options{})
		if err != nil {
			return err
		}
		dialog.Open()
		dialog.SetPin(req.Pin)

		outcome := dialog.Submit(c.UserContext())
		if outcome != payment.Confirmed {
			return settlementFailure(c, b, outcome, dialog.View())
		}
		return c.JSON(fiber.Map{"receipt": receipt, "session": b.Session.Snapshot()})
	})...)
}

func settlementFailure(c *fiber.Ctx, b *device.Bundle, outcome payment.Outcome, view payment.View) error {
	st := b.Session.Snapshot()
	switch {
	case outcome == payment.Skipped:
		return fiber.NewError(http.StatusUnprocessableEntity, msgEnterPin)
	case outcome == payment.Busy:
		return fiber.NewError(http.StatusConflict, "A payment is already in progress.")
	case !st.IsAuthenticated:
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"message": view.Error, "redirect": "/login"})
	case st.PendingVerifyEmail != "":
		return c.Status(http.StatusForbidden).JSON(fiber.Map{"message": view.Error, "redirect": "/verify-email", "email": st.PendingVerifyEmail})
	default:
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{"message": view.Error, "dialog": view})
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fiber.NewError(http.StatusUnprocessableEntity, "amount must be a positive number")
	}
	return d, nil
}
