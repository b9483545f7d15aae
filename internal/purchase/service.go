// Package purchase settles VTU orders against the wallet. It is the
// caller side of the PIN confirmation dialog.
package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vtu-pay/vtu_pay/internal/api"
	"github.com/vtu-pay/vtu_pay/internal/session"
)

var (
	// ErrInvalidOrder marks orders rejected before reaching the backend.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrEmailNotVerified marks settlements refused until the account
	// email is verified.
	ErrEmailNotVerified = errors.New("email not verified")
)

// Error is a settlement failure whose message is safe to show.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// Order is one purchase request.
type Order struct {
	Service         ServiceType     `json:"-"`
	Amount          decimal.Decimal `json:"-"`
	Network         string          `json:"network,omitempty"`
	PhoneNumber     string          `json:"phone_number,omitempty"`
	AccountNumber   string          `json:"account_number,omitempty"`
	BankCode        string          `json:"bank_code,omitempty"`
	BankName        string          `json:"bank_name,omitempty"`
	MeterNumber     string          `json:"meter_number,omitempty"`
	MeterType       string          `json:"meter_type,omitempty"`
	SmartCardNumber string          `json:"smart_card_number,omitempty"`
	Provider        string          `json:"provider,omitempty"`
	PlanID          string          `json:"plan_id,omitempty"`
	Link            string          `json:"link,omitempty"`
	Quantity        int             `json:"quantity,omitempty"`
	Message         string          `json:"message,omitempty"`
	Narration       string          `json:"narration,omitempty"`
	BeneficiaryName string          `json:"-"`
	// Reference makes the settlement idempotent on the backend. One is
	// generated when empty.
	Reference string `json:"-"`
}

// Validate checks the order has what its service needs.
func (o Order) Validate() error {
	ep, ok := catalogue[o.Service]
	if !ok {
		return fmt.Errorf("%w: unknown service %q", ErrInvalidOrder, o.Service)
	}
	if strings.TrimSpace(ep.recipient(o)) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidOrder, ep.field)
	}
	if o.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if o.Amount.IsZero() && !(ep.planPriced && o.PlanID != "") {
		return fmt.Errorf("%w: amount is required", ErrInvalidOrder)
	}
	return nil
}

// payload renders the request body. The amount is sent as a JSON number
// with its exact decimal digits.
func (o Order) payload(pin, reference string) (map[string]any, error) {
	encoded, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	if err := json.Unmarshal(encoded, &body); err != nil {
		return nil, err
	}
	if !o.Amount.IsZero() {
		body["amount"] = json.Number(o.Amount.String())
	}
	body["pin"] = pin
	body["request_id"] = reference
	return body, nil
}

// Receipt is what the backend reported for a successful settlement.
type Receipt struct {
	Service   ServiceType     `json:"service"`
	Reference string          `json:"reference"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	// Token carries an electricity token or recharge PINs when issued.
	Token     string    `json:"token,omitempty"`
	SettledAt time.Time `json:"settled_at"`
	// Balance is the wallet after settlement, when the refresh succeeded.
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

// Session is the part of the session store settlement needs.
type Session interface {
	Token() string
	Snapshot() session.State
	FetchUser(ctx context.Context) (bool, error)
	SetEmailForVerification(ctx context.Context, email string) error
}

// Service posts settlements to the backend.
type Service struct {
	client  *api.Client
	session Session
	logger  *slog.Logger
	now     func() time.Time
}

// NewService wires a settlement service.
func NewService(client *api.Client, sess Session, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, session: sess, logger: logger, now: time.Now}
}

// Settle debits the wallet for order. On success the cached user is
// refreshed so the new balance shows up. A refusal over an unverified
// email points the session at the OTP flow.
func (s *Service) Settle(ctx context.Context, order Order, pin string) (Receipt, error) {
	if err := order.Validate(); err != nil {
		return Receipt{}, &Error{Message: strings.TrimPrefix(err.Error(), ErrInvalidOrder.Error()+": "), Err: err}
	}
	token := s.session.Token()
	if token == "" {
		return Receipt{}, &Error{Message: session.UserMessage(session.ErrNotAuthenticated), Err: session.ErrNotAuthenticated}
	}

	reference := order.Reference
	if reference == "" {
		reference = uuid.NewString()
	}
	body, err := order.payload(pin, reference)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode order: %w", err)
	}

	raw, err := s.client.Post(ctx, catalogue[order.Service].path, body, token)
	if err == nil && !session.LooksSuccessful(raw) {
		err = &Error{Message: rejectionMessage(raw), Err: session.ErrRejected}
	}
	if err != nil {
		return Receipt{}, s.failure(ctx, order, err)
	}

	receipt := Receipt{
		Service:   order.Service,
		Reference: firstString(raw, "reference", "transaction_id", "transactionId", "ref"),
		Status:    firstString(raw, "status"),
		Message:   session.ResponseMessage(raw),
		Amount:    order.Amount,
		Token:     firstString(raw, "token", "pin", "pins"),
		SettledAt: s.now().UTC(),
	}
	if receipt.Reference == "" {
		receipt.Reference = reference
	}
	s.logger.Info("settlement completed",
		slog.String("service", string(order.Service)),
		slog.String("reference", receipt.Reference),
		slog.String("amount", order.Amount.String()),
	)

	if _, err := s.session.FetchUser(ctx); err != nil {
		s.logger.Warn("refresh user after settlement", slog.Any("error", err))
		return receipt, nil
	}
	if u := s.session.Snapshot().User; u != nil {
		balance, err := u.WalletBalance()
		if err != nil {
			s.logger.Warn("unreadable wallet after settlement", slog.Any("error", err))
		} else {
			receipt.Balance = &balance
		}
	}
	return receipt, nil
}

func (s *Service) failure(ctx context.Context, order Order, err error) error {
	msg := session.UserMessage(err)
	var display *Error
	if errors.As(err, &display) {
		msg = display.Message
	}
	s.logger.Warn("settlement failed",
		slog.String("service", string(order.Service)),
		slog.String("message", msg),
	)

	if isUnverified(strings.ToLower(msg)) {
		if u := s.session.Snapshot().User; u != nil && u.Email != "" {
			if setErr := s.session.SetEmailForVerification(ctx, u.Email); setErr != nil {
				s.logger.Warn("route to email verification", slog.Any("error", setErr))
			}
		}
		return &Error{Message: msg, Err: errors.Join(ErrEmailNotVerified, err)}
	}
	return &Error{Message: msg, Err: err}
}

func rejectionMessage(raw map[string]any) string {
	if msg := session.ResponseMessage(raw); msg != "" {
		return msg
	}
	return "Transaction failed. Please try again."
}

// firstString looks for keys at the top level and under data.
func firstString(raw map[string]any, keys ...string) string {
	scopes := []map[string]any{raw}
	if data, ok := raw["data"].(map[string]any); ok {
		scopes = append(scopes, data)
	}
	for _, scope := range scopes {
		for _, k := range keys {
			switch v := scope[k].(type) {
			case string:
				if v != "" {
					return v
				}
			case json.Number:
				return v.String()
			case []any:
				parts := make([]string, 0, len(v))
				for _, p := range v {
					if s, ok := p.(string); ok {
						parts = append(parts, s)
					}
				}
				if len(parts) > 0 {
					return strings.Join(parts, ", ")
				}
			}
		}
	}
	return ""
}
