package purchase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vtu-pay/vtu_pay/internal/beneficiary"
)

// Flow drives one purchase screen: it owns the loading and error state a
// detailed-mode payment dialog shows, and keeps the receipt for the
// success screen.
type Flow struct {
	svc           *Service
	beneficiaries *beneficiary.Cache
	order         Order
	logger        *slog.Logger

	mu      sync.Mutex
	loading bool
	errMsg  string
	receipt *Receipt
	saved   *beneficiary.Beneficiary
}

// NewFlow starts a purchase of order. beneficiaries may be nil, in which
// case the save option is ignored.
func NewFlow(svc *Service, beneficiaries *beneficiary.Cache, order Order) *Flow {
	return &Flow{svc: svc, beneficiaries: beneficiaries, order: order, logger: svc.logger}
}

func (f *Flow) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

func (f *Flow) Error() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errMsg
}

// ClearError is passed to the dialog as its error-clear callback.
func (f *Flow) ClearError() {
	f.mu.Lock()
	f.errMsg = ""
	f.mu.Unlock()
}

// Receipt returns the settlement receipt once the purchase succeeded.
func (f *Flow) Receipt() (Receipt, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receipt == nil {
		return Receipt{}, false
	}
	return *f.receipt, true
}

// Saved returns the beneficiary stored after a successful purchase.
func (f *Flow) Saved() (beneficiary.Beneficiary, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		return beneficiary.Beneficiary{}, false
	}
	return *f.saved, true
}

// ConfirmPayment settles the order and, when asked, saves the recipient.
// A failure to save does not fail the purchase.
func (f *Flow) ConfirmPayment(ctx context.Context, pin string, saveAsBeneficiary bool) error {
	f.mu.Lock()
	f.loading, f.errMsg = true, ""
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.loading = false
		f.mu.Unlock()
	}()

	receipt, err := f.svc.Settle(ctx, f.order, pin)
	if err != nil {
		msg := FriendlyMessage(err)
		f.mu.Lock()
		f.errMsg = msg
		f.mu.Unlock()
		return &Error{Message: msg, Err: err}
	}

	f.mu.Lock()
	f.receipt = &receipt
	f.mu.Unlock()

	if saveAsBeneficiary && f.beneficiaries != nil {
		saved, err := f.beneficiaries.Save(ctx, beneficiaryOf(f.order))
		if err != nil {
			f.logger.Warn("save beneficiary", slog.Any("error", err))
			return nil
		}
		f.mu.Lock()
		f.saved = &saved
		f.mu.Unlock()
	}
	return nil
}

func beneficiaryOf(o Order) beneficiary.Beneficiary {
	return beneficiary.Beneficiary{
		Name:            o.BeneficiaryName,
		PhoneNumber:     o.PhoneNumber,
		AccountNumber:   o.AccountNumber,
		BankName:        o.BankName,
		SmartCardNumber: o.SmartCardNumber,
		MeterNumber:     o.MeterNumber,
		ServiceType:     string(o.Service),
		Network:         o.Network,
	}
}
