package payment

import "context"

// Mode selects how a dialog settles. It is either SimpleConfirm or
// DetailedConfirm.
type Mode interface {
	mode()
}

// SimpleConfirm settles with a single call. The dialog closes itself on
// success and shows the returned error otherwise.
type SimpleConfirm struct {
	Confirm func(ctx context.Context, pin string) error
}

// ExternalState is loading and error state owned by the caller of a
// detailed-mode dialog.
type ExternalState interface {
	Loading() bool
	Error() string
}

// DetailedConfirm hands the PIN and the save-beneficiary choice to the
// caller, who owns loading, error display and closing the dialog.
type DetailedConfirm struct {
	ConfirmPayment func(ctx context.Context, pin string, saveAsBeneficiary bool) error
	State          ExternalState
}

func (SimpleConfirm) mode()   {}
func (DetailedConfirm) mode() {}
