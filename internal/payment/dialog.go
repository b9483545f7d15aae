// Package payment collects a transaction PIN and drives a settlement call
// through one of two calling conventions.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// FallbackMessage is shown when a settlement error carries no message.
const FallbackMessage = "Transaction failed. Please try again."

// ErrNoConfirm is returned by New when the mode has no settlement callback.
var ErrNoConfirm = errors.New("payment: mode has no confirm callback")

// Outcome is the result of Submit.
type Outcome int

const (
	// Skipped means nothing was sent: the dialog is closed or the PIN is
	// incomplete.
	Skipped Outcome = iota
	// Busy means a submission is already in flight.
	Busy
	Confirmed
	Failed
	// Discarded means the dialog was closed or reopened while the call was
	// in flight; its result was dropped.
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Busy:
		return "busy"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options are the dialog's callbacks. All are optional and run without the
// dialog lock held.
type Options struct {
	OnClose      func()
	OnErrorClear func()
	OnForgotPin  func()
}

// View is what the dialog renders.
type View struct {
	Open              bool   `json:"open"`
	PinLength         int    `json:"pin_length"`
	Processing        bool   `json:"processing"`
	Error             string `json:"error,omitempty"`
	ShowSaveOption    bool   `json:"show_save_option"`
	SaveAsBeneficiary bool   `json:"save_as_beneficiary"`
	CanSubmit         bool   `json:"can_submit"`
}

// Dialog is one PIN confirmation session.
type Dialog struct {
	simple   *SimpleConfirm
	detailed *DetailedConfirm
	opts     Options

	mu         sync.Mutex
	open       bool
	pin        pinBuffer
	processing bool
	errMsg     string
	save       bool
	// generation changes on every open and close so a late result can tell
	// it belongs to a dialog the user already left.
	generation uint64
}

// New builds a closed dialog for mode.
func New(mode Mode, opts Options) (*Dialog, error) {
	d := &Dialog{opts: opts}
	switch m := mode.(type) {
	case SimpleConfirm:
		if m.Confirm == nil {
			return nil, ErrNoConfirm
		}
		d.simple = &m
	case *SimpleConfirm:
		if m == nil || m.Confirm == nil {
			return nil, ErrNoConfirm
		}
		d.simple = m
	case DetailedConfirm:
		if m.ConfirmPayment == nil {
			return nil, ErrNoConfirm
		}
		d.detailed = &m
	case *DetailedConfirm:
		if m == nil || m.ConfirmPayment == nil {
			return nil, ErrNoConfirm
		}
		d.detailed = m
	default:
		return nil, ErrNoConfirm
	}
	return d, nil
}

// Open shows the dialog with an empty PIN.
func (d *Dialog) Open() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return
	}
	d.open = true
	d.generation++
	d.pin.reset()
	d.errMsg = ""
	d.save = false
	d.processing = false
}

// Close hides the dialog and wipes the PIN. An in-flight submission keeps
// running but its result is discarded.
func (d *Dialog) Close() {
	if d.close() && d.opts.OnClose != nil {
		d.opts.OnClose()
	}
}

func (d *Dialog) close() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return false
	}
	d.open = false
	d.generation++
	d.pin.reset()
	d.processing = false
	d.errMsg = ""
	return true
}

// SetPin replaces the PIN with the digits of s, capped at PinLength.
func (d *Dialog) SetPin(s string) {
	d.edit(func(b *pinBuffer) bool {
		before := b.String()
		b.set(s)
		return b.String() != before
	})
}

// Type appends one keystroke. Non-digits are dropped.
func (d *Dialog) Type(r rune) {
	if r < '0' || r > '9' {
		return
	}
	d.edit(func(b *pinBuffer) bool { return b.push(byte(r)) })
}

// Backspace removes the last digit.
func (d *Dialog) Backspace() {
	d.edit(func(b *pinBuffer) bool { return b.pop() })
}

func (d *Dialog) edit(fn func(b *pinBuffer) bool) {
	d.mu.Lock()
	if !d.open || d.processing {
		d.mu.Unlock()
		return
	}
	changed := fn(&d.pin)
	hadError := d.errMsg != "" || d.externalError() != ""
	if changed {
		d.errMsg = ""
	}
	d.mu.Unlock()

	if changed && hadError && d.opts.OnErrorClear != nil {
		d.opts.OnErrorClear()
	}
}

// ClearError dismisses the displayed error.
func (d *Dialog) ClearError() {
	d.mu.Lock()
	d.errMsg = ""
	d.mu.Unlock()
	if d.opts.OnErrorClear != nil {
		d.opts.OnErrorClear()
	}
}

// SetSaveAsBeneficiary toggles saving the recipient. Simple mode has no
// such option and ignores it.
func (d *Dialog) SetSaveAsBeneficiary(save bool) {
	if d.detailed == nil {
		return
	}
	d.mu.Lock()
	d.save = save
	d.mu.Unlock()
}

// Submit settles with the entered PIN. It never retries; after a failure
// the PIN is empty and the user has to enter it again.
func (d *Dialog) Submit(ctx context.Context) Outcome {
	d.mu.Lock()
	if !d.open || !d.pin.complete() {
		d.mu.Unlock()
		return Skipped
	}
	if d.processing || (d.detailed != nil && d.detailed.State != nil && d.detailed.State.Loading()) {
		d.mu.Unlock()
		return Busy
	}
	pin := d.pin.String()
	save := d.save
	gen := d.generation
	d.processing = true
	d.errMsg = ""
	d.mu.Unlock()

	err := d.settle(ctx, pin, save)

	d.mu.Lock()
	if gen != d.generation {
		d.mu.Unlock()
		return Discarded
	}
	d.processing = false
	d.pin.reset()

	if err != nil {
		d.errMsg = err.Error()
		if d.errMsg == "" {
			d.errMsg = FallbackMessage
		}
		d.mu.Unlock()
		return Failed
	}
	if d.simple == nil {
		d.mu.Unlock()
		return Confirmed
	}
	d.mu.Unlock()

	d.Close()
	return Confirmed
}

func (d *Dialog) settle(ctx context.Context, pin string, save bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(FallbackMessage)
		}
	}()
	if d.simple != nil {
		return d.simple.Confirm(ctx, pin)
	}
	return d.detailed.ConfirmPayment(ctx, pin, save)
}

// ForgotPin closes the dialog and then hands off to the forgot-PIN route.
func (d *Dialog) ForgotPin() {
	d.Close()
	if d.opts.OnForgotPin != nil {
		d.opts.OnForgotPin()
	}
}

// View returns the render state.
func (d *Dialog) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()

	loading := d.processing
	if d.detailed != nil && d.detailed.State != nil && d.detailed.State.Loading() {
		loading = true
	}
	msg := d.errMsg
	if ext := d.externalError(); ext != "" {
		msg = ext
	}
	return View{
		Open:              d.open,
		PinLength:         d.pin.len(),
		Processing:        loading,
		Error:             msg,
		ShowSaveOption:    d.detailed != nil,
		SaveAsBeneficiary: d.save,
		CanSubmit:         d.open && !loading && d.pin.complete(),
	}
}

func (d *Dialog) externalError() string {
	if d.detailed == nil || d.detailed.State == nil {
		return ""
	}
	return d.detailed.State.Error()
}
