package identity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ReservedAccount is a bank account the backend assigned for wallet funding.
type ReservedAccount struct {
	AccountName   string `json:"account_name"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
}

// User is the canonical session profile. It is produced by Normalize and
// replaced wholesale, never patched field by field.
type User struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`

	// Wallet and Bonus are decimal strings exactly as the backend sent them.
	Wallet     string   `json:"wallet,omitempty"`
	Bonus      string   `json:"bonus,omitempty"`
	UserLimit  *float64 `json:"user_limit,omitempty"`
	DailyLimit *float64 `json:"daily_limit,omitempty"`

	HasTransactionPin bool `json:"has_transaction_pin"`
	IsAdmin           bool `json:"isAdmin"`
	IsStaff           bool `json:"is_staff"`

	PushNotification *bool `json:"push_notification,omitempty"`
	BiometricEnabled *bool `json:"biometric_enabled,omitempty"`

	ProfilePicture  string            `json:"profile_picture,omitempty"`
	ReservedAccount []ReservedAccount `json:"reserved_account,omitempty"`
}

// WalletBalance parses the wallet string. An empty wallet is zero.
func (u User) WalletBalance() (decimal.Decimal, error) {
	if u.Wallet == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(u.Wallet)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet %q: %w", u.Wallet, err)
	}
	return d, nil
}

// Clone returns a deep copy so callers cannot mutate cached state.
func (u User) Clone() User {
	out := u
	if u.UserLimit != nil {
		v := *u.UserLimit
		out.UserLimit = &v
	}
	if u.DailyLimit != nil {
		v := *u.DailyLimit
		out.DailyLimit = &v
	}
	if u.PushNotification != nil {
		v := *u.PushNotification
		out.PushNotification = &v
	}
	if u.BiometricEnabled != nil {
		v := *u.BiometricEnabled
		out.BiometricEnabled = &v
	}
	if u.ReservedAccount != nil {
		out.ReservedAccount = append([]ReservedAccount(nil), u.ReservedAccount...)
	}
	return out
}
