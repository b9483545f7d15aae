package identity

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Fallback supplies values for flags the payload omits entirely. A nil
// field means "absent is false".
type Fallback struct {
	HasTransactionPin *bool
}

// Normalize maps any user-shaped payload onto User with no fallbacks.
func Normalize(raw any) User {
	return NormalizeWith(raw, Fallback{})
}

// NormalizeWith converts raw into the canonical User. raw may be a User, a
// *User, or a decoded JSON object using snake_case or camelCase keys, flat
// or wrapped under "user" with an optional nested "profile" object.
// Normalizing an already normalized User returns an equal value.
func NormalizeWith(raw any, fb Fallback) User {
	switch v := raw.(type) {
	case User:
		return v.Clone()
	case *User:
		if v == nil {
			return User{}
		}
		return v.Clone()
	case map[string]any:
		return fromMap(v, fb)
	default:
		return User{}
	}
}

type source []map[string]any

func sourcesOf(m map[string]any) source {
	if inner, ok := m["user"].(map[string]any); ok {
		m = inner
	}
	src := source{m}
	if profile, ok := m["profile"].(map[string]any); ok {
		src = append(src, profile)
	}
	return src
}

func (s source) lookup(keys ...string) (any, bool) {
	for _, m := range s {
		for _, k := range keys {
			if v, ok := m[k]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func (s source) str(keys ...string) string {
	v, ok := s.lookup(keys...)
	if !ok {
		return ""
	}
	return toString(v)
}

func fromMap(m map[string]any, fb Fallback) User {
	src := sourcesOf(m)

	u := User{
		Name:           src.str("name", "full_name", "fullName"),
		Username:       src.str("username", "user_name", "userName"),
		Email:          src.str("email", "email_address", "emailAddress"),
		Phone:          src.str("phone", "phone_number", "phoneNumber", "mobile"),
		ProfilePicture: src.str("profile_picture", "profilePicture", "avatar"),
	}
	if u.Name == "" {
		first := src.str("first_name", "firstName")
		last := src.str("last_name", "lastName")
		u.Name = strings.TrimSpace(first + " " + last)
	}

	u.Wallet, u.Bonus = walletStrings(src)
	u.UserLimit = floatPtr(src, "user_limit", "userLimit")
	u.DailyLimit = floatPtr(src, "daily_limit", "dailyLimit")

	u.HasTransactionPin = hasTransactionPin(src, fb)
	u.IsAdmin = flag(src, "isAdmin", "is_admin")
	u.IsStaff = flag(src, "is_staff", "isStaff")
	u.PushNotification = boolPtr(src, "push_notification", "pushNotification")
	u.BiometricEnabled = boolPtr(src, "biometric_enabled", "biometricEnabled")

	if v, ok := src.lookup("reserved_account", "reservedAccount", "reserved_accounts", "reservedAccounts"); ok {
		u.ReservedAccount = reservedAccounts(v)
	}
	return u
}

// hasTransactionPin is true when the backend says so explicitly or when a
// non-empty transaction_pin field is present.
// TODO: confirm with the backend whether transaction_pin can be echoed as a
// masked placeholder; if so this presence check reports a PIN that is not set.
func hasTransactionPin(src source, fb Fallback) bool {
	explicit, explicitOK := src.lookup("has_transaction_pin", "hasTransactionPin")
	pin, pinOK := src.lookup("transaction_pin", "transactionPin")

	if explicitOK {
		if b, ok := toBool(explicit); ok && b {
			return true
		}
	}
	if pinOK && toString(pin) != "" {
		return true
	}
	if !explicitOK && !pinOK && fb.HasTransactionPin != nil {
		return *fb.HasTransactionPin
	}
	return false
}

// walletStrings accepts the balance flat or as a nested wallet object.
func walletStrings(src source) (wallet, bonus string) {
	if w, ok := src.lookup("wallet"); ok {
		if nested, ok := w.(map[string]any); ok {
			ws := source{nested}
			wallet = ws.str("balance", "amount", "wallet")
			bonus = ws.str("bonus", "bonus_balance", "bonusBalance")
		} else {
			wallet = toString(w)
		}
	}
	if wallet == "" {
		wallet = src.str("wallet_balance", "walletBalance", "balance")
	}
	if bonus == "" {
		bonus = src.str("bonus", "bonus_balance", "bonusBalance")
	}
	return wallet, bonus
}

func flag(src source, keys ...string) bool {
	v, ok := src.lookup(keys...)
	if !ok {
		return false
	}
	b, _ := toBool(v)
	return b
}

func boolPtr(src source, keys ...string) *bool {
	v, ok := src.lookup(keys...)
	if !ok {
		return nil
	}
	b, ok := toBool(v)
	if !ok {
		return nil
	}
	return &b
}

func floatPtr(src source, keys ...string) *float64 {
	v, ok := src.lookup(keys...)
	if !ok {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func reservedAccounts(v any) []ReservedAccount {
	switch t := v.(type) {
	case []ReservedAccount:
		return append([]ReservedAccount(nil), t...)
	case map[string]any:
		if acc, ok := reservedAccount(t); ok {
			return []ReservedAccount{acc}
		}
	case []any:
		out := make([]ReservedAccount, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if acc, ok := reservedAccount(m); ok {
					out = append(out, acc)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func reservedAccount(m map[string]any) (ReservedAccount, bool) {
	src := source{m}
	acc := ReservedAccount{
		AccountName:   src.str("account_name", "accountName"),
		BankName:      src.str("bank_name", "bankName"),
		AccountNumber: src.str("account_number", "accountNumber"),
	}
	return acc, acc.AccountNumber != ""
}

// toString renders scalars. Floats go through decimal so currency values
// keep their shortest exact representation.
func toString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return decimal.NewFromFloat(t).String()
	case float32:
		return decimal.NewFromFloat32(t).String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case json.Number, float64, int, int64:
		f, _ := toFloat(t)
		return f != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes":
			return true, true
		case "0", "false", "no", "":
			return false, true
		}
	}
	return false, false
}
