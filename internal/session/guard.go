package session

// Access is what a route requires of the session.
type Access int

const (
	// Public routes need nothing.
	Public Access = iota
	// Authenticated routes need a logged-in user.
	Authenticated
	// Transactional routes also need a transaction PIN on the account.
	Transactional
)

// Decision is the outcome of a route guard check.
type Decision int

const (
	Allow Decision = iota
	// Wait means hydration has not finished; nothing can be decided yet.
	Wait
	// RedirectLogin sends the user to the login screen.
	RedirectLogin
	// RedirectSetPin sends the user to the set-PIN screen.
	RedirectSetPin
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Wait:
		return "wait"
	case RedirectLogin:
		return "login"
	case RedirectSetPin:
		return "set_pin"
	default:
		return "unknown"
	}
}

// Decide evaluates a route guard against a session snapshot.
func Decide(st State, need Access) Decision {
	if need == Public {
		return Allow
	}
	if !st.IsHydrated {
		return Wait
	}
	if !st.IsAuthenticated || st.User == nil {
		return RedirectLogin
	}
	if need == Transactional && !st.User.HasTransactionPin {
		return RedirectSetPin
	}
	return Allow
}
